package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// ScoredFingerprint pairs a stored fingerprint with its vector similarity
// to the query embedding.
type ScoredFingerprint struct {
	Fingerprint models.Fingerprint
	Score       float64
}

// SaveFingerprint upserts by hash: identity fields and last_seen refresh on
// every save, first_seen only on create. A nil embedding leaves any stored
// embedding untouched.
func (r *Repository) SaveFingerprint(ctx context.Context, fp models.Fingerprint, embedding []float32) error {
	query := `
MERGE (f:Fingerprint {hash: $hash})
ON CREATE SET f.first_seen = $now
SET f.tech_stack = $tech_stack,
    f.auth_model = $auth_model,
    f.endpoint_pattern = $endpoint_pattern,
    f.security_signals = $security_signals,
    f.observation_text = $observation_text,
    f.last_seen = $now`
	params := map[string]any{
		"hash":             fp.Hash,
		"tech_stack":       fp.TechStack,
		"auth_model":       string(fp.AuthModel),
		"endpoint_pattern": fp.EndpointPattern,
		"security_signals": fp.SecuritySignals,
		"observation_text": fp.ObservationText,
		"now":              time.Now().UTC().Format(time.RFC3339Nano),
	}
	if len(embedding) > 0 {
		query += ",\n    f.embedding = $embedding"
		params["embedding"] = embedding
	}

	_, err := r.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("saving fingerprint %s: %w", fp.Hash, err)
	}
	return nil
}

// GetFingerprint fetches the stored fingerprint by hash; missing → nil, nil.
func (r *Repository) GetFingerprint(ctx context.Context, hash string) (*models.Fingerprint, error) {
	result, err := r.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (f:Fingerprint {hash: $hash}) RETURN f`, map[string]any{"hash": hash})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		node, ok := records[0].Values[0].(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected record shape for fingerprint %s", hash)
		}
		fp := fingerprintFromProps(node.Props)
		return &fp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting fingerprint %s: %w", hash, err)
	}
	if result == nil {
		return nil, nil
	}
	return result.(*models.Fingerprint), nil
}

// FindSimilarFingerprints queries the vector index and keeps matches at or
// above the threshold. A database without the index yet yields an empty
// slice, not an error.
func (r *Repository) FindSimilarFingerprints(ctx context.Context, embedding []float32, topK int, threshold float64) ([]ScoredFingerprint, error) {
	if topK <= 0 {
		topK = 5
	}
	query := `
CALL db.index.vector.queryNodes('fingerprintEmbeddings', $top_k, $embedding)
YIELD node, score
WHERE score >= $threshold
RETURN node, score
ORDER BY score DESC`

	result, err := r.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"top_k":     topK,
			"embedding": embedding,
			"threshold": threshold,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		matches := make([]ScoredFingerprint, 0, len(records))
		for _, rec := range records {
			node, ok := rec.Values[0].(neo4j.Node)
			if !ok {
				continue
			}
			score, _ := rec.Values[1].(float64)
			matches = append(matches, ScoredFingerprint{
				Fingerprint: fingerprintFromProps(node.Props),
				Score:       score,
			})
		}
		return matches, nil
	})
	if missingIndex(err) {
		r.logger.Debug("fingerprint vector index absent, returning no matches")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return result.([]ScoredFingerprint), nil
}

// SaveFinding attaches a finding to its producing graph. The embedding is
// optional.
func (r *Repository) SaveFinding(ctx context.Context, agID string, finding models.Finding) error {
	query := `
MATCH (g:ActionGraph {id: $ag_id})
CREATE (fi:Finding {
  id: $id,
  observation: $observation,
  severity: $severity,
  evidence_summary: $evidence_summary,
  target_url: $target_url,
  discovered_at: $discovered_at
})
CREATE (fi)-[:PRODUCED_BY]->(g)
RETURN fi.id`
	params := map[string]any{
		"ag_id":            agID,
		"id":               finding.ID,
		"observation":      finding.Observation,
		"severity":         string(finding.Severity),
		"evidence_summary": finding.EvidenceSummary,
		"target_url":       finding.TargetURL,
		"discovered_at":    finding.DiscoveredAt.UTC().Format(time.RFC3339Nano),
	}
	if len(finding.ObservationEmbedding) > 0 {
		query = `
MATCH (g:ActionGraph {id: $ag_id})
CREATE (fi:Finding {
  id: $id,
  observation: $observation,
  severity: $severity,
  evidence_summary: $evidence_summary,
  target_url: $target_url,
  discovered_at: $discovered_at,
  observation_embedding: $embedding
})
CREATE (fi)-[:PRODUCED_BY]->(g)
RETURN fi.id`
		params["embedding"] = finding.ObservationEmbedding
	}

	_, err := r.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("action graph %s not found", agID)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("saving finding %s: %w", finding.ID, err)
	}
	return nil
}
