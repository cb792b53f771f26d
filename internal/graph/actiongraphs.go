package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// SaveActionGraph persists the graph and its step chain under the
// fingerprint in a single write transaction: TRIGGERS from the fingerprint,
// HAS_STEP per step, NEXT between consecutive orders, STARTS_WITH to the
// minimum-order step.
func (r *Repository) SaveActionGraph(ctx context.Context, fpHash string, ag *models.ActionGraph) error {
	_, err := r.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, saveGraphTx(ctx, tx, fpHash, ag)
	})
	if err != nil {
		return fmt.Errorf("saving action graph %s: %w", ag.ID, err)
	}
	return nil
}

// saveGraphTx is the transaction body shared with SaveRepairedActionGraph.
func saveGraphTx(ctx context.Context, tx neo4j.ManagedTransaction, fpHash string, ag *models.ActionGraph) error {
	ag.SortSteps()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := tx.Run(ctx, `
MATCH (f:Fingerprint {hash: $hash})
MERGE (g:ActionGraph {id: $id})
ON CREATE SET g.created_at = $now,
              g.times_executed = 0,
              g.times_succeeded = 0
SET g.vulnerability_type = $vulnerability_type,
    g.description = $description,
    g.confidence = $confidence,
    g.updated_at = $now
MERGE (f)-[:TRIGGERS]->(g)
RETURN g.id`, map[string]any{
		"hash":               fpHash,
		"id":                 ag.ID,
		"vulnerability_type": string(ag.VulnerabilityType),
		"description":        ag.Description,
		"confidence":         ag.Confidence,
		"now":                now,
	})
	if err != nil {
		return err
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("fingerprint %s not found", fpHash)
	}

	for _, step := range ag.Steps {
		params, err := stepParams(step)
		if err != nil {
			return err
		}
		params["id"] = ag.ID
		if _, err := tx.Run(ctx, `
MATCH (g:ActionGraph {id: $id})
CREATE (s:Step {
  order: $order,
  phase: $phase,
  type: $type,
  command: $command,
  parameters: $parameters,
  output_file: $output_file,
  success_criteria: $success_criteria,
  deterministic: $deterministic
})
CREATE (g)-[:HAS_STEP]->(s)`, params); err != nil {
			return err
		}
	}

	for i := 1; i < len(ag.Steps); i++ {
		if _, err := tx.Run(ctx, `
MATCH (g:ActionGraph {id: $id})-[:HAS_STEP]->(a:Step {order: $from})
MATCH (g)-[:HAS_STEP]->(b:Step {order: $to})
CREATE (a)-[:NEXT]->(b)`, map[string]any{
			"id":   ag.ID,
			"from": ag.Steps[i-1].Order,
			"to":   ag.Steps[i].Order,
		}); err != nil {
			return err
		}
	}

	if first := ag.FirstStep(); first != nil {
		if _, err := tx.Run(ctx, `
MATCH (g:ActionGraph {id: $id})-[:HAS_STEP]->(s:Step {order: $order})
MERGE (g)-[:STARTS_WITH]->(s)`, map[string]any{
			"id":    ag.ID,
			"order": first.Order,
		}); err != nil {
			return err
		}
	}
	return nil
}

// GetActionGraphWithSteps is the warm-start lookup: the newest graph for
// the fingerprint (ties broken by smallest id), with the longest executable
// chain from its STARTS_WITH entry. No graph → ErrNoActionGraph.
func (r *Repository) GetActionGraphWithSteps(ctx context.Context, fpHash string) (*models.ActionGraph, error) {
	result, err := r.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (f:Fingerprint {hash: $hash})-[:TRIGGERS]->(g:ActionGraph)
RETURN g
ORDER BY g.created_at DESC, g.id ASC
LIMIT 1`, map[string]any{"hash": fpHash})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, ErrNoActionGraph
		}
		node, ok := records[0].Values[0].(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected record shape for action graph under %s", fpHash)
		}
		ag := actionGraphFromProps(node.Props)

		stepsRes, err := tx.Run(ctx, `
MATCH (g:ActionGraph {id: $id})-[:STARTS_WITH]->(first:Step)
MATCH p = (first)-[:NEXT*0..]->(:Step)
WITH p ORDER BY length(p) DESC LIMIT 1
UNWIND nodes(p) AS s
RETURN s`, map[string]any{"id": ag.ID})
		if err != nil {
			return nil, err
		}
		stepRecords, err := stepsRes.Collect(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range stepRecords {
			stepNode, ok := rec.Values[0].(neo4j.Node)
			if !ok {
				continue
			}
			step, err := stepFromProps(stepNode.Props)
			if err != nil {
				return nil, err
			}
			ag.Steps = append(ag.Steps, step)
		}
		ag.SortSteps()
		return &ag, nil
	})
	if err != nil {
		if errors.Is(err, ErrNoActionGraph) {
			return nil, err
		}
		return nil, fmt.Errorf("loading action graph for %s: %w", fpHash, err)
	}
	return result.(*models.ActionGraph), nil
}

// IncrementExecutionCount bumps the replay counters in one statement.
func (r *Repository) IncrementExecutionCount(ctx context.Context, agID string, succeeded bool) error {
	_, err := r.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (g:ActionGraph {id: $id})
SET g.times_executed = coalesce(g.times_executed, 0) + 1,
    g.times_succeeded = coalesce(g.times_succeeded, 0) + CASE WHEN $succeeded THEN 1 ELSE 0 END,
    g.updated_at = $now
RETURN g.id`, map[string]any{
			"id":        agID,
			"succeeded": succeeded,
			"now":       time.Now().UTC().Format(time.RFC3339Nano),
		})
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
		return fmt.Errorf("incrementing execution count: %w", err)
	}
	return nil
}
