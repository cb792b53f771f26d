package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// RepairStepChain splices a repair into an existing graph: the failed step
// and its transitive NEXT successors are detached from the executable chain
// (nodes stay for lineage), the new steps are inserted renumbered from the
// failed order, and exactly one step-level REPAIRED_TO edge records the
// splice. Repeated calls on the same failed step never fan out extra edges.
func (r *Repository) RepairStepChain(ctx context.Context, agID string, failedOrder int, newSteps []models.Step, reason, errorLog string) error {
	if len(newSteps) == 0 {
		return fmt.Errorf("repairing graph %s: no replacement steps", agID)
	}

	_, err := r.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Locate the failed step and its predecessor before any edges move.
		res, err := tx.Run(ctx, `
MATCH (g:ActionGraph {id: $id})-[:HAS_STEP]->(failed:Step {order: $order})
OPTIONAL MATCH (g)-[:HAS_STEP]->(pred:Step)-[:NEXT]->(failed)
RETURN elementId(failed) AS failed_id, pred.order AS pred_order`, map[string]any{
			"id":    agID,
			"order": failedOrder,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("graph %s has no step with order %d", agID, failedOrder)
		}
		failedID, _ := records[0].Values[0].(string)
		predOrder, hasPred := asInt(records[0].Values[1])

		// Detach the failed step and everything after it from the chain.
		if _, err := tx.Run(ctx, `
MATCH (g:ActionGraph {id: $id})-[:HAS_STEP]->(failed:Step)
WHERE elementId(failed) = $failed_id
MATCH (failed)-[:NEXT*0..]->(d:Step)
WITH g, collect(DISTINCT d) AS detached
UNWIND detached AS node
OPTIONAL MATCH (g)-[h:HAS_STEP]->(node)
OPTIONAL MATCH (g)-[sw:STARTS_WITH]->(node)
OPTIONAL MATCH (node)-[out:NEXT]->()
OPTIONAL MATCH ()-[in:NEXT]->(node)
DELETE h, sw, out, in`, map[string]any{
			"id":        agID,
			"failed_id": failedID,
		}); err != nil {
			return nil, err
		}

		// Insert the replacement steps, renumbered from the failed order.
		for i, step := range newSteps {
			step.Order = failedOrder + i
			params, err := stepParams(step)
			if err != nil {
				return nil, err
			}
			params["id"] = agID
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
				return nil, err
			}
		}
		for i := 1; i < len(newSteps); i++ {
			if _, err := tx.Run(ctx, `
MATCH (g:ActionGraph {id: $id})-[:HAS_STEP]->(a:Step {order: $from})
MATCH (g)-[:HAS_STEP]->(b:Step {order: $to})
CREATE (a)-[:NEXT]->(b)`, map[string]any{
				"id":   agID,
				"from": failedOrder + i - 1,
				"to":   failedOrder + i,
			}); err != nil {
				return nil, err
			}
		}

		// Rewire the predecessor, or the graph entry when the first step
		// failed. The failed step no longer carries HAS_STEP, so matching
		// by order finds only the replacement.
		if hasPred {
			if _, err := tx.Run(ctx, `
MATCH (g:ActionGraph {id: $id})-[:HAS_STEP]->(p:Step {order: $pred_order})
MATCH (g)-[:HAS_STEP]->(first:Step {order: $first_order})
CREATE (p)-[:NEXT]->(first)`, map[string]any{
				"id":          agID,
				"pred_order":  predOrder,
				"first_order": failedOrder,
			}); err != nil {
				return nil, err
			}
		} else {
			if _, err := tx.Run(ctx, `
MATCH (g:ActionGraph {id: $id})-[:HAS_STEP]->(first:Step {order: $first_order})
MERGE (g)-[:STARTS_WITH]->(first)`, map[string]any{
				"id":          agID,
				"first_order": failedOrder,
			}); err != nil {
				return nil, err
			}
		}

		_, err = tx.Run(ctx, `
MATCH (failed:Step) WHERE elementId(failed) = $failed_id
MATCH (g:ActionGraph {id: $id})-[:HAS_STEP]->(first:Step {order: $first_order})
MERGE (failed)-[rep:REPAIRED_TO]->(first)
ON CREATE SET rep.reason = $reason, rep.error_log = $error_log, rep.timestamp = $ts`, map[string]any{
			"id":          agID,
			"failed_id":   failedID,
			"first_order": failedOrder,
			"reason":      reason,
			"error_log":   errorLog,
			"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("repairing step chain of %s at order %d: %w", agID, failedOrder, err)
	}
	return nil
}

// SaveRepairedActionGraph persists a whole-graph repair in one transaction:
// the replacement graph plus graph-level and step-level REPAIRED_TO
// lineage from the failed graph.
func (r *Repository) SaveRepairedActionGraph(ctx context.Context, fpHash, oldAgID string, failedOrder int, reason, errorLog string, newAG *models.ActionGraph) error {
	_, err := r.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := saveGraphTx(ctx, tx, fpHash, newAG); err != nil {
			return nil, err
		}
		ts := time.Now().UTC().Format(time.RFC3339Nano)

		res, err := tx.Run(ctx, `
MATCH (old:ActionGraph {id: $old_id})
MATCH (new:ActionGraph {id: $new_id})
MERGE (old)-[rep:REPAIRED_TO]->(new)
ON CREATE SET rep.reason = $reason, rep.error_log = $error_log, rep.timestamp = $ts
RETURN old.id`, map[string]any{
			"old_id":    oldAgID,
			"new_id":    newAG.ID,
			"reason":    reason,
			"error_log": errorLog,
			"ts":        ts,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("old action graph %s not found", oldAgID)
		}

		_, err = tx.Run(ctx, `
MATCH (old:ActionGraph {id: $old_id})-[:HAS_STEP]->(failed:Step {order: $failed_order})
MATCH (new:ActionGraph {id: $new_id})-[:STARTS_WITH]->(first:Step)
MERGE (failed)-[rep:REPAIRED_TO]->(first)
ON CREATE SET rep.reason = $reason, rep.error_log = $error_log, rep.timestamp = $ts`, map[string]any{
			"old_id":       oldAgID,
			"new_id":       newAG.ID,
			"failed_order": failedOrder,
			"reason":       reason,
			"error_log":    errorLog,
			"ts":           ts,
		})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("saving repaired action graph %s: %w", newAG.ID, err)
	}
	return nil
}

// GetRepairHistory lists the step-level repairs under a fingerprint's
// graphs, newest first. Success means the graph owning the repair step has
// succeeded at least once since.
func (r *Repository) GetRepairHistory(ctx context.Context, fpHash string, limit int) ([]models.RepairRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	result, err := r.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// The failed step may have lost its HAS_STEP edge when it was
		// detached, so the match anchors on the repair step's owner.
		res, err := tx.Run(ctx, `
MATCH (f:Fingerprint {hash: $hash})-[:TRIGGERS]->(owner:ActionGraph)-[:HAS_STEP]->(repair:Step)
MATCH (failed:Step)-[rep:REPAIRED_TO]->(repair)
RETURN DISTINCT failed.command AS failed_command,
       repair.command AS repair_command,
       rep.reason AS reason,
       rep.timestamp AS ts,
       coalesce(owner.times_succeeded, 0) > 0 AS success
ORDER BY ts DESC
LIMIT $limit`, map[string]any{
			"hash":  fpHash,
			"limit": limit,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		history := make([]models.RepairRecord, 0, len(records))
		for _, rec := range records {
			history = append(history, models.RepairRecord{
				FailedStep:  asString(rec.Values[0]),
				RepairStep:  asString(rec.Values[1]),
				FailureType: asString(rec.Values[2]),
				Success:     asBool(rec.Values[4]),
			})
		}
		return history, nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading repair history for %s: %w", fpHash, err)
	}
	return result.([]models.RepairRecord), nil
}
