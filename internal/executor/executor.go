// Package executor walks a compiled ActionGraph step by step: interpolate,
// gate, dispatch, classify, collect findings, and trigger at most one
// self-repair per run.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/events"
	"github.com/BetterCallFirewall/llmitm/internal/handlers"
	"github.com/BetterCallFirewall/llmitm/internal/hooks"
	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// FindingStore persists findings as they are discovered, so a crash
// mid-run keeps the progress made.
type FindingStore interface {
	SaveFinding(ctx context.Context, actionGraphID string, finding models.Finding) error
}

// Repairer recompiles and persists a replacement ActionGraph for a
// systemic failure. A nil Repairer disables self-repair.
type Repairer interface {
	Repair(ctx context.Context, diag models.RepairDiagnosis) (*models.ActionGraph, error)
}

// Executor runs ActionGraphs. Safe for reuse across runs; all per-run
// state lives in the ExecutionContext and locals.
type Executor struct {
	registry *handlers.Registry
	store    FindingStore
	approval *hooks.ApprovalHook
	emitter  events.Emitter
	backoff  time.Duration
	logger   *zap.Logger
}

// New builds an executor. emitter may be nil.
func New(registry *handlers.Registry, store FindingStore, approval *hooks.ApprovalHook, emitter events.Emitter, backoff time.Duration, logger *zap.Logger) *Executor {
	if emitter == nil {
		emitter = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Executor{registry: registry, store: store, approval: approval, emitter: emitter, backoff: backoff, logger: logger}
}

// Execute walks the graph. The loop is index-based so a repair can swap in
// the new graph and restart from zero with a fresh context.
func (e *Executor) Execute(ctx context.Context, ag *models.ActionGraph, ectx *models.ExecutionContext, repairer Repairer) (*models.ExecutionResult, error) {
	ag.SortSteps()
	result := &models.ExecutionResult{ActionGraphID: ag.ID, Findings: []models.Finding{}}
	retriedOrder := -1

	i := 0
	for i < len(ag.Steps) {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("execution cancelled at step index %d: %w", i, err)
		}
		step := ag.Steps[i]
		step.Parameters = interpolateParams(step.Parameters, ectx.PreviousOutputs)

		if err := e.approval.Check(step); err != nil {
			result.Success = false
			result.FailedStepOrder = step.Order
			return result, err
		}

		e.emitter.Emit(events.New(events.TypeStepStart, events.StepStart{
			ActionGraphID: ag.ID, Order: step.Order, Phase: string(step.Phase),
			StepType: string(step.Type), Command: step.Command,
		}))

		handler, err := e.registry.Get(step.Type)
		if err != nil {
			result.Success = false
			result.FailedStepOrder = step.Order
			return result, err
		}

		stepResult, err := handler.Execute(ctx, step, ectx)
		if err != nil {
			return result, fmt.Errorf("handler for step %d: %w", step.Order, err)
		}
		result.Results = append(result.Results, *stepResult)
		result.StepsExecuted++

		e.emitter.Emit(events.New(events.TypeStepResult, events.StepResult{
			ActionGraphID: ag.ID, Order: step.Order, Failed: stepResult.Failed(),
			StatusCode: stepResult.StatusCode, DurationMS: stepResult.DurationMS,
			Stderr: stepResult.Stderr,
		}))

		if stepResult.Failed() && !observeMiss(step, stepResult) {
			failureType := Classify(stepResult, ectx)
			if failureType == models.FailureTransientRecoverable && retriedOrder == step.Order {
				// The retry failed the same way; stop treating it as noise.
				failureType = models.FailureSystemic
			}
			e.emitter.Emit(events.New(events.TypeFailure, events.Failure{
				ActionGraphID: ag.ID, Order: step.Order,
				FailureType: string(failureType), Stderr: stepResult.Stderr,
			}))
			e.logger.Warn("step failed",
				zap.Int("order", step.Order),
				zap.String("failure_type", string(failureType)),
				zap.String("stderr", stepResult.Stderr))

			switch failureType {
			case models.FailureTransientRecoverable:
				retriedOrder = step.Order
				select {
				case <-time.After(e.backoff):
				case <-ctx.Done():
					return result, ctx.Err()
				}
				continue

			case models.FailureTransientUnrecoverable:
				result.Success = false
				result.FailureType = failureType
				result.FailedStepOrder = step.Order
				return result, nil

			default: // SYSTEMIC
				if result.Repaired || repairer == nil {
					result.Success = false
					result.FailureType = failureType
					result.FailedStepOrder = step.Order
					return result, nil
				}
				newGraph, repairErr := e.repair(ctx, repairer, ag, step, stepResult, failureType, result)
				if repairErr != nil {
					result.Success = false
					result.FailureType = failureType
					result.FailedStepOrder = step.Order
					return result, repairErr
				}
				ag = newGraph
				ag.SortSteps()
				result.Repaired = true
				result.ActionGraphID = ag.ID
				ectx.Reset()
				retriedOrder = -1
				i = 0
				continue
			}
		}

		// Only a completed step appends its output; a retried step never
		// double-appends.
		ectx.PreviousOutputs = append(ectx.PreviousOutputs, stepResult.Stdout)

		if step.Phase == models.PhaseObserve && stepResult.SuccessCriteriaMatched {
			finding := e.buildFinding(ag, step, stepResult, ectx)
			if e.store != nil {
				if err := e.store.SaveFinding(ctx, ag.ID, finding); err != nil {
					return result, fmt.Errorf("persisting finding: %w", err)
				}
			}
			result.Findings = append(result.Findings, finding)
			e.emitter.Emit(events.New(events.TypeFinding, events.Finding{
				FindingID: finding.ID, ActionGraphID: ag.ID,
				Severity: string(finding.Severity), Observation: finding.Observation,
			}))
		}

		i++
	}

	result.Success = true
	return result, nil
}

// observeMiss reports the one failure that is not a failure: an OBSERVE
// step whose criteria simply did not match. The vulnerability is absent,
// the graph is fine.
func observeMiss(step models.Step, result *models.StepResult) bool {
	return step.Phase == models.PhaseObserve &&
		step.Type == models.StepRegexMatch &&
		strings.HasPrefix(result.Stderr, "no match")
}

func (e *Executor) repair(ctx context.Context, repairer Repairer, ag *models.ActionGraph, step models.Step, stepResult *models.StepResult, failureType models.FailureType, result *models.ExecutionResult) (*models.ActionGraph, error) {
	e.emitter.Emit(events.New(events.TypeRepairStart, events.RepairStart{
		OldActionGraphID: ag.ID, FailedOrder: step.Order, Reason: stepResult.Stderr,
	}))

	diag := models.RepairDiagnosis{
		FailedStepOrder:   step.Order,
		FailedStepCommand: step.Command,
		FailedStepType:    step.Type,
		FailedParameters:  step.Parameters,
		ErrorLog:          stepResult.Stderr,
		FailureType:       failureType,
		ExecutionHistory:  historyDigest(result.Results),
		OldActionGraphID:  ag.ID,
	}

	newGraph, err := repairer.Repair(ctx, diag)
	if err != nil {
		return nil, fmt.Errorf("self-repair compile: %w", err)
	}
	if newGraph == nil || len(newGraph.Steps) == 0 {
		return nil, fmt.Errorf("self-repair produced an empty action graph")
	}
	return newGraph, nil
}

func historyDigest(results []models.StepResult) string {
	var b strings.Builder
	for _, r := range results {
		status := "ok"
		if r.Failed() {
			status = "FAILED: " + r.Stderr
		}
		fmt.Fprintf(&b, "step %d (%s): %s\n", r.StepOrder, r.StepType, status)
	}
	return b.String()
}

func (e *Executor) buildFinding(ag *models.ActionGraph, step models.Step, stepResult *models.StepResult, ectx *models.ExecutionContext) models.Finding {
	return models.Finding{
		ID:              uuid.NewString(),
		Observation:     fmt.Sprintf("%s: %s", ag.VulnerabilityType, step.Command),
		Severity:        severityFor(ag.VulnerabilityType),
		EvidenceSummary: evidence(stepResult.Stdout, ectx.PreviousOutputs),
		TargetURL:       ectx.TargetURL,
		DiscoveredAt:    time.Now().UTC(),
	}
}

// evidence prefers the matched excerpt; when the match is empty it falls
// back to the tail of the observed output.
func evidence(matched string, outputs []string) string {
	if strings.TrimSpace(matched) != "" {
		return excerpt(matched, 300)
	}
	if len(outputs) > 0 {
		return excerpt(outputs[len(outputs)-1], 300)
	}
	return ""
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func severityFor(v models.VulnerabilityType) models.Severity {
	switch v {
	case models.VulnAuthBypass, models.VulnRoleTamper:
		return models.SeverityCritical
	case models.VulnIDOR, models.VulnTokenReuse:
		return models.SeverityHigh
	case models.VulnNamespaceLeak:
		return models.SeverityMedium
	}
	return models.SeverityMedium
}
