// Package orchestrator owns the run lifecycle: acquire traffic,
// fingerprint, decide warm or cold start, compile when needed, execute,
// and account the outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/capture"
	"github.com/BetterCallFirewall/llmitm/internal/events"
	"github.com/BetterCallFirewall/llmitm/internal/executor"
	"github.com/BetterCallFirewall/llmitm/internal/fingerprint"
	"github.com/BetterCallFirewall/llmitm/internal/graph"
	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// Store is the slice of the graph repository the orchestrator drives.
type Store interface {
	SaveFingerprint(ctx context.Context, fp models.Fingerprint, embedding []float32) error
	GetActionGraphWithSteps(ctx context.Context, fpHash string) (*models.ActionGraph, error)
	SaveActionGraph(ctx context.Context, fpHash string, ag *models.ActionGraph) error
	SaveRepairedActionGraph(ctx context.Context, fpHash, oldAgID string, failedOrder int, reason, errorLog string, newAG *models.ActionGraph) error
	IncrementExecutionCount(ctx context.Context, agID string, succeeded bool) error
	GetRepairHistory(ctx context.Context, fpHash string, limit int) ([]models.RepairRecord, error)
}

// Compiler produces an ActionGraph from a fingerprint, optionally planning
// around a failure diagnosis.
type Compiler interface {
	Compile(ctx context.Context, fp models.Fingerprint, repair *models.RepairDiagnosis) (*models.ActionGraph, *models.AttackPlan, error)
}

// Executor walks a compiled graph; *executor.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, ag *models.ActionGraph, ectx *models.ExecutionContext, repairer executor.Repairer) (*models.ExecutionResult, error)
}

// FlowSource acquires the captured traffic for this run.
type FlowSource func(ctx context.Context) ([]capture.Flow, error)

// CompilerFactory builds the compiler once the flows and fingerprint are
// known; it may return nil when no LLM is configured, which disables the
// cold path and self-repair.
type CompilerFactory func(flows []capture.Flow, fp models.Fingerprint) Compiler

// TokenMeter is the slice of the LLM token budget the orchestrator drives:
// reset at run entry, read at run exit. *llm.TokenBudget satisfies it.
type TokenMeter interface {
	Used() int
	Reset()
}

type noopMeter struct{}

func (noopMeter) Used() int { return 0 }
func (noopMeter) Reset()    {}

// Options carries the run identity.
type Options struct {
	TargetURL   string
	Profile     string
	CaptureMode string
}

// Orchestrator runs one target end to end.
type Orchestrator struct {
	store       Store
	executor    Executor
	newCompiler CompilerFactory
	source      FlowSource
	embedder    fingerprint.Embedder
	meter       TokenMeter
	emitter     events.Emitter
	logger      *zap.Logger
	opts        Options
}

// New wires an orchestrator. embedder, meter, and emitter may be nil.
func New(store Store, executor Executor, newCompiler CompilerFactory, source FlowSource, embedder fingerprint.Embedder, meter TokenMeter, emitter events.Emitter, logger *zap.Logger, opts Options) *Orchestrator {
	if emitter == nil {
		emitter = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = noopMeter{}
	}
	return &Orchestrator{
		store:       store,
		executor:    executor,
		newCompiler: newCompiler,
		source:      source,
		embedder:    embedder,
		meter:       meter,
		emitter:     emitter,
		logger:      logger,
		opts:        opts,
	}
}

// Run executes the full lifecycle and always returns a result; the error
// restates result.Error for callers that branch on it.
func (o *Orchestrator) Run(ctx context.Context) (*models.OrchestratorResult, error) {
	start := time.Now()
	result := &models.OrchestratorResult{}
	o.meter.Reset()

	fail := func(err error) (*models.OrchestratorResult, error) {
		result.Error = err.Error()
		result.TokensUsed = o.meter.Used()
		result.DurationMS = time.Since(start).Milliseconds()
		o.emitRunEnd(result)
		return result, err
	}

	flows, err := o.source(ctx)
	if err != nil {
		return fail(fmt.Errorf("acquiring traffic: %w", err))
	}

	fp, err := fingerprint.Generate(flows)
	if err != nil {
		return fail(fmt.Errorf("fingerprinting: %w", err))
	}
	result.FingerprintHash = fp.Hash

	o.emitter.Emit(events.New(events.TypeRunStart, events.RunStart{
		TargetURL:       o.opts.TargetURL,
		Profile:         o.opts.Profile,
		CaptureMode:     o.opts.CaptureMode,
		FingerprintHash: fp.Hash,
	}))
	o.logger.Info("run started",
		zap.String("fingerprint", fp.Hash),
		zap.String("auth_model", string(fp.AuthModel)),
		zap.Int("flows", len(flows)))

	embedding := o.embed(ctx, fp)
	if err := o.store.SaveFingerprint(ctx, fp, embedding); err != nil {
		return fail(err)
	}

	var compiler Compiler
	if o.newCompiler != nil {
		compiler = o.newCompiler(flows, fp)
	}

	ag, err := o.store.GetActionGraphWithSteps(ctx, fp.Hash)
	switch {
	case err == nil:
		result.Path = models.PathWarmStart
		o.logger.Info("warm start", zap.String("action_graph", ag.ID), zap.Int("steps", len(ag.Steps)))

	case errors.Is(err, graph.ErrNoActionGraph):
		result.Path = models.PathColdStart
		if compiler == nil {
			return fail(fmt.Errorf("cold start needs an LLM but none is configured"))
		}
		ag, _, err = compiler.Compile(ctx, fp, nil)
		if err != nil {
			return fail(fmt.Errorf("compiling: %w", err))
		}
		if err := o.store.SaveActionGraph(ctx, fp.Hash, ag); err != nil {
			return fail(err)
		}
		o.logger.Info("cold start compiled",
			zap.String("action_graph", ag.ID),
			zap.String("vulnerability", string(ag.VulnerabilityType)),
			zap.Int("steps", len(ag.Steps)))

	default:
		return fail(err)
	}
	result.ActionGraphID = ag.ID

	var repairer executor.Repairer
	if compiler != nil {
		repairer = &repairPipeline{store: o.store, compiler: compiler, fp: fp, logger: o.logger}
	}

	ectx := models.NewExecutionContext(o.opts.TargetURL, &fp)
	execResult, execErr := o.executor.Execute(ctx, ag, ectx, repairer)
	if execResult != nil {
		result.Success = execResult.Success
		result.FindingsCount = len(execResult.Findings)
		result.StepsExecuted = execResult.StepsExecuted
		result.Repaired = execResult.Repaired
		result.ActionGraphID = execResult.ActionGraphID
		if execResult.Repaired {
			result.Path = models.PathRepair
		}

		if err := o.store.IncrementExecutionCount(ctx, execResult.ActionGraphID, execResult.Success); err != nil {
			o.logger.Warn("incrementing execution count", zap.Error(err))
		}
	}
	if execErr != nil {
		return fail(fmt.Errorf("executing: %w", execErr))
	}

	result.TokensUsed = o.meter.Used()
	result.DurationMS = time.Since(start).Milliseconds()
	o.emitRunEnd(result)
	o.logger.Info("run finished",
		zap.String("path", string(result.Path)),
		zap.Bool("success", result.Success),
		zap.Int("findings", result.FindingsCount),
		zap.Int("tokens_used", result.TokensUsed))
	return result, nil
}

func (o *Orchestrator) embed(ctx context.Context, fp models.Fingerprint) []float32 {
	if o.embedder == nil {
		return nil
	}
	embedding, err := o.embedder.Embed(ctx, fp.ObservationText)
	if err != nil {
		o.logger.Warn("embedding fingerprint", zap.Error(err))
		return nil
	}
	return embedding
}

func (o *Orchestrator) emitRunEnd(result *models.OrchestratorResult) {
	o.emitter.Emit(events.New(events.TypeRunEnd, events.RunEnd{
		Path:          string(result.Path),
		Success:       result.Success,
		FindingsCount: result.FindingsCount,
		TokensUsed:    result.TokensUsed,
		Repaired:      result.Repaired,
		DurationMS:    result.DurationMS,
	}))
}

// repairPipeline is the orchestrator-side repair implementation: recompile
// with the diagnosis and prior repair history, persist the replacement with
// lineage, hand the new graph back to the executor.
type repairPipeline struct {
	store    Store
	compiler Compiler
	fp       models.Fingerprint
	logger   *zap.Logger
}

func (r *repairPipeline) Repair(ctx context.Context, diag models.RepairDiagnosis) (*models.ActionGraph, error) {
	history, err := r.store.GetRepairHistory(ctx, r.fp.Hash, 5)
	if err != nil {
		r.logger.Warn("loading repair history", zap.Error(err))
	} else {
		diag.RepairHistory = history
	}

	newAG, _, err := r.compiler.Compile(ctx, r.fp, &diag)
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveRepairedActionGraph(ctx, r.fp.Hash, diag.OldActionGraphID,
		diag.FailedStepOrder, string(diag.FailureType), diag.ErrorLog, newAG); err != nil {
		return nil, err
	}
	r.logger.Info("repair compiled and persisted",
		zap.String("old", diag.OldActionGraphID),
		zap.String("new", newAG.ID))
	return newAG, nil
}
