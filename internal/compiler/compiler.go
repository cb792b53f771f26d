// Package compiler turns a fingerprint plus captured traffic into a
// persisted-ready ActionGraph: an agentic recon pass proposes an attack
// plan, a critic loop refines it, and a deterministic generator translates
// the winning opportunity into steps. The compiler itself never persists.
package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/events"
	"github.com/BetterCallFirewall/llmitm/internal/exploit"
	"github.com/BetterCallFirewall/llmitm/internal/llm"
	"github.com/BetterCallFirewall/llmitm/internal/models"
	"github.com/BetterCallFirewall/llmitm/internal/target"
)

// Agent is the slice of the LLM client the compiler consumes.
type Agent interface {
	ReconPlan(ctx context.Context, system, prompt string, tools []ai.ToolRef) (*models.AttackPlan, error)
	Critique(ctx context.Context, system, prompt string) (*models.CriticFeedback, error)
}

// Options bound the compile loop.
type Options struct {
	MaxCriticIterations int
}

// Compiler runs the recon/critic/translate pipeline for one target.
type Compiler struct {
	agent      Agent
	generators *exploit.Registry
	profile    target.Profile
	tools      []ai.ToolRef
	flowCount  int
	emitter    events.Emitter
	logger     *zap.Logger
	maxIters   int
}

// New builds a compiler for one target. tools are the recon tool refs
// already registered against the agent's genkit instance; flowCount is how
// many captured flows those tools can see.
func New(agent Agent, generators *exploit.Registry, profile target.Profile, tools []ai.ToolRef, flowCount int, opts Options, emitter events.Emitter, logger *zap.Logger) *Compiler {
	if generators == nil {
		generators = exploit.DefaultRegistry()
	}
	if emitter == nil {
		emitter = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxIters := opts.MaxCriticIterations
	if maxIters <= 0 {
		maxIters = 3
	}
	return &Compiler{
		agent:      agent,
		generators: generators,
		profile:    profile,
		tools:      tools,
		flowCount:  flowCount,
		emitter:    emitter,
		logger:     logger,
		maxIters:   maxIters,
	}
}

// Compile runs the full pipeline. A non-nil repair diagnosis marks this as
// a self-repair recompile; the diagnosis is prepended to the recon prompt.
func (c *Compiler) Compile(ctx context.Context, fp models.Fingerprint, repair *models.RepairDiagnosis) (*models.ActionGraph, *models.AttackPlan, error) {
	basePrompt := llm.BuildReconPrompt(fp, c.profile.Summary(), c.flowCount, repair)

	plan, err := c.recon(ctx, basePrompt)
	if err != nil {
		return nil, nil, err
	}

	plan, err = c.refine(ctx, fp, basePrompt, plan)
	if err != nil {
		return nil, nil, err
	}

	graph, err := c.translate(plan)
	if err != nil {
		return nil, plan, err
	}
	return graph, plan, nil
}

// recon runs the tool-using planning call, retrying once with the
// validation problems appended when the returned enums do not parse.
func (c *Compiler) recon(ctx context.Context, prompt string) (*models.AttackPlan, error) {
	plan, err := c.agent.ReconPlan(ctx, llm.ReconSystemPrompt, prompt, c.tools)
	if err != nil {
		return nil, fmt.Errorf("recon stage: %w", err)
	}
	validationErr := plan.Validate()
	if validationErr == nil {
		c.emitter.Emit(events.New(events.TypeReconResult, events.ReconResult{
			Opportunities: len(plan.AttackOpportunities),
			Confidence:    plan.Confidence,
		}))
		return plan, nil
	}

	c.logger.Warn("recon plan failed validation, retrying once", zap.Error(validationErr))
	corrective := prompt + fmt.Sprintf(
		"\n\n=== YOUR PREVIOUS PLAN WAS REJECTED ===\n%s\nFix these problems. Use only the documented enum values.", validationErr)
	plan, err = c.agent.ReconPlan(ctx, llm.ReconSystemPrompt, corrective, c.tools)
	if err != nil {
		return nil, fmt.Errorf("recon retry: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("recon plan invalid after corrective retry: %w", err)
	}
	c.emitter.Emit(events.New(events.TypeReconResult, events.ReconResult{
		Opportunities: len(plan.AttackOpportunities),
		Confidence:    plan.Confidence,
		Retried:       true,
	}))
	return plan, nil
}

// refine runs the critic loop. Accepted feedback adopts the critic's
// revised plan when it validates; a revision identical to the reviewed plan
// counts as convergence even without approval.
func (c *Compiler) refine(ctx context.Context, fp models.Fingerprint, basePrompt string, plan *models.AttackPlan) (*models.AttackPlan, error) {
	for iter := 1; iter <= c.maxIters; iter++ {
		planJSON, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encoding plan for review: %w", err)
		}

		feedback, err := c.agent.Critique(ctx, llm.CriticSystemPrompt,
			llm.BuildCriticPrompt(*plan, fp, c.profile.Summary(), string(planJSON)))
		if err != nil {
			return nil, fmt.Errorf("critic iteration %d: %w", iter, err)
		}

		c.emitter.Emit(events.New(events.TypeCriticResult, events.CriticResult{
			Iteration: iter,
			Score:     feedback.Score,
			Approved:  feedback.Approved,
		}))

		accepted := feedback.Accepted() || plan.Equal(feedback.RevisedPlan)
		c.emitter.Emit(events.New(events.TypeCompileIteration, events.CompileIteration{
			Iteration:     iter,
			Opportunities: len(plan.AttackOpportunities),
			CriticScore:   feedback.Score,
			Accepted:      accepted,
		}))
		c.logger.Info("critic iteration",
			zap.Int("iteration", iter),
			zap.Float64("score", feedback.Score),
			zap.Bool("approved", feedback.Approved),
			zap.Bool("accepted", accepted))

		if accepted {
			if feedback.RevisedPlan.Validate() == nil {
				revised := feedback.RevisedPlan
				return &revised, nil
			}
			return plan, nil
		}

		if iter == c.maxIters {
			break
		}
		revisionPrompt := basePrompt + "\n\n" + llm.BuildRevisionNote(*feedback)
		plan, err = c.recon(ctx, revisionPrompt)
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("critic loop: %w after %d iterations", llm.ErrIterationCapExceeded, c.maxIters)
}

// translate compiles the first compatible opportunity into an ActionGraph.
func (c *Compiler) translate(plan *models.AttackPlan) (*models.ActionGraph, error) {
	for i, opp := range plan.AttackOpportunities {
		steps, err := c.generators.Generate(c.profile, opp)
		if errors.Is(err, exploit.ErrIncompatibleExploit) {
			c.logger.Info("skipping incompatible opportunity",
				zap.Int("index", i),
				zap.String("exploit", string(opp.RecommendedExploit)),
				zap.String("auth_model", string(c.profile.AuthModel)))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("translating opportunity %d: %w", i, err)
		}

		now := time.Now().UTC()
		return &models.ActionGraph{
			ID:                uuid.NewString(),
			VulnerabilityType: opp.RecommendedExploit.VulnerabilityType(),
			Description:       describeOpportunity(opp),
			Confidence:        plan.Confidence,
			Steps:             steps,
			CreatedAt:         now,
			UpdatedAt:         now,
		}, nil
	}
	return nil, fmt.Errorf("no opportunity compatible with %s auth: %w", c.profile.AuthModel, exploit.ErrIncompatibleExploit)
}

func describeOpportunity(opp models.AttackOpportunity) string {
	desc := opp.Opportunity
	if desc == "" {
		desc = opp.SuspectedGap
	}
	return fmt.Sprintf("%s (%s against %s)", desc, opp.RecommendedExploit, opp.ExploitTarget)
}
