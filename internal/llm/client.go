package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// Recorder receives a JSON-dumpable record of every model call; the debug
// logger implements it. A nil recorder is a no-op.
type Recorder interface {
	RecordCall(name string, record CallRecord)
}

// CallRecord is what gets dumped per model call when debug logging is on.
type CallRecord struct {
	Model        string `json:"model"`
	System       string `json:"system"`
	Prompt       string `json:"prompt"`
	Response     any    `json:"response"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalUsed    int    `json:"total_used"`
	DurationMS   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

// Options configures the client.
type Options struct {
	APIKey      string
	SmartModel  string
	FastModel   string
	TokenBudget int
	CallTimeout time.Duration
	MaxTurns    int
}

// Client owns the genkit instance, the model names, and the run budget.
type Client struct {
	g        *genkit.Genkit
	budget   *TokenBudget
	logger   *zap.Logger
	recorder Recorder
	smart    string
	fast     string
	timeout  time.Duration
	maxTurns int
}

// New initializes genkit with the GoogleAI plugin. It must be called once
// per process; genkit registries are global to the instance.
func New(ctx context.Context, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: opts.APIKey}),
		genkit.WithDefaultModel(opts.FastModel),
	)
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 8
	}
	return &Client{
		g:        g,
		budget:   NewTokenBudget(opts.TokenBudget),
		logger:   logger,
		smart:    opts.SmartModel,
		fast:     opts.FastModel,
		timeout:  timeout,
		maxTurns: maxTurns,
	}
}

// SetRecorder attaches the debug recorder.
func (c *Client) SetRecorder(r Recorder) { c.recorder = r }

// Budget exposes the run budget for reset and reporting.
func (c *Client) Budget() *TokenBudget { return c.budget }

// Genkit exposes the instance for tool registration.
func (c *Client) Genkit() *genkit.Genkit { return c.g }

// ReconPlan runs the tool-using recon agent: grammar-constrained AttackPlan
// output, the recon tools callable, turns bounded.
func (c *Client) ReconPlan(ctx context.Context, system, prompt string, tools []ai.ToolRef) (*models.AttackPlan, error) {
	return generate[models.AttackPlan](ctx, c, "recon", c.smart, system, prompt,
		ai.WithTools(tools...), ai.WithMaxTurns(c.maxTurns))
}

// Critique runs the one-shot critic review.
func (c *Client) Critique(ctx context.Context, system, prompt string) (*models.CriticFeedback, error) {
	return generate[models.CriticFeedback](ctx, c, "critic", c.fast, system, prompt)
}

// generate is the shared metered call path: budget check, wall-clock
// timeout, structured output, usage accounting, debug record.
func generate[T any](ctx context.Context, c *Client, name, model, system, prompt string, extra ...ai.GenerateOption) (*T, error) {
	if err := c.budget.Check(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := append([]ai.GenerateOption{
		ai.WithModelName(model),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	}, extra...)

	start := time.Now()
	result, resp, err := genkit.GenerateData[T](callCtx, c.g, opts...)
	duration := time.Since(start)

	record := CallRecord{Model: model, System: system, Prompt: prompt, DurationMS: duration.Milliseconds()}
	var usage *ai.GenerationUsage
	if resp != nil {
		usage = resp.Usage
		c.budget.Record(usage)
	}
	if usage != nil {
		record.InputTokens = usage.InputTokens
		record.OutputTokens = usage.OutputTokens
	}
	record.TotalUsed = c.budget.Used()
	if err != nil {
		record.Error = err.Error()
	} else {
		record.Response = result
	}
	if c.recorder != nil {
		c.recorder.RecordCall(name, record)
	}

	c.logger.Info("llm call finished",
		zap.String("call", name),
		zap.String("model", model),
		zap.Int("input_tokens", record.InputTokens),
		zap.Int("output_tokens", record.OutputTokens),
		zap.Int("budget_used", record.TotalUsed),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", name, err)
	}
	return result, nil
}
