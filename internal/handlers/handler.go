// Package handlers implements the step execution layer: one handler per
// step type, dispatched through a registry keyed on the step's type tag.
// Handlers report failure exclusively through StepResult.Stderr; the error
// return is reserved for programmer mistakes (nil context, broken wiring).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// ErrUnknownStepType means a persisted step names a type with no registered
// handler. The run fails; repair cannot help a missing handler.
var ErrUnknownStepType = errors.New("unknown step type")

// StepHandler executes one step against the threaded execution context.
type StepHandler interface {
	Type() models.StepType
	Execute(ctx context.Context, step models.Step, ectx *models.ExecutionContext) (*models.StepResult, error)
}

// Registry maps step types to handlers. Adding a step type is one new
// handler and one Register call.
type Registry struct {
	handlers map[models.StepType]StepHandler
}

// NewRegistry builds a registry from the given handlers.
func NewRegistry(hs ...StepHandler) *Registry {
	r := &Registry{handlers: make(map[models.StepType]StepHandler, len(hs))}
	for _, h := range hs {
		r.Register(h)
	}
	return r
}

// Register adds or replaces the handler for its type.
func (r *Registry) Register(h StepHandler) {
	r.handlers[h.Type()] = h
}

// Get returns the handler for a step type.
func (r *Registry) Get(t models.StepType) (StepHandler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, t)
	}
	return h, nil
}

// Options carries the handler tunables from config.
type Options struct {
	RequestTimeout time.Duration
	ShellTimeout   time.Duration
}

// Default builds the standard registry: http_request, shell_command,
// regex_match.
func Default(opts Options, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return NewRegistry(
		NewHTTPHandler(opts.RequestTimeout, logger),
		NewShellHandler(opts.ShellTimeout, logger),
		NewRegexHandler(logger),
	)
}

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func boolParam(params map[string]any, key string) bool {
	b, _ := params[key].(bool)
	return b
}

// intParam accepts the numeric representations JSON decoding and plan
// translation produce.
func intParam(params map[string]any, key string, fallback int) int {
	switch n := params[key].(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		var v int
		if _, err := fmt.Sscanf(n, "%d", &v); err == nil {
			return v
		}
	}
	return fallback
}
