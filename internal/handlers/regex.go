package handlers

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// RegexHandler executes regex_match steps against earlier step outputs.
//
// Parameters: pattern, source (output index: absent or 0 means the last
// output, negative counts from the end, positive is an absolute index),
// capture_group (default 0, the entire match; token extractors must ask for
// group 1 explicitly).
type RegexHandler struct {
	logger *zap.Logger
}

// NewRegexHandler builds the handler.
func NewRegexHandler(logger *zap.Logger) *RegexHandler {
	return &RegexHandler{logger: logger}
}

func (h *RegexHandler) Type() models.StepType { return models.StepRegexMatch }

// Execute matches the pattern. A miss is a failure (stderr set) so that
// OBSERVE criteria and mid-chain extraction share one code path; the
// executor decides whether a miss is a finding gap or a broken chain.
func (h *RegexHandler) Execute(_ context.Context, step models.Step, ectx *models.ExecutionContext) (*models.StepResult, error) {
	start := time.Now()
	result := &models.StepResult{StepOrder: step.Order, StepType: step.Type}
	defer func() { result.DurationMS = time.Since(start).Milliseconds() }()

	pattern := stringParam(step.Parameters, "pattern")
	if pattern == "" {
		pattern = step.SuccessCriteria
	}
	if pattern == "" {
		result.Stderr = fmt.Sprintf("regex step %d has no pattern", step.Order)
		result.ExitCode = 1
		return result, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		result.Stderr = fmt.Sprintf("invalid pattern %q: %v", pattern, err)
		result.ExitCode = 1
		return result, nil
	}

	input, err := sourceOutput(ectx.PreviousOutputs, intParam(step.Parameters, "source", 0))
	if err != nil {
		result.Stderr = err.Error()
		result.ExitCode = 1
		return result, nil
	}

	group := intParam(step.Parameters, "capture_group", 0)
	match := re.FindStringSubmatch(input)
	if match == nil {
		result.Stderr = fmt.Sprintf("no match for pattern %q", pattern)
		result.ExitCode = 1
		return result, nil
	}
	if group < 0 || group >= len(match) {
		result.Stderr = fmt.Sprintf("pattern %q has no capture group %d", pattern, group)
		result.ExitCode = 1
		return result, nil
	}

	result.Stdout = match[group]
	result.SuccessCriteriaMatched = true
	return result, nil
}

// sourceOutput resolves the source index: 0 or absent selects the latest
// output, negative indexes count back from the end, positive values are
// absolute positions.
func sourceOutput(outputs []string, source int) (string, error) {
	if len(outputs) == 0 {
		return "", fmt.Errorf("no previous outputs to match against")
	}
	idx := source
	switch {
	case source == 0:
		idx = len(outputs) - 1
	case source < 0:
		idx = len(outputs) + source
	}
	if idx < 0 || idx >= len(outputs) {
		return "", fmt.Errorf("source index %d out of range (have %d outputs)", source, len(outputs))
	}
	return outputs[idx], nil
}
