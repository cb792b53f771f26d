package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

func regexStep(params map[string]any) models.Step {
	return models.Step{Order: 2, Phase: models.PhaseAnalyze, Type: models.StepRegexMatch,
		Command: "regex step", Parameters: params}
}

func contextWithOutputs(outputs ...string) *models.ExecutionContext {
	ectx := models.NewExecutionContext("", nil)
	ectx.PreviousOutputs = outputs
	return ectx
}

func TestRegexDefaultGroupIsWholeMatch(t *testing.T) {
	h := NewRegexHandler(zap.NewNop())
	res, err := h.Execute(context.Background(),
		regexStep(map[string]any{"pattern": `"token":"(\w+)"`}),
		contextWithOutputs(`{"token":"abc123"}`))
	require.NoError(t, err)
	assert.True(t, res.SuccessCriteriaMatched)
	assert.Equal(t, `"token":"abc123"`, res.Stdout,
		"capture_group unset means the entire match, not group 1")
}

func TestRegexCaptureGroupOne(t *testing.T) {
	h := NewRegexHandler(zap.NewNop())
	res, err := h.Execute(context.Background(),
		regexStep(map[string]any{"pattern": `"token":"(\w+)"`, "capture_group": 1}),
		contextWithOutputs(`{"token":"abc123"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.Stdout, "token extraction needs just the group")
}

func TestRegexSourceSelection(t *testing.T) {
	ectx := contextWithOutputs("first", "second", "third")
	h := NewRegexHandler(zap.NewNop())

	cases := []struct {
		source any
		want   string
	}{
		{nil, "third"},
		{0, "third"},
		{-1, "third"},
		{-2, "second"},
		{1, "second"},
		{2, "third"},
		{"not a number", "third"},
	}
	for _, tc := range cases {
		params := map[string]any{"pattern": `\w+`}
		if tc.source != nil {
			params["source"] = tc.source
		}
		res, err := h.Execute(context.Background(), regexStep(params), ectx)
		require.NoError(t, err)
		assert.Equal(t, tc.want, res.Stdout, "source=%v", tc.source)
	}
}

func TestRegexSourceOutOfRange(t *testing.T) {
	h := NewRegexHandler(zap.NewNop())
	res, err := h.Execute(context.Background(),
		regexStep(map[string]any{"pattern": `\w+`, "source": 9}),
		contextWithOutputs("only"))
	require.NoError(t, err)
	assert.Contains(t, res.Stderr, "out of range")
}

func TestRegexNoMatchSetsStderr(t *testing.T) {
	h := NewRegexHandler(zap.NewNop())
	res, err := h.Execute(context.Background(),
		regexStep(map[string]any{"pattern": `"email":`}),
		contextWithOutputs(`{"status":"ok"}`))
	require.NoError(t, err)
	assert.False(t, res.SuccessCriteriaMatched)
	assert.Contains(t, res.Stderr, "no match")
}

func TestRegexEmptyOutputs(t *testing.T) {
	h := NewRegexHandler(zap.NewNop())
	res, err := h.Execute(context.Background(),
		regexStep(map[string]any{"pattern": `\w+`}), models.NewExecutionContext("", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Stderr)
}

func TestRegexFallsBackToSuccessCriteria(t *testing.T) {
	h := NewRegexHandler(zap.NewNop())
	step := regexStep(map[string]any{})
	step.Phase = models.PhaseObserve
	step.SuccessCriteria = `"email"\s*:`
	res, err := h.Execute(context.Background(), step, contextWithOutputs(`{"email": "a@b.c"}`))
	require.NoError(t, err)
	assert.True(t, res.SuccessCriteriaMatched,
		"OBSERVE steps may carry the pattern in success_criteria only")
}

func TestRegistryDispatch(t *testing.T) {
	reg := Default(Options{}, zap.NewNop())
	for _, st := range []models.StepType{models.StepHTTPRequest, models.StepShellCommand, models.StepRegexMatch} {
		h, err := reg.Get(st)
		require.NoError(t, err)
		assert.Equal(t, st, h.Type())
	}

	_, err := reg.Get(models.StepType("grpc_call"))
	assert.ErrorIs(t, err, ErrUnknownStepType)
}
