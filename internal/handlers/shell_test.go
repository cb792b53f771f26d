package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

func shellStep(params map[string]any) models.Step {
	return models.Step{Order: 1, Phase: models.PhaseMutate, Type: models.StepShellCommand,
		Command: "shell step", Parameters: params}
}

func TestShellHandlerEcho(t *testing.T) {
	h := NewShellHandler(10*time.Second, zap.NewNop())
	res, err := h.Execute(context.Background(),
		shellStep(map[string]any{"command": "echo hello"}), models.NewExecutionContext("", nil))
	require.NoError(t, err)
	assert.Empty(t, res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestShellHandlerNoShellInterpolation(t *testing.T) {
	h := NewShellHandler(10*time.Second, zap.NewNop())
	res, err := h.Execute(context.Background(),
		shellStep(map[string]any{"command": `echo $(whoami)`}), models.NewExecutionContext("", nil))
	require.NoError(t, err)
	assert.Equal(t, "$(whoami)\n", res.Stdout,
		"list-form execution must not expand command substitution")
}

func TestShellHandlerNonZeroExitSynthesizesStderr(t *testing.T) {
	h := NewShellHandler(10*time.Second, zap.NewNop())
	res, err := h.Execute(context.Background(),
		shellStep(map[string]any{"command": "false"}), models.NewExecutionContext("", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Stderr, "silent non-zero exit still fails the step")
	assert.Equal(t, 1, res.ExitCode)
}

func TestShellHandlerExpr(t *testing.T) {
	// The idor_walk generator derives the victim id with expr.
	h := NewShellHandler(10*time.Second, zap.NewNop())
	res, err := h.Execute(context.Background(),
		shellStep(map[string]any{"command": "expr 1 + 1"}), models.NewExecutionContext("", nil))
	require.NoError(t, err)
	assert.Empty(t, res.Stderr)
	assert.Equal(t, "2\n", res.Stdout)
}

func TestShellHandlerTimeout(t *testing.T) {
	h := NewShellHandler(30*time.Second, zap.NewNop())
	res, err := h.Execute(context.Background(),
		shellStep(map[string]any{"command": "sleep 5", "timeout_seconds": 1}), models.NewExecutionContext("", nil))
	require.NoError(t, err)
	assert.Contains(t, res.Stderr, "timeout", "the classifier keys on the timeout keyword")
}

func TestShellHandlerMissingCommand(t *testing.T) {
	h := NewShellHandler(10*time.Second, zap.NewNop())
	res, err := h.Execute(context.Background(), shellStep(map[string]any{}), models.NewExecutionContext("", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Stderr)
}
