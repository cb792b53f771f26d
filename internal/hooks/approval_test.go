package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

func replayStep(params map[string]any) models.Step {
	return models.Step{
		Order:      3,
		Phase:      models.PhaseReplay,
		Type:       models.StepHTTPRequest,
		Command:    "replay request",
		Parameters: params,
	}
}

func TestApproveAllPassesDestructive(t *testing.T) {
	h := New(PolicyApproveAll, nil)
	err := h.Check(replayStep(map[string]any{"method": "DELETE", "path": "/api/Users/1"}))
	assert.NoError(t, err, "unattended default runs destructive steps")
}

func TestDenyDestructiveVetoesDeleteMethod(t *testing.T) {
	h := New(PolicyDenyDestructive, nil)
	err := h.Check(replayStep(map[string]any{"method": "DELETE", "path": "/api/Users/1"}))
	assert.ErrorIs(t, err, ErrApprovalDenied)
}

func TestDenyDestructiveVetoesKeywordInCommand(t *testing.T) {
	h := New(PolicyDenyDestructive, nil)
	step := models.Step{
		Order:      2,
		Phase:      models.PhaseMutate,
		Type:       models.StepShellCommand,
		Command:    "tamper with role",
		Parameters: map[string]any{"command": "redis-cli FLUSHALL && drop table users"},
	}
	assert.ErrorIs(t, h.Check(step), ErrApprovalDenied)
}

func TestNonDestructiveNeverConsultsPolicy(t *testing.T) {
	h := New(PolicyDenyDestructive, func(models.Step, string) bool {
		t.Fatal("callback must not fire for non-destructive steps")
		return false
	})
	err := h.Check(replayStep(map[string]any{"method": "GET", "path": "/api/Users/2"}))
	assert.NoError(t, err)
}

func TestCapturePhaseSkipsGate(t *testing.T) {
	h := New(PolicyDenyDestructive, nil)
	step := models.Step{
		Order:      1,
		Phase:      models.PhaseCapture,
		Type:       models.StepHTTPRequest,
		Command:    "login and reset session state",
		Parameters: map[string]any{"method": "POST", "path": "/rest/user/login"},
	}
	assert.NoError(t, h.Check(step), "only MUTATE and REPLAY steps are gated")
}

func TestCallbackOverridesPolicy(t *testing.T) {
	approved := New(PolicyDenyDestructive, func(models.Step, string) bool { return true })
	denied := New(PolicyApproveAll, func(models.Step, string) bool { return false })
	step := replayStep(map[string]any{"method": "DELETE", "path": "/api/Feedbacks/1"})

	assert.NoError(t, approved.Check(step))
	assert.ErrorIs(t, denied.Check(step), ErrApprovalDenied)
}

func TestNilHookApprovesEverything(t *testing.T) {
	var h *ApprovalHook
	assert.NoError(t, h.Check(replayStep(map[string]any{"method": "DELETE"})))
}
