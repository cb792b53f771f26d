package llm

import (
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

func TestTokenBudgetExhaustion(t *testing.T) {
	b := NewTokenBudget(1000)
	require.NoError(t, b.Check())

	b.Record(&ai.GenerationUsage{InputTokens: 400, OutputTokens: 200})
	assert.Equal(t, 600, b.Used())
	require.NoError(t, b.Check(), "under the cap the next call may start")

	b.Record(&ai.GenerationUsage{InputTokens: 300, OutputTokens: 200})
	assert.Equal(t, 1100, b.Used(), "the crossing call records its real usage")
	assert.ErrorIs(t, b.Check(), ErrTokenBudgetExceeded,
		"the call after the crossing one must not start")
}

func TestTokenBudgetUnlimited(t *testing.T) {
	b := NewTokenBudget(0)
	b.Record(&ai.GenerationUsage{InputTokens: 1 << 20})
	assert.NoError(t, b.Check())
}

func TestTokenBudgetReset(t *testing.T) {
	b := NewTokenBudget(100)
	b.Record(&ai.GenerationUsage{InputTokens: 100})
	require.Error(t, b.Check())

	b.Reset()
	assert.NoError(t, b.Check())
	assert.Zero(t, b.Used())
}

func TestTokenBudgetNilUsage(t *testing.T) {
	b := NewTokenBudget(100)
	b.Record(nil)
	assert.Zero(t, b.Used())
}

func TestBuildReconPromptColdStart(t *testing.T) {
	fp := models.Fingerprint{TechStack: "Express", AuthModel: models.AuthBearerToken, EndpointPattern: "/rest/*"}
	prompt := BuildReconPrompt(fp, "name=juice_shop", 12, nil)

	assert.Contains(t, prompt, "tech_stack=Express")
	assert.Contains(t, prompt, "12 HTTP flows")
	assert.NotContains(t, prompt, "REPAIR CONTEXT")
}

func TestBuildReconPromptWithRepairContext(t *testing.T) {
	fp := models.Fingerprint{TechStack: "Express", AuthModel: models.AuthBearerToken}
	repair := &models.RepairDiagnosis{
		FailedStepOrder:   6,
		FailedStepCommand: "GET /api/Users/2",
		FailedStepType:    models.StepHTTPRequest,
		ErrorLog:          "HTTP 404 Not Found",
		FailureType:       models.FailureSystemic,
		RepairHistory: []models.RepairRecord{
			{FailedStep: "GET /api/Users/2", RepairStep: "GET /rest/user/2", Success: false},
		},
	}
	prompt := BuildReconPrompt(fp, "profile", 3, repair)

	assert.Contains(t, prompt, "REPAIR CONTEXT")
	assert.Contains(t, prompt, "Failed step 6")
	assert.Contains(t, prompt, "HTTP 404 Not Found")
	assert.Contains(t, prompt, "Earlier repair attempts")
	assert.True(t, len(prompt) > 0 && prompt[0] == '=',
		"repair context is prepended, not appended")
}

func TestBuildRevisionNote(t *testing.T) {
	note := BuildRevisionNote(models.CriticFeedback{
		Score:       0.4,
		Issues:      []string{"exploit_target not in traffic"},
		Suggestions: []string{"use /rest/basket/{id} instead"},
	})
	assert.Contains(t, note, "Score: 0.40")
	assert.Contains(t, note, "exploit_target not in traffic")
	assert.Contains(t, note, "/rest/basket/{id}")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := truncate(string(make([]byte, 100)), 10)
	assert.Len(t, long, 10+len("... [truncated]"))
}
