package debuglog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/events"
	"github.com/BetterCallFirewall/llmitm/internal/llm"
)

func TestRecorderWritesNumberedFiles(t *testing.T) {
	base := t.TempDir()
	rec, err := New(base, true, zap.NewNop())
	require.NoError(t, err)
	require.NotEmpty(t, rec.Dir())

	rec.RecordCall("recon", llm.CallRecord{Model: "googleai/gemini-2.5-pro", InputTokens: 100, OutputTokens: 50})
	rec.Emit(events.New(events.TypeStepStart, events.StepStart{Order: 1}))
	rec.Emit(events.New(events.TypeFinding, events.Finding{FindingID: "f-1"}))
	rec.Summary(map[string]any{"success": true})

	entries, err := os.ReadDir(rec.Dir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "call_001.json")
	assert.Contains(t, names, "event_002_step_start.json")
	assert.Contains(t, names, "event_003_finding.json")
	assert.Contains(t, names, "run_summary.json")

	raw, err := os.ReadFile(filepath.Join(rec.Dir(), "call_001.json"))
	require.NoError(t, err)
	var dumped map[string]any
	require.NoError(t, json.Unmarshal(raw, &dumped))
	assert.Equal(t, "recon", dumped["call"])
}

func TestDisabledRecorderTouchesNothing(t *testing.T) {
	base := t.TempDir()
	rec, err := New(base, false, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, rec.Dir())

	rec.RecordCall("recon", llm.CallRecord{})
	rec.Emit(events.New(events.TypeRunStart, events.RunStart{}))
	rec.Summary("x")

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries, "disabled recorder creates no directories or files")
}
