// Package debuglog dumps every model call and run event to timestamped
// JSON files for offline inspection. Disabled, it is a silent no-op.
package debuglog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/events"
	"github.com/BetterCallFirewall/llmitm/internal/llm"
)

// Recorder writes one directory per run: call_NNN.json for LLM calls,
// event_NNN_<type>.json for lifecycle events, run_summary.json at the end.
// It implements both llm.Recorder and events.Emitter.
type Recorder struct {
	dir     string
	enabled bool
	logger  *zap.Logger

	mu      sync.Mutex
	counter int
}

// New creates the run directory under baseDir. enabled=false returns a
// recorder whose every method is a no-op.
func New(baseDir string, enabled bool, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{enabled: enabled, logger: logger}
	if !enabled {
		return r, nil
	}

	r.dir = filepath.Join(baseDir, time.Now().UTC().Format(time.RFC3339))
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating debug log dir: %w", err)
	}
	logger.Info("debug logging enabled", zap.String("dir", r.dir))
	return r, nil
}

// Dir returns the run directory, empty when disabled.
func (r *Recorder) Dir() string { return r.dir }

// RecordCall implements llm.Recorder.
func (r *Recorder) RecordCall(name string, record llm.CallRecord) {
	if !r.enabled {
		return
	}
	n := r.next()
	r.dump(fmt.Sprintf("call_%03d.json", n), map[string]any{
		"call":   name,
		"record": record,
	})
}

// Emit implements events.Emitter.
func (r *Recorder) Emit(e events.Event) {
	if !r.enabled {
		return
	}
	n := r.next()
	r.dump(fmt.Sprintf("event_%03d_%s.json", n, e.Type), e)
}

// Summary writes run_summary.json; call once at run end.
func (r *Recorder) Summary(summary any) {
	if !r.enabled {
		return
	}
	r.dump("run_summary.json", summary)
}

func (r *Recorder) next() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	return r.counter
}

func (r *Recorder) dump(name string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		r.logger.Warn("marshalling debug dump", zap.String("file", name), zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(r.dir, name), data, 0o644); err != nil {
		r.logger.Warn("writing debug dump", zap.String("file", name), zap.Error(err))
	}
}
