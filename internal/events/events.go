// Package events defines the run lifecycle events the executor, compiler,
// and orchestrator emit, plus the Emitter contract the monitor hub and
// debug recorder implement.
package events

import "time"

// Type labels an event.
type Type string

const (
	TypeRunStart         Type = "run_start"
	TypeStepStart        Type = "step_start"
	TypeStepResult       Type = "step_result"
	TypeCompileIteration Type = "compile_iteration"
	TypeReconResult      Type = "recon_result"
	TypeCriticResult     Type = "critic_result"
	TypeFailure          Type = "failure"
	TypeRepairStart      Type = "repair_start"
	TypeFinding          Type = "finding"
	TypeRunEnd           Type = "run_end"
)

// Event is the envelope every emitter receives. Data is one of the payload
// structs below.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// New stamps an event with the current time.
func New(t Type, data any) Event {
	return Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// Emitter consumes events. Implementations must not block the run; drop
// rather than stall.
type Emitter interface {
	Emit(Event)
}

// Noop is the default emitter.
type Noop struct{}

func (Noop) Emit(Event) {}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

func (m Multi) Emit(e Event) {
	for _, em := range m {
		em.Emit(e)
	}
}

// RunStart opens a run.
type RunStart struct {
	TargetURL       string `json:"target_url"`
	Profile         string `json:"profile"`
	CaptureMode     string `json:"capture_mode"`
	FingerprintHash string `json:"fingerprint_hash,omitempty"`
}

// StepStart precedes handler dispatch.
type StepStart struct {
	ActionGraphID string `json:"action_graph_id"`
	Order         int    `json:"order"`
	Phase         string `json:"phase"`
	StepType      string `json:"step_type"`
	Command       string `json:"command"`
}

// StepResult follows handler dispatch.
type StepResult struct {
	ActionGraphID string `json:"action_graph_id"`
	Order         int    `json:"order"`
	Failed        bool   `json:"failed"`
	StatusCode    int    `json:"status_code,omitempty"`
	DurationMS    int64  `json:"duration_ms"`
	Stderr        string `json:"stderr,omitempty"`
}

// ReconResult follows a validated recon plan.
type ReconResult struct {
	Opportunities int     `json:"opportunities"`
	Confidence    float64 `json:"confidence"`
	Retried       bool    `json:"retried,omitempty"`
}

// CriticResult follows one critic verdict.
type CriticResult struct {
	Iteration int     `json:"iteration"`
	Score     float64 `json:"score"`
	Approved  bool    `json:"approved"`
}

// CompileIteration reports one recon→critic round.
type CompileIteration struct {
	Iteration     int     `json:"iteration"`
	Opportunities int     `json:"opportunities"`
	CriticScore   float64 `json:"critic_score,omitempty"`
	Accepted      bool    `json:"accepted"`
}

// Failure reports a classified step failure.
type Failure struct {
	ActionGraphID string `json:"action_graph_id"`
	Order         int    `json:"order"`
	FailureType   string `json:"failure_type"`
	Stderr        string `json:"stderr"`
}

// RepairStart announces a self-repair recompile.
type RepairStart struct {
	OldActionGraphID string `json:"old_action_graph_id"`
	FailedOrder      int    `json:"failed_order"`
	Reason           string `json:"reason"`
}

// Finding reports a persisted discovery.
type Finding struct {
	FindingID     string `json:"finding_id"`
	ActionGraphID string `json:"action_graph_id"`
	Severity      string `json:"severity"`
	Observation   string `json:"observation"`
}

// RunEnd closes a run.
type RunEnd struct {
	Path          string `json:"path"`
	Success       bool   `json:"success"`
	FindingsCount int    `json:"findings_count"`
	TokensUsed    int    `json:"tokens_used"`
	Repaired      bool   `json:"repaired"`
	DurationMS    int64  `json:"duration_ms"`
}
