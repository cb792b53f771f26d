package models

// FailureType classifies a failed step per the repair policy: recoverable
// failures get a retry at the same index, unrecoverable ones end the run,
// systemic ones trigger recompilation.
type FailureType string

const (
	FailureTransientRecoverable   FailureType = "TRANSIENT_RECOVERABLE"
	FailureTransientUnrecoverable FailureType = "TRANSIENT_UNRECOVERABLE"
	FailureSystemic               FailureType = "SYSTEMIC"
)

// RunPath records how a run obtained its ActionGraph.
type RunPath string

const (
	PathColdStart RunPath = "cold_start"
	PathWarmStart RunPath = "warm_start"
	PathRepair    RunPath = "repair"
)

// ExecutionContext is the mutable state threaded through one execution
// attempt. SessionTokens maps HTTP header names to full header values
// (for example "Authorization" to "Bearer <token>"). A repair restart
// always begins from empty outputs, tokens, and cookies.
type ExecutionContext struct {
	TargetURL       string            `json:"target_url"`
	SessionTokens   map[string]string `json:"session_tokens"`
	Cookies         map[string]string `json:"cookies"`
	PreviousOutputs []string          `json:"previous_outputs"`
	Fingerprint     *Fingerprint      `json:"fingerprint,omitempty"`

	// LoginSucceeded flips once a token-extracting HTTP step completes
	// without failure; the failure classifier uses it to tell a stale
	// session apart from a wrongly compiled auth shape.
	LoginSucceeded bool `json:"-"`
}

// NewExecutionContext returns an empty context for one execution attempt.
func NewExecutionContext(targetURL string, fp *Fingerprint) *ExecutionContext {
	return &ExecutionContext{
		TargetURL:       targetURL,
		SessionTokens:   map[string]string{},
		Cookies:         map[string]string{},
		PreviousOutputs: []string{},
		Fingerprint:     fp,
	}
}

// Reset clears the per-attempt state in place, keeping target and
// fingerprint. Used when a repair restarts the walk from the first step.
func (c *ExecutionContext) Reset() {
	c.PreviousOutputs = []string{}
	c.SessionTokens = map[string]string{}
	c.Cookies = map[string]string{}
	c.LoginSucceeded = false
}

// StepResult is the outcome of dispatching a single step. A non-empty
// Stderr marks the step as failed regardless of any other field; HTTP
// handlers set it for every response status of 400 or above.
type StepResult struct {
	StepOrder              int      `json:"step_order"`
	StepType               StepType `json:"step_type"`
	Stdout                 string   `json:"stdout"`
	Stderr                 string   `json:"stderr"`
	ExitCode               int      `json:"exit_code"`
	DurationMS             int64    `json:"duration_ms"`
	StatusCode             int      `json:"status_code,omitempty"`
	SuccessCriteriaMatched bool     `json:"success_criteria_matched"`
}

// Failed reports the single failure condition: stderr is non-empty.
func (r *StepResult) Failed() bool {
	return r.Stderr != ""
}

// ExecutionResult summarizes one full walk of an ActionGraph, including any
// repair that happened along the way.
type ExecutionResult struct {
	Success         bool         `json:"success"`
	Findings        []Finding    `json:"findings"`
	StepsExecuted   int          `json:"steps_executed"`
	Repaired        bool         `json:"repaired"`
	Results         []StepResult `json:"results"`
	FailureType     FailureType  `json:"failure_type,omitempty"`
	FailedStepOrder int          `json:"failed_step_order,omitempty"`
	ActionGraphID   string       `json:"action_graph_id"`
}

// OrchestratorResult is the top-level outcome of a run.
type OrchestratorResult struct {
	Path            RunPath `json:"path"`
	Success         bool    `json:"success"`
	FindingsCount   int     `json:"findings_count"`
	TokensUsed      int     `json:"tokens_used"`
	FingerprintHash string  `json:"fingerprint_hash"`
	ActionGraphID   string  `json:"action_graph_id"`
	StepsExecuted   int     `json:"steps_executed"`
	Repaired        bool    `json:"repaired"`
	DurationMS      int64   `json:"duration_ms"`
	Error           string  `json:"error,omitempty"`
}
