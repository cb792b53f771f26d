package models

import (
	"sort"
	"time"
)

// StepType selects the handler that executes a step.
type StepType string

const (
	StepHTTPRequest  StepType = "http_request"
	StepShellCommand StepType = "shell_command"
	StepRegexMatch   StepType = "regex_match"
)

// Valid reports whether the value is one of the known step types.
func (s StepType) Valid() bool {
	switch s {
	case StepHTTPRequest, StepShellCommand, StepRegexMatch:
		return true
	}
	return false
}

// CamroPhase labels a step's role in the capture/analyze/mutate/replay/observe
// methodology. Only OBSERVE changes executor behavior: success criteria
// produce findings there and nowhere else.
type CamroPhase string

const (
	PhaseCapture CamroPhase = "CAPTURE"
	PhaseAnalyze CamroPhase = "ANALYZE"
	PhaseMutate  CamroPhase = "MUTATE"
	PhaseReplay  CamroPhase = "REPLAY"
	PhaseObserve CamroPhase = "OBSERVE"
)

// Valid reports whether the value is one of the five phases.
func (c CamroPhase) Valid() bool {
	switch c {
	case PhaseCapture, PhaseAnalyze, PhaseMutate, PhaseReplay, PhaseObserve:
		return true
	}
	return false
}

// ExploitKind names a deterministic exploit chain generator. It is the
// vocabulary the recon agent prescribes exploits in.
type ExploitKind string

const (
	ExploitIDORWalk       ExploitKind = "idor_walk"
	ExploitAuthStrip      ExploitKind = "auth_strip"
	ExploitTokenSwap      ExploitKind = "token_swap"
	ExploitNamespaceProbe ExploitKind = "namespace_probe"
	ExploitRoleTamper     ExploitKind = "role_tamper"
)

// Valid reports whether the value is one of the five exploit kinds.
func (e ExploitKind) Valid() bool {
	switch e {
	case ExploitIDORWalk, ExploitAuthStrip, ExploitTokenSwap, ExploitNamespaceProbe, ExploitRoleTamper:
		return true
	}
	return false
}

// VulnerabilityType is the class of weakness an ActionGraph tests for.
type VulnerabilityType string

const (
	VulnIDOR          VulnerabilityType = "IDOR"
	VulnAuthBypass    VulnerabilityType = "AUTH_BYPASS"
	VulnTokenReuse    VulnerabilityType = "TOKEN_REUSE"
	VulnNamespaceLeak VulnerabilityType = "NAMESPACE_LEAK"
	VulnRoleTamper    VulnerabilityType = "ROLE_TAMPER"
)

// VulnerabilityType maps the exploit kind onto the weakness class it probes.
func (e ExploitKind) VulnerabilityType() VulnerabilityType {
	switch e {
	case ExploitIDORWalk:
		return VulnIDOR
	case ExploitAuthStrip:
		return VulnAuthBypass
	case ExploitTokenSwap:
		return VulnTokenReuse
	case ExploitNamespaceProbe:
		return VulnNamespaceLeak
	case ExploitRoleTamper:
		return VulnRoleTamper
	}
	return ""
}

// Step is one executable CAMRO operation. Parameters are handler specific
// and JSON serializable; string values of the form {{previous_outputs[N]}}
// are interpolated by the executor before dispatch.
type Step struct {
	Order           int            `json:"order"`
	Phase           CamroPhase     `json:"phase"`
	Type            StepType       `json:"type"`
	Command         string         `json:"command"`
	Parameters      map[string]any `json:"parameters"`
	OutputFile      string         `json:"output_file,omitempty"`
	SuccessCriteria string         `json:"success_criteria,omitempty"`
	Deterministic   bool           `json:"deterministic"`
}

// ActionGraph is a compiled, persisted workflow: an ordered chain of steps
// testing one vulnerability class against one fingerprint. Execution
// counters track replay history across runs.
type ActionGraph struct {
	ID                string            `json:"id"`
	VulnerabilityType VulnerabilityType `json:"vulnerability_type"`
	Description       string            `json:"description"`
	Confidence        float64           `json:"confidence"`
	Steps             []Step            `json:"steps"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	TimesExecuted     int               `json:"times_executed"`
	TimesSucceeded    int               `json:"times_succeeded"`
}

// SortSteps orders Steps ascending by Order in place.
func (ag *ActionGraph) SortSteps() {
	sort.Slice(ag.Steps, func(i, j int) bool { return ag.Steps[i].Order < ag.Steps[j].Order })
}

// FirstStep returns the step with the minimum order, or nil for an empty
// graph. Entry is by minimum order, not by index or a hard-coded zero.
func (ag *ActionGraph) FirstStep() *Step {
	if len(ag.Steps) == 0 {
		return nil
	}
	first := &ag.Steps[0]
	for i := range ag.Steps {
		if ag.Steps[i].Order < first.Order {
			first = &ag.Steps[i]
		}
	}
	return first
}
