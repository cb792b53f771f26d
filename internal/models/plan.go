package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReconTool names one of the capture-analysis tools available to the recon
// agent.
type ReconTool string

const (
	ToolResponseInspect ReconTool = "response_inspect"
	ToolJWTDecode       ReconTool = "jwt_decode"
	ToolHeaderAudit     ReconTool = "header_audit"
	ToolResponseDiff    ReconTool = "response_diff"
)

// Valid reports whether the value is one of the four recon tools.
func (t ReconTool) Valid() bool {
	switch t {
	case ToolResponseInspect, ToolJWTDecode, ToolHeaderAudit, ToolResponseDiff:
		return true
	}
	return false
}

// ReconObservation cites which tool produced what raw observation.
type ReconObservation struct {
	ReconTool   ReconTool `json:"recon_tool" jsonschema:"description=Tool that produced this observation,enum=response_inspect,enum=jwt_decode,enum=header_audit,enum=response_diff"`
	Observation string    `json:"observation" jsonschema:"description=What the tool output showed"`
}

// AttackOpportunity is one exploitable gap the recon agent claims to have
// observed, with the evidence trail that led to it.
type AttackOpportunity struct {
	Opportunity        string      `json:"opportunity" jsonschema:"description=One-line name for the exploitable gap"`
	ReconToolUsed      ReconTool   `json:"recon_tool_used" jsonschema:"description=Tool that produced the observation,enum=response_inspect,enum=jwt_decode,enum=header_audit,enum=response_diff"`
	Observation        string      `json:"observation" jsonschema:"description=What the tool output actually showed"`
	SuspectedGap       string      `json:"suspected_gap" jsonschema:"description=The security control believed to be missing or broken"`
	RecommendedExploit ExploitKind `json:"recommended_exploit" jsonschema:"description=Deterministic exploit chain to compile,enum=idor_walk,enum=auth_strip,enum=token_swap,enum=namespace_probe,enum=role_tamper"`
	ExploitTarget      string      `json:"exploit_target" jsonschema:"description=URL path the exploit should aim at"`
	ExploitReasoning   string      `json:"exploit_reasoning" jsonschema:"description=Why this exploit fits the observed gap"`
}

// Validate checks the enum fields; the compiler retries the recon call once
// with the reported problems before giving up.
func (o AttackOpportunity) Validate() error {
	var problems []string
	if !o.ReconToolUsed.Valid() {
		problems = append(problems, fmt.Sprintf("recon_tool_used %q is not a known tool", o.ReconToolUsed))
	}
	if !o.RecommendedExploit.Valid() {
		problems = append(problems, fmt.Sprintf("recommended_exploit %q is not a known exploit", o.RecommendedExploit))
	}
	if strings.TrimSpace(o.ExploitTarget) == "" {
		problems = append(problems, "exploit_target is empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid attack opportunity: %s", strings.Join(problems, "; "))
	}
	return nil
}

// NormalizedTarget returns exploit_target reduced to a URL path: scheme and
// host stripped, a literal {id} placeholder replaced with 1.
func (o AttackOpportunity) NormalizedTarget() string {
	target := strings.TrimSpace(o.ExploitTarget)
	if i := strings.Index(target, "://"); i >= 0 {
		rest := target[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			target = rest[j:]
		} else {
			target = "/"
		}
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return strings.ReplaceAll(target, "{id}", "1")
}

// AttackPlan is the structured artifact both agents exchange: the recon
// agent proposes it, the critic returns a refined plan of the same shape.
// It is never persisted; translation discards it.
type AttackPlan struct {
	ReconObservations   []ReconObservation  `json:"recon_observations" jsonschema:"description=Raw tool observations gathered during reconnaissance"`
	AttackOpportunities []AttackOpportunity `json:"attack_opportunities" jsonschema:"description=Exploitable gaps ordered by confidence,minItems=1"`
	Confidence          float64             `json:"confidence" jsonschema:"description=Overall plan confidence from 0 to 1,minimum=0,maximum=1"`
}

// Validate checks that at least one opportunity exists and that every
// opportunity's enums parse.
func (p AttackPlan) Validate() error {
	if len(p.AttackOpportunities) == 0 {
		return fmt.Errorf("attack plan has no opportunities")
	}
	for i, op := range p.AttackOpportunities {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("opportunity %d: %w", i, err)
		}
	}
	return nil
}

// Equal reports whether two plans are identical, the critic loop's
// convergence test.
func (p AttackPlan) Equal(other AttackPlan) bool {
	a, errA := json.Marshal(p)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return false
	}
	return string(a) == string(b)
}

// RepairDiagnosis carries everything the recon agent needs to see about a
// systemic failure when recompiling.
type RepairDiagnosis struct {
	FailedStepOrder   int            `json:"failed_step_order"`
	FailedStepCommand string         `json:"failed_step_command"`
	FailedStepType    StepType       `json:"failed_step_type"`
	FailedParameters  map[string]any `json:"failed_parameters,omitempty"`
	ErrorLog          string         `json:"error_log"`
	FailureType       FailureType    `json:"failure_type"`
	ExecutionHistory  string         `json:"execution_history"`
	RepairHistory     []RepairRecord `json:"repair_history,omitempty"`
	OldActionGraphID  string         `json:"old_action_graph_id"`
}
