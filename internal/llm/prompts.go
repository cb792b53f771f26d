package llm

import (
	"fmt"
	"strings"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

const (
	maxErrorLogInPrompt = 1500
	maxHistoryInPrompt  = 2000
)

// ReconSystemPrompt directs the tool-using recon agent. Skill guides are
// deliberately not bundled here; the tools carry all target evidence.
const ReconSystemPrompt = `You are the reconnaissance agent of an authorized penetration test against a deliberately vulnerable training application. You look exclusively for authorization-class weaknesses: IDOR, authentication bypass, token reuse, namespace leaks, role tampering.

Rules:
1. Call the recon tools to gather evidence before concluding anything. Cite in each observation which tool showed it.
2. Prescribe at least one attack opportunity. recommended_exploit must be exactly one of: idor_walk, auth_strip, token_swap, namespace_probe, role_tamper.
3. exploit_target must be a concrete URL path seen in (or directly implied by) the captured traffic. Use {id} for the variable resource id.
4. Order opportunities by how strongly the evidence supports them.
5. Do not invent endpoints, parameters, or technologies the tools did not show.`

// CriticSystemPrompt directs the one-shot plan review.
const CriticSystemPrompt = `You are the critic reviewing an attack plan produced by a reconnaissance agent during an authorized penetration test. Judge only whether the plan is executable and evidence-backed:
1. Does every opportunity cite a real observation from a recon tool?
2. Is the exploit_target a path that exists in the captured traffic?
3. Does the recommended_exploit match the target's auth mechanism (token_swap needs bearer tokens, auth_strip needs a protected endpoint)?
4. Are the opportunities ordered by evidence strength?
Return your verdict with a score from 0 to 1 and a revised_plan of the same shape. Your revised_plan replaces the input entirely, so restate the good parts.`

// BuildReconPrompt assembles the recon user prompt from the fingerprint,
// the target profile, and an optional repair diagnosis.
func BuildReconPrompt(fp models.Fingerprint, profileSummary string, flowCount int, repair *models.RepairDiagnosis) string {
	var b strings.Builder

	if repair != nil {
		b.WriteString(buildRepairPreamble(repair))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, `=== TARGET FINGERPRINT ===
%s

=== TARGET PROFILE ===
%s

=== CAPTURED TRAFFIC ===
%d HTTP flows are loaded. Analyze them with the recon tools (response_inspect, jwt_decode, header_audit, response_diff).

Produce an attack plan for this target.`, fp.Summary(), profileSummary, flowCount)

	return b.String()
}

// buildRepairPreamble compacts a systemic failure into the context the
// recon agent needs to plan around it.
func buildRepairPreamble(repair *models.RepairDiagnosis) string {
	var b strings.Builder
	b.WriteString("=== REPAIR CONTEXT: A PREVIOUS PLAN FAILED IN EXECUTION ===\n")
	fmt.Fprintf(&b, "Failed step %d (%s): %s\n", repair.FailedStepOrder, repair.FailedStepType, repair.FailedStepCommand)
	fmt.Fprintf(&b, "Failure type: %s\n", repair.FailureType)
	fmt.Fprintf(&b, "Error log: %s\n", truncate(repair.ErrorLog, maxErrorLogInPrompt))
	if repair.ExecutionHistory != "" {
		fmt.Fprintf(&b, "Execution up to the failure:\n%s\n", truncate(repair.ExecutionHistory, maxHistoryInPrompt))
	}
	if len(repair.RepairHistory) > 0 {
		b.WriteString("Earlier repair attempts on this target:\n")
		for _, r := range repair.RepairHistory {
			fmt.Fprintf(&b, "- failed %q, replaced with %q, repaired graph succeeded since: %t\n",
				r.FailedStep, r.RepairStep, r.Success)
		}
	}
	b.WriteString("Plan around this failure: the endpoint shape, method, or auth flow the failed step assumed is wrong. Verify the real shape with the recon tools before prescribing the same exploit again.\n")
	return b.String()
}

// BuildCriticPrompt assembles the critic user prompt.
func BuildCriticPrompt(plan models.AttackPlan, fp models.Fingerprint, profileSummary string, planJSON string) string {
	return fmt.Sprintf(`=== TARGET FINGERPRINT ===
%s

=== TARGET PROFILE ===
%s

=== ATTACK PLAN UNDER REVIEW (confidence %.2f, %d opportunities) ===
%s

Review this plan.`, fp.Summary(), profileSummary, plan.Confidence, len(plan.AttackOpportunities), planJSON)
}

// BuildRevisionNote folds critic feedback into the next recon prompt.
func BuildRevisionNote(feedback models.CriticFeedback) string {
	var b strings.Builder
	b.WriteString("=== CRITIC FEEDBACK ON YOUR PREVIOUS PLAN ===\n")
	fmt.Fprintf(&b, "Score: %.2f (not accepted)\n", feedback.Score)
	for _, issue := range feedback.Issues {
		b.WriteString("- issue: " + issue + "\n")
	}
	for _, s := range feedback.Suggestions {
		b.WriteString("- suggestion: " + s + "\n")
	}
	b.WriteString("Produce a revised plan that resolves every issue.\n")
	return b.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... [truncated]"
}
