// Package hooks implements the approval gate consulted before destructive
// MUTATE and REPLAY steps run against the target.
package hooks

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// ErrApprovalDenied means the policy vetoed a destructive step. The run
// fails without repair; recompiling cannot change the verdict.
var ErrApprovalDenied = errors.New("approval denied for destructive step")

// Policy selects how destructive steps are handled.
type Policy string

const (
	// PolicyApproveAll is the unattended default: destructive steps run.
	PolicyApproveAll Policy = "approve_all"
	// PolicyDenyDestructive vetoes every destructive step.
	PolicyDenyDestructive Policy = "deny_destructive"
)

var destructivePattern = regexp.MustCompile(`(?i)\b(delete|drop|truncate|uninstall|remove|kill|destroy|wipe|reset)\b`)

// Callback is an interactive decision hook; return true to approve.
type Callback func(step models.Step, reason string) bool

// ApprovalHook gates step execution. A nil hook approves everything.
type ApprovalHook struct {
	policy   Policy
	callback Callback
}

// New builds a hook for the given policy. The callback is only consulted
// when non-nil; it overrides the policy for destructive steps.
func New(policy Policy, callback Callback) *ApprovalHook {
	if policy == "" {
		policy = PolicyApproveAll
	}
	return &ApprovalHook{policy: policy, callback: callback}
}

// Check returns ErrApprovalDenied when the step is destructive and the
// policy (or callback) vetoes it. Non-destructive steps and steps outside
// the MUTATE/REPLAY phases never consult the policy.
func (h *ApprovalHook) Check(step models.Step) error {
	if h == nil {
		return nil
	}
	if step.Phase != models.PhaseMutate && step.Phase != models.PhaseReplay {
		return nil
	}
	reason, destructive := Destructive(step)
	if !destructive {
		return nil
	}

	if h.callback != nil {
		if h.callback(step, reason) {
			return nil
		}
		return fmt.Errorf("%w: step %d: %s", ErrApprovalDenied, step.Order, reason)
	}
	if h.policy == PolicyDenyDestructive {
		return fmt.Errorf("%w: step %d: %s", ErrApprovalDenied, step.Order, reason)
	}
	return nil
}

// Destructive inspects the rendered step for destructive intent: the HTTP
// DELETE method, or a destructive keyword in the command, URL, or body.
func Destructive(step models.Step) (string, bool) {
	if step.Type == models.StepHTTPRequest {
		if method, ok := step.Parameters["method"].(string); ok && strings.EqualFold(method, "DELETE") {
			return "HTTP DELETE request", true
		}
	}

	for _, text := range renderedTexts(step) {
		if m := destructivePattern.FindString(text); m != "" {
			return fmt.Sprintf("destructive keyword %q", strings.ToUpper(m)), true
		}
	}
	return "", false
}

func renderedTexts(step models.Step) []string {
	texts := []string{step.Command}
	for _, key := range []string{"command", "url", "path", "body"} {
		switch v := step.Parameters[key].(type) {
		case string:
			texts = append(texts, v)
		case map[string]any:
			for _, inner := range v {
				if s, ok := inner.(string); ok {
					texts = append(texts, s)
				}
			}
		}
	}
	return texts
}
