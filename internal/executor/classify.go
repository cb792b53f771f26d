package executor

import (
	"strings"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

var transientKeywords = []string{
	"timeout", "connection reset", "connection refused", "temporarily unavailable", "eof",
}

var sessionDeathKeywords = []string{
	"session expired", "please log in", "please login",
}

// Classify maps a failed step result onto the repair policy. 404 is
// deliberately SYSTEMIC, not unrecoverable: the endpoint shape may have
// shifted and recompiling can fix the graph.
func Classify(result *models.StepResult, ectx *models.ExecutionContext) models.FailureType {
	haystack := strings.ToLower(result.Stderr + " " + result.Stdout)

	for _, kw := range sessionDeathKeywords {
		if strings.Contains(haystack, kw) {
			return models.FailureTransientUnrecoverable
		}
	}

	switch result.StatusCode {
	case 503, 408, 429:
		return models.FailureTransientRecoverable
	case 401:
		if ectx.LoginSucceeded {
			// The login worked earlier this run, so the session went
			// stale mid-walk. A recompile cannot refresh it.
			return models.FailureTransientUnrecoverable
		}
		return models.FailureSystemic
	case 400, 403, 404, 500:
		return models.FailureSystemic
	}

	for _, kw := range transientKeywords {
		if strings.Contains(haystack, kw) {
			return models.FailureTransientRecoverable
		}
	}

	// Shell non-zero exits, regex misses on non-OBSERVE steps, and
	// anything unclassified: the compiled graph no longer matches the
	// target.
	return models.FailureSystemic
}
