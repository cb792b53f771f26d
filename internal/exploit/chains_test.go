package exploit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/llmitm/internal/models"
	"github.com/BetterCallFirewall/llmitm/internal/target"
)

func juiceProfile() target.Profile {
	return target.Lookup("juice_shop", "", nil)
}

func dvwaProfile() target.Profile {
	return target.Lookup("dvwa", "", nil)
}

func opportunity(kind models.ExploitKind, targetPath string) models.AttackOpportunity {
	return models.AttackOpportunity{
		Opportunity:        "test opportunity",
		ReconToolUsed:      models.ToolResponseInspect,
		Observation:        "observed",
		SuspectedGap:       "missing owner check",
		RecommendedExploit: kind,
		ExploitTarget:      targetPath,
		ExploitReasoning:   "sequential ids",
	}
}

func TestIDORWalkBearerHasSevenSteps(t *testing.T) {
	steps, err := DefaultRegistry().Generate(juiceProfile(), opportunity(models.ExploitIDORWalk, "/api/Users/{id}"))
	require.NoError(t, err)
	require.Len(t, steps, 7)

	phases := make([]models.CamroPhase, len(steps))
	for i, s := range steps {
		phases[i] = s.Phase
		assert.Equal(t, i+1, s.Order, "orders start at 1 and are contiguous")
		assert.True(t, s.Deterministic)
		assert.NotEmpty(t, s.Command)
	}
	assert.Equal(t, []models.CamroPhase{
		models.PhaseCapture, models.PhaseAnalyze, models.PhaseCapture,
		models.PhaseAnalyze, models.PhaseMutate, models.PhaseReplay, models.PhaseObserve,
	}, phases)

	login := steps[0]
	body := login.Parameters["body"].(map[string]any)
	assert.Equal(t, "jim@juice-sh.op", body["email"], "literal credentials, no placeholders")
	assert.Equal(t, "ncc-1701", body["password"])
	assert.Equal(t, "authentication.token", login.Parameters["extract_token_path"])

	assert.Equal(t, "/api/Users/1", steps[2].Parameters["path"], "own resource uses the account id hint")
	assert.Equal(t, "expr {{previous_outputs[3]}} + 1", steps[4].Parameters["command"])
	assert.Equal(t, "/api/Users/{{previous_outputs[4]}}", steps[5].Parameters["path"],
		"victim path interpolates the derived id")

	observe := steps[6]
	assert.NotEmpty(t, observe.SuccessCriteria, "the OBSERVE step carries the finding criteria")
}

func TestIDORWalkCookieWithCSRFHasNineSteps(t *testing.T) {
	steps, err := DefaultRegistry().Generate(dvwaProfile(), opportunity(models.ExploitIDORWalk, "/vulnerabilities/idor/{id}"))
	require.NoError(t, err)
	require.Len(t, steps, 9, "CSRF targets prepend a fetch-and-extract pair")

	assert.Equal(t, models.StepRegexMatch, steps[1].Type)
	assert.Equal(t, 1, steps[1].Parameters["capture_group"], "CSRF extraction needs group 1")

	form := steps[2].Parameters["form"].(map[string]any)
	assert.Equal(t, "{{previous_outputs[1]}}", form["user_token"],
		"the login form interpolates the extracted CSRF token")
	assert.Equal(t, "Login", form["Login"])
}

func TestAuthStripSkipsAllCredentials(t *testing.T) {
	steps, err := DefaultRegistry().Generate(juiceProfile(), opportunity(models.ExploitAuthStrip, "/rest/basket/1"))
	require.NoError(t, err)
	require.Len(t, steps, 3)

	strip := steps[1]
	assert.Equal(t, models.PhaseReplay, strip.Phase)
	assert.Equal(t, true, strip.Parameters["skip_cookies"])
	assert.Equal(t, true, strip.Parameters["skip_auth"])
	assert.Equal(t, models.PhaseObserve, steps[2].Phase)
}

func TestTokenSwapBearerChain(t *testing.T) {
	steps, err := DefaultRegistry().Generate(juiceProfile(), opportunity(models.ExploitTokenSwap, "/api/Users/{id}"))
	require.NoError(t, err)
	require.Len(t, steps, 6)

	bodyB := steps[2].Parameters["body"].(map[string]any)
	assert.Equal(t, "bender@juice-sh.op", bodyB["email"], "second login is user B")

	replay := steps[4]
	headers := replay.Parameters["headers"].(map[string]any)
	assert.Equal(t, "Bearer {{previous_outputs[3]}}", headers["Authorization"],
		"the replay presents B's extracted token explicitly")
	assert.Equal(t, "/api/Users/1", replay.Parameters["path"], "against A's resource")
}

func TestTokenSwapIncompatibleWithCookies(t *testing.T) {
	_, err := DefaultRegistry().Generate(dvwaProfile(), opportunity(models.ExploitTokenSwap, "/x"))
	assert.ErrorIs(t, err, ErrIncompatibleExploit)
}

func TestNamespaceProbePrefersProfileAdminPath(t *testing.T) {
	steps, err := DefaultRegistry().Generate(juiceProfile(), opportunity(models.ExploitNamespaceProbe, "/rest/products"))
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, "/rest/admin/application-configuration", steps[2].Parameters["path"],
		"a non-admin target defers to the profile's admin path hints")
}

func TestNamespaceProbeKeepsAdminTarget(t *testing.T) {
	steps, err := DefaultRegistry().Generate(juiceProfile(), opportunity(models.ExploitNamespaceProbe, "/admin/metrics"))
	require.NoError(t, err)
	assert.Equal(t, "/admin/metrics", steps[2].Parameters["path"])
}

func TestRoleTamperChain(t *testing.T) {
	steps, err := DefaultRegistry().Generate(juiceProfile(), opportunity(models.ExploitRoleTamper, "/api/Users/{id}"))
	require.NoError(t, err)
	require.Len(t, steps, 5)

	assert.Contains(t, steps[2].Parameters["command"], `"role":"admin"`)
	replay := steps[3]
	assert.Equal(t, "PUT", replay.Parameters["method"])
	assert.Equal(t, "{{previous_outputs[2]}}", replay.Parameters["body"])
	assert.Contains(t, steps[4].SuccessCriteria, "role")
}

func TestRoleTamperBooleanRoleField(t *testing.T) {
	p := target.Lookup("nodegoat", "", nil)
	steps, err := DefaultRegistry().Generate(p, opportunity(models.ExploitRoleTamper, "/profile"))
	require.NoError(t, err)
	assert.Contains(t, steps[2].Parameters["command"], `"isAdmin":true`)
}

func TestGenerateUnknownKind(t *testing.T) {
	opp := opportunity(models.ExploitIDORWalk, "/x")
	opp.RecommendedExploit = "sql_injection"
	_, err := DefaultRegistry().Generate(juiceProfile(), opp)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrIncompatibleExploit)
}

func TestTargetPath(t *testing.T) {
	cases := []struct{ raw, id, want string }{
		{"/api/Users/{id}", "2", "/api/Users/2"},
		{"http://localhost:3000/rest/basket/6", "9", "/rest/basket/9"},
		{"/rest/user/whoami", "3", "/rest/user/whoami/3"},
		{"api/Users/{id}", "1", "/api/Users/1"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, targetPath(tc.raw, tc.id), fmt.Sprintf("targetPath(%q, %q)", tc.raw, tc.id))
	}
}

func TestNoCredentialPlaceholdersLeak(t *testing.T) {
	for _, kind := range []models.ExploitKind{
		models.ExploitIDORWalk, models.ExploitAuthStrip, models.ExploitTokenSwap,
		models.ExploitNamespaceProbe, models.ExploitRoleTamper,
	} {
		steps, err := DefaultRegistry().Generate(juiceProfile(), opportunity(kind, "/api/Users/{id}"))
		require.NoError(t, err)
		for _, s := range steps {
			for k, v := range s.Parameters {
				if str, ok := v.(string); ok {
					assert.NotContains(t, str, "{{EMAIL}}", "step %d param %s", s.Order, k)
					assert.NotContains(t, str, "{{PASSWORD}}", "step %d param %s", s.Order, k)
				}
			}
		}
	}
}
