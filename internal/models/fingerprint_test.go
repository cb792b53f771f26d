package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintCanonicalString(t *testing.T) {
	fp := Fingerprint{
		TechStack:       "Express",
		AuthModel:       AuthBearerToken,
		EndpointPattern: "/rest/*",
		SecuritySignals: []string{"server_version_leaked", "cors_wildcard"},
	}

	canonical := fp.CanonicalString()
	assert.Equal(t, "Express|bearer_token|/rest/*|cors_wildcard,server_version_leaked", canonical,
		"signals must be sorted inside the canonical encoding")
}

func TestFingerprintHashDeterministic(t *testing.T) {
	a := Fingerprint{
		TechStack:       "Express",
		AuthModel:       AuthBearerToken,
		EndpointPattern: "/rest/*",
		SecuritySignals: []string{"cors_wildcard", "csp_present"},
	}
	b := Fingerprint{
		TechStack:       "Express",
		AuthModel:       AuthBearerToken,
		EndpointPattern: "/rest/*",
		SecuritySignals: []string{"csp_present", "cors_wildcard"},
	}

	require.Equal(t, a.ComputeHash(), b.ComputeHash(),
		"signal order must not change the hash")
	assert.Len(t, a.Hash, 64, "hash should be a hex SHA-256 digest")
}

func TestFingerprintHashChangesWithFields(t *testing.T) {
	base := Fingerprint{TechStack: "Express", AuthModel: AuthNone, EndpointPattern: "/api/*"}
	baseHash := base.ComputeHash()

	changed := base
	changed.AuthModel = AuthSessionCookie
	assert.NotEqual(t, baseHash, changed.ComputeHash(),
		"auth model is part of the identity")
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, StepHTTPRequest.Valid())
	assert.True(t, PhaseObserve.Valid())
	assert.True(t, ExploitTokenSwap.Valid())
	assert.True(t, ToolJWTDecode.Valid())
	assert.True(t, SeverityHigh.Valid())

	assert.False(t, StepType("grpc_call").Valid())
	assert.False(t, CamroPhase("EXFILTRATE").Valid())
	assert.False(t, ExploitKind("sql_injection").Valid())
	assert.False(t, ReconTool("port_scan").Valid())
	assert.False(t, AuthModel("oauth_dance").Valid())
}

func TestActionGraphFirstStep(t *testing.T) {
	ag := ActionGraph{Steps: []Step{
		{Order: 3, Command: "third"},
		{Order: 1, Command: "first"},
		{Order: 2, Command: "second"},
	}}

	first := ag.FirstStep()
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Order, "first step is the minimum order, not index zero")

	ag.SortSteps()
	assert.Equal(t, "first", ag.Steps[0].Command)
	assert.Equal(t, "third", ag.Steps[2].Command)

	var empty ActionGraph
	assert.Nil(t, empty.FirstStep())
}

func TestAttackPlanValidate(t *testing.T) {
	plan := AttackPlan{AttackOpportunities: []AttackOpportunity{{
		Opportunity:        "numeric basket ids",
		ReconToolUsed:      ToolResponseInspect,
		Observation:        "GET /rest/basket/6 returns owner id",
		SuspectedGap:       "missing owner check",
		RecommendedExploit: ExploitIDORWalk,
		ExploitTarget:      "/rest/basket/{id}",
		ExploitReasoning:   "ids are sequential",
	}}}
	assert.NoError(t, plan.Validate())

	plan.AttackOpportunities[0].RecommendedExploit = "buffer_overflow"
	err := plan.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buffer_overflow")

	empty := AttackPlan{}
	assert.Error(t, empty.Validate(), "a plan with no opportunities is invalid")
}

func TestCriticFeedbackAccepted(t *testing.T) {
	assert.True(t, CriticFeedback{Approved: true, Score: 0.2}.Accepted())
	assert.True(t, CriticFeedback{Score: 0.8}.Accepted(), "score at the floor passes")
	assert.False(t, CriticFeedback{Score: 0.79}.Accepted())
}

func TestStepResultFailed(t *testing.T) {
	ok := StepResult{Stdout: "body", ExitCode: 0}
	assert.False(t, ok.Failed())

	failed := StepResult{Stdout: "partial body", Stderr: "HTTP 404 Not Found"}
	assert.True(t, failed.Failed(), "non-empty stderr is the only failure trigger")
}
