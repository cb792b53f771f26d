// Package exploit holds the deterministic step generators: one per exploit
// kind, each translating an attack opportunity plus a target profile into a
// concrete CAMRO step chain. No language model is involved; the same plan
// and profile always produce the same steps.
package exploit

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/BetterCallFirewall/llmitm/internal/models"
	"github.com/BetterCallFirewall/llmitm/internal/target"
)

// ErrIncompatibleExploit means the exploit cannot work against the target's
// auth mechanism (token_swap needs bearer tokens). The translator skips to
// the next opportunity.
var ErrIncompatibleExploit = errors.New("exploit incompatible with target auth mechanism")

// Generator produces the step chain for one exploit kind.
type Generator interface {
	Kind() models.ExploitKind
	Compatible(auth models.AuthModel) bool
	Steps(profile target.Profile, opp models.AttackOpportunity) ([]models.Step, error)
}

// Registry dispatches by exploit kind.
type Registry struct {
	generators map[models.ExploitKind]Generator
}

// NewRegistry builds a registry from the given generators.
func NewRegistry(gens ...Generator) *Registry {
	r := &Registry{generators: make(map[models.ExploitKind]Generator, len(gens))}
	for _, g := range gens {
		r.generators[g.Kind()] = g
	}
	return r
}

// DefaultRegistry wires the five shipped generators.
func DefaultRegistry() *Registry {
	return NewRegistry(
		IDORWalk{},
		AuthStrip{},
		TokenSwap{},
		NamespaceProbe{},
		RoleTamper{},
	)
}

// Generate runs the generator for the opportunity's recommended exploit.
// Unknown kinds error; incompatible ones return ErrIncompatibleExploit.
func (r *Registry) Generate(profile target.Profile, opp models.AttackOpportunity) ([]models.Step, error) {
	gen, ok := r.generators[opp.RecommendedExploit]
	if !ok {
		return nil, fmt.Errorf("no generator for exploit kind %q", opp.RecommendedExploit)
	}
	if !gen.Compatible(profile.AuthModel) {
		return nil, fmt.Errorf("%w: %s against %s target", ErrIncompatibleExploit, gen.Kind(), profile.AuthModel)
	}
	steps, err := gen.Steps(profile, opp)
	if err != nil {
		return nil, err
	}
	for i := range steps {
		steps[i].Order = i + 1
		steps[i].Deterministic = true
	}
	return steps, nil
}

// chain accumulates steps during generation. outputRef returns the
// interpolation placeholder for the output of the step appended N calls
// ago, keeping index bookkeeping in one place.
type chain struct {
	steps []models.Step
}

func (c *chain) add(s models.Step) {
	c.steps = append(c.steps, s)
}

// lastOutputRef references the output of the most recently added step.
func (c *chain) lastOutputRef() string {
	return fmt.Sprintf("{{previous_outputs[%d]}}", len(c.steps)-1)
}

var trailingID = regexp.MustCompile(`/\d+$`)

// targetPath reduces the opportunity target to a path with the given id
// substituted: {id} placeholders are replaced; otherwise a trailing numeric
// segment is swapped; otherwise the id is appended.
func targetPath(rawTarget, id string) string {
	path := strings.TrimSpace(rawTarget)
	if i := strings.Index(path, "://"); i >= 0 {
		rest := path[i+3:]
		if j := strings.Index(rest, "/"); j >= 0 {
			path = rest[j:]
		} else {
			path = "/"
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	switch {
	case strings.Contains(path, "{id}"):
		return strings.ReplaceAll(path, "{id}", id)
	case trailingID.MatchString(path):
		return trailingID.ReplaceAllString(path, "/"+id)
	}
	return strings.TrimRight(path, "/") + "/" + id
}

// loginSteps builds the auth-mechanism-specific login prelude for user c.
// Bearer targets: one POST with token extraction. Cookie targets: a form
// POST, preceded by a CSRF fetch-and-extract pair when the profile needs
// one. The emitted credentials are the profile's literals.
func loginSteps(p target.Profile, c target.Credentials, who string) []models.Step {
	ch := &chain{}

	switch p.AuthModel {
	case models.AuthBearerToken:
		ch.add(models.Step{
			Phase:   models.PhaseCapture,
			Type:    models.StepHTTPRequest,
			Command: fmt.Sprintf("login as %s (%s)", who, c.Identifier),
			Parameters: map[string]any{
				"method":             "POST",
				"path":               p.LoginPath,
				"body":               p.LoginBody(c),
				"extract_token_path": p.TokenJSONPath,
			},
		})

	default:
		form := p.LoginBody(c)
		if p.CSRFPattern != "" {
			ch.add(models.Step{
				Phase:   models.PhaseCapture,
				Type:    models.StepHTTPRequest,
				Command: "fetch login page for CSRF token",
				Parameters: map[string]any{
					"method": "GET",
					"path":   p.CSRFPagePath,
				},
			})
			ch.add(models.Step{
				Phase:   models.PhaseAnalyze,
				Type:    models.StepRegexMatch,
				Command: "extract CSRF token from login page",
				Parameters: map[string]any{
					"pattern":       p.CSRFPattern,
					"capture_group": 1,
				},
			})
			form[p.CSRFField] = ch.lastOutputRef()
		}
		ch.add(models.Step{
			Phase:   models.PhaseCapture,
			Type:    models.StepHTTPRequest,
			Command: fmt.Sprintf("login as %s (%s) via form", who, c.Identifier),
			Parameters: map[string]any{
				"method": "POST",
				"path":   p.LoginPath,
				"form":   form,
			},
		})
	}
	return ch.steps
}

// rawTokenExtract returns the ANALYZE step that pulls the raw token string
// out of a bearer login response so later steps can interpolate it.
func rawTokenExtract(who string) models.Step {
	return models.Step{
		Phase:   models.PhaseAnalyze,
		Type:    models.StepRegexMatch,
		Command: fmt.Sprintf("extract %s's raw token from login response", who),
		Parameters: map[string]any{
			"pattern":       `"token"\s*:\s*"([^"]+)"`,
			"capture_group": 1,
		},
	}
}

// sensitiveEvidence is the OBSERVE criteria shared by the data-exposure
// exploits: any account-identifying field in the response marks leakage.
const sensitiveEvidence = `"(email|username|password|role|isAdmin|ssn|account)"\s*:`

func observeStep(command, pattern string) models.Step {
	return models.Step{
		Phase:           models.PhaseObserve,
		Type:            models.StepRegexMatch,
		Command:         command,
		SuccessCriteria: pattern,
		Parameters: map[string]any{
			"pattern": pattern,
		},
	}
}
