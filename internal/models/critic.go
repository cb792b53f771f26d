package models

// acceptScore is the critic score at which a plan passes without an
// explicit approval flag.
const acceptScore = 0.8

// CriticFeedback is the critic agent's structured review of an AttackPlan.
type CriticFeedback struct {
	Approved    bool       `json:"approved" jsonschema:"description=Whether the plan is ready to compile as-is"`
	Score       float64    `json:"score" jsonschema:"description=Plan quality from 0 to 1,minimum=0,maximum=1"`
	Issues      []string   `json:"issues" jsonschema:"description=Concrete problems found in the plan"`
	Suggestions []string   `json:"suggestions" jsonschema:"description=How the next revision should address each issue"`
	RevisedPlan AttackPlan `json:"revised_plan" jsonschema:"description=The refined plan; replaces the reviewed plan entirely"`
}

// Accepted reports whether the critic loop can stop with this feedback.
func (c CriticFeedback) Accepted() bool {
	return c.Approved || c.Score >= acceptScore
}
