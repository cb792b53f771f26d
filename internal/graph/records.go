package graph

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// stepParams renders a step into Cypher parameters. Parameters become a
// JSON string property; Neo4j cannot store nested maps on a node.
func stepParams(step models.Step) (map[string]any, error) {
	params := step.Parameters
	if params == nil {
		params = map[string]any{}
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding parameters of step %d: %w", step.Order, err)
	}
	return map[string]any{
		"order":            step.Order,
		"phase":            string(step.Phase),
		"type":             string(step.Type),
		"command":          step.Command,
		"parameters":       string(encoded),
		"output_file":      step.OutputFile,
		"success_criteria": step.SuccessCriteria,
		"deterministic":    step.Deterministic,
	}, nil
}

// stepFromProps rebuilds a step from node properties.
func stepFromProps(props map[string]any) (models.Step, error) {
	order, _ := asInt(props["order"])
	step := models.Step{
		Order:           order,
		Phase:           models.CamroPhase(asString(props["phase"])),
		Type:            models.StepType(asString(props["type"])),
		Command:         asString(props["command"]),
		OutputFile:      asString(props["output_file"]),
		SuccessCriteria: asString(props["success_criteria"]),
		Deterministic:   asBool(props["deterministic"]),
		Parameters:      map[string]any{},
	}
	if raw := asString(props["parameters"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &step.Parameters); err != nil {
			return models.Step{}, fmt.Errorf("decoding parameters of step %d: %w", step.Order, err)
		}
	}
	return step, nil
}

// actionGraphFromProps rebuilds a graph (without steps) from node
// properties.
func actionGraphFromProps(props map[string]any) models.ActionGraph {
	executed, _ := asInt(props["times_executed"])
	succeeded, _ := asInt(props["times_succeeded"])
	confidence, _ := props["confidence"].(float64)
	return models.ActionGraph{
		ID:                asString(props["id"]),
		VulnerabilityType: models.VulnerabilityType(asString(props["vulnerability_type"])),
		Description:       asString(props["description"]),
		Confidence:        confidence,
		CreatedAt:         asTime(props["created_at"]),
		UpdatedAt:         asTime(props["updated_at"]),
		TimesExecuted:     executed,
		TimesSucceeded:    succeeded,
	}
}

// fingerprintFromProps rebuilds a fingerprint from node properties.
func fingerprintFromProps(props map[string]any) models.Fingerprint {
	return models.Fingerprint{
		Hash:            asString(props["hash"]),
		TechStack:       asString(props["tech_stack"]),
		AuthModel:       models.AuthModel(asString(props["auth_model"])),
		EndpointPattern: asString(props["endpoint_pattern"]),
		SecuritySignals: asStrings(props["security_signals"]),
		ObservationText: asString(props["observation_text"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// asInt accepts the integer shapes the driver returns.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// asTime parses the RFC3339 strings the repository writes; anything else
// yields the zero time.
func asTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
