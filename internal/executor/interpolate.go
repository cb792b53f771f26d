package executor

import (
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{previous_outputs\[(-?\d+)\]\}\}`)

// interpolate deep-copies the parameter tree, replacing every
// {{previous_outputs[N]}} placeholder inside string values with the
// corresponding output. Negative N counts from the end. Unresolved
// references stay literal so a dangling placeholder is visible in the
// failing request rather than crashing the walk.
func interpolate(value any, outputs []string) any {
	switch v := value.(type) {
	case string:
		return placeholderPattern.ReplaceAllStringFunc(v, func(match string) string {
			idx, err := strconv.Atoi(placeholderPattern.FindStringSubmatch(match)[1])
			if err != nil {
				return match
			}
			if idx < 0 {
				idx = len(outputs) + idx
			}
			if idx < 0 || idx >= len(outputs) {
				return match
			}
			return strings.TrimSpace(outputs[idx])
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = interpolate(inner, outputs)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = interpolate(inner, outputs)
		}
		return out
	}
	return value
}

// interpolateParams resolves a step's parameter map against the outputs.
func interpolateParams(params map[string]any, outputs []string) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return interpolate(params, outputs).(map[string]any)
}
