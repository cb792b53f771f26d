package recon

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// InspectInput selects which flows response_inspect details.
type InspectInput struct {
	EndpointFilter string `json:"endpoint_filter,omitempty" jsonschema:"description=Substring of the request path; empty returns the summary table of all flows"`
}

// EmptyInput is the schema for tools that take no arguments.
type EmptyInput struct{}

// DiffInput picks the two flows response_diff compares.
type DiffInput struct {
	FlowIndexA int `json:"flow_index_a" jsonschema:"description=Index of the first flow, from the response_inspect summary table"`
	FlowIndexB int `json:"flow_index_b" jsonschema:"description=Index of the second flow"`
}

// ToolOutput wraps every tool's human-readable report.
type ToolOutput struct {
	Report string `json:"report"`
}

// DefineTools registers the four recon tools against the genkit instance,
// closed over this toolbox's flows, and returns the refs the recon agent
// call passes via ai.WithTools.
func (t *Toolbox) DefineTools(g *genkit.Genkit) []ai.ToolRef {
	inspect := genkit.DefineTool(g, "response_inspect",
		"Summarizes captured HTTP flows. Without a filter: one summary row per flow (index, method, path, status, auth, content type). With an endpoint_filter substring: full headers and body shape of the matching flows.",
		func(_ *ai.ToolContext, in InspectInput) (ToolOutput, error) {
			return ToolOutput{Report: t.ResponseInspect(in.EndpointFilter)}, nil
		})

	jwt := genkit.DefineTool(g, "jwt_decode",
		"Finds every JWT in captured Authorization headers and cookies, decodes header and claims without verification, and flags alg:none, numeric subject ids, and role claims.",
		func(_ *ai.ToolContext, _ EmptyInput) (ToolOutput, error) {
			return ToolOutput{Report: t.JWTDecode()}, nil
		})

	audit := genkit.DefineTool(g, "header_audit",
		"Per-endpoint security header audit: CSP, HSTS, X-Frame-Options presence, CORS origin, and Server/X-Powered-By version leaks.",
		func(_ *ai.ToolContext, _ EmptyInput) (ToolOutput, error) {
			return ToolOutput{Report: t.HeaderAudit()}, nil
		})

	diff := genkit.DefineTool(g, "response_diff",
		"Structural diff of the responses of two captured flows by index: status codes, header names present in only one, and top-level JSON keys present in only one.",
		func(_ *ai.ToolContext, in DiffInput) (ToolOutput, error) {
			return ToolOutput{Report: t.ResponseDiff(in.FlowIndexA, in.FlowIndexB)}, nil
		})

	return []ai.ToolRef{inspect, jwt, audit, diff}
}
