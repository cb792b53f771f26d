// Package recon implements the four read-only capture-analysis tools the
// recon agent calls during compilation: response_inspect, jwt_decode,
// header_audit, response_diff. Every tool is a pure function over the
// loaded flows and returns human-readable text; missing data is reported
// in the text, never as an error.
package recon

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BetterCallFirewall/llmitm/internal/capture"
)

// Toolbox holds the flows one compile works over.
type Toolbox struct {
	flows []capture.Flow
}

// NewToolbox wraps the decoded flows.
func NewToolbox(flows []capture.Flow) *Toolbox {
	return &Toolbox{flows: flows}
}

// ResponseInspect summarizes every flow, or details the flows whose path
// contains the filter.
func (t *Toolbox) ResponseInspect(endpointFilter string) string {
	if len(t.flows) == 0 {
		return "no flows captured"
	}
	if endpointFilter == "" {
		return t.summaryTable()
	}

	var b strings.Builder
	matched := 0
	for i, f := range t.flows {
		if !strings.Contains(f.Request.Path, endpointFilter) {
			continue
		}
		matched++
		fmt.Fprintf(&b, "flow %d: %s %s\n", i, f.Request.Method, f.Request.Path)
		fmt.Fprintf(&b, "  request headers: %s\n", headerLine(f.Request.Headers))
		if f.Request.Body != "" {
			fmt.Fprintf(&b, "  request body: %s\n", bodySummary(f.Request.Body, f.Request.Headers.Get("Content-Type")))
		}
		if f.Response == nil {
			b.WriteString("  response: none captured\n")
			continue
		}
		fmt.Fprintf(&b, "  response: %d %s\n", f.Response.StatusCode, f.Response.Reason)
		fmt.Fprintf(&b, "  response headers: %s\n", headerLine(f.Response.Headers))
		fmt.Fprintf(&b, "  response body: %s\n", bodySummary(f.Response.Body, f.Response.Headers.Get("Content-Type")))
	}
	if matched == 0 {
		return fmt.Sprintf("no matching flows for filter %q", endpointFilter)
	}
	return b.String()
}

func (t *Toolbox) summaryTable() string {
	var b strings.Builder
	b.WriteString("idx | method | path | status | auth | content-type\n")
	for i, f := range t.flows {
		status, contentType := "-", "-"
		if f.Response != nil {
			status = fmt.Sprintf("%d", f.Response.StatusCode)
			if ct := f.Response.Headers.Get("Content-Type"); ct != "" {
				contentType = strings.SplitN(ct, ";", 2)[0]
			}
		}
		auth := "no"
		if f.Request.Headers.Has("Authorization") || f.Request.Headers.Has("Cookie") {
			auth = "yes"
		}
		fmt.Fprintf(&b, "%d | %s | %s | %s | %s | %s\n", i, f.Request.Method, f.Request.Path, status, auth, contentType)
	}
	return b.String()
}

// HeaderAudit reports the security header posture per endpoint.
func (t *Toolbox) HeaderAudit() string {
	if len(t.flows) == 0 {
		return "no flows captured"
	}

	type audit struct {
		csp, hsts, xframe bool
		cors              string
		server            string
		poweredBy         string
	}
	audits := map[string]*audit{}
	var order []string
	for _, f := range t.flows {
		if f.Response == nil {
			continue
		}
		key := f.Endpoint()
		a, ok := audits[key]
		if !ok {
			a = &audit{}
			audits[key] = a
			order = append(order, key)
		}
		h := f.Response.Headers
		a.csp = a.csp || h.Has("Content-Security-Policy")
		a.hsts = a.hsts || h.Has("Strict-Transport-Security")
		a.xframe = a.xframe || h.Has("X-Frame-Options")
		if v := h.Get("Access-Control-Allow-Origin"); v != "" {
			a.cors = v
		}
		if v := h.Get("Server"); v != "" {
			a.server = v
		}
		if v := h.Get("X-Powered-By"); v != "" {
			a.poweredBy = v
		}
	}
	if len(order) == 0 {
		return "no responses captured"
	}

	var b strings.Builder
	b.WriteString("endpoint | csp | hsts | x-frame | cors | leaks\n")
	for _, key := range order {
		a := audits[key]
		cors := a.cors
		if cors == "" {
			cors = "-"
		}
		var leaks []string
		if a.server != "" {
			leaks = append(leaks, "Server: "+a.server)
		}
		if a.poweredBy != "" {
			leaks = append(leaks, "X-Powered-By: "+a.poweredBy)
		}
		leak := strings.Join(leaks, ", ")
		if leak == "" {
			leak = "-"
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %s\n",
			key, mark(a.csp), mark(a.hsts), mark(a.xframe), cors, leak)
	}
	return b.String()
}

// ResponseDiff compares the responses of two flows picked by the indexes
// from the response_inspect summary table: status, header names, and
// top-level JSON keys.
func (t *Toolbox) ResponseDiff(indexA, indexB int) string {
	a, labelA := t.responseAt(indexA)
	b, labelB := t.responseAt(indexB)
	if a == nil && b == nil {
		return fmt.Sprintf("no captured response for %s or %s", labelA, labelB)
	}
	if a == nil {
		return fmt.Sprintf("no captured response for %s", labelA)
	}
	if b == nil {
		return fmt.Sprintf("no captured response for %s", labelB)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "comparing %s against %s\n", labelA, labelB)
	labelA, labelB = fmt.Sprintf("flow %d", indexA), fmt.Sprintf("flow %d", indexB)
	fmt.Fprintf(&sb, "status: %s=%d %s=%d\n", labelA, a.StatusCode, labelB, b.StatusCode)

	onlyA, onlyB := diffSets(headerNames(a.Headers), headerNames(b.Headers))
	fmt.Fprintf(&sb, "headers only in %s: %s\n", labelA, orNone(onlyA))
	fmt.Fprintf(&sb, "headers only in %s: %s\n", labelB, orNone(onlyB))

	keysA, keysB := jsonKeys(a.Body), jsonKeys(b.Body)
	if keysA != nil || keysB != nil {
		onlyA, onlyB = diffSets(keysA, keysB)
		fmt.Fprintf(&sb, "json keys only in %s: %s\n", labelA, orNone(onlyA))
		fmt.Fprintf(&sb, "json keys only in %s: %s\n", labelB, orNone(onlyB))
	}
	return sb.String()
}

// responseAt labels the flow with its path so the report stays readable;
// out-of-range indexes keep the bare index label.
func (t *Toolbox) responseAt(i int) (*capture.Response, string) {
	if i < 0 || i >= len(t.flows) {
		return nil, fmt.Sprintf("flow %d (out of range)", i)
	}
	f := t.flows[i]
	return f.Response, fmt.Sprintf("flow %d (%s %s)", i, f.Request.Method, f.Request.Path)
}

func headerLine(h capture.Headers) string {
	names := headerNames(h)
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func headerNames(h capture.Headers) []string {
	seen := map[string]bool{}
	var names []string
	for _, hdr := range h {
		lower := strings.ToLower(hdr.Name)
		if !seen[lower] {
			seen[lower] = true
			names = append(names, hdr.Name)
		}
	}
	sort.Strings(names)
	return names
}

// jsonKeys returns the sorted top-level keys of a JSON object body, or nil
// when the body is not a JSON object.
func jsonKeys(body string) []string {
	parsed := gjson.Parse(body)
	if !parsed.IsObject() {
		return nil
	}
	var keys []string
	parsed.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	sort.Strings(keys)
	return keys
}

func diffSets(a, b []string) (onlyA, onlyB []string) {
	inA := map[string]bool{}
	for _, s := range a {
		inA[s] = true
	}
	inB := map[string]bool{}
	for _, s := range b {
		inB[s] = true
		if !inA[s] {
			onlyB = append(onlyB, s)
		}
	}
	for _, s := range a {
		if !inB[s] {
			onlyA = append(onlyA, s)
		}
	}
	return onlyA, onlyB
}

func orNone(items []string) string {
	if len(items) == 0 {
		return "none"
	}
	return strings.Join(items, ", ")
}

func mark(present bool) string {
	if present {
		return "yes"
	}
	return "MISSING"
}
