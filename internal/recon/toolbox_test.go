package recon

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BetterCallFirewall/llmitm/internal/capture"
)

func flow(method, path string, status int, reqHeaders, respHeaders capture.Headers, respBody string) capture.Flow {
	f := capture.Flow{
		Request: capture.Request{Method: method, Scheme: "http", Host: "localhost", Path: path, Headers: reqHeaders},
	}
	if status > 0 {
		f.Response = &capture.Response{StatusCode: status, Headers: respHeaders, Body: respBody}
	}
	return f
}

func jwtFor(claims string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(claims))
	return header + "." + payload + ".sig-part"
}

func TestResponseInspectSummaryTable(t *testing.T) {
	tb := NewToolbox([]capture.Flow{
		flow("GET", "/rest/products", 200,
			capture.Headers{{Name: "Authorization", Value: "Bearer x.y.z"}},
			capture.Headers{{Name: "Content-Type", Value: "application/json; charset=utf-8"}},
			`{"data":[]}`),
		flow("POST", "/rest/user/login", 401, nil, nil, ""),
	})

	out := tb.ResponseInspect("")
	assert.Contains(t, out, "0 | GET | /rest/products | 200 | yes | application/json")
	assert.Contains(t, out, "1 | POST | /rest/user/login | 401 | no | -")
}

func TestResponseInspectFilterShowsDetail(t *testing.T) {
	tb := NewToolbox([]capture.Flow{
		flow("GET", "/rest/basket/6", 200, nil,
			capture.Headers{{Name: "Content-Type", Value: "application/json"}},
			`{"id":6,"UserId":2,"items":[]}`),
		flow("GET", "/other", 200, nil, nil, ""),
	})

	out := tb.ResponseInspect("basket")
	assert.Contains(t, out, "GET /rest/basket/6")
	assert.Contains(t, out, "UserId=2", "numeric id fields are called out for IDOR triage")
	assert.NotContains(t, out, "/other")

	assert.Contains(t, tb.ResponseInspect("nothing-here"), "no matching flows")
}

func TestJWTDecodeReportsClaims(t *testing.T) {
	token := jwtFor(`{"sub":1,"email":"jim@juice-sh.op","role":"customer"}`)
	tb := NewToolbox([]capture.Flow{
		flow("GET", "/rest/user/whoami", 200,
			capture.Headers{{Name: "Authorization", Value: "Bearer " + token}}, nil, ""),
	})

	out := tb.JWTDecode()
	assert.Contains(t, out, "alg=HS256")
	assert.Contains(t, out, `"email":"jim@juice-sh.op"`)
	assert.Contains(t, out, "numeric sub claim", "numeric subject is an id-substitution candidate")
	assert.Contains(t, out, "role claim present")
}

func TestJWTDecodeFlagsAlgNone(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":2}`))
	token := header + "." + payload + "."
	tb := NewToolbox([]capture.Flow{
		flow("GET", "/api", 200, capture.Headers{{Name: "Authorization", Value: "Bearer " + token}}, nil, ""),
	})
	assert.Contains(t, tb.JWTDecode(), "alg is none")
}

func TestJWTDecodeNoTokens(t *testing.T) {
	tb := NewToolbox([]capture.Flow{flow("GET", "/", 200, nil, nil, "")})
	assert.Contains(t, tb.JWTDecode(), "no JWTs found")
}

func TestHeaderAudit(t *testing.T) {
	tb := NewToolbox([]capture.Flow{
		flow("GET", "/api/users", 200, nil, capture.Headers{
			{Name: "Access-Control-Allow-Origin", Value: "*"},
			{Name: "Server", Value: "nginx/1.25.3"},
		}, ""),
		flow("GET", "/app", 200, nil, capture.Headers{
			{Name: "Content-Security-Policy", Value: "default-src 'self'"},
			{Name: "X-Frame-Options", Value: "DENY"},
		}, ""),
	})

	out := tb.HeaderAudit()
	assert.Contains(t, out, "GET /api/users | MISSING | MISSING | MISSING | * | Server: nginx/1.25.3")
	assert.Contains(t, out, "GET /app | yes | MISSING | yes | - | -")
}

func TestResponseDiff(t *testing.T) {
	tb := NewToolbox([]capture.Flow{
		flow("GET", "/rest/basket/1", 200, nil,
			capture.Headers{{Name: "Content-Type", Value: "application/json"}},
			`{"id":1,"items":[],"coupon":"SECRET"}`),
		flow("GET", "/rest/basket/2", 403, nil,
			capture.Headers{{Name: "Content-Type", Value: "application/json"}, {Name: "WWW-Authenticate", Value: "Bearer"}},
			`{"error":"forbidden"}`),
	})

	out := tb.ResponseDiff(0, 1)
	assert.Contains(t, out, "comparing flow 0 (GET /rest/basket/1) against flow 1 (GET /rest/basket/2)")
	assert.Contains(t, out, "flow 0=200 flow 1=403")
	assert.Contains(t, out, "json keys only in flow 0: coupon, id, items")
	assert.Contains(t, out, "json keys only in flow 1: error")
	assert.Contains(t, out, "headers only in flow 1: WWW-Authenticate")
}

func TestResponseDiffIndexOutOfRange(t *testing.T) {
	tb := NewToolbox([]capture.Flow{flow("GET", "/a", 200, nil, nil, "")})
	assert.Contains(t, tb.ResponseDiff(0, 7), "no captured response for flow 7 (out of range)")
	assert.Contains(t, tb.ResponseDiff(-1, 9), "no captured response for flow -1 (out of range) or flow 9 (out of range)")
}

func TestBodySummaryHTMLForms(t *testing.T) {
	html := `<html><head><title>Login :: DVWA</title></head><body>
	<form action="login.php" method="post">
	<input type="text" name="username"><input type="password" name="password">
	<input type="hidden" name="user_token" value="abc123">
	</form></body></html>`

	out := bodySummary(html, "text/html")
	assert.Contains(t, out, "title: Login :: DVWA")
	assert.Contains(t, out, "form POST login.php")
	assert.Contains(t, out, "username, password")
	assert.Contains(t, out, "hidden=[user_token] (csrf candidates)")
}

func TestBodySummaryJSONArray(t *testing.T) {
	out := bodySummary(`[{"id":1,"email":"a@b.c"},{"id":2}]`, "application/json")
	require.Contains(t, out, "json array of 2 items")
	assert.Contains(t, out, "id=1")
}
