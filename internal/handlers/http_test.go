package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

func newHTTPContext(targetURL string) *models.ExecutionContext {
	return models.NewExecutionContext(targetURL, nil)
}

func httpStep(params map[string]any) models.Step {
	return models.Step{Order: 1, Phase: models.PhaseCapture, Type: models.StepHTTPRequest,
		Command: "http step", Parameters: params}
}

func TestHTTPHandlerGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/items", r.URL.Path)
		w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	h := NewHTTPHandler(5*time.Second, zap.NewNop())
	res, err := h.Execute(context.Background(), httpStep(map[string]any{"path": "/api/items"}), newHTTPContext(srv.URL))
	require.NoError(t, err)
	assert.Empty(t, res.Stderr)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, `{"items":[]}`, res.Stdout)
}

func TestHTTPHandlerStatus400SetsStderr(t *testing.T) {
	for _, status := range []int{400, 401, 404, 500, 503} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte("nope"))
		}))
		h := NewHTTPHandler(5*time.Second, zap.NewNop())
		res, err := h.Execute(context.Background(), httpStep(map[string]any{"path": "/x"}), newHTTPContext(srv.URL))
		srv.Close()

		require.NoError(t, err)
		assert.NotEmpty(t, res.Stderr, "status %d must produce a non-empty stderr", status)
		assert.Equal(t, status, res.StatusCode)
		assert.Equal(t, "nope", res.Stdout, "body is still captured on error statuses")
	}
}

func TestHTTPHandlerPostJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "jim@juice-sh.op", body["email"])
		w.Write([]byte(`{"authentication":{"token":"tok123"}}`))
	}))
	defer srv.Close()

	h := NewHTTPHandler(5*time.Second, zap.NewNop())
	ectx := newHTTPContext(srv.URL)
	step := httpStep(map[string]any{
		"method":             "POST",
		"path":               "/rest/user/login",
		"body":               map[string]any{"email": "jim@juice-sh.op", "password": "pw"},
		"extract_token_path": "authentication.token",
	})
	res, err := h.Execute(context.Background(), step, ectx)
	require.NoError(t, err)
	assert.Empty(t, res.Stderr)
	assert.Equal(t, "Bearer tok123", ectx.SessionTokens["Authorization"],
		"extracted token becomes the Authorization header value")
	assert.True(t, ectx.LoginSucceeded)
}

func TestHTTPHandlerTokenExtractionMissIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"wrong password"}`))
	}))
	defer srv.Close()

	h := NewHTTPHandler(5*time.Second, zap.NewNop())
	ectx := newHTTPContext(srv.URL)
	step := httpStep(map[string]any{"method": "POST", "path": "/login", "extract_token_path": "authentication.token"})
	res, err := h.Execute(context.Background(), step, ectx)
	require.NoError(t, err)
	assert.Contains(t, res.Stderr, "token extraction failed")
	assert.False(t, ectx.LoginSucceeded)
}

func TestHTTPHandlerSendsSessionTokenAndCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		c, err := r.Cookie("connect.sid")
		require.NoError(t, err)
		assert.Equal(t, "s1", c.Value)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := NewHTTPHandler(5*time.Second, zap.NewNop())
	ectx := newHTTPContext(srv.URL)
	ectx.SessionTokens["Authorization"] = "Bearer abc"
	ectx.Cookies["connect.sid"] = "s1"

	res, err := h.Execute(context.Background(), httpStep(map[string]any{"path": "/me"}), ectx)
	require.NoError(t, err)
	assert.Empty(t, res.Stderr)
}

func TestHTTPHandlerSkipFlagsStripAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "skip_auth suppresses session tokens")
		assert.Empty(t, r.Cookies(), "skip_cookies suppresses stored cookies")
		w.Write([]byte("anonymous ok"))
	}))
	defer srv.Close()

	h := NewHTTPHandler(5*time.Second, zap.NewNop())
	ectx := newHTTPContext(srv.URL)
	ectx.SessionTokens["Authorization"] = "Bearer abc"
	ectx.Cookies["session"] = "s1"

	step := httpStep(map[string]any{"path": "/admin", "skip_cookies": true, "skip_auth": true})
	res, err := h.Execute(context.Background(), step, ectx)
	require.NoError(t, err)
	assert.Empty(t, res.Stderr)
}

func TestHTTPHandlerCapturesSetCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "deadbeef"})
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := NewHTTPHandler(5*time.Second, zap.NewNop())
	ectx := newHTTPContext(srv.URL)
	_, err := h.Execute(context.Background(), httpStep(map[string]any{"path": "/login.php"}), ectx)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", ectx.Cookies["PHPSESSID"])
}

func TestHTTPHandlerCapturesCookiesAcrossRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "fromredirect"})
		http.Redirect(w, r, "/home", http.StatusFound)
	})
	mux.HandleFunc("/home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("home"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	h := NewHTTPHandler(5*time.Second, zap.NewNop())
	ectx := newHTTPContext(srv.URL)
	res, err := h.Execute(context.Background(), httpStep(map[string]any{"path": "/login"}), ectx)
	require.NoError(t, err)
	assert.Empty(t, res.Stderr)
	assert.Equal(t, "home", res.Stdout, "redirects are followed")
	assert.Equal(t, "fromredirect", ectx.Cookies["session"],
		"Set-Cookie on the redirect hop is harvested")
}

func TestHTTPHandlerFormBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "user1", r.PostForm.Get("userName"))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := NewHTTPHandler(5*time.Second, zap.NewNop())
	step := httpStep(map[string]any{
		"method": "POST",
		"path":   "/login",
		"form":   map[string]any{"userName": "user1", "password": "User1_123"},
	})
	res, err := h.Execute(context.Background(), step, newHTTPContext(srv.URL))
	require.NoError(t, err)
	assert.Empty(t, res.Stderr)
}

func TestHTTPHandlerTransportErrorKeepsKeywords(t *testing.T) {
	h := NewHTTPHandler(200*time.Millisecond, zap.NewNop())
	res, err := h.Execute(context.Background(),
		httpStep(map[string]any{"url": "http://127.0.0.1:1/unreachable"}), newHTTPContext("http://127.0.0.1:1"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Stderr)
	assert.Equal(t, 1, res.ExitCode)
}
