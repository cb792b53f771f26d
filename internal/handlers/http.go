package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

const maxResponseBody = 4 << 20

// HTTPHandler executes http_request steps.
//
// Parameters: method (default GET), url or path (path resolves against the
// context target URL), headers, body (map serialized as JSON, string sent
// as-is), form (map sent urlencoded), extract_token_path (gjson path; match becomes the Authorization
// bearer token), skip_cookies, skip_auth, output_file.
type HTTPHandler struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewHTTPHandler builds the handler with the configured request timeout.
func NewHTTPHandler(timeout time.Duration, logger *zap.Logger) *HTTPHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPHandler{timeout: timeout, logger: logger}
}

func (h *HTTPHandler) Type() models.StepType { return models.StepHTTPRequest }

// Execute performs the request. Any response with status >= 400 sets a
// non-empty stderr so the executor's single failure trigger fires.
func (h *HTTPHandler) Execute(ctx context.Context, step models.Step, ectx *models.ExecutionContext) (*models.StepResult, error) {
	start := time.Now()
	result := &models.StepResult{StepOrder: step.Order, StepType: step.Type}

	req, err := h.buildRequest(ctx, step, ectx)
	if err != nil {
		result.Stderr = err.Error()
		result.ExitCode = 1
		result.DurationMS = time.Since(start).Milliseconds()
		return result, nil
	}

	// Collect Set-Cookie headers from every hop, including redirects the
	// client follows on its own.
	var redirectCookies []*http.Cookie
	client := &http.Client{
		Timeout: h.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.Response != nil {
				redirectCookies = append(redirectCookies, req.Response.Cookies()...)
			}
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			return nil
		},
	}

	resp, err := client.Do(req)
	result.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		// Keep transport error keywords intact; the classifier matches on
		// "timeout" and "connection reset".
		result.Stderr = fmt.Sprintf("request failed: %v", err)
		result.ExitCode = 1
		return result, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		result.Stderr = fmt.Sprintf("reading response body: %v", err)
		result.ExitCode = 1
		return result, nil
	}

	result.Stdout = string(body)
	result.StatusCode = resp.StatusCode

	for _, c := range append(redirectCookies, resp.Cookies()...) {
		ectx.Cookies[c.Name] = c.Value
	}

	if resp.StatusCode >= 400 {
		result.Stderr = fmt.Sprintf("HTTP %d %s: %s", resp.StatusCode, http.StatusText(resp.StatusCode), excerpt(result.Stdout, 200))
		result.ExitCode = 1
	}

	if path := stringParam(step.Parameters, "extract_token_path"); path != "" && result.Stderr == "" {
		if token := gjson.Get(result.Stdout, path); token.Exists() && token.String() != "" {
			ectx.SessionTokens["Authorization"] = "Bearer " + token.String()
			ectx.LoginSucceeded = true
			h.logger.Debug("extracted session token", zap.Int("step", step.Order), zap.String("path", path))
		} else {
			result.Stderr = fmt.Sprintf("token extraction failed: path %q not found in response", path)
			result.ExitCode = 1
		}
	}

	if step.OutputFile != "" && result.Stdout != "" {
		if writeErr := os.WriteFile(step.OutputFile, body, 0o644); writeErr != nil {
			h.logger.Warn("writing output file", zap.String("file", step.OutputFile), zap.Error(writeErr))
		}
	}

	result.SuccessCriteriaMatched = result.Stderr == ""
	return result, nil
}

func (h *HTTPHandler) buildRequest(ctx context.Context, step models.Step, ectx *models.ExecutionContext) (*http.Request, error) {
	method := strings.ToUpper(stringParam(step.Parameters, "method"))
	if method == "" {
		method = http.MethodGet
	}

	rawURL := stringParam(step.Parameters, "url")
	if rawURL == "" {
		path := stringParam(step.Parameters, "path")
		if path == "" {
			return nil, fmt.Errorf("http step %d has neither url nor path", step.Order)
		}
		rawURL = strings.TrimRight(ectx.TargetURL, "/") + "/" + strings.TrimLeft(path, "/")
	}

	var bodyReader io.Reader
	contentType := ""
	if form, ok := step.Parameters["form"].(map[string]any); ok {
		values := url.Values{}
		for k, v := range form {
			if s, ok := v.(string); ok {
				values.Set(k, s)
			}
		}
		bodyReader = strings.NewReader(values.Encode())
		contentType = "application/x-www-form-urlencoded"
	}
	switch body := step.Parameters["body"].(type) {
	case map[string]any:
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = strings.NewReader(string(encoded))
		contentType = "application/json"
	case string:
		if body != "" {
			bodyReader = strings.NewReader(body)
		}
	case nil:
	default:
		return nil, fmt.Errorf("http step %d body is %T, want map or string", step.Order, body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if !boolParam(step.Parameters, "skip_auth") {
		for name, value := range ectx.SessionTokens {
			req.Header.Set(name, value)
		}
	}

	if headers, ok := step.Parameters["headers"].(map[string]any); ok {
		for name, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(name, s)
			}
		}
	}

	if !boolParam(step.Parameters, "skip_cookies") {
		for name, value := range ectx.Cookies {
			req.AddCookie(&http.Cookie{Name: name, Value: value})
		}
	}
	return req, nil
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
