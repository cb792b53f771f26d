package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// probePaths are the endpoints the live quick-fingerprint hits: the root
// plus the two API roots common across the supported targets.
var probePaths = []string{"/", "/api/", "/rest/"}

const probeBodyLimit = 256 << 10

// Probe issues the quick-fingerprint GETs against a live target and returns
// them as flows, preserving probe order. Individual probe failures are
// evidence gaps, not errors; only all three failing is an empty capture.
func Probe(ctx context.Context, baseURL string, timeout time.Duration) ([]Flow, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: bad target url %q", ErrInvalidCapture, baseURL)
	}
	base := strings.TrimRight(baseURL, "/")

	client := &http.Client{Timeout: timeout}
	results := make([]*Flow, len(probePaths))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range probePaths {
		g.Go(func() error {
			flow, probeErr := probeOne(gctx, client, parsed, base, path)
			if probeErr == nil {
				results[i] = flow
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flows []Flow
	for _, f := range results {
		if f != nil {
			flows = append(flows, *f)
		}
	}
	if len(flows) == 0 {
		return nil, fmt.Errorf("%w: no probe against %s answered", ErrEmptyCapture, baseURL)
	}
	return flows, nil
}

func probeOne(ctx context.Context, client *http.Client, target *url.URL, base, path string) (*Flow, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, probeBodyLimit))
	if err != nil {
		return nil, err
	}

	port := 0
	if p := target.Port(); p != "" {
		port, _ = strconv.Atoi(p)
	}

	flow := &Flow{
		Request: Request{
			Method:      http.MethodGet,
			Scheme:      target.Scheme,
			Host:        target.Hostname(),
			Port:        port,
			Path:        path,
			HTTPVersion: "HTTP/1.1",
		},
		Response: &Response{
			StatusCode: resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
			Headers:    headersFromHTTP(resp.Header),
			Body:       string(body),
		},
	}
	return flow, nil
}

func headersFromHTTP(h http.Header) Headers {
	var out Headers
	for name, values := range h {
		for _, v := range values {
			out = append(out, Header{Name: name, Value: v})
		}
	}
	return out
}
