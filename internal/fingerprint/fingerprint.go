// Package fingerprint derives a stable target identity from captured HTTP
// traffic. Every rule is deterministic: the same evidence always yields the
// same hash, which is the primary key for warm-start lookups.
package fingerprint

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BetterCallFirewall/llmitm/internal/capture"
	"github.com/BetterCallFirewall/llmitm/internal/models"
)

var sessionCookieNames = []string{"connect.sid", "phpsessid", "jsessionid", "session", "sid"}

var versionDigit = regexp.MustCompile(`\d`)

// Generate extracts a Fingerprint from decoded flows. The flows must come
// from one target; mixing hosts blurs the identity but does not error.
func Generate(flows []capture.Flow) (models.Fingerprint, error) {
	if len(flows) == 0 {
		return models.Fingerprint{}, capture.ErrEmptyCapture
	}

	fp := models.Fingerprint{
		TechStack:       techStack(flows),
		AuthModel:       authModel(flows),
		EndpointPattern: endpointPattern(flows),
		SecuritySignals: securitySignals(flows),
	}
	fp.ObservationText = fp.Summary()
	fp.ComputeHash()
	return fp, nil
}

// FromFile reads a mitmproxy dump and fingerprints it.
func FromFile(path string) (models.Fingerprint, error) {
	flows, err := capture.ReadFile(path)
	if err != nil {
		return models.Fingerprint{}, err
	}
	return Generate(flows)
}

// FromProbe sends the live quick-fingerprint probe and fingerprints the
// responses.
func FromProbe(ctx context.Context, baseURL string, timeout time.Duration) (models.Fingerprint, []capture.Flow, error) {
	flows, err := capture.Probe(ctx, baseURL, timeout)
	if err != nil {
		return models.Fingerprint{}, nil, err
	}
	fp, err := Generate(flows)
	return fp, flows, err
}

// techStack prefers X-Powered-By; a Server header with a different value is
// appended. First non-empty occurrence wins for each header.
func techStack(flows []capture.Flow) string {
	var poweredBy, server string
	for _, f := range flows {
		if f.Response == nil {
			continue
		}
		if poweredBy == "" {
			poweredBy = f.Response.Headers.Get("X-Powered-By")
		}
		if server == "" {
			server = f.Response.Headers.Get("Server")
		}
		if poweredBy != "" && server != "" {
			break
		}
	}
	switch {
	case poweredBy != "" && server != "" && !strings.EqualFold(poweredBy, server):
		return poweredBy + "; " + server
	case poweredBy != "":
		return poweredBy
	case server != "":
		return server
	}
	return "Unknown"
}

// authModel inspects requests in capture order; the first evidence decides.
func authModel(flows []capture.Flow) models.AuthModel {
	sawSessionCookie := false
	for _, f := range flows {
		auth := f.Request.Headers.Get("Authorization")
		switch {
		case strings.HasPrefix(auth, "Bearer "):
			return models.AuthBearerToken
		case strings.HasPrefix(auth, "Basic "):
			return models.AuthBasic
		}
		if !sawSessionCookie {
			if hasSessionCookie(f.Request.Headers.Values("Cookie")) {
				sawSessionCookie = true
			} else if f.Response != nil && hasSessionCookie(f.Response.Headers.Values("Set-Cookie")) {
				sawSessionCookie = true
			}
		}
	}
	if sawSessionCookie {
		return models.AuthSessionCookie
	}
	return models.AuthNone
}

func hasSessionCookie(values []string) bool {
	for _, v := range values {
		lower := strings.ToLower(v)
		for _, name := range sessionCookieNames {
			if strings.Contains(lower, name) {
				return true
			}
		}
	}
	return false
}

// endpointPattern is the modal first path segment formatted as /segment/*.
// Ties break lexicographically; root-only traffic yields "/", no traffic
// with a segment yields "/*".
func endpointPattern(flows []capture.Flow) string {
	counts := map[string]int{}
	for _, f := range flows {
		counts[f.Request.FirstPathSegment()]++
	}

	segments := make([]string, 0, len(counts))
	for seg := range counts {
		segments = append(segments, seg)
	}
	sort.Strings(segments)

	best, bestCount := "", -1
	for _, seg := range segments {
		if counts[seg] > bestCount {
			best, bestCount = seg, counts[seg]
		}
	}
	if best == "" {
		if bestCount > 0 {
			return "/"
		}
		return "/*"
	}
	return "/" + best + "/*"
}

func securitySignals(flows []capture.Flow) []string {
	seen := map[string]bool{}
	for _, f := range flows {
		if f.Response == nil {
			continue
		}
		h := f.Response.Headers
		if h.Get("Access-Control-Allow-Origin") == "*" {
			seen[models.SignalCORSWildcard] = true
		}
		if h.Has("Content-Security-Policy") {
			seen[models.SignalCSPPresent] = true
		}
		if h.Has("Strict-Transport-Security") {
			seen[models.SignalHSTSPresent] = true
		}
		if h.Has("X-Frame-Options") {
			seen[models.SignalXFramePresent] = true
		}
		if server := h.Get("Server"); server != "" && versionDigit.MatchString(server) {
			seen[models.SignalServerVersionLeaked] = true
		}
	}

	signals := make([]string, 0, len(seen))
	for s := range seen {
		signals = append(signals, s)
	}
	sort.Strings(signals)
	return signals
}
