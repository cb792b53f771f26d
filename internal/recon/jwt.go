package recon

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// jwtShape matches the three dot-separated base64url sections of a JWT.
var jwtShape = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*$`)

// JWTDecode finds every JWT in Authorization headers and cookie values and
// reports its header and claims without verifying the signature. The agent
// cares about what the token asserts, not whether it is genuine.
func (t *Toolbox) JWTDecode() string {
	seen := map[string]bool{}
	var reports []string
	for i, f := range t.flows {
		for _, auth := range f.Request.Headers.Values("Authorization") {
			if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
				if report := describeJWT(token, fmt.Sprintf("flow %d Authorization header", i)); report != "" && !seen[token] {
					seen[token] = true
					reports = append(reports, report)
				}
			}
		}
		for _, cookieHeader := range f.Request.Headers.Values("Cookie") {
			for _, pair := range strings.Split(cookieHeader, ";") {
				name, value, found := strings.Cut(strings.TrimSpace(pair), "=")
				if !found {
					continue
				}
				if report := describeJWT(value, fmt.Sprintf("flow %d cookie %s", i, name)); report != "" && !seen[value] {
					seen[value] = true
					reports = append(reports, report)
				}
			}
		}
	}
	if len(reports) == 0 {
		return "no JWTs found in captured traffic"
	}
	return strings.Join(reports, "\n")
}

func describeJWT(token, source string) string {
	if !jwtShape.MatchString(token) {
		return ""
	}
	parts := strings.SplitN(token, ".", 3)

	header := decodeSegment(parts[0])
	claims := decodeSegment(parts[1])
	if header == "" || claims == "" {
		return ""
	}

	var notes []string
	alg := gjson.Get(header, "alg").String()
	if strings.EqualFold(alg, "none") {
		notes = append(notes, "ALERT: alg is none, signature is not enforced")
	}
	for _, claim := range []string{"sub", "id", "userId", "user_id"} {
		if v := gjson.Get(claims, claim); v.Exists() && v.Type == gjson.Number {
			notes = append(notes, fmt.Sprintf("numeric %s claim (%s): candidate for id substitution", claim, v.Raw))
		}
	}
	for _, claim := range []string{"role", "isAdmin", "admin", "scope"} {
		if v := gjson.Get(claims, claim); v.Exists() {
			notes = append(notes, fmt.Sprintf("%s claim present: %s", claim, v.Raw))
		}
	}

	report := fmt.Sprintf("%s: alg=%s claims=%s", source, alg, claims)
	if len(notes) > 0 {
		report += "\n  " + strings.Join(notes, "\n  ")
	}
	return report
}

func decodeSegment(seg string) string {
	decoded, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		if padded, padErr := base64.URLEncoding.DecodeString(seg); padErr == nil {
			return string(padded)
		}
		return ""
	}
	return string(decoded)
}
