package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// AuthModel is the authentication scheme observed in captured traffic.
type AuthModel string

const (
	AuthBearerToken   AuthModel = "bearer_token"
	AuthBasic         AuthModel = "basic_auth"
	AuthSessionCookie AuthModel = "session_cookie"
	AuthNone          AuthModel = "none"
)

// Valid reports whether the value is one of the known auth models.
func (a AuthModel) Valid() bool {
	switch a {
	case AuthBearerToken, AuthBasic, AuthSessionCookie, AuthNone:
		return true
	}
	return false
}

// Security signals detectable from response headers.
const (
	SignalCORSWildcard        = "cors_wildcard"
	SignalCSPPresent          = "csp_present"
	SignalHSTSPresent         = "hsts_present"
	SignalXFramePresent       = "xframe_present"
	SignalServerVersionLeaked = "server_version_leaked"
)

// Fingerprint is the stable identity of a target derived from captured
// traffic. Hash is the primary key in the graph store: two captures that
// yield the same four identity fields always produce the same hash.
type Fingerprint struct {
	TechStack            string    `json:"tech_stack" jsonschema:"description=Server technology evidence from X-Powered-By and Server headers"`
	AuthModel            AuthModel `json:"auth_model" jsonschema:"description=Observed authentication scheme,enum=bearer_token,enum=basic_auth,enum=session_cookie,enum=none"`
	EndpointPattern      string    `json:"endpoint_pattern" jsonschema:"description=Dominant first path segment as /segment/*"`
	SecuritySignals      []string  `json:"security_signals" jsonschema:"description=Sorted set of detected security header signals"`
	Hash                 string    `json:"hash" jsonschema:"description=SHA-256 over the canonical field encoding"`
	ObservationText      string    `json:"observation_text,omitempty"`
	ObservationEmbedding []float32 `json:"observation_embedding,omitempty"`
}

// CanonicalString is the exact preimage of Hash. Signals are sorted so the
// encoding does not depend on detection order.
func (f Fingerprint) CanonicalString() string {
	signals := append([]string(nil), f.SecuritySignals...)
	sort.Strings(signals)
	return f.TechStack + "|" + string(f.AuthModel) + "|" + f.EndpointPattern + "|" + strings.Join(signals, ",")
}

// ComputeHash fills Hash from the current identity fields and returns it.
func (f *Fingerprint) ComputeHash() string {
	sum := sha256.Sum256([]byte(f.CanonicalString()))
	f.Hash = hex.EncodeToString(sum[:])
	return f.Hash
}

// Summary renders the fingerprint for prompts and log lines.
func (f Fingerprint) Summary() string {
	signals := "none"
	if len(f.SecuritySignals) > 0 {
		signals = strings.Join(f.SecuritySignals, ", ")
	}
	return fmt.Sprintf("tech_stack=%s auth_model=%s endpoint_pattern=%s signals=%s", f.TechStack, f.AuthModel, f.EndpointPattern, signals)
}
