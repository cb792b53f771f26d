package capture

import (
	"fmt"
	"strings"
)

// Header is one request or response header. Order and duplicates are
// preserved exactly as captured.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Headers is an ordered multi-map with case-insensitive lookup.
type Headers []Header

// Get returns the first value for name, or "".
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Values returns every value for name in capture order.
func (h Headers) Values(name string) []string {
	var out []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			out = append(out, hdr.Value)
		}
	}
	return out
}

// Has reports whether name appears at all.
func (h Headers) Has(name string) bool {
	return h.Get(name) != "" || len(h.Values(name)) > 0
}

// Request is the client half of a captured HTTP exchange. Path keeps the
// query string, matching what went over the wire.
type Request struct {
	Method      string  `json:"method"`
	Scheme      string  `json:"scheme"`
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	Path        string  `json:"path"`
	HTTPVersion string  `json:"http_version"`
	Headers     Headers `json:"headers"`
	Body        string  `json:"body"`
}

// URL reassembles the absolute request URL, omitting default ports.
func (r Request) URL() string {
	scheme := r.Scheme
	if scheme == "" {
		scheme = "http"
	}
	hostport := r.Host
	if r.Port != 0 && !isDefaultPort(scheme, r.Port) {
		hostport = fmt.Sprintf("%s:%d", r.Host, r.Port)
	}
	path := r.Path
	if path == "" {
		path = "/"
	}
	return scheme + "://" + hostport + path
}

// FirstPathSegment returns the first path segment without query string,
// or "" for the root path.
func (r Request) FirstPathSegment() string {
	path := r.Path
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return ""
	}
	if i := strings.Index(path, "/"); i >= 0 {
		return path[:i]
	}
	return path
}

func isDefaultPort(scheme string, port int) bool {
	return (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
}

// Response is the server half of an exchange.
type Response struct {
	StatusCode int     `json:"status_code"`
	Reason     string  `json:"reason"`
	Headers    Headers `json:"headers"`
	Body       string  `json:"body"`
}

// Flow is one captured HTTP exchange. Response is nil when the capture ended
// before the server answered.
type Flow struct {
	ID       string    `json:"id"`
	Request  Request   `json:"request"`
	Response *Response `json:"response,omitempty"`
}

// Endpoint is the method plus path (without query), the key recon tools
// group flows by.
func (f Flow) Endpoint() string {
	path := f.Request.Path
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return f.Request.Method + " " + path
}
