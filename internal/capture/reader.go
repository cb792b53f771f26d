package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrEmptyCapture means the source held no usable HTTP flows at all.
	ErrEmptyCapture = errors.New("capture contains no HTTP flows")
	// ErrInvalidCapture means the source could not be decoded as a
	// mitmproxy dump or a flow lacked required request fields.
	ErrInvalidCapture = errors.New("capture is not a valid mitmproxy dump")
)

// ReadFile decodes every HTTP flow from a mitmproxy dump file, in capture
// order. Non-HTTP flows (tcp, dns) are skipped silently.
func ReadFile(path string) ([]Flow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read decodes HTTP flows from a raw dump stream.
func Read(r io.Reader) ([]Flow, error) {
	br := bufio.NewReader(r)
	var flows []Flow
	for i := 0; ; i++ {
		v, err := decodeValue(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: flow %d: %v", ErrInvalidCapture, i, err)
		}
		dict, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: flow %d is %T, want dict", ErrInvalidCapture, i, v)
		}
		if asString(dict["type"]) != "http" {
			continue
		}
		flow, err := flowFromDict(dict)
		if err != nil {
			return nil, fmt.Errorf("%w: flow %d: %v", ErrInvalidCapture, i, err)
		}
		flows = append(flows, flow)
	}
	if len(flows) == 0 {
		return nil, ErrEmptyCapture
	}
	return flows, nil
}

func flowFromDict(dict map[string]any) (Flow, error) {
	reqDict, ok := dict["request"].(map[string]any)
	if !ok {
		return Flow{}, fmt.Errorf("missing request dict")
	}

	req := Request{
		Method:      asString(reqDict["method"]),
		Scheme:      asString(reqDict["scheme"]),
		Host:        asString(reqDict["host"]),
		Port:        asInt(reqDict["port"]),
		Path:        asString(reqDict["path"]),
		HTTPVersion: asString(reqDict["http_version"]),
		Headers:     headersFrom(reqDict["headers"]),
		Body:        asString(reqDict["content"]),
	}
	if req.Method == "" || req.Host == "" {
		return Flow{}, fmt.Errorf("request lacks method or host")
	}
	if req.Path == "" {
		req.Path = "/"
	}

	flow := Flow{ID: asString(dict["id"]), Request: req}

	if respDict, ok := dict["response"].(map[string]any); ok {
		flow.Response = &Response{
			StatusCode: asInt(respDict["status_code"]),
			Reason:     asString(respDict["reason"]),
			Headers:    headersFrom(respDict["headers"]),
			Body:       asString(respDict["content"]),
		}
	}
	return flow, nil
}

// headersFrom converts the dump's list-of-pairs representation. Pairs that
// are not two strings are dropped rather than failing the whole flow.
func headersFrom(v any) Headers {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	headers := make(Headers, 0, len(list))
	for _, item := range list {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		name, nameOK := pair[0].(string)
		value, valueOK := pair[1].(string)
		if !nameOK || !valueOK {
			continue
		}
		headers = append(headers, Header{Name: name, Value: value})
	}
	return headers
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
