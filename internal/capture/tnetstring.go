// Package capture reads mitmproxy dump files and live probe traffic into a
// neutral Flow model that the fingerprinter and the recon toolbox share.
//
// mitmproxy serializes flows as tnetstrings, a length-prefixed container
// format (`LENGTH:PAYLOAD TYPE`). There is no Go decoder for it in the
// ecosystem, so this file carries a minimal one: just the seven value types
// the dump format uses.
package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// maxPayload guards against corrupt length prefixes allocating gigabytes.
const maxPayload = 64 << 20

func decodeValue(r *bufio.Reader) (any, error) {
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("payload truncated at %d bytes: %w", length, err)
	}
	typ, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("missing type byte: %w", err)
	}

	switch typ {
	case ',':
		return string(payload), nil
	case '#':
		n, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q: %w", payload, err)
		}
		return n, nil
	case '^':
		f, err := strconv.ParseFloat(string(payload), 64)
		if err != nil {
			return nil, fmt.Errorf("bad float %q: %w", payload, err)
		}
		return f, nil
	case '!':
		switch string(payload) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("bad bool %q", payload)
	case '~':
		if length != 0 {
			return nil, fmt.Errorf("null with %d payload bytes", length)
		}
		return nil, nil
	case ']':
		return decodeList(payload)
	case '}':
		return decodeDict(payload)
	default:
		return nil, fmt.Errorf("unknown tnetstring type %q", typ)
	}
}

func readLength(r *bufio.Reader) (int, error) {
	var digits []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(digits) == 0 {
				return 0, io.EOF // clean end of stream
			}
			return 0, fmt.Errorf("length prefix truncated: %w", err)
		}
		if b == ':' {
			break
		}
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("length prefix contains %q", b)
		}
		digits = append(digits, b)
		if len(digits) > 9 {
			return 0, fmt.Errorf("length prefix longer than 9 digits")
		}
	}
	if len(digits) == 0 {
		return 0, fmt.Errorf("empty length prefix")
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, fmt.Errorf("bad length prefix %q: %w", digits, err)
	}
	if n > maxPayload {
		return 0, fmt.Errorf("payload of %d bytes exceeds limit", n)
	}
	return n, nil
}

func decodeList(payload []byte) ([]any, error) {
	r := bufio.NewReader(bytes.NewReader(payload))
	items := []any{}
	for {
		v, err := decodeValue(r)
		if err == io.EOF {
			return items, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list item %d: %w", len(items), err)
		}
		items = append(items, v)
	}
}

func decodeDict(payload []byte) (map[string]any, error) {
	r := bufio.NewReader(bytes.NewReader(payload))
	dict := map[string]any{}
	for {
		k, err := decodeValue(r)
		if err == io.EOF {
			return dict, nil
		}
		if err != nil {
			return nil, fmt.Errorf("dict key: %w", err)
		}
		key, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("dict key is %T, want string", k)
		}
		v, err := decodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("dict value for %q: %w", key, err)
		}
		dict[key] = v
	}
}
