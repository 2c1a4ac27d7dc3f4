// Package transport provides the library's default connection.Endpoint: a
// client-side WebSocket framer over github.com/gobwas/ws, the same
// low-level framing library the rest of this codebase uses server-side.
package transport

import (
	"errors"
	"strings"
)

// ErrUnsupportedScheme is returned by NormalizeURL for http(s):// URLs,
// which this library never dials directly.
var ErrUnsupportedScheme = errors.New("transport: http(s) scheme is not supported, use ws(s)")

// NormalizeURL applies the URL rules: ws:// and wss:// pass through
// unchanged; http(s):// is rejected; a schemeless URL or one starting with
// "//" defaults to ws://; defaultPath is appended when the URL carries no
// path of its own.
func NormalizeURL(raw, defaultPath string) (string, error) {
	switch {
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		// pass through
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return "", ErrUnsupportedScheme
	case strings.HasPrefix(raw, "//"):
		raw = "ws:" + raw
	default:
		raw = "ws://" + raw
	}

	schemeEnd := strings.Index(raw, "://") + 3
	rest := raw[schemeEnd:]
	if !strings.Contains(rest, "/") {
		if defaultPath != "" && !strings.HasPrefix(defaultPath, "/") {
			defaultPath = "/" + defaultPath
		}
		raw += defaultPath
	}
	return raw, nil
}
