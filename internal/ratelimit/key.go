package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// KeyFunc extracts a rate limit key from a request.
type KeyFunc func(r *http.Request) string

// globalKey is shared by all callers when limiting globally.
const globalKey = "global"

// GlobalKeyFunc puts every request in one bucket.
func GlobalKeyFunc(*http.Request) string {
	return globalKey
}

// IPKeyFunc keys requests by client IP.
func IPKeyFunc(r *http.Request) string {
	return "ip:" + GetClientIP(r)
}

// HeaderKeyFunc keys requests by a header value, falling back to the client IP.
func HeaderKeyFunc(header string) KeyFunc {
	return func(r *http.Request) string {
		if value := r.Header.Get(header); value != "" {
			return "hdr:" + value
		}
		return IPKeyFunc(r)
	}
}

// ParseKeyFunc builds a KeyFunc from its configuration form: "global",
// "client_ip", or "header:<Name>".
func ParseKeyFunc(expr string) (KeyFunc, error) {
	switch {
	case expr == "" || expr == "global":
		return GlobalKeyFunc, nil
	case expr == "client_ip":
		return IPKeyFunc, nil
	case strings.HasPrefix(expr, "header:"):
		header := strings.TrimSpace(strings.TrimPrefix(expr, "header:"))
		if header == "" {
			return nil, fmt.Errorf("rate limit key %q: header name is empty", expr)
		}
		return HeaderKeyFunc(header), nil
	default:
		return nil, fmt.Errorf("unknown rate limit key %q", expr)
	}
}

// GetClientIP extracts the client IP, preferring proxy headers.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}
