package relay

import (
	"log/slog"
	"net/http"
	"strings"
)

// originChecker validates the Origin header of upgrade requests. WebSocket
// upgrades bypass CORS, so origins are checked here explicitly.
type originChecker struct {
	allowed []string
}

func (o originChecker) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Same-origin or non-browser client.
		return true
	}
	return o.isAllowed(origin)
}

// isAllowed supports exact matches, "*" and wildcard subdomain patterns
// like "https://*.example.com".
func (o originChecker) isAllowed(origin string) bool {
	for _, allowed := range o.allowed {
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.Contains(allowed, "*") && matchWildcardOrigin(origin, allowed) {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func matchWildcardOrigin(origin, pattern string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	if len(origin) < len(prefix)+len(suffix) {
		return false
	}
	// The subdomain part must not contain "/".
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return middle != "" && !strings.Contains(middle, "/")
}
