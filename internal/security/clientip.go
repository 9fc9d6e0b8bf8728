package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the caller's address: first usable X-Forwarded-For hop,
// then X-Real-IP, then the socket peer. Proxies sometimes insert the literal
// "unknown" as a hop, those entries are skipped.
func ClientIP(r *http.Request) string {
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		hop = strings.TrimSpace(hop)
		if hop != "" && !strings.EqualFold(hop, "unknown") {
			return hop
		}
	}

	realIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
	if realIP != "" && !strings.EqualFold(realIP, "unknown") {
		return realIP
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}
