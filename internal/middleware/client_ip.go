package middleware

import (
	"net"
	"net/http"
	"strings"

	"chrona-backend/internal/model"
)

// ClientIP is the host part of the connection's remote address. Forwarding
// headers are honored only when the router runs chi's RealIP in front,
// which rewrites RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}

	if strings.TrimSpace(r.RemoteAddr) == "" {
		return "unknown"
	}

	return r.RemoteAddr
}

func RequestMeta(r *http.Request) model.RequestMeta {
	ua := r.UserAgent()
	if len(ua) > 512 {
		ua = ua[:512]
	}
	return model.RequestMeta{IP: ClientIP(r), UserAgent: ua}
}
