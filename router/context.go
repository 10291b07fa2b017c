package router

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type contextKey int

const clientIPKey contextKey = iota

// WithClientIP attaches a PROXY-protocol-derived client address to ctx. The
// connection acceptor calls this before handing a request to the router so
// §4.E step 1 can use the real client IP instead of the proxy's.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP extracts the effective client address for a request: a
// PROXY-derived address from the connection context, else the first
// X-Forwarded-For entry, else RemoteAddr's host (spec §4.E step 1).
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
