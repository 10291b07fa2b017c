package engine

import (
	"net/http"
	"strings"
)

// combinedHandler routes a request to the gRPC dispatcher when its
// Content-Type announces the gRPC framing (spec §4.F/§4.L), and to the
// HTTP router otherwise. A single listener can therefore serve plain HTTP
// and gRPC side by side once ALPN/ a TLS handshake has picked HTTP/2.
type combinedHandler struct {
	opts *Options
}

func newCombinedHandler(opts *Options) http.Handler {
	return &combinedHandler{opts: opts}
}

func (h *combinedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isGRPCRequest(r) {
		h.opts.Dispatcher.ServeHTTP(w, r)
		return
	}
	h.opts.Router.ServeHTTP(w, r)
}

func isGRPCRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc")
}
