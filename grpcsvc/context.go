package grpcsvc

import (
	"context"
	"net/http"
	"strings"
)

type metadataKey struct{}
type remoteAddrKey struct{}

// withCallContext attaches request metadata (from HTTP/2 headers) and the
// peer's remote address to ctx, per spec §4.H step 2.
func withCallContext(ctx context.Context, r *http.Request) context.Context {
	md := headerToMetadata(r.Header)
	ctx = context.WithValue(ctx, metadataKey{}, md)
	ctx = context.WithValue(ctx, remoteAddrKey{}, r.RemoteAddr)
	return ctx
}

// Metadata returns the inbound call's header-derived metadata map.
func Metadata(ctx context.Context) map[string]string {
	md, _ := ctx.Value(metadataKey{}).(map[string]string)
	return md
}

// RemoteAddr returns the inbound call's remote address.
func RemoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}

// reservedHeaders are HTTP/2 pseudo-headers and standard transport headers
// that are not part of the application's call metadata.
var reservedHeaders = map[string]bool{
	"content-type": true, "te": true, "grpc-timeout": true,
	"grpc-encoding": true, "grpc-accept-encoding": true,
	"user-agent": true, "accept-encoding": true,
}

func headerToMetadata(h http.Header) map[string]string {
	md := make(map[string]string, len(h))
	for k, v := range h {
		lower := strings.ToLower(k)
		if reservedHeaders[lower] || len(v) == 0 {
			continue
		}
		md[lower] = v[0]
	}
	return md
}
