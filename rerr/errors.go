// Package rerr provides the engine's tagged error kinds (spec §7) and their
// mapping onto gRPC status codes and HTTP status codes. It generalizes the
// teacher's Connect-style Code/Error pair to the wire protocols this engine
// actually speaks.
package rerr

import (
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
)

// Kind is one of the engine's error categories (spec §7).
type Kind string

const (
	Config        Kind = "config"        // invalid pattern, missing cert in TLS-mandatory mode
	Network       Kind = "network"       // connect failed, pool exhausted, handshake failed
	Protocol      Kind = "protocol"      // malformed PROXY header, bad gRPC frame
	Request       Kind = "request"       // invalid URI/header, peer reset
	Timeout       Kind = "timeout"       // peek, connect, request
	Codec         Kind = "codec"         // encode/decode failure
	NotFound      Kind = "not_found"     // no route, no registered method
	Unimplemented Kind = "unimplemented" // wrong verb, unsupported compression
	Internal      Kind = "internal"      // pool entry vanished, flow-control release failed
)

// Error is the engine's error type: a Kind plus a human message plus the
// gRPC status code the dispatcher should write to trailers when this error
// crosses a gRPC call boundary.
type Error struct {
	Kind    Kind
	Message string
	Code    codes.Code
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// kindCodes maps each Kind to its default gRPC status code, following the
// taxonomy in spec §7: InvalidArgument=3, NotFound=5, Unimplemented=12,
// Internal=13, Cancelled=1.
var kindCodes = map[Kind]codes.Code{
	Config:        codes.InvalidArgument,
	Network:       codes.Unavailable,
	Protocol:      codes.InvalidArgument,
	Request:       codes.InvalidArgument,
	Timeout:       codes.DeadlineExceeded,
	Codec:         codes.Internal,
	NotFound:      codes.NotFound,
	Unimplemented: codes.Unimplemented,
	Internal:      codes.Internal,
}

// New creates an Error of the given kind with its default gRPC code.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Code: kindCodes[kind]}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// WithCode overrides the default gRPC code for this error (used for
// Cancelled=1, which several kinds can produce depending on context).
func (e *Error) WithCode(c codes.Code) *Error {
	e.Code = c
	return e
}

// httpStatus maps gRPC codes onto HTTP status codes for the HTTP path,
// mirroring the teacher's Code.HTTPStatusCode table.
var httpStatus = map[codes.Code]int{
	codes.Canceled:           http.StatusRequestTimeout,
	codes.Unknown:            http.StatusInternalServerError,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.FailedPrecondition: http.StatusPreconditionFailed,
	codes.Aborted:            http.StatusConflict,
	codes.OutOfRange:         http.StatusBadRequest,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DataLoss:           http.StatusInternalServerError,
	codes.Unauthenticated:    http.StatusUnauthorized,
}

// HTTPStatus returns the HTTP status code the Router should answer with for
// this error when it surfaces on an HTTP path rather than a gRPC trailer.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// IsDisconnect reports whether message describes a peer disconnect rather
// than a genuine defect — the classification transport tasks use to decide
// between an Info log and an Error log (spec §7 propagation policy).
func IsDisconnect(message string) bool {
	lower := strings.ToLower(message)
	for _, s := range disconnectSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

var disconnectSubstrings = []string{
	"inactive stream",
	"connection closed",
	"broken pipe",
	"reset",
	"client disconnected",
	"context canceled",
	"eof",
}
