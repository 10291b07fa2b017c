// Package grpcsvc implements the gRPC service registry and server dispatcher
// (spec §4.G, §4.H): four independent call-pattern handler tables and the
// HTTP/2 request/response framing loop that drives them.
package grpcsvc

import (
	"context"

	"github.com/ratengine/rengine/frame"
)

// CallPattern is one of the four distinct gRPC call shapes. Each is kept as
// its own handler signature rather than unified behind a single streaming
// abstraction, the way the teacher keeps Unary/ServerStream/ClientStream/Bidi
// as separate RPC kinds instead of collapsing them.
type CallPattern int

const (
	Unary CallPattern = iota
	ServerStream
	ClientStream
	Bidi
)

func (p CallPattern) String() string {
	switch p {
	case Unary:
		return "unary"
	case ServerStream:
		return "server_stream"
	case ClientStream:
		return "client_stream"
	case Bidi:
		return "bidi"
	default:
		return "unknown"
	}
}

// UnaryHandler handles one request and returns one response.
type UnaryHandler func(ctx context.Context, req *frame.Request) (*frame.Response, error)

// ServerStreamHandler handles one request and sends zero or more stream
// messages via send; send is not safe to call after the handler returns.
type ServerStreamHandler func(ctx context.Context, req *frame.Request, send func(*frame.StreamMessage) error) error

// Receiver yields the next inbound stream message, returning io.EOF when the
// peer has ended the stream (spec §4.H: a client-initiated close surfaces as
// end-of-iterator, not as a message).
type Receiver func() (*frame.StreamMessage, error)

// ClientStreamHandler drains recv until it is exhausted and returns a single
// response.
type ClientStreamHandler func(ctx context.Context, recv Receiver) (*frame.Response, error)

// BidiHandler interleaves recv and send at its own pace; it returns once both
// directions are done.
type BidiHandler func(ctx context.Context, recv Receiver, send func(*frame.StreamMessage) error) error

// MethodDescriptor identifies one registered method for diagnostics.
type MethodDescriptor struct {
	Service string
	Method  string
	Pattern CallPattern
}

// Path returns the gRPC method path ("/service/method") used as the HTTP/2
// request path and as the registry's lookup key.
func (d MethodDescriptor) Path() string {
	return "/" + d.Service + "/" + d.Method
}
