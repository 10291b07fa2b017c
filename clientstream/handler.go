// Package clientstream implements the client bidi delegator (spec §4.J): the
// client-side analog of the gRPC server dispatcher's bidi call pattern.
package clientstream

import "context"

// ClientBidiHandler is the application's hook set for one bidi stream.
// The transport never invokes business logic beyond these callbacks. There is
// no separate arming step: CreateBidiStream itself calls OnConnected and
// starts OnSendTask, and the send and receive tasks call the rest.
type ClientBidiHandler interface {
	// OnConnected fires once the stream is open and registered.
	OnConnected(ctx context.Context)

	// OnMessage fires for each decoded application payload the peer sends.
	OnMessage(data []byte)

	// OnSendTask is the application-supplied producer: the delegator runs
	// it as its own goroutine, and it drives the stream by writing to
	// send and, when finished, calling closeStream.
	OnSendTask(ctx context.Context, send func(data []byte) error, closeStream func())

	// OnDisconnected fires once when both the send and receive tasks have
	// exited, regardless of cause.
	OnDisconnected()

	// OnError surfaces a transport or decode error; the stream may still
	// be usable afterward (e.g. a send error while receiving continues).
	OnError(err error)
}
