package grpcsvc

import (
	"io"

	"github.com/ratengine/rengine/frame"
)

// newFrameReader adapts an HTTP/2 request body into the Receiver shape
// ClientStream/Bidi handlers consume.
func newFrameReader(r io.Reader) *frame.MessageReader {
	return frame.NewMessageReader(r)
}
