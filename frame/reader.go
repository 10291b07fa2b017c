package frame

import "io"

// MessageReader turns an io.Reader carrying consecutive encoded frames into
// a lazy sequence of StreamMessage values (spec §4.H/§4.J's "resumable state
// machine over an internal buffer"). Both the gRPC server dispatcher and the
// client bidi delegator drive one of these over their respective half of an
// HTTP/2 stream's body.
type MessageReader struct {
	r       io.Reader
	buf     []byte
	pending []*StreamMessage
	chunk   []byte
	done    bool
}

// NewMessageReader wraps r. Reading from r is what releases the connection's
// HTTP/2 flow-control window per byte consumed, so there is no separate
// flow-control call to make here.
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{r: r, chunk: make([]byte, 32*1024)}
}

// Next returns the next stream message, io.EOF once the peer has ended the
// stream (either by closing the body or by sending an explicit end-of-stream
// message), or a transport/decode error.
func (mr *MessageReader) Next() (*StreamMessage, error) {
	for len(mr.pending) == 0 {
		if mr.done {
			return nil, io.EOF
		}
		n, err := mr.r.Read(mr.chunk)
		if n > 0 {
			mr.buf = append(mr.buf, mr.chunk[:n]...)
			residue, derr := DrainFrames(mr.buf, func(payload []byte) error {
				msg, uerr := UnmarshalStreamMessage(payload)
				if uerr != nil {
					return uerr
				}
				mr.pending = append(mr.pending, msg)
				return nil
			})
			mr.buf = residue
			if derr != nil {
				return nil, derr
			}
		}
		if err != nil {
			if err == io.EOF {
				mr.done = true
				continue
			}
			return nil, err
		}
	}

	msg := mr.pending[0]
	mr.pending = mr.pending[1:]
	if msg.EndOfStream {
		mr.done = true
		return nil, io.EOF
	}
	return msg, nil
}
