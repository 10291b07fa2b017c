package frame

// Request is the logical gRPC request carried inside one or more frame
// payloads for unary and client-streaming calls (spec §3).
type Request struct {
	ID       uint64
	Method   string
	Data     []byte
	Metadata map[string]string
}

// Marshal encodes a Request with the canonical structured-binary codec:
// fixed field order, big-endian integers, length-prefixed strings/bytes.
func (r *Request) Marshal() []byte {
	w := newWriter()
	defer w.release()
	w.u64(r.ID)
	w.str(r.Method)
	w.bytesField(r.Data)
	w.stringMap(r.Metadata)
	return w.bytes()
}

// UnmarshalRequest decodes a Request previously produced by Marshal.
func UnmarshalRequest(data []byte) (*Request, error) {
	r := newReader(data)
	id, err := r.u64()
	if err != nil {
		return nil, err
	}
	method, err := r.str()
	if err != nil {
		return nil, err
	}
	body, err := r.bytesField()
	if err != nil {
		return nil, err
	}
	md, err := r.stringMap()
	if err != nil {
		return nil, err
	}
	return &Request{ID: id, Method: method, Data: body, Metadata: md}, nil
}

// Response is the logical gRPC response for unary and server-streaming
// calls (spec §3).
type Response struct {
	Status   uint32
	Message  string
	Data     []byte
	Metadata map[string]string
}

// Marshal encodes a Response with the canonical structured-binary codec.
func (r *Response) Marshal() []byte {
	w := newWriter()
	defer w.release()
	w.u32(r.Status)
	w.str(r.Message)
	w.bytesField(r.Data)
	w.stringMap(r.Metadata)
	return w.bytes()
}

// UnmarshalResponse decodes a Response previously produced by Marshal.
func UnmarshalResponse(data []byte) (*Response, error) {
	r := newReader(data)
	status, err := r.u32()
	if err != nil {
		return nil, err
	}
	message, err := r.str()
	if err != nil {
		return nil, err
	}
	body, err := r.bytesField()
	if err != nil {
		return nil, err
	}
	md, err := r.stringMap()
	if err != nil {
		return nil, err
	}
	return &Response{Status: status, Message: message, Data: body, Metadata: md}, nil
}

// StreamMessage is one message on a client- or server-streaming call, or a
// bidi call. EndOfStream with empty Data is the canonical close signal for
// client-initiated shutdown of a bidi stream (spec §3).
type StreamMessage struct {
	ID          uint64
	StreamID    uint64
	Sequence    uint64
	Data        []byte
	EndOfStream bool
	Metadata    map[string]string
}

// Marshal encodes a StreamMessage with the canonical structured-binary codec.
func (m *StreamMessage) Marshal() []byte {
	w := newWriter()
	defer w.release()
	w.u64(m.ID)
	w.u64(m.StreamID)
	w.u64(m.Sequence)
	w.bytesField(m.Data)
	w.boolean(m.EndOfStream)
	w.stringMap(m.Metadata)
	return w.bytes()
}

// UnmarshalStreamMessage decodes a StreamMessage previously produced by Marshal.
func UnmarshalStreamMessage(data []byte) (*StreamMessage, error) {
	r := newReader(data)
	id, err := r.u64()
	if err != nil {
		return nil, err
	}
	streamID, err := r.u64()
	if err != nil {
		return nil, err
	}
	seq, err := r.u64()
	if err != nil {
		return nil, err
	}
	body, err := r.bytesField()
	if err != nil {
		return nil, err
	}
	eos, err := r.boolean()
	if err != nil {
		return nil, err
	}
	md, err := r.stringMap()
	if err != nil {
		return nil, err
	}
	return &StreamMessage{
		ID: id, StreamID: streamID, Sequence: seq,
		Data: body, EndOfStream: eos, Metadata: md,
	}, nil
}

// CloseSentinel builds the StreamMessage that signals a client-initiated
// bidi stream close: EndOfStream=true, empty data, the stream's id carried
// forward so the peer can still attribute it.
func CloseSentinel(streamID uint64) *StreamMessage {
	return &StreamMessage{StreamID: streamID, EndOfStream: true}
}
