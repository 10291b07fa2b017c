package frame

import (
	"encoding/binary"

	"github.com/ratengine/rengine/rerr"
)

// EncodeFrame prepends the 5-byte gRPC frame header to an already-marshaled
// payload: [0x00 flag][big-endian u32 length][payload].
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	out[0] = 0x00
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

// ParseFrame validates the frame header and returns the inner payload slice
// without deserializing it — used when the payload is itself a nested
// encoded value (spec §4.A).
func ParseFrame(data []byte) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, rerr.New(rerr.Protocol, "frame shorter than header")
	}
	if data[0] != 0x00 {
		return nil, rerr.New(rerr.Unimplemented, "compressed gRPC frames are not supported")
	}
	length := binary.BigEndian.Uint32(data[1:5])
	if length > MaxPayloadSize {
		return nil, rerr.New(rerr.Internal, "frame length exceeds maximum payload size")
	}
	if HeaderSize+int(length) > len(data) {
		return nil, rerr.New(rerr.Protocol, "frame declares more bytes than are present")
	}
	return data[HeaderSize : HeaderSize+int(length)], nil
}

// DrainFrames repeatedly peels complete frames out of buf, invoking yield
// with each payload slice in arrival order. It stops when fewer than
// HeaderSize bytes remain or the next declared frame is incomplete,
// returning the unconsumed residue so the caller can prepend the next
// read (spec §4.A drain_frames).
//
// yield returning an error aborts the drain and the error propagates.
func DrainFrames(buf []byte, yield func(payload []byte) error) (residue []byte, err error) {
	pos := 0
	for len(buf)-pos >= HeaderSize {
		if buf[pos] != 0x00 {
			return buf[pos:], rerr.New(rerr.Unimplemented, "compressed gRPC frames are not supported")
		}
		length := binary.BigEndian.Uint32(buf[pos+1 : pos+5])
		if length > MaxPayloadSize {
			return buf[pos:], rerr.New(rerr.Internal, "frame length exceeds maximum payload size")
		}
		frameEnd := pos + HeaderSize + int(length)
		if frameEnd > len(buf) {
			break // incomplete frame; wait for more bytes
		}
		if err := yield(buf[pos+HeaderSize : frameEnd]); err != nil {
			return buf[frameEnd:], err
		}
		pos = frameEnd
	}
	return buf[pos:], nil
}
