package frame

import (
	"bytes"
	"io"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	req := &Request{
		ID:       7,
		Method:   "svc.Echo",
		Data:     []byte("hi"),
		Metadata: map[string]string{"a": "1", "b": "2"},
	}
	out, err := UnmarshalRequest(req.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID != req.ID || out.Method != req.Method || !bytes.Equal(out.Data, req.Data) {
		t.Fatalf("roundtrip mismatch: %+v != %+v", out, req)
	}
	if len(out.Metadata) != len(req.Metadata) || out.Metadata["a"] != "1" {
		t.Fatalf("metadata mismatch: %+v", out.Metadata)
	}
}

func TestStreamMessageRoundTrip(t *testing.T) {
	msg := &StreamMessage{ID: 1, StreamID: 2, Sequence: 3, Data: []byte("x"), EndOfStream: true}
	out, err := UnmarshalStreamMessage(msg.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.StreamID != 2 || out.Sequence != 3 || !out.EndOfStream {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
}

func TestEncodeFrameIsPrefixedCorrectly(t *testing.T) {
	payload := []byte("payload-bytes")
	encoded := EncodeFrame(payload)
	if len(encoded) != HeaderSize+len(payload) {
		t.Fatalf("expected %d bytes, got %d", HeaderSize+len(payload), len(encoded))
	}
	if encoded[0] != 0x00 {
		t.Fatalf("expected compression flag 0, got %d", encoded[0])
	}
	decoded, err := ParseFrame(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("payload mismatch: %q != %q", decoded, payload)
	}
}

func TestParseFrameRejectsCompressionFlag(t *testing.T) {
	data := EncodeFrame([]byte("x"))
	data[0] = 0x01
	if _, err := ParseFrame(data); err == nil {
		t.Fatal("expected error for non-zero compression flag")
	}
}

func TestParseFrameRejectsOversizedLength(t *testing.T) {
	data := make([]byte, HeaderSize)
	data[0] = 0x00
	data[1], data[2], data[3], data[4] = 0xFF, 0xFF, 0xFF, 0xFF
	if _, err := ParseFrame(data); err == nil {
		t.Fatal("expected error for oversized declared length")
	}
}

func TestDrainFramesLeavesResidue(t *testing.T) {
	var buf []byte
	buf = append(buf, EncodeFrame([]byte("one"))...)
	buf = append(buf, EncodeFrame([]byte("two"))...)
	buf = append(buf, []byte{0x00, 0x00, 0x00, 0x00}...) // incomplete third frame header

	var got [][]byte
	residue, err := DrainFrames(buf, func(payload []byte) error {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		got = append(got, cp)
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 2 || string(got[0]) != "one" || string(got[1]) != "two" {
		t.Fatalf("unexpected frames: %v", got)
	}
	if len(residue) != 4 {
		t.Fatalf("expected 4-byte residue, got %d", len(residue))
	}
}

func TestMessageReaderStopsAtEndOfStreamSentinel(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(EncodeFrame((&StreamMessage{Data: []byte("a")}).Marshal()))
	buf.Write(EncodeFrame(CloseSentinel(5).Marshal()))
	buf.Write(EncodeFrame((&StreamMessage{Data: []byte("never")}).Marshal()))

	mr := NewMessageReader(&buf)

	msg, err := mr.Next()
	if err != nil || string(msg.Data) != "a" {
		t.Fatalf("expected first message, got %+v, %v", msg, err)
	}

	if _, err := mr.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF at the close sentinel, got %v", err)
	}
}

func TestMessageReaderSurfacesPlainEOFAsIOEOF(t *testing.T) {
	mr := NewMessageReader(bytes.NewReader(nil))
	if _, err := mr.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF on an empty reader, got %v", err)
	}
}
