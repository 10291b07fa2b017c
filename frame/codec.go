// Package frame implements the gRPC wire codec: the 5-byte-prefixed frame
// format used on HTTP/2 DATA, and the canonical structured-binary encoding
// for the logical Request/Response/StreamMessage values carried inside it.
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
)

// MaxPayloadSize is the largest gRPC frame payload this codec accepts.
// Declared lengths above this are fatal to the stream (spec §4.A).
const MaxPayloadSize = 100 * 1024 * 1024

// HeaderSize is the fixed 5-byte frame prefix: 1 compression-flag byte
// followed by a 4-byte big-endian length.
const HeaderSize = 5

// bufferPool recycles the scratch buffers used while encoding messages.
var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

func getBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1<<20 {
		return // don't keep oversized buffers around
	}
	bufferPool.Put(buf)
}

// writer accumulates the canonical binary encoding of a logical message.
// Field order is deterministic: callers write fields in struct-declaration
// order, never sorted or reflected.
type writer struct {
	buf *bytes.Buffer
}

func newWriter() *writer {
	return &writer{buf: getBuffer()}
}

func (w *writer) release() { putBuffer(w.buf) }

func (w *writer) bytes() []byte {
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	return out
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) boolean(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *writer) bytesField(v []byte) {
	w.u32(uint32(len(v)))
	w.buf.Write(v)
}

func (w *writer) str(v string) {
	w.bytesField([]byte(v))
}

func (w *writer) stringMap(m map[string]string) {
	w.u32(uint32(len(m)))
	for _, k := range sortedKeys(m) {
		w.str(k)
		w.str(m[k])
	}
}

// sortedKeys gives map encoding a deterministic order across runs; the wire
// format does not require sorted keys, but reproducible encodes make the
// codec's roundtrip property (spec §8.2) trivial to test.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// reader walks the canonical binary encoding produced by writer.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader {
	return &reader{data: data}
}

var errShortBuffer = fmt.Errorf("frame: unexpected end of message")

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, errShortBuffer
	}
	v := binary.BigEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, errShortBuffer
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) boolean() (bool, error) {
	if r.pos+1 > len(r.data) {
		return false, errShortBuffer
	}
	v := r.data[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.data) {
		return nil, errShortBuffer
	}
	v := make([]byte, n)
	copy(v, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return v, nil
}

func (r *reader) str() (string, error) {
	b, err := r.bytesField()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) stringMap() (map[string]string, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.str()
		if err != nil {
			return nil, err
		}
		v, err := r.str()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
