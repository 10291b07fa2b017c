// Package sse implements the lock-free Server-Sent Events broadcast manager
// (spec §4.B): a process-wide, lazily-initialized map from connection id to
// a one-shot sender of byte frames.
package sse

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/ratengine/rengine/rerr"
)

// frameBacklog bounds the per-connection channel so a single slow reader
// cannot grow without limit; sends past this point report the connection
// as errored, which the broadcast sweep then removes.
const frameBacklog = 256

type connection struct {
	id     string
	frames chan []byte
	closed atomic.Bool
}

func (c *connection) send(frame []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("channel closed")
	}
	select {
	case c.frames <- frame:
		return nil
	default:
		return fmt.Errorf("channel closed")
	}
}

func (c *connection) close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.frames)
	}
}

// Manager owns every registered sender; receivers are owned by the
// in-flight HTTP responses that read from Stream.Frames(). The connection
// table is a concurrent map: writes never block reads (spec §4.B, §5).
type Manager struct {
	conns sync.Map // string -> *connection
}

// New creates an empty broadcast manager.
func New() *Manager {
	return &Manager{}
}

var (
	defaultOnce sync.Once
	defaultMgr  *Manager
)

// Default returns the process-wide singleton manager, lazily initialized on
// first use and shared by every registration in the process.
func Default() *Manager {
	defaultOnce.Do(func() { defaultMgr = New() })
	return defaultMgr
}

// Stream is the receiver side of a registered connection: an HTTP handler
// drains Frames() and writes each to the response body.
type Stream struct {
	id     string
	frames <-chan []byte
}

// ID returns the connection id this stream was registered under.
func (s *Stream) ID() string { return s.id }

// Frames returns the channel of outgoing event-stream frames. The channel
// is closed when the connection is disconnected or the manager sweeps it
// out during a broadcast.
func (s *Stream) Frames() <-chan []byte { return s.frames }

// WriteHeaders sets the three headers spec §4.B requires on every SSE
// response: Content-Type, Cache-Control, Connection.
func WriteHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// Copy drains the stream to w, flushing after every frame, until the
// channel closes or a write fails. It is a convenience for callers that
// don't need custom interleaving.
func Copy(w io.Writer, s *Stream) error {
	flusher, canFlush := w.(http.Flusher)
	for frame := range s.Frames() {
		if len(frame) == 0 {
			continue
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
	}
	return nil
}

// Register creates an unbounded (backlog-limited) frame channel for id and
// stores the sender side in the manager. Re-registering an id that is
// already present replaces its sender, orphaning the previous stream.
func (m *Manager) Register(id string) (*Stream, error) {
	ch := make(chan []byte, frameBacklog)
	conn := &connection{id: id, frames: ch}
	m.conns.Store(id, conn)
	return &Stream{id: id, frames: ch}, nil
}

// formatEvent renders the SSE wire format: "event: name\ndata: payload\n\n",
// or just "data: payload\n\n" when event is empty (spec §6).
func formatEvent(event, data string) []byte {
	if event == "" {
		return []byte(fmt.Sprintf("data: %s\n\n", data))
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}

// SendEvent enqueues a named event frame for connection id.
func (m *Manager) SendEvent(id, event, data string) error {
	return m.enqueue(id, formatEvent(event, data))
}

// SendData enqueues an unnamed data frame for connection id.
func (m *Manager) SendData(id, data string) error {
	return m.enqueue(id, formatEvent("", data))
}

// SendHeartbeat enqueues a comment frame, the SSE idiom for a keepalive
// that application code never sees as an event.
func (m *Manager) SendHeartbeat(id string) error {
	return m.enqueue(id, []byte(": heartbeat\n\n"))
}

func (m *Manager) enqueue(id string, frame []byte) error {
	v, ok := m.conns.Load(id)
	if !ok {
		return rerr.New(rerr.NotFound, "sse: connection not found")
	}
	conn := v.(*connection)
	if err := conn.send(frame); err != nil {
		return rerr.New(rerr.Internal, "sse: "+err.Error())
	}
	return nil
}

// Disconnect best-effort enqueues nothing further and removes id's sender,
// closing the channel so the reader loop exits.
func (m *Manager) Disconnect(id string) {
	v, ok := m.conns.LoadAndDelete(id)
	if !ok {
		return
	}
	conn := v.(*connection)
	conn.close()
}

// Broadcast fans out one frame to every registered connection. Senders that
// error (full backlog or already closed) are removed atomically in the same
// sweep. It returns the number of successful deliveries; cross-recipient
// ordering is unspecified, but the sweep fully completes before Broadcast
// returns (spec §4.B, §5).
func (m *Manager) Broadcast(event, data string) int {
	frame := formatEvent(event, data)
	delivered := 0
	m.conns.Range(func(key, value any) bool {
		id := key.(string)
		conn := value.(*connection)
		if err := conn.send(frame); err != nil {
			m.conns.CompareAndDelete(id, conn)
			conn.close()
			return true
		}
		delivered++
		return true
	})
	return delivered
}

// Count returns the number of currently registered connections.
func (m *Manager) Count() int {
	n := 0
	m.conns.Range(func(_, _ any) bool { n++; return true })
	return n
}
