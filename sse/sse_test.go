package sse

import "testing"

func TestBroadcastRemovesOnlyErroredConnections(t *testing.T) {
	m := New()
	s1, _ := m.Register("1")
	s2, _ := m.Register("2")
	s3, _ := m.Register("3")
	_ = s2
	// Close connection 2's sender while leaving it registered, so its send
	// errors during the broadcast sweep and the sweep must remove it.
	v, _ := m.conns.Load("2")
	v.(*connection).close()

	count := m.Broadcast("tick", "1")
	if count != 2 {
		t.Fatalf("expected 2 successful deliveries, got %d", count)
	}
	if m.Count() != 2 {
		t.Fatalf("expected 2 surviving connections, got %d", m.Count())
	}
	for _, s := range []*Stream{s1, s3} {
		select {
		case frame, ok := <-s.Frames():
			if !ok {
				t.Fatalf("stream %s closed unexpectedly", s.ID())
			}
			if string(frame) != "event: tick\ndata: 1\n\n" {
				t.Fatalf("unexpected frame: %q", frame)
			}
		default:
			t.Fatalf("expected a frame for stream %s", s.ID())
		}
	}
}

func TestSendEventNotFound(t *testing.T) {
	m := New()
	if err := m.SendEvent("missing", "x", "y"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestDisconnectClosesChannel(t *testing.T) {
	m := New()
	s, _ := m.Register("a")
	m.Disconnect("a")
	if _, ok := <-s.Frames(); ok {
		t.Fatal("expected channel to be closed after disconnect")
	}
}
