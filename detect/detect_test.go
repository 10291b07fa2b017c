package detect

import (
	"net"
	"testing"
	"time"
)

func pipe(t *testing.T, write func(net.Conn)) net.Conn {
	t.Helper()
	server, client := net.Pipe()
	go func() {
		write(client)
	}()
	return server
}

func TestDetectHTTP1(t *testing.T) {
	conn := pipe(t, func(c net.Conn) {
		_, _ = c.Write([]byte("GET /index.html HTTP/1.1\r\nHost: x\r\n\r\n"))
	})
	wrapped, res, err := Detect(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.Kind != HTTP1 {
		t.Fatalf("expected HTTP1, got %v", res.Kind)
	}
	buf := make([]byte, 3)
	n, err := wrapped.Read(buf)
	if err != nil || string(buf[:n]) != "GET" {
		t.Fatalf("expected replayed bytes to start with GET, got %q err=%v", buf[:n], err)
	}
}

func TestDetectTLS(t *testing.T) {
	conn := pipe(t, func(c net.Conn) {
		_, _ = c.Write([]byte{0x16, 0x03, 0x01, 0x00, 0x05})
	})
	_, res, err := Detect(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.Kind != TLS {
		t.Fatalf("expected TLS, got %v", res.Kind)
	}
}

func TestDetectGRPCByContentType(t *testing.T) {
	conn := pipe(t, func(c net.Conn) {
		_, _ = c.Write([]byte("POST /svc.Foo/Bar HTTP/2.0\r\ncontent-type: application/grpc+proto\r\n\r\n"))
	})
	_, res, err := Detect(conn, 2*time.Second)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.Kind != GRPC {
		t.Fatalf("expected GRPC, got %v", res.Kind)
	}
}

func TestDetectTimeoutClosesSilently(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	_, _, err := Detect(server, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error when no bytes arrive")
	}
}

// TestDetectClassifiesWithoutWaitingForTheFullTimeout guards against
// regressing to a Peek(PeekWindow) that blocks for the entire timeout on
// every ordinary, sub-window first flight.
func TestDetectClassifiesWithoutWaitingForTheFullTimeout(t *testing.T) {
	conn := pipe(t, func(c net.Conn) {
		_, _ = c.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	})
	start := time.Now()
	_, res, err := Detect(conn, 2*time.Second)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if res.Kind != HTTP1 {
		t.Fatalf("expected HTTP1, got %v", res.Kind)
	}
	if elapsed >= 500*time.Millisecond {
		t.Fatalf("expected classification well before the 2s timeout, took %v", elapsed)
	}
}
