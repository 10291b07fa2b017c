package clientstream

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ratengine/rengine/clientpool"
	"github.com/ratengine/rengine/frame"
)

// echoServer reads StreamMessages from the request body and writes each one
// straight back out, stopping at the client's end-of-stream sentinel.
func echoServer(w http.ResponseWriter, r *http.Request) {
	flusher, _ := w.(http.Flusher)
	mr := frame.NewMessageReader(r.Body)
	for {
		msg, err := mr.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
		if _, err := w.Write(frame.EncodeFrame(msg.Marshal())); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

type fakeHandler struct {
	mu        sync.Mutex
	connected bool
	messages  [][]byte
	done      chan struct{}
	errs      []error
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{done: make(chan struct{})}
}

func (f *fakeHandler) OnConnected(ctx context.Context) {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
}

func (f *fakeHandler) OnMessage(data []byte) {
	f.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.messages = append(f.messages, cp)
	f.mu.Unlock()
}

func (f *fakeHandler) OnSendTask(ctx context.Context, send func([]byte) error, closeStream func()) {
	_ = send([]byte("ping-1"))
	_ = send([]byte("ping-2"))
	closeStream()
}

func (f *fakeHandler) OnDisconnected() {
	close(f.done)
}

func (f *fakeHandler) OnError(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func (f *fakeHandler) snapshot() (bool, [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected, append([][]byte(nil), f.messages...)
}

func TestCreateBidiStreamEchoesMessages(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(echoServer))
	ts.EnableHTTP2 = true
	ts.StartTLS()
	defer ts.Close()

	cfg := clientpool.DefaultConfig()
	cfg.CleanupInterval = time.Hour
	cfg.KeepaliveInterval = time.Hour
	cfg.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	pool := clientpool.New(cfg, nil)
	defer pool.Shutdown(context.Background())

	d := New(pool, nil)
	handler := newFakeHandler()

	id, err := d.CreateBidiStream(context.Background(), ts.URL, "Echo", "Stream", handler, nil)
	if err != nil {
		t.Fatalf("create bidi stream: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected a non-zero stream id")
	}

	select {
	case <-handler.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}

	connected, messages := handler.snapshot()
	if !connected {
		t.Fatal("expected OnConnected to have fired")
	}
	if len(messages) != 2 || string(messages[0]) != "ping-1" || string(messages[1]) != "ping-2" {
		t.Fatalf("unexpected echoed messages: %v", messages)
	}

	if _, ok := d.GetContext(id); ok {
		t.Fatal("expected stream context to be removed after disconnect")
	}
}
