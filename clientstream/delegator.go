package clientstream

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ratengine/rengine/clientpool"
	"github.com/ratengine/rengine/frame"
	"github.com/ratengine/rengine/rerr"
)

// sendBacklog approximates spec §4.J's "unbounded channel" with a large
// buffer; once a business task producing faster than the network drains it
// has filled the backlog, Send returns an error instead of blocking or
// growing without limit, which is a much simpler substitute for a
// hand-rolled unbounded queue.
const sendBacklog = 4096

type sendItem struct {
	data        []byte
	closeStream bool
}

// StreamContext is the per-stream registration spec §4.J's get_context
// exposes: a sender business logic can drive directly, independent of
// whatever the handler's OnSendTask producer is doing.
type StreamContext struct {
	id     uint64
	sendCh chan sendItem
	closed atomic.Bool
}

// ID returns the stream's delegator-assigned id.
func (c *StreamContext) ID() uint64 { return c.id }

// Send enqueues an application payload to be framed and written to the
// stream. It is safe to call concurrently with the handler's OnSendTask.
func (c *StreamContext) Send(data []byte) error {
	if c.closed.Load() {
		return rerr.New(rerr.Network, "stream closed")
	}
	select {
	case c.sendCh <- sendItem{data: data}:
		return nil
	default:
		return rerr.New(rerr.Internal, "stream send backlog full")
	}
}

func (c *StreamContext) requestClose() {
	if c.closed.CompareAndSwap(false, true) {
		c.sendCh <- sendItem{closeStream: true}
	}
}

// Delegator is the client bidi delegator of spec §4.J.
type Delegator struct {
	pool   *clientpool.Pool
	logger *zap.Logger

	mu      sync.RWMutex
	streams map[uint64]*StreamContext
	nextID  atomic.Uint64
}

// New creates a delegator backed by pool. logger may be nil.
func New(pool *clientpool.Pool, logger *zap.Logger) *Delegator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Delegator{pool: pool, logger: logger, streams: make(map[uint64]*StreamContext)}
}

// CreateBidiStream obtains a connection from the pool, opens a POST to
// /service/method with gRPC content-type, and spawns the send and receive
// tasks spec §4.J describes. It returns the new stream's id.
func (d *Delegator) CreateBidiStream(ctx context.Context, uri, service, method string, handler ClientBidiHandler, metadata map[string]string) (uint64, error) {
	cc, err := d.pool.GetConnection(ctx, uri)
	if err != nil {
		return 0, err
	}

	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri+"/"+service+"/"+method, pr)
	if err != nil {
		pr.Close()
		return 0, rerr.Newf(rerr.Network, "building request: %v", err)
	}
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/grpc")
	for k, v := range metadata {
		req.Header.Set(k, v)
	}

	sc := &StreamContext{id: d.nextID.Add(1), sendCh: make(chan sendItem, sendBacklog)}
	d.mu.Lock()
	d.streams[sc.id] = sc
	d.mu.Unlock()

	resp, err := cc.RoundTrip(req)
	if err != nil {
		pr.Close()
		d.removeStream(sc.id)
		return 0, rerr.Newf(rerr.Network, "opening bidi stream: %v", err)
	}

	handler.OnConnected(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		d.sendTask(pw, sc, handler)
	}()
	go func() {
		defer wg.Done()
		d.recvTask(resp.Body, sc, handler)
	}()
	go func() {
		wg.Wait()
		d.removeStream(sc.id)
		handler.OnDisconnected()
	}()

	go handler.OnSendTask(ctx, sc.Send, sc.requestClose)

	return sc.id, nil
}

// sendTask consumes the stream's send channel, framing each payload and
// writing it to the request body; an explicit close item emits the
// end-of-stream sentinel and stops the task (spec §4.J send task).
func (d *Delegator) sendTask(pw *io.PipeWriter, sc *StreamContext, handler ClientBidiHandler) {
	defer pw.Close()
	for item := range sc.sendCh {
		if item.closeStream {
			_, _ = pw.Write(frame.EncodeFrame(frame.CloseSentinel(sc.id).Marshal()))
			return
		}
		msg := &frame.StreamMessage{StreamID: sc.id, Data: item.data}
		if _, err := pw.Write(frame.EncodeFrame(msg.Marshal())); err != nil {
			handler.OnError(rerr.Newf(rerr.Network, "writing stream message: %v", err))
			return
		}
	}
}

// recvTask drains response DATA chunks, decodes complete frames, and
// delivers each payload to the handler until the peer ends the stream
// (spec §4.J receive task).
func (d *Delegator) recvTask(body io.ReadCloser, sc *StreamContext, handler ClientBidiHandler) {
	defer body.Close()
	mr := frame.NewMessageReader(body)
	for {
		msg, err := mr.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			handler.OnError(err)
			return
		}
		handler.OnMessage(msg.Data)
	}
}

func (d *Delegator) removeStream(id uint64) {
	d.mu.Lock()
	delete(d.streams, id)
	d.mu.Unlock()
}

// GetContext returns the registered context for an open stream, so business
// code can drive it via Send/requestClose outside of OnSendTask.
func (d *Delegator) GetContext(id uint64) (*StreamContext, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sc, ok := d.streams[id]
	return sc, ok
}

// CloseStream sends a best-effort end-of-stream sentinel and removes the
// stream's registration (spec §4.J close_stream).
func (d *Delegator) CloseStream(id uint64) {
	d.mu.RLock()
	sc, ok := d.streams[id]
	d.mu.RUnlock()
	if !ok {
		return
	}
	sc.requestClose()
	d.removeStream(id)
}

// CloseAllStreams closes every open stream in parallel, for use during pool
// shutdown (spec §4.J close_all_streams).
func (d *Delegator) CloseAllStreams() {
	d.mu.RLock()
	ids := make([]uint64, 0, len(d.streams))
	for id := range d.streams {
		ids = append(ids, id)
	}
	d.mu.RUnlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			d.CloseStream(id)
		}(id)
	}
	wg.Wait()
}
