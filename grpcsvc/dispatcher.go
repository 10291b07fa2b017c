package grpcsvc

import (
	"context"
	"io"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/ratengine/rengine/frame"
	"github.com/ratengine/rengine/rerr"
)

// Dispatcher is the gRPC server-side request/response loop (spec §4.H). It
// is an http.Handler so it can be served directly by an http2.Server, the
// same shape the teacher's gateway uses for its own RPC dispatch.
type Dispatcher struct {
	Registry    *Registry
	Logger      *zap.Logger
	Interceptor UnaryInterceptor
}

// NewDispatcher creates a Dispatcher over registry. logger may be nil.
func NewDispatcher(registry *Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{Registry: registry, Logger: logger}
}

// WithInterceptor sets the unary interceptor chain applied around every
// registered UnaryHandler. Streaming call patterns have no analogous hook,
// the way the teacher's own RPC layer never wraps its streaming handlers.
func (d *Dispatcher) WithInterceptor(i UnaryInterceptor) *Dispatcher {
	d.Interceptor = i
	return d
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeStatus(w, codes.Unimplemented, "gRPC calls must use POST")
		return
	}

	pattern, handler, ok := d.Registry.lookup(r.URL.Path)
	if !ok {
		writeStatus(w, codes.Unimplemented, "method "+r.URL.Path+" is not implemented")
		return
	}

	ctx := withCallContext(r.Context(), r)

	switch pattern {
	case Unary:
		d.serveUnary(ctx, w, r, handler.(UnaryHandler))
	case ServerStream:
		d.serveServerStream(ctx, w, r, handler.(ServerStreamHandler))
	case ClientStream:
		d.serveClientStream(ctx, w, r, handler.(ClientStreamHandler))
	case Bidi:
		d.serveBidi(ctx, w, r, handler.(BidiHandler))
	}
}

// decodeUnaryRequest drains body fully, parses one frame, and tries to decode
// a logical Request from it; on decode failure it falls back to a synthetic
// request wrapping the raw payload bytes (spec §4.H unary ingress).
func decodeUnaryRequest(r io.Reader) (*frame.Request, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, rerr.Newf(rerr.Request, "reading request body: %v", err)
	}
	payload, err := frame.ParseFrame(body)
	if err != nil {
		return nil, err
	}
	req, err := frame.UnmarshalRequest(payload)
	if err != nil {
		return &frame.Request{Data: payload}, nil
	}
	return req, nil
}

func (d *Dispatcher) serveUnary(ctx context.Context, w http.ResponseWriter, r *http.Request, handler UnaryHandler) {
	req, err := decodeUnaryRequest(r.Body)
	if err != nil {
		writeStatus(w, codeFor(err), err.Error())
		return
	}

	call := UnaryHandlerFunc(handler)
	if d.Interceptor != nil {
		call = func(ctx context.Context, req *frame.Request) (*frame.Response, error) {
			return d.Interceptor(ctx, r.URL.Path, req, UnaryHandlerFunc(handler))
		}
	}

	resp, err := call(ctx, req)
	if err != nil {
		writeStatus(w, codeFor(err), err.Error())
		return
	}
	if resp == nil {
		resp = &frame.Response{}
	}

	w.Header().Set("Content-Type", "application/grpc")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(frame.EncodeFrame(resp.Marshal())); err != nil {
		d.logWriteFailure(err)
		return
	}
	setTrailer(w, codes.OK, "")
}

func (d *Dispatcher) serveServerStream(ctx context.Context, w http.ResponseWriter, r *http.Request, handler ServerStreamHandler) {
	req, err := decodeUnaryRequest(r.Body)
	if err != nil {
		writeStatus(w, codeFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/grpc")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	send := func(msg *frame.StreamMessage) error {
		if _, err := w.Write(frame.EncodeFrame(msg.Marshal())); err != nil {
			return rerr.Newf(rerr.Internal, "writing stream message: %v", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	writeTrailer(w, handler(ctx, req, send))
}

func (d *Dispatcher) serveClientStream(ctx context.Context, w http.ResponseWriter, r *http.Request, handler ClientStreamHandler) {
	fr := newFrameReader(r.Body)
	resp, err := handler(ctx, fr.Next)
	if err != nil {
		writeStatus(w, codeFor(err), err.Error())
		return
	}
	if resp == nil {
		resp = &frame.Response{}
	}

	w.Header().Set("Content-Type", "application/grpc")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(frame.EncodeFrame(resp.Marshal())); err != nil {
		d.logWriteFailure(err)
		return
	}
	setTrailer(w, codes.OK, "")
}

func (d *Dispatcher) serveBidi(ctx context.Context, w http.ResponseWriter, r *http.Request, handler BidiHandler) {
	fr := newFrameReader(r.Body)

	w.Header().Set("Content-Type", "application/grpc")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	send := func(msg *frame.StreamMessage) error {
		if _, err := w.Write(frame.EncodeFrame(msg.Marshal())); err != nil {
			return rerr.Newf(rerr.Internal, "writing stream message: %v", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	writeTrailer(w, handler(ctx, fr.Next, send))
}

// logWriteFailure demotes trailer/body write failures caused by a peer that
// already half-closed its side to info level rather than error, per spec
// §4.H's "trailer-writing failures ... are demoted to info-level; they are
// not retried."
func (d *Dispatcher) logWriteFailure(err error) {
	if rerr.IsDisconnect(err.Error()) {
		d.Logger.Info("write to half-closed peer", zap.Error(err))
		return
	}
	d.Logger.Error("response write failed", zap.Error(err))
}
