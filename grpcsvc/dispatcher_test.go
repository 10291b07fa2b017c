package grpcsvc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ratengine/rengine/frame"
)

func TestUnaryRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterUnary("Echo", "Say", func(ctx context.Context, req *frame.Request) (*frame.Response, error) {
		return &frame.Response{Status: 0, Data: req.Data}, nil
	})
	d := NewDispatcher(reg, nil)

	body := frame.EncodeFrame((&frame.Request{Method: "Say", Data: []byte("hi")}).Marshal())
	req := httptest.NewRequest(http.MethodPost, "/Echo/Say", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	res := rec.Result()
	if res.Trailer.Get("Grpc-Status") != "0" {
		t.Fatalf("expected grpc-status 0, got %q", res.Trailer.Get("Grpc-Status"))
	}
	payload, err := frame.ParseFrame(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	resp, err := frame.UnmarshalResponse(payload)
	if err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if string(resp.Data) != "hi" {
		t.Fatalf("expected echoed data, got %q", resp.Data)
	}
}

func TestUnknownMethodIsUnimplemented(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, nil)

	req := httptest.NewRequest(http.MethodPost, "/Nope/Method", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if got := rec.Result().Trailer.Get("Grpc-Status"); got != "12" {
		t.Fatalf("expected grpc-status 12 (Unimplemented), got %q", got)
	}
}

func TestNonPostIsUnimplemented(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterUnary("Echo", "Say", func(ctx context.Context, req *frame.Request) (*frame.Response, error) {
		return &frame.Response{}, nil
	})
	d := NewDispatcher(reg, nil)

	req := httptest.NewRequest(http.MethodGet, "/Echo/Say", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if got := rec.Result().Trailer.Get("Grpc-Status"); got != "12" {
		t.Fatalf("expected grpc-status 12 for non-POST, got %q", got)
	}
}

func TestServerStreamSendsMultipleFrames(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterServerStream("Counter", "Count", func(ctx context.Context, req *frame.Request, send func(*frame.StreamMessage) error) error {
		for i := uint64(0); i < 3; i++ {
			if err := send(&frame.StreamMessage{Sequence: i, Data: []byte{byte(i)}}); err != nil {
				return err
			}
		}
		return nil
	})
	d := NewDispatcher(reg, nil)

	body := frame.EncodeFrame((&frame.Request{Method: "Count"}).Marshal())
	req := httptest.NewRequest(http.MethodPost, "/Counter/Count", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	frames := 0
	residue, err := frame.DrainFrames(rec.Body.Bytes(), func(payload []byte) error {
		frames++
		_, err := frame.UnmarshalStreamMessage(payload)
		return err
	})
	if err != nil {
		t.Fatalf("drain frames: %v", err)
	}
	if frames != 3 {
		t.Fatalf("expected 3 stream frames, got %d", frames)
	}
	if len(residue) != 0 {
		t.Fatalf("expected no residue, got %d bytes", len(residue))
	}
	if got := rec.Result().Trailer.Get("Grpc-Status"); got != "0" {
		t.Fatalf("expected grpc-status 0, got %q", got)
	}
}

func TestClientStreamDrainsToSingleResponse(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterClientStream("Sum", "Ints", func(ctx context.Context, recv Receiver) (*frame.Response, error) {
		var total byte
		for {
			msg, err := recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			if len(msg.Data) > 0 {
				total += msg.Data[0]
			}
		}
		return &frame.Response{Data: []byte{total}}, nil
	})
	d := NewDispatcher(reg, nil)

	var buf bytes.Buffer
	buf.Write(frame.EncodeFrame((&frame.StreamMessage{Data: []byte{2}}).Marshal()))
	buf.Write(frame.EncodeFrame((&frame.StreamMessage{Data: []byte{3}}).Marshal()))

	req := httptest.NewRequest(http.MethodPost, "/Sum/Ints", &buf)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	payload, err := frame.ParseFrame(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	resp, err := frame.UnmarshalResponse(payload)
	if err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0] != 5 {
		t.Fatalf("expected sum 5, got %v", resp.Data)
	}
}

func TestClientStreamEndOfStreamSentinelStopsIteration(t *testing.T) {
	reg := NewRegistry()
	var seen int
	reg.RegisterClientStream("Sum", "Ints", func(ctx context.Context, recv Receiver) (*frame.Response, error) {
		for {
			_, err := recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			seen++
		}
		return &frame.Response{}, nil
	})
	d := NewDispatcher(reg, nil)

	var buf bytes.Buffer
	buf.Write(frame.EncodeFrame((&frame.StreamMessage{Data: []byte{1}}).Marshal()))
	buf.Write(frame.EncodeFrame(frame.CloseSentinel(0).Marshal()))
	buf.Write(frame.EncodeFrame((&frame.StreamMessage{Data: []byte{9}}).Marshal()))

	req := httptest.NewRequest(http.MethodPost, "/Sum/Ints", &buf)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)

	if seen != 1 {
		t.Fatalf("expected iteration to stop at the close sentinel, saw %d messages", seen)
	}
}

func TestListMethodsSortedByPath(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterUnary("Zeta", "Do", func(context.Context, *frame.Request) (*frame.Response, error) { return nil, nil })
	reg.RegisterUnary("Alpha", "Do", func(context.Context, *frame.Request) (*frame.Response, error) { return nil, nil })

	methods := reg.ListMethods()
	if len(methods) != 2 || !strings.HasPrefix(methods[0].Path(), "/Alpha") {
		t.Fatalf("expected Alpha before Zeta, got %+v", methods)
	}
}
