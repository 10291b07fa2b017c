package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStaticGETWithBrotliPriority(t *testing.T) {
	rt := New()
	body := strings.Repeat("hello world ", 200) // > 1 KiB floor
	rt.HandleFunc(http.MethodGet, "/index.html", func(r *http.Request, params map[string]string) (*Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "text/html")
		return &Response{Status: http.StatusOK, Header: h, Body: []byte(body)}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Encoding"); got != "br" {
		t.Fatalf("expected br (higher priority than gzip), got %q", got)
	}
	decoded, err := Decode("br", rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != body {
		t.Fatalf("decoded body mismatch")
	}
}

func TestPathCaptureReachesHandler(t *testing.T) {
	rt := New()
	var gotParams map[string]string
	rt.HandleFunc(http.MethodGet, "/files/<path:rest>", func(r *http.Request, params map[string]string) (*Response, error) {
		gotParams = params
		return &Response{Status: http.StatusOK}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/files/a/b/c.txt", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if gotParams["rest"] != "a/b/c.txt" {
		t.Fatalf("expected rest=a/b/c.txt, got %+v", gotParams)
	}
}

func TestExcludedContentTypeNeverCompressed(t *testing.T) {
	rt := New()
	body := strings.Repeat("x", 2048)
	rt.HandleFunc(http.MethodGet, "/img.png", func(r *http.Request, params map[string]string) (*Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "image/png")
		return &Response{Status: http.StatusOK, Header: h, Body: []byte(body)}, nil
	})
	req := httptest.NewRequest(http.MethodGet, "/img.png", nil)
	req.Header.Set("Accept-Encoding", "gzip, br, zstd")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Header().Get("Content-Encoding") != "" {
		t.Fatalf("expected no compression for image content-type, got %q", rec.Header().Get("Content-Encoding"))
	}
}

func TestPreEncodedBodySkipsGate(t *testing.T) {
	rt := New()
	body := strings.Repeat("x", 2048)
	rt.HandleFunc(http.MethodGet, "/pre.bin", func(r *http.Request, params map[string]string) (*Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Content-Encoding", "gzip")
		return &Response{Status: http.StatusOK, Header: h, Body: []byte(body)}, nil
	})
	req := httptest.NewRequest(http.MethodGet, "/pre.bin", nil)
	req.Header.Set("Accept-Encoding", "gzip, br, zstd")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected handler's own gzip encoding preserved, got %q", rec.Header().Get("Content-Encoding"))
	}
	if rec.Body.String() != body {
		t.Fatalf("expected pre-encoded body to pass through untouched")
	}
}

func TestLZ4NegotiatedOutOfBand(t *testing.T) {
	rt := New()
	cfg := DefaultCompressionConfig()
	cfg.Enabled[AlgLZ4] = true
	rt.SetCompression(cfg)

	body := strings.Repeat("hello world ", 200)
	rt.HandleFunc(http.MethodGet, "/data", func(r *http.Request, params map[string]string) (*Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "application/octet-stream")
		return &Response{Status: http.StatusOK, Header: h, Body: []byte(body)}, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	req.Header.Set("Accept-Encoding", "lz4")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Encoding"); got != "lz4" {
		t.Fatalf("expected lz4, got %q", got)
	}
	decoded, err := Decode("lz4", rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != body {
		t.Fatalf("decoded body mismatch")
	}
}

func TestDenySetReturns403(t *testing.T) {
	rt := New()
	rt.Deny("203.0.113.1")
	rt.HandleFunc(http.MethodGet, "/x", func(r *http.Request, params map[string]string) (*Response, error) {
		return &Response{Status: http.StatusOK}, nil
	})
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "203.0.113.1:0"
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
