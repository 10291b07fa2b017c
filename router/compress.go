package router

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm is one of the codecs the gate can pick, in the priority order
// spec §4.F mandates: zstd > brotli > gzip > deflate > identity.
type Algorithm string

const (
	AlgZstd     Algorithm = "zstd"
	AlgBrotli   Algorithm = "br"
	AlgGzip     Algorithm = "gzip"
	AlgDeflate  Algorithm = "deflate"
	// AlgLZ4 has no registered HTTP Accept-Encoding token, so it never
	// enters priorityOrder; it is only ever picked when a caller negotiates
	// it out-of-band (internal/gRPC-adjacent transports) via cfg.Enabled.
	AlgLZ4      Algorithm = "lz4"
	AlgIdentity Algorithm = "identity"
)

// priorityOrder is the fixed preference spec §4.F prescribes.
var priorityOrder = []Algorithm{AlgZstd, AlgBrotli, AlgGzip, AlgDeflate}

// compressFunc is the external collaborator's contract per spec §1: a pure
// (bytes, algo) -> bytes function. Each algorithm below is wired to a real
// codec library rather than hand-rolled, since the spec treats the codec
// bank as supplied, not as core engineering.
type compressFunc func(data []byte) ([]byte, error)

var bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

func withBuffer(fn func(*bytes.Buffer) error) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)
	if err := fn(buf); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func compressGzip(data []byte) ([]byte, error) {
	return withBuffer(func(buf *bytes.Buffer) error {
		w := gzip.NewWriter(buf)
		if _, err := w.Write(data); err != nil {
			return err
		}
		return w.Close()
	})
}

func compressDeflate(data []byte) ([]byte, error) {
	return withBuffer(func(buf *bytes.Buffer) error {
		w, err := flate.NewWriter(buf, flate.DefaultCompression)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		return w.Close()
	})
}

func compressBrotli(data []byte) ([]byte, error) {
	return withBuffer(func(buf *bytes.Buffer) error {
		w := brotli.NewWriter(buf)
		if _, err := w.Write(data); err != nil {
			return err
		}
		return w.Close()
	})
}

var zstdEncoder, _ = zstd.NewWriter(nil)

func compressZstd(data []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(data, nil), nil
}

// compressLZ4 is exposed for callers who negotiate lz4 out-of-band (the
// HTTP Accept-Encoding registry has no standard lz4 token, so it never
// enters the priority order, but the codec bank still supports it for
// internal/gRPC-adjacent transports per spec §1).
func compressLZ4(data []byte) ([]byte, error) {
	return withBuffer(func(buf *bytes.Buffer) error {
		w := lz4.NewWriter(buf)
		if _, err := w.Write(data); err != nil {
			return err
		}
		return w.Close()
	})
}

var encoders = map[Algorithm]compressFunc{
	AlgZstd:    compressZstd,
	AlgBrotli:  compressBrotli,
	AlgGzip:    compressGzip,
	AlgDeflate: compressDeflate,
	AlgLZ4:     compressLZ4,
}

// excludedTypes are content-type families the gate never compresses
// (spec §4.F).
var excludedTypes = []string{
	"image/", "audio/", "video/",
	"application/zip", "application/gzip",
	"application/x-rar-compressed", "application/x-7z-compressed",
}

var excludedExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".svg": true, ".mp3": true, ".mp4": true, ".zip": true, ".gz": true,
	".rar": true, ".7z": true,
}

// CompressionConfig configures the gate's size floor and enabled algorithm
// set. The zero value enables no algorithm, so it never compresses;
// DefaultCompressionConfig gives the usual settings.
type CompressionConfig struct {
	SizeFloor int
	Enabled   map[Algorithm]bool
	// SmartProbe enables the entropy/structure advisory skip (spec §4.F);
	// it is advisory only and never affects correctness.
	SmartProbe bool
}

// DefaultCompressionConfig returns the spec's defaults: all four real
// algorithms enabled, 1 KiB floor, smart probe off.
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		SizeFloor: 1024,
		Enabled: map[Algorithm]bool{
			AlgZstd: true, AlgBrotli: true, AlgGzip: true, AlgDeflate: true,
		},
	}
}

// isExcluded reports whether contentType or the request path's extension
// names a family the gate must never compress, regardless of what the
// client advertises (spec §8.7).
func isExcluded(contentType, requestPath string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, prefix := range excludedTypes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(requestPath))
	return excludedExtensions[ext]
}

// negotiate picks the highest-priority algorithm both the client accepts
// (via acceptEncoding) and the gate has enabled, per spec §4.F's fixed
// priority order.
func negotiate(acceptEncoding string, cfg CompressionConfig) Algorithm {
	accepted := parseAcceptEncoding(acceptEncoding)
	for _, alg := range priorityOrder {
		if cfg.Enabled[alg] && accepted[string(alg)] {
			return alg
		}
	}
	// lz4 has no IANA Accept-Encoding registration, so it sits outside
	// priorityOrder entirely; an internal caller that explicitly enables it
	// and sends the "lz4" token out-of-band still gets it, just last.
	if cfg.Enabled[AlgLZ4] && accepted[string(AlgLZ4)] {
		return AlgLZ4
	}
	return AlgIdentity
}

func parseAcceptEncoding(header string) map[string]bool {
	out := make(map[string]bool)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name := part
		q := 1.0
		if idx := strings.Index(part, ";"); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
			qpart := strings.TrimSpace(part[idx+1:])
			if strings.HasPrefix(qpart, "q=") {
				if v, err := strconv.ParseFloat(qpart[2:], 64); err == nil {
					q = v
				}
			}
		}
		if q > 0 {
			out[strings.ToLower(name)] = true
		}
	}
	return out
}

// shannonEntropy is the 256-byte advisory probe spec §4.F describes: high
// entropy with no detected structure suggests the payload is already
// compressed or encrypted, so compression would waste CPU for no gain.
func shannonEntropy(sample []byte) float64 {
	if len(sample) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range sample {
		freq[b]++
	}
	entropy := 0.0
	n := float64(len(sample))
	for _, c := range freq {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func uniqueByteRatio(sample []byte) float64 {
	if len(sample) == 0 {
		return 0
	}
	var seen [256]bool
	unique := 0
	for _, b := range sample {
		if !seen[b] {
			seen[b] = true
			unique++
		}
	}
	return float64(unique) / float64(len(sample))
}

// hasShortPeriodRepetition detects a repeating block of period <= 8 within
// the sample, the cheap structural signal the smart probe uses to avoid
// skipping compression on highly-repetitive (and so still compressible)
// data despite high entropy.
func hasShortPeriodRepetition(sample []byte) bool {
	for period := 1; period <= 8 && period*3 <= len(sample); period++ {
		matches := true
		for i := period; i < period*3; i++ {
			if sample[i] != sample[i%period] {
				matches = false
				break
			}
		}
		if matches {
			return true
		}
	}
	return false
}

// shouldSkipBySmartProbe implements the advisory probe: entropy > 7.0 and
// no detected structure skips compression (spec §4.F). It is never
// authoritative — callers treat its output as a hint layered on top of the
// size-floor and exclusion checks, never a correctness requirement.
func shouldSkipBySmartProbe(body []byte) bool {
	sampleLen := 256
	if len(body) < sampleLen {
		sampleLen = len(body)
	}
	sample := body[:sampleLen]
	if shannonEntropy(sample) <= 7.0 {
		return false
	}
	if hasShortPeriodRepetition(sample) {
		return false
	}
	// High entropy alone can come from small-alphabet structured binary data
	// too; require most byte values in the sample to be distinct before
	// calling it indistinguishable from already-compressed/encrypted.
	if uniqueByteRatio(sample) < 0.9 {
		return false
	}
	return true
}

// Gate applies the compression policy to one response body. It returns the
// (possibly unchanged) body, the Content-Encoding value to set (empty for
// identity), and whether compression was applied. A handler that already set
// Content-Encoding is assumed to have pre-encoded its own body; the gate
// leaves it untouched rather than compressing it a second time (spec §4.F).
func Gate(cfg CompressionConfig, acceptEncoding, contentType, requestPath, existingEncoding string, body []byte) ([]byte, string, bool) {
	if existingEncoding != "" {
		return body, "", false
	}
	if isExcluded(contentType, requestPath) {
		return body, "", false
	}
	if len(body) < cfg.SizeFloor {
		return body, "", false
	}
	if cfg.SmartProbe && shouldSkipBySmartProbe(body) {
		return body, "", false
	}
	alg := negotiate(acceptEncoding, cfg)
	if alg == AlgIdentity {
		return body, "", false
	}
	enc, ok := encoders[alg]
	if !ok {
		return body, "", false
	}
	compressed, err := enc(body)
	if err != nil {
		return body, "", false
	}
	return compressed, string(alg), true
}

// ApplyHeaders writes Content-Encoding, Content-Length, and the
// X-Compressed-Size diagnostic header after a successful Gate call
// (spec §4.F "On success").
func ApplyHeaders(w http.ResponseWriter, encoding string, compressedLen, originalLen int) {
	w.Header().Set("Content-Encoding", encoding)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", compressedLen))
	w.Header().Set("X-Compressed-Size", fmt.Sprintf("%d/%d", compressedLen, originalLen))
}

// decoders mirrors encoders; Decode uses it to reverse whatever the
// compression gate encoded.
var decoders = map[Algorithm]func([]byte) ([]byte, error){
	AlgGzip: func(data []byte) ([]byte, error) {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	},
	AlgDeflate: func(data []byte) ([]byte, error) {
		r := flate.NewReader(bytes.NewReader(data))
		defer r.Close()
		return io.ReadAll(r)
	},
	AlgBrotli: func(data []byte) ([]byte, error) {
		return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
	},
	AlgZstd: func(data []byte) ([]byte, error) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	},
	AlgLZ4: func(data []byte) ([]byte, error) {
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	},
}

// Decode reverses Gate's encoding given the Content-Encoding value.
func Decode(encoding string, data []byte) ([]byte, error) {
	dec, ok := decoders[Algorithm(encoding)]
	if !ok {
		return data, nil
	}
	return dec(data)
}
