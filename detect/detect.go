// Package detect implements the connection protocol detector (spec §4.C):
// it inspects the first up to 1024 bytes peeked from a TCP stream and
// classifies what dialect is about to arrive, without consuming bytes the
// rest of the pipeline still needs to see.
package detect

import (
	"bufio"
	"bytes"
	"net"
	"strings"
	"time"

	"github.com/pires/go-proxyproto"

	"github.com/ratengine/rengine/rerr"
)

// Kind classifies the stream that follows the peeked bytes.
type Kind int

const (
	// Unknown is treated as HTTP/1.1 per spec §4.C step 6.
	Unknown Kind = iota
	TLS
	GRPC
	HTTP1
	// HTTP2Cleartext is the cleartext HTTP/2 connection preface. A Mixed
	// listener answers it with HTTP/1.1 426; an HTTPOnly listener serves it
	// as h2c.
	HTTP2Cleartext
)

func (k Kind) String() string {
	switch k {
	case TLS:
		return "tls"
	case GRPC:
		return "grpc"
	case HTTP1:
		return "http1"
	case HTTP2Cleartext:
		return "http2-cleartext"
	default:
		return "unknown"
	}
}

// PeekWindow is the maximum number of bytes inspected before classifying.
const PeekWindow = 1024

// DefaultPeekTimeout is the slow-loris defense: absence of any byte within
// this window closes the connection silently (spec §4.C, §5).
const DefaultPeekTimeout = 1 * time.Second

var (
	proxyV2Signature = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}
	http2Preface     = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")
)

// ProxyInfo carries the fields exposed out of a parsed PROXY v2 header.
type ProxyInfo struct {
	SrcAddr net.Addr
	DstAddr net.Addr
	ALPN    string
	TLVs    []proxyproto.TLV
}

// Result is the outcome of a single detection pass. Proxy is non-nil only
// when a PROXY v2 header preceded the classified stream.
type Result struct {
	Kind  Kind
	Proxy *ProxyInfo
}

// peekConn wraps conn so the peeked bytes are non-destructively replayed:
// all later Reads are served by the same bufio.Reader used to peek, which
// falls through to conn once its buffer is exhausted.
type peekConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *peekConn) Read(p []byte) (int, error) { return c.br.Read(p) }

// Detect peeks up to PeekWindow bytes from conn within timeout and
// classifies the stream. It returns a net.Conn that replays the peeked
// bytes to subsequent readers — callers must use the returned conn, not
// the original, for all further I/O.
//
// A PROXY v2 header, if present, is parsed and stripped; detection then
// recurses on the remainder so Result.Kind always describes the payload
// protocol, never "proxy-v2" itself.
func Detect(conn net.Conn, timeout time.Duration) (net.Conn, *Result, error) {
	if timeout <= 0 {
		timeout = DefaultPeekTimeout
	}
	br := bufio.NewReaderSize(conn, PeekWindow)

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, rerr.New(rerr.Network, "detect: set read deadline: "+err.Error())
	}
	peeked, peekErr := peekIncremental(br)
	if len(peeked) == 0 {
		if peekErr != nil {
			return nil, nil, rerr.New(rerr.Timeout, "detect: no bytes within peek window")
		}
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, nil, rerr.New(rerr.Network, "detect: clear read deadline: "+err.Error())
	}

	wrapped := &peekConn{Conn: conn, br: br}

	if isProxyV2(peeked) {
		header, err := proxyproto.Read(br)
		if err != nil {
			return nil, nil, rerr.New(rerr.Protocol, "detect: malformed PROXY v2 header: "+err.Error())
		}
		info := &ProxyInfo{SrcAddr: header.SourceAddr, DstAddr: header.DestinationAddr}
		if tlvs, err := header.TLVs(); err == nil {
			info.TLVs = tlvs
			for _, tlv := range tlvs {
				if tlv.Type == proxyproto.PP2_TYPE_ALPN {
					info.ALPN = string(tlv.Value)
				}
			}
		}
		// Recurse on the remainder of the same connection, and hand back
		// the conn the recursive call produced: it wraps the bufio.Reader
		// that actually holds the post-header bytes peeked during the
		// recursion, which `wrapped` here does not.
		innerConn, inner, err := Detect(wrapped, timeout)
		if err != nil {
			return nil, nil, err
		}
		inner.Proxy = info
		return innerConn, inner, nil
	}

	return wrapped, &Result{Kind: classify(peeked)}, nil
}

// peekIncremental returns as soon as the buffered bytes are enough to
// settle on a Kind, instead of always demanding a full PeekWindow: almost
// every real first flight (a plain HTTP/1.1 request line, most TLS
// ClientHellos) is far smaller than that, and forcing the full window
// would stall classification of each one until the peek timeout fires.
// It only reads further when the bytes in hand are genuinely ambiguous.
func peekIncremental(br *bufio.Reader) ([]byte, error) {
	if _, err := br.Peek(1); err != nil {
		avail, _ := br.Peek(br.Buffered())
		return avail, err
	}
	for {
		avail, _ := br.Peek(br.Buffered())
		if classificationConclusive(avail) || len(avail) >= PeekWindow {
			return avail, nil
		}
		want := len(avail) + 1
		if want > PeekWindow {
			want = PeekWindow
		}
		if _, err := br.Peek(want); err != nil {
			// No further bytes before the deadline/EOF; classify with
			// whatever is already in hand.
			avail, _ := br.Peek(br.Buffered())
			return avail, nil
		}
	}
}

// classificationConclusive reports whether peeked already settles on a
// Kind. A byte sequence that is still a valid prefix of the PROXY v2
// signature is never conclusive on its own — the signature's fixed
// 12-byte length must be reached before it can be ruled in or out.
func classificationConclusive(peeked []byte) bool {
	if len(peeked) == 0 {
		return false
	}
	if n := len(proxyV2Signature); len(peeked) < n && bytes.HasPrefix(proxyV2Signature, peeked) {
		return false
	}
	return classify(peeked) != Unknown
}

func isProxyV2(peeked []byte) bool {
	return len(peeked) >= 13 &&
		bytes.Equal(peeked[:12], proxyV2Signature) &&
		peeked[12]>>4 == 2
}

func classify(peeked []byte) Kind {
	if len(peeked) == 0 {
		return Unknown
	}
	if peeked[0] == 0x16 {
		return TLS
	}
	if looksLikeGRPC(peeked) {
		return GRPC
	}
	if looksLikeHTTP1RequestLine(peeked) {
		return HTTP1
	}
	if len(peeked) >= len(http2Preface) && bytes.Equal(peeked[:len(http2Preface)], http2Preface) {
		return HTTP2Cleartext
	}
	return Unknown
}

// looksLikeGRPC applies the three textual signals from spec §4.C step 3:
// a grpc content-type, a `TE: trailers` header, or a grpc-flavored
// User-Agent, searched within the peeked header block.
func looksLikeGRPC(peeked []byte) bool {
	text := strings.ToLower(string(peeked))
	if idx := strings.Index(text, "content-type:"); idx >= 0 {
		rest := text[idx+len("content-type:"):]
		rest = strings.TrimLeft(rest, " ")
		if strings.HasPrefix(rest, "application/grpc") {
			return true
		}
	}
	if strings.Contains(text, "te: trailers") {
		return true
	}
	if idx := strings.Index(text, "user-agent:"); idx >= 0 {
		end := strings.Index(text[idx:], "\r\n")
		var ua string
		if end < 0 {
			ua = text[idx:]
		} else {
			ua = text[idx : idx+end]
		}
		if strings.Contains(ua, "grpc") {
			return true
		}
	}
	return false
}

// looksLikeHTTP1RequestLine matches "METHOD SP target SP HTTP/1." in the
// first line of the peeked bytes.
func looksLikeHTTP1RequestLine(peeked []byte) bool {
	nl := bytes.IndexByte(peeked, '\n')
	line := peeked
	if nl >= 0 {
		line = peeked[:nl]
	}
	line = bytes.TrimRight(line, "\r")
	parts := bytes.SplitN(line, []byte(" "), 3)
	if len(parts) != 3 {
		return false
	}
	if !isHTTPMethod(parts[0]) {
		return false
	}
	return bytes.HasPrefix(parts[2], []byte("HTTP/1."))
}

var httpMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "HEAD": true,
	"OPTIONS": true, "PATCH": true, "CONNECT": true, "TRACE": true,
}

func isHTTPMethod(b []byte) bool {
	return httpMethods[string(b)]
}
