package engine

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/sync/semaphore"

	"github.com/ratengine/rengine/detect"
	"github.com/ratengine/rengine/rerr"
	"github.com/ratengine/rengine/router"
	"github.com/ratengine/rengine/tlsacceptor"
)

// acceptor runs the accept loop for a single ListenerConfig (spec §4.L):
// peek-classify each socket, demux to the right protocol handler, and
// enforce the engine-wide connection-slot cap.
type acceptor struct {
	cfg     ListenerConfig
	opts    *Options
	sem     *semaphore.Weighted
	handler http.Handler
	h2srv   *http2.Server
	logger  *zap.Logger
}

func newAcceptor(cfg ListenerConfig, opts *Options, sem *semaphore.Weighted) *acceptor {
	return &acceptor{
		cfg:     cfg,
		opts:    opts,
		sem:     sem,
		handler: newCombinedHandler(opts),
		h2srv: &http2.Server{
			IdleTimeout: opts.Keepalive.Time,
		},
		logger: opts.Logger.With(zap.String("listener", cfg.Name)),
	}
}

// run accepts connections until ctx is cancelled or the listener errors.
func (a *acceptor) run(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if !a.sem.TryAcquire(1) {
			a.logger.Warn("connection rejected: engine at capacity")
			conn.Close()
			continue
		}
		go func() {
			defer a.sem.Release(1)
			a.handleConn(ctx, conn)
		}()
	}
}

func (a *acceptor) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	switch a.cfg.Mode {
	case GRPCOnly:
		a.serveGRPCOnly(ctx, conn)
	case HTTPOnly:
		a.serveHTTPOnly(ctx, conn)
	case Mixed:
		a.serveMixed(ctx, conn)
	}
}

// serveGRPCOnly requires TLS; any cleartext socket is dropped outright
// per spec §4.L (GRPCOnly never accepts h2c).
func (a *acceptor) serveGRPCOnly(ctx context.Context, conn net.Conn) {
	if a.cfg.TLS == nil {
		a.logger.Error("grpc_only listener has no TLS configured")
		return
	}
	tlsConn, proto, err := a.handshake(conn)
	if err != nil {
		a.logger.Debug("grpc_only handshake failed", zap.Error(err))
		return
	}
	if proto != "h2" {
		a.logger.Debug("grpc_only rejected non-h2 ALPN", zap.String("proto", proto))
		return
	}
	a.serveH2(ctx, tlsConn)
}

// serveHTTPOnly peeks the socket, handshakes TLS only if present, and
// dispatches HTTP/1.1, h2 or (when unencrypted) h2c accordingly.
func (a *acceptor) serveHTTPOnly(ctx context.Context, conn net.Conn) {
	wrapped, result, err := detect.Detect(conn, a.opts.PeekTimeout)
	if err != nil {
		a.logger.Debug("detect failed", zap.Error(err))
		return
	}
	ctx = withProxyClientIP(ctx, result)

	switch result.Kind {
	case detect.TLS:
		if a.cfg.TLS == nil {
			a.logger.Error("http_only listener saw TLS but has no certificates configured")
			return
		}
		tlsConn, proto, err := a.handshake(wrapped)
		if err != nil {
			a.logger.Debug("http_only handshake failed", zap.Error(err))
			return
		}
		if proto == "h2" {
			a.serveH2(ctx, tlsConn)
			return
		}
		a.serveH1(ctx, tlsConn)
	case detect.HTTP2Cleartext:
		a.serveH2C(ctx, wrapped)
	case detect.GRPC:
		a.writeRejection(wrapped)
	default:
		a.serveH1(ctx, wrapped)
	}
}

// serveMixed peeks, demands TLS for anything but plain HTTP/1.1, and
// forbids cleartext gRPC outright (spec §4.L, §9): a gRPC or h2c client that
// skips TLS gets no gRPC framing back, only an HTTP/1.1 426 response before
// the socket is closed.
func (a *acceptor) serveMixed(ctx context.Context, conn net.Conn) {
	wrapped, result, err := detect.Detect(conn, a.opts.PeekTimeout)
	if err != nil {
		a.logger.Debug("detect failed", zap.Error(err))
		return
	}
	ctx = withProxyClientIP(ctx, result)

	switch result.Kind {
	case detect.TLS:
		if a.cfg.TLS == nil {
			a.logger.Error("mixed listener saw TLS but has no certificates configured")
			return
		}
		tlsConn, proto, err := a.handshake(wrapped)
		if err != nil {
			a.logger.Debug("mixed handshake failed", zap.Error(err))
			return
		}
		if proto == "h2" {
			a.serveH2(ctx, tlsConn)
			return
		}
		a.serveH1(ctx, tlsConn)
	case detect.GRPC, detect.HTTP2Cleartext:
		a.writeRejection(wrapped)
	default:
		a.serveH1(ctx, wrapped)
	}
}

// handshake runs the TLS server handshake using the listener's
// CertManager and mTLS configuration, returning the negotiated ALPN
// protocol alongside the wrapped connection.
func (a *acceptor) handshake(conn net.Conn) (*tls.Conn, string, error) {
	cfg := a.cfg.TLS.ServerTLSConfig(a.cfg.Name, a.cfg.requiresTLS())
	if len(a.cfg.MTLSCABundle) > 0 {
		withMTLS, err := tlsacceptor.WithMTLS(cfg, a.cfg.MTLSCABundle)
		if err != nil {
			return nil, "", err
		}
		cfg = withMTLS
	}

	deadline := a.opts.HandshakeTimeout
	if deadline > 0 {
		if err := conn.SetDeadline(time.Now().Add(deadline)); err != nil {
			return nil, "", rerr.New(rerr.Network, "engine: set handshake deadline: "+err.Error())
		}
	}
	tlsConn := tls.Server(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, "", rerr.New(rerr.Protocol, "engine: tls handshake: "+err.Error())
	}
	if deadline > 0 {
		_ = conn.SetDeadline(time.Time{})
	}
	return tlsConn, tlsConn.ConnectionState().NegotiatedProtocol, nil
}

func (a *acceptor) serveH2(ctx context.Context, conn net.Conn) {
	a.h2srv.ServeConn(conn, &http2.ServeConnOpts{
		Context: ctx,
		Handler: a.handler,
	})
}

func (a *acceptor) serveH2C(ctx context.Context, conn net.Conn) {
	a.serveH2(ctx, conn)
}

func (a *acceptor) serveH1(ctx context.Context, conn net.Conn) {
	srv := &http.Server{
		Handler:     a.handler,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	_ = srv.Serve(newOneConnListener(conn))
}

func (a *acceptor) writeRejection(conn net.Conn) {
	resp := "HTTP/1.1 426 Upgrade Required\r\nUpgrade: HTTP/2.0\r\nContent-Length: 0\r\n\r\n"
	_, _ = conn.Write([]byte(resp))
}

// withProxyClientIP threads the PROXY-v2-derived source address, when
// present, into ctx as the request's effective client IP (spec §4.E step 1,
// §6) so it reaches both the router's deny-set and router.ClientIP.
func withProxyClientIP(ctx context.Context, result *detect.Result) context.Context {
	if result.Proxy == nil || result.Proxy.SrcAddr == nil {
		return ctx
	}
	ip := result.Proxy.SrcAddr.String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return router.WithClientIP(ctx, ip)
}
