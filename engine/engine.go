// Package engine implements the Connection Acceptor and the embeddable
// runtime that wires the router, gRPC dispatcher and SSE manager behind it
// (spec §4.L). It is the top-level entry point an embedding program calls.
package engine

import (
	"context"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ratengine/rengine/grpcsvc"
	"github.com/ratengine/rengine/router"
	"github.com/ratengine/rengine/sse"
)

// Engine runs one or more listeners concurrently and tears them all down
// together on Shutdown.
type Engine struct {
	opts      *Options
	sem       *semaphore.Weighted
	listeners []net.Listener
	cancel    context.CancelFunc
	group     *errgroup.Group
	logger    *zap.Logger
	ready     chan struct{}
}

// New builds an Engine from the given options without binding any sockets.
func New(opts ...Option) (*Engine, error) {
	built, err := build(opts...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		opts:   built,
		sem:    semaphore.NewWeighted(built.MaxConnections),
		logger: built.Logger,
		ready:  make(chan struct{}),
	}, nil
}

// Addrs blocks until every listener is bound, then returns their network
// addresses in the same order the listeners were configured. Intended for
// tests and for callers that configured an ephemeral ":0" port.
func (e *Engine) Addrs(ctx context.Context) ([]net.Addr, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	addrs := make([]net.Addr, len(e.listeners))
	for i, ln := range e.listeners {
		addrs[i] = ln.Addr()
	}
	return addrs, nil
}

// Router exposes the engine's HTTP router so callers can register routes
// before or after construction.
func (e *Engine) Router() *router.Router { return e.opts.Router }

// GRPC exposes the gRPC method registry for handler registration.
func (e *Engine) GRPC() *grpcsvc.Registry { return e.opts.Registry }

// SSE exposes the server-sent events broadcast manager.
func (e *Engine) SSE() *sse.Manager { return e.opts.SSE }

// Run binds every configured listener and serves until ctx is cancelled
// or any listener fails irrecoverably.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	e.group = group

	for _, cfg := range e.opts.Listeners {
		cfg := cfg
		ln, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			cancel()
			return err
		}
		e.listeners = append(e.listeners, ln)

		a := newAcceptor(cfg, e.opts, e.sem)
		group.Go(func() error {
			return a.run(groupCtx, ln)
		})
		e.logger.Info("listener started", zap.String("name", cfg.Name), zap.String("addr", cfg.Addr), zap.String("mode", cfg.Mode.String()))
	}
	close(e.ready)

	return group.Wait()
}

// Shutdown cancels the run context, which stops every accept loop, then
// closes any listener still open.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	for _, ln := range e.listeners {
		_ = ln.Close()
	}
	if e.group != nil {
		done := make(chan error, 1)
		go func() { done <- e.group.Wait() }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
