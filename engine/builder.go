package engine

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ratengine/rengine/grpcsvc"
	"github.com/ratengine/rengine/router"
	"github.com/ratengine/rengine/sse"
)

var validate = validator.New()

// Options collects everything an Engine needs to run; built with
// functional options the way the teacher's gateway.Options is.
type Options struct {
	Listeners          []ListenerConfig `validate:"required,min=1,dive"`
	Router             *router.Router
	Dispatcher         *grpcsvc.Dispatcher
	Registry           *grpcsvc.Registry
	SSE                *sse.Manager
	Logger             *zap.Logger
	MaxConnections     int64
	HandshakeTimeout   time.Duration
	PeekTimeout        time.Duration
	Keepalive          KeepaliveParameters
	KeepaliveEnforce   KeepaliveEnforcementPolicy
	ShutdownGrace      time.Duration
}

// Option mutates an in-progress Options.
type Option func(*Options)

// WithListener adds one listener configuration. Called more than once,
// this is the separated-ports deployment the spec describes.
func WithListener(cfg ListenerConfig) Option {
	return func(o *Options) { o.Listeners = append(o.Listeners, cfg) }
}

// WithRouter sets the HTTP router serving unary and streaming handlers.
func WithRouter(r *router.Router) Option {
	return func(o *Options) { o.Router = r }
}

// WithGRPC wires a registry and its dispatcher for gRPC-pattern calls.
func WithGRPC(registry *grpcsvc.Registry, dispatcher *grpcsvc.Dispatcher) Option {
	return func(o *Options) {
		o.Registry = registry
		o.Dispatcher = dispatcher
	}
}

// WithSSE wires the broadcast manager for server-sent events.
func WithSSE(m *sse.Manager) Option {
	return func(o *Options) { o.SSE = m }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMaxConnections caps concurrently in-flight connections across every
// listener (spec §4.L); this is distinct from the per-origin client pool
// cap in package clientpool.
func WithMaxConnections(n int64) Option {
	return func(o *Options) { o.MaxConnections = n }
}

// WithHandshakeTimeout bounds how long a TLS handshake may take before the
// connection is dropped.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *Options) { o.HandshakeTimeout = d }
}

// WithPeekTimeout overrides the protocol-detection peek timeout
// (detect.DefaultPeekTimeout otherwise).
func WithPeekTimeout(d time.Duration) Option {
	return func(o *Options) { o.PeekTimeout = d }
}

// WithKeepalive overrides the HTTP/2 keepalive parameters and enforcement
// policy stored in Options; see KeepaliveParameters for which of them the
// acceptor reads.
func WithKeepalive(params KeepaliveParameters, enforce KeepaliveEnforcementPolicy) Option {
	return func(o *Options) {
		o.Keepalive = params
		o.KeepaliveEnforce = enforce
	}
}

// WithShutdownGrace records a drain bound in Options.ShutdownGrace.
// Engine.Shutdown does not read it: Shutdown is bounded by the context it is
// given, and it waits for the accept loops only, not for in-flight
// connections, which it does not close.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *Options) { o.ShutdownGrace = d }
}

func defaultOptions() Options {
	return Options{
		Router:           router.New(),
		Registry:         grpcsvc.NewRegistry(),
		SSE:              sse.New(),
		Logger:           zap.NewNop(),
		MaxConnections:   10_000,
		HandshakeTimeout: 10 * time.Second,
		PeekTimeout:      0,
		Keepalive:        DefaultKeepaliveParams(),
		KeepaliveEnforce: DefaultKeepaliveEnforcementPolicy(),
		ShutdownGrace:    30 * time.Second,
	}
}

func build(opts ...Option) (*Options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Dispatcher == nil && o.Registry != nil {
		o.Dispatcher = grpcsvc.NewDispatcher(o.Registry, o.Logger)
	}
	if err := validate.Struct(&o); err != nil {
		return nil, fmt.Errorf("engine: invalid options: %w", err)
	}
	for _, l := range o.Listeners {
		if l.requiresTLS() && l.TLS == nil {
			return nil, fmt.Errorf("engine: listener %q is grpc_only and requires TLS", l.Name)
		}
	}
	return &o, nil
}
