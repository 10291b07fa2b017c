// Package clientpool implements the client-side HTTP/2 connection pool
// (spec §4.I): per-origin connection reuse, idle and keepalive maintenance,
// and graceful shutdown draining.
package clientpool

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ratengine/rengine/rerr"
)

// Config is the pool's fixed configuration, set once at construction
// (spec §4.I pool state).
type Config struct {
	MaxConnections    int
	MaxPerOrigin      int
	IdleTimeout       time.Duration
	KeepaliveInterval time.Duration
	ConnectTimeout    time.Duration
	CleanupInterval   time.Duration
	TLSConfig         *tls.Config
}

// DefaultConfig returns reasonable defaults for an embedded client pool.
func DefaultConfig() Config {
	return Config{
		MaxConnections:    256,
		MaxPerOrigin:      8,
		IdleTimeout:       90 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		ConnectTimeout:    10 * time.Second,
		CleanupInterval:   15 * time.Second,
	}
}

type connEntry struct {
	id         uint64
	origin     string
	conn       net.Conn
	cc         *http2.ClientConn
	usageCount atomic.Int64
	lastActive atomic.Int64 // unix nanos
	active     atomic.Bool
	// pending marks a slot reserved by reserve() whose dial hasn't finished
	// yet: maintain's evictIdle must never reclaim it, or the reservation
	// it exists to enforce is pointless.
	pending atomic.Bool
}

func (e *connEntry) touch() {
	e.lastActive.Store(time.Now().UnixNano())
}

func (e *connEntry) idleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, e.lastActive.Load()))
}

// Pool is the client connection pool described in spec §4.I.
type Pool struct {
	cfg       Config
	transport *http2.Transport
	logger    *zap.Logger

	mu          sync.RWMutex
	conns       map[uint64]*connEntry
	originIndex map[string][]uint64
	nextID      atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a pool and starts its maintenance task. logger may be nil.
func New(cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		cfg:         cfg,
		logger:      logger,
		conns:       make(map[uint64]*connEntry),
		originIndex: make(map[string][]uint64),
		stopCh:      make(chan struct{}),
		transport: &http2.Transport{
			AllowHTTP:       false,
			MaxReadFrameSize: 1 << 20, // spec §4.I: max frame size 1 MiB
		},
	}
	p.wg.Add(1)
	go p.maintain()
	return p
}

// GetConnection returns a ready HTTP/2 client connection for uri's origin,
// reusing an existing one when available (spec §4.I get_connection).
func (p *Pool) GetConnection(ctx context.Context, rawURL string) (*http2.ClientConn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, rerr.Newf(rerr.Network, "parsing target uri: %v", err)
	}
	origin := u.Scheme + "://" + u.Host

	if cc, ok := p.reuse(origin); ok {
		return cc, nil
	}

	entry, err := p.reserve(origin)
	if err != nil {
		return nil, err
	}

	cc, err := p.dial(ctx, u, entry)
	if err != nil {
		p.mu.Lock()
		p.removeLocked(entry.id, entry)
		p.mu.Unlock()
		return nil, err
	}
	return cc, nil
}

// reserve claims a slot for origin, checking both caps and inserting a
// placeholder entry in the same critical section (spec §8 invariant 5: the
// pool must never exceed max_per_origin/max_connections for any interleaving
// of get_connection calls). The slow dial that follows happens outside the
// lock; the placeholder keeps concurrent callers from all passing the cap
// check before any of them lands.
func (p *Pool) reserve(origin string) (*connEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.originIndex[origin]) >= p.cfg.MaxPerOrigin || len(p.conns) >= p.cfg.MaxConnections {
		return nil, rerr.New(rerr.Network, "pool exhausted")
	}
	entry := &connEntry{id: p.nextID.Add(1), origin: origin}
	entry.pending.Store(true)
	p.conns[entry.id] = entry
	p.originIndex[origin] = append(p.originIndex[origin], entry.id)
	return entry, nil
}

// reuse scans the origin's existing connections for the first one still
// able to take a new request, bumping its usage counter and last-active
// time (spec §4.I step 2).
func (p *Pool) reuse(origin string) (*http2.ClientConn, bool) {
	p.mu.RLock()
	ids := p.originIndex[origin]
	p.mu.RUnlock()

	for _, id := range ids {
		p.mu.RLock()
		entry, ok := p.conns[id]
		p.mu.RUnlock()
		if !ok || !entry.active.Load() {
			continue
		}
		if entry.cc.CanTakeNewRequest() {
			entry.usageCount.Add(1)
			entry.touch()
			return entry.cc, true
		}
	}
	return nil, false
}

// dial performs the actual TCP+TLS+HTTP/2 handshake for a slot entry already
// reserved by reserve(), and finalizes entry in place once it succeeds.
func (p *Pool) dial(ctx context.Context, u *url.URL, entry *connEntry) (*http2.ClientConn, error) {
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		if u.Scheme == "https" {
			host = net.JoinHostPort(host, "443")
		} else {
			host = net.JoinHostPort(host, "80")
		}
	}

	dialer := &net.Dialer{Timeout: p.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, rerr.Newf(rerr.Network, "dialing %s: %v", host, err)
	}
	if tcp, ok := rawConn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	conn := rawConn
	if u.Scheme == "https" {
		hostname, _, _ := net.SplitHostPort(host)
		cfg := p.cfg.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		cfg = cfg.Clone()
		cfg.ServerName = hostname
		cfg.NextProtos = []string{"h2"}
		tlsConn := tls.Client(rawConn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, rerr.Newf(rerr.Network, "tls handshake with %s: %v", host, err)
		}
		conn = tlsConn
	}

	cc, err := p.transport.NewClientConn(conn)
	if err != nil {
		conn.Close()
		return nil, rerr.Newf(rerr.Network, "http/2 handshake with %s: %v", host, err)
	}

	p.mu.Lock()
	entry.conn = conn
	entry.cc = cc
	entry.touch()
	entry.active.Store(true)
	entry.pending.Store(false)
	p.mu.Unlock()

	return cc, nil
}

// maintain runs the periodic eviction and keepalive sweep spec §4.I
// describes, until Shutdown is called.
func (p *Pool) maintain() {
	defer p.wg.Done()
	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	keepalive := time.NewTicker(p.cfg.KeepaliveInterval)
	defer cleanup.Stop()
	defer keepalive.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-cleanup.C:
			p.evictIdle()
		case <-keepalive.C:
			p.sweepKeepalive()
		}
	}
}

func (p *Pool) evictIdle() {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, entry := range p.conns {
		if entry.pending.Load() {
			continue // dial in flight: its reserved slot must survive until dial() finalizes or fails it
		}
		if !entry.active.Load() || entry.idleSince(now) > p.cfg.IdleTimeout || !entry.cc.CanTakeNewRequest() {
			p.removeLocked(id, entry)
		}
	}
}

// sweepKeepalive touches last_active on every ready connection, the
// placeholder liveness sweep spec §4.I's maintenance task describes —
// it is deliberately not an actual HTTP/2 PING round trip.
func (p *Pool) sweepKeepalive() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, entry := range p.conns {
		if entry.active.Load() && entry.cc.CanTakeNewRequest() {
			entry.touch()
		}
	}
}

func (p *Pool) removeLocked(id uint64, entry *connEntry) {
	entry.active.Store(false)
	entry.pending.Store(false)
	if entry.conn != nil {
		_ = entry.conn.Close()
	}
	delete(p.conns, id)
	ids := p.originIndex[entry.origin]
	for i, existing := range ids {
		if existing == id {
			p.originIndex[entry.origin] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(p.originIndex[entry.origin]) == 0 {
		delete(p.originIndex, entry.origin)
	}
}

// Shutdown signals the maintenance task to stop, drains and closes every
// connection, and returns once done or ctx's deadline passes — whichever
// is first, honoring the "short grace period" spec §4.I specifies.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("maintenance task did not stop within grace period")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, entry := range p.conns {
		entry.active.Store(false)
		if entry.conn != nil {
			_ = entry.conn.Close()
		}
		delete(p.conns, id)
	}
	p.originIndex = make(map[string][]uint64)
	return nil
}

// Len reports the current number of pooled connections, for diagnostics.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}
