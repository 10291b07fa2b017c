package engine

import "time"

// KeepaliveParameters holds HTTP/2 keepalive settings, generalized from the
// teacher's gRPC-specific keepalive knobs to every protocol the engine serves
// over HTTP/2 (spec §4.L/§5). The acceptor reads only Time, as the HTTP/2
// server's idle timeout; it sends no keepalive PINGs, and Timeout and
// PermitWithoutStream are not read.
type KeepaliveParameters struct {
	// Time is how long an HTTP/2 connection may stay idle before the server
	// closes it.
	Time time.Duration
	// Timeout for keepalive ping acknowledgement before the connection
	// is considered dead.
	Timeout time.Duration
	// PermitWithoutStream allows pings even when there are no active streams.
	PermitWithoutStream bool
}

// KeepaliveEnforcementPolicy describes how strict the server is about
// excessive client pings. The acceptor does not read it, so no ping
// enforcement is applied.
type KeepaliveEnforcementPolicy struct {
	// MinTime is the minimum time between client pings without data.
	MinTime time.Duration
	// PermitWithoutStream allows client pings with no active streams.
	PermitWithoutStream bool
	// MaxPingStrikes is how many bad pings are tolerated before closing
	// the connection; 0 means unlimited.
	MaxPingStrikes int
}

// DefaultKeepaliveParams returns conservative defaults suitable for direct
// (non-proxied) deployments.
func DefaultKeepaliveParams() KeepaliveParameters {
	return KeepaliveParameters{
		Time:                2 * time.Hour,
		Timeout:             20 * time.Second,
		PermitWithoutStream: false,
	}
}

// DefaultKeepaliveEnforcementPolicy returns the default server-side
// enforcement policy.
func DefaultKeepaliveEnforcementPolicy() KeepaliveEnforcementPolicy {
	return KeepaliveEnforcementPolicy{
		MinTime:             5 * time.Minute,
		PermitWithoutStream: false,
		MaxPingStrikes:      2,
	}
}
