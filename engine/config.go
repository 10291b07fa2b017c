package engine

import "github.com/ratengine/rengine/tlsacceptor"

// Mode is the role of a single listener (spec §4.L). The separated-ports
// role is not a Mode: it is several ListenerConfigs run side by side.
type Mode int

const (
	// HTTPOnly serves HTTP/1.1 and HTTP/2, over TLS when certs are present,
	// cleartext HTTP/2 otherwise.
	HTTPOnly Mode = iota
	// GRPCOnly requires TLS and rejects any cleartext socket outright.
	GRPCOnly
	// Mixed peeks each socket and demuxes by TLS presence and, once
	// handshaked, by negotiated ALPN.
	Mixed
)

func (m Mode) String() string {
	switch m {
	case HTTPOnly:
		return "http_only"
	case GRPCOnly:
		return "grpc_only"
	case Mixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// ListenerConfig describes one listener the Connection Acceptor runs
// (spec §4.L). Two ListenerConfigs with different Mode/TLS values running
// side by side is the "separated-ports" configuration.
type ListenerConfig struct {
	Name          string `validate:"required"`
	Addr          string `validate:"required"`
	Mode          Mode
	TLS           *tlsacceptor.CertManager
	MTLSCABundle  []byte
	MTLSWhitelist []string
}

func (c ListenerConfig) requiresTLS() bool {
	return c.Mode == GRPCOnly
}
