// Package tlsacceptor implements the TLS acceptor (spec §4.K): certificate
// sourcing in three modes, mTLS client verification, ECDSA-only leaf
// validation, and ALPN advertisement/routing.
package tlsacceptor

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ratengine/rengine/rerr"
)

// Mode is one of the three certificate configuration modes spec §4.K names.
type Mode int

const (
	// Shared serves one certificate for every listener, HTTP and gRPC alike.
	Shared Mode = iota
	// Separated serves a distinct certificate per listener role.
	Separated
	// SNIDirectory resolves a certificate per SNI hostname from a
	// directory of domain.pem/domain-key.pem pairs.
	SNIDirectory
)

// CertManager sources server certificates for one of the three modes and
// exposes a tls.Config.GetCertificate callback per listener.
type CertManager struct {
	mode Mode

	mu         sync.RWMutex
	shared     *tls.Certificate
	byListener map[string]*tls.Certificate
	sni        *sniResolver
}

// NewShared loads one certificate used for every listener (spec §4.K mode 1).
func NewShared(certFile, keyFile string) (*CertManager, error) {
	cert, err := loadValidatedKeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &CertManager{mode: Shared, shared: cert}, nil
}

// NewSeparated loads a distinct certificate per listener key ("http", "grpc",
// or any caller-chosen name) (spec §4.K mode 2).
func NewSeparated(certsByListener map[string][2]string) (*CertManager, error) {
	byListener := make(map[string]*tls.Certificate, len(certsByListener))
	for listener, pair := range certsByListener {
		cert, err := loadValidatedKeyPair(pair[0], pair[1])
		if err != nil {
			return nil, err
		}
		byListener[listener] = cert
	}
	return &CertManager{mode: Separated, byListener: byListener}, nil
}

// NewSNIDirectory loads every domain.pem/domain-key.pem pair in dir into an
// SNI resolver (spec §4.K mode 3).
func NewSNIDirectory(dir string) (*CertManager, error) {
	resolver, err := newSNIResolver(dir)
	if err != nil {
		return nil, err
	}
	return &CertManager{mode: SNIDirectory, sni: resolver}, nil
}

func loadValidatedKeyPair(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, rerr.Newf(rerr.Config, "loading certificate pair: %v", err)
	}
	if err := validateECDSALeaf(&cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

// validateECDSALeaf rejects any leaf certificate whose public key is not
// ECDSA P-256/P-384/P-521, per spec §4.K's supported-algorithm list.
func validateECDSALeaf(cert *tls.Certificate) error {
	leaf := cert.Leaf
	if leaf == nil {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return rerr.Newf(rerr.Config, "parsing leaf certificate: %v", err)
		}
		leaf = parsed
	}
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return rerr.New(rerr.Config, "leaf certificate key is not ECDSA")
	}
	switch pub.Curve {
	case elliptic.P256(), elliptic.P384(), elliptic.P521():
		return nil
	default:
		return rerr.New(rerr.Config, "leaf certificate uses an unsupported elliptic curve")
	}
}

// GetCertificate returns a tls.Config.GetCertificate callback for listener,
// resolving by SNI when in SNIDirectory mode and falling back to the
// listener's (or the shared) certificate otherwise.
func (m *CertManager) GetCertificate(listener string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(info *tls.ClientHelloInfo) (*tls.Certificate, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		switch m.mode {
		case SNIDirectory:
			return m.sni.resolve(info.ServerName)
		case Separated:
			if cert, ok := m.byListener[listener]; ok {
				return cert, nil
			}
			return nil, rerr.Newf(rerr.Config, "no certificate configured for listener %q", listener)
		default:
			if m.shared == nil {
				return nil, rerr.New(rerr.Config, "no shared certificate configured")
			}
			return m.shared, nil
		}
	}
}

// ServerTLSConfig builds the tls.Config for one listener. grpcOnly advertises
// only "h2"; otherwise both "h2" and "http/1.1" are advertised, per spec
// §4.K's ALPN rule.
func (m *CertManager) ServerTLSConfig(listener string, grpcOnly bool) *tls.Config {
	alpn := []string{"h2", "http/1.1"}
	if grpcOnly {
		alpn = []string{"h2"}
	}
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		NextProtos:     alpn,
		GetCertificate: m.GetCertificate(listener),
	}
}

// WithMTLS configures cfg to require and verify a client certificate chained
// to caBundle (spec §4.K's WebPkiClientVerifier equivalent — Go's own
// crypto/tls performs this natively once ClientCAs/ClientAuth are set, with
// no external verifier library needed).
func WithMTLS(cfg *tls.Config, caBundle []byte) (*tls.Config, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBundle) {
		return nil, rerr.New(rerr.Config, "no certificates found in CA bundle")
	}
	cfg.ClientCAs = pool
	cfg.ClientAuth = tls.RequireAndVerifyClientCert
	return cfg, nil
}

// NegotiatedProtocol returns the ALPN protocol a completed handshake
// selected, which drives post-handshake routing (spec §4.K last sentence).
func NegotiatedProtocol(state tls.ConnectionState) string {
	return state.NegotiatedProtocol
}

// IsMTLSWhitelisted reports whether path is exempt from client-certificate
// enforcement. Entries ending in "*" match by prefix (with "/*" matching
// everything); all others require an exact match. This is deliberately
// distinct from the Router's own literal "/*" wildcard route key — spec §9
// flags the two as related but separate mechanisms.
func IsMTLSWhitelisted(whitelist []string, path string) bool {
	for _, pattern := range whitelist {
		if pattern == path {
			return true
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(path, strings.TrimSuffix(pattern, "*")) {
			return true
		}
	}
	return false
}

// sniResolver maps hostnames to certificates loaded from a directory of
// domain.pem/domain-key.pem pairs.
type sniResolver struct {
	byHost map[string]*tls.Certificate
}

func newSNIResolver(dir string) (*sniResolver, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, rerr.Newf(rerr.Config, "reading SNI certificate directory: %v", err)
	}
	byHost := make(map[string]*tls.Certificate)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".pem") || strings.HasSuffix(entry.Name(), "-key.pem") {
			continue
		}
		domain := strings.TrimSuffix(entry.Name(), ".pem")
		certPath := filepath.Join(dir, entry.Name())
		keyPath := filepath.Join(dir, domain+"-key.pem")
		cert, err := loadValidatedKeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		byHost[strings.ToLower(domain)] = cert
	}
	return &sniResolver{byHost: byHost}, nil
}

func (s *sniResolver) resolve(serverName string) (*tls.Certificate, error) {
	cert, ok := s.byHost[strings.ToLower(serverName)]
	if !ok {
		return nil, rerr.Newf(rerr.Config, "no certificate for SNI host %q", serverName)
	}
	return cert, nil
}
