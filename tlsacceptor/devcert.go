package tlsacceptor

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/ratengine/rengine/rerr"
)

// NewDev generates an ephemeral self-signed ECDSA P-384 certificate for the
// given hostnames, for local development and tests — the third certificate
// source named in SPEC_FULL.md's supplemented features, alongside the
// static-file and SNI-directory sources above. It never touches disk.
func NewDev(hostnames ...string) (*CertManager, error) {
	if len(hostnames) == 0 {
		hostnames = []string{"localhost"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, rerr.Newf(rerr.Config, "generating dev key: %v", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, rerr.Newf(rerr.Config, "generating dev certificate serial: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hostnames[0]},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              hostnames,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, rerr.Newf(rerr.Config, "creating dev certificate: %v", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, rerr.Newf(rerr.Config, "parsing dev certificate: %v", err)
	}

	cert := &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        leaf,
	}
	return &CertManager{mode: Shared, shared: cert}, nil
}
