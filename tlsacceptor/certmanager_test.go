package tlsacceptor

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"
)

func TestDevCertHandshakeNegotiatesH2(t *testing.T) {
	mgr, err := NewDev("localhost")
	if err != nil {
		t.Fatalf("new dev cert manager: %v", err)
	}
	serverCfg := mgr.ServerTLSConfig("grpc", true)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan error, 1)
	go func() {
		tlsServer := tls.Server(serverConn, serverCfg)
		serverDone <- tlsServer.HandshakeContext(context.Background())
	}()

	clientCfg := &tls.Config{InsecureSkipVerify: true, NextProtos: []string{"h2"}}
	tlsClient := tls.Client(clientConn, clientCfg)
	if err := tlsClient.HandshakeContext(context.Background()); err != nil {
		t.Fatalf("client handshake: %v", err)
	}

	select {
	case err := <-serverDone:
		if err != nil {
			t.Fatalf("server handshake: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server handshake")
	}

	if got := NegotiatedProtocol(tlsClient.ConnectionState()); got != "h2" {
		t.Fatalf("expected ALPN h2, got %q", got)
	}
}

func TestSeparatedModeRequiresConfiguredListener(t *testing.T) {
	mgr, err := NewDev("localhost")
	if err != nil {
		t.Fatalf("new dev cert manager: %v", err)
	}
	// Force Separated mode with no entries to exercise the missing-listener path.
	mgr.mode = Separated
	mgr.byListener = map[string]*tls.Certificate{}

	_, err = mgr.GetCertificate("http")(&tls.ClientHelloInfo{})
	if err == nil {
		t.Fatal("expected an error for an unconfigured listener")
	}
}

func TestIsMTLSWhitelisted(t *testing.T) {
	whitelist := []string{"/healthz", "/public/*"}

	cases := map[string]bool{
		"/healthz":        true,
		"/public/assets":  true,
		"/public/":        true,
		"/private/secret": false,
	}
	for path, want := range cases {
		if got := IsMTLSWhitelisted(whitelist, path); got != want {
			t.Fatalf("IsMTLSWhitelisted(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestValidateECDSALeafRejectsNonEC(t *testing.T) {
	// A certificate with no Leaf whose only DER entry cannot be parsed must
	// fail validation rather than panic.
	cert := &tls.Certificate{Certificate: [][]byte{{0x30, 0x00}}}
	if err := validateECDSALeaf(cert); err == nil {
		t.Fatal("expected an error for an unparseable/non-EC certificate")
	}
}
