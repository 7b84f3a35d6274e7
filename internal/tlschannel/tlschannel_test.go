package tlschannel

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/aosedge/aos-messageproxy/internal/channel"
	"github.com/aosedge/aos-messageproxy/internal/logger"
)

// pipeReader adapts a net.Pipe half to the Reader contract, standing in
// for channel.Channel without pulling in the mux/transport machinery.
type pipeReader struct{ net.Conn }

func (p pipeReader) Close() error { return p.Conn.Close() }

func genCert(t *testing.T, cn string) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     []string{cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:         true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: cert}
}

func TestServerClientHandshakeAndDataFlow(t *testing.T) {
	serverCert := genCert(t, "server")
	clientCert := genCert(t, "client")

	pool := x509.NewCertPool()
	pool.AddCert(serverCert.Leaf)
	pool.AddCert(clientCert.Leaf)

	serverCfg := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}
	clientCfg := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      pool,
		ServerName:   "server",
		MinVersion:   tls.VersionTLS12,
	}

	a, b := net.Pipe()

	serverConn := Server(pipeReader{a}, "daemon-side", serverCfg)
	clientConn := Client(pipeReader{b}, "host-side", clientCfg)

	done := make(chan error, 2)
	go func() { done <- serverConn.Handshake() }()
	go func() { done <- clientConn.Handshake() }()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("handshake: %v", err)
		}
	}

	msg := []byte("hello over wrapped logical channel")
	go func() {
		_, _ = clientConn.Write(msg)
	}()

	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(serverConn, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q want %q", buf, msg)
	}

	_ = serverConn.Close()
	_ = clientConn.Close()
}

// loopWriter feeds one channel's outbound frames straight into its
// peer's inbound buffer, pairing two logical channels back to back
// without a mux or transport in between.
type loopWriter struct{ peer *channel.Channel }

func (w *loopWriter) WriteFrame(_ uint32, payload []byte) error {
	w.peer.Receive(payload)
	return nil
}

func TestHandshakeOverLogicalChannels(t *testing.T) {
	log := logger.New(logger.NewStderrSink(), logger.LevelError)

	wA, wB := &loopWriter{}, &loopWriter{}
	chA := channel.New(30002, wA, log)
	chB := channel.New(30002, wB, log)
	wA.peer = chB
	wB.peer = chA
	defer chA.Close()
	defer chB.Close()

	serverCert := genCert(t, "server")
	clientCert := genCert(t, "client")
	pool := x509.NewCertPool()
	pool.AddCert(serverCert.Leaf)
	pool.AddCert(clientCert.Leaf)

	serverConn := Server(chA, "daemon-side", &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	})
	clientConn := Client(chB, "host-side", &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      pool,
		ServerName:   "server",
		MinVersion:   tls.VersionTLS12,
	})

	done := make(chan error, 2)
	go func() { done <- serverConn.Handshake() }()
	go func() { done <- clientConn.Handshake() }()
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("handshake over logical channels: %v", err)
		}
	}

	msg := []byte("framed protobuf bytes")
	go func() { _, _ = clientConn.Write(msg) }()

	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(serverConn, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q want %q", buf, msg)
	}
}

var _ Reader = pipeReader{}
