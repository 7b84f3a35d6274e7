package certprovider

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aosedge/aos-messageproxy/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.NewStderrSink(), logger.LevelError)
}

func writeKeyPair(t *testing.T, dir, name string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})

	if err := os.WriteFile(filepath.Join(dir, name+".crt"), certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".key"), keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestGetCertReturnsExpectedURLs(t *testing.T) {
	p := NewFileProvider(testLogger())
	certURL, keyURL, err := p.GetCert(context.Background(), "iam", "/etc/aos/certs")
	if err != nil {
		t.Fatal(err)
	}
	if certURL != "file:///etc/aos/certs/iam.crt" || keyURL != "file:///etc/aos/certs/iam.key" {
		t.Fatalf("unexpected URLs: %s %s", certURL, keyURL)
	}
}

func TestGetCertRejectsMissingArgs(t *testing.T) {
	p := NewFileProvider(testLogger())
	if _, _, err := p.GetCert(context.Background(), "", "storage"); err == nil {
		t.Fatal("expected error for empty certType")
	}
}

func TestGetMTLSConfigLoadsKeyPairAndCAPool(t *testing.T) {
	dir := t.TempDir()
	writeKeyPair(t, dir, "sm")

	caFile := filepath.Join(dir, "ca.crt")
	certPEM, err := os.ReadFile(filepath.Join(dir, "sm.crt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(caFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewFileProvider(testLogger())
	cfg, err := p.GetMTLSConfig(context.Background(), "sm", dir, caFile)
	if err != nil {
		t.Fatalf("GetMTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(cfg.Certificates))
	}
	if cfg.ClientAuth.String() == "" {
		t.Fatal("expected ClientAuth to be set")
	}
	if cfg.RootCAs == nil || cfg.ClientCAs == nil {
		t.Fatal("expected RootCAs and ClientCAs to be populated")
	}
}

func TestGetMTLSConfigFailsOnMissingCAFile(t *testing.T) {
	dir := t.TempDir()
	writeKeyPair(t, dir, "iam")

	p := NewFileProvider(testLogger())
	if _, err := p.GetMTLSConfig(context.Background(), "iam", dir, filepath.Join(dir, "missing-ca.crt")); err == nil {
		t.Fatal("expected error for missing CA file")
	}
}

func TestWatchCAFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.crt")
	if err := os.WriteFile(caFile, []byte("initial"), 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewFileProvider(testLogger())
	changed := make(chan struct{}, 1)
	stop, err := p.WatchCA(caFile, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("WatchCA: %v", err)
	}
	defer stop()

	if err := os.WriteFile(caFile, []byte("rotated"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange callback was not invoked after CA file write")
	}
}
