// Package certprovider answers the "where do my cert and key live"
// question for the secure channels' mTLS sessions and the gRPC mTLS
// credential source. The IAM public service that ultimately owns this
// answer is an external collaborator; Provider is the seam the rest of
// the daemon programs against.
package certprovider

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/aosedge/aos-messageproxy/internal/logger"
)

// Provider resolves certificate/key material for a given cert type
// ("iam" or "sm") and storage identifier, and can build a ready-to-use
// mTLS client config from the result.
type Provider interface {
	GetCert(ctx context.Context, certType, storage string) (certURL, keyURL string, err error)
	GetMTLSConfig(ctx context.Context, certType, storage, caCertFile string) (*tls.Config, error)
}

// FileProvider resolves cert/key material as plain PEM files on disk.
// GetMTLSConfig re-reads the files on every call; WatchCA can watch the
// CA bundle with fsnotify and notify a caller when it changes.
type FileProvider struct {
	log *logger.Logger

	mu      sync.RWMutex
	watcher *fsnotify.Watcher
}

// NewFileProvider creates a FileProvider. No CA watcher runs until
// WatchCA is called; the stop func WatchCA returns ends it.
func NewFileProvider(log *logger.Logger) *FileProvider {
	return &FileProvider{log: log.Fork("certprovider")}
}

// GetCert returns file:// URLs for the PEM cert and key expected at
// storage/<certType>.crt and storage/<certType>.key. A PKCS#11-backed
// key source would return a pkcs11: URL here instead; loading keys
// from a hardware token is left to an alternate Provider.
func (p *FileProvider) GetCert(_ context.Context, certType, storage string) (string, string, error) {
	if certType == "" || storage == "" {
		return "", "", fmt.Errorf("certprovider: certType and storage are required")
	}
	certURL := fmt.Sprintf("file://%s/%s.crt", storage, certType)
	keyURL := fmt.Sprintf("file://%s/%s.key", storage, certType)
	return certURL, keyURL, nil
}

// GetMTLSConfig loads the cert/key pair named by GetCert plus caCertFile
// into a client-and-server-capable tls.Config requiring a verified
// peer certificate.
func (p *FileProvider) GetMTLSConfig(ctx context.Context, certType, storage, caCertFile string) (*tls.Config, error) {
	certURL, keyURL, err := p.GetCert(ctx, certType, storage)
	if err != nil {
		return nil, err
	}
	certFile, err := urlToPath(certURL)
	if err != nil {
		return nil, err
	}
	keyFile, err := urlToPath(keyURL)
	if err != nil {
		return nil, err
	}
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("certprovider: loading keypair for %s: %w", certType, err)
	}
	pool, err := loadCAPool(caCertFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      pool,
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// WatchCA starts a background goroutine that logs (and invokes onChange
// for) any write/create/rename event on caCertFile, so callers can
// rebuild their tls.Config. It runs until the returned stop func is
// called.
func (p *FileProvider) WatchCA(caCertFile string, onChange func()) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("certprovider: creating CA watcher: %w", err)
	}
	if err := w.Add(caCertFile); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("certprovider: watching %s: %w", caCertFile, err)
	}

	p.mu.Lock()
	p.watcher = w
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					p.log.Infof("CA bundle %s changed: %s", caCertFile, ev.Op)
					if onChange != nil {
						onChange()
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.log.Warnf("CA watcher error: %s", err)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = w.Close()
	}, nil
}

func loadCAPool(caCertFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, fmt.Errorf("certprovider: reading CA bundle %s: %w", caCertFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("certprovider: no certificates found in %s", caCertFile)
	}
	return pool, nil
}

func urlToPath(u string) (string, error) {
	const prefix = "file://"
	if len(u) <= len(prefix) || u[:len(prefix)] != prefix {
		return "", fmt.Errorf("certprovider: unsupported cert/key URL scheme: %s", u)
	}
	return u[len(prefix):], nil
}

var _ Provider = (*FileProvider)(nil)
