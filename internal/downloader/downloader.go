// Package downloader fetches image content over HTTP(S) with retry and
// backoff, the first stage of the ImageContent interceptor action.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/jpillora/backoff"

	"github.com/aosedge/aos-messageproxy/internal/logger"
)

// Config tunes retry behavior and concurrency.
type Config struct {
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	MaxAttempts   int
	MaxConcurrent int
}

// DefaultConfig is a short initial delay growing to a capped maximum.
func DefaultConfig() Config {
	return Config{
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
		MaxAttempts:   5,
		MaxConcurrent: 4,
	}
}

// Downloader fetches a URL to a local file, retrying transient HTTP
// failures with backoff. At most MaxConcurrent downloads run at once;
// further Download calls wait for a slot.
type Downloader struct {
	cfg    Config
	client *http.Client
	slots  chan struct{}
	log    *logger.Logger
}

// New creates a Downloader using http.DefaultClient's transport shape
// with a bounded per-attempt timeout.
func New(cfg Config, log *logger.Logger) *Downloader {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: 2 * time.Minute},
		slots:  make(chan struct{}, cfg.MaxConcurrent),
		log:    log.Fork("downloader"),
	}
}

// Download fetches url and writes its body to destPath, retrying with
// backoff on transport errors and 5xx responses, for at most
// cfg.MaxAttempts attempts in all. 4xx responses are permanent and not
// retried.
func (d *Downloader) Download(ctx context.Context, url, destPath string) error {
	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.slots }()

	b := &backoff.Backoff{Min: d.cfg.RetryDelay, Max: d.cfg.MaxRetryDelay, Factor: 2}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := d.attempt(ctx, url, destPath); err != nil {
			lastErr = err
			if isPermanent(err) {
				return err
			}
			d.log.Warnf("download attempt %d/%d of %s failed: %s", attempt, d.cfg.MaxAttempts, url, err)
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("downloader: giving up on %s after %d attempts: %w", url, d.cfg.MaxAttempts, lastErr)
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func isPermanent(err error) bool {
	_, ok := err.(permanentError)
	return ok
}

func (d *Downloader) attempt(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return permanentError{fmt.Errorf("building request: %w", err)}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return permanentError{fmt.Errorf("fetching %s: client error %d", url, resp.StatusCode)}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return permanentError{fmt.Errorf("creating %s: %w", destPath, err)}
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	return nil
}
