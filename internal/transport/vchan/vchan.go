// Package vchan carries the configuration surface for the Xen
// virtual-channel transport. The xen-vchan ring itself is a hypervisor
// resource provided outside this module; this package lets the daemon
// be configured for it uniformly with the TCP fallback, and ships a
// stub Transport so the rest of the wiring (mux, supervisors, bridges)
// can be exercised on hosts without a Xen ring (tests, CI, non-Xen
// machines).
package vchan

import (
	"fmt"

	"github.com/aosedge/aos-messageproxy/internal/transport"
)

// Config mirrors the vChan block of the JSON config file.
type Config struct {
	Domain         int
	XSRXPath       string
	XSTXPath       string
	IAMCertStorage string
	SMCertStorage  string
}

// Stub is a placeholder Transport satisfying the contract for hosts
// where the real vchan ring is unavailable; Connect, Read and Write fail
// with a clear error rather than silently succeeding, and Close does
// nothing.
type Stub struct {
	cfg Config
}

// New returns a Stub bound to cfg. Swap in a real vchan-backed
// transport.Transport at this seam once one is available.
func New(cfg Config) *Stub {
	return &Stub{cfg: cfg}
}

func (s *Stub) Connect() error {
	return fmt.Errorf("vchan: no Xen virtual-channel backend compiled in (domain=%d)", s.cfg.Domain)
}

func (s *Stub) Read(_ []byte) error {
	return fmt.Errorf("vchan: transport not connected")
}

func (s *Stub) Write(_ []byte) error {
	return fmt.Errorf("vchan: transport not connected")
}

func (s *Stub) Close() error {
	return nil
}

var _ transport.Transport = (*Stub)(nil)
