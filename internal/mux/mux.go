// Package mux implements the mux/demux engine (C4): a single reader
// thread over one transport connection, demultiplexing outer-framed
// payloads to per-port logical channels, and a reconnect loop that
// rebuilds the transport connection on any read/connect failure.
package mux

import (
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/aosedge/aos-messageproxy/internal/channel"
	"github.com/aosedge/aos-messageproxy/internal/errs"
	"github.com/aosedge/aos-messageproxy/internal/frame"
	"github.com/aosedge/aos-messageproxy/internal/logger"
	"github.com/aosedge/aos-messageproxy/internal/shutdown"
	"github.com/aosedge/aos-messageproxy/internal/transport"
)

// Config tunes the reconnect behavior of the mux's single reader loop.
type Config struct {
	// ReconnectTimeout is the fixed delay between failed Connect
	// attempts.
	ReconnectTimeout time.Duration

	// ConnectionTimeout bounds how long Write blocks waiting for the
	// mux to reach Connected before passing through to the transport.
	ConnectionTimeout time.Duration
}

// DefaultConfig matches the daemon's production tuning.
func DefaultConfig() Config {
	return Config{
		ReconnectTimeout:  3 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
}

// Mux owns the single transport connection and the table of logical
// channels multiplexed over it.
type Mux struct {
	shutdown.Helper

	cfg       Config
	transport transport.Transport
	log       *logger.Logger

	mu        sync.Mutex
	cond      *sync.Cond
	connected bool
	channels  map[uint32]*channel.Channel

	writeMu sync.Mutex
}

// New creates a Mux that will drive transport once Run is started.
func New(t transport.Transport, cfg Config, log *logger.Logger) *Mux {
	m := &Mux{
		cfg:       cfg,
		transport: t,
		log:       log.Fork("mux"),
		channels:  make(map[uint32]*channel.Channel),
	}
	m.cond = sync.NewCond(&m.mu)
	m.Helper.Init(m)
	return m
}

// HandleShutdown implements shutdown.Handler: it closes the transport
// to unblock the reader loop and wakes any waiter on the connected
// condition.
func (m *Mux) HandleShutdown(_ error) error {
	_ = m.transport.Close()
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
	return nil
}

// RegisterChannel creates and registers a new logical channel for port.
// Every channel needs its own port; a duplicate registration is
// rejected rather than silently shadowing the first.
func (m *Mux) RegisterChannel(port uint32) (*channel.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[port]; exists {
		return nil, fmt.Errorf("mux: port %d already registered: %w", port, errs.ErrConfiguration)
	}
	ch := channel.New(port, m, m.log)
	m.channels[port] = ch
	m.AddChild(&ch.Helper)
	return ch, nil
}

// WriteFrame implements channel.Writer: it serializes the outer header
// and payload onto the transport under the single global write lock, so
// no two channels' frames can ever interleave.
func (m *Mux) WriteFrame(port uint32, payload []byte) error {
	if !m.waitConnected(m.cfg.ConnectionTimeout) {
		return fmt.Errorf("mux: not connected after %s: %w", m.cfg.ConnectionTimeout, errs.ErrTransientTransport)
	}
	wire := frame.EncodeOuter(port, payload)
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.transport.Write(wire)
}

func (m *Mux) waitConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-t.C:
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-stop:
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.connected && !m.IsStarted() && time.Now().Before(deadline) {
		m.cond.Wait()
	}
	return m.connected
}

func (m *Mux) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Run drives the Disconnected -> Connecting -> Connected -> Disconnected
// state machine until shutdown. It should be run in its own goroutine.
func (m *Mux) Run() {
	b := &backoff.Backoff{
		Min:    m.cfg.ReconnectTimeout,
		Max:    m.cfg.ReconnectTimeout,
		Factor: 1,
	}
	for !m.IsStarted() {
		if err := m.transport.Connect(); err != nil {
			m.log.Warnf("connect failed: %s", err)
			m.sleepOrShutdown(b.Duration())
			continue
		}
		b.Reset()
		m.setConnected(true)
		m.log.Infof("transport connected")
		m.readLoop()
		m.setConnected(false)
		m.log.Infof("transport disconnected")
		if m.IsStarted() {
			return
		}
		m.sleepOrShutdown(b.Duration())
	}
}

func (m *Mux) sleepOrShutdown(d time.Duration) {
	select {
	case <-time.After(d):
	case <-m.DoneChan():
	}
}

// readLoop reads one outer frame at a time (header, size check,
// payload, checksum, port lookup) and hands each valid payload to its
// channel. A bad checksum, an oversized frame, or an unknown port
// drops that frame and keeps reading; only transport errors end the
// loop.
func (m *Mux) readLoop() {
	hdrBuf := make([]byte, frame.OuterHeaderSize)
	for {
		if err := m.transport.Read(hdrBuf); err != nil {
			if !m.IsStarted() {
				m.log.Warnf("transport read error: %s", fmt.Errorf("%w: %w", errs.ErrTransientTransport, err))
			}
			return
		}
		hdr, err := frame.DecodeOuterHeader(hdrBuf)
		if err != nil {
			m.log.Errorf("malformed outer header: %s", fmt.Errorf("%w: %w", errs.ErrProtocol, err))
			return
		}
		if hdr.DataSize > frame.MaxMessageSize {
			m.log.Warnf("dropping oversize frame on port %d: %s", hdr.Port, fmt.Errorf("%w: %d bytes", errs.ErrProtocol, hdr.DataSize))
			continue
		}
		payload := make([]byte, hdr.DataSize)
		if err := m.transport.Read(payload); err != nil {
			if !m.IsStarted() {
				m.log.Warnf("transport read error reading payload: %s", fmt.Errorf("%w: %w", errs.ErrTransientTransport, err))
			}
			return
		}
		if !hdr.VerifyChecksum(payload) {
			m.log.Warnf("checksum mismatch on port %d, dropping frame: %s", hdr.Port, errs.ErrProtocol)
			continue
		}
		m.mu.Lock()
		ch := m.channels[hdr.Port]
		m.mu.Unlock()
		if ch == nil {
			m.log.Warnf("no channel registered for port %d, dropping frame: %s", hdr.Port, errs.ErrMissingRoute)
			continue
		}
		ch.Receive(payload)
	}
}
