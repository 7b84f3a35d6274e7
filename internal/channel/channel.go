// Package channel implements the logical channel: a single
// demultiplexed byte stream identified by a port number, with a
// buffered inbound queue fed by the mux reader and outbound writes
// serialized across all channels through a shared transport writer.
package channel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aosedge/aos-messageproxy/internal/errs"
	"github.com/aosedge/aos-messageproxy/internal/frame"
	"github.com/aosedge/aos-messageproxy/internal/logger"
	"github.com/aosedge/aos-messageproxy/internal/shutdown"
)

// Writer is the shared, transport-level write operation a Channel uses
// to emit outer-framed payloads. Implemented by the mux engine.
type Writer interface {
	WriteFrame(port uint32, payload []byte) error
}

// Channel is one logical, demultiplexed stream over the shared
// transport, identified by Port.
type Channel struct {
	shutdown.Helper

	Port   uint32
	writer Writer
	log    *logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	bytesIn int64
}

// New creates a Channel bound to port, writing outbound frames through
// writer.
func New(port uint32, writer Writer, log *logger.Logger) *Channel {
	c := &Channel{Port: port, writer: writer, log: log.Fork("channel[%d]", port)}
	c.cond = sync.NewCond(&c.mu)
	c.Helper.Init(c)
	return c
}

// HandleShutdown implements shutdown.Handler: it wakes any blocked
// Read so that it returns promptly.
func (c *Channel) HandleShutdown(_ error) error {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// Connect does nothing and returns nil; it does not reach the
// transport, whose connection is made by the mux's own Run loop.
func (c *Channel) Connect() error {
	return nil
}

// Receive appends payload bytes to the channel's inbound buffer and
// wakes any blocked readers. Only the single mux reader goroutine may
// call this.
func (c *Channel) Receive(payload []byte) {
	c.mu.Lock()
	c.buf = append(c.buf, payload...)
	atomic.AddInt64(&c.bytesIn, int64(len(payload)))
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Read blocks until at least len(p) bytes have accumulated in the
// channel's inbound buffer, or the channel is shut down, and drains
// exactly len(p) of them FIFO into p.
func (c *Channel) Read(p []byte) (int, error) {
	need := len(p)
	c.mu.Lock()
	for len(c.buf) < need && !c.IsStarted() {
		c.cond.Wait()
	}
	if c.IsStarted() && len(c.buf) < need {
		c.mu.Unlock()
		return 0, fmt.Errorf("channel[%d]: read interrupted by shutdown: %w", c.Port, errs.ErrShutdown)
	}
	n := copy(p, c.buf[:need])
	c.buf = c.buf[need:]
	c.mu.Unlock()
	return n, nil
}

// ReadAvailable blocks until at least one byte is buffered (or the
// channel is shut down) and drains up to len(p) bytes. A TLS session
// layered on this channel reads records through here: record sizes are
// unknown in advance, so exact-length Read semantics would stall the
// handshake.
func (c *Channel) ReadAvailable(p []byte) (int, error) {
	c.mu.Lock()
	for len(c.buf) == 0 && !c.IsStarted() {
		c.cond.Wait()
	}
	if len(c.buf) == 0 {
		c.mu.Unlock()
		return 0, fmt.Errorf("channel[%d]: read interrupted by shutdown: %w", c.Port, errs.ErrShutdown)
	}
	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	c.mu.Unlock()
	return n, nil
}

// Write atomically emits {outer-header(port, bytes), bytes} through the
// shared transport writer. It fails if the channel has been shut down.
func (c *Channel) Write(p []byte) (int, error) {
	if c.IsStarted() {
		return 0, fmt.Errorf("channel[%d]: write after shutdown: %w", c.Port, errs.ErrShutdown)
	}
	if len(p) > frame.MaxMessageSize {
		return 0, fmt.Errorf("channel[%d]: payload of %d bytes exceeds max message size: %w", c.Port, len(p), errs.ErrProtocol)
	}
	if err := c.writer.WriteFrame(c.Port, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close shuts the channel down, waking readers. Safe to call twice.
func (c *Channel) Close() error {
	return c.Helper.Close()
}

// BytesReceived returns the total number of payload bytes ever received
// on this channel, for diagnostics.
func (c *Channel) BytesReceived() int64 {
	return atomic.LoadInt64(&c.bytesIn)
}

func (c *Channel) String() string {
	return fmt.Sprintf("channel[%d]", c.Port)
}
