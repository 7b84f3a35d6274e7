// Package tlschannel wraps a logical channel (internal/channel) as a
// net.Conn so crypto/tls can run a server-mode mTLS session over it.
// The host side initiates the handshake, so the daemon side always
// accepts; the resulting *tls.Conn is itself a channel-shaped byte
// stream, carried transparently by the bridge.
package tlschannel

import (
	"crypto/tls"
	"net"
	"time"
)

// Reader is the minimal contract tlschannel needs from the underlying
// logical channel.
type Reader interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// availableReader is satisfied by channel.Channel: a blocking read that
// returns as soon as any bytes are buffered instead of waiting for the
// full len(p). TLS record sizes are unknown to the reader in advance,
// so the session must read through this when the channel offers it.
type availableReader interface {
	ReadAvailable(p []byte) (int, error)
}

// connAdapter presents a logical channel as a net.Conn. Deadlines are
// accepted but not enforced: the channel has no underlying socket to
// set a deadline on, and the mux's reconnect logic is what bounds how
// long a stalled transport can block.
type connAdapter struct {
	rw         Reader
	localAddr  net.Addr
	remoteAddr net.Addr
}

func (c *connAdapter) Read(p []byte) (int, error) {
	if ar, ok := c.rw.(availableReader); ok {
		return ar.ReadAvailable(p)
	}
	return c.rw.Read(p)
}

func (c *connAdapter) Write(p []byte) (int, error)      { return c.rw.Write(p) }
func (c *connAdapter) Close() error                     { return c.rw.Close() }
func (c *connAdapter) LocalAddr() net.Addr              { return c.localAddr }
func (c *connAdapter) RemoteAddr() net.Addr             { return c.remoteAddr }
func (c *connAdapter) SetDeadline(time.Time) error      { return nil }
func (c *connAdapter) SetReadDeadline(time.Time) error  { return nil }
func (c *connAdapter) SetWriteDeadline(time.Time) error { return nil }

type logicalAddr string

func (a logicalAddr) Network() string { return "aos-logical-channel" }
func (a logicalAddr) String() string  { return string(a) }

// Wrap adapts ch (a *channel.Channel or anything satisfying Reader) as
// a net.Conn suitable for tls.Server/tls.Client.
func Wrap(ch Reader, name string) net.Conn {
	return &connAdapter{rw: ch, localAddr: logicalAddr(name + ":local"), remoteAddr: logicalAddr(name + ":remote")}
}

// Server starts a server-side mTLS session over ch using cfg, which
// decides client authentication (internal/app requires a verified
// client certificate and resolves its certificate material through
// certprovider on each handshake). The returned *tls.Conn handshakes on
// first use and is ready to carry inner-framed protobuf traffic.
func Server(ch Reader, name string, cfg *tls.Config) *tls.Conn {
	return tls.Server(Wrap(ch, name), cfg)
}

// Client performs a client-side handshake; present for symmetry and for
// tests that drive both ends of a wrapped channel in-process.
func Client(ch Reader, name string, cfg *tls.Config) *tls.Conn {
	return tls.Client(Wrap(ch, name), cfg)
}

var _ net.Conn = (*connAdapter)(nil)
