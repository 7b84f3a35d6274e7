// Package bridge connects one logical channel (internal/channel) to one
// gRPC stream supervisor (internal/supervisor), moving inner-framed
// (internal/frame) protobuf payloads in both directions. Messages read
// off the logical channel (host-originated) are the only direction ever
// intercepted: ClockSyncRequest and ImageContentRequest are requests
// the host makes of the local daemon. Messages arriving from the gRPC
// stream are always forwarded to the channel unchanged, since the
// control plane never originates an intercepted case.
package bridge

import (
	"fmt"
	"io"
	"sync"

	"github.com/aosedge/aos-messageproxy/internal/frame"
	"github.com/aosedge/aos-messageproxy/internal/logger"
)

// Channel is the subset of channel.Channel (or an mTLS session wrapped
// around one, see internal/tlschannel) that Bridge depends on.
type Channel interface {
	io.Reader
	io.Writer
}

// Stream is the subset of supervisor.Supervisor that Bridge depends on.
type Stream interface {
	Send(data []byte) error
}

// Interceptor decides whether it wants to own delivery of one
// host-originated (methodName, payload) message instead of forwarding
// it to the gRPC stream. Returning handled=true means the Interceptor
// has taken responsibility for any reply.
type Interceptor interface {
	Intercept(methodName string, payload []byte) (handled bool, err error)
}

// Direction selects whether a Bridge's channel->stream leg consults its
// Interceptor. IAM bridges always forward.
type Direction int

const (
	// DirectionForwardOnly never calls the Interceptor.
	DirectionForwardOnly Direction = iota
	// DirectionIntercept consults the Interceptor for each message read
	// off the logical channel before forwarding it to the stream.
	DirectionIntercept
)

// Bridge pumps frames between a logical channel and a gRPC stream
// supervisor in both directions.
type Bridge struct {
	name        string
	direction   Direction
	interceptor Interceptor
	stream      Stream
	log         *logger.Logger

	mu sync.RWMutex
	ch Channel
}

// New creates a Bridge. When direction is DirectionIntercept, an
// interceptor must be bound (here or via SetInterceptor) before the
// pump starts.
func New(name string, ch Channel, stream Stream, direction Direction, interceptor Interceptor, log *logger.Logger) *Bridge {
	return &Bridge{
		name:        name,
		ch:          ch,
		stream:      stream,
		direction:   direction,
		interceptor: interceptor,
		log:         log.Fork("bridge[%s]", name),
	}
}

// SetStream binds the stream a Bridge forwards to, for the common case
// where the supervisor.Supervisor and the Bridge are constructed in a
// circular dependency (the supervisor's Handler wraps this Bridge, so
// the Bridge itself cannot know its stream until after the supervisor
// exists). Must be called before PumpChannelToStream starts.
func (b *Bridge) SetStream(stream Stream) { b.stream = stream }

// SetInterceptor binds the Interceptor a DirectionIntercept Bridge
// consults, for the same construction-order reason as SetStream.
func (b *Bridge) SetInterceptor(interceptor Interceptor) { b.interceptor = interceptor }

// SetChannel swaps the channel the Bridge reads and writes. Secure
// bridges get a fresh mTLS session over the same underlying logical
// channel after a session failure; the owning pump loop installs it
// here before re-entering PumpChannelToStream.
func (b *Bridge) SetChannel(ch Channel) {
	b.mu.Lock()
	b.ch = ch
	b.mu.Unlock()
}

func (b *Bridge) channel() Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ch
}

// PumpChannelToStream reads inner-framed messages off the logical
// channel (host-originated traffic) and either dispatches them to the
// Interceptor or forwards their payload to the stream supervisor. It
// returns on the first channel read error; the owner decides whether to
// re-establish the session and pump again.
func (b *Bridge) PumpChannelToStream() error {
	for {
		method, payload, err := readInner(b.channel())
		if err != nil {
			return fmt.Errorf("bridge[%s]: reading from channel: %w", b.name, err)
		}
		if b.direction == DirectionIntercept && b.interceptor != nil {
			handled, err := b.interceptor.Intercept(method, payload)
			if err != nil {
				return fmt.Errorf("bridge[%s]: interceptor: %w", b.name, err)
			}
			if handled {
				b.log.Debugf("channel->interceptor: method=%q bytes=%d", method, len(payload))
				continue
			}
		}
		b.log.Debugf("channel->stream: method=%q bytes=%d", method, len(payload))
		if err := b.stream.Send(payload); err != nil {
			return fmt.Errorf("bridge[%s]: forwarding to stream: %w", b.name, err)
		}
	}
}

// ForwardToChannel wraps payload in an inner header and writes it onto
// the logical channel. Both stream-delivered messages and interceptor
// replies leave through here; neither leg ever consults the
// Interceptor.
func (b *Bridge) ForwardToChannel(methodName string, payload []byte) error {
	wire, err := frame.EncodeInner(methodName, payload)
	if err != nil {
		return fmt.Errorf("bridge[%s]: encoding inner frame: %w", b.name, err)
	}
	if _, err := b.channel().Write(wire); err != nil {
		return fmt.Errorf("bridge[%s]: writing to channel: %w", b.name, err)
	}
	return nil
}

func readInner(r io.Reader) (string, []byte, error) {
	hdrBuf := make([]byte, frame.InnerHeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return "", nil, err
	}
	hdr, err := frame.DecodeInnerHeader(hdrBuf)
	if err != nil {
		return "", nil, err
	}
	payload := make([]byte, hdr.DataSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}
	return hdr.Method, payload, nil
}
