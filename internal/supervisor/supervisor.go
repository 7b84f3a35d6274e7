// Package supervisor manages one long-lived bidirectional gRPC stream
// to the IAM or CM control plane, with reconnect/backoff, an outbox
// cache drained on reconnect before new sends, and a pluggable Handler
// that receives/produces opaque message bytes.
//
// The IAM/CM service schemas are owned by the control plane, so there
// is no generated service stub here: the stream is opened directly
// against *grpc.ClientConn with an explicit method path and StreamDesc,
// the same low-level invocation grpc-go itself performs under generated
// code, carrying *wrapperspb.BytesValue as the sole message type.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/aosedge/aos-messageproxy/internal/errs"
	"github.com/aosedge/aos-messageproxy/internal/logger"
	"github.com/aosedge/aos-messageproxy/internal/shutdown"
)

// CredentialSource builds the dial options for one connection attempt.
// Implementations choose insecure transport credentials during
// provisioning and mTLS credentials (sourced via certprovider.Provider)
// otherwise.
type CredentialSource interface {
	DialOptions(ctx context.Context) ([]grpc.DialOption, error)
}

// Handler reacts to stream lifecycle events and inbound messages. All
// methods are called from the supervisor's own goroutines and must not
// block indefinitely.
type Handler interface {
	OnConnected(ctx context.Context)
	OnDisconnected(err error)
	HandleIncoming(data []byte)
}

// Config tunes one supervisor's stream target and reconnect behavior.
type Config struct {
	Target          string
	Method          string // full gRPC method path, e.g. "/aos.IAMService/RegisterNode"
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	ReconnectFactor float64
	OutboxCapacity  int
}

// DefaultConfig returns the reconnect tuning used by both production
// supervisors.
func DefaultConfig(target, method string) Config {
	return Config{
		Target:          target,
		Method:          method,
		ReconnectMin:    3 * time.Second,
		ReconnectMax:    30 * time.Second,
		ReconnectFactor: 2,
		OutboxCapacity:  256,
	}
}

// Supervisor owns one long-lived bidi stream and its reconnect loop.
type Supervisor struct {
	shutdown.Helper

	cfg     Config
	creds   CredentialSource
	handler Handler
	log     *logger.Logger

	mu     sync.Mutex
	outbox [][]byte
	notify chan struct{}
}

// New creates a Supervisor. Call Run in its own goroutine to start the
// connect loop.
func New(cfg Config, creds CredentialSource, handler Handler, log *logger.Logger) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		creds:   creds,
		handler: handler,
		log:     log.Fork("supervisor[%s]", cfg.Method),
		notify:  make(chan struct{}, 1),
	}
	s.Helper.Init(s)
	return s
}

// HandleShutdown implements shutdown.Handler; the stream and dial
// context are canceled by Run observing DoneChan, so there is nothing
// additional to release here.
func (s *Supervisor) HandleShutdown(_ error) error { return nil }

// Send enqueues data for transmission. If the stream is currently
// disconnected, the message waits in the outbox and is flushed once
// reconnected, in FIFO order, ahead of any later send.
func (s *Supervisor) Send(data []byte) error {
	if s.IsStarted() {
		return fmt.Errorf("supervisor: send after shutdown: %w", errs.ErrShutdown)
	}
	s.mu.Lock()
	if len(s.outbox) >= s.cfg.OutboxCapacity {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: outbox full (%d messages): %w", s.cfg.OutboxCapacity, errs.ErrRuntime)
	}
	s.outbox = append(s.outbox, append([]byte(nil), data...))
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *Supervisor) drainOutbox() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.outbox
	s.outbox = nil
	return drained
}

func (s *Supervisor) requeueFront(pending [][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(pending, s.outbox...)
}

// Run drives the connect/stream/reconnect loop until shutdown.
func (s *Supervisor) Run(ctx context.Context) {
	b := &backoff.Backoff{Min: s.cfg.ReconnectMin, Max: s.cfg.ReconnectMax, Factor: s.cfg.ReconnectFactor}
	for !s.IsStarted() {
		if err := s.connectAndServe(ctx); err != nil {
			s.log.Warnf("stream ended: %s", err)
			s.handler.OnDisconnected(err)
		}
		if s.IsStarted() {
			return
		}
		d := b.Duration()
		s.log.Debugf("reconnecting in %s", d)
		select {
		case <-time.After(d):
		case <-s.DoneChan():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) connectAndServe(ctx context.Context) error {
	dialOpts, err := s.creds.DialOptions(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: building dial options: %w: %w", errs.ErrConfiguration, err)
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, 10*time.Second)
	defer cancelDial()
	cc, err := grpc.DialContext(dialCtx, s.cfg.Target, dialOpts...)
	if err != nil {
		return fmt.Errorf("supervisor: dial %s: %w: %w", s.cfg.Target, errs.ErrTransientTransport, err)
	}
	defer cc.Close()

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	stream, err := cc.NewStream(streamCtx, &grpc.StreamDesc{
		StreamName:    s.cfg.Method,
		ServerStreams: true,
		ClientStreams: true,
	}, s.cfg.Method)
	if err != nil {
		return fmt.Errorf("supervisor: opening stream %s: %w: %w", s.cfg.Method, errs.ErrTransientTransport, err)
	}

	s.log.Infof("stream connected to %s", s.cfg.Target)
	s.handler.OnConnected(streamCtx)

	errc := make(chan error, 2)
	go s.sendLoop(streamCtx, stream, errc)
	go s.recvLoop(stream, errc)

	select {
	case err := <-errc:
		cancelStream()
		return err
	case <-s.DoneChan():
		cancelStream()
		return nil
	case <-ctx.Done():
		cancelStream()
		return ctx.Err()
	}
}

// sendLoop drains the outbox to the live stream, starting with whatever
// accumulated while disconnected, then sleeps on the notify channel
// until Send enqueues more. A send failure puts the unsent tail back at
// the front of the outbox so the next connection preserves order.
func (s *Supervisor) sendLoop(ctx context.Context, stream grpc.ClientStream, errc chan<- error) {
	for {
		pending := s.drainOutbox()
		for i, msg := range pending {
			if err := stream.SendMsg(wrapperspb.Bytes(msg)); err != nil {
				s.requeueFront(pending[i:])
				errc <- fmt.Errorf("supervisor: send message: %w: %w", errs.ErrTransientTransport, err)
				return
			}
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return
		case <-s.DoneChan():
			return
		}
	}
}

func (s *Supervisor) recvLoop(stream grpc.ClientStream, errc chan<- error) {
	for {
		var v wrapperspb.BytesValue
		if err := stream.RecvMsg(&v); err != nil {
			errc <- fmt.Errorf("supervisor: recv: %w: %w", errs.ErrTransientTransport, err)
			return
		}
		s.handler.HandleIncoming(v.GetValue())
	}
}
