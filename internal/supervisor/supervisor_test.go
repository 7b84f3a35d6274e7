package supervisor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/aosedge/aos-messageproxy/internal/logger"
)

const testMethod = "/aos.test.Echo/Stream"

// echoServer accepts the raw bidi stream and echoes every BytesValue it
// receives, uppercased, so tests can assert both directions worked.
type echoServer struct{}

func (echoServer) streamHandler(_ interface{}, stream grpc.ServerStream) error {
	for {
		var v wrapperspb.BytesValue
		if err := stream.RecvMsg(&v); err != nil {
			return nil
		}
		reply := append([]byte(nil), v.GetValue()...)
		for i, b := range reply {
			if b >= 'a' && b <= 'z' {
				reply[i] = b - 'a' + 'A'
			}
		}
		if err := stream.SendMsg(wrapperspb.Bytes(reply)); err != nil {
			return err
		}
	}
}

func newTestServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "aos.test.Echo",
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName:    "Stream",
				Handler:       echoServer{}.streamHandler,
				ServerStreams: true,
				ClientStreams: true,
			},
		},
	}, nil)
	go srv.Serve(lis)
	return lis.Addr().String(), srv.Stop
}

type insecureCreds struct{}

func (insecureCreds) DialOptions(context.Context) ([]grpc.DialOption, error) {
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

type recordingHandler struct {
	mu        sync.Mutex
	connected int
	received  [][]byte
	gotAll    chan struct{}
	want      int
}

func (h *recordingHandler) OnConnected(context.Context) {
	h.mu.Lock()
	h.connected++
	h.mu.Unlock()
}
func (h *recordingHandler) OnDisconnected(error) {}
func (h *recordingHandler) HandleIncoming(data []byte) {
	h.mu.Lock()
	h.received = append(h.received, append([]byte(nil), data...))
	done := len(h.received) >= h.want
	h.mu.Unlock()
	if done {
		select {
		case h.gotAll <- struct{}{}:
		default:
		}
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.NewStderrSink(), logger.LevelDebug)
}

func TestSupervisorEchoRoundTrip(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()

	handler := &recordingHandler{want: 2, gotAll: make(chan struct{}, 1)}
	cfg := DefaultConfig(addr, testMethod)
	cfg.ReconnectMin = 50 * time.Millisecond
	cfg.ReconnectMax = 50 * time.Millisecond

	s := New(cfg, insecureCreds{}, handler, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Close()

	if err := s.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := s.Send([]byte("world")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-handler.gotAll:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echoed messages")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.received) < 2 {
		t.Fatalf("got %d messages, want at least 2", len(handler.received))
	}
	if string(handler.received[0]) != "HELLO" || string(handler.received[1]) != "WORLD" {
		t.Fatalf("unexpected echoes: %q", handler.received)
	}
}

func TestOutboxDrainsInOrderOnFirstConnect(t *testing.T) {
	addr, stop := newTestServer(t)
	defer stop()

	handler := &recordingHandler{want: 3, gotAll: make(chan struct{}, 1)}
	cfg := DefaultConfig(addr, testMethod)
	cfg.ReconnectMin = 20 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond

	s := New(cfg, insecureCreds{}, handler, testLogger())

	// All three sends land in the outbox before the connect loop even
	// starts; the first live stream must deliver them in call order.
	for _, msg := range []string{"m1", "m2", "m3"} {
		if err := s.Send([]byte(msg)); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	defer s.Close()

	select {
	case <-handler.gotAll:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for queued messages")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	want := []string{"M1", "M2", "M3"}
	for i, w := range want {
		if string(handler.received[i]) != w {
			t.Fatalf("message %d: got %q want %q", i, handler.received[i], w)
		}
	}
}

func TestSupervisorQueuesWhileDisconnected(t *testing.T) {
	handler := &recordingHandler{want: 1, gotAll: make(chan struct{}, 1)}
	cfg := DefaultConfig("127.0.0.1:1", testMethod) // nothing listening yet
	cfg.ReconnectMin = 20 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond

	s := New(cfg, insecureCreds{}, handler, testLogger())
	if err := s.Send([]byte("queued")); err != nil {
		t.Fatal(err)
	}
	if got := len(s.drainOutbox()); got != 1 {
		t.Fatalf("expected 1 queued message, got %d", got)
	}
}
