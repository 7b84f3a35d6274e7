package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/aosedge/aos-messageproxy/internal/logger"
)

type fakeWriter struct {
	mu    sync.Mutex
	ports []uint32
	sent  [][]byte
}

func (w *fakeWriter) WriteFrame(port uint32, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ports = append(w.ports, port)
	w.sent = append(w.sent, append([]byte(nil), payload...))
	return nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.NewStderrSink(), logger.LevelError)
}

func TestReadBlocksUntilDataArrives(t *testing.T) {
	c := New(7, &fakeWriter{}, testLogger())
	defer c.Close()

	done := make(chan []byte, 1)
	go func() {
		p := make([]byte, 5)
		if _, err := c.Read(p); err != nil {
			t.Errorf("read: %v", err)
			return
		}
		done <- p
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("read returned before any data was received")
	default:
	}

	c.Receive([]byte("hello"))

	select {
	case p := <-done:
		if string(p) != "hello" {
			t.Fatalf("got %q, want %q", p, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after Receive")
	}
}

func TestWriteGoesThroughSharedWriter(t *testing.T) {
	w := &fakeWriter{}
	c := New(3, w, testLogger())
	defer c.Close()

	if _, err := c.Write([]byte("payload")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(w.sent) != 1 || w.ports[0] != 3 || string(w.sent[0]) != "payload" {
		t.Fatalf("unexpected writer state: ports=%v sent=%v", w.ports, w.sent)
	}
}

func TestCloseUnblocksPendingRead(t *testing.T) {
	c := New(1, &fakeWriter{}, testLogger())

	errc := make(chan error, 1)
	go func() {
		p := make([]byte, 10)
		_, err := c.Read(p)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected an error from a read interrupted by shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked read was not released by Close")
	}
}

func TestReadAvailableReturnsShortReads(t *testing.T) {
	c := New(5, &fakeWriter{}, testLogger())
	defer c.Close()

	c.Receive([]byte("abc"))

	p := make([]byte, 16)
	n, err := c.ReadAvailable(p)
	if err != nil {
		t.Fatalf("ReadAvailable: %v", err)
	}
	if n != 3 || string(p[:n]) != "abc" {
		t.Fatalf("got %d bytes %q, want 3 bytes \"abc\"", n, p[:n])
	}
}

func TestReadAvailableUnblocksOnClose(t *testing.T) {
	c := New(5, &fakeWriter{}, testLogger())

	errc := make(chan error, 1)
	go func() {
		p := make([]byte, 8)
		_, err := c.ReadAvailable(p)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-errc:
		if err == nil {
			t.Fatal("expected an error from a read interrupted by shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked ReadAvailable was not released by Close")
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	c := New(1, &fakeWriter{}, testLogger())
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Write([]byte("x")); err == nil {
		t.Fatal("expected write after close to fail")
	}
}

func TestBytesReceivedAccumulates(t *testing.T) {
	c := New(1, &fakeWriter{}, testLogger())
	defer c.Close()

	c.Receive([]byte("abc"))
	c.Receive([]byte("de"))
	if got := c.BytesReceived(); got != 5 {
		t.Fatalf("got %d bytes received, want 5", got)
	}
}
