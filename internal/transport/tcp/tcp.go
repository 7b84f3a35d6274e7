// Package tcp implements the TCP-fallback byte transport used when the
// daemon runs without a hypervisor virtual channel.
package tcp

import (
	"fmt"
	"net"
	"sync"

	"github.com/aosedge/aos-messageproxy/internal/transport"
)

// Transport dials (or accepts, via Listen) a single TCP connection
// and exposes it through the Connect/Read(exact n)/Write/Close
// contract.
type Transport struct {
	addr string
	ln   net.Listener

	mu   sync.Mutex
	conn net.Conn
}

// Dial creates a client-mode Transport that connects to addr.
func Dial(addr string) *Transport {
	return &Transport{addr: addr}
}

// Listen creates a server-mode Transport that accepts a single
// connection on addr when Connect is called.
func Listen(addr string) (*Transport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Transport{ln: ln}, nil
}

func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	if t.ln != nil {
		conn, err := t.ln.Accept()
		if err != nil {
			return err
		}
		t.conn = conn
		return nil
	}
	conn, err := net.Dial("tcp", t.addr)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *Transport) Read(buf []byte) error {
	conn := t.current()
	if conn == nil {
		return fmt.Errorf("tcp: not connected")
	}
	if err := transport.ReadExact(conn, buf); err != nil {
		t.drop(conn)
		return err
	}
	return nil
}

func (t *Transport) Write(buf []byte) error {
	conn := t.current()
	if conn == nil {
		return fmt.Errorf("tcp: not connected")
	}
	if err := transport.WriteAll(conn, buf); err != nil {
		t.drop(conn)
		return err
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	if t.ln != nil {
		_ = t.ln.Close()
	}
	return err
}

func (t *Transport) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

// drop discards a failed connection so the next Connect establishes a
// fresh one instead of reusing the dead socket.
func (t *Transport) drop(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		_ = t.conn.Close()
		t.conn = nil
	}
}

var _ transport.Transport = (*Transport)(nil)
