// Package ws implements a websocket-backed Transport: a
// firewall-friendly substitute for the vchan/TCP byte pipes, used to
// exercise the mux/bridge/supervisor stack end-to-end in development
// and in environments that front the proxy with an HTTP(S) reverse
// proxy.
package ws

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/aosedge/aos-messageproxy/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Transport carries exact-length reads/writes over a single websocket
// binary-message stream, reassembling message boundaries transparently
// so callers see a plain byte pipe. One concurrent reader and one
// concurrent writer are supported; reads and writes hold separate
// locks so a blocked reader never stalls the writer.
type Transport struct {
	url string

	connMu sync.Mutex
	conn   *websocket.Conn

	readMu  sync.Mutex
	pending []byte

	writeMu sync.Mutex

	server   bool
	upgradeW http.ResponseWriter
	upgradeR *http.Request
}

// Dial creates a client-mode Transport that connects to a ws:// or
// wss:// URL when Connect is called.
func Dial(url string) *Transport {
	return &Transport{url: url}
}

// Upgrade creates a server-mode Transport from an in-flight HTTP
// request; Connect completes the upgrade handshake.
func Upgrade(w http.ResponseWriter, r *http.Request) *Transport {
	return &Transport{server: true, upgradeW: w, upgradeR: r}
}

func (t *Transport) Connect() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn != nil {
		return nil
	}
	if t.server {
		conn, err := upgrader.Upgrade(t.upgradeW, t.upgradeR, nil)
		if err != nil {
			return err
		}
		t.conn = conn
		return nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(t.url, nil)
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *Transport) Read(buf []byte) error {
	conn := t.current()
	if conn == nil {
		return fmt.Errorf("ws: not connected")
	}
	t.readMu.Lock()
	defer t.readMu.Unlock()
	need := len(buf)
	got := 0
	for got < need {
		if len(t.pending) > 0 {
			n := copy(buf[got:], t.pending)
			t.pending = t.pending[n:]
			got += n
			continue
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.drop(conn)
			return err
		}
		t.pending = data
	}
	return nil
}

func (t *Transport) Write(buf []byte) error {
	conn := t.current()
	if conn == nil {
		return fmt.Errorf("ws: not connected")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
		t.drop(conn)
		return err
	}
	return nil
}

func (t *Transport) Close() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

func (t *Transport) current() *websocket.Conn {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.conn
}

// drop discards a failed connection so the next Connect establishes a
// fresh one. Client-mode transports redial; a server-mode transport is
// one-shot since its upgrade request is gone.
func (t *Transport) drop(conn *websocket.Conn) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conn == conn {
		_ = t.conn.Close()
		t.conn = nil
	}
}

var _ transport.Transport = (*Transport)(nil)
