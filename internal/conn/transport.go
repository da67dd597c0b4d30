package conn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a single live connection. ReadMessage blocks until a frame
// arrives or the transport fails; any error ends the transport.
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens transports to an endpoint.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialer dials WebSocket endpoints.
type WSDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingInterval enables keepalive pings; zero disables them.
	PingInterval   time.Duration
	MaxMessageSize int64
	Header         http.Header
}

// Dial opens a WebSocket connection.
func (d *WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	ws, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	if d.MaxMessageSize > 0 {
		ws.SetReadLimit(d.MaxMessageSize)
	}

	t := &wsTransport{
		conn:         ws,
		writeTimeout: d.WriteTimeout,
		done:         make(chan struct{}),
	}

	if d.PingInterval > 0 {
		WatchPongs(ws, 2*d.PingInterval)
		go t.pingLoop(d.PingInterval)
	}

	return t, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closeOnce    sync.Once
	done         chan struct{}
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteMessage writes a text frame with proper locking.
func (t *wsTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setWriteDeadline()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and tears down the connection. Safe to call more than once.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.mu.Lock()
		t.setWriteDeadline()
		t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.mu.Unlock()

		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.Lock()
			t.setWriteDeadline()
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.mu.Unlock()
			if err != nil {
				t.Close()
				return
			}
		}
	}
}

func (t *wsTransport) setWriteDeadline() {
	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
}
