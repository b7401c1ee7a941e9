package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a bidirectional message connection to a relay host.
// Send must be safe for concurrent use.
type Transport interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// DialFunc opens a transport to url.
type DialFunc func(ctx context.Context, url string) (Transport, error)

// readDeadliner is implemented by transports that support read timeouts.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// WSDialer dials relay hosts over gorilla/websocket.
type WSDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// Dial implements DialFunc.
func (d WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  1024,
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: status %d: %w", ErrTransport, url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, url, err)
	}
	return NewWSTransport(conn, d.WriteTimeout), nil
}

// WSTransport adapts a websocket connection. Writes are serialized so the
// receive loop and the heartbeat can share one connection.
type WSTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

// NewWSTransport wraps an established websocket connection.
func NewWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *WSTransport {
	return &WSTransport{conn: conn, writeTimeout: writeTimeout}
}

// Send writes one binary message.
func (t *WSTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeTimeout > 0 {
		t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// Receive blocks until the next message arrives.
func (t *WSTransport) Receive() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return data, nil
}

// SetReadDeadline bounds the next Receive.
func (t *WSTransport) SetReadDeadline(d time.Time) error {
	return t.conn.SetReadDeadline(d)
}

// Close sends a close frame and releases the connection. Safe to call
// repeatedly and concurrently with Send and Receive.
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
