package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/openvacs/vacs/internal/protocol"
)

// ErrBinaryFrame is wrapped in the *protocol.ProtocolError returned when a
// peer sends a binary frame. The wire format is text only.
var ErrBinaryFrame = errors.New("binary frames are not allowed")

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	controlTimeout   = 5 * time.Second
)

// WSConn implements Conn on a gorilla websocket connection. It is used on
// both sides: the client wraps a dialed connection, the server wraps the
// upgraded one.
type WSConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

var _ Conn = (*WSConn)(nil)

// NewWSConn wraps an established websocket connection. Incoming websocket
// pings are answered by gorilla's default ping handler without surfacing.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Send implements Conn.Send.
func (c *WSConn) Send(ctx context.Context, m *protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return &RuntimeError{Err: err}
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &RuntimeError{Err: err}
	}
	return nil
}

// Recv implements Conn.Recv. Cancellation is effected by closing the
// connection; a context deadline, when present, is applied as the read
// deadline.
func (c *WSConn) Recv(ctx context.Context) (*protocol.Message, error) {
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, &RuntimeError{Err: err}
	}

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, &RuntimeError{Err: err}
	}
	if messageType != websocket.TextMessage {
		return nil, &protocol.ProtocolError{Detail: ErrBinaryFrame.Error()}
	}
	return protocol.Decode(data)
}

// Ping implements Conn.Ping.
func (c *WSConn) Ping(context.Context) error {
	err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlTimeout))
	if err != nil {
		return &RuntimeError{Err: err}
	}
	return nil
}

// SetPongHandler implements Conn.SetPongHandler.
func (c *WSConn) SetPongHandler(fn func()) {
	c.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

// Close implements Conn.Close. A close frame is offered best-effort before
// the underlying connection is torn down.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(controlTimeout))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements Conn.RemoteAddr.
func (c *WSConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// WSDialer implements Dialer over gorilla's websocket client.
type WSDialer struct{}

var _ Dialer = (*WSDialer)(nil)

// Dial implements Dialer.Dial. The one-shot websocket token rides in the
// Authorization header.
func (WSDialer) Dial(ctx context.Context, url, wsToken string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	if wsToken != "" {
		header.Set("Authorization", "Bearer "+wsToken)
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, &SetupError{Err: errors.Join(err, errors.New(resp.Status))}
		}
		return nil, &SetupError{Err: err}
	}
	return NewWSConn(conn), nil
}
