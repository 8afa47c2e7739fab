package transport

import (
	"context"
	"fmt"

	"github.com/openvacs/vacs/internal/protocol"
)

// Conn is a framed bidirectional message stream between one signaling client
// and the server. Implementations carry exactly one protocol.Message per
// frame. A Conn supports one concurrent reader and one concurrent writer;
// Ping and Close may be called from either side.
//
// Transport-level keepalives (websocket ping/pong) are handled inside Recv
// and never surface as messages.
type Conn interface {
	// Send encodes and writes one message. Encoding failures surface as
	// *protocol.ProtocolError; I/O failures as *RuntimeError.
	Send(ctx context.Context, m *protocol.Message) error

	// Recv blocks for the next message. Undecodable or binary frames
	// return *protocol.ProtocolError and leave the stream usable; I/O
	// failures return *RuntimeError and are terminal.
	Recv(ctx context.Context) (*protocol.Message, error)

	// Ping writes a transport-level keepalive probe. The peer's reply is
	// observed via the handler registered with SetPongHandler.
	Ping(ctx context.Context) error

	// SetPongHandler registers the callback invoked on every keepalive
	// reply. Must be called before the first Recv.
	SetPongHandler(func())

	// Close tears the stream down. Safe to call more than once.
	Close() error

	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

// Dialer establishes client connections. The websocket token minted at
// /ws/token authenticates the dial.
type Dialer interface {
	Dial(ctx context.Context, url, wsToken string) (Conn, error)
}

// SetupError reports a connect-time failure. The client reacts with
// reconnect backoff; no session is created on the server.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string { return fmt.Sprintf("transport setup: %v", e.Err) }
func (e *SetupError) Unwrap() error { return e.Err }

// RuntimeError reports a framing or I/O failure on an established stream.
// It is terminal for the session on both sides.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string { return fmt.Sprintf("transport runtime: %v", e.Err) }
func (e *RuntimeError) Unwrap() error { return e.Err }
