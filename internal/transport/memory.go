package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/openvacs/vacs/internal/protocol"
)

// The in-memory transport is a paired bidirectional queue used by tests. It
// runs the real codec on every frame so framing behavior matches the wire.

type memFrameKind int

const (
	memFrameText memFrameKind = iota
	memFrameBinary
	memFramePing
	memFramePong
)

type memFrame struct {
	kind memFrameKind
	data []byte
}

// MemConn is one end of an in-memory transport pair.
type MemConn struct {
	name string
	in   chan memFrame
	out  chan memFrame

	closed    chan struct{}
	closeOnce sync.Once
	peer      *MemConn

	pongHandler atomic.Value // func()

	// autoPong controls whether Recv answers keepalive pings. Disabling
	// it simulates an unresponsive peer for heartbeat tests.
	autoPong atomic.Bool
}

var _ Conn = (*MemConn)(nil)

// Pipe creates a connected transport pair. Frames written on one end are
// read on the other.
func Pipe() (client, server *MemConn) {
	ab := make(chan memFrame, 64)
	ba := make(chan memFrame, 64)
	a := &MemConn{name: "mem-client", in: ba, out: ab, closed: make(chan struct{})}
	b := &MemConn{name: "mem-server", in: ab, out: ba, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	a.autoPong.Store(true)
	b.autoPong.Store(true)
	return a, b
}

// SetAutoPong toggles automatic keepalive replies on this end.
func (c *MemConn) SetAutoPong(enabled bool) { c.autoPong.Store(enabled) }

// InjectFrame delivers a raw text frame to this end's peer, bypassing the
// encoder. Tests use it to exercise decode failures.
func (c *MemConn) InjectFrame(data []byte) {
	c.writeFrame(context.Background(), memFrame{kind: memFrameText, data: data})
}

// InjectBinaryFrame delivers a binary frame to this end's peer.
func (c *MemConn) InjectBinaryFrame(data []byte) {
	c.writeFrame(context.Background(), memFrame{kind: memFrameBinary, data: data})
}

func (c *MemConn) writeFrame(ctx context.Context, f memFrame) error {
	select {
	case <-c.closed:
		return &RuntimeError{Err: errors.New("connection closed")}
	case <-c.peer.closed:
		return &RuntimeError{Err: errors.New("peer closed")}
	case <-ctx.Done():
		return &RuntimeError{Err: ctx.Err()}
	case c.out <- f:
		return nil
	}
}

// Send implements Conn.Send.
func (c *MemConn) Send(ctx context.Context, m *protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return c.writeFrame(ctx, memFrame{kind: memFrameText, data: data})
}

// Recv implements Conn.Recv. Keepalive pings are answered internally when
// auto-pong is enabled; pongs invoke the registered handler. Neither
// surfaces as a message. Frames delivered before the peer closed remain
// readable, matching a real socket's receive buffer.
func (c *MemConn) Recv(ctx context.Context) (*protocol.Message, error) {
	for {
		select {
		case f := <-c.in:
			if m, surfaced, err := c.consume(ctx, f); surfaced {
				return m, err
			}
			continue
		default:
		}

		select {
		case <-c.closed:
			return nil, &RuntimeError{Err: errors.New("connection closed")}
		case <-c.peer.closed:
			select {
			case f := <-c.in:
				if m, surfaced, err := c.consume(ctx, f); surfaced {
					return m, err
				}
			default:
				return nil, &RuntimeError{Err: errors.New("peer closed")}
			}
		case <-ctx.Done():
			return nil, &RuntimeError{Err: ctx.Err()}
		case f := <-c.in:
			if m, surfaced, err := c.consume(ctx, f); surfaced {
				return m, err
			}
		}
	}
}

// consume handles a single frame. surfaced reports whether the frame yields
// a Recv result; keepalive frames are absorbed.
func (c *MemConn) consume(ctx context.Context, f memFrame) (m *protocol.Message, surfaced bool, err error) {
	switch f.kind {
	case memFramePing:
		if c.autoPong.Load() {
			_ = c.writeFrame(ctx, memFrame{kind: memFramePong})
		}
		return nil, false, nil
	case memFramePong:
		if fn, ok := c.pongHandler.Load().(func()); ok && fn != nil {
			fn()
		}
		return nil, false, nil
	case memFrameBinary:
		return nil, true, &protocol.ProtocolError{Detail: ErrBinaryFrame.Error()}
	default:
		m, err = protocol.Decode(f.data)
		return m, true, err
	}
}

// Ping implements Conn.Ping.
func (c *MemConn) Ping(ctx context.Context) error {
	return c.writeFrame(ctx, memFrame{kind: memFramePing})
}

// SetPongHandler implements Conn.SetPongHandler.
func (c *MemConn) SetPongHandler(fn func()) {
	c.pongHandler.Store(fn)
}

// Close implements Conn.Close.
func (c *MemConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// RemoteAddr implements Conn.RemoteAddr.
func (c *MemConn) RemoteAddr() string { return c.name }

// MemDialer implements Dialer against an in-process acceptor. Every
// successful Dial hands the server end of a fresh pipe to Accept.
type MemDialer struct {
	accept chan *MemConn

	mu        sync.Mutex
	failNext  int
	dialCount int
}

var _ Dialer = (*MemDialer)(nil)

// NewMemDialer creates an in-memory dialer.
func NewMemDialer() *MemDialer {
	return &MemDialer{accept: make(chan *MemConn, 16)}
}

// FailNext makes the next n dials fail with a SetupError.
func (d *MemDialer) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// DialCount reports how many dials were attempted.
func (d *MemDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

// Accept returns the channel of server-side connection ends.
func (d *MemDialer) Accept() <-chan *MemConn { return d.accept }

// Dial implements Dialer.Dial.
func (d *MemDialer) Dial(ctx context.Context, _, _ string) (Conn, error) {
	d.mu.Lock()
	d.dialCount++
	if d.failNext > 0 {
		d.failNext--
		d.mu.Unlock()
		return nil, &SetupError{Err: errors.New("dial refused")}
	}
	d.mu.Unlock()

	client, server := Pipe()
	select {
	case d.accept <- server:
	case <-ctx.Done():
		return nil, &SetupError{Err: ctx.Err()}
	}
	return client, nil
}
