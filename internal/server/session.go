package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/openvacs/vacs/internal/common/cnst"
	"github.com/openvacs/vacs/internal/protocol"
	"github.com/openvacs/vacs/internal/server/registry"
	"github.com/openvacs/vacs/internal/token"
	"github.com/openvacs/vacs/internal/transport"
	"github.com/openvacs/vacs/pkg/metrics"
	"go.uber.org/zap"
)

// SessionState is the server-side session lifecycle. Transitions only move
// forward: AwaitingLogin → LoggedIn → Closing.
type SessionState int32

const (
	StateAwaitingLogin SessionState = iota
	StateLoggedIn
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingLogin:
		return "awaiting_login"
	case StateLoggedIn:
		return "logged_in"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Session is the per-connection state machine. It owns exactly one read
// loop and one write loop, joined by a bounded outbound queue and a shared
// shutdown latch. The read loop is the only producer of state transitions;
// nothing outside the session mutates its state.
type Session struct {
	logger  *zap.Logger
	conn    transport.Conn
	reg     *registry.Registry
	tokens  token.Store
	metrics *metrics.Metrics

	id     string
	remote string

	state  atomic.Int32
	userID atomic.Value // string, set once by the read loop on login

	outbound chan *protocol.Message
	shutdown chan struct{}
	fireOnce sync.Once

	lastSeen atomic.Int64 // unix nanos

	// Timing knobs, overridable in tests.
	loginDeadline     time.Duration
	heartbeatInterval time.Duration

	done chan struct{}
}

var _ registry.Handle = (*Session)(nil)

// NewSession wraps an upgraded connection. The caller runs it with Run.
func NewSession(logger *zap.Logger, conn transport.Conn, reg *registry.Registry, tokens token.Store, m *metrics.Metrics) *Session {
	s := &Session{
		logger:   logger.Named("session"),
		conn:     conn,
		reg:      reg,
		tokens:   tokens,
		metrics:  m,
		id:       uuid.NewString(),
		remote:   conn.RemoteAddr(),
		outbound: make(chan *protocol.Message, cnst.OutboundQueueCap),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),

		loginDeadline:     cnst.LoginDeadline,
		heartbeatInterval: cnst.HeartbeatInterval,
	}
	s.logger = s.logger.With(zap.String("conn_id", s.id), zap.String("remote", s.remote))
	s.touch()
	return s
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// currentUserID returns the logged-in user id, or "" before login. Safe to
// call from any goroutine.
func (s *Session) currentUserID() string {
	if v, ok := s.userID.Load().(string); ok {
		return v
	}
	return ""
}

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Enqueue implements registry.Handle. It never blocks; a saturated queue
// refuses the message immediately.
func (s *Session) Enqueue(m *protocol.Message) error {
	select {
	case s.outbound <- m:
		return nil
	default:
		return registry.ErrQueueFull
	}
}

// Shutdown implements registry.Handle. Firing is idempotent; every loop
// observes the same latch.
func (s *Session) Shutdown(reason string) {
	s.fireOnce.Do(func() {
		s.logger.Debug("shutdown signal fired", zap.String("reason", reason))
		close(s.shutdown)
	})
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) sinceLastSeen() time.Duration {
	return time.Since(time.Unix(0, s.lastSeen.Load()))
}

// advance moves the state forward. Backward transitions are ignored, which
// keeps the ordering invariant even under racing teardown paths.
func (s *Session) advance(next SessionState) {
	for {
		current := s.state.Load()
		if current >= int32(next) {
			return
		}
		if s.state.CompareAndSwap(current, int32(next)) {
			s.logger.Debug("state transition",
				zap.String("from", SessionState(current).String()),
				zap.String("to", next.String()))
			return
		}
	}
}

// Run drives the session to completion. It returns once the connection is
// closed and, when logged in, the registry entry is released.
func (s *Session) Run(ctx context.Context) {
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	defer close(s.done)

	s.conn.SetPongHandler(s.touch)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.heartbeatLoop(ctx)
	}()

	s.readLoop(ctx)

	// Closing: the write loop drains the queue within its deadline, then
	// the transport is torn down and the registry entry released under
	// identity compare.
	s.advance(StateClosing)
	s.Shutdown("session closed")
	wg.Wait()

	_ = s.conn.Close()
	if uid := s.currentUserID(); uid != "" {
		s.reg.Unregister(uid, s)
	}
	s.logger.Info("session closed", zap.String("state", s.State().String()))
}

// readLoop is the sole producer of state transitions. It handles the login
// phase, then classifies and routes logged-in traffic until the transport
// fails, the error budget is exhausted, or the shutdown signal fires.
func (s *Session) readLoop(ctx context.Context) {
	if !s.awaitLogin(ctx) {
		return
	}

	protocolErrors := 0
	for {
		select {
		case <-s.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		m, err := s.conn.Recv(ctx)
		if err != nil {
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				protocolErrors++
				_ = s.Enqueue(protocol.Error(protocol.ReasonProtocolError))
				if protocolErrors >= cnst.ProtocolErrorBudget {
					s.logger.Warn("protocol error budget exhausted")
					return
				}
				continue
			}
			// Transport runtime failure is terminal.
			s.logger.Debug("read failed", zap.Error(err))
			return
		}
		protocolErrors = 0
		s.touch()

		switch {
		case m.IsCallRelay():
			s.relay(m)
		case m.Type == protocol.TypePing:
			_ = s.Enqueue(protocol.Pong(m.Nonce))
		default:
			// Login, LoginOk, LoginFailed, Error, Disconnect, Pong:
			// not for a logged-in client to send.
			_ = s.Enqueue(protocol.Error(protocol.ReasonUnexpectedMessage))
		}
	}
}

// awaitLogin runs the AwaitingLogin phase. It reports whether the session
// reached LoggedIn.
func (s *Session) awaitLogin(ctx context.Context) bool {
	loginCtx, cancel := context.WithTimeout(ctx, s.loginDeadline)
	defer cancel()

	m, err := s.conn.Recv(loginCtx)
	if err != nil {
		var perr *protocol.ProtocolError
		if errors.As(err, &perr) {
			_ = s.Enqueue(protocol.Error(protocol.ReasonExpectedLogin))
			return false
		}
		if loginCtx.Err() != nil {
			s.logger.Info("login deadline expired")
			_ = s.Enqueue(protocol.Disconnect(protocol.ReasonTimeout))
		}
		return false
	}
	s.touch()

	if m.Type != protocol.TypeLogin {
		_ = s.Enqueue(protocol.Error(protocol.ReasonExpectedLogin))
		return false
	}

	value, err := token.Consume(ctx, s.tokens, m.Token)
	if err != nil {
		s.metrics.LoginDone("invalid_token")
		_ = s.Enqueue(protocol.LoginFailed(protocol.ReasonInvalidToken))
		return false
	}

	uid := string(value)
	s.userID.Store(uid)
	if s.reg.Register(uid, s) {
		s.metrics.SessionEvicted()
	}
	s.advance(StateLoggedIn)
	s.metrics.LoginDone("ok")
	_ = s.Enqueue(protocol.LoginOk(uid))
	s.logger.Info("login ok", zap.String("user_id", uid))
	return true
}

// relay forwards a call message to its target, rewriting peer_id to the
// sender's user id so recipients can never be deceived about the source.
// Delivery failures come back to the sender as CallHangup notices.
func (s *Session) relay(m *protocol.Message) {
	target := m.PeerID
	rewritten := *m
	rewritten.PeerID = s.currentUserID()

	result := s.reg.Deliver(target, &rewritten)
	s.metrics.RelayDone(result.String())

	switch result {
	case registry.NoSuchUser:
		_ = s.Enqueue(protocol.CallHangup(target, protocol.ReasonPeerOffline))
	case registry.Backpressured:
		_ = s.Enqueue(protocol.CallHangup(target, protocol.ReasonPeerBackpressured))
	}
}

// writeLoop is strictly a consumer: outbound queue plus the shutdown
// signal. On shutdown it drains the queue subject to the drain deadline,
// then closes the transport to unblock the read loop.
func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-s.shutdown:
			s.drain(context.Background())
			_ = s.conn.Close()
			return
		case <-ctx.Done():
			s.drain(context.Background())
			_ = s.conn.Close()
			return
		case m := <-s.outbound:
			if err := s.conn.Send(ctx, m); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				s.Shutdown("write failed")
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *Session) drain(ctx context.Context) {
	deadline := time.NewTimer(cnst.OutboundDrain)
	defer deadline.Stop()
	for {
		select {
		case m := <-s.outbound:
			if err := s.conn.Send(ctx, m); err != nil {
				return
			}
		case <-deadline.C:
			return
		default:
			return
		}
	}
}

// heartbeatLoop sends a transport-level ping after every heartbeat interval
// of silence. Two consecutive unanswered pings mark the peer dead.
func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			silence := s.sinceLastSeen()
			if silence < s.heartbeatInterval {
				continue
			}
			// Two full intervals of silence means the previous ping went
			// unanswered as well: the peer is dead.
			if silence >= 2*s.heartbeatInterval {
				s.logger.Info("heartbeat timeout", zap.String("user_id", s.currentUserID()))
				_ = s.Enqueue(protocol.Disconnect(protocol.ReasonTimeout))
				s.Shutdown(protocol.ReasonTimeout)
				return
			}
			if err := s.conn.Ping(ctx); err != nil {
				s.Shutdown(protocol.ReasonTimeout)
				return
			}
		}
	}
}
