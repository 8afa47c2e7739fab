package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openvacs/vacs/internal/common/cnst"
	"github.com/openvacs/vacs/internal/protocol"
	"github.com/openvacs/vacs/internal/transport"
	"go.uber.org/zap"
)

// ErrNotReady is returned by Send when the session is not in Ready.
var ErrNotReady = errors.New("session not ready")

const stopWait = 1 * time.Second

// State is the client session lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateReady
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TokenSource supplies a fresh one-shot websocket token for each connection
// attempt. Tokens are single use; a source must never hand out the same
// token twice.
type TokenSource interface {
	WSToken(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// WSToken implements TokenSource.
func (f TokenSourceFunc) WSToken(ctx context.Context) (string, error) { return f(ctx) }

// Session is the client-side signaling session. It dials, authenticates and
// then relays server messages onto its event channel, reconnecting with
// jittered exponential backoff until stopped or terminally refused.
type Session struct {
	logger *zap.Logger
	dialer transport.Dialer
	url    string
	tokens TokenSource

	state   atomic.Int32
	started atomic.Bool
	events  chan Event

	mu     sync.Mutex
	conn   transport.Conn
	userID string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// Timing knobs, overridable in tests.
	authDeadline   time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSession builds a client session. Start begins connecting.
func NewSession(logger *zap.Logger, dialer transport.Dialer, url string, tokens TokenSource) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		logger: logger.Named("client"),
		dialer: dialer,
		url:    url,
		tokens: tokens,
		events: make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),

		authDeadline:   cnst.AuthenticatingDeadline,
		initialBackoff: cnst.ReconnectInitialInterval,
		maxBackoff:     cnst.ReconnectMaxInterval,
	}
}

// Events returns the event channel. It is closed once the session reaches
// Terminated or is stopped.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// UserID returns the identity confirmed by the last successful login.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.logger.Debug("state transition",
			zap.String("from", prev.String()),
			zap.String("to", next.String()))
	}
}

// Start launches the connection loop. A session runs at most once; calling
// Start again, including after Stop, has no effect.
func (s *Session) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
}

// Stop tears the session down and leaves it Terminated. It returns once
// teardown completes, bounded by a short wait.
func (s *Session) Stop() {
	s.cancel()
	if s.started.CompareAndSwap(false, true) {
		// Never started: no run loop owns the channels.
		s.setState(StateTerminated)
		close(s.done)
		close(s.events)
		return
	}
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
	case <-time.After(stopWait):
		s.logger.Warn("stop wait elapsed before teardown finished")
	}
}

// Send delivers a message to the server. Only legal while Ready; messages
// from one caller are delivered in the order sent.
func (s *Session) Send(ctx context.Context, m *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != StateReady || s.conn == nil {
		return ErrNotReady
	}
	return s.conn.Send(ctx, m)
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.events)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialBackoff
	bo.Multiplier = cnst.ReconnectMultiplier
	bo.MaxInterval = s.maxBackoff
	bo.RandomizationFactor = 1 // full jitter
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if s.ctx.Err() != nil {
			s.setState(StateTerminated)
			return
		}

		conn, fatal := s.connect()
		if fatal {
			s.setState(StateTerminated)
			return
		}
		if conn == nil {
			if !s.waitBackoff(bo.NextBackOff()) {
				s.setState(StateTerminated)
				return
			}
			continue
		}

		bo.Reset()
		s.installConn(conn)
		s.setState(StateReady)
		s.emit(Event{Kind: EventConnected})

		reason, fatal := s.serve(conn)
		s.installConn(nil)
		_ = conn.Close()
		s.emit(Event{Kind: EventDisconnected, Reason: reason})

		if fatal {
			s.setState(StateTerminated)
			return
		}
		if s.ctx.Err() != nil {
			s.setState(StateTerminated)
			return
		}
		if !s.waitBackoff(bo.NextBackOff()) {
			s.setState(StateTerminated)
			return
		}
	}
}

// connect performs one dial-and-login pass. A nil conn with fatal false
// means a retryable failure. An invalid token is retried exactly once with
// a fresh token; a second refusal is terminal.
func (s *Session) connect() (transport.Conn, bool) {
	for attempt := 0; attempt < 2; attempt++ {
		s.setState(StateConnecting)

		tok, err := s.tokens.WSToken(s.ctx)
		if err != nil {
			s.logger.Warn("token fetch failed", zap.Error(err))
			return nil, false
		}

		conn, err := s.dialer.Dial(s.ctx, s.url, tok)
		if err != nil {
			s.logger.Warn("dial failed", zap.Error(err))
			return nil, false
		}

		s.setState(StateAuthenticating)
		authCtx, cancel := context.WithTimeout(s.ctx, s.authDeadline)
		m, err := s.login(authCtx, conn, tok)
		cancel()
		if err != nil {
			_ = conn.Close()
			s.logger.Warn("login handshake failed", zap.Error(err))
			return nil, false
		}

		switch m.Type {
		case protocol.TypeLoginOk:
			s.mu.Lock()
			s.userID = m.UserID
			s.mu.Unlock()
			s.logger.Info("logged in", zap.String("user_id", m.UserID))
			return conn, false
		case protocol.TypeLoginFailed:
			_ = conn.Close()
			switch {
			case m.Reason == protocol.ReasonInvalidToken && attempt == 0:
				s.logger.Info("token refused, retrying with a fresh one")
				continue
			case m.Reason == protocol.ReasonInvalidToken:
				// A freshly minted token was refused too; more dials
				// would only mint and burn more tokens.
				s.logger.Warn("login refused", zap.String("reason", m.Reason))
				return nil, true
			default:
				// Reasons this build does not know are assumed transient.
				s.logger.Warn("login refused, will reconnect", zap.String("reason", m.Reason))
				return nil, false
			}
		default:
			_ = conn.Close()
			s.logger.Warn("unexpected handshake reply", zap.String("type", string(m.Type)))
			return nil, false
		}
	}
	return nil, true
}

func (s *Session) login(ctx context.Context, conn transport.Conn, tok string) (*protocol.Message, error) {
	if err := conn.Send(ctx, protocol.Login(tok)); err != nil {
		return nil, err
	}
	return conn.Recv(ctx)
}

// serve pumps server messages onto the event channel until the connection
// drops or the server says goodbye. It reports the disconnect reason and
// whether it is terminal.
func (s *Session) serve(conn transport.Conn) (string, bool) {
	for {
		m, err := conn.Recv(s.ctx)
		if err != nil {
			var perr *protocol.ProtocolError
			if errors.As(err, &perr) {
				s.logger.Warn("malformed server frame", zap.String("detail", perr.Detail))
				continue
			}
			return "connection_lost", false
		}

		switch m.Type {
		case protocol.TypePing:
			s.mu.Lock()
			_ = conn.Send(s.ctx, protocol.Pong(m.Nonce))
			s.mu.Unlock()
		case protocol.TypeDisconnect:
			// Eviction and owner termination are final; anything else,
			// including reasons this build does not know, allows a
			// reconnect attempt.
			switch m.Reason {
			case protocol.ReasonReplacedByNewerSession, protocol.ReasonTerminated:
				return m.Reason, true
			default:
				return m.Reason, false
			}
		default:
			s.emit(Event{Kind: EventMessage, Message: m})
		}
	}
}

func (s *Session) installConn(conn transport.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) waitBackoff(d time.Duration) bool {
	s.logger.Info("reconnecting", zap.Duration("after", d))
	s.setState(StateReconnecting)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// emit never blocks. A full event channel drops the event; the consumer is
// expected to keep up.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event channel full, dropping event", zap.String("kind", ev.Kind.String()))
	}
}
