package cnst

import "time"

// Timeouts and capacities shared across the signaling server and client.
const (
	// LoginFlowTimeout bounds the identity-provider login handshake. Flow
	// state stored at /auth/login must be consumed by /auth/callback within
	// this window.
	LoginFlowTimeout = 10 * time.Second

	// WSTokenTTL is the lifetime of a one-shot websocket token minted by
	// GET /ws/token.
	WSTokenTTL = 10 * time.Second

	// LoginDeadline is how long a freshly upgraded websocket session may
	// stay in AwaitingLogin before the server closes it.
	LoginDeadline = 5 * time.Second

	// AuthenticatingDeadline bounds the client-side wait for LoginOk after
	// sending Login.
	AuthenticatingDeadline = 10 * time.Second

	// HeartbeatInterval is the idle period after which the server sends a
	// transport-level ping. Two consecutive missed replies mark the peer
	// dead.
	HeartbeatInterval = 20 * time.Second

	// ShutdownGrace is the window BroadcastShutdown allows sessions to
	// drain before handles are dropped.
	ShutdownGrace = 30 * time.Second

	// OutboundDrain is the deadline for flushing a closing session's
	// outbound queue.
	OutboundDrain = 1 * time.Second

	// OutboundQueueCap is the capacity of every per-session outbound
	// queue. Producers that find the queue full are refused immediately;
	// the routing path never blocks on a slow consumer.
	OutboundQueueCap = 100

	// ProtocolErrorBudget is the number of consecutive protocol errors a
	// logged-in session tolerates before it is closed.
	ProtocolErrorBudget = 3
)

// Client reconnect backoff parameters.
const (
	ReconnectInitialInterval = 500 * time.Millisecond
	ReconnectMultiplier      = 2.0
	ReconnectMaxInterval     = 30 * time.Second
)
