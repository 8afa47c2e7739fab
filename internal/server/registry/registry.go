package registry

import (
	"errors"
	"sync"

	"github.com/openvacs/vacs/internal/protocol"
	"go.uber.org/zap"
)

// ErrQueueFull is returned by Handle.Enqueue when the session's bounded
// outbound queue is saturated. Producers are refused immediately; the
// routing path never blocks on a slow consumer.
var ErrQueueFull = errors.New("outbound queue full")

// Handle is the registry's view of a live server session. Enqueue must be
// non-blocking; Shutdown must be idempotent. Handles compare by identity:
// two sessions for the same user are distinct handles.
type Handle interface {
	// Enqueue appends a message to the session's outbound queue, or
	// returns ErrQueueFull.
	Enqueue(m *protocol.Message) error

	// Shutdown fires the session's shutdown signal with the given reason.
	Shutdown(reason string)
}

// DeliverResult reports the outcome of a targeted delivery.
type DeliverResult int

const (
	Delivered DeliverResult = iota
	NoSuchUser
	Backpressured
)

func (r DeliverResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case NoSuchUser:
		return "no_such_user"
	case Backpressured:
		return "backpressured"
	default:
		return "unknown"
	}
}

// Registry maps user ids to their single live session handle. It holds the
// at-most-one-session-per-user invariant: Register atomically evicts any
// prior handle for the same user, and Unregister removes only when the
// caller still owns the entry.
//
// One mutex guards the map. Critical sections contain map operations and
// non-blocking enqueues only, never I/O.
type Registry struct {
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]Handle
}

// New creates an empty registry. Tests construct isolated instances; the
// server constructs exactly one.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger.Named("registry"),
		entries: make(map[string]Handle),
	}
}

// Register installs handle as the live session for userID, evicting any
// prior session. The evictee receives Disconnect{replaced_by_newer_session}
// and its shutdown signal before the new handle becomes observable to any
// third party. Reports whether an eviction happened.
func (r *Registry) Register(userID string, handle Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	prior, exists := r.entries[userID]
	if exists && prior != handle {
		// Best effort: the evictee may already be saturated or gone.
		_ = prior.Enqueue(protocol.Disconnect(protocol.ReasonReplacedByNewerSession))
		prior.Shutdown(protocol.ReasonReplacedByNewerSession)
		r.logger.Info("evicted prior session", zap.String("user_id", userID))
	}
	r.entries[userID] = handle
	return exists && prior != handle
}

// Unregister removes the entry for userID only if it still is handle.
// Idempotent; does not close the handle. The caller owns the session
// lifecycle.
func (r *Registry) Unregister(userID string, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.entries[userID]; ok && current == handle {
		delete(r.entries, userID)
	}
}

// Get returns the live handle for userID, if any.
func (r *Registry) Get(userID string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handle, ok := r.entries[userID]
	return handle, ok
}

// Deliver enqueues a message onto the target user's outbound queue. The
// result is returned to the caller, which owns policy: the relay path turns
// NoSuchUser and Backpressured into CallHangup notices for the sender.
func (r *Registry) Deliver(userID string, m *protocol.Message) DeliverResult {
	r.mu.Lock()
	handle, ok := r.entries[userID]
	r.mu.Unlock()

	if !ok {
		return NoSuchUser
	}
	if err := handle.Enqueue(m); err != nil {
		return Backpressured
	}
	return Delivered
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// BroadcastShutdown notifies every live session that the server is going
// away and fires all shutdown signals. The map is cleared immediately;
// session teardown proceeds within the server's grace period.
func (r *Registry) BroadcastShutdown(reason string) {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.entries))
	for _, h := range r.entries {
		handles = append(handles, h)
	}
	r.entries = make(map[string]Handle)
	r.mu.Unlock()

	for _, h := range handles {
		_ = h.Enqueue(protocol.Disconnect(reason))
		h.Shutdown(reason)
	}
	r.logger.Info("broadcast shutdown", zap.String("reason", reason), zap.Int("sessions", len(handles)))
}
