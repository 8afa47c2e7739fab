package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openvacs/vacs/internal/common/cnst"
	"github.com/openvacs/vacs/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeHandle records enqueued messages and shutdown reasons.
type fakeHandle struct {
	mu       sync.Mutex
	queue    []*protocol.Message
	capacity int
	shutdown []string
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{capacity: cnst.OutboundQueueCap}
}

func (h *fakeHandle) Enqueue(m *protocol.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) >= h.capacity {
		return ErrQueueFull
	}
	h.queue = append(h.queue, m)
	return nil
}

func (h *fakeHandle) Shutdown(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown = append(h.shutdown, reason)
}

func (h *fakeHandle) messages() []*protocol.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*protocol.Message(nil), h.queue...)
}

func (h *fakeHandle) shutdownReasons() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.shutdown...)
}

func newTestRegistry() *Registry {
	return New(zap.NewNop())
}

func TestRegister_EvictsPriorSession(t *testing.T) {
	r := newTestRegistry()
	a := newFakeHandle()
	b := newFakeHandle()

	assert.False(t, r.Register("u1", a))
	assert.True(t, r.Register("u1", b))

	// The evictee got the disconnect notice and its shutdown signal.
	msgs := a.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.TypeDisconnect, msgs[0].Type)
	assert.Equal(t, protocol.ReasonReplacedByNewerSession, msgs[0].Reason)
	assert.Equal(t, []string{protocol.ReasonReplacedByNewerSession}, a.shutdownReasons())

	// The new handle is the live one.
	current, ok := r.Get("u1")
	require.True(t, ok)
	assert.Same(t, b, current.(*fakeHandle))
}

func TestUnregister_OnlyRemovesOwnEntry(t *testing.T) {
	r := newTestRegistry()
	a := newFakeHandle()
	b := newFakeHandle()

	r.Register("u1", a)
	r.Register("u1", b)

	// The evicted session unregisters late; b must survive.
	r.Unregister("u1", a)
	current, ok := r.Get("u1")
	require.True(t, ok)
	assert.Same(t, b, current.(*fakeHandle))

	r.Unregister("u1", b)
	_, ok = r.Get("u1")
	assert.False(t, ok)

	// Idempotent.
	r.Unregister("u1", b)
}

func TestDeliver(t *testing.T) {
	r := newTestRegistry()
	h := newFakeHandle()
	r.Register("u1", h)

	m := protocol.CallOffer("u0", "sdp")
	assert.Equal(t, Delivered, r.Deliver("u1", m))
	assert.Equal(t, NoSuchUser, r.Deliver("ghost", m))

	// Saturate the queue; the next delivery must be refused, not blocked.
	for i := len(h.messages()); i < cnst.OutboundQueueCap; i++ {
		require.NoError(t, h.Enqueue(m))
	}
	start := time.Now()
	assert.Equal(t, Backpressured, r.Deliver("u1", m))
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestRegistry_AtMostOneHandlePerUser(t *testing.T) {
	r := newTestRegistry()

	// Concurrent register/unregister churn across actors; the invariant
	// must hold at every observation.
	const actors = 8
	const rounds = 200
	var wg sync.WaitGroup
	stop := make(chan struct{})
	observed := make(chan struct{})

	go func() {
		defer close(observed)
		for {
			select {
			case <-stop:
				return
			default:
				assert.LessOrEqual(t, r.Len(), 1)
			}
		}
	}()

	for i := 0; i < actors; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				h := newFakeHandle()
				r.Register("u1", h)
				r.Unregister("u1", h)
			}
		}()
	}

	wg.Wait()
	close(stop)
	select {
	case <-observed:
	case <-time.After(5 * time.Second):
		t.Fatal("observer did not stop")
	}

	assert.LessOrEqual(t, r.Len(), 1)
}

func TestBroadcastShutdown(t *testing.T) {
	r := newTestRegistry()
	handles := make([]*fakeHandle, 5)
	for i := range handles {
		handles[i] = newFakeHandle()
		r.Register(fmt.Sprintf("u%d", i), handles[i])
	}

	r.BroadcastShutdown(protocol.ReasonServerShutdown)

	assert.Equal(t, 0, r.Len())
	for _, h := range handles {
		msgs := h.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, protocol.TypeDisconnect, msgs[0].Type)
		assert.Equal(t, protocol.ReasonServerShutdown, msgs[0].Reason)
		assert.Equal(t, []string{protocol.ReasonServerShutdown}, h.shutdownReasons())
	}
}

func TestRegister_SameHandleIsNoEviction(t *testing.T) {
	r := newTestRegistry()
	h := newFakeHandle()

	assert.False(t, r.Register("u1", h))
	assert.False(t, r.Register("u1", h))
	assert.Empty(t, h.messages())
	assert.Empty(t, h.shutdownReasons())
}
