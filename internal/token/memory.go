package token

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-process map. An auxiliary min-heap
// of (expiry, key) pairs is swept lazily on every access so expired entries
// are reclaimed without a background goroutine.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	expiry  expiryHeap

	// now is swappable for expiry tests.
	now func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Put implements Store.Put.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	expiresAt := s.now().Add(ttl)
	s.entries[key] = memoryEntry{value: value, expiresAt: expiresAt}
	heap.Push(&s.expiry, expiryItem{key: key, expiresAt: expiresAt})
	return nil
}

// Get implements Store.Get. An entry past its expiry is treated as absent
// even if the sweep has not reclaimed it yet.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	entry, ok := s.entries[key]
	if !ok || !entry.expiresAt.After(s.now()) {
		return nil, ErrNotFound
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Remove implements Store.Remove.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	entry, ok := s.entries[key]
	if !ok || !entry.expiresAt.After(s.now()) {
		return ErrNotFound
	}
	delete(s.entries, key)
	return nil
}

// Health implements Store.Health. The in-process backend is always healthy.
func (s *MemoryStore) Health(context.Context) error { return nil }

// sweepLocked pops expired heap items and drops the matching map entries.
// A heap item whose key was overwritten by a later Put carries a stale
// expiry; the map entry is only dropped when its own deadline agrees.
func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for s.expiry.Len() > 0 {
		item := s.expiry[0]
		if item.expiresAt.After(now) {
			return
		}
		heap.Pop(&s.expiry)
		if entry, ok := s.entries[item.key]; ok && !entry.expiresAt.After(now) {
			delete(s.entries, item.key)
		}
	}
}

type expiryItem struct {
	key       string
	expiresAt time.Time
}

type expiryHeap []expiryItem

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiryItem)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
