package token

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or its TTL has elapsed.
var ErrNotFound = errors.New("token not found")

// Store holds short-lived opaque values, keyed by the bearer token minted at
// /ws/token and by login-flow ids. Values past their TTL are never returned;
// expiry on the memory backend is best-effort lazy, the redis backend
// delegates it entirely.
type Store interface {
	// Put stores value under key for ttl.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Remove deletes key. Returns ErrNotFound if nothing was removed, so
	// callers can detect who won a concurrent consumption race.
	Remove(ctx context.Context, key string) error

	// Health performs a non-blocking round trip against the backend.
	Health(ctx context.Context) error
}

// Consume takes a one-shot token. The caller whose Remove actually deletes
// the key wins; every other concurrent Consume of the same key reports
// ErrNotFound. A token therefore validates at most once.
func Consume(ctx context.Context, s Store, key string) ([]byte, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.Remove(ctx, key); err != nil {
		return nil, err
	}
	return value, nil
}
