package token

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	s, err := NewRedisStore(context.Background(), RedisOptions{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("failed to create RedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_PutGetRemove(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("u1"), time.Minute))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("u1"), got)

	require.NoError(t, s.Remove(ctx, "k1"))
	_, err = s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Remove(ctx, "k1"), ErrNotFound)
}

func TestRedisStore_TTLDelegatedToBackend(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("u1"), 10*time.Second))

	mr.FastForward(11 * time.Second)
	_, err := s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Consume(t *testing.T) {
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("u1"), time.Minute))

	got, err := Consume(ctx, s, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("u1"), got)

	_, err = Consume(ctx, s, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Health(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	assert.NoError(t, s.Health(ctx))

	mr.Close()
	assert.Error(t, s.Health(ctx))
}

func TestRedisStore_KeysArePrefixed(t *testing.T) {
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "abc", []byte("u1"), time.Minute))
	assert.True(t, mr.Exists("vacs:token:abc"))
}
