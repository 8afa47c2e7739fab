package token

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGetRemove(t *testing.T) {
	s := NewMemoryStore()
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

func TestMemoryStore_NeverReturnsExpired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "k1", []byte("u1"), 10*time.Second))

	// Advance past expiry without any sweep having run.
	now = now.Add(11 * time.Second)
	_, err := s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Remove(ctx, "k1"), ErrNotFound)
}

func TestMemoryStore_SweepDropsExpiredEntries(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Second))
	}
	now = now.Add(2 * time.Second)

	// Any access sweeps the heap and reclaims the map.
	require.NoError(t, s.Put(ctx, "fresh", []byte("v"), time.Minute))
	assert.Equal(t, 1, len(s.entries))
}

func TestMemoryStore_OverwriteExtendsTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Put(ctx, "k1", []byte("v1"), time.Second))
	require.NoError(t, s.Put(ctx, "k1", []byte("v2"), time.Minute))

	// The stale heap item from the first Put expires, but the entry was
	// re-minted with a later deadline and must survive the sweep.
	now = now.Add(2 * time.Second)
	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestConsume_AtMostOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("u1"), time.Minute))

	got, err := Consume(ctx, s, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("u1"), got)

	_, err = Consume(ctx, s, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsume_ConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("u1"), time.Minute))

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Consume(ctx, s, "k1"); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "token must validate at most once")
}

func TestMemoryStore_Health(t *testing.T) {
	assert.NoError(t, NewMemoryStore().Health(context.Background()))
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i)
			for j := 0; j < 100; j++ {
				_ = s.Put(ctx, key, []byte("v"), time.Millisecond*time.Duration(j%7+1))
				_, _ = s.Get(ctx, key)
				_ = s.Remove(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}
