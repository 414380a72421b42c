package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/erp/posconnector/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestInMemoryIdentityStore_Reserve(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := newInMemoryIdentityStore(time.Hour, clock.Now)
	defer store.Close()
	ctx := context.Background()

	t.Run("reserves a new key", func(t *testing.T) {
		ok, err := store.Reserve(ctx, "import_record:1", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("refuses a held key", func(t *testing.T) {
		ok, err := store.Reserve(ctx, "import_record:1", time.Hour)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("released keys can be reserved again", func(t *testing.T) {
		require.NoError(t, store.Release(ctx, "import_record:1"))
		ok, err := store.Reserve(ctx, "import_record:1", time.Hour)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired keys can be reserved again", func(t *testing.T) {
		ok, err := store.Reserve(ctx, "export_record:2", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		clock.Advance(time.Minute)
		ok, err = store.Reserve(ctx, "export_record:2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("releasing an unknown key is fine", func(t *testing.T) {
		assert.NoError(t, store.Release(ctx, "nope"))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.Reserve(cancelled, "k", time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestInMemoryIdentityStore_Cleanup(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := newInMemoryIdentityStore(time.Hour, clock.Now)
	defer store.Close()
	ctx := context.Background()

	_, err := store.Reserve(ctx, "short", time.Second)
	require.NoError(t, err)
	_, err = store.Reserve(ctx, "long", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, store.Size())

	clock.Advance(time.Minute)
	store.cleanup()
	assert.Equal(t, 1, store.Size())
}

func TestInMemoryIdentityStore_ConcurrentReserve(t *testing.T) {
	store := NewInMemoryIdentityStore()
	defer store.Close()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Reserve(context.Background(), "same", time.Hour)
			if err == nil && ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestInMemoryIdentityStore_CloseTwice(t *testing.T) {
	store := NewInMemoryIdentityStore()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestNewIdentityStore_WithoutRedis(t *testing.T) {
	store := NewIdentityStore(context.Background(), config.RedisConfig{}, zap.NewNop())
	defer store.Close()
	_, ok := store.(*InMemoryIdentityStore)
	assert.True(t, ok)
}
