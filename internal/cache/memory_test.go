package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
)

func newTestMemoryCache(t *testing.T, maxKeys int, ttl time.Duration) *memoryCache {
	t.Helper()

	cfg := config.CacheConfig{
		Type:    config.CacheTypeMemory,
		MaxKeys: maxKeys,
		TTL:     config.Duration(ttl),
	}

	c, err := newMemoryCache(cfg, observability.NopLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func TestMemoryCache_SetAndGet(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	err := c.Set(ctx, "key1", []byte("value1"), time.Minute)
	require.NoError(t, err)

	value, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), value)
}

func TestMemoryCache_Get_Miss(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)

	_, err := c.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Get_Expired(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	err := c.Set(ctx, "key1", []byte("value1"), time.Millisecond)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	_, err = c.Get(ctx, "key1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Set_Update(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), time.Minute))
	require.NoError(t, c.Set(ctx, "key1", []byte("value2"), time.Minute))

	value, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value2"), value)

	assert.EqualValues(t, 1, c.Stats().Keys)
}

func TestMemoryCache_Set_DefaultTTL(t *testing.T) {
	c := newTestMemoryCache(t, 100, 20*time.Millisecond)
	ctx := context.Background()

	// Zero TTL falls back to the configured default.
	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), 0))

	value, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), value)

	time.Sleep(40 * time.Millisecond)

	_, err = c.Get(ctx, "key1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Set_NoExpiry(t *testing.T) {
	c := newTestMemoryCache(t, 100, 0)
	ctx := context.Background()

	// Zero TTL with no default keeps the entry until evicted.
	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), 0))

	time.Sleep(20 * time.Millisecond)

	value, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, []byte("value1"), value)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), time.Minute))
	require.NoError(t, c.Delete(ctx, "key1"))

	_, err := c.Get(ctx, "key1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Delete_NonExistent(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)

	assert.NoError(t, c.Delete(context.Background(), "nonexistent"))
}

func TestMemoryCache_Has(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	assert.False(t, c.Has(ctx, "key1"))

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), time.Minute))
	assert.True(t, c.Has(ctx, "key1"))
}

func TestMemoryCache_Has_Expired(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), time.Millisecond))

	time.Sleep(10 * time.Millisecond)

	assert.False(t, c.Has(ctx, "key1"))
}

func TestMemoryCache_Has_DoesNotRefreshLRU(t *testing.T) {
	c := newTestMemoryCache(t, 2, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "old", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "new", []byte("2"), time.Minute))

	// Has must not promote "old"; the next insert still evicts it.
	assert.True(t, c.Has(ctx, "old"))

	require.NoError(t, c.Set(ctx, "newest", []byte("3"), time.Minute))

	assert.False(t, c.Has(ctx, "old"))
	assert.True(t, c.Has(ctx, "new"))
	assert.True(t, c.Has(ctx, "newest"))
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := newTestMemoryCache(t, 3, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "k2", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "k3", []byte("3"), time.Minute))

	// Touch k1 so k2 becomes the least recently used entry.
	_, err := c.Get(ctx, "k1")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "k4", []byte("4"), time.Minute))

	assert.True(t, c.Has(ctx, "k1"))
	assert.False(t, c.Has(ctx, "k2"))
	assert.True(t, c.Has(ctx, "k3"))
	assert.True(t, c.Has(ctx, "k4"))
	assert.EqualValues(t, 3, c.Stats().Keys)
}

func TestMemoryCache_EvictionHook(t *testing.T) {
	cfg := config.CacheConfig{
		Type:    config.CacheTypeMemory,
		MaxKeys: 2,
		TTL:     config.Duration(5 * time.Minute),
	}

	var evicted int
	c, err := newMemoryCache(cfg, observability.NopLogger(), func() { evicted++ })
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "k2", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "k3", []byte("3"), time.Minute))

	assert.Equal(t, 1, evicted)
}

func TestMemoryCache_Clear(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "k2", []byte("2"), time.Minute))

	require.NoError(t, c.Clear(ctx))

	assert.EqualValues(t, 0, c.Stats().Keys)

	_, err := c.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", []byte("1"), time.Minute))

	_, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	_, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	_, err = c.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrCacheMiss)

	stats := c.Stats()
	assert.EqualValues(t, 2, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Keys)
	assert.InDelta(t, 66.6, stats.HitRate(), 0.1)
}

func TestMemoryCache_MaxKeysDefault(t *testing.T) {
	c := newTestMemoryCache(t, 0, 5*time.Minute)

	assert.Equal(t, defaultMaxKeys, c.lru.capacity)
}

func TestMemoryCache_Close_Idempotent(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestMemoryCache_RemoveExpired(t *testing.T) {
	c := newTestMemoryCache(t, 100, 5*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("1"), time.Millisecond))
	require.NoError(t, c.Set(ctx, "long", []byte("2"), time.Minute))

	time.Sleep(10 * time.Millisecond)
	c.removeExpired()

	assert.EqualValues(t, 1, c.Stats().Keys)
	assert.True(t, c.Has(ctx, "long"))
}

func TestLRUStore_InsertEvictsColdEnd(t *testing.T) {
	s := newLRUStore(2)

	assert.Equal(t, 0, s.insert("a", []byte("1"), time.Time{}))
	assert.Equal(t, 0, s.insert("b", []byte("2"), time.Time{}))
	assert.Equal(t, 1, s.insert("c", []byte("3"), time.Time{}))

	_, ok := s.lookup("a", time.Now(), false)
	assert.False(t, ok)
	assert.Equal(t, 2, s.len())
}

func TestLRUStore_Sweep(t *testing.T) {
	s := newLRUStore(10)
	now := time.Now()

	s.insert("stale1", []byte("1"), now.Add(-time.Second))
	s.insert("live", []byte("2"), now.Add(time.Minute))
	s.insert("stale2", []byte("3"), now.Add(-time.Millisecond))
	s.insert("forever", []byte("4"), time.Time{})

	assert.Equal(t, 2, s.sweep(now))
	assert.Equal(t, 2, s.len())

	_, ok := s.lookup("live", now, false)
	assert.True(t, ok)
	_, ok = s.lookup("forever", now, false)
	assert.True(t, ok)
}

func TestLRUStore_Reset(t *testing.T) {
	s := newLRUStore(10)

	s.insert("a", []byte("1"), time.Time{})
	s.insert("b", []byte("2"), time.Time{})

	assert.Equal(t, 2, s.reset())
	assert.Equal(t, 0, s.len())
	assert.Equal(t, 0, s.reset())
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	c := newTestMemoryCache(t, 1000, 5*time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k%d-%d", n, j)
				_ = c.Set(ctx, key, []byte("v"), time.Minute)
				_, _ = c.Get(ctx, key)
				_ = c.Has(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	stats := c.Stats()
	assert.EqualValues(t, 800, stats.Keys)
	assert.EqualValues(t, 800, stats.Hits)
}
