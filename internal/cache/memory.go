package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
)

const (
	// defaultMaxKeys bounds the memory cache when no limit is configured.
	defaultMaxKeys = 1000

	// sweepInterval is how often the background sweeper removes expired
	// entries that were never read again.
	sweepInterval = time.Minute
)

// lruStore holds the recency-ordered entries behind the memory cache.
// It is not safe for concurrent use; memoryCache serializes access.
type lruStore struct {
	capacity int
	byKey    map[string]*list.Element
	order    *list.List // front is most recently used
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func (e *lruEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

func newLRUStore(capacity int) *lruStore {
	return &lruStore{
		capacity: capacity,
		byKey:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// lookup returns the live entry for key. When promote is set the entry
// moves to the warm end of the recency list. Expired entries are
// dropped on access.
func (s *lruStore) lookup(key string, now time.Time, promote bool) (*lruEntry, bool) {
	elem, ok := s.byKey[key]
	if !ok {
		return nil, false
	}

	entry := elem.Value.(*lruEntry)
	if !entry.live(now) {
		s.drop(elem)
		return nil, false
	}

	if promote {
		s.order.MoveToFront(elem)
	}
	return entry, true
}

// insert stores or replaces the entry and reports how many cold
// entries were evicted to stay within capacity. Replacing an existing
// key never evicts.
func (s *lruStore) insert(key string, value []byte, expiresAt time.Time) int {
	if elem, ok := s.byKey[key]; ok {
		elem.Value = &lruEntry{key: key, value: value, expiresAt: expiresAt}
		s.order.MoveToFront(elem)
		return 0
	}

	s.byKey[key] = s.order.PushFront(&lruEntry{key: key, value: value, expiresAt: expiresAt})

	evicted := 0
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.drop(oldest)
		evicted++
	}
	return evicted
}

func (s *lruStore) remove(key string) bool {
	elem, ok := s.byKey[key]
	if ok {
		s.drop(elem)
	}
	return ok
}

func (s *lruStore) drop(elem *list.Element) {
	s.order.Remove(elem)
	delete(s.byKey, elem.Value.(*lruEntry).key)
}

// reset discards every entry and returns how many were held.
func (s *lruStore) reset() int {
	n := s.order.Len()
	s.byKey = make(map[string]*list.Element)
	s.order.Init()
	return n
}

// sweep drops all expired entries in one pass from the cold end.
func (s *lruStore) sweep(now time.Time) int {
	removed := 0
	for elem := s.order.Back(); elem != nil; {
		prev := elem.Prev()
		if !elem.Value.(*lruEntry).live(now) {
			s.drop(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (s *lruStore) len() int {
	return s.order.Len()
}

// memoryCache is the in-process cache backend. Every operation takes
// the store lock, including reads, because a hit reorders the recency
// list. Hit and miss counters are atomic so Stats never waits on
// writers.
type memoryCache struct {
	logger     observability.Logger
	defaultTTL time.Duration
	onEvict    func()

	mu  sync.Mutex
	lru *lruStore

	hits   int64
	misses int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

//nolint:unparam // the error return matches the redis constructor
func newMemoryCache(cfg config.CacheConfig, logger observability.Logger, onEvict func()) (*memoryCache, error) {
	capacity := cfg.MaxKeys
	if capacity <= 0 {
		capacity = defaultMaxKeys
	}

	c := &memoryCache{
		logger:     logger,
		defaultTTL: cfg.TTL.Duration(),
		onEvict:    onEvict,
		lru:        newLRUStore(capacity),
		stopCh:     make(chan struct{}),
	}

	go c.sweepLoop()

	logger.Info("memory cache initialized",
		observability.Int("maxKeys", capacity),
		observability.Duration("defaultTTL", c.defaultTTL))

	return c, nil
}

// Get returns the cached value and refreshes its recency.
func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	_, span := startCacheSpan(ctx, "memory", "Get", trace.SpanKindInternal,
		attribute.String("cache.key", key))
	defer span.End()

	c.mu.Lock()
	entry, ok := c.lru.lookup(key, time.Now(), true)
	c.mu.Unlock()

	if !ok {
		atomic.AddInt64(&c.misses, 1)
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	atomic.AddInt64(&c.hits, 1)
	span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.Int("cache.value_size", len(entry.value)),
	)
	c.logger.Debug("cache hit", observability.String("key", key))

	return entry.value, nil
}

// Set stores the value. A zero ttl falls back to the configured
// default; when neither is set the entry lives until evicted.
func (c *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, span := startCacheSpan(ctx, "memory", "Set", trace.SpanKindInternal,
		attribute.String("cache.key", key),
		attribute.Int("cache.value_size", len(value)),
	)
	defer span.End()

	if ttl == 0 {
		ttl = c.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	evicted := c.lru.insert(key, value, expiresAt)
	keys := c.lru.len()
	c.mu.Unlock()

	if evicted > 0 {
		if c.onEvict != nil {
			for i := 0; i < evicted; i++ {
				c.onEvict()
			}
		}
		c.logger.Debug("cache evicted cold entries", observability.Int("evicted", evicted))
	}

	c.logger.Debug("cache set",
		observability.String("key", key),
		observability.Duration("ttl", ttl),
		observability.Int("keys", keys))

	return nil
}

// Delete removes the entry for key. Missing keys are not an error.
func (c *memoryCache) Delete(ctx context.Context, key string) error {
	_, span := startCacheSpan(ctx, "memory", "Delete", trace.SpanKindInternal,
		attribute.String("cache.key", key))
	defer span.End()

	c.mu.Lock()
	removed := c.lru.remove(key)
	c.mu.Unlock()

	if removed {
		c.logger.Debug("cache deleted", observability.String("key", key))
	}
	return nil
}

// Has reports whether a live entry exists without refreshing recency
// or touching the hit counters.
func (c *memoryCache) Has(ctx context.Context, key string) bool {
	_, span := startCacheSpan(ctx, "memory", "Has", trace.SpanKindInternal,
		attribute.String("cache.key", key))
	defer span.End()

	c.mu.Lock()
	_, ok := c.lru.lookup(key, time.Now(), false)
	c.mu.Unlock()

	span.SetAttributes(attribute.Bool("cache.exists", ok))
	return ok
}

// Clear drops every entry.
func (c *memoryCache) Clear(ctx context.Context) error {
	_, span := startCacheSpan(ctx, "memory", "Clear", trace.SpanKindInternal)
	defer span.End()

	c.mu.Lock()
	removed := c.lru.reset()
	c.mu.Unlock()

	c.logger.Debug("cache cleared", observability.Int("removed", removed))
	return nil
}

// Close stops the sweeper and drops all entries. Safe to call more
// than once.
func (c *memoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)

		c.mu.Lock()
		c.lru.reset()
		c.mu.Unlock()

		c.logger.Info("memory cache closed")
	})
	return nil
}

// Stats returns the hit/miss counters and current entry count.
func (c *memoryCache) Stats() Stats {
	c.mu.Lock()
	keys := int64(c.lru.len())
	c.mu.Unlock()

	return Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
		Keys:   keys,
	}
}

func (c *memoryCache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCh:
			return
		}
	}
}

// removeExpired drops expired entries in a single pass under the lock.
func (c *memoryCache) removeExpired() {
	c.mu.Lock()
	removed := c.lru.sweep(time.Now())
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("removed expired cache entries", observability.Int("removed", removed))
	}
}
