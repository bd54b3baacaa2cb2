package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
)

// cacheTracerName identifies cache spans in traces.
const cacheTracerName = "pylon/cache"

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheDisabled indicates that caching is disabled.
	ErrCacheDisabled = errors.New("cache disabled")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")

	// ErrConnectionFailed indicates that the cache backend is unreachable.
	ErrConnectionFailed = errors.New("cache connection failed")
)

// Cache is the interface implemented by all response cache backends.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL.
	// A TTL of 0 uses the configured default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// Has reports whether a live entry exists for the key.
	Has(ctx context.Context, key string) bool

	// Clear removes all entries owned by this cache.
	Clear(ctx context.Context) error

	// Stats returns hit/miss counters and the current key count.
	Stats() Stats

	// Close releases backend resources.
	Close() error
}

// Stats contains cache counters exposed on the gateway info endpoint.
type Stats struct {
	// Hits is the number of cache hits.
	Hits int64 `json:"hits"`

	// Misses is the number of cache misses.
	Misses int64 `json:"misses"`

	// Keys is the current number of entries. Reported as -1 when the
	// backend cannot be reached.
	Keys int64 `json:"keys"`
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// startCacheSpan opens a span for a cache operation, tagging it with
// the backend name and any operation attributes.
func startCacheSpan(ctx context.Context, backend, op string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+1)
	all = append(all, attribute.String("cache.backend", backend))
	all = append(all, attrs...)

	return otel.Tracer(cacheTracerName).Start(ctx, "cache."+op,
		trace.WithSpanKind(kind),
		trace.WithAttributes(all...),
	)
}

// Option configures optional cache behavior.
type Option func(*options)

type options struct {
	onEvict func()
}

// WithEvictionHook registers fn to be invoked once per evicted entry.
// Only the memory backend evicts locally; other backends ignore it.
func WithEvictionHook(fn func()) Option {
	return func(o *options) {
		o.onEvict = fn
	}
}

// New creates a cache backend based on the configuration.
func New(cfg config.CacheConfig, logger observability.Logger, opts ...Option) (Cache, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	switch cfg.Type {
	case config.CacheTypeMemory, "":
		return newMemoryCache(cfg, logger, o.onEvict)
	case config.CacheTypeRedis:
		return newRedisCache(cfg, logger)
	case config.CacheTypeDisabled:
		return newDisabledCache(), nil
	default:
		return nil, errors.New("unknown cache type: " + cfg.Type)
	}
}

// disabledCache rejects reads and writes so the serving path falls
// through to the upstream untouched.
type disabledCache struct{}

func newDisabledCache() Cache {
	return &disabledCache{}
}

func (c *disabledCache) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, ErrCacheDisabled
}

func (c *disabledCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return ErrCacheDisabled
}

func (c *disabledCache) Delete(_ context.Context, _ string) error {
	return ErrCacheDisabled
}

func (c *disabledCache) Has(_ context.Context, _ string) bool {
	return false
}

func (c *disabledCache) Clear(_ context.Context) error {
	return nil
}

func (c *disabledCache) Stats() Stats {
	return Stats{}
}

func (c *disabledCache) Close() error {
	return nil
}
