package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/retry"
)

const (
	// defaultKeyPrefix namespaces gateway entries in a shared Redis.
	defaultKeyPrefix = "pylon:"

	// redisBreakerThreshold is the consecutive-failure count that trips
	// the client-side breaker guarding Redis.
	redisBreakerThreshold = 5

	// redisBreakerTimeout is how long the breaker stays open before
	// probing Redis again.
	redisBreakerTimeout = 10 * time.Second

	redisPingTimeout  = 5 * time.Second
	redisStatsTimeout = 2 * time.Second
	redisScanBatch    = 100
)

// redisRetryOpts returns the retry policy shared by all Redis operations.
func redisRetryOpts(logger observability.Logger) []retry.Option {
	return []retry.Option{
		retry.WithAttempts(4),
		retry.WithBackoff(100*time.Millisecond, 2*time.Second),
		retry.WithRetryIf(isRetryableRedisError),
		retry.WithNotify(func(attempt int, err error, wait time.Duration) {
			logger.Debug("retrying redis operation",
				observability.Int("attempt", attempt),
				observability.Duration("wait", wait),
				observability.Error(err))
		}),
	}
}

// isRetryableRedisError checks if the error is retryable.
// Cache misses and caller cancellation are terminal.
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// isBreakerOpen reports whether the guard rejected the operation
// without reaching Redis.
func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// redisCache implements a Redis-based cache.
type redisCache struct {
	logger     observability.Logger
	client     *redis.Client
	breaker    *gobreaker.CircuitBreaker
	retryOpts  []retry.Option
	keyPrefix  string
	defaultTTL time.Duration
	ttlJitter  float64

	hits   int64
	misses int64
}

// applyTTLJitter adds random jitter to a TTL value to prevent expiry
// stampedes. The jitterFactor controls the maximum percentage of
// variation (0.0 to 1.0); a factor of 0.1 varies the TTL by up to ±10%.
func applyTTLJitter(ttl time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 || ttl <= 0 {
		return ttl
	}
	if jitterFactor > 1.0 {
		jitterFactor = 1.0
	}
	//nolint:gosec // G404: TTL jitter does not require cryptographic randomness
	jitter := time.Duration(float64(ttl) * jitterFactor * (2*rand.Float64() - 1))
	result := ttl + jitter
	if result <= 0 {
		return ttl
	}
	return result
}

// resolveKey applies the configured key prefix.
func (c *redisCache) resolveKey(key string) string {
	return c.keyPrefix + key
}

// resolveKeyPrefix returns the key prefix, defaulting to "pylon:" if empty.
func resolveKeyPrefix(prefix string) string {
	if prefix == "" {
		return defaultKeyPrefix
	}
	return prefix
}

// newRedisBreaker builds the breaker that guards Redis operations.
// Cache misses and caller cancellation are not backend faults.
func newRedisBreaker(logger observability.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Timeout:     redisBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= redisBreakerThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("redis cache breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})
}

// newRedisCache creates a new Redis cache.
func newRedisCache(cfg config.CacheConfig, logger observability.Logger) (*redisCache, error) {
	if cfg.Redis.URL == "" {
		return nil, fmt.Errorf("%w: redis url is required", ErrInvalidConfig)
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	client := redis.NewClient(opts)

	// Redis may come up after the gateway does, so the initial ping
	// retries refused and reset connections before giving up.
	err = retry.Do(context.Background(), func() error {
		return pingRedis(client)
	},
		retry.WithAttempts(3),
		retry.WithBackoff(200*time.Millisecond, time.Second),
		retry.WithRetryIf(retry.IsNetworkError),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	keyPrefix := resolveKeyPrefix(cfg.Redis.KeyPrefix)

	c := &redisCache{
		logger:     logger,
		client:     client,
		breaker:    newRedisBreaker(logger),
		retryOpts:  redisRetryOpts(logger),
		keyPrefix:  keyPrefix,
		defaultTTL: cfg.TTL.Duration(),
		ttlJitter:  cfg.Redis.TTLJitter,
	}

	logger.Info("redis cache initialized",
		observability.String("keyPrefix", keyPrefix),
		observability.Duration("defaultTTL", c.defaultTTL),
		observability.Float64("ttlJitter", c.ttlJitter))

	return c, nil
}

// pingRedis tests the Redis connection with a timeout.
func pingRedis(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

// execute runs op through the breaker so a down Redis fails fast
// instead of paying the retry budget on every request.
func (c *redisCache) execute(op func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, op()
	})
	return err
}

// Get retrieves a value with exponential backoff retry. When the
// breaker is open the lookup degrades to a miss.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := startCacheSpan(ctx, "redis", "Get", trace.SpanKindClient,
		attribute.String("cache.key", key))
	defer span.End()

	fullKey := c.resolveKey(key)

	var result []byte

	err := c.execute(func() error {
		return retry.Do(ctx, func() error {
			val, getErr := c.client.Get(ctx, fullKey).Bytes()
			if getErr != nil {
				return getErr
			}
			result = val
			return nil
		}, c.retryOpts...)
	})

	if err == nil {
		atomic.AddInt64(&c.hits, 1)
		span.SetAttributes(
			attribute.Bool("cache.hit", true),
			attribute.Int("cache.value_size", len(result)),
		)
		c.logger.Debug("cache hit",
			observability.String("key", key),
			observability.Int("size", len(result)))
		return result, nil
	}

	if errors.Is(err, redis.Nil) {
		atomic.AddInt64(&c.misses, 1)
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	if isBreakerOpen(err) {
		atomic.AddInt64(&c.misses, 1)
		span.SetAttributes(attribute.Bool("cache.hit", false))
		c.logger.Debug("redis breaker open, treating get as miss",
			observability.String("key", key))
		return nil, ErrCacheMiss
	}

	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Error("redis get failed",
		observability.String("key", key),
		observability.Error(err))
	return nil, err
}

// Set stores a value with exponential backoff retry.
func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := startCacheSpan(ctx, "redis", "Set", trace.SpanKindClient,
		attribute.String("cache.key", key),
		attribute.Int("cache.value_size", len(value)),
	)
	defer span.End()

	if ttl == 0 {
		ttl = c.defaultTTL
	}

	ttl = applyTTLJitter(ttl, c.ttlJitter)

	fullKey := c.resolveKey(key)

	err := c.execute(func() error {
		return retry.Do(ctx, func() error {
			return c.client.Set(ctx, fullKey, value, ttl).Err()
		}, c.retryOpts...)
	})

	if err == nil {
		c.logger.Debug("cache set",
			observability.String("key", key),
			observability.Duration("ttl", ttl),
			observability.Int("size", len(value)))
		return nil
	}

	if isBreakerOpen(err) {
		c.logger.Debug("redis breaker open, skipping set",
			observability.String("key", key))
		return err
	}

	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Error("redis set failed",
		observability.String("key", key),
		observability.Error(err))
	return err
}

// Delete removes a value with exponential backoff retry.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	ctx, span := startCacheSpan(ctx, "redis", "Delete", trace.SpanKindClient,
		attribute.String("cache.key", key))
	defer span.End()

	fullKey := c.resolveKey(key)

	err := c.execute(func() error {
		return retry.Do(ctx, func() error {
			return c.client.Del(ctx, fullKey).Err()
		}, c.retryOpts...)
	})

	if err == nil {
		c.logger.Debug("cache deleted",
			observability.String("key", key))
		return nil
	}

	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.logger.Error("redis delete failed",
		observability.String("key", key),
		observability.Error(err))
	return err
}

// Has reports whether the key exists. Backend errors read as absent.
func (c *redisCache) Has(ctx context.Context, key string) bool {
	ctx, span := startCacheSpan(ctx, "redis", "Has", trace.SpanKindClient,
		attribute.String("cache.key", key))
	defer span.End()

	fullKey := c.resolveKey(key)

	var count int64

	err := c.execute(func() error {
		return retry.Do(ctx, func() error {
			var existsErr error
			count, existsErr = c.client.Exists(ctx, fullKey).Result()
			return existsErr
		}, c.retryOpts...)
	})

	if err != nil {
		span.SetAttributes(attribute.Bool("cache.exists", false))
		c.logger.Debug("redis exists failed",
			observability.String("key", key),
			observability.Error(err))
		return false
	}

	span.SetAttributes(attribute.Bool("cache.exists", count > 0))
	return count > 0
}

// Clear removes every key under the configured prefix with a cursor
// scan, leaving other tenants of the Redis untouched.
func (c *redisCache) Clear(ctx context.Context) error {
	ctx, span := startCacheSpan(ctx, "redis", "Clear", trace.SpanKindClient)
	defer span.End()

	err := c.execute(func() error {
		iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", redisScanBatch).Iterator()
		batch := make([]string, 0, redisScanBatch)

		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
			if len(batch) == redisScanBatch {
				if delErr := c.client.Del(ctx, batch...).Err(); delErr != nil {
					return delErr
				}
				batch = batch[:0]
			}
		}
		if iterErr := iter.Err(); iterErr != nil {
			return iterErr
		}
		if len(batch) > 0 {
			return c.client.Del(ctx, batch...).Err()
		}
		return nil
	})

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		c.logger.Error("redis clear failed",
			observability.Error(err))
		return err
	}

	c.logger.Info("redis cache cleared",
		observability.String("keyPrefix", c.keyPrefix))
	return nil
}

// Stats reports client-side hit/miss counters. Keys is counted with a
// prefix scan and reported as -1 when Redis cannot be reached.
func (c *redisCache) Stats() Stats {
	s := Stats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisStatsTimeout)
	defer cancel()

	var keys int64
	err := c.execute(func() error {
		iter := c.client.Scan(ctx, 0, c.keyPrefix+"*", redisScanBatch).Iterator()
		for iter.Next(ctx) {
			keys++
		}
		return iter.Err()
	})
	if err != nil {
		s.Keys = -1
		return s
	}

	s.Keys = keys
	return s
}

// Close closes the Redis connection.
func (c *redisCache) Close() error {
	c.logger.Info("redis cache closing")
	return c.client.Close()
}
