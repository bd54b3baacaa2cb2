package circuitbreaker

import (
	"context"
	"sort"
	"sync"

	"github.com/mstrukov/pylon/internal/observability"
)

// Registry manages one circuit breaker per service name. Breakers are
// created lazily on first use and share the registry's configuration.
type Registry struct {
	breakers sync.Map
	config   *Config
	logger   observability.Logger
}

// NewRegistry creates a circuit breaker registry.
func NewRegistry(config *Config, logger observability.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Registry{
		config: config,
		logger: logger,
	}
}

// Get returns the breaker for name, or nil if none exists yet.
func (r *Registry) Get(name string) *CircuitBreaker {
	value, ok := r.breakers.Load(name)
	if !ok {
		return nil
	}
	return value.(*CircuitBreaker)
}

// GetOrCreate returns the breaker for name, creating it if needed.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	if value, ok := r.breakers.Load(name); ok {
		return value.(*CircuitBreaker)
	}

	cb := NewCircuitBreaker(name, r.config, r.logger)

	actual, loaded := r.breakers.LoadOrStore(name, cb)
	if loaded {
		return actual.(*CircuitBreaker)
	}

	r.logger.Debug("created circuit breaker",
		observability.String("service", name),
	)

	return cb
}

// Execute runs op through the breaker for the named service.
func (r *Registry) Execute(ctx context.Context, name string, op func(context.Context) error) error {
	return r.GetOrCreate(name).Execute(ctx, op)
}

// Status returns statistics for the named breaker. The second return is
// false when no breaker exists for the name.
func (r *Registry) Status(name string) (Stats, bool) {
	cb := r.Get(name)
	if cb == nil {
		return Stats{}, false
	}
	return cb.Stats(), true
}

// AllStats returns statistics for every breaker keyed by service name.
func (r *Registry) AllStats() map[string]Stats {
	stats := make(map[string]Stats)
	r.breakers.Range(func(key, value interface{}) bool {
		stats[key.(string)] = value.(*CircuitBreaker).Stats()
		return true
	})
	return stats
}

// Names returns the names of all breakers, sorted.
func (r *Registry) Names() []string {
	var names []string
	r.breakers.Range(func(key, value interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Reset resets the named breaker to closed. It returns false when no
// breaker exists for the name.
func (r *Registry) Reset(name string) bool {
	cb := r.Get(name)
	if cb == nil {
		return false
	}
	cb.Reset()
	return true
}

// ResetAll resets every breaker to closed.
func (r *Registry) ResetAll() {
	r.breakers.Range(func(key, value interface{}) bool {
		value.(*CircuitBreaker).Reset()
		return true
	})
	r.logger.Info("reset all circuit breakers")
}

// Remove deletes the breaker for name.
func (r *Registry) Remove(name string) {
	r.breakers.Delete(name)
	r.logger.Debug("removed circuit breaker",
		observability.String("service", name),
	)
}

// Count returns the number of breakers.
func (r *Registry) Count() int {
	count := 0
	r.breakers.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}
