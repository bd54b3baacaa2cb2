// Package circuitbreaker implements the circuit breaker pattern for
// upstream forwards. One breaker guards each service; state transitions are
// serialized per breaker so concurrent callers observe a single consistent
// state machine.
package circuitbreaker

import (
	"time"

	"github.com/mstrukov/pylon/internal/config"
)

// Default circuit breaker configuration constants.
const (
	// DefaultFailureThreshold is the number of consecutive failures that
	// opens the circuit.
	DefaultFailureThreshold = 5

	// DefaultResetTimeout is how long the circuit stays open after the
	// last recorded failure before a trial call is allowed.
	DefaultResetTimeout = 30 * time.Second

	// DefaultRequestTimeout bounds each call executed through the breaker.
	DefaultRequestTimeout = 10 * time.Second
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int

	// ResetTimeout is the duration the circuit stays open, measured from
	// the last recorded failure.
	ResetTimeout time.Duration

	// RequestTimeout is the deadline applied to each call executed
	// through the breaker. Expiry counts as a failure.
	RequestTimeout time.Duration

	// OnStateChange is called after every state transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: DefaultFailureThreshold,
		ResetTimeout:     DefaultResetTimeout,
		RequestTimeout:   DefaultRequestTimeout,
	}
}

// FromConfig builds a breaker Config from the gateway configuration.
func FromConfig(cfg config.BreakerConfig) *Config {
	return &Config{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout.Duration(),
		RequestTimeout:   cfg.RequestTimeout.Duration(),
	}
}

// sanitize clamps out-of-range values to defaults.
func (c *Config) sanitize() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout < time.Millisecond {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.RequestTimeout < time.Millisecond {
		c.RequestTimeout = DefaultRequestTimeout
	}
}
