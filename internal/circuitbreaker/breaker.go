package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mstrukov/pylon/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates the circuit is closed and calls are allowed.
	StateClosed State = iota

	// StateOpen indicates the circuit is open and calls are rejected.
	StateOpen

	// StateHalfOpen indicates a single trial call is probing the upstream.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call. It is
// also returned to callers arriving while a half-open trial is in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards calls to one upstream service.
//
// The circuit opens after FailureThreshold consecutive failures. While
// open, calls are rejected until ResetTimeout has elapsed since the last
// recorded failure; the first call after that becomes a half-open trial.
// A successful trial closes the circuit and zeroes all counters; a failed
// trial reopens it and restarts the reset clock.
type CircuitBreaker struct {
	name   string
	config *Config
	logger observability.Logger

	mu    sync.Mutex
	state State

	consecutiveFailures int
	totalFailures       int
	totalSuccesses      int

	lastFailure     time.Time
	lastStateChange time.Time
}

// NewCircuitBreaker creates a circuit breaker for the named service.
func NewCircuitBreaker(name string, config *Config, logger observability.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.sanitize()

	if logger == nil {
		logger = observability.NopLogger()
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs op under circuit breaker protection with the configured
// request timeout applied to its context. It returns ErrCircuitOpen without
// invoking op when the circuit rejects the call; otherwise it returns op's
// error unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	opCtx, cancel := context.WithTimeout(ctx, cb.config.RequestTimeout)
	defer cancel()

	err := op(opCtx)

	switch {
	case err == nil:
		cb.RecordSuccess()
	case isContextError(err) && ctx.Err() != nil:
		// The caller went away or the outer deadline fired. Not
		// attributable to the upstream, so neither a success nor a
		// failure is recorded.
		cb.recordAbandoned()
	default:
		cb.RecordFailure()
	}

	return err
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Allow reports whether a call may proceed. In the open state the first
// call after the reset timeout acquires the half-open trial slot; all
// others are rejected until the trial resolves.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.config.ResetTimeout {
			cb.transitionTo(StateHalfOpen)
			return true
		}
		return false

	case StateHalfOpen:
		// Trial slot already taken.
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalSuccesses++
	cb.consecutiveFailures = 0

	if cb.state == StateHalfOpen {
		cb.transitionTo(StateClosed)
		cb.resetCounters()
	}
}

// RecordFailure records a failed call. The failure timestamp anchors the
// reset clock.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalFailures++
	cb.consecutiveFailures++
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// recordAbandoned releases a half-open trial slot without recording an
// outcome. The reset clock is not touched, so the next caller may trial
// immediately.
func (cb *CircuitBreaker) recordAbandoned() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.transitionTo(StateOpen)
	}
}

// transitionTo moves the breaker to a new state. Callers must hold cb.mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	if oldState == newState {
		return
	}
	cb.state = newState
	cb.lastStateChange = time.Now()

	cb.logger.Info("circuit breaker state changed",
		observability.String("service", cb.name),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// resetCounters zeroes all counters. Callers must hold cb.mu.
func (cb *CircuitBreaker) resetCounters() {
	cb.consecutiveFailures = 0
	cb.totalFailures = 0
	cb.totalSuccesses = 0
	cb.lastFailure = time.Time{}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed with all counters zeroed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionTo(StateClosed)
	cb.resetCounters()

	cb.logger.Info("circuit breaker reset",
		observability.String("service", cb.name),
	)
}

// Name returns the name of the guarded service.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats is a point-in-time view of a circuit breaker.
type Stats struct {
	State               State
	ConsecutiveFailures int
	TotalFailures       int
	TotalSuccesses      int
	LastFailure         time.Time
	LastStateChange     time.Time
}

// Stats returns current statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		TotalFailures:       cb.totalFailures,
		TotalSuccesses:      cb.totalSuccesses,
		LastFailure:         cb.lastFailure,
		LastStateChange:     cb.lastStateChange,
	}
}
