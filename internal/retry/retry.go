package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultAttempts = 4
	defaultInitial  = 100 * time.Millisecond
	defaultCap      = 5 * time.Second
	defaultJitter   = 0.25
)

// policy holds the resolved retry parameters for one Do call.
type policy struct {
	attempts int
	initial  time.Duration
	cap      time.Duration
	jitter   float64
	retryIf  func(error) bool
	notify   func(attempt int, err error, wait time.Duration)
}

// Option configures a retry loop.
type Option func(*policy)

// WithAttempts bounds the total number of attempts, the first call
// included. Values below 1 are ignored.
func WithAttempts(n int) Option {
	return func(p *policy) {
		if n >= 1 {
			p.attempts = n
		}
	}
}

// WithBackoff sets the wait before the second attempt and the upper
// bound the doubling waits never exceed.
func WithBackoff(initial, cap time.Duration) Option {
	return func(p *policy) {
		if initial > 0 {
			p.initial = initial
		}
		if cap > 0 {
			p.cap = cap
		}
	}
}

// WithJitter sets the fraction of each wait that is randomized to spread
// out concurrent retries. The factor is clamped to [0, 1].
func WithJitter(factor float64) Option {
	return func(p *policy) {
		if factor < 0 {
			factor = 0
		}
		if factor > 1 {
			factor = 1
		}
		p.jitter = factor
	}
}

// WithRetryIf restricts which errors are retried. Without it every error
// is considered transient.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *policy) {
		if fn != nil {
			p.retryIf = fn
		}
	}
}

// WithNotify registers a callback invoked after each failed attempt that
// will be retried, with the wait before the next one.
func WithNotify(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(p *policy) {
		p.notify = fn
	}
}

func newPolicy(opts []Option) *policy {
	p := &policy{
		attempts: defaultAttempts,
		initial:  defaultInitial,
		cap:      defaultCap,
		jitter:   defaultJitter,
		retryIf:  func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// wait returns the backoff after the given 1-based failed attempt. The
// base doubles per attempt and the cap bounds the jittered result.
func (p *policy) wait(attempt int) time.Duration {
	base := p.initial
	for i := 1; i < attempt && base < p.cap; i++ {
		base <<= 1
	}
	if base > p.cap {
		base = p.cap
	}
	if p.jitter > 0 {
		//nolint:gosec // G404: retry spreading does not need crypto randomness
		base += time.Duration(p.jitter * rand.Float64() * float64(base))
		if base > p.cap {
			base = p.cap
		}
	}
	return base
}

// Do calls fn until it succeeds, the attempt budget is spent, the error
// is ruled out by WithRetryIf, or ctx is done. The last error is
// returned on failure; context errors win once ctx is done.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	p := newPolicy(opts)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= p.attempts || !p.retryIf(err) {
			return err
		}

		wait := p.wait(attempt)
		if p.notify != nil {
			p.notify(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
