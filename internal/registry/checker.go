package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
)

// Health check default configuration constants.
const (
	// DefaultCheckInterval is the default interval between probe rounds.
	DefaultCheckInterval = 30 * time.Second

	// DefaultProbeTimeout is the default timeout for a single probe.
	DefaultProbeTimeout = 5 * time.Second
)

// StatusFunc is called when a service's health status changes.
type StatusFunc func(service string, healthy bool)

// Checker probes every registered service on a fixed interval. Probes run
// concurrently with each other and never block request handling; the only
// shared state with the request path is the per-service status field.
type Checker struct {
	registry *Registry
	interval time.Duration
	client   *http.Client
	logger   observability.Logger

	onStatusChange StatusFunc

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// CheckerOption is a functional option for configuring the checker.
type CheckerOption func(*Checker)

// WithCheckerLogger sets the logger for the checker.
func WithCheckerLogger(logger observability.Logger) CheckerOption {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithCheckerClient sets the HTTP client used for probes.
func WithCheckerClient(client *http.Client) CheckerOption {
	return func(c *Checker) {
		c.client = client
	}
}

// WithStatusCallback sets a callback for health status changes.
func WithStatusCallback(fn StatusFunc) CheckerOption {
	return func(c *Checker) {
		c.onStatusChange = fn
	}
}

// NewChecker creates a health checker for the registry.
func NewChecker(reg *Registry, cfg config.RegistryConfig, opts ...CheckerOption) *Checker {
	interval := cfg.CheckInterval.Duration()
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	probeTimeout := cfg.ProbeTimeout.Duration()
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}

	c := &Checker{
		registry:  reg,
		interval:  interval,
		client:    &http.Client{Timeout: probeTimeout},
		logger:    observability.NopLogger(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Start begins the probe loop. An initial round runs immediately, then one
// round per interval.
func (c *Checker) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.run(ctx)
}

// Stop stops the probe loop and waits for it to exit.
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	close(c.stopCh)
	<-c.stoppedCh
}

// IsRunning returns true if the probe loop is active.
func (c *Checker) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Checker) run(ctx context.Context) {
	defer close(c.stoppedCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.CheckAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered service concurrently and waits for the
// round to finish. Probe failures are recorded in service status, never
// returned.
func (c *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup

	for _, svc := range c.registry.Services() {
		wg.Add(1)
		go func(s *Service) {
			defer wg.Done()
			c.check(ctx, s)
		}(svc)
	}

	wg.Wait()
}

func (c *Checker) check(ctx context.Context, svc *Service) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	healthy, err := c.probe(ctx, svc)
	svc.SetLastCheck(time.Now())

	if healthy {
		c.recordSuccess(svc)
	} else {
		c.recordFailure(svc, err)
	}
}

// probe issues one GET against the service health endpoint. Any 2xx
// response counts as healthy.
func (c *Checker) probe(ctx context.Context, svc *Service) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, svc.HealthURL(), http.NoBody)
	if err != nil {
		return false, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
	return ok, nil
}

func (c *Checker) recordSuccess(svc *Service) {
	if svc.Status() != StatusHealthy {
		c.logger.Info("service became healthy",
			observability.String("service", svc.Name),
			observability.String("url", svc.BaseURL),
		)
		svc.SetStatus(StatusHealthy)
		if c.onStatusChange != nil {
			c.onStatusChange(svc.Name, true)
		}
		return
	}
	svc.SetStatus(StatusHealthy)
}

func (c *Checker) recordFailure(svc *Service, err error) {
	if svc.Status() != StatusUnhealthy {
		c.logger.Warn("service became unhealthy",
			observability.String("service", svc.Name),
			observability.String("url", svc.BaseURL),
			observability.Error(err),
		)
		svc.SetStatus(StatusUnhealthy)
		if c.onStatusChange != nil {
			c.onStatusChange(svc.Name, false)
		}
		return
	}
	svc.SetStatus(StatusUnhealthy)
}
