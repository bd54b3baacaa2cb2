package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mstrukov/pylon/internal/circuitbreaker"
	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/proxy"
	"github.com/mstrukov/pylon/internal/registry"
	"github.com/mstrukov/pylon/internal/router"
)

// Dispatcher is the terminal handler of the serving pipeline. It matches
// the route, resolves a healthy upstream address, and forwards the
// request through the service's circuit breaker, translating failures
// into the JSON error taxonomy.
type Dispatcher struct {
	router    *router.Router
	registry  *registry.Registry
	breakers  *circuitbreaker.Registry
	forwarder *proxy.Forwarder
	metrics   *observability.Metrics
	logger    observability.Logger
}

// DispatcherConfig carries the components a Dispatcher needs. Metrics
// and Logger are optional.
type DispatcherConfig struct {
	Router    *router.Router
	Registry  *registry.Registry
	Breakers  *circuitbreaker.Registry
	Forwarder *proxy.Forwarder
	Metrics   *observability.Metrics
	Logger    observability.Logger
}

// NewDispatcher creates a dispatch handler.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Router == nil || cfg.Registry == nil || cfg.Breakers == nil || cfg.Forwarder == nil {
		return nil, fmt.Errorf("dispatcher requires router, registry, breakers, and forwarder")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	return &Dispatcher{
		router:    cfg.Router,
		registry:  cfg.Registry,
		breakers:  cfg.Breakers,
		forwarder: cfg.Forwarder,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}, nil
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := d.router.Match(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, KindNotFound, "", msgNotFound)
		return
	}

	target, healthy := d.registry.Address(route.Service)
	if !healthy {
		d.recordFailure(route.Service, "no_route")
		d.logger.Warn("no healthy upstream",
			observability.String("service", route.Service),
			observability.String("path", r.URL.Path),
		)
		writeError(w, http.StatusServiceUnavailable, KindNoHealthyRoute, route.Service, msgServiceUnavailable)
		return
	}

	// Per-service timeout; zero falls back to the breaker's request
	// deadline inside Execute.
	var timeout time.Duration
	if svc, exists := d.registry.Get(route.Service); exists {
		timeout = svc.Timeout
	}

	err := d.breakers.Execute(r.Context(), route.Service, func(ctx context.Context) error {
		return d.forwarder.Forward(ctx, w, r, route, target, timeout)
	})
	if err != nil {
		d.respondError(w, r, route.Service, err)
	}
}

// respondError maps a forward failure onto the error taxonomy. Forward
// only returns an error before the status line is written, so the
// response is still ours to produce here.
func (d *Dispatcher) respondError(w http.ResponseWriter, r *http.Request, service string, err error) {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		d.recordFailure(service, "circuit_open")
		writeError(w, http.StatusServiceUnavailable, KindCircuitOpen, service, msgServiceUnavailable)

	case errors.Is(err, proxy.ErrUpstreamTimeout):
		d.recordFailure(service, "timeout")
		writeError(w, http.StatusServiceUnavailable, KindUpstreamTimeout, service, msgUpstreamTimeout)

	case errors.Is(err, context.Canceled):
		// The client went away mid-forward; there is no one left to
		// answer.
		d.logger.Debug("client canceled request",
			observability.String("service", service),
			observability.String("path", r.URL.Path),
		)

	default:
		d.recordFailure(service, "upstream")
		writeError(w, http.StatusServiceUnavailable, KindUpstreamError, service, msgUpstreamError)
	}
}

func (d *Dispatcher) recordFailure(service, reason string) {
	if d.metrics != nil {
		d.metrics.RecordForwardFailure(service, reason)
	}
}
