package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mstrukov/pylon/internal/cache"
	"github.com/mstrukov/pylon/internal/circuitbreaker"
	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/registry"
	"github.com/mstrukov/pylon/internal/router"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid races
// between concurrently constructed gateways in tests.
var ginModeOnce sync.Once

// State represents the gateway lifecycle state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway owns the serving HTTP listener, mounts the pipeline as the
// catch-all handler on a gin engine, and exposes the management API.
type Gateway struct {
	config  *config.Config
	logger  observability.Logger
	version string

	pipeline http.Handler
	router   *router.Router
	registry *registry.Registry
	breakers *circuitbreaker.Registry
	cache    cache.Cache
	metrics  *observability.Metrics

	engine    *gin.Engine
	server    *http.Server
	addr      atomic.Value // string
	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithVersion sets the version string reported by the info endpoint.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// WithPipeline sets the serving pipeline mounted as the catch-all
// handler.
func WithPipeline(pipeline http.Handler) Option {
	return func(g *Gateway) {
		g.pipeline = pipeline
	}
}

// WithRouter sets the route table used for hot reload.
func WithRouter(rt *router.Router) Option {
	return func(g *Gateway) {
		g.router = rt
	}
}

// WithRegistry sets the service registry backing the info endpoint and
// hot reload.
func WithRegistry(reg *registry.Registry) Option {
	return func(g *Gateway) {
		g.registry = reg
	}
}

// WithBreakers sets the circuit breaker registry backing the info and
// reset endpoints.
func WithBreakers(breakers *circuitbreaker.Registry) Option {
	return func(g *Gateway) {
		g.breakers = breakers
	}
}

// WithCache sets the response cache backing the info and clear
// endpoints.
func WithCache(c cache.Cache) Option {
	return func(g *Gateway) {
		g.cache = c
	}
}

// WithMetrics sets the metrics used to reflect reload changes.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New creates a new Gateway instance.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	g := &Gateway{
		config: cfg,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.pipeline == nil {
		return nil, ErrNilPipeline
	}

	g.state.Store(int32(StateStopped))

	return g, nil
}

// Start starts the gateway listener.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	g.mu.RLock()
	cfg := g.config
	g.mu.RUnlock()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)

	g.logger.Info("starting gateway",
		observability.String("address", addr),
	)

	g.engine = g.buildEngine()

	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.engine,
		ReadTimeout:       cfg.Server.ReadTimeout.Duration(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:       cfg.Server.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	g.addr.Store(ln.Addr().String())

	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	go g.serve(ln)

	g.logger.Info("gateway started",
		observability.String("address", ln.Addr().String()),
	)

	return nil
}

// serve runs the HTTP server until it is shut down.
func (g *Gateway) serve(ln net.Listener) {
	if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		g.logger.Error("gateway listener error",
			observability.Error(err),
		)
	}
}

// Stop stops the gateway gracefully, draining in-flight requests up to
// the configured shutdown timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.logger.Info("stopping gateway")

	if _, ok := ctx.Deadline(); !ok {
		g.mu.RLock()
		timeout := g.config.Server.ShutdownTimeout.Duration()
		g.mu.RUnlock()

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := g.server.Shutdown(ctx); err != nil {
		if closeErr := g.server.Close(); closeErr != nil {
			g.state.Store(int32(StateStopped))
			return fmt.Errorf("failed to close gateway listener: %w", closeErr)
		}
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to shutdown gateway gracefully: %w", err)
	}

	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped")

	return nil
}

// Reload applies a changed configuration to the running gateway: the
// route table is swapped, the service registry reconciled, and breakers
// for removed services dropped. The listener itself is not restarted.
func (g *Gateway) Reload(cfg *config.Config) error {
	if cfg == nil {
		return ErrNilConfig
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("reloading gateway configuration",
		observability.Int("services", len(cfg.Services)),
	)

	if g.router != nil {
		if err := g.router.Reload(cfg.Services); err != nil {
			return fmt.Errorf("route table reload: %w", err)
		}
	}

	if g.registry != nil {
		removed := g.registry.Apply(cfg.Services)
		for _, name := range removed {
			if g.breakers != nil {
				g.breakers.Remove(name)
			}
			if g.metrics != nil {
				g.metrics.RemoveServiceHealth(name)
			}
		}
	}

	g.config = cfg

	g.logger.Info("gateway configuration reloaded")

	return nil
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Addr returns the bound listener address, or "" before Start.
func (g *Gateway) Addr() string {
	if v, ok := g.addr.Load().(string); ok {
		return v
	}
	return ""
}

// Engine returns the gin engine, or nil before Start.
func (g *Gateway) Engine() *gin.Engine {
	return g.engine
}

// buildEngine constructs the gin engine with the management API and the
// pipeline mounted as the catch-all handler.
func (g *Gateway) buildEngine() *gin.Engine {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(gin.Recovery())

	api := engine.Group("/api/gateway")
	api.GET("/info", g.handleInfo)
	api.POST("/circuits/:service/reset", g.handleCircuitReset)
	api.POST("/cache/clear", g.handleCacheClear)

	engine.NoRoute(gin.WrapH(g.pipeline))

	return engine
}
