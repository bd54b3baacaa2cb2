package gateway

import (
	"net/http"

	"github.com/mstrukov/pylon/internal/auth"
	"github.com/mstrukov/pylon/internal/cache"
	"github.com/mstrukov/pylon/internal/circuitbreaker"
	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/middleware"
	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/proxy"
	"github.com/mstrukov/pylon/internal/registry"
	"github.com/mstrukov/pylon/internal/router"
)

// PipelineConfig carries the components wired into the serving pipeline.
// Config, Router, Registry, Breakers, and Forwarder are required; the
// rest degrade gracefully when nil.
type PipelineConfig struct {
	Config    *config.Config
	Router    *router.Router
	Registry  *registry.Registry
	Breakers  *circuitbreaker.Registry
	Forwarder *proxy.Forwarder
	Cache     cache.Cache
	AuthGate  *auth.Gate
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	Logger    observability.Logger
}

// NewPipeline assembles the serving chain around the dispatch handler,
// outermost first: recovery, trace id, logging, tracing, metrics, CORS,
// body limit, auth gate, cache. CORS and the body limit are skipped when
// disabled in config, and the cache middleware when the cache backend
// is disabled.
func NewPipeline(pc PipelineConfig) (http.Handler, error) {
	if pc.Config == nil {
		return nil, ErrNilConfig
	}
	if pc.Logger == nil {
		pc.Logger = observability.NopLogger()
	}

	dispatcher, err := NewDispatcher(DispatcherConfig{
		Router:    pc.Router,
		Registry:  pc.Registry,
		Breakers:  pc.Breakers,
		Forwarder: pc.Forwarder,
		Metrics:   pc.Metrics,
		Logger:    pc.Logger,
	})
	if err != nil {
		return nil, err
	}

	chain := []middleware.Middleware{
		middleware.Recovery(pc.Logger, pc.Metrics),
		middleware.TraceID(),
		middleware.Logging(pc.Logger),
	}

	if pc.Tracer != nil {
		chain = append(chain, observability.TracingMiddleware(pc.Tracer))
	}

	if pc.Metrics != nil {
		chain = append(chain, middleware.Metrics(pc.Metrics, pc.Router))
	}

	if pc.Config.CORS.Enabled {
		chain = append(chain, middleware.CORS(pc.Config.CORS))
	}

	if pc.Config.Server.MaxBodyBytes > 0 {
		chain = append(chain, middleware.BodyLimit(pc.Config.Server.MaxBodyBytes, pc.Logger))
	}

	// The gate stays in the chain even when auth is disabled so requests
	// always carry an identity (anonymous in that case).
	if pc.AuthGate != nil {
		chain = append(chain, pc.AuthGate.Middleware())
	}

	if pc.Cache != nil && pc.Config.Cache.Type != config.CacheTypeDisabled {
		chain = append(chain, middleware.Cache(
			pc.Cache,
			pc.Router,
			pc.Metrics,
			pc.Logger,
			pc.Config.Cache.TTL.Duration(),
		))
	}

	return middleware.Chain(chain...)(dispatcher), nil
}
