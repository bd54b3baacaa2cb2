package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstrukov/pylon/internal/circuitbreaker"
	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/proxy"
	"github.com/mstrukov/pylon/internal/registry"
	"github.com/mstrukov/pylon/internal/router"
)

// dispatchEnv bundles the components a dispatcher test needs.
type dispatchEnv struct {
	router    *router.Router
	registry  *registry.Registry
	breakers  *circuitbreaker.Registry
	forwarder *proxy.Forwarder
	metrics   *observability.Metrics
}

// newDispatchEnv builds a dispatcher environment with one service named
// "users" under /api/users pointing at target, already marked healthy.
func newDispatchEnv(t *testing.T, target string, breakerCfg *circuitbreaker.Config) *dispatchEnv {
	t.Helper()

	logger := observability.NopLogger()

	svcCfg := config.ServiceConfig{
		Name:   "users",
		URL:    target,
		Prefix: "/api/users",
	}

	rt, err := router.New([]config.ServiceConfig{svcCfg}, logger)
	require.NoError(t, err)

	reg := registry.NewRegistry(logger)
	svc := registry.NewService(svcCfg)
	svc.SetStatus(registry.StatusHealthy)
	reg.Register(svc)

	return &dispatchEnv{
		router:    rt,
		registry:  reg,
		breakers:  circuitbreaker.NewRegistry(breakerCfg, logger),
		forwarder: proxy.New(logger),
	}
}

func (env *dispatchEnv) dispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	d, err := NewDispatcher(DispatcherConfig{
		Router:    env.router,
		Registry:  env.registry,
		Breakers:  env.breakers,
		Forwarder: env.forwarder,
		Metrics:   env.metrics,
		Logger:    observability.NopLogger(),
	})
	require.NoError(t, err)
	return d
}

// decodeError unmarshals a gateway JSON error body.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// forwardFailureCount reads the forward_failures_total counter for the
// given service and reason from a dedicated metrics registry.
func forwardFailureCount(t *testing.T, m *observability.Metrics, namespace, service, reason string) float64 {
	t.Helper()

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != namespace+"_forward_failures_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["service"] == service && labels["reason"] == reason {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestDispatcher_ForwardsRequest(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer upstream.Close()

	env := newDispatchEnv(t, upstream.URL, nil)
	d := env.dispatcher(t)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":42}`, rec.Body.String())
}

func TestDispatcher_UnmatchedPath(t *testing.T) {
	t.Parallel()

	env := newDispatchEnv(t, "http://users.internal:8000", nil)
	d := env.dispatcher(t)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, KindNotFound, body.Error)
	assert.Empty(t, body.Service)
	assert.NotEmpty(t, body.Message)
}

func TestDispatcher_NoHealthyRoute(t *testing.T) {
	t.Parallel()

	var upstreamCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		upstreamCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	env := newDispatchEnv(t, upstream.URL, nil)
	svc, ok := env.registry.Get("users")
	require.True(t, ok)
	svc.SetStatus(registry.StatusUnhealthy)

	d := env.dispatcher(t)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, KindNoHealthyRoute, body.Error)
	assert.Equal(t, "users", body.Service)
	assert.Equal(t, int32(0), upstreamCalls.Load())
	// The breaker was never consulted, so none exists yet.
	assert.Equal(t, 0, env.breakers.Count())
}

func TestDispatcher_UnknownStatusIsNoRoute(t *testing.T) {
	t.Parallel()

	env := newDispatchEnv(t, "http://users.internal:8000", nil)
	svc, ok := env.registry.Get("users")
	require.True(t, ok)
	svc.SetStatus(registry.StatusUnknown)

	d := env.dispatcher(t)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, KindNoHealthyRoute, decodeError(t, rec).Error)
}

func TestDispatcher_CircuitOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	// The handler hijacks and drops every connection so each forward
	// fails at the transport level while still being countable.
	var upstreamCalls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		upstreamCalls.Add(1)
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	defer upstream.Close()

	env := newDispatchEnv(t, upstream.URL, &circuitbreaker.Config{
		FailureThreshold: 5,
		ResetTimeout:     time.Hour,
		RequestTimeout:   2 * time.Second,
	})
	d := env.dispatcher(t)

	for i := range 5 {
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "request %d", i)
		assert.Equal(t, KindUpstreamError, decodeError(t, rec).Error, "request %d", i)
	}

	require.Equal(t, int32(5), upstreamCalls.Load())

	stats, ok := env.breakers.Status("users")
	require.True(t, ok)
	assert.Equal(t, circuitbreaker.StateOpen, stats.State)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, KindCircuitOpen, decodeError(t, rec).Error)
	assert.Equal(t, int32(5), upstreamCalls.Load(), "open circuit must not invoke the upstream")
}

func TestDispatcher_TimeoutClassified(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	env := newDispatchEnv(t, upstream.URL, &circuitbreaker.Config{
		FailureThreshold: 5,
		ResetTimeout:     time.Hour,
		RequestTimeout:   30 * time.Millisecond,
	})
	d := env.dispatcher(t)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, KindUpstreamTimeout, decodeError(t, rec).Error)

	stats, ok := env.breakers.Status("users")
	require.True(t, ok)
	assert.Equal(t, 1, stats.ConsecutiveFailures)
}

func TestDispatcher_UpstreamStatusPassesThrough(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusNotFound, http.StatusBadGateway, http.StatusTeapot} {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("upstream says no"))
		}))

		env := newDispatchEnv(t, upstream.URL, nil)
		d := env.dispatcher(t)

		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

		assert.Equal(t, status, rec.Code)
		assert.Equal(t, "upstream says no", rec.Body.String())

		stats, ok := env.breakers.Status("users")
		require.True(t, ok)
		assert.Equal(t, 0, stats.ConsecutiveFailures, "status %d must not count as failure", status)

		upstream.Close()
	}
}

func TestDispatcher_RecordsFailureReasons(t *testing.T) {
	t.Parallel()

	env := newDispatchEnv(t, "http://127.0.0.1:1", &circuitbreaker.Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
		RequestTimeout:   time.Second,
	})
	env.metrics = observability.NewMetrics("test_dispatch")
	d := env.dispatcher(t)

	// First request fails at the transport, opening the threshold-1
	// breaker; the second is rejected by the open circuit.
	for range 2 {
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))
	}

	svc, ok := env.registry.Get("users")
	require.True(t, ok)
	svc.SetStatus(registry.StatusUnhealthy)

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/42", nil))

	assert.Equal(t, float64(1), forwardFailureCount(t, env.metrics, "test_dispatch", "users", "upstream"))
	assert.Equal(t, float64(1), forwardFailureCount(t, env.metrics, "test_dispatch", "users", "circuit_open"))
	assert.Equal(t, float64(1), forwardFailureCount(t, env.metrics, "test_dispatch", "users", "no_route"))
}

func TestNewDispatcher_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewDispatcher(DispatcherConfig{})
	assert.Error(t, err)

	env := newDispatchEnv(t, "http://users.internal:8000", nil)
	d, err := NewDispatcher(DispatcherConfig{
		Router:    env.router,
		Registry:  env.registry,
		Breakers:  env.breakers,
		Forwarder: env.forwarder,
	})
	require.NoError(t, err)
	assert.NotNil(t, d)
}
