package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstrukov/pylon/internal/cache"
	"github.com/mstrukov/pylon/internal/circuitbreaker"
	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/registry"
)

// passthroughPipeline satisfies the pipeline requirement for management
// tests that never exercise proxying.
var passthroughPipeline = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("proxied"))
})

// newManagementGateway builds a gateway and its engine without binding a
// listener, so management routes can be driven through ServeHTTP.
func newManagementGateway(t *testing.T, opts ...Option) (*Gateway, *gin.Engine) {
	t.Helper()

	g, err := New(config.DefaultConfig(), append([]Option{WithPipeline(passthroughPipeline)}, opts...)...)
	require.NoError(t, err)
	return g, g.buildEngine()
}

func newMemoryCache(t *testing.T) cache.Cache {
	t.Helper()

	c, err := cache.New(config.CacheConfig{
		Type:    config.CacheTypeMemory,
		TTL:     config.Duration(time.Minute),
		MaxKeys: 100,
	}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestManagement_Info_Empty(t *testing.T) {
	t.Parallel()

	_, engine := newManagementGateway(t, WithVersion("1.2.3"))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/gateway/info", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var info infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "stopped", info.State)
	assert.Empty(t, info.Services)
	assert.Empty(t, info.Circuits)
	assert.Zero(t, info.Cache.Keys)

	// Absent components serialize as empty arrays, never null.
	assert.Contains(t, rec.Body.String(), `"services":[]`)
	assert.Contains(t, rec.Body.String(), `"circuits":[]`)
}

func TestManagement_Info_Populated(t *testing.T) {
	t.Parallel()

	logger := observability.NopLogger()

	reg := registry.NewRegistry(logger)
	svc := registry.NewService(config.ServiceConfig{
		Name:   "users",
		URL:    "http://users.internal:8000",
		Prefix: "/api/users",
	})
	svc.SetStatus(registry.StatusHealthy)
	reg.Register(svc)

	breakers := circuitbreaker.NewRegistry(nil, logger)
	breakers.GetOrCreate("users").RecordFailure()

	respCache := newMemoryCache(t)
	ctx := context.Background()
	_, err := respCache.Get(ctx, "users:/api/users/1")
	require.ErrorIs(t, err, cache.ErrCacheMiss)
	require.NoError(t, respCache.Set(ctx, "users:/api/users/1", []byte(`{}`), 0))
	_, err = respCache.Get(ctx, "users:/api/users/1")
	require.NoError(t, err)

	_, engine := newManagementGateway(t,
		WithRegistry(reg),
		WithBreakers(breakers),
		WithCache(respCache),
	)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/gateway/info", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var info infoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))

	require.Len(t, info.Services, 1)
	assert.Equal(t, "users", info.Services[0].Name)
	assert.Equal(t, "healthy", info.Services[0].Status)

	require.Len(t, info.Circuits, 1)
	assert.Equal(t, "users", info.Circuits[0].Service)
	assert.Equal(t, "closed", info.Circuits[0].State)
	assert.Equal(t, 1, info.Circuits[0].Failures)

	assert.Equal(t, int64(1), info.Cache.Hits)
	assert.Equal(t, int64(1), info.Cache.Misses)
	assert.Equal(t, int64(1), info.Cache.Keys)
}

func TestManagement_CircuitReset(t *testing.T) {
	t.Parallel()

	breakers := circuitbreaker.NewRegistry(nil, observability.NopLogger())
	cb := breakers.GetOrCreate("users")
	for range 5 {
		cb.RecordFailure()
	}
	require.Equal(t, circuitbreaker.StateOpen, cb.State())

	_, engine := newManagementGateway(t, WithBreakers(breakers))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/gateway/circuits/users/reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"service":"users","state":"closed"}`, rec.Body.String())
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}

func TestManagement_CircuitReset_Unknown(t *testing.T) {
	t.Parallel()

	breakers := circuitbreaker.NewRegistry(nil, observability.NopLogger())
	_, engine := newManagementGateway(t, WithBreakers(breakers))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/gateway/circuits/ghost/reset", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"unknown circuit","service":"ghost"}`, rec.Body.String())
	// The lookup must not create a breaker as a side effect.
	assert.Equal(t, 0, breakers.Count())
}

func TestManagement_CacheClear(t *testing.T) {
	t.Parallel()

	respCache := newMemoryCache(t)
	ctx := context.Background()
	require.NoError(t, respCache.Set(ctx, "users:/api/users/1", []byte(`{}`), 0))
	require.NoError(t, respCache.Set(ctx, "users:/api/users/2", []byte(`{}`), 0))

	_, engine := newManagementGateway(t, WithCache(respCache))

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/gateway/cache/clear", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":true}`, rec.Body.String())
	assert.Zero(t, respCache.Stats().Keys)
}

func TestManagement_CacheClear_NoCache(t *testing.T) {
	t.Parallel()

	_, engine := newManagementGateway(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/gateway/cache/clear", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":false}`, rec.Body.String())
}

func TestManagement_UnmatchedPathReachesPipeline(t *testing.T) {
	t.Parallel()

	_, engine := newManagementGateway(t)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/1", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "proxied", rec.Body.String())
}
