package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstrukov/pylon/internal/config"
)

func testCheckerConfig() config.RegistryConfig {
	return config.RegistryConfig{
		CheckInterval: config.Duration(time.Hour),
		ProbeTimeout:  config.Duration(2 * time.Second),
	}
}

func registerBackend(t *testing.T, reg *Registry, name string, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	reg.Register(NewService(config.ServiceConfig{
		Name:   name,
		URL:    server.URL,
		Prefix: "/api/" + name,
	}))
	return server
}

func TestChecker_MarksHealthyOn200(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	server := registerBackend(t, reg, "users", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	checker := NewChecker(reg, testCheckerConfig())
	checker.CheckAll(context.Background())

	addr, ok := reg.Address("users")
	require.True(t, ok)
	assert.Equal(t, server.URL, addr)

	svc, _ := reg.Get("users")
	assert.Equal(t, StatusHealthy, svc.Status())
	assert.False(t, svc.LastCheck().IsZero())
}

func TestChecker_MarksUnhealthyOnNon2xx(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"server error", http.StatusInternalServerError},
		{"not found", http.StatusNotFound},
		{"redirect", http.StatusTemporaryRedirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg := newTestRegistry()
			registerBackend(t, reg, "users", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			checker := NewChecker(reg, testCheckerConfig())
			checker.CheckAll(context.Background())

			_, ok := reg.Address("users")
			assert.False(t, ok)
			svc, _ := reg.Get("users")
			assert.Equal(t, StatusUnhealthy, svc.Status())
		})
	}
}

func TestChecker_MarksUnhealthyOnConnectionFailure(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	reg.Register(NewService(config.ServiceConfig{
		Name:   "users",
		URL:    server.URL,
		Prefix: "/api/users",
	}))
	server.Close()

	checker := NewChecker(reg, testCheckerConfig())
	checker.CheckAll(context.Background())

	_, ok := reg.Address("users")
	assert.False(t, ok)
	svc, _ := reg.Get("users")
	assert.Equal(t, StatusUnhealthy, svc.Status())
	assert.False(t, svc.LastCheck().IsZero())
}

func TestChecker_MarksUnhealthyOnProbeTimeout(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	registerBackend(t, reg, "users", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	checker := NewChecker(reg, config.RegistryConfig{
		CheckInterval: config.Duration(time.Hour),
		ProbeTimeout:  config.Duration(50 * time.Millisecond),
	})
	checker.CheckAll(context.Background())

	_, ok := reg.Address("users")
	assert.False(t, ok)
}

func TestChecker_RecoversAfterSuccessfulProbe(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	reg := newTestRegistry()
	registerBackend(t, reg, "users", func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	checker := NewChecker(reg, testCheckerConfig())

	checker.CheckAll(context.Background())
	_, ok := reg.Address("users")
	require.False(t, ok)

	// Still no route before the next probe round.
	_, ok = reg.Address("users")
	require.False(t, ok)

	healthy.Store(true)
	checker.CheckAll(context.Background())
	_, ok = reg.Address("users")
	assert.True(t, ok)
}

func TestChecker_ProbesRunConcurrently(t *testing.T) {
	t.Parallel()

	const services = 4
	const delay = 100 * time.Millisecond

	reg := newTestRegistry()
	for _, name := range []string{"a", "b", "c", "d"} {
		registerBackend(t, reg, name, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(delay)
			w.WriteHeader(http.StatusOK)
		})
	}

	checker := NewChecker(reg, testCheckerConfig())

	start := time.Now()
	checker.CheckAll(context.Background())
	elapsed := time.Since(start)

	// A serial round would take at least services*delay.
	assert.Less(t, elapsed, time.Duration(services)*delay)
	for _, name := range []string{"a", "b", "c", "d"} {
		_, ok := reg.Address(name)
		assert.True(t, ok, "service %s should be healthy", name)
	}
}

func TestChecker_StatusCallbackOnTransitionsOnly(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var transitions []bool

	var healthy atomic.Bool
	healthy.Store(true)

	reg := newTestRegistry()
	registerBackend(t, reg, "users", func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	checker := NewChecker(reg, testCheckerConfig(), WithStatusCallback(func(service string, up bool) {
		mu.Lock()
		transitions = append(transitions, up)
		mu.Unlock()
		assert.Equal(t, "users", service)
	}))

	ctx := context.Background()
	checker.CheckAll(ctx)
	checker.CheckAll(ctx) // no transition, still healthy
	healthy.Store(false)
	checker.CheckAll(ctx)
	checker.CheckAll(ctx) // no transition, still unhealthy
	healthy.Store(true)
	checker.CheckAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false, true}, transitions)
}

func TestChecker_StartRunsInitialRound(t *testing.T) {
	t.Parallel()

	var probes atomic.Int32
	reg := newTestRegistry()
	registerBackend(t, reg, "users", func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	checker := NewChecker(reg, testCheckerConfig())
	checker.Start(context.Background())
	defer checker.Stop()

	require.Eventually(t, func() bool {
		return probes.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, checker.IsRunning())

	_, ok := reg.Address("users")
	assert.True(t, ok)
}

func TestChecker_PeriodicRounds(t *testing.T) {
	t.Parallel()

	var probes atomic.Int32
	reg := newTestRegistry()
	registerBackend(t, reg, "users", func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	checker := NewChecker(reg, config.RegistryConfig{
		CheckInterval: config.Duration(30 * time.Millisecond),
		ProbeTimeout:  config.Duration(time.Second),
	})
	checker.Start(context.Background())
	defer checker.Stop()

	require.Eventually(t, func() bool {
		return probes.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChecker_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	checker := NewChecker(reg, testCheckerConfig())

	checker.Start(context.Background())
	assert.True(t, checker.IsRunning())

	checker.Stop()
	assert.False(t, checker.IsRunning())
	checker.Stop()
}

func TestChecker_StartIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := newTestRegistry()
	checker := NewChecker(reg, testCheckerConfig())

	ctx := context.Background()
	checker.Start(ctx)
	checker.Start(ctx)
	checker.Stop()
}
