package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status is a component or aggregate health status.
type Status string

const (
	// StatusHealthy indicates the component is fully operational.
	StatusHealthy Status = "healthy"

	// StatusDegraded indicates reduced capacity that does not block
	// serving. Degraded components keep the gateway ready.
	StatusDegraded Status = "degraded"

	// StatusUnhealthy indicates the component cannot serve.
	StatusUnhealthy Status = "unhealthy"
)

// rank orders statuses for worst-of aggregation.
func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

// Check is one component check result.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc performs one component check. It must be safe for concurrent
// use and should honor the context deadline.
type CheckFunc func(ctx context.Context) Check

// Checker aggregates component checks into the gateway's health surface.
type Checker struct {
	version   string
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates a health checker reporting the given version.
func NewChecker(version string) *Checker {
	return &Checker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

// RegisterCheck adds a named component check. Re-registering a name
// replaces the previous check.
func (c *Checker) RegisterCheck(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// UnregisterCheck removes a named component check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Snapshot is the process-level health payload.
type Snapshot struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports process-level health. It never runs component checks;
// a serving process is healthy by definition.
func (c *Checker) Health() Snapshot {
	return Snapshot{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// ReadinessSnapshot is the readiness payload with per-check results.
type ReadinessSnapshot struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Readiness runs every registered check and aggregates the worst status.
func (c *Checker) Readiness(ctx context.Context) ReadinessSnapshot {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	funcs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		names = append(names, name)
		funcs[name] = fn
	}
	c.mu.RUnlock()

	sort.Strings(names)

	snapshot := ReadinessSnapshot{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(names)),
		Timestamp: time.Now(),
	}

	for _, name := range names {
		check := funcs[name](ctx)
		snapshot.Checks[name] = check
		if check.Status.rank() > snapshot.Status.rank() {
			snapshot.Status = check.Status
		}
	}

	return snapshot
}

// HealthHandler serves the process health payload. Always 200.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.Health())
	}
}

// ReadyHandler serves the readiness payload. Unhealthy aggregates get
// 503; degraded stays 200 so partial outages do not drop the gateway
// out of rotation.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := c.Readiness(r.Context())

		status := http.StatusOK
		if snapshot.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, snapshot)
	}
}

// LiveHandler answers liveness probes with a static payload.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// Mount registers the health endpoints on the given mux.
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/health", c.HealthHandler())
	mux.HandleFunc("/ready", c.ReadyHandler())
	mux.HandleFunc("/live", c.LiveHandler())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
