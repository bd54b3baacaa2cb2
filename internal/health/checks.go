package health

import (
	"context"
	"fmt"

	"github.com/mstrukov/pylon/internal/cache"
	"github.com/mstrukov/pylon/internal/circuitbreaker"
	"github.com/mstrukov/pylon/internal/registry"
)

// UpstreamsCheck builds a readiness check over the service registry.
//
// With no healthy upstream the gateway cannot dispatch anything, so the
// check is unhealthy; a partial outage is degraded. An empty registry is
// healthy, the gateway just has nothing to route yet.
func UpstreamsCheck(reg *registry.Registry) CheckFunc {
	return func(_ context.Context) Check {
		services := reg.Snapshot()
		if len(services) == 0 {
			return Check{Status: StatusHealthy, Message: "no services registered"}
		}

		healthy := 0
		for _, svc := range services {
			if svc.Status == registry.StatusHealthy.String() {
				healthy++
			}
		}

		switch {
		case healthy == len(services):
			return Check{
				Status:  StatusHealthy,
				Message: fmt.Sprintf("%d services healthy", healthy),
			}
		case healthy == 0:
			return Check{
				Status:  StatusUnhealthy,
				Message: "no healthy services",
			}
		default:
			return Check{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d of %d services healthy", healthy, len(services)),
			}
		}
	}
}

// CacheCheck builds a readiness check over the response cache. The memory
// backend is always reachable; the Redis backend reports an unreachable
// broker through a negative key count.
func CacheCheck(c cache.Cache) CheckFunc {
	return func(_ context.Context) Check {
		if c == nil {
			return Check{Status: StatusHealthy, Message: "cache disabled"}
		}
		if c.Stats().Keys < 0 {
			return Check{Status: StatusUnhealthy, Message: "cache backend unreachable"}
		}
		return Check{Status: StatusHealthy}
	}
}

// CircuitsCheck builds a readiness check over the breaker registry. Open
// circuits degrade readiness without failing it; the gateway still serves
// every other route.
func CircuitsCheck(breakers *circuitbreaker.Registry) CheckFunc {
	return func(_ context.Context) Check {
		open := 0
		for _, stats := range breakers.AllStats() {
			if stats.State == circuitbreaker.StateOpen {
				open++
			}
		}

		if open == 0 {
			return Check{Status: StatusHealthy}
		}
		return Check{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d circuits open", open),
		}
	}
}
