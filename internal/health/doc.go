// Package health exposes the gateway's own health surface on the metrics
// listener.
//
// Liveness reports that the process is up. Readiness aggregates registered
// component checks (service registry, response cache, circuit breakers)
// into a single worst-of status, so orchestrators stop routing to a
// gateway whose dependencies degraded.
package health
