package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mstrukov/pylon/internal/cache"
	"github.com/mstrukov/pylon/internal/circuitbreaker"
	"github.com/mstrukov/pylon/internal/observability"
	"github.com/mstrukov/pylon/internal/registry"
)

// infoResponse is the payload for GET /api/gateway/info.
type infoResponse struct {
	Version  string                 `json:"version"`
	State    string                 `json:"state"`
	Services []registry.ServiceInfo `json:"services"`
	Circuits []circuitInfo          `json:"circuits"`
	Cache    cache.Stats            `json:"cache"`
}

// circuitInfo is a point-in-time view of one breaker. Failures counts
// consecutive failures, the number that drives the open transition.
type circuitInfo struct {
	Service  string `json:"service"`
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// handleInfo serves the gateway status snapshot.
func (g *Gateway) handleInfo(c *gin.Context) {
	info := infoResponse{
		Version:  g.version,
		State:    g.State().String(),
		Services: []registry.ServiceInfo{},
		Circuits: g.circuitSnapshot(),
	}

	if g.registry != nil {
		info.Services = g.registry.Snapshot()
	}
	if g.cache != nil {
		info.Cache = g.cache.Stats()
	}

	c.JSON(http.StatusOK, info)
}

// circuitSnapshot collects breaker statistics sorted by service name.
func (g *Gateway) circuitSnapshot() []circuitInfo {
	infos := []circuitInfo{}
	if g.breakers == nil {
		return infos
	}

	stats := g.breakers.AllStats()
	for _, name := range g.breakers.Names() {
		s := stats[name]
		infos = append(infos, circuitInfo{
			Service:  name,
			State:    s.State.String(),
			Failures: s.ConsecutiveFailures,
		})
	}
	return infos
}

// handleCircuitReset forces the named breaker back to closed. Unknown
// names get 404; no breaker is created as a side effect.
func (g *Gateway) handleCircuitReset(c *gin.Context) {
	service := c.Param("service")

	if g.breakers == nil || !g.breakers.Reset(service) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "unknown circuit",
			"service": service,
		})
		return
	}

	g.logger.Info("circuit reset via management api",
		observability.String("service", service),
	)

	c.JSON(http.StatusOK, gin.H{
		"service": service,
		"state":   circuitbreaker.StateClosed.String(),
	})
}

// handleCacheClear drops every cached response.
func (g *Gateway) handleCacheClear(c *gin.Context) {
	if g.cache == nil {
		c.JSON(http.StatusOK, gin.H{"cleared": false})
		return
	}

	if err := g.cache.Clear(c.Request.Context()); err != nil {
		g.logger.Error("cache clear failed",
			observability.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache clear failed"})
		return
	}

	g.logger.Info("cache cleared via management api")

	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
