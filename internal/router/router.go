package router

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/mstrukov/pylon/internal/config"
	"github.com/mstrukov/pylon/internal/observability"
)

// Route is one compiled routing entry mapping a path prefix to a service.
type Route struct {
	Service string
	Prefix  string
}

// StripPrefix removes the route's prefix from path. The result always keeps
// a leading slash; a request for the bare prefix maps to the upstream root.
func (rt Route) StripPrefix(path string) string {
	if rt.Prefix == "/" {
		return path
	}
	stripped := strings.TrimPrefix(path, rt.Prefix)
	if stripped == "" {
		return "/"
	}
	return stripped
}

// table is an immutable snapshot of compiled routes, longest prefix first.
type table struct {
	routes []Route
}

// Router matches request paths to services by longest configured prefix.
// Reload swaps the whole table through an atomic pointer, so in-flight
// matches never observe a partially built table.
type Router struct {
	table  atomic.Pointer[table]
	logger observability.Logger
}

// New compiles the service configuration into a router.
func New(services []config.ServiceConfig, logger observability.Logger) (*Router, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	tbl, err := compile(services)
	if err != nil {
		return nil, err
	}

	r := &Router{logger: logger}
	r.table.Store(tbl)
	return r, nil
}

// Match returns the route owning the longest prefix of path.
func (r *Router) Match(path string) (Route, bool) {
	for _, route := range r.table.Load().routes {
		if matchesPrefix(path, route.Prefix) {
			return route, true
		}
	}
	return Route{}, false
}

// Reload compiles the new service set and atomically installs it. On error
// the previous table stays in effect.
func (r *Router) Reload(services []config.ServiceConfig) error {
	tbl, err := compile(services)
	if err != nil {
		return err
	}

	r.table.Store(tbl)
	r.logger.Info("route table reloaded", observability.Int("routes", len(tbl.routes)))
	return nil
}

// Routes returns a copy of the current route table in match order.
func (r *Router) Routes() []Route {
	current := r.table.Load().routes
	routes := make([]Route, len(current))
	copy(routes, current)
	return routes
}

func compile(services []config.ServiceConfig) (*table, error) {
	routes := make([]Route, 0, len(services))
	owners := make(map[string]string, len(services))

	for _, svc := range services {
		prefix := normalizePrefix(svc.Prefix)
		if owner, taken := owners[prefix]; taken {
			return nil, fmt.Errorf("prefix %q claimed by both %s and %s", prefix, owner, svc.Name)
		}
		owners[prefix] = svc.Name
		routes = append(routes, Route{Service: svc.Name, Prefix: prefix})
	}

	// Longest prefix first; ties broken lexicographically so compilation
	// is deterministic.
	sort.Slice(routes, func(i, j int) bool {
		if len(routes[i].Prefix) != len(routes[j].Prefix) {
			return len(routes[i].Prefix) > len(routes[j].Prefix)
		}
		return routes[i].Prefix < routes[j].Prefix
	})

	return &table{routes: routes}, nil
}

// normalizePrefix strips the trailing slash so /api/users/ and /api/users
// compile to the same entry. The root prefix stays as is.
func normalizePrefix(prefix string) string {
	if prefix == "" || prefix == "/" {
		return "/"
	}
	return strings.TrimSuffix(prefix, "/")
}

// matchesPrefix reports whether path falls under prefix at a segment
// boundary.
func matchesPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
