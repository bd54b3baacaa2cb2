// Package router maps request paths to upstream services by path prefix.
//
// Each configured service claims one prefix; the longest matching prefix
// wins, and matches only occur at path segment boundaries, so /api/users
// does not claim /api/users2. The compiled route table is immutable and
// swapped atomically on reload, keeping Match lock-free on the hot path.
//
// # Usage
//
// Build a router from the service configuration and match request paths:
//
//	r, err := router.New(cfg.Services, logger)
//	if err != nil {
//	    return err
//	}
//
//	route, ok := r.Match(req.URL.Path)
//	if ok {
//	    upstreamPath := route.StripPrefix(req.URL.Path)
//	}
package router
