// Package gateway provides the core gateway functionality.
//
// This package implements the dispatch handler that ties route matching,
// health-aware address resolution, circuit breaking, and proxying
// together, the middleware pipeline assembly around it, and the Gateway
// struct that owns the HTTP listener and the management API.
//
// # Features
//
//   - Longest-prefix dispatch with health-aware upstream resolution
//   - Circuit-guarded forwarding with a uniform JSON error taxonomy
//   - Response caching and JWT authentication in the serving pipeline
//   - Management API (info, circuit reset, cache clear)
//   - Configuration hot-reload without restart
//   - Graceful shutdown with configurable timeout
//
// # Usage
//
// Assemble the pipeline, then create and start a gateway:
//
//	pipeline := gateway.NewPipeline(gateway.PipelineConfig{...})
//
//	gw, err := gateway.New(cfg, gateway.WithPipeline(pipeline))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := gw.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Stop(ctx)
package gateway
