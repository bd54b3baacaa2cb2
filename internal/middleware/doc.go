// Package middleware provides the HTTP middleware that makes up the
// gateway request pipeline.
//
// # Components
//
//   - Recovery: panic recovery with stack trace logging
//   - TraceID: trace identifier injection and propagation
//   - Logging: structured request/response logging
//   - Metrics: Prometheus request metrics with per-service labels
//   - CORS: Cross-Origin Resource Sharing headers
//   - BodyLimit: request body size limiting
//   - Cache: response caching for GET requests
//
// # Usage
//
// Each component follows the standard func(http.Handler) http.Handler
// pattern and composes with Chain, outermost first:
//
//	pipeline := middleware.Chain(
//	    middleware.Recovery(logger, metrics),
//	    middleware.TraceID(),
//	    middleware.Logging(logger),
//	)(handler)
package middleware
