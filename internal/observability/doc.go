// Package observability provides logging, metrics, and tracing for the
// gateway.
//
// Structured logging is backed by zap behind the Logger interface, metrics
// are collected in a dedicated Prometheus registry, and distributed tracing
// uses OpenTelemetry with OTLP gRPC export.
//
// # Logging
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request forwarded",
//	    observability.String("service", "users"),
//	    observability.Int("status", 200),
//	)
//
// # Metrics
//
//	metrics := observability.NewMetrics("gateway")
//	http.Handle("/metrics", metrics.Handler())
//
// # Tracing
//
//	tracer, err := observability.NewTracer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(ctx)
package observability
