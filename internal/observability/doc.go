// Package observability provides logging, metrics, and tracing
// functionality for the secrets gateway.
//
// # Logging
//
// The Logger interface wraps zap and supports changing the level at runtime:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request processed",
//	    observability.String("method", "GET"),
//	    observability.Int("status", 200),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry. Other packages register their
// collectors on Registry() so a single /metrics endpoint exposes everything:
//
//	metrics := observability.NewMetrics("secretgw")
//	metrics.Registry().MustRegister(vaultMetrics.Collectors()...)
//	handler := metrics.Handler()
//
// # Tracing
//
// OpenTelemetry tracing with optional OTLP/gRPC export:
//
//	tracer, err := observability.NewTracer(ctx, observability.TracerConfig{
//	    Enabled:      true,
//	    OTLPEndpoint: "otel-collector:4317",
//	    SamplingRate: 0.1,
//	})
//	defer tracer.Shutdown(ctx)
package observability
