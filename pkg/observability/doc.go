// Package observability provides logging, Prometheus metrics, OpenTelemetry
// tracing, health endpoints and graceful shutdown for the plugin host.
//
// # Logging
//
//	log, err := observability.NewLogger("info", observability.FormatJSON, os.Stderr)
//	log.WithFields(observability.TraceFields(ctx)).Info("plugin started")
//
// # Metrics
//
// Lifecycle metrics are keyed by category, stage and outcome:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.ObserveStage("COMPUTE", "startup", "ok", elapsed)
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # Health
//
// The registry implements ProviderHealth:
//
//	checker := observability.NewHealthChecker(reg, version, 5*time.Second)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Tracing
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "pluginhost",
//	}, log)
//	defer observability.ShutdownOTel(ctx, providers, log)
package observability
