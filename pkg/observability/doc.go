// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
// Logger wraps a slog JSON handler. Every attribute passes through a Redactor,
// so credentials never reach the output:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("client_secret", secret).Info("exchanging code")
//	// {"level":"INFO","msg":"exchanging code","client_secret":"***REDACTED***"}
//
// Nested maps (including url.Values) are redacted recursively. The sensitive
// key list is configurable through LoggerOptions.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordLogin("success", "")
//
// All Record* helpers accept a nil *Metrics.
//
// # Tracing
//
// InitOTel installs an OTLP/gRPC exporter; Tracer returns the tracer used by
// the SSO packages (a no-op tracer until InitOTel runs).
package observability
