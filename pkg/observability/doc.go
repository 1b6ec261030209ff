// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("org_id", orgID).Infof("deducted %d credits", n)
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDeduction("org_pool", "equipment_diagnosis", 5)
//
// A nil *Metrics is accepted everywhere and records nothing.
//
// # Tracing
//
//	ctx, span := observability.StartSpan(ctx, "ledger.Deduct")
//	defer func() { observability.EndSpan(span, err) }()
package observability
