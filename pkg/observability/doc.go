// Package observability provides structured logging, Prometheus metrics, health checks
// and graceful shutdown.
//
// # Structured Logging
//
// Loggers wrap logrus and write JSON:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("User registered")
//
// FromContext returns the request logger with the request and user IDs attached.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordLogin("email", "success")
//	mux.Handle("/metrics", observability.Handler(registry))
//
// Every recorder is safe on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, verifier, version)
//	mux.HandleFunc("/health/live", checker.Liveness)
//	mux.HandleFunc("/health/ready", checker.Readiness)
//
// A failing database makes the service unhealthy. Redis and an invalid license only
// degrade it.
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.Register("database", func(context.Context) error { return db.Close() })
//	err := sm.WaitForSignal(ctx)
//
// Background jobs are wrapped with Job so a panic is logged rather than fatal.
package observability
