// Package observability provides logrus logging, Prometheus metrics, health
// checks and OpenTelemetry tracing for the Warden process.
//
// # Logging
//
//	log, err := observability.NewLogger("info", observability.FormatJSON, nil)
//	log.WithField("accountId", accountID).Warn("Access denied")
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// # Health
//
//	checker := observability.NewHealthChecker(version)
//	checker.AddCheck("storage", true, store.HealthCheck)
//	checker.AddRedis(redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, cfg, log)
//	defer observability.ShutdownTracing(ctx, tp, log)
package observability
