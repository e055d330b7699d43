/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the widget
host, tracking the editor HTTP API, sandbox lifecycle, bridge traffic,
pipeline delivery, capability decisions, cross-canvas broadcast and state
persistence.

Every Metrics value owns a private registry, so several hosts (or tests) can
coexist in one process. All recording methods are safe on a nil *Metrics,
which lets components treat metrics as optional.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.RecordDrop("origin")
	timer := monitoring.NewTimer(metrics, "state", "write")
	// ... perform operation ...
	timer.Stop("success")
*/
package monitoring
