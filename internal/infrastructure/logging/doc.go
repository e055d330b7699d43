// Package logging provides structured logging using uber/zap.
//
// Production output is JSON for machine parsing; development output is
// colored console text. An unknown level falls back to info with a warning.
//
// Components receive a *zap.Logger and derive a named child with Named,
// so every line carries the subsystem that produced it (sandbox, bridge,
// bus, pipeline, router, persister). Instance and Canvas build the id
// fields shared across subsystems.
//
// Widget-originated text is untrusted. Fields built with WidgetText are
// truncated before they reach the encoder.
//
// Example Usage:
//
//	logger := logging.NewWithLevel("info", false)
//	bridgeLog := logger.Named("bridge")
//	bridgeLog.Debug("message dropped", logging.Instance(id), zap.String("reason", "origin"))
package logging
