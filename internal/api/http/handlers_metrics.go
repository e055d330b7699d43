package http

import (
	"github.com/GriffinCanCode/AgentOS/widgethost/internal/infrastructure/monitoring"
)

// HandlerMetrics wraps handlers with metrics tracking
type HandlerMetrics struct {
	metrics *monitoring.Metrics
}

// NewHandlerMetrics creates a metrics wrapper
func NewHandlerMetrics(metrics *monitoring.Metrics) *HandlerMetrics {
	return &HandlerMetrics{metrics: metrics}
}

// TrackCanvasOperation times a canvas operation; call the returned func
// with the outcome
func (hm *HandlerMetrics) TrackCanvasOperation(operation string) func(err error) {
	return hm.track("canvas", operation)
}

// TrackCatalogOperation times a manifest catalog operation
func (hm *HandlerMetrics) TrackCatalogOperation(operation string) func(err error) {
	return hm.track("catalog", operation)
}

func (hm *HandlerMetrics) track(service, operation string) func(err error) {
	var m *monitoring.Metrics
	if hm != nil {
		m = hm.metrics
	}
	timer := monitoring.NewTimer(m, service, operation)
	return func(err error) {
		status := "success"
		if err != nil {
			status = "error"
		}
		timer.Stop(status)
	}
}
