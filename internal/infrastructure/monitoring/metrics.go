package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Sandbox metrics
	InstancesActive prometheus.Gauge
	LoadDuration    *prometheus.HistogramVec
	CallTimeouts    prometheus.Counter

	// Bridge metrics
	BridgeMessages *prometheus.CounterVec
	BridgeDropped  *prometheus.CounterVec

	// Pipeline metrics
	Deliveries    prometheus.Counter
	RoutingMisses *prometheus.CounterVec

	// Event Bus metrics
	BusEmits      *prometheus.CounterVec
	HandlerPanics *prometheus.CounterVec

	// Capability metrics
	CapabilityRequests *prometheus.CounterVec

	// Cross-canvas metrics
	Envelopes       *prometheus.CounterVec
	EnvelopeDropped *prometheus.CounterVec

	// Persistence metrics
	PersistWrites   *prometheus.CounterVec
	PersistDuration prometheus.Histogram

	// Service timings
	ServiceDuration *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
}

// NewMetrics creates a metrics collector with its own registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "widgethost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		InstancesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "widgethost_instances_active",
				Help: "Number of mounted widget instances",
			},
		),
		LoadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "widgethost_sandbox_load_seconds",
				Help:    "Time from context creation to readiness",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"result"},
		),
		CallTimeouts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "widgethost_sandbox_call_timeouts_total",
				Help: "Widget callbacks interrupted for exceeding the call timeout",
			},
		),

		BridgeMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_bridge_messages_total",
				Help: "Accepted messages crossing the context boundary by type",
			},
			[]string{"type"},
		),
		BridgeDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_bridge_dropped_total",
				Help: "Messages dropped by the bridge by reason",
			},
			[]string{"reason"},
		),

		Deliveries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "widgethost_pipeline_deliveries_total",
				Help: "Values dispatched along pipeline edges",
			},
		),
		RoutingMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_pipeline_routing_misses_total",
				Help: "Edges rejected or undeliverable",
			},
			[]string{"stage"},
		),

		BusEmits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_bus_emits_total",
				Help: "Event Bus emissions by scope",
			},
			[]string{"scope"},
		),
		HandlerPanics: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_handler_panics_total",
				Help: "Recovered handler panics by component",
			},
			[]string{"component"},
		),

		CapabilityRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_capability_requests_total",
				Help: "Capability requests by permission and outcome",
			},
			[]string{"permission", "status"},
		),

		Envelopes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_router_envelopes_total",
				Help: "Cross-canvas envelopes by direction",
			},
			[]string{"direction"},
		),
		EnvelopeDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_router_dropped_total",
				Help: "Inbound envelopes rejected by the loop guard",
			},
			[]string{"reason"},
		),

		PersistWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_state_writes_total",
				Help: "State store writes by outcome",
			},
			[]string{"status"},
		),
		PersistDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "widgethost_state_write_seconds",
				Help:    "State store write duration including retries",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		ServiceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "widgethost_service_duration_seconds",
				Help:    "Internal operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method", "status"},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "widgethost_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "widgethost_ws_connections",
				Help: "Number of active editor WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "widgethost_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// Registry exposes the private registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// InstanceMounted increments the mounted-instance gauge
func (m *Metrics) InstanceMounted() {
	if m == nil {
		return
	}
	m.InstancesActive.Inc()
}

// InstanceUnmounted decrements the mounted-instance gauge
func (m *Metrics) InstanceUnmounted() {
	if m == nil {
		return
	}
	m.InstancesActive.Dec()
}

// RecordLoad records how long a context took to become ready
func (m *Metrics) RecordLoad(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LoadDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordCallTimeout counts an interrupted widget callback
func (m *Metrics) RecordCallTimeout() {
	if m == nil {
		return
	}
	m.CallTimeouts.Inc()
}

// RecordMessage counts an accepted bridge message
func (m *Metrics) RecordMessage(msgType string) {
	if m == nil {
		return
	}
	m.BridgeMessages.WithLabelValues(msgType).Inc()
}

// RecordDrop counts a message the bridge refused
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.BridgeDropped.WithLabelValues(reason).Inc()
}

// RecordDeliveries counts values dispatched along edges
func (m *Metrics) RecordDeliveries(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Deliveries.Add(float64(n))
}

// RecordRoutingMiss counts a RoutingMiss at edge creation or emission
func (m *Metrics) RecordRoutingMiss(stage string) {
	if m == nil {
		return
	}
	m.RoutingMisses.WithLabelValues(stage).Inc()
}

// RecordBusEmit counts an Event Bus emission
func (m *Metrics) RecordBusEmit(scope string) {
	if m == nil {
		return
	}
	m.BusEmits.WithLabelValues(scope).Inc()
}

// RecordHandlerPanic counts a recovered handler panic
func (m *Metrics) RecordHandlerPanic(component string) {
	if m == nil {
		return
	}
	m.HandlerPanics.WithLabelValues(component).Inc()
}

// RecordCapability counts a capability decision
func (m *Metrics) RecordCapability(permission, status string) {
	if m == nil {
		return
	}
	m.CapabilityRequests.WithLabelValues(permission, status).Inc()
}

// RecordEnvelope counts an envelope sent or received
func (m *Metrics) RecordEnvelope(direction string) {
	if m == nil {
		return
	}
	m.Envelopes.WithLabelValues(direction).Inc()
}

// RecordEnvelopeDrop counts an envelope rejected by the loop guard
func (m *Metrics) RecordEnvelopeDrop(reason string) {
	if m == nil {
		return
	}
	m.EnvelopeDropped.WithLabelValues(reason).Inc()
}

// RecordPersist records a state store write
func (m *Metrics) RecordPersist(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PersistWrites.WithLabelValues(status).Inc()
	m.PersistDuration.Observe(duration.Seconds())
}

// RecordServiceCall records an internal operation timing
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ServiceDuration.WithLabelValues(service, method, status).Observe(duration.Seconds())
}

// SetBreakerState publishes a circuit breaker's state
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
