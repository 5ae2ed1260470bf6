package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects runtime counters and satisfies the MetricsClient
// interfaces declared by the container and the error handler.
type Metrics struct {
	registry *prometheus.Registry

	errorsTotal      *prometheus.CounterVec
	resolutionsTotal *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	degradedServices prometheus.Gauge
}

// NewMetrics creates and registers the runtime collectors on a fresh
// registry.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors handled, by category.",
		}, []string{"category"}),
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "container_resolutions_total",
			Help:      "Container resolutions, by service and status.",
		}, []string{"service", "status"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_emitted_total",
			Help:      "Events emitted on the bus, by event name.",
		}, []string{"event"}),
		degradedServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded_services",
			Help:      "Number of services running in degraded mode.",
		}),
	}

	registry.MustRegister(m.errorsTotal, m.resolutionsTotal, m.eventsTotal, m.degradedServices)
	return m
}

// Registry exposes the collectors for the diagnostics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncrementCounter implements the MetricsClient contract shared by the
// container and error handler. Unknown counter names are ignored.
func (m *Metrics) IncrementCounter(name string, tags map[string]string) {
	switch name {
	case "errors_total":
		m.errorsTotal.With(prometheus.Labels{
			"category": tags["category"],
		}).Inc()
	case "container_resolutions_total":
		m.resolutionsTotal.With(prometheus.Labels{
			"service": tags["service"],
			"status":  tags["status"],
		}).Inc()
	case "events_emitted_total":
		m.eventsTotal.With(prometheus.Labels{
			"event": tags["event"],
		}).Inc()
	}
}

// SetDegradedServices records the current degraded-service count.
func (m *Metrics) SetDegradedServices(count int) {
	m.degradedServices.Set(float64(count))
}
