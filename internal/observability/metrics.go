// Package observability provides logging and metrics for FalconStream.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for the stream consumer.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived   *prometheus.CounterVec
	EventsDelivered  *prometheus.CounterVec
	EventsFiltered   *prometheus.CounterVec
	SessionRefreshes *prometheus.CounterVec
	PartitionsActive prometheus.Gauge
	QueueDepth       prometheus.Gauge
}

// NewMetrics creates the metric set on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "falconstream",
			Name:      "events_received_total",
			Help:      "Events parsed from the stream, including filtered ones.",
		}, []string{"partition"}),
		EventsDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "falconstream",
			Name:      "events_delivered_total",
			Help:      "Events delivered to the output sink.",
		}, []string{"partition"}),
		EventsFiltered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "falconstream",
			Name:      "events_filtered_total",
			Help:      "Events dropped by the include/exclude filter.",
		}, []string{"partition"}),
		SessionRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "falconstream",
			Name:      "session_refreshes_total",
			Help:      "Stream session refresh attempts by result.",
		}, []string{"partition", "result"}),
		PartitionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "falconstream",
			Name:      "partitions_active",
			Help:      "Partition read loops currently running.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "falconstream",
			Name:      "queue_depth",
			Help:      "Envelopes buffered in the output queue.",
		}),
	}
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
