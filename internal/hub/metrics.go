package hub

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the hub's Prometheus metric set, registered on a private registry
// so that several hubs (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	messagesSent *prometheus.CounterVec
	requests     *prometheus.CounterVec
	sweptOffline prometheus.Counter
	agentsOnline prometheus.Gauge
	agentsTotal  prometheus.Gauge
	logLength    prometheus.Gauge
}

// NewMetrics creates and registers the hub metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warren_messages_sent_total",
				Help: "Messages accepted by the bus.",
			},
			[]string{"kind"}, // direct | broadcast
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warren_requests_total",
				Help: "Transport requests served.",
			},
			[]string{"op", "code"},
		),
		sweptOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warren_agents_swept_offline_total",
			Help: "Agents marked offline by the liveness sweep.",
		}),
		agentsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warren_agents_online",
			Help: "Agents currently online.",
		}),
		agentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warren_agents_total",
			Help: "Agents known to the registry.",
		}),
		logLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warren_log_length",
			Help: "Messages currently retained in the log.",
		}),
	}
	m.registry.MustRegister(
		m.messagesSent, m.requests, m.sweptOffline,
		m.agentsOnline, m.agentsTotal, m.logLength,
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest counts one transport request by operation and result code.
func (m *Metrics) ObserveRequest(op, code string) {
	m.requests.WithLabelValues(op, code).Inc()
}
