// Package metrics holds the document server's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry      *prometheus.Registry
	Operations    *prometheus.CounterVec
	Subscriptions *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skitrip",
			Name:      "document_operations_total",
			Help:      "Document store operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		Subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "skitrip",
			Name:      "active_subscriptions",
			Help:      "Open websocket subscriptions by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.Operations, m.Subscriptions)
	return m
}

// Observe counts one operation. A nil receiver is a no-op.
func (m *Metrics) Observe(op, outcome string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
}

// Track increments the subscription gauge and returns its decrement.
func (m *Metrics) Track(kind string) func() {
	if m == nil {
		return func() {}
	}
	g := m.Subscriptions.WithLabelValues(kind)
	g.Inc()
	return g.Dec
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
