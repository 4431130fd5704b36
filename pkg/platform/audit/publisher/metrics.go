package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit delivery.
type Metrics struct {
	Delivered           *prometheus.CounterVec
	Dropped             *prometheus.CounterVec
	DeliveryFailures    prometheus.Counter
	CircuitBreakerState prometheus.Gauge
}

// NewMetrics registers audit publisher metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		Delivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "enrichment_audit_delivered_total",
			Help: "Audit events delivered to the sink, by category",
		}, []string{"category"}),
		Dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "enrichment_audit_dropped_total",
			Help: "Audit events dropped before delivery, by reason",
		}, []string{"reason"}),
		DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "enrichment_audit_delivery_failures_total",
			Help: "Audit sink write failures",
		}),
		CircuitBreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "enrichment_audit_circuit_breaker_state",
			Help: "Audit sink circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) incDelivered(category string) {
	if m == nil {
		return
	}
	m.Delivered.WithLabelValues(category).Inc()
}

func (m *Metrics) incDropped(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) incDeliveryFailures() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

func (m *Metrics) setBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
