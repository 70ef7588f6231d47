// Package metrics defines the Prometheus collectors for order and payment flows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orders_service"

// Metrics groups the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	OrdersPlaced       *prometheus.CounterVec
	StatusTransitions  *prometheus.CounterVec
	Webhooks           *prometheus.CounterVec
	GatewayDuration    *prometheus.HistogramVec
	ReconciliationRuns *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders placed, by payment method.",
		}, []string{"method"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Applied order status transitions.",
		}, []string{"from", "to", "source"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhooks_total",
			Help:      "Payment webhooks received, by result.",
		}, []string{"result"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_gateway_request_duration_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		ReconciliationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconciliation_runs_total",
			Help:      "Reconciliation sweeps, by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.OrdersPlaced,
			m.StatusTransitions,
			m.Webhooks,
			m.GatewayDuration,
			m.ReconciliationRuns,
		)
	}

	return m
}

func (m *Metrics) OrderPlaced(method string) {
	if m == nil {
		return
	}
	m.OrdersPlaced.WithLabelValues(method).Inc()
}

func (m *Metrics) StatusTransition(from, to, source string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(from, to, source).Inc()
}

func (m *Metrics) Webhook(result string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(result).Inc()
}

func (m *Metrics) GatewayCall(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GatewayDuration.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) Reconciliation(result string) {
	if m == nil {
		return
	}
	m.ReconciliationRuns.WithLabelValues(result).Inc()
}
