package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OrderPlaced("momo")
	m.OrderPlaced("momo")
	m.StatusTransition("pending", "processing", "webhook")
	m.Webhook("applied")
	m.Reconciliation("ok")
	m.GatewayCall("verify", errors.New("timeout"), 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OrdersPlaced.WithLabelValues("momo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("pending", "processing", "webhook")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Webhooks.WithLabelValues("applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconciliationRuns.WithLabelValues("ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GatewayDuration))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.OrderPlaced("cod")
		m.GatewayCall("initialize", nil, time.Second)
	})
}
