package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PicklesTheWise/Pickle-Reef/errors"
)

func TestDuplicateRegistrationRejected(t *testing.T) {
	r := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reefgate",
		Name:      "test_counter_total",
	})
	require.NoError(t, r.RegisterCounter("gateway", "test_counter", counter))

	other := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reefgate",
		Name:      "other_counter_total",
	})
	err := r.RegisterCounter("gateway", "test_counter", other)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregisterAllowsReRegistration(t *testing.T) {
	r := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reefgate",
		Name:      "test_gauge",
	})
	require.NoError(t, r.RegisterGauge("gateway", "test_gauge", gauge))
	assert.True(t, r.Unregister("gateway", "test_gauge"))
	assert.False(t, r.Unregister("gateway", "test_gauge"))

	require.NoError(t, r.RegisterGauge("gateway", "test_gauge", gauge))
}

func TestCoreMetricsRegistered(t *testing.T) {
	r := NewMetricsRegistry()
	m := r.CoreMetrics()
	require.NotNil(t, m)

	m.RecordFrameReceived("status")
	m.RecordFrameDispatched("status", "ok")
	m.RecordFrameDropped()
	m.ActiveConnections.Set(3)
	m.RecordBridgeStatus(true)
	m.RecordBridgePublished("reef.module.status")

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, family := range families {
		names[family.GetName()] = true
	}
	assert.True(t, names["reefgate_frames_received_total"])
	assert.True(t, names["reefgate_connections_active"])
	assert.True(t, names["reefgate_bridge_published_total"])
}
