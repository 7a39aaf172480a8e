package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveStage("EXECUTE_SWAP", "", 2*time.Second, 120000)
	m.ObserveStage("EXECUTE_SWAP", "", time.Second, 80000)
	m.ObserveStage("APPROVE_LP_TOKEN", "LiquidityFailure", time.Second, 0)

	assert.Equal(t, float64(200000), testutil.ToFloat64(m.gasUsed.WithLabelValues("EXECUTE_SWAP")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("APPROVE_LP_TOKEN", "LiquidityFailure")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.stageDuration), "One series per stage and status")
}

func TestRecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordRun(true)
	m.RecordRun(false)
	m.RecordRun(false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.runs.WithLabelValues("success")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.runs.WithLabelValues("failure")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecordBreakerTrip(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordBreakerTrip("5 consecutive failures")
	m.RecordBreakerTrip("half-open call failed")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.breakerTrips))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStage("RESOLVE_POOL", "", time.Second, 0)
		m.RecordRun(true)
		m.RecordBreakerTrip("timeout")
	}, "Nil metrics should be a no-op")
}
