package quicmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtls/xquic/quictime"
)

func TestCollectorObserveCongestionWindow(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveCongestionWindow(quictime.ByteCount(32768))
	assert.Equal(t, float64(32768), testutil.ToFloat64(c.congestionWindow))
}

func TestCollectorObserveBytesInFlight(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveBytesInFlight(quictime.ByteCount(1200))
	assert.Equal(t, float64(1200), testutil.ToFloat64(c.bytesInFlight))
}

func TestCollectorObserveSmoothedRTT(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveSmoothedRTT(quictime.Milliseconds(50))
	assert.InDelta(t, 0.05, testutil.ToFloat64(c.smoothedRTT), 1e-9)
}

func TestCollectorObserveConsecutivePTO(t *testing.T) {
	c := NewCollector(nil)
	c.ObserveConsecutivePTO(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(c.consecutivePTO))
}

func TestCollectorsReturnsAllFourGauges(t *testing.T) {
	c := NewCollector(nil)
	assert.Len(t, c.Collectors(), 4)
}

func TestCollectorRegistersWithConstLabels(t *testing.T) {
	c := NewCollector(prometheus.Labels{"connection": "test-1"})
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c.congestionWindow))
}
