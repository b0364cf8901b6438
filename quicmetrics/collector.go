// Package quicmetrics is an optional Prometheus collector for connection
// telemetry, SPEC_FULL.md §4.F. Nothing in transport/congestion/streams
// requires it: every hook it satisfies (congestion.Metrics) is nil-safe, so
// a host that does not import this package pays nothing for it.
//
// Grounded on the teacher's use of github.com/prometheus/client_golang for
// socket-adjacent instrumentation (m-lab-tcp-info, runZeroInc-conniver,
// runZeroInc-sockstats all publish TCP/QUIC socket state as gauges the same
// way).
package quicmetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtls/xquic/quictime"
)

// Collector publishes one connection's congestion-control state as
// Prometheus gauges. Callers register it with a prometheus.Registerer and
// pass it as the congestion.Metrics implementation to NewSentPacketManager.
type Collector struct {
	congestionWindow prometheus.Gauge
	bytesInFlight    prometheus.Gauge
	smoothedRTT      prometheus.Gauge
	consecutivePTO   prometheus.Gauge
}

// NewCollector creates a Collector whose gauges carry the given constant
// labels (e.g. a connection ID), so multiple connections can be
// distinguished in the same registry.
func NewCollector(constLabels prometheus.Labels) *Collector {
	return &Collector{
		congestionWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "xquic",
			Subsystem:   "congestion",
			Name:        "window_bytes",
			Help:        "Current congestion window in bytes.",
			ConstLabels: constLabels,
		}),
		bytesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "xquic",
			Subsystem:   "congestion",
			Name:        "bytes_in_flight",
			Help:        "Bytes currently in flight and unacknowledged.",
			ConstLabels: constLabels,
		}),
		smoothedRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "xquic",
			Subsystem:   "rtt",
			Name:        "smoothed_seconds",
			Help:        "Smoothed round-trip time in seconds.",
			ConstLabels: constLabels,
		}),
		consecutivePTO: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "xquic",
			Subsystem:   "loss",
			Name:        "consecutive_pto",
			Help:        "Number of consecutive probe timeouts since the last acknowledgement.",
			ConstLabels: constLabels,
		}),
	}
}

// Collectors returns every Prometheus collector owned by c, for bulk
// registration: registry.MustRegister(c.Collectors()...).
func (c *Collector) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.congestionWindow, c.bytesInFlight, c.smoothedRTT, c.consecutivePTO}
}

func (c *Collector) ObserveCongestionWindow(bytes quictime.ByteCount) {
	c.congestionWindow.Set(float64(bytes))
}

func (c *Collector) ObserveBytesInFlight(bytes quictime.ByteCount) {
	c.bytesInFlight.Set(float64(bytes))
}

func (c *Collector) ObserveSmoothedRTT(d quictime.Duration) {
	c.smoothedRTT.Set(d.Std().Seconds())
}

func (c *Collector) ObserveConsecutivePTO(n int) {
	c.consecutivePTO.Set(float64(n))
}
