package congestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtls/xquic/quictime"
)

func TestBandwidthSamplerBasicRTT(t *testing.T) {
	s := NewBandwidthSampler()
	t0 := quictime.Now()
	s.OnPacketSent(0, t0, 1000, 0)
	s.OnPacketSent(1, t0.Add(quictime.Milliseconds(1)), 1000, 1000)

	sample, ok := s.OnPacketAcked(0, t0.Add(quictime.Milliseconds(50)))
	require.True(t, ok)
	assert.Equal(t, quictime.Milliseconds(50), sample.RTT)
}

func TestBandwidthSamplerUnknownPacketNotOK(t *testing.T) {
	s := NewBandwidthSampler()
	_, ok := s.OnPacketAcked(42, quictime.Now())
	assert.False(t, ok)
}

func TestBandwidthSamplerAppLimitedClearsOnAck(t *testing.T) {
	s := NewBandwidthSampler()
	t0 := quictime.Now()
	s.OnPacketSent(0, t0, 1000, 0)
	s.OnApplicationLimited(0)
	assert.True(t, s.IsAppLimited())
	s.OnPacketSent(1, t0.Add(quictime.Milliseconds(1)), 1000, 1000)
	sample, ok := s.OnPacketAcked(1, t0.Add(quictime.Milliseconds(10)))
	require.True(t, ok)
	assert.True(t, sample.IsAppLimited)
	assert.False(t, s.IsAppLimited())
}

func TestBandwidthSamplerLossRemovesState(t *testing.T) {
	s := NewBandwidthSampler()
	t0 := quictime.Now()
	s.OnPacketSent(0, t0, 1000, 0)
	s.OnPacketLost(0, 1000)
	_, ok := s.OnPacketAcked(0, t0.Add(quictime.Milliseconds(5)))
	assert.False(t, ok)
}

func TestMaxAckHeightTrackerFirstUpdateStartsEpoch(t *testing.T) {
	tr := NewMaxAckHeightTracker()
	t0 := quictime.Now()
	bw := quictime.FromKBitsPerSecond(1000)
	extra := tr.Update(bw, false, 0, 0, t0, 1000)
	assert.Equal(t, quictime.ByteCount(0), extra)
	assert.Equal(t, uint64(1), tr.NumAckAggregationEpochs())
}
