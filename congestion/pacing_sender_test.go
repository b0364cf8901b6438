package congestion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtls/xquic/quictime"
)

// fakeSendAlgorithm is a minimal SendAlgorithm stand-in, playing the role
// of pacing_sender_test.cc's MockSendAlgorithm.
type fakeSendAlgorithm struct {
	canSend     bool
	cwnd        quictime.ByteCount
	bandwidth   quictime.Bandwidth
	inRecovery  bool
	sentCalls   int
}

func (f *fakeSendAlgorithm) CanSend(quictime.ByteCount) bool               { return f.canSend }
func (f *fakeSendAlgorithm) GetCongestionWindow() quictime.ByteCount       { return f.cwnd }
func (f *fakeSendAlgorithm) BandwidthEstimate() quictime.Bandwidth         { return f.bandwidth }
func (f *fakeSendAlgorithm) PacingRate(quictime.ByteCount) quictime.Bandwidth { return f.bandwidth }
func (f *fakeSendAlgorithm) InRecovery() bool                              { return f.inRecovery }
func (f *fakeSendAlgorithm) OnApplicationLimited()                        {}
func (f *fakeSendAlgorithm) OnPacketSent(quictime.Time, quictime.ByteCount, quictime.PacketNumber, quictime.ByteCount, bool) {
	f.sentCalls++
}

// spec.md §8 scenario 2: the initial burst lets packets out immediately,
// then pacing spaces subsequent sends by the rate's transfer time.
func TestPacingSenderBurstThenPaced(t *testing.T) {
	sender := &fakeSendAlgorithm{
		canSend:   true,
		cwnd:      100 * defaultTCPMSS,
		bandwidth: quictime.FromKBitsPerSecond(8000),
	}
	p := NewPacingSender(sender)
	t0 := quictime.Now()

	var inFlight quictime.ByteCount
	for i := 0; i < initialBurstSize; i++ {
		assert.Equal(t, quictime.ZeroDuration, p.TimeUntilSend(t0, inFlight))
		p.OnPacketSent(t0, inFlight, quictime.PacketNumber(i), defaultTCPMSS, true)
		inFlight += defaultTCPMSS
	}

	// Burst tokens are spent; sending enough to drain the lumpy-token
	// allowance as well should leave the send after that paced into the
	// future.
	for i := 0; i < lumpyPacingSize; i++ {
		p.OnPacketSent(t0, inFlight, quictime.PacketNumber(initialBurstSize+i), defaultTCPMSS, true)
		inFlight += defaultTCPMSS
	}
	delay := p.TimeUntilSend(t0, inFlight)
	assert.NotEqual(t, quictime.ZeroDuration, delay)
	assert.NotEqual(t, quictime.Infinite, delay)
}

func TestPacingSenderRefusesWhenUnderlyingSenderRefuses(t *testing.T) {
	sender := &fakeSendAlgorithm{canSend: false, cwnd: 10 * defaultTCPMSS, bandwidth: quictime.FromKBitsPerSecond(1000)}
	p := NewPacingSender(sender)
	assert.Equal(t, quictime.Infinite, p.TimeUntilSend(quictime.Now(), 1000))
}

func TestPacingSenderZeroInflightAlwaysSendsNow(t *testing.T) {
	sender := &fakeSendAlgorithm{canSend: true, cwnd: 10 * defaultTCPMSS, bandwidth: quictime.FromKBitsPerSecond(1000)}
	p := NewPacingSender(sender)
	p.burstTokens = 0
	assert.Equal(t, quictime.ZeroDuration, p.TimeUntilSend(quictime.Now(), 0))
}

func TestPacingSenderLossEventClearsBurstTokens(t *testing.T) {
	sender := &fakeSendAlgorithm{canSend: true, cwnd: 10 * defaultTCPMSS, bandwidth: quictime.FromKBitsPerSecond(1000)}
	p := NewPacingSender(sender)
	p.OnLossEvent()
	assert.Equal(t, uint32(0), p.burstTokens)
}

func TestPacingSenderMaxPacingRateCaps(t *testing.T) {
	sender := &fakeSendAlgorithm{canSend: true, cwnd: 10 * defaultTCPMSS, bandwidth: quictime.FromKBitsPerSecond(8000)}
	p := NewPacingSender(sender)
	p.SetMaxPacingRate(quictime.FromKBitsPerSecond(1000))
	assert.Equal(t, quictime.FromKBitsPerSecond(1000), p.PacingRate(0))
}
