package congestion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtls/xquic/quictime"
)

// fakeNotifier is declared in unacked_map_test.go.

func TestSentPacketManagerHandshakeModeBeforeConfirmed(t *testing.T) {
	m := NewSentPacketManager(DefaultConfig(), &fakeNotifier{}, nil)
	info := TransmissionInfo{
		SentTime:           quictime.Now(),
		BytesSent:          100,
		HasCryptoHandshake: true,
	}
	m.OnPacketSent(quictime.SpaceInitial, 1, info, quictime.Now(), true)
	assert.Equal(t, ModeHandshake, m.GetRetransmissionMode())
}

func TestSentPacketManagerPTOModeOnceConfirmed(t *testing.T) {
	m := NewSentPacketManager(DefaultConfig(), &fakeNotifier{}, nil)
	m.SetHandshakeConfirmed()
	assert.Equal(t, ModePTO, m.GetRetransmissionMode())
}

func TestSentPacketManagerAckUpdatesRTTAndRemovesFromFlight(t *testing.T) {
	notifier := &fakeNotifier{}
	m := NewSentPacketManager(DefaultConfig(), notifier, nil)
	m.SetHandshakeConfirmed()

	t0 := quictime.Now()
	info := TransmissionInfo{
		SentTime:            t0,
		BytesSent:           1200,
		RetransmittableData: []StreamFrameRef{{StreamID: 4, Offset: 0, Length: 10}},
	}
	m.OnPacketSent(quictime.SpaceApplication, 1, info, t0, true)
	assert.Equal(t, quictime.ByteCount(1200), m.bytesInFlight())

	receiveTime := t0.Add(quictime.Milliseconds(50))
	newData, results := m.AckFrameEnd(quictime.SpaceApplication, []AckRange{{Start: 1, End: 1}}, 1, quictime.ZeroDuration, receiveTime)
	assert.True(t, newData)
	assert.Empty(t, results)
	assert.Equal(t, quictime.ByteCount(0), m.bytesInFlight())
	assert.Len(t, notifier.acked, 1)
	assert.Greater(t, int64(m.RttStats().LatestRtt()), int64(0))
}

func TestSentPacketManagerOnRetransmissionTimeoutPTO(t *testing.T) {
	m := NewSentPacketManager(DefaultConfig(), &fakeNotifier{}, nil)
	m.SetHandshakeConfirmed()
	t0 := quictime.Now()
	info := TransmissionInfo{SentTime: t0, BytesSent: 1200, RetransmittableData: []StreamFrameRef{{StreamID: 4}}}
	m.OnPacketSent(quictime.SpaceApplication, 1, info, t0, true)

	mode, toRetransmit := m.OnRetransmissionTimeout(quictime.SpaceApplication)
	assert.Equal(t, ModePTO, mode)
	assert.Equal(t, []quictime.PacketNumber{1}, toRetransmit)
	assert.Equal(t, 1, m.ConsecutivePTOCount())
}

func TestSentPacketManagerMTUProbeLossIsNotACongestionSignal(t *testing.T) {
	m := NewSentPacketManager(DefaultConfig(), &fakeNotifier{}, nil)
	m.SetHandshakeConfirmed()
	t0 := quictime.Now()

	probe := TransmissionInfo{SentTime: t0, BytesSent: 1472, TransmissionType: ProbeTransmission, InFlight: true}
	m.OnPacketSent(quictime.SpaceApplication, 1, probe, t0, true)

	for pn := quictime.PacketNumber(2); pn <= 4; pn++ {
		info := TransmissionInfo{SentTime: t0, BytesSent: 1200, RetransmittableData: []StreamFrameRef{{StreamID: 4}}}
		m.OnPacketSent(quictime.SpaceApplication, pn, info, t0, true)
	}

	cwndBefore := m.SendAlgorithm().GetCongestionWindow()

	// Packet 1 (the probe) falls 3+ packets behind the largest acked
	// packet, triggering reordering-based loss detection. The concurrent
	// ack of packet 4 grows the window (slow start), but the probe's loss
	// must not trigger the cutback a lost retransmittable packet would —
	// there must be no recovery episode started from this event.
	_, results := m.AckFrameEnd(quictime.SpaceApplication, []AckRange{{Start: 4, End: 4}}, 4, quictime.ZeroDuration, t0.Add(quictime.Milliseconds(10)))
	assert.Empty(t, results)
	assert.GreaterOrEqual(t, m.SendAlgorithm().GetCongestionWindow(), cwndBefore, "a lost MTU probe must not reduce the congestion window")
	assert.False(t, m.SendAlgorithm().InRecovery(), "a lost MTU probe must not start a congestion recovery episode")
}

func TestSentPacketManagerFallsBackToRTOWhenPTODisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PTOEnabled = false
	m := NewSentPacketManager(cfg, &fakeNotifier{}, nil)
	m.SetHandshakeConfirmed()
	assert.Equal(t, ModeRTO, m.GetRetransmissionMode())
}
