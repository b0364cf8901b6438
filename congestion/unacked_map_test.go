package congestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtls/xquic/quictime"
)

type fakeNotifier struct {
	acked []StreamFrameRef
	lost  []StreamFrameRef
}

func (f *fakeNotifier) OnFrameAcked(frame StreamFrameRef, _ quictime.Duration) bool {
	f.acked = append(f.acked, frame)
	return true
}

func (f *fakeNotifier) OnFrameLost(frame StreamFrameRef) {
	f.lost = append(f.lost, frame)
}

func TestAddSentAssertsMonotone(t *testing.T) {
	m := NewUnackedPacketMap(quictime.SpaceApplication, nil)
	m.AddSent(1, TransmissionInfo{BytesSent: 100}, true)
	assert.Panics(t, func() {
		m.AddSent(1, TransmissionInfo{BytesSent: 100}, true)
	})
}

func TestAddSentFillsGapsWithNeverSent(t *testing.T) {
	m := NewUnackedPacketMap(quictime.SpaceApplication, nil)
	m.AddSent(5, TransmissionInfo{BytesSent: 100}, true)
	for pn := quictime.PacketNumber(0); pn < 5; pn++ {
		info := m.Get(pn)
		require.NotNil(t, info)
		assert.Equal(t, NeverSent, info.State)
	}
	assert.Equal(t, Outstanding, m.Get(5).State)
}

func TestBytesInFlightTracksAckAndLoss(t *testing.T) {
	m := NewUnackedPacketMap(quictime.SpaceApplication, nil)
	m.AddSent(0, TransmissionInfo{BytesSent: 1000}, true)
	m.AddSent(1, TransmissionInfo{BytesSent: 500}, true)
	assert.Equal(t, quictime.ByteCount(1500), m.BytesInFlight())

	_, result := m.AckPacket(0, quictime.Now(), 0)
	assert.Equal(t, AckOK, result)
	assert.Equal(t, quictime.ByteCount(500), m.BytesInFlight())

	m.MarkLost(1)
	assert.Equal(t, quictime.ByteCount(0), m.BytesInFlight())
}

func TestAckUnackableAndUnsentPackets(t *testing.T) {
	m := NewUnackedPacketMap(quictime.SpaceApplication, nil)
	m.AddSent(0, TransmissionInfo{BytesSent: 100}, true)
	neutered := m.NeuterHandshakePackets()
	assert.Empty(t, neutered) // wrong encryption level, nothing neutered

	m.entries[0].EncryptionLevel = EncryptionHandshake
	neutered = m.NeuterHandshakePackets()
	assert.Equal(t, []quictime.PacketNumber{0}, neutered)

	_, result := m.AckPacket(0, quictime.Now(), 0)
	assert.Equal(t, AckUnackablePacketsAcked, result)

	_, result = m.AckPacket(99, quictime.Now(), 0)
	assert.Equal(t, AckUnsentPacketsAcked, result)
}

func TestNotifierCalledOnAckAndLoss(t *testing.T) {
	n := &fakeNotifier{}
	m := NewUnackedPacketMap(quictime.SpaceApplication, n)
	frame := StreamFrameRef{StreamID: 4, Offset: 0, Length: 10}
	m.AddSent(0, TransmissionInfo{BytesSent: 100, RetransmittableData: []StreamFrameRef{frame}}, true)
	m.AddSent(1, TransmissionInfo{BytesSent: 100, RetransmittableData: []StreamFrameRef{frame}}, true)

	newData, result := m.AckPacket(0, quictime.Now(), 0)
	assert.Equal(t, AckOK, result)
	assert.True(t, newData)
	assert.Len(t, n.acked, 1)

	m.NotifyFramesLost(1)
	assert.Len(t, n.lost, 1)
}

func TestRemoveObsoletePopsFromFront(t *testing.T) {
	m := NewUnackedPacketMap(quictime.SpaceApplication, nil)
	m.AddSent(0, TransmissionInfo{BytesSent: 100}, true)
	m.AddSent(1, TransmissionInfo{BytesSent: 100}, true)
	m.AckPacket(0, quictime.Now(), 0)
	m.RemoveObsolete()
	assert.Nil(t, m.Get(0))
	assert.NotNil(t, m.Get(1))
}
