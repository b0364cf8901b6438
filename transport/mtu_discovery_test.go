package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtls/xquic/quictime"
)

func TestMTUDiscoveryLadderSkipsSizesAtOrBelowConfirmed(t *testing.T) {
	d := NewMTUDiscovery(1390)
	assert.Equal(t, 1440, d.NextProbeSize(), "1280 and 1390 are at or below the confirmed floor")
}

func TestMTUDiscoveryConvergesAfterLadderExhausted(t *testing.T) {
	d := NewMTUDiscovery(1472)
	assert.Equal(t, 0, d.NextProbeSize())
}

func TestMTUDiscoveryAckRaisesConfirmedSize(t *testing.T) {
	d := NewMTUDiscovery(1200)
	d.OnProbeSent(5, 1390)
	assert.True(t, d.OnPacketAcked(5))
	assert.Equal(t, 1390, d.Confirmed())
	assert.False(t, d.OnPacketAcked(5), "already consumed")
}

func TestMTUDiscoveryLossDoesNotRaiseConfirmedSize(t *testing.T) {
	d := NewMTUDiscovery(1200)
	d.OnProbeSent(9, 1472)
	assert.True(t, d.OnPacketLost(9))
	assert.Equal(t, 1200, d.Confirmed())
	assert.False(t, d.OnPacketLost(9), "already consumed")
}

func TestMTUDiscoveryIgnoresUntrackedPacketNumber(t *testing.T) {
	d := NewMTUDiscovery(1200)
	assert.False(t, d.OnPacketAcked(quictime.PacketNumber(42)))
	assert.False(t, d.OnPacketLost(quictime.PacketNumber(42)))
}

func TestConnectionMTUProbeWiring(t *testing.T) {
	c := NewConnection(DefaultConfig(), true, noopVisitor{})

	size := c.NextMTUProbe()
	assert.Equal(t, 1280, size)

	c.SendMTUProbe(1, size)
	assert.True(t, c.OnMTUProbeAcked(1))
	assert.Equal(t, 1280, c.ConfirmedMTU())

	next := c.NextMTUProbe()
	assert.Equal(t, 1390, next)
	c.SendMTUProbe(2, next)
	assert.True(t, c.OnMTUProbeLost(2))
	assert.Equal(t, 1280, c.ConfirmedMTU(), "a lost probe must not move the confirmed size")
}
