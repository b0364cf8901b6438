package quictime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBandwidthTransferTime(t *testing.T) {
	// 1 packet (1460 bytes) per millisecond == ~11.68 Mbps.
	bw := BandwidthFromBytesAndTimeDelta(1460, Milliseconds(1))
	d := bw.TransferTime(1460)
	assert.InDelta(t, 1000, d.ToMicroseconds(), 5)
}

func TestBandwidthBytesPerPeriod(t *testing.T) {
	bw := FromKBitsPerSecond(8000) // 1MB/s
	bytes := bw.BytesPerPeriod(Milliseconds(1000))
	assert.InDelta(t, 1000000, int64(bytes), 1000)
}

func TestBandwidthSaturation(t *testing.T) {
	assert.True(t, InfiniteBandwidth.Add(FromKBitsPerSecond(100)).IsInfinite())
	assert.Equal(t, Infinite, ZeroBandwidth.TransferTime(100))
}
