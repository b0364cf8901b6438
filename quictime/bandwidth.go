package quictime

// Bandwidth is expressed in bits per second, matching QuicBandwidth's
// internal representation (quic_bandwidth.h).
type Bandwidth int64

// ZeroBandwidth means "no throughput estimate yet".
const ZeroBandwidth Bandwidth = 0

// InfiniteBandwidth means "unconstrained" (used by the pacing sender when
// no max_pacing_rate_ override is configured).
const InfiniteBandwidth Bandwidth = 1<<63 - 1

const bitsPerByte = 8
const microsPerSecond = 1000000

// FromBitsPerSecond constructs a Bandwidth from a raw bits/sec value.
func FromBitsPerSecond(bps int64) Bandwidth { return Bandwidth(bps) }

// FromKBitsPerSecond constructs a Bandwidth from a kbit/sec value.
func FromKBitsPerSecond(kbps int64) Bandwidth { return Bandwidth(kbps * 1000) }

// BandwidthFromBytesAndTimeDelta computes bytes/elapsed as a Bandwidth,
// matching QuicBandwidth::FromBytesAndTimeDelta. Returns InfiniteBandwidth
// when elapsed is zero or negative.
func BandwidthFromBytesAndTimeDelta(bytes ByteCount, elapsed Duration) Bandwidth {
	if elapsed <= 0 {
		return InfiniteBandwidth
	}
	// bits/sec = bytes*8 * 1e6 / elapsed_us
	return Bandwidth((int64(bytes) * bitsPerByte * microsPerSecond) / elapsed.ToMicroseconds())
}

// ToBitsPerSecond returns the raw bits/sec value.
func (b Bandwidth) ToBitsPerSecond() int64 { return int64(b) }

// ToKBitsPerSecond returns the raw kbits/sec value, truncating.
func (b Bandwidth) ToKBitsPerSecond() int64 { return int64(b) / 1000 }

// ToBytesPerSecond returns bytes/sec, truncating.
func (b Bandwidth) ToBytesPerSecond() int64 { return int64(b) / bitsPerByte }

// TransferTime returns how long it takes to send bytes at this rate, exact
// to 1 microsecond (quic_bandwidth.h TransferTime).
func (b Bandwidth) TransferTime(bytes ByteCount) Duration {
	if b <= 0 {
		return Infinite
	}
	return Microseconds((int64(bytes) * bitsPerByte * microsPerSecond) / int64(b))
}

// BytesPerPeriod returns how many bytes can be sent at this rate over the
// given period, exact to 1 microsecond (quic_bandwidth.h BytesPerPeriod).
func (b Bandwidth) BytesPerPeriod(period Duration) ByteCount {
	if b <= 0 {
		return 0
	}
	return ByteCount((int64(b) * period.ToMicroseconds()) / (bitsPerByte * microsPerSecond))
}

// Add returns the sum of two bandwidths, saturating at InfiniteBandwidth.
func (b Bandwidth) Add(o Bandwidth) Bandwidth {
	if b == InfiniteBandwidth || o == InfiniteBandwidth {
		return InfiniteBandwidth
	}
	return b + o
}

// Scale multiplies a bandwidth by a floating point factor.
func (b Bandwidth) Scale(factor float64) Bandwidth {
	if b == InfiniteBandwidth {
		return InfiniteBandwidth
	}
	return Bandwidth(float64(b) * factor)
}

// IsZero reports whether the bandwidth is the zero value.
func (b Bandwidth) IsZero() bool { return b == ZeroBandwidth }

// IsInfinite reports whether the bandwidth is the sentinel infinite value.
func (b Bandwidth) IsInfinite() bool { return b == InfiniteBandwidth }
