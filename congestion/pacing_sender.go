package congestion

import "github.com/xtls/xquic/quictime"

// defaultTCPMSS is the packet size pacing token math is expressed in terms
// of, matching kDefaultTCPMSS.
const defaultTCPMSS = quictime.ByteCount(1452)

// initialBurstSize is the default number of packets a connection may send
// back-to-back when coming out of quiescence, matching kInitialUnpacedBurst.
const initialBurstSize = 10

// alarmGranularity is the tolerance below which TimeUntilSend fires
// immediately rather than scheduling an alarm for a near-future time.
var alarmGranularity = quictime.Milliseconds(1)

// Lumpy pacing tunables, matching the quic_lumpy_pacing_* flags.
const (
	lumpyPacingSize            = 2
	lumpyPacingCwndFraction    = 0.25
	lumpyPacingMinBandwidthKbps = 1200
)

// SendAlgorithm is the congestion-controller interface PacingSender wraps,
// spec.md §4.E. A concrete controller (Cubic or a BBR2 mode FSM) plus the
// unacked map compose into something satisfying this interface.
type SendAlgorithm interface {
	CanSend(bytesInFlight quictime.ByteCount) bool
	GetCongestionWindow() quictime.ByteCount
	BandwidthEstimate() quictime.Bandwidth
	PacingRate(bytesInFlight quictime.ByteCount) quictime.Bandwidth
	InRecovery() bool
	OnPacketSent(sentTime quictime.Time, bytesInFlight quictime.ByteCount, pn quictime.PacketNumber, bytes quictime.ByteCount, retransmittable bool)
	OnApplicationLimited()
}

// PacingSender spaces packet departures so that a CUBIC/BBR cwnd worth of
// data is not released in a single burst, spec.md §4.E. Grounded on
// pacing_sender.cc.
type PacingSender struct {
	sender SendAlgorithm

	maxPacingRate               quictime.Bandwidth
	applicationDrivenPacingRate quictime.Bandwidth

	burstTokens  uint32
	lumpyTokens  uint32
	initialBurstSize uint32

	idealNextPacketSendTime quictime.Time
	pacingLimited           bool
}

// NewPacingSender wraps sender with pacing, starting with a full initial
// burst allowance.
func NewPacingSender(sender SendAlgorithm) *PacingSender {
	return &PacingSender{
		sender:                      sender,
		applicationDrivenPacingRate: quictime.InfiniteBandwidth,
		burstTokens:                 initialBurstSize,
		initialBurstSize:            initialBurstSize,
	}
}

// SetMaxPacingRate caps the pacing rate regardless of what the wrapped
// controller would otherwise allow.
func (p *PacingSender) SetMaxPacingRate(rate quictime.Bandwidth) { p.maxPacingRate = rate }

// SetBurstTokens overrides the burst allowance, clamped to the current
// congestion window expressed in packets.
func (p *PacingSender) SetBurstTokens(tokens uint32) {
	p.initialBurstSize = tokens
	p.burstTokens = minUint32(tokens, uint32(p.sender.GetCongestionWindow()/defaultTCPMSS))
}

// OnPacketSent records a send, spending a burst or lumpy token, or else
// advancing ideal_next_packet_send_time by this packet's transfer time.
func (p *PacingSender) OnPacketSent(sentTime quictime.Time, bytesInFlight quictime.ByteCount, pn quictime.PacketNumber, bytes quictime.ByteCount, retransmittable bool) {
	p.sender.OnPacketSent(sentTime, bytesInFlight, pn, bytes, retransmittable)
	if !retransmittable {
		return
	}

	if bytesInFlight == 0 && !p.sender.InRecovery() {
		p.burstTokens = minUint32(p.initialBurstSize, uint32(p.sender.GetCongestionWindow()/defaultTCPMSS))
	}

	if p.burstTokens > 0 {
		p.burstTokens--
		p.idealNextPacketSendTime = quictime.Zero()
		p.pacingLimited = false
		return
	}

	delay := p.PacingRate(bytesInFlight + bytes).TransferTime(bytes)
	if !p.pacingLimited || p.lumpyTokens == 0 {
		cwndFraction := uint32(float64(p.sender.GetCongestionWindow())*lumpyPacingCwndFraction) / uint32(defaultTCPMSS)
		p.lumpyTokens = maxUint32(1, minUint32(lumpyPacingSize, cwndFraction))
		if p.sender.BandwidthEstimate() < quictime.FromKBitsPerSecond(lumpyPacingMinBandwidthKbps) {
			p.lumpyTokens = 1
		}
		if bytesInFlight+bytes >= p.sender.GetCongestionWindow() {
			p.lumpyTokens = 1
		}
	}
	p.lumpyTokens--

	if p.pacingLimited {
		p.idealNextPacketSendTime = p.idealNextPacketSendTime.Add(delay)
	} else {
		candidate := sentTime.Add(delay)
		if atLeast := p.idealNextPacketSendTime.Add(delay); atLeast.After(candidate) {
			candidate = atLeast
		}
		p.idealNextPacketSendTime = candidate
	}
	p.pacingLimited = p.sender.CanSend(bytesInFlight + bytes)
}

// OnApplicationLimited stops "catching up" on pacing once the application
// has nothing more to send.
func (p *PacingSender) OnApplicationLimited() {
	p.pacingLimited = false
}

// OnLossEvent clears the burst allowance, matching entering recovery.
func (p *PacingSender) OnLossEvent() {
	p.burstTokens = 0
}

// TimeUntilSend returns how long until the next packet may depart: zero
// if the wrapped controller allows sending now and burst/lumpy tokens or
// quiescence permit it, otherwise the remaining pacing delay (or infinite
// if the wrapped controller itself refuses).
func (p *PacingSender) TimeUntilSend(now quictime.Time, bytesInFlight quictime.ByteCount) quictime.Duration {
	if !p.sender.CanSend(bytesInFlight) {
		return quictime.Infinite
	}

	if p.burstTokens > 0 || bytesInFlight == 0 || p.lumpyTokens > 0 {
		return quictime.ZeroDuration
	}

	if p.idealNextPacketSendTime.After(now.Add(alarmGranularity)) {
		return p.idealNextPacketSendTime.Sub(now)
	}
	return quictime.ZeroDuration
}

// PacingRate returns the current pacing rate, capped by max_pacing_rate if
// one is configured.
func (p *PacingSender) PacingRate(bytesInFlight quictime.ByteCount) quictime.Bandwidth {
	underlying := p.sender.PacingRate(bytesInFlight)
	if p.maxPacingRate.IsZero() {
		return underlying
	}
	if p.maxPacingRate < underlying {
		return p.maxPacingRate
	}
	return underlying
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
