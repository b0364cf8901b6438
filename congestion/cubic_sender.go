package congestion

import "github.com/xtls/xquic/quictime"

// Initial-window tunables, spec.md §6's kIW03/kIW10/kIW20/kIW50/kBWS5
// connection options: the number of packets the congestion window starts
// at before any RTT sample exists.
const (
	defaultInitialWindowPackets = 32
	minCongestionWindowPackets  = 2
	maxCongestionWindowPackets  = 2000
)

// CubicSender is the concrete SendAlgorithm the pacing sender and
// sent-packet manager drive: slow start plus the Cubic curve from
// CongestionWindowAfterAck/Loss, grounded on
// net/quic/core/congestion_control/tcp_cubic_sender_bytes.cc (the wrapper
// QUICHE itself uses around the bare Cubic curve).
type CubicSender struct {
	cubic *Cubic
	rtt   *RttStats

	maxTCPMSS quictime.ByteCount

	congestionWindow    quictime.ByteCount
	minCongestionWindow quictime.ByteCount
	maxCongestionWindow quictime.ByteCount

	slowStartThreshold quictime.ByteCount

	numAckedPackets int

	largestSentPacketNumber    quictime.PacketNumber
	largestAckedPacketNumber   quictime.PacketNumber
	largestSentAtLastCutback   quictime.PacketNumber

	inRecovery   bool
	isAppLimited bool
}

// NewCubicSender creates a CUBIC sender with the given RTT estimator and
// initial congestion window, expressed in packets of maxTCPMSS bytes.
func NewCubicSender(rtt *RttStats, initialWindowPackets int, maxTCPMSS quictime.ByteCount) *CubicSender {
	if maxTCPMSS <= 0 {
		maxTCPMSS = defaultTCPMSS
	}
	if initialWindowPackets <= 0 {
		initialWindowPackets = defaultInitialWindowPackets
	}
	return &CubicSender{
		cubic:                    NewCubic(),
		rtt:                      rtt,
		maxTCPMSS:                maxTCPMSS,
		congestionWindow:         maxTCPMSS * quictime.ByteCount(initialWindowPackets),
		minCongestionWindow:      maxTCPMSS * minCongestionWindowPackets,
		maxCongestionWindow:      maxTCPMSS * maxCongestionWindowPackets,
		slowStartThreshold:       quictime.ByteCount(1<<63 - 1),
		largestSentPacketNumber:  quictime.UninitializedPacketNumber,
		largestAckedPacketNumber: quictime.UninitializedPacketNumber,
		largestSentAtLastCutback: quictime.UninitializedPacketNumber,
	}
}

// inSlowStart reports whether the window is still below ssthresh.
func (c *CubicSender) inSlowStart() bool { return c.congestionWindow < c.slowStartThreshold }

// CanSend reports whether bytesInFlight leaves room under the window.
func (c *CubicSender) CanSend(bytesInFlight quictime.ByteCount) bool {
	return bytesInFlight < c.congestionWindow
}

// GetCongestionWindow returns the current window in bytes.
func (c *CubicSender) GetCongestionWindow() quictime.ByteCount { return c.congestionWindow }

// BandwidthEstimate derives bandwidth from cwnd/srtt, the classic-controller
// fallback (BBR2 has its own bandwidth filter; Cubic has none).
func (c *CubicSender) BandwidthEstimate() quictime.Bandwidth {
	srtt := c.rtt.SmoothedRtt()
	if srtt == 0 {
		return quictime.InfiniteBandwidth
	}
	return quictime.BandwidthFromBytesAndTimeDelta(c.congestionWindow, srtt)
}

// PacingRate returns cwnd divided by the smoothed (or, before any sample,
// initial) RTT, raised by 1.25x during slow start so that the pacer does
// not itself become the bottleneck there and left at 1x otherwise, matching
// TcpCubicSenderBytes::PacingRate's 1.25x-in-slow-start / 1x otherwise.
func (c *CubicSender) PacingRate(bytesInFlight quictime.ByteCount) quictime.Bandwidth {
	if c.congestionWindow == 0 {
		return quictime.InfiniteBandwidth
	}
	srtt := c.rtt.SmoothedOrInitialRtt()
	if srtt == 0 {
		return quictime.InfiniteBandwidth
	}
	bw := quictime.BandwidthFromBytesAndTimeDelta(c.congestionWindow, srtt)
	if c.inSlowStart() {
		return bw.Scale(1.25)
	}
	return bw.Scale(1.0)
}

// InRecovery reports whether a loss event's reduced window is still in
// effect for packets sent before the cutback.
func (c *CubicSender) InRecovery() bool { return c.inRecovery }

// OnPacketSent updates bookkeeping; only retransmittable data consumes
// congestion-window budget.
func (c *CubicSender) OnPacketSent(sentTime quictime.Time, bytesInFlight quictime.ByteCount, pn quictime.PacketNumber, bytes quictime.ByteCount, retransmittable bool) {
	c.largestSentPacketNumber = pn
	if !retransmittable {
		return
	}
	if c.inRecovery && pn > c.largestSentAtLastCutback {
		c.inRecovery = false
	}
}

// OnApplicationLimited freezes the cubic curve's epoch during idle periods.
func (c *CubicSender) OnApplicationLimited() {
	c.isAppLimited = true
	c.cubic.OnApplicationLimited()
}

// OnCongestionEvent folds in the results of one ack-frame's worth of acked
// and lost packets, spec.md §4.F step 4.
func (c *CubicSender) OnCongestionEvent(priorInFlight quictime.ByteCount, eventTime quictime.Time, ackedPackets []AckedPacket, lostPackets []LostPacket) {
	if len(lostPackets) > 0 {
		c.onPacketLost(lostPackets[len(lostPackets)-1].PacketNumber)
	}
	for _, p := range ackedPackets {
		c.onPacketAcked(p.PacketNumber, p.BytesAcked, priorInFlight, eventTime)
	}
}

func (c *CubicSender) onPacketAcked(pn quictime.PacketNumber, ackedBytes, priorInFlight quictime.ByteCount, eventTime quictime.Time) {
	c.largestAckedPacketNumber = maxPacketNumber(c.largestAckedPacketNumber, pn)
	if c.inRecovery {
		return
	}
	c.maybeIncreaseCwnd(ackedBytes, priorInFlight, eventTime)
}

func (c *CubicSender) maybeIncreaseCwnd(ackedBytes, priorInFlight quictime.ByteCount, eventTime quictime.Time) {
	if !c.CanSend(priorInFlight) {
		// Cwnd-limited check: don't grow the window when it wasn't the
		// bottleneck for this ack.
		return
	}
	if c.congestionWindow >= c.maxCongestionWindow {
		return
	}
	if c.inSlowStart() {
		c.congestionWindow += c.maxTCPMSS
		return
	}
	c.congestionWindow = c.cubic.CongestionWindowAfterAck(c.congestionWindow, c.rtt.MinRtt(), eventTime)
	if c.congestionWindow > c.maxCongestionWindow {
		c.congestionWindow = c.maxCongestionWindow
	}
}

func (c *CubicSender) onPacketLost(largestLost quictime.PacketNumber) {
	if largestLost <= c.largestSentAtLastCutback && c.largestSentAtLastCutback != quictime.UninitializedPacketNumber {
		// Already reacted to a loss in this round; one cutback per round
		// trip, matching TcpCubicSenderBytes::OnPacketLost.
		return
	}
	c.inRecovery = true
	c.largestSentAtLastCutback = c.largestSentPacketNumber
	c.slowStartThreshold = c.cubic.CongestionWindowAfterPacketLoss(c.congestionWindow)
	c.congestionWindow = c.slowStartThreshold
	if c.congestionWindow < c.minCongestionWindow {
		c.congestionWindow = c.minCongestionWindow
	}
}

func maxPacketNumber(a, b quictime.PacketNumber) quictime.PacketNumber {
	if a > b {
		return a
	}
	return b
}
