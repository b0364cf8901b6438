package congestion

import "github.com/xtls/xquic/quictime"

// RetransmissionTimerMode is the leaves-first mode selection of spec.md
// §4.F: Handshake, Loss, TLP, RTO or PTO.
type RetransmissionTimerMode uint8

const (
	ModeHandshake RetransmissionTimerMode = iota
	ModeLoss
	ModeTLP
	ModeRTO
	ModePTO
)

func (m RetransmissionTimerMode) String() string {
	switch m {
	case ModeHandshake:
		return "handshake"
	case ModeLoss:
		return "loss"
	case ModeTLP:
		return "tlp"
	case ModeRTO:
		return "rto"
	case ModePTO:
		return "pto"
	default:
		return "unknown"
	}
}

// Retransmission-timer tunables, spec.md §4.F/§6.
const (
	minHandshakeTimeoutMs = 10
	maxTailLossProbesDefault = 2
	minTLPTimeoutMs       = 10
	minRTOTimeoutMs       = 200
	maxRetransmissionTimeMs = 60000
	maxConsecutiveRTOs      = 32
	maxProbePacketsPerPTODefault = 1
	ptoExponentialBackoffStartPointDefault = 2
)

// Config is the subset of transport connection options that shape the
// retransmission-timer state machine, spec.md §6. The full transport.Config
// struct (SPEC_FULL.md §4.N) holds this as its Congestion field.
type Config struct {
	MaxTailLossProbes                int
	EnableHalfRTTTailLossProbe       bool
	UseNewRTO                        bool
	ConservativeHandshakeRetransmits bool
	PTOEnabled                       bool
	MaxAckDelay                      quictime.Duration
	IncludeMaxAckDelayInPTO          bool
	MaxProbePacketsPerPTO            int
	PTOExponentialBackoffStartPoint  int
	FirstPTOSRTTMultiplier           float64 // Open Question 1, DESIGN.md; 0 == off.
	InitialWindowPackets             int
	MaxTCPMSS                        quictime.ByteCount
	LossDetectionTuning              LossDetectionTuning
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxTailLossProbes:               maxTailLossProbesDefault,
		PTOEnabled:                      true,
		MaxAckDelay:                     quictime.Milliseconds(25),
		IncludeMaxAckDelayInPTO:         true,
		MaxProbePacketsPerPTO:           maxProbePacketsPerPTODefault,
		PTOExponentialBackoffStartPoint: ptoExponentialBackoffStartPointDefault,
		InitialWindowPackets:            defaultInitialWindowPackets,
		MaxTCPMSS:                       defaultTCPMSS,
		LossDetectionTuning:             DefaultLossDetectionTuning(),
	}
}

// SentPacketManager owns the unacked map, bandwidth sampler, congestion
// controller (via the pacing sender) and loss detector for one packet-number
// space, and runs the retransmission-timer state machine, spec.md §4.F.
//
// Grounded on quic_sent_packet_manager.cc; one SentPacketManager per
// connection covers all three packet-number spaces the way QUICHE does
// (separate UnackedPacketMap/LossDetection per space, shared RTT/congestion
// state), selected via the spaces field.
type SentPacketManager struct {
	config Config

	spaces [quictime.NumSpaces]*UnackedPacketMap
	losses [quictime.NumSpaces]*LossDetection

	rtt     *RttStats
	sampler *BandwidthSampler
	sender  *CubicSender
	pacer   *PacingSender

	handshakeConfirmed bool
	peerMaxAckDelay    quictime.Duration

	consecutiveCryptoRTX int
	consecutiveTLP       int
	consecutiveRTO       int
	consecutivePTO       int
	firstRTOTransmission quictime.PacketNumber

	metrics Metrics
}

// Metrics is the optional, nil-safe telemetry sink SPEC_FULL.md §4.F wires
// to quicmetrics.Collector.
type Metrics interface {
	ObserveCongestionWindow(bytes quictime.ByteCount)
	ObserveBytesInFlight(bytes quictime.ByteCount)
	ObserveSmoothedRTT(d quictime.Duration)
	ObserveConsecutivePTO(n int)
}

// NewSentPacketManager creates a manager with a fresh Cubic controller and
// one UnackedPacketMap/LossDetection pair per packet-number space.
func NewSentPacketManager(config Config, notifier SessionNotifier, metrics Metrics) *SentPacketManager {
	rtt := NewRttStats(0)
	m := &SentPacketManager{
		config:               config,
		rtt:                  rtt,
		sampler:              NewBandwidthSampler(),
		sender:                NewCubicSender(rtt, config.InitialWindowPackets, config.MaxTCPMSS),
		peerMaxAckDelay:       config.MaxAckDelay,
		firstRTOTransmission:  quictime.UninitializedPacketNumber,
		metrics:               metrics,
	}
	m.pacer = NewPacingSender(m.sender)
	for s := quictime.Space(0); s < quictime.NumSpaces; s++ {
		m.spaces[s] = NewUnackedPacketMap(s, notifier)
		m.losses[s] = NewLossDetectionWithTuning(config.LossDetectionTuning)
	}
	return m
}

// Unacked returns the UnackedPacketMap for the given packet-number space.
func (m *SentPacketManager) Unacked(space quictime.Space) *UnackedPacketMap { return m.spaces[space] }

// RttStats exposes the shared RTT estimator.
func (m *SentPacketManager) RttStats() *RttStats { return m.rtt }

// SendAlgorithm exposes the wrapped congestion controller.
func (m *SentPacketManager) SendAlgorithm() *CubicSender { return m.sender }

// Pacer exposes the pacing sender wrapping the congestion controller.
func (m *SentPacketManager) Pacer() *PacingSender { return m.pacer }

// SetHandshakeConfirmed disables ModeHandshake selection once the
// handshake completes.
func (m *SentPacketManager) SetHandshakeConfirmed() { m.handshakeConfirmed = true }

// bytesInFlight sums bytes in flight across all three spaces.
func (m *SentPacketManager) bytesInFlight() quictime.ByteCount {
	var total quictime.ByteCount
	for _, u := range m.spaces {
		total += u.BytesInFlight()
	}
	return total
}

// hasInFlightPackets reports whether any space has outstanding data.
func (m *SentPacketManager) hasInFlightPackets() bool {
	for _, u := range m.spaces {
		if u.HasInFlightPackets() {
			return true
		}
	}
	return false
}

// OnPacketSent registers a newly sent packet with the unacked map, pacer,
// congestion controller and bandwidth sampler in one step.
func (m *SentPacketManager) OnPacketSent(space quictime.Space, pn quictime.PacketNumber, info TransmissionInfo, sentTime quictime.Time, inFlight bool) {
	m.spaces[space].AddSent(pn, info, inFlight)
	if inFlight {
		bytesInFlight := m.bytesInFlight() - info.BytesSent
		m.pacer.OnPacketSent(sentTime, bytesInFlight, pn, info.BytesSent, info.HasRetransmittableData())
		m.sampler.OnPacketSent(pn, sentTime, info.BytesSent, bytesInFlight)
	}
	m.publishMetrics()
}

// OnApplicationLimited notifies the pacer, controller and sampler that the
// application has run out of data to send.
func (m *SentPacketManager) OnApplicationLimited(space quictime.Space) {
	m.pacer.OnApplicationLimited()
	m.sender.OnApplicationLimited()
	largest := m.spaces[space].LargestSent()
	m.sampler.OnApplicationLimited(largest)
}

// AckFrameEnd is the spec.md §4.F on_ack_frame_end pipeline: look up each
// newly-acked packet, maybe update RTT from the largest newly acked one, run
// loss detection, fold the congestion event into the controller, reset or
// expire the exponential-backoff counters, then remove obsolete entries.
func (m *SentPacketManager) AckFrameEnd(space quictime.Space, ackedRanges []AckRange, largestAcked quictime.PacketNumber, ackDelay quictime.Duration, receiveTime quictime.Time) (newDataAcked bool, results []AckResult) {
	unacked := m.spaces[space]
	priorInFlight := m.bytesInFlight()

	var acked []AckedPacket
	rttUpdated := false

	for _, r := range ackedRanges {
		for pn := r.Start; pn <= r.End; pn++ {
			info := unacked.Get(pn)
			if info == nil {
				continue
			}
			wasOutstanding := info.State == Outstanding
			bytes := info.BytesSent
			sentTime := info.SentTime
			nd, res := unacked.AckPacket(pn, receiveTime, ackDelay)
			if nd {
				newDataAcked = true
			}
			if res != AckOK {
				results = append(results, res)
				continue
			}
			if !wasOutstanding {
				continue
			}
			if pn == largestAcked && sentTime.Sub(quictime.Zero()) >= 0 && !rttUpdated && sentTime.Before(receiveTime.Add(1)) {
				m.maybeUpdateRTT(sentTime, receiveTime, ackDelay)
				rttUpdated = true
			}
			acked = append(acked, AckedPacket{PacketNumber: pn, BytesAcked: bytes, ReceiveTime: receiveTime})
			if s, ok := m.sampler.OnPacketAcked(pn, receiveTime); ok {
				_ = s
			}
		}
	}

	lost := m.losses[space].DetectLosses(unacked, receiveTime, m.rtt, largestAcked)
	var lostPackets []LostPacket
	for _, pn := range lost {
		info := unacked.MarkLost(pn)
		if info == nil {
			continue
		}
		m.sampler.OnPacketLost(pn, info.BytesSent)
		unacked.NotifyFramesLost(pn)
		// A lost MTU discovery probe is not a congestion signal (RFC 8899
		// §3): it carries no retransmittable data and its disappearance
		// tells us only that the probed size exceeded the path MTU.
		if info.TransmissionType == ProbeTransmission {
			continue
		}
		lostPackets = append(lostPackets, LostPacket{PacketNumber: pn, BytesLost: info.BytesSent})
	}

	if len(acked) > 0 || len(lostPackets) > 0 {
		m.sender.OnCongestionEvent(priorInFlight, receiveTime, acked, lostPackets)
		if len(lostPackets) > 0 {
			m.pacer.OnLossEvent()
		}
	}

	if rttUpdated && largestAcked > 0 {
		if m.firstRTOTransmission == quictime.UninitializedPacketNumber || largestAcked >= m.firstRTOTransmission {
			m.consecutiveCryptoRTX = 0
			m.consecutiveTLP = 0
			m.consecutiveRTO = 0
			m.consecutivePTO = 0
			m.firstRTOTransmission = quictime.UninitializedPacketNumber
		} else {
			// Only packets sent before the first RTO retransmission were
			// acked: keep the backoff and expire the smoothed metrics.
			r := m.rtt
			diff := r.smoothedRTT - r.latestRTT
			if diff < 0 {
				diff = -diff
			}
			if diff > r.meanDeviation {
				r.meanDeviation = diff
			}
			if r.latestRTT > r.smoothedRTT {
				r.smoothedRTT = r.latestRTT
			}
		}
	}

	unacked.RemoveObsolete()
	m.publishMetrics()
	return newDataAcked, results
}

// AckRange is an inclusive [Start, End] packet-number interval, the unit
// ACK frames describe ranges in.
type AckRange struct {
	Start quictime.PacketNumber
	End   quictime.PacketNumber
}

// maybeUpdateRTT folds a qualifying ack into the shared RTT estimator,
// spec.md §4.F step 2.
func (m *SentPacketManager) maybeUpdateRTT(sentTime, receiveTime quictime.Time, ackDelay quictime.Duration) {
	sendDelta := receiveTime.Sub(sentTime)
	if sendDelta <= 0 {
		return
	}
	m.rtt.UpdateRtt(sendDelta, ackDelay)
}

// GetRetransmissionMode implements spec.md §4.F's leaves-first mode
// selection.
func (m *SentPacketManager) GetRetransmissionMode() RetransmissionTimerMode {
	if !m.handshakeConfirmed && m.anyPendingCrypto() {
		return ModeHandshake
	}
	for _, l := range m.losses {
		if !l.GetLossTimeout().IsZero() {
			return ModeLoss
		}
	}
	if m.config.PTOEnabled {
		return ModePTO
	}
	if m.consecutiveTLP < m.maxTailLossProbes() && m.hasUnackedRetransmittableData() {
		return ModeTLP
	}
	return ModeRTO
}

func (m *SentPacketManager) anyPendingCrypto() bool {
	for _, u := range m.spaces {
		if u.PendingCryptoPacketCount() > 0 {
			return true
		}
	}
	return false
}

func (m *SentPacketManager) hasUnackedRetransmittableData() bool {
	for _, u := range m.spaces {
		found := false
		u.ForEachOutstanding(func(pn quictime.PacketNumber, info *TransmissionInfo) bool {
			if info.HasRetransmittableData() {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

func (m *SentPacketManager) maxTailLossProbes() int {
	if m.config.MaxTailLossProbes > 0 {
		return m.config.MaxTailLossProbes
	}
	return maxTailLossProbesDefault
}

// GetRetransmissionDelay returns the timer delay for the currently selected
// mode, spec.md §4.F "Timer values".
func (m *SentPacketManager) GetRetransmissionDelay() quictime.Duration {
	switch m.GetRetransmissionMode() {
	case ModeHandshake:
		return m.handshakeTimeout()
	case ModeLoss:
		for _, l := range m.losses {
			if !l.GetLossTimeout().IsZero() {
				return quictime.ZeroDuration // loss timeout is an absolute Time, caller uses GetLossTimeout directly
			}
		}
		return quictime.ZeroDuration
	case ModeTLP:
		return m.tlpDelay()
	case ModePTO:
		return m.ptoDelay()
	default:
		return m.rtoDelay()
	}
}

func (m *SentPacketManager) handshakeTimeout() quictime.Duration {
	srtt := m.rtt.SmoothedOrInitialRtt()
	delay := quictime.Duration(float64(srtt) * 1.5)
	if delay < quictime.Milliseconds(minHandshakeTimeoutMs) {
		delay = quictime.Milliseconds(minHandshakeTimeoutMs)
	}
	if m.config.ConservativeHandshakeRetransmits {
		twoSRTT := 2 * srtt
		if twoSRTT > delay {
			delay = twoSRTT
		}
		if m.peerMaxAckDelay > delay {
			delay = m.peerMaxAckDelay
		}
	}
	shift := m.consecutiveCryptoRTX
	if shift > 32 {
		shift = 32
	}
	return delay << uint(shift)
}

func (m *SentPacketManager) tlpDelay() quictime.Duration {
	srtt := m.rtt.SmoothedOrInitialRtt()
	delay := 2 * srtt
	if m.config.EnableHalfRTTTailLossProbe && m.consecutiveTLP == 0 && m.hasUnackedRetransmittableData() {
		delay = delay / 2
	}
	min := quictime.Milliseconds(minTLPTimeoutMs)
	if delay < min {
		delay = min
	}
	return delay
}

func (m *SentPacketManager) rtoDelay() quictime.Duration {
	srtt := m.rtt.SmoothedOrInitialRtt()
	delay := srtt + 4*m.rtt.MeanDeviation()
	min := quictime.Milliseconds(minRTOTimeoutMs)
	if delay < min {
		delay = min
	}
	shift := m.consecutiveRTO
	if shift > 32 {
		shift = 32
	}
	delay <<= uint(shift)
	max := quictime.Milliseconds(maxRetransmissionTimeMs)
	if delay > max {
		delay = max
	}
	return delay
}

func (m *SentPacketManager) ptoDelay() quictime.Duration {
	srtt := m.rtt.SmoothedOrInitialRtt()
	k := 4.0
	if m.config.FirstPTOSRTTMultiplier > 0 && m.consecutivePTO == 0 {
		k = m.config.FirstPTOSRTTMultiplier
	}
	variancePart := quictime.Duration(k * float64(m.rtt.MeanDeviation()))
	if variancePart < alarmGranularity {
		variancePart = alarmGranularity
	}
	delay := srtt + variancePart
	if m.config.IncludeMaxAckDelayInPTO {
		delay += m.peerMaxAckDelay
	}
	start := m.config.PTOExponentialBackoffStartPoint
	if start <= 0 {
		start = ptoExponentialBackoffStartPointDefault
	}
	if m.consecutivePTO >= start {
		shift := m.consecutivePTO - start + 1
		if shift > 32 {
			shift = 32
		}
		delay <<= uint(shift)
	}
	return delay
}

// OnRetransmissionTimeout advances the consecutive counters and returns the
// packet numbers to retransmit for the currently selected mode, spec.md
// §4.F "On PTO fire" / "On RTO fire".
func (m *SentPacketManager) OnRetransmissionTimeout(space quictime.Space) (mode RetransmissionTimerMode, toRetransmit []quictime.PacketNumber) {
	mode = m.GetRetransmissionMode()
	unacked := m.spaces[space]

	switch mode {
	case ModeHandshake:
		m.consecutiveCryptoRTX++
		unacked.ForEachOutstanding(func(pn quictime.PacketNumber, info *TransmissionInfo) bool {
			if info.HasCryptoHandshake {
				toRetransmit = append(toRetransmit, pn)
			}
			return true
		})
	case ModeTLP:
		m.consecutiveTLP++
		if pn, ok := m.oldestOutstanding(space); ok {
			toRetransmit = append(toRetransmit, pn)
		}
	case ModeRTO:
		m.consecutiveRTO++
		if m.firstRTOTransmission == quictime.UninitializedPacketNumber {
			m.firstRTOTransmission = unacked.LargestSent() + 1
		}
		n := 0
		unacked.ForEachOutstanding(func(pn quictime.PacketNumber, info *TransmissionInfo) bool {
			toRetransmit = append(toRetransmit, pn)
			n++
			return n < 2
		})
		if !m.config.UseNewRTO {
			// Legacy RTO additionally resets the congestion window to the
			// minimum, spec.md §6 use_new_rto (kNRTO) description.
			m.sender.congestionWindow = m.sender.minCongestionWindow
		}
	case ModePTO:
		m.consecutivePTO++
		max := m.config.MaxProbePacketsPerPTO
		if max <= 0 {
			max = maxProbePacketsPerPTODefault
		}
		n := 0
		unacked.ForEachOutstanding(func(pn quictime.PacketNumber, info *TransmissionInfo) bool {
			toRetransmit = append(toRetransmit, pn)
			n++
			return n < max
		})
	}
	m.publishMetrics()
	return mode, toRetransmit
}

func (m *SentPacketManager) oldestOutstanding(space quictime.Space) (quictime.PacketNumber, bool) {
	var found quictime.PacketNumber
	ok := false
	m.spaces[space].ForEachOutstanding(func(pn quictime.PacketNumber, info *TransmissionInfo) bool {
		found = pn
		ok = true
		return false
	})
	return found, ok
}

func (m *SentPacketManager) publishMetrics() {
	if m.metrics == nil {
		return
	}
	m.metrics.ObserveCongestionWindow(m.sender.GetCongestionWindow())
	m.metrics.ObserveBytesInFlight(m.bytesInFlight())
	m.metrics.ObserveSmoothedRTT(m.rtt.SmoothedRtt())
	m.metrics.ObserveConsecutivePTO(m.consecutivePTO)
}

// ConsecutivePTOCount returns the current consecutive-PTO counter.
func (m *SentPacketManager) ConsecutivePTOCount() int { return m.consecutivePTO }
