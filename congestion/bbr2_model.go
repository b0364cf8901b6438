package congestion

import "github.com/xtls/xquic/quictime"

// Bbr2Params collects the tunables bbr2_misc.cc reads off Bbr2Params in
// QUICHE. Defaults match the upstream constants, spec.md §4.D.2.
type Bbr2Params struct {
	Beta                 float64
	LossThreshold        float64
	FullBwThreshold      float64
	StartupFullBwRounds  int64
	MaxStartupQueueRounds int64
	InflightHiHeadroom   float64
	IgnoreInflightLo     bool
	QueueingThresholdExtraBytes quictime.ByteCount
	ProbeRttPeriod       quictime.Duration
	MaxAckHeightFilterWindow int64
}

// DefaultBbr2Params returns the upstream BBR2 defaults.
func DefaultBbr2Params() Bbr2Params {
	return Bbr2Params{
		Beta:                        0.7,
		LossThreshold:               0.02,
		FullBwThreshold:             1.25,
		StartupFullBwRounds:         3,
		MaxStartupQueueRounds:       2,
		InflightHiHeadroom:          0.01,
		QueueingThresholdExtraBytes: 2 * 1452, // ~2 max-sized packets
		ProbeRttPeriod:              quictime.Milliseconds(2000),
		MaxAckHeightFilterWindow:    10,
	}
}

// RoundTripCounter counts round trips by watching the largest sent packet
// number cross the last one that was outstanding at round start, grounded
// on bbr2_misc.cc's RoundTripCounter.
type RoundTripCounter struct {
	lastSentPacket  quictime.PacketNumber
	endOfRoundTrip  quictime.PacketNumber
	roundTripCount  int64
	lastSentSet     bool
	endOfRoundSet   bool
}

// NewRoundTripCounter creates a counter at round 0.
func NewRoundTripCounter() *RoundTripCounter {
	return &RoundTripCounter{}
}

// OnPacketSent records the newest packet as the round-trip watermark.
func (r *RoundTripCounter) OnPacketSent(pn quictime.PacketNumber) {
	r.lastSentPacket = pn
	r.lastSentSet = true
}

// OnPacketsAcked reports whether the largest acked packet number closes out
// the current round, bumping the round counter if so.
func (r *RoundTripCounter) OnPacketsAcked(lastAckedPacket quictime.PacketNumber) bool {
	if !r.endOfRoundSet || lastAckedPacket > r.endOfRoundTrip {
		r.roundTripCount++
		r.endOfRoundTrip = r.lastSentPacket
		r.endOfRoundSet = true
		return true
	}
	return false
}

// RestartRound re-marks the round-trip watermark at the most recently sent
// packet without bumping the counter.
func (r *RoundTripCounter) RestartRound() {
	r.endOfRoundTrip = r.lastSentPacket
	r.endOfRoundSet = true
}

// Count returns the current round-trip count.
func (r *RoundTripCounter) Count() int64 { return r.roundTripCount }

// MinRttFilter tracks the minimum observed RTT along with when it was last
// refreshed, grounded on bbr2_misc.cc's MinRttFilter.
type MinRttFilter struct {
	minRTT    quictime.Duration
	timestamp quictime.Time
}

// NewMinRttFilter seeds the filter with an initial estimate.
func NewMinRttFilter(initial quictime.Duration, now quictime.Time) *MinRttFilter {
	return &MinRttFilter{minRTT: initial, timestamp: now}
}

// Update folds in a new RTT sample if it is smaller than the current min,
// or if no real sample has ever been recorded.
func (f *MinRttFilter) Update(sample quictime.Duration, now quictime.Time) {
	if sample <= 0 {
		return
	}
	if sample < f.minRTT || f.timestamp.IsZero() {
		f.minRTT = sample
		f.timestamp = now
	}
}

// ForceUpdate unconditionally replaces the estimate, used when the
// min-RTT filter window has expired (PROBE_RTT).
func (f *MinRttFilter) ForceUpdate(sample quictime.Duration, now quictime.Time) {
	if sample <= 0 {
		return
	}
	f.minRTT = sample
	f.timestamp = now
}

// Get returns the current min-RTT estimate.
func (f *MinRttFilter) Get() quictime.Duration { return f.minRTT }

// Timestamp returns when the current estimate was last set.
func (f *MinRttFilter) Timestamp() quictime.Time { return f.timestamp }

// windowedMaxBandwidthFilter keeps the largest bandwidth sample seen in the
// last two round trips, matching BBR's WindowedFilter<QuicBandwidth, ...>
// instantiation for max_bandwidth_filter_.
type windowedMaxBandwidthFilter struct {
	windowLength int64
	samples      []struct {
		round int64
		value quictime.Bandwidth
	}
}

func newWindowedMaxBandwidthFilter(windowLength int64) *windowedMaxBandwidthFilter {
	return &windowedMaxBandwidthFilter{windowLength: windowLength}
}

func (w *windowedMaxBandwidthFilter) Update(value quictime.Bandwidth, round int64) {
	kept := w.samples[:0]
	for _, s := range w.samples {
		if s.round >= round-w.windowLength && s.value > value {
			kept = append(kept, s)
		}
	}
	kept = append(kept, struct {
		round int64
		value quictime.Bandwidth
	}{round, value})
	w.samples = kept
}

func (w *windowedMaxBandwidthFilter) Get() quictime.Bandwidth {
	var best quictime.Bandwidth
	for _, s := range w.samples {
		if s.value > best {
			best = s.value
		}
	}
	return best
}

// AckedPacketInfo is one packet acked in this congestion event, enough for
// the network model to pull its send-time state from the bandwidth sampler.
type AckedPacketInfo struct {
	PacketNumber quictime.PacketNumber
	AckTime      quictime.Time
}

// LostPacketInfo is one packet lost in this congestion event.
type LostPacketInfo struct {
	PacketNumber quictime.PacketNumber
	BytesLost    quictime.ByteCount
}

// CongestionEvent is the per-event scratch space bbr2_misc.cc threads
// through OnCongestionEventStart/AdaptLowerBounds/OnCongestionEventFinish.
type CongestionEvent struct {
	EventTime             quictime.Time
	PriorBytesInFlight    quictime.ByteCount
	PriorCwnd             quictime.ByteCount
	BytesAcked            quictime.ByteCount
	BytesLost             quictime.ByteCount
	BytesInFlight         quictime.ByteCount
	EndOfRoundTrip        bool
	SampleMaxBandwidth    quictime.Bandwidth
	SampleMinRTT          quictime.Duration
	SampleMaxInflight     quictime.ByteCount
	SampleIsAppLimited    bool
	LastPacketSendState   SendTimeState
	HasLastPacketSendState bool
	IsProbingForBandwidth bool
}

// Bbr2NetworkModel is the shared bandwidth/RTT/inflight bookkeeping that a
// BBR2 mode FSM (STARTUP/DRAIN/PROBE_BW/PROBE_RTT, out of scope here per
// spec.md §4.D.2) drives on every congestion event. Grounded on
// bbr2_misc.cc's Bbr2NetworkModel.
type Bbr2NetworkModel struct {
	params Bbr2Params

	sampler          *BandwidthSampler
	minRTTFilter     *MinRttFilter
	maxBandwidthFilter *windowedMaxBandwidthFilter
	roundTripCounter *RoundTripCounter

	cwndGain   float64
	pacingGain float64

	bandwidthLatest  quictime.Bandwidth
	inflightLatest   quictime.ByteCount

	bandwidthLo      quictime.Bandwidth
	priorBandwidthLo quictime.Bandwidth
	inflightLo       quictime.ByteCount
	inflightHi       quictime.ByteCount

	bytesLostInRound        quictime.ByteCount
	lossEventsInRound       int64
	maxBytesDeliveredInRound quictime.ByteCount
	minBytesInFlightInRound  quictime.ByteCount
	inflightHiLimitedInRound bool

	fullBandwidthBaseline        quictime.Bandwidth
	fullBandwidthReached         bool
	roundsWithoutBandwidthGrowth int64
	roundsWithQueueing           int64

	enableAppDrivenPacing      bool
	applicationBandwidthTarget quictime.Bandwidth
}

const inflightLoDefault = quictime.ByteCount(1<<63 - 1)

// NewBbr2NetworkModel creates a model seeded with an initial RTT estimate,
// the STARTUP gains, and an empty bandwidth/loss history.
func NewBbr2NetworkModel(params Bbr2Params, initialRTT quictime.Duration, initialRTTTimestamp quictime.Time, cwndGain, pacingGain float64) *Bbr2NetworkModel {
	return &Bbr2NetworkModel{
		params:                 params,
		sampler:                NewBandwidthSampler(),
		minRTTFilter:           NewMinRttFilter(initialRTT, initialRTTTimestamp),
		maxBandwidthFilter:     newWindowedMaxBandwidthFilter(2),
		roundTripCounter:       NewRoundTripCounter(),
		cwndGain:               cwndGain,
		pacingGain:             pacingGain,
		bandwidthLo:            quictime.InfiniteBandwidth,
		inflightLo:             inflightLoDefault,
		inflightHi:             inflightLoDefault,
		minBytesInFlightInRound: inflightLoDefault,
	}
}

// OnPacketSent folds a newly sent packet into the round-trip counter, the
// bandwidth sampler, and the per-round inflight-high tracking.
func (m *Bbr2NetworkModel) OnPacketSent(sentTime quictime.Time, bytesInFlight quictime.ByteCount, pn quictime.PacketNumber, bytes quictime.ByteCount, retransmittable bool) {
	if bytesInFlight < m.minBytesInFlightInRound {
		m.minBytesInFlightInRound = bytesInFlight
	}
	if bytesInFlight+bytes >= m.inflightHi {
		m.inflightHiLimitedInRound = true
	}
	m.roundTripCounter.OnPacketSent(pn)
	m.sampler.OnPacketSent(pn, sentTime, bytes, bytesInFlight)
}

// OnCongestionEventStart replays the acks and losses of one congestion
// event through the bandwidth sampler, updates the min-RTT and
// max-bandwidth filters, and adapts the lower bounds. It returns the
// populated CongestionEvent for the caller (a BBR2 mode FSM) to act on.
func (m *Bbr2NetworkModel) OnCongestionEventStart(eventTime quictime.Time, priorBytesInFlight, priorCwnd quictime.ByteCount, acked []AckedPacketInfo, lost []LostPacketInfo) *CongestionEvent {
	event := &CongestionEvent{
		EventTime:          eventTime,
		PriorBytesInFlight: priorBytesInFlight,
		PriorCwnd:          priorCwnd,
	}

	priorBytesAcked := m.sampler.TotalBytesAcked()
	priorBytesLost := m.sampler.TotalBytesLost()

	if len(acked) > 0 {
		event.EndOfRoundTrip = m.roundTripCounter.OnPacketsAcked(acked[len(acked)-1].PacketNumber)
	}

	var sampleMaxBandwidth quictime.Bandwidth
	var sampleMaxInflight quictime.ByteCount
	var sampleMinRTT quictime.Duration
	sawRTTSample := false
	var lastSendState SendTimeState
	haveLastSendState := false
	var extraAcked quictime.ByteCount

	for _, a := range acked {
		sample, ok := m.sampler.OnPacketAcked(a.PacketNumber, a.AckTime)
		if !ok {
			continue
		}
		if sample.Bandwidth > sampleMaxBandwidth {
			sampleMaxBandwidth = sample.Bandwidth
		}
		if sample.SendState.BytesInFlight > sampleMaxInflight {
			sampleMaxInflight = sample.SendState.BytesInFlight
		}
		if !sample.RTT.IsInfinite() && (!sawRTTSample || sample.RTT < sampleMinRTT) {
			sampleMinRTT = sample.RTT
			sawRTTSample = true
		}
		lastSendState = sample.SendState
		haveLastSendState = true
		event.SampleIsAppLimited = sample.IsAppLimited
	}
	for _, l := range lost {
		m.sampler.OnPacketLost(l.PacketNumber, l.BytesLost)
	}

	round := m.roundTripCounter.Count()
	extraAcked = m.sampler.MaxAckHeight.Update(m.MaxBandwidth(), false, round, m.roundTripCounter.lastSentPacket, eventTime, m.sampler.TotalBytesAcked()-priorBytesAcked)
	_ = extraAcked

	if haveLastSendState {
		event.LastPacketSendState = lastSendState
		event.HasLastPacketSendState = true
	}

	if m.sampler.TotalBytesAcked() != priorBytesAcked {
		event.SampleMaxBandwidth = sampleMaxBandwidth
		if !event.SampleIsAppLimited || sampleMaxBandwidth > m.MaxBandwidth() {
			m.maxBandwidthFilter.Update(sampleMaxBandwidth, round)
		}
	}

	if sawRTTSample {
		event.SampleMinRTT = sampleMinRTT
		m.minRTTFilter.Update(sampleMinRTT, eventTime)
	}

	event.BytesAcked = m.sampler.TotalBytesAcked() - priorBytesAcked
	event.BytesLost = m.sampler.TotalBytesLost() - priorBytesLost

	if priorBytesInFlight >= event.BytesAcked+event.BytesLost {
		event.BytesInFlight = priorBytesInFlight - event.BytesAcked - event.BytesLost
	}

	if event.BytesLost > 0 {
		m.bytesLostInRound += event.BytesLost
		m.lossEventsInRound++
	}

	if event.BytesAcked > 0 && haveLastSendState && m.sampler.TotalBytesAcked() > lastSendState.TotalBytesAcked {
		delivered := m.sampler.TotalBytesAcked() - lastSendState.TotalBytesAcked
		if delivered > m.maxBytesDeliveredInRound {
			m.maxBytesDeliveredInRound = delivered
		}
	}
	if event.BytesInFlight < m.minBytesInFlightInRound {
		m.minBytesInFlightInRound = event.BytesInFlight
	}

	if sampleMaxBandwidth > m.bandwidthLatest {
		m.bandwidthLatest = sampleMaxBandwidth
	}
	if sampleMaxInflight > m.inflightLatest {
		m.inflightLatest = sampleMaxInflight
	}

	m.adaptLowerBounds(event)

	if !event.EndOfRoundTrip {
		return event
	}
	if !sampleMaxBandwidth.IsZero() {
		m.bandwidthLatest = sampleMaxBandwidth
	}
	if sampleMaxInflight > 0 {
		m.inflightLatest = sampleMaxInflight
	}
	return event
}

// adaptLowerBounds implements the DEFAULT bw_lo_mode decay rule: on loss
// at the end of a round (and not while probing), bandwidth_lo and
// inflight_lo step down toward the latest observations by a factor of
// (1-beta), never below them, spec.md §4.D.2.
func (m *Bbr2NetworkModel) adaptLowerBounds(event *CongestionEvent) {
	if !event.EndOfRoundTrip || event.IsProbingForBandwidth {
		return
	}
	if m.bytesLostInRound == 0 {
		return
	}
	if m.bandwidthLo.IsInfinite() {
		m.bandwidthLo = m.MaxBandwidth()
	}
	candidate := m.bandwidthLo.Scale(1.0 - m.params.Beta)
	if m.bandwidthLatest > candidate {
		m.bandwidthLo = m.bandwidthLatest
	} else {
		m.bandwidthLo = candidate
	}
	if m.enableAppDrivenPacing && m.applicationBandwidthTarget < m.bandwidthLo {
		m.bandwidthLo = m.applicationBandwidthTarget
	}

	if m.params.IgnoreInflightLo {
		return
	}
	if m.inflightLo == inflightLoDefault {
		m.inflightLo = event.PriorCwnd
	}
	infCandidate := quictime.ByteCount(float64(m.inflightLo) * (1.0 - m.params.Beta))
	if m.inflightLatest > infCandidate {
		m.inflightLo = m.inflightLatest
	} else {
		m.inflightLo = infCandidate
	}
}

// OnCongestionEventFinish closes out the event: at end of round it resets
// the per-round counters, and always forgets per-packet state for packets
// that have left the unacked map.
func (m *Bbr2NetworkModel) OnCongestionEventFinish(leastUnacked quictime.PacketNumber, event *CongestionEvent) {
	if event.EndOfRoundTrip {
		m.onNewRound()
	}
	for pn := range m.sampler.connectionStateMap {
		if pn < leastUnacked {
			m.sampler.RemoveObsoletePacket(pn)
		}
	}
}

func (m *Bbr2NetworkModel) onNewRound() {
	m.bytesLostInRound = 0
	m.lossEventsInRound = 0
	m.maxBytesDeliveredInRound = 0
	m.minBytesInFlightInRound = inflightLoDefault
	m.inflightHiLimitedInRound = false
}

// RestartRoundEarly forces a new round boundary without waiting for the
// next ack to cross it, used when leaving PROBE_RTT.
func (m *Bbr2NetworkModel) RestartRoundEarly() {
	m.onNewRound()
	m.roundTripCounter.RestartRound()
	m.roundsWithQueueing = 0
}

// IsInflightTooHigh reports whether, over at least maxLossEvents loss
// events this round, the fraction of bytes lost against what was in
// flight at the time the probing packet was sent exceeds loss_threshold,
// spec.md §4.D.2.
func (m *Bbr2NetworkModel) IsInflightTooHigh(event *CongestionEvent, maxLossEvents int64) bool {
	if !event.HasLastPacketSendState {
		return false
	}
	if m.lossEventsInRound < maxLossEvents {
		return false
	}
	inflightAtSend := event.LastPacketSendState.BytesInFlight
	if inflightAtSend > 0 && m.bytesLostInRound > 0 {
		threshold := quictime.ByteCount(float64(inflightAtSend) * m.params.LossThreshold)
		if m.bytesLostInRound > threshold {
			return true
		}
	}
	return false
}

// HasBandwidthGrowth gates STARTUP exit: it tracks rounds since the last
// full_bw_threshold improvement in max bandwidth and latches
// full_bandwidth_reached once startup_full_bw_rounds elapse without
// growth (and the send state wasn't app-limited), spec.md §4.D.2.
func (m *Bbr2NetworkModel) HasBandwidthGrowth(event *CongestionEvent) bool {
	threshold := m.fullBandwidthBaseline.Scale(m.params.FullBwThreshold)
	if m.MaxBandwidth() >= threshold {
		m.fullBandwidthBaseline = m.MaxBandwidth()
		m.roundsWithoutBandwidthGrowth = 0
		return true
	}
	m.roundsWithoutBandwidthGrowth++
	if m.roundsWithoutBandwidthGrowth >= m.params.StartupFullBwRounds && !event.SampleIsAppLimited {
		m.fullBandwidthReached = true
	}
	return false
}

// CheckPersistentQueue is an additional STARTUP exit condition: if the
// minimum bytes-in-flight observed this round stays at or above
// max(target_gain*BDP, BDP+extra) for max_startup_queue_rounds, the link
// is judged persistently queued and full_bandwidth_reached latches,
// spec.md §4.D.2.
func (m *Bbr2NetworkModel) CheckPersistentQueue(targetGain float64) {
	bdp := m.BDP()
	target := quictime.ByteCount(targetGain * float64(bdp))
	if alt := bdp + m.params.QueueingThresholdExtraBytes; alt > target {
		target = alt
	}
	if m.minBytesInFlightInRound < target {
		m.roundsWithQueueing = 0
		return
	}
	m.roundsWithQueueing++
	if m.roundsWithQueueing >= m.params.MaxStartupQueueRounds {
		m.fullBandwidthReached = true
	}
}

// MaxBandwidth returns the windowed-max bandwidth filter's current value.
func (m *Bbr2NetworkModel) MaxBandwidth() quictime.Bandwidth { return m.maxBandwidthFilter.Get() }

// BandwidthEstimate returns the bandwidth used to drive pacing/cwnd:
// the lesser of the windowed max and bandwidth_lo.
func (m *Bbr2NetworkModel) BandwidthEstimate() quictime.Bandwidth {
	bw := m.MaxBandwidth()
	if m.bandwidthLo < bw {
		return m.bandwidthLo
	}
	return bw
}

// MinRtt returns the current min-RTT estimate.
func (m *Bbr2NetworkModel) MinRtt() quictime.Duration { return m.minRTTFilter.Get() }

// MinRttTimestamp returns when the current min-RTT estimate was set.
func (m *Bbr2NetworkModel) MinRttTimestamp() quictime.Time { return m.minRTTFilter.Timestamp() }

// BDP estimates the bandwidth-delay product at the current estimate.
func (m *Bbr2NetworkModel) BDP() quictime.ByteCount {
	return m.BandwidthEstimate().BytesPerPeriod(m.MinRtt())
}

// InflightHiWithHeadroom returns inflight_hi minus its configured
// headroom fraction, floored at zero.
func (m *Bbr2NetworkModel) InflightHiWithHeadroom() quictime.ByteCount {
	headroom := quictime.ByteCount(float64(m.inflightHi) * m.params.InflightHiHeadroom)
	if m.inflightHi > headroom {
		return m.inflightHi - headroom
	}
	return 0
}

// CapInflightLo lowers inflight_lo to cap if it is currently set and
// above it.
func (m *Bbr2NetworkModel) CapInflightLo(cap quictime.ByteCount) {
	if m.params.IgnoreInflightLo {
		return
	}
	if m.inflightLo != inflightLoDefault && m.inflightLo > cap {
		m.inflightLo = cap
	}
}

// MaybeExpireMinRtt forces the min-RTT estimate to refresh from the
// latest sample once probe_rtt_period has elapsed since it was last set.
func (m *Bbr2NetworkModel) MaybeExpireMinRtt(event *CongestionEvent) bool {
	if event.EventTime.Sub(m.minRTTFilter.Timestamp()) < m.params.ProbeRttPeriod {
		return false
	}
	if event.SampleMinRTT.IsInfinite() || event.SampleMinRTT == 0 {
		return false
	}
	m.minRTTFilter.ForceUpdate(event.SampleMinRTT, event.EventTime)
	return true
}

// FullBandwidthReached reports whether STARTUP has observed enough
// rounds without bandwidth growth (or a persistent queue) to exit.
func (m *Bbr2NetworkModel) FullBandwidthReached() bool { return m.fullBandwidthReached }

// LossEventsInRound returns the loss-event count accumulated this round.
func (m *Bbr2NetworkModel) LossEventsInRound() int64 { return m.lossEventsInRound }

// BytesLostInRound returns the bytes lost accumulated this round.
func (m *Bbr2NetworkModel) BytesLostInRound() quictime.ByteCount { return m.bytesLostInRound }

// RoundTripCount returns the current round-trip counter value.
func (m *Bbr2NetworkModel) RoundTripCount() int64 { return m.roundTripCounter.Count() }

// Sampler exposes the underlying bandwidth sampler, e.g. so callers can
// forget packets that have left the unacked map.
func (m *Bbr2NetworkModel) Sampler() *BandwidthSampler { return m.sampler }
