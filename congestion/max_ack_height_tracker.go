package congestion

import "github.com/xtls/xquic/quictime"

// ackAggregationBandwidthThreshold: an aggregation epoch starts when the
// arrival rate falls to <= this fraction of the expected bytes acked,
// spec.md §4.C.
const ackAggregationBandwidthThreshold = 1.0

// windowedMaxFilterSize bounds how many per-round-trip samples the
// windowed max filter over extra_acked retains.
const windowedMaxFilterSize = 10

// maxSample is one windowed-max-filter observation.
type maxSample struct {
	round int64
	value quictime.ByteCount
}

// MaxAckHeightTracker maintains a windowed filter of "extra_acked" bytes:
// how far actual acked bytes ran ahead of the bandwidth-implied expectation
// during a burst of acks, spec.md §4.C.
type MaxAckHeightTracker struct {
	numAckAggregationEpochs uint64

	aggregationEpochStartTime  quictime.Time
	aggregationEpochBytes      quictime.ByteCount
	lastSentPacketNumberBeforeEpoch quictime.PacketNumber

	samples []maxSample

	forceNewEpochAfterOneRTT bool
}

// NewMaxAckHeightTracker creates an empty tracker.
func NewMaxAckHeightTracker() *MaxAckHeightTracker {
	return &MaxAckHeightTracker{}
}

// SetForceNewEpochAfterOneRTT configures whether a new epoch is forced
// once per round, per spec.md §4.C final sentence.
func (t *MaxAckHeightTracker) SetForceNewEpochAfterOneRTT(v bool) { t.forceNewEpochAfterOneRTT = v }

// Update feeds one ack event into the tracker and returns the current
// best estimate of extra_acked for this epoch.
//
// bandwidthEstimate is the current delivery-rate estimate; bytesAcked is
// the number of bytes newly acked by this event (it is added to the
// epoch's running total); round is the current round-trip counter
// (monotonically non-decreasing); lastSentPacketNumber is the largest
// packet number sent so far, used to force a new epoch after one round
// when that option is set. isNewMaxBandwidth is not used.
func (t *MaxAckHeightTracker) Update(bandwidthEstimate quictime.Bandwidth, isNewMaxBandwidth bool, round int64, lastSentPacketNumber quictime.PacketNumber, ackTime quictime.Time, bytesAcked quictime.ByteCount) quictime.ByteCount {
	newEpoch := false
	if t.aggregationEpochStartTime.IsZero() {
		newEpoch = true
	} else {
		expectedBytesAcked := bandwidthEstimate.BytesPerPeriod(ackTime.Sub(t.aggregationEpochStartTime))
		if float64(t.aggregationEpochBytes) <= ackAggregationBandwidthThreshold*float64(expectedBytesAcked) {
			newEpoch = true
		} else if t.forceNewEpochAfterOneRTT && t.lastSentPacketNumberBeforeEpoch != quictime.UninitializedPacketNumber && lastSentPacketNumber > t.lastSentPacketNumberBeforeEpoch {
			newEpoch = true
		}
	}

	if newEpoch {
		t.aggregationEpochBytes = bytesAcked
		t.aggregationEpochStartTime = ackTime
		t.lastSentPacketNumberBeforeEpoch = lastSentPacketNumber
		t.numAckAggregationEpochs++
		return 0
	}

	t.aggregationEpochBytes += bytesAcked
	expectedBytesAcked := bandwidthEstimate.BytesPerPeriod(ackTime.Sub(t.aggregationEpochStartTime))
	extraAcked := t.aggregationEpochBytes - expectedBytesAcked
	if extraAcked < 0 {
		extraAcked = 0
	}
	t.pushSample(round, extraAcked)
	return t.Get()
}

func (t *MaxAckHeightTracker) pushSample(round int64, value quictime.ByteCount) {
	// Windowed max filter: drop samples from earlier rounds that this
	// sample dominates, keep at most windowedMaxFilterSize rounds.
	kept := t.samples[:0]
	for _, s := range t.samples {
		if s.round >= round-windowedMaxFilterSize && s.value > value {
			kept = append(kept, s)
		}
	}
	kept = append(kept, maxSample{round: round, value: value})
	t.samples = kept
}

// Get returns the current windowed-max extra_acked estimate.
func (t *MaxAckHeightTracker) Get() quictime.ByteCount {
	var best quictime.ByteCount
	for _, s := range t.samples {
		if s.value > best {
			best = s.value
		}
	}
	return best
}

// NumAckAggregationEpochs returns how many epochs have been observed.
func (t *MaxAckHeightTracker) NumAckAggregationEpochs() uint64 { return t.numAckAggregationEpochs }
