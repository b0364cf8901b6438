package congestion

import "github.com/xtls/xquic/quictime"

// defaultPacketReorderingThreshold and defaultTimeReorderingFraction are RFC
// 9002 §6.1's reorder-threshold and time-threshold constants (kPacketThreshold,
// kTimeThreshold). No original_source loss-detector file survived the
// retrieval pack's filtering, so this detector follows RFC 9002 directly
// rather than a specific QUICHE source file; see DESIGN.md.
const (
	defaultPacketReorderingThreshold = 3
	defaultTimeReorderingFraction    = 9.0 / 8.0 // 1 + 1/8
)

// LossDetectionTuning exposes the adaptive loss-detection parameters
// original_source's quic_sent_packet_manager.cc selects per-connection
// (its ILD0-ILD4/RUNT/MAD0-MAD3 reloadable-flag families), SPEC_FULL.md §9.
// Rather than a flag table, these are plain fields on transport.Config.
type LossDetectionTuning struct {
	// ReorderingThreshold is the packet-number gap (kPacketThreshold)
	// after which a trailing unacked packet is declared lost outright.
	ReorderingThreshold quictime.PacketNumber
	// TimeThresholdMultiplier scales the RTT sample into a loss delay
	// (kTimeThreshold); 9/8 if zero.
	TimeThresholdMultiplier float64
	// AdaptiveTimeThreshold widens TimeThresholdMultiplier under
	// observed RTT variance instead of using a fixed multiplier,
	// mirroring the RTT-variance-adaptive ILD reloadable flags.
	AdaptiveTimeThreshold bool
}

// DefaultLossDetectionTuning returns RFC 9002 §6.1's fixed constants.
func DefaultLossDetectionTuning() LossDetectionTuning {
	return LossDetectionTuning{
		ReorderingThreshold:     defaultPacketReorderingThreshold,
		TimeThresholdMultiplier: defaultTimeReorderingFraction,
	}
}

// LossDetection runs the packet- and time-threshold loss detector over an
// UnackedPacketMap, spec.md §4.F.
type LossDetection struct {
	lossTimeout quictime.Time
	tuning      LossDetectionTuning
}

// NewLossDetection creates an idle detector using RFC 9002's fixed
// thresholds. Use NewLossDetectionWithTuning to select adaptive parameters.
func NewLossDetection() *LossDetection {
	return NewLossDetectionWithTuning(DefaultLossDetectionTuning())
}

// NewLossDetectionWithTuning creates an idle detector using the given
// tuning, SPEC_FULL.md §9.
func NewLossDetectionWithTuning(tuning LossDetectionTuning) *LossDetection {
	if tuning.ReorderingThreshold == 0 {
		tuning.ReorderingThreshold = defaultPacketReorderingThreshold
	}
	if tuning.TimeThresholdMultiplier == 0 {
		tuning.TimeThresholdMultiplier = defaultTimeReorderingFraction
	}
	return &LossDetection{tuning: tuning}
}

// GetLossTimeout returns the deadline at which a not-yet-declared-lost
// packet will become lost purely from time elapsing, or the zero Time if
// no such packet is outstanding.
func (d *LossDetection) GetLossTimeout() quictime.Time { return d.lossTimeout }

// DetectLosses walks every outstanding packet older than largestAcked and
// declares it lost if it trails by at least the tuning's
// ReorderingThreshold packet numbers, or if its loss deadline (sent_time + threshold*rtt) has
// passed; packets not yet lost but within the window instead set
// lossTimeout to the earliest such deadline. Returns the packet numbers
// declared lost.
func (d *LossDetection) DetectLosses(unacked *UnackedPacketMap, now quictime.Time, rtt *RttStats, largestAcked quictime.PacketNumber) []quictime.PacketNumber {
	d.lossTimeout = quictime.Time{}

	rttSample := rtt.LatestRtt()
	if rtt.SmoothedRtt() > rttSample {
		rttSample = rtt.SmoothedRtt()
	}
	if rttSample == 0 {
		rttSample = rtt.SmoothedOrInitialRtt()
	}
	multiplier := d.tuning.TimeThresholdMultiplier
	if d.tuning.AdaptiveTimeThreshold {
		if variance := rtt.MeanDeviation(); variance > 0 && rtt.SmoothedRtt() > 0 {
			if adaptive := 1 + 4*float64(variance)/float64(rtt.SmoothedRtt()); adaptive > multiplier {
				multiplier = adaptive
			}
		}
	}
	lossDelay := quictime.Duration(float64(rttSample) * multiplier)
	if lossDelay < quictime.Microseconds(1) {
		lossDelay = quictime.Microseconds(1)
	}

	var lost []quictime.PacketNumber
	var earliestTimeout quictime.Time

	unacked.ForEachOutstanding(func(pn quictime.PacketNumber, info *TransmissionInfo) bool {
		if pn > largestAcked {
			return true
		}
		if largestAcked-pn >= d.tuning.ReorderingThreshold {
			lost = append(lost, pn)
			return true
		}
		deadline := info.SentTime.Add(lossDelay)
		if !deadline.After(now) {
			lost = append(lost, pn)
			return true
		}
		if earliestTimeout.IsZero() || deadline.Before(earliestTimeout) {
			earliestTimeout = deadline
		}
		return true
	})

	d.lossTimeout = earliestTimeout
	return lost
}
