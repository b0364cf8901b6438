package congestion

import "github.com/xtls/xquic/quictime"

// SendTimeState is a snapshot of the sender's cumulative totals captured
// at send time, spec.md §3.
type SendTimeState struct {
	TotalBytesSent  quictime.ByteCount
	TotalBytesAcked quictime.ByteCount
	TotalBytesLost  quictime.ByteCount
	BytesInFlight   quictime.ByteCount
	IsAppLimited    bool
}

// BandwidthSample is the triple produced by the sampler on each ack,
// spec.md §3/§4.C.
type BandwidthSample struct {
	Bandwidth    quictime.Bandwidth
	RTT          quictime.Duration
	SendRate     quictime.Bandwidth
	SendState    SendTimeState
	IsAppLimited bool
}

// connectionStateOnSentPacket is what the sampler stores per in-flight
// packet, spec.md §3 ConnectionStateOnSentPacket.
type connectionStateOnSentPacket struct {
	sentTime  quictime.Time
	size      quictime.ByteCount
	sendState SendTimeState
}

// ackPoint is one candidate "a0" for the overestimate-avoidance rule:
// the sampler keeps a small FIFO of recent ack points and, for each new
// ack, picks the newest whose TotalBytesAcked does not exceed the current
// send_state's TotalBytesAcked (spec.md §4.C step 1).
type ackPoint struct {
	ackTime         quictime.Time
	totalBytesAcked quictime.ByteCount
	totalBytesSent  quictime.ByteCount
}

const maxAckPointHistory = 8

// BandwidthSampler tracks per-packet send state to reconstruct delivery
// rate samples on every ack, spec.md §4.C.
type BandwidthSampler struct {
	totalBytesSent  quictime.ByteCount
	totalBytesAcked quictime.ByteCount
	totalBytesLost  quictime.ByteCount

	totalBytesSentAtLastAckedPacket quictime.ByteCount
	lastAckedPacketSentTime         quictime.Time
	lastAckedPacketAckTime          quictime.Time

	connectionStateMap map[quictime.PacketNumber]*connectionStateOnSentPacket

	isAppLimited        bool
	endOfAppLimitedPhase quictime.PacketNumber

	ackPoints []ackPoint

	MaxAckHeight *MaxAckHeightTracker
}

// NewBandwidthSampler creates an empty sampler.
func NewBandwidthSampler() *BandwidthSampler {
	return &BandwidthSampler{
		connectionStateMap:   make(map[quictime.PacketNumber]*connectionStateOnSentPacket),
		endOfAppLimitedPhase: quictime.UninitializedPacketNumber,
		MaxAckHeight:         NewMaxAckHeightTracker(),
	}
}

// OnPacketSent records a newly sent, in-flight packet.
func (s *BandwidthSampler) OnPacketSent(pn quictime.PacketNumber, sentTime quictime.Time, size quictime.ByteCount, bytesInFlight quictime.ByteCount) {
	s.totalBytesSent += size
	if bytesInFlight == 0 {
		s.lastAckedPacketSentTime = sentTime
		s.lastAckedPacketAckTime = sentTime
		s.totalBytesSentAtLastAckedPacket = s.totalBytesSent
	}
	state := SendTimeState{
		TotalBytesSent:  s.totalBytesSent,
		TotalBytesAcked: s.totalBytesAcked,
		TotalBytesLost:  s.totalBytesLost,
		BytesInFlight:   bytesInFlight + size,
		IsAppLimited:    s.isAppLimited,
	}
	s.connectionStateMap[pn] = &connectionStateOnSentPacket{sentTime: sentTime, size: size, sendState: state}
}

// OnApplicationLimited marks the connection as app-limited from pn onward.
func (s *BandwidthSampler) OnApplicationLimited(lastSentPacket quictime.PacketNumber) {
	s.isAppLimited = true
	s.endOfAppLimitedPhase = lastSentPacket
}

// RemoveObsoletePacket forgets per-packet state for pn (neutered, or no
// longer relevant once it leaves the unacked map).
func (s *BandwidthSampler) RemoveObsoletePacket(pn quictime.PacketNumber) {
	delete(s.connectionStateMap, pn)
}

// OnPacketLost records a loss without producing a BandwidthSample
// (losses don't carry delivery-rate information, only ack time does).
func (s *BandwidthSampler) OnPacketLost(pn quictime.PacketNumber, bytesLost quictime.ByteCount) {
	s.totalBytesLost += bytesLost
	delete(s.connectionStateMap, pn)
}

// OnPacketAcked produces a BandwidthSample for pn, or ok=false if the
// packet's send-time state was not retained (already removed/neutered).
func (s *BandwidthSampler) OnPacketAcked(pn quictime.PacketNumber, ackTime quictime.Time) (sample BandwidthSample, ok bool) {
	sent, found := s.connectionStateMap[pn]
	if !found {
		return BandwidthSample{}, false
	}
	delete(s.connectionStateMap, pn)
	s.totalBytesAcked += sent.size

	sample = s.onPacketAckedInner(pn, sent, ackTime)

	s.lastAckedPacketSentTime = sent.sentTime
	s.lastAckedPacketAckTime = ackTime
	s.totalBytesSentAtLastAckedPacket = sent.sendState.TotalBytesSent

	// An app-limited phase ends once we ack a packet sent after it began.
	if s.isAppLimited && s.endOfAppLimitedPhase != quictime.UninitializedPacketNumber && pn > s.endOfAppLimitedPhase {
		s.isAppLimited = false
	}

	s.pushAckPoint(ackTime)
	return sample, true
}

func (s *BandwidthSampler) pushAckPoint(ackTime quictime.Time) {
	s.ackPoints = append(s.ackPoints, ackPoint{
		ackTime:         ackTime,
		totalBytesAcked: s.totalBytesAcked,
		totalBytesSent:  s.totalBytesSent,
	})
	if len(s.ackPoints) > maxAckPointHistory {
		s.ackPoints = s.ackPoints[len(s.ackPoints)-maxAckPointHistory:]
	}
}

// pickA0 implements spec.md §4.C step 1's overestimate-avoidance rule: of
// the retained ack-point candidates, pick the newest whose
// totalBytesAcked <= sendState.TotalBytesAcked.
func (s *BandwidthSampler) pickA0(sendState SendTimeState) (ackPoint, bool) {
	for i := len(s.ackPoints) - 1; i >= 0; i-- {
		if s.ackPoints[i].totalBytesAcked <= sendState.TotalBytesAcked {
			return s.ackPoints[i], true
		}
	}
	if s.lastAckedPacketAckTime.IsZero() && s.totalBytesSentAtLastAckedPacket == 0 {
		return ackPoint{}, false
	}
	return ackPoint{
		ackTime:         s.lastAckedPacketAckTime,
		totalBytesAcked: 0,
		totalBytesSent:  s.totalBytesSentAtLastAckedPacket,
	}, true
}

func (s *BandwidthSampler) onPacketAckedInner(pn quictime.PacketNumber, sent *connectionStateOnSentPacket, ackTime quictime.Time) BandwidthSample {
	sendState := sent.sendState

	var ackRate quictime.Bandwidth
	if a0, ok := s.pickA0(sendState); ok && ackTime.After(a0.ackTime) {
		ackRate = quictime.BandwidthFromBytesAndTimeDelta(s.totalBytesAcked-a0.totalBytesAcked, ackTime.Sub(a0.ackTime))
	} else {
		ackRate = quictime.InfiniteBandwidth
	}

	var sendRate quictime.Bandwidth
	if sent.sentTime.After(s.lastAckedPacketSentTime) {
		sendRate = quictime.BandwidthFromBytesAndTimeDelta(
			sendState.TotalBytesSent-s.totalBytesSentAtLastAckedPacket,
			sent.sentTime.Sub(s.lastAckedPacketSentTime))
	} else {
		sendRate = quictime.InfiniteBandwidth
	}

	bw := ackRate
	if sendRate < bw {
		bw = sendRate
	}

	return BandwidthSample{
		Bandwidth:    bw,
		RTT:          ackTime.Sub(sent.sentTime),
		SendRate:     sendRate,
		SendState:    sendState,
		IsAppLimited: sendState.IsAppLimited,
	}
}

// IsAppLimited reports whether the sampler currently believes the
// connection is app-limited.
func (s *BandwidthSampler) IsAppLimited() bool { return s.isAppLimited }

// TotalBytesAcked returns the cumulative acked byte count.
func (s *BandwidthSampler) TotalBytesAcked() quictime.ByteCount { return s.totalBytesAcked }

// TotalBytesLost returns the cumulative lost byte count.
func (s *BandwidthSampler) TotalBytesLost() quictime.ByteCount { return s.totalBytesLost }

// TotalBytesSent returns the cumulative sent byte count.
func (s *BandwidthSampler) TotalBytesSent() quictime.ByteCount { return s.totalBytesSent }
