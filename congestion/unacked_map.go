package congestion

import (
	"github.com/xtls/xquic/quicerr"
	"github.com/xtls/xquic/quictime"
)

// AckResult enumerates the non-fatal failure modes of acking a packet,
// spec.md §4.B "Failure".
type AckResult int

const (
	AckOK AckResult = iota
	AckUnackablePacketsAcked
	AckUnsentPacketsAcked
	AckPacketsAckedInWrongSpace
)

// SessionNotifier receives frame-level ack/loss notifications so the
// stream layer can update its send buffers. It is the Go analogue of
// QUICHE's SessionNotifierInterface (spec.md §9 redesign note: collapsed
// to a minimal method set instead of one virtual per frame type).
type SessionNotifier interface {
	// OnFrameAcked reports one retransmittable frame acknowledged; returns
	// true if this acknowledgement newly retired data (i.e. was not a
	// duplicate of an earlier ack).
	OnFrameAcked(frame StreamFrameRef, ackDelay quictime.Duration) bool
	// OnFrameLost reports one retransmittable frame lost; the session
	// decides per-frame whether and how to retransmit.
	OnFrameLost(frame StreamFrameRef)
}

// AckedPacket is a per-ack congestion event record, spec.md §3.
type AckedPacket struct {
	PacketNumber quictime.PacketNumber
	BytesAcked   quictime.ByteCount
	ReceiveTime  quictime.Time
}

// LostPacket is a per-loss congestion event record, spec.md §3.
type LostPacket struct {
	PacketNumber  quictime.PacketNumber
	BytesLost     quictime.ByteCount
	SpuriousLoss  bool
}

// UnackedPacketMap is a dense deque of TransmissionInfo indexed by
// packet_number - leastUnacked, spec.md §3/§4.B.
type UnackedPacketMap struct {
	space quictime.Space

	// entries[i] describes packet number leastUnacked+i.
	entries      []TransmissionInfo
	leastUnacked quictime.PacketNumber

	largestSent           quictime.PacketNumber
	largestSentRetransmittable quictime.PacketNumber
	largestAcked          quictime.PacketNumber

	bytesInFlight            quictime.ByteCount
	pendingCryptoPacketCount int

	notifier SessionNotifier
}

// NewUnackedPacketMap creates an empty map for one packet-number space.
func NewUnackedPacketMap(space quictime.Space, notifier SessionNotifier) *UnackedPacketMap {
	return &UnackedPacketMap{
		space:                      space,
		leastUnacked:               0,
		largestSent:                quictime.UninitializedPacketNumber,
		largestSentRetransmittable: quictime.UninitializedPacketNumber,
		largestAcked:               quictime.UninitializedPacketNumber,
		notifier:                   notifier,
	}
}

func (m *UnackedPacketMap) index(pn quictime.PacketNumber) int {
	return int(pn - m.leastUnacked)
}

// AddSent registers a newly sent packet. Asserts packetNumber >
// largestSent (spec.md §8 boundary behaviour); fills any gap with
// NEVER_SENT stubs for skipped packet numbers.
func (m *UnackedPacketMap) AddSent(pn quictime.PacketNumber, info TransmissionInfo, inFlight bool) {
	if m.largestSent != quictime.UninitializedPacketNumber && pn <= m.largestSent {
		panic(quicerr.New("AddSent: packet number ", int64(pn), " <= largest sent ", int64(m.largestSent)))
	}
	if len(m.entries) == 0 {
		m.leastUnacked = pn
	}
	for m.leastUnacked+quictime.PacketNumber(len(m.entries)) < pn {
		m.entries = append(m.entries, TransmissionInfo{State: NeverSent})
	}
	info.InFlight = inFlight
	info.State = Outstanding
	m.entries = append(m.entries, info)
	m.largestSent = pn
	if inFlight {
		m.bytesInFlight += info.BytesSent
	}
	if info.HasRetransmittableData() {
		m.largestSentRetransmittable = pn
	}
	if info.HasCryptoHandshake {
		m.pendingCryptoPacketCount++
	}
}

// Get returns the entry for pn, or nil if it is not stored (already
// removed as obsolete, or never sent).
func (m *UnackedPacketMap) Get(pn quictime.PacketNumber) *TransmissionInfo {
	i := m.index(pn)
	if i < 0 || i >= len(m.entries) {
		return nil
	}
	return &m.entries[i]
}

// LargestSent returns the largest packet number ever added.
func (m *UnackedPacketMap) LargestSent() quictime.PacketNumber { return m.largestSent }

// LargestAcked returns the largest packet number ever acknowledged.
func (m *UnackedPacketMap) LargestAcked() quictime.PacketNumber { return m.largestAcked }

// BytesInFlight returns the sum of BytesSent over in-flight entries.
func (m *UnackedPacketMap) BytesInFlight() quictime.ByteCount { return m.bytesInFlight }

// HasInFlightPackets reports whether any packet is currently in flight.
func (m *UnackedPacketMap) HasInFlightPackets() bool { return m.bytesInFlight > 0 }

// PendingCryptoPacketCount returns the number of outstanding packets with
// HasCryptoHandshake still set.
func (m *UnackedPacketMap) PendingCryptoPacketCount() int { return m.pendingCryptoPacketCount }

// AckPacket transitions pn to Acked, updates bookkeeping and notifies
// frames. Returns the per-component AckResult describing any failure,
// per spec.md §4.B.
func (m *UnackedPacketMap) AckPacket(pn quictime.PacketNumber, receiveTime quictime.Time, ackDelay quictime.Duration) (newDataAcked bool, result AckResult) {
	info := m.Get(pn)
	if info == nil {
		// Could be already-removed obsolete packet: silent no-op per
		// spec.md §4.F "repeated ack of an obsolete packet is a silent
		// no-op", OR an unsent packet.
		if pn > m.largestSent {
			return false, AckUnsentPacketsAcked
		}
		return false, AckOK
	}
	switch info.State {
	case Unackable:
		return false, AckUnackablePacketsAcked
	case NeverSent:
		return false, AckUnsentPacketsAcked
	case Acked:
		return false, AckOK
	}
	if info.InFlight {
		m.bytesInFlight -= info.BytesSent
	}
	info.InFlight = false
	info.State = Acked
	info.ackedForRTT = true
	if pn > m.largestAcked {
		m.largestAcked = pn
	}
	if info.HasCryptoHandshake {
		m.pendingCryptoPacketCount--
	}
	if m.notifier != nil {
		for _, f := range info.RetransmittableData {
			if m.notifier.OnFrameAcked(f, ackDelay) {
				newDataAcked = true
			}
		}
	}
	return newDataAcked, AckOK
}

// NotifyFramesLost reports every frame carried by pn as lost, spec.md §4.B.
func (m *UnackedPacketMap) NotifyFramesLost(pn quictime.PacketNumber) {
	info := m.Get(pn)
	if info == nil {
		return
	}
	if m.notifier != nil {
		for _, f := range info.RetransmittableData {
			m.notifier.OnFrameLost(f)
		}
	}
}

// MarkLost transitions pn to Lost and removes it from bytes_in_flight.
func (m *UnackedPacketMap) MarkLost(pn quictime.PacketNumber) *TransmissionInfo {
	info := m.Get(pn)
	if info == nil || info.State != Outstanding {
		return info
	}
	if info.InFlight {
		m.bytesInFlight -= info.BytesSent
	}
	info.InFlight = false
	info.State = Lost
	return info
}

// isUseful implements remove_obsolete's notion of a packet still worth
// keeping: it can measure RTT, contribute to congestion control, or
// carries data not yet acknowledged (within one RTT of the largest
// acked packet known so far, approximated here by "still Outstanding").
func (m *UnackedPacketMap) isUseful(info *TransmissionInfo) bool {
	if info.State == NeverSent {
		return false
	}
	if info.InFlight {
		return true
	}
	if info.State == Outstanding && info.HasRetransmittableData() {
		return true
	}
	return false
}

// RemoveObsolete pops entries from the front of the deque while the head
// is not useful, spec.md §4.B.
func (m *UnackedPacketMap) RemoveObsolete() {
	for len(m.entries) > 0 && !m.isUseful(&m.entries[0]) {
		m.entries = m.entries[1:]
		m.leastUnacked++
	}
}

// NeuterUnencryptedPackets marks every in-flight packet below (and
// including) encryption level EncryptionInitial as Unackable and returns
// their packet numbers, so the pacing sender and bandwidth sampler can
// forget about them (spec.md §4.B).
func (m *UnackedPacketMap) NeuterUnencryptedPackets() []quictime.PacketNumber {
	return m.neuterLevel(EncryptionInitial)
}

// NeuterHandshakePackets marks every in-flight Handshake-level packet as
// Unackable, spec.md §4.B.
func (m *UnackedPacketMap) NeuterHandshakePackets() []quictime.PacketNumber {
	return m.neuterLevel(EncryptionHandshake)
}

func (m *UnackedPacketMap) neuterLevel(level EncryptionLevel) []quictime.PacketNumber {
	var neutered []quictime.PacketNumber
	for i := range m.entries {
		info := &m.entries[i]
		if info.EncryptionLevel != level {
			continue
		}
		if info.State != Outstanding {
			continue
		}
		if info.InFlight {
			m.bytesInFlight -= info.BytesSent
		}
		info.InFlight = false
		info.State = Unackable
		neutered = append(neutered, m.leastUnacked+quictime.PacketNumber(i))
	}
	return neutered
}

// ForEachOutstanding calls fn for every packet currently Outstanding, in
// ascending packet-number order, stopping early if fn returns false. Used
// by the sent-packet manager to find PTO/RTO probe candidates.
func (m *UnackedPacketMap) ForEachOutstanding(fn func(pn quictime.PacketNumber, info *TransmissionInfo) bool) {
	for i := range m.entries {
		if m.entries[i].State != Outstanding {
			continue
		}
		if !fn(m.leastUnacked+quictime.PacketNumber(i), &m.entries[i]) {
			return
		}
	}
}

// Space returns the packet-number space this map tracks.
func (m *UnackedPacketMap) Space() quictime.Space { return m.space }
