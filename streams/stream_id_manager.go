package streams

import "github.com/xtls/xquic/quicerr"

// idIncrement is how much consecutive stream IDs of the same
// (direction, initiator) quadrant differ by, RFC 9000 §2.1.
const idIncrement = 4

// Initiator distinguishes locally- from peer-initiated streams.
type Initiator uint8

const (
	LocallyInitiated Initiator = iota
	PeerInitiated
)

// Direction distinguishes bidirectional from unidirectional streams.
type Direction uint8

const (
	DirBidirectional Direction = iota
	DirUnidirectional
)

// firstStreamID returns the first stream ID for (dir, who), RFC 9000 §2.1's
// two-bit type field: bit 0 selects initiator, bit 1 selects direction.
func firstStreamID(dir Direction, who Initiator, isClient bool) uint64 {
	var id uint64
	clientInitiated := (who == LocallyInitiated) == isClient
	if !clientInitiated {
		id |= 0x1
	}
	if dir == DirUnidirectional {
		id |= 0x2
	}
	return id
}

// IDManagerHooks lets the manager tell the connection to emit frames.
type IDManagerHooks interface {
	SendStreamsBlocked(dir Direction, limit uint64)
	SendMaxStreams(dir Direction, limit uint64)
	CloseConnection(code quicerr.TransportCode, reason string)
	// OnCanCreateOutgoing is called once the peer raises outgoing_max_streams
	// past a limit we had previously been blocked on.
	OnCanCreateOutgoing(dir Direction)
}

// maxStreamCount is the largest stream-count limit RFC 9000 §4.6 allows
// (2^60). OnStreamsBlockedFrame rejects a STREAMS_BLOCKED limit above it;
// OnMaxStreamsFrame does not check it.
const maxStreamCount = uint64(1) << 60

// IDManager tracks the four (direction, initiator) quadrants' worth of
// stream-ID bookkeeping for one connection, spec.md §3/§4.J.
//
// Grounded on quic_stream_id_manager.cc, generalized here to own all four
// quadrants rather than QUICHE's one-manager-per-(direction) pair, since Go
// has no analogous "two sibling objects share private state" idiom to
// justify the split.
type IDManager struct {
	isClient bool
	hooks    IDManagerHooks

	quadrants [2][2]*quadrant // [Direction][Initiator]
}

type quadrant struct {
	dir Direction
	who Initiator

	outgoingMaxStreams   uint64
	outgoingStreamCount  uint64
	nextOutgoingStreamID uint64

	incomingActualMaxStreams      uint64
	incomingAdvertisedMaxStreams  uint64
	incomingStreamCount           uint64
	largestPeerCreatedStreamID    uint64
	largestPeerCreatedStreamIDSet bool
	availableStreams              map[uint64]struct{}
	maxStreamsWindowDivisor       uint64
}

// NewIDManager creates a manager for the given role with per-direction
// initial outgoing/incoming limits.
func NewIDManager(isClient bool, hooks IDManagerHooks, maxOutgoingBidi, maxIncomingBidi, maxOutgoingUni, maxIncomingUni uint64) *IDManager {
	m := &IDManager{isClient: isClient, hooks: hooks}
	m.quadrants[DirBidirectional][LocallyInitiated] = m.newQuadrant(DirBidirectional, LocallyInitiated, maxOutgoingBidi, 0)
	m.quadrants[DirBidirectional][PeerInitiated] = m.newQuadrant(DirBidirectional, PeerInitiated, 0, maxIncomingBidi)
	m.quadrants[DirUnidirectional][LocallyInitiated] = m.newQuadrant(DirUnidirectional, LocallyInitiated, maxOutgoingUni, 0)
	m.quadrants[DirUnidirectional][PeerInitiated] = m.newQuadrant(DirUnidirectional, PeerInitiated, 0, maxIncomingUni)
	return m
}

func (m *IDManager) newQuadrant(dir Direction, who Initiator, outgoingMax, incomingMax uint64) *quadrant {
	q := &quadrant{
		dir:                          dir,
		who:                          who,
		outgoingMaxStreams:           outgoingMax,
		incomingActualMaxStreams:     incomingMax,
		incomingAdvertisedMaxStreams: incomingMax,
		availableStreams:             make(map[uint64]struct{}),
		maxStreamsWindowDivisor:      10,
	}
	q.nextOutgoingStreamID = firstStreamID(dir, LocallyInitiated, m.isClient)
	return q
}

func (q *quadrant) windowSize() uint64 {
	w := q.incomingActualMaxStreams / q.maxStreamsWindowDivisor
	if w < 1 {
		w = 1
	}
	return w
}

// CanOpenOutgoing reports whether another locally-initiated stream of the
// given direction may be opened right now.
func (m *IDManager) CanOpenOutgoing(dir Direction) bool {
	q := m.quadrants[dir][LocallyInitiated]
	return q.outgoingStreamCount < q.outgoingMaxStreams
}

// OpenOutgoing allocates and returns the next locally-initiated stream ID
// for dir. If the outgoing limit is already reached, it sends
// STREAMS_BLOCKED and returns ok=false.
func (m *IDManager) OpenOutgoing(dir Direction) (id uint64, ok bool) {
	q := m.quadrants[dir][LocallyInitiated]
	if q.outgoingStreamCount >= q.outgoingMaxStreams {
		m.hooks.SendStreamsBlocked(dir, q.outgoingMaxStreams)
		return 0, false
	}
	id = q.nextOutgoingStreamID
	q.nextOutgoingStreamID += idIncrement
	q.outgoingStreamCount++
	return id, true
}

// OnMaxStreamsFrame processes a peer MAX_STREAMS(n) frame for dir, spec.md
// §4.J: the limit only grows, and if we were previously at the old limit
// the connection is notified that new outgoing streams are now possible.
func (m *IDManager) OnMaxStreamsFrame(dir Direction, n uint64) {
	q := m.quadrants[dir][LocallyInitiated]
	if n <= q.outgoingMaxStreams {
		return
	}
	wasBlocked := q.outgoingStreamCount >= q.outgoingMaxStreams
	q.outgoingMaxStreams = n
	if wasBlocked {
		m.hooks.OnCanCreateOutgoing(dir)
	}
}

// OnIncomingStreamID processes the arrival of a peer-initiated stream id:
// marks any skipped ids below it as available, enforces the advertised
// limit, and returns an error if it exceeds it, spec.md §4.J.
func (m *IDManager) OnIncomingStreamID(dir Direction, id uint64) error {
	q := m.quadrants[dir][PeerInitiated]

	if q.largestPeerCreatedStreamIDSet && id <= q.largestPeerCreatedStreamID {
		delete(q.availableStreams, id)
		return nil
	}

	first := firstStreamID(dir, PeerInitiated, m.isClient)
	streamIndex := (id - first) / idIncrement
	if streamIndex >= q.incomingAdvertisedMaxStreams {
		m.hooks.CloseConnection(quicerr.InvalidStreamID, "stream id exceeds advertised max streams")
		return quicerr.New("OnIncomingStreamID: INVALID_STREAM_ID").AtError()
	}

	if q.largestPeerCreatedStreamIDSet {
		for skipped := q.largestPeerCreatedStreamID + idIncrement; skipped < id; skipped += idIncrement {
			q.availableStreams[skipped] = struct{}{}
		}
	} else {
		for skipped := first; skipped < id; skipped += idIncrement {
			q.availableStreams[skipped] = struct{}{}
		}
	}
	q.largestPeerCreatedStreamID = id
	q.largestPeerCreatedStreamIDSet = true
	q.incomingStreamCount++
	return nil
}

// OnStreamClosed processes a locally-observed close of a peer-initiated
// incoming stream: grows the actual max (bounded by an implementation cap)
// and maybe emits MAX_STREAMS, spec.md §4.J.
func (m *IDManager) OnStreamClosed(dir Direction, implementationCap uint64) {
	q := m.quadrants[dir][PeerInitiated]
	if q.incomingActualMaxStreams < implementationCap {
		q.incomingActualMaxStreams++
	}
	m.maybeSendMaxStreams(dir)
}

func (m *IDManager) maybeSendMaxStreams(dir Direction) {
	q := m.quadrants[dir][PeerInitiated]
	if q.incomingActualMaxStreams-q.incomingAdvertisedMaxStreams > q.windowSize() {
		return
	}
	q.incomingAdvertisedMaxStreams = q.incomingActualMaxStreams
	m.hooks.SendMaxStreams(dir, q.incomingAdvertisedMaxStreams)
}

// OnStreamsBlockedFrame processes a peer STREAMS_BLOCKED(limit) frame: if
// limit is already satisfiable, unconditionally respond with MAX_STREAMS;
// if it is above our advertised limit, that is itself a protocol
// violation, spec.md §4.J.
func (m *IDManager) OnStreamsBlockedFrame(dir Direction, limit uint64) error {
	q := m.quadrants[dir][PeerInitiated]
	if limit > maxStreamCount {
		m.hooks.CloseConnection(quicerr.StreamLimitError, "STREAMS_BLOCKED value exceeds implementation limit")
		return quicerr.New("OnStreamsBlockedFrame: STREAM_LIMIT_ERROR").AtError()
	}
	if limit <= q.incomingAdvertisedMaxStreams {
		m.hooks.SendMaxStreams(dir, q.incomingAdvertisedMaxStreams)
		return nil
	}
	m.hooks.CloseConnection(quicerr.StreamsBlockedError, "peer reports blocked above our advertised limit")
	return quicerr.New("OnStreamsBlockedFrame: STREAMS_BLOCKED_ERROR").AtError()
}

// AvailableStreamCount returns how many skipped-but-not-yet-used incoming
// stream ids are currently available for dir.
func (m *IDManager) AvailableStreamCount(dir Direction) int {
	return len(m.quadrants[dir][PeerInitiated].availableStreams)
}

// OutgoingMaxStreams returns the current outgoing limit for dir.
func (m *IDManager) OutgoingMaxStreams(dir Direction) uint64 {
	return m.quadrants[dir][LocallyInitiated].outgoingMaxStreams
}

// IncomingAdvertisedMaxStreams returns the limit last advertised to the peer
// for dir.
func (m *IDManager) IncomingAdvertisedMaxStreams(dir Direction) uint64 {
	return m.quadrants[dir][PeerInitiated].incomingAdvertisedMaxStreams
}
