package transport

import "github.com/xtls/xquic/quicerr"

// GoAwayDirection distinguishes the two independent GOAWAY monotonicity
// checks a session runs: one for IDs it sends, one for IDs it receives from
// the peer, SPEC_FULL.md §9 "GOAWAY bidirectional monotonicity" (spec.md §8
// scenario 6).
type GoAwayDirection uint8

const (
	GoAwaySent GoAwayDirection = iota
	GoAwayReceived
)

// GoAwayTracker enforces RFC 9114 §5.2's GOAWAY monotonicity requirement in
// both directions: a sender must never increase the ID it advertises
// (each GOAWAY can only narrow the set of streams/pushes the peer may still
// have in flight), and a receiver must never observe the peer's advertised
// ID increase either.
//
// Grounded on original_source's quic_session.cc OnGoAway-equivalent
// bookkeeping (not a single dedicated file; the monotonicity invariant is
// spec.md §9's own Open Question, resolved here per
// Config.GoAwayUsesMaxStreamID).
type GoAwayTracker struct {
	usesMaxStreamID bool

	sent       uint64
	haveSent   bool
	received   uint64
	haveReceived bool
}

// NewGoAwayTracker creates a tracker using the bound semantics cfg selects.
func NewGoAwayTracker(cfg Config) *GoAwayTracker {
	return &GoAwayTracker{usesMaxStreamID: cfg.GoAwayUsesMaxStreamID}
}

// OnSend validates and records a GOAWAY this endpoint is about to send,
// carrying id (a stream ID or push ID depending on which endpoint sends
// it, RFC 9114 §5.2). Returns an error if id would violate monotonicity.
func (g *GoAwayTracker) OnSend(id uint64) error {
	if !g.haveSent {
		g.sent, g.haveSent = id, true
		return nil
	}
	if violatesMonotonicity(g.usesMaxStreamID, g.sent, id) {
		return quicerr.CloseH3(quicerr.H3IDError, "GOAWAY id is not monotonic with a previously sent GOAWAY")
	}
	g.sent = id
	return nil
}

// OnReceive validates and records a GOAWAY received from the peer. Returns
// an error if id would violate monotonicity — the connection must be
// closed with H3_ID_ERROR in that case, RFC 9114 §5.2.
func (g *GoAwayTracker) OnReceive(id uint64) error {
	if !g.haveReceived {
		g.received, g.haveReceived = id, true
		return nil
	}
	if violatesMonotonicity(g.usesMaxStreamID, g.received, id) {
		return quicerr.CloseH3(quicerr.H3IDError, "peer's GOAWAY id is not monotonic with its previous GOAWAY")
	}
	g.received = id
	return nil
}

// violatesMonotonicity reports whether newID moves the wrong way relative
// to prevID under the selected bound semantics: usesMaxStreamID requires
// non-decreasing IDs (the bound only ever grows to admit more streams),
// the RFC 9114 §5.2 default requires non-increasing IDs (each GOAWAY only
// narrows what the peer may still have outstanding).
func violatesMonotonicity(usesMaxStreamID bool, prevID, newID uint64) bool {
	if usesMaxStreamID {
		return newID < prevID
	}
	return newID > prevID
}
