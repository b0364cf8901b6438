package streams

// Urgency is RFC 9218's extensible-priority urgency, 0 (highest) to 7
// (lowest), SPEC_FULL.md §9.
type Urgency uint8

const (
	MinUrgency Urgency = 0
	MaxUrgency Urgency = 7

	// DefaultUrgency is RFC 9218 §4's default for streams that never send
	// PRIORITY_UPDATE.
	DefaultUrgency Urgency = 3
)

// Priority bundles RFC 9218's two priority parameters.
type Priority struct {
	Urgency     Urgency
	Incremental bool
}

// DefaultPriority is applied to a stream until a PRIORITY_UPDATE changes it.
var DefaultPriority = Priority{Urgency: DefaultUrgency, Incremental: false}

// WriteScheduler orders write-blocked streams for servicing, grounded on
// quic_write_blocked_list.cc's per-priority FIFO buckets, generalized from
// QUICHE's legacy 0-7 "spdy priority" scheme to RFC 9218 urgency
// (SPEC_FULL.md §9). Buckets are chosen by urgency alone: the Incremental
// flag is stored and returned by Priority but does not change the order in
// which streams are popped.
type WriteScheduler struct {
	buckets    [MaxUrgency + 1]*bucket
	priorities map[uint64]Priority

	// staticStreamIDs are always scheduled ahead of every bucket, matching
	// QUICHE's separate "static stream" FIFO for control/QPACK streams.
	staticStreamIDs []uint64
	staticSet       map[uint64]struct{}
}

type bucket struct {
	order []uint64        // FIFO arrival order, for round-robin within the bucket
	set   map[uint64]bool // true while the stream is queued in order; deleted when popped
}

func newBucket() *bucket { return &bucket{set: make(map[uint64]bool)} }

// NewWriteScheduler creates an empty scheduler.
func NewWriteScheduler() *WriteScheduler {
	w := &WriteScheduler{priorities: make(map[uint64]Priority), staticSet: make(map[uint64]struct{})}
	for i := range w.buckets {
		w.buckets[i] = newBucket()
	}
	return w
}

// RegisterStatic adds a stream (e.g. a QPACK or control stream) that is
// always serviced ahead of every regular priority bucket.
func (w *WriteScheduler) RegisterStatic(streamID uint64) {
	if _, ok := w.staticSet[streamID]; ok {
		return
	}
	w.staticSet[streamID] = struct{}{}
	w.staticStreamIDs = append(w.staticStreamIDs, streamID)
}

// UpdatePriority sets or changes a stream's scheduling priority, as applied
// by a PRIORITY_UPDATE frame (RFC 9218 §7).
func (w *WriteScheduler) UpdatePriority(streamID uint64, p Priority) {
	w.priorities[streamID] = p
}

// Priority returns a stream's current priority, defaulting per RFC 9218 §4.
func (w *WriteScheduler) Priority(streamID uint64) Priority {
	if p, ok := w.priorities[streamID]; ok {
		return p
	}
	return DefaultPriority
}

// MarkWritable adds streamID to the write-ready set, placed at the back of
// its urgency bucket's FIFO order (a static stream goes to the back of the
// static FIFO).
func (w *WriteScheduler) MarkWritable(streamID uint64) {
	if _, ok := w.staticSet[streamID]; ok {
		for _, id := range w.staticStreamIDs {
			if id == streamID {
				return
			}
		}
		w.staticStreamIDs = append(w.staticStreamIDs, streamID)
		return
	}
	p := w.Priority(streamID)
	b := w.buckets[p.Urgency]
	if b.set[streamID] {
		return
	}
	b.set[streamID] = true
	b.order = append(b.order, streamID)
}

// MarkNotWritable removes streamID from the write-ready set.
func (w *WriteScheduler) MarkNotWritable(streamID uint64) {
	if _, ok := w.staticSet[streamID]; ok {
		for i, id := range w.staticStreamIDs {
			if id == streamID {
				w.staticStreamIDs = append(w.staticStreamIDs[:i], w.staticStreamIDs[i+1:]...)
				break
			}
		}
		return
	}
	p := w.Priority(streamID)
	b := w.buckets[p.Urgency]
	if !b.set[streamID] {
		return
	}
	delete(b.set, streamID)
	for i, id := range b.order {
		if id == streamID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// HasReady reports whether any stream (static or prioritized) is writable.
func (w *WriteScheduler) HasReady() bool {
	if len(w.staticStreamIDs) > 0 {
		return true
	}
	for _, b := range w.buckets {
		if len(b.order) > 0 {
			return true
		}
	}
	return false
}

// PopNext removes and returns the next stream to service: static streams
// first, then the lowest-numbered non-empty urgency bucket, round-robining
// within the bucket by FIFO arrival order (RFC 9218 §4's "MAY implement
// round-robin" guidance).
func (w *WriteScheduler) PopNext() (streamID uint64, ok bool) {
	if len(w.staticStreamIDs) > 0 {
		streamID = w.staticStreamIDs[0]
		w.staticStreamIDs = w.staticStreamIDs[1:]
		return streamID, true
	}
	for u := MinUrgency; u <= MaxUrgency; u++ {
		b := w.buckets[u]
		if len(b.order) == 0 {
			continue
		}
		streamID = b.order[0]
		b.order = b.order[1:]
		delete(b.set, streamID)
		return streamID, true
	}
	return 0, false
}

// ShouldYield reports whether streamID should stop writing now because a
// higher- or equal-urgency stream is also ready, implementing Stream's
// Session.ShouldYield, spec.md §9's collapsed-visitor note.
func (w *WriteScheduler) ShouldYield(streamID uint64) bool {
	if _, ok := w.staticSet[streamID]; ok {
		return false
	}
	p := w.Priority(streamID)
	for u := MinUrgency; u < p.Urgency; u++ {
		if len(w.buckets[u].order) > 0 {
			return true
		}
	}
	b := w.buckets[p.Urgency]
	for _, id := range b.order {
		if id != streamID {
			return true
		}
	}
	return false
}

// ReadyStreamIDs returns a stable snapshot of all currently-writable stream
// IDs in scheduling order, for diagnostics and tests.
func (w *WriteScheduler) ReadyStreamIDs() []uint64 {
	out := append([]uint64{}, w.staticStreamIDs...)
	for u := MinUrgency; u <= MaxUrgency; u++ {
		out = append(out, w.buckets[u].order...)
	}
	return out
}

