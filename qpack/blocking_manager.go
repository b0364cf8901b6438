package qpack

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// IndexSet is a set of dynamic-table absolute indices referenced by one
// header block.
type IndexSet map[uint64]struct{}

// RequiredInsertCount returns the smallest InsertedEntryCount at which a
// header block referencing indices can be decoded: one past the largest
// referenced absolute index, spec.md glossary "Required insert count".
func RequiredInsertCount(indices IndexSet) uint64 {
	var max uint64
	for i := range indices {
		if i+1 > max {
			max = i + 1
		}
	}
	return max
}

type headerBlock struct {
	indices             IndexSet
	requiredInsertCount uint64
}

// BlockingManager tracks outstanding header-block references into the
// dynamic table and which request streams are currently blocked waiting
// for the peer to acknowledge enough insertions, spec.md §4.L.
//
// Grounded on original_source's qpack_blocking_manager.cc, with the
// "optimize_qpack_blocking_manager" reloadable-flag path taken
// unconditionally (the flag has no analogue here — there is only ever one
// behavior, matching SPEC_FULL.md §4.O's no-global-flag-table design).
// The per-stream blocked-capacity check additionally gates through a
// golang.org/x/sync/semaphore.Weighted sized to maximumBlockedStreams,
// SPEC_FULL.md §4.L.
type BlockingManager struct {
	headerBlocks map[uint64][]headerBlock
	refCounts    map[uint64]int
	blocked      map[uint64]uint64 // stream id -> max outstanding required_insert_count

	knownReceivedCount atomic.Uint64

	maxBlockedStreams uint64
	sem               *semaphore.Weighted
}

// NewBlockingManager creates a manager that allows at most
// maxBlockedStreams streams to be simultaneously blocked.
func NewBlockingManager(maxBlockedStreams uint64) *BlockingManager {
	return &BlockingManager{
		headerBlocks:      make(map[uint64][]headerBlock),
		refCounts:         make(map[uint64]int),
		blocked:           make(map[uint64]uint64),
		maxBlockedStreams: maxBlockedStreams,
		sem:               semaphore.NewWeighted(int64(maxBlockedStreams)),
	}
}

// KnownReceivedCount is the number of dynamic-table insertions the peer has
// acknowledged having observed.
func (m *BlockingManager) KnownReceivedCount() uint64 { return m.knownReceivedCount.Load() }

// SetMaximumBlockedStreams raises the limit on simultaneously blocked
// streams. Decreasing is refused (matches the teacher source's
// SetMaximumBlockedStreams, which never shrinks a live limit).
func (m *BlockingManager) SetMaximumBlockedStreams(max uint64) bool {
	if max < m.maxBlockedStreams {
		return false
	}
	m.maxBlockedStreams = max
	newSem := semaphore.NewWeighted(int64(max))
	for range m.blocked {
		newSem.TryAcquire(1)
	}
	m.sem = newSem
	return true
}

// OnHeaderBlockSent records a header block referencing indices, emitted on
// stream streamID, requiring requiredInsertCount insertions to decode.
func (m *BlockingManager) OnHeaderBlockSent(streamID uint64, indices IndexSet, requiredInsertCount uint64) {
	m.increaseReferenceCounts(indices)
	m.headerBlocks[streamID] = append(m.headerBlocks[streamID], headerBlock{indices: indices, requiredInsertCount: requiredInsertCount})

	if requiredInsertCount > m.knownReceivedCount.Load() {
		if prev, ok := m.blocked[streamID]; ok {
			if requiredInsertCount > prev {
				m.blocked[streamID] = requiredInsertCount
			}
		} else {
			m.blocked[streamID] = requiredInsertCount
			m.sem.TryAcquire(1)
		}
	}
}

// OnHeaderAcknowledgement processes a Header Acknowledgement instruction
// for streamID: pops its oldest outstanding block and advances
// knownReceivedCount if needed. Returns false if the stream had no
// outstanding header blocks (a decoder-stream protocol error).
func (m *BlockingManager) OnHeaderAcknowledgement(streamID uint64) bool {
	blocks := m.headerBlocks[streamID]
	if len(blocks) == 0 {
		return false
	}
	block := blocks[0]
	if m.knownReceivedCount.Load() < block.requiredInsertCount {
		m.knownReceivedCount.Store(block.requiredInsertCount)
		m.onKnownReceivedCountIncreased()
	}
	m.decreaseReferenceCounts(block.indices)

	if len(blocks) == 1 {
		delete(m.headerBlocks, streamID)
	} else {
		m.headerBlocks[streamID] = blocks[1:]
	}
	return true
}

// OnStreamCancellation releases every reference held by streamID's
// outstanding header blocks (the stream is being reset or has no further
// use for them) and clears its blocked status.
func (m *BlockingManager) OnStreamCancellation(streamID uint64) {
	blocks, ok := m.headerBlocks[streamID]
	if !ok {
		return
	}
	for _, b := range blocks {
		m.decreaseReferenceCounts(b.indices)
	}
	delete(m.headerBlocks, streamID)
	if _, wasBlocked := m.blocked[streamID]; wasBlocked {
		delete(m.blocked, streamID)
		m.sem.Release(1)
	}
}

// OnInsertCountIncrement processes an Insert Count Increment instruction.
// Returns false on overflow (a decoder-stream error).
func (m *BlockingManager) OnInsertCountIncrement(increment uint64) bool {
	cur := m.knownReceivedCount.Load()
	if increment > ^uint64(0)-cur {
		return false
	}
	m.knownReceivedCount.Store(cur + increment)
	m.onKnownReceivedCountIncreased()
	return true
}

// BlockingAllowedOnStream reports whether a new blocking reference may be
// emitted on streamID: the stream is already blocked, or there is spare
// capacity under the configured limit, spec.md §4.L.
func (m *BlockingManager) BlockingAllowedOnStream(streamID uint64) bool {
	if _, blocked := m.blocked[streamID]; blocked {
		return true
	}
	if m.maxBlockedStreams == 0 {
		return false
	}
	if m.sem.TryAcquire(1) {
		m.sem.Release(1)
		return true
	}
	return false
}

// SmallestBlockingIndex returns the smallest absolute index still
// referenced by an outstanding header block, or ^uint64(0) if none.
func (m *BlockingManager) SmallestBlockingIndex() uint64 {
	if len(m.refCounts) == 0 {
		return ^uint64(0)
	}
	var min uint64 = ^uint64(0)
	for i := range m.refCounts {
		if i < min {
			min = i
		}
	}
	return min
}

func (m *BlockingManager) increaseReferenceCounts(indices IndexSet) {
	for i := range indices {
		m.refCounts[i]++
	}
}

func (m *BlockingManager) decreaseReferenceCounts(indices IndexSet) {
	for i := range indices {
		if m.refCounts[i] <= 1 {
			delete(m.refCounts, i)
		} else {
			m.refCounts[i]--
		}
	}
}

func (m *BlockingManager) onKnownReceivedCountIncreased() {
	known := m.knownReceivedCount.Load()
	for streamID, required := range m.blocked {
		if required > known {
			continue
		}
		delete(m.blocked, streamID)
		m.sem.Release(1)
	}
}
