package qpack

// entryOverhead is RFC 9204 §3.2.1's fixed per-entry size overhead, which
// an implementation adds to name+value length to model eviction costs that
// mirror real allocator overhead.
const entryOverhead = 32

type dynEntry struct {
	name  string
	value string
}

func entrySize(name, value string) uint64 {
	return uint64(len(name)+len(value)) + entryOverhead
}

// MatchType classifies how a header field matched the combined static and
// dynamic tables, spec.md §4.M.
type MatchType int

const (
	MatchNone MatchType = iota
	MatchName
	MatchNameValue
)

// DynamicTable is the QPACK dynamic table shared in shape by the encoder
// and decoder (each side owns its own instance): an insertion-ordered,
// capacity-bounded deque of entries addressed by absolute index, spec.md
// §3 "QPACK dynamic table".
//
// Grounded on spec.md §4.M (the header-table operations referenced by the
// encoder's FirstPassEncode) since original_source's qpack_header_table.cc
// was not present in the retrieval pack; the eviction-protection contract
// ("Evictable frontier is min(smallest_blocking_index, known_received_count)")
// is spec.md §4.L's own statement of the invariant.
type DynamicTable struct {
	capacity uint64
	size     uint64
	entries  []dynEntry
	dropped  uint64 // count of entries ever evicted; absolute index of entries[i] is dropped+i
}

// NewDynamicTable creates a table with the given maximum capacity in bytes.
func NewDynamicTable(capacity uint64) *DynamicTable {
	return &DynamicTable{capacity: capacity}
}

// Capacity returns the table's current maximum size in bytes.
func (t *DynamicTable) Capacity() uint64 { return t.capacity }

// InsertedEntryCount is the total number of entries ever inserted,
// including evicted ones — QPACK's "Insert Count".
func (t *DynamicTable) InsertedEntryCount() uint64 { return t.dropped + uint64(len(t.entries)) }

// DrainingIndex is the absolute-index boundary below which entries are
// considered too old to reference, spec.md glossary "Draining index"
// (25% oldest by default, fraction passed by the caller).
func (t *DynamicTable) DrainingIndex(fraction float64) uint64 {
	return t.dropped + uint64(float64(len(t.entries))*fraction)
}

// Entry returns the name/value pair at absolute index i, or ok=false if it
// has already been evicted or was never inserted.
func (t *DynamicTable) Entry(i uint64) (name, value string, ok bool) {
	if i < t.dropped || i >= t.InsertedEntryCount() {
		return "", "", false
	}
	e := t.entries[i-t.dropped]
	return e.name, e.value, true
}

// MaxInsertSizeWithoutEvicting returns how many bytes a new entry may use
// without evicting any live entry whose absolute index is >= floor —
// spec.md §4.M's "MaxInsertSizeWithoutEvictingGivenEntry".
func (t *DynamicTable) MaxInsertSizeWithoutEvicting(floor uint64) uint64 {
	var protected uint64
	for i, e := range t.entries {
		if t.dropped+uint64(i) >= floor {
			protected += entrySize(e.name, e.value)
		}
	}
	if protected >= t.capacity {
		return 0
	}
	return t.capacity - protected
}

// CanInsert reports whether a name/value pair of this size fits without
// evicting any entry at or above floor.
func (t *DynamicTable) CanInsert(name, value string, floor uint64) bool {
	return entrySize(name, value) <= t.MaxInsertSizeWithoutEvicting(floor)
}

// InsertProtected inserts name/value, evicting oldest entries as needed,
// but never evicting past floor. Returns the new entry's absolute index,
// or ok=false if it would not fit without violating floor (callers should
// check CanInsert first; this is a defensive re-check).
func (t *DynamicTable) InsertProtected(name, value string, floor uint64) (index uint64, ok bool) {
	size := entrySize(name, value)
	if !t.CanInsert(name, value, floor) {
		return 0, false
	}
	for t.size+size > t.capacity && len(t.entries) > 0 {
		t.evictOldest()
	}
	if t.size+size > t.capacity {
		return 0, false
	}
	t.entries = append(t.entries, dynEntry{name: name, value: value})
	t.size += size
	return t.InsertedEntryCount() - 1, true
}

// Insert inserts unconditionally, evicting the oldest entries (down to
// empty if needed) until it fits. Used by the decoder, which trusts the
// encoder never issues an instruction it cannot mirror. Returns false if
// the entry does not fit even in an empty table (capacity too small).
func (t *DynamicTable) Insert(name, value string) (index uint64, ok bool) {
	size := entrySize(name, value)
	if size > t.capacity {
		return 0, false
	}
	for t.size+size > t.capacity && len(t.entries) > 0 {
		t.evictOldest()
	}
	t.entries = append(t.entries, dynEntry{name: name, value: value})
	t.size += size
	return t.InsertedEntryCount() - 1, true
}

func (t *DynamicTable) evictOldest() {
	e := t.entries[0]
	t.entries = t.entries[1:]
	t.size -= entrySize(e.name, e.value)
	t.dropped++
}

// SetCapacity changes the maximum size, evicting oldest entries if the
// new capacity is smaller than the current size.
func (t *DynamicTable) SetCapacity(capacity uint64) {
	t.capacity = capacity
	for t.size > t.capacity && len(t.entries) > 0 {
		t.evictOldest()
	}
}

// FindHeaderField looks up name/value across the static table and this
// dynamic table, preferring an exact name+value match, then a name-only
// match, spec.md §4.M encoder two-pass step 1. Every live dynamic entry is
// considered, newest first; the draining boundary is not applied here and
// is checked by the caller against the returned index.
func (t *DynamicTable) FindHeaderField(name, value string) (match MatchType, isStatic bool, index uint64) {
	if i, ok := staticNameValueIndex[name+"\x00"+value]; ok {
		return MatchNameValue, true, i
	}
	// Search dynamic table newest-first for the best (name+value else name) match.
	bestNameOnly, haveNameOnly := uint64(0), false
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		abs := t.dropped + uint64(i)
		if e.name == name && e.value == value {
			return MatchNameValue, false, abs
		}
		if e.name == name && !haveNameOnly {
			bestNameOnly, haveNameOnly = abs, true
		}
	}
	if haveNameOnly {
		return MatchName, false, bestNameOnly
	}
	if i, ok := staticNameIndex[name]; ok {
		return MatchName, true, i
	}
	return MatchNone, false, 0
}
