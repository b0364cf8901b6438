package streams

import "sort"

// byteInterval is a half-open [Start, End) byte range, sorted and
// coalescing collections of which back bytes_acked, pending_retransmissions
// and the sequencer's received-but-not-yet-contiguous gaps, spec.md §3.
type byteInterval struct {
	Start, End int64
}

func (iv byteInterval) empty() bool { return iv.End <= iv.Start }

// intervalSet is a sorted, coalescing, disjoint set of byteIntervals.
// Grounded on the teacher's common/buf treatment of contiguous byte ranges
// (SPEC_FULL.md §3), generalized here to abstract offsets.
type intervalSet struct {
	ivs []byteInterval
}

// Add inserts [start, end) and merges it with any overlapping or adjacent
// existing intervals.
func (s *intervalSet) Add(start, end int64) {
	if end <= start {
		return
	}
	// Find the insertion point via binary search on Start.
	i := sort.Search(len(s.ivs), func(i int) bool { return s.ivs[i].Start > start })
	// Back up while the previous interval could still overlap/touch.
	for i > 0 && s.ivs[i-1].End >= start {
		i--
	}
	merged := byteInterval{Start: start, End: end}
	j := i
	for j < len(s.ivs) && s.ivs[j].Start <= merged.End {
		if s.ivs[j].Start < merged.Start {
			merged.Start = s.ivs[j].Start
		}
		if s.ivs[j].End > merged.End {
			merged.End = s.ivs[j].End
		}
		j++
	}
	rest := append([]byteInterval{}, s.ivs[j:]...)
	s.ivs = append(append(s.ivs[:i], merged), rest...)
}

// Remove deletes [start, end) from the set, splitting any interval that
// straddles a boundary.
func (s *intervalSet) Remove(start, end int64) {
	if end <= start {
		return
	}
	var out []byteInterval
	for _, iv := range s.ivs {
		if iv.End <= start || iv.Start >= end {
			out = append(out, iv)
			continue
		}
		if iv.Start < start {
			out = append(out, byteInterval{Start: iv.Start, End: start})
		}
		if iv.End > end {
			out = append(out, byteInterval{Start: end, End: iv.End})
		}
	}
	s.ivs = out
}

// Contains reports whether [start, end) is fully covered by the set.
func (s *intervalSet) Contains(start, end int64) bool {
	for _, iv := range s.ivs {
		if iv.Start <= start && end <= iv.End {
			return true
		}
	}
	return false
}

// Overlaps reports whether [start, end) intersects anything in the set.
func (s *intervalSet) Overlaps(start, end int64) bool {
	for _, iv := range s.ivs {
		if iv.Start < end && start < iv.End {
			return true
		}
	}
	return false
}

// Uncovered returns the subset of [start, end) not yet covered by the
// set, i.e. the complement of the set restricted to that range.
func (s *intervalSet) Uncovered(start, end int64) []byteInterval {
	var out []byteInterval
	cursor := start
	for _, iv := range s.ivs {
		if iv.End <= cursor {
			continue
		}
		if iv.Start >= end {
			break
		}
		if iv.Start > cursor {
			out = append(out, byteInterval{Start: cursor, End: minInt64(iv.Start, end)})
		}
		if iv.End > cursor {
			cursor = iv.End
		}
		if cursor >= end {
			break
		}
	}
	if cursor < end {
		out = append(out, byteInterval{Start: cursor, End: end})
	}
	return out
}

// Empty reports whether the set has no intervals.
func (s *intervalSet) Empty() bool { return len(s.ivs) == 0 }

// Front returns the lowest interval in the set, if any.
func (s *intervalSet) Front() (byteInterval, bool) {
	if len(s.ivs) == 0 {
		return byteInterval{}, false
	}
	return s.ivs[0], true
}

// PopFront removes and returns the lowest interval, if any.
func (s *intervalSet) PopFront() (byteInterval, bool) {
	iv, ok := s.Front()
	if ok {
		s.ivs = s.ivs[1:]
	}
	return iv, ok
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
