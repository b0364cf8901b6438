package streams

import "github.com/xtls/xquic/quicerr"

// closeOffsetInfinite is the sequencer's "no FIN seen yet" sentinel,
// spec.md §3's close_offset "initially +∞".
const closeOffsetInfinite = int64(1<<62 - 1)

// DeliveryMode selects edge-triggered (default, callback only when the
// readable prefix grows from empty) vs level-triggered (callback on every
// growth) delivery, spec.md §4.H.
type DeliveryMode uint8

const (
	EdgeTriggered DeliveryMode = iota
	LevelTriggered
)

// Sequencer reassembles an in-order byte stream from out-of-order
// (offset, bytes[, FIN]) frames, spec.md §3/§4.H.
//
// Grounded on quic_stream_sequencer.cc.
type Sequencer struct {
	buffered    intervalSet
	data        map[int64][]byte // offset -> bytes, for ranges not yet consumed
	readOffset  int64            // bytes already delivered to the application
	highestOffset int64
	closeOffset int64

	blocked          bool
	ignoreReadData   bool
	mode             DeliveryMode
	finNotified      bool

	OnDataAvailable func()
	OnFinRead       func()
}

// NewSequencer creates an empty sequencer awaiting the first frame.
func NewSequencer() *Sequencer {
	return &Sequencer{
		data:        make(map[int64][]byte),
		closeOffset: closeOffsetInfinite,
	}
}

// SetDeliveryMode selects edge- or level-triggered callbacks.
func (s *Sequencer) SetDeliveryMode(m DeliveryMode) { s.mode = m }

// StopReading discards further data; a FIN still triggers OnFinRead but no
// data callback fires, spec.md §4.H.
func (s *Sequencer) StopReading() {
	s.ignoreReadData = true
	s.data = make(map[int64][]byte)
	s.buffered = intervalSet{}
}

// OnStreamFrame ingests one STREAM frame's payload at offset, deduplicating
// against the current read cursor and any already-buffered range. A no-op
// for a zero-length, non-FIN frame (spec.md §8 boundary behaviour).
func (s *Sequencer) OnStreamFrame(offset int64, payload []byte, fin bool) error {
	if len(payload) == 0 && !fin {
		return nil
	}
	end := offset + int64(len(payload))
	if end > (1<<62 - 1) {
		return quicerr.New("OnStreamFrame: offset+length overflow").AtError()
	}

	if fin {
		if s.closeOffset != closeOffsetInfinite && s.closeOffset != end {
			return quicerr.New("OnStreamFrame: STREAM_MULTIPLE_OFFSET").AtError()
		}
		s.closeOffset = end
	} else if s.closeOffset != closeOffsetInfinite && end > s.closeOffset {
		return quicerr.New("OnStreamFrame: STREAM_DATA_BEYOND_CLOSE_OFFSET").AtError()
	}

	if end > s.highestOffset {
		s.highestOffset = end
	}

	if len(payload) > 0 && !s.ignoreReadData {
		wasEmpty := s.readableLen() == 0
		for _, iv := range s.uncoveredAgainstRead(offset, end) {
			s.data[iv.Start] = append([]byte{}, payload[iv.Start-offset:iv.End-offset]...)
			s.buffered.Add(iv.Start, iv.End)
		}
		nowReadable := s.readableLen()
		if nowReadable > 0 && s.OnDataAvailable != nil {
			if s.mode == LevelTriggered || wasEmpty {
				s.OnDataAvailable()
			}
		}
	}

	s.maybeNotifyFin()
	return nil
}

func (s *Sequencer) maybeNotifyFin() {
	if s.finNotified || s.closeOffset == closeOffsetInfinite || s.readOffset != s.closeOffset {
		return
	}
	s.finNotified = true
	if s.OnFinRead != nil {
		s.OnFinRead()
	}
}

// uncoveredAgainstRead clips [offset, end) to not already-consumed bytes
// and not already-buffered ranges.
func (s *Sequencer) uncoveredAgainstRead(offset, end int64) []byteInterval {
	if offset < s.readOffset {
		offset = s.readOffset
	}
	if offset >= end {
		return nil
	}
	return s.buffered.Uncovered(offset, end)
}

// readableLen returns how many contiguous bytes starting at readOffset are
// available.
func (s *Sequencer) readableLen() int64 {
	iv, ok := s.buffered.Front()
	if !ok || iv.Start > s.readOffset {
		return 0
	}
	return iv.End - s.readOffset
}

// Readable reports whether any contiguous data is available at the read
// cursor.
func (s *Sequencer) Readable() bool { return s.readableLen() > 0 }

// Read copies up to len(p) contiguous bytes starting at the read cursor,
// returning the number of bytes copied and whether the stream has reached
// its FIN with nothing left to read.
func (s *Sequencer) Read(p []byte) (n int, finished bool) {
	for n < len(p) {
		chunk, ok := s.data[s.readOffset]
		if !ok {
			break
		}
		c := copy(p[n:], chunk)
		n += c
		if c == len(chunk) {
			delete(s.data, s.readOffset)
			s.buffered.Remove(s.readOffset, s.readOffset+int64(len(chunk)))
			s.readOffset += int64(len(chunk))
		} else {
			s.data[s.readOffset+int64(c)] = chunk[c:]
			delete(s.data, s.readOffset)
			s.buffered.Remove(s.readOffset, s.readOffset+int64(c))
			s.readOffset += int64(c)
			break
		}
	}
	finished = s.closeOffset != closeOffsetInfinite && s.readOffset == s.closeOffset && s.readableLen() == 0
	if finished {
		s.maybeNotifyFin()
	}
	return n, finished
}

// HighestOffset returns the highest byte offset seen so far (FIN-inclusive).
func (s *Sequencer) HighestOffset() int64 { return s.highestOffset }

// CloseOffset returns the FIN offset and true, or 0 and false if no FIN has
// been seen.
func (s *Sequencer) CloseOffset() (int64, bool) {
	if s.closeOffset == closeOffsetInfinite {
		return 0, false
	}
	return s.closeOffset, true
}

// ReadOffset returns how many bytes have been delivered to the application.
func (s *Sequencer) ReadOffset() int64 { return s.readOffset }
