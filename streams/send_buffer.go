// Package streams implements the per-stream send buffer, sequencer, flow
// controller, stream object and stream-ID manager (spec.md §4.G-§4.J),
// plus the write scheduler supplementing §9's "WriteScheduler" redesign
// note (SPEC_FULL.md §9).
//
// Grounded throughout on original_source's
// quiche/quic/core/quic_stream_send_buffer.cc,
// quic_stream_sequencer.cc, quic_stream.cc and quic_stream_id_manager.cc.
package streams

import (
	"github.com/xtls/xquic/quicerr"
)

// maxSendBufferSliceSize bounds how large one owned slice may be, spec.md
// §4.G's quic_send_buffer_max_data_slice_size.
const maxSendBufferSliceSize = 4 * 1024

// BufferedSlice is one owned, contiguous run of write data at a known
// stream offset, spec.md §3.
type BufferedSlice struct {
	Offset int64
	Data   []byte
}

func (s BufferedSlice) end() int64 { return s.Offset + int64(len(s.Data)) }

// SendBuffer is the interval-deque of owned slices backing one stream's
// outgoing data, spec.md §3/§4.G.
type SendBuffer struct {
	slices []BufferedSlice

	bytesAcked           intervalSet
	pendingRetransmissions intervalSet

	streamBytesWritten    int64 // next offset SaveStreamData will use
	streamBytesOutstanding int64
	streamOffset          int64 // offset of slices[0], if any
	currentEndOffset      int64 // forward-only WriteStreamData cursor
}

// NewSendBuffer creates an empty send buffer.
func NewSendBuffer() *SendBuffer { return &SendBuffer{} }

// SaveStreamData copies data into one or more owned slices of at most
// maxSendBufferSliceSize bytes each, appended at the current write cursor,
// spec.md §4.G.
func (b *SendBuffer) SaveStreamData(data []byte) {
	for len(data) > 0 {
		n := len(data)
		if n > maxSendBufferSliceSize {
			n = maxSendBufferSliceSize
		}
		owned := make([]byte, n)
		copy(owned, data[:n])
		b.appendSlice(BufferedSlice{Offset: b.streamBytesWritten, Data: owned})
		b.streamBytesWritten += int64(n)
		data = data[n:]
	}
}

// SaveMemSliceSpan moves ownership of pre-built slices into the buffer, for
// callers (e.g. zero-copy paths) that already own contiguous data at the
// current write cursor.
func (b *SendBuffer) SaveMemSliceSpan(datas [][]byte) {
	for _, d := range datas {
		b.appendSlice(BufferedSlice{Offset: b.streamBytesWritten, Data: d})
		b.streamBytesWritten += int64(len(d))
	}
}

func (b *SendBuffer) appendSlice(sl BufferedSlice) {
	if len(b.slices) == 0 {
		b.streamOffset = sl.Offset
		b.currentEndOffset = sl.Offset
	}
	b.slices = append(b.slices, sl)
}

// StreamBytesWritten returns the total bytes ever passed to SaveStreamData
// or SaveMemSliceSpan.
func (b *SendBuffer) StreamBytesWritten() int64 { return b.streamBytesWritten }

// StreamBytesOutstanding returns bytes written, sent, but not yet acked.
func (b *SendBuffer) StreamBytesOutstanding() int64 { return b.streamBytesOutstanding }

// WriteStreamData copies up to length bytes starting at offset into writer,
// spec.md §4.G. offset must not exceed currentEndOffset (out-of-order
// writes are a caller bug, since the packet creator always drains frames
// in order).
func (b *SendBuffer) WriteStreamData(offset, length int64, writer func(p []byte)) error {
	if offset > b.currentEndOffset {
		return quicerr.New("WriteStreamData: offset ", offset, " beyond current_end_offset ", b.currentEndOffset).AtError()
	}
	remaining := length
	for _, sl := range b.slices {
		if remaining == 0 {
			break
		}
		if sl.end() <= offset {
			continue
		}
		if sl.Offset >= offset+length {
			break
		}
		from := offset
		if sl.Offset > from {
			from = sl.Offset
		}
		to := offset + length
		if sl.end() < to {
			to = sl.end()
		}
		writer(sl.Data[from-sl.Offset : to-sl.Offset])
		remaining -= to - from
		if to > b.currentEndOffset {
			b.currentEndOffset = to
		}
	}
	b.streamBytesOutstanding += length - remaining
	return nil
}

// OnStreamDataAcked records [offset, offset+length) as acknowledged,
// returning the number of bytes newly acked (excluding any overlap with an
// already-acked range), spec.md §4.G. Acking more than outstanding is a
// fatal internal error.
func (b *SendBuffer) OnStreamDataAcked(offset, length int64) (newlyAcked int64, err error) {
	if length == 0 {
		return 0, nil
	}
	end := offset + length
	newBytes := b.bytesAcked.Uncovered(offset, end)
	for _, iv := range newBytes {
		newlyAcked += iv.End - iv.Start
	}
	if newlyAcked > b.streamBytesOutstanding {
		return 0, quicerr.New("OnStreamDataAcked: acking more than outstanding").AtError()
	}
	b.bytesAcked.Add(offset, end)
	b.pendingRetransmissions.Remove(offset, end)
	b.streamBytesOutstanding -= newlyAcked
	b.compact()
	return newlyAcked, nil
}

// compact drops fully-acked slices from the front of the deque.
func (b *SendBuffer) compact() {
	for len(b.slices) > 0 {
		sl := b.slices[0]
		if !b.bytesAcked.Contains(sl.Offset, sl.end()) {
			break
		}
		b.slices = b.slices[1:]
		if len(b.slices) > 0 {
			b.streamOffset = b.slices[0].Offset
		} else {
			b.streamOffset = sl.end()
		}
	}
}

// OnStreamDataLost adds the portion of [offset, offset+length) not yet
// acked to pending_retransmissions, spec.md §4.G.
func (b *SendBuffer) OnStreamDataLost(offset, length int64) {
	end := offset + length
	for _, iv := range b.bytesAcked.Uncovered(offset, end) {
		b.pendingRetransmissions.Add(iv.Start, iv.End)
	}
}

// OnStreamDataRetransmitted removes [offset, offset+length) from
// pending_retransmissions, spec.md §4.G.
func (b *SendBuffer) OnStreamDataRetransmitted(offset, length int64) {
	b.pendingRetransmissions.Remove(offset, offset+length)
}

// HasPendingRetransmission reports whether any byte range awaits
// retransmission.
func (b *SendBuffer) HasPendingRetransmission() bool { return !b.pendingRetransmissions.Empty() }

// NextPendingRetransmission returns the lowest pending-retransmission
// interval, if any.
func (b *SendBuffer) NextPendingRetransmission() (offset, length int64, ok bool) {
	iv, ok := b.pendingRetransmissions.Front()
	if !ok {
		return 0, 0, false
	}
	return iv.Start, iv.End - iv.Start, true
}

// StreamOffset returns the offset of the oldest still-buffered byte.
func (b *SendBuffer) StreamOffset() int64 { return b.streamOffset }

// CurrentEndOffset returns the forward-only write cursor.
func (b *SendBuffer) CurrentEndOffset() int64 { return b.currentEndOffset }

// FullyAcked reports whether every byte in [0, streamBytesWritten) has been
// acknowledged -- i.e. the stream's write side can fully retire.
func (b *SendBuffer) FullyAcked() bool {
	return b.bytesAcked.Contains(0, b.streamBytesWritten) || b.streamBytesWritten == 0
}
