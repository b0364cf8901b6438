package streams

import "github.com/xtls/xquic/quicerr"

// Type classifies a stream by direction and role, spec.md §3.
type Type uint8

const (
	Bidirectional Type = iota
	ReadUnidirectional
	WriteUnidirectional
	Crypto
)

// WriteState is the write-side half-closed state machine, spec.md §4.I.
type WriteState uint8

const (
	WriteOpen WriteState = iota
	WriteFinBuffered
	WriteFinSent
	WriteFinAcked
	WriteClosed
)

// ResetCode is carried by RESET_STREAM/STOP_SENDING; spec.md §4.I names
// QUIC_STREAM_TTL_EXPIRED as one concrete application of it.
type ResetCode uint64

const (
	NoReset              ResetCode = 0
	StreamTTLExpired     ResetCode = 1
	StreamCancelled      ResetCode = 2
)

// Session is the minimal callback surface a Stream needs from its owning
// connection: flow-control budget, write-scheduling and frame emission,
// spec.md §9's "collapsed visitor" redesign note.
type Session interface {
	// ShouldYield reports whether the stream should stop writing now and
	// wait for scheduler-driven resumption.
	ShouldYield(streamID uint64) bool
	// ConnectionSendWindow returns the connection-level flow-control budget.
	ConnectionSendWindow() int64
	// WriteStreamFrame emits a STREAM frame carrying [offset, offset+len(p))
	// and optionally FIN; returns the number of bytes actually written
	// (less than len(p) if the packet/connection window was smaller).
	WriteStreamFrame(streamID uint64, offset int64, p []byte, fin bool) int
	// SendBlocked emits a STREAM_DATA_BLOCKED frame for this stream.
	SendBlocked(streamID uint64, offset int64)
	// SendReset emits RESET_STREAM.
	SendReset(streamID uint64, code ResetCode)
	// SendStopSending emits STOP_SENDING.
	SendStopSending(streamID uint64, code ResetCode)
}

// Stream is a bidirectional (or half-simplex) stream's read/write state
// machine, spec.md §3/§4.I.
type Stream struct {
	ID   uint64
	Type Type

	session Session

	send *SendBuffer
	seq  *Sequencer
	flow *FlowController

	writeState WriteState

	finBuffered    bool
	finOutstanding bool
	finLost        bool

	rstSent     bool
	rstReceived bool

	readSideClosed  bool
	writeSideClosed bool

	writeBlocked bool

	Priority int

	ttlDeadline   int64 // 0 == no TTL; deadline expressed in an external monotonic unit the caller supplies
	ttlExpiredFn  func(now int64) bool

	// OnDataBuffered lets an upper layer (e.g. QPACK) attach an ack
	// listener to newly-buffered bytes, spec.md §4.I.
	OnDataBuffered func(offset int64, length int64)
}

// NewStream creates a stream bound to session, with the given id/type. Read-
// or write-unidirectional streams omit the unused half entirely.
func NewStream(id uint64, typ Type, session Session, initialSendWindow, initialReceiveWindow int64) *Stream {
	s := &Stream{ID: id, Type: typ, session: session}
	if typ != ReadUnidirectional {
		s.send = NewSendBuffer()
	}
	if typ != WriteUnidirectional {
		s.seq = NewSequencer()
	}
	s.flow = NewFlowController(initialSendWindow, initialReceiveWindow)
	return s
}

// MaybeSetTTL arms a deadline check; any WriteBufferedData or
// RetransmitStreamData call that observes the deadline passed issues
// Reset(StreamTTLExpired), spec.md §4.I.
func (s *Stream) MaybeSetTTL(expired func(now int64) bool) { s.ttlExpiredFn = expired }

func (s *Stream) checkTTL(now int64) bool {
	if s.ttlExpiredFn == nil {
		return false
	}
	if s.ttlExpiredFn(now) {
		s.Reset(StreamTTLExpired)
		return true
	}
	return false
}

// WriteOrBuffer appends data (and optionally FIN) to the send buffer and
// attempts an immediate write pass, spec.md §4.I.
func (s *Stream) WriteOrBuffer(data []byte, fin bool) error {
	if s.Type == ReadUnidirectional {
		return quicerr.New("WriteOrBuffer: QUIC_TRY_TO_WRITE_DATA_ON_READ_UNIDIRECTIONAL_STREAM").AtError()
	}
	if s.writeState >= WriteFinBuffered {
		return quicerr.New("WriteOrBuffer: write side already closing").AtError()
	}
	offset := s.send.StreamBytesWritten()
	s.send.SaveStreamData(data)
	if s.OnDataBuffered != nil && len(data) > 0 {
		s.OnDataBuffered(offset, int64(len(data)))
	}
	if fin {
		s.finBuffered = true
		s.writeState = WriteFinBuffered
	}
	return s.WriteBufferedData(0)
}

// WriteBufferedData implements spec.md §4.I's write_buffered_data: yields to
// the scheduler if requested, else writes up to min(stream, connection)
// window's worth of buffered bytes, setting FIN iff everything buffered
// goes out, sending STREAM_DATA_BLOCKED on no progress.
func (s *Stream) WriteBufferedData(now int64) error {
	if s.checkTTL(now) {
		return nil
	}
	if s.session.ShouldYield(s.ID) {
		s.writeBlocked = true
		return nil
	}
	s.writeBlocked = false

	window := s.flow.SendWindowSize()
	if connWindow := s.session.ConnectionSendWindow(); connWindow < window {
		window = connWindow
	}

	start := s.send.CurrentEndOffset()
	total := s.send.StreamBytesWritten() - start
	if total < 0 {
		total = 0
	}
	toSend := total
	if toSend > window {
		toSend = window
	}

	if total == 0 && s.finBuffered && s.writeState == WriteFinBuffered {
		s.session.WriteStreamFrame(s.ID, start, nil, true)
		s.finOutstanding = true
		s.writeState = WriteFinSent
		return nil
	}

	if toSend == 0 {
		if total > 0 || s.finBuffered && s.writeState == WriteFinBuffered {
			if s.flow.ShouldSendBlocked() {
				s.session.SendBlocked(s.ID, start)
			}
		}
		return nil
	}

	fin := s.finBuffered && toSend == total
	var written int64
	err := s.send.WriteStreamData(start, toSend, func(p []byte) {
		n := s.session.WriteStreamFrame(s.ID, start+written, p, fin && written+int64(len(p)) == toSend)
		written += int64(n)
	})
	if err != nil {
		return err
	}
	s.flow.AddBytesSent(written)
	if fin && written == toSend {
		s.finOutstanding = true
		s.writeState = WriteFinSent
	}
	return nil
}

// OnStreamFrame handles an inbound STREAM frame: update flow control first,
// then forward to the sequencer, spec.md §4.I.
func (s *Stream) OnStreamFrame(offset int64, payload []byte, fin bool) error {
	if s.Type == WriteUnidirectional {
		return quicerr.New("OnStreamFrame: QUIC_DATA_RECEIVED_ON_WRITE_UNIDIRECTIONAL_STREAM").AtError()
	}
	end := offset + int64(len(payload))
	if err := s.flow.AddBytesReceived(end); err != nil {
		return err
	}
	return s.seq.OnStreamFrame(offset, payload, fin)
}

// OnStreamFrameAcked updates the send buffer and releases the
// FIN-outstanding flag once FIN is acked, spec.md §4.I.
func (s *Stream) OnStreamFrameAcked(offset, length int64, fin bool) error {
	if _, err := s.send.OnStreamDataAcked(offset, length); err != nil {
		return err
	}
	if fin {
		s.finOutstanding = false
		s.writeState = WriteFinAcked
		s.maybeClose()
	}
	return nil
}

// RetransmitStreamData subtracts already-acked bytes, re-queues the
// remainder and can bundle a lost FIN if the range abuts
// stream_bytes_written, spec.md §4.I.
func (s *Stream) RetransmitStreamData(now int64) error {
	if s.checkTTL(now) {
		return nil
	}
	offset, length, ok := s.send.NextPendingRetransmission()
	if !ok {
		return nil
	}
	fin := s.finLost && offset+length == s.send.StreamBytesWritten()
	var written int64
	err := s.send.WriteStreamData(offset, length, func(p []byte) {
		n := s.session.WriteStreamFrame(s.ID, offset+written, p, fin && written+int64(len(p)) == length)
		written += int64(n)
	})
	if err != nil {
		return err
	}
	s.send.OnStreamDataRetransmitted(offset, written)
	if fin && written == length {
		s.finLost = false
		s.finOutstanding = true
	}
	return nil
}

// OnStreamFrameLost marks [offset, offset+length) (and optionally FIN) as
// needing retransmission.
func (s *Stream) OnStreamFrameLost(offset, length int64, fin bool) {
	s.send.OnStreamDataLost(offset, length)
	if fin {
		s.finLost = true
	}
}

// OnResetStream handles an inbound RESET_STREAM. In IETF mode only the read
// side closes, matching RFC 9000; legacy mode closes both sides, spec.md
// §4.I.
func (s *Stream) OnResetStream(legacyCloseBothSides bool) {
	s.rstReceived = true
	s.readSideClosed = true
	if legacyCloseBothSides {
		s.writeSideClosed = true
		s.writeState = WriteClosed
	}
	s.maybeClose()
}

// Reset sends RESET_STREAM and closes both sides locally.
func (s *Stream) Reset(code ResetCode) {
	if s.rstSent {
		return
	}
	s.rstSent = true
	s.readSideClosed = true
	s.writeSideClosed = true
	s.writeState = WriteClosed
	s.session.SendReset(s.ID, code)
	s.maybeClose()
}

// StopReading sends STOP_SENDING and discards further inbound data,
// spec.md §4.I.
func (s *Stream) StopReading(code ResetCode) {
	if s.seq != nil {
		s.seq.StopReading()
	}
	s.session.SendStopSending(s.ID, code)
}

func (s *Stream) maybeClose() {
	if s.readSideClosed && s.writeSideClosed {
		return
	}
	if s.writeState == WriteFinAcked || s.rstSent {
		s.writeSideClosed = true
	}
}

// Closed reports whether both halves have closed and no bytes remain
// outstanding for acks, spec.md §3's destruction condition.
func (s *Stream) Closed() bool {
	writeDone := s.send == nil || (s.writeSideClosed && s.send.FullyAcked())
	readDone := s.seq == nil || s.readSideClosed
	return writeDone && readDone
}

// WriteBlocked reports whether the stream is waiting for scheduler-driven
// resumption (spec.md §4.I "On ShouldYield").
func (s *Stream) WriteBlocked() bool { return s.writeBlocked }
