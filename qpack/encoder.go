package qpack

import (
	"strings"

	"github.com/xtls/xquic/quicerr"
)

// drainingFraction is the oldest share of dynamic-table entries an
// encoding pass refuses to reference directly (it duplicates them
// instead), spec.md §4.M and glossary "Draining index".
const drainingFraction = 0.25

// HeaderField is one name/value pair of a header list to encode.
type HeaderField struct {
	Name  string
	Value string
}

// DecoderStreamErrorDelegate is notified of fatal errors observed while
// processing instructions received on the decoder stream, spec.md §7.5:
// such an error terminates the whole connection.
type DecoderStreamErrorDelegate interface {
	OnDecoderStreamError(code quicerr.QPACKCode, reason string)
}

// Encoder implements the QPACK encoder side: dynamic-table insertion
// decisions, header-block encoding, and the decoder-stream instruction
// receiver, spec.md §4.M.
//
// Grounded on original_source's qpack_encoder.cc FirstPassEncode /
// SecondPassEncode / EncodeHeaderList, with histogram calls (telemetry
// only, SPEC_FULL.md §9) dropped.
type Encoder struct {
	table             *DynamicTable
	blocking          *BlockingManager
	maxBlockedStreams uint64
	errDelegate       DecoderStreamErrorDelegate

	encoderStreamBuf []byte
	headerListCount  uint64
}

// NewEncoder creates an encoder whose dynamic table holds at most
// maxDynamicTableCapacity bytes and allows at most maxBlockedStreams
// concurrently blocked decoder streams.
func NewEncoder(maxDynamicTableCapacity, maxBlockedStreams uint64, errDelegate DecoderStreamErrorDelegate) *Encoder {
	return &Encoder{
		table:             NewDynamicTable(maxDynamicTableCapacity),
		blocking:          NewBlockingManager(maxBlockedStreams),
		maxBlockedStreams: maxBlockedStreams,
		errDelegate:       errDelegate,
	}
}

// SetDynamicTableCapacity lowers or raises the dynamic table's capacity
// (bounded by the maximum negotiated via SETTINGS) and queues the
// corresponding encoder-stream instruction.
func (e *Encoder) SetDynamicTableCapacity(capacity uint64) {
	e.encoderStreamBuf = EncodeSetDynamicTableCapacity(e.encoderStreamBuf, capacity)
	e.table.SetCapacity(capacity)
}

// SetMaximumBlockedStreams raises the limit on simultaneously blocked
// streams; see BlockingManager.SetMaximumBlockedStreams.
func (e *Encoder) SetMaximumBlockedStreams(max uint64) bool {
	if !e.blocking.SetMaximumBlockedStreams(max) {
		return false
	}
	e.maxBlockedStreams = max
	return true
}

func splitValues(headers []HeaderField) []HeaderField {
	out := make([]HeaderField, 0, len(headers))
	for _, h := range headers {
		if !strings.Contains(h.Value, "\x00") {
			out = append(out, h)
			continue
		}
		for _, part := range strings.Split(h.Value, "\x00") {
			out = append(out, HeaderField{Name: h.Name, Value: part})
		}
	}
	return out
}

type pendingRep struct {
	static bool
	abs    uint64 // absolute dynamic index for RepIndexed/RepLiteralWithNameReference when !static
	lit    Representation
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// EncodeHeaderList encodes headers as sent on stream streamID, returning
// the header block to place in a HEADERS frame and any encoder-stream
// instructions generated as a side effect (to be written to the encoder
// stream ahead of, or at least before, the header block is acknowledged).
func (e *Encoder) EncodeHeaderList(streamID uint64, headers []HeaderField) (headerBlock []byte, encoderInstructions []byte) {
	referred := IndexSet{}
	var reps []pendingRep

	knownReceived := e.blocking.KnownReceivedCount()
	smallestNonEvictable := minU64(e.blocking.SmallestBlockingIndex(), knownReceived)
	drainIndex := e.table.DrainingIndex(drainingFraction)
	blockingAllowed := e.blocking.BlockingAllowedOnStream(streamID)

	for _, h := range splitValues(headers) {
		name, value := h.Name, h.Value
		match, isStatic, idx := e.table.FindHeaderField(name, value)

		switch match {
		case MatchNameValue:
			if isStatic {
				reps = append(reps, pendingRep{static: true, abs: idx})
				continue
			}
			if idx >= drainIndex {
				if !blockingAllowed && idx >= knownReceived {
					reps = append(reps, pendingRep{lit: Representation{Type: RepLiteralWithLiteralName, Name: name, Value: value}})
					continue
				}
				referred[idx] = struct{}{}
				reps = append(reps, pendingRep{abs: idx})
				smallestNonEvictable = minU64(smallestNonEvictable, idx)
				continue
			}
			// Entry is draining: duplicate it so the new copy is not stale.
			floor := minU64(smallestNonEvictable, idx)
			if blockingAllowed && e.table.CanInsert(name, value, floor) {
				rel := AbsoluteToEncoderStreamRelative(idx, e.table.InsertedEntryCount())
				e.encoderStreamBuf = EncodeDuplicate(e.encoderStreamBuf, rel)
				newIdx, _ := e.table.InsertProtected(name, value, floor)
				referred[newIdx] = struct{}{}
				reps = append(reps, pendingRep{abs: newIdx})
				smallestNonEvictable = minU64(smallestNonEvictable, idx)
				continue
			}
			reps = append(reps, pendingRep{lit: Representation{Type: RepLiteralWithLiteralName, Name: name, Value: value}})

		case MatchName:
			if isStatic {
				if blockingAllowed && e.table.CanInsert(name, value, smallestNonEvictable) {
					e.encoderStreamBuf = EncodeInsertWithNameReference(e.encoderStreamBuf, true, idx, value)
					newIdx, _ := e.table.InsertProtected(name, value, smallestNonEvictable)
					referred[newIdx] = struct{}{}
					reps = append(reps, pendingRep{abs: newIdx})
					smallestNonEvictable = minU64(smallestNonEvictable, newIdx)
					continue
				}
				reps = append(reps, pendingRep{lit: Representation{Type: RepLiteralWithNameReference, IsStatic: true, Index: idx, Value: value}})
				continue
			}
			floor := minU64(smallestNonEvictable, idx)
			if blockingAllowed && e.table.CanInsert(name, value, floor) {
				rel := AbsoluteToEncoderStreamRelative(idx, e.table.InsertedEntryCount())
				e.encoderStreamBuf = EncodeInsertWithNameReference(e.encoderStreamBuf, false, rel, value)
				newIdx, _ := e.table.InsertProtected(name, value, floor)
				referred[newIdx] = struct{}{}
				reps = append(reps, pendingRep{abs: newIdx})
				smallestNonEvictable = minU64(smallestNonEvictable, idx)
				continue
			}
			if (blockingAllowed || idx < knownReceived) && idx >= drainIndex {
				referred[idx] = struct{}{}
				reps = append(reps, pendingRep{lit: Representation{Type: RepLiteralWithNameReference, IsStatic: false, Index: idx, Value: value}, abs: idx})
				smallestNonEvictable = minU64(smallestNonEvictable, idx)
				continue
			}
			reps = append(reps, pendingRep{lit: Representation{Type: RepLiteralWithLiteralName, Name: name, Value: value}})

		case MatchNone:
			if blockingAllowed && e.table.CanInsert(name, value, smallestNonEvictable) {
				e.encoderStreamBuf = EncodeInsertWithoutNameReference(e.encoderStreamBuf, name, value)
				newIdx, _ := e.table.InsertProtected(name, value, smallestNonEvictable)
				referred[newIdx] = struct{}{}
				reps = append(reps, pendingRep{abs: newIdx})
				continue
			}
			reps = append(reps, pendingRep{lit: Representation{Type: RepLiteralWithLiteralName, Name: name, Value: value}})
		}
	}

	e.headerListCount++

	var requiredInsertCount uint64
	if len(referred) > 0 {
		requiredInsertCount = RequiredInsertCount(referred)
		e.blocking.OnHeaderBlockSent(streamID, referred, requiredInsertCount)
	}
	base := requiredInsertCount

	headerBlock = EncodeHeaderBlockPrefix(nil, requiredInsertCount, e.table.MaxEntries())
	for _, r := range reps {
		switch {
		case r.lit.Type == RepLiteralWithLiteralName:
			headerBlock = EncodeLiteralWithLiteralName(headerBlock, r.lit.Name, r.lit.Value)
		case r.lit.Type == RepLiteralWithNameReference:
			idx := r.lit.Index
			if !r.lit.IsStatic {
				idx = AbsoluteToRequestStreamRelative(idx, base)
			}
			headerBlock = EncodeLiteralWithNameReference(headerBlock, r.lit.IsStatic, idx, r.lit.Value)
		default: // indexed
			idx := r.abs
			if !r.static {
				idx = AbsoluteToRequestStreamRelative(idx, base)
			}
			headerBlock = EncodeIndexedHeaderField(headerBlock, r.static, idx)
		}
	}

	encoderInstructions = e.encoderStreamBuf
	e.encoderStreamBuf = nil
	return headerBlock, encoderInstructions
}

// OnHeaderAcknowledgement processes a Header Acknowledgement instruction
// received on the decoder stream.
func (e *Encoder) OnHeaderAcknowledgement(streamID uint64) {
	if !e.blocking.OnHeaderAcknowledgement(streamID) {
		e.fail(quicerr.QPACKDecoderStreamError, "Header Acknowledgement for stream with no outstanding header blocks")
	}
}

// OnStreamCancellation processes a Stream Cancellation instruction.
func (e *Encoder) OnStreamCancellation(streamID uint64) {
	e.blocking.OnStreamCancellation(streamID)
}

// OnInsertCountIncrement processes an Insert Count Increment instruction.
func (e *Encoder) OnInsertCountIncrement(increment uint64) {
	if increment == 0 {
		e.fail(quicerr.QPACKDecoderStreamError, "Insert Count Increment with zero increment")
		return
	}
	if !e.blocking.OnInsertCountIncrement(increment) {
		e.fail(quicerr.QPACKDecoderStreamError, "Insert Count Increment overflows known received count")
		return
	}
	if e.blocking.KnownReceivedCount() > e.table.InsertedEntryCount() {
		e.fail(quicerr.QPACKDecoderStreamError, "Insert Count Increment raises known received count past inserted entry count")
	}
}

func (e *Encoder) fail(code quicerr.QPACKCode, reason string) {
	if e.errDelegate != nil {
		e.errDelegate.OnDecoderStreamError(code, reason)
	}
}
