package qpack

import (
	"github.com/xtls/xquic/internal/lru"
	"github.com/xtls/xquic/quicerr"
)

// EncoderStreamErrorDelegate is notified of fatal errors observed while
// processing instructions received on the encoder stream, spec.md §7.5.
type EncoderStreamErrorDelegate interface {
	OnEncoderStreamError(code quicerr.QPACKCode, reason string)
}

type blockedBlock struct {
	rest                []byte
	base                uint64
	requiredInsertCount uint64
	onComplete          func([]HeaderField, error)
}

// Decoder implements the QPACK decoder side: the encoder-stream
// instruction receiver (mutating its own dynamic table) and header-block
// decoding with blocked-stream resumption, spec.md §4.M.
//
// Grounded on original_source's qpack_decoder.cc; the blocked-stream
// bookkeeping is additionally bounded by internal/lru.Cache
// (SPEC_FULL.md §9 "QuicLRUCache" supplement) sized to maximumBlockedStreams
// so a misbehaving or buggy peer cannot grow unbounded decoder memory.
type Decoder struct {
	table             *DynamicTable
	maxBlockedStreams uint64
	blocked           *lru.Cache[uint64, *blockedBlock]

	decoderStreamBuf  []byte
	pendingIncrement  uint64
	errDelegate       EncoderStreamErrorDelegate
}

// NewDecoder creates a decoder whose dynamic table holds at most
// maxDynamicTableCapacity bytes and tolerates at most maxBlockedStreams
// concurrently blocked request streams.
func NewDecoder(maxDynamicTableCapacity, maxBlockedStreams uint64, errDelegate EncoderStreamErrorDelegate) *Decoder {
	capacity := int(maxBlockedStreams)
	if capacity <= 0 {
		capacity = 1
	}
	return &Decoder{
		table:             NewDynamicTable(maxDynamicTableCapacity),
		maxBlockedStreams: maxBlockedStreams,
		blocked:           lru.New[uint64, *blockedBlock](capacity),
		errDelegate:       errDelegate,
	}
}

// ProcessEncoderStreamInstructions consumes every complete instruction in
// data, applying it to the dynamic table, and attempts to unblock any
// request stream whose header block can now be decoded.
func (d *Decoder) ProcessEncoderStreamInstructions(data []byte) (consumed int) {
	for consumed < len(data) {
		inst, n, ok, err := ConsumeEncoderInstruction(data[consumed:])
		if err != nil {
			d.fail("malformed encoder stream instruction: " + err.Error())
			return consumed
		}
		if !ok {
			return consumed
		}
		if !d.apply(inst) {
			return consumed
		}
		consumed += n
	}
	return consumed
}

func (d *Decoder) apply(inst EncoderInstruction) bool {
	switch inst.Type {
	case EncInstSetCapacity:
		d.table.SetCapacity(inst.Capacity)
		return true
	case EncInstInsertWithNameRef:
		var name string
		var ok bool
		if inst.IsStatic {
			name, _, ok = StaticEntry(inst.NameIndex)
		} else {
			name, _, ok = d.table.Entry(EncoderStreamRelativeToAbsolute(inst.NameIndex, d.table.InsertedEntryCount()))
		}
		if !ok {
			d.fail("Insert With Name Reference: invalid name index")
			return false
		}
		if _, ok := d.table.Insert(name, inst.Value); !ok {
			d.fail("Insert With Name Reference: entry exceeds dynamic table capacity")
			return false
		}
		d.onInsert()
		return true
	case EncInstInsertWithoutNameRef:
		if _, ok := d.table.Insert(inst.Name, inst.Value); !ok {
			d.fail("Insert Without Name Reference: entry exceeds dynamic table capacity")
			return false
		}
		d.onInsert()
		return true
	case EncInstDuplicate:
		name, value, ok := d.table.Entry(EncoderStreamRelativeToAbsolute(inst.RelIndex, d.table.InsertedEntryCount()))
		if !ok {
			d.fail("Duplicate: invalid index")
			return false
		}
		if _, ok := d.table.Insert(name, value); !ok {
			d.fail("Duplicate: entry exceeds dynamic table capacity")
			return false
		}
		d.onInsert()
		return true
	}
	return true
}

func (d *Decoder) onInsert() {
	d.pendingIncrement++
	var unblocked []uint64
	d.blocked.Range(func(streamID uint64, b *blockedBlock) {
		if b.requiredInsertCount <= d.table.InsertedEntryCount() {
			unblocked = append(unblocked, streamID)
		}
	})
	for _, streamID := range unblocked {
		b, ok := d.blocked.Get(streamID)
		if !ok {
			continue
		}
		d.blocked.Delete(streamID)
		d.finishHeaderBlock(streamID, b.rest, b.base, b.requiredInsertCount, b.onComplete)
	}
}

// DecodeHeaderBlock decodes one HEADERS frame payload for streamID. If the
// block references entries not yet inserted, the stream is registered as
// blocked and onComplete is invoked later, once ProcessEncoderStreamInstructions
// has observed enough insertions.
func (d *Decoder) DecodeHeaderBlock(streamID uint64, payload []byte, onComplete func([]HeaderField, error)) {
	requiredInsertCount, base, n, err := DecodeHeaderBlockPrefix(payload, d.table.MaxEntries(), d.table.InsertedEntryCount())
	if err != nil {
		onComplete(nil, err)
		return
	}
	rest := payload[n:]
	if requiredInsertCount > d.table.InsertedEntryCount() {
		d.blocked.Put(streamID, &blockedBlock{rest: rest, base: base, requiredInsertCount: requiredInsertCount, onComplete: onComplete})
		return
	}
	d.finishHeaderBlock(streamID, rest, base, requiredInsertCount, onComplete)
}

func (d *Decoder) finishHeaderBlock(streamID uint64, rest []byte, base, requiredInsertCount uint64, onComplete func([]HeaderField, error)) {
	var headers []HeaderField
	for len(rest) > 0 {
		rep, rn, err := ConsumeRepresentation(rest, base)
		if err != nil {
			onComplete(nil, quicerr.CloseQPACK(quicerr.QPACKDecompressionFailed, err.Error()))
			return
		}
		rest = rest[rn:]
		switch rep.Type {
		case RepIndexed:
			var name, value string
			var ok bool
			if rep.IsStatic {
				name, value, ok = StaticEntry(rep.Index)
			} else {
				name, value, ok = d.table.Entry(rep.Index)
			}
			if !ok {
				onComplete(nil, quicerr.CloseQPACK(quicerr.QPACKDecompressionFailed, "indexed field line references missing entry"))
				return
			}
			headers = append(headers, HeaderField{Name: name, Value: value})
		case RepLiteralWithNameReference:
			var name string
			var ok bool
			if rep.IsStatic {
				name, _, ok = StaticEntry(rep.Index)
			} else {
				name, _, ok = d.table.Entry(rep.Index)
			}
			if !ok {
				onComplete(nil, quicerr.CloseQPACK(quicerr.QPACKDecompressionFailed, "literal field line references missing name"))
				return
			}
			headers = append(headers, HeaderField{Name: name, Value: rep.Value})
		case RepLiteralWithLiteralName:
			headers = append(headers, HeaderField{Name: rep.Name, Value: rep.Value})
		}
	}

	if requiredInsertCount > 0 {
		d.flushInsertCountIncrement()
		d.decoderStreamBuf = EncodeHeaderAcknowledgement(d.decoderStreamBuf, streamID)
	}
	onComplete(headers, nil)
}

// OnStreamCancellation is called when a request stream is reset or
// abandoned before its header block (if any) was fully processed.
func (d *Decoder) OnStreamCancellation(streamID uint64) {
	if _, ok := d.blocked.Get(streamID); ok {
		d.blocked.Delete(streamID)
	}
	d.decoderStreamBuf = EncodeStreamCancellation(d.decoderStreamBuf, streamID)
}

// flushInsertCountIncrement appends an Insert Count Increment instruction
// for any insertions not yet covered by a Header Acknowledgement, spec.md
// §4.M "periodically, Insert-Count-Increment for un-ack'd inserts".
func (d *Decoder) flushInsertCountIncrement() {
	if d.pendingIncrement == 0 {
		return
	}
	d.decoderStreamBuf = EncodeInsertCountIncrement(d.decoderStreamBuf, d.pendingIncrement)
	d.pendingIncrement = 0
}

// TakeDecoderStreamInstructions returns and clears any decoder-stream
// instructions queued since the last call, to be written to the wire.
func (d *Decoder) TakeDecoderStreamInstructions() []byte {
	d.flushInsertCountIncrement()
	b := d.decoderStreamBuf
	d.decoderStreamBuf = nil
	return b
}

func (d *Decoder) fail(reason string) {
	if d.errDelegate != nil {
		d.errDelegate.OnEncoderStreamError(quicerr.QPACKEncoderStreamError, reason)
	}
}
