package qpack

import "github.com/xtls/xquic/quicerr"

// Prefixed integers, RFC 7541 §5.1 (reused verbatim by QPACK's RFC 9204
// instruction encodings). Unlike quictime's RFC 9000 varints, the prefix
// width varies per instruction (5, 6 or 7 bits) and the remaining high
// bits of the first byte carry the instruction's type pattern.

// appendPrefixedInt appends value encoded with a prefixBits-wide prefix,
// OR-ing patternBits (already shifted into the high bits) into the first
// byte.
func appendPrefixedInt(dst []byte, patternBits byte, prefixBits int, value uint64) []byte {
	max := uint64(1)<<uint(prefixBits) - 1
	if value < max {
		return append(dst, patternBits|byte(value))
	}
	dst = append(dst, patternBits|byte(max))
	value -= max
	for value >= 128 {
		dst = append(dst, byte(value%128)|0x80)
		value /= 128
	}
	return append(dst, byte(value))
}

// consumePrefixedInt decodes a prefixBits-wide prefixed integer from the
// front of b, ignoring the pattern bits above the prefix.
func consumePrefixedInt(b []byte, prefixBits int) (value uint64, n int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	max := uint64(1)<<uint(prefixBits) - 1
	value = uint64(b[0]) & max
	if value < max {
		return value, 1, true
	}
	n = 1
	var shift uint
	for {
		if n >= len(b) {
			return 0, 0, false
		}
		byt := b[n]
		n++
		value += uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			return value, n, true
		}
		shift += 7
		if shift > 63 {
			return 0, 0, false
		}
	}
}

// appendString appends a QPACK string literal: an H bit (always 0 — this
// module does not implement Huffman coding, see DESIGN.md) followed by a
// prefixBits-wide length and the raw bytes.
func appendString(dst []byte, prefixBits int, s string) []byte {
	dst = appendPrefixedInt(dst, 0, prefixBits, uint64(len(s)))
	return append(dst, s...)
}

// consumeString decodes a QPACK string literal. Returns an error if the H
// bit is set: Huffman decoding is not implemented (DESIGN.md).
func consumeString(b []byte, prefixBits int) (s string, n int, err error) {
	if len(b) == 0 {
		return "", 0, quicerr.New("qpack: truncated string literal").AtError()
	}
	huffman := b[0]&(1<<uint(prefixBits)) != 0
	length, ln, ok := consumePrefixedInt(b, prefixBits)
	if !ok {
		return "", 0, quicerr.New("qpack: truncated string length").AtError()
	}
	if huffman {
		return "", 0, quicerr.New("qpack: Huffman-coded string literal not supported").AtError()
	}
	if uint64(len(b)-ln) < length {
		return "", 0, quicerr.New("qpack: truncated string value").AtError()
	}
	return string(b[ln : ln+int(length)]), ln + int(length), nil
}

// --- Encoder-stream instructions, RFC 9204 §4.3 ---

// EncodeSetDynamicTableCapacity appends a Set Dynamic Table Capacity
// instruction (pattern 001, 5-bit prefix).
func EncodeSetDynamicTableCapacity(dst []byte, capacity uint64) []byte {
	return appendPrefixedInt(dst, 0x20, 5, capacity)
}

// EncodeInsertWithNameReference appends an Insert With Name Reference
// instruction (pattern 1T, 6-bit prefix for the name index, then the
// value as a string literal).
func EncodeInsertWithNameReference(dst []byte, isStatic bool, nameIndex uint64, value string) []byte {
	pattern := byte(0x80)
	if isStatic {
		pattern |= 0x40
	}
	dst = appendPrefixedInt(dst, pattern, 6, nameIndex)
	return appendString(dst, 7, value)
}

// EncodeInsertWithoutNameReference appends an Insert Without Name
// Reference instruction (pattern 01, then name and value string literals).
func EncodeInsertWithoutNameReference(dst []byte, name, value string) []byte {
	dst = appendPrefixedInt(dst, 0x40, 5, uint64(len(name)))
	dst = append(dst, name...)
	return appendString(dst, 7, value)
}

// EncodeDuplicate appends a Duplicate instruction (pattern 000, 5-bit
// prefix for the relative index).
func EncodeDuplicate(dst []byte, relativeIndex uint64) []byte {
	return appendPrefixedInt(dst, 0x00, 5, relativeIndex)
}

// EncoderInstructionType distinguishes the four encoder-stream
// instructions for a streaming decoder.
type EncoderInstructionType int

const (
	EncInstSetCapacity EncoderInstructionType = iota
	EncInstInsertWithNameRef
	EncInstInsertWithoutNameRef
	EncInstDuplicate
)

// EncoderInstruction is one decoded encoder-stream instruction.
type EncoderInstruction struct {
	Type       EncoderInstructionType
	IsStatic   bool   // InsertWithNameRef only
	NameIndex  uint64 // InsertWithNameRef, relative to dynamic table if !IsStatic
	Name       string // InsertWithoutNameRef only
	Value      string // InsertWithNameRef, InsertWithoutNameRef
	Capacity   uint64 // SetCapacity only
	RelIndex   uint64 // Duplicate only
}

// ConsumeEncoderInstruction decodes one encoder-stream instruction from
// the front of b.
func ConsumeEncoderInstruction(b []byte) (inst EncoderInstruction, n int, ok bool, err error) {
	if len(b) == 0 {
		return EncoderInstruction{}, 0, false, nil
	}
	first := b[0]
	switch {
	case first&0x80 != 0: // 1T......
		isStatic := first&0x40 != 0
		index, ni, okIdx := consumePrefixedInt(b, 6)
		if !okIdx {
			return EncoderInstruction{}, 0, false, nil
		}
		value, vn, verr := consumeString(b[ni:], 7)
		if verr != nil {
			return EncoderInstruction{}, 0, false, verr
		}
		return EncoderInstruction{Type: EncInstInsertWithNameRef, IsStatic: isStatic, NameIndex: index, Value: value}, ni + vn, true, nil
	case first&0xc0 == 0x40: // 01......
		nameLen, ni, okLen := consumePrefixedInt(b, 5)
		if !okLen {
			return EncoderInstruction{}, 0, false, nil
		}
		if first&0x20 != 0 {
			return EncoderInstruction{}, 0, false, quicerr.New("qpack: Huffman-coded name not supported").AtError()
		}
		if uint64(len(b)-ni) < nameLen {
			return EncoderInstruction{}, 0, false, nil
		}
		name := string(b[ni : ni+int(nameLen)])
		rest := b[ni+int(nameLen):]
		value, vn, verr := consumeString(rest, 7)
		if verr != nil {
			return EncoderInstruction{}, 0, false, verr
		}
		return EncoderInstruction{Type: EncInstInsertWithoutNameRef, Name: name, Value: value}, ni + int(nameLen) + vn, true, nil
	case first&0xe0 == 0x20: // 001.....
		capacity, ni, okCap := consumePrefixedInt(b, 5)
		if !okCap {
			return EncoderInstruction{}, 0, false, nil
		}
		return EncoderInstruction{Type: EncInstSetCapacity, Capacity: capacity}, ni, true, nil
	default: // 000.....
		index, ni, okIdx := consumePrefixedInt(b, 5)
		if !okIdx {
			return EncoderInstruction{}, 0, false, nil
		}
		return EncoderInstruction{Type: EncInstDuplicate, RelIndex: index}, ni, true, nil
	}
}

// --- Decoder-stream instructions, RFC 9204 §4.4 ---

// EncodeHeaderAcknowledgement appends a Section Acknowledgment instruction
// (pattern 1, 7-bit prefix).
func EncodeHeaderAcknowledgement(dst []byte, streamID uint64) []byte {
	return appendPrefixedInt(dst, 0x80, 7, streamID)
}

// EncodeStreamCancellation appends a Stream Cancellation instruction
// (pattern 01, 6-bit prefix).
func EncodeStreamCancellation(dst []byte, streamID uint64) []byte {
	return appendPrefixedInt(dst, 0x40, 6, streamID)
}

// EncodeInsertCountIncrement appends an Insert Count Increment
// instruction (pattern 00, 6-bit prefix).
func EncodeInsertCountIncrement(dst []byte, increment uint64) []byte {
	return appendPrefixedInt(dst, 0x00, 6, increment)
}

// DecoderInstructionType distinguishes the three decoder-stream
// instructions.
type DecoderInstructionType int

const (
	DecInstHeaderAck DecoderInstructionType = iota
	DecInstStreamCancellation
	DecInstInsertCountIncrement
)

// DecoderInstruction is one decoded decoder-stream instruction.
type DecoderInstruction struct {
	Type     DecoderInstructionType
	StreamID uint64 // HeaderAck, StreamCancellation
	Increment uint64 // InsertCountIncrement
}

// ConsumeDecoderInstruction decodes one decoder-stream instruction from
// the front of b.
func ConsumeDecoderInstruction(b []byte) (inst DecoderInstruction, n int, ok bool) {
	if len(b) == 0 {
		return DecoderInstruction{}, 0, false
	}
	first := b[0]
	switch {
	case first&0x80 != 0:
		v, ni, okv := consumePrefixedInt(b, 7)
		if !okv {
			return DecoderInstruction{}, 0, false
		}
		return DecoderInstruction{Type: DecInstHeaderAck, StreamID: v}, ni, true
	case first&0x40 != 0:
		v, ni, okv := consumePrefixedInt(b, 6)
		if !okv {
			return DecoderInstruction{}, 0, false
		}
		return DecoderInstruction{Type: DecInstStreamCancellation, StreamID: v}, ni, true
	default:
		v, ni, okv := consumePrefixedInt(b, 6)
		if !okv {
			return DecoderInstruction{}, 0, false
		}
		return DecoderInstruction{Type: DecInstInsertCountIncrement, Increment: v}, ni, true
	}
}
