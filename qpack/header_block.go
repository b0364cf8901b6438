package qpack

import "github.com/xtls/xquic/quicerr"

// MaxEntries is RFC 9204 §3.2.2's floor(capacity/32) figure used by the
// required-insert-count wire encoding to wrap indices into a small field.
func (t *DynamicTable) MaxEntries() uint64 { return t.capacity / entryOverhead }

// EncodeRequiredInsertCount maps an absolute required insert count to its
// compact wire encoding, RFC 9204 §4.5.1.1.
func EncodeRequiredInsertCount(requiredInsertCount, maxEntries uint64) uint64 {
	if requiredInsertCount == 0 {
		return 0
	}
	return (requiredInsertCount % (2 * maxEntries)) + 1
}

// DecodeRequiredInsertCount inverts EncodeRequiredInsertCount given the
// total number of insertions the decoder has observed so far, RFC 9204
// §4.5.1.2.
func DecodeRequiredInsertCount(encoded, maxEntries, totalInserts uint64) (uint64, error) {
	if encoded == 0 {
		return 0, nil
	}
	if maxEntries == 0 {
		return 0, quicerr.New("qpack: required insert count encoded with zero max entries").AtError()
	}
	fullRange := 2 * maxEntries
	if encoded > fullRange {
		return 0, quicerr.New("qpack: required insert count out of range").AtError()
	}
	maxValue := totalInserts + maxEntries
	maxWrapped := (maxValue / fullRange) * fullRange
	reqInsertCount := maxWrapped + encoded - 1
	if reqInsertCount > maxValue {
		if reqInsertCount <= fullRange {
			return 0, quicerr.New("qpack: required insert count wraps below zero").AtError()
		}
		reqInsertCount -= fullRange
	}
	if reqInsertCount == 0 {
		return 0, quicerr.New("qpack: required insert count decodes to zero after wrap").AtError()
	}
	return reqInsertCount, nil
}

// AbsoluteToRequestStreamRelative converts an absolute dynamic-table index
// to the pre-Base relative index used inside a header block, spec.md
// §4.M "converted from absolute to request-stream-relative".
func AbsoluteToRequestStreamRelative(index, base uint64) uint64 { return base - index - 1 }

// RequestStreamRelativeToAbsolute is the decoder-side inverse.
func RequestStreamRelativeToAbsolute(relative, base uint64) uint64 { return base - relative - 1 }

// AbsoluteToEncoderStreamRelative converts an absolute dynamic-table index
// to the relative index used by a Duplicate instruction on the encoder
// stream (relative to the table's current insert count at encode time).
func AbsoluteToEncoderStreamRelative(index, insertedEntryCount uint64) uint64 {
	return insertedEntryCount - index - 1
}

// EncoderStreamRelativeToAbsolute is the decoder-side inverse, used when
// the decoder applies a Duplicate instruction.
func EncoderStreamRelativeToAbsolute(relative, insertedEntryCount uint64) uint64 {
	return insertedEntryCount - relative - 1
}

// --- Header block prefix, RFC 9204 §4.5.1 ---

// EncodeHeaderBlockPrefix appends the (Required Insert Count, S bit + Delta
// Base) prefix for a header block whose Base equals requiredInsertCount
// (this encoder never needs a non-zero delta base or post-Base indices,
// see DESIGN.md: Base is always set to Required Insert Count directly).
func EncodeHeaderBlockPrefix(dst []byte, requiredInsertCount, maxEntries uint64) []byte {
	encoded := EncodeRequiredInsertCount(requiredInsertCount, maxEntries)
	dst = appendPrefixedInt(dst, 0, 8, encoded)
	return appendPrefixedInt(dst, 0, 7, 0) // S=0, DeltaBase=0 => Base = requiredInsertCount
}

// DecodeHeaderBlockPrefix decodes the header block prefix, returning the
// required insert count and the Base used to resolve relative indices.
func DecodeHeaderBlockPrefix(b []byte, maxEntries, totalInserts uint64) (requiredInsertCount, base uint64, n int, err error) {
	encoded, n1, ok := consumePrefixedInt(b, 8)
	if !ok {
		return 0, 0, 0, quicerr.New("qpack: truncated header block prefix").AtError()
	}
	requiredInsertCount, err = DecodeRequiredInsertCount(encoded, maxEntries, totalInserts)
	if err != nil {
		return 0, 0, 0, err
	}
	rest := b[n1:]
	if len(rest) == 0 {
		return 0, 0, 0, quicerr.New("qpack: truncated header block delta base").AtError()
	}
	sign := rest[0]&0x80 != 0
	deltaBase, n2, ok := consumePrefixedInt(rest, 7)
	if !ok {
		return 0, 0, 0, quicerr.New("qpack: truncated header block delta base").AtError()
	}
	if sign {
		if deltaBase+1 > requiredInsertCount {
			return 0, 0, 0, quicerr.New("qpack: negative base underflow").AtError()
		}
		base = requiredInsertCount - deltaBase - 1
	} else {
		base = requiredInsertCount + deltaBase
	}
	return requiredInsertCount, base, n1 + n2, nil
}

// --- Field line representations, RFC 9204 §4.5.2/4.5.4/4.5.6 ---
//
// Post-Base representations (§4.5.3/4.5.5) are never emitted by Encoder:
// it always sets Base = RequiredInsertCount, so every referenced index is
// strictly below Base and pre-Base encoding always suffices (DESIGN.md).

// RepresentationType distinguishes the three field-line representations
// this module emits and parses.
type RepresentationType int

const (
	RepIndexed RepresentationType = iota
	RepLiteralWithNameReference
	RepLiteralWithLiteralName
)

// Representation is one decoded field-line representation, with indices
// already resolved to dynamic-table absolute form (or left as static
// table indices when IsStatic).
type Representation struct {
	Type     RepresentationType
	IsStatic bool
	Index    uint64 // Indexed, LiteralWithNameReference
	Name     string // LiteralWithLiteralName
	Value    string // LiteralWithNameReference, LiteralWithLiteralName
}

// EncodeIndexedHeaderField appends an Indexed Field Line referencing
// relativeIndex (already Base-relative for dynamic entries; static
// indices are absolute).
func EncodeIndexedHeaderField(dst []byte, isStatic bool, relativeIndex uint64) []byte {
	pattern := byte(0x80)
	if isStatic {
		pattern |= 0x40
	}
	return appendPrefixedInt(dst, pattern, 6, relativeIndex)
}

// EncodeLiteralWithNameReference appends a Literal Field Line With Name
// Reference.
func EncodeLiteralWithNameReference(dst []byte, isStatic bool, relativeIndex uint64, value string) []byte {
	pattern := byte(0x40)
	if isStatic {
		pattern |= 0x10
	}
	dst = appendPrefixedInt(dst, pattern, 4, relativeIndex)
	return appendString(dst, 7, value)
}

// EncodeLiteralWithLiteralName appends a Literal Field Line With Literal
// Name.
func EncodeLiteralWithLiteralName(dst []byte, name, value string) []byte {
	dst = appendPrefixedInt(dst, 0x20, 3, uint64(len(name)))
	dst = append(dst, name...)
	return appendString(dst, 7, value)
}

// ConsumeRepresentation decodes one field-line representation from the
// front of b. Dynamic-table indices are returned already converted to
// absolute form using base.
func ConsumeRepresentation(b []byte, base uint64) (rep Representation, n int, err error) {
	if len(b) == 0 {
		return Representation{}, 0, quicerr.New("qpack: truncated header block").AtError()
	}
	first := b[0]
	switch {
	case first&0x80 != 0: // Indexed Field Line: 1 T Index(6+)
		isStatic := first&0x40 != 0
		idx, n1, ok := consumePrefixedInt(b, 6)
		if !ok {
			return Representation{}, 0, quicerr.New("qpack: truncated indexed field line").AtError()
		}
		if !isStatic {
			idx = RequestStreamRelativeToAbsolute(idx, base)
		}
		return Representation{Type: RepIndexed, IsStatic: isStatic, Index: idx}, n1, nil
	case first&0xc0 == 0x40: // Literal With Name Reference: 0 1 N T Index(4+)
		isStatic := first&0x10 != 0
		idx, n1, ok := consumePrefixedInt(b, 4)
		if !ok {
			return Representation{}, 0, quicerr.New("qpack: truncated literal-with-name-reference").AtError()
		}
		value, n2, verr := consumeString(b[n1:], 7)
		if verr != nil {
			return Representation{}, 0, verr
		}
		if !isStatic {
			idx = RequestStreamRelativeToAbsolute(idx, base)
		}
		return Representation{Type: RepLiteralWithNameReference, IsStatic: isStatic, Index: idx, Value: value}, n1 + n2, nil
	case first&0xe0 == 0x20: // Literal With Literal Name: 0 0 1 N H NameLen(3+)
		nameLen, n1, ok := consumePrefixedInt(b, 3)
		if !ok {
			return Representation{}, 0, quicerr.New("qpack: truncated literal name length").AtError()
		}
		if first&0x08 != 0 {
			return Representation{}, 0, quicerr.New("qpack: Huffman-coded name not supported").AtError()
		}
		if uint64(len(b)-n1) < nameLen {
			return Representation{}, 0, quicerr.New("qpack: truncated literal name").AtError()
		}
		name := string(b[n1 : n1+int(nameLen)])
		rest := b[n1+int(nameLen):]
		value, n2, verr := consumeString(rest, 7)
		if verr != nil {
			return Representation{}, 0, verr
		}
		return Representation{Type: RepLiteralWithLiteralName, Name: name, Value: value}, n1 + int(nameLen) + n2, nil
	default:
		return Representation{}, 0, quicerr.New("qpack: post-Base representations are not supported").AtError()
	}
}
