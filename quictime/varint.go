package quictime

import "github.com/xtls/xquic/quicerr"

// Variable-length integer encoding, RFC 9000 §16. The top two bits of the
// first byte select the encoded length (1/2/4/8 bytes); the remaining bits
// of the first byte plus all following bytes are the big-endian value.

const (
	MaxVarInt1 = 1<<6 - 1
	MaxVarInt2 = 1<<14 - 1
	MaxVarInt4 = 1<<30 - 1
	MaxVarInt8 = 1<<62 - 1
)

// VarIntLen returns the number of bytes needed to encode v, or 0 if v
// exceeds the 62-bit range a QUIC varint can represent.
func VarIntLen(v uint64) int {
	switch {
	case v <= MaxVarInt1:
		return 1
	case v <= MaxVarInt2:
		return 2
	case v <= MaxVarInt4:
		return 4
	case v <= MaxVarInt8:
		return 8
	default:
		return 0
	}
}

// AppendVarInt appends the varint encoding of v to dst and returns the
// extended slice. Panics if v exceeds the representable range; callers
// that accept untrusted sizes must range-check first.
func AppendVarInt(dst []byte, v uint64) []byte {
	switch n := VarIntLen(v); n {
	case 1:
		return append(dst, byte(v))
	case 2:
		return append(dst, byte(v>>8)|0x40, byte(v))
	case 4:
		return append(dst, byte(v>>24)|0x80, byte(v>>16), byte(v>>8), byte(v))
	case 8:
		return append(dst, byte(v>>56)|0xc0, byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		panic("quictime: varint value out of range")
	}
}

// ConsumeVarInt reads one varint from the front of b, returning the value,
// the number of bytes consumed, and ok=false if b does not hold a complete
// varint.
func ConsumeVarInt(b []byte) (value uint64, n int, ok bool) {
	if len(b) == 0 {
		return 0, 0, false
	}
	length := 1 << (b[0] >> 6)
	if len(b) < length {
		return 0, 0, false
	}
	v := uint64(b[0] & 0x3f)
	for i := 1; i < length; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, length, true
}

// ErrVarIntTooLarge is returned by readers that require a value to fit a
// narrower type than uint64 (e.g. int64 stream offsets).
var ErrVarIntTooLarge = quicerr.New("varint value does not fit target type")
