package quictime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarIntRoundTrip(t *testing.T) {
	values := []uint64{
		0, 1, 37, MaxVarInt1,
		MaxVarInt1 + 1, 15293, MaxVarInt2,
		MaxVarInt2 + 1, 494878333, MaxVarInt4,
		MaxVarInt4 + 1, 151288809941952652, MaxVarInt8,
	}
	for _, v := range values {
		enc := AppendVarInt(nil, v)
		got, n, ok := ConsumeVarInt(enc)
		require.True(t, ok)
		assert.Equal(t, len(enc), n)
		assert.Equal(t, v, got)
	}
}

func TestVarIntLenBoundaries(t *testing.T) {
	assert.Equal(t, 1, VarIntLen(0))
	assert.Equal(t, 1, VarIntLen(MaxVarInt1))
	assert.Equal(t, 2, VarIntLen(MaxVarInt1+1))
	assert.Equal(t, 2, VarIntLen(MaxVarInt2))
	assert.Equal(t, 4, VarIntLen(MaxVarInt2+1))
	assert.Equal(t, 4, VarIntLen(MaxVarInt4))
	assert.Equal(t, 8, VarIntLen(MaxVarInt4+1))
	assert.Equal(t, 8, VarIntLen(MaxVarInt8))
	assert.Equal(t, 0, VarIntLen(MaxVarInt8+1))
}

func TestConsumeVarIntIncomplete(t *testing.T) {
	enc := AppendVarInt(nil, MaxVarInt2+1)
	_, _, ok := ConsumeVarInt(enc[:1])
	assert.False(t, ok)
	_, _, ok = ConsumeVarInt(nil)
	assert.False(t, ok)
}

// RFC 9000 Appendix A.1 worked examples.
func TestVarIntRFCExamples(t *testing.T) {
	cases := []struct {
		bytes []byte
		value uint64
	}{
		{[]byte{0xc2, 0x19, 0x7c, 0x5e, 0xff, 0x14, 0xe8, 0x8c}, 151288809941952652},
		{[]byte{0x9d, 0x7f, 0x3e, 0x7d}, 494878333},
		{[]byte{0x7b, 0xbd}, 15293},
		{[]byte{0x25}, 37},
		{[]byte{0x40, 0x25}, 37},
	}
	for _, c := range cases {
		got, n, ok := ConsumeVarInt(c.bytes)
		require.True(t, ok)
		assert.Equal(t, len(c.bytes), n)
		assert.Equal(t, c.value, got)
	}
}
