package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferWriteAndBytes(t *testing.T) {
	b := New()
	defer b.Release()

	n, err := b.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("hello"), b.Bytes())
	assert.Equal(t, 5, b.Len())
}

func TestBufferWriteAppendsAcrossCalls(t *testing.T) {
	b := New()
	defer b.Release()

	b.Write([]byte("foo"))
	b.Write([]byte("bar"))
	assert.Equal(t, []byte("foobar"), b.Bytes())
}

func TestBufferGrowsBeyondPoolSize(t *testing.T) {
	b := New()
	defer b.Release()

	big := make([]byte, Size*2)
	for i := range big {
		big[i] = byte(i)
	}
	n, err := b.Write(big)
	assert.NoError(t, err)
	assert.Equal(t, len(big), n)
	assert.Equal(t, big, b.Bytes())
	assert.GreaterOrEqual(t, b.Cap(), len(big))
}

func TestBufferAdvanceDiscardsFromFront(t *testing.T) {
	b := New()
	defer b.Release()

	b.Write([]byte("hello world"))
	b.Advance(6)
	assert.Equal(t, []byte("world"), b.Bytes())
}

func TestBufferAdvanceClampsToEnd(t *testing.T) {
	b := New()
	defer b.Release()

	b.Write([]byte("hi"))
	b.Advance(100)
	assert.Equal(t, 0, b.Len())
}

func TestBufferClearResetsWithoutReleasing(t *testing.T) {
	b := New()
	b.Write([]byte("data"))
	b.Clear()
	assert.Equal(t, 0, b.Len())
	b.Write([]byte("more"))
	assert.Equal(t, []byte("more"), b.Bytes())
	b.Release()
}

func TestBufferReleaseEmptiesBuffer(t *testing.T) {
	b := New()
	b.Write([]byte("recycled"))
	b.Release()
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Bytes())
}

func TestFromBytesWrapsWithoutPooling(t *testing.T) {
	raw := []byte("unmanaged")
	b := FromBytes(raw)
	assert.Equal(t, raw, b.Bytes())
	assert.Equal(t, len(raw), b.Len())
	b.Release() // must not panic even though raw isn't pool-sized
}

func TestReleaseOnNilBufferIsSafe(t *testing.T) {
	var b *Buffer
	b.Release()
}
