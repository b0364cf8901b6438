package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticTableLookup(t *testing.T) {
	name, value, ok := StaticEntry(17)
	assert.True(t, ok)
	assert.Equal(t, ":method", name)
	assert.Equal(t, "GET", value)

	_, _, ok = StaticEntry(uint64(StaticTableSize))
	assert.False(t, ok)
}

func TestDynamicTableInsertAndEvict(t *testing.T) {
	table := NewDynamicTable(100) // room for ~2 small entries (32+len each)
	idx0, ok := table.Insert("a", "1")
	assert.True(t, ok)
	assert.Equal(t, uint64(0), idx0)

	idx1, ok := table.Insert("b", "2")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), idx1)

	// A third insert should evict the oldest once capacity is exceeded.
	idx2, ok := table.Insert("c", "3")
	assert.True(t, ok)
	assert.Equal(t, uint64(2), idx2)

	_, _, ok = table.Entry(0)
	assert.False(t, ok, "oldest entry should have been evicted")
	name, value, ok := table.Entry(2)
	assert.True(t, ok)
	assert.Equal(t, "c", name)
	assert.Equal(t, "3", value)
}

func TestDynamicTableMaxInsertSizeWithoutEvictingProtectsFloor(t *testing.T) {
	table := NewDynamicTable(200)
	idx0, _ := table.Insert("a", "1")
	_, _ = table.Insert("b", "2")

	// Protecting idx0 onward leaves no room for a large new entry even
	// though naive total capacity would allow it.
	floor := idx0
	avail := table.MaxInsertSizeWithoutEvicting(floor)
	assert.Less(t, avail, table.Capacity())
}

func TestFindHeaderFieldPrefersStaticExactMatch(t *testing.T) {
	table := NewDynamicTable(4096)
	match, isStatic, idx := table.FindHeaderField(":method", "GET")
	assert.Equal(t, MatchNameValue, match)
	assert.True(t, isStatic)
	assert.Equal(t, uint64(17), idx)
}

func TestFindHeaderFieldDynamicNameValueMatch(t *testing.T) {
	table := NewDynamicTable(4096)
	idx, ok := table.Insert("x-custom", "v1")
	assert.True(t, ok)

	match, isStatic, got := table.FindHeaderField("x-custom", "v1")
	assert.Equal(t, MatchNameValue, match)
	assert.False(t, isStatic)
	assert.Equal(t, idx, got)
}

func TestRequiredInsertCountRoundTrip(t *testing.T) {
	maxEntries := uint64(10)
	for _, want := range []uint64{0, 1, 5, 19, 20, 37} {
		enc := EncodeRequiredInsertCount(want, maxEntries)
		got, err := DecodeRequiredInsertCount(enc, maxEntries, want+5)
		assert.NoError(t, err)
		assert.Equal(t, want, got, "want=%d enc=%d", want, enc)
	}
}

func TestPrefixedIntRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 30, 31, 32, 127, 128, 1 << 20, 1 << 40} {
		for _, prefix := range []int{3, 4, 5, 6, 7, 8} {
			buf := appendPrefixedInt(nil, 0, prefix, v)
			got, n, ok := consumePrefixedInt(buf, prefix)
			assert.True(t, ok)
			assert.Equal(t, len(buf), n)
			assert.Equal(t, v, got, "prefix=%d v=%d", prefix, v)
		}
	}
}
