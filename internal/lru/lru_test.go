package lru

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheGetMissReturnsZeroValue(t *testing.T) {
	c := New[string, int](2)
	v, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestCachePutAndGet(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3) // evicts "a"

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCacheGetRefreshesRecency(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // "a" is now most-recently-used
	c.Put("c", 3) // must evict "b", not "a"

	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCachePutExistingKeyUpdatesValueWithoutGrowing(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("a", 2)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestCacheDelete(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCacheNonPositiveCapacityDefaultsToOne(t *testing.T) {
	c := New[string, int](0)
	c.Put("a", 1)
	c.Put("b", 2)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCacheRangeVisitsOldestFirstWithoutAffectingRecency(t *testing.T) {
	c := New[string, int](3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	var keys []string
	c.Range(func(key string, value int) { keys = append(keys, key) })
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	// Range must not have disturbed recency: "a" is still the eviction
	// candidate.
	c.Put("d", 4)
	_, ok := c.Get("a")
	assert.False(t, ok)
}
