package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntervalSetAddCoalesces(t *testing.T) {
	var s intervalSet
	s.Add(0, 10)
	s.Add(10, 20)
	assert.True(t, s.Contains(0, 20))
	iv, ok := s.Front()
	assert.True(t, ok)
	assert.Equal(t, byteInterval{0, 20}, iv)
}

func TestIntervalSetUncovered(t *testing.T) {
	var s intervalSet
	s.Add(5, 10)
	got := s.Uncovered(0, 15)
	assert.Equal(t, []byteInterval{{0, 5}, {10, 15}}, got)
}

func TestIntervalSetRemove(t *testing.T) {
	var s intervalSet
	s.Add(0, 20)
	s.Remove(5, 10)
	assert.False(t, s.Contains(0, 20))
	assert.True(t, s.Contains(0, 5))
	assert.True(t, s.Contains(10, 20))
}

func TestIntervalSetOverlaps(t *testing.T) {
	var s intervalSet
	s.Add(10, 20)
	assert.True(t, s.Overlaps(15, 25))
	assert.False(t, s.Overlaps(20, 30))
	assert.False(t, s.Overlaps(0, 10))
}
