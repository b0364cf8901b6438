package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockingManagerCapsConcurrentBlockedStreams(t *testing.T) {
	// spec.md §8 scenario 3: max_blocked_streams = 2, a third stream
	// wanting to block must be refused.
	m := NewBlockingManager(2)

	assert.True(t, m.BlockingAllowedOnStream(1))
	m.OnHeaderBlockSent(1, IndexSet{0: {}}, 1)

	assert.True(t, m.BlockingAllowedOnStream(2))
	m.OnHeaderBlockSent(2, IndexSet{1: {}}, 2)

	// A third distinct stream has no spare blocking capacity.
	assert.False(t, m.BlockingAllowedOnStream(3))

	// But stream 1, already blocked, may still emit more references.
	assert.True(t, m.BlockingAllowedOnStream(1))

	// Acknowledging stream 1 frees capacity for stream 3.
	assert.True(t, m.OnHeaderAcknowledgement(1))
	assert.True(t, m.BlockingAllowedOnStream(3))
}

func TestBlockingManagerKnownReceivedCountUnblocks(t *testing.T) {
	m := NewBlockingManager(1)
	assert.True(t, m.BlockingAllowedOnStream(5))
	m.OnHeaderBlockSent(5, IndexSet{3: {}}, 4)
	assert.False(t, m.BlockingAllowedOnStream(6))

	assert.True(t, m.OnInsertCountIncrement(4))
	assert.Equal(t, uint64(4), m.KnownReceivedCount())
	assert.True(t, m.BlockingAllowedOnStream(6))
}

func TestBlockingManagerStreamCancellationReleasesCapacity(t *testing.T) {
	m := NewBlockingManager(1)
	m.OnHeaderBlockSent(1, IndexSet{0: {}}, 1)
	assert.False(t, m.BlockingAllowedOnStream(2))

	m.OnStreamCancellation(1)
	assert.True(t, m.BlockingAllowedOnStream(2))
}

func TestBlockingManagerSetMaximumBlockedStreamsNeverShrinks(t *testing.T) {
	m := NewBlockingManager(4)
	assert.False(t, m.SetMaximumBlockedStreams(2))
	assert.True(t, m.SetMaximumBlockedStreams(8))
}
