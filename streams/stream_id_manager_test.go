package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtls/xquic/quicerr"
)

type fakeIDHooks struct {
	blockedSent   map[Direction]uint64
	maxStreamsSent map[Direction]uint64
	closed        bool
	canCreate     map[Direction]int
}

func newFakeIDHooks() *fakeIDHooks {
	return &fakeIDHooks{
		blockedSent:    make(map[Direction]uint64),
		maxStreamsSent: make(map[Direction]uint64),
		canCreate:      make(map[Direction]int),
	}
}

func (h *fakeIDHooks) SendStreamsBlocked(dir Direction, limit uint64) { h.blockedSent[dir] = limit }
func (h *fakeIDHooks) SendMaxStreams(dir Direction, limit uint64)     { h.maxStreamsSent[dir] = limit }
func (h *fakeIDHooks) CloseConnection(code quicerr.TransportCode, reason string) { h.closed = true }
func (h *fakeIDHooks) OnCanCreateOutgoing(dir Direction)              { h.canCreate[dir]++ }

func TestIDManagerClientOutgoingBidiStartsAtZero(t *testing.T) {
	hooks := newFakeIDHooks()
	m := NewIDManager(true, hooks, 5, 5, 5, 5)
	id, ok := m.OpenOutgoing(DirBidirectional)
	assert.True(t, ok)
	assert.Equal(t, uint64(0), id)
	id2, ok := m.OpenOutgoing(DirBidirectional)
	assert.True(t, ok)
	assert.Equal(t, uint64(4), id2)
}

func TestIDManagerServerOutgoingBidiStartsAtOne(t *testing.T) {
	hooks := newFakeIDHooks()
	m := NewIDManager(false, hooks, 5, 5, 5, 5)
	id, ok := m.OpenOutgoing(DirBidirectional)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), id)
}

func TestIDManagerOutgoingBlockedAtLimit(t *testing.T) {
	hooks := newFakeIDHooks()
	m := NewIDManager(true, hooks, 1, 5, 5, 5)
	_, ok := m.OpenOutgoing(DirBidirectional)
	assert.True(t, ok)
	_, ok = m.OpenOutgoing(DirBidirectional)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), hooks.blockedSent[DirBidirectional])
}

func TestIDManagerMaxStreamsFrameUnblocks(t *testing.T) {
	hooks := newFakeIDHooks()
	m := NewIDManager(true, hooks, 1, 5, 5, 5)
	m.OpenOutgoing(DirBidirectional)
	m.OnMaxStreamsFrame(DirBidirectional, 2)
	assert.Equal(t, 1, hooks.canCreate[DirBidirectional])
	_, ok := m.OpenOutgoing(DirBidirectional)
	assert.True(t, ok)
}

func TestIDManagerIncomingStreamIDTracksAvailable(t *testing.T) {
	hooks := newFakeIDHooks()
	m := NewIDManager(true, hooks, 5, 5, 5, 5)
	// Client sees server-initiated bidi streams starting at id 1.
	err := m.OnIncomingStreamID(DirBidirectional, 9)
	assert.NoError(t, err)
	assert.Equal(t, 2, m.AvailableStreamCount(DirBidirectional)) // ids 1, 5 skipped
}

func TestIDManagerIncomingBeyondAdvertisedLimitCloses(t *testing.T) {
	hooks := newFakeIDHooks()
	m := NewIDManager(true, hooks, 5, 1, 5, 5)
	err := m.OnIncomingStreamID(DirBidirectional, 1)
	assert.NoError(t, err)
	err = m.OnIncomingStreamID(DirBidirectional, 5)
	assert.Error(t, err)
	assert.True(t, hooks.closed)
}
