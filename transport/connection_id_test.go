package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xtls/xquic/quicerr"
)

func TestNewConnectionIDHasConfiguredLength(t *testing.T) {
	id := NewConnectionID()
	assert.Len(t, id, connectionIDLength)
}

func TestNewConnectionIDIsRandomPerCall(t *testing.T) {
	assert.NotEqual(t, NewConnectionID(), NewConnectionID())
}

func TestConnIDsIssueAssignsIncrementingSequence(t *testing.T) {
	c := newConnIDs()
	_, seq0 := c.Issue()
	_, seq1 := c.Issue()
	assert.Equal(t, uint64(0), seq0)
	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, 2, c.Outstanding())
}

func TestConnIDsRetireKnownID(t *testing.T) {
	c := newConnIDs()
	id, _ := c.Issue()
	assert.True(t, c.Retire(id))
	assert.Equal(t, 0, c.Outstanding())
}

func TestConnIDsRetireUnknownIDFails(t *testing.T) {
	c := newConnIDs()
	assert.False(t, c.Retire([]byte{1, 2, 3}))
}

func TestConnectionIssuesLocalConnectionIDAtConstruction(t *testing.T) {
	c := NewConnection(DefaultConfig(), true, noopVisitor{})
	assert.Len(t, c.LocalConnectionID(), connectionIDLength)
}

func TestConnectionIssueConnectionIDContinuesSequence(t *testing.T) {
	c := NewConnection(DefaultConfig(), true, noopVisitor{})
	id, seq := c.IssueConnectionID()
	assert.Len(t, id, connectionIDLength)
	assert.Equal(t, uint64(1), seq, "sequence 0 was already consumed by the construction-time ID")
}

func TestConnectionRetireUnknownConnectionIDClosesWithProtocolViolation(t *testing.T) {
	c := NewConnection(DefaultConfig(), true, noopVisitor{})
	c.RetireConnectionID([]byte("not-issued"))
	closeErr := c.LastCloseError()
	assert.NotNil(t, closeErr)
	assert.Equal(t, quicerr.ProtocolViolation, closeErr.Transport)
}

func TestConnectionRetireIssuedConnectionIDDoesNotClose(t *testing.T) {
	c := NewConnection(DefaultConfig(), true, noopVisitor{})
	id, _ := c.IssueConnectionID()
	c.RetireConnectionID(id)
	assert.Nil(t, c.LastCloseError())
}
