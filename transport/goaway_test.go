package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoAwayTrackerDefaultRequiresNonIncreasing(t *testing.T) {
	// spec.md §8 scenario 6, default (RFC 9114 §5.2) semantics: each
	// GOAWAY a sender issues must not exceed the previous one.
	g := NewGoAwayTracker(DefaultConfig())

	assert.NoError(t, g.OnSend(100))
	assert.NoError(t, g.OnSend(100)) // repeating the same ID is fine
	assert.NoError(t, g.OnSend(96))
	assert.Error(t, g.OnSend(104), "increasing the advertised id must be rejected")
}

func TestGoAwayTrackerDefaultReceiveSide(t *testing.T) {
	g := NewGoAwayTracker(DefaultConfig())
	assert.NoError(t, g.OnReceive(40))
	assert.NoError(t, g.OnReceive(40))
	assert.Error(t, g.OnReceive(44), "peer's GOAWAY id must not increase")
}

func TestGoAwayTrackerMaxStreamIDVariantRequiresNonDecreasing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GoAwayUsesMaxStreamID = true
	g := NewGoAwayTracker(cfg)

	assert.NoError(t, g.OnSend(4))
	assert.NoError(t, g.OnSend(8))
	assert.Error(t, g.OnSend(4), "decreasing the max stream id bound must be rejected")
}

func TestGoAwayTrackerSentAndReceivedAreIndependent(t *testing.T) {
	g := NewGoAwayTracker(DefaultConfig())
	assert.NoError(t, g.OnSend(50))
	assert.NoError(t, g.OnReceive(200)) // unrelated direction, no interaction
	assert.NoError(t, g.OnSend(10))
	assert.NoError(t, g.OnReceive(10))
}
