package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowControllerSendWindow(t *testing.T) {
	f := NewFlowController(100, 100)
	assert.Equal(t, int64(100), f.SendWindowSize())
	f.AddBytesSent(60)
	assert.Equal(t, int64(40), f.SendWindowSize())
	f.UpdateSendWindowOffset(150)
	assert.Equal(t, int64(90), f.SendWindowSize())
	// Send window offset only grows.
	f.UpdateSendWindowOffset(50)
	assert.Equal(t, int64(90), f.SendWindowSize())
}

func TestFlowControllerShouldSendBlockedDedups(t *testing.T) {
	f := NewFlowController(10, 100)
	f.AddBytesSent(10)
	assert.True(t, f.ShouldSendBlocked())
	assert.False(t, f.ShouldSendBlocked(), "same offset should not be reported twice")
	f.UpdateSendWindowOffset(20)
	f.AddBytesSent(10)
	assert.True(t, f.ShouldSendBlocked())
}

func TestFlowControllerReceiveViolation(t *testing.T) {
	f := NewFlowController(100, 50)
	err := f.AddBytesReceived(50)
	assert.NoError(t, err)
	err = f.AddBytesReceived(51)
	assert.Error(t, err)
}

func TestFlowControllerAutoTune(t *testing.T) {
	f := NewFlowController(100, 100)
	f.SetAutoTune(true)
	f.AddBytesConsumed(100)
	assert.Equal(t, int64(300), f.ReceiveWindowOffset(), "window doubled after full consumption")
}

func TestFlowControllerWindowUpdateHeuristic(t *testing.T) {
	f := NewFlowController(100, 100)
	assert.False(t, f.ShouldSendWindowUpdate())
	f.AddBytesConsumed(60)
	assert.True(t, f.ShouldSendWindowUpdate())
}
