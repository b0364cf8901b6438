package streams

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencerInOrderDelivery(t *testing.T) {
	s := NewSequencer()
	var delivered bool
	s.OnDataAvailable = func() { delivered = true }

	err := s.OnStreamFrame(0, []byte("hello"), false)
	assert.NoError(t, err)
	assert.True(t, delivered)
	assert.True(t, s.Readable())

	buf := make([]byte, 5)
	n, finished := s.Read(buf)
	assert.Equal(t, 5, n)
	assert.False(t, finished)
	assert.Equal(t, "hello", string(buf))
}

func TestSequencerOutOfOrderReassembly(t *testing.T) {
	s := NewSequencer()
	err := s.OnStreamFrame(5, []byte("world"), false)
	assert.NoError(t, err)
	assert.False(t, s.Readable())

	err = s.OnStreamFrame(0, []byte("hello"), false)
	assert.NoError(t, err)
	assert.True(t, s.Readable())

	buf := make([]byte, 10)
	n, _ := s.Read(buf)
	assert.Equal(t, 10, n)
	assert.Equal(t, "helloworld", string(buf))
}

func TestSequencerFinTriggersOnFinRead(t *testing.T) {
	s := NewSequencer()
	var finRead bool
	s.OnFinRead = func() { finRead = true }

	err := s.OnStreamFrame(0, []byte("hi"), true)
	assert.NoError(t, err)
	assert.False(t, finRead, "FIN delivered but data not yet read")

	buf := make([]byte, 2)
	n, finished := s.Read(buf)
	assert.Equal(t, 2, n)
	assert.True(t, finished)
	assert.True(t, finRead)
}

func TestSequencerFinNotifiedOnlyOnce(t *testing.T) {
	s := NewSequencer()
	count := 0
	s.OnFinRead = func() { count++ }
	_ = s.OnStreamFrame(0, nil, true)
	buf := make([]byte, 1)
	s.Read(buf)
	s.Read(buf)
	assert.Equal(t, 1, count)
}

func TestSequencerConflictingFinOffsetErrors(t *testing.T) {
	s := NewSequencer()
	err := s.OnStreamFrame(0, []byte("hi"), true)
	assert.NoError(t, err)
	err = s.OnStreamFrame(0, []byte("hiya"), true)
	assert.Error(t, err)
}

func TestSequencerDataBeyondCloseOffsetErrors(t *testing.T) {
	s := NewSequencer()
	err := s.OnStreamFrame(0, []byte("hi"), true)
	assert.NoError(t, err)
	err = s.OnStreamFrame(2, []byte("more"), false)
	assert.Error(t, err)
}

func TestSequencerStopReadingDiscardsData(t *testing.T) {
	s := NewSequencer()
	s.StopReading()
	err := s.OnStreamFrame(0, []byte("data"), false)
	assert.NoError(t, err)
	assert.False(t, s.Readable())
}
