package http3

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtls/xquic/quicerr"
)

type recordingVisitor struct {
	dataPayloads    [][]byte
	dataStarted     bool
	dataEnded       bool
	headersPayloads [][]byte
	headersStarted  bool
	headersEnded    bool
	settings        []Setting
	goaway          *uint64
	maxPushID       *uint64
	acceptCh        []AcceptChEntry
	err             *quicerr.WireCloseError
}

func (v *recordingVisitor) OnDataFrameStart(length uint64) bool { v.dataStarted = true; return true }
func (v *recordingVisitor) OnDataFramePayload(data []byte) bool {
	v.dataPayloads = append(v.dataPayloads, append([]byte(nil), data...))
	return true
}
func (v *recordingVisitor) OnDataFrameEnd() bool { v.dataEnded = true; return true }

func (v *recordingVisitor) OnHeadersFrameStart(length uint64) bool {
	v.headersStarted = true
	return true
}
func (v *recordingVisitor) OnHeadersFramePayload(data []byte) bool {
	v.headersPayloads = append(v.headersPayloads, append([]byte(nil), data...))
	return true
}
func (v *recordingVisitor) OnHeadersFrameEnd() bool { v.headersEnded = true; return true }

func (v *recordingVisitor) OnSettingsFrame(settings []Setting) bool { v.settings = settings; return true }
func (v *recordingVisitor) OnGoAwayFrame(id uint64) bool            { v.goaway = &id; return true }
func (v *recordingVisitor) OnMaxPushIDFrame(id uint64) bool         { v.maxPushID = &id; return true }
func (v *recordingVisitor) OnPriorityUpdateFrame(t FrameType, elementID uint64, fieldValue []byte) bool {
	return true
}
func (v *recordingVisitor) OnAcceptChFrame(entries []AcceptChEntry) bool {
	v.acceptCh = entries
	return true
}
func (v *recordingVisitor) OnWebTransportStreamFrameType(sessionID uint64)           {}
func (v *recordingVisitor) OnUnknownFrameStart(frameType uint64, length uint64) bool { return true }
func (v *recordingVisitor) OnUnknownFramePayload(data []byte) bool                   { return true }
func (v *recordingVisitor) OnUnknownFrameEnd() bool                                  { return true }
func (v *recordingVisitor) OnError(err *quicerr.WireCloseError)                      { v.err = err }

func TestEncodeDecodeDataFrameRoundTrip(t *testing.T) {
	payload := []byte("hello, http/3")
	wire := AppendDataFrame(nil, uint64(len(payload)))
	wire = append(wire, payload...)

	v := &recordingVisitor{}
	d := NewDecoder(v)
	n := d.ProcessInput(wire)
	require.Equal(t, len(wire), n)
	assert.True(t, v.dataStarted)
	assert.True(t, v.dataEnded)
	require.Len(t, v.dataPayloads, 1)
	assert.Equal(t, payload, v.dataPayloads[0])
}

func TestEncodeDecodeHeadersFrameRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x80, 0x11} // arbitrary QPACK-looking bytes
	wire := AppendHeadersFrame(nil, uint64(len(payload)))
	wire = append(wire, payload...)

	v := &recordingVisitor{}
	d := NewDecoder(v)
	n := d.ProcessInput(wire)
	require.Equal(t, len(wire), n)
	require.Len(t, v.headersPayloads, 1)
	assert.Equal(t, payload, v.headersPayloads[0])
}

func TestEncodeDecodeSettingsFrameRoundTrip(t *testing.T) {
	settings := []Setting{{ID: 0x6, Value: 100}, {ID: 0x7, Value: 16}}
	wire := AppendSettingsFrame(nil, settings)

	v := &recordingVisitor{}
	d := NewDecoder(v)
	n := d.ProcessInput(wire)
	require.Equal(t, len(wire), n)
	assert.Equal(t, settings, v.settings)
}

func TestEncodeDecodeGoAwayFrameRoundTrip(t *testing.T) {
	wire := AppendGoAwayFrame(nil, 404)

	v := &recordingVisitor{}
	d := NewDecoder(v)
	n := d.ProcessInput(wire)
	require.Equal(t, len(wire), n)
	require.NotNil(t, v.goaway)
	assert.Equal(t, uint64(404), *v.goaway)
}

func TestEncodeDecodeMaxPushIDFrameRoundTrip(t *testing.T) {
	wire := AppendMaxPushIDFrame(nil, 7)

	v := &recordingVisitor{}
	d := NewDecoder(v)
	n := d.ProcessInput(wire)
	require.Equal(t, len(wire), n)
	require.NotNil(t, v.maxPushID)
	assert.Equal(t, uint64(7), *v.maxPushID)
}

func TestEncodeDecodeAcceptChFrameRoundTrip(t *testing.T) {
	entries := []AcceptChEntry{{Origin: "https://example.com", Value: "h3=\":443\""}}
	wire := AppendAcceptChFrame(nil, entries)

	v := &recordingVisitor{}
	d := NewDecoder(v)
	n := d.ProcessInput(wire)
	require.Equal(t, len(wire), n)
	assert.Equal(t, entries, v.acceptCh)
}

func TestDecoderSplitAcrossMultipleProcessInputCalls(t *testing.T) {
	payload := []byte("split across calls")
	wire := AppendDataFrame(nil, uint64(len(payload)))
	wire = append(wire, payload...)

	v := &recordingVisitor{}
	d := NewDecoder(v)
	for i := 0; i < len(wire); i++ {
		n := d.ProcessInput(wire[i : i+1])
		require.Equal(t, 1, n)
	}
	assert.True(t, v.dataEnded)
	joined := []byte{}
	for _, p := range v.dataPayloads {
		joined = append(joined, p...)
	}
	assert.Equal(t, payload, joined)
}

func TestGreaseFrameTypeIsInReservedFamily(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for n := uint64(0); n < 5; n++ {
		wire := AppendGreaseFrame(nil, n, rng)
		v := &recordingVisitor{}
		d := NewDecoder(v)
		consumed := d.ProcessInput(wire)
		assert.Equal(t, len(wire), consumed, "grease frame must be fully consumable as an unknown frame")
		assert.Nil(t, v.err)
	}
}

func TestHTTP2OnlyFrameTypeIsRejected(t *testing.T) {
	wire := []byte{0x2, 0x0} // PRIORITY (HTTP/2-only), zero-length payload
	v := &recordingVisitor{}
	d := NewDecoder(v)
	d.ProcessInput(wire)
	require.NotNil(t, v.err)
	assert.Equal(t, quicerr.H3ReceiveSpdyFrameError, *v.err.H3)
}

func TestDecoderIsStickyAfterFatalError(t *testing.T) {
	wire := []byte{0x2, 0x0} // PRIORITY (HTTP/2-only), zero-length payload
	v := &recordingVisitor{}
	d := NewDecoder(v)
	d.ProcessInput(wire)
	require.NotNil(t, v.err)
	require.Equal(t, ErrorState, d.state)

	v.err = nil
	n := d.ProcessInput([]byte{0x0, 0x1, 0x61})
	assert.Equal(t, 0, n, "a decoder that can no longer make progress must consume nothing")
	require.NotNil(t, v.err)
	assert.Equal(t, quicerr.H3InternalError, *v.err.H3)
	assert.Equal(t, ParsingNoLongerPossible, d.state)

	v.err = nil
	n = d.ProcessInput([]byte{0x0, 0x1, 0x61})
	assert.Equal(t, 0, n)
	assert.Nil(t, v.err, "once stuck, further calls stay silent rather than re-reporting")
}
