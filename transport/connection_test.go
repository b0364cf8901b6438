package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtls/xquic/http3"
	"github.com/xtls/xquic/qpack"
	"github.com/xtls/xquic/quicerr"
	"github.com/xtls/xquic/quictime"
)

type noopVisitor struct{}

func (noopVisitor) OnDataFrameStart(length uint64) bool                              { return true }
func (noopVisitor) OnDataFramePayload(data []byte) bool                              { return true }
func (noopVisitor) OnDataFrameEnd() bool                                             { return true }
func (noopVisitor) OnHeadersFrameStart(length uint64) bool                           { return true }
func (noopVisitor) OnHeadersFramePayload(data []byte) bool                           { return true }
func (noopVisitor) OnHeadersFrameEnd() bool                                          { return true }
func (noopVisitor) OnSettingsFrame(settings []http3.Setting) bool                    { return true }
func (noopVisitor) OnGoAwayFrame(id uint64) bool                                     { return true }
func (noopVisitor) OnMaxPushIDFrame(id uint64) bool                                  { return true }
func (noopVisitor) OnPriorityUpdateFrame(t http3.FrameType, id uint64, v []byte) bool { return true }
func (noopVisitor) OnAcceptChFrame(entries []http3.AcceptChEntry) bool                { return true }
func (noopVisitor) OnWebTransportStreamFrameType(sessionID uint64)                    {}
func (noopVisitor) OnUnknownFrameStart(frameType uint64, length uint64) bool          { return true }
func (noopVisitor) OnUnknownFramePayload(data []byte) bool                           { return true }
func (noopVisitor) OnUnknownFrameEnd() bool                                          { return true }
func (noopVisitor) OnError(err *quicerr.WireCloseError)                              {}

// stripFrameHeader consumes the (type, length) varint pair a HEADERS frame
// starts with, returning the remaining QPACK-encoded block.
func stripFrameHeader(t *testing.T, frame []byte) []byte {
	t.Helper()
	_, n1, ok := quictime.ConsumeVarInt(frame)
	require.True(t, ok)
	_, n2, ok := quictime.ConsumeVarInt(frame[n1:])
	require.True(t, ok)
	return frame[n1+n2:]
}

func TestConnectionEncodeDecodeHeadersViaWiredQPACK(t *testing.T) {
	cfg := DefaultConfig()
	client := NewConnection(cfg, true, noopVisitor{})
	server := NewConnection(cfg, false, noopVisitor{})

	headers := []qpack.HeaderField{{Name: ":method", Value: "GET"}, {Name: ":path", Value: "/"}}
	frame, encInsts := client.EncodeHeaders(1, headers)
	require.NotEmpty(t, frame)

	if len(encInsts) > 0 {
		server.ProcessEncoderStream(encInsts)
	}

	block := stripFrameHeader(t, frame)

	var got []qpack.HeaderField
	var done bool
	server.DecodeHeaders(1, block, func(h []qpack.HeaderField, err error) {
		got, done = h, true
		require.NoError(t, err)
	})
	require.True(t, done)
	assert.Equal(t, headers, got)
}

// panicVisitor simulates a violated local invariant surfacing deep inside
// frame processing, the way UnackedPacketMap.AddSent or quictime's varint
// encoder would.
type panicVisitor struct{ noopVisitor }

func (panicVisitor) OnDataFrameStart(length uint64) bool { panic("simulated invariant violation") }

func TestConnectionProcessRequestStreamRecoversFromPanic(t *testing.T) {
	c := NewConnection(DefaultConfig(), true, panicVisitor{})
	frame := http3.AppendDataFrame(nil, 4)
	frame = append(frame, []byte("data")...)

	n := c.ProcessRequestStream(frame)

	assert.Equal(t, 0, n, "a recovered panic must report nothing consumed")
	closeErr := c.LastCloseError()
	require.NotNil(t, closeErr)
	assert.Equal(t, quicerr.InternalError, closeErr.Transport)
}

func TestConnectionGoAwayWiring(t *testing.T) {
	c := NewConnection(DefaultConfig(), true, noopVisitor{})
	frame, err := c.SendGoAway(10)
	require.NoError(t, err)
	assert.NotEmpty(t, frame)

	_, err = c.SendGoAway(20)
	assert.Error(t, err, "increasing the sent GOAWAY id must be rejected under default semantics")
}
