package qpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtls/xquic/quicerr"
)

type noopErrDelegate struct{}

func (noopErrDelegate) OnDecoderStreamError(code quicerr.QPACKCode, reason string) {}
func (noopErrDelegate) OnEncoderStreamError(code quicerr.QPACKCode, reason string) {}

// pipe wires an Encoder and Decoder together the way a connection would:
// encoder-stream bytes flow encoder -> decoder, decoder-stream bytes flow
// decoder -> encoder.
type pipe struct {
	enc *Encoder
	dec *Decoder
}

func newPipe(maxTableCapacity, maxBlockedStreams uint64) *pipe {
	d := noopErrDelegate{}
	return &pipe{
		enc: NewEncoder(maxTableCapacity, maxBlockedStreams, d),
		dec: NewDecoder(maxTableCapacity, maxBlockedStreams, d),
	}
}

func (p *pipe) encodeAndDeliver(t *testing.T, streamID uint64, headers []HeaderField) []HeaderField {
	t.Helper()
	block, encInsts := p.enc.EncodeHeaderList(streamID, headers)
	if len(encInsts) > 0 {
		consumed := p.dec.ProcessEncoderStreamInstructions(encInsts)
		require.Equal(t, len(encInsts), consumed)
	}

	var got []HeaderField
	var decErr error
	done := false
	p.dec.DecodeHeaderBlock(streamID, block, func(h []HeaderField, err error) {
		got, decErr, done = h, err, true
	})
	require.True(t, done, "header block should not be blocked in this scenario")
	require.NoError(t, decErr)

	if decInsts := p.dec.TakeDecoderStreamInstructions(); len(decInsts) > 0 {
		for len(decInsts) > 0 {
			inst, n, ok := ConsumeDecoderInstruction(decInsts)
			require.True(t, ok)
			switch inst.Type {
			case DecInstHeaderAck:
				p.enc.OnHeaderAcknowledgement(inst.StreamID)
			case DecInstStreamCancellation:
				p.enc.OnStreamCancellation(inst.StreamID)
			case DecInstInsertCountIncrement:
				p.enc.OnInsertCountIncrement(inst.Increment)
			}
			decInsts = decInsts[n:]
		}
	}
	return got
}

func TestEncodeDecodeRoundTripStaticOnly(t *testing.T) {
	p := newPipe(0, 0)
	headers := []HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":path", Value: "/"},
	}
	got := p.encodeAndDeliver(t, 1, headers)
	assert.Equal(t, headers, got)
}

func TestEncodeDecodeRoundTripDynamicInsertion(t *testing.T) {
	p := newPipe(4096, 8)
	headers := []HeaderField{
		{Name: "x-custom-header", Value: "hello-world"},
	}
	got := p.encodeAndDeliver(t, 1, headers)
	assert.Equal(t, headers, got)

	// Second use on another stream should be able to reference the now
	//-acknowledged dynamic entry rather than re-literal-encoding it.
	got2 := p.encodeAndDeliver(t, 5, headers)
	assert.Equal(t, headers, got2)
}

func TestEncodeDecodeRoundTripValueSplitOnNUL(t *testing.T) {
	p := newPipe(4096, 8)
	headers := []HeaderField{
		{Name: "cookie", Value: "a=1\x00b=2"},
	}
	got := p.encodeAndDeliver(t, 1, headers)
	want := []HeaderField{
		{Name: "cookie", Value: "a=1"},
		{Name: "cookie", Value: "b=2"},
	}
	assert.Equal(t, want, got)
}

func TestEncodeDecodeRoundTripMaxBlockedStreamsFallsBackToLiteral(t *testing.T) {
	// spec.md §8 scenario 3: with max_blocked_streams = 2, a third stream
	// needing a not-yet-acked dynamic entry must fall back to a literal
	// rather than referencing the table and blocking.
	p := newPipe(4096, 2)

	// Saturate blocking capacity with two streams that each insert (and
	// thus reference) a fresh dynamic entry without ever acknowledging it.
	h1 := []HeaderField{{Name: "x-one", Value: "v1"}}
	h2 := []HeaderField{{Name: "x-two", Value: "v2"}}

	block1, insts1 := p.enc.EncodeHeaderList(1, h1)
	_ = p.dec.ProcessEncoderStreamInstructions(insts1)
	block2, insts2 := p.enc.EncodeHeaderList(2, h2)
	_ = p.dec.ProcessEncoderStreamInstructions(insts2)

	// Neither stream 1 nor 2's blocks are acknowledged, so the encoder
	// still believes both are outstanding/blocked.
	assert.False(t, p.enc.blocking.BlockingAllowedOnStream(3))

	h3 := []HeaderField{{Name: "x-one", Value: "v1"}} // matches h1's entry
	block3, insts3 := p.enc.EncodeHeaderList(3, h3)
	assert.Empty(t, insts3, "no new dynamic-table mutation should be queued for the fallback literal")

	// Decode all three; none should block since none reference
	// unacknowledged dynamic state from the decoder's perspective... but
	// block3 must not have required any additional insertion beyond what
	// was already sent for block1/block2.
	var got1, got2, got3 []HeaderField
	p.dec.DecodeHeaderBlock(1, block1, func(h []HeaderField, err error) { got1 = h; require.NoError(t, err) })
	p.dec.DecodeHeaderBlock(2, block2, func(h []HeaderField, err error) { got2 = h; require.NoError(t, err) })
	p.dec.DecodeHeaderBlock(3, block3, func(h []HeaderField, err error) { got3 = h; require.NoError(t, err) })

	assert.Equal(t, h1, got1)
	assert.Equal(t, h2, got2)
	assert.Equal(t, h3, got3)
}

func TestEncodeDecodeRoundTripBlockedStreamResumesAfterInsertion(t *testing.T) {
	p := newPipe(4096, 8)

	// Manually craft a decoder-side situation where a header block is
	// blocked: hold back the encoder stream instructions so the decoder
	// receives the header block before the insertion it depends on.
	headers := []HeaderField{{Name: "x-lazy", Value: "v"}}
	block, insts := p.enc.EncodeHeaderList(1, headers)
	require.NotEmpty(t, insts, "a fresh name/value pair should trigger a dynamic table insertion")

	var got []HeaderField
	var completed bool
	p.dec.DecodeHeaderBlock(1, block, func(h []HeaderField, err error) {
		got, completed = h, true
		require.NoError(t, err)
	})
	assert.False(t, completed, "decoding should block until the insertion arrives")

	p.dec.ProcessEncoderStreamInstructions(insts)
	assert.True(t, completed, "decoding should resume once the insertion is applied")
	assert.Equal(t, headers, got)
}
