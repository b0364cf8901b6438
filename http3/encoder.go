package http3

import (
	"math/rand"

	"github.com/xtls/xquic/quictime"
)

// AppendDataFrame appends a DATA frame header (type, length) to dst; the
// caller writes the payload itself to avoid an extra copy of stream data.
func AppendDataFrame(dst []byte, payloadLength uint64) []byte {
	return appendFrameHeader(dst, FrameData, payloadLength)
}

// AppendHeadersFrame appends a HEADERS frame header to dst; the payload
// (a QPACK-encoded header block) is appended separately by the caller.
func AppendHeadersFrame(dst []byte, payloadLength uint64) []byte {
	return appendFrameHeader(dst, FrameHeaders, payloadLength)
}

// AppendSettingsFrame appends a complete SETTINGS frame.
func AppendSettingsFrame(dst []byte, settings []Setting) []byte {
	var payload []byte
	for _, s := range settings {
		payload = quictime.AppendVarInt(payload, s.ID)
		payload = quictime.AppendVarInt(payload, s.Value)
	}
	dst = appendFrameHeader(dst, FrameSettings, uint64(len(payload)))
	return append(dst, payload...)
}

// AppendGoAwayFrame appends a complete GOAWAY frame carrying a stream ID
// (client-sent) or push ID (server-sent).
func AppendGoAwayFrame(dst []byte, streamOrPushID uint64) []byte {
	var payload []byte
	payload = quictime.AppendVarInt(payload, streamOrPushID)
	dst = appendFrameHeader(dst, FrameGoaway, uint64(len(payload)))
	return append(dst, payload...)
}

// AppendMaxPushIDFrame appends a complete MAX_PUSH_ID frame.
func AppendMaxPushIDFrame(dst []byte, pushID uint64) []byte {
	var payload []byte
	payload = quictime.AppendVarInt(payload, pushID)
	dst = appendFrameHeader(dst, FrameMaxPushID, uint64(len(payload)))
	return append(dst, payload...)
}

// AppendPriorityUpdateFrame appends a complete PRIORITY_UPDATE frame,
// frameType selecting the request-stream or push-stream variant.
func AppendPriorityUpdateFrame(dst []byte, frameType FrameType, elementID uint64, fieldValue []byte) []byte {
	var payload []byte
	payload = quictime.AppendVarInt(payload, elementID)
	payload = append(payload, fieldValue...)
	dst = appendFrameHeader(dst, frameType, uint64(len(payload)))
	return append(dst, payload...)
}

// AppendAcceptChFrame appends a complete ACCEPT_CH frame.
func AppendAcceptChFrame(dst []byte, entries []AcceptChEntry) []byte {
	var payload []byte
	for _, e := range entries {
		payload = appendLengthPrefixed(payload, []byte(e.Origin))
		payload = appendLengthPrefixed(payload, []byte(e.Value))
	}
	dst = appendFrameHeader(dst, FrameAcceptCh, uint64(len(payload)))
	return append(dst, payload...)
}

func appendFrameHeader(dst []byte, t FrameType, length uint64) []byte {
	dst = quictime.AppendVarInt(dst, uint64(t))
	return quictime.AppendVarInt(dst, length)
}

func appendLengthPrefixed(dst, value []byte) []byte {
	dst = quictime.AppendVarInt(dst, uint64(len(value)))
	return append(dst, value...)
}

// greaseFrameBase is the first reserved "grease" frame type, RFC 9114
// §7.2.8: types of the form 0x1f*N + 0x21 must be ignored by a compliant
// receiver, letting senders probe for strict frame-type parsers.
const greaseFrameBase = 0x21
const greaseFrameStride = 0x1f

// AppendGreaseFrame appends one frame of a randomly chosen reserved type
// with 0-3 bytes of random payload, spec.md §4.K. n selects which grease
// type in the 0x1f*n+0x21 family to emit; callers typically pick n at
// random per connection.
func AppendGreaseFrame(dst []byte, n uint64, rng *rand.Rand) []byte {
	t := FrameType(greaseFrameStride*n + greaseFrameBase)
	payloadLen := rng.Intn(4)
	payload := make([]byte, payloadLen)
	rng.Read(payload)
	dst = appendFrameHeader(dst, t, uint64(payloadLen))
	return append(dst, payload...)
}
