package http3

import (
	"github.com/xtls/xquic/internal/pool"
	"github.com/xtls/xquic/quicerr"
	"github.com/xtls/xquic/quictime"
)

// DecoderState is the streaming decoder's state machine, spec.md §4.K.
type DecoderState uint8

const (
	ReadingFrameType DecoderState = iota
	ReadingFrameLength
	BufferOrParsePayload
	ReadingFramePayload
	ParsingNoLongerPossible
	ErrorState
)

// Visitor receives decoded frame events. Every method returns false to
// pause processing (e.g. backpressure); the decoder stops consuming input
// until ProcessInput is called again.
//
// Grounded on HttpDecoder::Visitor in original_source's http_decoder.h.
type Visitor interface {
	OnDataFrameStart(length uint64) bool
	OnDataFramePayload(data []byte) bool
	OnDataFrameEnd() bool

	OnHeadersFrameStart(length uint64) bool
	OnHeadersFramePayload(data []byte) bool
	OnHeadersFrameEnd() bool

	OnSettingsFrame(settings []Setting) bool
	OnGoAwayFrame(streamOrPushID uint64) bool
	OnMaxPushIDFrame(pushID uint64) bool
	OnPriorityUpdateFrame(frameType FrameType, elementID uint64, fieldValue []byte) bool
	OnAcceptChFrame(entries []AcceptChEntry) bool

	// OnWebTransportStreamFrameType is called once, in place of any further
	// framing, when a WEBTRANSPORT_STREAM frame type is read. No further
	// decoder callbacks occur on this stream.
	OnWebTransportStreamFrameType(sessionID uint64)

	OnUnknownFrameStart(frameType uint64, length uint64) bool
	OnUnknownFramePayload(data []byte) bool
	OnUnknownFrameEnd() bool

	OnError(err *quicerr.WireCloseError)
}

// Decoder incrementally parses a byte stream into HTTP/3 frames, spec.md
// §4.K. Frame type and length varints may each be split across multiple
// ProcessInput calls; the partially-read bytes of a small buffered frame
// (SETTINGS, GOAWAY, MAX_PUSH_ID, PRIORITY_UPDATE, ACCEPT_CH) are
// accumulated in a pooled buf rather than a fresh slice per frame.
type Decoder struct {
	visitor Visitor
	state   DecoderState

	buf *pool.Buffer // accumulates a buffered small frame's payload

	rawType      varIntAccumulator
	rawLength    varIntAccumulator
	rawTypeValue uint64
	rawLengthValue uint64

	currentType      FrameType
	currentLength    uint64
	remainingInFrame uint64

	webTransport bool
}

// varIntAccumulator accumulates a varint's bytes across ProcessInput calls
// until enough are available to decode it.
type varIntAccumulator struct {
	bytes []byte
}

// NewDecoder creates a decoder that reports events to visitor.
func NewDecoder(visitor Visitor) *Decoder {
	return &Decoder{visitor: visitor, state: ReadingFrameType}
}

// ProcessInput feeds data into the decoder, returning the number of bytes
// consumed. Fewer than len(data) bytes are consumed only on ERROR, on a
// visitor pause (a callback returned false), or after
// OnWebTransportStreamFrameType fires (remaining bytes are raw datagram
// payload the caller owns).
func (d *Decoder) ProcessInput(data []byte) int {
	if d.state == ParsingNoLongerPossible {
		return 0
	}
	if d.state == ErrorState {
		// A prior call already reported the original frame error; once the
		// caller keeps feeding a decoder that can no longer make progress,
		// that is itself a protocol violation worth its own signal rather
		// than silent truncation.
		d.state = ParsingNoLongerPossible
		d.visitor.OnError(wireError(quicerr.H3InternalError, "ProcessInput called after a fatal decode error"))
		return 0
	}
	consumed := 0
	for consumed < len(data) {
		if d.webTransport {
			break
		}
		switch d.state {
		case ReadingFrameType:
			n, ok := d.readVarIntField(data[consumed:], &d.rawType)
			consumed += n
			if !ok {
				return consumed
			}
			d.currentType = FrameType(d.rawTypeValue)
			d.releaseBuf()
			if isHTTP2Only(d.currentType) {
				d.fail(quicerr.H3ReceiveSpdyFrameError, "HTTP/2-only frame type on HTTP/3 connection")
				return consumed
			}
			if isLegacyPush(d.currentType) {
				d.fail(quicerr.H3FrameError, "legacy server-push frame type")
				return consumed
			}
			if d.currentType == FrameWebTransportStream {
				d.state = ReadingFrameLength // length field is reinterpreted as session id
				break
			}
			d.state = ReadingFrameLength
		case ReadingFrameLength:
			n, ok := d.readVarIntField(data[consumed:], &d.rawLength)
			consumed += n
			if !ok {
				return consumed
			}
			d.currentLength = d.rawLengthValue
			if d.currentType == FrameWebTransportStream {
				d.webTransport = true
				d.visitor.OnWebTransportStreamFrameType(d.currentLength)
				return consumed
			}
			if max := maxFrameLength(d.currentType); max > 0 && d.currentLength > max {
				d.fail(quicerr.H3FrameTooLargeError, "frame exceeds maximum length")
				return consumed
			}
			d.remainingInFrame = d.currentLength
			d.releaseBuf()
			if isStreamed(d.currentType) {
				if !d.startStreamedFrame() {
					d.state = ReadingFramePayload
					return consumed
				}
				d.state = ReadingFramePayload
				if d.remainingInFrame == 0 {
					if !d.endStreamedFrame() {
						return consumed
					}
					d.state = ReadingFrameType
				}
			} else {
				d.state = BufferOrParsePayload
				if d.remainingInFrame == 0 {
					if !d.parseBufferedFrame() {
						return consumed
					}
					d.state = ReadingFrameType
				}
			}
		case ReadingFramePayload:
			n := len(data) - consumed
			if uint64(n) > d.remainingInFrame {
				n = int(d.remainingInFrame)
			}
			payload := data[consumed : consumed+n]
			if !d.deliverStreamedPayload(payload) {
				consumed += n
				d.remainingInFrame -= uint64(n)
				return consumed
			}
			consumed += n
			d.remainingInFrame -= uint64(n)
			if d.remainingInFrame == 0 {
				if !d.endStreamedFrame() {
					return consumed
				}
				d.state = ReadingFrameType
			}
		case BufferOrParsePayload:
			n := len(data) - consumed
			if uint64(n) > d.remainingInFrame {
				n = int(d.remainingInFrame)
			}
			if d.buf == nil {
				d.buf = pool.New()
			}
			d.buf.Write(data[consumed : consumed+n])
			consumed += n
			d.remainingInFrame -= uint64(n)
			if d.remainingInFrame == 0 {
				if !d.parseBufferedFrame() {
					return consumed
				}
				d.state = ReadingFrameType
			}
		}
	}
	return consumed
}

func (d *Decoder) readVarIntField(data []byte, acc *varIntAccumulator) (consumed int, ok bool) {
	for consumed < len(data) {
		acc.bytes = append(acc.bytes, data[consumed])
		consumed++
		if v, n, ok := quictime.ConsumeVarInt(acc.bytes); ok {
			if d.state == ReadingFrameType {
				d.rawTypeValue = v
			} else {
				d.rawLengthValue = v
			}
			_ = n
			acc.bytes = nil
			return consumed, true
		}
		if len(acc.bytes) >= 8 {
			break // a varint is at most 8 bytes; anything longer is malformed
		}
	}
	return consumed, false
}

func (d *Decoder) startStreamedFrame() bool {
	switch d.currentType {
	case FrameData:
		return d.visitor.OnDataFrameStart(d.currentLength)
	case FrameHeaders:
		return d.visitor.OnHeadersFrameStart(d.currentLength)
	default:
		return d.visitor.OnUnknownFrameStart(uint64(d.currentType), d.currentLength)
	}
}

func (d *Decoder) deliverStreamedPayload(p []byte) bool {
	switch d.currentType {
	case FrameData:
		return d.visitor.OnDataFramePayload(p)
	case FrameHeaders:
		return d.visitor.OnHeadersFramePayload(p)
	default:
		return d.visitor.OnUnknownFramePayload(p)
	}
}

func (d *Decoder) endStreamedFrame() bool {
	switch d.currentType {
	case FrameData:
		return d.visitor.OnDataFrameEnd()
	case FrameHeaders:
		return d.visitor.OnHeadersFrameEnd()
	default:
		return d.visitor.OnUnknownFrameEnd()
	}
}

func (d *Decoder) releaseBuf() {
	if d.buf != nil {
		d.buf.Release()
		d.buf = nil
	}
}

func (d *Decoder) parseBufferedFrame() bool {
	var payload []byte
	if d.buf != nil {
		payload = d.buf.Bytes()
	}
	defer d.releaseBuf()
	switch d.currentType {
	case FrameSettings:
		settings, err := parseSettings(payload)
		if err != nil {
			d.fail(quicerr.H3SettingsError, err.Error())
			return false
		}
		return d.visitor.OnSettingsFrame(settings)
	case FrameGoaway:
		id, _, ok := quictime.ConsumeVarInt(payload)
		if !ok {
			d.fail(quicerr.H3FrameError, "malformed GOAWAY frame")
			return false
		}
		return d.visitor.OnGoAwayFrame(id)
	case FrameMaxPushID:
		id, _, ok := quictime.ConsumeVarInt(payload)
		if !ok {
			d.fail(quicerr.H3FrameError, "malformed MAX_PUSH_ID frame")
			return false
		}
		return d.visitor.OnMaxPushIDFrame(id)
	case FramePriorityUpdateRequest, FramePriorityUpdatePush:
		id, n, ok := quictime.ConsumeVarInt(payload)
		if !ok {
			d.fail(quicerr.H3FrameError, "malformed PRIORITY_UPDATE frame")
			return false
		}
		return d.visitor.OnPriorityUpdateFrame(d.currentType, id, payload[n:])
	case FrameAcceptCh:
		entries, err := parseAcceptCh(payload)
		if err != nil {
			d.fail(quicerr.H3FrameError, err.Error())
			return false
		}
		return d.visitor.OnAcceptChFrame(entries)
	default:
		return d.visitor.OnUnknownFrameStart(uint64(d.currentType), d.currentLength) &&
			d.visitor.OnUnknownFramePayload(payload) &&
			d.visitor.OnUnknownFrameEnd()
	}
}

func (d *Decoder) fail(code quicerr.H3Code, reason string) {
	d.state = ErrorState
	d.visitor.OnError(wireError(code, reason))
}

func parseSettings(payload []byte) ([]Setting, error) {
	seen := make(map[uint64]bool)
	var out []Setting
	for len(payload) > 0 {
		id, n, ok := quictime.ConsumeVarInt(payload)
		if !ok {
			return nil, quicerr.New("parseSettings: truncated identifier").AtError()
		}
		payload = payload[n:]
		value, n, ok := quictime.ConsumeVarInt(payload)
		if !ok {
			return nil, quicerr.New("parseSettings: truncated value").AtError()
		}
		payload = payload[n:]
		if seen[id] {
			return nil, quicerr.New("parseSettings: HTTP_DUPLICATE_SETTING_IDENTIFIER").AtError()
		}
		if http2OnlySettingIDs[id] {
			return nil, quicerr.New("parseSettings: HTTP_RECEIVE_SPDY_SETTING").AtError()
		}
		seen[id] = true
		out = append(out, Setting{ID: id, Value: value})
	}
	return out, nil
}

func parseAcceptCh(payload []byte) ([]AcceptChEntry, error) {
	var out []AcceptChEntry
	for len(payload) > 0 {
		origin, rest, err := consumeLengthPrefixed(payload)
		if err != nil {
			return nil, err
		}
		value, rest2, err := consumeLengthPrefixed(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, AcceptChEntry{Origin: string(origin), Value: string(value)})
		payload = rest2
	}
	return out, nil
}

func consumeLengthPrefixed(b []byte) (value []byte, rest []byte, err error) {
	length, n, ok := quictime.ConsumeVarInt(b)
	if !ok || uint64(len(b)-n) < length {
		return nil, nil, quicerr.New("consumeLengthPrefixed: truncated field").AtError()
	}
	return b[n : n+int(length)], b[n+int(length):], nil
}
