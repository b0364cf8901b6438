// Package http3 implements the HTTP/3 (RFC 9114) frame codec: a streaming
// decoder state machine plus a one-shot encoder, spec.md §4.K.
//
// Grounded on original_source's
// quiche/quic/core/http/http_decoder.{h,cc} and http_encoder.{h,cc}.
package http3

import "github.com/xtls/xquic/quicerr"

// FrameType is an HTTP/3 frame type varint, RFC 9114 §7.2.
type FrameType uint64

const (
	FrameData        FrameType = 0x0
	FrameHeaders     FrameType = 0x1
	FrameCancelPush  FrameType = 0x3 // legacy server-push frame, rejected
	FrameSettings    FrameType = 0x4
	FramePushPromise FrameType = 0x5 // legacy server-push frame, rejected
	FrameGoaway      FrameType = 0x7
	FrameMaxPushID   FrameType = 0xd

	// HTTP/2-only frame types that must never appear on an HTTP/3
	// connection, RFC 9114 §7.2.8.
	framePriority      FrameType = 0x2
	framePing          FrameType = 0x6
	frameWindowUpdate  FrameType = 0x8
	frameContinuation  FrameType = 0x9

	FramePriorityUpdateRequest FrameType = 0xf0700
	FramePriorityUpdatePush    FrameType = 0xf0701
	FrameAcceptCh              FrameType = 0x89
	FrameWebTransportStream    FrameType = 0x41
)

// maxFrameLength bounds how large a fully-buffered small frame's payload
// may be before ERROR is declared, spec.md §4.K.
func maxFrameLength(t FrameType) uint64 {
	switch t {
	case FrameSettings:
		return 1 << 20 // 1 MiB
	case FrameGoaway, FrameMaxPushID:
		return 8
	case FramePriorityUpdateRequest, FramePriorityUpdatePush:
		return 4096
	case FrameAcceptCh:
		return 1 << 16
	default:
		return 0 // unbounded / streamed
	}
}

// isStreamed reports whether a frame type's payload is delivered to the
// visitor fragment-by-fragment rather than buffered whole.
func isStreamed(t FrameType) bool {
	switch t {
	case FrameData, FrameHeaders:
		return true
	case FrameSettings, FrameGoaway, FrameMaxPushID,
		FramePriorityUpdateRequest, FramePriorityUpdatePush, FrameAcceptCh:
		return false
	default:
		return true // unknown frame types are streamed, spec.md §4.K
	}
}

// isHTTP2Only reports whether t must never appear on an HTTP/3 connection.
func isHTTP2Only(t FrameType) bool {
	switch t {
	case framePriority, framePing, frameWindowUpdate, frameContinuation:
		return true
	default:
		return false
	}
}

// isLegacyPush reports whether t is a deprecated server-push frame type.
func isLegacyPush(t FrameType) bool {
	return t == FrameCancelPush || t == FramePushPromise
}

// Setting is one SETTINGS identifier/value pair, RFC 9114 §7.2.4.
type Setting struct {
	ID    uint64
	Value uint64
}

// http2OnlySettingIDs are setting identifiers reserved by HTTP/2 and
// forbidden in HTTP/3 SETTINGS frames, RFC 9114 §7.2.4.1.
var http2OnlySettingIDs = map[uint64]bool{
	0x2: true, // SETTINGS_ENABLE_PUSH
	0x3: true, // SETTINGS_MAX_CONCURRENT_STREAMS
	0x4: true, // SETTINGS_INITIAL_WINDOW_SIZE
	0x5: true, // SETTINGS_MAX_FRAME_SIZE
}

// AcceptChEntry is one origin/value pair carried by an ACCEPT_CH frame,
// RFC-draft httpbis accept-ch, referenced by spec.md §6.
type AcceptChEntry struct {
	Origin string
	Value  string
}

func wireError(code quicerr.H3Code, reason string) *quicerr.WireCloseError {
	return quicerr.CloseH3(code, reason)
}
