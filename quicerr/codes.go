package quicerr

// TransportCode is a QUIC transport-layer error code (RFC 9000 §20.1),
// carried on the wire in CONNECTION_CLOSE frames of type 0x1c.
type TransportCode uint64

const (
	NoError                    TransportCode = 0x0
	InternalError              TransportCode = 0x1
	ConnectionRefused          TransportCode = 0x2
	FlowControlError           TransportCode = 0x3
	StreamLimitError           TransportCode = 0x4
	StreamStateError           TransportCode = 0x5
	FinalSizeError             TransportCode = 0x6
	FrameEncodingError         TransportCode = 0x7
	TransportParameterError    TransportCode = 0x8
	ConnectionIDLimitError     TransportCode = 0x9
	ProtocolViolation          TransportCode = 0xa
	InvalidToken               TransportCode = 0xb
	ApplicationError           TransportCode = 0xc
	CryptoBufferExceeded       TransportCode = 0xd
	KeyUpdateError             TransportCode = 0xe
	AeadLimitReached           TransportCode = 0xf
	NoViablePath               TransportCode = 0x10
	CryptoErrorBase            TransportCode = 0x100
	StreamsBlockedError        TransportCode = 0x1001 // local, non-wire: surfaced as StreamLimitError on the wire
	InvalidStreamID            TransportCode = 0x1002 // local, non-wire: surfaced as ProtocolViolation on the wire
	StreamLengthOverflow       TransportCode = 0x1003 // local, non-wire: surfaced as FrameEncodingError on the wire
	MaxStreamsError            TransportCode = 0x1004 // local, non-wire: surfaced as StreamLimitError on the wire
)

func (c TransportCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case InternalError:
		return "INTERNAL_ERROR"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case FlowControlError:
		return "FLOW_CONTROL_ERROR"
	case StreamLimitError:
		return "STREAM_LIMIT_ERROR"
	case StreamStateError:
		return "STREAM_STATE_ERROR"
	case FinalSizeError:
		return "FINAL_SIZE_ERROR"
	case FrameEncodingError:
		return "FRAME_ENCODING_ERROR"
	case TransportParameterError:
		return "TRANSPORT_PARAMETER_ERROR"
	case ConnectionIDLimitError:
		return "CONNECTION_ID_LIMIT_ERROR"
	case ProtocolViolation:
		return "PROTOCOL_VIOLATION"
	case InvalidToken:
		return "INVALID_TOKEN"
	case ApplicationError:
		return "APPLICATION_ERROR"
	case CryptoBufferExceeded:
		return "CRYPTO_BUFFER_EXCEEDED"
	case KeyUpdateError:
		return "KEY_UPDATE_ERROR"
	case AeadLimitReached:
		return "AEAD_LIMIT_REACHED"
	case NoViablePath:
		return "NO_VIABLE_PATH"
	case StreamsBlockedError:
		return "STREAMS_BLOCKED_ERROR"
	case InvalidStreamID:
		return "INVALID_STREAM_ID"
	case StreamLengthOverflow:
		return "STREAM_LENGTH_OVERFLOW"
	case MaxStreamsError:
		return "MAX_STREAMS_ERROR"
	default:
		return "UNKNOWN_TRANSPORT_ERROR"
	}
}

// H3Code is an HTTP/3 application error code (RFC 9114 §8.1).
type H3Code uint64

const (
	H3NoError                 H3Code = 0x100
	H3GeneralProtocolError    H3Code = 0x101
	H3InternalError           H3Code = 0x102
	H3StreamCreationError     H3Code = 0x103
	H3ClosedCriticalStream    H3Code = 0x104
	H3FrameUnexpected         H3Code = 0x105
	H3FrameError              H3Code = 0x106
	H3ExcessiveLoad           H3Code = 0x107
	H3IDError                 H3Code = 0x108
	H3SettingsError           H3Code = 0x109
	H3MissingSettings         H3Code = 0x10a
	H3RequestRejected         H3Code = 0x10b
	H3RequestCancelled        H3Code = 0x10c
	H3RequestIncomplete       H3Code = 0x10d
	H3MessageError            H3Code = 0x10e
	H3ConnectError            H3Code = 0x10f
	H3VersionFallback         H3Code = 0x110
	H3DuplicateSettingError   H3Code = 0x1101 // local, non-wire refinement of H3SettingsError
	H3FrameTooLargeError      H3Code = 0x1102 // local, non-wire refinement of H3FrameError
	H3ReceiveSpdyFrameError   H3Code = 0x1103 // local, non-wire refinement of H3FrameUnexpected
)

func (c H3Code) String() string {
	switch c {
	case H3NoError:
		return "H3_NO_ERROR"
	case H3GeneralProtocolError:
		return "H3_GENERAL_PROTOCOL_ERROR"
	case H3InternalError:
		return "H3_INTERNAL_ERROR"
	case H3StreamCreationError:
		return "H3_STREAM_CREATION_ERROR"
	case H3ClosedCriticalStream:
		return "H3_CLOSED_CRITICAL_STREAM"
	case H3FrameUnexpected:
		return "H3_FRAME_UNEXPECTED"
	case H3FrameError:
		return "H3_FRAME_ERROR"
	case H3ExcessiveLoad:
		return "H3_EXCESSIVE_LOAD"
	case H3IDError:
		return "H3_ID_ERROR"
	case H3SettingsError:
		return "H3_SETTINGS_ERROR"
	case H3MissingSettings:
		return "H3_MISSING_SETTINGS"
	case H3RequestRejected:
		return "H3_REQUEST_REJECTED"
	case H3RequestCancelled:
		return "H3_REQUEST_CANCELLED"
	case H3RequestIncomplete:
		return "H3_REQUEST_INCOMPLETE"
	case H3MessageError:
		return "H3_MESSAGE_ERROR"
	case H3ConnectError:
		return "H3_CONNECT_ERROR"
	case H3VersionFallback:
		return "H3_VERSION_FALLBACK"
	case H3DuplicateSettingError:
		return "HTTP_DUPLICATE_SETTING_IDENTIFIER"
	case H3FrameTooLargeError:
		return "HTTP_FRAME_TOO_LARGE"
	case H3ReceiveSpdyFrameError:
		return "HTTP_RECEIVE_SPDY_FRAME"
	default:
		return "UNKNOWN_H3_ERROR"
	}
}

// QPACKCode is a QPACK stream error code (RFC 9204 §6).
type QPACKCode uint64

const (
	QPACKDecompressionFailed QPACKCode = 0x200
	QPACKEncoderStreamError  QPACKCode = 0x201
	QPACKDecoderStreamError  QPACKCode = 0x202
)

func (c QPACKCode) String() string {
	switch c {
	case QPACKDecompressionFailed:
		return "QPACK_DECOMPRESSION_FAILED"
	case QPACKEncoderStreamError:
		return "QPACK_ENCODER_STREAM_ERROR"
	case QPACKDecoderStreamError:
		return "QPACK_DECODER_STREAM_ERROR"
	default:
		return "UNKNOWN_QPACK_ERROR"
	}
}

// WireCloseError is the information needed to emit a CONNECTION_CLOSE
// frame: the numeric code, which frame type carries it, and the human
// readable reason phrase (never required to be sent, but useful locally).
type WireCloseError struct {
	Transport TransportCode
	H3        *H3Code
	QPACK     *QPACKCode
	Reason    string
	Err       error
}

func (w *WireCloseError) Error() string {
	if w.Err != nil {
		return w.Reason + ": " + w.Err.Error()
	}
	return w.Reason
}

// Close constructs a WireCloseError for a transport-level close.
func Close(code TransportCode, reason string) *WireCloseError {
	return &WireCloseError{Transport: code, Reason: reason}
}

// CloseH3 constructs a WireCloseError for an HTTP/3 application-level close.
func CloseH3(code H3Code, reason string) *WireCloseError {
	c := code
	return &WireCloseError{Transport: ApplicationError, H3: &c, Reason: reason}
}

// CloseQPACK constructs a WireCloseError for a QPACK stream error, which
// per spec.md §7.5 terminates the whole connection.
func CloseQPACK(code QPACKCode, reason string) *WireCloseError {
	c := code
	return &WireCloseError{Transport: ApplicationError, QPACK: &c, Reason: reason}
}
