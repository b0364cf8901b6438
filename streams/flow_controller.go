package streams

import "github.com/xtls/xquic/quicerr"

// autoTuneWindowMultiplier is the factor by which auto-tuning grows the
// receive window.
const autoTuneWindowMultiplier = 2

// FlowController tracks per-stream (or connection-level) send/receive flow
// control, spec.md §3/§4.H.
//
// Grounded on the receive/send-window bookkeeping described across
// quic_flow_controller.cc in original_source.
type FlowController struct {
	bytesSent       int64
	sendWindowOffset int64

	bytesConsumed         int64
	highestReceivedOffset int64
	receiveWindowSize     int64
	receiveWindowOffset   int64

	autoTune               bool
	lastBlockedOffsetSent  int64
	everSentBlocked        bool

	bytesConsumedAtLastWindowUpdate int64
}

// NewFlowController creates a controller with the given initial send and
// receive window sizes.
func NewFlowController(initialSendWindow, initialReceiveWindow int64) *FlowController {
	return &FlowController{
		sendWindowOffset:    initialSendWindow,
		receiveWindowSize:   initialReceiveWindow,
		receiveWindowOffset: initialReceiveWindow,
	}
}

// SetAutoTune enables receive-window auto-tuning: whenever a full receive
// window has been consumed since the current window began, the window size
// is multiplied by autoTuneWindowMultiplier. Elapsed time is not measured;
// the window grows regardless of how many round trips the consumption took.
func (f *FlowController) SetAutoTune(v bool) { f.autoTune = v }

// UpdateSendWindowOffset raises the send window if newOffset is larger than
// the current one; per spec.md §4.H the send window only ever grows.
func (f *FlowController) UpdateSendWindowOffset(newOffset int64) {
	if newOffset > f.sendWindowOffset {
		f.sendWindowOffset = newOffset
	}
}

// SendWindowSize returns how many more bytes may currently be sent.
func (f *FlowController) SendWindowSize() int64 {
	if f.sendWindowOffset <= f.bytesSent {
		return 0
	}
	return f.sendWindowOffset - f.bytesSent
}

// AddBytesSent records length bytes as sent against the send window.
func (f *FlowController) AddBytesSent(length int64) { f.bytesSent += length }

// ShouldSendBlocked reports whether a BLOCKED frame should be emitted for
// the current send-window offset, suppressing duplicates for the same
// offset, spec.md §4.H.
func (f *FlowController) ShouldSendBlocked() bool {
	if f.SendWindowSize() > 0 {
		return false
	}
	if f.everSentBlocked && f.lastBlockedOffsetSent == f.sendWindowOffset {
		return false
	}
	f.everSentBlocked = true
	f.lastBlockedOffsetSent = f.sendWindowOffset
	return true
}

// AddBytesReceived raises highestReceivedOffset; returns an error if the
// new offset exceeds the receive window, spec.md §4.H FlowControlViolation.
func (f *FlowController) AddBytesReceived(newHighestOffset int64) error {
	if newHighestOffset <= f.highestReceivedOffset {
		return nil
	}
	if newHighestOffset > f.receiveWindowOffset {
		return quicerr.New("AddBytesReceived: flow control violation, offset ", newHighestOffset, " > window ", f.receiveWindowOffset).AtError()
	}
	f.highestReceivedOffset = newHighestOffset
	return nil
}

// AddBytesConsumed records length bytes delivered to the application,
// advancing the receive window and running the auto-tune heuristic,
// spec.md §4.H.
func (f *FlowController) AddBytesConsumed(length int64) {
	f.bytesConsumed += length
	f.maybeAutoTune()
	f.receiveWindowOffset = f.bytesConsumed + f.receiveWindowSize
}

func (f *FlowController) maybeAutoTune() {
	if !f.autoTune {
		return
	}
	windowConsumedFraction := f.bytesConsumed - (f.receiveWindowOffset - f.receiveWindowSize)
	if windowConsumedFraction >= f.receiveWindowSize {
		f.receiveWindowSize *= autoTuneWindowMultiplier
	}
}

// ReceiveWindowOffset returns the current absolute receive-window boundary
// a MAX_STREAM_DATA / MAX_DATA frame would advertise.
func (f *FlowController) ReceiveWindowOffset() int64 { return f.receiveWindowOffset }

// BytesConsumed returns how many bytes the application has consumed.
func (f *FlowController) BytesConsumed() int64 { return f.bytesConsumed }

// HighestReceivedOffset returns the highest offset seen from the peer.
func (f *FlowController) HighestReceivedOffset() int64 { return f.highestReceivedOffset }

// ShouldSendWindowUpdate reports whether enough of the receive window has
// been consumed since the last advertised update to justify sending a new
// MAX_DATA/MAX_STREAM_DATA, using the classic "half the window consumed"
// heuristic.
func (f *FlowController) ShouldSendWindowUpdate() bool {
	return f.bytesConsumed-f.bytesConsumedAtLastWindowUpdate >= f.receiveWindowSize/2
}

// MarkWindowUpdateSent records that a window update was just advertised,
// resetting the baseline ShouldSendWindowUpdate measures against.
func (f *FlowController) MarkWindowUpdateSent() {
	f.bytesConsumedAtLastWindowUpdate = f.bytesConsumed
}
