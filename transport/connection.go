package transport

import (
	"github.com/xtls/xquic/congestion"
	"github.com/xtls/xquic/http3"
	"github.com/xtls/xquic/qpack"
	"github.com/xtls/xquic/quicerr"
	"github.com/xtls/xquic/quictime"
	"github.com/xtls/xquic/streams"
)

// Connection owns one QUIC+HTTP/3 endpoint's worth of state (components
// B..M) and demonstrates how they fit together: packet send/ack accounting,
// stream lifecycle, HTTP/3 framing and QPACK compression. It does not own a
// UDP socket or drive the TLS 1.3 handshake — the host application supplies
// decrypted packet payloads and consumes the datagrams this type produces,
// spec.md §1 Non-goals.
//
// Grounded on original_source's quic_session.cc/quic_connection.cc for the
// overall shape, scaled down to what a host-driven (not socket-owning)
// library can express.
type Connection struct {
	cfg Config

	packets *congestion.SentPacketManager
	ids     *streams.IDManager
	sched   *streams.WriteScheduler
	stream  map[uint64]*streams.Stream

	h3Dec *http3.Decoder // decodes frames arriving on peer-initiated request/control streams
	qEnc  *qpack.Encoder
	qDec  *qpack.Decoder

	goaway *GoAwayTracker
	mtu    *MTUDiscovery

	localConnID []byte
	connIDs     *connIDs

	isClient     bool
	lastCloseErr *quicerr.WireCloseError

	pendingStreamsBlocked []pendingLimitFrame
	pendingMaxStreams     []pendingLimitFrame
}

// NewConnection creates a Connection in the given role, wired per cfg.
// visitor receives HTTP/3 frame events, typically a caller-supplied router
// (Connection itself does not implement http3.Visitor: frame semantics are
// application-specific request/response handling the host owns).
func NewConnection(cfg Config, isClient bool, visitor http3.Visitor) *Connection {
	c := &Connection{
		cfg:      cfg,
		sched:    streams.NewWriteScheduler(),
		stream:   make(map[uint64]*streams.Stream),
		goaway:   NewGoAwayTracker(cfg),
		mtu:      NewMTUDiscovery(minimumDatagramSize),
		connIDs:  newConnIDs(),
		isClient: isClient,
	}
	c.localConnID, _ = c.connIDs.Issue()
	c.packets = congestion.NewSentPacketManager(cfg.Congestion, c, cfg.Metrics)
	c.ids = streams.NewIDManager(isClient, c,
		cfg.MaxOutgoingBidiStreams, cfg.MaxIncomingBidiStreams,
		cfg.MaxOutgoingUniStreams, cfg.MaxIncomingUniStreams)
	c.h3Dec = http3.NewDecoder(visitor)
	c.qEnc = qpack.NewEncoder(cfg.MaxQPACKDynamicTableCapacity, cfg.MaxQPACKBlockedStreams, c)
	c.qDec = qpack.NewDecoder(cfg.MaxQPACKDynamicTableCapacity, cfg.MaxQPACKBlockedStreams, c)
	return c
}

// minimumDatagramSize is the RFC 9000 §14.1 floor a client's Initial
// datagram must reach, used as MTU discovery's starting point.
const minimumDatagramSize = 1200

// NextMTUProbe reports the next path MTU size to probe, or 0 if discovery
// has converged. The host event loop is responsible for building a
// padded, ack-eliciting datagram of that size and calling SendMTUProbe once
// it has assigned the packet a number.
func (c *Connection) NextMTUProbe() int { return c.mtu.NextProbeSize() }

// SendMTUProbe records a just-sent MTU discovery probe so its outcome can
// be attributed once the packet manager reports it acked or lost.
func (c *Connection) SendMTUProbe(pn quictime.PacketNumber, size int) {
	c.mtu.OnProbeSent(pn, size)
	c.packets.OnPacketSent(quictime.SpaceApplication, pn, congestion.TransmissionInfo{
		TransmissionType: congestion.ProbeTransmission,
		BytesSent:        quictime.ByteCount(size),
		InFlight:         true,
		State:            congestion.Outstanding,
	}, quictime.Now(), true)
}

// ConfirmedMTU returns the largest path MTU size confirmed by an
// acknowledged probe so far.
func (c *Connection) ConfirmedMTU() int { return c.mtu.Confirmed() }

// OnMTUProbeAcked reports pn's outcome to MTU discovery if pn was a
// tracked probe, returning whether it was. The host calls this alongside
// its normal ack processing once it resolves which packet numbers a
// received ACK frame covers.
func (c *Connection) OnMTUProbeAcked(pn quictime.PacketNumber) bool { return c.mtu.OnPacketAcked(pn) }

// OnMTUProbeLost is the loss-side counterpart of OnMTUProbeAcked.
func (c *Connection) OnMTUProbeLost(pn quictime.PacketNumber) bool { return c.mtu.OnPacketLost(pn) }

// LocalConnectionID returns the connection ID this endpoint has asked its
// peer to address packets to, the first ID issued at construction time.
func (c *Connection) LocalConnectionID() []byte { return c.localConnID }

// IssueConnectionID generates and records a new connection ID for this
// endpoint, returning it with the sequence number to carry in the
// NEW_CONNECTION_ID frame the host sends to the peer.
func (c *Connection) IssueConnectionID() (id []byte, seq uint64) { return c.connIDs.Issue() }

// RetireConnectionID processes a RETIRE_CONNECTION_ID frame's payload,
// closing the connection with PROTOCOL_VIOLATION if id was never issued.
func (c *Connection) RetireConnectionID(id []byte) {
	if !c.connIDs.Retire(id) {
		c.CloseConnection(quicerr.ProtocolViolation, "retired unknown connection ID")
	}
}

// PacketManager exposes the underlying congestion/loss-detection state for
// a host event loop to drive (OnPacketSent, OnAckReceived, GetLossTimeout,
// ...).
func (c *Connection) PacketManager() *congestion.SentPacketManager { return c.packets }

// StreamIDManager exposes stream-ID bookkeeping for a host event loop.
func (c *Connection) StreamIDManager() *streams.IDManager { return c.ids }

// WriteScheduler exposes the write-ready stream scheduler.
func (c *Connection) WriteScheduler() *streams.WriteScheduler { return c.sched }

// recoverFromInternalPanic is the category-2 local-invariant safety net
// (spec.md §7): a violated internal assertion (e.g. UnackedPacketMap.AddSent
// or quictime's varint encoder being handed an out-of-range value) panics
// rather than threading an error return through hot bookkeeping paths. Any
// panic crossing an input entry point is caught here, recorded as a
// TRANSPORT_INTERNAL_ERROR close, and the caller is told nothing was
// consumed instead of taking the whole host process down with it.
func (c *Connection) recoverFromInternalPanic() {
	if r := recover(); r != nil {
		c.lastCloseErr = quicerr.Close(quicerr.InternalError, quicerr.New("panic: ", r).Error())
	}
}

// ProcessEncoderStream feeds bytes read from the peer's QPACK encoder
// stream into this connection's decoder.
func (c *Connection) ProcessEncoderStream(data []byte) (n int) {
	defer c.recoverFromInternalPanic()
	return c.qDec.ProcessEncoderStreamInstructions(data)
}

// ProcessDecoderStream feeds bytes read from the peer's QPACK decoder
// stream into this connection's encoder-side bookkeeping.
func (c *Connection) ProcessDecoderStream(data []byte) {
	defer c.recoverFromInternalPanic()
	for len(data) > 0 {
		inst, n, ok := qpack.ConsumeDecoderInstruction(data)
		if !ok {
			return
		}
		switch inst.Type {
		case qpack.DecInstHeaderAck:
			c.qEnc.OnHeaderAcknowledgement(inst.StreamID)
		case qpack.DecInstStreamCancellation:
			c.qEnc.OnStreamCancellation(inst.StreamID)
		case qpack.DecInstInsertCountIncrement:
			c.qEnc.OnInsertCountIncrement(inst.Increment)
		}
		data = data[n:]
	}
}

// ProcessRequestStream feeds bytes received on a request or control stream
// into the HTTP/3 frame decoder, returning the number of bytes consumed.
func (c *Connection) ProcessRequestStream(data []byte) (n int) {
	defer c.recoverFromInternalPanic()
	return c.h3Dec.ProcessInput(data)
}

// --- congestion.SessionNotifier ---

func (c *Connection) OnFrameAcked(frame congestion.StreamFrameRef, ackDelay quictime.Duration) bool {
	s, ok := c.stream[frame.StreamID]
	if !ok {
		return false
	}
	return s.OnStreamFrameAcked(frame.Offset, frame.Length, frame.Fin) == nil
}

func (c *Connection) OnFrameLost(frame congestion.StreamFrameRef) {
	if s, ok := c.stream[frame.StreamID]; ok {
		s.OnStreamFrameLost(frame.Offset, frame.Length, frame.Fin)
	}
}

// --- streams.IDManagerHooks ---
//
// A host-driven connection (no packet builder owned here) records these as
// pending control-frame obligations rather than writing wire bytes
// directly; draining them into actual STREAMS_BLOCKED/MAX_STREAMS frames is
// the host event loop's job once it has a packet to put them in.

func (c *Connection) SendStreamsBlocked(dir streams.Direction, limit uint64) {
	c.pendingStreamsBlocked = append(c.pendingStreamsBlocked, pendingLimitFrame{dir: dir, limit: limit})
}

func (c *Connection) SendMaxStreams(dir streams.Direction, limit uint64) {
	c.pendingMaxStreams = append(c.pendingMaxStreams, pendingLimitFrame{dir: dir, limit: limit})
}

func (c *Connection) CloseConnection(code quicerr.TransportCode, reason string) {
	c.lastCloseErr = quicerr.Close(code, reason)
}

func (c *Connection) OnCanCreateOutgoing(dir streams.Direction) {}

// --- qpack.DecoderStreamErrorDelegate / EncoderStreamErrorDelegate ---

func (c *Connection) OnDecoderStreamError(code quicerr.QPACKCode, reason string) {
	c.lastCloseErr = quicerr.CloseQPACK(code, reason)
}

func (c *Connection) OnEncoderStreamError(code quicerr.QPACKCode, reason string) {
	c.lastCloseErr = quicerr.CloseQPACK(code, reason)
}

// LastCloseError returns the most recent reason a component asked for the
// connection to close, or nil if none has occurred. The host event loop
// polls this after driving input through the connection's components.
func (c *Connection) LastCloseError() *quicerr.WireCloseError { return c.lastCloseErr }

// SendGoAway validates id against the prior GOAWAY this endpoint sent (RFC
// 9114 §5.2 monotonicity) and, if valid, returns the frame to send.
func (c *Connection) SendGoAway(id uint64) ([]byte, error) {
	if err := c.goaway.OnSend(id); err != nil {
		return nil, err
	}
	return http3.AppendGoAwayFrame(nil, id), nil
}

// OnGoAwayReceived validates a GOAWAY received from the peer.
func (c *Connection) OnGoAwayReceived(id uint64) error {
	return c.goaway.OnReceive(id)
}

// EncodeHeaders runs a header list through this connection's QPACK encoder
// for transmission on streamID, returning the complete HEADERS frame
// (prefix plus QPACK-compressed block) and any encoder-stream instructions
// that must be written to the encoder stream first.
func (c *Connection) EncodeHeaders(streamID uint64, headers []qpack.HeaderField) (headersFrame, encoderInstructions []byte) {
	block, insts := c.qEnc.EncodeHeaderList(streamID, headers)
	frame := http3.AppendHeadersFrame(make([]byte, 0, len(block)+8), uint64(len(block)))
	frame = append(frame, block...)
	return frame, insts
}

// DecodeHeaders decodes a HEADERS frame payload received on streamID. If
// the block references dynamic-table entries not yet inserted, onComplete
// fires later once ProcessEncoderStream observes the insertion.
func (c *Connection) DecodeHeaders(streamID uint64, payload []byte, onComplete func([]qpack.HeaderField, error)) {
	c.qDec.DecodeHeaderBlock(streamID, payload, onComplete)
}

type pendingLimitFrame struct {
	dir   streams.Direction
	limit uint64
}
