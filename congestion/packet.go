// Package congestion implements the sender-side packet bookkeeping, the
// bandwidth sampler, the CUBIC and BBR2 congestion controllers, the pacing
// sender, and the sent-packet manager that ties them together with the
// retransmission-timer state machine (spec.md §4.B–§4.F).
//
// Grounded throughout on original_source's QUICHE snapshot, primarily
// src/net/third_party/quiche/src/quiche/quic/core/quic_unacked_packet_map.cc,
// congestion_control/{bandwidth_sampler,pacing_sender,bbr2_misc}.cc,
// net/quic/core/congestion_control/cubic.cc and quic_sent_packet_manager.cc.
package congestion

import (
	"github.com/xtls/xquic/quictime"
)

// EncryptionLevel mirrors the three packet-number spaces plus the 0-RTT
// sub-level that shares Application's packet-number space.
type EncryptionLevel uint8

const (
	EncryptionInitial EncryptionLevel = iota
	EncryptionHandshake
	EncryptionZeroRTT
	EncryptionForward // 1-RTT / Application
)

// Space returns the packet-number space this encryption level uses.
func (e EncryptionLevel) Space() quictime.Space {
	switch e {
	case EncryptionInitial:
		return quictime.SpaceInitial
	case EncryptionHandshake:
		return quictime.SpaceHandshake
	default:
		return quictime.SpaceApplication
	}
}

// TransmissionType classifies why a packet was sent, spec.md §3.
type TransmissionType uint8

const (
	NotRetransmission TransmissionType = iota
	InitialTransmission
	LossRetransmission
	TLPRetransmission
	RTORetransmission
	PTORetransmission
	PathRetransmission
	ZeroRTTRetransmission
	ProbeTransmission // MTU discovery probe, spec.md §9 / SPEC_FULL.md §9
)

// SentPacketState is the mutually-exclusive lifecycle state of one sent
// packet, spec.md §3 TransmissionInfo invariant ("exactly one state is set
// at a time").
type SentPacketState uint8

const (
	NeverSent SentPacketState = iota
	Outstanding
	Acked
	Unackable
	Neutered
	HandshakeRetransmitted
	Lost
	PTORetransmitted
	NotContributingRTT
)

func (s SentPacketState) String() string {
	switch s {
	case NeverSent:
		return "never-sent"
	case Outstanding:
		return "outstanding"
	case Acked:
		return "acked"
	case Unackable:
		return "unackable"
	case Neutered:
		return "neutered"
	case HandshakeRetransmitted:
		return "handshake-retransmitted"
	case Lost:
		return "lost"
	case PTORetransmitted:
		return "pto-retransmitted"
	case NotContributingRTT:
		return "not-contributing-rtt"
	default:
		return "unknown"
	}
}

// StreamFrameRef is the minimal description of a retransmittable stream
// frame needed to re-drive loss/ack notification up to the stream layer;
// the session/stream code (package streams) owns the actual bytes.
type StreamFrameRef struct {
	StreamID uint64
	Offset   int64
	Length   int64
	Fin      bool
}

// TransmissionInfo is the per-sent-packet metadata kept by the
// UnackedPacketMap, spec.md §3.
type TransmissionInfo struct {
	EncryptionLevel     EncryptionLevel
	PacketNumberLength  int
	TransmissionType    TransmissionType
	SentTime            quictime.Time
	BytesSent           quictime.ByteCount
	HasCryptoHandshake  bool
	PaddingBytes        quictime.ByteCount
	InFlight            bool
	State               SentPacketState
	RetransmittableData []StreamFrameRef
	RetransmissionOf    quictime.PacketNumber // set when this packet superseded an earlier one
	LargestAcked        quictime.PacketNumber // largest acked carried by this packet's own ACK frame, if any

	// ackedForRTT records whether this packet has been acknowledged; it is
	// set on every ack, whether or not that ack produced an RTT sample.
	ackedForRTT bool
}

// HasRetransmittableData reports whether this packet carries frames that
// must be retransmitted if lost.
func (info *TransmissionInfo) HasRetransmittableData() bool {
	return len(info.RetransmittableData) > 0 || info.HasCryptoHandshake
}
