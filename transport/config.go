// Package transport wires quictime/congestion/streams/http3/qpack into a
// single per-connection Config and a Connection skeleton that exercises the
// end-to-end data/control flow described by spec.md's component table,
// short of owning the UDP socket or driving the TLS 1.3 handshake
// (explicitly out of scope, spec.md §1 Non-goals).
//
// Grounded on original_source's quic_config.cc (the QuicConfig tag-based
// connection-option list) and quic_session.cc/quic_connection.cc (the
// component wiring), SPEC_FULL.md §4.N.
package transport

import (
	"github.com/xtls/xquic/congestion"
	"github.com/xtls/xquic/quictime"
)

// Config is the frozen-at-construction set of connection options named in
// spec.md §6, corresponding to original_source's QuicConfig tags (kNTLP,
// kTLPR, kNRTO, kPTOE, ...) kept here as named fields rather than a generic
// tag map (SPEC_FULL.md §9). No field selects the congestion controller
// (kTBBR): the sent-packet manager always runs CUBIC.
type Config struct {
	// Retransmission-timer and congestion-control tuning (kNTLP, kTLPR,
	// kNRTO, kCHRA, kPTOE, ...); holds congestion.Config as a named field since
	// every field there is itself one of spec.md §6's named options.
	Congestion congestion.Config

	// GoAwayUsesMaxStreamID selects between the two GOAWAY bound
	// interpretations left open by spec.md §9's Open Question: true
	// tracks the largest stream ID the connection will ever accept
	// (monotonically non-decreasing from the sender's perspective);
	// false (default) tracks the last stream ID the peer is guaranteed
	// to have fully processed (RFC 9114 §5.2's actual semantics).
	GoAwayUsesMaxStreamID bool

	// Stream-ID and flow-control limits.
	MaxOutgoingBidiStreams uint64
	MaxIncomingBidiStreams uint64
	MaxOutgoingUniStreams  uint64
	MaxIncomingUniStreams  uint64
	InitialStreamSendWindow    int64
	InitialStreamReceiveWindow int64
	InitialConnectionReceiveWindow int64

	// QPACK/H3 limits (the host's own SETTINGS values).
	MaxQPACKDynamicTableCapacity uint64
	MaxQPACKBlockedStreams       uint64
	MaxH3FieldSectionSize        uint64

	IdleTimeout quictime.Duration

	// Metrics, if non-nil, receives congestion-control telemetry
	// (quicmetrics.Collector is the Prometheus-backed implementation).
	// Left nil by DefaultConfig: observation is opt-in, and every call site
	// on the congestion.Metrics interface is already nil-safe.
	Metrics congestion.Metrics
}

// DefaultConfig returns spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		Congestion:                     congestion.DefaultConfig(),
		MaxOutgoingBidiStreams:         100,
		MaxIncomingBidiStreams:         100,
		MaxOutgoingUniStreams:          100,
		MaxIncomingUniStreams:          100,
		InitialStreamSendWindow:        1 << 20,
		InitialStreamReceiveWindow:     1 << 20,
		InitialConnectionReceiveWindow: 1 << 24,
		MaxQPACKDynamicTableCapacity:   4096,
		MaxQPACKBlockedStreams:         16,
		MaxH3FieldSectionSize:          1 << 16,
		IdleTimeout:                    quictime.Milliseconds(30_000),
	}
}
