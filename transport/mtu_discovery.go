package transport

import "github.com/xtls/xquic/quictime"

// Probe sizes searched in order, a coarse ladder between the IPv6 minimum
// (1280, covering both encapsulated and plain paths) and a conservative
// Ethernet-era ceiling. Grounded on original_source's
// quic_packet_generator.cc MTU discovery alarm, which walks a similar
// widening search rather than probing every size.
var defaultMTUProbeLadder = []int{1280, 1390, 1440, 1472}

// MTUDiscovery drives DPLPMTUD-style path MTU probing: it hands out the
// next candidate probe size and records whether each probe was
// acknowledged, narrowing the search until it converges on the largest size
// confirmed to cross the path.
type MTUDiscovery struct {
	ladder    []int
	attempted int
	confirmed int
	pending   map[quictime.PacketNumber]int
}

func NewMTUDiscovery(baseSize int) *MTUDiscovery {
	return &MTUDiscovery{ladder: defaultMTUProbeLadder, confirmed: baseSize, pending: make(map[quictime.PacketNumber]int)}
}

// NextProbeSize returns the next candidate size to probe, or 0 once the
// ladder is exhausted (discovery has converged on Confirmed()).
func (d *MTUDiscovery) NextProbeSize() int {
	for d.attempted < len(d.ladder) {
		size := d.ladder[d.attempted]
		if size > d.confirmed {
			return size
		}
		d.attempted++
	}
	return 0
}

// OnProbeSent records that a probe of the given size was sent as pn, so its
// outcome can be attributed when the packet is later acked or lost.
func (d *MTUDiscovery) OnProbeSent(pn quictime.PacketNumber, size int) {
	d.pending[pn] = size
	d.attempted++
}

// OnPacketAcked reports whether pn was a tracked MTU probe, confirming its
// size as usable if so.
func (d *MTUDiscovery) OnPacketAcked(pn quictime.PacketNumber) bool {
	size, ok := d.pending[pn]
	if !ok {
		return false
	}
	delete(d.pending, pn)
	if size > d.confirmed {
		d.confirmed = size
	}
	return true
}

// OnPacketLost reports whether pn was a tracked MTU probe. A lost probe is
// dropped from tracking without retransmission (RFC 8899 §3); its loss is
// already excluded from congestion response by congestion.ProbeTransmission
// handling in SentPacketManager.
func (d *MTUDiscovery) OnPacketLost(pn quictime.PacketNumber) bool {
	_, ok := d.pending[pn]
	delete(d.pending, pn)
	return ok
}

// Confirmed returns the largest probe size acknowledged so far.
func (d *MTUDiscovery) Confirmed() int { return d.confirmed }
