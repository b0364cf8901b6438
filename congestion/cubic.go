package congestion

import (
	"math"

	"github.com/xtls/xquic/quictime"
)

// Constants grounded on net/quic/core/congestion_control/cubic.cc.
const (
	cubeScale            = 40
	cubeCongestionWindowScale = 410
	defaultNumConnections = 2
	cubicBeta             = 0.7  // kBeta
	cubicBetaLastMax      = 0.85 // kBetaLastMax
)

var cubeFactor = float64(uint64(1)<<cubeScale) / cubeCongestionWindowScale

// maxCubicTimeInterval bounds how often CongestionWindowAfterAck recomputes
// the curve when the congestion window hasn't changed, matching QUICHE's
// MaxCubicTimeInterval (30ms).
var maxCubicTimeInterval = quictime.Milliseconds(30)

// Cubic implements the CUBIC congestion-control algorithm, spec.md §4.D.1.
type Cubic struct {
	numConnections int

	epoch            quictime.Time
	lastUpdateTime   quictime.Time
	lastCongestionWindow quictime.ByteCount
	lastMaxCongestionWindow quictime.ByteCount
	lastTargetCongestionWindow quictime.ByteCount

	ackedPacketsCount quictime.ByteCount
	epochPacketsCount quictime.ByteCount

	estimatedTCPCongestionWindow quictime.ByteCount
	originPointCongestionWindow  quictime.ByteCount
	timeToOriginPoint            uint64
}

// NewCubic creates a Cubic sender-side state machine with the default
// 2-connection emulation factor.
func NewCubic() *Cubic {
	c := &Cubic{numConnections: defaultNumConnections}
	c.ResetCubicState()
	return c
}

// SetNumConnections overrides N, the concurrent-flow emulation factor.
func (c *Cubic) SetNumConnections(n int) { c.numConnections = n }

// alpha returns α_N, spec.md §4.D.1.
func (c *Cubic) alpha() float64 {
	beta := c.beta()
	n := float64(c.numConnections)
	return 3 * n * n * (1 - beta) / (1 + beta)
}

// beta returns β_N.
func (c *Cubic) beta() float64 {
	return (float64(c.numConnections) - 1 + cubicBeta) / float64(c.numConnections)
}

// betaLastMax returns β_last_max_N.
func (c *Cubic) betaLastMax() float64 {
	return (float64(c.numConnections) - 1 + cubicBetaLastMax) / float64(c.numConnections)
}

// ResetCubicState clears the curve's origin, matching a fresh connection.
func (c *Cubic) ResetCubicState() {
	c.epoch = quictime.Zero()
	c.lastUpdateTime = quictime.Zero()
	c.lastCongestionWindow = 0
	c.lastMaxCongestionWindow = 0
	c.ackedPacketsCount = 0
	c.epochPacketsCount = 0
	c.estimatedTCPCongestionWindow = 0
	c.originPointCongestionWindow = 0
	c.timeToOriginPoint = 0
	c.lastTargetCongestionWindow = 0
}

// OnApplicationLimited zeroes the epoch so the cubic curve does not
// advance during idleness, spec.md §4.D.1.
func (c *Cubic) OnApplicationLimited() {
	c.epoch = quictime.Zero()
}

// CongestionWindowAfterPacketLoss implements spec.md §4.D.1's on-loss
// transition: ceding room to a competing flow when the window never
// reached the previous max.
func (c *Cubic) CongestionWindowAfterPacketLoss(current quictime.ByteCount) quictime.ByteCount {
	if current < c.lastMaxCongestionWindow {
		c.lastMaxCongestionWindow = quictime.ByteCount(c.betaLastMax() * float64(current))
	} else {
		c.lastMaxCongestionWindow = current
	}
	c.epoch = quictime.Zero()
	return quictime.ByteCount(float64(current) * c.beta())
}

// CongestionWindowAfterAck implements spec.md §4.D.1's per-ack cubic
// curve evaluation, TCP-friendliness blending and cap.
func (c *Cubic) CongestionWindowAfterAck(current quictime.ByteCount, minRTT quictime.Duration, eventTime quictime.Time) quictime.ByteCount {
	c.ackedPacketsCount++
	c.epochPacketsCount++

	if c.lastCongestionWindow == current && !c.epoch.IsZero() && eventTime.Sub(c.lastUpdateTime) <= maxCubicTimeInterval {
		if c.lastTargetCongestionWindow > c.estimatedTCPCongestionWindow {
			return c.lastTargetCongestionWindow
		}
		return c.estimatedTCPCongestionWindow
	}
	c.lastCongestionWindow = current
	c.lastUpdateTime = eventTime

	if c.epoch.IsZero() {
		c.epoch = eventTime
		c.ackedPacketsCount = 1
		c.epochPacketsCount = 1
		c.estimatedTCPCongestionWindow = current
		if c.lastMaxCongestionWindow <= current {
			c.timeToOriginPoint = 0
			c.originPointCongestionWindow = current
		} else {
			c.timeToOriginPoint = uint64(math.Cbrt(cubeFactor * float64(c.lastMaxCongestionWindow-current)))
			c.originPointCongestionWindow = c.lastMaxCongestionWindow
		}
	}

	elapsedTime := ((eventTime.Add(minRTT).Sub(c.epoch)).ToMicroseconds() << 10) / 1000000
	offset := math.Abs(float64(int64(c.timeToOriginPoint) - elapsedTime))
	deltaCongestionWindow := quictime.ByteCount((cubeCongestionWindowScale * offset * offset * offset) / float64(uint64(1)<<cubeScale))

	addDelta := elapsedTime > int64(c.timeToOriginPoint)
	var target quictime.ByteCount
	if addDelta {
		target = c.originPointCongestionWindow + deltaCongestionWindow
	} else {
		target = c.originPointCongestionWindow - deltaCongestionWindow
	}

	cap := current + (c.epochPacketsCount+1)/2
	if target > cap {
		target = cap
	}

	for {
		requiredAckCount := quictime.ByteCount(float64(c.estimatedTCPCongestionWindow) / c.alpha())
		if c.ackedPacketsCount < requiredAckCount {
			break
		}
		c.ackedPacketsCount -= requiredAckCount
		c.estimatedTCPCongestionWindow++
	}
	c.epochPacketsCount = 0

	c.lastTargetCongestionWindow = target
	if target < c.estimatedTCPCongestionWindow {
		target = c.estimatedTCPCongestionWindow
	}
	return target
}
