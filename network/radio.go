package network

import (
	"github.com/sarchlab/tapbridge/mobility"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
	"gonum.org/v1/gonum/spatial/r3"
)

// SpeedOfLight is the propagation speed of radio signals, in m/s.
const SpeedOfLight = 299792458.0

// A Locator tells where the cell serving a node is.
type Locator interface {
	ServingCellPosition(node string) (r3.Vec, bool)
}

// A RadioChannel connects mobile nodes and a gateway through cells. It does
// not model the radio itself. Each hop between a mobile node and its serving
// cell adds the distance divided by the speed of light to the base delay.
// Mobile nodes without a serving cell are out of reach.
type RadioChannel struct {
	linkBase

	locator Locator
}

// SetLocator sets where the serving cells are looked up.
func (c *RadioChannel) SetLocator(l Locator) {
	c.locator = l
}

func (c *RadioChannel) transmit(
	src *Interface,
	f packet.Frame,
	now sim.VTimeInSec,
) (sim.VTimeInSec, bool) {
	done := now + c.spec.DataRate.TransmitTime(f.Len())

	srcHop, ok := c.hopDelay(src, now)
	if !ok {
		logger().WithField("interface", src.Name()).
			Debug("radio sender has no serving cell")
		return done, true
	}

	c.deliver(src, f, done, func(dst *Interface) sim.VTimeInSec {
		dstHop, ok := c.hopDelay(dst, now)
		if !ok {
			return -1
		}

		return c.spec.Delay + srcHop + dstHop
	})

	return done, true
}

// PropagationDelay returns the delay between two interfaces at a time.
func (c *RadioChannel) PropagationDelay(
	a, b *Interface,
	now sim.VTimeInSec,
) (sim.VTimeInSec, bool) {
	ha, okA := c.hopDelay(a, now)
	hb, okB := c.hopDelay(b, now)

	return c.spec.Delay + ha + hb, okA && okB
}

func (c *RadioChannel) hopDelay(
	i *Interface,
	now sim.VTimeInSec,
) (sim.VTimeInSec, bool) {
	pos, mobile := i.node.Position(now)
	if !mobile || c.locator == nil {
		return 0, true
	}

	cell, found := c.locator.ServingCellPosition(i.node.Name())
	if !found {
		return 0, false
	}

	return sim.VTimeInSec(mobility.Distance(pos, cell) / SpeedOfLight), true
}
