package network

import (
	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
)

// A PointToPointChannel is a full-duplex link between exactly two
// interfaces.
type PointToPointChannel struct {
	linkBase
}

func (c *PointToPointChannel) attach(i *Interface) error {
	if len(c.members) >= 2 {
		return errors.Errorf("point-to-point link %s already has two ends",
			c.spec.Name)
	}

	return c.linkBase.attach(i)
}

func (c *PointToPointChannel) transmit(
	src *Interface,
	f packet.Frame,
	now sim.VTimeInSec,
) (sim.VTimeInSec, bool) {
	done := now + c.spec.DataRate.TransmitTime(f.Len())
	c.deliver(src, f, done, c.fixedDelay)

	return done, true
}
