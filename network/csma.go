package network

import (
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
)

const (
	csmaSlotTime    = sim.VTimeInSec(1e-6)
	csmaMaxSlots    = 1000
	csmaMaxAttempts = 1000
)

// A CSMAChannel is a shared bus. Only one interface can transmit at a time,
// the others back off for a random number of slots and retry.
type CSMAChannel struct {
	linkBase

	busyUntil sim.VTimeInSec
}

func (c *CSMAChannel) transmit(
	src *Interface,
	f packet.Frame,
	now sim.VTimeInSec,
) (sim.VTimeInSec, bool) {
	if now < c.busyUntil {
		return 0, false
	}

	done := now + c.spec.DataRate.TransmitTime(f.Len())
	c.busyUntil = done
	c.deliver(src, f, done, c.fixedDelay)

	return done, true
}

func (c *CSMAChannel) backoff(
	src *Interface,
	attempt int,
	now sim.VTimeInSec,
) sim.VTimeInSec {
	maxSlots := 1 << uint(min(attempt, 10))
	if maxSlots > csmaMaxSlots {
		maxSlots = csmaMaxSlots
	}

	slots := src.randomStream().RandInt(1, maxSlots)

	wait := c.busyUntil - now
	if wait < 0 {
		wait = 0
	}

	return wait + sim.VTimeInSec(slots)*csmaSlotTime
}
