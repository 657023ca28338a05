// Package mobility places simulated nodes in space and keeps track of the cell
// each mobile node is attached to.
package mobility

import (
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// A Model tells where a node is at a given time. Positions are in metres.
type Model interface {
	Position(t sim.VTimeInSec) r3.Vec
}

// ConstantPosition keeps a node at a fixed place.
type ConstantPosition struct {
	Pos r3.Vec
}

// Position returns the fixed position.
func (m ConstantPosition) Position(_ sim.VTimeInSec) r3.Vec {
	return m.Pos
}

// ConstantVelocity moves a node in a straight line, with Velocity in metres
// per second. Before StartTime the node stays at Start.
type ConstantVelocity struct {
	Start     r3.Vec
	Velocity  r3.Vec
	StartTime sim.VTimeInSec
}

// Position returns Start + Velocity*(t-StartTime).
func (m ConstantVelocity) Position(t sim.VTimeInSec) r3.Vec {
	dt := float64(t - m.StartTime)
	if dt <= 0 {
		return m.Start
	}

	return r3.Add(m.Start, r3.Scale(dt, m.Velocity))
}

// Distance returns the distance between two points in metres.
func Distance(a, b r3.Vec) float64 {
	return r3.Norm(r3.Sub(a, b))
}

func logger() *logrus.Entry {
	return logrus.WithField("subsystem", "mobility")
}
