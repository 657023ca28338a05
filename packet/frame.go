// Package packet defines the frames that travel between tap devices and the
// simulated network, and the helpers that decode and build them.
package packet

import (
	"bytes"

	"github.com/sarchlab/tapbridge/sim"
)

// A Frame is one Ethernet frame together with the simulated time at which it
// was captured. The bytes are never modified after construction.
type Frame struct {
	data []byte
	time sim.VTimeInSec
}

// NewFrame creates a frame from a copy of data.
func NewFrame(data []byte, t sim.VTimeInSec) Frame {
	buf := make([]byte, len(data))
	copy(buf, data)

	return Frame{data: buf, time: t}
}

// Time returns when the frame was captured.
func (f Frame) Time() sim.VTimeInSec {
	return f.time
}

// WithTime returns the same bytes stamped with another time.
func (f Frame) WithTime(t sim.VTimeInSec) Frame {
	return Frame{data: f.data, time: t}
}

// Len returns the number of bytes in the frame.
func (f Frame) Len() int {
	return len(f.data)
}

// Bytes returns a copy of the frame content.
func (f Frame) Bytes() []byte {
	buf := make([]byte, len(f.data))
	copy(buf, f.data)

	return buf
}

// Equal tells if two frames carry the same bytes.
func (f Frame) Equal(other Frame) bool {
	return bytes.Equal(f.data, other.data)
}

// view exposes the content to decoders in this package without copying.
func (f Frame) view() []byte {
	return f.data
}
