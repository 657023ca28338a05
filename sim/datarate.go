package sim

import (
	"fmt"
	"log"
)

// DataRate is a transmission rate in bits per second.
type DataRate float64

// Defines the unit of data rate
const (
	Bps  DataRate = 1
	Kbps DataRate = 1e3
	Mbps DataRate = 1e6
	Gbps DataRate = 1e9
)

// TransmitTime returns how long it takes to put n bytes on the wire.
func (r DataRate) TransmitTime(n int) VTimeInSec {
	if r <= 0 {
		log.Panic("data rate must be positive")
	}

	return VTimeInSec(float64(n*8) / float64(r))
}

// String formats the rate with the largest unit that keeps it above one.
func (r DataRate) String() string {
	switch {
	case r >= Gbps:
		return fmt.Sprintf("%gGbps", float64(r/Gbps))
	case r >= Mbps:
		return fmt.Sprintf("%gMbps", float64(r/Mbps))
	case r >= Kbps:
		return fmt.Sprintf("%gKbps", float64(r/Kbps))
	default:
		return fmt.Sprintf("%gbps", float64(r))
	}
}
