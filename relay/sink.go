package relay

import (
	"sync/atomic"

	"github.com/sarchlab/tapbridge/packet"
)

// A TapSink is the FrameSink of a bridged interface. It writes every frame the
// interface receives to the tap device of its relay.
type TapSink struct {
	relay    *Relay
	detached atomic.Bool
}

// OnFrame forwards the frame to the tap. Frames arriving after the relay
// stopped are discarded.
func (s *TapSink) OnFrame(f packet.Frame) {
	if s.detached.Load() {
		return
	}

	s.relay.writeToTap(f)
}

// Detached tells if the sink no longer forwards frames.
func (s *TapSink) Detached() bool {
	return s.detached.Load()
}

func (s *TapSink) detach() {
	s.detached.Store(true)
}
