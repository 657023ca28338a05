// Package tracing captures the frames that simulated interfaces send and
// receive.
package tracing

import (
	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
)

// NamedHookable represent something both have a name and can be hooked
type NamedHookable interface {
	sim.Named
	sim.Hookable
}

// A FrameTracer is told about each frame a traced domain sends or receives.
type FrameTracer interface {
	TraceFrame(domain NamedHookable, f packet.Frame)
}

// CollectFrames lets the tracer see the frames of the domain.
func CollectFrames(domain NamedHookable, tracer FrameTracer) {
	domain.AcceptHook(&frameHook{domain: domain, t: tracer})
}

type frameHook struct {
	domain NamedHookable
	t      FrameTracer
}

// Func forwards sent and received frames to the tracer.
func (h *frameHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case network.HookPosFrameSend, network.HookPosFrameRecv:
		h.t.TraceFrame(h.domain, ctx.Item.(packet.Frame))
	}
}
