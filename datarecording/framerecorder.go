package datarecording

import (
	"fmt"
	"strconv"

	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/relay"
	"github.com/sarchlab/tapbridge/sim"
)

// FrameTableName is the table that holds one row per observed frame.
const FrameTableName = "frame"

// FrameRecord is one frame seen at a relay or an interface.
type FrameRecord struct {
	RunID  string
	Time   float64
	Where  string
	Event  string
	Bytes  int
	Detail string
}

// A FrameRecorder is a hook that stores the frames relayed across bridges and
// the frames sent, received and dropped by interfaces.
type FrameRecorder struct {
	runID    string
	recorder DataRecorder
	err      error
}

// NewFrameRecorder creates the frame table on the recorder.
func NewFrameRecorder(recorder DataRecorder, runID string) (*FrameRecorder, error) {
	if err := recorder.CreateTable(FrameTableName, FrameRecord{}); err != nil {
		return nil, err
	}

	return &FrameRecorder{runID: runID, recorder: recorder}, nil
}

// Err returns the first error met while recording.
func (r *FrameRecorder) Err() error {
	return r.err
}

// Func records the frame carried by the hook context.
func (r *FrameRecorder) Func(ctx sim.HookCtx) {
	f, ok := ctx.Item.(packet.Frame)
	if !ok {
		return
	}

	rec := FrameRecord{
		RunID: r.runID,
		Time:  float64(f.Time()),
		Bytes: f.Len(),
	}

	switch ctx.Pos {
	case relay.HookPosFrameRelayed:
		rec.Where = ctx.Domain.(*relay.Relay).Device()
		rec.Event = "relay"
		rec.Detail = fmt.Sprint(ctx.Detail)
	case network.HookPosFrameSend:
		rec.Where = ctx.Domain.(*network.Interface).Name()
		rec.Event = "send"
	case network.HookPosFrameRecv:
		rec.Where = ctx.Domain.(*network.Interface).Name()
		rec.Event = "recv"
	case network.HookPosFrameDrop:
		rec.Where = ctx.Domain.(*network.Interface).Name()
		rec.Event = "drop"
		rec.Detail = fmt.Sprint(ctx.Detail)
	default:
		return
	}

	if err := r.recorder.InsertData(FrameTableName, rec); err != nil && r.err == nil {
		r.err = err
		logger().WithError(err).Warn("cannot record frame")
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
