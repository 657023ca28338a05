package mobility

import (
	"github.com/pkg/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/tapbridge/sim"
	"gonum.org/v1/gonum/spatial/r3"
)

func closest(ue Positioned, cells []Cell) (Cell, error) {
	if len(cells) == 0 {
		return Cell{}, ErrNoCell
	}

	best := cells[0]
	for _, c := range cells[1:] {
		if Distance(ue.Position(), c.Position) <
			Distance(ue.Position(), best.Position) {
			best = c
		}
	}

	return best, nil
}

type stopEvent struct {
	*sim.EventBase
}

var _ = Describe("Attacher", func() {
	var (
		engine   *sim.SerialEngine
		attacher *Attacher
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		attacher = NewAttacher(engine, PolicyFunc(closest), 1)
		attacher.AddCell(Cell{Name: "west", Position: r3.Vec{X: 0}})
		attacher.AddCell(Cell{Name: "east", Position: r3.Vec{X: 100}})
	})

	stopAt := func(t sim.VTimeInSec) {
		engine.Schedule(&stopEvent{
			EventBase: sim.NewEventBase(t, sim.HandlerFunc(func(sim.Event) error {
				engine.Stop()
				return nil
			})),
		})
	}

	It("should attach every mobile node on start", func() {
		attacher.AddMobile(Mobile{
			Name:  "ue0",
			Model: ConstantPosition{Pos: r3.Vec{X: 10}},
		})
		attacher.AddMobile(Mobile{
			Name:  "ue1",
			Model: ConstantPosition{Pos: r3.Vec{X: 90}},
		})

		Expect(attacher.Start()).To(Succeed())

		att, found := attacher.Serving("ue0")
		Expect(found).To(BeTrue())
		Expect(att.Cell).To(Equal("west"))

		pos, found := attacher.ServingCellPosition("ue1")
		Expect(found).To(BeTrue())
		Expect(pos).To(Equal(r3.Vec{X: 100}))

		_, found = attacher.ServingCellPosition("nobody")
		Expect(found).To(BeFalse())
	})

	It("should hand over a moving node", func() {
		attacher.AddMobile(Mobile{
			Name: "ue0",
			Model: ConstantVelocity{
				Start:    r3.Vec{X: 40},
				Velocity: r3.Vec{X: 5},
			},
		})

		var handovers []Attachment
		attacher.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			handovers = append(handovers, ctx.Item.(Attachment))
		}))

		Expect(attacher.Start()).To(Succeed())
		stopAt(5.5)
		Expect(engine.Run()).To(Succeed())

		Expect(handovers).To(HaveLen(2))
		Expect(handovers[0].Cell).To(Equal("west"))
		Expect(handovers[1].Cell).To(Equal("east"))
		Expect(handovers[1].Since).To(Equal(sim.VTimeInSec(3)))
	})

	It("should fail when no cell is available", func() {
		attacher = NewAttacher(engine, PolicyFunc(closest), 0)
		attacher.AddMobile(Mobile{Name: "ue0", Model: ConstantPosition{}})

		err := attacher.Start()
		Expect(errors.Is(err, ErrNoCell)).To(BeTrue())
	})
})
