package mobility

import (
	"log"
	"reflect"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrNoCell is returned by a policy that cannot find a cell for a node.
var ErrNoCell = errors.New("no cell available")

// HookPosHandover is triggered when a mobile node changes its serving cell.
// The hook item is the new Attachment.
var HookPosHandover = &sim.HookPos{Name: "Handover"}

// Positioned is something with a name and a current position.
type Positioned interface {
	Name() string
	Position() r3.Vec
}

// A Cell is a fixed radio access point that mobile nodes attach to.
type Cell struct {
	Name     string
	Position r3.Vec
}

// An AttachmentPolicy decides which cell serves a mobile node.
type AttachmentPolicy interface {
	Select(ue Positioned, cells []Cell) (Cell, error)
}

// PolicyFunc turns a function into an AttachmentPolicy.
type PolicyFunc func(ue Positioned, cells []Cell) (Cell, error)

// Select calls f.
func (f PolicyFunc) Select(ue Positioned, cells []Cell) (Cell, error) {
	return f(ue, cells)
}

// An Attachment records which cell serves a node and since when.
type Attachment struct {
	Node  string
	Cell  string
	Since sim.VTimeInSec
}

// A Mobile is a node that can attach to cells.
type Mobile struct {
	Name  string
	Model Model
}

type snapshot struct {
	name string
	pos  r3.Vec
}

func (s snapshot) Name() string {
	return s.name
}

func (s snapshot) Position() r3.Vec {
	return s.pos
}

type evaluateEvent struct {
	*sim.EventBase
}

// Scheduler is the part of the engine that the Attacher uses.
type Scheduler interface {
	sim.TimeTeller
	sim.EventScheduler
}

// An Attacher records the serving cell of every mobile node and re-evaluates
// the choice periodically.
type Attacher struct {
	sim.HookableBase

	engine   Scheduler
	policy   AttachmentPolicy
	interval sim.VTimeInSec

	cells   []Cell
	mobiles []Mobile
	serving map[string]Attachment
	started bool
}

// NewAttacher creates an Attacher. A zero interval disables re-evaluation
// after the first attachment.
func NewAttacher(
	engine Scheduler,
	policy AttachmentPolicy,
	interval sim.VTimeInSec,
) *Attacher {
	if policy == nil {
		log.Panic("attachment policy must not be nil")
	}

	return &Attacher{
		engine:   engine,
		policy:   policy,
		interval: interval,
		serving:  make(map[string]Attachment),
	}
}

// Name returns the name of the attacher.
func (a *Attacher) Name() string {
	return "Attacher"
}

// AddCell registers a cell.
func (a *Attacher) AddCell(c Cell) {
	a.cells = append(a.cells, c)
}

// Cells returns the registered cells.
func (a *Attacher) Cells() []Cell {
	return a.cells
}

// AddMobile registers a node that needs a serving cell.
func (a *Attacher) AddMobile(m Mobile) {
	a.mobiles = append(a.mobiles, m)
}

// Start attaches every mobile node and schedules the periodic re-evaluation.
func (a *Attacher) Start() error {
	if a.started {
		return nil
	}
	a.started = true

	now := a.engine.CurrentTime()
	if err := a.evaluate(now); err != nil {
		return err
	}

	a.scheduleNext(now)

	return nil
}

// Handle re-evaluates the attachments.
func (a *Attacher) Handle(e sim.Event) error {
	switch e.(type) {
	case *evaluateEvent:
		err := a.evaluate(e.Time())
		a.scheduleNext(e.Time())

		return err
	default:
		log.Panicf("cannot handle event of type %s", reflect.TypeOf(e))
	}

	return nil
}

func (a *Attacher) scheduleNext(now sim.VTimeInSec) {
	if a.interval <= 0 {
		return
	}

	a.engine.Schedule(&evaluateEvent{
		EventBase: sim.NewSecondaryEventBase(now+a.interval, a),
	})
}

func (a *Attacher) evaluate(now sim.VTimeInSec) error {
	for _, m := range a.mobiles {
		ue := snapshot{name: m.Name, pos: m.Model.Position(now)}

		cell, err := a.policy.Select(ue, a.cells)
		if err != nil {
			return errors.Wrapf(err, "select cell for %s", m.Name)
		}

		prev, attached := a.serving[m.Name]
		if attached && prev.Cell == cell.Name {
			continue
		}

		att := Attachment{Node: m.Name, Cell: cell.Name, Since: now}
		a.serving[m.Name] = att

		entry := logger().WithFields(logrus.Fields{
			"time": float64(now),
			"node": m.Name,
			"cell": cell.Name,
		})
		if attached {
			entry.WithField("from", prev.Cell).Info("handover")
		} else {
			entry.Info("attached")
		}

		if a.NumHooks() > 0 {
			a.InvokeHook(sim.HookCtx{
				Domain: a,
				Pos:    HookPosHandover,
				Item:   att,
			})
		}
	}

	return nil
}

// Serving returns the current attachment of a node.
func (a *Attacher) Serving(node string) (Attachment, bool) {
	att, found := a.serving[node]
	return att, found
}

// ServingCellPosition returns where the cell that serves the node is.
func (a *Attacher) ServingCellPosition(node string) (r3.Vec, bool) {
	att, found := a.serving[node]
	if !found {
		return r3.Vec{}, false
	}

	for _, c := range a.cells {
		if c.Name == att.Cell {
			return c.Position, true
		}
	}

	return r3.Vec{}, false
}
