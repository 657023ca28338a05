package network

import (
	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
)

// LinkKind names a type of link.
type LinkKind string

// The supported link kinds.
const (
	LinkCSMA  LinkKind = "csma"
	LinkP2P   LinkKind = "p2p"
	LinkRadio LinkKind = "radio"
)

// DefaultMTU is used when a link does not configure one.
const DefaultMTU = 1500

// DefaultQueueSize is the length of the transmit queue of each interface, in
// frames.
const DefaultQueueSize = 100

const ethernetHeaderLen = 14

// LinkSpec describes a link to create.
type LinkSpec struct {
	Name      string
	Kind      LinkKind
	DataRate  sim.DataRate
	Delay     sim.VTimeInSec
	MTU       int
	QueueSize int
}

// A Channel carries frames between the interfaces attached to it.
type Channel interface {
	sim.Named

	Kind() LinkKind
	DataRate() sim.DataRate
	Delay() sim.VTimeInSec
	MTU() int
	QueueSize() int
	Interfaces() []*Interface

	attach(i *Interface) error

	// transmit puts a frame on the medium. It returns when the last bit
	// leaves the sender, or false if the medium is busy.
	transmit(
		src *Interface,
		f packet.Frame,
		now sim.VTimeInSec,
	) (done sim.VTimeInSec, ok bool)

	// backoff returns how long a sender waits before retrying after the
	// given number of failed attempts.
	backoff(src *Interface, attempt int, now sim.VTimeInSec) sim.VTimeInSec
}

func newChannel(spec LinkSpec, engine Scheduler) (Channel, error) {
	if spec.Name == "" {
		return nil, errors.New("link name must not be empty")
	}

	if spec.DataRate <= 0 {
		return nil, errors.Errorf("link %s: data rate must be positive",
			spec.Name)
	}

	if spec.Delay < 0 {
		return nil, errors.Errorf("link %s: delay must not be negative",
			spec.Name)
	}

	if spec.MTU == 0 {
		spec.MTU = DefaultMTU
	}

	if spec.MTU < 68 {
		return nil, errors.Errorf("link %s: mtu %d is too small",
			spec.Name, spec.MTU)
	}

	if spec.QueueSize == 0 {
		spec.QueueSize = DefaultQueueSize
	}

	base := linkBase{spec: spec, engine: engine}

	switch spec.Kind {
	case LinkCSMA:
		return &CSMAChannel{linkBase: base}, nil
	case LinkP2P:
		return &PointToPointChannel{linkBase: base}, nil
	case LinkRadio:
		return &RadioChannel{linkBase: base}, nil
	default:
		return nil, errors.Errorf("link %s: unknown kind %q",
			spec.Name, spec.Kind)
	}
}

type linkBase struct {
	spec    LinkSpec
	engine  Scheduler
	members []*Interface
}

func (l *linkBase) Name() string {
	return l.spec.Name
}

func (l *linkBase) Kind() LinkKind {
	return l.spec.Kind
}

func (l *linkBase) DataRate() sim.DataRate {
	return l.spec.DataRate
}

func (l *linkBase) Delay() sim.VTimeInSec {
	return l.spec.Delay
}

func (l *linkBase) MTU() int {
	return l.spec.MTU
}

func (l *linkBase) QueueSize() int {
	return l.spec.QueueSize
}

func (l *linkBase) Interfaces() []*Interface {
	return l.members
}

func (l *linkBase) attach(i *Interface) error {
	l.members = append(l.members, i)
	return nil
}

func (l *linkBase) backoff(
	_ *Interface,
	_ int,
	_ sim.VTimeInSec,
) sim.VTimeInSec {
	return 0
}

// deliver hands a frame to every other interface on the link. delay gives the
// propagation delay to each receiver. A negative delay means the receiver
// cannot be reached.
func (l *linkBase) deliver(
	src *Interface,
	f packet.Frame,
	at sim.VTimeInSec,
	delay func(dst *Interface) sim.VTimeInSec,
) {
	for _, dst := range l.members {
		if dst == src {
			continue
		}

		d := delay(dst)
		if d < 0 {
			continue
		}

		l.engine.Schedule(&deliverEvent{
			EventBase: sim.NewEventBase(at+d, dst),
			frame:     f,
		})
	}
}

func (l *linkBase) fixedDelay(*Interface) sim.VTimeInSec {
	return l.spec.Delay
}

type deliverEvent struct {
	*sim.EventBase
	frame packet.Frame
}

type txDoneEvent struct {
	*sim.EventBase
}

type backoffEvent struct {
	*sim.EventBase
}

type arpRetryEvent struct {
	*sim.EventBase
	target string
}
