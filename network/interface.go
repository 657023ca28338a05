package network

import (
	"bytes"
	"fmt"
	"log"
	"net"
	"reflect"

	"github.com/iti/rngstream"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sirupsen/logrus"
)

// HookPosFrameSend is triggered when an interface puts a frame on its link.
var HookPosFrameSend = &sim.HookPos{Name: "FrameSend"}

// HookPosFrameRecv is triggered when a frame arrives at an interface.
var HookPosFrameRecv = &sim.HookPos{Name: "FrameRecv"}

// HookPosFrameDrop is triggered when an interface drops a frame. The hook
// detail is the reason as a string.
var HookPosFrameDrop = &sim.HookPos{Name: "FrameDrop"}

// InterfaceStats counts the frames seen by an interface.
type InterfaceStats struct {
	TxFrames uint64 `json:"tx_frames"`
	TxBytes  uint64 `json:"tx_bytes"`
	RxFrames uint64 `json:"rx_frames"`
	RxBytes  uint64 `json:"rx_bytes"`
	Drops    uint64 `json:"drops"`
}

type txState int

const (
	txIdle txState = iota
	txBusy
	txBackoff
)

// An Interface connects a node to a link. Interface 0 of every node is the
// loopback interface, which has no link.
type Interface struct {
	sim.HookableBase

	node     *Node
	index    int
	name     string
	mac      net.HardwareAddr
	addrs    []Address
	channel  Channel
	loopback bool

	enabled     bool
	promiscuous bool
	sink        packet.FrameSink

	queue   sim.Buffer
	state   txState
	attempt int
	rng     *rngstream.RngStream

	arp   *arpCache
	stats InterfaceStats
}

func newInterface(
	node *Node,
	index int,
	mac net.HardwareAddr,
	ch Channel,
) *Interface {
	i := &Interface{
		node:    node,
		index:   index,
		name:    fmt.Sprintf("%s.if%d", node.Name(), index),
		mac:     mac,
		channel: ch,
		enabled: true,
		arp:     newARPCache(),
	}

	if ch == nil {
		i.loopback = true
		return i
	}

	i.queue = sim.NewBuffer(i.name+".TxQueue", ch.QueueSize())

	return i
}

// Name returns the name of the interface, as <node>.if<index>.
func (i *Interface) Name() string {
	return i.name
}

// Node returns the node that owns the interface.
func (i *Interface) Node() *Node {
	return i.node
}

// Index returns the position of the interface in its node.
func (i *Interface) Index() int {
	return i.index
}

// MAC returns the hardware address.
func (i *Interface) MAC() net.HardwareAddr {
	return i.mac
}

// Link returns the link the interface is attached to. It is nil for the
// loopback interface.
func (i *Interface) Link() Channel {
	return i.channel
}

// IsLoopback tells if this is the loopback interface.
func (i *Interface) IsLoopback() bool {
	return i.loopback
}

// Addresses returns the IPv4 addresses of the interface.
func (i *Interface) Addresses() []Address {
	return i.addrs
}

// HasAddress tells if ip is one of the addresses of the interface.
func (i *Interface) HasAddress(ip net.IP) bool {
	for _, a := range i.addrs {
		if a.IP.Equal(ip) {
			return true
		}
	}

	return false
}

// PrimaryAddress returns the first address, if any.
func (i *Interface) PrimaryAddress() (Address, bool) {
	if len(i.addrs) == 0 {
		return Address{}, false
	}

	return i.addrs[0], true
}

// IsEnabled tells if the interface sends and receives frames.
func (i *Interface) IsEnabled() bool {
	return i.enabled
}

// SetEnabled brings the interface up or down.
func (i *Interface) SetEnabled(enabled bool) {
	i.enabled = enabled
}

// IsPromiscuous tells if the interface accepts frames for any MAC address.
func (i *Interface) IsPromiscuous() bool {
	return i.promiscuous
}

// IsBridged tells if received frames go to a FrameSink instead of the node.
func (i *Interface) IsBridged() bool {
	return i.sink != nil
}

// SetFrameSink bridges the interface. It becomes promiscuous and every frame
// it receives is handed to the sink instead of the node. A nil sink removes
// the bridge.
func (i *Interface) SetFrameSink(sink packet.FrameSink) {
	i.sink = sink
	i.promiscuous = sink != nil
}

// Stats returns the frame counters.
func (i *Interface) Stats() InterfaceStats {
	return i.stats
}

// TxQueue returns the transmit queue, or nil for the loopback interface.
func (i *Interface) TxQueue() sim.Buffer {
	return i.queue
}

// Send queues a frame for transmission. The frame is sent as is, the source
// MAC is not rewritten. It returns false if the frame was dropped.
func (i *Interface) Send(f packet.Frame) bool {
	if !i.enabled || i.channel == nil {
		i.drop(f, "interface down")
		return false
	}

	if f.Len() > i.channel.MTU()+ethernetHeaderLen {
		i.drop(f, "frame exceeds mtu")
		return false
	}

	if !i.queue.CanPush() {
		i.drop(f, "transmit queue full")
		return false
	}

	i.queue.Push(f)

	if i.state == txIdle {
		i.startNext(i.now())
	}

	return true
}

// Handle processes the events of the interface.
func (i *Interface) Handle(e sim.Event) error {
	switch evt := e.(type) {
	case *deliverEvent:
		i.receive(evt.frame, evt.Time())
	case *txDoneEvent:
		i.state = txIdle
		i.startNext(evt.Time())
	case *backoffEvent:
		i.startNext(evt.Time())
	case *arpRetryEvent:
		i.node.retryARP(i, evt.target, evt.Time())
	default:
		log.Panicf("cannot handle event of type %s", reflect.TypeOf(e))
	}

	return nil
}

func (i *Interface) startNext(now sim.VTimeInSec) {
	item := i.queue.Peek()
	if item == nil {
		i.state = txIdle
		return
	}

	f := item.(packet.Frame)

	done, ok := i.channel.transmit(i, f, now)
	if !ok {
		i.attempt++
		if i.attempt > csmaMaxAttempts {
			i.queue.Pop()
			i.attempt = 0
			i.drop(f, "too many transmit attempts")
			i.startNext(now)

			return
		}

		i.state = txBackoff
		wait := i.channel.backoff(i, i.attempt, now)
		i.node.network.engine.Schedule(&backoffEvent{
			EventBase: sim.NewEventBase(now+wait, i),
		})

		return
	}

	i.queue.Pop()
	i.attempt = 0
	i.state = txBusy
	i.stats.TxFrames++
	i.stats.TxBytes += uint64(f.Len())
	i.invokeFrameHook(HookPosFrameSend, f.WithTime(now), nil)

	i.node.network.engine.Schedule(&txDoneEvent{
		EventBase: sim.NewEventBase(done, i),
	})
}

func (i *Interface) receive(f packet.Frame, now sim.VTimeInSec) {
	f = f.WithTime(now)

	if !i.enabled {
		i.drop(f, "interface down")
		return
	}

	i.stats.RxFrames++
	i.stats.RxBytes += uint64(f.Len())
	i.invokeFrameHook(HookPosFrameRecv, f, nil)

	if i.sink != nil {
		i.sink.OnFrame(f)
		return
	}

	dst, ok := packet.Destination(f)
	if !ok {
		i.drop(f, "runt frame")
		return
	}

	if !bytes.Equal(dst, i.mac) && !packet.IsGroupAddress(dst) {
		return
	}

	i.node.receive(i, f)
}

func (i *Interface) drop(f packet.Frame, reason string) {
	i.stats.Drops++

	logger().WithFields(logrus.Fields{
		"interface": i.name,
		"bytes":     f.Len(),
		"reason":    reason,
	}).Debug("frame dropped")

	i.invokeFrameHook(HookPosFrameDrop, f, reason)
}

func (i *Interface) invokeFrameHook(
	pos *sim.HookPos,
	f packet.Frame,
	detail interface{},
) {
	if i.NumHooks() == 0 {
		return
	}

	i.InvokeHook(sim.HookCtx{
		Domain: i,
		Pos:    pos,
		Item:   f,
		Detail: detail,
	})
}

func (i *Interface) randomStream() *rngstream.RngStream {
	if i.rng == nil {
		i.rng = rngstream.New(i.name)
	}

	return i.rng
}

func (i *Interface) now() sim.VTimeInSec {
	return i.node.network.engine.CurrentTime()
}
