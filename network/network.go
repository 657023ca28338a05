// Package network models the simulated IP network that tap devices are
// bridged into. Nodes own interfaces, interfaces attach to CSMA,
// point-to-point or radio links, and every node runs a small IPv4 stack with
// ARP, static routing and ICMP echo.
//
// All the state in this package belongs to the goroutine that runs the
// engine.
package network

import (
	"fmt"
	"io"
	"log"
	"net"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sirupsen/logrus"
)

// ErrDuplicateName is returned when a node or link name is used twice.
var ErrDuplicateName = errors.New("duplicate name")

// Scheduler is the part of the engine that the network uses.
type Scheduler interface {
	sim.TimeTeller
	sim.EventScheduler
}

// A Network holds the nodes and links of a simulation.
type Network struct {
	engine   Scheduler
	ids      sim.IDGenerator
	checksum bool

	nodes      []*Node
	nodeByName map[string]*Node
	links      []Channel
	linkByName map[string]Channel

	nextMAC uint64
}

// NewNetwork creates an empty network driven by the engine. Node IDs count
// from 1 unless another generator is set.
func NewNetwork(engine Scheduler) *Network {
	return &Network{
		engine:     engine,
		ids:        sim.NewSequentialIDGenerator(),
		nodeByName: make(map[string]*Node),
		linkByName: make(map[string]Channel),
	}
}

// SetIDGenerator sets where node IDs come from. It must be called before the
// first node is added.
func (n *Network) SetIDGenerator(g sim.IDGenerator) {
	if len(n.nodes) > 0 {
		log.Panic("cannot change id generator after adding nodes")
	}

	n.ids = g
}

// SetChecksum turns IPv4, ICMP checksum computation and checking on or off.
func (n *Network) SetChecksum(on bool) {
	n.checksum = on
}

// Checksum tells if checksums are computed.
func (n *Network) Checksum() bool {
	return n.checksum
}

// AddNode creates a node with a loopback interface.
func (n *Network) AddNode(name string) (*Node, error) {
	if name == "" {
		return nil, errors.New("node name must not be empty")
	}

	if _, found := n.nodeByName[name]; found {
		return nil, errors.Wrapf(ErrDuplicateName, "node %s", name)
	}

	node := &Node{
		id:         n.ids.Generate(),
		name:       name,
		network:    n,
		routes:     NewRoutingTable(),
		forwarding: true,
	}

	lo := newInterface(node, 0, make(net.HardwareAddr, 6), nil)
	node.interfaces = append(node.interfaces, lo)

	err := node.AddAddress(0, Address{
		IP:   net.IPv4(127, 0, 0, 1),
		Mask: net.CIDRMask(8, 32),
	})
	if err != nil {
		return nil, err
	}

	n.nodes = append(n.nodes, node)
	n.nodeByName[name] = node

	return node, nil
}

// Node finds a node by name.
func (n *Network) Node(name string) (*Node, bool) {
	node, found := n.nodeByName[name]
	return node, found
}

// Nodes returns the nodes in creation order.
func (n *Network) Nodes() []*Node {
	return n.nodes
}

// AddLink creates a link.
func (n *Network) AddLink(spec LinkSpec) (Channel, error) {
	if _, found := n.linkByName[spec.Name]; found {
		return nil, errors.Wrapf(ErrDuplicateName, "link %s", spec.Name)
	}

	ch, err := newChannel(spec, n.engine)
	if err != nil {
		return nil, err
	}

	n.links = append(n.links, ch)
	n.linkByName[spec.Name] = ch

	return ch, nil
}

// Link finds a link by name.
func (n *Network) Link(name string) (Channel, bool) {
	ch, found := n.linkByName[name]
	return ch, found
}

// Links returns the links in creation order.
func (n *Network) Links() []Channel {
	return n.links
}

// Connect gives the node a new interface attached to the link.
func (n *Network) Connect(node *Node, link Channel) (*Interface, error) {
	if node.network != n {
		return nil, errors.Errorf("node %s belongs to another network",
			node.name)
	}

	if _, found := node.InterfaceOn(link.Name()); found {
		return nil, errors.Errorf("node %s is already on link %s",
			node.name, link.Name())
	}

	iface := newInterface(node, len(node.interfaces), n.allocateMAC(), link)
	if err := link.attach(iface); err != nil {
		return nil, err
	}

	node.interfaces = append(node.interfaces, iface)

	logger().WithFields(logrus.Fields{
		"interface": iface.name,
		"link":      link.Name(),
		"mac":       iface.mac.String(),
	}).Debug("interface created")

	return iface, nil
}

// Interfaces returns every interface that is attached to a link.
func (n *Network) Interfaces() []*Interface {
	var out []*Interface
	for _, node := range n.nodes {
		for _, i := range node.interfaces {
			if !i.loopback {
				out = append(out, i)
			}
		}
	}

	return out
}

// allocateMAC hands out locally administered addresses in order.
func (n *Network) allocateMAC() net.HardwareAddr {
	n.nextMAC++

	mac := make(net.HardwareAddr, 6)
	mac[0] = 0x02
	v := n.nextMAC
	for i := 5; i > 0; i-- {
		mac[i] = byte(v)
		v >>= 8
	}

	return mac
}

// Describe writes the interfaces and routes of every node.
func (n *Network) Describe(w io.Writer) error {
	for _, node := range n.nodes {
		_, err := fmt.Fprintf(w, "Node %s (id %s)\n", node.name, node.id)
		if err != nil {
			return err
		}

		for _, i := range node.interfaces {
			if err := describeInterface(w, i); err != nil {
				return err
			}
		}

		for _, r := range node.routes.Routes() {
			if _, err := fmt.Fprintf(w, "  route %s\n", r); err != nil {
				return err
			}
		}
	}

	return nil
}

func describeInterface(w io.Writer, i *Interface) error {
	line := fmt.Sprintf("  interface %d:", i.index)
	for _, a := range i.addrs {
		line += " " + a.String()
	}

	if i.loopback {
		line += " loopback"
	} else {
		line += fmt.Sprintf(" link %s mac %s", i.channel.Name(), i.mac)
	}

	if i.IsBridged() {
		line += " bridged"
	}

	_, err := fmt.Fprintln(w, line)

	return err
}

func logger() *logrus.Entry {
	return logrus.WithField("subsystem", "network")
}
