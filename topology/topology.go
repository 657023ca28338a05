// Package topology builds the simulated network described by a scenario.
package topology

import (
	"net"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/config"
	"github.com/sarchlab/tapbridge/mobility"
	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// Options are the collaborators that a scenario file cannot describe.
type Options struct {
	// Policy picks the serving cell of mobile nodes. It is required when the
	// scenario has cells.
	Policy mobility.AttachmentPolicy

	// IDGenerator numbers the nodes. Nil counts from 1.
	IDGenerator sim.IDGenerator
}

// A Bridge is the interface that a tap device is bound to.
type Bridge struct {
	Device    string
	NetNS     string
	Interface *network.Interface
}

// A Topology is a built network together with the parts of the scenario that
// live next to it.
type Topology struct {
	*network.Network

	Attacher *mobility.Attacher
	Bridges  []Bridge
}

type builder struct {
	cfg    *config.Scenario
	engine network.Scheduler
	opts   Options
	topo   *Topology
}

// Build creates the nodes, links, addresses, mobility models, static routes
// and bridge points of a scenario, in that order. It either builds the whole
// topology or returns an error and nothing.
func Build(
	cfg *config.Scenario,
	engine network.Scheduler,
	opts Options,
) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid scenario")
	}

	nw := network.NewNetwork(engine)
	nw.SetChecksum(cfg.Checksum)

	if opts.IDGenerator != nil {
		nw.SetIDGenerator(opts.IDGenerator)
	}

	b := &builder{
		cfg:    cfg,
		engine: engine,
		opts:   opts,
		topo:   &Topology{Network: nw},
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"nodes", b.buildNodes},
		{"links", b.buildLinks},
		{"addresses", b.assignAddresses},
		{"mobility", b.buildMobility},
		{"routes", b.buildRoutes},
		{"bridges", b.buildBridges},
	}

	for _, step := range steps {
		if err := step.run(); err != nil {
			return nil, errors.Wrapf(err, "build %s", step.name)
		}
	}

	logger().WithFields(logrus.Fields{
		"scenario": cfg.Name,
		"nodes":    len(nw.Nodes()),
		"links":    len(nw.Links()),
		"bridges":  len(b.topo.Bridges),
	}).Info("topology built")

	return b.topo, nil
}

func (b *builder) buildNodes() error {
	for _, n := range b.cfg.Nodes {
		if _, err := b.topo.AddNode(n.Name); err != nil {
			return err
		}
	}

	return nil
}

func (b *builder) buildLinks() error {
	for _, l := range b.cfg.Links {
		ch, err := b.topo.AddLink(network.LinkSpec{
			Name:      l.Name,
			Kind:      network.LinkKind(l.Kind),
			DataRate:  l.DataRate.Rate(),
			Delay:     l.Delay.Seconds(),
			MTU:       l.MTU,
			QueueSize: l.QueueSize,
		})
		if err != nil {
			return err
		}

		for _, m := range b.cfg.LinkMembers(l.Name) {
			node, _ := b.topo.Node(m)
			if _, err := b.topo.Connect(node, ch); err != nil {
				return err
			}
		}
	}

	return nil
}

func (b *builder) assignAddresses() error {
	for _, l := range b.cfg.Links {
		pool, err := network.NewAddressPool(l.Pool, l.FirstHost)
		if err != nil {
			return errors.Wrapf(err, "link %s", l.Name)
		}

		ch, _ := b.topo.Link(l.Name)
		for _, iface := range ch.Interfaces() {
			addr, err := pool.Allocate()
			if err != nil {
				return errors.Wrapf(err, "link %s", l.Name)
			}

			if err := iface.Node().AddAddress(iface.Index(), addr); err != nil {
				return err
			}
		}
	}

	return nil
}

func (b *builder) buildMobility() error {
	for _, n := range b.cfg.Nodes {
		if n.Mobility == nil {
			continue
		}

		node, _ := b.topo.Node(n.Name)
		node.SetMobility(mobilityModel(n.Mobility))
	}

	if len(b.cfg.Cells) == 0 {
		return nil
	}

	if b.opts.Policy == nil {
		return errors.New("scenario has cells but no attachment policy")
	}

	attacher := mobility.NewAttacher(b.engine, b.opts.Policy,
		b.cfg.Attachment.Interval.Seconds())

	isCell := make(map[string]bool)
	for _, c := range b.cfg.Cells {
		node, _ := b.topo.Node(c.Node)
		pos, _ := node.Position(0)
		attacher.AddCell(mobility.Cell{Name: c.Node, Position: pos})
		isCell[c.Node] = true
	}

	for _, node := range b.topo.Nodes() {
		if isCell[node.Name()] || node.Mobility() == nil {
			continue
		}

		if b.cfg.Attachment.Link != "" {
			if _, on := node.InterfaceOn(b.cfg.Attachment.Link); !on {
				continue
			}
		}

		attacher.AddMobile(mobility.Mobile{
			Name:  node.Name(),
			Model: node.Mobility(),
		})
	}

	for _, ch := range b.topo.Links() {
		radio, ok := ch.(*network.RadioChannel)
		if !ok {
			continue
		}

		if b.cfg.Attachment.Link == "" || b.cfg.Attachment.Link == ch.Name() {
			radio.SetLocator(attacher)
		}
	}

	if err := attacher.Start(); err != nil {
		return err
	}

	b.topo.Attacher = attacher

	return nil
}

func mobilityModel(m *config.Mobility) mobility.Model {
	pos := r3.Vec{X: m.Position[0], Y: m.Position[1], Z: m.Position[2]}

	if m.Kind == config.ConstantVelocity {
		return mobility.ConstantVelocity{
			Start: pos,
			Velocity: r3.Vec{
				X: m.Velocity[0],
				Y: m.Velocity[1],
				Z: m.Velocity[2],
			},
			StartTime: m.StartTime.Seconds(),
		}
	}

	return mobility.ConstantPosition{Pos: pos}
}

func (b *builder) buildRoutes() error {
	for i, r := range b.cfg.Routes {
		node, _ := b.topo.Node(r.Node)

		index, err := routeInterface(node, r)
		if err != nil {
			return errors.Wrapf(err, "route %d of %s", i, r.Node)
		}

		gw := net.ParseIP(r.Gateway)

		switch r.Kind {
		case config.RouteHost:
			node.Routes().AddHostRoute(net.ParseIP(r.Dest), gw, index)
		case config.RouteNetwork:
			mask, err := config.ParseMask(r.Mask)
			if err != nil {
				return err
			}
			node.Routes().AddNetworkRoute(net.ParseIP(r.Dest), mask, gw, index)
		case config.RouteDefault:
			node.Routes().SetDefaultRoute(gw, index)
		}
	}

	return nil
}

func routeInterface(node *network.Node, r config.Route) (int, error) {
	if r.Link != "" {
		iface, found := node.InterfaceOn(r.Link)
		if !found {
			return 0, errors.Errorf("node %s is not on link %s",
				node.Name(), r.Link)
		}

		return iface.Index(), nil
	}

	iface, found := node.Interface(r.Interface)
	if !found || iface.IsLoopback() {
		return 0, errors.Errorf("node %s has no interface %d",
			node.Name(), r.Interface)
	}

	return r.Interface, nil
}

func (b *builder) buildBridges() error {
	for _, t := range b.cfg.Taps {
		node, _ := b.topo.Node(t.Node)

		iface, found := node.InterfaceOn(t.Link)
		if !found {
			return errors.Errorf("node %s is not on link %s", t.Node, t.Link)
		}

		b.topo.Bridges = append(b.topo.Bridges, Bridge{
			Device:    t.Device,
			NetNS:     t.NetNS,
			Interface: iface,
		})
	}

	return nil
}

func logger() *logrus.Entry {
	return logrus.WithField("subsystem", "topology")
}
