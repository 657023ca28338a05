package network

import (
	"net"

	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/mobility"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// An EchoReply records an ICMP echo reply received by a node.
type EchoReply struct {
	From net.IP
	ID   uint16
	Seq  uint16
	Time sim.VTimeInSec
}

// A Node is a simulated host or router. It runs a small IPv4 stack that
// answers ARP and ICMP echo requests and forwards packets with static routes.
type Node struct {
	id         string
	name       string
	network    *Network
	interfaces []*Interface
	routes     *RoutingTable
	mobility   mobility.Model
	forwarding bool

	nextIPID    uint16
	echoReplies []EchoReply
}

// ID returns the unique ID of the node.
func (n *Node) ID() string {
	return n.id
}

// Name returns the name of the node.
func (n *Node) Name() string {
	return n.name
}

// Interfaces returns all interfaces, starting with the loopback interface.
func (n *Node) Interfaces() []*Interface {
	return n.interfaces
}

// Interface returns the interface at the index.
func (n *Node) Interface(index int) (*Interface, bool) {
	if index < 0 || index >= len(n.interfaces) {
		return nil, false
	}

	return n.interfaces[index], true
}

// InterfaceOn returns the interface attached to the named link.
func (n *Node) InterfaceOn(link string) (*Interface, bool) {
	for _, i := range n.interfaces {
		if i.channel != nil && i.channel.Name() == link {
			return i, true
		}
	}

	return nil, false
}

// Routes returns the routing table.
func (n *Node) Routes() *RoutingTable {
	return n.routes
}

// SetMobility places the node in space.
func (n *Node) SetMobility(m mobility.Model) {
	n.mobility = m
}

// Mobility returns the mobility model, or nil.
func (n *Node) Mobility() mobility.Model {
	return n.mobility
}

// Position returns where the node is, if it has a mobility model.
func (n *Node) Position(t sim.VTimeInSec) (r3.Vec, bool) {
	if n.mobility == nil {
		return r3.Vec{}, false
	}

	return n.mobility.Position(t), true
}

// SetForwarding enables or disables IPv4 forwarding. It is enabled by
// default.
func (n *Node) SetForwarding(on bool) {
	n.forwarding = on
}

// AddAddress assigns an address to an interface and adds the connected route
// to its network.
func (n *Node) AddAddress(index int, addr Address) error {
	iface, ok := n.Interface(index)
	if !ok {
		return errors.Errorf("node %s has no interface %d", n.name, index)
	}

	if addr.IP.To4() == nil {
		return errors.Errorf("address %s is not IPv4", addr.IP)
	}

	addr.IP = addr.IP.To4()
	iface.addrs = append(iface.addrs, addr)
	n.routes.AddNetworkRoute(addr.IP, addr.Mask, nil, index)

	return nil
}

// EchoReplies returns the echo replies received so far.
func (n *Node) EchoReplies() []EchoReply {
	return n.echoReplies
}

// Ping sends an ICMP echo request.
func (n *Node) Ping(dst net.IP, id, seq uint16, payload []byte) error {
	icmp, err := packet.BuildICMPv4Echo(false, id, seq, payload,
		n.network.checksum)
	if err != nil {
		return err
	}

	hdr := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      packet.DefaultTTL,
		Protocol: layers.IPProtocolICMPv4,
		DstIP:    dst.To4(),
	}

	return n.sendIPv4(hdr, icmp)
}

func (n *Node) receive(in *Interface, f packet.Frame) {
	d, err := packet.Decode(f)
	if err != nil {
		in.drop(f, "malformed frame")
		return
	}

	switch {
	case d.ARP != nil:
		n.handleARP(in, d)
	case d.IPv4 != nil:
		n.handleIPv4(in, f, d)
	}
}

func (n *Node) handleIPv4(in *Interface, f packet.Frame, d *packet.Decoded) {
	ip := d.IPv4

	if n.network.checksum && !packet.IPv4ChecksumValid(ip) {
		in.drop(f, "bad ipv4 checksum")
		return
	}

	if n.isLocal(ip.DstIP) {
		n.deliverLocal(d)
		return
	}

	if !n.forwarding {
		in.drop(f, "forwarding disabled")
		return
	}

	if ip.TTL <= 1 {
		in.drop(f, "ttl expired")
		return
	}

	hdr := *ip
	hdr.TTL--

	if err := n.sendIPv4(hdr, ip.Payload); err != nil {
		logger().WithFields(logrus.Fields{
			"node": n.name,
			"dst":  ip.DstIP.String(),
		}).WithError(err).Debug("cannot forward packet")
	}
}

func (n *Node) isLocal(ip net.IP) bool {
	if ip.Equal(net.IPv4bcast) {
		return true
	}

	for _, i := range n.interfaces {
		for _, a := range i.addrs {
			if a.IP.Equal(ip) || a.Broadcast().Equal(ip) {
				return true
			}
		}
	}

	return false
}

func (n *Node) hasAddress(ip net.IP) bool {
	for _, i := range n.interfaces {
		if i.HasAddress(ip) {
			return true
		}
	}

	return false
}

func (n *Node) deliverLocal(d *packet.Decoded) {
	icmp := d.ICMPv4
	if icmp == nil {
		return
	}

	switch icmp.TypeCode.Type() {
	case layers.ICMPv4TypeEchoRequest:
		n.replyEcho(d)
	case layers.ICMPv4TypeEchoReply:
		n.echoReplies = append(n.echoReplies, EchoReply{
			From: d.IPv4.SrcIP,
			ID:   icmp.Id,
			Seq:  icmp.Seq,
			Time: n.network.engine.CurrentTime(),
		})

		logger().WithFields(logrus.Fields{
			"node": n.name,
			"from": d.IPv4.SrcIP.String(),
			"seq":  icmp.Seq,
		}).Debug("echo reply received")
	}
}

func (n *Node) replyEcho(d *packet.Decoded) {
	icmp, err := packet.BuildICMPv4Echo(true, d.ICMPv4.Id, d.ICMPv4.Seq,
		d.ICMPv4.Payload, n.network.checksum)
	if err != nil {
		logger().WithError(err).Warn("cannot build echo reply")
		return
	}

	src := d.IPv4.DstIP
	if !n.hasAddress(src) {
		src = nil
	}

	hdr := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      packet.DefaultTTL,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    src,
		DstIP:    d.IPv4.SrcIP,
	}

	if err := n.sendIPv4(hdr, icmp); err != nil {
		logger().WithField("node", n.name).WithError(err).
			Debug("cannot send echo reply")
	}
}

// sendIPv4 routes a packet and hands it to the output interface, resolving
// the next hop first if needed.
func (n *Node) sendIPv4(hdr layers.IPv4, payload []byte) error {
	route, found := n.routes.Lookup(hdr.DstIP)
	if !found {
		return errors.Errorf("no route to %s", hdr.DstIP)
	}

	out, ok := n.Interface(route.Interface)
	if !ok || out.loopback {
		return errors.Errorf("route to %s uses unusable interface %d",
			hdr.DstIP, route.Interface)
	}

	if hdr.SrcIP == nil {
		src, ok := out.PrimaryAddress()
		if !ok {
			return errors.Errorf("interface %s has no address", out.name)
		}
		hdr.SrcIP = src.IP
	}

	if hdr.Id == 0 {
		n.nextIPID++
		hdr.Id = n.nextIPID
	}

	pkt := pendingPacket{header: hdr, payload: payload}

	nextHop := hdr.DstIP
	if route.HasGateway() {
		nextHop = route.Gateway
	}

	if nextHop.Equal(net.IPv4bcast) || n.isBroadcastOn(out, nextHop) {
		n.sendFrame(out, packet.BroadcastMAC, pkt)
		return nil
	}

	if mac, found := out.arp.lookup(nextHop); found {
		n.sendFrame(out, mac, pkt)
		return nil
	}

	needRequest, queued := out.arp.enqueue(nextHop, pkt)
	if !queued {
		return errors.Errorf("arp queue for %s is full", nextHop)
	}

	if needRequest {
		n.requestARP(out, nextHop)
	}

	return nil
}

func (n *Node) isBroadcastOn(i *Interface, ip net.IP) bool {
	for _, a := range i.addrs {
		if a.Broadcast().Equal(ip) {
			return true
		}
	}

	return false
}

func (n *Node) sendFrame(
	out *Interface,
	dst net.HardwareAddr,
	pkt pendingPacket,
) {
	raw, err := packet.BuildIPv4(out.mac, dst, &pkt.header, pkt.payload,
		n.network.checksum)
	if err != nil {
		logger().WithError(err).Warn("cannot build ipv4 frame")
		return
	}

	out.Send(packet.NewFrame(raw, out.now()))
}
