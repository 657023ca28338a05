package network

import (
	"net"

	"github.com/google/gopacket/layers"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sirupsen/logrus"
)

const (
	arpRetryInterval = sim.VTimeInSec(1)
	arpMaxRetries    = 3
	arpMaxPending    = 16
)

type pendingPacket struct {
	header  layers.IPv4
	payload []byte
}

type arpPending struct {
	packets []pendingPacket
	retries int
}

type arpCache struct {
	entries map[string]net.HardwareAddr
	pending map[string]*arpPending
}

func newARPCache() *arpCache {
	return &arpCache{
		entries: make(map[string]net.HardwareAddr),
		pending: make(map[string]*arpPending),
	}
}

func (c *arpCache) lookup(ip net.IP) (net.HardwareAddr, bool) {
	mac, found := c.entries[ip.String()]
	return mac, found
}

func (c *arpCache) learn(ip net.IP, mac net.HardwareAddr) []pendingPacket {
	key := ip.String()

	hw := make(net.HardwareAddr, len(mac))
	copy(hw, mac)
	c.entries[key] = hw

	p, found := c.pending[key]
	if !found {
		return nil
	}
	delete(c.pending, key)

	return p.packets
}

// enqueue keeps a packet until the address is resolved. It tells if a request
// needs to be sent and if the packet was kept.
func (c *arpCache) enqueue(
	ip net.IP,
	pkt pendingPacket,
) (needRequest, queued bool) {
	key := ip.String()

	p, found := c.pending[key]
	if !found {
		p = &arpPending{}
		c.pending[key] = p
		needRequest = true
	}

	if len(p.packets) >= arpMaxPending {
		return needRequest, false
	}

	p.packets = append(p.packets, pkt)

	return needRequest, true
}

// ARPEntries returns a copy of the resolved addresses of an interface.
func (i *Interface) ARPEntries() map[string]net.HardwareAddr {
	out := make(map[string]net.HardwareAddr, len(i.arp.entries))
	for k, v := range i.arp.entries {
		out[k] = v
	}

	return out
}

func (n *Node) handleARP(in *Interface, d *packet.Decoded) {
	arp := d.ARP
	senderIP := net.IP(arp.SourceProtAddress)
	senderMAC := net.HardwareAddr(arp.SourceHwAddress)
	targetIP := net.IP(arp.DstProtAddress)

	_, known := in.arp.lookup(senderIP)
	forUs := in.HasAddress(targetIP)

	if forUs || known {
		for _, pkt := range in.arp.learn(senderIP, senderMAC) {
			n.sendFrame(in, senderMAC, pkt)
		}
	}

	if arp.Operation != layers.ARPRequest || !forUs {
		return
	}

	raw, err := packet.BuildARPReply(in.mac, targetIP, senderMAC, senderIP)
	if err != nil {
		logger().WithError(err).Warn("cannot build arp reply")
		return
	}

	in.Send(packet.NewFrame(raw, in.now()))
}

func (n *Node) requestARP(out *Interface, target net.IP) {
	src, ok := out.PrimaryAddress()
	if !ok {
		return
	}

	raw, err := packet.BuildARPRequest(out.mac, src.IP, target)
	if err != nil {
		logger().WithError(err).Warn("cannot build arp request")
		return
	}

	out.Send(packet.NewFrame(raw, out.now()))

	n.network.engine.Schedule(&arpRetryEvent{
		EventBase: sim.NewEventBase(out.now()+arpRetryInterval, out),
		target:    target.String(),
	})
}

func (n *Node) retryARP(out *Interface, target string, _ sim.VTimeInSec) {
	p, found := out.arp.pending[target]
	if !found {
		return
	}

	p.retries++
	if p.retries > arpMaxRetries {
		delete(out.arp.pending, target)

		logger().WithFields(logrus.Fields{
			"interface": out.name,
			"target":    target,
			"dropped":   len(p.packets),
		}).Info("arp resolution failed")

		return
	}

	n.requestARP(out, net.ParseIP(target))
}
