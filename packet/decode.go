package packet

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// BroadcastMAC is the Ethernet broadcast address.
var BroadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Decoded holds the layers found in a frame. ARP, IPv4 and ICMPv4 are nil
// when the frame does not carry them.
type Decoded struct {
	Ethernet layers.Ethernet
	ARP      *layers.ARP
	IPv4     *layers.IPv4
	ICMPv4   *layers.ICMPv4
}

// Decode parses the Ethernet header and the ARP, IPv4 and ICMPv4 layers that
// follow it. Unknown payloads are left undecoded without error.
func Decode(f Frame) (*Decoded, error) {
	d := &Decoded{}

	err := d.Ethernet.DecodeFromBytes(f.view(), gopacket.NilDecodeFeedback)
	if err != nil {
		return nil, errors.Wrap(err, "decode ethernet header")
	}

	switch d.Ethernet.EthernetType {
	case layers.EthernetTypeARP:
		arp := &layers.ARP{}
		err = arp.DecodeFromBytes(d.Ethernet.Payload, gopacket.NilDecodeFeedback)
		if err != nil {
			return nil, errors.Wrap(err, "decode arp")
		}
		d.ARP = arp
	case layers.EthernetTypeIPv4:
		ip := &layers.IPv4{}
		err = ip.DecodeFromBytes(d.Ethernet.Payload, gopacket.NilDecodeFeedback)
		if err != nil {
			return nil, errors.Wrap(err, "decode ipv4")
		}
		d.IPv4 = ip

		if ip.Protocol == layers.IPProtocolICMPv4 && ip.FragOffset == 0 {
			icmp := &layers.ICMPv4{}
			err = icmp.DecodeFromBytes(ip.Payload, gopacket.NilDecodeFeedback)
			if err != nil {
				return nil, errors.Wrap(err, "decode icmpv4")
			}
			d.ICMPv4 = icmp
		}
	}

	return d, nil
}

// Destination returns the destination MAC address of a frame without decoding
// the rest of it.
func Destination(f Frame) (net.HardwareAddr, bool) {
	if f.Len() < 14 {
		return nil, false
	}

	return net.HardwareAddr(f.view()[0:6]), true
}

// IsGroupAddress tells if the MAC address is a broadcast or multicast address.
func IsGroupAddress(mac net.HardwareAddr) bool {
	return len(mac) > 0 && mac[0]&0x01 == 1
}
