package packet

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

// DefaultTTL is the TTL of the packets generated by simulated nodes.
const DefaultTTL = 64

func serialize(checksum bool, ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: checksum,
	}

	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, errors.Wrap(err, "serialize frame")
	}

	return buf.Bytes(), nil
}

// BuildARPRequest creates a broadcast ARP request asking for targetIP.
func BuildARPRequest(
	srcMAC net.HardwareAddr,
	srcIP, targetIP net.IP,
) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       BroadcastMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcIP.To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    targetIP.To4(),
	}

	return serialize(false, eth, arp)
}

// BuildARPReply creates an ARP reply telling dstMAC that srcIP is at srcMAC.
func BuildARPReply(
	srcMAC net.HardwareAddr,
	srcIP net.IP,
	dstMAC net.HardwareAddr,
	dstIP net.IP,
) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcIP.To4(),
		DstHwAddress:      dstMAC,
		DstProtAddress:    dstIP.To4(),
	}

	return serialize(false, eth, arp)
}

// BuildIPv4 wraps an IPv4 header and its payload into an Ethernet frame. The
// header lengths are fixed up. With checksum set the header checksum is
// computed, otherwise it is written as zero.
func BuildIPv4(
	srcMAC, dstMAC net.HardwareAddr,
	ip *layers.IPv4,
	payload []byte,
	checksum bool,
) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}

	header := *ip
	if !checksum {
		header.Checksum = 0
	}

	return serialize(checksum, eth, &header, gopacket.Payload(payload))
}

// BuildEchoReply answers an ICMP echo request carried in req. The reply goes
// from the request's destination back to its source.
func BuildEchoReply(
	req *Decoded,
	srcMAC, dstMAC net.HardwareAddr,
	checksum bool,
) ([]byte, error) {
	if req.IPv4 == nil || req.ICMPv4 == nil ||
		req.ICMPv4.TypeCode.Type() != layers.ICMPv4TypeEchoRequest {
		return nil, errors.New("not an icmp echo request")
	}

	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      DefaultTTL,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    req.IPv4.DstIP,
		DstIP:    req.IPv4.SrcIP,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoReply, 0),
		Id:       req.ICMPv4.Id,
		Seq:      req.ICMPv4.Seq,
	}

	return serialize(checksum, eth, ip, icmp, gopacket.Payload(req.ICMPv4.Payload))
}

// BuildEchoRequest creates an ICMP echo request. It is what a simulated node
// sends when asked to ping.
func BuildEchoRequest(
	srcMAC, dstMAC net.HardwareAddr,
	srcIP, dstIP net.IP,
	id, seq uint16,
	payload []byte,
	checksum bool,
) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      DefaultTTL,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       id,
		Seq:      seq,
	}

	return serialize(checksum, eth, ip, icmp, gopacket.Payload(payload))
}

// BuildICMPv4Echo serializes an ICMP echo request, or reply, without any
// header below it. Nodes use it when the IP header is filled in later by
// routing.
func BuildICMPv4Echo(
	reply bool,
	id, seq uint16,
	payload []byte,
	checksum bool,
) ([]byte, error) {
	typ := uint8(layers.ICMPv4TypeEchoRequest)
	if reply {
		typ = layers.ICMPv4TypeEchoReply
	}

	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(typ, 0),
		Id:       id,
		Seq:      seq,
	}

	return serialize(checksum, icmp, gopacket.Payload(payload))
}
