package network

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/pkg/errors"
)

var (
	// ErrPoolExhausted is returned when a pool has no host address left.
	ErrPoolExhausted = errors.New("address pool exhausted")

	// ErrPoolOverlap is returned when the networks of two pools overlap.
	ErrPoolOverlap = errors.New("address pools overlap")
)

// An Address is an IPv4 address together with its network mask.
type Address struct {
	IP   net.IP
	Mask net.IPMask
}

// Prefix returns the mask length.
func (a Address) Prefix() int {
	ones, _ := a.Mask.Size()
	return ones
}

// Network returns the network the address belongs to.
func (a Address) Network() *net.IPNet {
	return &net.IPNet{IP: a.IP.Mask(a.Mask), Mask: a.Mask}
}

// Broadcast returns the directed broadcast address of the network.
func (a Address) Broadcast() net.IP {
	ip := a.IP.To4()
	mask := a.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}

	out := make(net.IP, 4)
	for i := range out {
		out[i] = ip[i] | ^mask[i]
	}

	return out
}

func (a Address) String() string {
	return fmt.Sprintf("%s/%d", a.IP, a.Prefix())
}

// An AddressPool hands out the host addresses of one IPv4 network in order.
type AddressPool struct {
	network *net.IPNet
	next    uint32
	last    uint32
}

// NewAddressPool creates a pool for the network in CIDR notation. The first
// address handed out is firstHost, or the first host of the network when
// firstHost is empty.
func NewAddressPool(cidr, firstHost string) (*AddressPool, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse network %q", cidr)
	}

	if ipNet.IP.To4() == nil {
		return nil, errors.Errorf("network %s is not IPv4", cidr)
	}

	ones, bits := ipNet.Mask.Size()
	if bits-ones < 2 {
		return nil, errors.Errorf("network %s has no host addresses", cidr)
	}

	base := ipToUint(ipNet.IP)
	size := uint32(1) << uint(bits-ones)

	p := &AddressPool{
		network: ipNet,
		next:    base + 1,
		last:    base + size - 2,
	}

	if firstHost != "" {
		first := net.ParseIP(firstHost)
		if first == nil || first.To4() == nil {
			return nil, errors.Errorf("invalid first host %q", firstHost)
		}

		n := ipToUint(first)
		if n < p.next || n > p.last {
			return nil, errors.Errorf(
				"first host %s is not a host address of %s", first, cidr)
		}
		p.next = n
	}

	return p, nil
}

// Network returns the network of the pool.
func (p *AddressPool) Network() *net.IPNet {
	return p.network
}

// Mask returns the network mask.
func (p *AddressPool) Mask() net.IPMask {
	return p.network.Mask
}

// Allocate returns the next unused host address.
func (p *AddressPool) Allocate() (Address, error) {
	if p.next > p.last {
		return Address{}, errors.Wrapf(ErrPoolExhausted, "%s", p.network)
	}

	ip := uintToIP(p.next)
	p.next++

	return Address{IP: ip, Mask: p.network.Mask}, nil
}

// Overlaps tells if two pools share any address.
func (p *AddressPool) Overlaps(o *AddressPool) bool {
	return p.network.Contains(o.network.IP) || o.network.Contains(p.network.IP)
}

// CheckOverlap returns ErrPoolOverlap if any two of the named pools overlap.
func CheckOverlap(pools map[string]*AddressPool, order []string) error {
	for i, a := range order {
		for _, b := range order[i+1:] {
			if pools[a].Overlaps(pools[b]) {
				return errors.Wrapf(ErrPoolOverlap, "%s (%s) and %s (%s)",
					a, pools[a].network, b, pools[b].network)
			}
		}
	}

	return nil
}

func ipToUint(ip net.IP) uint32 {
	return binary.BigEndian.Uint32(ip.To4())
}

func uintToIP(n uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, n)

	return ip
}
