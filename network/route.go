package network

import (
	"fmt"
	"net"
)

// RouteKind tells which lookup tier a route belongs to.
type RouteKind int

// The route kinds, in lookup order.
const (
	HostRoute RouteKind = iota
	NetworkRoute
	DefaultRoute
)

func (k RouteKind) String() string {
	switch k {
	case HostRoute:
		return "host"
	case NetworkRoute:
		return "network"
	case DefaultRoute:
		return "default"
	default:
		return fmt.Sprintf("RouteKind(%d)", int(k))
	}
}

// A Route sends packets for a destination out of an interface, either
// directly or through a gateway. An unspecified gateway means the destination
// is on-link.
type Route struct {
	Kind      RouteKind
	Dest      net.IP
	Mask      net.IPMask
	Gateway   net.IP
	Interface int
}

// Matches tells if the route covers the address.
func (r Route) Matches(ip net.IP) bool {
	ip = ip.To4()
	if ip == nil {
		return false
	}

	return ip.Mask(r.Mask).Equal(r.Dest.Mask(r.Mask))
}

// HasGateway tells if packets go through a gateway.
func (r Route) HasGateway() bool {
	return r.Gateway != nil && !r.Gateway.IsUnspecified()
}

func (r Route) String() string {
	return fmt.Sprintf("%s (%s) --> %s (interface %d)",
		r.Dest, net.IP(r.Mask), r.Gateway, r.Interface)
}

// A RoutingTable holds static routes. Host routes are looked up first, then
// network routes, then default routes. In each tier the route registered
// first wins.
type RoutingTable struct {
	host     []Route
	network  []Route
	defaults []Route
}

// NewRoutingTable creates an empty table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{}
}

// AddHostRoute adds a route to a single address.
func (t *RoutingTable) AddHostRoute(dest, gateway net.IP, iface int) {
	t.host = append(t.host, Route{
		Kind:      HostRoute,
		Dest:      dest.To4(),
		Mask:      net.CIDRMask(32, 32),
		Gateway:   normalizeGateway(gateway),
		Interface: iface,
	})
}

// AddNetworkRoute adds a route to a network.
func (t *RoutingTable) AddNetworkRoute(
	dest net.IP,
	mask net.IPMask,
	gateway net.IP,
	iface int,
) {
	t.network = append(t.network, Route{
		Kind:      NetworkRoute,
		Dest:      dest.To4().Mask(mask),
		Mask:      mask,
		Gateway:   normalizeGateway(gateway),
		Interface: iface,
	})
}

// SetDefaultRoute adds a route used when nothing else matches.
func (t *RoutingTable) SetDefaultRoute(gateway net.IP, iface int) {
	t.defaults = append(t.defaults, Route{
		Kind:      DefaultRoute,
		Dest:      net.IPv4zero.To4(),
		Mask:      net.CIDRMask(0, 32),
		Gateway:   normalizeGateway(gateway),
		Interface: iface,
	})
}

// Lookup finds the route for a destination.
func (t *RoutingTable) Lookup(dest net.IP) (Route, bool) {
	for _, tier := range [][]Route{t.host, t.network, t.defaults} {
		for _, r := range tier {
			if r.Matches(dest) {
				return r, true
			}
		}
	}

	return Route{}, false
}

// Routes returns all the routes in lookup order.
func (t *RoutingTable) Routes() []Route {
	out := make([]Route, 0, len(t.host)+len(t.network)+len(t.defaults))
	out = append(out, t.host...)
	out = append(out, t.network...)
	out = append(out, t.defaults...)

	return out
}

func normalizeGateway(gw net.IP) net.IP {
	if gw == nil {
		return net.IPv4zero.To4()
	}

	return gw.To4()
}
