package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/network"
)

// Validate checks the scenario and fills in defaults. It returns the first
// problem found, prefixed with the path of the field.
//
// A scenario with taps always computes checksums, since the host kernel
// drops packets with bad checksums.
func (s *Scenario) Validate() error {
	if len(s.Nodes) == 0 {
		return errors.New("nodes: at least one node is required")
	}

	if s.StopTime < 0 {
		return errors.New("stop_time: must not be negative")
	}

	if s.MaxSleep < 0 {
		return errors.New("max_sleep: must not be negative")
	}

	if s.LagWarn < 0 {
		return errors.New("lag_warn: must not be negative")
	}

	checks := []func() error{
		s.validateNodes,
		s.validateLinks,
		s.validateTaps,
		s.validateRoutes,
		s.validateCells,
		s.validateMonitor,
	}

	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}

	if len(s.Taps) > 0 {
		s.Checksum = true
	}

	if s.Pcap.Prefix == "" {
		s.Pcap.Prefix = s.Name
	}

	if s.Pcap.Enabled && s.Pcap.Prefix == "" {
		return errors.New("pcap.prefix: required when capture is enabled")
	}

	return nil
}

func (s *Scenario) validateNodes() error {
	seen := make(map[string]bool)

	for i, n := range s.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)

		if n.Name == "" {
			return errors.Errorf("%s.name: must not be empty", path)
		}

		if seen[n.Name] {
			return errors.Wrapf(network.ErrDuplicateName,
				"%s.name: node %s", path, n.Name)
		}
		seen[n.Name] = true

		for j, l := range n.Links {
			if _, found := s.Link(l); !found {
				return errors.Errorf("%s.links[%d]: unknown link %s", path, j, l)
			}
		}

		if n.Mobility != nil {
			switch n.Mobility.Kind {
			case ConstantPosition, ConstantVelocity:
			default:
				return errors.Errorf("%s.mobility.kind: unknown kind %q",
					path, n.Mobility.Kind)
			}
		}
	}

	return nil
}

func (s *Scenario) validateLinks() error {
	seen := make(map[string]bool)
	pools := make(map[string]*network.AddressPool)
	var order []string

	for i, l := range s.Links {
		path := fmt.Sprintf("links[%d]", i)

		if l.Name == "" {
			return errors.Errorf("%s.name: must not be empty", path)
		}

		if seen[l.Name] {
			return errors.Wrapf(network.ErrDuplicateName,
				"%s.name: link %s", path, l.Name)
		}
		seen[l.Name] = true

		switch network.LinkKind(l.Kind) {
		case network.LinkCSMA, network.LinkP2P, network.LinkRadio:
		default:
			return errors.Errorf("%s.kind: unknown kind %q", path, l.Kind)
		}

		if l.DataRate <= 0 {
			return errors.Errorf("%s.data_rate: must be positive", path)
		}

		if l.Delay < 0 {
			return errors.Errorf("%s.delay: must not be negative", path)
		}

		if l.MTU < 0 || l.QueueSize < 0 {
			return errors.Errorf("%s: mtu and queue_size must not be negative",
				path)
		}

		pool, err := network.NewAddressPool(l.Pool, l.FirstHost)
		if err != nil {
			return errors.Wrapf(err, "%s.pool", path)
		}
		pools[l.Name] = pool
		order = append(order, l.Name)

		if err := s.validateMembers(path, l); err != nil {
			return err
		}
	}

	if err := network.CheckOverlap(pools, order); err != nil {
		return errors.Wrap(err, "links")
	}

	return nil
}

func (s *Scenario) validateMembers(path string, l Link) error {
	for j, m := range l.Members {
		if _, found := s.Node(m); !found {
			return errors.Errorf("%s.members[%d]: unknown node %s", path, j, m)
		}
	}

	members := s.LinkMembers(l.Name)

	if network.LinkKind(l.Kind) == network.LinkP2P && len(members) != 2 {
		return errors.Errorf("%s.members: point-to-point link needs 2 nodes, has %d",
			path, len(members))
	}

	return nil
}

func (s *Scenario) isMember(node, link string) bool {
	for _, m := range s.LinkMembers(link) {
		if m == node {
			return true
		}
	}

	return false
}

func (s *Scenario) validateTaps() error {
	devices := make(map[string]bool)
	bound := make(map[string]bool)

	for i, t := range s.Taps {
		path := fmt.Sprintf("taps[%d]", i)

		if t.Device == "" {
			return errors.Errorf("%s.device: must not be empty", path)
		}

		if devices[t.Device] {
			return errors.Wrapf(network.ErrDuplicateName,
				"%s.device: device %s", path, t.Device)
		}
		devices[t.Device] = true

		if _, found := s.Node(t.Node); !found {
			return errors.Errorf("%s.node: unknown node %s", path, t.Node)
		}

		if _, found := s.Link(t.Link); !found {
			return errors.Errorf("%s.link: unknown link %s", path, t.Link)
		}

		if !s.isMember(t.Node, t.Link) {
			return errors.Errorf("%s: node %s is not on link %s",
				path, t.Node, t.Link)
		}

		key := t.Node + "/" + t.Link
		if bound[key] {
			return errors.Errorf("%s: interface of %s on %s is already bridged",
				path, t.Node, t.Link)
		}
		bound[key] = true
	}

	return nil
}

func (s *Scenario) validateRoutes() error {
	for i, r := range s.Routes {
		path := fmt.Sprintf("routes[%d]", i)

		if _, found := s.Node(r.Node); !found {
			return errors.Errorf("%s.node: unknown node %s", path, r.Node)
		}

		switch r.Kind {
		case RouteHost, RouteNetwork:
			if ip := net.ParseIP(r.Dest); ip == nil || ip.To4() == nil {
				return errors.Errorf("%s.dest: invalid address %q", path, r.Dest)
			}
		case RouteDefault:
		default:
			return errors.Errorf("%s.kind: unknown kind %q", path, r.Kind)
		}

		if r.Kind == RouteNetwork {
			if _, err := ParseMask(r.Mask); err != nil {
				return errors.Wrapf(err, "%s.mask", path)
			}
		}

		if r.Gateway != "" {
			if ip := net.ParseIP(r.Gateway); ip == nil || ip.To4() == nil {
				return errors.Errorf("%s.gateway: invalid address %q",
					path, r.Gateway)
			}
		}

		if r.Link != "" {
			if !s.isMember(r.Node, r.Link) {
				return errors.Errorf("%s.link: node %s is not on link %s",
					path, r.Node, r.Link)
			}
		} else if r.Interface <= 0 {
			return errors.Errorf("%s: either link or interface is required",
				path)
		}
	}

	return nil
}

func (s *Scenario) validateCells() error {
	for i, c := range s.Cells {
		if _, found := s.Node(c.Node); !found {
			return errors.Errorf("cells[%d].node: unknown node %s", i, c.Node)
		}
	}

	if len(s.Cells) == 0 {
		return nil
	}

	if s.Attachment.Policy == "" {
		s.Attachment.Policy = PolicyNearest
	}

	if s.Attachment.Policy != PolicyNearest {
		return errors.Errorf("attachment.policy: unknown policy %q",
			s.Attachment.Policy)
	}

	if s.Attachment.Interval < 0 {
		return errors.New("attachment.interval: must not be negative")
	}

	if s.Attachment.Link != "" {
		l, found := s.Link(s.Attachment.Link)
		if !found {
			return errors.Errorf("attachment.link: unknown link %s",
				s.Attachment.Link)
		}

		if network.LinkKind(l.Kind) != network.LinkRadio {
			return errors.Errorf("attachment.link: %s is not a radio link",
				l.Name)
		}
	}

	return nil
}

func (s *Scenario) validateMonitor() error {
	if s.Monitor.Port < 0 || s.Monitor.Port > 65535 {
		return errors.Errorf("monitor.port: %d is out of range",
			s.Monitor.Port)
	}

	return nil
}

// ParseMask reads a mask as "/8", "8" or "255.0.0.0".
func ParseMask(s string) (net.IPMask, error) {
	if ones, err := strconv.Atoi(strings.TrimPrefix(s, "/")); err == nil {
		if ones < 0 || ones > 32 {
			return nil, errors.Errorf("invalid prefix length %q", s)
		}

		return net.CIDRMask(ones, 32), nil
	}

	ip := net.ParseIP(s).To4()
	if ip == nil {
		return nil, errors.Errorf("invalid mask %q", s)
	}

	mask := net.IPMask(ip)
	if _, bits := mask.Size(); bits == 0 {
		return nil, errors.Errorf("mask %q is not contiguous", s)
	}

	return mask, nil
}
