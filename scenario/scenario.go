// Package scenario ships the built-in scenarios and the cell attachment
// policies that scenario files refer to by name.
package scenario

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/config"
	"github.com/sarchlab/tapbridge/mobility"
	"github.com/sarchlab/tapbridge/sim"
)

// Names of the built-in scenarios.
const (
	TapCSMAName = "tap-csma"
	NR5GName    = "5g-emu"
)

var presets = map[string]func() *config.Scenario{
	TapCSMAName: TapCSMA,
	NR5GName:    NR5G,
}

// Names returns the names of the built-in scenarios, sorted.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Get returns a fresh copy of a built-in scenario.
func Get(name string) (*config.Scenario, error) {
	create, found := presets[name]
	if !found {
		return nil, errors.Errorf("unknown scenario %q", name)
	}

	return create(), nil
}

// TapCSMA bridges two host tap devices into a CSMA LAN.
func TapCSMA() *config.Scenario {
	return &config.Scenario{
		Name: TapCSMAName,
		Nodes: []config.Node{
			{Name: "left"},
			{Name: "right"},
		},
		Links: []config.Link{{
			Name:     "csma",
			Kind:     "csma",
			DataRate: config.DataRate(5 * sim.Mbps),
			Delay:    config.Duration(2 * time.Millisecond),
			MTU:      1500,
			Pool:     "10.1.1.0/24",
			Members:  []string{"left", "right"},
		}},
		Taps: []config.Tap{
			{Device: "tap-left", Node: "left", Link: "csma"},
			{Device: "tap-right", Node: "right", Link: "csma"},
		},
		Pcap:     config.Pcap{Prefix: TapCSMAName},
		Checksum: true,
		StopTime: config.Duration(600 * time.Second),
		RealTime: true,
	}
}

// NR5G is the 5G emulation topology. Two ghost nodes stand for the host
// machines behind tap-left and tap-right. Each is paired with a UE that
// reaches a remote host through the gateway and the backbone. A third tap
// attaches to a ghost of the remote host.
func NR5G() *config.Scenario {
	ue := func(name string, pos, vel config.Vec3) config.Node {
		return config.Node{
			Name: name,
			Mobility: &config.Mobility{
				Kind:     config.ConstantVelocity,
				Position: pos,
				Velocity: vel,
			},
		}
	}

	return &config.Scenario{
		Name: NR5GName,
		Nodes: []config.Node{
			{Name: "GhostNode0"},
			{Name: "GhostNode1"},
			ue("UeNode0", config.Vec3{90, 15, 1.5}, config.Vec3{0, 1, 0}),
			ue("UeNode1", config.Vec3{30, 50, 1.5}, config.Vec3{-1, 0, 0}),
			{
				Name: "EnbNode0",
				Mobility: &config.Mobility{
					Kind:     config.ConstantPosition,
					Position: config.Vec3{0, 0, 35},
				},
			},
			{Name: "Pgw"},
			{Name: "RemoteHost"},
			{Name: "RemoteHostGhost"},
		},
		Links: []config.Link{
			{
				Name:      "ran",
				Kind:      "radio",
				DataRate:  config.DataRate(sim.Gbps),
				Pool:      "7.0.0.0/8",
				FirstHost: "7.0.0.1",
				Members:   []string{"Pgw", "UeNode0", "UeNode1"},
			},
			{
				Name:     "backbone",
				Kind:     "p2p",
				DataRate: config.DataRate(100 * sim.Gbps),
				Delay:    config.Duration(10 * time.Millisecond),
				MTU:      2500,
				Pool:     "1.0.0.0/8",
				Members:  []string{"Pgw", "RemoteHost"},
			},
			{
				Name:     "lan",
				Kind:     "csma",
				DataRate: config.DataRate(5 * sim.Mbps),
				Pool:     "10.1.1.0/24",
				Members: []string{
					"GhostNode0", "GhostNode1",
					"RemoteHost", "RemoteHostGhost",
					"UeNode0", "UeNode1",
				},
			},
		},
		Taps: []config.Tap{
			{Device: "tap-left", Node: "GhostNode0", Link: "lan"},
			{Device: "tap-right", Node: "GhostNode1", Link: "lan"},
			// RemoteHost keeps its LAN interface routed: the Pgw reaches
			// 10.1.1.0/24 through it. The server tap goes on its ghost.
			{Device: "tap-server", Node: "RemoteHostGhost", Link: "lan"},
		},
		Routes: []config.Route{
			{Node: "RemoteHost", Kind: config.RouteNetwork,
				Dest: "7.0.0.0", Mask: "/8", Gateway: "1.0.0.1", Interface: 1},
			{Node: "UeNode0", Kind: config.RouteHost,
				Dest: "10.1.1.1", Gateway: "7.0.0.1", Link: "ran"},
			{Node: "UeNode1", Kind: config.RouteHost,
				Dest: "10.1.1.2", Gateway: "7.0.0.1", Link: "ran"},
			{Node: "UeNode0", Kind: config.RouteDefault,
				Gateway: "7.0.0.1", Link: "ran"},
			{Node: "UeNode1", Kind: config.RouteDefault,
				Gateway: "7.0.0.1", Link: "ran"},
			{Node: "Pgw", Kind: config.RouteNetwork,
				Dest: "10.1.1.0", Mask: "/24", Gateway: "1.0.0.2", Link: "backbone"},
		},
		Cells: []config.Cell{{Node: "EnbNode0"}},
		Attachment: config.Attachment{
			Policy:   config.PolicyNearest,
			Interval: config.Duration(time.Second),
			Link:     "ran",
		},
		Pcap:     config.Pcap{Prefix: "5gEmu"},
		Checksum: true,
		StopTime: config.Duration(30 * time.Second),
		RealTime: true,
	}
}

// Policy returns the attachment policy with the given name.
func Policy(name string) (mobility.AttachmentPolicy, error) {
	switch name {
	case config.PolicyNearest, "":
		return NearestCell{}, nil
	default:
		return nil, errors.Errorf("unknown attachment policy %q", name)
	}
}
