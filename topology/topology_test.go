package topology

import (
	"bytes"
	"fmt"
	"math/rand"
	"net"

	"github.com/pkg/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/tapbridge/config"
	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/scenario"
	"github.com/sarchlab/tapbridge/sim"
)

func addressOf(topo *Topology, node, link string) string {
	n, found := topo.Node(node)
	Expect(found).To(BeTrue(), node)

	iface, found := n.InterfaceOn(link)
	Expect(found).To(BeTrue(), node+" on "+link)

	a, ok := iface.PrimaryAddress()
	Expect(ok).To(BeTrue())

	return a.String()
}

func allAddresses(topo *Topology) []string {
	var out []string
	for _, iface := range topo.Interfaces() {
		for _, a := range iface.Addresses() {
			out = append(out, a.IP.String())
		}
	}

	return out
}

var _ = Describe("Build", func() {
	var (
		engine *sim.SerialEngine
		opts   Options
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		opts = Options{Policy: scenario.NearestCell{}}
	})

	It("should build the tap-csma scenario", func() {
		topo, err := Build(scenario.TapCSMA(), engine, opts)
		Expect(err).NotTo(HaveOccurred())

		Expect(topo.Nodes()).To(HaveLen(2))
		Expect(addressOf(topo, "left", "csma")).To(Equal("10.1.1.1/24"))
		Expect(addressOf(topo, "right", "csma")).To(Equal("10.1.1.2/24"))
		Expect(topo.Checksum()).To(BeTrue())

		Expect(topo.Bridges).To(HaveLen(2))
		Expect(topo.Bridges[0].Device).To(Equal("tap-left"))
		Expect(topo.Bridges[0].Interface.Name()).To(Equal("left.if1"))
		Expect(topo.Attacher).To(BeNil())
	})

	It("should build the 5g-emu scenario", func() {
		topo, err := Build(scenario.NR5G(), engine, opts)
		Expect(err).NotTo(HaveOccurred())

		Expect(topo.Nodes()).To(HaveLen(8))

		Expect(addressOf(topo, "Pgw", "ran")).To(Equal("7.0.0.1/8"))
		Expect(addressOf(topo, "UeNode0", "ran")).To(Equal("7.0.0.2/8"))
		Expect(addressOf(topo, "UeNode1", "ran")).To(Equal("7.0.0.3/8"))
		Expect(addressOf(topo, "Pgw", "backbone")).To(Equal("1.0.0.1/8"))
		Expect(addressOf(topo, "RemoteHost", "backbone")).To(Equal("1.0.0.2/8"))
		Expect(addressOf(topo, "GhostNode0", "lan")).To(Equal("10.1.1.1/24"))
		Expect(addressOf(topo, "GhostNode1", "lan")).To(Equal("10.1.1.2/24"))
		Expect(addressOf(topo, "RemoteHostGhost", "lan")).To(Equal("10.1.1.4/24"))

		remote, _ := topo.Node("RemoteHost")
		backbone, _ := remote.InterfaceOn("backbone")
		Expect(backbone.Index()).To(Equal(1))

		r, found := remote.Routes().Lookup(net.ParseIP("7.0.0.2"))
		Expect(found).To(BeTrue())
		Expect(r.Gateway.String()).To(Equal("1.0.0.1"))
		Expect(r.Interface).To(Equal(1))

		ue0, _ := topo.Node("UeNode0")
		r, found = ue0.Routes().Lookup(net.ParseIP("10.1.1.1"))
		Expect(found).To(BeTrue())
		Expect(r.Kind).To(Equal(network.HostRoute))
		Expect(r.Gateway.String()).To(Equal("7.0.0.1"))

		ue1, _ := topo.Node("UeNode1")
		r, found = ue1.Routes().Lookup(net.ParseIP("10.1.1.2"))
		Expect(found).To(BeTrue())
		Expect(r.Kind).To(Equal(network.HostRoute))

		r, found = ue1.Routes().Lookup(net.ParseIP("8.8.8.8"))
		Expect(found).To(BeTrue())
		Expect(r.Kind).To(Equal(network.DefaultRoute))

		Expect(topo.Bridges[2].Device).To(Equal("tap-server"))
		Expect(topo.Bridges[2].Interface.Node().Name()).
			To(Equal("RemoteHostGhost"))

		remote, _ = topo.Node("RemoteHost")
		remoteLAN, found := remote.InterfaceOn("lan")
		Expect(found).To(BeTrue())
		Expect(remoteLAN.IsBridged()).To(BeFalse())

		Expect(topo.Attacher).NotTo(BeNil())
		att, found := topo.Attacher.Serving("UeNode0")
		Expect(found).To(BeTrue())
		Expect(att.Cell).To(Equal("EnbNode0"))
		_, found = topo.Attacher.Serving("EnbNode0")
		Expect(found).To(BeFalse())
	})

	It("should never assign the same address twice", func() {
		for _, name := range scenario.Names() {
			cfg, err := scenario.Get(name)
			Expect(err).NotTo(HaveOccurred())

			topo, err := Build(cfg, sim.NewSerialEngine(), opts)
			Expect(err).NotTo(HaveOccurred())

			Expect(allAddresses(topo)).To(HaveLen(
				len(uniq(allAddresses(topo)))), name)
		}
	})

	It("should keep addresses unique for random pools", func() {
		rng := rand.New(rand.NewSource(1))

		for round := 0; round < 50; round++ {
			cfg := &config.Scenario{Name: "random"}
			for i := 0; i < 6; i++ {
				cfg.Nodes = append(cfg.Nodes,
					config.Node{Name: fmt.Sprintf("n%d", i)})
			}

			for l := 0; l < 3; l++ {
				prefix := 16 + rng.Intn(13)
				base := net.IPv4(10, byte(rng.Intn(4)), byte(rng.Intn(256)), 0)
				ipNet := &net.IPNet{
					IP:   base.Mask(net.CIDRMask(prefix, 32)),
					Mask: net.CIDRMask(prefix, 32),
				}

				cfg.Links = append(cfg.Links, config.Link{
					Name:     fmt.Sprintf("l%d", l),
					Kind:     "csma",
					DataRate: config.DataRate(sim.Mbps),
					Pool:     ipNet.String(),
					Members:  []string{"n0", "n1", "n2", "n3", "n4", "n5"},
				})
			}

			topo, err := Build(cfg, sim.NewSerialEngine(), opts)
			if err != nil {
				Expect(errors.Is(err, network.ErrPoolOverlap)).To(BeTrue())
				continue
			}

			addrs := allAddresses(topo)
			Expect(addrs).To(HaveLen(18))
			Expect(uniq(addrs)).To(HaveLen(18))
		}
	})

	It("should report exhausted pools", func() {
		cfg := scenario.TapCSMA()
		cfg.Nodes = append(cfg.Nodes, config.Node{Name: "third"})
		cfg.Links[0].Pool = "10.1.1.0/30"
		cfg.Links[0].Members = append(cfg.Links[0].Members, "third")

		topo, err := Build(cfg, engine, opts)
		Expect(topo).To(BeNil())
		Expect(errors.Is(err, network.ErrPoolExhausted)).To(BeTrue())
	})

	It("should report duplicate nodes", func() {
		cfg := scenario.TapCSMA()
		cfg.Nodes = append(cfg.Nodes, config.Node{Name: "left"})

		_, err := Build(cfg, engine, opts)
		Expect(errors.Is(err, network.ErrDuplicateName)).To(BeTrue())
	})

	It("should require a policy when there are cells", func() {
		_, err := Build(scenario.NR5G(), engine, Options{})
		Expect(err).To(HaveOccurred())
	})

	It("should reject routes through missing interfaces", func() {
		cfg := scenario.TapCSMA()
		cfg.Routes = []config.Route{{
			Node: "left", Kind: config.RouteDefault,
			Gateway: "10.1.1.2", Interface: 5,
		}}

		_, err := Build(cfg, engine, opts)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("no interface 5"))
	})

	It("should describe the 5g-emu routes", func() {
		topo, err := Build(scenario.NR5G(), engine, opts)
		Expect(err).NotTo(HaveOccurred())

		var buf bytes.Buffer
		Expect(topo.Describe(&buf)).To(Succeed())
		Expect(buf.String()).To(ContainSubstring(
			"route 7.0.0.0 (255.0.0.0) --> 1.0.0.1 (interface 1)"))
	})
})

func uniq(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	return out
}
