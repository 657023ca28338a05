package config

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/sim"
)

const yamlScenario = `
name: lan
nodes:
  - name: left
  - name: right
    mobility:
      kind: constant-velocity
      position: [1, 2, 3]
      velocity: [0, 1, 0]
links:
  - name: csma
    kind: csma
    data_rate: 5Mbps
    delay: 2ms
    mtu: 1500
    pool: 10.1.1.0/24
    members: [left, right]
taps:
  - device: tap-left
    node: left
    link: csma
routes:
  - node: left
    kind: default
    gateway: 10.1.1.2
    link: csma
stop_time: 600s
real_time: true
`

const tomlScenario = `
name = "wan"
stop_time = "30s"

[[nodes]]
name = "a"
links = ["wan"]

[[nodes]]
name = "b"
links = ["wan"]

[[links]]
name = "wan"
kind = "p2p"
data_rate = "100Gb/s"
delay = "10ms"
mtu = 2500
pool = "1.0.0.0/8"
`

func minimal() *Scenario {
	return &Scenario{
		Name:  "test",
		Nodes: []Node{{Name: "a"}, {Name: "b"}},
		Links: []Link{{
			Name:     "lan",
			Kind:     "csma",
			DataRate: DataRate(sim.Mbps),
			Pool:     "10.0.0.0/24",
			Members:  []string{"a", "b"},
		}},
	}
}

var _ = Describe("Scenario", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		return path
	}

	It("should load YAML", func() {
		s, err := Load(write("lan.yaml", yamlScenario))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Validate()).To(Succeed())

		Expect(s.Name).To(Equal("lan"))
		Expect(s.Links[0].DataRate.Rate()).To(Equal(5 * sim.Mbps))
		Expect(s.Links[0].Delay.Seconds()).To(BeNumerically("~", 0.002, 1e-12))
		Expect(s.Nodes[1].Mobility.Velocity).To(Equal(Vec3{0, 1, 0}))
		Expect(s.StopTime.Seconds()).To(Equal(sim.VTimeInSec(600)))
		Expect(s.Checksum).To(BeTrue())
		Expect(s.Pcap.Prefix).To(Equal("lan"))
	})

	It("should load TOML", func() {
		s, err := Load(write("wan.toml", tomlScenario))
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Validate()).To(Succeed())

		Expect(s.Links[0].DataRate.Rate()).To(Equal(100 * sim.Gbps))
		Expect(s.Links[0].MTU).To(Equal(2500))
		Expect(s.LinkMembers("wan")).To(Equal([]string{"a", "b"}))
	})

	It("should reject unknown keys and formats", func() {
		_, err := Load(write("bad.yaml", "name: x\ncolour: blue\n"))
		Expect(err).To(HaveOccurred())

		_, err = Load(write("bad.toml", "name = \"x\"\ncolour = \"blue\"\n"))
		Expect(err).To(HaveOccurred())

		_, err = Load(write("bad.json", "{}"))
		Expect(err).To(HaveOccurred())
	})

	It("should round trip through YAML", func() {
		s, err := Load(write("lan.yaml", yamlScenario))
		Expect(err).NotTo(HaveOccurred())

		var buf bytes.Buffer
		Expect(s.WriteYAML(&buf)).To(Succeed())

		again, err := Load(write("again.yaml", buf.String()))
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Links[0].DataRate).To(Equal(s.Links[0].DataRate))
		Expect(again.Links[0].Delay).To(Equal(s.Links[0].Delay))
	})

	DescribeTable("validation errors",
		func(mutate func(s *Scenario), field string) {
			s := minimal()
			mutate(s)

			err := s.Validate()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring(field))
		},
		Entry("no nodes", func(s *Scenario) { s.Nodes = nil }, "nodes"),
		Entry("empty node name",
			func(s *Scenario) { s.Nodes[0].Name = "" }, "nodes[0].name"),
		Entry("unknown link kind",
			func(s *Scenario) { s.Links[0].Kind = "wifi" }, "links[0].kind"),
		Entry("zero data rate",
			func(s *Scenario) { s.Links[0].DataRate = 0 }, "links[0].data_rate"),
		Entry("bad pool",
			func(s *Scenario) { s.Links[0].Pool = "10.0.0.0" }, "links[0].pool"),
		Entry("unknown member",
			func(s *Scenario) { s.Links[0].Members = []string{"zz"} },
			"links[0].members[0]"),
		Entry("tap on unknown node",
			func(s *Scenario) {
				s.Taps = []Tap{{Device: "tap0", Node: "zz", Link: "lan"}}
			}, "taps[0].node"),
		Entry("tap on a link the node is not on",
			func(s *Scenario) {
				s.Nodes = append(s.Nodes, Node{Name: "c"})
				s.Taps = []Tap{{Device: "tap0", Node: "c", Link: "lan"}}
			}, "taps[0]"),
		Entry("route without interface",
			func(s *Scenario) {
				s.Routes = []Route{{Node: "a", Kind: RouteDefault}}
			}, "routes[0]"),
		Entry("route with bad destination",
			func(s *Scenario) {
				s.Routes = []Route{{Node: "a", Kind: RouteHost, Dest: "x",
					Link: "lan"}}
			}, "routes[0].dest"),
		Entry("route with bad mask",
			func(s *Scenario) {
				s.Routes = []Route{{Node: "a", Kind: RouteNetwork,
					Dest: "10.0.0.0", Mask: "/40", Link: "lan"}}
			}, "routes[0].mask"),
		Entry("unknown cell",
			func(s *Scenario) { s.Cells = []Cell{{Node: "zz"}} }, "cells[0]"),
		Entry("negative stop time",
			func(s *Scenario) { s.StopTime = -1 }, "stop_time"),
		Entry("monitor port",
			func(s *Scenario) { s.Monitor.Port = 70000 }, "monitor.port"),
	)

	It("should report duplicate names", func() {
		s := minimal()
		s.Nodes = append(s.Nodes, Node{Name: "a"})

		err := s.Validate()
		Expect(errors.Is(err, network.ErrDuplicateName)).To(BeTrue())

		s = minimal()
		s.Taps = []Tap{
			{Device: "tap0", Node: "a", Link: "lan"},
			{Device: "tap0", Node: "b", Link: "lan"},
		}
		err = s.Validate()
		Expect(errors.Is(err, network.ErrDuplicateName)).To(BeTrue())
	})

	It("should report overlapping pools", func() {
		s := minimal()
		s.Links = append(s.Links, Link{
			Name:     "lan2",
			Kind:     "csma",
			DataRate: DataRate(sim.Mbps),
			Pool:     "10.0.0.128/25",
			Members:  []string{"a"},
		})

		err := s.Validate()
		Expect(errors.Is(err, network.ErrPoolOverlap)).To(BeTrue())
	})

	It("should require two ends on point-to-point links", func() {
		s := minimal()
		s.Links[0].Kind = "p2p"
		s.Links[0].Members = []string{"a"}

		Expect(s.Validate()).NotTo(Succeed())
	})

	It("should apply environment overrides", func() {
		envFile := write(".env", EnvStopTime+"=5s\n"+EnvMonitorPort+"=9000\n")
		GinkgoT().Setenv(EnvPcapPrefix, "fromenv")
		Expect(os.Unsetenv(EnvStopTime)).To(Succeed())
		Expect(os.Unsetenv(EnvMonitorPort)).To(Succeed())
		DeferCleanup(func() {
			os.Unsetenv(EnvStopTime)
			os.Unsetenv(EnvMonitorPort)
		})

		env, err := LoadEnv(envFile)
		Expect(err).NotTo(HaveOccurred())

		s := minimal()
		env.Apply(s)

		Expect(s.StopTime.Seconds()).To(Equal(sim.VTimeInSec(5)))
		Expect(s.Monitor.Port).To(Equal(9000))
		Expect(s.Pcap.Prefix).To(Equal("fromenv"))
	})
})
