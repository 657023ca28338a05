package simulation

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/sarchlab/tapbridge/config"
	"github.com/sarchlab/tapbridge/datarecording"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/relay"
	"github.com/sarchlab/tapbridge/scenario"
	"github.com/sarchlab/tapbridge/tap"
)

var leftMAC = net.HardwareAddr{0x0a, 0, 0, 0, 0, 0x0a}

func hostFrame(seq int) []byte {
	data := make([]byte, 60)
	copy(data[0:6], packet.BroadcastMAC)
	copy(data[6:12], leftMAC)
	data[12] = 0x88
	data[13] = 0xb5
	data[14] = byte(seq >> 8)
	data[15] = byte(seq)

	return data
}

func shortTapCSMA() *config.Scenario {
	s := scenario.TapCSMA()
	s.StopTime = config.Duration(500 * time.Millisecond)

	return s
}

var _ = Describe("Simulation", func() {
	var (
		host  *tap.MemoryHost
		left  *tap.HostPort
		right *tap.HostPort
		cfg   *config.Scenario
	)

	BeforeEach(func() {
		host = tap.NewMemoryHost()
		left = host.CreateDevice("tap-left")
		right = host.CreateDevice("tap-right")
		cfg = shortTapCSMA()
	})

	build := func(b Builder) *Simulation {
		s, err := b.WithScenario(cfg).WithOpener(host).Build()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = s.Shutdown() })

		return s
	}

	runAsync := func(s *Simulation) chan error {
		done := make(chan error, 1)
		go func() {
			done <- s.Run(context.Background())
		}()

		return done
	}

	It("should carry a frame from one tap to the other unchanged", func() {
		s := build(MakeBuilder())
		Expect(s.Relays()).To(HaveLen(2))

		rightNode, found := s.Topology().Node("right")
		Expect(found).To(BeTrue())
		rightIface, found := rightNode.Interface(1)
		Expect(found).To(BeTrue())

		ping, err := packet.BuildEchoRequest(
			leftMAC, rightIface.MAC(),
			net.ParseIP("10.1.1.1").To4(), net.ParseIP("10.1.1.2").To4(),
			1, 7, []byte("tapbridge"), true)
		Expect(err).NotTo(HaveOccurred())

		done := runAsync(s)
		left.Inject(ping)

		data, ok := right.Read(time.Second)
		Expect(ok).To(BeTrue())
		Expect(data).To(Equal(ping))

		Eventually(done, 2*time.Second).Should(Receive(BeNil()))

		_, simulated := s.Elapsed()
		Expect(float64(simulated)).To(BeNumerically("~", 0.5, 1e-9))
	})

	It("should not echo a frame back to its own tap", func() {
		s := build(MakeBuilder())

		done := runAsync(s)
		left.Inject(hostFrame(1))

		_, ok := right.Read(time.Second)
		Expect(ok).To(BeTrue())
		_, ok = left.Read(100 * time.Millisecond)
		Expect(ok).To(BeFalse())

		Eventually(done, 2*time.Second).Should(Receive(BeNil()))
	})

	It("should keep bridging without a stop time until cancelled", func() {
		cfg.StopTime = 0
		s := build(MakeBuilder())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		time.Sleep(100 * time.Millisecond)
		Expect(done).NotTo(Receive())

		left.Inject(hostFrame(5))
		data, ok := right.Read(time.Second)
		Expect(ok).To(BeTrue())
		Expect(data).To(Equal(hostFrame(5)))

		cancel()
		Eventually(done, time.Second).Should(Receive(BeNil()))
	})

	It("should number the nodes of each simulation from 1", func() {
		cfg.Taps = nil
		cfg.RealTime = false
		cfg.StopTime = config.Duration(time.Second)

		for i := 0; i < 2; i++ {
			s := build(MakeBuilder())

			nodes := s.Topology().Nodes()
			Expect(nodes).To(HaveLen(2))
			Expect(nodes[0].ID()).To(Equal("1"))
			Expect(nodes[1].ID()).To(Equal("2"))
		}
	})

	It("should end the run when a tap fails", func() {
		writeErr := errors.New("device removed")
		right.FailWrites(writeErr)

		cfg.StopTime = config.Duration(10 * time.Second)
		s := build(MakeBuilder())

		done := runAsync(s)
		left.Inject(hostFrame(1))

		var err error
		Eventually(done, 2*time.Second).Should(Receive(&err))

		var failure *relay.RelayFailure
		Expect(errors.As(err, &failure)).To(BeTrue())
		Expect(failure.Direction).To(Equal(relay.ToTap))
		Expect(failure.Device).To(Equal("tap-right"))
		Expect(errors.Is(err, writeErr)).To(BeTrue())
	})

	It("should stop when the context is cancelled", func() {
		cfg.StopTime = config.Duration(time.Minute)
		s := build(MakeBuilder())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		time.Sleep(20 * time.Millisecond)
		cancel()

		Eventually(done, time.Second).Should(Receive(BeNil()))
	})

	It("should run only once", func() {
		cfg.StopTime = config.Duration(10 * time.Millisecond)
		s := build(MakeBuilder())

		Expect(s.Run(context.Background())).To(Succeed())
		Expect(s.Run(context.Background())).NotTo(Succeed())
	})

	It("should release the taps on shutdown, once", func() {
		s := build(MakeBuilder())

		Expect(s.Shutdown()).To(Succeed())
		Expect(s.Shutdown()).To(Succeed())

		for _, ep := range s.Taps().Endpoints() {
			Expect(ep.IsClosed()).To(BeTrue())
		}

		for _, r := range s.Relays() {
			Expect(r.Sink().Detached()).To(BeTrue())
		}

		dev, err := host.Open("tap-left")
		Expect(err).NotTo(HaveOccurred())
		Expect(dev.Close()).To(Succeed())
	})

	It("should bind an overridden tap to another device", func() {
		other := host.CreateDevice("veth-right")
		s := build(MakeBuilder().WithTapOverride("tap-right", "veth-right"))

		Expect(s.Relays()[1].Device()).To(Equal("veth-right"))
		Expect(cfg.Taps[1].Device).To(Equal("tap-right"))

		done := runAsync(s)
		left.Inject(hostFrame(3))

		data, ok := other.Read(time.Second)
		Expect(ok).To(BeTrue())
		Expect(data).To(Equal(hostFrame(3)))
		Eventually(done, 2*time.Second).Should(Receive(BeNil()))
	})

	It("should refuse to override an unknown tap", func() {
		_, err := MakeBuilder().
			WithScenario(cfg).
			WithOpener(host).
			WithTapOverride("tap-middle", "x").
			Build()
		Expect(err).To(MatchError(ContainSubstring("tap-middle")))
	})

	It("should refuse taps without real time", func() {
		cfg.RealTime = false
		_, err := MakeBuilder().WithScenario(cfg).WithOpener(host).Build()
		Expect(err).To(HaveOccurred())
	})

	It("should release what it opened when a device is missing", func() {
		host = tap.NewMemoryHost()
		host.CreateDevice("tap-left")

		_, err := MakeBuilder().WithScenario(cfg).WithOpener(host).Build()
		Expect(errors.Is(err, tap.ErrDeviceNotFound)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("build taps"))

		dev, err := host.Open("tap-left")
		Expect(err).NotTo(HaveOccurred())
		Expect(dev.Close()).To(Succeed())
	})

	It("should report a denied device", func() {
		host.Deny("tap-right")

		_, err := MakeBuilder().WithScenario(cfg).WithOpener(host).Build()
		Expect(errors.Is(err, tap.ErrPermissionDenied)).To(BeTrue())
	})

	It("should record the run and capture the interfaces", func() {
		dir := GinkgoT().TempDir()
		cfg.Record.Path = filepath.Join(dir, "run.sqlite3")
		cfg.Pcap = config.Pcap{Enabled: true, Prefix: "csma", Dir: dir}

		s := build(MakeBuilder())
		done := runAsync(s)
		left.Inject(hostFrame(9))

		_, ok := right.Read(time.Second)
		Expect(ok).To(BeTrue())
		Eventually(done, 2*time.Second).Should(Receive(BeNil()))
		Expect(s.Shutdown()).To(Succeed())

		for _, name := range []string{"csma-left-1.pcap", "csma-right-1.pcap"} {
			info, err := os.Stat(filepath.Join(dir, name))
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Size()).To(BeNumerically(">", 24))
		}

		reader, err := datarecording.NewReader(cfg.Record.Path)
		Expect(err).NotTo(HaveOccurred())
		defer reader.Close()

		reader.MapTable(datarecording.RunTableName, datarecording.RunInfo{})
		rows, _, err := reader.Query(context.Background(),
			datarecording.RunTableName, datarecording.QueryParams{
				Where: "Property = ?",
				Args:  []any{"Simulated Time (ms)"},
			})
		Expect(err).NotTo(HaveOccurred())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].(*datarecording.RunInfo).Value).To(Equal("500.000"))

		reader.MapTable(datarecording.FrameTableName, datarecording.FrameRecord{})
		_, n, err := reader.Query(context.Background(),
			datarecording.FrameTableName, datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">=", 4))
	})

	It("should describe its nodes", func() {
		s := build(MakeBuilder())

		var buf bytes.Buffer
		Expect(s.LogNodes(&buf)).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("10.1.1.1"))
		Expect(buf.String()).To(ContainSubstring("right"))
	})

	It("should run a scenario without taps as fast as possible", func() {
		cfg.Taps = nil
		cfg.RealTime = false
		cfg.StopTime = config.Duration(3 * time.Second)

		s := build(MakeBuilder())
		Expect(s.Relays()).To(BeEmpty())

		start := time.Now()
		Expect(s.Run(context.Background())).To(Succeed())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})
})
