package relay

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
	"github.com/sarchlab/tapbridge/tap"
	"go.uber.org/mock/gomock"
)

var hostMAC = net.HardwareAddr{0x0a, 0, 0, 0, 0, 0x01}

func seqFrame(seq int) []byte {
	data := make([]byte, 64)
	copy(data[0:6], packet.BroadcastMAC)
	copy(data[6:12], hostMAC)
	data[12] = 0x88
	data[13] = 0xb5
	data[14] = byte(seq >> 8)
	data[15] = byte(seq)

	return data
}

type recordingHook struct {
	lock   sync.Mutex
	frames map[Direction]int
}

func (h *recordingHook) Func(ctx sim.HookCtx) {
	if ctx.Pos != HookPosFrameRelayed {
		return
	}

	h.lock.Lock()
	h.frames[ctx.Detail.(Direction)]++
	h.lock.Unlock()
}

func (h *recordingHook) count(d Direction) int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.frames[d]
}

var _ = Describe("Relay", func() {
	var (
		host    *tap.MemoryHost
		portA   *tap.HostPort
		portB   *tap.HostPort
		manager *tap.Manager
		engine  *sim.RealTimeEngine
		nw      *network.Network
		ifaceA  *network.Interface
		ifaceB  *network.Interface
		relayA  *Relay
		relayB  *Relay
		runErr  chan error
	)

	BeforeEach(func() {
		host = tap.NewMemoryHost()
		portA = host.CreateDevice("tap-a")
		portB = host.CreateDevice("tap-b")
		manager = tap.NewManager(host)

		var err error
		engine, err = sim.NewRealTimeEngine(sim.RealTimeConfig{StopAt: 0.5})
		Expect(err).NotTo(HaveOccurred())

		nw = network.NewNetwork(engine)
		lan, err := nw.AddLink(network.LinkSpec{
			Name:     "lan",
			Kind:     network.LinkCSMA,
			DataRate: 100 * sim.Mbps,
			Delay:    0.001,
		})
		Expect(err).NotTo(HaveOccurred())

		a, _ := nw.AddNode("a")
		b, _ := nw.AddNode("b")
		ifaceA, _ = nw.Connect(a, lan)
		ifaceB, _ = nw.Connect(b, lan)

		epA, err := manager.Open("tap-a")
		Expect(err).NotTo(HaveOccurred())
		epB, err := manager.Open("tap-b")
		Expect(err).NotTo(HaveOccurred())

		relayA = New(Config{}, epA, ifaceA, engine)
		relayB = New(Config{LogFrames: true}, epB, ifaceB, engine)
		relayA.Start()
		relayB.Start()

		runErr = make(chan error, 1)
	})

	AfterEach(func() {
		engine.Stop()
		Expect(relayA.Stop()).To(Succeed())
		Expect(relayB.Stop()).To(Succeed())
	})

	run := func() {
		go func() {
			runErr <- engine.Run()
		}()
	}

	It("should name the relay after its device", func() {
		Expect(relayA.Name()).To(Equal("relay.tap-a"))
		Expect(relayA.Device()).To(Equal("tap-a"))
		Expect(relayA.Interface()).To(BeIdenticalTo(ifaceA))
		Expect(ifaceA.IsBridged()).To(BeTrue())
	})

	It("should keep the order and the bytes of frames", func() {
		hook := &recordingHook{frames: make(map[Direction]int)}
		relayA.AcceptHook(hook)
		relayB.AcceptHook(hook)

		run()

		for i := 0; i < 50; i++ {
			portA.Inject(seqFrame(i))
		}

		for i := 0; i < 50; i++ {
			data, ok := portB.Read(time.Second)
			Expect(ok).To(BeTrue(), "frame %d", i)
			Expect(data).To(Equal(seqFrame(i)))
		}

		Eventually(runErr, 2*time.Second).Should(Receive(BeNil()))

		Expect(hook.count(ToSimulation)).To(Equal(50))
		Expect(hook.count(ToTap)).To(Equal(50))
		Expect(relayA.Stats().ToSimulationFrames).To(BeEquivalentTo(50))
		Expect(relayB.Stats().ToTapBytes).To(BeEquivalentTo(50 * 64))
		Expect(relayA.Failures()).NotTo(Receive())
	})

	It("should report a failed tap write once", func() {
		writeErr := errors.New("device gone")
		portB.FailWrites(writeErr)

		run()
		portA.Inject(seqFrame(1))
		portA.Inject(seqFrame(2))

		var failure *RelayFailure
		Eventually(relayB.Failures(), time.Second).Should(Receive(&failure))
		Expect(failure.Direction).To(Equal(ToTap))
		Expect(failure.Device).To(Equal("tap-b"))
		Expect(errors.Is(failure, writeErr)).To(BeTrue())
		Expect(failure.Error()).To(ContainSubstring("sim->tap"))

		Eventually(runErr, 2*time.Second).Should(Receive(BeNil()))
		Expect(relayB.Failures()).NotTo(Receive())
		Expect(relayB.Sink().Detached()).To(BeTrue())

		ep, _ := manager.Get("tap-b")
		Expect(ep.IsClosed()).To(BeTrue())
	})

	It("should report a failed tap read", func() {
		readErr := errors.New("bad fd")
		portA.InjectError(readErr)

		var failure *RelayFailure
		Eventually(relayA.Failures(), time.Second).Should(Receive(&failure))
		Expect(failure.Direction).To(Equal(ToSimulation))
		Expect(errors.Is(failure, readErr)).To(BeTrue())

		ep, _ := manager.Get("tap-a")
		Expect(ep.IsClosed()).To(BeTrue())
	})

	It("should stop more than once", func() {
		Expect(relayA.Stop()).To(Succeed())
		Expect(relayA.Stop()).To(Succeed())

		ep, _ := manager.Get("tap-a")
		Expect(ep.IsClosed()).To(BeTrue())
		Expect(relayA.Sink().Detached()).To(BeTrue())
		Expect(relayA.Failures()).NotTo(Receive())
	})

	It("should not report closing the endpoint as a failure", func() {
		Expect(manager.CloseAll()).To(Succeed())
		Expect(relayA.Stop()).To(Succeed())
		Expect(relayA.Failures()).NotTo(Receive())
	})
})

var _ = Describe("Relay reader", func() {
	var (
		mockCtrl  *gomock.Controller
		scheduler *MockRealtimeScheduler
		port      *tap.HostPort
		r         *Relay
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		scheduler = NewMockRealtimeScheduler(mockCtrl)

		host := tap.NewMemoryHost()
		port = host.CreateDevice("tap0")
		dev, err := host.Open("tap0")
		Expect(err).NotTo(HaveOccurred())

		nw := network.NewNetwork(sim.NewSerialEngine())
		lan, _ := nw.AddLink(network.LinkSpec{
			Name:     "lan",
			Kind:     network.LinkCSMA,
			DataRate: sim.Mbps,
		})
		node, _ := nw.AddNode("n")
		iface, _ := nw.Connect(node, lan)

		r = New(Config{Name: "bridge"}, tap.NewEndpoint(dev), iface, scheduler)
	})

	AfterEach(func() {
		Expect(r.Stop()).To(Succeed())
		mockCtrl.Finish()
	})

	It("should stamp frames with the real time of the scheduler", func() {
		events := make(chan sim.Event, 1)
		scheduler.EXPECT().
			ScheduleRealtimeNow(gomock.Any()).
			Do(func(create func(sim.VTimeInSec) sim.Event) {
				events <- create(1.25)
			})

		r.Start()
		port.Inject(seqFrame(7))

		var evt sim.Event
		Eventually(events, time.Second).Should(Receive(&evt))
		Expect(evt.Time()).To(Equal(sim.VTimeInSec(1.25)))
		Expect(evt.Handler()).To(BeIdenticalTo(r))

		inject := evt.(*injectEvent)
		Expect(inject.frame.Time()).To(Equal(sim.VTimeInSec(1.25)))
		Expect(inject.frame.Bytes()).To(Equal(seqFrame(7)))
		Expect(r.Name()).To(Equal("bridge"))
	})
})
