package tracing

import (
	"os"
	"path/filepath"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/tapbridge/network"
	"github.com/sarchlab/tapbridge/packet"
	"github.com/sarchlab/tapbridge/sim"
)

func readPcap(path string) (layers.LinkType, [][]byte) {
	f, err := os.Open(path)
	Expect(err).NotTo(HaveOccurred())
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	Expect(err).NotTo(HaveOccurred())

	var frames [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		frames = append(frames, data)
	}

	return r.LinkType(), frames
}

var _ = Describe("PcapTracer", func() {
	var (
		dir    string
		engine *sim.SerialEngine
		nw     *network.Network
		ifaceA *network.Interface
		ifaceB *network.Interface
		tracer *PcapTracer
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		engine = sim.NewSerialEngine()
		nw = network.NewNetwork(engine)

		lan, err := nw.AddLink(network.LinkSpec{
			Name:     "lan",
			Kind:     network.LinkCSMA,
			DataRate: sim.Mbps,
		})
		Expect(err).NotTo(HaveOccurred())

		a, _ := nw.AddNode("a")
		b, _ := nw.AddNode("b")
		ifaceA, _ = nw.Connect(a, lan)
		ifaceB, _ = nw.Connect(b, lan)
		ifaceB.SetFrameSink(packet.NewQueueSink())

		tracer, err = NewPcapTracer(dir, "test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(tracer.Close()).To(Succeed())
	})

	It("should name files after the node and interface index", func() {
		Expect(PcapFileName("5gEmu", "Pgw", 2)).To(Equal("5gEmu-Pgw-2.pcap"))
	})

	It("should write sent and received frames", func() {
		Expect(tracer.CaptureAll(nw)).To(Succeed())
		Expect(tracer.Files()).To(Equal([]string{
			filepath.Join(dir, "test-a-1.pcap"),
			filepath.Join(dir, "test-b-1.pcap"),
		}))

		data := make([]byte, 60)
		copy(data, packet.BroadcastMAC)
		data[59] = 0x42
		Expect(ifaceA.Send(packet.NewFrame(data, 0))).To(BeTrue())
		Expect(engine.Run()).To(Succeed())

		Expect(tracer.Close()).To(Succeed())

		linkType, frames := readPcap(filepath.Join(dir, "test-a-1.pcap"))
		Expect(linkType).To(Equal(layers.LinkTypeEthernet))
		Expect(frames).To(Equal([][]byte{data}))

		_, frames = readPcap(filepath.Join(dir, "test-b-1.pcap"))
		Expect(frames).To(Equal([][]byte{data}))
	})

	It("should refuse to capture an interface twice", func() {
		Expect(tracer.Capture(ifaceA)).To(Succeed())
		Expect(tracer.Capture(ifaceA)).NotTo(Succeed())
	})

	It("should require a prefix", func() {
		_, err := NewPcapTracer(dir, "")
		Expect(err).To(HaveOccurred())
	})

	It("should ignore frames after closing", func() {
		Expect(tracer.Capture(ifaceA)).To(Succeed())
		Expect(tracer.Close()).To(Succeed())

		Expect(ifaceA.Send(packet.NewFrame(make([]byte, 60), 0))).To(BeTrue())
		Expect(engine.Run()).To(Succeed())
		Expect(tracer.Capture(ifaceB)).NotTo(Succeed())
	})
})
