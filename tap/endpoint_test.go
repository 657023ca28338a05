package tap

import (
	"time"

	"github.com/pkg/errors"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/tapbridge/packet"
)

var _ = Describe("Endpoint", func() {
	var (
		host *MemoryHost
	)

	BeforeEach(func() {
		host = NewMemoryHost()
	})

	open := func(name string) *Endpoint {
		dev, err := host.Open(name)
		Expect(err).NotTo(HaveOccurred())
		return NewEndpoint(dev)
	}

	It("should reproduce frames exactly on a loopback device", func() {
		host.CreateLoopback("tap-loop")
		ep := open("tap-loop")

		sizes := []int{1, 14, 60, 1514, 9000}
		for _, size := range sizes {
			data := make([]byte, size)
			for i := range data {
				data[i] = byte(i*7 + size)
			}

			Expect(ep.Send(packet.NewFrame(data, 0))).To(Succeed())

			f, err := ep.ReceiveBlocking()
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Bytes()).To(Equal(data))
		}

		stats := ep.Stats()
		Expect(stats.TxPackets).To(Equal(uint64(len(sizes))))
		Expect(stats.RxPackets).To(Equal(uint64(len(sizes))))
		Expect(stats.RxBytes).To(Equal(stats.TxBytes))
	})

	It("should receive injected frames in order", func() {
		port := host.CreateDevice("tap-left")
		ep := open("tap-left")

		for i := 0; i < 10; i++ {
			port.Inject([]byte{byte(i), 0xaa})
		}

		for i := 0; i < 10; i++ {
			f, err := ep.ReceiveBlocking()
			Expect(err).NotTo(HaveOccurred())
			Expect(f.Bytes()).To(Equal([]byte{byte(i), 0xaa}))
		}
	})

	It("should deliver sent frames to the host side", func() {
		port := host.CreateDevice("tap-left")
		ep := open("tap-left")

		Expect(ep.Send(packet.NewFrame([]byte{1, 2, 3}, 0))).To(Succeed())

		data, ok := port.Read(time.Second)
		Expect(ok).To(BeTrue())
		Expect(data).To(Equal([]byte{1, 2, 3}))
	})

	It("should unblock a pending receive on close", func() {
		host.CreateDevice("tap-left")
		ep := open("tap-left")

		errs := make(chan error, 1)
		go func() {
			_, err := ep.ReceiveBlocking()
			errs <- err
		}()

		Consistently(errs, 20*time.Millisecond).ShouldNot(Receive())

		Expect(ep.Close()).To(Succeed())
		Eventually(errs).Should(Receive(MatchError(ErrClosed)))
		Expect(ep.IsClosed()).To(BeTrue())
	})

	It("should fail sends after close and close only once", func() {
		host.CreateDevice("tap-left")
		ep := open("tap-left")

		Expect(ep.Close()).To(Succeed())
		Expect(ep.Close()).To(Succeed())
		Expect(ep.Send(packet.NewFrame([]byte{1}, 0))).To(MatchError(ErrClosed))

		_, err := ep.ReceiveBlocking()
		Expect(err).To(MatchError(ErrClosed))
	})

	It("should wrap device read errors", func() {
		port := host.CreateDevice("tap-left")
		ep := open("tap-left")
		cause := errors.New("link down")

		port.InjectError(cause)

		_, err := ep.ReceiveBlocking()
		Expect(errors.Is(err, cause)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("read from tap-left"))
	})

	It("should wrap device write errors", func() {
		port := host.CreateDevice("tap-left")
		ep := open("tap-left")
		cause := errors.New("no buffer space")

		port.FailWrites(cause)

		err := ep.Send(packet.NewFrame([]byte{1}, 0))
		Expect(errors.Is(err, cause)).To(BeTrue())
	})
})
