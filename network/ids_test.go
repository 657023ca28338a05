package network

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/tapbridge/sim"
)

var _ = Describe("Node IDs", func() {
	It("should number the nodes of each network from 1", func() {
		for i := 0; i < 2; i++ {
			nw := NewNetwork(sim.NewSerialEngine())

			a, err := nw.AddNode("a")
			Expect(err).NotTo(HaveOccurred())
			b, err := nw.AddNode("b")
			Expect(err).NotTo(HaveOccurred())

			Expect(a.ID()).To(Equal("1"))
			Expect(b.ID()).To(Equal("2"))
		}
	})

	It("should use the generator it is given", func() {
		nw := NewNetwork(sim.NewSerialEngine())
		nw.SetIDGenerator(sim.NewParallelIDGenerator())

		a, _ := nw.AddNode("a")
		b, _ := nw.AddNode("b")

		Expect(a.ID()).To(HaveLen(20))
		Expect(a.ID()).NotTo(Equal(b.ID()))
	})

	It("should refuse a new generator once nodes exist", func() {
		nw := NewNetwork(sim.NewSerialEngine())
		_, _ = nw.AddNode("a")

		Expect(func() {
			nw.SetIDGenerator(sim.NewSequentialIDGenerator())
		}).To(Panic())
	})
})
