package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("IDGenerator", func() {
	It("should count each sequential generator on its own", func() {
		g1 := NewSequentialIDGenerator()
		g2 := NewSequentialIDGenerator()

		Expect(g1.Generate()).To(Equal("1"))
		Expect(g1.Generate()).To(Equal("2"))
		Expect(g2.Generate()).To(Equal("1"))
	})

	It("should give events unique IDs", func() {
		e1 := NewEventBase(1, nil)
		e2 := NewEventBase(1, nil)

		Expect(e1.ID).NotTo(BeEmpty())
		Expect(e1.ID).NotTo(Equal(e2.ID))
	})
})
