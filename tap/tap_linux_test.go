//go:build linux

package tap

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LinuxOpener", func() {
	It("should reject invalid device names", func() {
		_, err := LinuxOpener{}.Open("")
		Expect(err).To(HaveOccurred())

		_, err = LinuxOpener{}.Open("a-name-that-is-far-too-long")
		Expect(err).To(HaveOccurred())
	})

	It("should not create missing devices", func() {
		_, err := LinuxOpener{}.Open("tbnotthere0")
		Expect(err).To(HaveOccurred())
	})
})
