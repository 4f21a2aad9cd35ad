package trafficgen

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TruncatedGaussianSampler", func() {
	It("should keep samples within the truncation range", func() {
		s := NewTruncatedGaussianSampler(0, 2, -1, 1, 1)

		for i := 0; i < 10000; i++ {
			x := s.Sample()
			Expect(x).To(BeNumerically(">=", -1))
			Expect(x).To(BeNumerically("<=", 1))
		}
	})

	It("should clamp when the mean is far outside the range", func() {
		s := NewTruncatedGaussianSampler(100, 0.001, -1, 1, 1)

		x := s.Sample()
		Expect(x).To(Equal(1.0))
	})

	It("should be deterministic for a fixed seed", func() {
		a := NewTruncatedGaussianSampler(5, 3, 0, 10, 42)
		b := NewTruncatedGaussianSampler(5, 3, 0, 10, 42)

		for i := 0; i < 100; i++ {
			Expect(a.Sample()).To(Equal(b.Sample()))
		}
	})
})

var _ = Describe("NoJitterSampler", func() {
	It("should always return zero", func() {
		s := &NoJitterSampler{}
		Expect(s.Sample()).To(Equal(0.0))
	})
})
