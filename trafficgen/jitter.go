package trafficgen

import "math/rand"

// maxRejectionAttempts bounds the rejection sampling in the truncated
// Gaussian so that drawing a sample never loops forever.
const maxRejectionAttempts = 1000

// A JitterSampler draws the jitter, in milliseconds, added to one
// inter-frame interval.
type JitterSampler interface {
	// Sample returns one jitter value in milliseconds.
	Sample() float64
}

// A NoJitterSampler always returns zero jitter.
type NoJitterSampler struct{}

// Sample always returns 0.
func (s *NoJitterSampler) Sample() float64 {
	return 0
}

// A TruncatedGaussianSampler draws Gaussian jitter restricted to
// [Min, Max]. Samples outside the range are redrawn; if the bound on
// redraw attempts is exhausted the sample is clamped to the range.
type TruncatedGaussianSampler struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64

	rng *rand.Rand
}

// NewTruncatedGaussianSampler creates a TruncatedGaussianSampler with a
// deterministic random source.
func NewTruncatedGaussianSampler(
	mean, std, min, max float64,
	seed int64,
) *TruncatedGaussianSampler {
	return &TruncatedGaussianSampler{
		Mean: mean,
		Std:  std,
		Min:  min,
		Max:  max,
		rng:  rand.New(rand.NewSource(seed)),
	}
}

// Sample returns one jitter value in milliseconds, always within
// [Min, Max].
func (s *TruncatedGaussianSampler) Sample() float64 {
	x := s.rng.NormFloat64()*s.Std + s.Mean

	for attempts := 0; (x < s.Min || x > s.Max) &&
		attempts < maxRejectionAttempts; attempts++ {
		x = s.rng.NormFloat64()*s.Std + s.Mean
	}

	if x < s.Min {
		x = s.Min
	}
	if x > s.Max {
		x = s.Max
	}

	return x
}
