package testutil

import (
	"math"
	"math/cmplx"
	"math/rand"
)

// DeterministicNoise generates white noise with a fixed seed for reproducibility.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// DeterministicComplexNoise generates complex white noise with independent
// uniform real and imaginary parts.
func DeterministicComplexNoise(seed int64, amplitude float64, length int) []complex128 {
	out := make([]complex128, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = complex((rng.Float64()*2-1)*amplitude, (rng.Float64()*2-1)*amplitude)
	}
	return out
}

// ComplexImpulse returns a time-domain filter of the given length with a
// single sample of value amp at pos.
func ComplexImpulse(length, pos int, amp complex128) []complex128 {
	out := make([]complex128, length)
	if pos >= 0 && pos < length {
		out[pos] = amp
	}
	return out
}

// DecayingFilter returns a causal time-domain filter starting at pos with an
// exponentially decaying envelope and deterministic random phases. The
// sample at pos is real.
func DecayingFilter(seed int64, length, pos int, decay float64) []complex128 {
	out := make([]complex128, length)
	rng := rand.New(rand.NewSource(seed))
	for k := 0; k < length/2; k++ {
		amp := float64(length) * math.Exp(-float64(k)/decay)
		phase := 0.0
		if k > 0 {
			phase = 2 * math.Pi * rng.Float64()
			amp *= 0.5
		}
		out[(pos+k)%length] = complex(amp, 0) * cmplx.Exp(complex(0, phase))
	}
	return out
}

// GaussianPulse returns a phase-domain profile of nbin samples containing
// a Gaussian pulse centred at phase centre (0..1) with the given width in
// phase units.
func GaussianPulse(nbin int, centre, width float64) []float64 {
	out := make([]float64, nbin)
	for i := range out {
		d := float64(i)/float64(nbin) - centre
		d -= math.Round(d)
		out[i] = math.Exp(-0.5 * d * d / (width * width))
	}
	return out
}

// TwoHarmonicProfile returns a harmonic profile of length nharm with only
// harmonics 1 and 2 set.
func TwoHarmonicProfile(nharm int, h1, h2 complex128) []complex128 {
	out := make([]complex128, nharm)
	if nharm > 1 {
		out[1] = h1
	}
	if nharm > 2 {
		out[2] = h2
	}
	return out
}
