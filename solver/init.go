package solver

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/dsp/cyclic"
	"github.com/cwbudde/algo-cyclic/dsp/merit"
	"github.com/cwbudde/algo-cyclic/dsp/transform"
)

// minPhaseClip is the floor applied to the amplitude spectrum before its
// logarithm is taken.
const minPhaseClip = 1e-5

// PhaseGradientDelay estimates the filter delay in lags from the phase of
// the first harmonic summed over channels, relative to the reference
// profile harmonics ref. Delays beyond ±nchan/2 are clamped and negative
// delays wrap to the end of the lag axis.
func PhaseGradientDelay(cs *mat.CDense, ref []complex128, bw, f0 float64) (int, error) {
	nchan, nharm := cs.Dims()
	if nharm < 2 || len(ref) < 2 {
		return 0, fmt.Errorf("%w: need the first harmonic", ErrRange)
	}
	if ref[1] == 0 {
		return 0, cyclic.ErrZeroFundamental
	}

	var sum complex128
	for c := 0; c < nchan; c++ {
		sum += cs.At(c, 1)
	}
	sum /= ref[1]

	angle := cmplx.Phase(sum)
	delay := angle / (-2 * math.Pi * f0) * 1e6 * bw

	half := nchan / 2
	switch {
	case delay > float64(half):
		return half, nil
	case delay < -float64(half):
		return half + 1, nil
	case delay < -0.1:
		return int(delay) + nchan - 1, nil
	default:
		return int(delay), nil
	}
}

// MinimumPhase returns the frequency response of the minimum-phase filter
// whose amplitude is v, reconstructed through the folded real cepstrum.
// Values with magnitude below 1e-5 are clipped to it. A spectrum with
// non-finite or negative values, or one lying entirely below the clip
// level, returns ErrInvalidSpectrum.
func MinimumPhase(v []float64) ([]complex128, error) {
	if len(v) < 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidSpectrum, len(v))
	}

	logv := make([]complex128, len(v))
	above := false
	for i, x := range v {
		switch {
		case math.IsNaN(x) || math.IsInf(x, 0):
			return nil, fmt.Errorf("%w: channel %d is %g", ErrInvalidSpectrum, i, x)
		case math.Abs(x) < minPhaseClip:
			x = minPhaseClip
		case x < 0:
			return nil, fmt.Errorf("%w: channel %d is negative", ErrInvalidSpectrum, i)
		default:
			above = true
		}
		logv[i] = complex(math.Log(x), 0)
	}
	if !above {
		return nil, fmt.Errorf("%w: every channel below %g", ErrInvalidSpectrum, minPhaseClip)
	}

	cep, err := transform.IFFT(logv)
	if err != nil {
		return nil, err
	}
	spec, err := transform.FFT(foldCepstrum(cep))
	if err != nil {
		return nil, err
	}
	for i, s := range spec {
		spec[i] = cmplx.Exp(s)
	}
	return spec, nil
}

// foldCepstrum reflects the negative-quefrency half of a cepstrum onto the
// positive half.
func foldCepstrum(v []complex128) []complex128 {
	n := len(v)
	nt := n / 2
	out := make([]complex128, n)
	out[0] = v[0]
	for j := 0; j < nt; j++ {
		var s complex128
		if j < nt-1 {
			s = v[j+1]
		}
		out[1+j] = s + cmplx.Conj(v[n-1-j])
	}
	return out
}

// Delta returns a lag-domain impulse of amplitude n at lag pos.
func Delta(n, pos int) []complex128 {
	ht := make([]complex128, n)
	ht[((pos%n)+n)%n] = complex(float64(n), 0)
	return ht
}

// Roll shifts v circularly by k places: out[(i+k) mod n] = v[i].
func Roll(v []complex128, k int) []complex128 {
	n := len(v)
	out := make([]complex128, n)
	if n == 0 {
		return out
	}
	k = ((k % n) + n) % n
	copy(out[k:], v[:n-k])
	copy(out[:k], v[n-k:])
	return out
}

// MatchFilters returns hf2 rotated to the global phase of hf1 and scaled
// so that Σ|hf|² = n. If hf1 and hf2 are orthogonal the phase is left
// alone; a zero hf2 is returned unchanged.
func MatchFilters(hf1, hf2 []complex128) []complex128 {
	out := append([]complex128(nil), hf2...)

	var z complex128
	var power float64
	for i, v := range hf2 {
		z += hf1[i] * cmplx.Conj(v)
		power += real(v)*real(v) + imag(v)*imag(v)
	}
	if power == 0 {
		return out
	}

	rot := complex(1, 0)
	if a := cmplx.Abs(z); a > 0 {
		rot = z / complex(a, 0)
	}
	rot *= complex(math.Sqrt(float64(len(hf2))/power), 0)
	for i := range out {
		out[i] *= rot
	}
	return out
}

// PeakLag returns the lag of largest magnitude.
func PeakLag(ht []complex128) int {
	mag := make([]float64, len(ht))
	for i, v := range ht {
		mag[i] = cmplx.Abs(v)
	}
	return floats.MaxIdx(mag)
}

// alignPhase rotates ht so that ht[rindex] is real and non-negative.
func alignPhase(ht []complex128, rindex int) []complex128 {
	out := append([]complex128(nil), ht...)
	a := cmplx.Abs(ht[rindex])
	if a == 0 {
		return out
	}
	rot := cmplx.Conj(ht[rindex]) / complex(a, 0)
	for i := range out {
		out[i] *= rot
	}
	return out
}

// supportMask returns which lags are free under a support window of
// length lags starting maxNeg lags before rindex, wrapping around.
func supportMask(nchan, rindex, maxNeg, length int) []bool {
	free := make([]bool, nchan)
	length = min(length, nchan)
	start := rindex - maxNeg
	for i := 0; i < length; i++ {
		free[((start+i)%nchan+nchan)%nchan] = true
	}
	return free
}

// freeParams lists the parameter indices left to the optimizer when only
// the lags in mask may vary. A nil mask frees every parameter.
func freeParams(mask []bool, rindex int) []int {
	n := len(mask)
	var idx []int
	for l := 0; l < n; l++ {
		if !mask[l] {
			continue
		}
		re, im := merit.ParamIndex(l, rindex)
		idx = append(idx, re)
		if im >= 0 {
			idx = append(idx, im)
		}
	}
	return idx
}
