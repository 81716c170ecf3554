package cyclic

import (
	"errors"
	"fmt"
	"math/cmplx"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/dsp/support"
	"github.com/cwbudde/algo-cyclic/dsp/transform"
)

// ErrZeroFundamental is returned when a profile cannot be normalized
// because its first harmonic vanishes.
var ErrZeroFundamental = errors.New("cyclic: first harmonic of profile is zero")

// OptimalProfile returns the harmonic profile that minimizes the squared
// model residual against cs for the fixed filter hf:
//
//	s[h] = Σ_c cs·H₋·conj(H₊) / Σ_c |H₋|²·|H₊|²
//
// with sums over the valid channels of harmonic h. Harmonics whose
// denominator is not positive are set to zero.
func OptimalProfile(cs *mat.CDense, hf []complex128, bw, f0 float64) ([]complex128, error) {
	if cs == nil {
		return nil, fmt.Errorf("%w: nil spectrum", ErrShape)
	}
	nchan, nharm := cs.Dims()
	if len(hf) != nchan {
		return nil, fmt.Errorf("%w: filter length %d, spectrum has %d channels", ErrShape, len(hf), nchan)
	}

	geom, err := support.NewGeometry(nchan, nharm, bw, f0)
	if err != nil {
		return nil, fmt.Errorf("cyclic: %w", err)
	}

	plus, minus, _, err := shears(hf, nharm, bw, f0)
	if err != nil {
		return nil, err
	}

	src := cs.RawCMatrix()
	p := plus.RawCMatrix()
	m := minus.RawCMatrix()

	// Per-channel terms of both band sums; FScrunch restricts them to the
	// valid channels of each harmonic.
	numers := mat.NewCDense(nchan, nharm, nil)
	weights := mat.NewCDense(nchan, nharm, nil)
	nr := numers.RawCMatrix()
	wr := weights.RawCMatrix()

	re := make([]float64, nchan)
	im := make([]float64, nchan)
	powPlus := make([]float64, nchan)
	powMinus := make([]float64, nchan)
	weight := make([]float64, nchan)

	for h := 0; h < nharm; h++ {
		if geom.Count(h) <= 0 {
			continue
		}

		for c := 0; c < nchan; c++ {
			v := p.Data[c*p.Stride+h]
			re[c], im[c] = real(v), imag(v)
		}
		vecmath.Power(powPlus, re, im)
		for c := 0; c < nchan; c++ {
			v := m.Data[c*m.Stride+h]
			re[c], im[c] = real(v), imag(v)
		}
		vecmath.Power(powMinus, re, im)
		vecmath.MulBlock(weight, powPlus, powMinus)

		for c := 0; c < nchan; c++ {
			nr.Data[c*nr.Stride+h] = src.Data[c*src.Stride+h] * m.Data[c*m.Stride+h] * cmplx.Conj(p.Data[c*p.Stride+h])
			wr.Data[c*wr.Stride+h] = complex(weight[c], 0)
		}
	}

	numer, err := geom.FScrunch(numers)
	if err != nil {
		return nil, fmt.Errorf("cyclic: %w", err)
	}
	denom, err := geom.FScrunch(weights)
	if err != nil {
		return nil, fmt.Errorf("cyclic: %w", err)
	}

	out := make([]complex128, nharm)
	for h := range out {
		if d := real(denom[h]); d > 0 {
			out[h] = numer[h] / complex(d, 0)
		}
	}

	return out, nil
}

// NormalizeProfile returns ph scaled so that |ph[1]| = 1.
func NormalizeProfile(ph []complex128) ([]complex128, error) {
	if len(ph) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 harmonics, got %d", ErrShape, len(ph))
	}
	mag := cmplx.Abs(ph[1])
	if mag == 0 {
		return nil, ErrZeroFundamental
	}

	scale := complex(1/mag, 0)
	out := make([]complex128, len(ph))
	for i, v := range ph {
		out[i] = v * scale
	}
	return out, nil
}

// ReferenceHarmonics converts a phase profile to harmonics, normalizes the
// first harmonic to unit magnitude and zeroes the DC term.
func ReferenceHarmonics(pp []float64, conv transform.Convention) ([]complex128, error) {
	ph, err := transform.Phase2Harm(pp, conv)
	if err != nil {
		return nil, fmt.Errorf("cyclic: %w", err)
	}
	ph, err = NormalizeProfile(ph)
	if err != nil {
		return nil, err
	}
	ph[0] = 0
	return ph, nil
}

// NormalizePhaseProfile normalizes a phase profile through its harmonics
// and returns it in phase.
func NormalizePhaseProfile(pp []float64, conv transform.Convention) ([]float64, error) {
	ph, err := ReferenceHarmonics(pp, conv)
	if err != nil {
		return nil, err
	}
	out, err := transform.Harm2Phase(ph)
	if err != nil {
		return nil, fmt.Errorf("cyclic: %w", err)
	}
	return out, nil
}
