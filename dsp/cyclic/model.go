// Package cyclic builds the bilinear forward model of a cyclic spectrum and
// solves for the intrinsic profile that best explains a measurement for a
// fixed filter.
//
// For filter H and harmonic profile s the model is
//
//	M[c,h] = s[h] · H₊[c,h] · conj(H₋[c,h])
//
// where H± is the filter sheared by ±half a harmonic, with channels outside
// the valid band of each harmonic set to zero.
package cyclic

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/dsp/shear"
	"github.com/cwbudde/algo-cyclic/dsp/support"
	"github.com/cwbudde/algo-cyclic/dsp/transform"
)

// ErrShape is returned when filter, profile and spectrum sizes disagree.
var ErrShape = errors.New("cyclic: shape mismatch")

// Model holds a predicted cyclic spectrum and the intermediate shears the
// gradient reuses.
type Model struct {
	CS          *mat.CDense // predicted spectrum, padded
	Plus        *mat.CDense // filter sheared by +0.5
	Minus       *mat.CDense // filter sheared by −0.5
	MinusPhases *mat.Dense  // lag-domain phases of the −0.5 shear
}

// shears returns the ±0.5 shears of hf repeated over nharm harmonics.
func shears(hf []complex128, nharm int, bw, f0 float64) (plus, minus *mat.CDense, minusPhases *mat.Dense, err error) {
	plus, _, err = shear.Broadcast(hf, nharm, 0.5, bw, f0)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cyclic: plus shear: %w", err)
	}
	minus, minusPhases, err = shear.Broadcast(hf, nharm, -0.5, bw, f0)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("cyclic: minus shear: %w", err)
	}
	return plus, minus, minusPhases, nil
}

// BuildModel predicts the cyclic spectrum of frequency-domain filter hf
// (length nchan) and harmonic profile (length nharm).
func BuildModel(hf, profile []complex128, bw, f0 float64) (Model, error) {
	nchan, nharm := len(hf), len(profile)
	if nchan == 0 || nharm == 0 {
		return Model{}, fmt.Errorf("%w: filter %d, profile %d", ErrShape, nchan, nharm)
	}

	geom, err := support.NewGeometry(nchan, nharm, bw, f0)
	if err != nil {
		return Model{}, fmt.Errorf("cyclic: %w", err)
	}

	plus, minus, minusPhases, err := shears(hf, nharm, bw, f0)
	if err != nil {
		return Model{}, err
	}

	cs := mat.NewCDense(nchan, nharm, nil)
	dst := cs.RawCMatrix()
	p := plus.RawCMatrix()
	m := minus.RawCMatrix()
	for c := 0; c < nchan; c++ {
		for h, s := range profile {
			dst.Data[c*dst.Stride+h] = s * p.Data[c*p.Stride+h] * cmplx.Conj(m.Data[c*m.Stride+h])
		}
	}

	if err := geom.Pad(cs); err != nil {
		return Model{}, fmt.Errorf("cyclic: %w", err)
	}

	return Model{CS: cs, Plus: plus, Minus: minus, MinusPhases: minusPhases}, nil
}

// BuildModelTime is BuildModel for a lag-domain filter.
func BuildModelTime(ht, profile []complex128, bw, f0 float64) (Model, error) {
	hf, err := transform.Time2Freq(ht)
	if err != nil {
		return Model{}, fmt.Errorf("cyclic: %w", err)
	}
	return BuildModel(hf, profile, bw, f0)
}
