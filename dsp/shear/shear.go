// Package shear applies fractional-harmonic frequency shifts to cyclic
// spectra through phase ramps in the lag domain.
//
// For lag l and harmonic h the ramp is
//
//	φ[l,h] = amount · (−2π) · τ(l) · h·f0,   τ(l) = LagOf(l, n) / (bw·1e6)
//
// The forward model uses amount = ±0.5. The phases of the −0.5 shear are
// returned so the gradient can reuse them.
package shear

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/dsp/transform"
)

// ErrInvalidInput is returned for empty inputs or non-positive bandwidth
// or folding frequency.
var ErrInvalidInput = errors.New("shear: invalid input")

// LagOf maps array index l of an n-point lag axis to a signed lag. Indices
// above n/2 wrap to negative lags.
func LagOf(l, n int) int {
	if l > n/2 {
		return l - n
	}
	return l
}

// Phases returns the nlag × nharm phase ramp for the given shear amount.
// bandwidth is in MHz and refFreq in Hz.
func Phases(nlag, nharm int, amount, bandwidth, refFreq float64) *mat.Dense {
	dtau := 1 / (bandwidth * 1e6)
	out := mat.NewDense(nlag, nharm, nil)
	raw := out.RawMatrix()
	for l := 0; l < nlag; l++ {
		tau := dtau * float64(LagOf(l, nlag))
		row := raw.Data[l*raw.Stride : l*raw.Stride+nharm]
		for h := range row {
			row[h] = amount * (-2 * math.Pi) * tau * refFreq * float64(h)
		}
	}
	return out
}

func validate(nchan, nharm int, bandwidth, refFreq float64) error {
	if nchan == 0 || nharm == 0 {
		return fmt.Errorf("%w: empty array", ErrInvalidInput)
	}
	if bandwidth <= 0 || refFreq <= 0 {
		return fmt.Errorf("%w: bw=%g f0=%g", ErrInvalidInput, bandwidth, refFreq)
	}
	return nil
}

// Shear converts cs (channel × harmonic) to the lag domain, multiplies by
// exp(i·φ) and converts back. It returns the sheared spectrum and φ.
func Shear(cs *mat.CDense, amount, bandwidth, refFreq float64) (*mat.CDense, *mat.Dense, error) {
	if cs == nil {
		return nil, nil, fmt.Errorf("%w: nil spectrum", ErrInvalidInput)
	}
	nlag, nharm := cs.Dims()
	if err := validate(nlag, nharm, bandwidth, refFreq); err != nil {
		return nil, nil, err
	}

	cc, err := transform.CS2CC(cs)
	if err != nil {
		return nil, nil, fmt.Errorf("shear: %w", err)
	}

	phases := Phases(nlag, nharm, amount, bandwidth, refFreq)
	rotate(cc, phases)

	out, err := transform.CC2CS(cc)
	if err != nil {
		return nil, nil, fmt.Errorf("shear: %w", err)
	}

	return out, phases, nil
}

// Broadcast shears a frequency-domain filter repeated across nharm
// harmonics. The result equals Shear applied to the repeated matrix, but
// the filter is taken to the lag domain only once.
func Broadcast(hf []complex128, nharm int, amount, bandwidth, refFreq float64) (*mat.CDense, *mat.Dense, error) {
	nlag := len(hf)
	if err := validate(nlag, nharm, bandwidth, refFreq); err != nil {
		return nil, nil, err
	}

	ht, err := transform.Freq2Time(hf)
	if err != nil {
		return nil, nil, fmt.Errorf("shear: %w", err)
	}

	cc := mat.NewCDense(nlag, nharm, nil)
	raw := cc.RawCMatrix()
	for l, v := range ht {
		row := raw.Data[l*raw.Stride : l*raw.Stride+nharm]
		for h := range row {
			row[h] = v
		}
	}

	phases := Phases(nlag, nharm, amount, bandwidth, refFreq)
	rotate(cc, phases)

	out, err := transform.CC2CS(cc)
	if err != nil {
		return nil, nil, fmt.Errorf("shear: %w", err)
	}

	return out, phases, nil
}

// rotate multiplies cc element-wise by exp(i·phases) in place.
func rotate(cc *mat.CDense, phases *mat.Dense) {
	r, c := cc.Dims()
	dst := cc.RawCMatrix()
	ph := phases.RawMatrix()
	for l := 0; l < r; l++ {
		for h := 0; h < c; h++ {
			sin, cos := math.Sincos(ph.Data[l*ph.Stride+h])
			dst.Data[l*dst.Stride+h] *= complex(cos, sin)
		}
	}
}
