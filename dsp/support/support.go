// Package support computes the non-aliased channel band of every harmonic
// of a cyclic spectrum and the operations that depend on it: padding,
// frequency scrunching, band rms, normalization and noise variance.
//
// For harmonic h the Doppler shift h·f0 smears each channel over
// h·f0·nchan/bw channels, so only a symmetric band in the middle of the
// spectrum carries valid signal:
//
//	x = (f0·nchan·h/(bw·1e6) − 1) / 2
//	c = trunc(x) + 1, clamped to nchan/2
//	valid channels: [c, nchan−c)
package support

import (
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/internal/cmat"
)

// Errors returned by support functions.
var (
	ErrInvalidGeometry = errors.New("support: channel count, harmonic count, bandwidth and folding frequency must be positive")
	ErrShape           = errors.New("support: cyclic spectrum shape does not match geometry")
	ErrNoValidChannels = errors.New("support: harmonic has no valid channels")
	ErrDegenerateNorm  = errors.New("support: normalization factor is zero")
)

// ValidRange returns the half-open channel range [lo, hi) that can hold
// valid signal for the given harmonic. bandwidth is in MHz and refFreq (the
// folding frequency) in Hz. The range is symmetric: hi = nchan − lo with
// 0 ≤ lo ≤ nchan/2.
func ValidRange(harmonic, nchan int, bandwidth, refFreq float64) (lo, hi int) {
	x := refFreq * float64(nchan)
	x *= float64(harmonic) / (bandwidth * 1e6)
	x -= 1
	x /= 2

	lo = int(x) + 1
	if lo > nchan/2 {
		lo = nchan / 2
	}

	return lo, nchan - lo
}

// Geometry caches the valid ranges for a fixed cyclic spectrum shape.
type Geometry struct {
	NChan     int
	NHarm     int
	Bandwidth float64 // MHz
	RefFreq   float64 // Hz

	lo []int
}

// NewGeometry returns the geometry of an nchan × nharm cyclic spectrum.
func NewGeometry(nchan, nharm int, bandwidth, refFreq float64) (*Geometry, error) {
	if nchan <= 0 || nharm <= 0 || bandwidth <= 0 || refFreq <= 0 {
		return nil, fmt.Errorf("%w: nchan=%d nharm=%d bw=%g f0=%g", ErrInvalidGeometry, nchan, nharm, bandwidth, refFreq)
	}

	g := &Geometry{
		NChan:     nchan,
		NHarm:     nharm,
		Bandwidth: bandwidth,
		RefFreq:   refFreq,
		lo:        make([]int, nharm),
	}
	for h := range g.lo {
		g.lo[h], _ = ValidRange(h, nchan, bandwidth, refFreq)
	}

	return g, nil
}

// GeometryOf returns the geometry matching the dimensions of cs.
func GeometryOf(cs *mat.CDense, bandwidth, refFreq float64) (*Geometry, error) {
	if cs == nil {
		return nil, ErrShape
	}
	r, c := cs.Dims()
	return NewGeometry(r, c, bandwidth, refFreq)
}

// Range returns the valid channel range [lo, hi) of harmonic h.
func (g *Geometry) Range(h int) (lo, hi int) {
	return g.lo[h], g.NChan - g.lo[h]
}

// Count returns the number of valid channels of harmonic h.
func (g *Geometry) Count(h int) int {
	lo, hi := g.Range(h)
	return hi - lo
}

func (g *Geometry) check(cs *mat.CDense) error {
	if cs == nil {
		return ErrShape
	}
	r, c := cs.Dims()
	if r != g.NChan || c != g.NHarm {
		return fmt.Errorf("%w: got %d×%d, want %d×%d", ErrShape, r, c, g.NChan, g.NHarm)
	}
	return nil
}

// Pad zeroes every entry of cs outside its harmonic's valid range, in place.
// Padding is idempotent.
func (g *Geometry) Pad(cs *mat.CDense) error {
	if err := g.check(cs); err != nil {
		return err
	}

	raw := cs.RawCMatrix()
	for h := 0; h < g.NHarm; h++ {
		lo, hi := g.Range(h)
		for c := 0; c < lo; c++ {
			raw.Data[c*raw.Stride+h] = 0
		}
		for c := hi; c < g.NChan; c++ {
			raw.Data[c*raw.Stride+h] = 0
		}
	}

	return nil
}

// FScrunch sums each harmonic over its valid channels. The result equals
// summing a padded copy of cs over all channels.
func (g *Geometry) FScrunch(cs *mat.CDense) ([]complex128, error) {
	if err := g.check(cs); err != nil {
		return nil, err
	}

	raw := cs.RawCMatrix()
	out := make([]complex128, g.NHarm)
	for h := range out {
		lo, hi := g.Range(h)
		var sum complex128
		for c := lo; c < hi; c++ {
			sum += raw.Data[c*raw.Stride+h]
		}
		out[h] = sum
	}

	return out, nil
}

// bandPower returns Σ|cs[c,h]|² over the valid channels of harmonic h.
func (g *Geometry) bandPower(cs *mat.CDense, h int) float64 {
	lo, hi := g.Range(h)
	n := hi - lo
	if n <= 0 {
		return 0
	}

	raw := cs.RawCMatrix()
	re := make([]float64, n)
	im := make([]float64, n)
	for i := range re {
		v := raw.Data[(lo+i)*raw.Stride+h]
		re[i] = real(v)
		im[i] = imag(v)
	}

	pow := make([]float64, n)
	vecmath.Power(pow, re, im)

	return floats.Sum(pow)
}

// RMS returns the rms magnitude of harmonic h over its valid channels.
func (g *Geometry) RMS(cs *mat.CDense, h int) (float64, error) {
	if err := g.check(cs); err != nil {
		return 0, err
	}
	n := g.Count(h)
	if n <= 0 {
		return 0, fmt.Errorf("%w: harmonic %d", ErrNoValidChannels, h)
	}
	return math.Sqrt(g.bandPower(cs, h) / float64(n)), nil
}

// NormalizeCS returns cs divided by sqrt(|rms₁² − rmsₙ²|), where rms₁ is the
// band rms of the first harmonic and rmsₙ that of the last. The last
// harmonic is dominated by noise, so the factor estimates the signal rms.
func (g *Geometry) NormalizeCS(cs *mat.CDense) (*mat.CDense, error) {
	if g.NHarm < 2 {
		return nil, fmt.Errorf("%w: need at least 2 harmonics", ErrShape)
	}

	rms1, err := g.RMS(cs, 1)
	if err != nil {
		return nil, err
	}
	rmsn, err := g.RMS(cs, g.NHarm-1)
	if err != nil {
		return nil, err
	}

	norm := math.Sqrt(math.Abs(rms1*rms1 - rmsn*rmsn))
	if norm == 0 || math.IsNaN(norm) {
		return nil, ErrDegenerateNorm
	}

	out := cmat.Clone(cs)
	cmat.Scale(out, complex(1/norm, 0))

	return out, nil
}

// Variance estimates the per-sample noise variance from the last harmonic
// and counts the valid real samples (two per complex entry) over harmonics
// 1..nharm−1. The DC harmonic carries no information and is excluded.
func (g *Geometry) Variance(cs *mat.CDense) (variance float64, nvalid int, err error) {
	if err := g.check(cs); err != nil {
		return 0, 0, err
	}
	if g.NHarm < 2 {
		return 0, 0, fmt.Errorf("%w: need at least 2 harmonics", ErrShape)
	}

	last := g.NHarm - 1
	n := g.Count(last)
	if n <= 0 {
		return 0, 0, fmt.Errorf("%w: harmonic %d", ErrNoValidChannels, last)
	}

	variance = g.bandPower(cs, last) / float64(n)
	for h := 1; h < last; h++ {
		n += g.Count(h)
	}

	return variance, 2 * n, nil
}
