// Package archive holds folded pulsar observations (periodic spectra) and
// the preprocessing applied before cyclic filter fitting.
package archive

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Errors returned by archive functions.
var (
	ErrShapeMismatch = errors.New("archive: observation shapes differ")
	ErrInvalid       = errors.New("archive: invalid observation")
	ErrRange         = errors.New("archive: argument out of range")
)

// Epoch is a modified Julian date split into day and fraction.
type Epoch struct {
	Day  int     `yaml:"day"`
	Frac float64 `yaml:"frac"`
}

// MJD returns the epoch as a single number.
func (e Epoch) MJD() float64 { return float64(e.Day) + e.Frac }

// Observation is a set of periodic spectra indexed by subintegration and
// polarization. Every spectrum is NChan × NBin.
type Observation struct {
	Data [][]*mat.Dense // [subint][pol]

	NChan, NBin, NPol, NSub int

	Bandwidth  float64 // MHz
	RefFreq    float64 // folding frequency, Hz
	CentreFreq float64 // MHz
	Source     string
	Epoch      Epoch
}

// Loader reads an observation from storage.
type Loader interface {
	Load(ctx context.Context, path string) (*Observation, error)
}

// Validate checks that the dimensions agree with the data.
func (o *Observation) Validate() error {
	if o.NChan <= 0 || o.NBin <= 0 || o.NPol <= 0 || o.NSub <= 0 {
		return fmt.Errorf("%w: dimensions %d×%d×%d×%d", ErrInvalid, o.NSub, o.NPol, o.NChan, o.NBin)
	}
	if o.NBin%2 != 0 {
		return fmt.Errorf("%w: phase bin count %d is odd", ErrInvalid, o.NBin)
	}
	if o.Bandwidth <= 0 || o.RefFreq <= 0 {
		return fmt.Errorf("%w: bandwidth %g MHz, folding frequency %g Hz", ErrInvalid, o.Bandwidth, o.RefFreq)
	}
	if len(o.Data) != o.NSub {
		return fmt.Errorf("%w: %d subintegrations, want %d", ErrInvalid, len(o.Data), o.NSub)
	}
	for i, sub := range o.Data {
		if len(sub) != o.NPol {
			return fmt.Errorf("%w: subintegration %d has %d polarizations, want %d", ErrInvalid, i, len(sub), o.NPol)
		}
		for p, ps := range sub {
			if ps == nil {
				return fmt.Errorf("%w: spectrum %d/%d missing", ErrInvalid, i, p)
			}
			if r, c := ps.Dims(); r != o.NChan || c != o.NBin {
				return fmt.Errorf("%w: spectrum %d/%d is %d×%d, want %d×%d", ErrInvalid, i, p, r, c, o.NChan, o.NBin)
			}
		}
	}
	return nil
}

// Spectrum returns the periodic spectrum of one subintegration and
// polarization.
func (o *Observation) Spectrum(isub, ipol int) (*mat.Dense, error) {
	if isub < 0 || isub >= o.NSub || ipol < 0 || ipol >= o.NPol {
		return nil, fmt.Errorf("%w: subintegration %d, polarization %d", ErrRange, isub, ipol)
	}
	return o.Data[isub][ipol], nil
}

// each calls fn for every spectrum.
func (o *Observation) each(fn func(ps *mat.Dense)) {
	for _, sub := range o.Data {
		for _, ps := range sub {
			fn(ps)
		}
	}
}

// NormalizeOffPulse divides every channel by the mean absolute value of its
// off-pulse bins [start, end). Channels with a zero off-pulse level are
// left unchanged.
func (o *Observation) NormalizeOffPulse(start, end int) error {
	if start < 0 || end > o.NBin || start >= end {
		return fmt.Errorf("%w: off-pulse window [%d, %d) with %d bins", ErrRange, start, end, o.NBin)
	}
	buf := make([]float64, end-start)
	o.each(func(ps *mat.Dense) {
		raw := ps.RawMatrix()
		for c := 0; c < o.NChan; c++ {
			row := raw.Data[c*raw.Stride : c*raw.Stride+o.NBin]
			for i, v := range row[start:end] {
				buf[i] = math.Abs(v)
			}
			level := floats.Sum(buf) / float64(len(buf))
			if level == 0 {
				continue
			}
			floats.Scale(1/level, row)
		}
	})
	return nil
}

// MaxChan keeps the first n channels and scales the bandwidth to match.
func (o *Observation) MaxChan(n int) error {
	if n <= 0 || n > o.NChan {
		return fmt.Errorf("%w: maxchan %d with %d channels", ErrRange, n, o.NChan)
	}
	if n == o.NChan {
		return nil
	}
	for _, sub := range o.Data {
		for p, ps := range sub {
			out := mat.NewDense(n, o.NBin, nil)
			out.Copy(ps.Slice(0, n, 0, o.NBin))
			sub[p] = out
		}
	}
	o.Bandwidth *= float64(n) / float64(o.NChan)
	o.NChan = n
	return nil
}

// TScrunch averages blocks of factor consecutive subintegrations. Trailing
// subintegrations that do not fill a block are dropped.
func (o *Observation) TScrunch(factor int) error {
	if factor <= 0 || factor > o.NSub {
		return fmt.Errorf("%w: tscrunch factor %d with %d subintegrations", ErrRange, factor, o.NSub)
	}
	if factor == 1 {
		return nil
	}

	nsub := o.NSub / factor
	data := make([][]*mat.Dense, nsub)
	for i := range data {
		data[i] = make([]*mat.Dense, o.NPol)
		for p := range data[i] {
			sum := mat.NewDense(o.NChan, o.NBin, nil)
			for k := 0; k < factor; k++ {
				sum.Add(sum, o.Data[i*factor+k][p])
			}
			sum.Scale(1/float64(factor), sum)
			data[i][p] = sum
		}
	}
	o.Data = data
	o.NSub = nsub
	return nil
}

// PScrunch sums all polarizations into one.
func (o *Observation) PScrunch() {
	if o.NPol == 1 {
		return
	}
	for i, sub := range o.Data {
		sum := mat.NewDense(o.NChan, o.NBin, nil)
		for _, ps := range sub {
			sum.Add(sum, ps)
		}
		o.Data[i] = []*mat.Dense{sum}
	}
	o.NPol = 1
}

// ZapEdges zeroes round(fraction·nchan) channels at both band edges.
func (o *Observation) ZapEdges(fraction float64) error {
	if fraction < 0 || fraction >= 0.5 {
		return fmt.Errorf("%w: edge fraction %g", ErrRange, fraction)
	}
	n := int(math.Round(fraction * float64(o.NChan)))
	if n == 0 {
		return nil
	}
	o.each(func(ps *mat.Dense) {
		raw := ps.RawMatrix()
		for c := 0; c < n; c++ {
			clear(raw.Data[c*raw.Stride : c*raw.Stride+o.NBin])
			hi := o.NChan - 1 - c
			clear(raw.Data[hi*raw.Stride : hi*raw.Stride+o.NBin])
		}
	})
	return nil
}

// Append adds the subintegrations of other. Channel, bin and polarization
// counts must agree.
func (o *Observation) Append(other *Observation) error {
	if other.NChan != o.NChan || other.NBin != o.NBin || other.NPol != o.NPol {
		return fmt.Errorf("%w: %d×%d×%d vs %d×%d×%d (pol×chan×bin)",
			ErrShapeMismatch, o.NPol, o.NChan, o.NBin, other.NPol, other.NChan, other.NBin)
	}
	o.Data = append(o.Data, other.Data...)
	o.NSub += other.NSub
	return nil
}

// MeanOnPulseSpectrum returns, per channel, the mean absolute value over
// the phase bins [start, end) of one spectrum.
func (o *Observation) MeanOnPulseSpectrum(isub, ipol, start, end int) ([]float64, error) {
	ps, err := o.Spectrum(isub, ipol)
	if err != nil {
		return nil, err
	}
	if start < 0 || end > o.NBin || start >= end {
		return nil, fmt.Errorf("%w: on-pulse window [%d, %d) with %d bins", ErrRange, start, end, o.NBin)
	}
	out := make([]float64, o.NChan)
	for c := range out {
		var sum float64
		for b := start; b < end; b++ {
			sum += math.Abs(ps.At(c, b))
		}
		out[c] = sum / float64(end-start)
	}
	return out, nil
}
