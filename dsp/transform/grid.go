package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PS2CS converts a periodic spectrum (nchan × nbin) into a cyclic spectrum
// (nchan × nbin/2+1) by a real FFT along the phase axis of every channel.
func PS2CS(ps *mat.Dense, conv Convention) (*mat.CDense, error) {
	if emptyR(ps) {
		return nil, ErrEmptyInput
	}

	nchan, nbin := ps.Dims()
	if nbin%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrOddPhaseBins, nbin)
	}

	nharm := nbin/2 + 1
	out := mat.NewCDense(nchan, nharm, nil)
	raw := out.RawCMatrix()
	scale := complex(1/conv.forwardDivisor(nbin), 0)
	p := getRealPool(nbin)

	err := forRanges(nchan, func(lo, hi int) error {
		f := p.get()
		defer p.put(f)

		row := make([]float64, nbin)
		coeff := make([]complex128, nharm)
		for c := lo; c < hi; c++ {
			mat.Row(row, c, ps)
			f.Coefficients(coeff, row)
			dst := raw.Data[c*raw.Stride : c*raw.Stride+nharm]
			for h, v := range coeff {
				dst[h] = v * scale
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// CS2PS converts a cyclic spectrum (nchan × nharm) back into a periodic
// spectrum (nchan × 2·(nharm−1)) with an unnormalized inverse real FFT.
func CS2PS(cs *mat.CDense) (*mat.Dense, error) {
	if emptyC(cs) {
		return nil, ErrEmptyInput
	}

	nchan, nharm := cs.Dims()
	if nharm < 2 {
		return nil, fmt.Errorf("%w: need at least 2 harmonics, got %d", ErrShape, nharm)
	}

	nbin := 2 * (nharm - 1)
	out := mat.NewDense(nchan, nbin, nil)
	raw := out.RawMatrix()
	src := cs.RawCMatrix()
	p := getRealPool(nbin)

	err := forRanges(nchan, func(lo, hi int) error {
		f := p.get()
		defer p.put(f)

		coeff := make([]complex128, nharm)
		for c := lo; c < hi; c++ {
			copy(coeff, src.Data[c*src.Stride:c*src.Stride+nharm])
			f.Sequence(raw.Data[c*raw.Stride:c*raw.Stride+nbin], coeff)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// CS2CC converts a cyclic spectrum into a cyclic correlation (lag × harmonic)
// with an unnormalized inverse FFT along the channel axis.
func CS2CC(cs *mat.CDense) (*mat.CDense, error) {
	if emptyC(cs) {
		return nil, ErrEmptyInput
	}
	n, _ := cs.Dims()
	return columns(cs, true, float64(n))
}

// CC2CS converts a cyclic correlation back into a cyclic spectrum with a
// forward FFT along the lag axis divided by the lag count.
func CC2CS(cc *mat.CDense) (*mat.CDense, error) {
	if emptyC(cc) {
		return nil, ErrEmptyInput
	}
	n, _ := cc.Dims()
	return columns(cc, false, 1/float64(n))
}

// UnitaryCols applies the unitary DFT (scaled by 1/√n) down every column.
// With inverse set, the conjugate transform is applied.
func UnitaryCols(m *mat.CDense, inverse bool) (*mat.CDense, error) {
	if emptyC(m) {
		return nil, ErrEmptyInput
	}
	n, _ := m.Dims()
	if inverse {
		// Inverse already divides by n.
		return columns(m, true, math.Sqrt(float64(n)))
	}
	return columns(m, false, 1/math.Sqrt(float64(n)))
}

// RowsTime2Freq applies Time2Freq to every row of m.
func RowsTime2Freq(m *mat.CDense) (*mat.CDense, error) {
	if emptyC(m) {
		return nil, ErrEmptyInput
	}
	_, n := m.Dims()
	return rows(m, false, 1/float64(n))
}

// RowsFreq2Time applies Freq2Time to every row of m.
func RowsFreq2Time(m *mat.CDense) (*mat.CDense, error) {
	if emptyC(m) {
		return nil, ErrEmptyInput
	}
	_, n := m.Dims()
	return rows(m, true, float64(n))
}

// columns transforms every column of m and multiplies the result by scale.
// The inverse direction includes the 1/n of the underlying executor.
func columns(m *mat.CDense, inverse bool, scale float64) (*mat.CDense, error) {
	r, c := m.Dims()
	out := mat.NewCDense(r, c, nil)
	src := m.RawCMatrix()
	dst := out.RawCMatrix()
	p := getComplexPool(r)
	s := complex(scale, 0)

	err := forRanges(c, func(lo, hi int) error {
		f := p.get()
		defer p.put(f)

		in := make([]complex128, r)
		res := make([]complex128, r)
		for j := lo; j < hi; j++ {
			for i := range in {
				in[i] = src.Data[i*src.Stride+j]
			}

			var err error
			if inverse {
				err = f.Inverse(res, in)
			} else {
				err = f.Forward(res, in)
			}
			if err != nil {
				return fmt.Errorf("transform: column %d: %w", j, err)
			}

			for i, v := range res {
				dst.Data[i*dst.Stride+j] = v * s
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// rows transforms every row of m and multiplies the result by scale.
func rows(m *mat.CDense, inverse bool, scale float64) (*mat.CDense, error) {
	r, c := m.Dims()
	out := mat.NewCDense(r, c, nil)
	src := m.RawCMatrix()
	dst := out.RawCMatrix()
	p := getComplexPool(c)
	s := complex(scale, 0)

	err := forRanges(r, func(lo, hi int) error {
		f := p.get()
		defer p.put(f)

		for i := lo; i < hi; i++ {
			in := src.Data[i*src.Stride : i*src.Stride+c]
			res := dst.Data[i*dst.Stride : i*dst.Stride+c]

			var err error
			if inverse {
				err = f.Inverse(res, in)
			} else {
				err = f.Forward(res, in)
			}
			if err != nil {
				return fmt.Errorf("transform: row %d: %w", i, err)
			}

			for k := range res {
				res[k] *= s
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func emptyC(m *mat.CDense) bool {
	if m == nil {
		return true
	}
	r, c := m.Dims()
	return r == 0 || c == 0
}

func emptyR(m *mat.Dense) bool {
	if m == nil {
		return true
	}
	r, c := m.Dims()
	return r == 0 || c == 0
}
