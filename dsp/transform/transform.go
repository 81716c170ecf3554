package transform

import (
	"fmt"
)

// FFT returns the unnormalized forward DFT of x.
func FFT(x []complex128) ([]complex128, error) {
	if len(x) == 0 {
		return nil, ErrEmptyInput
	}

	p := getComplexPool(len(x))
	f := p.get()
	defer p.put(f)

	out := make([]complex128, len(x))
	if err := f.Forward(out, x); err != nil {
		return nil, fmt.Errorf("transform: forward FFT: %w", err)
	}

	return out, nil
}

// IFFT returns the inverse DFT of x divided by len(x).
func IFFT(x []complex128) ([]complex128, error) {
	if len(x) == 0 {
		return nil, ErrEmptyInput
	}

	p := getComplexPool(len(x))
	f := p.get()
	defer p.put(f)

	out := make([]complex128, len(x))
	if err := f.Inverse(out, x); err != nil {
		return nil, fmt.Errorf("transform: inverse FFT: %w", err)
	}

	return out, nil
}

// Time2Freq converts a time-domain (lag) filter to the frequency domain:
// hf = FFT(ht) / n.
func Time2Freq(ht []complex128) ([]complex128, error) {
	hf, err := FFT(ht)
	if err != nil {
		return nil, err
	}

	scale := complex(1/float64(len(hf)), 0)
	for i := range hf {
		hf[i] *= scale
	}

	return hf, nil
}

// Freq2Time converts a frequency-domain filter back to the lag domain with
// an unnormalized inverse sum, so Freq2Time(Time2Freq(ht)) = ht.
func Freq2Time(hf []complex128) ([]complex128, error) {
	ht, err := IFFT(hf)
	if err != nil {
		return nil, err
	}

	scale := complex(float64(len(ht)), 0)
	for i := range ht {
		ht[i] *= scale
	}

	return ht, nil
}

// Phase2Harm converts a phase profile of even length nbin into its
// nbin/2+1 harmonics using the given normalization convention.
func Phase2Harm(pp []float64, conv Convention) ([]complex128, error) {
	nbin := len(pp)
	if nbin == 0 {
		return nil, ErrEmptyInput
	}
	if nbin%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrOddPhaseBins, nbin)
	}

	p := getRealPool(nbin)
	f := p.get()
	defer p.put(f)

	ph := f.Coefficients(make([]complex128, nbin/2+1), pp)
	scale := complex(1/conv.forwardDivisor(nbin), 0)
	for i := range ph {
		ph[i] *= scale
	}

	return ph, nil
}

// Harm2Phase converts nharm harmonics into a phase profile of
// 2·(nharm−1) bins with an unnormalized inverse sum. The imaginary parts of
// the DC and Nyquist harmonics are ignored.
func Harm2Phase(ph []complex128) ([]float64, error) {
	if len(ph) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 harmonics, got %d", ErrShape, len(ph))
	}

	nbin := 2 * (len(ph) - 1)
	p := getRealPool(nbin)
	f := p.get()
	defer p.put(f)

	coeff := append([]complex128(nil), ph...)
	return f.Sequence(make([]float64, nbin), coeff), nil
}
