package transform

import (
	"errors"
	"sync"

	algofft "github.com/cwbudde/algo-fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Errors returned by transform functions.
var (
	ErrEmptyInput        = errors.New("transform: empty input")
	ErrOddPhaseBins      = errors.New("transform: phase bin count must be even")
	ErrShape             = errors.New("transform: shape mismatch")
	ErrUnknownConvention = errors.New("transform: unknown normalization convention")
)

// complexFFT is the subset of an algo-fft plan or executor used here.
// Forward is unnormalized, Inverse divides by the length.
type complexFFT interface {
	Forward(dst, src []complex128) error
	Inverse(dst, src []complex128) error
}

// gonumComplex adapts gonum's complex FFT to complexFFT for lengths
// algo-fft declines to plan.
type gonumComplex struct {
	fft   *fourier.CmplxFFT
	scale complex128
}

func newGonumComplex(n int) *gonumComplex {
	return &gonumComplex{
		fft:   fourier.NewCmplxFFT(n),
		scale: complex(1/float64(n), 0),
	}
}

func (g *gonumComplex) Forward(dst, src []complex128) error {
	g.fft.Coefficients(dst, src)
	return nil
}

func (g *gonumComplex) Inverse(dst, src []complex128) error {
	g.fft.Sequence(dst, src)
	for i := range dst {
		dst[i] *= g.scale
	}
	return nil
}

// complexPool hands out transformers of one length. Plans are not safe
// for concurrent use, so every worker takes its own executor.
type complexPool struct {
	n    int
	pool sync.Pool
}

func (p *complexPool) get() complexFFT  { return p.pool.Get().(complexFFT) }
func (p *complexPool) put(f complexFFT) { p.pool.Put(f) }

type realPool struct {
	n    int
	pool sync.Pool
}

func (p *realPool) get() *fourier.FFT  { return p.pool.Get().(*fourier.FFT) }
func (p *realPool) put(f *fourier.FFT) { p.pool.Put(f) }

var (
	complexPoolsMu sync.RWMutex
	complexPools   = make(map[int]*complexPool) // keyed by transform length

	realPoolsMu sync.RWMutex
	realPools   = make(map[int]*realPool)
)

func getComplexPool(n int) *complexPool {
	complexPoolsMu.RLock()
	p, ok := complexPools[n]
	complexPoolsMu.RUnlock()
	if ok {
		return p
	}

	complexPoolsMu.Lock()
	defer complexPoolsMu.Unlock()

	if p, ok = complexPools[n]; ok {
		return p
	}

	p = &complexPool{n: n}
	plan, err := algofft.NewPlan64(n)
	if err == nil {
		p.pool.New = func() any { return complexFFT(plan.NewExecutor()) }
	} else {
		p.pool.New = func() any { return complexFFT(newGonumComplex(n)) }
	}
	complexPools[n] = p

	return p
}

func getRealPool(n int) *realPool {
	realPoolsMu.RLock()
	p, ok := realPools[n]
	realPoolsMu.RUnlock()
	if ok {
		return p
	}

	realPoolsMu.Lock()
	defer realPoolsMu.Unlock()

	if p, ok = realPools[n]; ok {
		return p
	}

	p = &realPool{n: n}
	p.pool.New = func() any { return fourier.NewFFT(n) }
	realPools[n] = p

	return p
}
