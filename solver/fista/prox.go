package fista

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// Prox is a proximal operator applied in place after each gradient step.
// step is the current step size α.
type Prox interface {
	Apply(w *mat.CDense, step float64)
}

// Identity leaves the wavefield unchanged.
type Identity struct{}

// Apply implements Prox.
func (Identity) Apply(*mat.CDense, float64) {}

// SoftThreshold is the proximal operator of λ·Σ|w|: every coefficient
// magnitude shrinks by α·λ, except the exempt coordinates.
type SoftThreshold struct {
	Lambda float64
	Exempt []int
}

// Apply implements Prox.
func (s SoftThreshold) Apply(w *mat.CDense, step float64) {
	tau := step * s.Lambda
	if tau <= 0 {
		return
	}

	exempt := make(map[int]bool, len(s.Exempt))
	for _, k := range s.Exempt {
		exempt[k] = true
	}

	forEach(w, func(k int, v *complex128) {
		if exempt[k] {
			return
		}
		mag := cmplx.Abs(*v)
		if mag <= tau {
			*v = 0
			return
		}
		*v *= complex(1-tau/mag, 0)
	})
}

// Support zeroes every coordinate not listed in Allowed.
type Support struct {
	Allowed []int
}

// Apply implements Prox.
func (s Support) Apply(w *mat.CDense, _ float64) {
	allowed := make(map[int]bool, len(s.Allowed))
	for _, k := range s.Allowed {
		allowed[k] = true
	}
	forEach(w, func(k int, v *complex128) {
		if !allowed[k] {
			*v = 0
		}
	})
}

// FixPhase projects the listed coordinates onto the line of complex numbers
// with the given phase.
type FixPhase struct {
	Coords []int
	Phase  float64
}

// Apply implements Prox.
func (f FixPhase) Apply(w *mat.CDense, _ float64) {
	sin, cos := math.Sincos(f.Phase)
	dir := complex(cos, sin)
	_, c := w.Dims()
	raw := w.RawCMatrix()
	for _, k := range f.Coords {
		v := &raw.Data[(k/c)*raw.Stride+k%c]
		*v = complex(real(*v*cmplx.Conj(dir)), 0) * dir
	}
}

// Chain applies operators in order.
type Chain []Prox

// Apply implements Prox.
func (ch Chain) Apply(w *mat.CDense, step float64) {
	for _, p := range ch {
		p.Apply(w, step)
	}
}

// forEach visits every element with its row-major coordinate.
func forEach(w *mat.CDense, fn func(k int, v *complex128)) {
	r, c := w.Dims()
	raw := w.RawCMatrix()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			fn(i*c+j, &raw.Data[i*raw.Stride+j])
		}
	}
}

// NewProx builds the proximal operator described by cfg for a wavefield of
// rows × cols coefficients.
func NewProx(cfg Config, rows, cols int) (Prox, error) {
	size := rows * cols
	check := func(name string, coords []int) error {
		for _, k := range coords {
			if k < 0 || k >= size {
				return fmt.Errorf("%w: %s coordinate %d outside [0, %d)", ErrInvalidConfig, name, k, size)
			}
		}
		return nil
	}
	if err := check("zero penalty", cfg.ZeroPenaltyCoords); err != nil {
		return nil, err
	}
	if err := check("fixed phase", cfg.FixPhaseCoords); err != nil {
		return nil, err
	}
	if err := check("support", cfg.FixSupport); err != nil {
		return nil, err
	}

	var chain Chain
	if cfg.Lambda != nil && *cfg.Lambda > 0 {
		chain = append(chain, SoftThreshold{Lambda: *cfg.Lambda, Exempt: cfg.ZeroPenaltyCoords})
	}
	if len(cfg.FixSupport) > 0 {
		chain = append(chain, Support{Allowed: cfg.FixSupport})
	}
	if len(cfg.FixPhaseCoords) > 0 {
		chain = append(chain, FixPhase{Coords: cfg.FixPhaseCoords, Phase: cfg.FixPhaseValue})
	}

	switch len(chain) {
	case 0:
		return Identity{}, nil
	case 1:
		return chain[0], nil
	}
	return chain, nil
}
