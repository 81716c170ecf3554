// Package sim synthesizes observations for exercising the solver: a
// scintillation arc in the delay-Doppler plane, its dynamic frequency
// response, and the periodic spectra of a pulsar seen through it.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/dsp/transform"
	"github.com/cwbudde/algo-cyclic/internal/cmat"
)

// ErrInvalidConfig is returned for unusable simulation parameters.
var ErrInvalidConfig = errors.New("sim: invalid configuration")

// ArcConfig describes a scintillation arc on an NTime × NChan grid.
type ArcConfig struct {
	NChan            int     // delay samples, one per channel
	NTime            int     // Doppler samples, one per subintegration
	Bandwidth        float64 // MHz
	SamplingInterval float64 // seconds between subintegrations

	// Curvature of the arc τ = curvature·ω² in s³. Zero makes the arc
	// span 90% of the Doppler axis at the maximum delay.
	Curvature float64

	// DecayTime is the delay over which the arc amplitude falls by e, in
	// seconds. Zero uses a quarter of the maximum delay.
	DecayTime float64

	Seed int64
}

// DefaultArcConfig returns a 64-channel, 256-sample arc over 1.5625 MHz.
func DefaultArcConfig() ArcConfig {
	return ArcConfig{
		NChan:            64,
		NTime:            256,
		Bandwidth:        1.5625,
		SamplingInterval: 15,
		Seed:             1,
	}
}

// Validate reports whether the grid can be built.
func (c ArcConfig) Validate() error {
	if c.NChan < 2 || c.NTime < 2 {
		return fmt.Errorf("%w: grid %d×%d", ErrInvalidConfig, c.NTime, c.NChan)
	}
	if c.Bandwidth <= 0 || c.SamplingInterval <= 0 {
		return fmt.Errorf("%w: bandwidth %g MHz, sampling interval %g s", ErrInvalidConfig, c.Bandwidth, c.SamplingInterval)
	}
	if c.Curvature < 0 || c.DecayTime < 0 {
		return fmt.Errorf("%w: curvature %g, decay time %g", ErrInvalidConfig, c.Curvature, c.DecayTime)
	}
	return nil
}

// DelayStep returns the delay spacing in seconds.
func (c ArcConfig) DelayStep() float64 { return 1e-6 / c.Bandwidth }

// DopplerStep returns the Doppler spacing in Hz.
func (c ArcConfig) DopplerStep() float64 { return 1 / (float64(c.NTime) * c.SamplingInterval) }

// Arc is a sampled delay-Doppler wavefield.
type Arc struct {
	Wavefield *mat.CDense // NTime × NChan, Doppler rows and delay columns
	Curvature float64     // s³
	DecayTime float64     // s
	Points    int         // arc samples placed at non-negative Doppler
}

// ScintillationArc places a parabolic arc τ = curvature·ω² on the
// delay-Doppler grid. The arc is stepped along Doppler while it rises by
// less than one delay sample per step and along delay afterwards, so no
// delay is skipped. Samples at ±ω carry independent random phases; the
// origin is real.
func ScintillationArc(cfg ArcConfig) (*Arc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dtau, domega := cfg.DelayStep(), cfg.DopplerStep()
	maxTau := 0.5 * float64(cfg.NChan) * dtau
	maxOmega := 0.5 * float64(cfg.NTime) * domega

	curvature := cfg.Curvature
	if curvature == 0 {
		span := 0.9 * maxOmega
		curvature = maxTau / (span * span)
	}
	decay := cfg.DecayTime
	if decay == 0 {
		decay = 0.25 * maxTau
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	phasor := func() complex128 { return cmplx.Rect(1, 2*math.Pi*rng.Float64()) }

	w := mat.NewCDense(cfg.NTime, cfg.NChan, nil)
	arc := &Arc{Wavefield: w, Curvature: curvature, DecayTime: decay}

	nomega, ntau := cfg.NTime/2, cfg.NChan/2
	alongDoppler := true
	iomega, itau := 0, 0

	for iomega < nomega && itau < ntau {
		var tau float64
		var jomega, jtau int

		if alongDoppler {
			omega := float64(iomega) * domega
			tau = curvature * omega * omega
			jtau = int(tau / dtau)
			jomega = iomega
			if jtau > itau {
				alongDoppler = false
			}
			iomega++
			itau = jtau + 1
		}

		if !alongDoppler {
			tau = float64(itau) * dtau
			omega := math.Sqrt(tau / curvature)
			jtau = itau
			jomega = int(omega / domega)
			if jomega >= nomega {
				break
			}
			itau++
			iomega = jomega
		}

		amp := complex(math.Exp(-tau/decay), 0)
		if jomega == 0 {
			w.Set(0, jtau, amp)
		} else {
			w.Set(jomega, jtau, amp*phasor())
			w.Set(cfg.NTime-jomega, jtau, amp*phasor())
		}
		arc.Points++
	}

	return arc, nil
}

// DynamicResponse transforms the wavefield into the frequency response
// seen by each subintegration: an unnormalized FFT along delay, so a unit
// sample at zero delay gives a flat unit response, and a unitary DFT
// along Doppler. Row i is the frequency-domain filter of subintegration i.
func (a *Arc) DynamicResponse() (*mat.CDense, error) {
	ntime, nchan := a.Wavefield.Dims()

	rowsFreq := mat.NewCDense(ntime, nchan, nil)
	for i := 0; i < ntime; i++ {
		hf, err := transform.FFT(cmat.Row(a.Wavefield, i))
		if err != nil {
			return nil, fmt.Errorf("sim: %w", err)
		}
		cmat.SetRow(rowsFreq, i, hf)
	}

	resp, err := transform.UnitaryCols(rowsFreq, false)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	return resp, nil
}
