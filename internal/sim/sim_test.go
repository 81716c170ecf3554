package sim

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/dsp/transform"
	"github.com/cwbudde/algo-cyclic/internal/testutil"
)

func smallArcConfig() ArcConfig {
	cfg := DefaultArcConfig()
	cfg.NChan = 32
	cfg.NTime = 64
	return cfg
}

func TestScintillationArcDefaults(t *testing.T) {
	arc, err := ScintillationArc(DefaultArcConfig())
	require.NoError(t, err)

	// 32 delay samples of 0.64 µs; the arc reaches them at 90% of 1/30 Hz.
	maxTau := 32 * 1e-6 / 1.5625
	span := 0.9 / 30
	assert.InDelta(t, maxTau/(span*span), arc.Curvature, 1e-12)
	assert.InDelta(t, 0.25*maxTau, arc.DecayTime, 1e-15)
	assert.Equal(t, complex(1, 0), arc.Wavefield.At(0, 0))
}

func TestScintillationArcGeometry(t *testing.T) {
	cfg := smallArcConfig()
	arc, err := ScintillationArc(cfg)
	require.NoError(t, err)
	require.Positive(t, arc.Points)

	nomega := cfg.NTime / 2
	count := 0
	prevMax := -1
	for r := 0; r < nomega; r++ {
		minCol, maxCol := -1, -1
		for c := 0; c < cfg.NChan; c++ {
			v := arc.Wavefield.At(r, c)
			if v == 0 {
				continue
			}
			count++
			if minCol < 0 {
				minCol = c
			}
			maxCol = c
			assert.LessOrEqual(t, cmplx.Abs(v), 1.0)
			assert.Less(t, c, cfg.NChan/2, "delay stays below half the lags")

			if r > 0 {
				mirror := arc.Wavefield.At(cfg.NTime-r, c)
				assert.InDelta(t, cmplx.Abs(v), cmplx.Abs(mirror), 1e-12, "row %d col %d", r, c)
			}
		}
		if minCol >= 0 {
			assert.GreaterOrEqual(t, minCol, prevMax, "arc delay rises with Doppler at row %d", r)
			prevMax = maxCol
		}
	}
	assert.Equal(t, arc.Points, count)

	for c := 0; c < cfg.NChan; c++ {
		assert.Zero(t, arc.Wavefield.At(nomega, c), "Nyquist Doppler row stays empty")
	}
}

func TestScintillationArcSeed(t *testing.T) {
	cfg := smallArcConfig()
	a, err := ScintillationArc(cfg)
	require.NoError(t, err)
	b, err := ScintillationArc(cfg)
	require.NoError(t, err)
	assert.True(t, mat.CEqual(a.Wavefield, b.Wavefield))

	cfg.Seed = 99
	c, err := ScintillationArc(cfg)
	require.NoError(t, err)
	assert.False(t, mat.CEqual(a.Wavefield, c.Wavefield))
}

func TestArcConfigValidate(t *testing.T) {
	for name, mutate := range map[string]func(*ArcConfig){
		"nchan":     func(c *ArcConfig) { c.NChan = 1 },
		"ntime":     func(c *ArcConfig) { c.NTime = 0 },
		"bandwidth": func(c *ArcConfig) { c.Bandwidth = 0 },
		"interval":  func(c *ArcConfig) { c.SamplingInterval = -1 },
		"curvature": func(c *ArcConfig) { c.Curvature = -1 },
	} {
		cfg := DefaultArcConfig()
		mutate(&cfg)
		_, err := ScintillationArc(cfg)
		assert.True(t, errors.Is(err, ErrInvalidConfig), name)
	}
}

func TestDynamicResponseEnergy(t *testing.T) {
	cfg := smallArcConfig()
	arc, err := ScintillationArc(cfg)
	require.NoError(t, err)

	resp, err := arc.DynamicResponse()
	require.NoError(t, err)
	r, c := resp.Dims()
	require.Equal(t, cfg.NTime, r)
	require.Equal(t, cfg.NChan, c)

	var wave, freq float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			w, f := arc.Wavefield.At(i, j), resp.At(i, j)
			wave += real(w)*real(w) + imag(w)*imag(w)
			freq += real(f)*real(f) + imag(f)*imag(f)
		}
	}
	assert.InDelta(t, float64(cfg.NChan)*wave, freq, 1e-9*freq)
}

func flatResponse(nsub, nchan int) *mat.CDense {
	resp := mat.NewCDense(nsub, nchan, nil)
	hf := testutil.DeterministicComplexNoise(3, 1, nsub*nchan)
	for i := 0; i < nsub; i++ {
		for c := 0; c < nchan; c++ {
			resp.Set(i, c, 1+0.3*hf[i*nchan+c])
		}
	}
	return resp
}

func TestObservationDynamicSpectrum(t *testing.T) {
	const nchan, nbin, bw = 16, 32, 0.05
	resp := flatResponse(3, nchan)
	pp := testutil.GaussianPulse(nbin, 0.3, 0.05)
	floats.AddConst(1, pp)

	obs, err := Observation(resp, pp, bw, DefaultSpectraConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, obs.NSub)
	assert.Equal(t, nbin, obs.NBin)
	assert.Equal(t, bw, obs.Bandwidth)
	assert.Equal(t, 100.0, obs.RefFreq)

	// Every valid channel averages to s₀·|H|² over pulse phase.
	s0 := floats.Sum(pp) / float64(nbin/2+1)
	for i := 0; i < obs.NSub; i++ {
		ps := obs.Data[i][0]
		for c := 1; c < nchan-1; c++ {
			mean := floats.Sum(ps.RawRowView(c)) / nbin
			want := s0 * math.Pow(cmplx.Abs(resp.At(i, c)), 2)
			assert.InDelta(t, want, mean, 1e-9, "subint %d channel %d", i, c)
		}
	}
}

func TestObservationNoise(t *testing.T) {
	const nchan, nbin = 32, 32
	resp := flatResponse(4, nchan)
	pp := testutil.GaussianPulse(nbin, 0.5, 0.08)

	clean, err := Observation(resp, pp, 0.05, DefaultSpectraConfig())
	require.NoError(t, err)

	cfg := DefaultSpectraConfig()
	cfg.Offset = 3
	cfg.Noise = 0.5
	cfg.Seed = 7
	noisy, err := Observation(resp, pp, 0.05, cfg)
	require.NoError(t, err)

	var diff []float64
	for i := 0; i < clean.NSub; i++ {
		var d mat.Dense
		d.Sub(noisy.Data[i][0], clean.Data[i][0])
		diff = append(diff, d.RawMatrix().Data...)
	}
	mean := floats.Sum(diff) / float64(len(diff))
	var ss float64
	for _, v := range diff {
		ss += (v - mean) * (v - mean)
	}
	std := math.Sqrt(ss / float64(len(diff)-1))

	assert.InDelta(t, 3, mean, 0.05)
	assert.InDelta(t, 0.5, std, 0.03)

	again, err := Observation(resp, pp, 0.05, cfg)
	require.NoError(t, err)
	assert.True(t, mat.Equal(noisy.Data[2][0], again.Data[2][0]), "noise is reproducible")
}

func TestObservationSubintsAndErrors(t *testing.T) {
	resp := flatResponse(4, 8)
	pp := testutil.GaussianPulse(16, 0.5, 0.1)

	cfg := DefaultSpectraConfig()
	cfg.Subints = 2
	obs, err := Observation(resp, pp, 0.05, cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, obs.NSub)
	assert.Len(t, obs.Data, 2)

	cfg.Subints = 5
	_, err = Observation(resp, pp, 0.05, cfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = Observation(resp, pp[:15], 0.05, DefaultSpectraConfig())
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	cfg = DefaultSpectraConfig()
	cfg.Noise = -1
	_, err = Observation(resp, pp, 0.05, cfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	cfg = DefaultSpectraConfig()
	cfg.Convention = transform.Symmetric
	_, err = Observation(resp, pp, 0.05, cfg)
	assert.NoError(t, err)
}
