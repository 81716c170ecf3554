package support

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"pgregory.net/rapid"

	"github.com/cwbudde/algo-cyclic/internal/cmat"
	"github.com/cwbudde/algo-cyclic/internal/testutil"
)

func TestValidRangeSymmetric(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		nchan := rapid.IntRange(1, 4096).Draw(rt, "nchan")
		h := rapid.IntRange(0, nchan/2).Draw(rt, "harmonic")
		bw := rapid.Float64Range(0.01, 400).Draw(rt, "bw")
		f0 := rapid.Float64Range(0.1, 1000).Draw(rt, "f0")

		lo, hi := ValidRange(h, nchan, bw, f0)
		require.Equal(rt, nchan-lo, hi)
		require.GreaterOrEqual(rt, lo, 0)
		require.LessOrEqual(rt, lo, nchan/2)
	})
}

func TestValidRangeClampsToHalf(t *testing.T) {
	// A huge Doppler shift pushes the band past the centre.
	lo, hi := ValidRange(100, 64, 1, 1e6)
	assert.Equal(t, 32, lo)
	assert.Equal(t, 32, hi)
}

func TestValidRangeGrowsWithHarmonic(t *testing.T) {
	const nchan, bw, f0 = 1024, 1.0, 500.0
	prev := 0
	for h := 0; h < 200; h++ {
		lo, _ := ValidRange(h, nchan, bw, f0)
		assert.GreaterOrEqual(t, lo, prev, "harmonic %d", h)
		prev = lo
	}
	assert.Greater(t, prev, 1)
}

func TestSmallScenarioGeometry(t *testing.T) {
	g, err := NewGeometry(8, 9, 10, 100)
	require.NoError(t, err)
	for h := 0; h < g.NHarm; h++ {
		lo, hi := g.Range(h)
		assert.Equal(t, 1, lo, "harmonic %d", h)
		assert.Equal(t, 7, hi, "harmonic %d", h)
		assert.Equal(t, 6, g.Count(h))
	}
}

func TestNewGeometryRejectsBadInput(t *testing.T) {
	_, err := NewGeometry(0, 9, 10, 100)
	assert.True(t, errors.Is(err, ErrInvalidGeometry))
	_, err = NewGeometry(8, 9, -1, 100)
	assert.True(t, errors.Is(err, ErrInvalidGeometry))
	_, err = GeometryOf(nil, 10, 100)
	assert.True(t, errors.Is(err, ErrShape))
}

func wideGeometry(t *testing.T) (*Geometry, *mat.CDense) {
	t.Helper()
	// 64 channels over 0.1 MHz at 1 kHz: the band narrows quickly with h.
	const nchan, nharm = 64, 6
	g, err := NewGeometry(nchan, nharm, 0.1, 1000)
	require.NoError(t, err)
	cs := mat.NewCDense(nchan, nharm, testutil.DeterministicComplexNoise(21, 1, nchan*nharm))
	return g, cs
}

func TestPadIdempotent(t *testing.T) {
	g, cs := wideGeometry(t)

	once := cmat.Clone(cs)
	require.NoError(t, g.Pad(once))
	twice := cmat.Clone(once)
	require.NoError(t, g.Pad(twice))

	assert.Equal(t, once.RawCMatrix().Data, twice.RawCMatrix().Data)

	for h := 0; h < g.NHarm; h++ {
		lo, hi := g.Range(h)
		for c := 0; c < g.NChan; c++ {
			if c < lo || c >= hi {
				assert.Equal(t, complex128(0), once.At(c, h), "c=%d h=%d", c, h)
			} else {
				assert.Equal(t, cs.At(c, h), once.At(c, h), "c=%d h=%d", c, h)
			}
		}
	}
}

func TestPadShapeMismatch(t *testing.T) {
	g, err := NewGeometry(8, 9, 10, 100)
	require.NoError(t, err)
	err = g.Pad(mat.NewCDense(8, 5, nil))
	assert.True(t, errors.Is(err, ErrShape))
}

func TestFScrunchMatchesPaddedSum(t *testing.T) {
	g, cs := wideGeometry(t)

	got, err := g.FScrunch(cs)
	require.NoError(t, err)

	padded := cmat.Clone(cs)
	require.NoError(t, g.Pad(padded))
	want := make([]complex128, g.NHarm)
	for c := 0; c < g.NChan; c++ {
		for h := range want {
			want[h] += padded.At(c, h)
		}
	}
	testutil.RequireComplexNearlyEqual(t, got, want, 1e-12)
}

func TestRMSConstantBand(t *testing.T) {
	g, err := NewGeometry(8, 3, 10, 100)
	require.NoError(t, err)
	cs := mat.NewCDense(8, 3, nil)
	for c := 0; c < 8; c++ {
		cs.Set(c, 1, complex(3, 4))
	}
	rms, err := g.RMS(cs, 1)
	require.NoError(t, err)
	assert.InDelta(t, 5, rms, 1e-12)
}

func TestNormalizeCS(t *testing.T) {
	g, err := NewGeometry(8, 3, 10, 100)
	require.NoError(t, err)
	cs := mat.NewCDense(8, 3, nil)
	for c := 0; c < 8; c++ {
		cs.Set(c, 0, 7)
		cs.Set(c, 1, complex(0, 5))
		cs.Set(c, 2, 3)
	}

	out, err := g.NormalizeCS(cs)
	require.NoError(t, err)
	// sqrt(|25 − 9|) = 4
	assert.InDelta(t, 7.0/4, real(out.At(2, 0)), 1e-12)
	assert.InDelta(t, 5.0/4, imag(out.At(2, 1)), 1e-12)
	// Input untouched.
	assert.Equal(t, complex128(7), cs.At(2, 0))

	flat := mat.NewCDense(8, 3, nil)
	_, err = g.NormalizeCS(flat)
	assert.True(t, errors.Is(err, ErrDegenerateNorm))
}

func TestVariance(t *testing.T) {
	g, cs := wideGeometry(t)

	variance, nvalid, err := g.Variance(cs)
	require.NoError(t, err)

	last := g.NHarm - 1
	lo, hi := g.Range(last)
	var sum float64
	for c := lo; c < hi; c++ {
		v := cs.At(c, last)
		sum += real(v)*real(v) + imag(v)*imag(v)
	}
	assert.InDelta(t, sum/float64(hi-lo), variance, 1e-12)

	want := 0
	for h := 1; h < g.NHarm; h++ {
		want += g.Count(h)
	}
	assert.Equal(t, 2*want, nvalid)
	assert.False(t, math.IsNaN(variance))
}
