package irf

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-cyclic/dsp/transform"
)

// makeScatteredFilter builds an n-lag filter whose energy decays as
// exp(-l/tauLags) after lag peak. Each lag carries an arbitrary phase,
// which the energy metrics must ignore.
func makeScatteredFilter(n int, tauLags float64, peak int) []complex128 {
	ht := make([]complex128, n)
	for l := 0; l < n; l++ {
		amp := math.Exp(-float64(l) / (2 * tauLags))
		ht[(peak+l)%n] = cmplx.Rect(amp, 0.37*float64(l*l))
	}
	return ht
}

func TestAnalyzerAnalyze(t *testing.T) {
	const bw = 0.5 // one lag is 2 µs
	ht := makeScatteredFilter(128, 4, 100)

	m, err := NewAnalyzer(bw).Analyze(ht)
	require.NoError(t, err)

	assert.Equal(t, 100, m.PeakLag)
	assert.InDelta(t, -56, m.PeakDelay, 1e-12)
	assert.InDelta(t, 8, m.ScatteringTime, 0.01)

	r := math.Exp(-0.25)
	assert.InDelta(t, r/(1-r)*2, m.CentreDelay, 1e-3)
	assert.Less(t, m.PrecursorFraction, 1e-6)
	assert.InDelta(t, 1/(1-r), m.Energy, 1e-6)
}

func TestAnalyzeSpectrumMatchesLagDomain(t *testing.T) {
	ht := makeScatteredFilter(64, 2.5, 7)
	hf, err := transform.Time2Freq(ht)
	require.NoError(t, err)

	a := NewAnalyzer(1.5625)
	want, err := a.Analyze(ht)
	require.NoError(t, err)
	got, err := a.AnalyzeSpectrum(hf)
	require.NoError(t, err)

	assert.Equal(t, want.PeakLag, got.PeakLag)
	assert.InDelta(t, want.ScatteringTime, got.ScatteringTime, 1e-9)
	assert.InDelta(t, want.CentreDelay, got.CentreDelay, 1e-9)
	assert.InDelta(t, want.Energy, got.Energy, 1e-9)
}

func TestSchroederIntegral(t *testing.T) {
	ht := makeScatteredFilter(128, 4, 0)

	s, err := NewAnalyzer(1).SchroederIntegral(ht)
	require.NoError(t, err)
	require.Len(t, s, 65)

	assert.InDelta(t, 0, s[0], 1e-12)
	for i := 1; i < len(s); i++ {
		require.LessOrEqual(t, s[i], s[i-1], "sample %d", i)
	}
	// An exponential tail falls by one e-fold (4.34 dB) every tau lags.
	assert.InDelta(t, -dBPerNeper, s[4], 1e-3)

	_, err = NewAnalyzer(1).SchroederIntegral(nil)
	assert.True(t, errors.Is(err, ErrEmptyFilter))
}

func TestDefinitionAndClarity(t *testing.T) {
	const bw = 0.5
	a := NewAnalyzer(bw)
	ht := makeScatteredFilter(128, 4, 3)
	early := 1 - math.Exp(-0.5)

	d, err := a.Definition(ht, 4)
	require.NoError(t, err)
	assert.InDelta(t, early, d, 1e-6)

	c, err := a.Clarity(ht, 4)
	require.NoError(t, err)
	assert.InDelta(t, 10*math.Log10(early/(1-early)), c, 1e-5)

	c, err = a.Clarity(ht, 1000)
	require.NoError(t, err)
	assert.True(t, math.IsInf(c, 1))

	d, err = a.Definition(ht, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 1, d, 1e-12)

	_, err = a.Definition(ht, 0)
	assert.True(t, errors.Is(err, ErrInvalidDelay))
	_, err = a.Clarity(ht, -1)
	assert.True(t, errors.Is(err, ErrInvalidDelay))
}

func TestScatteringTime(t *testing.T) {
	a := NewAnalyzer(2)

	tau, err := a.ScatteringTime(makeScatteredFilter(256, 10, 40))
	require.NoError(t, err)
	assert.InDelta(t, 5, tau, 0.01)

	// A flat filter has no tail to fit.
	flat := make([]complex128, 16)
	for i := range flat {
		flat[i] = 1
	}
	_, err = a.ScatteringTime(flat)
	assert.Error(t, err)
}

func TestLagDelay(t *testing.T) {
	a := NewAnalyzer(0.25)
	assert.InDelta(t, 0, a.LagDelay(0, 16), 0)
	assert.InDelta(t, 32, a.LagDelay(8, 16), 0)
	assert.InDelta(t, -28, a.LagDelay(9, 16), 0)
	assert.InDelta(t, -4, a.LagDelay(15, 16), 0)
}

func TestAnalyzerErrors(t *testing.T) {
	_, err := NewAnalyzer(1).Analyze(nil)
	assert.True(t, errors.Is(err, ErrEmptyFilter))

	_, err = NewAnalyzer(0).Analyze(make([]complex128, 4))
	assert.True(t, errors.Is(err, ErrInvalidBandwidth))

	_, err = NewAnalyzer(math.NaN()).Analyze(make([]complex128, 4))
	assert.True(t, errors.Is(err, ErrInvalidBandwidth))

	_, err = NewAnalyzer(1).Analyze(make([]complex128, 4))
	assert.True(t, errors.Is(err, ErrZeroFilter))

	_, err = NewAnalyzer(1).AnalyzeSpectrum(nil)
	assert.True(t, errors.Is(err, ErrEmptyFilter))
}
