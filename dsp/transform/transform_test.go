package transform

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"pgregory.net/rapid"

	"github.com/cwbudde/algo-cyclic/internal/testutil"
)

func directDFT(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	for k := range out {
		var sum complex128
		for j, v := range x {
			sum += v * cmplx.Exp(complex(0, -2*math.Pi*float64(j*k)/float64(n)))
		}
		out[k] = sum
	}
	return out
}

func TestFFTMatchesDirectDFT(t *testing.T) {
	for _, n := range []int{2, 8, 12, 15, 64} {
		x := testutil.DeterministicComplexNoise(int64(n), 1, n)
		got, err := FFT(x)
		require.NoError(t, err)
		testutil.RequireComplexNearlyEqual(t, got, directDFT(x), 1e-9)

		back, err := IFFT(got)
		require.NoError(t, err)
		testutil.RequireComplexNearlyEqual(t, back, x, 1e-12)
	}
}

func TestFFTEmpty(t *testing.T) {
	_, err := FFT(nil)
	assert.True(t, errors.Is(err, ErrEmptyInput))
	_, err = Time2Freq(nil)
	assert.True(t, errors.Is(err, ErrEmptyInput))
}

func TestTime2FreqDelta(t *testing.T) {
	const n = 16
	hf, err := Time2Freq(testutil.ComplexImpulse(n, 0, n))
	require.NoError(t, err)
	for i, v := range hf {
		assert.InDelta(t, 1, real(v), 1e-12, "hf[%d]", i)
		assert.InDelta(t, 0, imag(v), 1e-12, "hf[%d]", i)
	}

	ht, err := Freq2Time(hf)
	require.NoError(t, err)
	testutil.RequireComplexNearlyEqual(t, ht, testutil.ComplexImpulse(n, 0, n), 1e-12)
}

func TestPeriodicCyclicRoundTrip(t *testing.T) {
	for _, conv := range []Convention{Legacy, Symmetric} {
		t.Run(conv.String(), func(t *testing.T) {
			rapid.Check(t, func(rt *rapid.T) {
				nchan := rapid.IntRange(1, 12).Draw(rt, "nchan")
				nbin := 2 * rapid.IntRange(1, 16).Draw(rt, "halfbins")
				data := rapid.SliceOfN(rapid.Float64Range(-100, 100), nchan*nbin, nchan*nbin).Draw(rt, "data")
				ps := mat.NewDense(nchan, nbin, data)

				cs, err := PS2CS(ps, conv)
				require.NoError(rt, err)
				r, c := cs.Dims()
				require.Equal(rt, nchan, r)
				require.Equal(rt, nbin/2+1, c)

				back, err := CS2PS(cs)
				require.NoError(rt, err)

				scale := conv.RoundTripScale(nbin)
				for i := 0; i < nchan; i++ {
					for j := 0; j < nbin; j++ {
						require.InDelta(rt, scale*ps.At(i, j), back.At(i, j), 1e-8)
					}
				}
			})
		})
	}
}

func TestPS2CSLegacyNormalization(t *testing.T) {
	// A constant row has all its power in the DC harmonic: nbin·v / divisor.
	ps := mat.NewDense(1, 8, []float64{2, 2, 2, 2, 2, 2, 2, 2})

	legacy, err := PS2CS(ps, Legacy)
	require.NoError(t, err)
	assert.InDelta(t, 16.0/5.0, real(legacy.At(0, 0)), 1e-12)

	sym, err := PS2CS(ps, Symmetric)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, real(sym.At(0, 0)), 1e-12)
}

func TestPS2CSOddBins(t *testing.T) {
	_, err := PS2CS(mat.NewDense(2, 5, nil), Legacy)
	assert.True(t, errors.Is(err, ErrOddPhaseBins))
}

func TestProfileRoundTrip(t *testing.T) {
	pp := testutil.GaussianPulse(32, 0.3, 0.05)
	for _, conv := range []Convention{Legacy, Symmetric} {
		ph, err := Phase2Harm(pp, conv)
		require.NoError(t, err)
		require.Len(t, ph, 17)

		back, err := Harm2Phase(ph)
		require.NoError(t, err)

		want := make([]float64, len(pp))
		for i, v := range pp {
			want[i] = conv.RoundTripScale(len(pp)) * v
		}
		testutil.RequireSliceNearlyEqual(t, back, want, 1e-10)
	}
}

func TestCyclicCorrelationRoundTrip(t *testing.T) {
	const nchan, nharm = 12, 5
	cs := mat.NewCDense(nchan, nharm, testutil.DeterministicComplexNoise(3, 1, nchan*nharm))

	cc, err := CS2CC(cs)
	require.NoError(t, err)

	// Column 0 of cc is the unnormalized inverse DFT of column 0 of cs.
	col := make([]complex128, nchan)
	for i := range col {
		col[i] = cs.At(i, 0)
	}
	ht, err := Freq2Time(col)
	require.NoError(t, err)
	for i := range ht {
		assert.InDelta(t, 0, cmplx.Abs(cc.At(i, 0)-ht[i]), 1e-10)
	}

	back, err := CC2CS(cc)
	require.NoError(t, err)
	for i := 0; i < nchan; i++ {
		for j := 0; j < nharm; j++ {
			assert.InDelta(t, 0, cmplx.Abs(back.At(i, j)-cs.At(i, j)), 1e-10)
		}
	}
}

func TestUnitaryColsPreservesPower(t *testing.T) {
	const r, c = 6, 4
	m := mat.NewCDense(r, c, testutil.DeterministicComplexNoise(9, 1, r*c))

	fwd, err := UnitaryCols(m, false)
	require.NoError(t, err)

	power := func(x *mat.CDense) float64 {
		var s float64
		for _, v := range x.RawCMatrix().Data {
			s += real(v)*real(v) + imag(v)*imag(v)
		}
		return s
	}
	assert.InDelta(t, power(m), power(fwd), 1e-9)

	back, err := UnitaryCols(fwd, true)
	require.NoError(t, err)
	testutil.RequireComplexNearlyEqual(t, back.RawCMatrix().Data, m.RawCMatrix().Data, 1e-12)
}

func TestRowsTime2FreqMatchesSingle(t *testing.T) {
	const r, c = 3, 10
	data := testutil.DeterministicComplexNoise(11, 1, r*c)
	m := mat.NewCDense(r, c, data)

	got, err := RowsTime2Freq(m)
	require.NoError(t, err)
	for i := 0; i < r; i++ {
		want, err := Time2Freq(data[i*c : (i+1)*c])
		require.NoError(t, err)
		testutil.RequireComplexNearlyEqual(t, got.RawCMatrix().Data[i*c:(i+1)*c], want, 1e-12)
	}

	back, err := RowsFreq2Time(got)
	require.NoError(t, err)
	testutil.RequireComplexNearlyEqual(t, back.RawCMatrix().Data, data, 1e-12)
}

func TestWorkerCountDoesNotChangeResults(t *testing.T) {
	const nchan, nbin = 64, 32
	ps := mat.NewDense(nchan, nbin, testutil.DeterministicNoise(5, 1, nchan*nbin))

	SetWorkers(1)
	serial, err := PS2CS(ps, Legacy)
	require.NoError(t, err)

	SetWorkers(0)
	parallel, err := PS2CS(ps, Legacy)
	require.NoError(t, err)

	testutil.RequireComplexNearlyEqual(t, parallel.RawCMatrix().Data, serial.RawCMatrix().Data, 1e-12)
	assert.GreaterOrEqual(t, Workers(), 1)
}

func TestParseConvention(t *testing.T) {
	c, err := ParseConvention("Symmetric")
	require.NoError(t, err)
	assert.Equal(t, Symmetric, c)

	c, err = ParseConvention("")
	require.NoError(t, err)
	assert.Equal(t, Legacy, c)

	_, err = ParseConvention("unitary")
	assert.True(t, errors.Is(err, ErrUnknownConvention))

	var u Convention
	require.NoError(t, u.UnmarshalText([]byte("symmetric")))
	assert.Equal(t, Symmetric, u)
}
