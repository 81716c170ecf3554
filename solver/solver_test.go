package solver

import (
	"context"
	"errors"
	"math"
	"math/cmplx"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/archive"
	"github.com/cwbudde/algo-cyclic/dsp/cyclic"
	"github.com/cwbudde/algo-cyclic/dsp/merit"
	"github.com/cwbudde/algo-cyclic/dsp/support"
	"github.com/cwbudde/algo-cyclic/dsp/transform"
	"github.com/cwbudde/algo-cyclic/internal/testutil"
	"github.com/cwbudde/algo-cyclic/internal/textio"
	"github.com/cwbudde/algo-cyclic/solver/fista"
	"github.com/cwbudde/algo-cyclic/solver/state"
)

const (
	testChan = 32
	testBin  = 32
	testBW   = 0.05   // MHz
	testF0   = 2000.0 // Hz
)

func referenceHarmonics(t *testing.T) []complex128 {
	t.Helper()
	ref, err := cyclic.ReferenceHarmonics(testutil.GaussianPulse(testBin, 0.3, 0.04), transform.Legacy)
	require.NoError(t, err)
	return ref
}

// syntheticObservation builds nsub identical noiseless subintegrations
// scattered by the lag-domain filter ht.
func syntheticObservation(t *testing.T, nsub int, ht []complex128) *archive.Observation {
	t.Helper()
	m, err := cyclic.BuildModelTime(ht, referenceHarmonics(t), testBW, testF0)
	require.NoError(t, err)
	ps, err := transform.CS2PS(m.CS)
	require.NoError(t, err)

	obs := &archive.Observation{
		NSub: nsub, NPol: 1, NChan: testChan, NBin: testBin,
		Bandwidth: testBW, RefFreq: testF0, CentreFreq: 1400,
		Data: make([][]*mat.Dense, nsub),
	}
	for i := range obs.Data {
		sub := mat.DenseCopyOf(ps)
		for c := 0; c < testChan; c++ {
			for b := 0; b < testBin; b++ {
				sub.Set(c, b, sub.At(c, b)+5)
			}
		}
		obs.Data[i] = []*mat.Dense{sub}
	}
	require.NoError(t, obs.Validate())
	return obs
}

func correlation(a, b []complex128) float64 {
	var dot complex128
	var na, nb float64
	for i := range a {
		dot += a[i] * cmplx.Conj(b[i])
		na += real(a[i])*real(a[i]) + imag(a[i])*imag(a[i])
		nb += real(b[i])*real(b[i]) + imag(b[i])*imag(b[i])
	}
	return cmplx.Abs(dot) / math.Sqrt(na*nb)
}

type checkpointFunc func(ctx context.Context, st *state.State) error

func (f checkpointFunc) Save(ctx context.Context, st *state.State) error { return f(ctx, st) }

func TestFitFilterRecoversFilter(t *testing.T) {
	const rindex = 3
	truth := testutil.DecayingFilter(21, testChan, rindex, 1.5)
	ref := referenceHarmonics(t)

	m, err := cyclic.BuildModelTime(truth, ref, testBW, testF0)
	require.NoError(t, err)
	mctx, err := merit.NewContext(m.CS, ref, testBW, testF0, rindex)
	require.NoError(t, err)
	eval := merit.NewEvaluator(mctx)

	start := Delta(testChan, rindex)
	initial, err := eval.EvaluateComplex(start)
	require.NoError(t, err)

	cfg := DefaultQuasiNewtonConfig()
	cfg.MaxFun = 3000
	st := state.New(1, testChan, testBin)

	fit, err := FitFilter(context.Background(), eval, start, nil, 1e-14, cfg, st, nil)
	require.NoError(t, err)

	assert.Less(t, fit.Merit, 1e-4*initial.Merit)
	assert.Greater(t, correlation(fit.Filter, truth), 0.99)
	assert.Equal(t, fit.Evaluations, len(st.History))
	assert.Equal(t, fit.Merit, st.BestMerit)
	assert.LessOrEqual(t, fit.Evaluations, cfg.MaxFun+1)
}

func TestFitFilterNoisySpectrum(t *testing.T) {
	const rindex, sigma = 3, 0.01
	truth := testutil.DecayingFilter(21, testChan, rindex, 1.5)
	ref := referenceHarmonics(t)

	m, err := cyclic.BuildModelTime(truth, ref, testBW, testF0)
	require.NoError(t, err)
	cs := m.CS
	nchan, nharm := cs.Dims()
	noise := testutil.DeterministicComplexNoise(77, sigma, nchan*nharm)
	for c := 0; c < nchan; c++ {
		for h := 0; h < nharm; h++ {
			cs.Set(c, h, cs.At(c, h)+noise[c*nharm+h])
		}
	}

	mctx, err := merit.NewContext(cs, ref, testBW, testF0, rindex)
	require.NoError(t, err)
	eval := merit.NewEvaluator(mctx)

	geom, err := support.GeometryOf(mctx.CS, testBW, testF0)
	require.NoError(t, err)
	_, nvalid, err := geom.Variance(mctx.CS)
	require.NoError(t, err)
	cfg := DefaultQuasiNewtonConfig()
	relTol, err := relativeTolerance(nvalid, testChan, testBin, cfg.TolFact)
	require.NoError(t, err)

	atTruth, err := eval.EvaluateComplex(truth)
	require.NoError(t, err)
	require.Greater(t, atTruth.Merit, 0.0)

	fit, err := FitFilter(context.Background(), eval, Delta(testChan, rindex), nil, relTol, cfg, state.New(1, testChan, testBin), nil)
	require.NoError(t, err)

	assert.LessOrEqual(t, fit.Merit, 1.5*atTruth.Merit)
	assert.Greater(t, correlation(fit.Filter, truth), 0.99)
}

func TestFitFilterHonoursSupport(t *testing.T) {
	const rindex = 2
	truth := testutil.DecayingFilter(5, testChan, rindex, 1.5)
	ref := referenceHarmonics(t)

	m, err := cyclic.BuildModelTime(truth, ref, testBW, testF0)
	require.NoError(t, err)
	mctx, err := merit.NewContext(m.CS, ref, testBW, testF0, rindex)
	require.NoError(t, err)

	mask := supportMask(testChan, rindex, 1, 8)
	cfg := DefaultQuasiNewtonConfig()
	cfg.MaxFun = 100

	start := testutil.DeterministicComplexNoise(3, 1, testChan)
	start[rindex] = testChan
	fit, err := FitFilter(context.Background(), merit.NewEvaluator(mctx), start, mask, 1e-10, cfg, state.New(1, testChan, testBin), nil)
	require.NoError(t, err)

	for l, free := range mask {
		if !free {
			assert.Equal(t, complex128(0), fit.Filter[l], "lag %d", l)
		}
	}
	assert.Equal(t, 0.0, imag(fit.Filter[rindex]))
}

func TestFitFilterBudgetIsNotFatal(t *testing.T) {
	truth := testutil.DecayingFilter(8, testChan, 0, 2)
	ref := referenceHarmonics(t)
	m, err := cyclic.BuildModelTime(truth, ref, testBW, testF0)
	require.NoError(t, err)
	mctx, err := merit.NewContext(m.CS, ref, testBW, testF0, 0)
	require.NoError(t, err)

	cfg := DefaultQuasiNewtonConfig()
	cfg.MaxFun = 5
	fit, err := FitFilter(context.Background(), merit.NewEvaluator(mctx), Delta(testChan, 0), nil, 1e-14, cfg, state.New(1, testChan, testBin), nil)
	require.NoError(t, err)
	assert.False(t, fit.Converged)
	assert.NotNil(t, fit.Filter)
}

func TestFitFilterCanceled(t *testing.T) {
	ref := referenceHarmonics(t)
	m, err := cyclic.BuildModelTime(testutil.DecayingFilter(8, testChan, 0, 2), ref, testBW, testF0)
	require.NoError(t, err)
	mctx, err := merit.NewContext(m.CS, ref, testBW, testF0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = FitFilter(ctx, merit.NewEvaluator(mctx), Delta(testChan, 0), nil, 1e-14, DefaultQuasiNewtonConfig(), state.New(1, testChan, testBin), nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func newTestSolver(t *testing.T, nsub int, opts ...Option) *Solver {
	t.Helper()
	obs := syntheticObservation(t, nsub, testutil.DecayingFilter(11, testChan, 0, 1.5))
	qn := DefaultQuasiNewtonConfig()
	qn.MaxFun = 200
	s, err := New(obs, append([]Option{WithQuasiNewton(qn)}, opts...)...)
	require.NoError(t, err)
	return s
}

func TestNewValidates(t *testing.T) {
	obs := syntheticObservation(t, 1, Delta(testChan, 0))

	_, err := New(obs, WithPolarization(1))
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	qn := DefaultQuasiNewtonConfig()
	rindex := testChan
	qn.RIndex = &rindex
	_, err = New(obs, WithQuasiNewton(qn))
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(nil)
	assert.True(t, errors.Is(err, archive.ErrInvalid))
}

func TestLoopRequiresProfile(t *testing.T) {
	s := newTestSolver(t, 1)
	_, err := s.Loop(context.Background(), 0)
	assert.True(t, errors.Is(err, ErrNoProfile))

	require.NoError(t, s.InitProfile(context.Background()))
	_, err = s.Loop(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrRange))
}

func TestInitProfile(t *testing.T) {
	s := newTestSolver(t, 2, WithMaxInitHarm(4))
	require.NoError(t, s.InitProfile(context.Background()))

	st := s.State()
	require.Len(t, st.PPRef, testBin)
	assert.Equal(t, st.PPInt, st.PPRef)
	testutil.RequireFinite(t, st.PPRef)

	ph, err := transform.Phase2Harm(st.PPRef, transform.Legacy)
	require.NoError(t, err)
	assert.InDelta(t, 0, cmplx.Abs(ph[0]), 1e-9)
	assert.Greater(t, cmplx.Abs(ph[1]), 0.0)
	for h := 4; h < len(ph); h++ {
		assert.InDelta(t, 0, cmplx.Abs(ph[h]), 1e-9, "harmonic %d", h)
	}
}

func TestSolve(t *testing.T) {
	var saves, events int
	cp := checkpointFunc(func(_ context.Context, st *state.State) error {
		saves++
		assert.Equal(t, saves, st.NOpt)
		return nil
	})
	obs := merit.ObserverFunc(func(merit.Event) { events++ })

	s := newTestSolver(t, 2, WithCheckpointer(cp), WithObserver(obs))
	require.NoError(t, s.InitProfile(context.Background()))
	require.NoError(t, s.Solve(context.Background()))

	st := s.State()
	assert.Equal(t, 2, st.NOpt)
	assert.Equal(t, 1, st.NLoop)
	assert.Equal(t, 2, saves)
	assert.Positive(t, events)
	assert.Equal(t, st.PPInt, st.PPRef)
	assert.Equal(t, st.OptimizedFilters[1], st.HFPrev)

	for isub, hf := range st.OptimizedFilters {
		var power float64
		for _, v := range hf {
			power += real(v)*real(v) + imag(v)*imag(v)
		}
		assert.InDelta(t, testChan, power, 1e-6, "subint %d", isub)
		testutil.RequireFinite(t, st.IntrinsicProfiles[isub])
		assert.Greater(t, st.DynamicSpectrum[isub][testChan/2], 0.0)
	}
}

func TestSolveCanceled(t *testing.T) {
	s := newTestSolver(t, 2)
	require.NoError(t, s.InitProfile(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Solve(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, s.State().NOpt)
	assert.Equal(t, 0, s.State().NLoop)
}

func TestSolveWavefield(t *testing.T) {
	s := newTestSolver(t, 2, WithFISTA(func() fista.Config {
		cfg := fista.DefaultConfig()
		cfg.Iterations = 5
		return cfg
	}()))
	require.NoError(t, s.InitProfile(context.Background()))
	_, err := s.Loop(context.Background(), 0)
	require.NoError(t, err)

	res, err := s.SolveWavefield(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Iterations)
	for i := 1; i < len(res.BestMerits); i++ {
		assert.LessOrEqual(t, res.BestMerits[i], res.BestMerits[i-1])
	}

	rows, cols := res.Filters.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, testChan, cols)
	for isub := 0; isub < 2; isub++ {
		assert.True(t, nonzero(s.State().OptimizedFilters[isub]))
		testutil.RequireFinite(t, s.State().IntrinsicProfiles[isub])
	}
}

func TestSaveResults(t *testing.T) {
	s := newTestSolver(t, 2)
	require.NoError(t, s.InitProfile(context.Background()))
	_, err := s.Loop(context.Background(), 0)
	require.NoError(t, err)

	base := filepath.Join(t.TempDir(), "obs")
	require.NoError(t, s.SaveResults(base))

	fh, err := os.Open(base + SuffixIntrinsicProfile)
	require.NoError(t, err)
	pp, err := textio.ReadProfile(fh)
	fh.Close()
	require.NoError(t, err)
	assert.Len(t, pp, testBin)

	fh, err = os.Open(base + SuffixFilters)
	require.NoError(t, err)
	hfs, err := textio.ReadArray(fh)
	fh.Close()
	require.NoError(t, err)
	assert.True(t, hfs.Complex)
	assert.Equal(t, 2, hfs.Rows)
	assert.Equal(t, testChan, hfs.Cols)

	for _, suffix := range []string{SuffixReferenceProfile, SuffixDynamicSpectrum} {
		_, err := os.Stat(base + suffix)
		assert.NoError(t, err, suffix)
	}
}

func TestSetAndLoadProfile(t *testing.T) {
	s := newTestSolver(t, 1)
	err := s.SetProfile(make([]float64, testBin-2))
	assert.True(t, errors.Is(err, archive.ErrShapeMismatch))

	pp := testutil.GaussianPulse(testBin, 0.5, 0.05)
	path := filepath.Join(t.TempDir(), "ref.txt")
	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, textio.WriteProfile(fh, pp))
	require.NoError(t, fh.Close())

	fh, err = os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	require.NoError(t, s.LoadProfile(fh))
	testutil.RequireSliceNearlyEqual(t, s.State().PPRef, pp, 1e-6)
}

func TestResumeChecksShape(t *testing.T) {
	s := newTestSolver(t, 2)
	assert.True(t, errors.Is(s.Resume(state.New(3, testChan, testBin)), archive.ErrShapeMismatch))
	require.NoError(t, s.Resume(state.New(2, testChan, testBin)))
}
