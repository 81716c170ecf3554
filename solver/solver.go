// Package solver fits the interstellar impulse response and the intrinsic
// pulse profile of an observation, one subintegration at a time with a
// bounded quasi-Newton method or jointly over all subintegrations as a
// Doppler–delay wavefield.
//
// A solve starts from a reference profile (InitProfile or SetProfile).
// Loop fits the filter of one subintegration, updates the intrinsic
// profile accumulator and carries the solution over as the starting point
// of the next subintegration. Solve runs Loop over every subintegration and
// then promotes the accumulated intrinsic profile to the new reference.
package solver

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/archive"
	"github.com/cwbudde/algo-cyclic/dsp/cyclic"
	"github.com/cwbudde/algo-cyclic/dsp/merit"
	"github.com/cwbudde/algo-cyclic/dsp/support"
	"github.com/cwbudde/algo-cyclic/dsp/transform"
	"github.com/cwbudde/algo-cyclic/internal/cmat"
	"github.com/cwbudde/algo-cyclic/internal/textio"
	"github.com/cwbudde/algo-cyclic/solver/fista"
	"github.com/cwbudde/algo-cyclic/solver/state"
)

// Solver owns the state of a solve over one observation.
type Solver struct {
	obs    *archive.Observation
	cfg    Config
	st     *state.State
	logger *log.Logger
}

// New returns a solver for obs with the default configuration modified by
// opts.
func New(obs *archive.Observation, opts ...Option) (*Solver, error) {
	if obs == nil {
		return nil, fmt.Errorf("%w: nil observation", archive.ErrInvalid)
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IPol >= obs.NPol {
		return nil, fmt.Errorf("%w: ipol %d with %d polarizations", ErrInvalidConfig, cfg.IPol, obs.NPol)
	}
	if err := cfg.QuasiNewton.validateFor(obs.NChan, obs.NBin); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if cfg.FISTA.Logger == nil {
		cfg.FISTA.Logger = logger
	}

	return &Solver{
		obs:    obs,
		cfg:    cfg,
		st:     state.New(obs.NSub, obs.NChan, obs.NBin),
		logger: logger,
	}, nil
}

// State returns the live solver state.
func (s *Solver) State() *state.State { return s.st }

// Config returns the active configuration.
func (s *Solver) Config() Config { return s.cfg }

// Resume replaces the state with st, typically loaded from a checkpoint.
func (s *Solver) Resume(st *state.State) error {
	if len(st.OptimizedFilters) != s.obs.NSub || len(st.HFPrev) != s.obs.NChan || len(st.PPInt) != s.obs.NBin {
		return fmt.Errorf("%w: checkpoint does not match the observation", archive.ErrShapeMismatch)
	}
	s.st = st
	return nil
}

// Restart makes the next Loop start from a fresh initial guess.
func (s *Solver) Restart() { s.st.NOpt = 0 }

// CyclicSpectrum returns the normalized, padded cyclic spectrum of
// subintegration isub in the configured polarization.
func (s *Solver) CyclicSpectrum(isub int) (*mat.CDense, error) {
	ps, err := s.obs.Spectrum(isub, s.cfg.IPol)
	if err != nil {
		return nil, err
	}
	cs, err := transform.PS2CS(ps, s.cfg.Convention)
	if err != nil {
		return nil, fmt.Errorf("solver: %w", err)
	}
	geom, err := support.GeometryOf(cs, s.obs.Bandwidth, s.obs.RefFreq)
	if err != nil {
		return nil, fmt.Errorf("solver: %w", err)
	}
	cs, err = geom.NormalizeCS(cs)
	if err != nil {
		return nil, fmt.Errorf("solver: subintegration %d: %w", isub, err)
	}
	if err := geom.Pad(cs); err != nil {
		return nil, fmt.Errorf("solver: %w", err)
	}
	return cs, nil
}

// InitProfile builds the reference profile from the data: the optimal
// profile of every subintegration under a flat filter, summed in phase.
func (s *Solver) InitProfile(ctx context.Context) error {
	nchan := s.obs.NChan
	flat := make([]complex128, nchan)
	for i := range flat {
		flat[i] = 1
	}

	sum := make([]float64, s.obs.NBin)
	for isub := 0; isub < s.obs.NSub; isub++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cs, err := s.CyclicSpectrum(isub)
		if err != nil {
			return err
		}
		ph, err := cyclic.OptimalProfile(cs, flat, s.obs.Bandwidth, s.obs.RefFreq)
		if err != nil {
			return fmt.Errorf("solver: %w", err)
		}
		ph[0] = 0
		if n := s.cfg.MaxInitHarm; n > 0 && n < len(ph) {
			clear(ph[n:])
		}
		pp, err := transform.Harm2Phase(ph)
		if err != nil {
			return fmt.Errorf("solver: %w", err)
		}
		floats.Add(sum, pp)
	}

	s.st.PPInt = sum
	s.st.PPRef = append([]float64(nil), sum...)
	s.st.HFPrev = flat
	s.logger.Info("initialized profile from data", "subints", s.obs.NSub, "max_init_harm", s.cfg.MaxInitHarm)
	return nil
}

// SetProfile uses pp as the reference profile.
func (s *Solver) SetProfile(pp []float64) error {
	if len(pp) != s.obs.NBin {
		return fmt.Errorf("%w: profile has %d bins, observation %d", archive.ErrShapeMismatch, len(pp), s.obs.NBin)
	}
	s.st.PPRef = append([]float64(nil), pp...)
	s.st.PPInt = make([]float64, s.obs.NBin)
	for i := range s.st.HFPrev {
		s.st.HFPrev[i] = 1
	}
	return nil
}

// LoadProfile reads a reference profile in the text profile format.
func (s *Solver) LoadProfile(r io.Reader) error {
	pp, err := textio.ReadProfile(r)
	if err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	return s.SetProfile(pp)
}

// initialFilter chooses the lag-domain starting point of a fresh fit.
func (s *Solver) initialFilter(isub int, cs *mat.CDense, ref []complex128) ([]complex128, error) {
	qn := s.cfg.QuasiNewton
	if qn.InitialFilter != nil {
		return append([]complex128(nil), qn.InitialFilter...), nil
	}

	var delay int
	if qn.RIndex != nil {
		delay = *qn.RIndex
	} else {
		d, err := PhaseGradientDelay(cs, ref, s.obs.Bandwidth, s.obs.RefFreq)
		if err != nil {
			return nil, err
		}
		delay = d
	}
	ht := Delta(s.obs.NChan, delay)
	s.logger.Debug("initial filter", "isub", isub, "delay", delay)

	if !qn.UseMinPhase {
		return ht, nil
	}
	if qn.OnPulse == nil {
		s.logger.Debug("no on-pulse window, minimum phase disabled", "isub", isub)
		return ht, nil
	}

	spect, err := s.obs.MeanOnPulseSpectrum(isub, s.cfg.IPol, qn.OnPulse[0], qn.OnPulse[1])
	if err != nil {
		return nil, err
	}
	lo := floats.Min(spect)
	floats.AddConst(-lo, spect)
	hf, err := MinimumPhase(spect)
	if err != nil {
		s.logger.Warn("minimum phase failed, starting from a delta", "isub", isub, "err", err)
		return ht, nil
	}
	mp, err := transform.Freq2Time(hf)
	if err != nil {
		return nil, fmt.Errorf("solver: %w", err)
	}
	ht = Roll(mp, delay)
	s.logger.Debug("minimum phase start", "isub", isub, "peak", PeakLag(ht))
	return ht, nil
}

// Loop fits the filter of subintegration isub and folds the result into
// the state. On error the fit's merit history and best estimate (BestMerit,
// BestFilter) may already have been updated; the filters, profiles and
// counters of the state are left as they were.
func (s *Solver) Loop(ctx context.Context, isub int) (FitResult, error) {
	if isub < 0 || isub >= s.obs.NSub {
		return FitResult{}, fmt.Errorf("%w: subintegration %d of %d", ErrRange, isub, s.obs.NSub)
	}
	if s.st.PPRef == nil {
		return FitResult{}, ErrNoProfile
	}
	if err := ctx.Err(); err != nil {
		return FitResult{}, err
	}

	st := s.st
	qn := s.cfg.QuasiNewton
	nchan := s.obs.NChan
	bw, f0 := s.obs.Bandwidth, s.obs.RefFreq

	cs, err := s.CyclicSpectrum(isub)
	if err != nil {
		return FitResult{}, err
	}
	dynspec := make([]float64, nchan)
	for c := range dynspec {
		dynspec[c] = real(cs.At(c, 0))
	}

	ref, err := cyclic.ReferenceHarmonics(st.PPRef, s.cfg.Convention)
	if err != nil {
		return FitResult{}, fmt.Errorf("solver: reference profile: %w", err)
	}

	var ht []complex128
	if st.NOpt == 0 || !qn.UseLastSolution {
		ht, err = s.initialFilter(isub, cs, ref)
	} else {
		ht, err = transform.Freq2Time(st.HFPrev)
	}
	if err != nil {
		return FitResult{}, err
	}

	rindex := st.RIndex
	if st.NOpt == 0 || qn.AdjustDelay {
		if qn.RIndex != nil {
			rindex = *qn.RIndex
		} else {
			rindex = PeakLag(ht)
		}
	}
	rindex = ((rindex % nchan) + nchan) % nchan

	var mask []bool
	if qn.MaxNeg != nil {
		length := nchan/2 + *qn.MaxNeg
		if qn.MaxLen != nil {
			length = *qn.MaxLen
		}
		mask = supportMask(nchan, rindex, *qn.MaxNeg, length)
	}
	ht = alignPhase(ht, rindex)

	geom, err := support.GeometryOf(cs, bw, f0)
	if err != nil {
		return FitResult{}, fmt.Errorf("solver: %w", err)
	}
	variance, nvalid, err := geom.Variance(cs)
	if err != nil {
		return FitResult{}, fmt.Errorf("solver: %w", err)
	}
	relTol, err := relativeTolerance(nvalid, nchan, s.obs.NBin, qn.TolFact)
	if err != nil {
		return FitResult{}, err
	}

	mctx, err := merit.NewContext(cs, ref, bw, f0, rindex)
	if err != nil {
		return FitResult{}, err
	}
	var evalOpts []merit.Option
	if s.cfg.Observer != nil {
		evalOpts = append(evalOpts, merit.WithObserver(s.cfg.Observer, qn.ObserverCadence))
	}
	eval := merit.NewEvaluator(mctx, evalOpts...)

	s.logger.Info("fitting subintegration", "isub", isub, "rindex", rindex, "variance", variance, "nvalid", nvalid, "ftol", relTol)

	fit, err := FitFilter(ctx, eval, ht, mask, relTol, qn, st, s.logger)
	if err != nil {
		return fit, err
	}

	hf, err := transform.Time2Freq(fit.Filter)
	if err != nil {
		return fit, fmt.Errorf("solver: %w", err)
	}
	hf = MatchFilters(st.HFPrev, hf)

	ph, err := cyclic.OptimalProfile(cs, hf, bw, f0)
	if err != nil {
		return fit, fmt.Errorf("solver: %w", err)
	}
	ph[0] = 0
	pp, err := transform.Harm2Phase(ph)
	if err != nil {
		return fit, fmt.Errorf("solver: %w", err)
	}

	if st.NOpt == 0 {
		st.PPInt = make([]float64, s.obs.NBin)
	}
	st.RIndex = rindex
	st.DynamicSpectrum[isub] = dynspec
	st.OptimizedFilters[isub] = hf
	st.HFPrev = append([]complex128(nil), hf...)
	st.IntrinsicProfiles[isub] = pp
	floats.Add(st.PPInt, pp)
	st.NOpt++

	s.logger.Info("subintegration done", "isub", isub, "merit", fit.Merit, "evaluations", fit.Evaluations, "converged", fit.Converged, "nopt", st.NOpt)
	return fit, nil
}

// Solve runs Loop over every subintegration, checkpointing after each,
// and then makes the accumulated intrinsic profile the new reference.
func (s *Solver) Solve(ctx context.Context) error {
	for isub := 0; isub < s.obs.NSub; isub++ {
		if _, err := s.Loop(ctx, isub); err != nil {
			return fmt.Errorf("subintegration %d: %w", isub, err)
		}
		if cp := s.cfg.Checkpointer; cp != nil {
			if err := cp.Save(ctx, s.st); err != nil {
				return err
			}
			s.logger.Debug("checkpoint saved", "nopt", s.st.NOpt)
		}
	}
	s.st.PPRef = append([]float64(nil), s.st.PPInt...)
	s.st.NLoop++
	s.logger.Info("pass complete", "nloop", s.st.NLoop)
	return nil
}

// SolveWavefield fits all subintegrations jointly as one Doppler–delay
// wavefield. Subintegrations already fitted by Loop start from their
// filters, the others from a delta at the phase-gradient delay. The best
// filters replace OptimizedFilters and the intrinsic profiles are
// recomputed from them.
func (s *Solver) SolveWavefield(ctx context.Context) (fista.Result, error) {
	if s.st.PPRef == nil {
		return fista.Result{}, ErrNoProfile
	}
	st := s.st
	nchan := s.obs.NChan
	bw, f0 := s.obs.Bandwidth, s.obs.RefFreq

	ref, err := cyclic.ReferenceHarmonics(st.PPRef, s.cfg.Convention)
	if err != nil {
		return fista.Result{}, fmt.Errorf("solver: reference profile: %w", err)
	}

	rindex := ((st.RIndex % nchan) + nchan) % nchan
	fitted, err := transform.RowsFreq2Time(cmat.FromRows(st.OptimizedFilters))
	if err != nil {
		return fista.Result{}, fmt.Errorf("solver: %w", err)
	}

	evals := make([]*merit.Evaluator, s.obs.NSub)
	specs := make([]*mat.CDense, s.obs.NSub)
	filters := make([][]complex128, s.obs.NSub)
	for isub := range evals {
		cs, err := s.CyclicSpectrum(isub)
		if err != nil {
			return fista.Result{}, err
		}
		specs[isub] = cs
		mctx, err := merit.NewContext(cs, ref, bw, f0, rindex)
		if err != nil {
			return fista.Result{}, err
		}
		evals[isub] = merit.NewEvaluator(mctx)

		if nonzero(st.OptimizedFilters[isub]) {
			filters[isub] = cmat.Row(fitted, isub)
			continue
		}
		delay, err := PhaseGradientDelay(cs, ref, bw, f0)
		if err != nil {
			return fista.Result{}, err
		}
		filters[isub] = Delta(nchan, delay)
	}

	w0, err := fista.InitWavefield(filters)
	if err != nil {
		return fista.Result{}, err
	}

	var runOpts []fista.Option
	if s.cfg.Observer != nil {
		runOpts = append(runOpts, fista.WithObserver(s.cfg.Observer, s.cfg.FISTA.ObserverCadence))
	}
	res, runErr := fista.Run(ctx, evals, w0, s.cfg.FISTA, st, runOpts...)
	if res.Filters == nil {
		return res, runErr
	}

	hfs, err := transform.RowsTime2Freq(res.Filters)
	if err != nil {
		return res, fmt.Errorf("solver: %w", err)
	}
	pint := make([]float64, s.obs.NBin)
	for isub := range evals {
		hf := cmat.Row(hfs, isub)
		ph, err := cyclic.OptimalProfile(specs[isub], hf, bw, f0)
		if err != nil {
			return res, fmt.Errorf("solver: %w", err)
		}
		ph[0] = 0
		pp, err := transform.Harm2Phase(ph)
		if err != nil {
			return res, fmt.Errorf("solver: %w", err)
		}
		st.OptimizedFilters[isub] = hf
		st.IntrinsicProfiles[isub] = pp
		floats.Add(pint, pp)
	}
	st.PPInt = pint
	st.HFPrev = append([]complex128(nil), st.OptimizedFilters[s.obs.NSub-1]...)

	return res, runErr
}

func nonzero(v []complex128) bool {
	for _, x := range v {
		if x != 0 {
			return true
		}
	}
	return false
}
