// Package fista fits a Doppler–delay wavefield to a sequence of cyclic
// spectra with an accelerated proximal-gradient (FISTA) iteration.
//
// The wavefield W has one row per Doppler bin and one column per delay.
// The filter of subintegration t is the unitary inverse DFT of W along the
// Doppler axis,
//
//	h[t,·] = (1/√S) Σ_d W[d,·] e^{+2πi·d·t/S}
//
// and the total merit is the sum of the per-subintegration merits. The
// gradient reaches W through the adjoint, the unitary forward DFT.
//
// Each iteration takes one step of size α = stepFactor/L_max from the
// extrapolated point, where L_max is the largest local Lipschitz estimate
// seen so far. A step that increases the merit shrinks the step factor and
// restarts the momentum; otherwise the factor grows as
// tanh(stepFactor·acceleration). The iteration runs for a fixed budget.
package fista

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/cmplxs"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/dsp/merit"
	"github.com/cwbudde/algo-cyclic/dsp/transform"
	"github.com/cwbudde/algo-cyclic/internal/cmat"
	"github.com/cwbudde/algo-cyclic/solver/state"
)

// InitWavefield stacks per-subintegration lag-domain filters and transforms
// them to the Doppler axis.
func InitWavefield(filters [][]complex128) (*mat.CDense, error) {
	if len(filters) == 0 {
		return nil, ErrNoSegments
	}
	n := len(filters[0])
	for i, f := range filters {
		if len(f) != n || n == 0 {
			return nil, fmt.Errorf("%w: filter %d has %d lags, want %d", ErrShape, i, len(f), n)
		}
	}
	w, err := transform.UnitaryCols(cmat.FromRows(filters), false)
	if err != nil {
		return nil, fmt.Errorf("fista: %w", err)
	}
	return w, nil
}

// Filters returns the lag-domain filter of every subintegration (one per
// row) described by wavefield w.
func Filters(w *mat.CDense) (*mat.CDense, error) {
	h, err := transform.UnitaryCols(w, true)
	if err != nil {
		return nil, fmt.Errorf("fista: %w", err)
	}
	return h, nil
}

// Result is the outcome of a run.
type Result struct {
	Wavefield  *mat.CDense // best wavefield
	Filters    *mat.CDense // lag-domain filters of the best wavefield
	Merit      float64     // best merit
	Iterations int
	BestMerits []float64 // best merit after every iteration
	Restarts   int       // momentum restarts after a merit increase
	Resets     int       // returns to the best wavefield
}

// objective sums the merits of all subintegrations for a wavefield.
type objective struct {
	evals    []*merit.Evaluator
	st       *state.State
	observer merit.Observer
	cadence  int
	count    int
}

func (o *objective) eval(w *mat.CDense) (float64, *mat.CDense, error) {
	h, err := Filters(w)
	if err != nil {
		return 0, nil, err
	}

	rows, cols := h.Dims()
	gh := mat.NewCDense(rows, cols, nil)
	var total float64
	for t, ev := range o.evals {
		res, err := ev.EvaluateComplex(cmat.Row(h, t))
		if err != nil {
			return 0, nil, fmt.Errorf("fista: subintegration %d: %w", t, err)
		}
		total += res.Merit
		cmat.SetRow(gh, t, res.Gradient)
	}

	grad, err := transform.UnitaryCols(gh, false)
	if err != nil {
		return 0, nil, fmt.Errorf("fista: %w", err)
	}

	o.st.Record(total)
	o.count++
	if o.observer != nil && o.count%o.cadence == 0 {
		o.observer.Observe(merit.Event{
			Evaluation: o.count,
			Merit:      total,
			Gradient:   grad.RawCMatrix().Data,
			Filter:     w.RawCMatrix().Data,
		})
	}

	return total, grad, nil
}

// Option configures a run.
type Option func(*objective)

// WithObserver reports every cadence-th wavefield evaluation to obs. The
// event carries the flattened wavefield and gradient.
func WithObserver(obs merit.Observer, cadence int) Option {
	return func(o *objective) {
		o.observer = obs
		o.cadence = max(cadence, 1)
	}
}

// Run iterates from wavefield w0. evals holds one evaluator per row of w0.
// Progress is recorded in st; its history is reset first. On cancellation
// the best result so far is returned together with ctx.Err().
func Run(ctx context.Context, evals []*merit.Evaluator, w0 *mat.CDense, cfg Config, st *state.State, opts ...Option) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if len(evals) == 0 {
		return Result{}, ErrNoSegments
	}
	if w0 == nil {
		return Result{}, fmt.Errorf("%w: nil wavefield", ErrShape)
	}
	rows, cols := w0.Dims()
	if rows != len(evals) {
		return Result{}, fmt.Errorf("%w: %d doppler rows for %d subintegrations", ErrShape, rows, len(evals))
	}
	for i, ev := range evals {
		if n := ev.Context().NChan; n != cols {
			return Result{}, fmt.Errorf("%w: subintegration %d has %d channels, wavefield %d", ErrShape, i, n, cols)
		}
	}

	prox, err := NewProx(cfg, rows, cols)
	if err != nil {
		return Result{}, err
	}

	if st == nil {
		st = state.New(0, 0, 0)
	}
	st.ResetHistory()

	obj := &objective{evals: evals, st: st, cadence: 1}
	for _, opt := range opts {
		opt(obj)
	}
	logger := cfg.logger()

	x := cmat.Clone(w0)
	y := cmat.Clone(w0)
	fy, gy, err := obj.eval(y)
	if err != nil {
		return Result{}, err
	}

	t := 1.0
	stepFactor := cfg.StepFactor
	lmax := 1 / cfg.Alpha
	alpha := cfg.Alpha
	prev := fy
	best := fy
	bestX := cmat.Clone(x)
	st.OfferWavefield(fy, x)

	logger.Info("fista start", "merit", fy, "rows", rows, "cols", cols)

	res := Result{Merit: best}
	finish := func() (Result, error) {
		res.Wavefield = bestX
		res.Merit = best
		h, err := Filters(bestX)
		if err != nil {
			return res, err
		}
		res.Filters = h
		return res, nil
	}

	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			out, ferr := finish()
			if ferr != nil {
				return out, ferr
			}
			return out, err
		}

		xn := step(y, gy, alpha)
		prox.Apply(xn, alpha)

		fx, gx, err := obj.eval(xn)
		if err != nil {
			return res, err
		}

		if dx := distance(xn, y); dx > 0 {
			if l := distance(gx, gy) / dx; l > lmax {
				lmax = l
			}
		}

		if fx < best {
			best = fx
			bestX = cmat.Clone(xn)
			st.OfferWavefield(fx, xn)
		}

		tn := (1 + math.Sqrt(1+4*t*t)) / 2
		yn := extrapolate(xn, x, (t-1)/tn)

		next := fx
		if fx > prev {
			if cfg.ResetToBest && stepFactor < cfg.MinStepFactor {
				logger.Debug("fista reset to best", "iteration", i, "best", best)
				xn = cmat.Clone(bestX)
				next = best
				stepFactor = cfg.MinStepFactor
				res.Resets++
			} else {
				stepFactor /= cfg.Acceleration
				res.Restarts++
			}
			// Drop the momentum so the next step is a plain gradient step.
			yn = cmat.Clone(xn)
			tn = 1
		} else {
			stepFactor = math.Tanh(stepFactor * cfg.Acceleration)
		}

		alpha = stepFactor / lmax
		prev = next
		x, y, t = xn, yn, tn

		st.Iteration = i + 1
		st.StepFactor = stepFactor
		st.T = t
		st.LMax = lmax
		st.Alpha = alpha
		res.Iterations = i + 1
		res.BestMerits = append(res.BestMerits, best)

		logger.Debug("fista step", "iteration", i, "merit", fx, "best", best, "alpha", alpha, "step_factor", stepFactor)

		if i+1 < cfg.Iterations {
			fy, gy, err = obj.eval(y)
			if err != nil {
				return res, err
			}
		}
	}

	logger.Info("fista done", "iterations", res.Iterations, "merit", best, "restarts", res.Restarts, "resets", res.Resets)
	return finish()
}

// step returns y − α·g.
func step(y, g *mat.CDense, alpha float64) *mat.CDense {
	out := cmat.Clone(y)
	cmplxs.AddScaled(cmat.Flat(out), complex(-alpha, 0), cmat.Flat(g))
	return out
}

// extrapolate returns x + β(x − prev).
func extrapolate(x, prev *mat.CDense, beta float64) *mat.CDense {
	out := cmat.Clone(x)
	data := cmat.Flat(out)
	cmplxs.ScaleReal(1+beta, data)
	cmplxs.AddScaled(data, complex(-beta, 0), cmat.Flat(prev))
	return out
}

// distance returns the Frobenius norm of a − b.
func distance(a, b *mat.CDense) float64 {
	return cmplxs.Distance(cmat.Flat(a), cmat.Flat(b), 2)
}
