package solver

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/cwbudde/algo-cyclic/dsp/merit"
	"github.com/cwbudde/algo-cyclic/solver/state"
)

// FitResult is the outcome of one bounded quasi-Newton filter fit.
type FitResult struct {
	Filter      []complex128 // best lag-domain filter
	Merit       float64
	Converged   bool
	Status      optimize.Status
	Evaluations int
	Iterations  int
}

// problem adapts an evaluator to gonum's split Func/Grad interface. Only
// the parameters listed in free are exposed; the rest keep the value they
// have in full. The last evaluation is cached because gonum asks for the
// function and the gradient at the same point separately.
type problem struct {
	ctx  context.Context
	eval *merit.Evaluator
	st   *state.State

	full []float64
	free []int

	lastX []float64
	lastF float64
	lastG []float64
	err   error
}

func (p *problem) evaluate(x []float64) {
	if p.lastX != nil && floats.Equal(x, p.lastX) {
		return
	}
	for i, k := range p.free {
		p.full[k] = x[i]
	}

	f, g, err := p.eval.Evaluate(p.full, p.st)
	if err != nil {
		p.err = err
		f = math.Inf(1)
		g = make([]float64, len(p.full))
	}

	p.lastX = append(p.lastX[:0], x...)
	p.lastF = f
	if p.lastG == nil {
		p.lastG = make([]float64, len(p.free))
	}
	for i, k := range p.free {
		p.lastG[i] = g[k]
	}

	if err == nil {
		ht, derr := merit.Decode(p.full, p.eval.Context().RIndex)
		if derr == nil {
			p.st.Offer(f, ht)
		}
	}
}

func (p *problem) value(x []float64) float64 {
	p.evaluate(x)
	return p.lastF
}

func (p *problem) gradient(grad, x []float64) {
	p.evaluate(x)
	copy(grad, p.lastG)
}

func (p *problem) status() (optimize.Status, error) {
	if p.err != nil {
		return optimize.Failure, p.err
	}
	if err := p.ctx.Err(); err != nil {
		return optimize.RuntimeLimit, err
	}
	return optimize.NotTerminated, nil
}

// FitFilter minimizes the merit of eval over the lag-domain filter starting
// from ht0. Lags outside mask are held at zero; a nil mask frees every lag.
// The search stops once an iteration improves the merit by less than
// relTol relative to its size, or after cfg.MaxFun evaluations. Running out
// of evaluations is not an error: the best filter seen is returned with
// Converged unset. st receives the merit history and the best filter; its
// history is reset first.
func FitFilter(ctx context.Context, eval *merit.Evaluator, ht0 []complex128, mask []bool, relTol float64, cfg QuasiNewtonConfig, st *state.State, logger *log.Logger) (FitResult, error) {
	if err := ctx.Err(); err != nil {
		return FitResult{}, err
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	mc := eval.Context()
	if len(ht0) != mc.NChan {
		return FitResult{}, fmt.Errorf("%w: initial filter has %d lags, want %d", merit.ErrFilterLength, len(ht0), mc.NChan)
	}
	if mask == nil {
		mask = make([]bool, mc.NChan)
		for i := range mask {
			mask[i] = true
		}
	}

	st.ResetHistory()
	start := append([]complex128(nil), ht0...)
	for l, ok := range mask {
		if !ok {
			start[l] = 0
		}
	}

	p := &problem{
		ctx:  ctx,
		eval: eval,
		st:   st,
		full: merit.Encode(start, mc.RIndex),
		free: freeParams(mask, mc.RIndex),
	}

	if len(p.free) == 0 {
		f := p.value(nil)
		if p.err != nil {
			return FitResult{}, p.err
		}
		return FitResult{Filter: start, Merit: f, Converged: true, Status: optimize.Success, Evaluations: 1}, nil
	}

	x0 := make([]float64, len(p.free))
	for i, k := range p.free {
		x0[i] = p.full[k]
	}

	prob := optimize.Problem{
		Func:   p.value,
		Grad:   p.gradient,
		Status: p.status,
	}
	settings := &optimize.Settings{
		Converger: &optimize.FunctionConverge{
			Relative:   relTol,
			Iterations: 1,
		},
		FuncEvaluations: cfg.MaxFun,
	}
	res, err := optimize.Minimize(prob, x0, settings, &optimize.LBFGS{Store: cfg.Memory})

	if p.err != nil {
		return FitResult{}, p.err
	}
	if st.BestFilter == nil {
		if err != nil {
			return FitResult{}, fmt.Errorf("solver: minimize: %w", err)
		}
		return FitResult{}, fmt.Errorf("solver: minimize returned without an evaluation")
	}

	out := FitResult{
		Filter:      append([]complex128(nil), st.BestFilter...),
		Merit:       st.BestMerit,
		Evaluations: st.Evaluations,
	}
	if res != nil {
		out.Status = res.Status
		out.Iterations = res.MajorIterations
	}

	if cerr := ctx.Err(); cerr != nil {
		return out, cerr
	}

	out.Converged = err == nil && !exhausted(out.Status)
	switch {
	case err != nil:
		logger.Warn("minimizer stopped early", "err", err, "merit", out.Merit, "evaluations", out.Evaluations)
	case !out.Converged:
		logger.Warn("evaluation budget exhausted", "status", out.Status, "merit", out.Merit, "evaluations", out.Evaluations)
	default:
		logger.Debug("filter fit converged", "status", out.Status, "merit", out.Merit, "iterations", out.Iterations)
	}

	return out, nil
}

func exhausted(s optimize.Status) bool {
	switch s {
	case optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit,
		optimize.IterationLimit, optimize.RuntimeLimit:
		return true
	}
	return false
}

// relativeTolerance converts the noise statistics of a spectrum into the
// relative merit change that ends a fit: tolFact · 0.1/dof.
func relativeTolerance(nvalid, nchan, nbin int, tolFact float64) (float64, error) {
	dof := nvalid - (2*nchan - 1) - nbin
	if dof <= 0 {
		return 0, fmt.Errorf("%w: %d valid samples, %d parameters", ErrNoDegreesOfFreedom, nvalid, 2*nchan-1+nbin)
	}
	return tolFact * 0.1 / float64(dof), nil
}
