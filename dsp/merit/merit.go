// Package merit evaluates the least-squares misfit between a measured cyclic
// spectrum and the forward model of a candidate filter, together with its
// exact gradient with respect to the lag-domain filter.
//
// With residual D = M − C and the shears H± of the filter, the merit is
// 2·Σ_{h≥1} |D|² and the complex gradient per lag is
//
//	g[l] = 4/N Σ_{h≥1} cc(D·H₋)[l,h]·e^{iφ[l,h]}·conj(s[h])
//	     + 4/N Σ_{h≥1} cc(conj(D)·H₊)[l,h]·e^{−iφ[l,h]}·s[h]
//
// where cc is the cyclic correlation transform and φ the phases of the −0.5
// shear. Re g and Im g are the partial derivatives with respect to the real
// and imaginary part of every lag.
package merit

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/dsp/cyclic"
	"github.com/cwbudde/algo-cyclic/dsp/support"
	"github.com/cwbudde/algo-cyclic/dsp/transform"
	"github.com/cwbudde/algo-cyclic/internal/cmat"
	"github.com/cwbudde/algo-cyclic/solver/state"
)

// Errors returned by the evaluator.
var (
	ErrInvalidContext = errors.New("merit: invalid solver context")
	ErrFilterLength   = errors.New("merit: filter length does not match channel count")
)

// Context is the read-only data of one solve. Build it with NewContext and
// do not modify it afterwards.
type Context struct {
	CS        *mat.CDense  // measured cyclic spectrum, padded
	Profile   []complex128 // reference harmonics, DC = 0
	Bandwidth float64      // MHz
	RefFreq   float64      // Hz
	RIndex    int          // reference lag
	NChan     int
	NBin      int
}

// NewContext validates its inputs and returns a Context holding a padded
// copy of cs.
func NewContext(cs *mat.CDense, profile []complex128, bw, f0 float64, rindex int) (*Context, error) {
	if cs == nil {
		return nil, fmt.Errorf("%w: nil spectrum", ErrInvalidContext)
	}
	nchan, nharm := cs.Dims()
	if len(profile) != nharm {
		return nil, fmt.Errorf("%w: profile has %d harmonics, spectrum %d", ErrInvalidContext, len(profile), nharm)
	}
	if rindex < 0 || rindex >= nchan {
		return nil, fmt.Errorf("%w: reference lag %d outside [0, %d)", ErrInvalidContext, rindex, nchan)
	}

	geom, err := support.NewGeometry(nchan, nharm, bw, f0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	padded := cmat.Clone(cs)
	if err := geom.Pad(padded); err != nil {
		return nil, err
	}

	return &Context{
		CS:        padded,
		Profile:   append([]complex128(nil), profile...),
		Bandwidth: bw,
		RefFreq:   f0,
		RIndex:    rindex,
		NChan:     nchan,
		NBin:      2 * (nharm - 1),
	}, nil
}

// Evaluation is the result of one objective evaluation.
type Evaluation struct {
	Merit      float64
	Gradient   []complex128 // per lag
	Model      *mat.CDense
	Residual   *mat.CDense // model − measured
	FilterTime []complex128
	FilterFreq []complex128
}

// Event is passed to an Observer after an evaluation.
type Event struct {
	Evaluation int
	Merit      float64
	Gradient   []complex128
	Model      *mat.CDense
	Residual   *mat.CDense
	Filter     []complex128 // lag domain
}

// Observer receives diagnostic events. It must not modify the event data.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

// Observe implements Observer.
func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Evaluator computes merits and gradients for one Context.
type Evaluator struct {
	ctx      *Context
	observer Observer
	cadence  int
	count    int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithObserver calls obs after every cadence-th evaluation. A cadence
// below 1 means every evaluation.
func WithObserver(obs Observer, cadence int) Option {
	return func(e *Evaluator) {
		e.observer = obs
		e.cadence = max(cadence, 1)
	}
}

// NewEvaluator returns an evaluator for ctx.
func NewEvaluator(ctx *Context, opts ...Option) *Evaluator {
	e := &Evaluator{ctx: ctx, cadence: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Context returns the evaluator's solver context.
func (e *Evaluator) Context() *Context { return e.ctx }

// EvaluateComplex returns the merit and the complex gradient over all lags
// of the lag-domain filter ht.
func (e *Evaluator) EvaluateComplex(ht []complex128) (Evaluation, error) {
	c := e.ctx
	if len(ht) != c.NChan {
		return Evaluation{}, fmt.Errorf("%w: got %d, want %d", ErrFilterLength, len(ht), c.NChan)
	}

	hf, err := transform.Time2Freq(ht)
	if err != nil {
		return Evaluation{}, fmt.Errorf("merit: %w", err)
	}
	model, err := cyclic.BuildModel(hf, c.Profile, c.Bandwidth, c.RefFreq)
	if err != nil {
		return Evaluation{}, fmt.Errorf("merit: %w", err)
	}

	nchan, nharm := model.CS.Dims()
	residual := mat.NewCDense(nchan, nharm, nil)
	res := residual.RawCMatrix()
	mod := model.CS.RawCMatrix()
	meas := c.CS.RawCMatrix()

	// Products correlated back into the lag domain.
	minusProd := mat.NewCDense(nchan, nharm, nil)
	plusProd := mat.NewCDense(nchan, nharm, nil)
	mp := minusProd.RawCMatrix()
	pp := plusProd.RawCMatrix()
	minus := model.Minus.RawCMatrix()
	plus := model.Plus.RawCMatrix()

	var merit float64
	for ch := 0; ch < nchan; ch++ {
		for h := 0; h < nharm; h++ {
			d := mod.Data[ch*mod.Stride+h] - meas.Data[ch*meas.Stride+h]
			res.Data[ch*res.Stride+h] = d
			if h == 0 {
				continue
			}
			merit += real(d)*real(d) + imag(d)*imag(d)
			mp.Data[ch*mp.Stride+h] = d * minus.Data[ch*minus.Stride+h]
			pp.Data[ch*pp.Stride+h] = cmplx.Conj(d) * plus.Data[ch*plus.Stride+h]
		}
	}
	merit *= 2

	cc1, err := transform.CS2CC(minusProd)
	if err != nil {
		return Evaluation{}, fmt.Errorf("merit: %w", err)
	}
	cc2, err := transform.CS2CC(plusProd)
	if err != nil {
		return Evaluation{}, fmt.Errorf("merit: %w", err)
	}

	a := cc1.RawCMatrix()
	b := cc2.RawCMatrix()
	ph := model.MinusPhases.RawMatrix()
	scale := complex(4/float64(nchan), 0)
	grad := make([]complex128, nchan)
	for l := range grad {
		var sum complex128
		for h := 1; h < nharm; h++ {
			sin, cos := math.Sincos(ph.Data[l*ph.Stride+h])
			rot := complex(cos, sin)
			s := c.Profile[h]
			sum += a.Data[l*a.Stride+h] * rot * cmplx.Conj(s)
			sum += b.Data[l*b.Stride+h] * cmplx.Conj(rot) * s
		}
		grad[l] = scale * sum
	}

	return Evaluation{
		Merit:      merit,
		Gradient:   grad,
		Model:      model.CS,
		Residual:   residual,
		FilterTime: ht,
		FilterFreq: hf,
	}, nil
}

// Evaluate decodes the parameter vector x, evaluates it and returns the
// merit and its gradient in the same parameter layout. The merit is
// recorded in st, which may be nil.
func (e *Evaluator) Evaluate(x []float64, st *state.State) (float64, []float64, error) {
	ht, err := Decode(x, e.ctx.RIndex)
	if err != nil {
		return 0, nil, err
	}
	if len(ht) != e.ctx.NChan {
		return 0, nil, fmt.Errorf("%w: got %d, want %d", ErrFilterLength, len(ht), e.ctx.NChan)
	}

	ev, err := e.EvaluateComplex(ht)
	if err != nil {
		return 0, nil, err
	}

	if st != nil {
		st.Record(ev.Merit)
	}
	e.Notify(ev)

	return ev.Merit, Encode(ev.Gradient, e.ctx.RIndex), nil
}

// Notify counts an evaluation and forwards it to the observer when the
// cadence is due.
func (e *Evaluator) Notify(ev Evaluation) {
	e.count++
	if e.observer == nil || e.count%e.cadence != 0 {
		return
	}
	e.observer.Observe(Event{
		Evaluation: e.count,
		Merit:      ev.Merit,
		Gradient:   ev.Gradient,
		Model:      ev.Model,
		Residual:   ev.Residual,
		Filter:     ev.FilterTime,
	})
}
