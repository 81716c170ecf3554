package irf

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-vecmath"
	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/algo-cyclic/dsp/transform"
)

// Errors returned by the analyzer.
var (
	ErrEmptyFilter      = errors.New("irf: filter is empty")
	ErrZeroFilter       = errors.New("irf: filter has no energy")
	ErrInvalidBandwidth = errors.New("irf: bandwidth must be positive")
	ErrInvalidDelay     = errors.New("irf: delay must be positive")
	ErrNoDecay          = errors.New("irf: no measurable decay")
)

// dBPerNeper is 10·log10(e): an energy decay of one e-fold in dB.
const dBPerNeper = 10 / math.Ln10

// Metrics holds the shape of one impulse response function.
type Metrics struct {
	PeakLag           int     // lag of the strongest coefficient
	PeakDelay         float64 // signed delay of the peak in µs
	ScatteringTime    float64 // 1/e energy decay time of the tail in µs
	CentreDelay       float64 // energy centroid of the tail in µs
	PrecursorFraction float64 // share of the energy outside the tail
	Energy            float64 // Σ|h|²
}

// Analyzer computes impulse response metrics for filters sampled at a
// given bandwidth.
type Analyzer struct {
	Bandwidth float64 // MHz
}

// NewAnalyzer creates an analyzer for filters spanning bandwidth MHz.
func NewAnalyzer(bandwidth float64) *Analyzer {
	return &Analyzer{Bandwidth: bandwidth}
}

// Analyze computes all metrics of the lag-domain filter ht.
func (a *Analyzer) Analyze(ht []complex128) (Metrics, error) {
	if err := a.check(ht); err != nil {
		return Metrics{}, err
	}

	p := Power(ht)
	energy := floats.Sum(p)
	if energy <= 0 {
		return Metrics{}, ErrZeroFilter
	}

	peak := floats.MaxIdx(p)
	t, precursor := tail(p, peak)

	return Metrics{
		PeakLag:           peak,
		PeakDelay:         a.LagDelay(peak, len(ht)),
		ScatteringTime:    a.decayTime(schroederIntegral(t), 0, -10),
		CentreDelay:       a.centreDelay(t),
		PrecursorFraction: precursor / energy,
		Energy:            energy,
	}, nil
}

// AnalyzeSpectrum computes the metrics of a frequency-domain filter.
func (a *Analyzer) AnalyzeSpectrum(hf []complex128) (Metrics, error) {
	if len(hf) == 0 {
		return Metrics{}, ErrEmptyFilter
	}

	ht, err := transform.Freq2Time(hf)
	if err != nil {
		return Metrics{}, err
	}

	return a.Analyze(ht)
}

// LagDelay converts lag l of an n-lag filter into a signed delay in µs.
// Lags past n/2 wrap to negative delays.
func (a *Analyzer) LagDelay(l, n int) float64 {
	if l > n/2 {
		l -= n
	}

	return float64(l) / a.Bandwidth
}

// Power returns |h|² for every lag of ht.
func Power(ht []complex128) []float64 {
	re := make([]float64, len(ht))
	im := make([]float64, len(ht))
	for i, v := range ht {
		re[i] = real(v)
		im[i] = imag(v)
	}

	p := make([]float64, len(ht))
	vecmath.Power(p, re, im)

	return p
}

// SchroederIntegral returns the backward integral of the tail energy in
// dB relative to the tail total.
func (a *Analyzer) SchroederIntegral(ht []complex128) ([]float64, error) {
	if len(ht) == 0 {
		return nil, ErrEmptyFilter
	}

	p := Power(ht)
	t, _ := tail(p, floats.MaxIdx(p))

	return schroederIntegral(t), nil
}

// ScatteringTime returns the 1/e energy decay time of the tail in µs.
func (a *Analyzer) ScatteringTime(ht []complex128) (float64, error) {
	if err := a.check(ht); err != nil {
		return 0, err
	}

	p := Power(ht)
	t, _ := tail(p, floats.MaxIdx(p))

	tau := a.decayTime(schroederIntegral(t), 0, -10)
	if tau <= 0 {
		return 0, ErrNoDecay
	}

	return tau, nil
}

// Definition returns the share of the tail energy arriving within delay
// µs of the peak, a ratio between 0 and 1.
func (a *Analyzer) Definition(ht []complex128, delay float64) (float64, error) {
	t, err := a.checkedTail(ht, delay)
	if err != nil {
		return 0, err
	}

	early, late := a.split(t, delay)
	if early+late <= 0 {
		return 0, nil
	}

	return early / (early + late), nil
}

// Clarity returns the ratio of tail energy before and after delay µs in dB.
func (a *Analyzer) Clarity(ht []complex128, delay float64) (float64, error) {
	t, err := a.checkedTail(ht, delay)
	if err != nil {
		return 0, err
	}

	early, late := a.split(t, delay)
	switch {
	case late <= 0:
		return math.Inf(1), nil
	case early <= 0:
		return math.Inf(-1), nil
	}

	return 10 * math.Log10(early/late), nil
}

func (a *Analyzer) check(ht []complex128) error {
	if len(ht) == 0 {
		return ErrEmptyFilter
	}

	if a.Bandwidth <= 0 || math.IsNaN(a.Bandwidth) || math.IsInf(a.Bandwidth, 0) {
		return ErrInvalidBandwidth
	}

	return nil
}

func (a *Analyzer) checkedTail(ht []complex128, delay float64) ([]float64, error) {
	if err := a.check(ht); err != nil {
		return nil, err
	}

	if delay <= 0 {
		return nil, ErrInvalidDelay
	}

	p := Power(ht)
	t, _ := tail(p, floats.MaxIdx(p))

	return t, nil
}

// split sums the tail energy before and after the lag nearest to delay.
func (a *Analyzer) split(t []float64, delay float64) (early, late float64) {
	boundary := int(math.Round(delay * a.Bandwidth))
	if boundary > len(t) {
		boundary = len(t)
	}

	return floats.Sum(t[:boundary]), floats.Sum(t[boundary:])
}

// tail returns the n/2+1 energies starting at lag peak, wrapping around,
// and the energy of the lags it leaves out.
func tail(p []float64, peak int) ([]float64, float64) {
	n := len(p)
	out := make([]float64, n/2+1)
	for i := range out {
		out[i] = p[(peak+i)%n]
	}

	var rest float64
	for i := len(out); i < n; i++ {
		rest += p[(peak+i)%n]
	}

	return out, rest
}

func schroederIntegral(e []float64) []float64 {
	result := make([]float64, len(e))

	var cumSum float64
	for i := len(e) - 1; i >= 0; i-- {
		cumSum += e[i]
		result[i] = cumSum
	}

	total := result[0]
	if total <= 0 {
		return result
	}

	for i := range result {
		ratio := result[i] / total
		if ratio <= 0 {
			result[i] = -200
		} else {
			result[i] = 10 * math.Log10(ratio)
		}
	}

	return result
}

// decayTime fits a line to the Schroeder curve between startDB and endDB
// and returns the time the energy takes to fall by one e-fold, in µs.
// It returns 0 when the curve never crosses the range.
func (a *Analyzer) decayTime(schroeder []float64, startDB, endDB float64) float64 {
	startIdx, endIdx := -1, -1
	for i, v := range schroeder {
		if startIdx < 0 && v <= startDB {
			startIdx = i
		}

		if startIdx >= 0 && v <= endDB {
			endIdx = i
			break
		}
	}

	if startIdx < 0 || endIdx <= startIdx {
		return 0
	}

	n := float64(endIdx - startIdx + 1)

	var sumX, sumY, sumXX, sumXY float64
	for i := startIdx; i <= endIdx; i++ {
		x := float64(i - startIdx)
		y := schroeder[i]
		sumX += x
		sumY += y
		sumXX += x * x
		sumXY += x * y
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}

	// dB per lag
	slope := (n*sumXY - sumX*sumY) / denom
	if slope >= 0 {
		return 0
	}

	return -dBPerNeper / slope / a.Bandwidth
}

func (a *Analyzer) centreDelay(t []float64) float64 {
	var num, den float64
	for i, e := range t {
		num += float64(i) * e
		den += e
	}

	if den <= 0 {
		return 0
	}

	return num / den / a.Bandwidth
}
