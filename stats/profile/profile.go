// Package profile computes summary statistics of folded pulse profiles:
// off-pulse baseline and noise, peak signal-to-noise ratio, pulse widths
// and the phase centroid.
package profile

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Errors returned by profile statistics.
var (
	ErrEmptyProfile = errors.New("profile: profile is empty")
	ErrWindow       = errors.New("profile: off-pulse window out of range")
)

// Stats holds the statistics of one pulse profile. Bins wrap around, so
// windows and widths may cross phase zero.
type Stats struct {
	NBin     int
	OffStart int // first bin of the off-pulse window
	OffLen   int

	Baseline    float64 // off-pulse mean
	OffPulseRMS float64 // off-pulse standard deviation

	Peak    float64 // maximum above the baseline
	PeakBin int
	SNR     float64 // Peak / OffPulseRMS, +Inf for a noiseless baseline

	W50 int // contiguous bins around the peak above half of it
	W10 int // same at a tenth of the peak

	Flux     float64 // Σ (p − baseline)
	Centroid float64 // circular mean phase of the on-pulse signal in [0, 1)
}

// DefaultOffPulseLen returns the off-pulse window length used by
// Calculate: a quarter of the profile, at least two bins.
func DefaultOffPulseLen(nbin int) int {
	return min(max(nbin/4, 2), nbin)
}

// Calculate computes the statistics of pp using the quietest window of
// DefaultOffPulseLen bins as the off-pulse region.
func Calculate(pp []float64) (Stats, error) {
	if len(pp) == 0 {
		return Stats{}, ErrEmptyProfile
	}

	n := DefaultOffPulseLen(len(pp))
	start, err := OffPulseWindow(pp, n)
	if err != nil {
		return Stats{}, err
	}

	return CalculateWindow(pp, start, n)
}

// CalculateWindow computes the statistics of pp with the off-pulse region
// given as length bins starting at start.
func CalculateWindow(pp []float64, start, length int) (Stats, error) {
	nbin := len(pp)
	if nbin == 0 {
		return Stats{}, ErrEmptyProfile
	}
	if start < 0 || start >= nbin || length < 1 || length > nbin {
		return Stats{}, fmt.Errorf("%w: start %d, length %d of %d bins", ErrWindow, start, length, nbin)
	}

	off := make([]float64, length)
	for i := range off {
		off[i] = pp[(start+i)%nbin]
	}

	var baseline, rms float64
	if length > 1 {
		baseline, rms = stat.MeanStdDev(off, nil)
	} else {
		baseline = off[0]
	}

	peakBin := floats.MaxIdx(pp)
	s := Stats{
		NBin:        nbin,
		OffStart:    start,
		OffLen:      length,
		Baseline:    baseline,
		OffPulseRMS: rms,
		Peak:        pp[peakBin] - baseline,
		PeakBin:     peakBin,
		Flux:        floats.Sum(pp) - float64(nbin)*baseline,
	}

	switch {
	case rms > 0:
		s.SNR = s.Peak / rms
	case s.Peak > 0:
		s.SNR = math.Inf(1)
	}

	s.W50 = width(pp, peakBin, baseline, 0.5*s.Peak)
	s.W10 = width(pp, peakBin, baseline, 0.1*s.Peak)
	s.Centroid = centroid(pp, baseline)

	return s, nil
}

// OffPulseWindow returns the start of the length-bin window, wrapping
// around the end, with the smallest sum.
func OffPulseWindow(pp []float64, length int) (int, error) {
	nbin := len(pp)
	if nbin == 0 {
		return 0, ErrEmptyProfile
	}
	if length < 1 || length > nbin {
		return 0, fmt.Errorf("%w: length %d of %d bins", ErrWindow, length, nbin)
	}

	sum := floats.Sum(pp[:length])
	best, bestSum := 0, sum
	for s := 1; s < nbin; s++ {
		sum += pp[(s+length-1)%nbin] - pp[s-1]
		if sum < bestSum {
			best, bestSum = s, sum
		}
	}

	return best, nil
}

// width counts the contiguous bins around peak whose value above the
// baseline reaches level.
func width(pp []float64, peak int, baseline, level float64) int {
	nbin := len(pp)
	if pp[peak]-baseline < level {
		return 0
	}

	w := 1
	for i := 1; w < nbin && pp[(peak+i)%nbin]-baseline >= level; i++ {
		w++
	}
	for i := 1; w < nbin && pp[((peak-i)%nbin+nbin)%nbin]-baseline >= level; i++ {
		w++
	}

	return w
}

func centroid(pp []float64, baseline float64) float64 {
	nbin := float64(len(pp))

	var c, s float64
	for i, v := range pp {
		w := v - baseline
		if w <= 0 {
			continue
		}
		phi := 2 * math.Pi * float64(i) / nbin
		c += w * math.Cos(phi)
		s += w * math.Sin(phi)
	}

	if c == 0 && s == 0 {
		return 0
	}

	phase := math.Atan2(s, c) / (2 * math.Pi)
	if phase < 0 {
		phase++
	}

	return phase
}
