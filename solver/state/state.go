// Package state holds the mutable bookkeeping of a cyclic filter solve and
// its serialization schema.
//
// A State is owned by exactly one driver at a time. The objective evaluator
// appends to its history, the drivers record best-so-far estimates, and the
// orchestration layer accumulates per-subintegration results. The state
// never refers to the archive that produced the data, so it can be written
// out and resumed independently of it.
package state

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/internal/cmat"
)

// State is the mutable part of a solve.
type State struct {
	// Best-so-far estimate.
	BestMerit     float64
	BestFilter    []complex128 // lag domain
	BestWavefield *mat.CDense  // Doppler × delay, FISTA only

	// Counters.
	Evaluations int
	Iteration   int
	NOpt        int // successfully optimized subintegrations
	NLoop       int // completed passes over all subintegrations

	// Merit of every objective evaluation, in order.
	History []float64

	// FISTA step control.
	StepFactor float64
	T          float64
	LMax       float64
	Alpha      float64

	// Reference lag of the current filter.
	RIndex int

	// Frequency-domain solution of the previous subintegration.
	HFPrev []complex128

	// Per-subintegration results.
	OptimizedFilters  [][]complex128 // nsub × nchan, frequency domain
	IntrinsicProfiles [][]float64    // nsub × nbin
	DynamicSpectrum   [][]float64    // nsub × nchan

	// Accumulated intrinsic profile and the reference it replaces.
	PPInt []float64
	PPRef []float64
}

// New returns an empty state for nsub subintegrations of nchan channels and
// nbin phase bins. HFPrev starts as a flat unit filter.
func New(nsub, nchan, nbin int) *State {
	st := &State{
		BestMerit:         math.Inf(1),
		HFPrev:            make([]complex128, nchan),
		OptimizedFilters:  make([][]complex128, nsub),
		IntrinsicProfiles: make([][]float64, nsub),
		DynamicSpectrum:   make([][]float64, nsub),
		PPInt:             make([]float64, nbin),
	}
	for i := range st.HFPrev {
		st.HFPrev[i] = 1
	}
	for i := 0; i < nsub; i++ {
		st.OptimizedFilters[i] = make([]complex128, nchan)
		st.IntrinsicProfiles[i] = make([]float64, nbin)
		st.DynamicSpectrum[i] = make([]float64, nchan)
	}
	return st
}

// Record appends one objective evaluation to the history.
func (s *State) Record(merit float64) {
	s.History = append(s.History, merit)
	s.Evaluations++
}

// ResetHistory clears the evaluation history and the best estimate before
// a new optimization.
func (s *State) ResetHistory() {
	s.History = s.History[:0]
	s.Evaluations = 0
	s.BestMerit = math.Inf(1)
	s.BestFilter = nil
	s.BestWavefield = nil
}

// Offer stores a copy of filter as the best estimate if merit improves on
// the current best. It reports whether the estimate was kept.
func (s *State) Offer(merit float64, filter []complex128) bool {
	if !(merit < s.BestMerit) {
		return false
	}
	s.BestMerit = merit
	s.BestFilter = append(s.BestFilter[:0], filter...)
	return true
}

// OfferWavefield is Offer for a wavefield estimate.
func (s *State) OfferWavefield(merit float64, w *mat.CDense) bool {
	if !(merit < s.BestMerit) {
		return false
	}
	s.BestMerit = merit
	s.BestWavefield = cmat.Clone(w)
	return true
}
