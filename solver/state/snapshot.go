package state

import (
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is written into every snapshot.
const SchemaVersion = 1

// ErrSchema is returned when a snapshot cannot be turned back into a State.
var ErrSchema = errors.New("state: invalid snapshot")

// Complex is a complex number stored as [re, im].
type Complex [2]float64

// Matrix is a row-major complex matrix.
type Matrix struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	Data []Complex `yaml:"data,flow"`
}

// Snapshot is the serialized form of a State.
type Snapshot struct {
	Version int `yaml:"version"`

	BestMerit     float64   `yaml:"best_merit"`
	BestFilter    []Complex `yaml:"best_filter,flow,omitempty"`
	BestWavefield *Matrix   `yaml:"best_wavefield,omitempty"`

	Evaluations int `yaml:"evaluations"`
	Iteration   int `yaml:"iteration"`
	NOpt        int `yaml:"nopt"`
	NLoop       int `yaml:"nloop"`

	History []float64 `yaml:"history,flow,omitempty"`

	StepFactor float64 `yaml:"step_factor"`
	T          float64 `yaml:"t"`
	LMax       float64 `yaml:"lmax"`
	Alpha      float64 `yaml:"alpha"`

	RIndex int       `yaml:"rindex"`
	HFPrev []Complex `yaml:"hf_prev,flow"`

	OptimizedFilters  [][]Complex `yaml:"optimized_filters,flow"`
	IntrinsicProfiles [][]float64 `yaml:"intrinsic_profiles,flow"`
	DynamicSpectrum   [][]float64 `yaml:"dynamic_spectrum,flow"`

	PPInt []float64 `yaml:"pp_int,flow"`
	PPRef []float64 `yaml:"pp_ref,flow,omitempty"`
}

func toComplex(v []complex128) []Complex {
	if v == nil {
		return nil
	}
	out := make([]Complex, len(v))
	for i, z := range v {
		out[i] = Complex{real(z), imag(z)}
	}
	return out
}

func fromComplex(v []Complex) []complex128 {
	if v == nil {
		return nil
	}
	out := make([]complex128, len(v))
	for i, z := range v {
		out[i] = complex(z[0], z[1])
	}
	return out
}

func copyRows(v [][]float64) [][]float64 {
	out := make([][]float64, len(v))
	for i, row := range v {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Snapshot returns the serializable form of s.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Version:           SchemaVersion,
		BestMerit:         s.BestMerit,
		BestFilter:        toComplex(s.BestFilter),
		Evaluations:       s.Evaluations,
		Iteration:         s.Iteration,
		NOpt:              s.NOpt,
		NLoop:             s.NLoop,
		History:           append([]float64(nil), s.History...),
		StepFactor:        s.StepFactor,
		T:                 s.T,
		LMax:              s.LMax,
		Alpha:             s.Alpha,
		RIndex:            s.RIndex,
		HFPrev:            toComplex(s.HFPrev),
		IntrinsicProfiles: copyRows(s.IntrinsicProfiles),
		DynamicSpectrum:   copyRows(s.DynamicSpectrum),
		PPInt:             append([]float64(nil), s.PPInt...),
		PPRef:             append([]float64(nil), s.PPRef...),
	}

	snap.OptimizedFilters = make([][]Complex, len(s.OptimizedFilters))
	for i, f := range s.OptimizedFilters {
		snap.OptimizedFilters[i] = toComplex(f)
	}

	if s.BestWavefield != nil {
		r, c := s.BestWavefield.Dims()
		data := make([]complex128, 0, r*c)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				data = append(data, s.BestWavefield.At(i, j))
			}
		}
		snap.BestWavefield = &Matrix{Rows: r, Cols: c, Data: toComplex(data)}
	}

	return snap
}

// Restore rebuilds a State from a snapshot.
func (snap Snapshot) Restore() (*State, error) {
	if snap.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrSchema, snap.Version, SchemaVersion)
	}

	s := &State{
		BestMerit:         snap.BestMerit,
		BestFilter:        fromComplex(snap.BestFilter),
		Evaluations:       snap.Evaluations,
		Iteration:         snap.Iteration,
		NOpt:              snap.NOpt,
		NLoop:             snap.NLoop,
		History:           append([]float64(nil), snap.History...),
		StepFactor:        snap.StepFactor,
		T:                 snap.T,
		LMax:              snap.LMax,
		Alpha:             snap.Alpha,
		RIndex:            snap.RIndex,
		HFPrev:            fromComplex(snap.HFPrev),
		IntrinsicProfiles: copyRows(snap.IntrinsicProfiles),
		DynamicSpectrum:   copyRows(snap.DynamicSpectrum),
		PPInt:             append([]float64(nil), snap.PPInt...),
	}
	if len(snap.PPRef) > 0 {
		s.PPRef = append([]float64(nil), snap.PPRef...)
	}

	s.OptimizedFilters = make([][]complex128, len(snap.OptimizedFilters))
	for i, f := range snap.OptimizedFilters {
		s.OptimizedFilters[i] = fromComplex(f)
	}

	if w := snap.BestWavefield; w != nil {
		if w.Rows <= 0 || w.Cols <= 0 || len(w.Data) != w.Rows*w.Cols {
			return nil, fmt.Errorf("%w: wavefield %d×%d with %d values", ErrSchema, w.Rows, w.Cols, len(w.Data))
		}
		s.BestWavefield = mat.NewCDense(w.Rows, w.Cols, fromComplex(w.Data))
	}

	return s, nil
}

// Encode writes s to w as YAML.
func Encode(w io.Writer, s *State) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s.Snapshot()); err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	return enc.Close()
}

// Decode reads a YAML snapshot from r.
func Decode(r io.Reader) (*State, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("state: decode: %w", err)
	}
	return snap.Restore()
}
