package fista

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// Errors returned by the FISTA driver.
var (
	ErrInvalidConfig           = errors.New("fista: invalid configuration")
	ErrBacktrackNotImplemented = errors.New("fista: backtracking line search is not implemented")
	ErrNoSegments              = errors.New("fista: no subintegrations to fit")
	ErrShape                   = errors.New("fista: wavefield shape mismatch")
)

// Config holds the FISTA driver options.
type Config struct {
	Iterations    int     `yaml:"iterations"`
	Alpha         float64 `yaml:"alpha"`        // initial step; L_max starts at 1/Alpha
	Acceleration  float64 `yaml:"acceleration"` // step factor growth and shrink rate
	MinStepFactor float64 `yaml:"min_step_factor"`
	StepFactor    float64 `yaml:"step_factor"`
	ResetToBest   bool    `yaml:"reset_to_best"`
	Backtrack     bool    `yaml:"backtrack"`
	Eta           float64 `yaml:"eta"` // backtracking growth factor, reserved

	// Proximal configuration. Coordinates index the wavefield in row-major
	// order (doppler·nchan + delay).
	Lambda            *float64 `yaml:"lambda,omitempty"`
	ZeroPenaltyCoords []int    `yaml:"zero_penalty_coords,omitempty"`
	FixPhaseCoords    []int    `yaml:"fix_phase_coords,omitempty"`
	FixPhaseValue     float64  `yaml:"fix_phase_value"`
	FixSupport        []int    `yaml:"fix_support,omitempty"`

	ObserverCadence int `yaml:"observer_cadence"`

	Logger *log.Logger `yaml:"-"`
}

// DefaultConfig returns the settings used for published wavefield fits.
func DefaultConfig() Config {
	return Config{
		Iterations:    1000,
		Alpha:         20,
		Acceleration:  2,
		MinStepFactor: 0.1,
		StepFactor:    1,
		Eta:           5,
	}
}

// Validate checks the configuration before a run.
func (c Config) Validate() error {
	switch {
	case c.Iterations < 0:
		return fmt.Errorf("%w: iterations %d", ErrInvalidConfig, c.Iterations)
	case c.Alpha <= 0:
		return fmt.Errorf("%w: alpha %g", ErrInvalidConfig, c.Alpha)
	case c.Acceleration <= 1:
		return fmt.Errorf("%w: acceleration %g must exceed 1", ErrInvalidConfig, c.Acceleration)
	case c.StepFactor <= 0:
		return fmt.Errorf("%w: step factor %g", ErrInvalidConfig, c.StepFactor)
	case c.MinStepFactor < 0:
		return fmt.Errorf("%w: min step factor %g", ErrInvalidConfig, c.MinStepFactor)
	case c.Lambda != nil && *c.Lambda < 0:
		return fmt.Errorf("%w: lambda %g", ErrInvalidConfig, *c.Lambda)
	case c.Backtrack:
		return ErrBacktrackNotImplemented
	}
	return nil
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.New(io.Discard)
}
