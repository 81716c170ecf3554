package solver

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-cyclic/dsp/merit"
	"github.com/cwbudde/algo-cyclic/dsp/transform"
	"github.com/cwbudde/algo-cyclic/solver/fista"
	"github.com/cwbudde/algo-cyclic/solver/state"
)

// Errors returned by the solver.
var (
	ErrInvalidConfig      = errors.New("solver: invalid configuration")
	ErrNoDegreesOfFreedom = errors.New("solver: no degrees of freedom left for the fit")
	ErrNoProfile          = errors.New("solver: reference profile not initialized")
	ErrInvalidSpectrum    = errors.New("solver: spectrum unusable for minimum phase")
	ErrRange              = errors.New("solver: index out of range")
)

// QuasiNewtonConfig holds the options of the bounded L-BFGS filter fit of
// one subintegration.
type QuasiNewtonConfig struct {
	MaxFun  int     `yaml:"max_fun"`  // objective evaluation budget
	TolFact float64 `yaml:"tol_fact"` // multiplier of the dof-derived tolerance
	Memory  int     `yaml:"memory"`   // L-BFGS history length

	// Support window. With MaxNeg set only MaxLen lags (default
	// nchan/2+MaxNeg) starting MaxNeg before the reference lag are free.
	MaxNeg *int `yaml:"max_neg,omitempty"`
	MaxLen *int `yaml:"max_len,omitempty"`

	// RIndex pins the reference lag and the initial delay.
	RIndex *int `yaml:"rindex,omitempty"`

	UseLastSolution bool    `yaml:"use_last_solution"`
	UseMinPhase     bool    `yaml:"use_min_phase"`
	OnPulse         *[2]int `yaml:"on_pulse,omitempty,flow"`
	AdjustDelay     bool    `yaml:"adjust_delay"`

	// InitialFilter is an explicit lag-domain starting point.
	InitialFilter []complex128 `yaml:"-"`

	ObserverCadence int `yaml:"observer_cadence"`
}

// DefaultQuasiNewtonConfig returns the settings of a standard solve.
func DefaultQuasiNewtonConfig() QuasiNewtonConfig {
	return QuasiNewtonConfig{
		MaxFun:          1000,
		TolFact:         1,
		Memory:          20,
		UseLastSolution: true,
		UseMinPhase:     true,
		AdjustDelay:     true,
	}
}

// Validate checks the options that do not depend on the data.
func (c QuasiNewtonConfig) Validate() error {
	switch {
	case c.MaxFun <= 0:
		return fmt.Errorf("%w: max_fun %d", ErrInvalidConfig, c.MaxFun)
	case c.TolFact <= 0:
		return fmt.Errorf("%w: tol_fact %g", ErrInvalidConfig, c.TolFact)
	case c.Memory <= 0:
		return fmt.Errorf("%w: memory %d", ErrInvalidConfig, c.Memory)
	case c.MaxNeg != nil && *c.MaxNeg < 0:
		return fmt.Errorf("%w: max_neg %d", ErrInvalidConfig, *c.MaxNeg)
	case c.MaxLen != nil && *c.MaxLen <= 0:
		return fmt.Errorf("%w: max_len %d", ErrInvalidConfig, *c.MaxLen)
	case c.MaxLen != nil && c.MaxNeg == nil:
		return fmt.Errorf("%w: max_len requires max_neg", ErrInvalidConfig)
	case c.RIndex != nil && *c.RIndex < 0:
		return fmt.Errorf("%w: rindex %d", ErrInvalidConfig, *c.RIndex)
	case c.OnPulse != nil && (c.OnPulse[0] < 0 || c.OnPulse[0] >= c.OnPulse[1]):
		return fmt.Errorf("%w: on-pulse window %v", ErrInvalidConfig, *c.OnPulse)
	}
	return nil
}

// validateFor checks the options against the data dimensions.
func (c QuasiNewtonConfig) validateFor(nchan, nbin int) error {
	switch {
	case c.RIndex != nil && *c.RIndex >= nchan:
		return fmt.Errorf("%w: rindex %d with %d channels", ErrInvalidConfig, *c.RIndex, nchan)
	case c.MaxNeg != nil && *c.MaxNeg >= nchan:
		return fmt.Errorf("%w: max_neg %d with %d channels", ErrInvalidConfig, *c.MaxNeg, nchan)
	case c.OnPulse != nil && c.OnPulse[1] > nbin:
		return fmt.Errorf("%w: on-pulse window %v with %d bins", ErrInvalidConfig, *c.OnPulse, nbin)
	case c.InitialFilter != nil && len(c.InitialFilter) != nchan:
		return fmt.Errorf("%w: initial filter has %d lags, want %d", ErrInvalidConfig, len(c.InitialFilter), nchan)
	}
	return nil
}

// Config aggregates the solver options.
type Config struct {
	QuasiNewton QuasiNewtonConfig    `yaml:"quasi_newton"`
	FISTA       fista.Config         `yaml:"fista"`
	Convention  transform.Convention `yaml:"convention"`
	IPol        int                  `yaml:"ipol"`
	MaxInitHarm int                  `yaml:"max_init_harm"` // 0 keeps all harmonics

	Logger       *log.Logger        `yaml:"-"`
	Observer     merit.Observer     `yaml:"-"`
	Checkpointer state.Checkpointer `yaml:"-"`
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns the default solver configuration.
func DefaultConfig() Config {
	return Config{
		QuasiNewton: DefaultQuasiNewtonConfig(),
		FISTA:       fista.DefaultConfig(),
		Convention:  transform.Legacy,
	}
}

// Validate checks every section of the configuration.
func (c Config) Validate() error {
	if err := c.QuasiNewton.Validate(); err != nil {
		return err
	}
	if err := c.FISTA.Validate(); err != nil {
		return err
	}
	if c.IPol < 0 {
		return fmt.Errorf("%w: ipol %d", ErrInvalidConfig, c.IPol)
	}
	if c.MaxInitHarm < 0 {
		return fmt.Errorf("%w: max_init_harm %d", ErrInvalidConfig, c.MaxInitHarm)
	}
	return nil
}

// LoadConfig reads a YAML configuration on top of the defaults and
// validates it.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("solver: config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithConfig replaces the whole configuration.
// Logger, observer and checkpointer already set are kept unless cfg
// carries its own.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		prev := *c
		*c = cfg
		if c.Logger == nil {
			c.Logger = prev.Logger
		}
		if c.Observer == nil {
			c.Observer = prev.Observer
		}
		if c.Checkpointer == nil {
			c.Checkpointer = prev.Checkpointer
		}
	}
}

// WithQuasiNewton sets the quasi-Newton options.
func WithQuasiNewton(qn QuasiNewtonConfig) Option {
	return func(c *Config) { c.QuasiNewton = qn }
}

// WithFISTA sets the wavefield fit options.
func WithFISTA(f fista.Config) Option {
	return func(c *Config) { c.FISTA = f }
}

// WithConvention selects the profile normalization convention.
func WithConvention(conv transform.Convention) Option {
	return func(c *Config) { c.Convention = conv }
}

// WithPolarization selects the polarization to fit.
func WithPolarization(ipol int) Option {
	return func(c *Config) {
		if ipol >= 0 {
			c.IPol = ipol
		}
	}
}

// WithMaxInitHarm zeroes harmonics from n on in the data-derived initial
// profile.
func WithMaxInitHarm(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxInitHarm = n
		}
	}
}

// WithLogger sets the logger used for progress and warnings.
func WithLogger(l *log.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithObserver reports objective evaluations to obs. The cadence is taken
// from the driver sections of the configuration.
func WithObserver(obs merit.Observer) Option {
	return func(c *Config) { c.Observer = obs }
}

// WithCheckpointer saves the state after every optimized subintegration.
func WithCheckpointer(cp state.Checkpointer) Option {
	return func(c *Config) { c.Checkpointer = cp }
}
