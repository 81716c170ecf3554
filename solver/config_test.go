package solver

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-cyclic/dsp/transform"
	"github.com/cwbudde/algo-cyclic/solver/fista"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1000, cfg.QuasiNewton.MaxFun)
	assert.Equal(t, 20, cfg.QuasiNewton.Memory)
	assert.True(t, cfg.QuasiNewton.UseLastSolution)
	assert.True(t, cfg.QuasiNewton.AdjustDelay)
	assert.Equal(t, transform.Legacy, cfg.Convention)
	assert.Equal(t, 1000, cfg.FISTA.Iterations)
}

func TestLoadConfig(t *testing.T) {
	in := `
convention: symmetric
max_init_harm: 8
quasi_newton:
  max_fun: 50
  tol_fact: 20
  max_neg: 3
  on_pulse: [10, 20]
  use_min_phase: false
fista:
  iterations: 5
  lambda: 0.5
`
	cfg, err := LoadConfig(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, transform.Symmetric, cfg.Convention)
	assert.Equal(t, 8, cfg.MaxInitHarm)
	assert.Equal(t, 50, cfg.QuasiNewton.MaxFun)
	assert.Equal(t, 20.0, cfg.QuasiNewton.TolFact)
	require.NotNil(t, cfg.QuasiNewton.MaxNeg)
	assert.Equal(t, 3, *cfg.QuasiNewton.MaxNeg)
	require.NotNil(t, cfg.QuasiNewton.OnPulse)
	assert.Equal(t, [2]int{10, 20}, *cfg.QuasiNewton.OnPulse)
	assert.False(t, cfg.QuasiNewton.UseMinPhase)
	assert.Equal(t, 20, cfg.QuasiNewton.Memory, "defaults survive")
	assert.Equal(t, 5, cfg.FISTA.Iterations)
	assert.Equal(t, 20.0, cfg.FISTA.Alpha)
	require.NotNil(t, cfg.FISTA.Lambda)
	assert.Equal(t, 0.5, *cfg.FISTA.Lambda)
}

func TestLoadConfigEmpty(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().QuasiNewton, cfg.QuasiNewton)
}

func TestLoadConfigErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		in   string
		want error
	}{
		"max_fun":     {"quasi_newton:\n  max_fun: 0\n", ErrInvalidConfig},
		"on_pulse":    {"quasi_newton:\n  on_pulse: [5, 5]\n", ErrInvalidConfig},
		"max_len":     {"quasi_newton:\n  max_len: 10\n", ErrInvalidConfig},
		"ipol":        {"ipol: -1\n", ErrInvalidConfig},
		"backtrack":   {"fista:\n  backtrack: true\n", fista.ErrBacktrackNotImplemented},
		"fista alpha": {"fista:\n  alpha: 0\n", fista.ErrInvalidConfig},
	} {
		_, err := LoadConfig(strings.NewReader(tc.in))
		assert.True(t, errors.Is(err, tc.want), "%s: %v", name, err)
	}

	_, err := LoadConfig(strings.NewReader("unknown_key: 1\n"))
	assert.Error(t, err)

	_, err = LoadConfig(strings.NewReader("convention: sideways\n"))
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	logger := log.New(io.Discard)
	cfg := DefaultConfig()
	for _, opt := range []Option{
		WithLogger(logger),
		WithConvention(transform.Symmetric),
		WithPolarization(2),
		WithPolarization(-1),
		WithMaxInitHarm(6),
		WithConfig(Config{QuasiNewton: DefaultQuasiNewtonConfig(), FISTA: fista.DefaultConfig(), IPol: 1}),
	} {
		opt(&cfg)
	}

	assert.Same(t, logger, cfg.Logger, "WithConfig keeps the logger")
	assert.Equal(t, 1, cfg.IPol)
	assert.Equal(t, transform.Legacy, cfg.Convention)
	assert.Equal(t, 0, cfg.MaxInitHarm)
}
