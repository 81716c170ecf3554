package sim

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-cyclic/archive"
	"github.com/cwbudde/algo-cyclic/dsp/cyclic"
	"github.com/cwbudde/algo-cyclic/dsp/transform"
	"github.com/cwbudde/algo-cyclic/internal/cmat"
)

// SpectraConfig describes the periodic spectra synthesized from a dynamic
// response.
type SpectraConfig struct {
	RefFreq    float64 // folding frequency, Hz
	Convention transform.Convention
	Offset     float64 // constant added to every sample
	Noise      float64 // standard deviation of additive Gaussian noise
	Subints    int     // number of subintegrations, 0 for one per response row
	Seed       int64

	CentreFreq float64 // MHz
	Source     string
}

// DefaultSpectraConfig returns noise-free spectra folded at 100 Hz.
func DefaultSpectraConfig() SpectraConfig {
	return SpectraConfig{
		RefFreq:    100,
		Convention: transform.Legacy,
		CentreFreq: 1400,
		Source:     "sim",
		Seed:       1,
	}
}

// Observation folds the phase profile pp through every row of the dynamic
// response resp (subint × channel) and returns the resulting periodic
// spectra as a single-polarization observation across bw MHz. Each
// subintegration draws its noise from its own seeded source, so the result
// does not depend on scheduling.
func Observation(resp *mat.CDense, pp []float64, bw float64, cfg SpectraConfig) (*archive.Observation, error) {
	ntime, nchan := resp.Dims()
	nsub := cfg.Subints
	if nsub == 0 {
		nsub = ntime
	}
	if nsub < 0 || nsub > ntime {
		return nil, fmt.Errorf("%w: %d subintegrations from %d response rows", ErrInvalidConfig, nsub, ntime)
	}
	if len(pp) < 2 || len(pp)%2 != 0 {
		return nil, fmt.Errorf("%w: profile of %d bins", ErrInvalidConfig, len(pp))
	}
	if cfg.Noise < 0 {
		return nil, fmt.Errorf("%w: noise %g", ErrInvalidConfig, cfg.Noise)
	}

	ph, err := transform.Phase2Harm(pp, cfg.Convention)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}

	obs := &archive.Observation{
		Data:       make([][]*mat.Dense, nsub),
		NChan:      nchan,
		NBin:       len(pp),
		NPol:       1,
		NSub:       nsub,
		Bandwidth:  bw,
		RefFreq:    cfg.RefFreq,
		CentreFreq: cfg.CentreFreq,
		Source:     cfg.Source,
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := 0; i < nsub; i++ {
		g.Go(func() error {
			ps, err := spectrum(cmat.Row(resp, i), ph, bw, cfg.RefFreq)
			if err != nil {
				return fmt.Errorf("sim: subintegration %d: %w", i, err)
			}
			addNoise(ps, cfg.Offset, cfg.Noise, cfg.Seed+int64(i))
			obs.Data[i] = []*mat.Dense{ps}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return obs, obs.Validate()
}

// GaussianProfile returns nbin samples of a Gaussian pulse centred at
// phase centre with the given width, both in turns.
func GaussianProfile(nbin int, centre, width float64) []float64 {
	pp := make([]float64, nbin)
	for i := range pp {
		d := float64(i)/float64(nbin) - centre
		d -= math.Round(d)
		pp[i] = math.Exp(-0.5 * d * d / (width * width))
	}
	return pp
}

func spectrum(hf, ph []complex128, bw, f0 float64) (*mat.Dense, error) {
	m, err := cyclic.BuildModel(hf, ph, bw, f0)
	if err != nil {
		return nil, err
	}
	return transform.CS2PS(m.CS)
}

func addNoise(ps *mat.Dense, offset, sigma float64, seed int64) {
	if offset == 0 && sigma == 0 {
		return
	}
	rng := rand.New(rand.NewSource(seed))
	raw := ps.RawMatrix()
	for r := 0; r < raw.Rows; r++ {
		row := raw.Data[r*raw.Stride : r*raw.Stride+raw.Cols]
		for i := range row {
			row[i] += offset + sigma*rng.NormFloat64()
		}
	}
}
