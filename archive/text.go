package archive

import (
	"context"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/cwbudde/algo-cyclic/internal/textio"
)

// Metadata is the YAML sidecar of a text observation.
type Metadata struct {
	NSub       int     `yaml:"nsub"`
	NPol       int     `yaml:"npol"`
	NChan      int     `yaml:"nchan"`
	NBin       int     `yaml:"nbin"`
	Bandwidth  float64 `yaml:"bandwidth_mhz"`
	RefFreq    float64 `yaml:"ref_freq_hz"`
	CentreFreq float64 `yaml:"centre_freq_mhz"`
	Source     string  `yaml:"source"`
	Epoch      Epoch   `yaml:"epoch"`
}

// MetadataPath returns the sidecar path of a text observation.
func MetadataPath(path string) string { return path + ".yaml" }

// TextLoader reads observations stored as a real array file of
// (nsub·npol·nchan) × nbin values with a YAML metadata sidecar.
type TextLoader struct{}

// Load implements Loader.
func (TextLoader) Load(ctx context.Context, path string) (*Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta, err := readMetadata(MetadataPath(path))
	if err != nil {
		return nil, err
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	defer fh.Close()

	arr, err := textio.ReadArray(fh)
	if err != nil {
		return nil, fmt.Errorf("archive: %s: %w", path, err)
	}
	if arr.Complex {
		return nil, fmt.Errorf("%w: %s holds complex values", ErrInvalid, path)
	}
	if arr.Rows != meta.NSub*meta.NPol*meta.NChan || arr.Cols != meta.NBin {
		return nil, fmt.Errorf("%w: %s is %d×%d, metadata says %d×%d",
			ErrShapeMismatch, path, arr.Rows, arr.Cols, meta.NSub*meta.NPol*meta.NChan, meta.NBin)
	}

	obs := &Observation{
		NChan:      meta.NChan,
		NBin:       meta.NBin,
		NPol:       meta.NPol,
		NSub:       meta.NSub,
		Bandwidth:  meta.Bandwidth,
		RefFreq:    meta.RefFreq,
		CentreFreq: meta.CentreFreq,
		Source:     meta.Source,
		Epoch:      meta.Epoch,
		Data:       make([][]*mat.Dense, meta.NSub),
	}
	block := meta.NChan * meta.NBin
	for i := range obs.Data {
		obs.Data[i] = make([]*mat.Dense, meta.NPol)
		for p := range obs.Data[i] {
			off := (i*meta.NPol + p) * block
			data := append([]float64(nil), arr.Re[off:off+block]...)
			obs.Data[i][p] = mat.NewDense(meta.NChan, meta.NBin, data)
		}
	}

	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

func readMetadata(path string) (Metadata, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("archive: metadata: %w", err)
	}
	defer fh.Close()

	var meta Metadata
	if err := yaml.NewDecoder(fh).Decode(&meta); err != nil {
		return Metadata{}, fmt.Errorf("archive: metadata %s: %w", path, err)
	}
	return meta, nil
}

// WriteText stores obs in the format read by TextLoader.
func WriteText(path string, obs *Observation) error {
	if err := obs.Validate(); err != nil {
		return err
	}

	rows := make([][]float64, 0, obs.NSub*obs.NPol*obs.NChan)
	for _, sub := range obs.Data {
		for _, ps := range sub {
			for c := 0; c < obs.NChan; c++ {
				rows = append(rows, mat.Row(nil, c, ps))
			}
		}
	}

	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if err := textio.WriteRealArray(fh, rows); err != nil {
		fh.Close()
		return fmt.Errorf("archive: %w", err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	meta := Metadata{
		NSub:       obs.NSub,
		NPol:       obs.NPol,
		NChan:      obs.NChan,
		NBin:       obs.NBin,
		Bandwidth:  obs.Bandwidth,
		RefFreq:    obs.RefFreq,
		CentreFreq: obs.CentreFreq,
		Source:     obs.Source,
		Epoch:      obs.Epoch,
	}
	out, err := yaml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("archive: metadata: %w", err)
	}
	if err := os.WriteFile(MetadataPath(path), out, 0o644); err != nil {
		return fmt.Errorf("archive: metadata: %w", err)
	}
	return nil
}

// LoadAll loads every path with l and appends them into one observation.
// A shape mismatch aborts before any data is returned.
func LoadAll(ctx context.Context, l Loader, paths ...string) (*Observation, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no input files", ErrInvalid)
	}
	var obs *Observation
	for _, p := range paths {
		next, err := l.Load(ctx, p)
		if err != nil {
			return nil, err
		}
		if obs == nil {
			obs = next
			continue
		}
		if err := obs.Append(next); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return obs, nil
}
