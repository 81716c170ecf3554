package solver

import (
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/algo-cyclic/internal/textio"
	"github.com/cwbudde/algo-cyclic/solver/state"
)

// Result file suffixes written by SaveResults.
const (
	SuffixIntrinsicProfile = ".pp_int.txt"
	SuffixReferenceProfile = ".pp_ref.txt"
	SuffixFilters          = ".hfs.txt"
	SuffixDynamicSpectrum  = ".dynspec.txt"
)

// SaveResults writes the intrinsic and reference profiles, the optimized
// frequency-domain filters and the dynamic spectrum next to base.
func SaveResults(base string, st *state.State) error {
	writers := []struct {
		suffix string
		write  func(w io.Writer) error
	}{
		{SuffixIntrinsicProfile, func(w io.Writer) error { return textio.WriteProfile(w, st.PPInt) }},
		{SuffixReferenceProfile, func(w io.Writer) error { return textio.WriteProfile(w, st.PPRef) }},
		{SuffixFilters, func(w io.Writer) error { return textio.WriteComplexArray(w, st.OptimizedFilters) }},
		{SuffixDynamicSpectrum, func(w io.Writer) error { return textio.WriteRealArray(w, st.DynamicSpectrum) }},
	}

	for _, wr := range writers {
		if err := writeFile(base+wr.suffix, wr.write); err != nil {
			return err
		}
	}
	return nil
}

// SaveResults writes the results of the solver's state next to base.
func (s *Solver) SaveResults(base string) error {
	return SaveResults(base, s.st)
}

func writeFile(path string, write func(w io.Writer) error) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	if err := write(fh); err != nil {
		fh.Close()
		return fmt.Errorf("solver: %s: %w", path, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("solver: %w", err)
	}
	return nil
}
