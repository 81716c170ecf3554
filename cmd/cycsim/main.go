// Command cycsim writes a synthetic observation of a pulsar seen through a
// scintillation arc, in the text format read by cycsolve.
//
// Usage:
//
//	cycsim [flags] output.txt
//
// Besides the observation and its YAML sidecar it can write the simulated
// delay-Doppler wavefield and the true frequency-domain filter of every
// subintegration, for comparison with a solve.
//
// Examples:
//
//	cycsim sim.txt
//	cycsim --nchan 128 --ntime 32 --noise 0.05 sim.txt
//	cycsim --truth sim.true_hfs.txt --wavefield sim.wavefield.txt sim.txt
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/cwbudde/algo-cyclic/archive"
	"github.com/cwbudde/algo-cyclic/dsp/transform"
	"github.com/cwbudde/algo-cyclic/internal/cmat"
	"github.com/cwbudde/algo-cyclic/internal/sim"
	"github.com/cwbudde/algo-cyclic/internal/textio"
)

type options struct {
	arc     sim.ArcConfig
	spectra sim.SpectraConfig

	nbin       int
	centre     float64
	width      float64
	convention string
	truth      string
	wavefield  string
	verbose    bool
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, string, error) {
	o := options{
		arc:     sim.DefaultArcConfig(),
		spectra: sim.DefaultSpectraConfig(),
	}

	fs := pflag.NewFlagSet("cycsim", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&o.arc.NChan, "nchan", o.arc.NChan, "frequency channels (delay samples)")
	fs.IntVar(&o.arc.NTime, "ntime", o.arc.NTime, "time samples of the wavefield (Doppler samples)")
	fs.Float64Var(&o.arc.Bandwidth, "bw", o.arc.Bandwidth, "bandwidth in MHz")
	fs.Float64VarP(&o.arc.SamplingInterval, "interval", "t", o.arc.SamplingInterval, "sampling interval in seconds")
	fs.Float64Var(&o.arc.Curvature, "curvature", 0, "arc curvature in s^3 (0: span 90% of the Doppler axis)")
	fs.Float64Var(&o.arc.DecayTime, "decay", 0, "arc amplitude decay delay in s (0: a quarter of the maximum delay)")
	fs.Int64Var(&o.arc.Seed, "seed", o.arc.Seed, "random seed for arc phases and noise")
	fs.IntVar(&o.nbin, "nbin", 64, "pulse phase bins")
	fs.Float64Var(&o.spectra.RefFreq, "f0", o.spectra.RefFreq, "folding frequency in Hz")
	fs.Float64Var(&o.centre, "centre", 0.5, "pulse centre in turns")
	fs.Float64Var(&o.width, "width", 0.03, "Gaussian pulse width in turns")
	fs.Float64Var(&o.spectra.Offset, "offset", 1, "constant added to every sample")
	fs.Float64Var(&o.spectra.Noise, "noise", 0, "standard deviation of additive noise")
	fs.IntVar(&o.spectra.Subints, "subints", 8, "subintegrations to write (0: one per time sample)")
	fs.StringVar(&o.convention, "convention", "legacy", "phase transform normalization: legacy or symmetric")
	fs.StringVar(&o.spectra.Source, "source", o.spectra.Source, "source name")
	fs.StringVar(&o.truth, "truth", "", "also write the true frequency-domain filters here")
	fs.StringVar(&o.wavefield, "wavefield", "", "also write the delay-Doppler wavefield here")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: cycsim [flags] output.txt\n\n")
		fmt.Fprintf(stderr, "Writes a synthetic observation seen through a scintillation arc.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return o, "", errors.New("exactly one output path expected")
	}

	var err error
	if o.spectra.Convention, err = transform.ParseConvention(o.convention); err != nil {
		return o, "", err
	}
	o.spectra.Seed = o.arc.Seed
	return o, fs.Arg(0), nil
}

func run(args []string, stderr io.Writer) error {
	o, out, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	logger := log.NewWithOptions(stderr, log.Options{Prefix: "cycsim"})
	if o.verbose {
		logger.SetLevel(log.DebugLevel)
	}

	arc, err := sim.ScintillationArc(o.arc)
	if err != nil {
		return err
	}
	logger.Info("scintillation arc", "curvature_s3", arc.Curvature, "decay_s", arc.DecayTime, "points", arc.Points)
	logger.Debug("grid", "delay_step_s", o.arc.DelayStep(), "doppler_step_hz", o.arc.DopplerStep())

	resp, err := arc.DynamicResponse()
	if err != nil {
		return err
	}

	pp := sim.GaussianProfile(o.nbin, o.centre, o.width)
	obs, err := sim.Observation(resp, pp, o.arc.Bandwidth, o.spectra)
	if err != nil {
		return err
	}
	if err := archive.WriteText(out, obs); err != nil {
		return err
	}
	logger.Info("observation written", "path", out, "nsub", obs.NSub, "nchan", obs.NChan, "nbin", obs.NBin)

	if o.truth != "" {
		if err := writeComplex(o.truth, cmat.Rows(resp)[:obs.NSub]); err != nil {
			return err
		}
		logger.Info("true filters written", "path", o.truth)
	}
	if o.wavefield != "" {
		if err := writeComplex(o.wavefield, cmat.Rows(arc.Wavefield)); err != nil {
			return err
		}
		logger.Info("wavefield written", "path", o.wavefield)
	}
	return nil
}

func writeComplex(path string, rows [][]complex128) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := textio.WriteComplexArray(fh, rows); err != nil {
		fh.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return fh.Close()
}
