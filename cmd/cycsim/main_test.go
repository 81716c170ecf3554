package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/algo-cyclic/archive"
	"github.com/cwbudde/algo-cyclic/internal/textio"
)

func TestRunWritesObservation(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "sim.txt")
	truth := filepath.Join(dir, "sim.true_hfs.txt")
	wave := filepath.Join(dir, "sim.wavefield.txt")

	var stderr bytes.Buffer
	err := run([]string{
		"--nchan", "16", "--ntime", "8", "--nbin", "16", "--subints", "3",
		"--noise", "0.01", "--truth", truth, "--wavefield", wave,
		out,
	}, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Contains(t, stderr.String(), "scintillation arc")

	obs, err := archive.TextLoader{}.Load(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 3, obs.NSub)
	assert.Equal(t, 16, obs.NChan)
	assert.Equal(t, 16, obs.NBin)
	assert.Equal(t, "sim", obs.Source)

	fh, err := os.Open(truth)
	require.NoError(t, err)
	defer fh.Close()
	arr, err := textio.ReadArray(fh)
	require.NoError(t, err)
	assert.Len(t, arr.ComplexRows(), 3)

	assert.FileExists(t, wave)
}

func TestParseFlagsErrors(t *testing.T) {
	var stderr bytes.Buffer
	_, _, err := parseFlags(nil, &stderr)
	assert.Error(t, err)

	_, _, err = parseFlags([]string{"--convention", "odd", "x.txt"}, &stderr)
	assert.Error(t, err)

	o, out, err := parseFlags([]string{"--seed", "5", "x.txt"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "x.txt", out)
	assert.Equal(t, int64(5), o.spectra.Seed)
}
