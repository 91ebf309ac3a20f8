package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zarr "github.com/zarrgl/zarr-go"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	err := run(context.Background(), &out, &logs, args)
	return out.String(), err
}

func TestBuildAndInspect(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "example.zarr")

	out, err := runCLI(t, "build", "--output", dir, "--levels", "2", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 levels to "+dir)

	_, err = os.Stat(filepath.Join(dir, ".zmetadata"))
	require.NoError(t, err)

	out, err = runCLI(t, "inspect", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "convention: coarsen")
	assert.Contains(t, out, "pixels_per_tile: 128")
	assert.Regexp(t, `0\s+EPSG:4326\s+721x1440\s+0.25\s+my_array`, out)
	assert.Regexp(t, `1\s+EPSG:4326\s+361x720\s+0.5\s+my_array`, out)

	// the store exists now
	_, err = runCLI(t, "build", "--output", dir, "--levels", "1", "--mode", "w-")
	assert.True(t, errors.Is(err, zarr.ErrContainsGroup))

	out, err = runCLI(t, "build", "-o", dir, "-l", "1", "--mode", "w", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 1 levels")
}

func TestBuildBucketURL(t *testing.T) {
	dir := t.TempDir()
	url := "file://" + filepath.ToSlash(dir)

	_, err := runCLI(t, "build",
		"--output", url,
		"--convention", "web-mercator",
		"--pixels-per-tile", "4",
		"--levels", "2",
		"--compressor", "gzip",
		"--variable", "elevation",
		"--consolidated=false",
		"--log-level", "error",
	)
	require.NoError(t, err)

	out, err := runCLI(t, "inspect", url)
	require.NoError(t, err)
	assert.Contains(t, out, "convention: web-mercator")
	assert.Regexp(t, `0\s+EPSG:3857\s+4x4\s+\S+\s+elevation`, out)
	assert.Regexp(t, `1\s+EPSG:3857\s+8x8\s+\S+\s+elevation`, out)
}

func TestConfigSources(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "from-file.zarr")
	file := filepath.Join(dir, "pyramid.yaml")
	require.NoError(t, os.WriteFile(file, []byte("output: "+out+"\nlevels: 3\nresampling: nearest\n"), 0644))
	t.Setenv("ZARR_PYRAMID_LEVELS", "1")

	stdout, err := runCLI(t, "build", "--config", file, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote 1 levels to "+out)

	stdout, err = runCLI(t, "inspect", out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "resampling: nearest")
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		{"build", "--levels", "0"},
		{"build", "--levels", "17"},
		{"build", "--resampling", "cubic"},
		{"build", "--crs", "EPSG:nope"},
		{"build", "--mode", "r"},
		{"build", "--config", filepath.Join(t.TempDir(), "missing.yaml")},
	}
	for _, args := range cases {
		_, err := runCLI(t, args...)
		var exitErr *ExitError
		require.True(t, errors.As(err, &exitErr), "%v: %v", args, err)
		assert.Equal(t, 2, exitErr.Code, "%v", args)
	}

	_, err := runCLI(t, "inspect")
	assert.Error(t, err, "store argument is required")

	_, err = runCLI(t, "inspect", filepath.Join(t.TempDir(), "nothing-here"))
	assert.Error(t, err)
}
