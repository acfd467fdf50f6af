package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/diptune/telemetry"
)

const shortRun = `
simulation:
  duration: 0.2
  dt: 0.01
cost_function:
  instability_penalty: 1000.0
  norms: {ise: 1.0, u: 1.0, du: 1.0, sigma: 1.0}
`

func run(t *testing.T, args ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(shortRun), 0644))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(append(args, "--config", path, "--log-level", "error"))
	require.NoError(t, root.ExecuteContext(context.Background()))
	return out.String()
}

func TestEvaluateCommand(t *testing.T) {
	out := run(t, "evaluate", "--gains", "5,5,5,0.5,0.5,0.5")
	cost, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cost, 0.0)
	assert.LessOrEqual(t, cost, 1000.0)
}

func TestBaselineCommand(t *testing.T) {
	out := run(t, "baseline", "--controller", "sta_smc")
	assert.Contains(t, out, "cost_function:")
	assert.Contains(t, out, "ise:")
}

func TestTuneCommandWritesOutput(t *testing.T) {
	dir := t.TempDir()
	out := run(t, "tune", "--particles", "3", "--iters", "2", "--seed", "42", "--output-dir", dir)
	assert.Contains(t, out, "best cost")

	runs, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	for _, name := range []string{telemetry.HistoryFile, telemetry.ResultFile, telemetry.BestConfigFile} {
		assert.FileExists(t, filepath.Join(dir, runs[0].Name(), name))
	}
}

func TestNewLogger(t *testing.T) {
	_, err := newLogger("text", "debug")
	assert.NoError(t, err)
	_, err = newLogger("xml", "info")
	assert.Error(t, err)
	_, err = newLogger("json", "loud")
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1m05s", formatDuration(65*time.Second))
	assert.Equal(t, "2h03m04s", formatDuration(2*time.Hour+3*time.Minute+4*time.Second))
}
