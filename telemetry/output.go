// Package telemetry writes the artifacts of a tuning run: per-iteration
// history as CSV, the final result as JSON and the tuned configuration as
// YAML.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/diptune/config"
	"github.com/pthm-cable/diptune/tuning"
)

// Output file names.
const (
	HistoryFile    = "history.csv"
	ResultFile     = "result.json"
	BestConfigFile = "best_config.yaml"
)

// OutputManager handles structured run output.
type OutputManager struct {
	dir         string
	historyFile *os.File

	// Track if headers have been written
	historyHeaderWritten bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, HistoryFile))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", HistoryFile, err)
	}
	return &OutputManager{dir: dir, historyFile: f}, nil
}

// WriteIteration appends an iteration record to history.csv.
func (om *OutputManager) WriteIteration(stats IterationStats) error {
	if om == nil {
		return nil
	}

	records := []IterationStats{stats}

	if !om.historyHeaderWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, om.historyFile); err != nil {
			return fmt.Errorf("writing history: %w", err)
		}
		om.historyHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.historyFile); err != nil {
			return fmt.Errorf("writing history: %w", err)
		}
	}

	return nil
}

// WriteResult saves the run result as JSON.
func (om *OutputManager) WriteResult(res *tuning.Result) error {
	if om == nil || res == nil {
		return nil
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(om.dir, ResultFile), data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", ResultFile, err)
	}
	return nil
}

// WriteBestConfig saves cfg with the tuned gains of one controller type.
func (om *OutputManager) WriteBestConfig(cfg *config.Config, kind string, gains []float64) error {
	if om == nil {
		return nil
	}
	return cfg.WithGains(kind, gains).WriteYAML(filepath.Join(om.dir, BestConfigFile))
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil || om.historyFile == nil {
		return nil
	}
	return om.historyFile.Close()
}
