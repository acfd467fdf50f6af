package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/diptune/config"
	"github.com/pthm-cable/diptune/tuning"
)

func TestOutputManagerDisabled(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil {
		t.Fatal(err)
	}
	if om != nil {
		t.Fatal("expected nil manager for empty dir")
	}
	// Every method is safe on a nil manager.
	if err := om.WriteIteration(IterationStats{}); err != nil {
		t.Error(err)
	}
	if err := om.WriteResult(&tuning.Result{}); err != nil {
		t.Error(err)
	}
	if err := om.WriteBestConfig(nil, "", nil); err != nil {
		t.Error(err)
	}
	if om.Dir() != "" {
		t.Error("nil manager should have empty dir")
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
}

func TestOutputManagerWritesRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		stats := IterationStats{Iteration: i, BestCost: float64(10 - i), Gains: "1 2 3"}
		if err := om.WriteIteration(stats); err != nil {
			t.Fatal(err)
		}
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, HistoryFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var rows []IterationStats
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d history rows, want 3", len(rows))
	}
	if rows[2].Iteration != 2 || rows[2].BestCost != 8 || rows[2].Gains != "1 2 3" {
		t.Errorf("unexpected last row: %+v", rows[2])
	}
}

func TestWriteResultAndConfig(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer om.Close()

	res := &tuning.Result{
		RunID:          "run-1",
		ControllerType: "classical_smc",
		BestCost:       0.25,
		BestPos:        []float64{9, 8, 7, 6, 5, 4},
		History:        tuning.History{Cost: []float64{1, 0.25}, Pos: [][]float64{{1}, {2}}},
	}
	if err := om.WriteResult(res); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, ResultFile))
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["best_cost"] != 0.25 {
		t.Errorf("best_cost = %v", decoded["best_cost"])
	}
	history, ok := decoded["history"].(map[string]any)
	if !ok || len(history["cost"].([]any)) != 2 {
		t.Errorf("history not written as {cost, pos}: %v", decoded["history"])
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := om.WriteBestConfig(cfg, "classical_smc", res.BestPos); err != nil {
		t.Fatal(err)
	}
	back, err := config.Load(filepath.Join(dir, BestConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	got := back.Controllers["classical_smc"].Gains
	if len(got) != 6 || got[0] != 9 || got[5] != 4 {
		t.Errorf("tuned gains = %v", got)
	}
}
