package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/credo/carbon-engine/internal/scenario"
)

func run(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	return &out, cmd.Execute()
}

func TestReplay_PrintsFinalSnapshot(t *testing.T) {
	out, err := run(t, "replay", filepath.Join("..", "scenario", "testdata", "stop_loss.yaml"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	var res scenario.Result
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("output is not a result: %v\n%s", err, out)
	}
	if len(res.Steps) != 6 {
		t.Errorf("expected 6 steps, got %d", len(res.Steps))
	}
	if !res.Snapshot.Balance.Equal(decimal.NewFromInt(890)) {
		t.Errorf("expected balance 890, got %s", res.Snapshot.Balance)
	}
}

func TestReplay_RequiresFile(t *testing.T) {
	if _, err := run(t, "replay"); err == nil {
		t.Error("expected an argument error")
	}
	if _, err := run(t, "replay", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestSimulate_DeterministicForSeed(t *testing.T) {
	args := []string{"simulate", "--rounds", "25", "--seed", "9", "--asset", "amazon-redd,gujarat-wind"}
	first, err := run(t, args...)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	second, err := run(t, args...)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	var a, b SimulationReport
	if err := json.Unmarshal(first.Bytes(), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(second.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Ticks != 50 {
		t.Errorf("expected 50 ticks, got %d", a.Ticks)
	}
	for id, p := range a.FinalPrices {
		if !b.FinalPrices[id].Equal(p) {
			t.Errorf("%s: %s vs %s, same seed should give same walk", id, p, b.FinalPrices[id])
		}
	}
	if !a.Snapshot.Balance.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("no orders, balance should stay 10000, got %s", a.Snapshot.Balance)
	}
}

func TestSimulate_WithSetupScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup.yaml")
	doc := `
steps:
  - order: {asset_id: amazon-redd, type: market, side: buy, quantity: 10}
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "simulate", "--rounds", "5", "--asset", "amazon-redd", "--balance", "1000", "--scenario", path)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	var rep SimulationReport
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rep.Setup) != 1 || rep.Setup[0].Error != "" {
		t.Fatalf("setup should run cleanly, got %+v", rep.Setup)
	}
	if !rep.Snapshot.Balance.Equal(decimal.NewFromInt(855)) {
		t.Errorf("expected 1000 - 10*14.50 = 855, got %s", rep.Snapshot.Balance)
	}
	if len(rep.Snapshot.Holdings) != 1 {
		t.Errorf("expected one holding, got %+v", rep.Snapshot.Holdings)
	}
}

func TestSimulate_RejectsBadFlags(t *testing.T) {
	if _, err := run(t, "simulate", "--rounds", "0"); err == nil {
		t.Error("expected error for zero rounds")
	}
	if _, err := run(t, "simulate", "--asset", "nope"); err == nil {
		t.Error("expected error for unknown asset")
	}
}

func TestSimulate_ReplaysTickFile(t *testing.T) {
	dir := t.TempDir()
	setup := filepath.Join(dir, "setup.yaml")
	ticks := filepath.Join(dir, "ticks.yaml")
	if err := os.WriteFile(setup, []byte(`
steps:
  - holding: {asset_id: amazon-redd, quantity: 4, avg_buy_price: 12}
  - order: {asset_id: amazon-redd, type: stop-loss, side: sell, quantity: 4, trigger_price: 13}
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ticks, []byte(`
ticks:
  - {asset_id: amazon-redd, price: 14}
  - {asset_id: gujarat-wind, price: 6}
  - {asset_id: amazon-redd, price: 12.5}
`), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "simulate", "--balance", "100", "--asset", "amazon-redd", "--scenario", setup, "--ticks", ticks)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	var rep SimulationReport
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rep.Ticks != 2 {
		t.Errorf("ticks for unselected assets should be skipped, got %d", rep.Ticks)
	}
	if rep.Fills != 1 {
		t.Errorf("expected the stop to fill at 12.5, got %d fills", rep.Fills)
	}
	if !rep.Snapshot.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected 100 + 4*12.5 = 150, got %s", rep.Snapshot.Balance)
	}
}
