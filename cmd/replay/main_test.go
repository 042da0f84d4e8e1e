package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voxelpath.ai/internal/persistence/archive"
	"voxelpath.ai/internal/persistence/trace"
	"voxelpath.ai/internal/scenario"
	"voxelpath.ai/internal/sim/catalogs"
	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/tuning"
)

const corridor = `
name: corridor
world:
  min: [-4, -1, -4]
  max: [12, 6, 4]
  ops:
    - fill: {from: [-4, -1, -4], to: [12, -1, 4], block: STONE}
    - fill: {from: [4, 0, -4], to: [4, 2, 0], block: STONE}
agents:
  - id: A1
    spawn: [0, 0, -2]
    script:
      steps:
        - reach: [8, 0, -2]
        - wait: 5
        - reach: [0, 0, 2]
`

func recordRun(t *testing.T, dir string, ticks uint64) string {
	t.Helper()
	scPath := filepath.Join(dir, "corridor.yaml")
	if err := os.WriteFile(scPath, []byte(corridor), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	cat, err := catalogs.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	sc, err := scenario.Load(scPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tu := tuning.Defaults()
	built, err := scenario.Build(sc, cat, tu, runner.Options{Lockstep: true}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	runDir := filepath.Join(dir, "runs", built.RunID)
	if err := archive.ArchiveInputs(runDir, scPath, tu, archive.RunMeta{RunID: built.RunID, Scenario: sc.Name}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	rec := trace.NewRecorder(runDir, nil)
	built.Runner.AddSink(rec.Sink)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := built.Runner.RunHeadless(ctx, ticks); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close trace: %v", err)
	}
	if err := archive.Finish(runDir, built.Runner.Tick()); err != nil {
		t.Fatalf("finish: %v", err)
	}
	return runDir
}

func TestReplayMatchesRecordedRun(t *testing.T) {
	runDir := recordRun(t, t.TempDir(), 120)
	cat, err := catalogs.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	meta, checked, err := replayRun(context.Background(), runDir, cat, 0, 0, nil)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if checked != 120 {
		t.Fatalf("checked=%d want 120", checked)
	}
	if meta.Scenario != "corridor" || meta.EndTick != 120 {
		t.Fatalf("meta=%+v", meta)
	}

	_, checked, err = replayRun(context.Background(), runDir, cat, 10, 19, nil)
	if err != nil {
		t.Fatalf("replay window: %v", err)
	}
	if checked != 10 {
		t.Fatalf("window checked=%d want 10", checked)
	}
}

func TestVerifyReportsDigestMismatch(t *testing.T) {
	runDir := recordRun(t, t.TempDir(), 30)
	records, err := trace.ReadTicks(runDir)
	if err != nil {
		t.Fatalf("read ticks: %v", err)
	}
	records[7].Digest = "0000"

	scPath, tuPath, _, err := archive.Inputs(runDir)
	if err != nil {
		t.Fatalf("inputs: %v", err)
	}
	sc, err := scenario.Load(scPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tu, err := tuning.Load(tuPath)
	if err != nil {
		t.Fatalf("tuning: %v", err)
	}
	cat, _ := catalogs.Default()
	built, err := scenario.Build(sc, cat, tu, runner.Options{Lockstep: true}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	built.Runner.Start(context.Background())
	defer built.Runner.Close()

	checked, err := verify(built.Runner, records, 0, 0)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at tick 7") {
		t.Fatalf("err=%v", err)
	}
	if checked != 8 {
		t.Fatalf("checked=%d want 8", checked)
	}
}

func TestReplayMissingMeta(t *testing.T) {
	cat, _ := catalogs.Default()
	if _, _, err := replayRun(context.Background(), t.TempDir(), cat, 0, 0, nil); err == nil {
		t.Fatalf("expected error for a directory without meta.json")
	}
}
