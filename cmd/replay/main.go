// Command replay re-runs an archived run in lockstep and checks every tick
// digest against the recorded ticks trace.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"voxelpath.ai/internal/persistence/archive"
	"voxelpath.ai/internal/persistence/trace"
	"voxelpath.ai/internal/scenario"
	"voxelpath.ai/internal/sim/catalogs"
	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/tuning"
)

func main() {
	var (
		runDir    = flag.String("run", "", "run directory (data/runs/<run_id>)")
		configDir = flag.String("configs", "./configs", "config directory")
		fromTick  = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick    = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		verbose   = flag.Bool("v", false, "log simulation output")
	)
	flag.Parse()

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	var logOut io.Writer = io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	logger := log.New(logOut, "[replay] ", log.LstdFlags|log.Lmicroseconds)

	meta, checked, err := replayRun(context.Background(), *runDir, cats, *fromTick, *toTick, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: run=%s scenario=%s checked=%d ticks\n", meta.RunID, meta.Scenario, checked)
}

// replayRun rebuilds the archived scenario with the archived tuning and
// verifies it against the run's ticks trace.
func replayRun(ctx context.Context, runDir string, cats *catalogs.BlockCatalog, from, to uint64, logger *log.Logger) (archive.RunMeta, uint64, error) {
	scPath, tuPath, meta, err := archive.Inputs(runDir)
	if err != nil {
		return meta, 0, fmt.Errorf("read meta: %w", err)
	}
	sc, err := scenario.Load(scPath)
	if err != nil {
		return meta, 0, err
	}
	tu, err := tuning.Load(tuPath)
	if err != nil {
		return meta, 0, err
	}
	records, err := trace.ReadTicks(runDir)
	if err != nil {
		return meta, 0, fmt.Errorf("read ticks: %w", err)
	}
	if len(records) == 0 {
		return meta, 0, fmt.Errorf("no tick records in %s", runDir)
	}

	built, err := scenario.Build(sc, cats, tu, runner.Options{Lockstep: true}, logger)
	if err != nil {
		return meta, 0, err
	}
	r := built.Runner
	r.Start(ctx)
	defer r.Close()

	checked, err := verify(r, records, from, to)
	return meta, checked, err
}

func verify(r *runner.Runner, records []trace.TickRecord, from, to uint64) (uint64, error) {
	var checked uint64
	for _, rec := range records {
		if to != 0 && rec.Tick > to {
			break
		}
		snap := r.StepOnce()
		if snap.Tick != rec.Tick {
			return checked, fmt.Errorf("tick mismatch: stepped=%d recorded=%d", snap.Tick, rec.Tick)
		}
		if rec.Tick < from {
			continue
		}
		checked++
		if got := trace.NewTickRecord(snap); got.Digest != rec.Digest {
			return checked, fmt.Errorf("digest mismatch at tick %d: got=%s want=%s%s", rec.Tick, got.Digest, rec.Digest, firstDiff(got, rec))
		}
	}
	return checked, nil
}

// firstDiff names the first agent whose recorded state differs.
func firstDiff(got, want trace.TickRecord) string {
	if len(got.Agents) != len(want.Agents) {
		return fmt.Sprintf(" (agents %d vs %d)", len(got.Agents), len(want.Agents))
	}
	for i := range got.Agents {
		g, w := got.Agents[i], want.Agents[i]
		if g.Pos != w.Pos || g.State != w.State {
			return fmt.Sprintf(" (agent %s: %v %s vs %v %s)", g.ID, g.Pos, g.State, w.Pos, w.State)
		}
	}
	return ""
}
