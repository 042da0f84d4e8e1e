package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"voxelpath.ai/internal/persistence/indexdb"
	"voxelpath.ai/internal/scenario"
)

// runReport prints the summary of runID, or the latest runs when runID is
// "list".
func runReport(ctx context.Context, out io.Writer, dataDir, runID string) error {
	idx, err := indexdb.OpenSQLite(indexPath(dataDir))
	if err != nil {
		return err
	}
	defer idx.Close()

	if runID == "list" {
		runs, err := idx.Runs(ctx, 20)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Fprintf(out, "%s  %-16s ticks=%-6d started=%s\n", r.RunID, r.Scenario, r.Ticks, r.StartedAt.Format(time.RFC3339))
		}
		return nil
	}

	sum, err := idx.Summary(ctx, runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	writeSummary(out, sum)
	return nil
}

func writeSummary(out io.Writer, sum indexdb.RunSummary) {
	fmt.Fprintf(out, "run       %s (%s)\n", sum.RunID, sum.Scenario)
	fmt.Fprintf(out, "ticks     %d\n", sum.Ticks)
	fmt.Fprintf(out, "searches  %d (found %d, partial %d, failed %d), avg expanded %.1f\n",
		sum.Searches, sum.Found, sum.Partial, sum.Failed, sum.AvgExpanded)
	fmt.Fprintf(out, "gave up   %d\n", sum.GaveUp)
	codes := make([]string, 0, len(sum.Failures))
	for c := range sum.Failures {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		fmt.Fprintf(out, "  %-18s %d\n", c, sum.Failures[c])
	}
}

func writeResults(out io.Writer, results []scenario.ScriptResult) {
	for _, r := range results {
		line := fmt.Sprintf("%-8s %-8s runs=%d", r.AgentID, r.Status, r.Runs)
		if r.Err != nil {
			line += " err=" + r.Err.Error()
		}
		fmt.Fprintln(out, line)
	}
}
