package indexdb

import (
	"context"
	"time"

	"voxelpath.ai/internal/protocol"
)

type RunSummary struct {
	RunInfo

	Searches    int
	Found       int
	Partial     int
	Failed      int
	AvgExpanded float64

	Failures map[string]int // by code
	GaveUp   int
}

// Runs lists runs, newest first.
func (s *SQLiteIndex) Runs(ctx context.Context, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, scenario, started_at, COALESCE(ended_at,''), ticks FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunInfo
	for rows.Next() {
		ri, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Summary(ctx context.Context, runID string) (RunSummary, error) {
	var sum RunSummary
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, scenario, started_at, COALESCE(ended_at,''), ticks FROM runs WHERE run_id=?`, runID)
	ri, err := scanRun(row)
	if err != nil {
		return sum, err
	}
	sum.RunInfo = ri

	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*), COALESCE(SUM(expanded),0) FROM searches WHERE run_id=? GROUP BY outcome`, runID)
	if err != nil {
		return sum, err
	}
	var expanded int64
	for rows.Next() {
		var (
			outcome string
			n       int
			e       int64
		)
		if err := rows.Scan(&outcome, &n, &e); err != nil {
			rows.Close()
			return sum, err
		}
		sum.Searches += n
		expanded += e
		switch outcome {
		case protocol.EventPathFound:
			sum.Found = n
		case protocol.EventPathPartial:
			sum.Partial = n
		case protocol.EventSearchFailed:
			sum.Failed = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sum, err
	}
	if sum.Searches > 0 {
		sum.AvgExpanded = float64(expanded) / float64(sum.Searches)
	}

	sum.Failures = map[string]int{}
	rows, err = s.db.QueryContext(ctx,
		`SELECT kind, code, COUNT(*) FROM failures WHERE run_id=? GROUP BY kind, code`, runID)
	if err != nil {
		return sum, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			kind, code string
			n          int
		)
		if err := rows.Scan(&kind, &code, &n); err != nil {
			return sum, err
		}
		if kind == protocol.EventGaveUp {
			sum.GaveUp += n
			continue
		}
		sum.Failures[code] += n
	}
	return sum, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunInfo, error) {
	var (
		ri             RunInfo
		started, ended string
		ticks          int64
	)
	if err := sc.Scan(&ri.RunID, &ri.Scenario, &started, &ended, &ticks); err != nil {
		return ri, err
	}
	ri.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if ended != "" {
		ri.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
	}
	ri.Ticks = uint64(ticks)
	return ri, nil
}
