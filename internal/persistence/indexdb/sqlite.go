// Package indexdb keeps a queryable SQLite index of pathing runs: one row per
// run, per search result, and per failure.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/catalogs"
	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvents atomic.Uint64
	dropOther  atomic.Uint64
}

type reqKind int

const (
	reqEvents reqKind = iota + 1
	reqEndRun
	reqFlush
)

type req struct {
	kind reqKind

	runID  string
	events []protocol.Event
	ticks  uint64
	done   chan struct{}
}

type RunInfo struct {
	RunID     string
	Scenario  string
	StartedAt time.Time
	EndedAt   time.Time
	Ticks     uint64
}

type Stats struct {
	QueueDepth      int
	QueueCapacity   int
	DropEventsTotal uint64
	DropOtherTotal  uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			ticks INTEGER NOT NULL DEFAULT 0,
			palette_digest TEXT NOT NULL,
			tuning_digest TEXT NOT NULL,
			tuning_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS searches (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			agent_id TEXT NOT NULL,
			job_id INTEGER NOT NULL,
			tick INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			code TEXT,
			goal TEXT NOT NULL,
			cost REAL NOT NULL,
			expanded INTEGER NOT NULL,
			waypoints INTEGER NOT NULL,
			PRIMARY KEY (run_id, agent_id, job_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_searches_outcome ON searches(run_id, outcome);`,
		`CREATE TABLE IF NOT EXISTS failures (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			agent_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			code TEXT NOT NULL,
			goal TEXT NOT NULL,
			message TEXT,
			x INTEGER,
			y INTEGER,
			z INTEGER,
			attempt INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_failures_code ON failures(run_id, code);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropEventsTotal: s.dropEvents.Load(),
		DropOtherTotal:  s.dropOther.Load(),
	}
}

// BeginRun records the run row synchronously so later event rows can
// reference it.
func (s *SQLiteIndex) BeginRun(runID, scenario string, cat *catalogs.BlockCatalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	palette := ""
	if cat != nil {
		palette = cat.PaletteDigest
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO runs(run_id,scenario,started_at,palette_digest,tuning_digest,tuning_json) VALUES(?,?,?,?,?,?)`,
		runID, scenario, time.Now().UTC().Format(time.RFC3339Nano), palette, digest, string(b)); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordEvents queues the search and failure events of one tick. It never
// blocks the simulation; when the writer falls behind the batch is dropped
// and counted.
func (s *SQLiteIndex) RecordEvents(runID string, events []protocol.Event) {
	if s == nil || s.closed.Load() || len(events) == 0 {
		return
	}
	select {
	case s.ch <- req{kind: reqEvents, runID: runID, events: events}:
	default:
		s.dropEvents.Add(1)
	}
}

func (s *SQLiteIndex) EndRun(runID string, ticks uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEndRun, runID: runID, ticks: ticks}:
	default:
		s.dropOther.Add(1)
	}
}

// Sink forwards each tick's events for runID.
func (s *SQLiteIndex) Sink(runID string) runner.Sink {
	return func(snap runner.TickSnapshot) { s.RecordEvents(runID, snap.Events) }
}

// Flush commits everything queued so far.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isSearchResult(typ string) bool {
	return typ == protocol.EventPathFound || typ == protocol.EventPathPartial || typ == protocol.EventSearchFailed
}

func isFailure(typ string) bool {
	return typ == protocol.EventSearchFailed || typ == protocol.EventMovementFailed || typ == protocol.EventGaveUp
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSearch, _ := s.db.Prepare(`INSERT OR REPLACE INTO searches(run_id,agent_id,job_id,tick,outcome,code,goal,cost,expanded,waypoints) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertFailure, _ := s.db.Prepare(`INSERT OR REPLACE INTO failures(run_id,tick,seq,agent_id,kind,code,goal,message,x,y,z,attempt) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	updateRun, _ := s.db.Prepare(`UPDATE runs SET ended_at=?, ticks=? WHERE run_id=?`)
	defer func() {
		if insertSearch != nil {
			_ = insertSearch.Close()
		}
		if insertFailure != nil {
			_ = insertFailure.Close()
		}
		if updateRun != nil {
			_ = updateRun.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastFailTick uint64
		failSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvents:
			for _, e := range r.events {
				if isSearchResult(e.Type) && insertSearch != nil {
					if _, err := tx.Stmt(insertSearch).Exec(
						r.runID, e.AgentID, int64(e.JobID), int64(e.Tick), e.Type, e.Code, e.Goal,
						e.Cost, e.Expanded, e.Waypoints,
					); err != nil {
						rollback()
						break
					}
					opCount++
				}
				if isFailure(e.Type) && insertFailure != nil {
					if e.Tick != lastFailTick {
						lastFailTick = e.Tick
						failSeq = 0
					}
					seq := failSeq
					failSeq++
					var x, y, z any
					if e.Pos != nil {
						x, y, z = e.Pos[0], e.Pos[1], e.Pos[2]
					}
					if _, err := tx.Stmt(insertFailure).Exec(
						r.runID, int64(e.Tick), seq, e.AgentID, e.Type, e.Code, e.Goal, e.Message,
						x, y, z, e.Failures,
					); err != nil {
						rollback()
						break
					}
					opCount++
				}
			}

		case reqEndRun:
			if updateRun != nil {
				if _, err := tx.Stmt(updateRun).Exec(time.Now().UTC().Format(time.RFC3339Nano), int64(r.ticks), r.runID); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
