package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voxelpath.ai/internal/persistence/archive"
	"voxelpath.ai/internal/persistence/trace"
	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/tuning"
)

func TestListRuns(t *testing.T) {
	data := t.TempDir()
	src := filepath.Join(data, "maze.yaml")
	if err := os.WriteFile(src, []byte("name: maze\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	older := filepath.Join(data, "runs", "r-old")
	newer := filepath.Join(data, "runs", "r-new")
	if err := archive.ArchiveInputs(older, src, tuning.Defaults(), archive.RunMeta{RunID: "r-old", Scenario: "maze", CreatedAt: "2026-01-01T00:00:00Z"}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := archive.Finish(older, 300); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := archive.ArchiveInputs(newer, src, tuning.Defaults(), archive.RunMeta{RunID: "r-new", Scenario: "maze", CreatedAt: "2026-02-01T00:00:00Z"}); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(data, "runs", "stray"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var out bytes.Buffer
	if err := listRuns(&out, data); err != nil {
		t.Fatalf("list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines=%q", lines)
	}
	if !strings.HasPrefix(lines[0], "r-new") || !strings.Contains(lines[0], "running") {
		t.Fatalf("line0=%q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "r-old") || !strings.Contains(lines[1], "ended tick=300") {
		t.Fatalf("line1=%q", lines[1])
	}
	if !strings.Contains(lines[2], "stray  (no meta.json)") {
		t.Fatalf("line2=%q", lines[2])
	}
}

func TestPrintEventsFilters(t *testing.T) {
	runDir := t.TempDir()
	l := trace.NewEventLogger(runDir)
	at := func(x, y, z int) *[3]int { return &[3]int{x, y, z} }
	for _, e := range []protocol.Event{
		{Tick: 1, AgentID: "A1", Type: protocol.EventGoalSet, Goal: "REACH_BLOCK(4,0,0)"},
		{Tick: 9, AgentID: "A1", Type: protocol.EventPathFound, Expanded: 31},
		{Tick: 30, AgentID: "A2", Type: protocol.EventMovementFailed, Code: protocol.ErrStuck, Pos: at(2, 0, 1)},
		{Tick: 44, AgentID: "A1", Type: protocol.EventMovementFailed, Code: protocol.ErrStuck, Pos: at(9, 0, 9)},
	} {
		if err := l.WriteEvent(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var out bytes.Buffer
	if err := printEvents(&out, runDir, eventFilter{agent: "A1"}); err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out.String(), "expanded=31") || !strings.Contains(out.String(), "3 of 4 events") {
		t.Fatalf("agent filter:\n%s", out.String())
	}

	min, max, err := parseAABB("0,0,0:3,1,3")
	if err != nil {
		t.Fatalf("aabb: %v", err)
	}
	out.Reset()
	if err := printEvents(&out, runDir, eventFilter{code: protocol.ErrStuck, aabb: true, min: min, max: max}); err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out.String(), "A2") || !strings.Contains(out.String(), "at 2,0,1 E_STUCK") || !strings.Contains(out.String(), "1 of 4 events") {
		t.Fatalf("aabb filter:\n%s", out.String())
	}

	out.Reset()
	if err := printEvents(&out, runDir, eventFilter{limit: 2}); err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out.String(), "2 of 4 events") {
		t.Fatalf("limit:\n%s", out.String())
	}
}

func TestParseAABB(t *testing.T) {
	min, max, err := parseAABB(" 5,2,-1 : 1,0,3 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if min != [3]int{1, 0, -1} || max != [3]int{5, 2, 3} {
		t.Fatalf("min=%v max=%v", min, max)
	}
	for _, bad := range []string{"1,2,3", "1,2:3,4,5", "a,b,c:1,2,3"} {
		if _, _, err := parseAABB(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestPrintState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/observer/bootstrap", func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("encoding") != "rle" {
			t.Errorf("encoding=%q", r.URL.Query().Get("encoding"))
		}
		_, _ = rw.Write([]byte(`{"protocol_version":"0.1","run_id":"r1","scenario":"maze","tick":12,"tick_rate_hz":20,"min":[0,0,0],"max":[3,3,3],"block_palette":["AIR","STONE"]}`))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		_, _ = rw.Write([]byte("voxelpath_tick{scenario=\"maze\"} 12\n"))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	var out bytes.Buffer
	if err := printState(&out, ts.Client(), ts.URL+"/"); err != nil {
		t.Fatalf("state: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "run=r1 scenario=maze tick=12 rate=20Hz") || !strings.Contains(s, "palette=2") {
		t.Fatalf("state:\n%s", s)
	}
	if !strings.Contains(s, `voxelpath_tick{scenario="maze"} 12`) {
		t.Fatalf("metrics missing:\n%s", s)
	}
}
