package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voxelpath.ai/internal/persistence/indexdb"
	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/scenario"
	"voxelpath.ai/internal/sim/catalogs"
	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/tuning"
)

func TestMetricsExposition(t *testing.T) {
	m := newSimMetrics("courtyard")
	m.indexFn = func() (int, int, uint64) { return 3, 16384, 2 }
	m.Sink(runner.TickSnapshot{
		Tick:   41,
		Agents: []runner.AgentState{{ID: "A1", State: "MOVING"}, {ID: "A2", State: "IDLE"}},
		Events: []protocol.Event{
			{Type: protocol.EventPathFound},
			{Type: protocol.EventMovementFailed, Code: protocol.ErrStuck},
		},
	})
	m.Sink(runner.TickSnapshot{Tick: 42, Agents: []runner.AgentState{{ID: "A1", State: "IDLE"}, {ID: "A2", State: "IDLE"}}})

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`voxelpath_tick{scenario="courtyard"} 42`,
		`voxelpath_agents{scenario="courtyard"} 2`,
		`voxelpath_agents_state{scenario="courtyard",state="IDLE"} 2`,
		`voxelpath_agents_state{scenario="courtyard",state="MOVING"} 0`,
		`voxelpath_events_total{scenario="courtyard",type="PATH_FOUND"} 1`,
		`voxelpath_errors_total{scenario="courtyard",code="E_STUCK"} 1`,
		`voxelpath_index_queue_depth 3`,
		`voxelpath_index_dropped_total 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestLoopbackOnly(t *testing.T) {
	h := loopbackOnly(func(rw http.ResponseWriter, r *http.Request) { rw.WriteHeader(http.StatusTeapot) })

	req := httptest.NewRequest(http.MethodGet, "/v1/control/ws", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Fatalf("loopback code=%d", rec.Code)
	}

	req.RemoteAddr = "203.0.113.9:4000"
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote code=%d", rec.Code)
	}
}

func TestReportAfterHeadlessRun(t *testing.T) {
	dataDir := t.TempDir()
	cat, err := catalogs.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	sc, err := scenario.Parse([]byte(`
name: report
world:
  min: [-4, -1, -4]
  max: [12, 6, 4]
  ops:
    - fill: {from: [-4, -1, -4], to: [12, -1, 4], block: STONE}
agents:
  - id: A1
    spawn: [0, 0, 0]
    script:
      steps:
        - reach: [8, 0, 0]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	built, err := scenario.Build(sc, cat, tuning.Defaults(), runner.Options{Lockstep: true}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	idx, err := openRuntimeIndex(dataDir, false)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	if err := idx.BeginRun(built.RunID, sc.Name, cat, tuning.Defaults()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	r := built.Runner
	r.AddSink(idx.Sink(built.RunID))
	r.AddHook(func(uint64) {
		if built.Director.Done() {
			r.Stop()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.RunHeadless(ctx, 2000); err != nil {
		t.Fatalf("run: %v", err)
	}
	idx.EndRun(built.RunID, r.Tick())
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var out bytes.Buffer
	if err := runReport(ctx, &out, dataDir, built.RunID); err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out.String(), "found 1") {
		t.Fatalf("report:\n%s", out.String())
	}

	out.Reset()
	if err := runReport(ctx, &out, dataDir, "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), built.RunID) {
		t.Fatalf("list:\n%s", out.String())
	}

	var res bytes.Buffer
	writeResults(&res, built.Director.Results())
	if !strings.Contains(res.String(), "A1       SUCCESS") {
		t.Fatalf("results:\n%s", res.String())
	}
}

func TestWriteSummary(t *testing.T) {
	var out bytes.Buffer
	writeSummary(io.Writer(&out), indexdb.RunSummary{
		RunInfo:  indexdb.RunInfo{RunID: "r1", Scenario: "maze", Ticks: 90},
		Searches: 4, Found: 2, Partial: 1, Failed: 1, AvgExpanded: 12.5,
		Failures: map[string]int{protocol.ErrUnreachable: 1, protocol.ErrStuck: 2},
		GaveUp:   1,
	})
	s := out.String()
	if !strings.Contains(s, "searches  4 (found 2, partial 1, failed 1), avg expanded 12.5") {
		t.Fatalf("summary:\n%s", s)
	}
	if strings.Index(s, protocol.ErrStuck) > strings.Index(s, protocol.ErrUnreachable) {
		t.Fatalf("codes not sorted:\n%s", s)
	}
}

func TestNewRunMirrorFromEnv(t *testing.T) {
	t.Setenv("VP_S3_MIRROR", "")
	m, err := newRunMirror(t.TempDir(), nil)
	if err != nil || m != nil {
		t.Fatalf("disabled: m=%v err=%v", m, err)
	}

	t.Setenv("VP_S3_MIRROR", "true")
	t.Setenv("VP_S3_ENDPOINT", "127.0.0.1:9000")
	t.Setenv("VP_S3_BUCKET", "")
	if _, err := newRunMirror(t.TempDir(), nil); err == nil {
		t.Fatalf("expected error without bucket and credentials")
	}

	t.Setenv("VP_S3_BUCKET", "runs")
	t.Setenv("VP_S3_ACCESS_KEY_ID", "ak")
	t.Setenv("VP_S3_SECRET_ACCESS_KEY", "sk")
	t.Setenv("VP_S3_UPLOAD_WORKERS", "3")
	m, err = newRunMirror(t.TempDir(), nil)
	if err != nil || m == nil {
		t.Fatalf("enabled: m=%v err=%v", m, err)
	}
	m.Close()
}
