package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"path/filepath"

	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/runner"
)

// TickRecord is one line of the ticks trace.
type TickRecord struct {
	Tick     uint64         `json:"tick"`
	Digest   string         `json:"digest"`
	Agents   []AgentRecord  `json:"agents"`
	Entities []EntityRecord `json:"entities,omitempty"`
}

type AgentRecord struct {
	ID        string     `json:"id"`
	Pos       [3]float64 `json:"pos"`
	Yaw       float64    `json:"yaw"`
	OnGround  bool       `json:"on_ground"`
	State     string     `json:"state"`
	Goal      string     `json:"goal,omitempty"`
	Movement  string     `json:"movement,omitempty"`
	Progress  float64    `json:"progress"`
	Waypoints int        `json:"waypoints"`
	Failures  int        `json:"failures,omitempty"`
}

type EntityRecord struct {
	ID  string     `json:"id"`
	Pos [3]float64 `json:"pos"`
}

func NewTickRecord(s runner.TickSnapshot) TickRecord {
	rec := TickRecord{Tick: s.Tick, Agents: make([]AgentRecord, 0, len(s.Agents))}
	for _, a := range s.Agents {
		rec.Agents = append(rec.Agents, AgentRecord{
			ID:        a.ID,
			Pos:       [3]float64{a.Pos.X, a.Pos.Y, a.Pos.Z},
			Yaw:       a.Yaw,
			OnGround:  a.OnGround,
			State:     a.State,
			Goal:      a.Goal,
			Movement:  a.Movement,
			Progress:  a.Progress,
			Waypoints: len(a.Waypoints),
			Failures:  a.Failures,
		})
	}
	for _, e := range s.Entities {
		rec.Entities = append(rec.Entities, EntityRecord{ID: e.ID, Pos: [3]float64{e.Pos.X, e.Pos.Y, e.Pos.Z}})
	}
	rec.Digest = digest(rec)
	return rec
}

// digest hashes the agent and entity state of a record. Two lockstep runs of
// the same scenario produce the same digest sequence.
func digest(rec TickRecord) string {
	b, _ := json.Marshal(struct {
		Tick     uint64
		Agents   []AgentRecord
		Entities []EntityRecord
	}{rec.Tick, rec.Agents, rec.Entities})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

// Ticks and events are synced every TickSyncEvery records.
const TickSyncEvery = 100

// TickLogger writes one JSONL entry per tick (compressed).
type TickLogger struct{ w *JSONLZstdWriter }

func NewTickLogger(runDir string) *TickLogger {
	w := NewJSONLZstdWriter(filepath.Join(runDir, "ticks"), "ticks")
	w.SyncEvery = TickSyncEvery
	return &TickLogger{w: w}
}

func (l *TickLogger) WriteTick(s runner.TickSnapshot) error { return l.w.Write(NewTickRecord(s)) }
func (l *TickLogger) Close() error                          { return l.w.Close() }

// EventLogger writes pathing events (compressed).
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(runDir string) *EventLogger {
	w := NewJSONLZstdWriter(filepath.Join(runDir, "events"), "events")
	w.SyncEvery = TickSyncEvery
	return &EventLogger{w: w}
}

func (l *EventLogger) WriteEvent(e protocol.Event) error { return l.w.Write(e) }
func (l *EventLogger) Close() error                      { return l.w.Close() }

// Recorder bundles both logs behind a runner sink.
type Recorder struct {
	Ticks  *TickLogger
	Events *EventLogger
	logger *log.Logger
	failed bool
}

func NewRecorder(runDir string, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	return &Recorder{Ticks: NewTickLogger(runDir), Events: NewEventLogger(runDir), logger: logger}
}

// Sink records every tick. Write errors are logged once and then ignored.
func (r *Recorder) Sink(s runner.TickSnapshot) {
	if err := r.Ticks.WriteTick(s); err != nil {
		r.warn(err)
	}
	for _, e := range s.Events {
		if err := r.Events.WriteEvent(e); err != nil {
			r.warn(err)
			return
		}
	}
}

func (r *Recorder) warn(err error) {
	if r.failed {
		return
	}
	r.failed = true
	r.logger.Printf("[trace] write failed: %v", err)
}

func (r *Recorder) Close() error {
	err1 := r.Ticks.Close()
	err2 := r.Events.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
