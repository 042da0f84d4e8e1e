package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelpath.ai/internal/protocol"
)

func TestSchemas_ValidateEvents(t *testing.T) {
	p := filepath.Join("..", "..", "schemas", "event.schema.json")
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	roundTrip := func(ev protocol.Event) any {
		t.Helper()
		b, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return v
	}

	for _, typ := range protocol.EventTypes() {
		if err := s.Validate(roundTrip(protocol.Event{Tick: 3, AgentID: "A1", Type: typ})); err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
	}

	pos := [3]int{4, 0, -2}
	full := protocol.Event{
		Tick: 10, AgentID: "A1", Type: protocol.EventMovementFailed,
		Code: protocol.ErrStuck, Goal: "ReachBlock(4,0,-2)", JobID: 2,
		Message: "no progress", Pos: &pos, Failures: 1,
	}
	if err := s.Validate(roundTrip(full)); err != nil {
		t.Fatalf("full event: %v", err)
	}

	var bad any
	_ = json.Unmarshal([]byte(`{"tick":1,"agent_id":"A1","type":"PATH_FOUND","code":"E_NOT_DEFINED"}`), &bad)
	if err := s.Validate(bad); err == nil {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestSchemas_ValidateControl(t *testing.T) {
	p := filepath.Join("..", "..", "schemas", "control.schema.json")
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	toAny := func(v any) any {
		t.Helper()
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return out
	}

	pos := [3]int{4, 0, 1}
	good := []any{
		protocol.SetGoalMsg{Type: protocol.TypeSetGoal, ProtocolVersion: protocol.Version, AgentID: "A1",
			Goal: protocol.GoalSpec{Kind: "REACH_BLOCK", Pos: &pos}},
		protocol.SetGoalMsg{Type: protocol.TypeSetGoal, ProtocolVersion: protocol.Version, AgentID: "A1",
			Goal: protocol.GoalSpec{Kind: "PATROL", Points: [][3]int{{0, 0, 0}, {3, 0, 0}}, Loop: true}},
		protocol.StopMsg{Type: protocol.TypeStop, ProtocolVersion: protocol.Version, AgentID: "A1"},
	}
	for i, m := range good {
		if err := s.Validate(toAny(m)); err != nil {
			t.Fatalf("good[%d]: %v", i, err)
		}
	}

	bad := []any{
		protocol.SetGoalMsg{Type: protocol.TypeSetGoal, ProtocolVersion: protocol.Version, AgentID: "A1",
			Goal: protocol.GoalSpec{Kind: "TELEPORT"}},
		protocol.StopMsg{Type: protocol.TypeStop, ProtocolVersion: "0.9", AgentID: "A1"},
		protocol.StopMsg{Type: protocol.TypeStop, ProtocolVersion: protocol.Version},
	}
	for i, m := range bad {
		if err := s.Validate(toAny(m)); err == nil {
			t.Fatalf("bad[%d]: expected rejection", i)
		}
	}
}
