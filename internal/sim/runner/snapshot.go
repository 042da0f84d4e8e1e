package runner

import (
	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/voxel"
)

// TickSnapshot is what sinks see after a tick. Slices are owned by the
// snapshot; sinks may keep them.
type TickSnapshot struct {
	Tick     uint64
	Agents   []AgentState
	Entities []EntityState
	Events   []protocol.Event
	Changes  []BlockChange
}

// BlockChange is a block swap made during the tick (doors).
type BlockChange struct {
	Pos      voxel.Cell
	From, To uint16
}

type AgentState struct {
	ID        string
	Pos       voxel.Vec3
	Vel       voxel.Vec3
	Yaw       float64
	OnGround  bool
	State     string
	Active    bool
	Goal      string
	Movement  string
	Progress  float64
	Failures  int
	Waypoints []voxel.Cell
	NextIndex int
	Err       string
}

type EntityState struct {
	ID  string
	Pos voxel.Vec3
}

func (r *Runner) snapshot(tick uint64) TickSnapshot {
	out := TickSnapshot{
		Tick:     tick,
		Agents:   make([]AgentState, 0, len(r.agents)),
		Entities: make([]EntityState, 0, len(r.entities)),
		Events:   r.pending,
		Changes:  r.changes,
	}
	for _, a := range r.agents {
		st := AgentState{
			ID:        a.ID,
			Pos:       a.Body.Position(),
			Vel:       a.Body.Velocity(),
			Yaw:       a.Body.Facing(),
			OnGround:  a.Body.OnGround(),
			State:     a.Nav.State().String(),
			Active:    a.Nav.IsActive(),
			Progress:  a.Nav.Progress(),
			Failures:  a.Nav.Failures(),
			NextIndex: a.Nav.WaypointIndex(),
		}
		if g, ok := a.Nav.CurrentGoal(); ok {
			st.Goal = g.String()
		}
		if m := a.Nav.CurrentMovement(); m != nil {
			st.Movement = m.Kind.String()
		}
		if p := a.Nav.CurrentPath(); p != nil {
			st.Waypoints = make([]voxel.Cell, 0, p.Len())
			for _, w := range p.Waypoints {
				st.Waypoints = append(st.Waypoints, w.Cell)
			}
		}
		if err := a.Nav.Err(); err != nil {
			st.Err = err.Error()
		}
		out.Agents = append(out.Agents, st)
	}
	for _, e := range r.entities {
		out.Entities = append(out.Entities, EntityState{ID: e.ID, Pos: e.pos})
	}
	return out
}
