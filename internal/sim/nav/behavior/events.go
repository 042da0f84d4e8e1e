package behavior

import (
	"context"
	"errors"

	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/nav/astar"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/movement"
	"voxelpath.ai/internal/sim/voxel"
)

// Event reports a behavior transition. Type is one of the protocol.Event*
// constants; Code is set for failures.
type Event struct {
	Type     string
	Code     string
	Goal     goal.Goal
	JobID    uint64
	Err      error
	Cell     voxel.Cell
	Cost     float64
	Expanded int
	Points   int
	Failures int
}

// Listener receives events on the simulation goroutine.
type Listener func(Event)

// Wire converts the event for traces and observers.
func (e Event) Wire(tick uint64, agentID string) protocol.Event {
	pos := [3]int{e.Cell.X, e.Cell.Y, e.Cell.Z}
	out := protocol.Event{
		Tick:      tick,
		AgentID:   agentID,
		Type:      e.Type,
		Code:      e.Code,
		Goal:      e.Goal.String(),
		JobID:     e.JobID,
		Pos:       &pos,
		Cost:      e.Cost,
		Expanded:  e.Expanded,
		Waypoints: e.Points,
		Failures:  e.Failures,
	}
	if e.Err != nil {
		out.Message = e.Err.Error()
	}
	return out
}

// Code maps an error from the pathing stack to its protocol code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCouldNotPath):
		return protocol.ErrCouldNotPath
	case errors.Is(err, ErrStuck):
		return protocol.ErrStuck
	case errors.Is(err, ErrBadGoal):
		return protocol.ErrBadRequest
	case errors.Is(err, movement.ErrTimeout):
		return protocol.ErrTimeout
	case errors.Is(err, movement.ErrPrecondition):
		return protocol.ErrPrecondition
	case errors.Is(err, astar.ErrUnreachable):
		return protocol.ErrUnreachable
	case errors.Is(err, astar.ErrNoPath):
		return protocol.ErrNoPath
	case errors.Is(err, context.Canceled):
		return protocol.ErrCancelled
	default:
		return protocol.ErrInternal
	}
}
