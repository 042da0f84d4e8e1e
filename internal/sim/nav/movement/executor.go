package movement

import (
	"context"
	"fmt"

	"voxelpath.ai/internal/sim/nav/smooth"
	"voxelpath.ai/internal/sim/voxel"
)

type Status uint8

const (
	StatusRunning Status = iota
	StatusSuccess
	StatusFailed
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	case StatusCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// Executor walks a smoothed path one Movement at a time. Waypoint i (i >= 1)
// becomes a Movement from waypoint i-1 with the kind recorded on waypoint i.
type Executor struct {
	path *smooth.Path
	p    Params

	next   int
	cur    *Movement
	status Status
	err    error
	ticks  int
}

func NewExecutor(sp *smooth.Path, p Params) *Executor {
	return &Executor{path: sp, p: p, next: 1}
}

func (e *Executor) Path() *smooth.Path { return e.path }
func (e *Executor) Current() *Movement { return e.cur }
func (e *Executor) Status() Status     { return e.status }
func (e *Executor) Err() error         { return e.err }
func (e *Executor) Ticks() int         { return e.ticks }
func (e *Executor) Done() bool         { return e.status != StatusRunning }

// WaypointIndex is the index of the waypoint currently being approached.
func (e *Executor) WaypointIndex() int { return e.next }

func (e *Executor) segments() int {
	return max(0, e.path.Len()-1)
}

// Progress is the completed fraction of path segments.
func (e *Executor) Progress() float64 {
	if e.status == StatusSuccess {
		return 1
	}
	n := e.segments()
	if n == 0 {
		return 0
	}
	return float64(min(e.next-1, n)) / float64(n)
}

// Cancel stops the executor without an error.
func (e *Executor) Cancel() {
	if e.Done() {
		return
	}
	e.status = StatusCanceled
	e.err = context.Canceled
	e.cur = nil
}

// Fail aborts the current movement with err.
func (e *Executor) Fail(err error) {
	if e.Done() {
		return
	}
	if e.cur != nil {
		e.cur.Fail(err)
	}
	e.status = StatusFailed
	e.err = err
}

// Tick advances the current movement. A movement that completes hands over to
// the next one within the same tick so the agent keeps being steered.
func (e *Executor) Tick(a Agent, t Terrain) Status {
	if e.Done() {
		return e.status
	}
	e.ticks++
	for {
		if e.next >= e.path.Len() {
			e.finish(a)
			return e.status
		}
		if e.cur == nil {
			from, to := e.path.Waypoints[e.next-1], e.path.Waypoints[e.next]
			e.cur = New(to.Kind, from.Cell, to.Cell, to.Pos, e.p)
		}
		switch e.cur.Tick(a, t) {
		case StateComplete:
			e.cur = nil
			e.next++
			continue
		case StateFailed:
			e.status = StatusFailed
			e.err = fmt.Errorf("waypoint %d: %w", e.next, e.cur.Err())
			return e.status
		}
		return e.status
	}
}

func (e *Executor) finish(a Agent) {
	e.status = StatusSuccess
	e.cur = nil
	a.SetVelocity(voxel.Vec3{Y: a.Velocity().Y})
}
