// Package movement drives an agent along one path segment per Movement.
//
// A Movement goes Prepping -> (Waiting ->) Running -> Complete, or Failed from
// any state when its precondition fails or its tick budget runs out. All agent
// actuation happens inside Tick on the simulation goroutine.
package movement

import (
	"errors"
	"fmt"
	"math"

	"voxelpath.ai/internal/sim/mathx"
	"voxelpath.ai/internal/sim/nav/astar"
	"voxelpath.ai/internal/sim/nav/snapshot"
	"voxelpath.ai/internal/sim/voxel"
)

var (
	ErrPrecondition = errors.New("movement precondition failed")
	ErrTimeout      = errors.New("movement tick budget exceeded")
)

type State uint8

const (
	StatePrepping State = iota
	StateWaiting
	StateRunning
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePrepping:
		return "PREPPING"
	case StateWaiting:
		return "WAITING"
	case StateRunning:
		return "RUNNING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// Agent is the body a movement steers.
type Agent interface {
	Position() voxel.Vec3
	Velocity() voxel.Vec3
	Facing() float64
	OnGround() bool
	Speed() float64

	SetVelocity(v voxel.Vec3)
	SetFacing(yaw float64)
	ApplyJumpImpulse()
	InteractWithDoorAt(c voxel.Cell) bool
}

// Terrain is the world query set movements check against.
type Terrain interface {
	IsPassable(c voxel.Cell) bool
	IsSolid(c voxel.Cell) bool
	HasGroundBelow(c voxel.Cell) bool
	IsWater(c voxel.Cell) bool
	IsLava(c voxel.Cell) bool
	IsClimbable(c voxel.Cell) bool
	IsDoor(c voxel.Cell) bool
	IsDoorOpen(c voxel.Cell) bool
	HasHeadroom(c voxel.Cell, height float64) bool
	CanStand(c voxel.Cell, body snapshot.Body) bool
	FootprintClear(c voxel.Cell, body snapshot.Body, height float64) bool
	DiagonalClear(c voxel.Cell, dx, dz int, body snapshot.Body) bool
}

// Params tunes locomotion. Distances are in cells, speeds in cells per tick.
type Params struct {
	Body snapshot.Body

	ReachHorizontal float64
	ReachVertical   float64

	ParkourEdgeTrigger float64
	SprintFactor       float64
	DoorRange          float64
	SwimSpeedFactor    float64
	ClimbSpeed         float64

	BudgetBase  int
	BudgetSlack float64
}

func DefaultParams() Params {
	return Params{
		Body:               snapshot.DefaultBody(),
		ReachHorizontal:    0.35,
		ReachVertical:      0.5,
		ParkourEdgeTrigger: 0.15,
		SprintFactor:       1.3,
		DoorRange:          2.0,
		SwimSpeedFactor:    0.5,
		ClimbSpeed:         0.12,
		BudgetBase:         40,
		BudgetSlack:        3.0,
	}
}

type Movement struct {
	Kind   astar.MoveKind
	Src    voxel.Cell
	Dest   voxel.Cell
	Target voxel.Vec3

	p      Params
	state  State
	ticks  int
	budget int
	err    error
}

// New builds the movement from src to dest; target is the steering point
// inside dest (its cell center unless the path was subdivided).
func New(kind astar.MoveKind, src, dest voxel.Cell, target voxel.Vec3, p Params) *Movement {
	return &Movement{Kind: kind, Src: src, Dest: dest, Target: target, p: p}
}

func (m *Movement) State() State { return m.state }
func (m *Movement) Err() error   { return m.err }
func (m *Movement) Ticks() int   { return m.ticks }
func (m *Movement) Budget() int  { return m.budget }

// Fail forces the movement into Failed.
func (m *Movement) Fail(err error) {
	if m.state.Terminal() {
		return
	}
	m.state = StateFailed
	m.err = err
}

// Tick advances the movement by one simulation tick.
func (m *Movement) Tick(a Agent, t Terrain) State {
	if m.state.Terminal() {
		return m.state
	}
	if m.ticks == 0 {
		m.budget = m.tickBudget(a.Speed())
	}
	m.ticks++
	if m.ticks > m.budget {
		a.SetVelocity(voxel.Vec3{Y: a.Velocity().Y})
		m.Fail(fmt.Errorf("%w: %s after %d ticks", ErrTimeout, m.Kind, m.budget))
		return m.state
	}

	if m.state == StatePrepping {
		if err := m.precondition(t); err != nil {
			m.Fail(err)
			return m.state
		}
		m.state = StateRunning
		if m.needsWait(t) {
			m.state = StateWaiting
		}
	}
	if m.state == StateWaiting {
		if !m.wait(a, t) {
			return m.state
		}
		m.state = StateRunning
	}
	m.run(a, t)
	if m.arrived(a) {
		m.state = StateComplete
	}
	return m.state
}

// tickBudget allows the base plus a slack multiple of the nominal travel time.
func (m *Movement) tickBudget(speed float64) int {
	if speed <= 0.01 {
		speed = 0.01
	}
	d := m.Target.Sub(m.Src.Center()).Len()
	if m.Kind == astar.MoveSwim {
		speed *= m.p.SwimSpeedFactor
	}
	if m.Kind == astar.MovePillar {
		speed = math.Max(m.p.ClimbSpeed, 0.01)
	}
	return m.p.BudgetBase + int(math.Ceil(m.p.BudgetSlack*d/speed))
}

func (m *Movement) precondition(t Terrain) error {
	body := m.p.Body
	ok := t.CanStand(m.Dest, body)
	switch m.Kind {
	case astar.MoveDiagonal:
		d := m.Dest.Sub(m.Src)
		if ok && mathx.AbsInt(d.X) == 1 && mathx.AbsInt(d.Z) == 1 {
			ok = t.DiagonalClear(m.Src, d.X, d.Z, body)
		}
	case astar.MoveAscend:
		ok = ok && t.FootprintClear(m.Src, body, body.JumpHeight())
	case astar.MoveFall:
		for y := m.Src.Y; ok && y > m.Dest.Y; y-- {
			ok = t.FootprintClear(voxel.Cell{X: m.Dest.X, Y: y, Z: m.Dest.Z}, body, body.Height)
		}
	case astar.MoveParkour:
		ok = ok && t.FootprintClear(m.Src, body, body.JumpHeight())
		dx, dz := sign(m.Dest.X-m.Src.X), sign(m.Dest.Z-m.Src.Z)
		for c := m.Src.Offset(dx, 0, dz); ok && c != m.Dest; c = c.Offset(dx, 0, dz) {
			ok = !t.HasGroundBelow(c) && t.FootprintClear(c, body, body.JumpHeight())
		}
	case astar.MovePillar:
		ok = ok && (t.IsClimbable(m.Src) || t.IsClimbable(m.Dest))
	case astar.MoveSwim:
		ok = ok && (t.IsWater(m.Src) || t.IsWater(m.Dest))
	case astar.MoveDoor:
		ok = ok && body.CanOpenDoors
	}
	if !ok {
		return fmt.Errorf("%w: %s %s->%s", ErrPrecondition, m.Kind, m.Src, m.Dest)
	}
	return nil
}

func (m *Movement) needsWait(t Terrain) bool {
	switch m.Kind {
	case astar.MoveAscend, astar.MoveParkour:
		return true
	case astar.MoveDoor:
		_, closed := m.closedDoor(t)
		return closed
	}
	return false
}

// wait runs the trigger phase and reports whether it fired.
func (m *Movement) wait(a Agent, t Terrain) bool {
	switch m.Kind {
	case astar.MoveAscend:
		if !a.OnGround() {
			m.steer(a, a.Speed())
			return false
		}
		a.ApplyJumpImpulse()
		return true
	case astar.MoveParkour:
		m.steer(a, a.Speed()*m.p.SprintFactor)
		if !a.OnGround() {
			return false
		}
		if m.edgeDistance(a.Position()) <= m.p.ParkourEdgeTrigger {
			a.ApplyJumpImpulse()
			return true
		}
		return false
	case astar.MoveDoor:
		door, closed := m.closedDoor(t)
		if !closed {
			return true
		}
		if voxel.HorizontalDist(a.Position(), door.Center()) > m.p.DoorRange {
			m.steer(a, a.Speed())
			return false
		}
		a.SetVelocity(voxel.Vec3{Y: a.Velocity().Y})
		a.SetFacing(voxel.Yaw(a.Position(), door.Center()))
		return a.InteractWithDoorAt(door)
	}
	return true
}

func (m *Movement) run(a Agent, t Terrain) {
	switch m.Kind {
	case astar.MoveParkour:
		m.steer(a, a.Speed()*m.p.SprintFactor)
	case astar.MovePillar:
		m.climb(a)
	case astar.MoveSwim:
		m.swim(a)
	default:
		m.steer(a, a.Speed())
	}
}

// steer sets horizontal velocity toward the target, keeping vertical velocity.
func (m *Movement) steer(a Agent, speed float64) {
	pos := a.Position()
	dx, dz := m.Target.X-pos.X, m.Target.Z-pos.Z
	d := math.Hypot(dx, dz)
	v := voxel.Vec3{Y: a.Velocity().Y}
	if d > 1e-9 {
		s := math.Min(speed, d)
		v.X, v.Z = dx/d*s, dz/d*s
		a.SetFacing(math.Atan2(dz, dx))
	}
	a.SetVelocity(v)
}

func (m *Movement) climb(a Agent) {
	pos := a.Position()
	dx, dz := m.Target.X-pos.X, m.Target.Z-pos.Z
	d := math.Hypot(dx, dz)
	v := voxel.Vec3{}
	if d > 1e-9 {
		s := math.Min(a.Speed(), d)
		v.X, v.Z = dx/d*s, dz/d*s
	}
	dy := m.Target.Y - pos.Y
	v.Y = math.Copysign(math.Min(m.p.ClimbSpeed, math.Abs(dy)), dy)
	a.SetVelocity(v)
}

func (m *Movement) swim(a Agent) {
	pos := a.Position()
	delta := m.Target.Sub(pos)
	d := delta.Len()
	if d < 1e-9 {
		a.SetVelocity(voxel.Vec3{})
		return
	}
	s := math.Min(a.Speed()*m.p.SwimSpeedFactor, d)
	a.SetVelocity(delta.Scale(s / d))
	a.SetFacing(math.Atan2(delta.Z, delta.X))
}

func (m *Movement) arrived(a Agent) bool {
	pos := a.Position()
	if voxel.HorizontalDist(pos, m.Target) > m.p.ReachHorizontal {
		return false
	}
	dy := pos.Y - m.Target.Y
	switch m.Kind {
	case astar.MovePillar:
		if m.Dest.Y > m.Src.Y {
			return dy >= -0.05
		}
		return dy <= 0.05
	case astar.MoveSwim:
		return math.Abs(dy) <= m.p.ReachVertical
	case astar.MoveAscend:
		return dy >= -0.05 && a.OnGround()
	default:
		return math.Abs(dy) <= m.p.ReachVertical && a.OnGround()
	}
}

// edgeDistance is how far pos is from the jump-off edge of the source cell
// along the jump direction.
func (m *Movement) edgeDistance(pos voxel.Vec3) float64 {
	dx, dz := sign(m.Dest.X-m.Src.X), sign(m.Dest.Z-m.Src.Z)
	switch {
	case dx > 0:
		return float64(m.Src.X+1) - pos.X
	case dx < 0:
		return pos.X - float64(m.Src.X)
	case dz > 0:
		return float64(m.Src.Z+1) - pos.Z
	case dz < 0:
		return pos.Z - float64(m.Src.Z)
	}
	return 0
}

func (m *Movement) closedDoor(t Terrain) (voxel.Cell, bool) {
	for _, c := range [2]voxel.Cell{m.Dest, m.Dest.Up(1)} {
		if t.IsDoor(c) && !t.IsDoorOpen(c) {
			return c, true
		}
	}
	return m.Dest, false
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
