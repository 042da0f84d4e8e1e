package behavior

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/body"
	"voxelpath.ai/internal/sim/nav/astar"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/movement"
	"voxelpath.ai/internal/sim/nav/snapshot"
	"voxelpath.ai/internal/sim/voxel"
)

const (
	idAir uint16 = iota
	idStone
)

func flatStore(lo, hi voxel.Cell) *voxel.ChunkStore {
	s := voxel.NewChunkStore(voxel.Bounds{
		Min: voxel.Cell{X: -32, Y: -16, Z: -32},
		Max: voxel.Cell{X: 32, Y: 32, Z: 32},
	}, []voxel.Block{voxel.Air, voxel.Solid})
	s.Fill(voxel.Cell{X: lo.X, Y: -1, Z: lo.Z}, voxel.Cell{X: hi.X, Y: -1, Z: hi.Z}, idStone)
	return s
}

type harness struct {
	t      *testing.T
	store  *voxel.ChunkStore
	agent  movement.Agent
	b      *Behavior
	events []Event
}

type stepper interface{ Step() }

func newHarness(t *testing.T, s *voxel.ChunkStore, agent movement.Agent, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, store: s, agent: agent}
	opts = append(opts, WithListener(func(e Event) { h.events = append(h.events, e) }))
	h.b = New(cfg, s, agent, opts...)
	h.b.Start(context.Background())
	t.Cleanup(h.b.Close)
	return h
}

func bodyAt(s *voxel.ChunkStore, c voxel.Cell) *body.Body {
	return body.New(s, nil, snapshot.DefaultBody(), body.DefaultPhysics(), c.Center())
}

// waitSearch blocks until the in-flight search has a result to drain.
func (h *harness) waitSearch() {
	deadline := time.Now().Add(5 * time.Second)
	for h.b.SearchPending() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Microsecond)
	}
}

func (h *harness) step() {
	if h.b.IsCalculating() {
		h.waitSearch()
	}
	h.b.Tick()
	if s, ok := h.agent.(stepper); ok {
		s.Step()
	}
}

func (h *harness) runUntil(maxTicks int, cond func() bool) bool {
	for i := 0; i < maxTicks; i++ {
		if cond() {
			return true
		}
		h.step()
	}
	return cond()
}

func (h *harness) count(typ string) int {
	n := 0
	for _, e := range h.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (h *harness) last() Event {
	require.NotEmpty(h.t, h.events)
	return h.events[len(h.events)-1]
}

func (h *harness) cell() voxel.Cell { return voxel.CellOf(h.agent.Position()) }

func TestReachBlockArrives(t *testing.T) {
	s := flatStore(voxel.Cell{X: -2, Z: -2}, voxel.Cell{X: 16, Z: 16})
	h := newHarness(t, s, bodyAt(s, voxel.Cell{}), DefaultConfig())
	target := voxel.Cell{X: 8, Z: 5}

	require.NoError(t, h.b.SetGoal(goal.ReachBlock(target)))
	require.True(t, h.b.IsActive())
	require.True(t, h.b.IsCalculating())

	require.True(t, h.runUntil(600, func() bool { return !h.b.IsActive() }))
	require.NoError(t, h.b.Err())
	require.Equal(t, target, h.cell())
	require.Equal(t, protocol.EventGoalReached, h.last().Type)
	require.Equal(t, 1, h.count(protocol.EventPathFound))
	require.Equal(t, 1.0, h.b.Progress())
	require.Equal(t, StateIdle, h.b.State())
}

type locator map[string]voxel.Vec3

func (l locator) Locate(id string) (voxel.Vec3, bool) {
	p, ok := l[id]
	return p, ok
}

func TestFollowRepathsOncePerMove(t *testing.T) {
	s := flatStore(voxel.Cell{X: -2, Z: -4}, voxel.Cell{X: 20, Z: 12})
	entities := locator{"E1": voxel.Cell{X: 12}.Center()}
	h := newHarness(t, s, bodyAt(s, voxel.Cell{}), DefaultConfig(), WithEntityLocator(entities))

	require.NoError(t, h.b.SetGoal(goal.Follow("E1", voxel.Cell{}, 2)))
	g, ok := h.b.CurrentGoal()
	require.True(t, ok)
	require.Equal(t, voxel.Cell{X: 12}, g.Target(), "target resolved through the locator")

	require.True(t, h.runUntil(50, h.b.IsMoving))
	require.Equal(t, 1, h.count(protocol.EventSearchStarted))

	entities["E1"] = voxel.Cell{X: 12, Z: 5}.Center()
	for i := 0; i < 30; i++ {
		h.step()
	}
	require.Equal(t, 2, h.count(protocol.EventSearchStarted), "exactly one re-path")

	require.True(t, h.runUntil(600, func() bool {
		g, _ := h.b.CurrentGoal()
		return h.b.State() == StateIdle && g.IsSatisfied(h.cell())
	}))
	for i := 0; i < 20; i++ {
		h.step()
	}
	require.Equal(t, 2, h.count(protocol.EventSearchStarted), "holding does not re-path")
	require.True(t, h.b.IsActive())
}

// frozen is an agent that never moves.
type frozen struct {
	pos voxel.Vec3
	vel voxel.Vec3
}

func (f *frozen) Position() voxel.Vec3              { return f.pos }
func (f *frozen) Velocity() voxel.Vec3              { return f.vel }
func (f *frozen) Facing() float64                   { return 0 }
func (f *frozen) OnGround() bool                    { return true }
func (f *frozen) Speed() float64                    { return 0.2 }
func (f *frozen) SetVelocity(v voxel.Vec3)          { f.vel = v }
func (f *frozen) SetFacing(float64)                 {}
func (f *frozen) ApplyJumpImpulse()                 {}
func (f *frozen) InteractWithDoorAt(voxel.Cell) bool { return false }

func TestStuckAgentGivesUp(t *testing.T) {
	s := flatStore(voxel.Cell{X: -2, Z: -2}, voxel.Cell{X: 10, Z: 2})
	cfg := DefaultConfig()
	cfg.StuckTicks = 5
	cfg.MaxConsecutiveFailures = 2
	cfg.RepathCooldownTicks = 2
	h := newHarness(t, s, &frozen{pos: voxel.Cell{}.Center()}, cfg)

	require.NoError(t, h.b.SetGoal(goal.ReachBlock(voxel.Cell{X: 6})))
	require.True(t, h.runUntil(300, func() bool { return !h.b.IsActive() }))

	require.Equal(t, 2, h.count(protocol.EventMovementFailed))
	for _, e := range h.events {
		if e.Type == protocol.EventMovementFailed {
			require.Equal(t, protocol.ErrStuck, e.Code)
		}
	}
	require.Equal(t, protocol.EventGaveUp, h.last().Type)
	require.Equal(t, protocol.ErrCouldNotPath, h.last().Code)
	require.ErrorIs(t, h.b.Err(), ErrCouldNotPath)
	require.ErrorIs(t, h.b.Err(), ErrStuck)
}

func TestUnreachableGoalGivesUp(t *testing.T) {
	s := flatStore(voxel.Cell{X: -2, Z: -2}, voxel.Cell{X: 10, Z: 2})
	s.Set(voxel.Cell{X: 5}, idStone)
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 3
	cfg.RepathCooldownTicks = 1
	h := newHarness(t, s, bodyAt(s, voxel.Cell{}), cfg)

	require.NoError(t, h.b.SetGoal(goal.ReachBlock(voxel.Cell{X: 5})))
	require.True(t, h.runUntil(100, func() bool { return !h.b.IsActive() }))

	require.Equal(t, 3, h.count(protocol.EventSearchFailed))
	require.Equal(t, 3, h.count(protocol.EventSearchStarted))
	require.Equal(t, protocol.EventGaveUp, h.last().Type)
	require.ErrorIs(t, h.b.Err(), astar.ErrUnreachable)
	require.Equal(t, voxel.Cell{}, h.cell())
}

func TestPartialPathWithoutProgressGivesUp(t *testing.T) {
	s := flatStore(voxel.Cell{Z: -2}, voxel.Cell{X: 12, Z: 2})
	s.Fill(voxel.Cell{X: 6, Z: -2}, voxel.Cell{X: 6, Y: 2, Z: 2}, idStone)
	cfg := DefaultConfig()
	cfg.MaxConsecutiveFailures = 2
	cfg.RepathCooldownTicks = 1
	h := newHarness(t, s, bodyAt(s, voxel.Cell{}), cfg)

	require.NoError(t, h.b.SetGoal(goal.ReachBlock(voxel.Cell{X: 10})))
	require.True(t, h.runUntil(400, func() bool { return !h.b.IsActive() }))

	require.Equal(t, 3, h.count(protocol.EventPathPartial), "re-plans from the closest approach go nowhere")
	require.Zero(t, h.count(protocol.EventPathFound))
	require.Zero(t, h.count(protocol.EventSearchFailed))
	require.Equal(t, voxel.Cell{X: 5}, h.cell(), "walked to the closest approach")
	require.ErrorIs(t, h.b.Err(), astar.ErrNoPath)
}

func TestPatrolVisitsWaypoints(t *testing.T) {
	s := flatStore(voxel.Cell{X: -2, Z: -2}, voxel.Cell{X: 8, Z: 8})
	h := newHarness(t, s, bodyAt(s, voxel.Cell{}), DefaultConfig())

	require.NoError(t, h.b.SetGoal(goal.Patrol([]voxel.Cell{{X: 4}, {X: 4, Z: 4}}, false)))
	require.True(t, h.runUntil(800, func() bool { return !h.b.IsActive() }))

	require.Equal(t, 1, h.count(protocol.EventGoalAdvanced))
	require.Equal(t, protocol.EventGoalReached, h.last().Type)
	require.Equal(t, voxel.Cell{X: 4, Z: 4}, h.cell())
}

func TestWanderKeepsPickingTargets(t *testing.T) {
	s := flatStore(voxel.Cell{X: -10, Z: -10}, voxel.Cell{X: 10, Z: 10})
	h := newHarness(t, s, bodyAt(s, voxel.Cell{}), DefaultConfig())

	require.NoError(t, h.b.SetGoal(goal.Wander(voxel.Cell{}, 5, 7)))
	require.True(t, h.runUntil(1500, func() bool { return h.count(protocol.EventGoalAdvanced) >= 2 }))
	require.True(t, h.b.IsActive())

	for _, e := range h.events {
		d := e.Goal.Target()
		require.LessOrEqual(t, d.X*d.X+d.Z*d.Z, 36, "target %s outside the wander area", d)
	}
}

func TestStopCancelsSearchAndMovement(t *testing.T) {
	s := flatStore(voxel.Cell{X: -2, Z: -2}, voxel.Cell{X: 16, Z: 2})
	h := newHarness(t, s, bodyAt(s, voxel.Cell{}), DefaultConfig())

	require.NoError(t, h.b.SetGoal(goal.ReachBlock(voxel.Cell{X: 15})))
	require.True(t, h.runUntil(100, func() bool { return h.b.IsMoving() && h.agent.Velocity().X > 0 }))

	h.b.Stop()
	require.False(t, h.b.IsActive())
	require.Equal(t, StateIdle, h.b.State())
	require.Zero(t, h.agent.Velocity().X)
	require.Equal(t, protocol.EventStopped, h.last().Type)
	require.Empty(t, h.last().Code)

	n := len(h.events)
	for i := 0; i < 20; i++ {
		h.step()
	}
	require.Len(t, h.events, n)
	require.NoError(t, h.b.Err())

	// Stopping during a search drops its result.
	require.NoError(t, h.b.SetGoal(goal.ReachBlock(voxel.Cell{X: 15})))
	h.b.Stop()
	time.Sleep(20 * time.Millisecond)
	h.step()
	require.Equal(t, 1, h.count(protocol.EventPathFound))
	require.Equal(t, StateIdle, h.b.State())
}

func TestSetGoalRejectsBadGoals(t *testing.T) {
	s := flatStore(voxel.Cell{}, voxel.Cell{X: 2, Z: 2})
	h := newHarness(t, s, bodyAt(s, voxel.Cell{}), DefaultConfig())

	require.ErrorIs(t, h.b.SetGoal(goal.Patrol(nil, true)), ErrBadGoal)
	require.ErrorIs(t, h.b.SetGoal(goal.Follow("", voxel.Cell{}, 1)), ErrBadGoal)
	require.False(t, h.b.IsActive())
	require.Empty(t, h.events)
}

func TestFollowUnknownEntityRejected(t *testing.T) {
	s := flatStore(voxel.Cell{}, voxel.Cell{X: 10, Z: 10})
	h := newHarness(t, s, bodyAt(s, voxel.Cell{X: 8, Z: 8}), DefaultConfig(), WithEntityLocator(locator{}))

	err := h.b.SetGoal(goal.Follow("ghost", voxel.Cell{}, 1))
	require.ErrorIs(t, err, ErrBadGoal)
	require.ErrorContains(t, err, "ghost")
	require.False(t, h.b.IsActive())
	require.False(t, h.b.SearchPending())
	require.Empty(t, h.events)

	// A goal already in progress survives the rejected one.
	require.NoError(t, h.b.SetGoal(goal.ReachBlock(voxel.Cell{X: 2, Z: 2})))
	require.Error(t, h.b.SetGoal(goal.Follow("ghost", voxel.Cell{}, 1)))
	g, ok := h.b.CurrentGoal()
	require.True(t, ok)
	require.Equal(t, goal.KindReachBlock, g.Kind)
}

func TestCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("w: %w", movement.ErrTimeout), protocol.ErrTimeout},
		{fmt.Errorf("w: %w", movement.ErrPrecondition), protocol.ErrPrecondition},
		{fmt.Errorf("w: %w", ErrStuck), protocol.ErrStuck},
		{astar.ErrUnreachable, protocol.ErrUnreachable},
		{astar.ErrNoPath, protocol.ErrNoPath},
		{context.Canceled, protocol.ErrCancelled},
		{fmt.Errorf("%w: %w", ErrCouldNotPath, ErrStuck), protocol.ErrCouldNotPath},
		{fmt.Errorf("%w: empty patrol", ErrBadGoal), protocol.ErrBadRequest},
		{fmt.Errorf("boom"), protocol.ErrInternal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Code(tc.err), "%v", tc.err)
		if tc.err != nil {
			require.True(t, protocol.IsKnownCode(Code(tc.err)))
		}
	}
}

func TestEventWire(t *testing.T) {
	e := Event{
		Type: protocol.EventMovementFailed, Code: protocol.ErrStuck, Goal: goal.ReachBlock(voxel.Cell{X: 1}),
		Err: ErrStuck, Cell: voxel.Cell{X: 2, Y: 3, Z: 4}, Failures: 1,
	}
	w := e.Wire(9, "A1")
	require.Equal(t, uint64(9), w.Tick)
	require.Equal(t, "A1", w.AgentID)
	require.Equal(t, &[3]int{2, 3, 4}, w.Pos)
	require.Equal(t, "agent stuck", w.Message)
	require.Equal(t, e.Goal.String(), w.Goal)
}
