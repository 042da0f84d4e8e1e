package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/catalogs"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/tuning"
	"voxelpath.ai/internal/sim/voxel"
)

func newRunner(t *testing.T) (*Runner, *catalogs.BlockCatalog) {
	t.Helper()
	cat, err := catalogs.Default()
	require.NoError(t, err)
	store := voxel.NewChunkStore(voxel.Bounds{
		Min: voxel.Cell{X: -16, Y: -8, Z: -16},
		Max: voxel.Cell{X: 16, Y: 16, Z: 16},
	}, cat.Blocks())
	store.Fill(voxel.Cell{X: -2, Y: -1, Z: -3}, voxel.Cell{X: 10, Y: -1, Z: 3}, cat.MustID("STONE"))
	r := New(store, cat, tuning.Defaults(), Options{Lockstep: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	t.Cleanup(func() {
		r.Close()
		cancel()
	})
	return r, cat
}

func collect(r *Runner) *[]protocol.Event {
	var evs []protocol.Event
	r.AddSink(func(s TickSnapshot) { evs = append(evs, s.Events...) })
	return &evs
}

func stepUntil(r *Runner, max int, cond func() bool) bool {
	for i := 0; i < max; i++ {
		if cond() {
			return true
		}
		r.StepOnce()
	}
	return cond()
}

func TestAgentWalksThroughDoor(t *testing.T) {
	r, cat := newRunner(t)
	s := r.Store()
	s.Fill(voxel.Cell{X: 4, Y: 0, Z: -3}, voxel.Cell{X: 4, Y: 2, Z: 3}, cat.MustID("STONE"))
	door := voxel.Cell{X: 4}
	s.Set(door, cat.MustID("DOOR_CLOSED"))
	s.Set(door.Up(1), cat.MustID("AIR"))
	evs := collect(r)
	var changes []BlockChange
	r.AddSink(func(s TickSnapshot) { changes = append(changes, s.Changes...) })

	a, err := r.AddAgent(AgentSpec{ID: "A1", Spawn: voxel.Cell{}})
	require.NoError(t, err)
	require.NoError(t, a.Nav.SetGoal(goal.ReachBlock(voxel.Cell{X: 7})))

	require.True(t, stepUntil(r, 400, func() bool { return !a.Nav.IsActive() }))
	require.NoError(t, a.Nav.Err())
	require.Equal(t, voxel.Cell{X: 7}, a.Body.Cell())
	require.Equal(t, cat.MustID("DOOR_OPEN"), s.Get(door))
	require.Equal(t, []BlockChange{{Pos: door, From: cat.MustID("DOOR_CLOSED"), To: cat.MustID("DOOR_OPEN")}}, changes)

	last := (*evs)[len(*evs)-1]
	require.Equal(t, protocol.EventGoalReached, last.Type)
	require.Equal(t, "A1", last.AgentID)
	require.Less(t, last.Tick, r.Tick())
}

func TestFollowEntity(t *testing.T) {
	r, _ := newRunner(t)
	_, err := r.AddEntity(EntitySpec{ID: "E1", Route: []voxel.Cell{{X: 6}, {X: 6, Z: 3}}, Speed: 0.05})
	require.NoError(t, err)
	a, err := r.AddAgent(AgentSpec{ID: "A1", Spawn: voxel.Cell{}})
	require.NoError(t, err)
	require.NoError(t, a.Nav.SetGoal(goal.Follow("E1", voxel.Cell{}, 2)))

	for i := 0; i < 300; i++ {
		r.StepOnce()
	}
	pos, ok := r.Locate("E1")
	require.True(t, ok)
	require.Equal(t, voxel.Cell{X: 6, Z: 3}, voxel.CellOf(pos))
	g, _ := a.Nav.CurrentGoal()
	require.True(t, g.IsSatisfied(a.Body.Cell()), "agent at %s, target %s", a.Body.Cell(), g.Target())
	require.True(t, a.Nav.IsActive())
}

func TestSnapshotReportsAgentsAndEntities(t *testing.T) {
	r, _ := newRunner(t)
	_, err := r.AddEntity(EntitySpec{ID: "E1", Route: []voxel.Cell{{X: 1}}})
	require.NoError(t, err)
	a, err := r.AddAgent(AgentSpec{ID: "B", Spawn: voxel.Cell{}})
	require.NoError(t, err)
	_, err = r.AddAgent(AgentSpec{ID: "A", Spawn: voxel.Cell{Z: 2}})
	require.NoError(t, err)
	require.NoError(t, a.Nav.SetGoal(goal.ReachBlock(voxel.Cell{X: 5})))

	snap := r.StepOnce()
	require.Equal(t, uint64(0), snap.Tick)
	require.Len(t, snap.Agents, 2)
	require.Equal(t, "A", snap.Agents[0].ID, "agents are ordered by id")
	require.Equal(t, "B", snap.Agents[1].ID)
	require.Len(t, snap.Entities, 1)
	require.NotEmpty(t, snap.Events, "GOAL_SET and SEARCH_STARTED from SetGoal")

	snap = r.StepOnce()
	require.Equal(t, "MOVING", snap.Agents[1].State)
	require.NotEmpty(t, snap.Agents[1].Waypoints)
	require.Contains(t, snap.Agents[1].Goal, "(5,0,0)")
	require.Equal(t, uint64(2), r.Tick())
}

func TestAddRejectsDuplicatesAndOutOfBounds(t *testing.T) {
	r, _ := newRunner(t)
	_, err := r.AddAgent(AgentSpec{ID: "X"})
	require.NoError(t, err)
	_, err = r.AddAgent(AgentSpec{ID: "X"})
	require.ErrorIs(t, err, ErrDuplicateID)
	_, err = r.AddEntity(EntitySpec{ID: "X", Route: []voxel.Cell{{}}})
	require.ErrorIs(t, err, ErrDuplicateID)
	_, err = r.AddAgent(AgentSpec{ID: "Y", Spawn: voxel.Cell{X: 100}})
	require.Error(t, err)

	anon, err := r.AddAgent(AgentSpec{Spawn: voxel.Cell{X: 1}})
	require.NoError(t, err)
	require.NotEmpty(t, anon.ID)
}

func TestSubmitAppliesTuningAtTickBoundary(t *testing.T) {
	r, _ := newRunner(t)
	a, err := r.AddAgent(AgentSpec{ID: "A1"})
	require.NoError(t, err)

	tu := tuning.Defaults()
	tu.Behavior.StuckTicks = 3
	require.True(t, r.Submit(func(r *Runner) { r.ApplyTuning(tu) }))
	require.Equal(t, 40, a.Nav.Config().StuckTicks)
	r.StepOnce()
	require.Equal(t, 3, a.Nav.Config().StuckTicks)
	require.Equal(t, 3, r.Tuning().Behavior.StuckTicks)
}

func TestToggleDoorIgnoresNonDoors(t *testing.T) {
	r, cat := newRunner(t)
	c := voxel.Cell{X: 2, Y: 0}
	require.False(t, r.ToggleDoor(c))
	r.Store().Set(c, cat.MustID("DOOR_OPEN"))
	require.True(t, r.ToggleDoor(c))
	require.Equal(t, cat.MustID("DOOR_CLOSED"), r.Store().Get(c))
}
