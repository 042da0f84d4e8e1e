package astar

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/snapshot"
	"voxelpath.ai/internal/sim/voxel"
)

const (
	idAir uint16 = iota
	idStone
	idWater
	idLadder
	idDoorClosed
	idDoorOpen
)

var palette = []voxel.Block{
	voxel.Air,
	voxel.Solid,
	{Fluid: voxel.FluidWater},
	{Climbable: true},
	{MinY: 0, MaxY: 1, Door: true},
	{MinY: 0, MaxY: 1, Door: true, DoorOpen: true},
}

func newStore() *voxel.ChunkStore {
	return voxel.NewChunkStore(voxel.Bounds{
		Min: voxel.Cell{X: -32, Y: -16, Z: -32},
		Max: voxel.Cell{X: 32, Y: 32, Z: 32},
	}, palette)
}

func run(t *testing.T, w voxel.BlockSource, start voxel.Cell, g goal.Goal, opts Options) (*Path, Stats, error) {
	t.Helper()
	snap := snapshot.Capture(w, start, 16)
	return New(snap, g, DefaultCosts(), opts).Calculate(context.Background(), start, 0, 0)
}

func hasMove(p *Path, k MoveKind) bool {
	for _, m := range p.Moves {
		if m == k {
			return true
		}
	}
	return false
}

func TestOpenRoomDiagonal(t *testing.T) {
	w := newStore()
	w.Fill(voxel.Cell{X: 0, Y: -1, Z: 0}, voxel.Cell{X: 9, Y: -1, Z: 9}, idStone)

	p, st, err := run(t, w, voxel.Cell{}, goal.ReachBlock(voxel.Cell{X: 9, Z: 9}), DefaultOptions())
	require.NoError(t, err)
	require.True(t, p.Complete)
	require.Equal(t, OutcomeComplete, st.Outcome)
	require.Len(t, p.Cells, 10)
	require.InDelta(t, 9*math.Sqrt2, p.Cost, 1e-9)
	require.Equal(t, voxel.Cell{}, p.Start())
	require.Equal(t, voxel.Cell{X: 9, Z: 9}, p.End())
	for _, m := range p.Moves {
		require.Equal(t, MoveDiagonal, m)
	}
}

func TestParkourGap(t *testing.T) {
	w := newStore()
	w.Set(voxel.Cell{X: 0, Y: -1}, idStone)
	w.Fill(voxel.Cell{X: 3, Y: -1}, voxel.Cell{X: 5, Y: -1}, idStone)
	target := goal.ReachBlock(voxel.Cell{X: 5})

	p, _, err := run(t, w, voxel.Cell{}, target, DefaultOptions())
	require.NoError(t, err)
	require.True(t, p.Complete)
	require.True(t, hasMove(p, MoveParkour))
	require.GreaterOrEqual(t, p.Cost, 3.0+2*1.0)
	require.InDelta(t, 7.0, p.Cost, 1e-9)

	noParkour := DefaultOptions()
	noParkour.Parkour = false
	_, _, err = run(t, w, voxel.Cell{}, target, noParkour)
	require.ErrorIs(t, err, ErrNoPath)
}

func TestSealedRoomYieldsCutoff(t *testing.T) {
	w := newStore()
	w.Fill(voxel.Cell{X: -10, Y: -1, Z: -10}, voxel.Cell{X: 12, Y: -1, Z: 10}, idStone)
	for y := 0; y <= 3; y++ {
		w.Fill(voxel.Cell{X: -3, Y: y, Z: -3}, voxel.Cell{X: 5, Y: y, Z: -3}, idStone)
		w.Fill(voxel.Cell{X: -3, Y: y, Z: 3}, voxel.Cell{X: 5, Y: y, Z: 3}, idStone)
		w.Fill(voxel.Cell{X: -3, Y: y, Z: -3}, voxel.Cell{X: -3, Y: y, Z: 3}, idStone)
		w.Fill(voxel.Cell{X: 5, Y: y, Z: -3}, voxel.Cell{X: 5, Y: y, Z: 3}, idStone)
	}

	p, st, err := run(t, w, voxel.Cell{}, goal.ReachBlock(voxel.Cell{X: 9}), DefaultOptions())
	require.NoError(t, err)
	require.False(t, p.Complete)
	require.Equal(t, OutcomeCutoffExhausted, st.Outcome)
	require.Equal(t, voxel.Cell{X: 4}, p.End())
	require.InDelta(t, 4.0, p.Cost, 1e-9)
}

func TestBudgetCutoff(t *testing.T) {
	w := newStore()
	w.Fill(voxel.Cell{X: -12, Y: -1, Z: -12}, voxel.Cell{X: 12, Y: -1, Z: 12}, idStone)
	for y := 0; y <= 3; y++ {
		w.Fill(voxel.Cell{X: 11, Y: y, Z: -12}, voxel.Cell{X: 11, Y: y, Z: 12}, idStone)
	}
	snap := snapshot.Capture(w, voxel.Cell{}, 16)
	s := New(snap, goal.ReachBlock(voxel.Cell{X: 14}), DefaultCosts(), DefaultOptions())
	p, st, err := s.Calculate(context.Background(), voxel.Cell{}, 64, 0)
	require.NoError(t, err)
	require.Equal(t, OutcomeCutoffBudget, st.Outcome)
	require.Equal(t, 64, st.Expanded)
	require.False(t, p.Complete)
	require.Greater(t, p.Len(), 1)
}

func TestUnreachableAndNoPath(t *testing.T) {
	w := newStore()
	w.Fill(voxel.Cell{X: -8, Y: -1, Z: -8}, voxel.Cell{X: 8, Y: -1, Z: 8}, idStone)
	w.Set(voxel.Cell{X: 5}, idStone)

	p, st, err := run(t, w, voxel.Cell{}, goal.ReachBlock(voxel.Cell{X: 5}), DefaultOptions())
	require.ErrorIs(t, err, ErrUnreachable)
	require.Nil(t, p)
	require.Equal(t, OutcomeUnreachable, st.Outcome)

	w.Fill(voxel.Cell{X: -1, Y: 0, Z: -1}, voxel.Cell{X: 1, Y: 2, Z: 1}, idStone)
	w.Set(voxel.Cell{}, idAir)
	w.Set(voxel.Cell{Y: 1}, idAir)
	p, st, err = run(t, w, voxel.Cell{}, goal.ReachBlock(voxel.Cell{X: 4}), DefaultOptions())
	require.ErrorIs(t, err, ErrNoPath)
	require.Nil(t, p)
	require.Equal(t, OutcomeNoPath, st.Outcome)
}

func TestCancelledBeforeStart(t *testing.T) {
	w := newStore()
	w.Fill(voxel.Cell{X: -4, Y: -1, Z: -4}, voxel.Cell{X: 4, Y: -1, Z: 4}, idStone)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	snap := snapshot.Capture(w, voxel.Cell{}, 8)
	p, st, err := New(snap, goal.ReachBlock(voxel.Cell{X: 3}), DefaultCosts(), DefaultOptions()).
		Calculate(ctx, voxel.Cell{}, 0, 0)
	require.True(t, errors.Is(err, context.Canceled))
	require.Nil(t, p)
	require.Equal(t, OutcomeCancelled, st.Outcome)
}

func TestStepUpAndFall(t *testing.T) {
	w := newStore()
	w.Fill(voxel.Cell{X: -4, Y: -1, Z: -4}, voxel.Cell{X: 4, Y: -1, Z: 4}, idStone)
	w.Set(voxel.Cell{X: 1}, idStone)

	p, _, err := run(t, w, voxel.Cell{}, goal.ReachBlock(voxel.Cell{X: 1, Y: 1}), DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, []MoveKind{MoveAscend}, p.Moves)
	require.InDelta(t, 2.0, p.Cost, 1e-9)

	w.Fill(voxel.Cell{X: -2, Y: 0, Z: 2}, voxel.Cell{X: -2, Y: 2, Z: 2}, idStone)
	p, _, err = run(t, w, voxel.Cell{X: -2, Y: 3, Z: 2}, goal.ReachBlock(voxel.Cell{X: -1, Z: 2}), DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, []MoveKind{MoveFall}, p.Moves)
	require.InDelta(t, 3.0, p.Cost, 1e-9)
}

// corridor builds a one-wide corridor along +X from x=0 to x=length-1.
func corridor(w *voxel.ChunkStore, length int) {
	w.Fill(voxel.Cell{X: -1, Y: -1, Z: 0}, voxel.Cell{X: length, Y: -1, Z: 0}, idStone)
	for y := 0; y <= 2; y++ {
		w.Fill(voxel.Cell{X: -1, Y: y, Z: -1}, voxel.Cell{X: length, Y: y, Z: -1}, idStone)
		w.Fill(voxel.Cell{X: -1, Y: y, Z: 1}, voxel.Cell{X: length, Y: y, Z: 1}, idStone)
		w.Set(voxel.Cell{X: -1, Y: y}, idStone)
		w.Set(voxel.Cell{X: length, Y: y}, idStone)
	}
	w.Fill(voxel.Cell{X: -1, Y: 3, Z: -1}, voxel.Cell{X: length, Y: 3, Z: 1}, idStone)
}

func TestDoors(t *testing.T) {
	w := newStore()
	corridor(w, 5)
	w.Set(voxel.Cell{X: 2}, idDoorClosed)
	w.Set(voxel.Cell{X: 2, Y: 1}, idDoorClosed)
	target := goal.ReachBlock(voxel.Cell{X: 4})

	p, _, err := run(t, w, voxel.Cell{}, target, DefaultOptions())
	require.NoError(t, err)
	require.True(t, p.Complete)
	require.True(t, hasMove(p, MoveDoor))
	require.InDelta(t, 4.5, p.Cost, 1e-9)

	locked := DefaultOptions()
	locked.Body.CanOpenDoors = false
	p, st, err := run(t, w, voxel.Cell{}, target, locked)
	require.NoError(t, err)
	require.False(t, p.Complete)
	require.Equal(t, OutcomeCutoffExhausted, st.Outcome)
	require.Equal(t, voxel.Cell{X: 1}, p.End())

	w.Set(voxel.Cell{X: 2}, idDoorOpen)
	w.Set(voxel.Cell{X: 2, Y: 1}, idDoorOpen)
	p, _, err = run(t, w, voxel.Cell{}, target, locked)
	require.NoError(t, err)
	require.True(t, p.Complete)
	require.False(t, hasMove(p, MoveDoor))
	require.InDelta(t, 4.0, p.Cost, 1e-9)
}

func TestDiagonalNeverEntersDoorway(t *testing.T) {
	w := newStore()
	w.Fill(voxel.Cell{X: -2, Y: -1, Z: -2}, voxel.Cell{X: 3, Y: -1, Z: 3}, idStone)
	w.Set(voxel.Cell{X: 1, Y: 1, Z: 1}, idDoorClosed)

	p, _, err := run(t, w, voxel.Cell{}, goal.ReachBlock(voxel.Cell{X: 1, Z: 1}), DefaultOptions())
	require.NoError(t, err)
	require.True(t, p.Complete)
	require.False(t, hasMove(p, MoveDiagonal))
	require.True(t, hasMove(p, MoveDoor))
	require.Equal(t, voxel.Cell{X: 1, Z: 1}, p.End())
	require.InDelta(t, 2.5, p.Cost, 1e-9)
}

func TestSwimCosts(t *testing.T) {
	w := newStore()
	corridor(w, 5)
	w.Fill(voxel.Cell{X: 1}, voxel.Cell{X: 3}, idWater)

	p, _, err := run(t, w, voxel.Cell{}, goal.ReachBlock(voxel.Cell{X: 4}), DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, []MoveKind{MoveSwim, MoveSwim, MoveSwim, MoveTraverse}, p.Moves)
	require.InDelta(t, 3*2.0+1.0+1.0, p.Cost, 1e-9)
}

func TestLadderClimb(t *testing.T) {
	w := newStore()
	w.Fill(voxel.Cell{X: -4, Y: -1, Z: -4}, voxel.Cell{X: 4, Y: -1, Z: 4}, idStone)
	w.Fill(voxel.Cell{X: 2, Y: 0}, voxel.Cell{X: 2, Y: 3}, idStone)
	w.Fill(voxel.Cell{X: 1, Y: 0}, voxel.Cell{X: 1, Y: 3}, idLadder)

	p, _, err := run(t, w, voxel.Cell{}, goal.ReachBlock(voxel.Cell{X: 2, Y: 4}), DefaultOptions())
	require.NoError(t, err)
	require.True(t, p.Complete)
	require.True(t, hasMove(p, MovePillar))
	require.InDelta(t, 6.0, p.Cost, 1e-9)
}

func TestDefaultMetric(t *testing.T) {
	m := DefaultCosts().Metric(3, 2)
	require.InDelta(t, 1.0, m.Horizontal, 1e-12)
	require.InDelta(t, 0.5, m.Vertical, 1e-12)
	require.NoError(t, DefaultCosts().Validate())
	bad := DefaultCosts()
	bad.Walk = 0
	require.Error(t, bad.Validate())
}

// randomTerrain builds a walled 12x12 patch of uneven ground with water and
// ladders; cells outside the store bounds read as solid.
func randomTerrain(seed int64) *voxel.ChunkStore {
	r := rand.New(rand.NewSource(seed))
	w := voxel.NewChunkStore(voxel.Bounds{Min: voxel.Cell{X: 0, Y: -2, Z: 0}, Max: voxel.Cell{X: 11, Y: 8, Z: 11}}, palette)
	for x := 0; x < 12; x++ {
		for z := 0; z < 12; z++ {
			h := r.Intn(3)
			w.Fill(voxel.Cell{X: x, Y: -2, Z: z}, voxel.Cell{X: x, Y: h - 1, Z: z}, idStone)
			switch r.Intn(12) {
			case 0:
				w.Set(voxel.Cell{X: x, Y: h, Z: z}, idWater)
			case 1:
				w.Fill(voxel.Cell{X: x, Y: h, Z: z}, voxel.Cell{X: x, Y: h + 1, Z: z}, idLadder)
			case 2:
				w.Fill(voxel.Cell{X: x, Y: h, Z: z}, voxel.Cell{X: x, Y: h + 2, Z: z}, idStone)
			}
		}
	}
	return w
}

func standable(snap *snapshot.Snapshot, body snapshot.Body) []voxel.Cell {
	var out []voxel.Cell
	for x := 0; x < 12; x++ {
		for z := 0; z < 12; z++ {
			for y := -1; y <= 6; y++ {
				c := voxel.Cell{X: x, Y: y, Z: z}
				if snap.CanStand(c, body) {
					out = append(out, c)
				}
			}
		}
	}
	return out
}

// dijkstra is a brute-force reference over the same move generator.
func dijkstra(s *Search, start voxel.Cell) map[voxel.Cell]float64 {
	dist := map[voxel.Cell]float64{start: 0}
	done := map[voxel.Cell]bool{}
	var buf []Move
	for {
		cur, best := voxel.Cell{}, math.Inf(1)
		for c, d := range dist {
			if !done[c] && d < best {
				cur, best = c, d
			}
		}
		if math.IsInf(best, 1) {
			return dist
		}
		done[cur] = true
		buf = s.successors(cur, buf[:0])
		for _, m := range buf {
			nd := best + m.Cost
			if old, ok := dist[m.Dest]; !ok || nd < old {
				dist[m.Dest] = nd
			}
		}
	}
}

func TestOptimalAgainstDijkstra(t *testing.T) {
	for seed := int64(1); seed <= 6; seed++ {
		w := randomTerrain(seed)
		snap := snapshot.Capture(w, voxel.Cell{X: 6, Y: 3, Z: 6}, 8)
		opts := DefaultOptions()
		cells := standable(snap, opts.Body)
		require.NotEmpty(t, cells)
		r := rand.New(rand.NewSource(seed * 31))

		for trial := 0; trial < 8; trial++ {
			start := cells[r.Intn(len(cells))]
			target := cells[r.Intn(len(cells))]
			ref := New(snap, goal.ReachBlock(target), DefaultCosts(), opts)
			dist := dijkstra(ref, start)

			p, _, err := New(snap, goal.ReachBlock(target), DefaultCosts(), opts).
				Calculate(context.Background(), start, 0, 0)
			want, reachable := dist[target]
			if !reachable {
				if err == nil {
					require.False(t, p.Complete, "seed %d: %s -> %s", seed, start, target)
				}
				continue
			}
			require.NoError(t, err)
			require.True(t, p.Complete)
			require.InDelta(t, want, p.Cost, 1e-9, "seed %d: %s -> %s", seed, start, target)
		}
	}
}

func TestHeuristicAdmissible(t *testing.T) {
	for seed := int64(1); seed <= 4; seed++ {
		w := randomTerrain(seed + 100)
		snap := snapshot.Capture(w, voxel.Cell{X: 6, Y: 3, Z: 6}, 8)
		opts := DefaultOptions()
		cells := standable(snap, opts.Body)
		r := rand.New(rand.NewSource(seed))

		for trial := 0; trial < 10; trial++ {
			from := cells[r.Intn(len(cells))]
			goals := []goal.Goal{
				goal.ReachBlock(cells[r.Intn(len(cells))]),
				goal.Near(cells[r.Intn(len(cells))], 2),
				goal.Column(r.Intn(12), r.Intn(12)),
			}
			for _, g := range goals {
				s := New(snap, g, DefaultCosts(), opts)
				dist := dijkstra(s, from)
				bestCost := math.Inf(1)
				for c, d := range dist {
					if s.Goal().IsSatisfied(c) && d < bestCost {
						bestCost = d
					}
				}
				if math.IsInf(bestCost, 1) {
					continue
				}
				require.LessOrEqual(t, s.Goal().Heuristic(from), bestCost+1e-9, "%s from %s", g, from)
			}
		}
	}
}
