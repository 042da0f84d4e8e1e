// Package goal declares what a path search is trying to reach.
//
// A Goal is an immutable tagged value. Dynamic goals (follow, patrol, wander)
// move by returning a new value, so a search that captured a Goal always sees
// a frozen target.
package goal

import (
	"fmt"
	"math"

	"voxelpath.ai/internal/sim/mathx"
	"voxelpath.ai/internal/sim/voxel"
)

type Kind uint8

const (
	KindReachBlock Kind = iota + 1
	KindNear
	KindColumn
	KindFollow
	KindPatrol
	KindWander
)

func (k Kind) String() string {
	switch k {
	case KindReachBlock:
		return "REACH_BLOCK"
	case KindNear:
		return "NEAR"
	case KindColumn:
		return "COLUMN"
	case KindFollow:
		return "FOLLOW"
	case KindPatrol:
		return "PATROL"
	case KindWander:
		return "WANDER"
	default:
		return "UNKNOWN"
	}
}

// DefaultWanderReach is how close (horizontally) a wander target must be
// approached before it counts as reached.
const DefaultWanderReach = 1.5

// Metric scales the heuristic so it never exceeds the cheapest move cost per
// cell of horizontal and vertical displacement.
type Metric struct {
	Horizontal float64
	Vertical   float64
}

// DefaultMetric matches the default cost table.
var DefaultMetric = Metric{Horizontal: 1, Vertical: 0.5}

type Goal struct {
	Kind Kind

	// Pos is the current target cell: the block for REACH_BLOCK, the center for
	// NEAR, the column for COLUMN, the last known entity cell for FOLLOW, the
	// active waypoint for PATROL and the picked target for WANDER.
	Pos    voxel.Cell
	Radius float64

	EntityID string

	Waypoints []voxel.Cell
	Index     int
	Loop      bool

	Center voxel.Cell
	Seed   int64
	Draws  int

	metric Metric
}

func ReachBlock(c voxel.Cell) Goal { return Goal{Kind: KindReachBlock, Pos: c} }

// Near is satisfied anywhere within radius (euclidean, in cells) of c.
func Near(c voxel.Cell, radius float64) Goal {
	return Goal{Kind: KindNear, Pos: c, Radius: math.Max(0, radius)}
}

// Column is satisfied at any height in column (x, z).
func Column(x, z int) Goal { return Goal{Kind: KindColumn, Pos: voxel.Cell{X: x, Z: z}} }

// Follow keeps within distance of an entity whose last known cell is pos.
func Follow(entityID string, pos voxel.Cell, distance float64) Goal {
	return Goal{Kind: KindFollow, EntityID: entityID, Pos: pos, Radius: math.Max(0, distance)}
}

// Patrol visits waypoints in order, wrapping around when loop is set.
func Patrol(waypoints []voxel.Cell, loop bool) Goal {
	pts := append([]voxel.Cell(nil), waypoints...)
	g := Goal{Kind: KindPatrol, Waypoints: pts, Loop: loop}
	if len(pts) > 0 {
		g.Pos = pts[0]
	}
	return g
}

// Wander roams the area of the given radius around center. The first target is
// the center itself until the caller picks one with WithWanderTarget.
func Wander(center voxel.Cell, radius float64, seed int64) Goal {
	return Goal{Kind: KindWander, Center: center, Pos: center, Radius: math.Max(1, radius), Seed: seed}
}

func (g Goal) Target() voxel.Cell { return g.Pos }

func (g Goal) IsDynamic() bool {
	switch g.Kind {
	case KindFollow, KindPatrol, KindWander:
		return true
	}
	return false
}

// WithMetric returns a copy whose heuristic uses m.
func (g Goal) WithMetric(m Metric) Goal {
	g.metric = m
	return g
}

func (g Goal) Metric() Metric {
	if g.metric == (Metric{}) {
		return DefaultMetric
	}
	return g.metric
}

// WithTarget moves a follow goal to the entity's new cell.
func (g Goal) WithTarget(c voxel.Cell) Goal {
	g.Pos = c
	return g
}

// Advance moves a patrol goal to its next waypoint. ok is false once a
// non-looping patrol has visited its last waypoint.
func (g Goal) Advance() (next Goal, ok bool) {
	if g.Kind != KindPatrol || len(g.Waypoints) == 0 {
		return g, false
	}
	i := g.Index + 1
	if i >= len(g.Waypoints) {
		if !g.Loop {
			return g, false
		}
		i = 0
	}
	g.Index = i
	g.Pos = g.Waypoints[i]
	return g, true
}

// NextWanderCandidate draws the n-th deterministic candidate target inside the
// wander area. Callers validate standability before WithWanderTarget.
func (g Goal) NextWanderCandidate(n int) voxel.Cell {
	h := mathx.Hash3(g.Seed, g.Draws, n, int(g.Center.Y))
	ang := float64(h&0xffff) / 65536 * 2 * math.Pi
	dist := math.Sqrt(float64((h>>16)&0xffff)/65536) * g.Radius
	return voxel.Cell{
		X: g.Center.X + int(math.Round(math.Cos(ang)*dist)),
		Y: g.Center.Y,
		Z: g.Center.Z + int(math.Round(math.Sin(ang)*dist)),
	}
}

// WithWanderTarget records a newly picked wander target.
func (g Goal) WithWanderTarget(c voxel.Cell) Goal {
	g.Pos = c
	g.Draws++
	return g
}

// IsSatisfied reports whether an agent standing in c has reached the goal.
func (g Goal) IsSatisfied(c voxel.Cell) bool {
	switch g.Kind {
	case KindReachBlock, KindPatrol:
		return c == g.Pos
	case KindNear, KindFollow:
		d := c.Sub(g.Pos)
		return float64(d.X*d.X+d.Y*d.Y+d.Z*d.Z) <= g.Radius*g.Radius
	case KindColumn:
		return c.X == g.Pos.X && c.Z == g.Pos.Z
	case KindWander:
		d := c.Sub(g.Pos)
		return float64(d.X*d.X+d.Z*d.Z) <= DefaultWanderReach*DefaultWanderReach
	}
	return false
}

// Heuristic estimates the remaining cost from c. It never exceeds the true
// cost under a cost table whose cheapest per-cell horizontal and vertical
// costs are the goal's Metric.
func (g Goal) Heuristic(c voxel.Cell) float64 {
	m := g.Metric()
	d := c.Sub(g.Pos)
	switch g.Kind {
	case KindReachBlock, KindPatrol:
		return m.Horizontal*mathx.Octile(d.X, d.Z) + m.Vertical*float64(mathx.AbsInt(d.Y))
	case KindColumn:
		return m.Horizontal * mathx.Octile(d.X, d.Z)
	case KindNear, KindFollow:
		hz := m.Horizontal * math.Hypot(float64(d.X), float64(d.Z))
		vy := m.Vertical * float64(d.Y)
		return math.Max(0, math.Sqrt(hz*hz+vy*vy)-g.Radius*maxWeight(m))
	case KindWander:
		n := math.Hypot(float64(d.X), float64(d.Z))
		return math.Max(0, m.Horizontal*(n-DefaultWanderReach))
	}
	return 0
}

// maxWeight bounds how much of the radius a metric can credit.
func maxWeight(m Metric) float64 {
	return math.Max(m.Horizontal, m.Vertical)
}

// Terrain is the subset of snapshot queries a reachability precheck needs.
type Terrain interface {
	Contains(c voxel.Cell) bool
	IsSolid(c voxel.Cell) bool
	IsDoor(c voxel.Cell) bool
	IsLava(c voxel.Cell) bool
}

// Reachable is a cheap precheck: a single-cell goal whose target is known to
// be inside solid terrain or lava can never be satisfied.
func (g Goal) Reachable(t Terrain) bool {
	switch g.Kind {
	case KindReachBlock, KindPatrol:
		if g.Kind == KindPatrol && len(g.Waypoints) == 0 {
			return false
		}
		if !t.Contains(g.Pos) {
			return true
		}
		if t.IsLava(g.Pos) {
			return false
		}
		return !t.IsSolid(g.Pos) || t.IsDoor(g.Pos)
	}
	return true
}

func (g Goal) String() string {
	switch g.Kind {
	case KindNear:
		return fmt.Sprintf("%s%s r=%.1f", g.Kind, g.Pos, g.Radius)
	case KindColumn:
		return fmt.Sprintf("%s(%d,%d)", g.Kind, g.Pos.X, g.Pos.Z)
	case KindFollow:
		return fmt.Sprintf("%s[%s]%s r=%.1f", g.Kind, g.EntityID, g.Pos, g.Radius)
	case KindPatrol:
		return fmt.Sprintf("%s#%d/%d%s", g.Kind, g.Index, len(g.Waypoints), g.Pos)
	default:
		return fmt.Sprintf("%s%s", g.Kind, g.Pos)
	}
}
