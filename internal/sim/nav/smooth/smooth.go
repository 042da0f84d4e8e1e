// Package smooth compresses a cell path into steering waypoints.
package smooth

import (
	"math"

	"voxelpath.ai/internal/sim/mathx"
	"voxelpath.ai/internal/sim/nav/astar"
	"voxelpath.ai/internal/sim/nav/snapshot"
	"voxelpath.ai/internal/sim/voxel"
)

// Waypoint is a steering target. Kind is the movement that arrives here.
type Waypoint struct {
	Pos  voxel.Vec3
	Cell voxel.Cell
	Kind astar.MoveKind
}

type Path struct {
	Waypoints []Waypoint
	Cost      float64
	Complete  bool
}

func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Waypoints)
}

func (p *Path) Last() Waypoint { return p.Waypoints[len(p.Waypoints)-1] }

// Cells re-exposes the waypoints as a cell path.
func (p *Path) Cells() *astar.Path {
	out := &astar.Path{
		Cells:    make([]voxel.Cell, len(p.Waypoints)),
		Cost:     p.Cost,
		Complete: p.Complete,
	}
	if len(p.Waypoints) > 1 {
		out.Moves = make([]astar.MoveKind, len(p.Waypoints)-1)
	}
	for i, wp := range p.Waypoints {
		out.Cells[i] = wp.Cell
		if i > 0 {
			out.Moves[i-1] = wp.Kind
		}
	}
	return out
}

// Terrain is the query set line-of-sight checks need.
type Terrain interface {
	CanStand(c voxel.Cell, body snapshot.Body) bool
	IsWater(c voxel.Cell) bool
	IsDoor(c voxel.Cell) bool
}

// Smooth drops intermediate cells of flat walking runs that the agent can
// cross in a straight line. Vertical, parkour, door, swim and climb
// transitions always stay as waypoints.
func Smooth(p *astar.Path, t Terrain, body snapshot.Body) *Path {
	out := &Path{Cost: p.Cost, Complete: p.Complete}
	n := len(p.Cells)
	if n == 0 {
		return out
	}
	out.Waypoints = make([]Waypoint, 0, n)
	out.Waypoints = append(out.Waypoints, Waypoint{Pos: p.Cells[0].Center(), Cell: p.Cells[0], Kind: astar.MoveStart})

	for i := 0; i < n-1; {
		from := p.Cells[i]
		if !p.Moves[i].Flat() {
			next := p.Cells[i+1]
			out.Waypoints = append(out.Waypoints, Waypoint{Pos: next.Center(), Cell: next, Kind: p.Moves[i]})
			i++
			continue
		}
		best := i + 1
		for j := i + 2; j < n && p.Moves[j-1].Flat() && p.Cells[j].Y == from.Y; j++ {
			if visible(t, body, from, p.Cells[j]) {
				best = j
			}
		}
		to := p.Cells[best]
		kind := p.Moves[i]
		if best > i+1 {
			kind = astar.MoveDiagonal
			if to.X == from.X || to.Z == from.Z {
				kind = astar.MoveTraverse
			}
		}
		out.Waypoints = append(out.Waypoints, Waypoint{Pos: to.Center(), Cell: to, Kind: kind})
		i = best
	}
	return out
}

// visible samples the straight line between two same-level cells at unit
// steps. Every sampled cell must be standable dry ground, and a sample that
// changes both x and z also needs both corner cells standable.
func visible(t Terrain, body snapshot.Body, a, b voxel.Cell) bool {
	dx, dz := b.X-a.X, b.Z-a.Z
	steps := max(mathx.AbsInt(dx), mathx.AbsInt(dz))
	prev := a
	for k := 1; k <= steps; k++ {
		f := float64(k) / float64(steps)
		c := voxel.Cell{
			X: a.X + int(math.Round(float64(dx)*f)),
			Y: a.Y,
			Z: a.Z + int(math.Round(float64(dz)*f)),
		}
		if !walkable(t, body, c) {
			return false
		}
		if c.X != prev.X && c.Z != prev.Z {
			if !walkable(t, body, voxel.Cell{X: prev.X, Y: a.Y, Z: c.Z}) ||
				!walkable(t, body, voxel.Cell{X: c.X, Y: a.Y, Z: prev.Z}) {
				return false
			}
		}
		prev = c
	}
	return true
}

func walkable(t Terrain, body snapshot.Body, c voxel.Cell) bool {
	return t.CanStand(c, body) && !t.IsWater(c) && !t.IsDoor(c)
}

// Subdivide inserts interpolated waypoints into flat segments longer than
// maxSegment. Existing waypoints are kept in order.
func Subdivide(sp *Path, maxSegment float64) *Path {
	out := &Path{Cost: sp.Cost, Complete: sp.Complete}
	if len(sp.Waypoints) == 0 || maxSegment <= 0 {
		out.Waypoints = append([]Waypoint(nil), sp.Waypoints...)
		return out
	}
	out.Waypoints = append(out.Waypoints, sp.Waypoints[0])
	for i := 1; i < len(sp.Waypoints); i++ {
		a, b := sp.Waypoints[i-1], sp.Waypoints[i]
		if b.Kind.Flat() {
			d := b.Pos.Sub(a.Pos).Len()
			if parts := int(math.Ceil(d / maxSegment)); parts > 1 {
				for k := 1; k < parts; k++ {
					pos := a.Pos.Lerp(b.Pos, float64(k)/float64(parts))
					out.Waypoints = append(out.Waypoints, Waypoint{Pos: pos, Cell: voxel.CellOf(pos), Kind: b.Kind})
				}
			}
		}
		out.Waypoints = append(out.Waypoints, b)
	}
	return out
}
