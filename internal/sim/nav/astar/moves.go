package astar

import (
	"math"

	"voxelpath.ai/internal/sim/nav/snapshot"
	"voxelpath.ai/internal/sim/voxel"
)

// Options select which move families the search may generate.
type Options struct {
	Body          snapshot.Body
	MaxFall       int
	Parkour       bool
	MaxParkourGap int
	CheckEvery    int
}

func DefaultOptions() Options {
	return Options{
		Body:          snapshot.DefaultBody(),
		MaxFall:       3,
		Parkour:       true,
		MaxParkourGap: 2,
		CheckEvery:    64,
	}
}

func (o Options) normalized() Options {
	if o.Body.Height <= 0 {
		o.Body = snapshot.DefaultBody()
	}
	if o.MaxFall < 1 {
		o.MaxFall = 1
	}
	if o.MaxParkourGap < 1 {
		o.MaxParkourGap = 1
	}
	if o.CheckEvery <= 0 {
		o.CheckEvery = 64
	}
	return o
}

// Move is one candidate successor.
type Move struct {
	Kind MoveKind
	Dest voxel.Cell
	Cost float64
}

// successors appends every legal move out of c to buf.
func (s *Search) successors(c voxel.Cell, buf []Move) []Move {
	snap, body, k := s.snap, s.opts.Body, s.costs
	inWater := snap.IsWater(c)

	for _, d := range voxel.Cardinals {
		n := c.Add(d)
		if snap.CanStand(n, body) {
			buf = append(buf, s.flatMove(c, n, inWater, false))
			continue
		}
		if snap.IsSolid(n) && !snap.IsDoor(n) {
			up := n.Up(1)
			if snap.CanStand(up, body) && snap.FootprintClear(c, body, body.JumpHeight()) {
				cost := k.StepUp
				if inWater && !snap.IsWater(up) {
					cost += k.WaterPenalty
				}
				buf = append(buf, Move{Kind: MoveAscend, Dest: up, Cost: cost})
			}
			continue
		}
		if !snap.FootprintClear(n, body, body.Height) {
			continue
		}
		buf = s.appendFall(buf, n)
		if s.opts.Parkour && !inWater && snap.HasGroundBelow(c) {
			buf = s.appendParkour(buf, c, d)
		}
	}

	for _, d := range voxel.Diagonals {
		n := c.Add(d)
		if s.doorInColumn(n) || !snap.CanStand(n, body) {
			continue
		}
		if !snap.DiagonalClear(c, d.X, d.Z, body) {
			continue
		}
		buf = append(buf, s.flatMove(c, n, inWater, true))
	}

	up, down := c.Up(1), c.Down(1)
	if snap.IsClimbable(c) && snap.CanStand(up, body) && snap.FootprintClear(c, body, body.Height+1) {
		buf = append(buf, Move{Kind: MovePillar, Dest: up, Cost: k.Climb})
	}
	if snap.IsClimbable(down) && snap.CanStand(down, body) {
		buf = append(buf, Move{Kind: MovePillar, Dest: down, Cost: k.Climb})
	}
	if inWater {
		if snap.IsWater(up) && snap.CanStand(up, body) {
			buf = append(buf, Move{Kind: MoveSwim, Dest: up, Cost: k.Swim})
		}
		if snap.IsWater(down) && snap.CanStand(down, body) {
			buf = append(buf, Move{Kind: MoveSwim, Dest: down, Cost: k.Swim})
		}
	}
	return buf
}

// doorInColumn reports a door anywhere in the body's footprint at n. Doors
// are only crossed by cardinal door moves.
func (s *Search) doorInColumn(n voxel.Cell) bool {
	body := s.opts.Body
	lo, hi := body.Span()
	for dz := lo; dz <= hi; dz++ {
		for dx := lo; dx <= hi; dx++ {
			for y := 0; float64(y) < body.Height; y++ {
				if s.snap.IsDoor(voxel.Cell{X: n.X + dx, Y: n.Y + y, Z: n.Z + dz}) {
					return true
				}
			}
		}
	}
	return false
}

func (s *Search) flatMove(c, n voxel.Cell, fromWater, diagonal bool) Move {
	snap, k := s.snap, s.costs
	base, kind := k.Walk, MoveTraverse
	if diagonal {
		base, kind = k.Diagonal, MoveDiagonal
	}
	switch {
	case !diagonal && (snap.IsClosedDoor(n) || snap.IsClosedDoor(n.Up(1))):
		return Move{Kind: MoveDoor, Dest: n, Cost: k.Door}
	case snap.IsWater(n):
		cost := k.Swim
		if diagonal {
			cost *= math.Sqrt2
		}
		return Move{Kind: MoveSwim, Dest: n, Cost: cost}
	case fromWater:
		return Move{Kind: kind, Dest: n, Cost: base + k.WaterPenalty}
	}
	return Move{Kind: kind, Dest: n, Cost: base}
}

// appendFall scans down from n for the first landing within MaxFall.
func (s *Search) appendFall(buf []Move, n voxel.Cell) []Move {
	snap, body := s.snap, s.opts.Body
	for drop := 1; drop <= s.opts.MaxFall; drop++ {
		l := n.Down(drop)
		if snap.IsLava(l) || !snap.FootprintClear(l, body, body.Height) {
			return buf
		}
		if snap.CanStand(l, body) {
			kind := MoveFall
			if drop == 1 {
				kind = MoveDescend
			}
			return append(buf, Move{Kind: kind, Dest: l, Cost: s.costs.Fall(drop)})
		}
	}
	return buf
}

// appendParkour tries gap jumps of increasing width in direction d. Every gap
// cell must be open air without a floor or fluid, with headroom for the arc.
func (s *Search) appendParkour(buf []Move, c, d voxel.Cell) []Move {
	snap, body := s.snap, s.opts.Body
	if !snap.FootprintClear(c, body, body.JumpHeight()) {
		return buf
	}
	for gap := 1; gap <= s.opts.MaxParkourGap; gap++ {
		g := c.Offset(d.X*gap, 0, d.Z*gap)
		if snap.HasGroundBelow(g) || snap.IsWater(g) || snap.IsWater(g.Down(1)) ||
			!snap.FootprintClear(g, body, body.JumpHeight()) {
			return buf
		}
		land := c.Offset(d.X*(gap+1), 0, d.Z*(gap+1))
		if snap.IsWater(land) || snap.IsDoor(land) {
			continue
		}
		if snap.CanStand(land, body) && snap.FootprintClear(land, body, body.JumpHeight()) {
			return append(buf, Move{Kind: MoveParkour, Dest: land, Cost: s.costs.Parkour(gap)})
		}
	}
	return buf
}
