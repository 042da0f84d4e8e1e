// Package snapshot captures an immutable copy of a region of the voxel world so
// path searches can run off the simulation goroutine.
//
// A Snapshot is built synchronously by Capture on the goroutine that owns the
// world and is never written afterwards; any number of goroutines may query it.
// Cells outside the captured region read as solid so a search never routes
// through terrain it has not seen.
package snapshot

import (
	"voxelpath.ai/internal/sim/mathx"
	"voxelpath.ai/internal/sim/voxel"
)

type Snapshot struct {
	min        voxel.Cell
	sx, sy, sz int

	palette []voxel.Block
	cells   []uint16
}

// Capture copies the cube of the given radius around center.
func Capture(src voxel.BlockSource, center voxel.Cell, radius int) *Snapshot {
	if radius < 0 {
		radius = 0
	}
	r := voxel.Cell{X: radius, Y: radius, Z: radius}
	return captureBox(src, center.Sub(r), center.Add(r))
}

// CaptureBetween copies the box spanning a and b grown by padding on every side,
// clamped so that no axis extends more than maxRadius cells from a.
func CaptureBetween(src voxel.BlockSource, a, b voxel.Cell, padding, maxRadius int) *Snapshot {
	if padding < 0 {
		padding = 0
	}
	lo := voxel.Cell{X: min(a.X, b.X) - padding, Y: min(a.Y, b.Y) - padding, Z: min(a.Z, b.Z) - padding}
	hi := voxel.Cell{X: max(a.X, b.X) + padding, Y: max(a.Y, b.Y) + padding, Z: max(a.Z, b.Z) + padding}
	if maxRadius > 0 {
		lo.X = mathx.ClampInt(lo.X, a.X-maxRadius, a.X)
		lo.Y = mathx.ClampInt(lo.Y, a.Y-maxRadius, a.Y)
		lo.Z = mathx.ClampInt(lo.Z, a.Z-maxRadius, a.Z)
		hi.X = mathx.ClampInt(hi.X, a.X, a.X+maxRadius)
		hi.Y = mathx.ClampInt(hi.Y, a.Y, a.Y+maxRadius)
		hi.Z = mathx.ClampInt(hi.Z, a.Z, a.Z+maxRadius)
	}
	return captureBox(src, lo, hi)
}

func captureBox(src voxel.BlockSource, lo, hi voxel.Cell) *Snapshot {
	s := &Snapshot{
		min: lo,
		sx:  hi.X - lo.X + 1,
		sy:  hi.Y - lo.Y + 1,
		sz:  hi.Z - lo.Z + 1,
	}
	s.cells = make([]uint16, s.sx*s.sy*s.sz)
	index := map[voxel.Block]uint16{}
	for y := 0; y < s.sy; y++ {
		for z := 0; z < s.sz; z++ {
			for x := 0; x < s.sx; x++ {
				b := src.BlockAt(voxel.Cell{X: lo.X + x, Y: lo.Y + y, Z: lo.Z + z})
				id, ok := index[b]
				if !ok {
					id = uint16(len(s.palette))
					s.palette = append(s.palette, b)
					index[b] = id
				}
				s.cells[x+z*s.sx+y*s.sx*s.sz] = id
			}
		}
	}
	return s
}

// Bounds returns the captured inclusive box.
func (s *Snapshot) Bounds() voxel.Bounds {
	return voxel.Bounds{
		Min: s.min,
		Max: voxel.Cell{X: s.min.X + s.sx - 1, Y: s.min.Y + s.sy - 1, Z: s.min.Z + s.sz - 1},
	}
}

func (s *Snapshot) Contains(c voxel.Cell) bool {
	x, y, z := c.X-s.min.X, c.Y-s.min.Y, c.Z-s.min.Z
	return x >= 0 && y >= 0 && z >= 0 && x < s.sx && y < s.sy && z < s.sz
}

// Block returns the captured block at c, or voxel.Solid outside the capture.
func (s *Snapshot) Block(c voxel.Cell) voxel.Block {
	x, y, z := c.X-s.min.X, c.Y-s.min.Y, c.Z-s.min.Z
	if x < 0 || y < 0 || z < 0 || x >= s.sx || y >= s.sy || z >= s.sz {
		return voxel.Solid
	}
	return s.palette[s.cells[x+z*s.sx+y*s.sx*s.sz]]
}

// BlockAt lets a snapshot stand in for the live world.
func (s *Snapshot) BlockAt(c voxel.Cell) voxel.Block { return s.Block(c) }

func (s *Snapshot) IsSolid(c voxel.Cell) bool { return s.Block(c).HasCollision() }

func (s *Snapshot) IsPassable(c voxel.Cell) bool {
	b := s.Block(c)
	return !b.HasCollision() && b.Fluid != voxel.FluidLava
}

func (s *Snapshot) IsWater(c voxel.Cell) bool     { return s.Block(c).Fluid == voxel.FluidWater }
func (s *Snapshot) IsLava(c voxel.Cell) bool      { return s.Block(c).Fluid == voxel.FluidLava }
func (s *Snapshot) IsClimbable(c voxel.Cell) bool { return s.Block(c).Climbable }
func (s *Snapshot) IsDoor(c voxel.Cell) bool      { return s.Block(c).Door }

func (s *Snapshot) IsDoorOpen(c voxel.Cell) bool {
	b := s.Block(c)
	return b.Door && b.DoorOpen
}

// IsClosedDoor reports a door that currently blocks movement.
func (s *Snapshot) IsClosedDoor(c voxel.Cell) bool {
	b := s.Block(c)
	return b.Door && !b.DoorOpen
}

// HasGroundBelow reports whether the cell under c can support a standing body.
func (s *Snapshot) HasGroundBelow(c voxel.Cell) bool {
	b := s.Block(c.Down(1))
	if b.Fluid == voxel.FluidLava {
		return false
	}
	return b.HasCollision() || b.Climbable
}

// HasHeadroom reports whether a column starting at the floor of c is free of
// collision up to height (which may be fractional).
func (s *Snapshot) HasHeadroom(c voxel.Cell, height float64) bool {
	return s.clear(c, height, false)
}

func (s *Snapshot) clear(c voxel.Cell, height float64, doorsPassable bool) bool {
	floor := float64(c.Y)
	top := floor + height
	for y := c.Y; float64(y) < top; y++ {
		b := s.Block(voxel.Cell{X: c.X, Y: y, Z: c.Z})
		if b.Fluid == voxel.FluidLava {
			return false
		}
		if doorsPassable && b.Door {
			continue
		}
		if !b.HasCollision() {
			continue
		}
		lo := float64(y) + b.MinY
		hi := float64(y) + b.MaxY
		if lo < top && hi > floor {
			return false
		}
	}
	return true
}

// CanStand checks the full footprint of body at c: every column needs headroom
// and at least one column needs support (ground, water or a climbable).
// Closed doors count as clear when the body can open them.
func (s *Snapshot) CanStand(c voxel.Cell, body Body) bool {
	lo, hi := body.Span()
	supported := false
	for dz := lo; dz <= hi; dz++ {
		for dx := lo; dx <= hi; dx++ {
			col := voxel.Cell{X: c.X + dx, Y: c.Y, Z: c.Z + dz}
			if !s.clear(col, body.Height, body.CanOpenDoors) {
				return false
			}
			if supported {
				continue
			}
			b := s.Block(col)
			if b.Fluid == voxel.FluidWater || b.Climbable || s.HasGroundBelow(col) {
				supported = true
			}
		}
	}
	return supported
}

// FootprintClear checks headroom for every column of body at c without
// requiring support.
func (s *Snapshot) FootprintClear(c voxel.Cell, body Body, height float64) bool {
	lo, hi := body.Span()
	for dz := lo; dz <= hi; dz++ {
		for dx := lo; dx <= hi; dx++ {
			if !s.clear(voxel.Cell{X: c.X + dx, Y: c.Y, Z: c.Z + dz}, height, false) {
				return false
			}
		}
	}
	return true
}

// DiagonalClear applies the corner-cutting rule for a diagonal step from c by
// (dx, dz): both orthogonal side cells must be clear for the whole footprint,
// which also covers the near and far corner columns of wide bodies. Doors
// never allow a diagonal past them.
func (s *Snapshot) DiagonalClear(c voxel.Cell, dx, dz int, body Body) bool {
	sides := [2]voxel.Cell{c.Offset(dx, 0, 0), c.Offset(0, 0, dz)}
	lo, hi := body.Span()
	for _, side := range sides {
		for oz := lo; oz <= hi; oz++ {
			for ox := lo; ox <= hi; ox++ {
				col := voxel.Cell{X: side.X + ox, Y: side.Y, Z: side.Z + oz}
				if s.IsDoor(col) || !s.clear(col, body.Height, false) {
					return false
				}
			}
		}
	}
	return true
}
