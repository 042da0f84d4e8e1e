package voxel

import (
	"fmt"
	"math"
)

// Cell is an integer voxel coordinate. For agents it names the feet cell.
type Cell struct {
	X int
	Y int
	Z int
}

func (c Cell) Add(o Cell) Cell       { return Cell{X: c.X + o.X, Y: c.Y + o.Y, Z: c.Z + o.Z} }
func (c Cell) Sub(o Cell) Cell       { return Cell{X: c.X - o.X, Y: c.Y - o.Y, Z: c.Z - o.Z} }
func (c Cell) Up(n int) Cell         { return Cell{X: c.X, Y: c.Y + n, Z: c.Z} }
func (c Cell) Down(n int) Cell       { return Cell{X: c.X, Y: c.Y - n, Z: c.Z} }
func (c Cell) Offset(dx, dy, dz int) Cell {
	return Cell{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

func (c Cell) String() string { return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z) }

// Center is the continuous position of an agent standing in c.
func (c Cell) Center() Vec3 {
	return Vec3{X: float64(c.X) + 0.5, Y: float64(c.Y), Z: float64(c.Z) + 0.5}
}

// Cardinal directions in fixed order (+X, -X, +Z, -Z).
var Cardinals = [4]Cell{{X: 1}, {X: -1}, {Z: 1}, {Z: -1}}

// Diagonals in fixed order.
var Diagonals = [4]Cell{{X: 1, Z: 1}, {X: 1, Z: -1}, {X: -1, Z: 1}, {X: -1, Z: -1}}

const (
	packBits   = 21
	packOffset = 1 << (packBits - 1)
	packMask   = 1<<packBits - 1
)

// Pack folds a cell into a single map/heap key. Each axis must lie in
// [-2^20, 2^20).
func Pack(c Cell) uint64 {
	x := uint64(c.X+packOffset) & packMask
	y := uint64(c.Y+packOffset) & packMask
	z := uint64(c.Z+packOffset) & packMask
	return x<<(2*packBits) | z<<packBits | y
}

func Unpack(k uint64) Cell {
	y := int(k&packMask) - packOffset
	z := int((k>>packBits)&packMask) - packOffset
	x := int((k>>(2*packBits))&packMask) - packOffset
	return Cell{X: x, Y: y, Z: z}
}

// Vec3 is a continuous-space position or velocity.
type Vec3 struct {
	X float64
	Y float64
	Z float64
}

func (v Vec3) Add(o Vec3) Vec3        { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3        { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3   { return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }
func (v Vec3) Len() float64           { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }
func (v Vec3) HorizontalLen() float64 { return math.Hypot(v.X, v.Z) }

// Lerp interpolates between v and o.
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	return Vec3{X: v.X + (o.X-v.X)*t, Y: v.Y + (o.Y-v.Y)*t, Z: v.Z + (o.Z-v.Z)*t}
}

// CellOf returns the cell containing p.
func CellOf(p Vec3) Cell {
	return Cell{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y)), Z: int(math.Floor(p.Z))}
}

// HorizontalDist is the XZ-plane distance between two positions.
func HorizontalDist(a, b Vec3) float64 {
	return math.Hypot(a.X-b.X, a.Z-b.Z)
}

// Yaw returns the facing angle (radians) pointing from a to b in the XZ plane.
func Yaw(a, b Vec3) float64 {
	return math.Atan2(b.Z-a.Z, b.X-a.X)
}
