// Package body is a kinematic voxel body: an axis-aligned box moved by its
// velocity with per-axis clipping against block collision boxes.
package body

import (
	"math"

	"voxelpath.ai/internal/sim/nav/snapshot"
	"voxelpath.ai/internal/sim/voxel"
)

// World is the live block state the body collides with.
type World interface {
	BlockAt(c voxel.Cell) voxel.Block
}

// Doors toggles door blocks. ToggleDoor reports whether c held a door.
type Doors interface {
	ToggleDoor(c voxel.Cell) bool
}

// Physics constants are per tick.
type Physics struct {
	WalkSpeed      float64 `yaml:"walk_speed"`
	Gravity        float64 `yaml:"gravity"`
	Drag           float64 `yaml:"drag"`
	JumpVelocity   float64 `yaml:"jump_velocity"`
	FluidGravity   float64 `yaml:"fluid_gravity"`
	FluidDrag      float64 `yaml:"fluid_drag"`
	GroundFriction float64 `yaml:"ground_friction"`
	AirFriction    float64 `yaml:"air_friction"`
	MaxFallSpeed   float64 `yaml:"max_fall_speed"`
	DoorReach      float64 `yaml:"door_reach"`
}

func DefaultPhysics() Physics {
	return Physics{
		WalkSpeed:      0.2,
		Gravity:        0.08,
		Drag:           0.98,
		JumpVelocity:   0.42,
		FluidGravity:   0.02,
		FluidDrag:      0.8,
		GroundFriction: 0.5,
		AirFriction:    0.91,
		MaxFallSpeed:   3.0,
		DoorReach:      2.5,
	}
}

const (
	clipEpsilon  = 1e-7
	climbProbe   = 0.05
	restVelocity = 1e-5
)

type Body struct {
	shape snapshot.Body
	phys  Physics
	world World
	doors Doors

	pos voxel.Vec3
	vel voxel.Vec3
	yaw float64

	onGround bool
	inFluid  bool
	climbing bool

	collideX bool
	collideZ bool
}

// New places a body with its feet at pos. doors may be nil.
func New(w World, doors Doors, shape snapshot.Body, phys Physics, pos voxel.Vec3) *Body {
	b := &Body{shape: shape, phys: phys, world: w, doors: doors, pos: pos}
	b.refreshMedium()
	b.onGround = b.collides(b.box().translate(1, -climbProbe))
	return b
}

func (b *Body) Position() voxel.Vec3 { return b.pos }
func (b *Body) Velocity() voxel.Vec3 { return b.vel }
func (b *Body) Facing() float64      { return b.yaw }
func (b *Body) Speed() float64       { return b.phys.WalkSpeed }
func (b *Body) InFluid() bool        { return b.inFluid }
func (b *Body) Climbing() bool       { return b.climbing }
func (b *Body) Shape() snapshot.Body { return b.shape }
func (b *Body) Cell() voxel.Cell     { return voxel.CellOf(b.pos) }

// OnGround includes hanging on a climbable block.
func (b *Body) OnGround() bool { return b.onGround || b.climbing }

// Collided reports whether the last step was clipped horizontally.
func (b *Body) Collided() bool { return b.collideX || b.collideZ }

func (b *Body) SetVelocity(v voxel.Vec3) { b.vel = v }
func (b *Body) SetFacing(yaw float64)    { b.yaw = yaw }

// Teleport moves the body without collision checks.
func (b *Body) Teleport(pos voxel.Vec3) {
	b.pos = pos
	b.vel = voxel.Vec3{}
	b.refreshMedium()
	b.onGround = b.collides(b.box().translate(1, -climbProbe))
}

func (b *Body) ApplyJumpImpulse() {
	switch {
	case b.onGround || b.climbing:
		b.vel.Y = b.phys.JumpVelocity
		b.onGround = false
	case b.inFluid:
		b.vel.Y += b.phys.FluidGravity * 2
	}
}

// InteractWithDoorAt toggles the door at c when it is within reach.
func (b *Body) InteractWithDoorAt(c voxel.Cell) bool {
	if b.doors == nil {
		return false
	}
	if c.Center().Sub(b.pos).Len() > b.phys.DoorReach {
		return false
	}
	if !b.world.BlockAt(c).Door {
		return false
	}
	return b.doors.ToggleDoor(c)
}

// Step integrates one tick: clip y, then x, then z against nearby boxes,
// then apply gravity and friction for the medium the body is in.
func (b *Body) Step() {
	want := b.vel
	box := b.box()

	box, dy := b.move(box, 1, want.Y)
	box, dx := b.move(box, 0, want.X)
	box, dz := b.move(box, 2, want.Z)

	b.pos = voxel.Vec3{X: (box.min[0] + box.max[0]) / 2, Y: box.min[1], Z: (box.min[2] + box.max[2]) / 2}

	yHit := math.Abs(want.Y-dy) >= restVelocity
	b.collideX = math.Abs(want.X-dx) >= restVelocity
	b.collideZ = math.Abs(want.Z-dz) >= restVelocity
	b.onGround = (yHit && want.Y < 0) || (b.onGround && !yHit && math.Abs(want.Y) <= restVelocity)
	if yHit {
		b.vel.Y = 0
	}
	if b.collideX {
		b.vel.X = 0
	}
	if b.collideZ {
		b.vel.Z = 0
	}

	b.refreshMedium()
	switch {
	case b.climbing:
		b.vel.Y = 0
	case b.inFluid:
		b.vel.Y = (b.vel.Y - b.phys.FluidGravity) * b.phys.FluidDrag
	default:
		b.vel.Y = (b.vel.Y - b.phys.Gravity) * b.phys.Drag
	}
	if b.vel.Y < -b.phys.MaxFallSpeed {
		b.vel.Y = -b.phys.MaxFallSpeed
	}
	friction := b.phys.AirFriction
	if b.onGround {
		friction = b.phys.GroundFriction
	}
	b.vel.X *= friction
	b.vel.Z *= friction
}

// move translates box along axis by up to d. A clipped move snaps the box
// onto the contact face so resting positions stay exact.
func (b *Body) move(box aabb, axis int, d float64) (aabb, float64) {
	got, face, hit := b.clip(box, axis, d)
	if !hit {
		return box.translate(axis, got), got
	}
	size := box.max[axis] - box.min[axis]
	if d > 0 {
		box.max[axis] = face
		box.min[axis] = face - size
	} else {
		box.min[axis] = face
		box.max[axis] = face + size
	}
	return box, got
}

func (b *Body) refreshMedium() {
	feet := voxel.CellOf(b.pos)
	below := voxel.CellOf(voxel.Vec3{X: b.pos.X, Y: b.pos.Y - climbProbe, Z: b.pos.Z})
	fb := b.world.BlockAt(feet)
	b.inFluid = fb.Fluid == voxel.FluidWater
	b.climbing = fb.Climbable || b.world.BlockAt(below).Climbable
}

type aabb struct {
	min [3]float64
	max [3]float64
}

func (a aabb) translate(axis int, d float64) aabb {
	a.min[axis] += d
	a.max[axis] += d
	return a
}

func (b *Body) box() aabb {
	half := b.shape.Width / 2
	return aabb{
		min: [3]float64{b.pos.X - half, b.pos.Y, b.pos.Z - half},
		max: [3]float64{b.pos.X + half, b.pos.Y + b.shape.Height, b.pos.Z + half},
	}
}

// blockBoxes appends the collision boxes of every cell touching the region.
func (b *Body) blockBoxes(region aabb, out []aabb) []aabb {
	lo := voxel.Cell{
		X: int(math.Floor(region.min[0])),
		Y: int(math.Floor(region.min[1])) - 1,
		Z: int(math.Floor(region.min[2])),
	}
	hi := voxel.Cell{
		X: int(math.Floor(region.max[0])),
		Y: int(math.Floor(region.max[1])),
		Z: int(math.Floor(region.max[2])),
	}
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				blk := b.world.BlockAt(voxel.Cell{X: x, Y: y, Z: z})
				if !blk.HasCollision() {
					continue
				}
				out = append(out, aabb{
					min: [3]float64{float64(x), float64(y) + blk.MinY, float64(z)},
					max: [3]float64{float64(x + 1), float64(y) + blk.MaxY, float64(z + 1)},
				})
			}
		}
	}
	return out
}

// clip shortens a move of d along axis so box does not enter any block box
// it is not already overlapping. face is the contact coordinate when hit.
func (b *Body) clip(box aabb, axis int, d float64) (got, face float64, hit bool) {
	if d == 0 {
		return 0, 0, false
	}
	region := box
	if d > 0 {
		region.max[axis] += d
	} else {
		region.min[axis] += d
	}
	var buf [32]aabb
	for _, o := range b.blockBoxes(region, buf[:0]) {
		if !overlapsOther(box, o, axis) {
			continue
		}
		if d > 0 && o.min[axis] >= box.max[axis]-clipEpsilon {
			if lim := math.Max(0, o.min[axis]-box.max[axis]); lim < d {
				d, face, hit = lim, o.min[axis], true
			}
		} else if d < 0 && o.max[axis] <= box.min[axis]+clipEpsilon {
			if lim := math.Min(0, o.max[axis]-box.min[axis]); lim > d {
				d, face, hit = lim, o.max[axis], true
			}
		}
	}
	return d, face, hit
}

func overlapsOther(a, o aabb, axis int) bool {
	for i := 0; i < 3; i++ {
		if i == axis {
			continue
		}
		if a.max[i] <= o.min[i]+clipEpsilon || a.min[i] >= o.max[i]-clipEpsilon {
			return false
		}
	}
	return true
}

func (b *Body) collides(box aabb) bool {
	var buf [32]aabb
	for _, o := range b.blockBoxes(box, buf[:0]) {
		if overlapsOther(box, o, 1) && box.min[1] < o.max[1]-clipEpsilon && box.max[1] > o.min[1]+clipEpsilon {
			return true
		}
	}
	return false
}
