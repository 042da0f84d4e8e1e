package voxel

type Fluid uint8

const (
	FluidNone Fluid = iota
	FluidWater
	FluidLava
)

func (f Fluid) String() string {
	switch f {
	case FluidWater:
		return "water"
	case FluidLava:
		return "lava"
	default:
		return "none"
	}
}

// Block is the per-cell state the world reports. MinY/MaxY bound the collision
// box inside the cell as fractions of its height; MaxY <= MinY means no collision.
// Doors report their closed shape; DoorOpen clears it.
type Block struct {
	MinY      float64
	MaxY      float64
	Fluid     Fluid
	Climbable bool
	Door      bool
	DoorOpen  bool
}

var (
	Air   = Block{}
	Solid = Block{MinY: 0, MaxY: 1}
)

// HasCollision reports whether the block currently blocks movement.
func (b Block) HasCollision() bool {
	if b.Door && b.DoorOpen {
		return false
	}
	return b.MaxY > b.MinY
}

// BlockSource is the synchronous coordinate-indexed query API of the world.
// Implementations are only read from the simulation goroutine.
type BlockSource interface {
	BlockAt(c Cell) Block
}

// BlockSourceFunc adapts a function to BlockSource.
type BlockSourceFunc func(c Cell) Block

func (f BlockSourceFunc) BlockAt(c Cell) Block { return f(c) }
