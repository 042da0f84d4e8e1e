package snapshot

import "math"

// DefaultFootprintEpsilon keeps footprint rounding from flapping when the body
// width lands exactly on a cell boundary.
const DefaultFootprintEpsilon = 0.001

// Body is the collision shape of an agent standing centered in its feet cell.
type Body struct {
	Width        float64
	Height       float64
	CanOpenDoors bool
	Epsilon      float64
}

func DefaultBody() Body {
	return Body{Width: 0.6, Height: 1.8, CanOpenDoors: true, Epsilon: DefaultFootprintEpsilon}
}

// Span returns the inclusive column offset range [lo, hi] covered by the body
// on both horizontal axes.
func (b Body) Span() (lo, hi int) {
	eps := b.Epsilon
	if eps <= 0 {
		eps = DefaultFootprintEpsilon
	}
	half := b.Width / 2
	lo = int(math.Floor(0.5 - half + eps))
	hi = int(math.Floor(0.5 + half - eps))
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Wide reports whether the body covers more than one column.
func (b Body) Wide() bool {
	lo, hi := b.Span()
	return hi > lo
}

// JumpHeight is the headroom a body needs to jump from its cell.
func (b Body) JumpHeight() float64 { return b.Height + 1 }
