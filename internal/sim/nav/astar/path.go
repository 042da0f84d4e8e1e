package astar

import (
	"time"

	"voxelpath.ai/internal/sim/voxel"
)

// MoveKind names the locomotion primitive that connects two path cells.
type MoveKind uint8

const (
	MoveStart MoveKind = iota
	MoveTraverse
	MoveDiagonal
	MoveAscend
	MoveDescend
	MoveFall
	MoveParkour
	MovePillar
	MoveSwim
	MoveDoor
)

var moveNames = [...]string{"START", "TRAVERSE", "DIAGONAL", "ASCEND", "DESCEND", "FALL", "PARKOUR", "PILLAR", "SWIM", "DOOR"}

func (k MoveKind) String() string {
	if int(k) < len(moveNames) {
		return moveNames[k]
	}
	return "UNKNOWN"
}

// Flat reports whether the move keeps the agent on the same level with plain
// walking, which is what line-of-sight compression may merge.
func (k MoveKind) Flat() bool { return k == MoveTraverse || k == MoveDiagonal }

type Outcome uint8

const (
	OutcomeComplete Outcome = iota + 1
	OutcomeCutoffExhausted
	OutcomeCutoffBudget
	OutcomeNoPath
	OutcomeUnreachable
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "COMPLETE"
	case OutcomeCutoffExhausted:
		return "CUTOFF_EXHAUSTED"
	case OutcomeCutoffBudget:
		return "CUTOFF_BUDGET"
	case OutcomeNoPath:
		return "NO_PATH"
	case OutcomeUnreachable:
		return "UNREACHABLE"
	case OutcomeCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Path is a cell route from the search start. Moves[i] connects Cells[i] to
// Cells[i+1]. A Path with Complete=false ends at the closest approach and
// never satisfies the goal.
type Path struct {
	Cells    []voxel.Cell
	Moves    []MoveKind
	Cost     float64
	Complete bool
	Outcome  Outcome
}

func (p *Path) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Cells)
}

func (p *Path) Start() voxel.Cell { return p.Cells[0] }
func (p *Path) End() voxel.Cell   { return p.Cells[len(p.Cells)-1] }

type Stats struct {
	Expanded  int
	Generated int
	OpenLeft  int
	Elapsed   time.Duration
	Outcome   Outcome
}
