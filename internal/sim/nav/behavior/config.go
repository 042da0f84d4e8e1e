package behavior

import (
	"errors"
	"time"

	"voxelpath.ai/internal/sim/nav/astar"
	"voxelpath.ai/internal/sim/nav/calc"
	"voxelpath.ai/internal/sim/nav/movement"
)

type Config struct {
	Costs    astar.Costs
	Search   astar.Options
	Movement movement.Params

	MaxNodes int
	MaxTime  time.Duration

	CapturePadding int
	CaptureRadius  int

	// Per-tick capture around the agent and its next waypoints.
	TickCapturePadding int
	TickCaptureRadius  int

	RepathCooldownTicks    int
	StuckTicks             int
	StuckDistance          float64
	MaxConsecutiveFailures int

	FollowRepathDistance float64
	WanderCandidates     int
	WanderProbe          int

	// SubdivideSegment > 0 splits long flat segments.
	SubdivideSegment float64
}

func DefaultConfig() Config {
	return Config{
		Costs:    astar.DefaultCosts(),
		Search:   astar.DefaultOptions(),
		Movement: movement.DefaultParams(),

		MaxNodes: 20000,
		MaxTime:  250 * time.Millisecond,

		CapturePadding: calc.DefaultCapturePadding,
		CaptureRadius:  calc.DefaultCaptureRadius,

		TickCapturePadding: 2,
		TickCaptureRadius:  64,

		RepathCooldownTicks:    10,
		StuckTicks:             40,
		StuckDistance:          0.05,
		MaxConsecutiveFailures: 5,

		FollowRepathDistance: 3,
		WanderCandidates:     8,
		WanderProbe:          3,
	}
}

// Normalize fills zero values with defaults and keeps the movement body in
// sync with the search body.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.Costs == (astar.Costs{}) {
		c.Costs = d.Costs
	}
	if c.Search.Body.Height <= 0 {
		c.Search.Body = d.Search.Body
	}
	if c.Movement.BudgetBase <= 0 && c.Movement.BudgetSlack <= 0 {
		c.Movement = d.Movement
	}
	c.Movement.Body = c.Search.Body
	if c.CapturePadding <= 0 {
		c.CapturePadding = d.CapturePadding
	}
	if c.CaptureRadius <= 0 {
		c.CaptureRadius = d.CaptureRadius
	}
	if c.TickCapturePadding <= 0 {
		c.TickCapturePadding = d.TickCapturePadding
	}
	if c.TickCaptureRadius <= 0 {
		c.TickCaptureRadius = d.TickCaptureRadius
	}
	if c.StuckTicks <= 0 {
		c.StuckTicks = d.StuckTicks
	}
	if c.StuckDistance <= 0 {
		c.StuckDistance = d.StuckDistance
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.FollowRepathDistance <= 0 {
		c.FollowRepathDistance = d.FollowRepathDistance
	}
	if c.WanderCandidates <= 0 {
		c.WanderCandidates = d.WanderCandidates
	}
	if c.WanderProbe < 0 {
		c.WanderProbe = 0
	}
	if c.RepathCooldownTicks < 0 {
		c.RepathCooldownTicks = 0
	}
	return c
}

func (c Config) Validate() error {
	if err := c.Costs.Validate(); err != nil {
		return err
	}
	if c.MaxNodes < 0 || c.MaxTime < 0 {
		return errors.New("search budgets must be non-negative")
	}
	if c.Search.Body.Width <= 0 || c.Search.Body.Height <= 0 {
		return errors.New("body width and height must be positive")
	}
	return nil
}
