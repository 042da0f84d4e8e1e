package astar

import (
	"errors"
	"math"

	"voxelpath.ai/internal/sim/nav/goal"
)

// Costs is the tunable cost table in base units.
type Costs struct {
	Walk          float64 `yaml:"walk"`
	Diagonal      float64 `yaml:"diagonal"`
	StepUp        float64 `yaml:"step_up"`
	StepDown      float64 `yaml:"step_down"`
	FallBase      float64 `yaml:"fall_base"`
	FallPerCell   float64 `yaml:"fall_per_cell"`
	ParkourBase   float64 `yaml:"parkour_base"`
	ParkourPerGap float64 `yaml:"parkour_per_gap"`
	Climb         float64 `yaml:"climb"`
	Swim          float64 `yaml:"swim"`
	WaterPenalty  float64 `yaml:"water_penalty"`
	Door          float64 `yaml:"door"`
}

func DefaultCosts() Costs {
	return Costs{
		Walk:          1.0,
		Diagonal:      math.Sqrt2,
		StepUp:        2.0,
		StepDown:      1.5,
		FallBase:      2.0,
		FallPerCell:   0.5,
		ParkourBase:   3.0,
		ParkourPerGap: 1.0,
		Climb:         1.0,
		Swim:          2.0,
		WaterPenalty:  1.0,
		Door:          1.5,
	}
}

// Fall is the cost of dropping n cells while moving one cell sideways.
func (c Costs) Fall(n int) float64 {
	if n <= 1 {
		return c.StepDown
	}
	return c.FallBase + c.FallPerCell*float64(n-1)
}

func (c Costs) Parkour(gap int) float64 {
	return c.ParkourBase + c.ParkourPerGap*float64(gap)
}

func (c Costs) Validate() error {
	vals := []float64{c.Walk, c.Diagonal, c.StepUp, c.StepDown, c.FallBase, c.Climb, c.Swim, c.Door, c.ParkourBase}
	for _, v := range vals {
		if !(v > 0) || math.IsInf(v, 0) {
			return errors.New("costs must be positive and finite")
		}
	}
	if c.FallPerCell < 0 || c.ParkourPerGap < 0 || c.WaterPenalty < 0 {
		return errors.New("cost increments must not be negative")
	}
	return nil
}

// Metric derives the heuristic weights from the table: the cheapest cost per
// cell of horizontal displacement, then the cheapest per cell of vertical
// displacement left over once the horizontal share is paid. Every move costs
// at least Horizontal*octile(dx,dz) + Vertical*|dy|, which keeps goal
// heuristics admissible for any table.
func (c Costs) Metric(maxFall, maxGap int) goal.Metric {
	h := math.Min(c.Walk, c.Diagonal/math.Sqrt2)
	h = math.Min(h, c.Swim)
	h = math.Min(h, c.Door)
	for g := 1; g <= maxGap; g++ {
		h = math.Min(h, c.Parkour(g)/float64(g+1))
	}
	h = math.Max(0, h)

	v := math.Min(c.Climb, c.Swim)
	v = math.Min(v, c.StepUp-h)
	for n := 1; n <= max(1, maxFall); n++ {
		v = math.Min(v, (c.Fall(n)-h)/float64(n))
	}
	v = math.Max(0, v)
	return goal.Metric{Horizontal: h, Vertical: v}
}
