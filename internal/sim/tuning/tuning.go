// Package tuning loads the pathing.yaml knobs shared by the search, the
// movement executor and the behavior.
package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/body"
	"voxelpath.ai/internal/sim/nav/astar"
	"voxelpath.ai/internal/sim/nav/behavior"
	"voxelpath.ai/internal/sim/nav/movement"
	"voxelpath.ai/internal/sim/nav/snapshot"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`
	TickRateHz      int    `yaml:"tick_rate_hz"`

	Search   Search       `yaml:"search"`
	Costs    astar.Costs  `yaml:"costs"`
	Body     Body         `yaml:"body"`
	Physics  body.Physics `yaml:"physics"`
	Movement Movement     `yaml:"movement"`
	Behavior Behavior     `yaml:"behavior"`
}

type Search struct {
	MaxNodes      int  `yaml:"max_nodes"`
	MaxTimeMs     int  `yaml:"max_time_ms"`
	CheckEvery    int  `yaml:"check_every"`
	MaxFall       int  `yaml:"max_fall"`
	Parkour       bool `yaml:"parkour"`
	MaxParkourGap int  `yaml:"max_parkour_gap"`

	CapturePadding     int `yaml:"capture_padding"`
	CaptureRadius      int `yaml:"capture_radius"`
	TickCapturePadding int `yaml:"tick_capture_padding"`
	TickCaptureRadius  int `yaml:"tick_capture_radius"`

	SubdivideSegment float64 `yaml:"subdivide_segment"`
}

type Body struct {
	Width        float64 `yaml:"width"`
	Height       float64 `yaml:"height"`
	CanOpenDoors bool    `yaml:"can_open_doors"`
	Epsilon      float64 `yaml:"footprint_epsilon"`
}

type Movement struct {
	ReachHorizontal    float64 `yaml:"reach_horizontal"`
	ReachVertical      float64 `yaml:"reach_vertical"`
	ParkourEdgeTrigger float64 `yaml:"parkour_edge_trigger"`
	SprintFactor       float64 `yaml:"sprint_factor"`
	DoorRange          float64 `yaml:"door_range"`
	SwimSpeedFactor    float64 `yaml:"swim_speed_factor"`
	ClimbSpeed         float64 `yaml:"climb_speed"`
	BudgetBase         int     `yaml:"budget_base"`
	BudgetSlack        float64 `yaml:"budget_slack"`
}

type Behavior struct {
	RepathCooldownTicks    int     `yaml:"repath_cooldown_ticks"`
	StuckTicks             int     `yaml:"stuck_ticks"`
	StuckDistance          float64 `yaml:"stuck_distance"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures"`
	FollowRepathDistance   float64 `yaml:"follow_repath_distance"`
	WanderCandidates       int     `yaml:"wander_candidates"`
	WanderProbe            int     `yaml:"wander_probe"`
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("pathing.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("pathing.yaml: %w", err)
	}
	return t, nil
}

func Defaults() Tuning {
	cfg := behavior.DefaultConfig()
	mv := movement.DefaultParams()
	b := snapshot.DefaultBody()
	return Tuning{
		ProtocolVersion: protocol.Version,
		TickRateHz:      20,
		Search: Search{
			MaxNodes:           cfg.MaxNodes,
			MaxTimeMs:          int(cfg.MaxTime / time.Millisecond),
			CheckEvery:         cfg.Search.CheckEvery,
			MaxFall:            cfg.Search.MaxFall,
			Parkour:            cfg.Search.Parkour,
			MaxParkourGap:      cfg.Search.MaxParkourGap,
			CapturePadding:     cfg.CapturePadding,
			CaptureRadius:      cfg.CaptureRadius,
			TickCapturePadding: cfg.TickCapturePadding,
			TickCaptureRadius:  cfg.TickCaptureRadius,
		},
		Costs:   astar.DefaultCosts(),
		Body:    Body{Width: b.Width, Height: b.Height, CanOpenDoors: b.CanOpenDoors, Epsilon: b.Epsilon},
		Physics: body.DefaultPhysics(),
		Movement: Movement{
			ReachHorizontal:    mv.ReachHorizontal,
			ReachVertical:      mv.ReachVertical,
			ParkourEdgeTrigger: mv.ParkourEdgeTrigger,
			SprintFactor:       mv.SprintFactor,
			DoorRange:          mv.DoorRange,
			SwimSpeedFactor:    mv.SwimSpeedFactor,
			ClimbSpeed:         mv.ClimbSpeed,
			BudgetBase:         mv.BudgetBase,
			BudgetSlack:        mv.BudgetSlack,
		},
		Behavior: Behavior{
			RepathCooldownTicks:    cfg.RepathCooldownTicks,
			StuckTicks:             cfg.StuckTicks,
			StuckDistance:          cfg.StuckDistance,
			MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
			FollowRepathDistance:   cfg.FollowRepathDistance,
			WanderCandidates:       cfg.WanderCandidates,
			WanderProbe:            cfg.WanderProbe,
		},
	}
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.ProtocolVersion = strings.TrimSpace(t.ProtocolVersion)
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = protocol.Version
	}
	if t.Body.Epsilon <= 0 {
		t.Body.Epsilon = snapshot.DefaultFootprintEpsilon
	}
	if t.Search.CheckEvery <= 0 {
		t.Search.CheckEvery = astar.DefaultOptions().CheckEvery
	}
	if t.Physics.WalkSpeed <= 0 {
		t.Physics.WalkSpeed = body.DefaultPhysics().WalkSpeed
	}
}

func (t Tuning) Validate() error {
	if t.ProtocolVersion != protocol.Version {
		return fmt.Errorf("protocol_version %q not supported (want %q)", t.ProtocolVersion, protocol.Version)
	}
	if t.TickRateHz <= 0 || t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz must be in [1,1000], got %d", t.TickRateHz)
	}
	if t.Search.MaxNodes < 0 || t.Search.MaxTimeMs < 0 {
		return errors.New("search: max_nodes and max_time_ms must be non-negative")
	}
	if t.Search.MaxFall < 1 {
		return errors.New("search: max_fall must be >= 1")
	}
	if t.Search.Parkour && t.Search.MaxParkourGap < 1 {
		return errors.New("search: max_parkour_gap must be >= 1 when parkour is enabled")
	}
	if err := t.Costs.Validate(); err != nil {
		return fmt.Errorf("costs: %w", err)
	}
	if t.Body.Width <= 0 || t.Body.Height <= 0 {
		return errors.New("body: width and height must be positive")
	}
	if t.Movement.ReachHorizontal <= 0 || t.Movement.ReachVertical <= 0 {
		return errors.New("movement: reach thresholds must be positive")
	}
	if t.Movement.BudgetBase <= 0 {
		return errors.New("movement: budget_base must be positive")
	}
	if t.Physics.Gravity < 0 || t.Physics.Drag <= 0 || t.Physics.Drag > 1 {
		return errors.New("physics: gravity must be >= 0 and drag in (0,1]")
	}
	if t.Behavior.StuckTicks <= 0 || t.Behavior.MaxConsecutiveFailures <= 0 {
		return errors.New("behavior: stuck_ticks and max_consecutive_failures must be positive")
	}
	return t.BehaviorConfig().Validate()
}

func (t Tuning) TickDuration() time.Duration {
	if t.TickRateHz <= 0 {
		return 50 * time.Millisecond
	}
	return time.Second / time.Duration(t.TickRateHz)
}

func (t Tuning) BodyShape() snapshot.Body {
	return snapshot.Body{
		Width:        t.Body.Width,
		Height:       t.Body.Height,
		CanOpenDoors: t.Body.CanOpenDoors,
		Epsilon:      t.Body.Epsilon,
	}
}

// BehaviorConfig assembles the per-agent behavior configuration.
func (t Tuning) BehaviorConfig() behavior.Config {
	shape := t.BodyShape()
	return behavior.Config{
		Costs: t.Costs,
		Search: astar.Options{
			Body:          shape,
			MaxFall:       t.Search.MaxFall,
			Parkour:       t.Search.Parkour,
			MaxParkourGap: t.Search.MaxParkourGap,
			CheckEvery:    t.Search.CheckEvery,
		},
		Movement: movement.Params{
			Body:               shape,
			ReachHorizontal:    t.Movement.ReachHorizontal,
			ReachVertical:      t.Movement.ReachVertical,
			ParkourEdgeTrigger: t.Movement.ParkourEdgeTrigger,
			SprintFactor:       t.Movement.SprintFactor,
			DoorRange:          t.Movement.DoorRange,
			SwimSpeedFactor:    t.Movement.SwimSpeedFactor,
			ClimbSpeed:         t.Movement.ClimbSpeed,
			BudgetBase:         t.Movement.BudgetBase,
			BudgetSlack:        t.Movement.BudgetSlack,
		},
		MaxNodes:               t.Search.MaxNodes,
		MaxTime:                time.Duration(t.Search.MaxTimeMs) * time.Millisecond,
		CapturePadding:         t.Search.CapturePadding,
		CaptureRadius:          t.Search.CaptureRadius,
		TickCapturePadding:     t.Search.TickCapturePadding,
		TickCaptureRadius:      t.Search.TickCaptureRadius,
		RepathCooldownTicks:    t.Behavior.RepathCooldownTicks,
		StuckTicks:             t.Behavior.StuckTicks,
		StuckDistance:          t.Behavior.StuckDistance,
		MaxConsecutiveFailures: t.Behavior.MaxConsecutiveFailures,
		FollowRepathDistance:   t.Behavior.FollowRepathDistance,
		WanderCandidates:       t.Behavior.WanderCandidates,
		WanderProbe:            t.Behavior.WanderProbe,
		SubdivideSegment:       t.Search.SubdivideSegment,
	}.Normalize()
}
