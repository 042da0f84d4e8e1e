// Package scenario loads YAML scenario files: a voxel world built from fill
// and set operations, scripted entities, and agents with goal scripts.
package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/voxel"
)

//go:embed scenario.schema.json
var schemaRaw []byte

const schemaURL = "mem://scenario.schema.json"

type Cell [3]int

func (c Cell) Voxel() voxel.Cell { return voxel.Cell{X: c[0], Y: c[1], Z: c[2]} }

type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Ticks       int      `yaml:"ticks,omitempty"`
	World       World    `yaml:"world"`
	Entities    []Entity `yaml:"entities,omitempty"`
	Agents      []Agent  `yaml:"agents"`
}

type World struct {
	Min Cell `yaml:"min"`
	Max Cell `yaml:"max"`
	Ops []Op `yaml:"ops,omitempty"`
}

type Op struct {
	Fill *FillOp `yaml:"fill,omitempty"`
	Set  *SetOp  `yaml:"set,omitempty"`
}

type FillOp struct {
	From  Cell   `yaml:"from"`
	To    Cell   `yaml:"to"`
	Block string `yaml:"block"`
}

type SetOp struct {
	At    Cell   `yaml:"at"`
	Block string `yaml:"block"`
}

type Entity struct {
	ID    string  `yaml:"id"`
	Route []Cell  `yaml:"route"`
	Speed float64 `yaml:"speed,omitempty"`
	Loop  bool    `yaml:"loop,omitempty"`
}

type Agent struct {
	ID     string    `yaml:"id,omitempty"`
	Spawn  Cell      `yaml:"spawn"`
	Body   *BodySpec `yaml:"body,omitempty"`
	Script *Script   `yaml:"script,omitempty"`
}

type BodySpec struct {
	Width        float64 `yaml:"width,omitempty"`
	Height       float64 `yaml:"height,omitempty"`
	CanOpenDoors *bool   `yaml:"can_open_doors,omitempty"`
}

type Script struct {
	Repeat bool   `yaml:"repeat,omitempty"`
	Steps  []Step `yaml:"steps"`
}

// Step is one goal of a script. Exactly one of the goal fields is set. Ticks
// bounds how long the step may run; Follow and Wander never finish without it.
type Step struct {
	Reach  *Cell       `yaml:"reach,omitempty"`
	Near   *NearStep   `yaml:"near,omitempty"`
	Column *[2]int     `yaml:"column,omitempty"`
	Follow *FollowStep `yaml:"follow,omitempty"`
	Patrol *PatrolStep `yaml:"patrol,omitempty"`
	Wander *WanderStep `yaml:"wander,omitempty"`
	Wait   int         `yaml:"wait,omitempty"`
	Ticks  int         `yaml:"ticks,omitempty"`
}

type NearStep struct {
	At     Cell    `yaml:"at"`
	Radius float64 `yaml:"radius"`
}

type FollowStep struct {
	Entity   string  `yaml:"entity"`
	Distance float64 `yaml:"distance,omitempty"`
}

type PatrolStep struct {
	Points []Cell `yaml:"points"`
	Loop   bool   `yaml:"loop,omitempty"`
}

type WanderStep struct {
	Center Cell    `yaml:"center"`
	Radius float64 `yaml:"radius"`
	Seed   int64   `yaml:"seed,omitempty"`
}

// Goal returns the goal the step sets, or false for a wait step.
func (s Step) Goal() (goal.Goal, bool) {
	switch {
	case s.Reach != nil:
		return goal.ReachBlock(s.Reach.Voxel()), true
	case s.Near != nil:
		return goal.Near(s.Near.At.Voxel(), s.Near.Radius), true
	case s.Column != nil:
		return goal.Column(s.Column[0], s.Column[1]), true
	case s.Follow != nil:
		d := s.Follow.Distance
		if d <= 0 {
			d = 2
		}
		return goal.Follow(s.Follow.Entity, voxel.Cell{}, d), true
	case s.Patrol != nil:
		pts := make([]voxel.Cell, 0, len(s.Patrol.Points))
		for _, p := range s.Patrol.Points {
			pts = append(pts, p.Voxel())
		}
		return goal.Patrol(pts, s.Patrol.Loop), true
	case s.Wander != nil:
		return goal.Wander(s.Wander.Center.Voxel(), s.Wander.Radius, s.Wander.Seed), true
	}
	return goal.Goal{}, false
}

func Load(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse validates raw against the scenario schema, then decodes it.
func Parse(raw []byte) (*Scenario, error) {
	if err := validate(raw); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if err := sc.check(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	return &sc, nil
}

func (sc *Scenario) check() error {
	lo, hi := sc.World.Min.Voxel(), sc.World.Max.Voxel()
	if lo.X > hi.X || lo.Y > hi.Y || lo.Z > hi.Z {
		return errors.New("world: min exceeds max")
	}
	b := voxel.Bounds{Min: lo, Max: hi}
	for i, a := range sc.Agents {
		if !b.Contains(a.Spawn.Voxel()) {
			return fmt.Errorf("agent %d: spawn %v outside the world", i, a.Spawn)
		}
	}
	entities := map[string]bool{}
	for _, e := range sc.Entities {
		entities[e.ID] = true
	}
	for i, a := range sc.Agents {
		if a.Script == nil {
			continue
		}
		for j, s := range a.Script.Steps {
			if s.Follow != nil && !entities[s.Follow.Entity] && !sc.hasAgent(s.Follow.Entity) {
				return fmt.Errorf("agent %d step %d: unknown follow target %q", i, j, s.Follow.Entity)
			}
		}
	}
	return nil
}

func (sc *Scenario) hasAgent(id string) bool {
	for _, a := range sc.Agents {
		if a.ID == id {
			return true
		}
	}
	return false
}

// validate runs the schema over the document as JSON sees it, so YAML
// integers and floats compare the same way.
func validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var jdoc any
	if err := json.Unmarshal(js, &jdoc); err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaRaw)); err != nil {
		return err
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return err
	}
	return schema.Validate(jdoc)
}
