package scenario

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"voxelpath.ai/internal/sim/catalogs"
	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/tuning"
	"voxelpath.ai/internal/sim/voxel"
)

const defaultEntitySpeed = 0.1

type Built struct {
	RunID    string
	Scenario *Scenario
	Runner   *runner.Runner
	Director *Director
}

// Build creates the world, entities and agents, and hooks the goal scripts
// into the runner.
func Build(sc *Scenario, cat *catalogs.BlockCatalog, tu tuning.Tuning, opts runner.Options, logger *log.Logger) (*Built, error) {
	store := voxel.NewChunkStore(voxel.Bounds{Min: sc.World.Min.Voxel(), Max: sc.World.Max.Voxel()}, cat.Blocks())
	for i, op := range sc.World.Ops {
		switch {
		case op.Fill != nil:
			id, ok := cat.ID(op.Fill.Block)
			if !ok {
				return nil, fmt.Errorf("scenario %s: op %d: unknown block %s", sc.Name, i, op.Fill.Block)
			}
			store.Fill(op.Fill.From.Voxel(), op.Fill.To.Voxel(), id)
		case op.Set != nil:
			id, ok := cat.ID(op.Set.Block)
			if !ok {
				return nil, fmt.Errorf("scenario %s: op %d: unknown block %s", sc.Name, i, op.Set.Block)
			}
			store.Set(op.Set.At.Voxel(), id)
		}
	}

	r := runner.New(store, cat, tu, opts, logger)
	for _, e := range sc.Entities {
		route := make([]voxel.Cell, 0, len(e.Route))
		for _, c := range e.Route {
			route = append(route, c.Voxel())
		}
		speed := e.Speed
		if speed <= 0 {
			speed = defaultEntitySpeed
		}
		if _, err := r.AddEntity(runner.EntitySpec{ID: e.ID, Route: route, Speed: speed, Loop: e.Loop}); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
		}
	}

	d := &Director{}
	for i, a := range sc.Agents {
		spec := runner.AgentSpec{ID: a.ID, Spawn: a.Spawn.Voxel()}
		if a.Body != nil {
			shape := tu.BodyShape()
			if a.Body.Width > 0 {
				shape.Width = a.Body.Width
			}
			if a.Body.Height > 0 {
				shape.Height = a.Body.Height
			}
			if a.Body.CanOpenDoors != nil {
				shape.CanOpenDoors = *a.Body.CanOpenDoors
			}
			spec.Shape = shape
		}
		agent, err := r.AddAgent(spec)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: agent %d: %w", sc.Name, i, err)
		}
		if a.Script != nil {
			d.Add(agent.ID, agent.Nav, *a.Script)
		}
	}
	r.AddHook(d.Tick)

	return &Built{RunID: uuid.NewString(), Scenario: sc, Runner: r, Director: d}, nil
}
