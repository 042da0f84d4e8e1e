// Package runner owns a voxel store, its agents and scripted entities, and
// advances them on a fixed-rate tick.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/body"
	"voxelpath.ai/internal/sim/catalogs"
	"voxelpath.ai/internal/sim/nav/behavior"
	"voxelpath.ai/internal/sim/nav/snapshot"
	"voxelpath.ai/internal/sim/tuning"
	"voxelpath.ai/internal/sim/voxel"
)

var ErrDuplicateID = errors.New("duplicate id")

type Agent struct {
	ID   string
	Body *body.Body
	Nav  *behavior.Behavior
}

type AgentSpec struct {
	ID    string
	Spawn voxel.Cell
	// Shape overrides the tuning body when Height > 0.
	Shape snapshot.Body
}

// Entity is a scripted mover that agents can follow. It walks its route at a
// constant speed.
type Entity struct {
	ID    string
	Route []voxel.Vec3
	Speed float64
	Loop  bool

	pos  voxel.Vec3
	next int
}

type EntitySpec struct {
	ID    string
	Route []voxel.Cell
	Speed float64
	Loop  bool
}

func (e *Entity) Position() voxel.Vec3 { return e.pos }

func (e *Entity) step() {
	if e.next >= len(e.Route) {
		if !e.Loop || len(e.Route) < 2 {
			return
		}
		e.next = 0
	}
	to := e.Route[e.next]
	d := to.Sub(e.pos)
	dist := d.Len()
	if dist <= e.Speed {
		e.pos = to
		e.next++
		return
	}
	e.pos = e.pos.Add(d.Scale(e.Speed / dist))
}

// Sink receives one snapshot per tick on the simulation goroutine.
type Sink func(TickSnapshot)

// Hook runs at the start of each tick, before the agents.
type Hook func(tick uint64)

type Options struct {
	// Lockstep waits for in-flight searches before each tick so headless
	// runs are reproducible.
	Lockstep    bool
	SearchGrace time.Duration
}

type Runner struct {
	store   *voxel.ChunkStore
	catalog *catalogs.BlockCatalog
	tuning  tuning.Tuning
	opts    Options
	logger  *log.Logger

	agents   []*Agent
	byID     map[string]*Agent
	entities []*Entity

	hooks []Hook
	sinks []Sink

	ctx     context.Context
	started bool

	tick    atomic.Uint64
	pending []protocol.Event
	changes []BlockChange

	inbox chan func(*Runner)
	stop  chan struct{}
}

func New(store *voxel.ChunkStore, catalog *catalogs.BlockCatalog, tu tuning.Tuning, opts Options, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	if opts.SearchGrace <= 0 {
		opts.SearchGrace = time.Duration(tu.Search.MaxTimeMs)*time.Millisecond + 2*time.Second
	}
	return &Runner{
		store:   store,
		catalog: catalog,
		tuning:  tu,
		opts:    opts,
		logger:  logger,
		byID:    map[string]*Agent{},
		inbox:   make(chan func(*Runner), 64),
		stop:    make(chan struct{}),
	}
}

func (r *Runner) Store() *voxel.ChunkStore         { return r.store }
func (r *Runner) Catalog() *catalogs.BlockCatalog { return r.catalog }
func (r *Runner) Tuning() tuning.Tuning           { return r.tuning }
func (r *Runner) Tick() uint64                    { return r.tick.Load() }
func (r *Runner) Agents() []*Agent                { return r.agents }
func (r *Runner) Entities() []*Entity             { return r.entities }

func (r *Runner) Agent(id string) (*Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

func (r *Runner) AddSink(s Sink) { r.sinks = append(r.sinks, s) }
func (r *Runner) AddHook(h Hook) { r.hooks = append(r.hooks, h) }

// AddAgent spawns a body at the center of spec.Spawn. An empty id gets a
// random one.
func (r *Runner) AddAgent(spec AgentSpec) (*Agent, error) {
	id := spec.ID
	if id == "" {
		id = "A-" + uuid.NewString()[:8]
	}
	if r.taken(id) {
		return nil, fmt.Errorf("agent %s: %w", id, ErrDuplicateID)
	}
	if !r.store.InBounds(spec.Spawn) {
		return nil, fmt.Errorf("agent %s: spawn %s out of bounds", id, spec.Spawn)
	}
	cfg := r.tuning.BehaviorConfig()
	shape := cfg.Search.Body
	if spec.Shape.Height > 0 {
		shape = spec.Shape
		cfg.Search.Body = shape
		cfg = cfg.Normalize()
	}
	a := &Agent{ID: id}
	a.Body = body.New(r.store, r, shape, r.tuning.Physics, spec.Spawn.Center())
	a.Nav = behavior.New(cfg, r.store, a.Body,
		behavior.WithLogger(r.logger),
		behavior.WithEntityLocator(r),
		behavior.WithListener(func(e behavior.Event) {
			r.pending = append(r.pending, e.Wire(r.tick.Load(), id))
		}),
	)
	if r.started {
		a.Nav.Start(r.ctx)
	}
	r.agents = append(r.agents, a)
	sort.Slice(r.agents, func(i, j int) bool { return r.agents[i].ID < r.agents[j].ID })
	r.byID[id] = a
	return a, nil
}

func (r *Runner) AddEntity(spec EntitySpec) (*Entity, error) {
	if spec.ID == "" {
		return nil, errors.New("entity id required")
	}
	if r.taken(spec.ID) {
		return nil, fmt.Errorf("entity %s: %w", spec.ID, ErrDuplicateID)
	}
	if len(spec.Route) == 0 {
		return nil, fmt.Errorf("entity %s: empty route", spec.ID)
	}
	e := &Entity{ID: spec.ID, Speed: spec.Speed, Loop: spec.Loop}
	for _, c := range spec.Route {
		e.Route = append(e.Route, c.Center())
	}
	e.pos = e.Route[0]
	e.next = 1
	r.entities = append(r.entities, e)
	return e, nil
}

func (r *Runner) taken(id string) bool {
	if _, ok := r.byID[id]; ok {
		return true
	}
	for _, e := range r.entities {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Locate resolves entities first, then agents.
func (r *Runner) Locate(id string) (voxel.Vec3, bool) {
	for _, e := range r.entities {
		if e.ID == id {
			return e.pos, true
		}
	}
	if a, ok := r.byID[id]; ok {
		return a.Body.Position(), true
	}
	return voxel.Vec3{}, false
}

// ToggleDoor flips the door at c to its paired palette id.
func (r *Runner) ToggleDoor(c voxel.Cell) bool {
	from := r.store.Get(c)
	to, ok := r.catalog.DoorToggle(from)
	if !ok {
		return false
	}
	if !r.store.Swap(c, from, to) {
		return false
	}
	r.changes = append(r.changes, BlockChange{Pos: c, From: from, To: to})
	return true
}

// Start launches the agents' search workers.
func (r *Runner) Start(ctx context.Context) {
	if r.started {
		return
	}
	r.ctx = ctx
	r.started = true
	for _, a := range r.agents {
		a.Nav.Start(ctx)
	}
}

func (r *Runner) Close() {
	for _, a := range r.agents {
		a.Nav.Stop()
		a.Nav.Close()
	}
}

// Submit queues fn to run on the simulation goroutine at the next tick
// boundary.
func (r *Runner) Submit(fn func(*Runner)) bool {
	select {
	case r.inbox <- fn:
		return true
	default:
		return false
	}
}

// ApplyTuning swaps the tuning. Behaviors pick it up on their next search.
func (r *Runner) ApplyTuning(tu tuning.Tuning) {
	r.tuning = tu
	cfg := tu.BehaviorConfig()
	for _, a := range r.agents {
		c := cfg
		c.Search.Body = a.Body.Shape()
		a.Nav.SetConfig(c)
	}
	r.logger.Printf("[runner] tuning applied at tick %d", r.tick.Load())
}

func (r *Runner) Stop() { close(r.stop) }

// Run ticks at the tuning rate until ctx is done, Stop is called, or
// maxTicks ticks have run (0 means no limit).
func (r *Runner) Run(ctx context.Context, maxTicks uint64) error {
	r.Start(ctx)
	defer r.Close()

	ticker := time.NewTicker(r.tuning.TickDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case <-ticker.C:
			r.StepOnce()
			if maxTicks > 0 && r.tick.Load() >= maxTicks {
				return nil
			}
		}
	}
}

// RunHeadless steps as fast as searches allow.
func (r *Runner) RunHeadless(ctx context.Context, maxTicks uint64) error {
	r.Start(ctx)
	defer r.Close()
	for maxTicks == 0 || r.tick.Load() < maxTicks {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-r.stop:
			return nil
		default:
		}
		r.StepOnce()
	}
	return nil
}

// StepOnce advances one tick: queued commands, hooks, entities, then each
// agent's behavior and body in id order.
func (r *Runner) StepOnce() TickSnapshot {
	r.drainInbox()
	if r.opts.Lockstep {
		r.awaitSearches()
	}
	now := r.tick.Load()
	for _, h := range r.hooks {
		h(now)
	}
	for _, e := range r.entities {
		e.step()
	}
	for _, a := range r.agents {
		a.Nav.Tick()
		a.Body.Step()
	}

	snap := r.snapshot(now)
	r.pending = nil
	r.changes = nil
	for _, s := range r.sinks {
		s(snap)
	}
	r.tick.Add(1)
	return snap
}

func (r *Runner) drainInbox() {
	for {
		select {
		case fn := <-r.inbox:
			fn(r)
		default:
			return
		}
	}
}

func (r *Runner) awaitSearches() {
	deadline := time.Now().Add(r.opts.SearchGrace)
	for _, a := range r.agents {
		for a.Nav.SearchPending() {
			if time.Now().After(deadline) {
				r.logger.Printf("[runner] tick %d: search for %s still pending after %s", r.tick.Load(), a.ID, r.opts.SearchGrace)
				return
			}
			time.Sleep(200 * time.Microsecond)
		}
	}
}
