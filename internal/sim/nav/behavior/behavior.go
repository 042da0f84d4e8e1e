// Package behavior is the per-agent pathing orchestrator. The caller drives it
// once per simulation tick: it owns the goal, keeps at most one search in
// flight, feeds results through the smoother into a movement executor, and
// re-plans on failure or when a dynamic goal moves.
package behavior

import (
	"context"
	"errors"
	"fmt"
	"log"

	"voxelpath.ai/internal/protocol"
	"voxelpath.ai/internal/sim/nav/astar"
	"voxelpath.ai/internal/sim/nav/calc"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/movement"
	"voxelpath.ai/internal/sim/nav/smooth"
	"voxelpath.ai/internal/sim/nav/snapshot"
	"voxelpath.ai/internal/sim/voxel"
)

var (
	ErrStuck        = errors.New("agent stuck")
	ErrCouldNotPath = errors.New("could not path")
	ErrBadGoal      = errors.New("invalid goal")
)

type State uint8

const (
	StateIdle State = iota
	StateCalculating
	StateMoving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCalculating:
		return "CALCULATING"
	case StateMoving:
		return "MOVING"
	default:
		return "UNKNOWN"
	}
}

// EntityLocator resolves follow targets.
type EntityLocator interface {
	Locate(id string) (voxel.Vec3, bool)
}

type Option func(*Behavior)

func WithLogger(l *log.Logger) Option { return func(b *Behavior) { b.logger = l } }

func WithListener(fn Listener) Option { return func(b *Behavior) { b.listener = fn } }

func WithEntityLocator(l EntityLocator) Option { return func(b *Behavior) { b.locator = l } }

// WithCalculator shares an existing calculator instead of owning one.
func WithCalculator(c *calc.Calculator) Option {
	return func(b *Behavior) {
		b.calc = c
		b.ownsCalc = false
	}
}

type Behavior struct {
	cfg      Config
	world    voxel.BlockSource
	agent    movement.Agent
	logger   *log.Logger
	listener Listener
	locator  EntityLocator

	calc     *calc.Calculator
	ownsCalc bool

	state   State
	goal    goal.Goal
	hasGoal bool
	job     uint64

	path *smooth.Path
	exec *movement.Executor

	cooldown    int
	failures    int
	lastPartial voxel.Cell
	hadPartial  bool
	err         error

	followAnchor voxel.Cell

	stuckAnchor voxel.Vec3
	stuckTicks  int
}

func New(cfg Config, world voxel.BlockSource, agent movement.Agent, opts ...Option) *Behavior {
	b := &Behavior{
		cfg:      cfg.Normalize(),
		world:    world,
		agent:    agent,
		ownsCalc: true,
	}
	for _, o := range opts {
		o(b)
	}
	if b.logger == nil {
		b.logger = log.Default()
	}
	if b.calc == nil {
		b.calc = calc.New(b.logger)
		b.ownsCalc = true
	}
	return b
}

// Start launches the owned calculator worker.
func (b *Behavior) Start(ctx context.Context) {
	if b.ownsCalc {
		b.calc.Start(ctx)
	}
}

// Close stops the owned calculator worker.
func (b *Behavior) Close() {
	if b.ownsCalc {
		b.calc.Close()
	}
}

func (b *Behavior) State() State        { return b.state }
func (b *Behavior) Err() error          { return b.err }
func (b *Behavior) IsActive() bool      { return b.hasGoal }
func (b *Behavior) IsCalculating() bool { return b.state == StateCalculating }
func (b *Behavior) IsMoving() bool      { return b.state == StateMoving }
func (b *Behavior) Failures() int       { return b.failures }
func (b *Behavior) Config() Config      { return b.cfg }

func (b *Behavior) CurrentPath() *smooth.Path { return b.path }

// SearchPending reports a search in flight whose result has not arrived yet.
func (b *Behavior) SearchPending() bool {
	return b.state == StateCalculating && !b.calc.Ready()
}

// WaypointIndex is the waypoint the executor is heading to, or 0 when idle.
func (b *Behavior) WaypointIndex() int {
	if b.exec == nil {
		return 0
	}
	return b.exec.WaypointIndex()
}

// SetConfig replaces the tuning. It applies from the next search.
func (b *Behavior) SetConfig(cfg Config) { b.cfg = cfg.Normalize() }

func (b *Behavior) CurrentGoal() (goal.Goal, bool) { return b.goal, b.hasGoal }

// Progress is the completed fraction of the current path.
func (b *Behavior) Progress() float64 {
	if b.exec == nil {
		return 0
	}
	return b.exec.Progress()
}

// CurrentMovement is the movement being executed, or nil.
func (b *Behavior) CurrentMovement() *movement.Movement {
	if b.exec == nil {
		return nil
	}
	return b.exec.Current()
}

// SetGoal replaces the goal and starts a search right away.
func (b *Behavior) SetGoal(g goal.Goal) error {
	switch g.Kind {
	case goal.KindPatrol:
		if len(g.Waypoints) == 0 {
			return fmt.Errorf("%w: patrol without waypoints", ErrBadGoal)
		}
	case goal.KindFollow:
		if g.EntityID == "" {
			return fmt.Errorf("%w: follow without entity", ErrBadGoal)
		}
		pos, ok := b.locateEntity(g.EntityID)
		if !ok {
			return fmt.Errorf("%w: unknown entity %q", ErrBadGoal, g.EntityID)
		}
		g = g.WithTarget(voxel.CellOf(pos))
	}

	b.halt()
	b.goal = g
	b.hasGoal = true
	b.failures = 0
	b.hadPartial = false
	b.err = nil
	b.cooldown = 0

	if g.Kind == goal.KindWander {
		b.goal = b.pickWanderTarget(b.goal)
	}
	b.emit(Event{Type: protocol.EventGoalSet, Goal: b.goal, Cell: b.agentCell()})
	b.requestPath()
	return nil
}

// Stop cancels the search and the executor and drops the goal.
func (b *Behavior) Stop() {
	if !b.hasGoal && b.state == StateIdle {
		return
	}
	g := b.goal
	b.halt()
	b.hasGoal = false
	b.emit(Event{Type: protocol.EventStopped, Goal: g, Cell: b.agentCell(), Err: context.Canceled})
}

func (b *Behavior) halt() {
	b.calc.Cancel()
	if b.exec != nil {
		b.exec.Cancel()
	}
	b.state = StateIdle
	b.halted()
}

func (b *Behavior) halted() {
	v := b.agent.Velocity()
	b.agent.SetVelocity(voxel.Vec3{Y: v.Y})
}

// Tick runs one simulation tick: deliver search results, count down the
// re-path cooldown, re-plan dynamic goals, then advance the executor.
func (b *Behavior) Tick() {
	b.calc.Drain(b.onResult)
	if b.cooldown > 0 {
		b.cooldown--
	}
	if !b.hasGoal {
		return
	}
	if b.goal.Kind == goal.KindFollow {
		b.checkFollow()
	}

	switch b.state {
	case StateIdle:
		if b.cooldown == 0 {
			b.requestPath()
		}
	case StateMoving:
		b.stepExecutor()
	}
}

func (b *Behavior) requestPath() {
	start := b.agentCell()
	if b.goal.IsSatisfied(start) && b.holdsAtGoal() {
		return
	}
	if b.goal.Kind == goal.KindFollow {
		b.followAnchor = b.goal.Target()
	}
	b.exec = nil
	b.path = nil
	b.halted()
	b.job = b.calc.Request(calc.Request{
		Goal:           b.goal.WithMetric(b.cfg.Costs.Metric(b.cfg.Search.MaxFall, b.cfg.Search.MaxParkourGap)),
		Start:          start,
		World:          b.world,
		Costs:          b.cfg.Costs,
		Options:        b.cfg.Search,
		MaxNodes:       b.cfg.MaxNodes,
		MaxTime:        b.cfg.MaxTime,
		CapturePadding: b.cfg.CapturePadding,
		CaptureRadius:  b.cfg.CaptureRadius,
	})
	b.state = StateCalculating
	b.emit(Event{Type: protocol.EventSearchStarted, Goal: b.goal, JobID: b.job, Cell: start})
}

// holdsAtGoal reports whether a satisfied goal keeps the agent in place
// rather than finishing.
func (b *Behavior) holdsAtGoal() bool {
	return b.goal.Kind == goal.KindFollow
}

func (b *Behavior) onResult(r calc.Result) {
	if b.state != StateCalculating || r.JobID != b.job {
		return
	}
	if r.Err != nil {
		if errors.Is(r.Err, context.Canceled) {
			b.state = StateIdle
			return
		}
		b.emit(Event{Type: protocol.EventSearchFailed, Code: Code(r.Err), Goal: b.goal, JobID: r.JobID,
			Err: r.Err, Cell: r.Start, Expanded: r.Stats.Expanded})
		if b.goal.Kind == goal.KindWander {
			b.goal = b.pickWanderTarget(b.goal)
		}
		b.fail(r.Err)
		return
	}

	sp := smooth.Smooth(r.Path, b.tickTerrain(r.Path.Cells...), b.cfg.Search.Body)
	if b.cfg.SubdivideSegment > 0 {
		sp = smooth.Subdivide(sp, b.cfg.SubdivideSegment)
	}
	typ := protocol.EventPathFound
	if !r.Path.Complete {
		typ = protocol.EventPathPartial
	}
	b.emit(Event{Type: typ, Goal: b.goal, JobID: r.JobID, Cell: r.Path.End(), Cost: r.Path.Cost,
		Expanded: r.Stats.Expanded, Points: sp.Len()})

	b.path = sp
	b.exec = movement.NewExecutor(sp, b.cfg.Movement)
	b.state = StateMoving
	b.stuckAnchor = b.agent.Position()
	b.stuckTicks = 0
}

func (b *Behavior) stepExecutor() {
	idx := b.exec.WaypointIndex()
	cells := []voxel.Cell{b.agentCell()}
	for i := idx; i < idx+3 && i < b.path.Len(); i++ {
		cells = append(cells, b.path.Waypoints[i].Cell)
	}
	st := b.exec.Tick(b.agent, b.tickTerrain(cells...))
	if st == movement.StatusRunning {
		b.checkStuck()
		st = b.exec.Status()
	}

	switch st {
	case movement.StatusSuccess:
		b.onPathDone()
	case movement.StatusFailed:
		err := b.exec.Err()
		b.emit(Event{Type: protocol.EventMovementFailed, Code: Code(err), Goal: b.goal, JobID: b.job,
			Err: err, Cell: b.agentCell(), Failures: b.failures + 1})
		b.exec = nil
		b.halted()
		b.fail(err)
	case movement.StatusCanceled:
		b.state = StateIdle
		b.exec = nil
	}
}

func (b *Behavior) checkStuck() {
	m := b.exec.Current()
	if m == nil || m.State() != movement.StateRunning {
		b.stuckAnchor = b.agent.Position()
		b.stuckTicks = 0
		return
	}
	pos := b.agent.Position()
	if pos.Sub(b.stuckAnchor).Len() > b.cfg.StuckDistance {
		b.stuckAnchor = pos
		b.stuckTicks = 0
		return
	}
	b.stuckTicks++
	if b.stuckTicks >= b.cfg.StuckTicks {
		b.exec.Fail(fmt.Errorf("%w: no progress for %d ticks at %s", ErrStuck, b.stuckTicks, voxel.CellOf(pos)))
	}
}

func (b *Behavior) onPathDone() {
	here := b.agentCell()
	b.state = StateIdle
	b.halted()

	if !b.goal.IsSatisfied(here) {
		// Partial path: re-plan from where it ended. Ending in the same cell
		// twice counts as a failure.
		if b.hadPartial && b.lastPartial == here {
			b.fail(fmt.Errorf("%w: partial path made no progress", astar.ErrNoPath))
			return
		}
		b.hadPartial = true
		b.lastPartial = here
		b.requestPath()
		return
	}
	b.failures = 0
	b.hadPartial = false

	switch b.goal.Kind {
	case goal.KindFollow:
		// Hold until the target moves away.
	case goal.KindPatrol:
		next, ok := b.goal.Advance()
		if !ok {
			b.finish(here)
			return
		}
		b.goal = next
		b.emit(Event{Type: protocol.EventGoalAdvanced, Goal: b.goal, Cell: here})
		b.requestPath()
	case goal.KindWander:
		b.goal = b.pickWanderTarget(b.goal)
		b.emit(Event{Type: protocol.EventGoalAdvanced, Goal: b.goal, Cell: here})
		b.requestPath()
	default:
		b.finish(here)
	}
}

func (b *Behavior) finish(here voxel.Cell) {
	b.emit(Event{Type: protocol.EventGoalReached, Goal: b.goal, Cell: here})
	b.hasGoal = false
}

// fail counts a failed attempt and backs off, or gives up once the limit is
// reached.
func (b *Behavior) fail(err error) {
	b.failures++
	b.state = StateIdle
	if b.failures >= b.cfg.MaxConsecutiveFailures {
		b.err = fmt.Errorf("%w after %d attempts: %w", ErrCouldNotPath, b.failures, err)
		b.logger.Printf("[behavior] give up on %s: %v", b.goal, b.err)
		b.emit(Event{Type: protocol.EventGaveUp, Code: protocol.ErrCouldNotPath, Goal: b.goal, Err: b.err,
			Cell: b.agentCell(), Failures: b.failures})
		b.hasGoal = false
		return
	}
	b.cooldown = b.cfg.RepathCooldownTicks
}

// checkFollow re-plans once the followed entity has moved farther than the
// threshold from where the last search aimed.
func (b *Behavior) checkFollow() {
	pos, ok := b.locate()
	if !ok {
		return
	}
	target := voxel.CellOf(pos)
	b.goal = b.goal.WithTarget(target)
	if b.state == StateIdle {
		return
	}
	d := target.Sub(b.followAnchor)
	moved := d.X*d.X + d.Y*d.Y + d.Z*d.Z
	if float64(moved) <= b.cfg.FollowRepathDistance*b.cfg.FollowRepathDistance {
		return
	}
	if !b.agent.OnGround() {
		return
	}
	if b.exec != nil {
		b.exec.Cancel()
	}
	b.requestPath()
}

func (b *Behavior) locate() (voxel.Vec3, bool) { return b.locateEntity(b.goal.EntityID) }

func (b *Behavior) locateEntity(id string) (voxel.Vec3, bool) {
	if b.locator == nil {
		return voxel.Vec3{}, false
	}
	return b.locator.Locate(id)
}

// pickWanderTarget draws candidates until one is standable, probing a few
// cells up and down from the wander center height.
func (b *Behavior) pickWanderTarget(g goal.Goal) goal.Goal {
	body := b.cfg.Search.Body
	probe := b.cfg.WanderProbe
	for n := 0; n < b.cfg.WanderCandidates; n++ {
		c := g.NextWanderCandidate(n)
		snap := snapshot.Capture(b.world, c, probe+2)
		for dy := 0; dy <= probe; dy++ {
			for _, y := range [2]int{c.Y + dy, c.Y - dy} {
				cand := voxel.Cell{X: c.X, Y: y, Z: c.Z}
				if snap.CanStand(cand, body) && !snap.IsWater(cand) {
					return g.WithWanderTarget(cand)
				}
			}
		}
	}
	return g.WithWanderTarget(g.Center)
}

// tickTerrain captures the box spanning cells on the simulation goroutine.
func (b *Behavior) tickTerrain(cells ...voxel.Cell) *snapshot.Snapshot {
	lo, hi := cells[0], cells[0]
	for _, c := range cells[1:] {
		lo = voxel.Cell{X: min(lo.X, c.X), Y: min(lo.Y, c.Y), Z: min(lo.Z, c.Z)}
		hi = voxel.Cell{X: max(hi.X, c.X), Y: max(hi.Y, c.Y), Z: max(hi.Z, c.Z)}
	}
	return snapshot.CaptureBetween(b.world, lo, hi, b.cfg.TickCapturePadding, b.cfg.TickCaptureRadius)
}

func (b *Behavior) agentCell() voxel.Cell { return voxel.CellOf(b.agent.Position()) }

func (b *Behavior) emit(e Event) {
	if b.listener != nil {
		b.listener(e)
	}
}
