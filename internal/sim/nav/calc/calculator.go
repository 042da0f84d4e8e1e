// Package calc runs path searches on a background worker.
//
// The owner (the simulation goroutine) calls Request, which captures a world
// snapshot synchronously and hands the job to the worker through a one-slot
// mailbox. Results come back on a second one-slot channel that the owner
// drains once per tick; only the result of the latest, uncancelled request is
// ever delivered.
package calc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxelpath.ai/internal/sim/nav/astar"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/snapshot"
	"voxelpath.ai/internal/sim/voxel"
)

const (
	DefaultCapturePadding = 12
	DefaultCaptureRadius  = 48
)

var (
	// ErrSearchPanic wraps a panic recovered on the worker.
	ErrSearchPanic = errors.New("search panicked")
	// ErrClosed is the result of a request made after Close.
	ErrClosed = fmt.Errorf("calculator closed: %w", context.Canceled)
)

type Request struct {
	Goal    goal.Goal
	Start   voxel.Cell
	World   voxel.BlockSource
	Costs   astar.Costs
	Options astar.Options

	MaxNodes int
	MaxTime  time.Duration

	CapturePadding int
	CaptureRadius  int
}

type Result struct {
	JobID uint64
	Goal  goal.Goal
	Start voxel.Cell
	Path  *astar.Path
	Stats astar.Stats
	Err   error
}

type job struct {
	id   uint64
	ctx  context.Context
	req  Request
	snap *snapshot.Snapshot
}

type Calculator struct {
	logger *log.Logger

	jobs    chan job
	results chan Result

	mu      sync.Mutex
	base    context.Context
	nextID  uint64
	current uint64
	live    bool
	cancel  context.CancelFunc

	finished atomic.Uint64
	started  atomic.Bool

	search func(j job) (*astar.Path, astar.Stats, goal.Goal, error)

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func New(logger *log.Logger) *Calculator {
	if logger == nil {
		logger = log.Default()
	}
	c := &Calculator{
		logger:  logger,
		jobs:    make(chan job, 1),
		results: make(chan Result, 1),
		base:    context.Background(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.search = runSearch
	return c
}

// Start launches the worker. Cancelling ctx aborts the running search and
// stops the worker.
func (c *Calculator) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.mu.Lock()
		c.base = ctx
		c.mu.Unlock()
		c.started.Store(true)
		go c.loop(ctx)
	})
}

// Close stops the worker and waits for it to exit.
func (c *Calculator) Close() {
	c.closeOnce.Do(func() {
		c.Cancel()
		close(c.stop)
	})
	if c.started.Load() {
		<-c.done
	}
}

// Request cancels any in-flight job, captures the snapshot on the calling
// goroutine and queues the new search. It returns the job id. Once the
// worker is gone the request fails at once and the error is delivered by
// the next Drain.
func (c *Calculator) Request(req Request) uint64 {
	if err := c.stopped(); err != nil {
		c.mu.Lock()
		id := c.renew(nil)
		c.mu.Unlock()
		sendLatest(c.results, Result{JobID: id, Goal: req.Goal, Start: req.Start, Err: err})
		return id
	}

	target := req.Goal.Target()
	if req.Goal.Kind == goal.KindColumn {
		target.Y = req.Start.Y
	}
	pad, radius := req.CapturePadding, req.CaptureRadius
	if pad <= 0 {
		pad = DefaultCapturePadding
	}
	if radius <= 0 {
		radius = DefaultCaptureRadius
	}
	snap := snapshot.CaptureBetween(req.World, req.Start, target, pad, radius)
	req.World = nil

	c.mu.Lock()
	ctx, cancel := context.WithCancel(c.base)
	id := c.renew(cancel)
	c.mu.Unlock()

	sendLatest(c.jobs, job{id: id, ctx: ctx, req: req, snap: snap})
	return id
}

// renew supersedes the current job with a new live one. c.mu must be held.
func (c *Calculator) renew(cancel context.CancelFunc) uint64 {
	if c.cancel != nil {
		c.cancel()
	}
	c.nextID++
	c.current = c.nextID
	c.live = true
	c.cancel = cancel
	return c.current
}

// stopped reports why the worker can no longer take jobs, or nil.
func (c *Calculator) stopped() error {
	select {
	case <-c.stop:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.base.Err()
}

// Cancel aborts the in-flight job; its result will not be delivered.
func (c *Calculator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.live = false
}

// Busy reports whether a requested result has not been delivered yet.
func (c *Calculator) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Ready reports whether a result is waiting to be drained.
func (c *Calculator) Ready() bool { return len(c.results) > 0 }

// Finished counts jobs the worker has retired, delivered or not.
func (c *Calculator) Finished() uint64 { return c.finished.Load() }

// Drain hands pending results to fn without blocking. Results of superseded
// or cancelled requests are dropped. It returns the number delivered.
func (c *Calculator) Drain(fn func(Result)) int {
	delivered := 0
	for {
		var r Result
		select {
		case r = <-c.results:
		default:
			return delivered
		}
		c.mu.Lock()
		ok := c.live && r.JobID == c.current
		if ok {
			c.live = false
			if c.cancel != nil {
				c.cancel()
				c.cancel = nil
			}
		}
		c.mu.Unlock()
		if ok {
			fn(r)
			delivered++
		}
	}
}

func (c *Calculator) loop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.abandon(ctx.Err())
			return
		case <-c.stop:
			c.abandon(ErrClosed)
			return
		case j := <-c.jobs:
			if j.ctx.Err() != nil {
				c.finished.Add(1)
				continue
			}
			r := c.run(j)
			sendLatest(c.results, r)
			c.finished.Add(1)
		}
	}
}

// abandon answers a job still queued when the worker exits, so a live
// request never waits on a worker that is gone.
func (c *Calculator) abandon(err error) {
	select {
	case j := <-c.jobs:
		sendLatest(c.results, Result{JobID: j.id, Goal: j.req.Goal, Start: j.req.Start, Err: err})
		c.finished.Add(1)
	default:
	}
}

func (c *Calculator) run(j job) (res Result) {
	res = Result{JobID: j.id, Goal: j.req.Goal, Start: j.req.Start}
	defer func() {
		if p := recover(); p != nil {
			c.logger.Printf("[calc] job %d panic: %v", j.id, p)
			res.Path = nil
			res.Err = fmt.Errorf("%w: %v", ErrSearchPanic, p)
		}
	}()
	res.Path, res.Stats, res.Goal, res.Err = c.search(j)
	return res
}

func runSearch(j job) (*astar.Path, astar.Stats, goal.Goal, error) {
	s := astar.New(j.snap, j.req.Goal, j.req.Costs, j.req.Options)
	p, st, err := s.Calculate(j.ctx, j.req.Start, j.req.MaxNodes, j.req.MaxTime)
	return p, st, s.Goal(), err
}

func sendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
