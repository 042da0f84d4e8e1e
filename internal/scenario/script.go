package scenario

import (
	"fmt"

	bt "github.com/joeycumines/go-behaviortree"

	"voxelpath.ai/internal/sim/nav/behavior"
	"voxelpath.ai/internal/sim/nav/goal"
)

// Director ticks each agent's goal script once per simulation tick.
type Director struct {
	scripts []*script
}

type script struct {
	agentID string
	tree    bt.Node
	repeat  bool

	runs   int
	done   bool
	status bt.Status
	err    error
}

type ScriptResult struct {
	AgentID string
	Status  string
	Runs    int
	Err     error
}

// Add compiles steps into a memorized sequence driving nav.
func (d *Director) Add(agentID string, nav *behavior.Behavior, s Script) {
	children := make([]bt.Node, 0, len(s.Steps))
	for _, st := range s.Steps {
		if g, ok := st.Goal(); ok {
			children = append(children, goalLeaf(nav, g, st.Ticks))
			continue
		}
		children = append(children, waitLeaf(st.Wait))
	}
	d.scripts = append(d.scripts, &script{
		agentID: agentID,
		tree:    bt.New(bt.Memorize(bt.Sequence), children...),
		repeat:  s.Repeat,
	})
}

// Tick is a runner hook.
func (d *Director) Tick(uint64) {
	for _, s := range d.scripts {
		if s.done {
			continue
		}
		st, err := s.tree.Tick()
		if err != nil {
			s.done, s.status, s.err = true, bt.Failure, err
			continue
		}
		if st == bt.Running {
			continue
		}
		s.runs++
		s.status = st
		if !s.repeat {
			s.done = true
		}
	}
}

// Done reports whether every non-repeating script has finished.
func (d *Director) Done() bool {
	for _, s := range d.scripts {
		if !s.done && !s.repeat {
			return false
		}
	}
	return true
}

// Finite reports whether any script ends on its own.
func (d *Director) Finite() bool {
	for _, s := range d.scripts {
		if !s.repeat {
			return true
		}
	}
	return false
}

func (d *Director) Results() []ScriptResult {
	out := make([]ScriptResult, 0, len(d.scripts))
	for _, s := range d.scripts {
		status := "RUNNING"
		if s.done || s.runs > 0 {
			status = statusName(s.status)
		}
		out = append(out, ScriptResult{AgentID: s.agentID, Status: status, Runs: s.runs, Err: s.err})
	}
	return out
}

// goalLeaf sets g on its first tick and then reports the behavior's outcome:
// success once the goal is done, failure once the behavior gives up. A
// positive limit stops the goal and succeeds after that many ticks.
func goalLeaf(nav *behavior.Behavior, g goal.Goal, limit int) bt.Node {
	var (
		started bool
		ticks   int
	)
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if !started {
			if err := nav.SetGoal(g); err != nil {
				return bt.Failure, fmt.Errorf("set goal %s: %w", g, err)
			}
			started, ticks = true, 0
			return bt.Running, nil
		}
		ticks++
		switch {
		case nav.Err() != nil:
			started = false
			return bt.Failure, nil
		case !nav.IsActive():
			started = false
			return bt.Success, nil
		case limit > 0 && ticks >= limit:
			nav.Stop()
			started = false
			return bt.Success, nil
		}
		return bt.Running, nil
	})
}

func waitLeaf(n int) bt.Node {
	left := n
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if left <= 1 {
			left = n
			return bt.Success, nil
		}
		left--
		return bt.Running, nil
	})
}

func statusName(s bt.Status) string {
	switch s {
	case bt.Success:
		return "SUCCESS"
	case bt.Failure:
		return "FAILURE"
	default:
		return "RUNNING"
	}
}
