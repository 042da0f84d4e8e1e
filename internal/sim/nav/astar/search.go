// Package astar runs single-shot A* over a world snapshot.
//
// Nodes are kept in an arena slice and addressed by int32 index; a map from
// packed cell to index finds existing nodes. The open set is a binary heap of
// arena indices ordered by f with ties broken toward lower h. A node is only
// relaxed on a strict g improvement, so parent chains never form cycles.
package astar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/snapshot"
	"voxelpath.ai/internal/sim/voxel"
)

var (
	// ErrUnreachable means the goal failed its reachability precheck and no
	// search was run.
	ErrUnreachable = errors.New("goal unreachable")
	// ErrNoPath means the start had no legal moves at all.
	ErrNoPath = errors.New("no path")
)

type Search struct {
	snap  *snapshot.Snapshot
	goal  goal.Goal
	costs Costs
	opts  Options

	nodes []Node
	index map[uint64]int32
	open  *OpenSet
	moves []Move
}

// New prepares a search. The goal is frozen with heuristic weights derived
// from costs.
func New(snap *snapshot.Snapshot, g goal.Goal, costs Costs, opts Options) *Search {
	opts = opts.normalized()
	s := &Search{
		snap:  snap,
		goal:  g.WithMetric(costs.Metric(opts.MaxFall, opts.MaxParkourGap)),
		costs: costs,
		opts:  opts,
		index: make(map[uint64]int32, 1024),
		moves: make([]Move, 0, 32),
	}
	s.open = NewOpenSet(&s.nodes)
	return s
}

func (s *Search) Goal() goal.Goal { return s.goal }

// Calculate searches from start. maxNodes bounds expansions and maxTime bounds
// wall-clock time; both are checked, together with ctx, every CheckEvery
// expansions. A budget or exhausted open set yields the best partial path
// with Complete=false.
func (s *Search) Calculate(ctx context.Context, start voxel.Cell, maxNodes int, maxTime time.Duration) (*Path, Stats, error) {
	began := time.Now()
	var st Stats
	finish := func(o Outcome) Stats {
		st.Outcome = o
		st.Elapsed = time.Since(began)
		st.OpenLeft = s.open.Len()
		st.Generated = len(s.nodes)
		return st
	}

	if err := ctx.Err(); err != nil {
		return nil, finish(OutcomeCancelled), fmt.Errorf("search cancelled: %w", err)
	}
	if !s.goal.Reachable(s.snap) {
		return nil, finish(OutcomeUnreachable), ErrUnreachable
	}

	var deadline time.Time
	if maxTime > 0 {
		deadline = began.Add(maxTime)
	}

	root := s.addNode(start, 0, -1, MoveStart)
	s.open.Insert(root)
	best := root

	outcome := OutcomeCutoffExhausted
	for s.open.Len() > 0 {
		cur := s.open.PollMin()
		curCell, curG := s.nodes[cur].Cell, s.nodes[cur].G
		if s.goal.IsSatisfied(curCell) {
			return s.reconstruct(cur, true, OutcomeComplete), finish(OutcomeComplete), nil
		}

		st.Expanded++
		if st.Expanded%s.opts.CheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, finish(OutcomeCancelled), fmt.Errorf("search cancelled after %d expansions: %w", st.Expanded, err)
			}
			if (maxNodes > 0 && st.Expanded >= maxNodes) || (!deadline.IsZero() && time.Now().After(deadline)) {
				outcome = OutcomeCutoffBudget
				break
			}
		}

		s.moves = s.successors(curCell, s.moves[:0])
		for _, m := range s.moves {
			ng := curG + m.Cost
			key := voxel.Pack(m.Dest)
			idx, seen := s.index[key]
			if !seen {
				idx = s.addNode(m.Dest, ng, cur, m.Kind)
				s.open.Insert(idx)
				if s.better(idx, best) {
					best = idx
				}
				continue
			}
			n := &s.nodes[idx]
			if ng >= n.G {
				continue
			}
			n.G = ng
			n.Parent = cur
			n.Move = m.Kind
			if s.open.Contains(idx) {
				s.open.Update(idx)
			} else {
				s.open.Insert(idx)
			}
			if s.better(idx, best) {
				best = idx
			}
		}
	}

	if len(s.nodes) == 1 {
		return nil, finish(OutcomeNoPath), ErrNoPath
	}
	return s.reconstruct(best, false, outcome), finish(outcome), nil
}

func (s *Search) addNode(c voxel.Cell, g float64, parent int32, kind MoveKind) int32 {
	idx := int32(len(s.nodes))
	s.nodes = append(s.nodes, Node{
		Cell:      c,
		G:         g,
		H:         s.goal.Heuristic(c),
		Parent:    parent,
		HeapIndex: -1,
		Move:      kind,
	})
	s.index[voxel.Pack(c)] = idx
	return idx
}

// better orders partial-path candidates by heuristic, then cost.
func (s *Search) better(a, b int32) bool {
	na, nb := &s.nodes[a], &s.nodes[b]
	if na.H != nb.H {
		return na.H < nb.H
	}
	return na.G < nb.G
}

func (s *Search) reconstruct(end int32, complete bool, o Outcome) *Path {
	n := 0
	for i := end; i >= 0; i = s.nodes[i].Parent {
		n++
	}
	p := &Path{
		Cells:    make([]voxel.Cell, n),
		Moves:    make([]MoveKind, n-1),
		Cost:     s.nodes[end].G,
		Complete: complete,
		Outcome:  o,
	}
	i := end
	for k := n - 1; k >= 0; k-- {
		node := &s.nodes[i]
		p.Cells[k] = node.Cell
		if k > 0 {
			p.Moves[k-1] = node.Move
		}
		i = node.Parent
	}
	return p
}
