package astar

import "voxelpath.ai/internal/sim/voxel"

// Node lives in the search arena; Parent and HeapIndex are arena/heap indices
// rather than pointers, so parent chains cannot alias across searches.
type Node struct {
	Cell      voxel.Cell
	G         float64
	H         float64
	Parent    int32
	HeapIndex int32
	Move      MoveKind
}

func (n *Node) F() float64 { return n.G + n.H }

// OpenSet is a binary min-heap of arena indices ordered by (f, h). Each node
// carries its heap position so Update and Contains are O(log n) and O(1).
type OpenSet struct {
	nodes *[]Node
	heap  []int32
}

func NewOpenSet(nodes *[]Node) *OpenSet {
	return &OpenSet{nodes: nodes, heap: make([]int32, 0, 256)}
}

func (o *OpenSet) Len() int { return len(o.heap) }

func (o *OpenSet) Contains(i int32) bool { return (*o.nodes)[i].HeapIndex >= 0 }

func (o *OpenSet) Insert(i int32) {
	(*o.nodes)[i].HeapIndex = int32(len(o.heap))
	o.heap = append(o.heap, i)
	o.up(len(o.heap) - 1)
}

// PeekMin returns the minimum without removing it.
func (o *OpenSet) PeekMin() (int32, bool) {
	if len(o.heap) == 0 {
		return -1, false
	}
	return o.heap[0], true
}

func (o *OpenSet) PollMin() int32 {
	top := o.heap[0]
	last := len(o.heap) - 1
	o.swap(0, last)
	o.heap = o.heap[:last]
	if last > 0 {
		o.down(0)
	}
	(*o.nodes)[top].HeapIndex = -1
	return top
}

// Update restores heap order after node i's key changed in either direction.
func (o *OpenSet) Update(i int32) {
	pos := int((*o.nodes)[i].HeapIndex)
	if pos < 0 {
		return
	}
	if !o.up(pos) {
		o.down(pos)
	}
}

func (o *OpenSet) Reset() {
	for _, i := range o.heap {
		(*o.nodes)[i].HeapIndex = -1
	}
	o.heap = o.heap[:0]
}

func (o *OpenSet) less(a, b int32) bool {
	na, nb := &(*o.nodes)[a], &(*o.nodes)[b]
	fa, fb := na.G+na.H, nb.G+nb.H
	if fa != fb {
		return fa < fb
	}
	return na.H < nb.H
}

func (o *OpenSet) swap(i, j int) {
	o.heap[i], o.heap[j] = o.heap[j], o.heap[i]
	(*o.nodes)[o.heap[i]].HeapIndex = int32(i)
	(*o.nodes)[o.heap[j]].HeapIndex = int32(j)
}

func (o *OpenSet) up(pos int) bool {
	moved := false
	for pos > 0 {
		parent := (pos - 1) / 2
		if !o.less(o.heap[pos], o.heap[parent]) {
			break
		}
		o.swap(pos, parent)
		pos = parent
		moved = true
	}
	return moved
}

func (o *OpenSet) down(pos int) {
	n := len(o.heap)
	for {
		l := 2*pos + 1
		if l >= n {
			return
		}
		smallest := l
		if r := l + 1; r < n && o.less(o.heap[r], o.heap[l]) {
			smallest = r
		}
		if !o.less(o.heap[smallest], o.heap[pos]) {
			return
		}
		o.swap(pos, smallest)
		pos = smallest
	}
}
