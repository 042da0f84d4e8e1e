package main

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"voxelpath.ai/internal/sim/runner"
)

// simMetrics is fed by a runner sink and read by /metrics.
type simMetrics struct {
	scenario string

	mu      sync.Mutex
	tick    uint64
	agents  int
	states  map[string]int
	events  map[string]uint64
	codes   map[string]uint64
	indexFn func() (depth, capacity int, drops uint64)
}

func newSimMetrics(scenario string) *simMetrics {
	return &simMetrics{
		scenario: scenario,
		states:   map[string]int{},
		events:   map[string]uint64{},
		codes:    map[string]uint64{},
	}
}

func (m *simMetrics) Sink(s runner.TickSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tick = s.Tick
	m.agents = len(s.Agents)
	for k := range m.states {
		m.states[k] = 0
	}
	for _, a := range s.Agents {
		m.states[a.State]++
	}
	for _, e := range s.Events {
		m.events[e.Type]++
		if e.Code != "" {
			m.codes[e.Code]++
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *simMetrics) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m.mu.Lock()
	defer m.mu.Unlock()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP voxelpath_tick Current simulation tick.\n")
	fmt.Fprintf(rw, "# TYPE voxelpath_tick gauge\n")
	fmt.Fprintf(rw, "voxelpath_tick{scenario=%q} %d\n", m.scenario, m.tick)
	fmt.Fprintf(rw, "# HELP voxelpath_agents Agents in the simulation.\n")
	fmt.Fprintf(rw, "# TYPE voxelpath_agents gauge\n")
	fmt.Fprintf(rw, "voxelpath_agents{scenario=%q} %d\n", m.scenario, m.agents)
	fmt.Fprintf(rw, "# HELP voxelpath_agents_state Agents per behavior state.\n")
	fmt.Fprintf(rw, "# TYPE voxelpath_agents_state gauge\n")
	for _, k := range sortedKeys(m.states) {
		fmt.Fprintf(rw, "voxelpath_agents_state{scenario=%q,state=%q} %d\n", m.scenario, k, m.states[k])
	}
	fmt.Fprintf(rw, "# HELP voxelpath_events_total Pathing events by type.\n")
	fmt.Fprintf(rw, "# TYPE voxelpath_events_total counter\n")
	for _, k := range sortedKeys(m.events) {
		fmt.Fprintf(rw, "voxelpath_events_total{scenario=%q,type=%q} %d\n", m.scenario, k, m.events[k])
	}
	fmt.Fprintf(rw, "# HELP voxelpath_errors_total Pathing events by error code.\n")
	fmt.Fprintf(rw, "# TYPE voxelpath_errors_total counter\n")
	for _, k := range sortedKeys(m.codes) {
		fmt.Fprintf(rw, "voxelpath_errors_total{scenario=%q,code=%q} %d\n", m.scenario, k, m.codes[k])
	}
	if m.indexFn != nil {
		depth, capacity, drops := m.indexFn()
		fmt.Fprintf(rw, "# HELP voxelpath_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE voxelpath_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "voxelpath_index_queue_depth %d\n", depth)
		fmt.Fprintf(rw, "# HELP voxelpath_index_queue_capacity Index writer queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE voxelpath_index_queue_capacity gauge\n")
		fmt.Fprintf(rw, "voxelpath_index_queue_capacity %d\n", capacity)
		fmt.Fprintf(rw, "# HELP voxelpath_index_dropped_total Index batches dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE voxelpath_index_dropped_total counter\n")
		fmt.Fprintf(rw, "voxelpath_index_dropped_total %d\n", drops)
	}
}
