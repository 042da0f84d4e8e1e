// Command pathadmin inspects recorded runs and a running pathsim.
//
//	pathadmin [list] -data ./data
//	pathadmin events -run data/runs/<id> [-agent A1] [-type GAVE_UP] [-code E_STUCK] [-aabb x1,y1,z1:x2,y2,z2]
//	pathadmin state -url http://127.0.0.1:8080
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"voxelpath.ai/internal/persistence/archive"
	"voxelpath.ai/internal/persistence/trace"
	"voxelpath.ai/internal/protocol"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "list":
			listCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	if err := listRuns(os.Stdout, *dataDir); err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
}

// listRuns prints one line per run directory, newest first.
func listRuns(w io.Writer, dataDir string) error {
	entries, err := os.ReadDir(filepath.Join(dataDir, "runs"))
	if err != nil {
		return err
	}
	type row struct {
		id   string
		meta archive.RunMeta
		err  error
	}
	var rows []row
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := archive.ReadMeta(filepath.Join(dataDir, "runs", e.Name()))
		rows = append(rows, row{id: e.Name(), meta: meta, err: err})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].meta.CreatedAt > rows[j].meta.CreatedAt })
	for _, r := range rows {
		switch {
		case errors.Is(r.err, os.ErrNotExist):
			fmt.Fprintf(w, "%s  (no meta.json)\n", r.id)
		case r.err != nil:
			fmt.Fprintf(w, "%s  (bad meta.json: %v)\n", r.id, r.err)
		case r.meta.Ended:
			fmt.Fprintf(w, "%s  %-16s ended tick=%d  %s\n", r.id, r.meta.Scenario, r.meta.EndTick, r.meta.CreatedAt)
		default:
			fmt.Fprintf(w, "%s  %-16s running  %s\n", r.id, r.meta.Scenario, r.meta.CreatedAt)
		}
	}
	return nil
}

type eventFilter struct {
	agent, typ, code string
	aabb             bool
	min, max         [3]int
	limit            int
}

func (f eventFilter) match(e protocol.Event) bool {
	if f.agent != "" && e.AgentID != f.agent {
		return false
	}
	if f.typ != "" && e.Type != f.typ {
		return false
	}
	if f.code != "" && e.Code != f.code {
		return false
	}
	if f.aabb && (e.Pos == nil || !withinAABB(*e.Pos, f.min, f.max)) {
		return false
	}
	return true
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	runDir := fs.String("run", "", "run directory (required)")
	agent := fs.String("agent", "", "agent id filter")
	typ := fs.String("type", "", "event type filter")
	code := fs.String("code", "", "error code filter")
	aabb := fs.String("aabb", "", "position filter: x1,y1,z1:x2,y2,z2")
	limit := fs.Int("limit", 0, "print at most this many events (0: all)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*runDir) == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}
	f := eventFilter{agent: *agent, typ: strings.ToUpper(*typ), code: strings.ToUpper(*code), limit: *limit}
	if strings.TrimSpace(*aabb) != "" {
		min, max, err := parseAABB(*aabb)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -aabb:", err)
			os.Exit(2)
		}
		f.aabb, f.min, f.max = true, min, max
	}
	if err := printEvents(os.Stdout, *runDir, f); err != nil {
		fmt.Fprintln(os.Stderr, "events:", err)
		os.Exit(1)
	}
}

func printEvents(w io.Writer, runDir string, f eventFilter) error {
	events, err := trace.ReadEvents(runDir)
	if err != nil {
		return err
	}
	n := 0
	for _, e := range events {
		if !f.match(e) {
			continue
		}
		line := fmt.Sprintf("%6d %-4s %-16s", e.Tick, e.AgentID, e.Type)
		if e.Goal != "" {
			line += " " + e.Goal
		}
		if e.Pos != nil {
			line += fmt.Sprintf(" at %d,%d,%d", e.Pos[0], e.Pos[1], e.Pos[2])
		}
		if e.Code != "" {
			line += " " + e.Code
		}
		if e.Expanded > 0 {
			line += fmt.Sprintf(" expanded=%d", e.Expanded)
		}
		fmt.Fprintln(w, line)
		n++
		if f.limit > 0 && n >= f.limit {
			break
		}
	}
	fmt.Fprintf(w, "%d of %d events\n", n, len(events))
	return nil
}

func withinAABB(pos [3]int, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}

func parseAABB(s string) (min, max [3]int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		min[i], max[i] = a[i], b[i]
		if min[i] > max[i] {
			min[i], max[i] = max[i], min[i]
		}
	}
	return min, max, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z: %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return v, fmt.Errorf("bad coordinate %q", p)
		}
		v[i] = n
	}
	return v, nil
}
