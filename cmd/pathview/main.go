// Command pathview runs a scenario in real time and draws a top-down slice
// around one agent in the terminal.
//
// Keys: tab/shift-tab focus the next/previous agent, [ and ] move the layer
// down/up, space pauses, . steps one tick while paused, esc or q quits.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gdamore/tcell/v2"

	"voxelpath.ai/internal/scenario"
	"voxelpath.ai/internal/sim/catalogs"
	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/tuning"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "./configs/scenarios/courtyard.yaml", "scenario file")
		configDir    = flag.String("configs", "./configs", "config directory")
		tuningPath   = flag.String("tuning", "", "path to pathing.yaml (default: <configs>/pathing.yaml)")
		logPath      = flag.String("log", "", "write logs to this file (default: discard)")
	)
	flag.Parse()

	var logOut io.Writer = io.Discard
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
	}
	logger := log.New(logOut, "[pathview] ", log.LstdFlags|log.Lmicroseconds)

	r, err := load(*scenarioPath, *configDir, *tuningPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer screen.Fini()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	defer r.Close()

	run(screen, r)
}

func load(scenarioPath, configDir, tuningPath string, logger *log.Logger) (*runner.Runner, error) {
	cats, err := catalogs.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load catalogs: %w", err)
	}
	if tuningPath == "" {
		tuningPath = filepath.Join(configDir, "pathing.yaml")
	}
	tune, err := tuning.Load(tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load tuning: %w", err)
		}
		tune = tuning.Defaults()
	}
	sc, err := scenario.Load(scenarioPath)
	if err != nil {
		return nil, err
	}
	built, err := scenario.Build(sc, cats, tune, runner.Options{}, logger)
	if err != nil {
		return nil, err
	}
	return built.Runner, nil
}

// run steps the simulation and redraws on the same goroutine, so the
// renderer may read the store directly.
func run(screen tcell.Screen, r *runner.Runner) {
	ticker := time.NewTicker(r.Tuning().TickDuration())
	defer ticker.Stop()

	eventChan := make(chan tcell.Event, 100)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			eventChan <- ev
		}
	}()

	v := &view{}
	snap := r.StepOnce()
	v.draw(screen, r.Store(), snap)
	screen.Show()
	for {
		select {
		case ev := <-eventChan:
			step, quit := v.handle(ev, len(snap.Agents))
			if quit {
				return
			}
			if step {
				snap = r.StepOnce()
			}
			if _, ok := ev.(*tcell.EventResize); ok {
				screen.Sync()
			}
		case <-ticker.C:
			if !v.paused {
				snap = r.StepOnce()
			}
		}
		v.draw(screen, r.Store(), snap)
		screen.Show()
	}
}

// handle applies a key press. It reports whether to single-step and whether
// to quit.
func (v *view) handle(ev tcell.Event, agents int) (step, quit bool) {
	key, ok := ev.(*tcell.EventKey)
	if !ok {
		return false, false
	}
	switch key.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return false, true
	case tcell.KeyTab:
		if agents > 0 {
			v.focus = (v.focus + 1) % agents
		}
		v.offset = 0
	case tcell.KeyBacktab:
		if agents > 0 {
			v.focus = (v.focus + agents - 1) % agents
		}
		v.offset = 0
	case tcell.KeyRune:
		switch key.Rune() {
		case 'q':
			return false, true
		case ' ':
			v.paused = !v.paused
		case '.':
			return v.paused, false
		case '[':
			v.offset--
		case ']':
			v.offset++
		}
	}
	return false, false
}
