package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voxelpath.ai/internal/persistence/archive"
	"voxelpath.ai/internal/persistence/trace"
	"voxelpath.ai/internal/scenario"
	"voxelpath.ai/internal/sim/catalogs"
	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/tuning"
	"voxelpath.ai/internal/transport/observer"
	"voxelpath.ai/internal/transport/ws"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "./configs/scenarios/courtyard.yaml", "scenario file")
		configDir    = flag.String("configs", "./configs", "config directory (blocks.json override)")
		tuningPath   = flag.String("tuning", "", "path to pathing.yaml (default: <configs>/pathing.yaml)")
		dataDir      = flag.String("data", "./data", "runtime data directory")
		maxTicks     = flag.Uint64("ticks", 0, "stop after this many ticks (0: scenario ticks, then until scripts finish)")
		addr         = flag.String("addr", "", "http listen address; empty runs headless as fast as searches allow")
		disableDB    = flag.Bool("disable_db", false, "disable the run index")
		watch        = flag.Bool("watch", false, "reload tuning when the file changes")
		report       = flag.String("report", "", "print the index summary for a run id (or \"list\") and exit")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[pathsim] ", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := signalContext()
	defer cancel()

	if *report != "" {
		if err := runReport(ctx, os.Stdout, *dataDir, strings.TrimSpace(*report)); err != nil {
			logger.Fatalf("report: %v", err)
		}
		return
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "pathing.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		logger.Fatalf("load scenario: %v", err)
	}
	headless := strings.TrimSpace(*addr) == ""
	built, err := scenario.Build(sc, cats, tune, runner.Options{Lockstep: headless}, logger)
	if err != nil {
		logger.Fatalf("build scenario: %v", err)
	}
	r := built.Runner
	runID := built.RunID
	runDir := filepath.Join(*dataDir, "runs", runID)
	logger.Printf("run=%s scenario=%s agents=%d dir=%s", runID, sc.Name, len(r.Agents()), runDir)

	if err := archive.ArchiveInputs(runDir, *scenarioPath, tune, archive.RunMeta{RunID: runID, Scenario: sc.Name}); err != nil {
		logger.Fatalf("archive run inputs: %v", err)
	}
	rec := trace.NewRecorder(runDir, logger)
	r.AddSink(rec.Sink)

	// Optional: read-model index (does not affect the simulation).
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		if err := idx.BeginRun(runID, sc.Name, cats, tune); err != nil {
			logger.Fatalf("index begin run: %v", err)
		}
		r.AddSink(idx.Sink(runID))
	}

	mirror, err := newRunMirror(*dataDir, logger)
	if err != nil {
		logger.Fatalf("run mirror: %v", err)
	}

	metrics := newSimMetrics(sc.Name)
	if idx != nil {
		metrics.indexFn = func() (int, int, uint64) {
			s := idx.Stats()
			return s.QueueDepth, s.QueueCapacity, s.DropEventsTotal + s.DropOtherTotal
		}
	}
	r.AddSink(metrics.Sink)

	limit := *maxTicks
	if limit == 0 && sc.Ticks > 0 {
		limit = uint64(sc.Ticks)
	}
	var stopOnce sync.Once
	if built.Director.Finite() {
		r.AddHook(func(tick uint64) {
			if built.Director.Done() {
				stopOnce.Do(func() {
					logger.Printf("scripts finished at tick %d", tick)
					r.Stop()
				})
			}
		})
	}

	simCtx, simCancel := context.WithCancel(ctx)
	defer simCancel()
	g, gctx := errgroup.WithContext(simCtx)

	// Observer and control sockets read the world copy taken here, before
	// the first tick.
	var srv *http.Server
	if !headless {
		obs := observer.NewServer(r, observer.Info{RunID: runID, Scenario: sc.Name}, logger)
		r.AddSink(obs.Sink)
		srv = &http.Server{
			Addr:              *addr,
			Handler:           newMux(obs, ws.NewServer(r, logger), metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g.Go(func() error {
		defer simCancel()
		var err error
		if headless {
			err = r.RunHeadless(gctx, limit)
		} else {
			err = r.Run(gctx, limit)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if *watch {
		g.Go(func() error {
			logger.Printf("watching %s", tp)
			return tuning.Watch(gctx, tp, func(tu tuning.Tuning, err error) {
				if err != nil {
					logger.Printf("tuning reload: %v", err)
					return
				}
				if !r.Submit(func(r *runner.Runner) { r.ApplyTuning(tu) }) {
					logger.Printf("tuning reload: runner inbox full")
				}
			})
		})
	}

	if srv != nil {
		g.Go(func() error {
			<-gctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			return srv.Shutdown(ctx2)
		})
		g.Go(func() error {
			logger.Printf("listening on %s", *addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Printf("stopped: %v", err)
	}

	ticks := r.Tick()
	if err := rec.Close(); err != nil {
		logger.Printf("trace close: %v", err)
	}
	if err := archive.Finish(runDir, ticks); err != nil {
		logger.Printf("archive finish: %v", err)
	}
	if idx != nil {
		idx.EndRun(runID, ticks)
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		if err := idx.Flush(ctx2); err != nil {
			logger.Printf("index flush: %v", err)
		}
		cancel2()
		_ = idx.Close()
	}

	if mirror != nil {
		uploadRun(mirror, runDir, logger)
	}

	logger.Printf("run=%s ended at tick %d", runID, ticks)
	if *watch {
		logger.Printf("tuning was live-reloadable; replay uses the tuning archived at start")
	}
	writeResults(os.Stdout, built.Director.Results())
	if idx != nil {
		logger.Printf("summary: pathsim -data %s -report %s", *dataDir, runID)
	}
}

func newMux(obs *observer.Server, control *ws.Server, metrics *simMetrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics)
	mux.HandleFunc("/v1/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/observer/ws", obs.WSHandler())
	mux.HandleFunc("/v1/control/ws", loopbackOnly(control.Handler()))
	if envBool("VP_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
