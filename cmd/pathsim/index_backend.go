package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"voxelpath.ai/internal/persistence/indexdb"
	"voxelpath.ai/internal/sim/catalogs"
	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	BeginRun(runID, scenario string, cat *catalogs.BlockCatalog, tune tuning.Tuning) error
	Sink(runID string) runner.Sink
	EndRun(runID string, ticks uint64)
	Flush(ctx context.Context) error
	Stats() indexdb.Stats
	Close() error
}

func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "index", "runs.sqlite")
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VP_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(indexPath(dataDir))
	default:
		return nil, fmt.Errorf("unsupported VP_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
