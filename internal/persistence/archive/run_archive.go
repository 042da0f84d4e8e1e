// Package archive keeps the inputs of a run next to its traces so the run
// can be replayed later.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"voxelpath.ai/internal/sim/tuning"
)

const (
	metaFile     = "meta.json"
	scenarioFile = "scenario.yaml"
	tuningFile   = "pathing.yaml"
)

type RunMeta struct {
	RunID           string `json:"run_id"`
	Scenario        string `json:"scenario"`
	ProtocolVersion string `json:"protocol_version"`
	ScenarioFile    string `json:"scenario_file"`
	TuningFile      string `json:"tuning_file"`
	CreatedAt       string `json:"created_at"`
	EndTick         uint64 `json:"end_tick,omitempty"`
	Ended           bool   `json:"ended"`
}

// ArchiveInputs copies the scenario file into runDir, writes the effective
// tuning beside it and records meta.json.
func ArchiveInputs(runDir, scenarioPath string, tu tuning.Tuning, meta RunMeta) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	if err := copyFile(scenarioPath, filepath.Join(runDir, scenarioFile)); err != nil {
		return fmt.Errorf("archive scenario: %w", err)
	}
	raw, err := yaml.Marshal(tu)
	if err != nil {
		return fmt.Errorf("archive tuning: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, tuningFile), raw, 0o644); err != nil {
		return fmt.Errorf("archive tuning: %w", err)
	}
	meta.ScenarioFile = scenarioFile
	meta.TuningFile = tuningFile
	if meta.ProtocolVersion == "" {
		meta.ProtocolVersion = tu.ProtocolVersion
	}
	if meta.CreatedAt == "" {
		meta.CreatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return writeMeta(runDir, meta)
}

// Finish marks the run ended at endTick.
func Finish(runDir string, endTick uint64) error {
	meta, err := ReadMeta(runDir)
	if err != nil {
		return err
	}
	meta.EndTick = endTick
	meta.Ended = true
	return writeMeta(runDir, meta)
}

func ReadMeta(runDir string) (RunMeta, error) {
	var meta RunMeta
	raw, err := os.ReadFile(filepath.Join(runDir, metaFile))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("%s: %w", metaFile, err)
	}
	return meta, nil
}

// Inputs returns the archived scenario and tuning paths of a run.
func Inputs(runDir string) (scenarioPath, tuningPath string, meta RunMeta, err error) {
	meta, err = ReadMeta(runDir)
	if err != nil {
		return "", "", meta, err
	}
	return filepath.Join(runDir, meta.ScenarioFile), filepath.Join(runDir, meta.TuningFile), meta, nil
}

func writeMeta(runDir string, meta RunMeta) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(runDir, metaFile+".tmp")
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(runDir, metaFile))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
