/*
Versioned checkpoint directories.

	<root>/v0001/agent.json     weights and schedules
	<root>/v0001/metrics.json   training metrics (episode rewards, losses)
	<root>/v0001/manifest.json  kind, dimensions and parameters needed to rebuild the agent

A version directory is written under a temporary name and renamed into place, so a reader
never sees a partial checkpoint. Replay buffers are not persisted.
*/

package rl

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/elys-network/lpadvisor/internal/types"
)

const (
	ManifestFile = "manifest.json"
	MetricsFile  = "metrics.json"
)

// Manifest describes one checkpoint version.
type Manifest struct {
	Version   int                `json:"version"`
	Kind      Kind               `json:"kind"`
	StateDim  int                `json:"state_dim"`
	ActionDim int                `json:"action_dim"`
	Params    types.RLParameters `json:"params"`
	Episodes  int                `json:"episodes"`
	CreatedAt time.Time          `json:"created_at"`
}

// TrainingMetrics is the training record stored next to the weights.
type TrainingMetrics struct {
	Episodes       int       `json:"episodes"`
	EpisodeRewards []float64 `json:"episode_rewards"`
	Losses         []float64 `json:"losses"`
	FinalEpsilon   float64   `json:"final_epsilon,omitempty"`
	EvalMeanReward float64   `json:"eval_mean_reward"`
	EvalMeanReturn float64   `json:"eval_mean_return"` // Final portfolio value over initial cash, minus 1
}

// VersionDir returns the directory of a version under root.
func VersionDir(root string, version int) string {
	return filepath.Join(root, fmt.Sprintf("v%04d", version))
}

// ListVersions returns the checkpoint versions under root in ascending order. A missing
// root has no versions.
func ListVersions(root string) ([]int, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints in %s: %w", root, err)
	}

	var versions []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "v") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "v"))
		if err != nil || v <= 0 {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), ManifestFile)); err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// LatestVersion returns the highest version under root, or 0 if there is none.
func LatestVersion(root string) (int, error) {
	versions, err := ListVersions(root)
	if err != nil || len(versions) == 0 {
		return 0, err
	}
	return versions[len(versions)-1], nil
}

// SaveCheckpoint writes agent and metrics as the next version under root.
func SaveCheckpoint(root string, agent Agent, params types.RLParameters, metrics TrainingMetrics) (Manifest, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("failed to create checkpoint root %s: %w", root, err)
	}
	latest, err := LatestVersion(root)
	if err != nil {
		return Manifest{}, err
	}

	manifest := Manifest{
		Version:   latest + 1,
		Kind:      agent.Kind(),
		StateDim:  agent.StateDim(),
		ActionDim: agent.ActionDim(),
		Params:    params,
		Episodes:  agent.Episodes(),
		CreatedAt: time.Now().UTC(),
	}

	tmp, err := os.MkdirTemp(root, ".tmp-")
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := agent.Save(tmp); err != nil {
		return Manifest{}, err
	}
	if err := writeJSON(filepath.Join(tmp, MetricsFile), metrics); err != nil {
		return Manifest{}, err
	}
	if err := writeJSON(filepath.Join(tmp, ManifestFile), manifest); err != nil {
		return Manifest{}, err
	}

	dst := VersionDir(root, manifest.Version)
	if err := os.Rename(tmp, dst); err != nil {
		return Manifest{}, fmt.Errorf("failed to publish checkpoint %s: %w", dst, err)
	}

	rlLogger.Info().
		Str("dir", dst).
		Str("kind", string(manifest.Kind)).
		Int("episodes", manifest.Episodes).
		Msg("Checkpoint saved")
	return manifest, nil
}

// ReadManifest reads a version's manifest. version 0 means the latest.
func ReadManifest(root string, version int) (Manifest, error) {
	if version == 0 {
		latest, err := LatestVersion(root)
		if err != nil {
			return Manifest{}, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
		}
		if latest == 0 {
			return Manifest{}, fmt.Errorf("%w: no checkpoints in %s", ErrModelUnavailable, root)
		}
		version = latest
	}

	var m Manifest
	if err := readJSON(filepath.Join(VersionDir(root, version), ManifestFile), &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	m.Version = version
	return m, nil
}

// ReadMetrics reads a version's training metrics. version 0 means the latest.
func ReadMetrics(root string, version int) (TrainingMetrics, error) {
	m, err := ReadManifest(root, version)
	if err != nil {
		return TrainingMetrics{}, err
	}
	var metrics TrainingMetrics
	if err := readJSON(filepath.Join(VersionDir(root, m.Version), MetricsFile), &metrics); err != nil {
		return TrainingMetrics{}, err
	}
	return metrics, nil
}

// LoadCheckpoint rebuilds the agent stored in a version. version 0 means the latest.
// Every failure wraps ErrModelUnavailable.
func LoadCheckpoint(root string, version int, seed int64) (Agent, Manifest, error) {
	m, err := ReadManifest(root, version)
	if err != nil {
		return nil, Manifest{}, err
	}
	agent, err := NewAgent(m.Kind, m.StateDim, m.ActionDim, m.Params, seed)
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if err := agent.Load(VersionDir(root, m.Version)); err != nil {
		return nil, Manifest{}, err
	}
	return agent, m, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupt %s: %w", path, err)
	}
	return nil
}
