package rl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/elys-network/lpadvisor/internal/types"
)

// AgentFile is the weights file inside a checkpoint directory.
const AgentFile = "agent.json"

// agentSnapshot is the serialized form of either agent. Networks an agent does not use are nil.
type agentSnapshot struct {
	Kind      Kind               `json:"kind"`
	StateDim  int                `json:"state_dim"`
	ActionDim int                `json:"action_dim"`
	Params    types.RLParameters `json:"params"`
	Episodes  int                `json:"episodes"`
	Updates   int                `json:"updates"`
	Epsilon   float64            `json:"epsilon,omitempty"`
	Online    *MLP               `json:"online,omitempty"`
	Target    *MLP               `json:"target,omitempty"`
	Actor     *MLP               `json:"actor,omitempty"`
	Critic    *MLP               `json:"critic,omitempty"`
}

func writeSnapshot(dir string, snap agentSnapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory %s: %w", dir, err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode %s agent: %w", snap.Kind, err)
	}
	path := filepath.Join(dir, AgentFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// readSnapshot loads and checks a snapshot against the expected kind and dimensions.
// Every failure wraps ErrModelUnavailable.
func readSnapshot(dir string, kind Kind, stateDim, actionDim int) (agentSnapshot, error) {
	var snap agentSnapshot
	data, err := os.ReadFile(filepath.Join(dir, AgentFile))
	if err != nil {
		return snap, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("%w: corrupt agent file in %s: %w", ErrModelUnavailable, dir, err)
	}
	if snap.Kind != kind {
		return snap, fmt.Errorf("%w: checkpoint holds a %s agent, want %s", ErrModelUnavailable, snap.Kind, kind)
	}
	if snap.StateDim != stateDim || snap.ActionDim != actionDim {
		return snap, fmt.Errorf("%w: %w: checkpoint %dx%d, agent %dx%d",
			ErrModelUnavailable, ErrDimensionMismatch, snap.StateDim, snap.ActionDim, stateDim, actionDim)
	}
	return snap, nil
}

// checkNetwork validates a loaded network against its expected input and output sizes.
func checkNetwork(name string, net *MLP, in, out int) error {
	if net == nil {
		return fmt.Errorf("%w: checkpoint is missing the %s network", ErrModelUnavailable, name)
	}
	if err := net.validate(); err != nil {
		return fmt.Errorf("%w: %s network: %w", ErrModelUnavailable, name, err)
	}
	if net.InputSize() != in || net.OutputSize() != out {
		return fmt.Errorf("%w: %w: %s network is %dx%d, want %dx%d",
			ErrModelUnavailable, ErrDimensionMismatch, name, net.InputSize(), net.OutputSize(), in, out)
	}
	return nil
}
