/*
Package rl holds the learning side of the advisor: a replay buffer, a small dense network with
an Adam optimizer, and two interchangeable agents over the simulation environment's
observation and action spaces.

Agents are single-writer. Training (Remember, Update, EndEpisode, training-mode SelectAction)
takes the agent's write lock; evaluation-mode SelectAction takes the read lock, so serving
decisions never observes a half-applied weight update.
*/
package rl

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/types"
)

var rlLogger = logger.GetForComponent("rl_agent")

var (
	// ErrModelUnavailable means no usable checkpoint could be loaded.
	ErrModelUnavailable  = errors.New("model unavailable")
	ErrDimensionMismatch = errors.New("model dimensions do not match")
	ErrUnknownAgent      = errors.New("unknown agent type")
	ErrInvalidParameters = errors.New("invalid agent parameters")
)

// Kind names an agent implementation.
type Kind string

const (
	KindDQN         Kind = "dqn"
	KindActorCritic Kind = "actor_critic"
)

// ParseKind accepts the configured agent names.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDQN, KindActorCritic:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAgent, s)
}

// Agent is the contract shared by the value and policy learners.
type Agent interface {
	// SelectAction returns an action id in [0, ActionDim). evaluation selects the greedy
	// action and is deterministic for fixed weights and state.
	SelectAction(state []float64, evaluation bool) int
	// Remember stores a transition for later updates.
	Remember(t Transition)
	// Update runs one optimization step. ok is false when there is not yet enough data.
	Update() (loss float64, ok bool)
	// EndEpisode advances per-episode schedules (exploration decay, target sync).
	EndEpisode()
	Save(dir string) error
	// Load replaces the agent's weights. Errors wrap ErrModelUnavailable.
	Load(dir string) error

	StateDim() int
	ActionDim() int
	Kind() Kind
	Episodes() int
}

// NewAgent builds an untrained agent of the given kind.
func NewAgent(kind Kind, stateDim, actionDim int, params types.RLParameters, seed int64) (Agent, error) {
	if err := validateParams(stateDim, actionDim, params); err != nil {
		return nil, err
	}
	switch kind {
	case KindDQN:
		return NewDQNAgent(stateDim, actionDim, params, seed)
	case KindActorCritic:
		return NewActorCriticAgent(stateDim, actionDim, params, seed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, kind)
	}
}

func validateParams(stateDim, actionDim int, p types.RLParameters) error {
	var errs []error
	if stateDim <= 0 {
		errs = append(errs, fmt.Errorf("state dimension must be positive, got %d", stateDim))
	}
	if actionDim <= 1 {
		errs = append(errs, fmt.Errorf("action dimension must be at least 2, got %d", actionDim))
	}
	if p.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("learning rate must be positive, got %f", p.LearningRate))
	}
	if p.Gamma < 0 || p.Gamma > 1 {
		errs = append(errs, fmt.Errorf("gamma must be in [0,1], got %f", p.Gamma))
	}
	if p.BatchSize <= 0 || p.BufferCapacity < p.BatchSize {
		errs = append(errs, fmt.Errorf("batch size %d must be positive and fit in buffer capacity %d", p.BatchSize, p.BufferCapacity))
	}
	for _, h := range p.HiddenSizes {
		if h <= 0 {
			errs = append(errs, fmt.Errorf("hidden layer sizes must be positive, got %v", p.HiddenSizes))
			break
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, errors.Join(errs...))
	}
	return nil
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x5851f42d4c957f2d))
}

func layerSizes(in int, hidden []int, out int) []int {
	sizes := make([]int, 0, len(hidden)+2)
	sizes = append(sizes, in)
	sizes = append(sizes, hidden...)
	return append(sizes, out)
}

// usable drops transitions whose shape does not match the networks.
func usable(batch []Transition, stateDim, actionDim int) []Transition {
	out := batch[:0:0]
	for _, t := range batch {
		if len(t.State) != stateDim || len(t.NextState) != stateDim || t.Action < 0 || t.Action >= actionDim {
			continue
		}
		out = append(out, t)
	}
	return out
}

// argmax returns the lowest index of the maximum value.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
