package rl

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/elys-network/lpadvisor/internal/types"
)

// DQNAgent is a value-based learner with an online and a target Q-network.
type DQNAgent struct {
	mu sync.RWMutex

	params    types.RLParameters
	stateDim  int
	actionDim int

	online *MLP
	target *MLP
	opt    *Adam
	buffer *ReplayBuffer
	rng    *rand.Rand

	epsilon  float64
	episodes int
	updates  int
}

var _ Agent = (*DQNAgent)(nil)

func NewDQNAgent(stateDim, actionDim int, params types.RLParameters, seed int64) (*DQNAgent, error) {
	if err := validateParams(stateDim, actionDim, params); err != nil {
		return nil, err
	}
	rng := newRand(seed)
	online := NewMLP(layerSizes(stateDim, params.HiddenSizes, actionDim), rng)
	return &DQNAgent{
		params:    params,
		stateDim:  stateDim,
		actionDim: actionDim,
		online:    online,
		target:    online.Clone(),
		opt:       NewAdam(online, params.LearningRate),
		buffer:    NewReplayBuffer(params.BufferCapacity, seed+1),
		rng:       rng,
		epsilon:   params.EpsilonStart,
	}, nil
}

func (a *DQNAgent) StateDim() int  { return a.stateDim }
func (a *DQNAgent) ActionDim() int { return a.actionDim }
func (a *DQNAgent) Kind() Kind     { return KindDQN }

func (a *DQNAgent) Episodes() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.episodes
}

// Epsilon is the current exploration rate.
func (a *DQNAgent) Epsilon() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.epsilon
}

// QValues returns the online network's Q estimates for state.
func (a *DQNAgent) QValues(state []float64) []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.online.Forward(state)
}

// SelectAction is epsilon-greedy in training and argmax Q in evaluation. A state of the
// wrong length selects the no-op.
func (a *DQNAgent) SelectAction(state []float64, evaluation bool) int {
	if len(state) != a.stateDim {
		rlLogger.Warn().Int("got", len(state)).Int("want", a.stateDim).Msg("State dimension mismatch, selecting no-op")
		return 0
	}
	if evaluation {
		a.mu.RLock()
		defer a.mu.RUnlock()
		return argmax(a.online.Forward(state))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rng.Float64() < a.epsilon {
		return a.rng.IntN(a.actionDim)
	}
	return argmax(a.online.Forward(state))
}

func (a *DQNAgent) Remember(t Transition) {
	a.buffer.Add(t)
}

// Buffer exposes the replay buffer.
func (a *DQNAgent) Buffer() *ReplayBuffer {
	return a.buffer
}

// Update fits Q(s, a) to r + (1-done)*gamma*max_a' Q_target(s', a') with smooth-L1 loss.
func (a *DQNAgent) Update() (float64, bool) {
	if a.buffer.Len() < a.params.BatchSize {
		return 0, false
	}
	batch := usable(a.buffer.Sample(a.params.BatchSize), a.stateDim, a.actionDim)
	if len(batch) == 0 {
		return 0, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	grads := a.online.newGradients()
	n := float64(len(batch))
	var loss float64
	for _, t := range batch {
		target := t.Reward
		if !t.Done {
			nextQ := a.target.Forward(t.NextState)
			target += a.params.Gamma * nextQ[argmax(nextQ)]
		}

		acts := a.online.forward(t.State)
		q := acts[len(acts)-1]
		diff := q[t.Action] - target

		var grad float64
		if math.Abs(diff) < 1 {
			loss += 0.5 * diff * diff
			grad = diff
		} else {
			loss += math.Abs(diff) - 0.5
			grad = math.Copysign(1, diff)
		}

		gradOut := make([]float64, a.actionDim)
		gradOut[t.Action] = grad / n
		a.online.backward(acts, gradOut, grads)
	}

	a.opt.Step(a.online, grads, a.params.GradClip)
	a.updates++
	return loss / n, true
}

// EndEpisode decays epsilon toward its floor and syncs the target network on schedule.
func (a *DQNAgent) EndEpisode() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.episodes++
	a.epsilon = math.Max(a.params.EpsilonEnd, a.epsilon*a.params.EpsilonDecay)
	if a.params.TargetUpdateFreq > 0 && a.episodes%a.params.TargetUpdateFreq == 0 {
		a.target.CopyFrom(a.online)
		rlLogger.Debug().Int("episode", a.episodes).Msg("Target network synced")
	}
}

func (a *DQNAgent) Save(dir string) error {
	a.mu.RLock()
	snap := agentSnapshot{
		Kind:      KindDQN,
		StateDim:  a.stateDim,
		ActionDim: a.actionDim,
		Params:    a.params,
		Episodes:  a.episodes,
		Updates:   a.updates,
		Epsilon:   a.epsilon,
		Online:    a.online.Clone(),
		Target:    a.target.Clone(),
	}
	a.mu.RUnlock()
	return writeSnapshot(dir, snap)
}

// Load restores weights and schedules. The optimizer restarts from zero moments.
func (a *DQNAgent) Load(dir string) error {
	snap, err := readSnapshot(dir, KindDQN, a.stateDim, a.actionDim)
	if err != nil {
		return err
	}
	if err := checkNetwork("online", snap.Online, a.stateDim, a.actionDim); err != nil {
		return err
	}
	if snap.Target == nil {
		snap.Target = snap.Online.Clone()
	} else if err := checkNetwork("target", snap.Target, a.stateDim, a.actionDim); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.online = snap.Online
	a.target = snap.Target
	a.opt = NewAdam(a.online, a.params.LearningRate)
	a.episodes = snap.Episodes
	a.updates = snap.Updates
	a.epsilon = snap.Epsilon
	rlLogger.Info().Str("dir", dir).Int("episodes", a.episodes).Msg("DQN agent loaded")
	return nil
}
