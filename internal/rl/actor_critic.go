package rl

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/elys-network/lpadvisor/internal/types"
)

// ActorCriticAgent is a policy-gradient learner with a learned state-value baseline.
// The actor outputs action logits; the critic outputs one value.
type ActorCriticAgent struct {
	mu sync.RWMutex

	params    types.RLParameters
	stateDim  int
	actionDim int

	actor     *MLP
	critic    *MLP
	actorOpt  *Adam
	criticOpt *Adam
	buffer    *ReplayBuffer
	rng       *rand.Rand

	episodes int
	updates  int
}

var _ Agent = (*ActorCriticAgent)(nil)

func NewActorCriticAgent(stateDim, actionDim int, params types.RLParameters, seed int64) (*ActorCriticAgent, error) {
	if err := validateParams(stateDim, actionDim, params); err != nil {
		return nil, err
	}
	rng := newRand(seed)
	actor := NewMLP(layerSizes(stateDim, params.HiddenSizes, actionDim), rng)
	critic := NewMLP(layerSizes(stateDim, params.HiddenSizes, 1), rng)
	return &ActorCriticAgent{
		params:    params,
		stateDim:  stateDim,
		actionDim: actionDim,
		actor:     actor,
		critic:    critic,
		actorOpt:  NewAdam(actor, params.LearningRate),
		criticOpt: NewAdam(critic, params.LearningRate),
		buffer:    NewReplayBuffer(params.BufferCapacity, seed+1),
		rng:       rng,
	}, nil
}

func (a *ActorCriticAgent) StateDim() int  { return a.stateDim }
func (a *ActorCriticAgent) ActionDim() int { return a.actionDim }
func (a *ActorCriticAgent) Kind() Kind     { return KindActorCritic }

func (a *ActorCriticAgent) Episodes() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.episodes
}

// Policy returns the action distribution for state.
func (a *ActorCriticAgent) Policy(state []float64) []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return softmax(a.actor.Forward(state))
}

// Value returns the critic's estimate for state.
func (a *ActorCriticAgent) Value(state []float64) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.critic.Forward(state)[0]
}

// SelectAction samples from the policy in training and takes the most probable action in
// evaluation.
func (a *ActorCriticAgent) SelectAction(state []float64, evaluation bool) int {
	if len(state) != a.stateDim {
		rlLogger.Warn().Int("got", len(state)).Int("want", a.stateDim).Msg("State dimension mismatch, selecting no-op")
		return 0
	}
	if evaluation {
		a.mu.RLock()
		defer a.mu.RUnlock()
		return argmax(a.actor.Forward(state)) // softmax is monotone
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	probs := softmax(a.actor.Forward(state))
	u := a.rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if u < cum {
			return i
		}
	}
	return len(probs) - 1
}

func (a *ActorCriticAgent) Remember(t Transition) {
	a.buffer.Add(t)
}

func (a *ActorCriticAgent) Buffer() *ReplayBuffer {
	return a.buffer
}

// Update takes one step on both networks. The critic minimizes (V(s) - y)^2 with
// y = r + (1-done)*gamma*V(s'); the actor minimizes -log pi(a|s)*A - beta*H(pi) with the
// advantage A = y - V(s) held constant.
func (a *ActorCriticAgent) Update() (float64, bool) {
	if a.buffer.Len() < a.params.BatchSize {
		return 0, false
	}
	batch := usable(a.buffer.Sample(a.params.BatchSize), a.stateDim, a.actionDim)
	if len(batch) == 0 {
		return 0, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	actorGrads := a.actor.newGradients()
	criticGrads := a.critic.newGradients()
	n := float64(len(batch))
	beta := a.params.EntropyCoef

	var criticLoss, actorLoss float64
	for _, t := range batch {
		cActs := a.critic.forward(t.State)
		v := cActs[len(cActs)-1][0]
		y := t.Reward
		if !t.Done {
			y += a.params.Gamma * a.critic.Forward(t.NextState)[0]
		}
		diff := v - y
		criticLoss += diff * diff
		a.critic.backward(cActs, []float64{2 * diff / n}, criticGrads)

		advantage := y - v
		aActs := a.actor.forward(t.State)
		probs := softmax(aActs[len(aActs)-1])

		var entropy float64
		for _, p := range probs {
			if p > 0 {
				entropy -= p * math.Log(p)
			}
		}
		actorLoss += -math.Log(math.Max(probs[t.Action], 1e-12))*advantage - beta*entropy

		gradOut := make([]float64, a.actionDim)
		for i, p := range probs {
			onehot := 0.0
			if i == t.Action {
				onehot = 1
			}
			g := (p - onehot) * advantage
			if p > 0 {
				g += beta * p * (math.Log(p) + entropy)
			}
			gradOut[i] = g / n
		}
		a.actor.backward(aActs, gradOut, actorGrads)
	}

	a.criticOpt.Step(a.critic, criticGrads, a.params.GradClip)
	a.actorOpt.Step(a.actor, actorGrads, a.params.GradClip)
	a.updates++
	return (criticLoss + actorLoss) / n, true
}

func (a *ActorCriticAgent) EndEpisode() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.episodes++
}

func (a *ActorCriticAgent) Save(dir string) error {
	a.mu.RLock()
	snap := agentSnapshot{
		Kind:      KindActorCritic,
		StateDim:  a.stateDim,
		ActionDim: a.actionDim,
		Params:    a.params,
		Episodes:  a.episodes,
		Updates:   a.updates,
		Actor:     a.actor.Clone(),
		Critic:    a.critic.Clone(),
	}
	a.mu.RUnlock()
	return writeSnapshot(dir, snap)
}

func (a *ActorCriticAgent) Load(dir string) error {
	snap, err := readSnapshot(dir, KindActorCritic, a.stateDim, a.actionDim)
	if err != nil {
		return err
	}
	if err := checkNetwork("actor", snap.Actor, a.stateDim, a.actionDim); err != nil {
		return err
	}
	if err := checkNetwork("critic", snap.Critic, a.stateDim, 1); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.actor = snap.Actor
	a.critic = snap.Critic
	a.actorOpt = NewAdam(a.actor, a.params.LearningRate)
	a.criticOpt = NewAdam(a.critic, a.params.LearningRate)
	a.episodes = snap.Episodes
	a.updates = snap.Updates
	rlLogger.Info().Str("dir", dir).Int("episodes", a.episodes).Msg("Actor-critic agent loaded")
	return nil
}
