package broker

import (
	"fmt"
	"math"

	"github.com/elys-network/lpadvisor/internal/rl"
	"github.com/elys-network/lpadvisor/internal/simulations"
	"github.com/elys-network/lpadvisor/internal/types"
)

const (
	StrategyRule = "rule_based"
	StrategyRL   = "rl"
)

// DecisionInput is what a strategy sees: candidates already in rule-based order.
type DecisionInput struct {
	Candidates []types.Pool
	User       types.UserState
	Profile    types.RiskProfile
}

// Decision is a strategy's pick. Pool is -1 when the strategy promotes nothing.
type Decision struct {
	Kind       simulations.ActionKind
	Action     int
	Pool       int
	Invalid    bool
	Confidence float64
}

// DecisionStrategy chooses which candidate, if any, to promote above the rule-based order.
type DecisionStrategy interface {
	Name() string
	Decide(in DecisionInput) (Decision, error)
}

// RuleBasedStrategy never promotes; the rule ranking stands as is.
type RuleBasedStrategy struct{}

func (RuleBasedStrategy) Name() string { return StrategyRule }

func (RuleBasedStrategy) Decide(DecisionInput) (Decision, error) {
	return Decision{Kind: simulations.ActionNoOp, Pool: -1}, nil
}

// RLStrategy queries a trained agent in evaluation mode. The agent's action space covers
// its first P candidates, where P is fixed at training time.
type RLStrategy struct {
	agent  rl.Agent
	tuning types.TuningParameters
}

// NewRLStrategy checks that the agent was trained on this observation layout.
func NewRLStrategy(agent rl.Agent, tuning types.TuningParameters) (*RLStrategy, error) {
	if agent == nil {
		return nil, fmt.Errorf("%w: no agent", rl.ErrModelUnavailable)
	}
	if want := simulations.StateDim(tuning.MaxPools); agent.StateDim() != want {
		return nil, fmt.Errorf("%w: %w: agent state %d, observation %d",
			rl.ErrModelUnavailable, rl.ErrDimensionMismatch, agent.StateDim(), want)
	}
	if simulations.PoolsForActionDim(agent.ActionDim()) < 1 {
		return nil, fmt.Errorf("%w: %w: action dimension %d", rl.ErrModelUnavailable, rl.ErrDimensionMismatch, agent.ActionDim())
	}
	return &RLStrategy{agent: agent, tuning: tuning}, nil
}

func (s *RLStrategy) Name() string { return StrategyRL }

// Pools is the number of candidates the agent can act on.
func (s *RLStrategy) Pools() int {
	return simulations.PoolsForActionDim(s.agent.ActionDim())
}

func (s *RLStrategy) Decide(in DecisionInput) (Decision, error) {
	p := s.Pools()
	candidates := in.Candidates
	if len(candidates) > p {
		candidates = candidates[:p]
	}

	state := BuildState(candidates, in.User, s.tuning)
	action := s.agent.SelectAction(state, true)

	kind, idx, err := simulations.DecodeAction(action, p)
	if err == nil && idx >= len(candidates) {
		err = fmt.Errorf("%w: action %d targets slot %d of %d candidates", simulations.ErrInvalidAction, action, idx, len(candidates))
	}
	if err != nil {
		brokerLogger.Warn().Err(err).Int("action", action).Msg("Agent chose an invalid action, treating as no-op")
		return Decision{Kind: simulations.ActionNoOp, Action: action, Pool: -1, Invalid: true}, nil
	}

	d := Decision{Kind: kind, Action: action, Pool: -1}
	if kind == simulations.ActionBuy {
		d.Pool = idx
		d.Confidence = s.tuning.RL.Confidence
	}
	return d, nil
}

// BuildState encodes live pools and a user's holdings the way the environment encodes its
// own portfolio: cash and holdings as fractions of total value, IL as a positive magnitude
// and a full episode remaining.
func BuildState(pools []types.Pool, user types.UserState, tuning types.TuningParameters) []float64 {
	total := user.TotalValueUSD()
	view := simulations.PortfolioView{
		Fractions: make([]float64, len(pools)),
		IL:        make([]float64, len(pools)),
	}
	if total > 0 {
		view.Cash = user.BalanceUSD / total
	}

	index := make(map[types.PoolID]int, len(pools))
	for i, p := range pools {
		index[p.ID] = i
	}
	weightedIL := make([]float64, len(pools))
	for _, pos := range user.Positions {
		i, ok := index[pos.PoolID]
		if !ok || !pos.Status.IsOpen() || total <= 0 {
			continue
		}
		view.Fractions[i] += pos.CurrentValueUSD / total
		weightedIL[i] += pos.CurrentValueUSD * math.Max(0, -pos.ImpermanentLoss)
	}
	for i := range pools {
		if view.Fractions[i] > 0 {
			view.IL[i] = weightedIL[i] / (view.Fractions[i] * total)
		}
	}
	return simulations.EncodeObservation(pools, view, tuning, tuning.MaxPools, 1.0)
}
