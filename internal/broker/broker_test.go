package broker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/rl"
	"github.com/elys-network/lpadvisor/internal/simulations"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedAgent always answers with the same action.
type fixedAgent struct {
	action    int
	stateDim  int
	actionDim int
}

func newFixedAgent(action, pools int) *fixedAgent {
	return &fixedAgent{
		action:    action,
		stateDim:  simulations.StateDim(config.DefaultTuning.MaxPools),
		actionDim: simulations.ActionDim(pools),
	}
}

func (a *fixedAgent) SelectAction([]float64, bool) int { return a.action }
func (a *fixedAgent) Remember(rl.Transition)           {}
func (a *fixedAgent) Update() (float64, bool)          { return 0, false }
func (a *fixedAgent) EndEpisode()                      {}
func (a *fixedAgent) Save(string) error                { return nil }
func (a *fixedAgent) Load(string) error                { return nil }
func (a *fixedAgent) StateDim() int                    { return a.stateDim }
func (a *fixedAgent) ActionDim() int                   { return a.actionDim }
func (a *fixedAgent) Kind() rl.Kind                    { return rl.KindDQN }
func (a *fixedAgent) Episodes() int                    { return 0 }

type failingStrategy struct{ err error }

func (failingStrategy) Name() string { return StrategyRL }
func (s failingStrategy) Decide(DecisionInput) (Decision, error) {
	return Decision{}, s.err
}

type panickingStrategy struct{}

func (panickingStrategy) Name() string { return StrategyRL }
func (panickingStrategy) Decide(DecisionInput) (Decision, error) {
	panic("boom")
}

func scenarioPools() []types.Pool {
	return []types.Pool{
		{ID: "HIGH-APR", TokenA: types.Token{Symbol: "ATOM", PriceUSD: 10}, TokenB: types.Token{Symbol: "USDC", PriceUSD: 1}, APR24h: 85, APR7d: 80, TvlUSD: 350_000, AgeInDays: 30},
		{ID: "DEEP", TokenA: types.Token{Symbol: "ETH", PriceUSD: 3000}, TokenB: types.Token{Symbol: "USDC", PriceUSD: 1}, APR24h: 12, APR7d: 12, TvlUSD: 8_900_000, AgeInDays: 400},
	}
}

func agentLoader(agent rl.Agent) ModelLoader {
	return func() (rl.Agent, error) { return agent, nil }
}

func TestRuleRankingByProfile(t *testing.T) {
	b := New(Config{Tuning: config.DefaultTuning, Strategy: "rule"})
	user := types.UserState{UserID: "u1", BalanceUSD: 1000}

	set := b.GetPoolRecommendations(scenarioPools(), user, types.ProfileAggressive, 5)
	require.True(t, set.Success)
	require.Len(t, set.Items, 2)
	assert.Equal(t, types.PoolID("HIGH-APR"), set.Items[0].PoolID)
	assert.Equal(t, StrategyRule, set.Strategy)
	assert.False(t, set.Degraded)
	assert.InDelta(t, 500, set.Items[0].AllocationUSD, 1e-9)
	assert.InDelta(t, 300, set.Items[1].AllocationUSD, 1e-9)

	set = b.GetPoolRecommendations(scenarioPools(), user, types.ProfileConservative, 5)
	require.True(t, set.Success)
	assert.Equal(t, types.PoolID("DEEP"), set.Items[0].PoolID)
	for i, item := range set.Items {
		assert.Equal(t, i+1, item.Rank)
		assert.False(t, item.RLRecommended)
		assert.GreaterOrEqual(t, item.Confidence, 0.5)
		assert.LessOrEqual(t, item.Confidence, 0.9)
	}
}

func TestNoDataNoCheckpointDegradesToRules(t *testing.T) {
	empty := t.TempDir()
	loader := func() (rl.Agent, error) {
		agent, _, err := rl.LoadCheckpoint(empty, 0, 1)
		return agent, err
	}
	b := New(Config{Tuning: config.DefaultTuning, Strategy: StrategyRL, Loader: loader})
	assert.Equal(t, StrategyRule, b.StrategyName())
	down, reason := b.Downgraded()
	assert.True(t, down)
	assert.NotEmpty(t, reason)

	set := b.GetPoolRecommendations(nil, types.UserState{UserID: "u1"}, types.ProfileModerate, 3)
	assert.True(t, set.Success)
	assert.True(t, set.Degraded)
	assert.Empty(t, set.Items)

	set = b.GetPoolRecommendations(scenarioPools(), types.UserState{UserID: "u1", BalanceUSD: 100}, types.ProfileModerate, 3)
	require.True(t, set.Success)
	assert.True(t, set.Degraded)
	require.NotEmpty(t, set.Items)
	for _, item := range set.Items {
		assert.False(t, item.RLRecommended)
	}
}

func TestBuyIsPromotedToRankOne(t *testing.T) {
	// Aggressive ranks HIGH-APR first; the agent buys slot 1 which is DEEP.
	agent := newFixedAgent(simulations.EncodeAction(simulations.ActionBuy, 1, 2), 2)
	b := New(Config{Tuning: config.DefaultTuning, Strategy: StrategyRL, Loader: agentLoader(agent)})
	require.Equal(t, StrategyRL, b.StrategyName())

	set := b.GetPoolRecommendations(scenarioPools(), types.UserState{UserID: "u1", BalanceUSD: 1000}, types.ProfileAggressive, 5)
	require.True(t, set.Success)
	require.Len(t, set.Items, 2)
	assert.Equal(t, StrategyRL, set.Strategy)

	assert.Equal(t, types.PoolID("DEEP"), set.Items[0].PoolID)
	assert.True(t, set.Items[0].RLRecommended)
	assert.Equal(t, config.DefaultTuning.RL.Confidence, set.Items[0].Confidence)
	assert.Equal(t, types.PoolID("HIGH-APR"), set.Items[1].PoolID)
	assert.False(t, set.Items[1].RLRecommended)
}

func TestNonBuyActionsFallBackToRules(t *testing.T) {
	cases := map[string]int{
		"no-op":   0,
		"sell":    simulations.EncodeAction(simulations.ActionSell, 0, 2),
		"hold":    simulations.EncodeAction(simulations.ActionHold, 1, 2),
		"invalid": 99,
	}
	for name, action := range cases {
		t.Run(name, func(t *testing.T) {
			b := New(Config{Tuning: config.DefaultTuning, Strategy: StrategyRL, Loader: agentLoader(newFixedAgent(action, 2))})
			set := b.GetPoolRecommendations(scenarioPools(), types.UserState{BalanceUSD: 100}, types.ProfileAggressive, 5)
			require.True(t, set.Success)
			assert.Equal(t, StrategyRule, set.Strategy)
			assert.True(t, set.Degraded)
			assert.Equal(t, types.PoolID("HIGH-APR"), set.Items[0].PoolID)
			for _, item := range set.Items {
				assert.False(t, item.RLRecommended)
			}
			// A bad decision is not a broken model.
			assert.Equal(t, StrategyRL, b.StrategyName())
		})
	}
}

func TestBuyBeyondCandidatesIsInvalid(t *testing.T) {
	// The agent acts on 5 slots but only 2 pools exist.
	agent := newFixedAgent(simulations.EncodeAction(simulations.ActionBuy, 4, 5), 5)
	b := New(Config{Tuning: config.DefaultTuning, Strategy: StrategyRL, Loader: agentLoader(agent)})
	set := b.GetPoolRecommendations(scenarioPools(), types.UserState{BalanceUSD: 100}, types.ProfileAggressive, 5)
	require.True(t, set.Success)
	assert.False(t, set.Items[0].RLRecommended)
}

func TestDimensionMismatchDowngradesUntilReload(t *testing.T) {
	bad := newFixedAgent(1, 2)
	bad.stateDim = 7
	current := rl.Agent(bad)
	b := New(Config{
		Tuning:   config.DefaultTuning,
		Strategy: StrategyRL,
		Loader:   func() (rl.Agent, error) { return current, nil },
	})
	assert.Equal(t, StrategyRule, b.StrategyName())

	current = newFixedAgent(1, 2)
	require.NoError(t, b.ReloadModel())
	assert.Equal(t, StrategyRL, b.StrategyName())
	down, _ := b.Downgraded()
	assert.False(t, down)
}

func TestStrategyErrorsNeverEscape(t *testing.T) {
	b := NewWithStrategy(failingStrategy{err: fmt.Errorf("load: %w", rl.ErrDimensionMismatch)}, config.DefaultTuning, nil)
	set := b.GetPoolRecommendations(scenarioPools(), types.UserState{BalanceUSD: 100}, types.ProfileAggressive, 5)
	require.True(t, set.Success)
	assert.True(t, set.Degraded)
	assert.Equal(t, StrategyRule, b.StrategyName(), "model errors downgrade permanently")

	b = NewWithStrategy(failingStrategy{err: errors.New("transient")}, config.DefaultTuning, nil)
	set = b.GetPoolRecommendations(scenarioPools(), types.UserState{BalanceUSD: 100}, types.ProfileAggressive, 5)
	require.True(t, set.Success)
	assert.Equal(t, StrategyRL, b.StrategyName())

	b = NewWithStrategy(panickingStrategy{}, config.DefaultTuning, nil)
	set = b.GetPoolRecommendations(scenarioPools(), types.UserState{BalanceUSD: 100}, types.ProfileAggressive, 5)
	require.True(t, set.Success)
	assert.Equal(t, StrategyRule, set.Strategy)
}

func TestRecommendationsDeterministicForFixedAgent(t *testing.T) {
	tuning := config.DefaultTuning
	agent, err := rl.NewAgent(rl.KindDQN, simulations.StateDim(tuning.MaxPools), simulations.ActionDim(2), tuning.RL, 42)
	require.NoError(t, err)
	b := New(Config{Tuning: tuning, Strategy: StrategyRL, Loader: agentLoader(agent)})

	user := types.UserState{UserID: "u1", BalanceUSD: 2500}
	first := b.GetPoolRecommendations(scenarioPools(), user, types.ProfileModerate, 5)
	for i := 0; i < 5; i++ {
		next := b.GetPoolRecommendations(scenarioPools(), user, types.ProfileModerate, 5)
		assert.Equal(t, first.Items, next.Items)
		assert.Equal(t, first.Strategy, next.Strategy)
	}
}

func TestTopNTruncatesAndAllocationsStayWithinBalance(t *testing.T) {
	b := New(Config{Tuning: config.DefaultTuning, Strategy: "rule"})
	set := b.GetPoolRecommendations(scenarioPools(), types.UserState{BalanceUSD: 40}, types.ProfileConservative, 1)
	require.Len(t, set.Items, 1)
	assert.LessOrEqual(t, set.Items[0].AllocationUSD, 40.0)
	assert.InDelta(t, 30, set.Items[0].AllocationPercent, 1e-9)
}

func TestBuildStateMatchesEnvironmentLayout(t *testing.T) {
	user := types.UserState{
		BalanceUSD: 500,
		Positions: []types.Position{
			{PoolID: "DEEP", Status: types.StatusActive, CurrentValueUSD: 500, ImpermanentLoss: -0.02},
			{PoolID: "DEEP", Status: types.StatusCompleted, CurrentValueUSD: 999},
		},
	}
	state := BuildState(scenarioPools(), user, config.DefaultTuning)
	require.Len(t, state, simulations.StateDim(config.DefaultTuning.MaxPools))
	assert.InDelta(t, 0.5, state[0], 1e-9)
	assert.InDelta(t, 0, state[1], 1e-9)
	assert.InDelta(t, 0.5, state[2], 1e-9)
	assert.Equal(t, 1.0, state[len(state)-1])
}
