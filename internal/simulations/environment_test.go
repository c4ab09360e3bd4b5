package simulations

import (
	"math"
	"testing"
	"time"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatMarket builds a market whose pools keep constant APR, TVL and prices except where
// priceA overrides token A's price on a given day.
func flatMarket(pools, days int, apr float64, priceA map[int]float64) *Market {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &Market{}
	for i := 0; i < pools; i++ {
		m.Pools = append(m.Pools, types.Pool{
			ID:     types.PoolID("pool-" + string(rune('a'+i))),
			TokenA: types.Token{Symbol: "ATOM", PriceUSD: 1},
			TokenB: types.Token{Symbol: "USDC", PriceUSD: 1},
			APR24h: apr, TvlUSD: 1e6, AgeInDays: 100,
		})
		series := make([]types.PoolHistoryPoint, days)
		pa := 1.0
		for d := range series {
			if p, ok := priceA[d]; ok {
				pa = p
			}
			series[d] = types.PoolHistoryPoint{
				Timestamp: start.Add(time.Duration(d) * 24 * time.Hour),
				APR:       apr, TvlUSD: 1e6, Volume24hUSD: 1e4, PriceA: pa, PriceB: 1,
			}
		}
		m.Series = append(m.Series, series)
	}
	return m
}

func newEnv(t *testing.T, market *Market) *Environment {
	t.Helper()
	env, err := NewEnvironment(Config{Tuning: config.CloneTuning(config.DefaultTuning), Market: market, Pools: 3, Seed: 7})
	require.NoError(t, err)
	return env
}

func TestDimensions(t *testing.T) {
	env := newEnv(t, nil)
	assert.Equal(t, 92, env.StateDim())
	assert.Equal(t, 10, env.ActionDim())

	state := env.Reset()
	assert.Len(t, state, env.StateDim())
	assert.Equal(t, 1.0, state[0], "all cash at reset")
	assert.Equal(t, 1.0, state[len(state)-1], "whole episode remaining")
}

func TestDecodeAction(t *testing.T) {
	tests := []struct {
		action int
		kind   ActionKind
		pool   int
	}{
		{0, ActionNoOp, -1},
		{1, ActionBuy, 0},
		{3, ActionBuy, 2},
		{4, ActionSell, 0},
		{6, ActionSell, 2},
		{7, ActionHold, 0},
		{9, ActionHold, 2},
	}
	for _, tt := range tests {
		kind, pool, err := DecodeAction(tt.action, 3)
		require.NoError(t, err)
		assert.Equal(t, tt.kind, kind, "action %d", tt.action)
		assert.Equal(t, tt.pool, pool, "action %d", tt.action)
		assert.Equal(t, tt.action, EncodeAction(kind, pool, 3))
	}

	for _, bad := range []int{-1, 10} {
		kind, _, err := DecodeAction(bad, 3)
		assert.ErrorIs(t, err, ErrInvalidAction)
		assert.Equal(t, ActionNoOp, kind)
	}
}

func TestEpisodeRunsExactlyHorizon(t *testing.T) {
	env := newEnv(t, nil)
	env.Reset()

	steps := 0
	for {
		res, err := env.Step(0)
		require.NoError(t, err)
		steps++
		if res.Done {
			break
		}
	}
	assert.Equal(t, config.DefaultTuning.EpisodeHorizon, steps)

	_, err := env.Step(0)
	assert.ErrorIs(t, err, ErrEpisodeDone)
}

func TestStepBeforeResetFails(t *testing.T) {
	env := newEnv(t, nil)
	_, err := env.Step(0)
	assert.ErrorIs(t, err, ErrEpisodeDone)
}

func TestInvalidActionIsNoOp(t *testing.T) {
	env := newEnv(t, flatMarket(3, 40, 0, nil))
	env.Reset()

	res, err := env.Step(99)
	require.NoError(t, err)
	assert.True(t, res.Info.Invalid)
	assert.Equal(t, ActionNoOp, res.Info.Kind)
	assert.InDelta(t, 0, res.Reward, 1e-12)
	assert.InDelta(t, 10000, res.Info.PortfolioValue, 1e-9)
}

func TestBuyChargesFee(t *testing.T) {
	env := newEnv(t, flatMarket(3, 40, 0, nil))
	env.Reset()

	res, err := env.Step(1)
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, res.Info.Kind)
	assert.InDelta(t, 3.0, res.Info.FeesPaid, 1e-9)
	assert.InDelta(t, 9997.0, res.Info.PortfolioValue, 1e-9)
	assert.InDelta(t, -0.03, res.Reward, 1e-9)

	// Cash dropped to 90% and the slot holds ~10% of the value.
	assert.InDelta(t, 0.9, res.State[0], 1e-9)
	assert.InDelta(t, 997.0/9997.0, res.State[1], 1e-9)
}

func TestSellEmptySlotIsIneffective(t *testing.T) {
	env := newEnv(t, flatMarket(3, 40, 0, nil))
	env.Reset()

	res, err := env.Step(4)
	require.NoError(t, err)
	assert.True(t, res.Info.Ineffective)
	assert.False(t, res.Info.Invalid)
}

func TestBuyThenSellRoundTrip(t *testing.T) {
	env := newEnv(t, flatMarket(3, 40, 0, nil))
	env.Reset()

	_, err := env.Step(1)
	require.NoError(t, err)
	res, err := env.Step(4)
	require.NoError(t, err)

	assert.InDelta(t, 997.0*0.003, res.Info.FeesPaid, 1e-9)
	assert.InDelta(t, 9000+997.0*0.997, res.Info.PortfolioValue, 1e-9)
}

func TestAPRAccrues(t *testing.T) {
	env := newEnv(t, flatMarket(3, 40, 36.5, nil))
	env.Reset()

	res, err := env.Step(1)
	require.NoError(t, err)
	// 36.5% APR is 0.1% a day on the 997 principal.
	assert.InDelta(t, 9000+997*1.001, res.Info.PortfolioValue, 1e-9)
}

func TestILPenalty(t *testing.T) {
	env := newEnv(t, flatMarket(3, 40, 0, map[int]float64{1: 2}))
	env.Reset()

	res, err := env.Step(1)
	require.NoError(t, err)

	il := 1 - 2*math.Sqrt2/3
	assert.InDelta(t, 2*il, res.Info.ILPenalty, 1e-9)
	wantValue := 9000 + 997*(1-il)
	assert.InDelta(t, wantValue, res.Info.PortfolioValue, 1e-9)
	assert.InDelta(t, (wantValue-10000-2*il)*0.01, res.Reward, 1e-9)
}

func TestResetSeedIsDeterministic(t *testing.T) {
	a := newEnv(t, nil)
	b := newEnv(t, nil)
	assert.Equal(t, a.ResetSeed(42), b.ResetSeed(42))

	ra, err := a.Step(2)
	require.NoError(t, err)
	rb, err := b.Step(2)
	require.NoError(t, err)
	assert.Equal(t, ra.Reward, rb.Reward)
}

func TestHistoricalMarketOffsets(t *testing.T) {
	env := newEnv(t, flatMarket(2, 60, 10, nil))
	assert.Equal(t, 2, env.Pools())
	for i := 0; i < 5; i++ {
		env.Reset()
		assert.LessOrEqual(t, env.offset, 60-31)
	}
}

func TestNewEnvironmentValidation(t *testing.T) {
	tuning := config.CloneTuning(config.DefaultTuning)
	_, err := NewEnvironment(Config{Tuning: tuning, Pools: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEnvironment(Config{Tuning: tuning, Pools: 11})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewEnvironment(Config{Tuning: tuning, Market: flatMarket(2, 10, 10, nil)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}
