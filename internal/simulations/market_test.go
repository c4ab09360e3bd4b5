package simulations

import (
	"testing"
	"time"

	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotDerivesDailyFields(t *testing.T) {
	m := flatMarket(1, 10, 20, map[int]float64{3: 1.1})

	day3 := m.Snapshot(3)[0]
	assert.InDelta(t, 0.1, day3.TokenA.PriceChange24h, 1e-12)
	assert.Equal(t, 103, day3.AgeInDays)
	assert.InDelta(t, 7e4, day3.Volume7dUSD, 1e-6)

	day0 := m.Snapshot(0)[0]
	assert.Equal(t, 0.0, day0.TokenA.PriceChange24h)
	assert.InDelta(t, 7e4, day0.Volume7dUSD, 1e-6)
}

func TestGenerateMarketIsDeterministic(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	base := SyntheticPools(NewRand(1), 4, start)
	require.Len(t, base, 4)

	a := GenerateMarket(NewRand(9), base, 30, 0.04, start)
	b := GenerateMarket(NewRand(9), base, 30, 0.04, start)
	assert.Equal(t, a.Series, b.Series)
	assert.Equal(t, 31, a.Days())

	for _, series := range a.Series {
		for _, pt := range series {
			assert.Greater(t, pt.PriceA, 0.0)
			assert.Greater(t, pt.APR, 0.0)
		}
	}
}

func TestHistoricalMarket(t *testing.T) {
	pools := []types.Pool{{ID: "a"}, {ID: "b"}}
	mk := func(n int) types.PoolHistory {
		h := types.PoolHistory{}
		for i := 0; i < n; i++ {
			h.Points = append(h.Points, types.PoolHistoryPoint{APR: float64(i), PriceA: 1, PriceB: 1})
		}
		return h
	}

	m, err := HistoricalMarket(pools, map[types.PoolID]types.PoolHistory{"a": mk(5), "b": mk(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Days())
	assert.Equal(t, 2.0, m.Series[0][0].APR, "longer series keeps its most recent days")

	_, err = HistoricalMarket(pools, map[types.PoolID]types.PoolHistory{"a": mk(5)})
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestJoinAndLeaveEstimates(t *testing.T) {
	join, err := SimulateJoinPool(10000, 0.1, 0.003)
	require.NoError(t, err)
	assert.InDelta(t, 1000, join.InvestedUSD, 1e-9)
	assert.InDelta(t, 997, join.PrincipalUSD, 1e-9)

	_, err = SimulateJoinPool(100, 1.5, 0)
	assert.ErrorIs(t, err, ErrInvalidEstimate)

	exit, err := SimulateLeavePool(1000, 1, 1, 1, 1, 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 990, exit.ProceedsUSD, 1e-9)
	assert.Equal(t, 0.0, exit.ImpermanentLoss)

	assert.InDelta(t, 1001, AccrueDaily(1000, 36.5), 1e-9)
}

func TestEncodeObservationPadsAndTruncates(t *testing.T) {
	m := flatMarket(3, 2, 50, nil)
	pools := m.Snapshot(0)
	tuning := types.TuningParameters{TvlScaleLog: 20, VolumeScaleLog: 20}

	state := EncodeObservation(pools, PortfolioView{Cash: 0.5, Fractions: []float64{0.2, 0, 0}, IL: []float64{0.01, 0, 0}}, tuning, 2, 0.25)
	require.Len(t, state, StateDim(2))
	assert.Equal(t, 0.5, state[0])
	assert.Equal(t, 0.2, state[1])

	block := 1 + 2
	assert.InDelta(t, 0.5, state[block], 1e-12, "APR/100")
	assert.Equal(t, 0.01, state[block+6], "held slot reports IL since entry")
	assert.Equal(t, 0.2, state[block+7])
	assert.Equal(t, 0.25, state[len(state)-1])
}
