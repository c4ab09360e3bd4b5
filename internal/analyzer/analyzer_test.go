package analyzer

import (
	"math"
	"testing"
	"time"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioPools() []types.Pool {
	return []types.Pool{
		{ID: "HIGH-APR", TokenA: types.Token{Symbol: "ATOM"}, TokenB: types.Token{Symbol: "USDC"}, APR24h: 85, TvlUSD: 350_000},
		{ID: "DEEP", TokenA: types.Token{Symbol: "ETH"}, TokenB: types.Token{Symbol: "USDC"}, APR24h: 12, TvlUSD: 8_900_000},
	}
}

func TestRankPoolsByProfile(t *testing.T) {
	ranked, _, err := RankPools(scenarioPools(), types.ProfileAggressive, config.DefaultTuning)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, types.PoolID("HIGH-APR"), ranked[0].ID)

	ranked, _, err = RankPools(scenarioPools(), types.ProfileConservative, config.DefaultTuning)
	require.NoError(t, err)
	assert.Equal(t, types.PoolID("DEEP"), ranked[0].ID)
}

func TestScorePoolsConstantFeatureIsNeutral(t *testing.T) {
	scores, err := ScorePools(scenarioPools(), types.ProfileModerate, config.DefaultTuning)
	require.NoError(t, err)
	for _, s := range scores {
		assert.Equal(t, neutralScore, s.Components.NormalizedAge)
	}
}

func TestScorePoolsSkipsInvalid(t *testing.T) {
	pools := append(scenarioPools(), types.Pool{ID: "BAD", APR24h: math.NaN()}, types.Pool{ID: "NEG", TvlUSD: -1})
	scores, err := ScorePools(pools, types.ProfileModerate, config.DefaultTuning)
	require.NoError(t, err)
	assert.Len(t, scores, 2)
}

func TestScorePoolsUnknownProfile(t *testing.T) {
	_, err := ScorePools(scenarioPools(), types.RiskProfile("yolo"), config.DefaultTuning)
	require.ErrorIs(t, err, ErrInvalidScoringParameters)
}

func TestAllocationCurveAndClipping(t *testing.T) {
	curve, err := AllocationCurve(types.ProfileAggressive, config.DefaultTuning, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 30, 20, 0}, curve)

	usd := AllocateUSD(curve, 1000)
	assert.InDeltaSlice(t, []float64{500, 300, 200, 0}, usd, 1e-9)

	over := AllocateUSD([]float64{80, 60}, 1000)
	assert.InDelta(t, 1000, over[0]+over[1], 1e-9)
	assert.InDelta(t, 80.0/60.0, over[0]/over[1], 1e-9)

	assert.Equal(t, []float64{0, 0}, AllocateUSD([]float64{50, 50}, -5))
}

func TestImpermanentLossReference(t *testing.T) {
	// 1 - 2*sqrt(1.02*0.98)/2 = 1 - sqrt(0.9996)
	want := 1 - math.Sqrt(0.9996)
	assert.InDelta(t, want, ImpermanentLoss(0.02, -0.02), 1e-6)
	assert.InDelta(t, 0.000200020004, ImpermanentLoss(0.02, -0.02), 1e-6)
	assert.Zero(t, ImpermanentLossFromRatios(1, 1))
}

func TestImpermanentLossMonotoneInDivergence(t *testing.T) {
	r1 := 1.0
	prev := 0.0
	for d := 0.0; d <= 3.0; d += 0.05 {
		up := ImpermanentLossFromRatios(r1+d, r1)
		assert.GreaterOrEqual(t, up+1e-12, prev)
		prev = up
	}
	prev = 0
	for d := 0.0; d < 0.95; d += 0.05 {
		down := ImpermanentLossFromRatios(r1-d, r1)
		assert.GreaterOrEqual(t, down+1e-12, prev)
		prev = down
	}
	assert.Equal(t, 1.0, ImpermanentLossFromRatios(0, 1))
}

func TestSignedImpermanentLoss(t *testing.T) {
	assert.Less(t, SignedImpermanentLoss(10, 1, 20, 1), 0.0)
	assert.Zero(t, SignedImpermanentLoss(0, 1, 20, 1))
}

func TestEvaluateExitAPRDrop(t *testing.T) {
	verdict := EvaluateExit(ExitInput{EntryAPR: 40, CurrentAPR: 25, Thresholds: config.DefaultTuning.Exit})
	assert.True(t, verdict.ShouldExit)
	assert.Contains(t, verdict.Explanation, "APR dropped")
	assert.InDelta(t, baseExitConfidence, verdict.Confidence, 1e-9)
}

func TestEvaluateExitHolds(t *testing.T) {
	sentiment := 0.1
	verdict := EvaluateExit(ExitInput{EntryAPR: 40, CurrentAPR: 30, Sentiment: &sentiment, ImpermanentLoss: -0.01, Thresholds: config.DefaultTuning.Exit})
	assert.False(t, verdict.ShouldExit)
	assert.Empty(t, verdict.Reasons)
}

func TestEvaluateExitAllReasons(t *testing.T) {
	sentiment := -0.5
	verdict := EvaluateExit(ExitInput{EntryAPR: 40, CurrentAPR: 10, Sentiment: &sentiment, ImpermanentLoss: -0.08, Thresholds: config.DefaultTuning.Exit})
	require.True(t, verdict.ShouldExit)
	assert.Len(t, verdict.Reasons, 3)
	assert.InDelta(t, 0.9, verdict.Confidence, 1e-9)
}

func TestCalculateVolatility(t *testing.T) {
	now := time.Now()
	prices := []types.PriceData{
		{Timestamp: now.Add(2 * time.Hour), Price: 100},
		{Timestamp: now, Price: 100},
		{Timestamp: now.Add(time.Hour), Price: 100},
	}
	vol, err := CalculateVolatility(prices, 8760)
	require.NoError(t, err)
	assert.Zero(t, vol)
	// input order is not mutated
	assert.Equal(t, now.Add(2*time.Hour), prices[0].Timestamp)

	_, err = CalculateVolatility(prices[:1], 8760)
	require.ErrorIs(t, err, ErrInsufficientData)

	vol, err = SeriesVolatility([]float64{100, 110, 99, 105}, 1)
	require.NoError(t, err)
	assert.Greater(t, vol, 0.0)
}
