/*

This file contains the default tuning parameters for the advisor.

None of these values have been calibrated against realized outcomes. They are starting
points that operators are expected to override through the tuning file or the database.

*/

package config

import (
	"github.com/elys-network/lpadvisor/internal/types"
)

// DefaultTuning provides a baseline set of parameters for scoring, simulation and exit logic.
// These values are used if no active parameters are found in the database during initialization.
var DefaultTuning = types.TuningParameters{
	// --- Exit Evaluation ---
	Exit: types.ExitThresholds{
		AprDropPercent: 0.30, // Exit after a 30% APR drop from entry.
		// Rationale: LP yield decays as capital floods in. A third of the entry yield gone
		// usually means the opportunity that justified the entry is over.

		SentimentFloor: -0.2, // Exit when token sentiment falls below -0.2.
		// Rationale: Mildly negative sentiment is noise. Below -0.2 it tends to precede
		// outflows and price divergence between the pair.

		ILCeiling: 0.05, // Exit when impermanent loss is worse than -5%.
		// Rationale: At typical APRs a 5% IL takes months of fees to recover.
	},

	// --- Simulation / Reward Shaping ---
	MaxPools: 10, // Observation slots per pool feature block.
	// Rationale: Users rarely compare more than ten pools; padding keeps the network shape fixed.

	BuyFraction: 0.10, // A buy invests 10% of current cash.
	// Rationale: Small steps let the agent scale into a position over several days.

	TransactionFee: 0.003, // 0.3% charged on buys and sells.
	// Rationale: Matches the common AMM swap fee plus a margin for slippage.

	ILPenaltyFactor: 2.0, // Weighted IL is doubled in the reward.
	// Rationale: IL is realized only on exit, so the mark-to-market value understates it.

	RewardScale: 0.01, // Scale USD deltas into a range comfortable for the networks.

	EpisodeHorizon: 30, // 30 simulated days per episode, no early truncation.

	InitialCashUSD: 10000, // Starting cash of a simulated portfolio.

	TvlScaleLog: 20.0, // log1p(TVL)/20 keeps a $500M pool below 1.0.

	VolumeScaleLog: 20.0, // Same scaling as TVL.

	SyntheticVolatility: 0.04, // 4% daily price volatility for generated series.

	// --- Rule-Based Ranking ---
	ProfileWeights: map[types.RiskProfile]types.ProfileWeights{
		types.ProfileConservative: {APR: 0.20, TVL: 0.50, Age: 0.30},
		// Rationale: Deep, proven pools first. APR still breaks ties.
		types.ProfileModerate:   {APR: 0.40, TVL: 0.35, Age: 0.25},
		types.ProfileAggressive: {APR: 0.70, TVL: 0.20, Age: 0.10},
		// Rationale: Yield first. TVL only keeps the agent away from dust pools.
	},
	AllocationCurves: map[types.RiskProfile][]float64{
		types.ProfileConservative: {30, 25, 20, 15, 10},
		types.ProfileModerate:     {40, 25, 20, 10, 5},
		types.ProfileAggressive:   {50, 30, 20, 0, 0},
	},

	// --- Composite Signal ---
	HighPredictionWeight: 0.7, // profile_high = 0.7*prediction + 0.3*sentiment
	// Rationale: Return-seeking users care about the model's outlook more than the crowd.
	StablePredictionWeight: 0.4, // profile_stable = 0.4*prediction + 0.6*sentiment
	// Rationale: Sentiment collapses often precede depegs and outflows, which stable users fear most.

	// --- Rebalancing ---
	RebalanceThresholdPercent:   10.0, // Ignore drifts smaller than 10% of the target.
	MaxRebalancePercentPerCycle: 25.0, // Cap withdrawals per plan at 25% of the portfolio.

	// --- Learning ---
	RL: types.RLParameters{
		HiddenSizes:      []int{64, 64},
		LearningRate:     0.001,
		Gamma:            0.99,
		EpsilonStart:     1.0,
		EpsilonEnd:       0.05,
		EpsilonDecay:     0.995,
		BatchSize:        32,
		BufferCapacity:   10000,
		TargetUpdateFreq: 10,
		GradClip:         1.0,
		EntropyCoef:      0.01,
		Confidence:       0.85,
	},
}

// CloneTuning returns a deep copy so callers can mutate maps and slices safely.
func CloneTuning(t types.TuningParameters) types.TuningParameters {
	out := t
	out.ProfileWeights = make(map[types.RiskProfile]types.ProfileWeights, len(t.ProfileWeights))
	for k, v := range t.ProfileWeights {
		out.ProfileWeights[k] = v
	}
	out.AllocationCurves = make(map[types.RiskProfile][]float64, len(t.AllocationCurves))
	for k, v := range t.AllocationCurves {
		out.AllocationCurves[k] = append([]float64(nil), v...)
	}
	out.RL.HiddenSizes = append([]int(nil), t.RL.HiddenSizes...)
	return out
}
