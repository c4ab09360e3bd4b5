/*

This file contains the types for scoring pools and the other tunable parameters of the advisor.

*/

package types

// ProfileWeights weigh the normalized pool features for rule-based ranking.
type ProfileWeights struct {
	APR float64 `json:"apr" yaml:"apr"`
	TVL float64 `json:"tvl" yaml:"tvl"`
	Age float64 `json:"age" yaml:"age"`
}

// RLParameters configure the learning agents.
type RLParameters struct {
	HiddenSizes      []int   `json:"hidden_sizes" yaml:"hidden_sizes"`             // Hidden layer widths shared by every network.
	LearningRate     float64 `json:"learning_rate" yaml:"learning_rate"`           // Adam step size.
	Gamma            float64 `json:"gamma" yaml:"gamma"`                           // Discount factor.
	EpsilonStart     float64 `json:"epsilon_start" yaml:"epsilon_start"`           // Initial exploration rate.
	EpsilonEnd       float64 `json:"epsilon_end" yaml:"epsilon_end"`               // Exploration floor.
	EpsilonDecay     float64 `json:"epsilon_decay" yaml:"epsilon_decay"`           // Geometric decay applied per episode.
	BatchSize        int     `json:"batch_size" yaml:"batch_size"`                 // Transitions per update.
	BufferCapacity   int     `json:"buffer_capacity" yaml:"buffer_capacity"`       // Replay buffer size.
	TargetUpdateFreq int     `json:"target_update_freq" yaml:"target_update_freq"` // Episodes between target-network syncs.
	GradClip         float64 `json:"grad_clip" yaml:"grad_clip"`                   // Gradients are clipped to [-GradClip, GradClip].
	EntropyCoef      float64 `json:"entropy_coef" yaml:"entropy_coef"`             // Actor-critic entropy bonus.
	Confidence       float64 `json:"confidence" yaml:"confidence"`                 // Confidence reported for an RL-promoted pool.
}

// TuningParameters holds every tunable constant used by scoring, simulation,
// exit evaluation and learning. Different sets can be versioned in the database.
type TuningParameters struct {
	// --- Exit Evaluation ---
	Exit ExitThresholds `json:"exit" yaml:"exit"`

	// --- Simulation / Reward Shaping ---
	MaxPools            int     `json:"max_pools" yaml:"max_pools"`                       // Fixed pool slots in the observation.
	BuyFraction         float64 `json:"buy_fraction" yaml:"buy_fraction"`                 // Fraction of cash invested by a buy action.
	TransactionFee      float64 `json:"transaction_fee" yaml:"transaction_fee"`           // Fraction charged on every buy and sell.
	ILPenaltyFactor     float64 `json:"il_penalty_factor" yaml:"il_penalty_factor"`       // Multiplier on the weighted IL penalty.
	RewardScale         float64 `json:"reward_scale" yaml:"reward_scale"`                 // Reward multiplier.
	EpisodeHorizon      int     `json:"episode_horizon" yaml:"episode_horizon"`           // Simulated days per episode.
	InitialCashUSD      float64 `json:"initial_cash_usd" yaml:"initial_cash_usd"`         // Starting cash of a simulated portfolio.
	TvlScaleLog         float64 `json:"tvl_scale_log" yaml:"tvl_scale_log"`               // log1p(TVL) is divided by this.
	VolumeScaleLog      float64 `json:"volume_scale_log" yaml:"volume_scale_log"`         // log1p(7d volume) is divided by this.
	SyntheticVolatility float64 `json:"synthetic_volatility" yaml:"synthetic_volatility"` // Daily price volatility for generated series.

	// --- Rule-Based Ranking ---
	ProfileWeights   map[RiskProfile]ProfileWeights `json:"profile_weights" yaml:"profile_weights"`
	AllocationCurves map[RiskProfile][]float64      `json:"allocation_curves" yaml:"allocation_curves"` // Percent per rank.

	// --- Composite Signal ---
	HighPredictionWeight   float64 `json:"high_prediction_weight" yaml:"high_prediction_weight"`     // Prediction share of profile_high.
	StablePredictionWeight float64 `json:"stable_prediction_weight" yaml:"stable_prediction_weight"` // Prediction share of profile_stable.

	// --- Rebalancing ---
	RebalanceThresholdPercent   float64 `json:"rebalance_threshold_percent" yaml:"rebalance_threshold_percent"`
	MaxRebalancePercentPerCycle float64 `json:"max_rebalance_percent_per_cycle" yaml:"max_rebalance_percent_per_cycle"`

	// --- Learning ---
	RL RLParameters `json:"rl" yaml:"rl"`
}

// PoolScore is the rule-based score of one pool with its normalized components.
type PoolScore struct {
	PoolID     PoolID  `json:"pool_id"`
	Score      float64 `json:"final_score"`
	Components struct {
		NormalizedAPR float64 `json:"normalized_apr"`
		NormalizedTVL float64 `json:"normalized_tvl"`
		NormalizedAge float64 `json:"normalized_age"`
	} `json:"components"`
}
