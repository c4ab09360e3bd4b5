package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/elys-network/lpadvisor/internal/types"
	"gopkg.in/yaml.v3"
)

var ErrInvalidTuning = errors.New("invalid tuning parameters")

// LoadTuningFile overlays a YAML file on top of base. Keys absent from the file keep
// the base value; a profile entry present in the file replaces that profile's entry whole.
func LoadTuningFile(path string, base types.TuningParameters) (types.TuningParameters, error) {
	out := CloneTuning(base)
	if path == "" {
		return out, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read tuning file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return base, fmt.Errorf("failed to parse tuning file %s: %w", path, err)
	}
	if err := ValidateTuning(out); err != nil {
		return base, err
	}
	return out, nil
}

// ValidateTuning rejects parameter sets the engine cannot run with.
func ValidateTuning(t types.TuningParameters) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

	check(finite(t.Exit.AprDropPercent) && t.Exit.AprDropPercent > 0 && t.Exit.AprDropPercent < 1,
		"exit.apr_drop_percent must be in (0,1), got %f", t.Exit.AprDropPercent)
	check(finite(t.Exit.SentimentFloor) && t.Exit.SentimentFloor >= -1 && t.Exit.SentimentFloor <= 1,
		"exit.sentiment_floor must be in [-1,1], got %f", t.Exit.SentimentFloor)
	check(finite(t.Exit.ILCeiling) && t.Exit.ILCeiling > 0 && t.Exit.ILCeiling < 1,
		"exit.il_ceiling must be in (0,1), got %f", t.Exit.ILCeiling)

	check(t.MaxPools > 0, "max_pools must be positive, got %d", t.MaxPools)
	check(finite(t.BuyFraction) && t.BuyFraction > 0 && t.BuyFraction <= 1,
		"buy_fraction must be in (0,1], got %f", t.BuyFraction)
	check(finite(t.TransactionFee) && t.TransactionFee >= 0 && t.TransactionFee < 1,
		"transaction_fee must be in [0,1), got %f", t.TransactionFee)
	check(finite(t.ILPenaltyFactor) && t.ILPenaltyFactor >= 0, "il_penalty_factor cannot be negative")
	check(finite(t.RewardScale) && t.RewardScale > 0, "reward_scale must be positive")
	check(t.EpisodeHorizon > 0, "episode_horizon must be positive, got %d", t.EpisodeHorizon)
	check(finite(t.InitialCashUSD) && t.InitialCashUSD > 0, "initial_cash_usd must be positive")
	check(t.TvlScaleLog > 0 && t.VolumeScaleLog > 0, "log scales must be positive")
	check(finite(t.SyntheticVolatility) && t.SyntheticVolatility >= 0, "synthetic_volatility cannot be negative")

	for _, profile := range []types.RiskProfile{types.ProfileConservative, types.ProfileModerate, types.ProfileAggressive} {
		w, ok := t.ProfileWeights[profile]
		check(ok, "profile_weights missing %s", profile)
		if ok {
			check(w.APR >= 0 && w.TVL >= 0 && w.Age >= 0 && w.APR+w.TVL+w.Age > 0,
				"profile_weights.%s must be non-negative and not all zero", profile)
		}

		curve, ok := t.AllocationCurves[profile]
		check(ok && len(curve) > 0, "allocation_curves missing %s", profile)
		sum := 0.0
		for _, pct := range curve {
			check(finite(pct) && pct >= 0, "allocation_curves.%s has invalid entry %f", profile, pct)
			sum += pct
		}
		check(sum <= 100.0000001, "allocation_curves.%s sums to %.2f%%, more than 100%%", profile, sum)
	}

	check(t.HighPredictionWeight >= 0 && t.HighPredictionWeight <= 1, "high_prediction_weight must be in [0,1]")
	check(t.StablePredictionWeight >= 0 && t.StablePredictionWeight <= 1, "stable_prediction_weight must be in [0,1]")
	check(t.RebalanceThresholdPercent >= 0, "rebalance_threshold_percent cannot be negative")
	check(t.MaxRebalancePercentPerCycle > 0 && t.MaxRebalancePercentPerCycle <= 100,
		"max_rebalance_percent_per_cycle must be in (0,100]")

	rl := t.RL
	check(len(rl.HiddenSizes) > 0, "rl.hidden_sizes cannot be empty")
	for _, h := range rl.HiddenSizes {
		check(h > 0, "rl.hidden_sizes entries must be positive, got %d", h)
	}
	check(rl.LearningRate > 0, "rl.learning_rate must be positive")
	check(rl.Gamma >= 0 && rl.Gamma <= 1, "rl.gamma must be in [0,1]")
	check(rl.EpsilonEnd >= 0 && rl.EpsilonEnd <= rl.EpsilonStart && rl.EpsilonStart <= 1,
		"rl epsilon must satisfy 0 <= end <= start <= 1")
	check(rl.EpsilonDecay > 0 && rl.EpsilonDecay <= 1, "rl.epsilon_decay must be in (0,1]")
	check(rl.BatchSize > 0, "rl.batch_size must be positive")
	check(rl.BufferCapacity >= rl.BatchSize, "rl.buffer_capacity must be at least batch_size")
	check(rl.TargetUpdateFreq > 0, "rl.target_update_freq must be positive")
	check(rl.GradClip > 0, "rl.grad_clip must be positive")
	check(rl.EntropyCoef >= 0, "rl.entropy_coef cannot be negative")
	check(rl.Confidence >= 0 && rl.Confidence <= 1, "rl.confidence must be in [0,1]")

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidTuning}, errs...)...)
	}
	return nil
}
