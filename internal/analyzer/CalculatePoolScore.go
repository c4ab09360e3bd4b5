/*

This file contains the rule-based pool scorer used whenever the learned strategy is
unavailable or declines to act.

Each feature is min-max normalized across the candidate set, so scores are relative to the
pools being compared rather than absolute.

*/

package analyzer

import (
	"errors"
	"fmt"
	"math"

	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/types"
)

var ErrInvalidPoolData = errors.New("invalid pool data")
var ErrInvalidScoringParameters = errors.New("invalid scoring parameters")
var scoreLogger = logger.GetForComponent("pool_scorer")

// neutralScore is used for a feature that does not vary across the candidate set.
const neutralScore = 0.5

// ScorePools computes the weighted rule-based score of every valid pool.
// Pools failing validation are skipped and logged; the returned slice preserves input order.
func ScorePools(pools []types.Pool, profile types.RiskProfile, tuning types.TuningParameters) ([]types.PoolScore, error) {
	weights, ok := tuning.ProfileWeights[profile]
	if !ok {
		return nil, fmt.Errorf("%w: no weights for profile %q", ErrInvalidScoringParameters, profile)
	}
	if err := validateWeights(weights); err != nil {
		return nil, errors.Join(ErrInvalidScoringParameters, err)
	}

	valid := make([]types.Pool, 0, len(pools))
	for _, pool := range pools {
		if err := ValidatePoolData(pool); err != nil {
			scoreLogger.Warn().
				Str("poolID", string(pool.ID)).
				Err(err).
				Msg("Skipping pool that failed validation")
			continue
		}
		valid = append(valid, pool)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	aprs := make([]float64, len(valid))
	tvls := make([]float64, len(valid))
	ages := make([]float64, len(valid))
	for i, pool := range valid {
		aprs[i] = pool.APR()
		tvls[i] = math.Log1p(pool.TvlUSD)
		ages[i] = float64(pool.AgeInDays)
	}
	nAPR := minMaxNormalize(aprs)
	nTVL := minMaxNormalize(tvls)
	nAge := minMaxNormalize(ages)

	scores := make([]types.PoolScore, len(valid))
	for i, pool := range valid {
		s := types.PoolScore{PoolID: pool.ID}
		s.Components.NormalizedAPR = nAPR[i]
		s.Components.NormalizedTVL = nTVL[i]
		s.Components.NormalizedAge = nAge[i]
		s.Score = weights.APR*nAPR[i] + weights.TVL*nTVL[i] + weights.Age*nAge[i]
		scores[i] = s

		scoreLogger.Debug().
			Str("poolID", string(pool.ID)).
			Str("profile", string(profile)).
			Float64("normAPR", nAPR[i]).
			Float64("normTVL", nTVL[i]).
			Float64("normAge", nAge[i]).
			Float64("score", s.Score).
			Msg("Pool scored")
	}
	return scores, nil
}

// minMaxNormalize maps values onto [0,1]. A constant series maps to neutralScore.
func minMaxNormalize(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	for i, v := range values {
		if span <= 1e-12 {
			out[i] = neutralScore
			continue
		}
		out[i] = (v - lo) / span
	}
	return out
}

// ValidatePoolData rejects pools whose metrics cannot be scored.
func ValidatePoolData(pool types.Pool) error {
	if pool.ID == "" {
		return errors.New("pool ID cannot be empty")
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"APR24h", pool.APR24h},
		{"APR7d", pool.APR7d},
		{"APR30d", pool.APR30d},
		{"TvlUSD", pool.TvlUSD},
		{"Volume24hUSD", pool.Volume24hUSD},
		{"Volume7dUSD", pool.Volume7dUSD},
	} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("pool %s: %s is not finite", pool.ID, f.name)
		}
		if f.value < 0 {
			return fmt.Errorf("pool %s: %s cannot be negative: %f", pool.ID, f.name, f.value)
		}
	}
	if pool.AgeInDays < 0 {
		return fmt.Errorf("pool %s: age cannot be negative: %d", pool.ID, pool.AgeInDays)
	}
	return nil
}

func validateWeights(w types.ProfileWeights) error {
	for _, v := range []float64{w.APR, w.TVL, w.Age} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("weights must be finite and non-negative: %+v", w)
		}
	}
	if w.APR+w.TVL+w.Age <= 0 {
		return errors.New("weights cannot all be zero")
	}
	return nil
}
