/*

This file contains ranking of scored pools and the per-profile allocation curve used to
size positions over the ranked list.

*/

package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/types"
)

var poolSelectorLogger = logger.GetForComponent("pool_selector")

// RankPools orders pools by rule-based score, highest first. Ties keep input order.
func RankPools(pools []types.Pool, profile types.RiskProfile, tuning types.TuningParameters) ([]types.Pool, map[types.PoolID]types.PoolScore, error) {
	scores, err := ScorePools(pools, profile, tuning)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[types.PoolID]types.PoolScore, len(scores))
	for _, s := range scores {
		byID[s.PoolID] = s
	}

	ranked := make([]types.Pool, 0, len(scores))
	for _, pool := range pools {
		if _, ok := byID[pool.ID]; ok {
			ranked = append(ranked, pool)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return byID[ranked[i].ID].Score > byID[ranked[j].ID].Score
	})

	poolSelectorLogger.Debug().
		Str("profile", string(profile)).
		Int("candidates", len(pools)).
		Int("ranked", len(ranked)).
		Msg("Ranked pools")
	return ranked, byID, nil
}

// AllocationCurve returns the percentage allotted to each rank for a profile.
// Ranks beyond the curve get zero.
func AllocationCurve(profile types.RiskProfile, tuning types.TuningParameters, n int) ([]float64, error) {
	curve, ok := tuning.AllocationCurves[profile]
	if !ok {
		return nil, fmt.Errorf("%w: no allocation curve for profile %q", ErrInvalidScoringParameters, profile)
	}
	out := make([]float64, n)
	sum := 0.0
	for i := 0; i < n && i < len(curve); i++ {
		pct := curve[i]
		if math.IsNaN(pct) || pct < 0 {
			return nil, fmt.Errorf("%w: allocation curve entry %d is %f", ErrInvalidScoringParameters, i, pct)
		}
		sum += pct
		if sum > 100.0000001 {
			return nil, fmt.Errorf("%w: allocation curve for %q exceeds 100%%", ErrInvalidScoringParameters, profile)
		}
		out[i] = pct
	}
	return out, nil
}

// AllocateUSD turns percentages into dollar amounts over balanceUSD. The total never exceeds
// the balance: over-allocation is clipped, not an error.
func AllocateUSD(percents []float64, balanceUSD float64) []float64 {
	out := make([]float64, len(percents))
	if balanceUSD <= 0 || math.IsNaN(balanceUSD) || math.IsInf(balanceUSD, 0) {
		return out
	}

	total := 0.0
	for i, pct := range percents {
		out[i] = balanceUSD * pct / 100.0
		total += out[i]
	}
	if total > balanceUSD {
		scale := balanceUSD / total
		poolSelectorLogger.Warn().
			Float64("requestedUSD", total).
			Float64("balanceUSD", balanceUSD).
			Msg("Allocation exceeds balance, clipping")
		for i := range out {
			out[i] *= scale
		}
	}
	return out
}
