package broker

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/elys-network/lpadvisor/internal/analyzer"
	"github.com/elys-network/lpadvisor/internal/planner"
	"github.com/elys-network/lpadvisor/internal/signals"
	"github.com/elys-network/lpadvisor/internal/types"
)

const (
	// Entry needs the profile composite at or above this.
	entryCompositeFloor = 0.5
	// Pools thinner than this are never entered regardless of signal.
	entryMinTvlUSD = 50_000
	// A 24h APR below this share of the 7d APR counts as a falling yield.
	fallingAprRatio = 0.5
)

// ExitTiming evaluates one position against its exit thresholds. pool and signal may be nil
// when no fresh data exists; the position's last marks are used instead.
func (b *Broker) ExitTiming(pos types.Position, pool *types.Pool, signal *types.CompositeSignal) types.ExitVerdict {
	var sentiment *float64
	if signal != nil {
		s := signal.SentimentScore
		sentiment = &s
	}
	verdict := analyzer.EvaluateExit(analyzer.PositionExitInput(pos, pool, sentiment, b.tuning.Exit))
	verdict.PositionID = pos.ID
	verdict.PoolID = pos.PoolID
	return verdict
}

// EntryTiming decides whether now is a good moment to enter a pool for a profile.
func (b *Broker) EntryTiming(pool types.Pool, signal *types.CompositeSignal, profile types.RiskProfile) types.EntryVerdict {
	composite, sentiment := b.neutralComposite(pool.ID, profile)
	if signal != nil {
		composite = signal.ForProfile(profile)
		sentiment = signal.SentimentScore
	}

	var blockers []string
	if composite < entryCompositeFloor-1e-9 {
		blockers = append(blockers, fmt.Sprintf("composite signal %.2f is below %.2f", composite, entryCompositeFloor))
	}
	if sentiment < b.tuning.Exit.SentimentFloor {
		blockers = append(blockers, fmt.Sprintf("sentiment %.2f is below the %.2f floor", sentiment, b.tuning.Exit.SentimentFloor))
	}
	if pool.APR7d > 0 && pool.APR24h > 0 && pool.APR24h < fallingAprRatio*pool.APR7d {
		blockers = append(blockers, fmt.Sprintf("APR is falling (24h %.2f%% vs 7d %.2f%%)", pool.APR24h, pool.APR7d))
	}
	if pool.TvlUSD < entryMinTvlUSD {
		blockers = append(blockers, fmt.Sprintf("TVL $%.0f is too thin", pool.TvlUSD))
	}

	verdict := types.EntryVerdict{PoolID: pool.ID}
	if len(blockers) == 0 {
		verdict.ShouldEnter = true
		verdict.Confidence = clamp(0.5+0.5*composite, 0, 0.95)
		verdict.Explanation = fmt.Sprintf("Composite signal %.2f supports entering %s", composite, pool.Pair())
		return verdict
	}
	verdict.Confidence = clamp(0.5+0.1*float64(len(blockers)), 0, 0.9)
	verdict.Explanation = "Wait: " + strings.Join(blockers, "; ")
	return verdict
}

func (b *Broker) neutralComposite(poolID types.PoolID, profile types.RiskProfile) (float64, float64) {
	high, stable := signals.Combine(signals.NeutralPrediction, signals.NeutralSentiment, b.tuning)
	s := types.CompositeSignal{PoolID: poolID, ProfileHigh: high, ProfileStable: stable}
	return s.ForProfile(profile), signals.NeutralSentiment
}

// GetExitRecommendations evaluates every ACTIVE or MONITORED position of the user. sigs holds
// the fresh composite signals by pool; pools missing from it are evaluated without sentiment.
func (b *Broker) GetExitRecommendations(pools []types.Pool, user types.UserState, sigs map[types.PoolID]types.CompositeSignal) (verdicts []types.ExitVerdict) {
	verdicts = []types.ExitVerdict{}
	defer func() {
		if r := recover(); r != nil {
			brokerLogger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic while evaluating exits")
			verdicts = []types.ExitVerdict{}
		}
	}()

	byID := make(map[types.PoolID]types.Pool, len(pools))
	for _, p := range pools {
		byID[p.ID] = p
	}
	for _, pos := range user.Positions {
		if !pos.Status.IsOpen() {
			continue
		}
		var poolPtr *types.Pool
		if p, ok := byID[pos.PoolID]; ok {
			poolPtr = &p
		}
		var sigPtr *types.CompositeSignal
		if s, ok := sigs[pos.PoolID]; ok {
			sigPtr = &s
		}
		verdicts = append(verdicts, b.ExitTiming(pos, poolPtr, sigPtr))
	}
	return verdicts
}

// GetRebalanceRecommendations sizes the profile's recommendations against the user's whole
// portfolio and diffs them with current holdings. Pools whose positions should be exited get
// a zero target.
func (b *Broker) GetRebalanceRecommendations(pools []types.Pool, user types.UserState, profile types.RiskProfile, sigs map[types.PoolID]types.CompositeSignal) (plan types.RebalancePlan) {
	defer func() {
		if r := recover(); r != nil {
			brokerLogger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic while planning a rebalance")
			plan = types.RebalancePlan{Error: fmt.Sprintf("internal error while planning a rebalance: %v", r)}
		}
	}()

	total := user.TotalValueUSD()
	if total <= 0 {
		return types.RebalancePlan{Success: true}
	}

	whole := user
	whole.BalanceUSD = total
	set := b.GetPoolRecommendations(pools, whole, profile, 0)
	if !set.Success {
		return types.RebalancePlan{Error: set.Error}
	}

	targets := make(map[types.PoolID]float64, len(set.Items))
	for _, rec := range set.Items {
		if rec.AllocationUSD > 0 {
			targets[rec.PoolID] = rec.AllocationUSD
		}
	}

	var exits []string
	for _, v := range b.GetExitRecommendations(pools, user, sigs) {
		if v.ShouldExit {
			if _, ok := targets[v.PoolID]; ok {
				delete(targets, v.PoolID)
				exits = append(exits, string(v.PoolID))
			}
		}
	}
	if len(exits) > 0 {
		sort.Strings(exits)
		brokerLogger.Info().Strs("pools", exits).Msg("Exit conditions override rebalance targets")
	}

	plan, err := planner.PlanRebalance(user.Positions, targets, total, b.tuning)
	if err != nil {
		brokerLogger.Warn().Err(err).Str("user_id", user.UserID).Msg("Rebalance planning failed")
		return types.RebalancePlan{Error: err.Error()}
	}
	plan.Success = true
	return plan
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
