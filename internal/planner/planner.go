/*
Package planner turns target pool allocations into a rebalance plan.

Each pool involved (currently held or targeted) is compared against its target: a pool that
is not held becomes an enter, a held pool with no target becomes an exit, and held pools that
deviate from their target by more than the rebalance threshold become an increase or a
decrease. Decreases are then capped per cycle; exits and deposits are not.
*/
package planner

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidPortfolioValue = errors.New("portfolio value must be positive and finite")
	ErrInvalidTargets        = errors.New("target allocations contain invalid values")
	ErrInvalidPosition       = errors.New("position contains invalid values")
)

var planLogger = logger.GetForComponent("rebalance_planner")

// holding aggregates a user's open positions in one pool.
type holding struct {
	valueUSD    float64
	positionIDs []string
}

// PlanRebalance compares open positions with USD targets per pool. targets may leave pools
// out, which means a target of zero.
func PlanRebalance(
	positions []types.Position,
	targets map[types.PoolID]float64,
	totalValueUSD float64,
	tuning types.TuningParameters,
) (types.RebalancePlan, error) {
	if err := validateInputs(positions, targets, totalValueUSD); err != nil {
		planLogger.Error().Err(err).Msg("Input validation failed")
		return types.RebalancePlan{Error: err.Error()}, err
	}

	held := aggregateHoldings(positions)
	plan := analyzeRequiredChanges(held, targets, tuning, planLogger)
	plan.Decrease = applyRebalancingLimits(plan.Decrease, totalValueUSD, tuning, planLogger)
	plan.Success = true

	planLogger.Info().
		Int("enter", len(plan.Enter)).
		Int("increase", len(plan.Increase)).
		Int("decrease", len(plan.Decrease)).
		Int("exit", len(plan.Exit)).
		Msg("Rebalance plan generated")
	return plan, nil
}

func validateInputs(positions []types.Position, targets map[types.PoolID]float64, totalValueUSD float64) error {
	if math.IsNaN(totalValueUSD) || math.IsInf(totalValueUSD, 0) || totalValueUSD <= 0 {
		return fmt.Errorf("%w: %f", ErrInvalidPortfolioValue, totalValueUSD)
	}

	var sum float64
	for poolID, usd := range targets {
		if math.IsNaN(usd) || math.IsInf(usd, 0) || usd < 0 {
			return fmt.Errorf("%w: pool %s target %f", ErrInvalidTargets, poolID, usd)
		}
		sum += usd
	}
	// Allow for float rounding in the caller's allocation.
	if sum > totalValueUSD*(1+1e-9) {
		return fmt.Errorf("%w: targets total %.2f exceed portfolio value %.2f", ErrInvalidTargets, sum, totalValueUSD)
	}

	for _, p := range positions {
		if p.PoolID == "" {
			return fmt.Errorf("%w: position %s has no pool", ErrInvalidPosition, p.ID)
		}
		if math.IsNaN(p.CurrentValueUSD) || math.IsInf(p.CurrentValueUSD, 0) || p.CurrentValueUSD < 0 {
			return fmt.Errorf("%w: position %s value %f", ErrInvalidPosition, p.ID, p.CurrentValueUSD)
		}
	}
	return nil
}

// aggregateHoldings sums the live value of ACTIVE and MONITORED positions per pool.
func aggregateHoldings(positions []types.Position) map[types.PoolID]*holding {
	held := make(map[types.PoolID]*holding)
	for _, p := range positions {
		if p.Status != types.StatusActive && p.Status != types.StatusMonitored {
			continue
		}
		h, ok := held[p.PoolID]
		if !ok {
			h = &holding{}
			held[p.PoolID] = h
		}
		h.valueUSD += p.CurrentValueUSD
		h.positionIDs = append(h.positionIDs, p.ID)
	}
	return held
}

func analyzeRequiredChanges(
	held map[types.PoolID]*holding,
	targets map[types.PoolID]float64,
	tuning types.TuningParameters,
	log zerolog.Logger,
) types.RebalancePlan {
	plan := types.RebalancePlan{
		Enter:    []types.RebalanceAction{},
		Increase: []types.RebalanceAction{},
		Decrease: []types.RebalanceAction{},
		Exit:     []types.RebalanceAction{},
	}

	// Get all pools involved (current holdings + targets), in a stable order.
	poolIDs := make([]types.PoolID, 0, len(held)+len(targets))
	seen := make(map[types.PoolID]bool)
	for id := range held {
		poolIDs = append(poolIDs, id)
		seen[id] = true
	}
	for id := range targets {
		if !seen[id] {
			poolIDs = append(poolIDs, id)
		}
	}
	sort.Slice(poolIDs, func(i, j int) bool { return poolIDs[i] < poolIDs[j] })

	for _, poolID := range poolIDs {
		currentUSD := 0.0
		var positionID string
		if h, ok := held[poolID]; ok {
			currentUSD = h.valueUSD
			if len(h.positionIDs) == 1 {
				positionID = h.positionIDs[0]
			}
		}
		targetUSD := targets[poolID]
		action := types.RebalanceAction{
			PoolID:     poolID,
			PositionID: positionID,
			CurrentUSD: currentUSD,
			TargetUSD:  targetUSD,
			DeltaUSD:   targetUSD - currentUSD,
		}

		deltaPercentage := 0.0
		if targetUSD > 0 {
			deltaPercentage = action.DeltaUSD / targetUSD * 100
		} else if currentUSD > 0 {
			deltaPercentage = -100 // Complete exit
		}

		log.Debug().
			Str("poolID", string(poolID)).
			Float64("currentUSD", currentUSD).
			Float64("targetUSD", targetUSD).
			Float64("deltaPercentage", deltaPercentage).
			Float64("thresholdPercent", tuning.RebalanceThresholdPercent).
			Msg("Pool rebalancing analysis")

		switch {
		case currentUSD == 0 && targetUSD > 0:
			action.Reason = "Pool is in the target allocation but not held"
			plan.Enter = append(plan.Enter, action)
		case currentUSD > 0 && targetUSD == 0:
			action.Reason = "Pool is no longer in the target allocation"
			plan.Exit = append(plan.Exit, action)
		case deltaPercentage > tuning.RebalanceThresholdPercent:
			action.Reason = fmt.Sprintf("Holding is %.1f%% below target", deltaPercentage)
			plan.Increase = append(plan.Increase, action)
		case deltaPercentage < -tuning.RebalanceThresholdPercent:
			action.Reason = fmt.Sprintf("Holding is %.1f%% above target", -deltaPercentage)
			plan.Decrease = append(plan.Decrease, action)
		}
	}
	return plan
}

// applyRebalancingLimits caps the total withdrawn by decreases in one cycle at
// MaxRebalancePercentPerCycle of the portfolio. Withdrawals are scaled proportionally.
func applyRebalancingLimits(
	decreases []types.RebalanceAction,
	totalValueUSD float64,
	tuning types.TuningParameters,
	log zerolog.Logger,
) []types.RebalanceAction {
	if tuning.MaxRebalancePercentPerCycle <= 0 || len(decreases) == 0 {
		return decreases
	}
	maxWithdrawalUSD := totalValueUSD * tuning.MaxRebalancePercentPerCycle / 100

	totalWithdrawalUSD := 0.0
	for _, d := range decreases {
		totalWithdrawalUSD += math.Abs(d.DeltaUSD) // DeltaUSD is negative for decreases
	}
	if totalWithdrawalUSD <= maxWithdrawalUSD {
		return decreases
	}

	scalingFactor := maxWithdrawalUSD / totalWithdrawalUSD
	log.Warn().
		Float64("totalWithdrawalUSD", totalWithdrawalUSD).
		Float64("maxWithdrawalUSD", maxWithdrawalUSD).
		Float64("scalingFactor", scalingFactor).
		Msg("Withdrawals exceed the per-cycle limit, scaling decreases down")

	capped := make([]types.RebalanceAction, len(decreases))
	for i, d := range decreases {
		d.DeltaUSD *= scalingFactor
		d.TargetUSD = d.CurrentUSD + d.DeltaUSD
		capped[i] = d
	}
	return capped
}
