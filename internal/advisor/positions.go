package advisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/elys-network/lpadvisor/internal/lifecycle"
	"github.com/elys-network/lpadvisor/internal/state"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/elys-network/lpadvisor/internal/vault"
)

// Exit hands off an exit intent for one of the user's open positions. With an empty
// positionID the user's MONITORED position is chosen, or their only open one.
func (a *Advisor) Exit(ctx context.Context, userID, positionID string) (res ExitResult) {
	defer a.recoverPanic("exit", func(msg string) { res = ExitResult{Error: msg} })

	unlock := a.sessions.Lock(userID)
	defer unlock()

	pos, err := a.choosePosition(ctx, userID, positionID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.PositionID = pos.ID
	switch {
	case pos.Status == types.StatusExiting:
		res.Error = ErrExitInProgress.Error()
		return res
	case !pos.Status.IsOpen():
		res.Error = fmt.Sprintf("%s: %s", ErrPositionNotOpen, pos.Status)
		return res
	}

	pool, err := a.findPool(ctx, pos.PoolID)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	var sigPtr *types.CompositeSignal
	if sig, err := a.store.LatestSignal(ctx, pos.PoolID); err == nil {
		sigPtr = &sig
		pos.ExitSignalID = sig.ID
	}
	verdict := a.broker.ExitTiming(pos, &pool, sigPtr)
	res.Verdict = &verdict

	amounts, err := vault.ExitAmounts(pos, pool)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	intent, err := a.executor.BuildExitTx(ctx, pos.ID, amounts)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	now := a.now()
	if pos.Status == types.StatusActive {
		if err := lifecycle.Transition(&pos, types.StatusMonitored, now); err != nil {
			res.Error = err.Error()
			return res
		}
	}
	if err := lifecycle.Transition(&pos, types.StatusExiting, now); err != nil {
		res.Error = err.Error()
		return res
	}
	pos.Pending = pendingFor(intent)

	if err := a.updatePosition(ctx, pos); err != nil {
		res.Error = err.Error()
		return res
	}

	a.logger.Info().
		Str("user_id", userID).
		Str("position_id", pos.ID).
		Str("intent_id", intent.ID).
		Bool("exitRecommended", verdict.ShouldExit).
		Msg("Exit intent created")

	res.Success = true
	res.Transaction = &intent
	return res
}

func (a *Advisor) choosePosition(ctx context.Context, userID, positionID string) (types.Position, error) {
	if positionID != "" {
		pos, err := a.store.GetPosition(ctx, positionID)
		if errors.Is(err, state.ErrNotFound) || (err == nil && pos.UserID != userID) {
			return types.Position{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
		}
		return pos, err
	}

	positions, err := a.store.ListPositionsByUser(ctx, userID)
	if err != nil {
		return types.Position{}, err
	}
	var open []types.Position
	for _, p := range positions {
		if p.Status == types.StatusMonitored {
			return p, nil
		}
		if p.Status.IsOpen() {
			open = append(open, p)
		}
	}
	switch len(open) {
	case 0:
		return types.Position{}, fmt.Errorf("%w: user %s has no open position", ErrPositionNotFound, userID)
	case 1:
		return open[0], nil
	default:
		return types.Position{}, ErrAmbiguousPosition
	}
}

// Confirm submits a signed transaction for a position's pending intent. Success moves the
// position to ACTIVE or COMPLETED; a rejected transaction moves it to FAILED. A transport
// error leaves the position untouched so the caller can retry.
func (a *Advisor) Confirm(ctx context.Context, positionID string, signedPayload []byte) (res ConfirmResult) {
	res.PositionID = positionID
	defer a.recoverPanic("confirm", func(msg string) { res = ConfirmResult{PositionID: positionID, Error: msg} })

	pos, err := a.store.GetPosition(ctx, positionID)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	unlock := a.sessions.Lock(pos.UserID)
	defer unlock()

	// Re-read under the user's lock.
	if pos, err = a.store.GetPosition(ctx, positionID); err != nil {
		res.Error = err.Error()
		return res
	}
	if pos.Pending == nil || (pos.Status != types.StatusPending && pos.Status != types.StatusExiting) {
		res.Error = ErrNothingPending.Error()
		res.Status = pos.Status
		return res
	}

	submitted, err := a.executor.SubmitTransaction(ctx, signedPayload)
	if err != nil {
		res.Error = fmt.Sprintf("submitting transaction: %v", err)
		res.Status = pos.Status
		return res
	}

	now := a.now()
	if submitted.Success {
		next := types.StatusActive
		if pos.Status == types.StatusExiting {
			next = types.StatusCompleted
		}
		if err := lifecycle.Transition(&pos, next, now); err != nil {
			res.Error = err.Error()
			return res
		}
		pos.Pending = nil
	} else {
		if err := lifecycle.Transition(&pos, types.StatusFailed, now); err != nil {
			res.Error = err.Error()
			return res
		}
		a.logger.Warn().
			Str("position_id", pos.ID).
			Str("error", submitted.Error).
			Msg("Transaction rejected, position marked FAILED")
	}

	if err := a.updatePosition(ctx, pos); err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = submitted.Success
	res.Status = pos.Status
	res.Signature = submitted.Signature
	res.Error = submitted.Error
	return res
}

func (a *Advisor) updatePosition(ctx context.Context, pos types.Position) error {
	expectedVersion := pos.Version
	updated, raced, err := a.store.UpdatePosition(ctx, pos)
	if err != nil {
		return fmt.Errorf("updating position: %w", err)
	}
	if raced {
		a.metrics.RecordStateRace()
		a.logger.Warn().
			Str("position_id", pos.ID).
			Int64("expected_version", expectedVersion).
			Int64("written_version", updated.Version).
			Msg("Concurrent position update detected, last write wins")
	}
	return nil
}

// GetPositions lists every position of a user, oldest first.
func (a *Advisor) GetPositions(ctx context.Context, userID string) (res PositionsResult) {
	res.Positions = []types.Position{}
	defer a.recoverPanic("get_positions", func(msg string) { res = PositionsResult{Positions: []types.Position{}, Error: msg} })

	positions, err := a.store.ListPositionsByUser(ctx, userID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if positions != nil {
		res.Positions = positions
	}
	res.Success = true
	return res
}

// MonitorPositions runs one lifecycle evaluation and returns the alerts it emitted.
func (a *Advisor) MonitorPositions(ctx context.Context) (alerts []types.ExitAlert) {
	alerts = []types.ExitAlert{}
	defer a.recoverPanic("monitor_positions", func(string) { alerts = []types.ExitAlert{} })

	run, err := a.store.IncrementRun(ctx, "monitor_positions")
	if err != nil {
		a.logger.Debug().Err(err).Msg("Could not increment monitor run counter")
	}
	report, err := a.lifecycle.EvaluatePositions(ctx)
	if err != nil {
		a.logger.Error().Err(err).Int("run", run).Msg("Position monitoring failed")
		return alerts
	}
	a.logger.Info().
		Int("run", run).
		Str("run_id", report.RunID).
		Int("alerts", len(report.Alerts)).
		Msg("Position monitoring completed")
	return report.Alerts
}

// Rebalance plans how the user's holdings should move toward the profile's allocation.
func (a *Advisor) Rebalance(ctx context.Context, userID, profile string, balanceUSD float64) (res RebalanceResult) {
	defer a.recoverPanic("rebalance", func(msg string) { res = RebalanceResult{Error: msg} })

	p, err := types.ParseRiskProfile(profile)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	pools, err := a.loadPools(ctx)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	positions, err := a.store.ListPositionsByUser(ctx, userID)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	sigs := make(map[types.PoolID]types.CompositeSignal)
	for _, pool := range pools {
		if sig, fresh, err := a.aggregator.Latest(ctx, pool.ID, a.freshness); err == nil && fresh {
			sigs[pool.ID] = sig
		}
	}

	user := types.UserState{UserID: userID, BalanceUSD: balanceUSD, Positions: positions}
	res.Plan = a.broker.GetRebalanceRecommendations(pools, user, p, sigs)
	res.Exits = a.broker.GetExitRecommendations(pools, user, sigs)
	res.Success = res.Plan.Success
	res.Error = res.Plan.Error
	return res
}
