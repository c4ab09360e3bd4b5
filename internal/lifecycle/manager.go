/*
Package lifecycle governs how positions move through their states and re-evaluates open
positions against their exit conditions.

A monitor run walks every ACTIVE and MONITORED position, refreshes its marks from the current
pool snapshot, and checks the exit rules using the pool's latest composite signal. Positions
whose signal is missing or stale keep their state. A triggered position moves to MONITORED and
gets an exit alert, unless one was already recorded within the cooldown.
*/
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/lpadvisor/internal/analyzer"
	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/metrics"
	"github.com/elys-network/lpadvisor/internal/simulations"
	"github.com/elys-network/lpadvisor/internal/state"
	"github.com/elys-network/lpadvisor/internal/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrStaleSignal = errors.New("composite signal is missing or stale")

const (
	DefaultAlertCooldown = 12 * time.Hour
	DefaultFreshness     = 2 * time.Hour
)

// PoolSource supplies current pool snapshots.
type PoolSource interface {
	FetchPools(ctx context.Context, filters types.PoolFilters) ([]types.Pool, error)
}

// Config holds the dependencies of a Manager.
type Config struct {
	Pools     PoolSource
	Positions state.PositionStore
	Signals   state.SignalStore
	Alerts    state.AlertStore
	Tuning    types.TuningParameters
	Cooldown  time.Duration // Zero means DefaultAlertCooldown
	Freshness time.Duration // Zero means DefaultFreshness
	Metrics   *metrics.Metrics
}

// Manager evaluates open positions. It is safe for concurrent use; concurrent runs on the same
// position resolve as last write wins and are reported as races.
type Manager struct {
	logger    zerolog.Logger
	pools     PoolSource
	positions state.PositionStore
	signals   state.SignalStore
	alerts    state.AlertStore
	tuning    types.TuningParameters
	cooldown  time.Duration
	freshness time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

// RunReport summarizes one monitor run.
type RunReport struct {
	RunID      string
	Evaluated  int
	Triggered  int
	Stale      int
	Alerts     []types.ExitAlert
	Suppressed int
	Races      int
}

func NewManager(cfg Config) (*Manager, error) {
	if err := validateManagerConfig(cfg); err != nil {
		return nil, fmt.Errorf("lifecycle manager configuration validation failed: %w", err)
	}
	m := &Manager{
		logger:    logger.GetForComponent("lifecycle"),
		pools:     cfg.Pools,
		positions: cfg.Positions,
		signals:   cfg.Signals,
		alerts:    cfg.Alerts,
		tuning:    cfg.Tuning,
		cooldown:  cfg.Cooldown,
		freshness: cfg.Freshness,
		metrics:   cfg.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if m.cooldown <= 0 {
		m.cooldown = DefaultAlertCooldown
	}
	if m.freshness <= 0 {
		m.freshness = DefaultFreshness
	}
	return m, nil
}

func validateManagerConfig(cfg Config) error {
	var errs []error
	if cfg.Pools == nil {
		errs = append(errs, errors.New("pool source cannot be nil"))
	}
	if cfg.Positions == nil {
		errs = append(errs, errors.New("position store cannot be nil"))
	}
	if cfg.Signals == nil {
		errs = append(errs, errors.New("signal store cannot be nil"))
	}
	if cfg.Alerts == nil {
		errs = append(errs, errors.New("alert store cannot be nil"))
	}
	if cfg.Cooldown < 0 || cfg.Freshness < 0 {
		errs = append(errs, errors.New("durations cannot be negative"))
	}
	return errors.Join(errs...)
}

// EvaluatePositions runs one monitor pass and returns the alerts that were emitted.
// Per-position failures are logged and skipped; only a failure to list positions or to get
// any pool data fails the run.
func (m *Manager) EvaluatePositions(ctx context.Context) (RunReport, error) {
	report := RunReport{RunID: uuid.NewString(), Alerts: []types.ExitAlert{}}
	runLogger := m.logger.With().Str("run_id", report.RunID).Logger()
	start := time.Now()

	open, err := m.positions.ListPositionsByStatus(ctx, types.StatusActive, types.StatusMonitored)
	if err != nil {
		return report, fmt.Errorf("listing open positions: %w", err)
	}
	if len(open) == 0 {
		runLogger.Debug().Msg("No open positions to evaluate")
		m.refreshCounts(ctx)
		return report, nil
	}

	pools, err := m.pools.FetchPools(ctx, types.PoolFilters{})
	if err != nil {
		return report, fmt.Errorf("fetching pools for evaluation: %w", err)
	}
	byID := make(map[types.PoolID]types.Pool, len(pools))
	for _, p := range pools {
		byID[p.ID] = p
	}

	for _, pos := range open {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := m.evaluate(ctx, pos, byID, runLogger)
		if err != nil {
			if errors.Is(err, ErrStaleSignal) {
				report.Stale++
			} else {
				runLogger.Error().Err(err).Str("position_id", pos.ID).Msg("Failed to evaluate position")
			}
			continue
		}
		report.Evaluated++
		if outcome.triggered {
			report.Triggered++
		}
		if outcome.raced {
			report.Races++
		}
		if outcome.alert != nil {
			report.Alerts = append(report.Alerts, *outcome.alert)
		} else if outcome.triggered {
			report.Suppressed++
		}
	}

	m.refreshCounts(ctx)
	runLogger.Info().
		Int("open", len(open)).
		Int("evaluated", report.Evaluated).
		Int("triggered", report.Triggered).
		Int("alerts", len(report.Alerts)).
		Int("suppressed", report.Suppressed).
		Int("stale", report.Stale).
		Dur("took", time.Since(start)).
		Msg("Position evaluation completed")
	return report, nil
}

type outcome struct {
	triggered bool
	raced     bool
	alert     *types.ExitAlert
}

func (m *Manager) evaluate(ctx context.Context, pos types.Position, pools map[types.PoolID]types.Pool, log zerolog.Logger) (outcome, error) {
	var out outcome
	posLogger := log.With().Str("position_id", pos.ID).Str("pool_id", string(pos.PoolID)).Logger()
	now := m.now()

	pool, ok := pools[pos.PoolID]
	if !ok {
		return out, fmt.Errorf("pool %s is missing from current data", pos.PoolID)
	}

	// Marks are refreshed even when the signal is stale so values stay current.
	marked := RefreshMarks(pos, pool)

	sig, err := m.signals.LatestSignal(ctx, pos.PoolID)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return out, fmt.Errorf("loading signal: %w", err)
	}
	if err != nil || !sig.Fresh(now, m.freshness) {
		posLogger.Warn().Time("signal_time", sig.Timestamp).Msg("Skipping exit evaluation, signal is stale")
		m.metrics.RecordStaleSignal()
		if marked != pos {
			res, err := m.save(ctx, marked, rebaseMarks(marked), posLogger)
			if err != nil {
				posLogger.Error().Err(err).Msg("Failed to persist refreshed marks")
			}
			out.raced = res.raced
		}
		return out, ErrStaleSignal
	}

	sentiment := sig.SentimentScore
	verdict := analyzer.EvaluateExit(analyzer.PositionExitInput(marked, &pool, &sentiment, m.tuning.Exit))
	out.triggered = verdict.ShouldExit

	if verdict.ShouldExit && marked.Status == types.StatusActive {
		if err := Transition(&marked, types.StatusMonitored, now); err != nil {
			return out, err
		}
		posLogger.Info().Str("reason", verdict.Explanation).Msg("Position moved to MONITORED")
	}

	if marked != pos {
		res, err := m.save(ctx, marked, rebaseMarks(marked), posLogger)
		if err != nil {
			return out, err
		}
		out.raced = res.raced
		if res.dropped {
			out.triggered = false
			posLogger.Info().Str("status", string(res.pos.Status)).Msg("Position left the open states during evaluation, no alert")
			return out, nil
		}
	}

	if !verdict.ShouldExit {
		return out, nil
	}

	alert := types.ExitAlert{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		UserID:     pos.UserID,
		PoolID:     pos.PoolID,
		ExitReason: verdict.Explanation,
		CreatedAt:  now,
	}
	stored, err := m.alerts.TryRecordAlert(ctx, alert, m.cooldown)
	if err != nil {
		return out, fmt.Errorf("recording alert: %w", err)
	}
	m.metrics.RecordAlert(stored)
	if !stored {
		posLogger.Debug().Dur("cooldown", m.cooldown).Msg("Exit alert suppressed by cooldown")
		return out, nil
	}
	posLogger.Warn().Str("user_id", pos.UserID).Str("reason", verdict.Explanation).Msg("Exit alert emitted")
	out.alert = &alert
	return out, nil
}

// maxSaveAttempts bounds how often a conflicting write is rebased and retried.
const maxSaveAttempts = 3

// rebaseFunc rebuilds a write on top of the freshly stored position. Returning false drops it.
type rebaseFunc func(stored types.Position) (types.Position, bool)

type saveResult struct {
	pos     types.Position
	raced   bool
	dropped bool
}

// save writes p with compare-and-swap. A conflicting writer always wins: the stored position
// is reloaded and rebase decides what, if anything, is still written on top of it.
func (m *Manager) save(ctx context.Context, p types.Position, rebase rebaseFunc, log zerolog.Logger) (saveResult, error) {
	var res saveResult
	for attempt := 1; ; attempt++ {
		updated, err := m.positions.SwapPosition(ctx, p)
		if err == nil {
			res.pos = updated
			return res, nil
		}
		if !errors.Is(err, state.ErrConcurrentUpdate) {
			return res, fmt.Errorf("updating position: %w", err)
		}
		if !res.raced {
			res.raced = true
			m.metrics.RecordStateRace()
		}

		stored, err := m.positions.GetPosition(ctx, p.ID)
		if err != nil {
			return res, fmt.Errorf("reloading position: %w", err)
		}
		next, ok := rebase(stored)
		log.Warn().
			Int64("expected_version", p.Version).
			Int64("stored_version", stored.Version).
			Str("stored_status", string(stored.Status)).
			Bool("rebased", ok).
			Msg("Concurrent position update detected")
		if !ok {
			res.pos = stored
			res.dropped = true
			return res, nil
		}
		if attempt == maxSaveAttempts {
			return res, fmt.Errorf("updating position %s: %w after %d attempts", p.ID, state.ErrConcurrentUpdate, attempt)
		}
		p = next
	}
}

// rebaseMarks carries refreshed marks, and an ACTIVE to MONITORED move, onto a position
// another writer changed. Anything that left the open states is left alone, and the stored
// pending intent is always kept.
func rebaseMarks(want types.Position) rebaseFunc {
	return func(stored types.Position) (types.Position, bool) {
		if !stored.Status.IsOpen() {
			return stored, false
		}
		next := stored
		next.CurrentValueUSD = want.CurrentValueUSD
		next.CurrentAPR = want.CurrentAPR
		next.ImpermanentLoss = want.ImpermanentLoss
		if want.Status != stored.Status && CanTransition(stored.Status, want.Status) {
			next.Status = want.Status
			next.UpdatedAt = want.UpdatedAt
		}
		return next, true
	}
}

// ExpirePending fails PENDING and EXITING positions whose transaction intent has expired.
// It returns the number of positions moved to FAILED.
func (m *Manager) ExpirePending(ctx context.Context) (int, error) {
	inflight, err := m.positions.ListPositionsByStatus(ctx, types.StatusPending, types.StatusExiting)
	if err != nil {
		return 0, fmt.Errorf("listing in-flight positions: %w", err)
	}
	now := m.now()
	expired := 0
	for _, pos := range inflight {
		if !pos.Pending.Expired(now) {
			continue
		}
		intent := pos.Pending.IntentID
		p := pos
		if err := Transition(&p, types.StatusFailed, now); err != nil {
			m.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Cannot expire position")
			continue
		}
		res, err := m.save(ctx, p, rebaseExpiry(pos.Status, now), m.logger.With().Str("position_id", pos.ID).Logger())
		if err != nil {
			m.logger.Error().Err(err).Str("position_id", pos.ID).Msg("Failed to persist expired position")
			continue
		}
		if res.dropped {
			continue
		}
		expired++
		m.logger.Warn().
			Str("position_id", pos.ID).
			Str("intent_id", intent).
			Str("from", string(pos.Status)).
			Msg("Transaction intent expired, position marked FAILED")
	}
	if expired > 0 {
		m.refreshCounts(ctx)
	}
	return expired, nil
}

// rebaseExpiry fails the stored position only if it is still waiting on an expired intent.
func rebaseExpiry(status types.PositionStatus, now time.Time) rebaseFunc {
	return func(stored types.Position) (types.Position, bool) {
		if stored.Status != status || !stored.Pending.Expired(now) {
			return stored, false
		}
		next := stored
		if err := Transition(&next, types.StatusFailed, now); err != nil {
			return stored, false
		}
		return next, true
	}
}

func (m *Manager) refreshCounts(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	all, err := m.positions.ListPositionsByStatus(ctx,
		types.StatusPending, types.StatusActive, types.StatusMonitored,
		types.StatusExiting, types.StatusCompleted, types.StatusFailed)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Could not refresh position gauges")
		return
	}
	counts := make(map[string]int)
	for _, p := range all {
		counts[string(p.Status)]++
	}
	m.metrics.SetPositionCounts(counts)
}

// RefreshMarks updates a position's current APR, IL and value from a pool snapshot. IL and
// value need the position's entry prices and are left alone without them.
func RefreshMarks(pos types.Position, pool types.Pool) types.Position {
	pos.CurrentAPR = pool.APR()
	if pos.EntryPriceA > 0 && pos.EntryPriceB > 0 && pool.TokenA.PriceUSD > 0 && pool.TokenB.PriceUSD > 0 {
		value, il := simulations.MarkValue(pos.InvestedAmountUSD, pos.EntryPriceA, pos.EntryPriceB, pool.TokenA.PriceUSD, pool.TokenB.PriceUSD)
		pos.CurrentValueUSD = value
		pos.ImpermanentLoss = -il
	}
	return pos
}
