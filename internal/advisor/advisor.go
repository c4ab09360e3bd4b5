/*
Package advisor is the façade the chat and web layers talk to. It coordinates recommend,
execute hand-off, position monitoring and exit hand-off per user, and keeps each user's last
recommendation in a short-lived session that execute consumes.

No method returns an error or panics to its caller; failures come back as results with
Success false and a message.
*/
package advisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/elys-network/lpadvisor/internal/broker"
	"github.com/elys-network/lpadvisor/internal/datafetcher"
	"github.com/elys-network/lpadvisor/internal/lifecycle"
	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/metrics"
	"github.com/elys-network/lpadvisor/internal/session"
	"github.com/elys-network/lpadvisor/internal/signals"
	"github.com/elys-network/lpadvisor/internal/state"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/elys-network/lpadvisor/internal/vault"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultTopN = 5

// Advisor holds every collaborator of the recommendation flow.
type Advisor struct {
	logger     zerolog.Logger
	provider   datafetcher.Provider
	store      state.Store
	broker     *broker.Broker
	aggregator *signals.Aggregator
	lifecycle  *lifecycle.Manager
	executor   vault.Executor
	sessions   *session.Store
	metrics    *metrics.Metrics

	minTvlUSD float64
	freshness time.Duration
	topN      int
	now       func() time.Time
}

// Config holds the dependencies for creating an Advisor.
type Config struct {
	Provider   datafetcher.Provider
	Store      state.Store
	Broker     *broker.Broker
	Aggregator *signals.Aggregator
	Lifecycle  *lifecycle.Manager
	Executor   vault.Executor
	Sessions   *session.Store
	Metrics    *metrics.Metrics

	MinPoolTvlUSD float64
	Freshness     time.Duration // Signals older than this are recomputed. Zero means lifecycle.DefaultFreshness
	TopN          int           // Recommendations per set. Zero means 5
}

func New(cfg Config) (*Advisor, error) {
	if err := validateAdvisorConfig(cfg); err != nil {
		return nil, fmt.Errorf("advisor configuration validation failed: %w", err)
	}
	a := &Advisor{
		logger:     logger.GetForComponent("advisor"),
		provider:   cfg.Provider,
		store:      cfg.Store,
		broker:     cfg.Broker,
		aggregator: cfg.Aggregator,
		lifecycle:  cfg.Lifecycle,
		executor:   cfg.Executor,
		sessions:   cfg.Sessions,
		metrics:    cfg.Metrics,
		minTvlUSD:  cfg.MinPoolTvlUSD,
		freshness:  cfg.Freshness,
		topN:       cfg.TopN,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if a.freshness <= 0 {
		a.freshness = lifecycle.DefaultFreshness
	}
	if a.topN <= 0 {
		a.topN = defaultTopN
	}

	a.logger.Info().
		Str("strategy", a.broker.StrategyName()).
		Float64("minPoolTvlUSD", a.minTvlUSD).
		Dur("signalFreshness", a.freshness).
		Msg("Advisor created")
	return a, nil
}

func validateAdvisorConfig(cfg Config) error {
	var errs []error
	if cfg.Provider == nil {
		errs = append(errs, errors.New("data provider cannot be nil"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("store cannot be nil"))
	}
	if cfg.Broker == nil {
		errs = append(errs, errors.New("broker cannot be nil"))
	}
	if cfg.Aggregator == nil {
		errs = append(errs, errors.New("signal aggregator cannot be nil"))
	}
	if cfg.Lifecycle == nil {
		errs = append(errs, errors.New("lifecycle manager cannot be nil"))
	}
	if cfg.Executor == nil {
		errs = append(errs, errors.New("executor cannot be nil"))
	}
	if cfg.Sessions == nil {
		errs = append(errs, errors.New("session store cannot be nil"))
	}
	if cfg.MinPoolTvlUSD < 0 {
		errs = append(errs, errors.New("minimum pool TVL cannot be negative"))
	}
	return errors.Join(errs...)
}

// recoverPanic turns a panic in a public method into a failed result through fail.
func (a *Advisor) recoverPanic(op string, fail func(msg string)) {
	if r := recover(); r != nil {
		a.logger.Error().
			Str("op", op).
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("Recovered panic")
		fail(fmt.Sprintf("internal error during %s", op))
	}
}

// Recommend ranks pools for both return profiles and remembers them for a later Execute.
// balanceUSD sizes the allocations; zero leaves only percentages meaningful.
func (a *Advisor) Recommend(ctx context.Context, userID, profile string, balanceUSD float64) (res RecommendResult) {
	res.UserID = userID
	defer a.recoverPanic("recommend", func(msg string) { res = RecommendResult{UserID: userID, Error: msg} })

	p, err := types.ParseRiskProfile(profile)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if userID == "" {
		res.Error = "user id is required"
		return res
	}
	if balanceUSD < 0 {
		res.Error = ErrInvalidAmount.Error()
		return res
	}
	res.Profile = p

	unlock := a.sessions.Lock(userID)
	defer unlock()

	reqLogger := a.logger.With().Str("user_id", userID).Str("profile", string(p)).Logger()

	var (
		pools     []types.Pool
		positions []types.Position
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pools, err = a.loadPools(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = a.store.ListPositionsByUser(gctx, userID)
		if err != nil {
			return fmt.Errorf("loading positions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		reqLogger.Error().Err(err).Msg("Recommendation failed")
		res.Error = err.Error()
		return res
	}

	sigs := a.signalsFor(ctx, pools)
	user := types.UserState{UserID: userID, BalanceUSD: balanceUSD, Positions: positions}

	higherProfile := types.ProfileAggressive
	if p == types.ProfileModerate {
		higherProfile = types.ProfileModerate
	}
	higher := a.broker.GetPoolRecommendations(pools, user, higherProfile, a.topN)
	stable := a.broker.GetPoolRecommendations(pools, user, types.ProfileConservative, a.topN)
	if !higher.Success && !stable.Success {
		res.Error = errors.Join(errors.New(higher.Error), errors.New(stable.Error)).Error()
		return res
	}
	res.HigherReturn = &higher
	res.StableReturn = &stable

	sess := session.Session{
		UserID:        userID,
		Profile:       p,
		HigherReturn:  higher,
		StableReturn:  stable,
		SignalIDs:     make(map[types.PoolID]string, len(sigs)),
		RecommendedAt: a.now(),
	}
	for id, sig := range sigs {
		sess.SignalIDs[id] = sig.ID
	}

	byID := poolIndex(pools)
	for _, item := range sess.Primary().Items {
		var sigPtr *types.CompositeSignal
		if sig, ok := sigs[item.PoolID]; ok {
			sigPtr = &sig
		}
		res.Entry = append(res.Entry, a.broker.EntryTiming(byID[item.PoolID], sigPtr, p))
	}

	a.sessions.Put(sess)
	res.Success = true

	reqLogger.Info().
		Int("pools", len(pools)).
		Int("higherReturn", len(higher.Items)).
		Int("stableReturn", len(stable.Items)).
		Str("strategy", higher.Strategy).
		Bool("degraded", higher.Degraded).
		Msg("Recommendations generated")
	return res
}

// Execute turns the user's last recommendation into a deposit intent for its top pool and
// records a PENDING position. The session is consumed on success.
func (a *Advisor) Execute(ctx context.Context, userID string, amountUSD float64) (res ExecuteResult) {
	defer a.recoverPanic("execute", func(msg string) { res = ExecuteResult{Error: msg} })

	if amountUSD <= 0 {
		res.Error = fmt.Sprintf("%s: got %.2f", ErrInvalidAmount, amountUSD)
		return res
	}

	unlock := a.sessions.Lock(userID)
	defer unlock()

	sess, ok := a.sessions.Get(userID)
	if !ok {
		res.Error = ErrNoRecentRecommendation.Error()
		return res
	}
	set := sess.Primary()
	if len(set.Items) == 0 {
		res.Error = "the last recommendation contained no pools"
		return res
	}
	top := set.Items[0]

	pool, err := a.findPool(ctx, top.PoolID)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	amounts, err := vault.DepositAmounts(pool, amountUSD)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	whole, err := vault.WholeTokens(amounts)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	intent, err := a.executor.BuildDepositTx(ctx, pool.ID, amountUSD, amounts)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	now := a.now()
	pos := types.Position{
		ID:                uuid.NewString(),
		UserID:            userID,
		PoolID:            pool.ID,
		InvestedAmountUSD: amountUSD,
		TokenAAmount:      whole[0],
		TokenBAmount:      whole[1],
		Status:            types.StatusPending,
		CurrentValueUSD:   amountUSD,
		CurrentAPR:        pool.APR(),
		EntryAPR:          pool.APR(),
		EntryPriceA:       pool.TokenA.PriceUSD,
		EntryPriceB:       pool.TokenB.PriceUSD,
		EntrySignalID:     sess.SignalIDs[pool.ID],
		Pending:           pendingFor(intent),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := a.store.CreatePosition(ctx, pos); err != nil {
		res.Error = fmt.Sprintf("recording position: %v", err)
		return res
	}
	a.sessions.Delete(userID)

	a.logger.Info().
		Str("user_id", userID).
		Str("position_id", pos.ID).
		Str("pool_id", string(pool.ID)).
		Str("intent_id", intent.ID).
		Float64("usd", amountUSD).
		Bool("rlRecommended", top.RLRecommended).
		Msg("Deposit intent created")

	return ExecuteResult{Success: true, PositionID: pos.ID, Transaction: &intent}
}

func pendingFor(intent vault.Intent) *types.PendingIntent {
	return &types.PendingIntent{
		IntentID:  intent.ID,
		Kind:      intent.Kind,
		Payload:   intent.Payload,
		CreatedAt: intent.CreatedAt,
		ExpiresAt: intent.ExpiresAt,
	}
}

// loadPools returns current pools above the TVL floor. When the provider fails it falls back
// to the last stored snapshot; ErrNoMarketData means neither source had anything.
func (a *Advisor) loadPools(ctx context.Context) ([]types.Pool, error) {
	filters := types.PoolFilters{MinTvlUSD: a.minTvlUSD}
	pools, err := a.provider.FetchPools(ctx, filters)
	if err == nil {
		if len(pools) > 0 {
			if uerr := a.store.UpsertPools(ctx, pools); uerr != nil {
				a.logger.Warn().Err(uerr).Msg("Failed to store pool snapshot")
			}
		}
		return pools, nil
	}

	a.logger.Warn().Err(err).Msg("Provider failed, using stored pool snapshot")
	stored, serr := a.store.ListPools(ctx)
	if serr != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoMarketData, errors.Join(err, serr))
	}
	kept := stored[:0]
	for _, p := range stored {
		if p.TvlUSD >= filters.MinTvlUSD {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoMarketData, err)
	}
	return kept, nil
}

// findPool looks a pool up in the stored snapshot, then at the provider.
func (a *Advisor) findPool(ctx context.Context, id types.PoolID) (types.Pool, error) {
	if stored, err := a.store.ListPools(ctx); err == nil {
		for _, p := range stored {
			if p.ID == id {
				return p, nil
			}
		}
	}
	pools, err := a.provider.FetchPools(ctx, types.PoolFilters{})
	if err != nil {
		return types.Pool{}, fmt.Errorf("pool %s: %w", id, err)
	}
	for _, p := range pools {
		if p.ID == id {
			return p, nil
		}
	}
	return types.Pool{}, fmt.Errorf("pool %s is not available", id)
}

// signalsFor returns a fresh signal per pool, reusing stored ones and refreshing the rest.
// Pools without any signal are simply absent from the map.
func (a *Advisor) signalsFor(ctx context.Context, pools []types.Pool) map[types.PoolID]types.CompositeSignal {
	out := make(map[types.PoolID]types.CompositeSignal, len(pools))
	var missing []types.Pool
	for _, p := range pools {
		sig, fresh, err := a.aggregator.Latest(ctx, p.ID, a.freshness)
		if err != nil {
			a.logger.Debug().Err(err).Str("pool_id", string(p.ID)).Msg("Could not read stored signal")
		}
		if fresh {
			out[p.ID] = sig
			continue
		}
		missing = append(missing, p)
	}
	if len(missing) == 0 {
		return out
	}

	refreshed, err := a.aggregator.Refresh(ctx, missing)
	if err != nil {
		a.logger.Warn().Err(err).Int("pools", len(missing)).Msg("Signal refresh incomplete")
	}
	for _, sig := range refreshed {
		out[sig.PoolID] = sig
	}
	return out
}

func poolIndex(pools []types.Pool) map[types.PoolID]types.Pool {
	byID := make(map[types.PoolID]types.Pool, len(pools))
	for _, p := range pools {
		byID[p.ID] = p
	}
	return byID
}
