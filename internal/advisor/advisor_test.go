package advisor

import (
	"context"
	"testing"
	"time"

	"github.com/elys-network/lpadvisor/internal/broker"
	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/datafetcher"
	"github.com/elys-network/lpadvisor/internal/lifecycle"
	"github.com/elys-network/lpadvisor/internal/scheduler"
	"github.com/elys-network/lpadvisor/internal/session"
	"github.com/elys-network/lpadvisor/internal/signals"
	"github.com/elys-network/lpadvisor/internal/simulations"
	"github.com/elys-network/lpadvisor/internal/state/memory"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/elys-network/lpadvisor/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	deepPool types.PoolID = "ATOM-USDC"
	hotPool  types.PoolID = "OSMO-USDC"
)

func testMarket() simulations.Market {
	now := time.Now().UTC().Truncate(time.Hour)
	pools := []types.Pool{
		{ID: deepPool, TokenA: types.Token{Symbol: "ATOM", Decimals: 6, PriceUSD: 10}, TokenB: types.Token{Symbol: "USDC", Decimals: 6, PriceUSD: 1}, SwapFee: 0.003, AgeInDays: 400},
		{ID: hotPool, TokenA: types.Token{Symbol: "OSMO", Decimals: 6, PriceUSD: 0.5}, TokenB: types.Token{Symbol: "USDC", Decimals: 6, PriceUSD: 1}, SwapFee: 0.003, AgeInDays: 30},
	}
	point := func(at time.Time, apr, tvl, priceA float64) types.PoolHistoryPoint {
		return types.PoolHistoryPoint{Timestamp: at, APR: apr, TvlUSD: tvl, Volume24hUSD: tvl / 20, PriceA: priceA, PriceB: 1}
	}
	return simulations.Market{
		Pools: pools,
		Series: [][]types.PoolHistoryPoint{
			{point(now.Add(-24*time.Hour), 12, 8_900_000, 10), point(now, 12, 8_900_000, 10)},
			{point(now.Add(-24*time.Hour), 85, 350_000, 0.5), point(now, 85, 350_000, 0.5)},
		},
	}
}

type harness struct {
	advisor  *Advisor
	provider *datafetcher.SyntheticProvider
	store    *memory.Store
	executor *vault.PaperExecutor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tuning := config.DefaultTuning
	provider := datafetcher.NewSyntheticProviderFromMarket(testMarket(), 1)
	for _, sym := range []string{"ATOM", "OSMO", "USDC"} {
		provider.SetSentiment(sym, 0.3)
	}
	store := memory.NewStore()
	manager, err := lifecycle.NewManager(lifecycle.Config{
		Pools: provider, Positions: store, Signals: store, Alerts: store, Tuning: tuning,
	})
	require.NoError(t, err)
	executor := vault.NewPaperExecutor(30 * time.Minute)

	a, err := New(Config{
		Provider:      provider,
		Store:         store,
		Broker:        broker.New(broker.Config{Tuning: tuning, Strategy: "rule"}),
		Aggregator:    signals.NewAggregator(provider, store, tuning),
		Lifecycle:     manager,
		Executor:      executor,
		Sessions:      session.NewStore(100, time.Minute),
		MinPoolTvlUSD: 10_000,
	})
	require.NoError(t, err)
	return &harness{advisor: a, provider: provider, store: store, executor: executor}
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Config{MinPoolTvlUSD: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data provider cannot be nil")
	assert.Contains(t, err.Error(), "minimum pool TVL cannot be negative")
}

func TestExecuteWithoutRecommendation(t *testing.T) {
	h := newHarness(t)
	res := h.advisor.Execute(context.Background(), "alice", 100)
	assert.False(t, res.Success)
	assert.Equal(t, ErrNoRecentRecommendation.Error(), res.Error)
}

func TestRecommendReturnsBothProfiles(t *testing.T) {
	h := newHarness(t)
	res := h.advisor.Recommend(context.Background(), "alice", "high-risk", 1000)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.ProfileAggressive, res.Profile)

	require.NotNil(t, res.HigherReturn)
	require.NotNil(t, res.StableReturn)
	assert.Equal(t, hotPool, res.HigherReturn.Items[0].PoolID)
	assert.Equal(t, deepPool, res.StableReturn.Items[0].PoolID)
	assert.Len(t, res.Entry, len(res.HigherReturn.Items))

	// Signals were appended for the pools.
	sig, err := h.store.LatestSignal(context.Background(), hotPool)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, sig.SentimentScore, 1e-9)
}

func TestRecommendRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	res := h.advisor.Recommend(context.Background(), "alice", "yolo", 100)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)

	res = h.advisor.Recommend(context.Background(), "", "stable", 100)
	assert.False(t, res.Success)
}

func TestRecommendFallsBackToStoredPools(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.provider.SetOffline(true)
	res := h.advisor.Recommend(ctx, "alice", "stable", 100)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrNoMarketData.Error())

	h.provider.SetOffline(false)
	require.True(t, h.advisor.Recommend(ctx, "alice", "stable", 100).Success)

	h.provider.SetOffline(true)
	res = h.advisor.Recommend(ctx, "alice", "stable", 100)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, deepPool, res.StableReturn.Items[0].PoolID)
}

func TestFullPositionLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec := h.advisor.Recommend(ctx, "alice", "high-risk", 1000)
	require.True(t, rec.Success, rec.Error)

	exec := h.advisor.Execute(ctx, "alice", 500)
	require.True(t, exec.Success, exec.Error)
	require.NotNil(t, exec.Transaction)
	assert.Equal(t, types.IntentDeposit, exec.Transaction.Kind)
	assert.Equal(t, hotPool, exec.Transaction.PoolID)

	again := h.advisor.Execute(ctx, "alice", 500)
	assert.False(t, again.Success, "the session is consumed by execute")

	pos, err := h.store.GetPosition(ctx, exec.PositionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, pos.Status)
	assert.Equal(t, 85.0, pos.EntryAPR)
	assert.NotEmpty(t, pos.EntrySignalID)
	require.NotNil(t, pos.Pending)

	conf := h.advisor.Confirm(ctx, exec.PositionID, exec.Transaction.Payload)
	require.True(t, conf.Success, conf.Error)
	assert.Equal(t, types.StatusActive, conf.Status)
	assert.NotEmpty(t, conf.Signature)

	assert.Empty(t, h.advisor.MonitorPositions(ctx), "healthy position raises no alert")

	h.provider.SetPoolAPR(hotPool, 30)
	alerts := h.advisor.MonitorPositions(ctx)
	require.Len(t, alerts, 1)
	assert.Equal(t, exec.PositionID, alerts[0].PositionID)
	assert.Contains(t, alerts[0].ExitReason, "APR dropped")
	assert.Empty(t, h.advisor.MonitorPositions(ctx), "alert is deduplicated within the cooldown")

	positions := h.advisor.GetPositions(ctx, "alice")
	require.True(t, positions.Success)
	require.Len(t, positions.Positions, 1)
	assert.Equal(t, types.StatusMonitored, positions.Positions[0].Status)

	exit := h.advisor.Exit(ctx, "alice", "")
	require.True(t, exit.Success, exit.Error)
	require.NotNil(t, exit.Transaction)
	require.NotNil(t, exit.Verdict)
	assert.Equal(t, types.IntentExit, exit.Transaction.Kind)

	dup := h.advisor.Exit(ctx, "alice", exec.PositionID)
	assert.False(t, dup.Success)
	assert.Equal(t, ErrExitInProgress.Error(), dup.Error)

	done := h.advisor.Confirm(ctx, exec.PositionID, exit.Transaction.Payload)
	require.True(t, done.Success, done.Error)
	assert.Equal(t, types.StatusCompleted, done.Status)

	pos, err = h.store.GetPosition(ctx, exec.PositionID)
	require.NoError(t, err)
	assert.NotNil(t, pos.ExitedAt)
	assert.Nil(t, pos.Pending)
	assert.NotEmpty(t, pos.ExitSignalID)
}

func TestRejectedTransactionFailsPosition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.executor.Reject = func(vault.Intent) error { return assert.AnError }

	require.True(t, h.advisor.Recommend(ctx, "bob", "stable", 100).Success)
	exec := h.advisor.Execute(ctx, "bob", 100)
	require.True(t, exec.Success, exec.Error)

	conf := h.advisor.Confirm(ctx, exec.PositionID, exec.Transaction.Payload)
	assert.False(t, conf.Success)
	assert.Equal(t, types.StatusFailed, conf.Status)

	again := h.advisor.Confirm(ctx, exec.PositionID, exec.Transaction.Payload)
	assert.False(t, again.Success)
	assert.Equal(t, ErrNothingPending.Error(), again.Error)
}

func TestExitChecksOwnershipAndState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.advisor.Exit(ctx, "mallory", "")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrPositionNotFound.Error())

	require.True(t, h.advisor.Recommend(ctx, "alice", "stable", 100).Success)
	exec := h.advisor.Execute(ctx, "alice", 50)
	require.True(t, exec.Success)

	res = h.advisor.Exit(ctx, "mallory", exec.PositionID)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, ErrPositionNotFound.Error())

	res = h.advisor.Exit(ctx, "alice", exec.PositionID)
	assert.False(t, res.Success, "a PENDING position cannot exit")
	assert.Contains(t, res.Error, ErrPositionNotOpen.Error())
}

func TestExitActivePositionDirectly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.advisor.Recommend(ctx, "alice", "stable", 100).Success)
	exec := h.advisor.Execute(ctx, "alice", 50)
	require.True(t, h.advisor.Confirm(ctx, exec.PositionID, exec.Transaction.Payload).Success)

	res := h.advisor.Exit(ctx, "alice", "")
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Verdict)
	assert.False(t, res.Verdict.ShouldExit)

	pos, err := h.store.GetPosition(ctx, exec.PositionID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExiting, pos.Status)
}

func TestGetPositionsForUnknownUser(t *testing.T) {
	h := newHarness(t)
	res := h.advisor.GetPositions(context.Background(), "nobody")
	assert.True(t, res.Success)
	assert.NotNil(t, res.Positions)
	assert.Empty(t, res.Positions)
}

func TestRebalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.advisor.Recommend(ctx, "alice", "stable", 1000).Success)
	exec := h.advisor.Execute(ctx, "alice", 1000)
	require.True(t, h.advisor.Confirm(ctx, exec.PositionID, exec.Transaction.Payload).Success)

	res := h.advisor.Rebalance(ctx, "alice", "high-risk", 0)
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Exits, 1)
	assert.NotEmpty(t, res.Plan.Enter)
}

func TestRegisterTasks(t *testing.T) {
	h := newHarness(t)
	s := scheduler.New(nil)
	require.NoError(t, h.advisor.RegisterTasks(s, Intervals{
		Monitor:       15 * time.Minute,
		SignalRefresh: time.Hour,
	}))
	assert.Equal(t, []string{TaskMonitorPositions, TaskRefreshSignals}, s.Tasks())

	require.NoError(t, h.advisor.RefreshSignals(context.Background()))
	_, err := h.store.LatestSignal(context.Background(), deepPool)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	report := h.advisor.Health(context.Background())
	assert.True(t, report.Healthy)
	assert.Equal(t, broker.StrategyRule, report.Strategy)
	assert.False(t, report.Degraded)

	h.provider.SetOffline(true)
	assert.False(t, h.advisor.Health(context.Background()).Healthy)
}
