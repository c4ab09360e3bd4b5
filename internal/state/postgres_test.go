package state

import (
	"context"
	"testing"
	"time"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a PostgreSQL container and applies the schema.
func setupTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	store, err := OpenPostgresDSN(ctx, dsn)
	require.NoError(t, err, "failed to open store")
	require.NoError(t, store.EnsureSchema(ctx))

	t.Cleanup(func() {
		store.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	return store
}

func TestPostgresPositionLifecycle(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	drop := 0.2
	p := types.Position{
		ID: "pos-1", UserID: "alice", PoolID: "pool-1",
		InvestedAmountUSD: 1000, Status: types.StatusPending,
		Overrides: &types.ThresholdOverrides{AprDropPercent: &drop},
		Pending: &types.PendingIntent{
			IntentID: "intent-1", Kind: types.IntentDeposit,
			Payload: []byte(`{"amount":1000}`), CreatedAt: now, ExpiresAt: now.Add(30 * time.Minute),
		},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreatePosition(ctx, p))
	assert.ErrorIs(t, store.CreatePosition(ctx, p), ErrDuplicateKey)

	got, err := store.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.Overrides)
	assert.Equal(t, 0.2, *got.Overrides.AprDropPercent)
	require.NotNil(t, got.Pending)
	assert.Equal(t, "intent-1", got.Pending.IntentID)

	stale := got
	got.Status = types.StatusActive
	got.Pending = nil
	updated, raced, err := store.UpdatePosition(ctx, got)
	require.NoError(t, err)
	assert.False(t, raced)
	assert.Equal(t, int64(2), updated.Version)

	_, raced, err = store.UpdatePosition(ctx, stale)
	require.NoError(t, err)
	assert.True(t, raced)

	current, err := store.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	_, err = store.SwapPosition(ctx, got)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	current.CurrentValueUSD = 1010
	swapped, err := store.SwapPosition(ctx, current)
	require.NoError(t, err)
	assert.Equal(t, current.Version+1, swapped.Version)

	byStatus, err := store.ListPositionsByStatus(ctx, types.StatusPending, types.StatusActive)
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)

	_, err = store.GetPosition(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresSignalsAreAppendOnly(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.AppendSignal(ctx, types.CompositeSignal{ID: "s1", PoolID: "pool-1", Timestamp: now.Add(-time.Hour)}))
	require.NoError(t, store.AppendSignal(ctx, types.CompositeSignal{ID: "s2", PoolID: "pool-1", Timestamp: now}))

	latest, err := store.LatestSignal(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, "s2", latest.ID)

	_, err = store.db.ExecContext(ctx, `UPDATE composite_signals SET profile_high = 1 WHERE signal_id = 's1'`)
	assert.Error(t, err)
}

func TestPostgresAlertCooldown(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alert := types.ExitAlert{ID: "a1", PositionID: "pos-1", UserID: "alice", PoolID: "pool-1", ExitReason: "APR dropped", CreatedAt: now}
	ok, err := store.TryRecordAlert(ctx, alert, 12*time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	alert.ID = "a2"
	alert.CreatedAt = now.Add(time.Hour)
	ok, err = store.TryRecordAlert(ctx, alert, 12*time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	alerts, err := store.ListAlerts(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestPostgresTuningPoolsAndRuns(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	_, err := store.LoadActiveTuning(ctx, "default")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.SaveTuning(ctx, config.DefaultTuning, "default", 1, true)
	require.NoError(t, err)
	_, err = store.SaveTuning(ctx, config.DefaultTuning, "default", 1, true)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	active, err := store.LoadActiveTuning(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTuning.TransactionFee, active.TransactionFee)

	require.NoError(t, store.UpsertPools(ctx, []types.Pool{{ID: "pool-1", APR24h: 0.1, TvlUSD: 1e6}}))
	require.NoError(t, store.UpsertPools(ctx, []types.Pool{{ID: "pool-1", APR24h: 0.2, TvlUSD: 1e6}}))
	pools, err := store.ListPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, 0.2, pools[0].APR24h)

	run, err := store.IncrementRun(ctx, "monitor")
	require.NoError(t, err)
	assert.Equal(t, 1, run)
	run, err = store.IncrementRun(ctx, "monitor")
	require.NoError(t, err)
	assert.Equal(t, 2, run)

	summary, err := store.GetPortfolioSummary(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Users)
}

func TestSummarizePositions(t *testing.T) {
	positions := []types.Position{
		{UserID: "a", Status: types.StatusActive, InvestedAmountUSD: 100, CurrentValueUSD: 90},
		{UserID: "a", Status: types.StatusMonitored, InvestedAmountUSD: 50, CurrentValueUSD: 60},
		{UserID: "b", Status: types.StatusFailed, InvestedAmountUSD: 500},
	}
	summary := SummarizePositions(positions, 3, time.Time{})
	assert.Equal(t, 2, summary.Users)
	assert.Equal(t, 150.0, summary.OpenInvestedUSD)
	assert.Equal(t, 150.0, summary.OpenValueUSD)
	assert.Equal(t, 3, summary.AlertsSince)
	assert.Equal(t, 1, summary.PositionsByStatus[types.StatusFailed])
}
