package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/state"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newPosition(id, user string, status types.PositionStatus, created time.Time) types.Position {
	return types.Position{
		ID:                id,
		UserID:            user,
		PoolID:            "pool-1",
		InvestedAmountUSD: 1000,
		Status:            status,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
}

func TestPositionCreateAndGet(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	p := newPosition("pos-1", "alice", types.StatusPending, t0)
	p.Overrides = &types.ThresholdOverrides{}
	require.NoError(t, store.CreatePosition(ctx, p))

	got, err := store.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, types.StatusPending, got.Status)

	// Mutating the returned copy must not leak into the store.
	got.Overrides.ILCeiling = new(float64)
	again, err := store.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	assert.Nil(t, again.Overrides.ILCeiling)
}

func TestPositionErrors(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	p := newPosition("pos-1", "alice", types.StatusPending, t0)
	require.NoError(t, store.CreatePosition(ctx, p))
	assert.ErrorIs(t, store.CreatePosition(ctx, p), state.ErrDuplicateKey)

	_, err := store.GetPosition(ctx, "missing")
	assert.ErrorIs(t, err, state.ErrNotFound)

	bad := newPosition("pos-2", "alice", types.StatusPending, t0)
	bad.InvestedAmountUSD = -1
	assert.ErrorIs(t, store.CreatePosition(ctx, bad), state.ErrInvalidInput)

	_, _, err = store.UpdatePosition(ctx, newPosition("missing", "alice", types.StatusActive, t0))
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestListPositions(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.CreatePosition(ctx, newPosition("b", "alice", types.StatusActive, t0.Add(time.Hour))))
	require.NoError(t, store.CreatePosition(ctx, newPosition("a", "alice", types.StatusPending, t0)))
	require.NoError(t, store.CreatePosition(ctx, newPosition("c", "bob", types.StatusMonitored, t0)))

	mine, err := store.ListPositionsByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "a", mine[0].ID)
	assert.Equal(t, "b", mine[1].ID)

	open, err := store.ListPositionsByStatus(ctx, types.StatusActive, types.StatusMonitored)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "c", open[0].ID)
}

func TestUpdatePositionVersioning(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreatePosition(ctx, newPosition("pos-1", "alice", types.StatusPending, t0)))

	first, err := store.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	stale := first

	first.Status = types.StatusActive
	updated, raced, err := store.UpdatePosition(ctx, first)
	require.NoError(t, err)
	assert.False(t, raced)
	assert.Equal(t, int64(2), updated.Version)

	// A writer holding the old version still wins but is flagged.
	stale.CurrentValueUSD = 42
	updated, raced, err = store.UpdatePosition(ctx, stale)
	require.NoError(t, err)
	assert.True(t, raced)
	assert.Equal(t, int64(3), updated.Version)

	got, err := store.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.CurrentValueUSD)
}

func TestSwapPositionRejectsStaleVersion(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.CreatePosition(ctx, newPosition("pos-1", "alice", types.StatusActive, t0)))

	read, err := store.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	stale := read

	read.Status = types.StatusMonitored
	swapped, err := store.SwapPosition(ctx, read)
	require.NoError(t, err)
	assert.Equal(t, int64(2), swapped.Version)

	stale.CurrentValueUSD = 42
	_, err = store.SwapPosition(ctx, stale)
	require.ErrorIs(t, err, state.ErrConcurrentUpdate)

	got, err := store.GetPosition(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusMonitored, got.Status)
	assert.NotEqual(t, 42.0, got.CurrentValueUSD)
	assert.Equal(t, int64(2), got.Version)

	_, err = store.SwapPosition(ctx, newPosition("missing", "alice", types.StatusActive, t0))
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestSignalLog(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, err := store.LatestSignal(ctx, "pool-1")
	assert.ErrorIs(t, err, state.ErrNotFound)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendSignal(ctx, types.CompositeSignal{
			ID:          string(rune('a' + i)),
			PoolID:      "pool-1",
			Timestamp:   t0.Add(time.Duration(i) * time.Hour),
			ProfileHigh: float64(i),
		}))
	}
	err = store.AppendSignal(ctx, types.CompositeSignal{ID: "a", PoolID: "pool-1"})
	assert.ErrorIs(t, err, state.ErrDuplicateKey)

	latest, err := store.LatestSignal(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, "c", latest.ID)

	history, err := store.SignalHistory(ctx, "pool-1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "c", history[0].ID)
	assert.Equal(t, "b", history[1].ID)
}

func TestAlertCooldown(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	cooldown := 12 * time.Hour

	alert := types.ExitAlert{ID: "a1", PositionID: "pos-1", UserID: "alice", PoolID: "pool-1", CreatedAt: t0}
	ok, err := store.TryRecordAlert(ctx, alert, cooldown)
	require.NoError(t, err)
	assert.True(t, ok)

	alert.ID, alert.CreatedAt = "a2", t0.Add(time.Hour)
	ok, err = store.TryRecordAlert(ctx, alert, cooldown)
	require.NoError(t, err)
	assert.False(t, ok)

	other := alert
	other.ID, other.PositionID = "a3", "pos-2"
	ok, err = store.TryRecordAlert(ctx, other, cooldown)
	require.NoError(t, err)
	assert.True(t, ok)

	alert.ID, alert.CreatedAt = "a4", t0.Add(13*time.Hour)
	ok, err = store.TryRecordAlert(ctx, alert, cooldown)
	require.NoError(t, err)
	assert.True(t, ok)

	alerts, err := store.ListAlerts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, "a4", alerts[0].ID)
}

func TestAlertCooldownConcurrent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.TryRecordAlert(ctx, types.ExitAlert{
				ID: string(rune('A' + i)), PositionID: "pos-1", UserID: "alice", CreatedAt: t0,
			}, time.Hour)
			assert.NoError(t, err)
			results <- ok
		}(i)
	}
	wg.Wait()
	close(results)

	recorded := 0
	for ok := range results {
		if ok {
			recorded++
		}
	}
	assert.Equal(t, 1, recorded)
}

func TestTuningVersions(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	_, err := store.LoadActiveTuning(ctx, "default")
	assert.ErrorIs(t, err, state.ErrNotFound)

	v1 := config.CloneTuning(config.DefaultTuning)
	_, err = store.SaveTuning(ctx, v1, "default", 1, true)
	require.NoError(t, err)

	v2 := config.CloneTuning(config.DefaultTuning)
	v2.TransactionFee = 0.01
	_, err = store.SaveTuning(ctx, v2, "default", 2, true)
	require.NoError(t, err)

	_, err = store.SaveTuning(ctx, v2, "default", 2, false)
	assert.ErrorIs(t, err, state.ErrDuplicateKey)

	active, err := store.LoadActiveTuning(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 0.01, active.TransactionFee)
}

func TestRunCounterAndPools(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementRun(ctx, "monitor")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	require.NoError(t, store.UpsertPools(ctx, []types.Pool{{ID: "b", APR24h: 1}, {ID: "a"}}))
	require.NoError(t, store.UpsertPools(ctx, []types.Pool{{ID: "b", APR24h: 2}}))
	pools, err := store.ListPools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, types.PoolID("a"), pools[0].ID)
	assert.Equal(t, 2.0, pools[1].APR24h)
}

func TestPortfolioSummary(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	active := newPosition("a", "alice", types.StatusActive, t0)
	active.CurrentValueUSD = 1100
	require.NoError(t, store.CreatePosition(ctx, active))
	require.NoError(t, store.CreatePosition(ctx, newPosition("b", "bob", types.StatusCompleted, t0)))
	_, err := store.TryRecordAlert(ctx, types.ExitAlert{ID: "x", PositionID: "a", UserID: "alice", CreatedAt: t0}, time.Hour)
	require.NoError(t, err)

	summary, err := store.GetPortfolioSummary(ctx, t0.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Users)
	assert.Equal(t, 1, summary.PositionsByStatus[types.StatusActive])
	assert.Equal(t, 1000.0, summary.OpenInvestedUSD)
	assert.Equal(t, 1100.0, summary.OpenValueUSD)
	assert.Equal(t, 1, summary.AlertsSince)
}
