package state

import (
	"context"
	"time"

	"github.com/elys-network/lpadvisor/internal/types"
)

// PositionStore persists user positions.
type PositionStore interface {
	// CreatePosition inserts a new position. Returns ErrDuplicateKey if the ID exists.
	CreatePosition(ctx context.Context, p types.Position) error

	// GetPosition returns ErrNotFound if the position does not exist.
	GetPosition(ctx context.Context, id string) (types.Position, error)

	// ListPositionsByUser returns a user's positions, oldest first.
	ListPositionsByUser(ctx context.Context, userID string) ([]types.Position, error)

	// ListPositionsByStatus returns every position in one of the given states, oldest first.
	ListPositionsByStatus(ctx context.Context, statuses ...types.PositionStatus) ([]types.Position, error)

	// UpdatePosition writes p. p.Version must be the version that was read; if the stored
	// version moved on in the meantime the write still wins and raced is true.
	// The returned position carries the new version.
	UpdatePosition(ctx context.Context, p types.Position) (updated types.Position, raced bool, err error)

	// SwapPosition writes p only if the stored version still equals p.Version. Otherwise
	// nothing is written and the error wraps ErrConcurrentUpdate.
	SwapPosition(ctx context.Context, p types.Position) (types.Position, error)
}

// SignalStore is the append-only composite signal log.
type SignalStore interface {
	// AppendSignal returns ErrDuplicateKey if the signal ID already exists.
	AppendSignal(ctx context.Context, s types.CompositeSignal) error

	// LatestSignal returns the newest signal for a pool, or ErrNotFound.
	LatestSignal(ctx context.Context, poolID types.PoolID) (types.CompositeSignal, error)

	// SignalHistory returns up to limit signals for a pool, newest first.
	SignalHistory(ctx context.Context, poolID types.PoolID, limit int) ([]types.CompositeSignal, error)
}

// AlertStore records exit alerts and enforces per-position cooldowns.
type AlertStore interface {
	// TryRecordAlert stores the alert unless an alert for the same (user, position) was
	// recorded within cooldown of alert.CreatedAt. Returns whether the alert was stored.
	TryRecordAlert(ctx context.Context, alert types.ExitAlert, cooldown time.Duration) (bool, error)

	// ListAlerts returns a user's alerts, newest first.
	ListAlerts(ctx context.Context, userID string) ([]types.ExitAlert, error)
}

// PoolStore keeps the latest snapshot of every pool seen.
type PoolStore interface {
	UpsertPools(ctx context.Context, pools []types.Pool) error
	ListPools(ctx context.Context) ([]types.Pool, error)
}

// TuningStore versions tuning parameter sets.
type TuningStore interface {
	SaveTuning(ctx context.Context, params types.TuningParameters, configName string, version int, makeActive bool) (int64, error)
	// LoadActiveTuning returns ErrNotFound when no active set exists.
	LoadActiveTuning(ctx context.Context, configName string) (*types.TuningParameters, error)
}

// RunCounter hands out monotonically increasing run numbers per task name.
type RunCounter interface {
	IncrementRun(ctx context.Context, name string) (int, error)
}

// SummaryReader aggregates positions and alerts for dashboards.
type SummaryReader interface {
	GetPortfolioSummary(ctx context.Context, since time.Time) (*PortfolioSummary, error)
}

// Store bundles every persistence concern. Both the Postgres and in-memory
// implementations satisfy it.
type Store interface {
	PositionStore
	SignalStore
	AlertStore
	PoolStore
	TuningStore
	RunCounter
	SummaryReader
	Close() error
}
