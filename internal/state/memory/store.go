// Package memory is an in-process implementation of state.Store, used by tests,
// training runs and deployments without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/state"
	"github.com/elys-network/lpadvisor/internal/types"
)

// Store keeps every table in maps guarded by a single RWMutex. Values are copied on
// the way in and out so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	positions map[string]types.Position
	signals   map[types.PoolID][]types.CompositeSignal
	signalIDs map[string]struct{}
	alerts    []types.ExitAlert
	pools     map[types.PoolID]types.Pool
	tuning    []tuningRow
	runs      map[string]int
	nextID    int64
}

type tuningRow struct {
	id         int64
	configName string
	version    int
	active     bool
	params     types.TuningParameters
}

var _ state.Store = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		positions: make(map[string]types.Position),
		signals:   make(map[types.PoolID][]types.CompositeSignal),
		signalIDs: make(map[string]struct{}),
		pools:     make(map[types.PoolID]types.Pool),
		runs:      make(map[string]int),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// CreatePosition inserts a new position. Returns ErrDuplicateKey if the ID exists.
func (s *Store) CreatePosition(_ context.Context, p types.Position) error {
	if p.ID == "" || p.UserID == "" || p.PoolID == "" {
		return fmt.Errorf("%w: position requires id, user_id and pool_id", state.ErrInvalidInput)
	}
	if p.InvestedAmountUSD < 0 {
		return fmt.Errorf("%w: invested_amount_usd cannot be negative", state.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[p.ID]; exists {
		return fmt.Errorf("%w: position %s", state.ErrDuplicateKey, p.ID)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	s.positions[p.ID] = copyPosition(p)
	return nil
}

// GetPosition returns ErrNotFound if the position does not exist.
func (s *Store) GetPosition(_ context.Context, id string) (types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.positions[id]
	if !exists {
		return types.Position{}, fmt.Errorf("%w: position %s", state.ErrNotFound, id)
	}
	return copyPosition(p), nil
}

// ListPositionsByUser returns a user's positions, oldest first.
func (s *Store) ListPositionsByUser(_ context.Context, userID string) ([]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.Position
	for _, p := range s.positions {
		if p.UserID == userID {
			result = append(result, copyPosition(p))
		}
	}
	sortPositions(result)
	return result, nil
}

// ListPositionsByStatus returns every position in one of the given states, oldest first.
func (s *Store) ListPositionsByStatus(_ context.Context, statuses ...types.PositionStatus) ([]types.Position, error) {
	want := make(map[types.PositionStatus]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.Position
	for _, p := range s.positions {
		if _, ok := want[p.Status]; ok {
			result = append(result, copyPosition(p))
		}
	}
	sortPositions(result)
	return result, nil
}

// UpdatePosition writes p with last-write-wins semantics.
func (s *Store) UpdatePosition(_ context.Context, p types.Position) (types.Position, bool, error) {
	if p.InvestedAmountUSD < 0 {
		return types.Position{}, false, fmt.Errorf("%w: invested_amount_usd cannot be negative", state.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.positions[p.ID]
	if !exists {
		return types.Position{}, false, fmt.Errorf("%w: position %s", state.ErrNotFound, p.ID)
	}
	raced := stored.Version != p.Version
	p.Version = stored.Version + 1
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	s.positions[p.ID] = copyPosition(p)
	return copyPosition(p), raced, nil
}

// SwapPosition writes p only if nobody wrote the position since p was read.
func (s *Store) SwapPosition(_ context.Context, p types.Position) (types.Position, error) {
	if p.InvestedAmountUSD < 0 {
		return types.Position{}, fmt.Errorf("%w: invested_amount_usd cannot be negative", state.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.positions[p.ID]
	if !exists {
		return types.Position{}, fmt.Errorf("%w: position %s", state.ErrNotFound, p.ID)
	}
	if stored.Version != p.Version {
		return types.Position{}, fmt.Errorf("%w: position %s is at version %d, not %d",
			state.ErrConcurrentUpdate, p.ID, stored.Version, p.Version)
	}
	p.Version = stored.Version + 1
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	s.positions[p.ID] = copyPosition(p)
	return copyPosition(p), nil
}

// AppendSignal adds a signal to the pool's log.
func (s *Store) AppendSignal(_ context.Context, sig types.CompositeSignal) error {
	if sig.ID == "" || sig.PoolID == "" {
		return fmt.Errorf("%w: signal requires id and pool_id", state.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.signalIDs[sig.ID]; exists {
		return fmt.Errorf("%w: signal %s", state.ErrDuplicateKey, sig.ID)
	}
	s.signalIDs[sig.ID] = struct{}{}
	s.signals[sig.PoolID] = append(s.signals[sig.PoolID], sig)
	return nil
}

// LatestSignal returns the newest signal for a pool, or ErrNotFound.
func (s *Store) LatestSignal(ctx context.Context, poolID types.PoolID) (types.CompositeSignal, error) {
	history, _ := s.SignalHistory(ctx, poolID, 1)
	if len(history) == 0 {
		return types.CompositeSignal{}, fmt.Errorf("%w: no signal for pool %s", state.ErrNotFound, poolID)
	}
	return history[0], nil
}

// SignalHistory returns up to limit signals for a pool, newest first. Ties on
// timestamp resolve to the later append.
func (s *Store) SignalHistory(_ context.Context, poolID types.PoolID, limit int) ([]types.CompositeSignal, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	s.mu.RLock()
	log := s.signals[poolID]
	result := make([]types.CompositeSignal, len(log))
	for i := range log {
		result[len(log)-1-i] = log[i]
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// TryRecordAlert stores the alert unless one for the same (user, position) is within cooldown.
func (s *Store) TryRecordAlert(_ context.Context, alert types.ExitAlert, cooldown time.Duration) (bool, error) {
	if alert.ID == "" || alert.PositionID == "" || alert.UserID == "" {
		return false, fmt.Errorf("%w: alert requires id, position_id and user_id", state.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := alert.CreatedAt.Add(-cooldown)
	for _, existing := range s.alerts {
		if existing.UserID == alert.UserID && existing.PositionID == alert.PositionID && existing.CreatedAt.After(cutoff) {
			return false, nil
		}
	}
	s.alerts = append(s.alerts, alert)
	return true, nil
}

// ListAlerts returns a user's alerts, newest first.
func (s *Store) ListAlerts(_ context.Context, userID string) ([]types.ExitAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.ExitAlert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		if s.alerts[i].UserID == userID {
			result = append(result, s.alerts[i])
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// UpsertPools replaces the stored snapshot of each pool.
func (s *Store) UpsertPools(_ context.Context, pools []types.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range pools {
		if p.ID == "" {
			return fmt.Errorf("%w: pool requires id", state.ErrInvalidInput)
		}
		p.TokenA.PriceData = append([]types.PriceData(nil), p.TokenA.PriceData...)
		p.TokenB.PriceData = append([]types.PriceData(nil), p.TokenB.PriceData...)
		s.pools[p.ID] = p
	}
	return nil
}

// ListPools returns every stored pool ordered by ID.
func (s *Store) ListPools(_ context.Context) ([]types.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SaveTuning stores a parameter set version.
func (s *Store) SaveTuning(_ context.Context, params types.TuningParameters, configName string, version int, makeActive bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tuning {
		if s.tuning[i].configName == configName && s.tuning[i].version == version {
			return 0, fmt.Errorf("%w: tuning %s version %d", state.ErrDuplicateKey, configName, version)
		}
	}
	if makeActive {
		for i := range s.tuning {
			if s.tuning[i].configName == configName {
				s.tuning[i].active = false
			}
		}
	}
	s.nextID++
	s.tuning = append(s.tuning, tuningRow{
		id:         s.nextID,
		configName: configName,
		version:    version,
		active:     makeActive,
		params:     config.CloneTuning(params),
	})
	return s.nextID, nil
}

// LoadActiveTuning returns the most recently activated set for configName.
func (s *Store) LoadActiveTuning(_ context.Context, configName string) (*types.TuningParameters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.tuning) - 1; i >= 0; i-- {
		row := s.tuning[i]
		if row.configName == configName && row.active {
			t := config.CloneTuning(row.params)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: no active tuning for %s", state.ErrNotFound, configName)
}

// IncrementRun returns the next run number for a task.
func (s *Store) IncrementRun(_ context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[name]++
	return s.runs[name], nil
}

// GetPortfolioSummary aggregates positions and alerts.
func (s *Store) GetPortfolioSummary(_ context.Context, since time.Time) (*state.PortfolioSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		positions = append(positions, p)
	}
	alerts := 0
	for _, a := range s.alerts {
		if !a.CreatedAt.Before(since) {
			alerts++
		}
	}
	return state.SummarizePositions(positions, alerts, since), nil
}

func copyPosition(p types.Position) types.Position {
	if p.Overrides != nil {
		o := *p.Overrides
		p.Overrides = &o
	}
	if p.Pending != nil {
		intent := *p.Pending
		intent.Payload = append([]byte(nil), p.Pending.Payload...)
		p.Pending = &intent
	}
	if p.ExitedAt != nil {
		t := *p.ExitedAt
		p.ExitedAt = &t
	}
	return p
}

func sortPositions(ps []types.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}
