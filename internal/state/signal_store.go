package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/elys-network/lpadvisor/internal/types"
)

// AppendSignal adds a composite signal to the log.
func (s *PostgresStore) AppendSignal(ctx context.Context, sig types.CompositeSignal) error {
	if s.db == nil {
		return ErrDatabaseNotInitialized
	}
	if sig.ID == "" || sig.PoolID == "" {
		return fmt.Errorf("%w: signal requires id and pool_id", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO composite_signals (signal_id, pool_id, signal_timestamp, prediction_score, sentiment_score, profile_high, profile_stable)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sig.ID, string(sig.PoolID), sig.Timestamp, sig.PredictionScore, sig.SentimentScore, sig.ProfileHigh, sig.ProfileStable)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: signal %s", ErrDuplicateKey, sig.ID)
		}
		return fmt.Errorf("failed to append signal for pool %s: %w", sig.PoolID, err)
	}
	return nil
}

// LatestSignal returns the newest signal for a pool.
func (s *PostgresStore) LatestSignal(ctx context.Context, poolID types.PoolID) (types.CompositeSignal, error) {
	history, err := s.SignalHistory(ctx, poolID, 1)
	if err != nil {
		return types.CompositeSignal{}, err
	}
	if len(history) == 0 {
		return types.CompositeSignal{}, fmt.Errorf("%w: no signal for pool %s", ErrNotFound, poolID)
	}
	return history[0], nil
}

// SignalHistory returns up to limit signals for a pool, newest first.
func (s *PostgresStore) SignalHistory(ctx context.Context, poolID types.PoolID, limit int) ([]types.CompositeSignal, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotInitialized
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT signal_id, pool_id, signal_timestamp, prediction_score, sentiment_score, profile_high, profile_stable
		FROM composite_signals
		WHERE pool_id = $1
		ORDER BY signal_timestamp DESC, created_at DESC
		LIMIT $2`, string(poolID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals for pool %s: %w", poolID, err)
	}
	defer rows.Close()

	var out []types.CompositeSignal
	for rows.Next() {
		var sig types.CompositeSignal
		var pid string
		if err := rows.Scan(&sig.ID, &pid, &sig.Timestamp, &sig.PredictionScore, &sig.SentimentScore, &sig.ProfileHigh, &sig.ProfileStable); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		sig.PoolID = types.PoolID(pid)
		out = append(out, sig)
	}
	return out, rows.Err()
}
