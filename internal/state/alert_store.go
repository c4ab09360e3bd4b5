package state

import (
	"context"
	"fmt"
	"time"

	"github.com/elys-network/lpadvisor/internal/types"
)

// TryRecordAlert inserts the alert unless one for the same (user, position) exists within
// the cooldown. An advisory lock on the position serializes concurrent monitors.
func (s *PostgresStore) TryRecordAlert(ctx context.Context, alert types.ExitAlert, cooldown time.Duration) (recorded bool, err error) {
	if s.db == nil {
		return false, ErrDatabaseNotInitialized
	}
	if alert.ID == "" || alert.PositionID == "" || alert.UserID == "" {
		return false, fmt.Errorf("%w: alert requires id, position_id and user_id", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil || !recorded {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, alert.PositionID); err != nil {
		return false, fmt.Errorf("failed to lock alerts for position %s: %w", alert.PositionID, err)
	}

	var recent int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM exit_alerts
		WHERE user_id = $1 AND position_id = $2 AND created_at > $3`,
		alert.UserID, alert.PositionID, alert.CreatedAt.Add(-cooldown)).Scan(&recent)
	if err != nil {
		return false, fmt.Errorf("failed to check alert cooldown: %w", err)
	}
	if recent > 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO exit_alerts (alert_id, position_id, user_id, pool_id, exit_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		alert.ID, alert.PositionID, alert.UserID, string(alert.PoolID), alert.ExitReason, alert.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert alert: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit alert: %w", err)
	}
	return true, nil
}

// ListAlerts returns a user's alerts, newest first.
func (s *PostgresStore) ListAlerts(ctx context.Context, userID string) ([]types.ExitAlert, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotInitialized
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, position_id, user_id, pool_id, exit_reason, created_at
		FROM exit_alerts WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []types.ExitAlert
	for rows.Next() {
		var a types.ExitAlert
		var poolID string
		if err := rows.Scan(&a.ID, &a.PositionID, &a.UserID, &poolID, &a.ExitReason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		a.PoolID = types.PoolID(poolID)
		out = append(out, a)
	}
	return out, rows.Err()
}
