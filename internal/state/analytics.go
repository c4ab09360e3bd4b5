package state

import (
	"context"
	"fmt"
	"time"

	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/rs/zerolog/log"
)

// PortfolioSummary represents high-level statistics across all users.
type PortfolioSummary struct {
	PositionsByStatus map[types.PositionStatus]int `json:"positions_by_status"`
	OpenInvestedUSD   float64                      `json:"open_invested_usd"`
	OpenValueUSD      float64                      `json:"open_value_usd"`
	Users             int                          `json:"users"`
	AlertsSince       int                          `json:"alerts_since"`
	Since             time.Time                    `json:"since"`
}

// SummarizePositions folds positions into a summary. Shared by both store implementations.
func SummarizePositions(positions []types.Position, alertsSince int, since time.Time) *PortfolioSummary {
	summary := &PortfolioSummary{
		PositionsByStatus: make(map[types.PositionStatus]int),
		AlertsSince:       alertsSince,
		Since:             since,
	}
	users := make(map[string]struct{})
	for _, p := range positions {
		summary.PositionsByStatus[p.Status]++
		users[p.UserID] = struct{}{}
		if p.Status.IsOpen() {
			summary.OpenInvestedUSD += p.InvestedAmountUSD
			summary.OpenValueUSD += p.CurrentValueUSD
		}
	}
	summary.Users = len(users)
	return summary
}

// GetPortfolioSummary aggregates positions by status and counts alerts issued since the given time.
func (s *PostgresStore) GetPortfolioSummary(ctx context.Context, since time.Time) (*PortfolioSummary, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotInitialized
	}

	summary := &PortfolioSummary{
		PositionsByStatus: make(map[types.PositionStatus]int),
		Since:             since,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*),
			COALESCE(SUM(invested_amount_usd), 0),
			COALESCE(SUM(current_value_usd), 0)
		FROM positions
		GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query position summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status types.PositionStatus
		var count int
		var invested, value float64
		if err := rows.Scan(&status, &count, &invested, &value); err != nil {
			log.Error().Err(err).Msg("Failed to scan summary row")
			continue
		}
		summary.PositionsByStatus[status] = count
		if status.IsOpen() {
			summary.OpenInvestedUSD += invested
			summary.OpenValueUSD += value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate position summary: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT user_id) FROM positions`).Scan(&summary.Users); err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exit_alerts WHERE created_at >= $1`, since).Scan(&summary.AlertsSince); err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	return summary, nil
}
