package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/elys-network/lpadvisor/internal/types"
)

// UpsertPools stores the latest snapshot of each pool in a single transaction.
func (s *PostgresStore) UpsertPools(ctx context.Context, pools []types.Pool) (err error) {
	if s.db == nil {
		return ErrDatabaseNotInitialized
	}
	if len(pools) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pools (pool_id, pair, apr, tvl_usd, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		ON CONFLICT (pool_id) DO UPDATE SET
			pair = EXCLUDED.pair, apr = EXCLUDED.apr, tvl_usd = EXCLUDED.tvl_usd,
			snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare pool upsert: %w", err)
	}
	defer stmt.Close()

	for _, pool := range pools {
		snapshot, mErr := json.Marshal(pool)
		if mErr != nil {
			err = fmt.Errorf("failed to marshal pool %s: %w", pool.ID, mErr)
			return err
		}
		if _, err = stmt.ExecContext(ctx, string(pool.ID), pool.Pair(), pool.APR(), pool.TvlUSD, snapshot); err != nil {
			return fmt.Errorf("failed to upsert pool %s: %w", pool.ID, err)
		}
	}
	return tx.Commit()
}

// ListPools returns the latest snapshot of every stored pool.
func (s *PostgresStore) ListPools(ctx context.Context) ([]types.Pool, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotInitialized
	}
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM pools ORDER BY pool_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pools: %w", err)
	}
	defer rows.Close()

	var out []types.Pool
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan pool row: %w", err)
		}
		var pool types.Pool
		if err := json.Unmarshal(raw, &pool); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pool snapshot: %w", err)
		}
		out = append(out, pool)
	}
	return out, rows.Err()
}
