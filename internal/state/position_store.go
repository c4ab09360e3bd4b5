package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const positionColumns = `
	position_id, user_id, pool_id, invested_amount_usd, token_a_amount, token_b_amount,
	status, current_value_usd, current_apr, impermanent_loss, entry_apr, entry_price_a, entry_price_b,
	threshold_overrides, entry_signal_id, exit_signal_id, metadata, version,
	created_at, updated_at, exited_at`

// CreatePosition inserts a new position row.
func (s *PostgresStore) CreatePosition(ctx context.Context, p types.Position) error {
	if s.db == nil {
		return ErrDatabaseNotInitialized
	}
	if err := validatePosition(p); err != nil {
		return err
	}

	overridesJSON, metadataJSON, err := marshalPositionBlobs(p)
	if err != nil {
		return err
	}
	if p.Version == 0 {
		p.Version = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		p.ID, p.UserID, string(p.PoolID), p.InvestedAmountUSD, p.TokenAAmount, p.TokenBAmount,
		string(p.Status), p.CurrentValueUSD, p.CurrentAPR, p.ImpermanentLoss, p.EntryAPR, p.EntryPriceA, p.EntryPriceB,
		nullJSON(overridesJSON), nullString(p.EntrySignalID), nullString(p.ExitSignalID), nullJSON(metadataJSON), p.Version,
		p.CreatedAt, p.UpdatedAt, p.ExitedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: position %s", ErrDuplicateKey, p.ID)
		}
		return fmt.Errorf("failed to insert position %s: %w", p.ID, err)
	}
	return nil
}

// GetPosition loads a single position.
func (s *PostgresStore) GetPosition(ctx context.Context, id string) (types.Position, error) {
	if s.db == nil {
		return types.Position{}, ErrDatabaseNotInitialized
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE position_id = $1`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Position{}, fmt.Errorf("%w: position %s", ErrNotFound, id)
		}
		return types.Position{}, fmt.Errorf("failed to load position %s: %w", id, err)
	}
	return p, nil
}

// ListPositionsByUser returns all of a user's positions, oldest first.
func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]types.Position, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotInitialized
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY created_at, position_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for user %s: %w", userID, err)
	}
	return collectPositions(rows)
}

// ListPositionsByStatus returns every position in one of the given states, oldest first.
func (s *PostgresStore) ListPositionsByStatus(ctx context.Context, statuses ...types.PositionStatus) ([]types.Position, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotInitialized
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = ANY($1) ORDER BY created_at, position_id`,
		pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to query positions by status: %w", err)
	}
	return collectPositions(rows)
}

// UpdatePosition writes p with last-write-wins semantics, reporting a race when the
// stored version differs from p.Version.
func (s *PostgresStore) UpdatePosition(ctx context.Context, p types.Position) (updated types.Position, raced bool, err error) {
	if s.db == nil {
		return types.Position{}, false, ErrDatabaseNotInitialized
	}
	if err := validatePosition(p); err != nil {
		return types.Position{}, false, err
	}
	overridesJSON, metadataJSON, err := marshalPositionBlobs(p)
	if err != nil {
		return types.Position{}, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Position{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var storedVersion int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM positions WHERE position_id = $1 FOR UPDATE`, p.ID).Scan(&storedVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = fmt.Errorf("%w: position %s", ErrNotFound, p.ID)
			return types.Position{}, false, err
		}
		return types.Position{}, false, fmt.Errorf("failed to lock position %s: %w", p.ID, err)
	}

	expectedVersion := p.Version
	raced = storedVersion != expectedVersion
	p.Version = storedVersion + 1
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE positions SET
			invested_amount_usd = $2, token_a_amount = $3, token_b_amount = $4, status = $5,
			current_value_usd = $6, current_apr = $7, impermanent_loss = $8,
			entry_apr = $9, entry_price_a = $10, entry_price_b = $11,
			threshold_overrides = $12, entry_signal_id = $13, exit_signal_id = $14, metadata = $15,
			version = $16, updated_at = $17, exited_at = $18
		WHERE position_id = $1`,
		p.ID, p.InvestedAmountUSD, p.TokenAAmount, p.TokenBAmount, string(p.Status),
		p.CurrentValueUSD, p.CurrentAPR, p.ImpermanentLoss,
		p.EntryAPR, p.EntryPriceA, p.EntryPriceB,
		nullJSON(overridesJSON), nullString(p.EntrySignalID), nullString(p.ExitSignalID), nullJSON(metadataJSON),
		p.Version, p.UpdatedAt, p.ExitedAt,
	)
	if err != nil {
		return types.Position{}, false, fmt.Errorf("failed to update position %s: %w", p.ID, err)
	}
	if err = tx.Commit(); err != nil {
		return types.Position{}, false, fmt.Errorf("failed to commit position %s: %w", p.ID, err)
	}

	if raced {
		log.Warn().
			Err(ErrConcurrentUpdate).
			Str("positionID", p.ID).
			Int64("expectedVersion", expectedVersion).
			Int64("storedVersion", storedVersion).
			Msg("Last write wins")
	}
	return p, raced, nil
}

// SwapPosition writes p only if the row is still at p.Version.
func (s *PostgresStore) SwapPosition(ctx context.Context, p types.Position) (types.Position, error) {
	if s.db == nil {
		return types.Position{}, ErrDatabaseNotInitialized
	}
	if err := validatePosition(p); err != nil {
		return types.Position{}, err
	}
	overridesJSON, metadataJSON, err := marshalPositionBlobs(p)
	if err != nil {
		return types.Position{}, err
	}

	expectedVersion := p.Version
	p.Version = expectedVersion + 1
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET
			invested_amount_usd = $2, token_a_amount = $3, token_b_amount = $4, status = $5,
			current_value_usd = $6, current_apr = $7, impermanent_loss = $8,
			entry_apr = $9, entry_price_a = $10, entry_price_b = $11,
			threshold_overrides = $12, entry_signal_id = $13, exit_signal_id = $14, metadata = $15,
			version = $16, updated_at = $17, exited_at = $18
		WHERE position_id = $1 AND version = $19`,
		p.ID, p.InvestedAmountUSD, p.TokenAAmount, p.TokenBAmount, string(p.Status),
		p.CurrentValueUSD, p.CurrentAPR, p.ImpermanentLoss,
		p.EntryAPR, p.EntryPriceA, p.EntryPriceB,
		nullJSON(overridesJSON), nullString(p.EntrySignalID), nullString(p.ExitSignalID), nullJSON(metadataJSON),
		p.Version, p.UpdatedAt, p.ExitedAt, expectedVersion,
	)
	if err != nil {
		return types.Position{}, fmt.Errorf("failed to update position %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Position{}, fmt.Errorf("failed to read affected rows for position %s: %w", p.ID, err)
	}
	if n == 1 {
		return p, nil
	}

	var storedVersion int64
	err = s.db.QueryRowContext(ctx, `SELECT version FROM positions WHERE position_id = $1`, p.ID).Scan(&storedVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Position{}, fmt.Errorf("%w: position %s", ErrNotFound, p.ID)
	}
	if err != nil {
		return types.Position{}, fmt.Errorf("failed to read version of position %s: %w", p.ID, err)
	}
	return types.Position{}, fmt.Errorf("%w: position %s is at version %d, not %d",
		ErrConcurrentUpdate, p.ID, storedVersion, expectedVersion)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (types.Position, error) {
	var p types.Position
	var poolID, status string
	var overridesJSON, metadataJSON []byte
	var entrySignal, exitSignal sql.NullString
	var exitedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.UserID, &poolID, &p.InvestedAmountUSD, &p.TokenAAmount, &p.TokenBAmount,
		&status, &p.CurrentValueUSD, &p.CurrentAPR, &p.ImpermanentLoss, &p.EntryAPR, &p.EntryPriceA, &p.EntryPriceB,
		&overridesJSON, &entrySignal, &exitSignal, &metadataJSON, &p.Version,
		&p.CreatedAt, &p.UpdatedAt, &exitedAt,
	)
	if err != nil {
		return types.Position{}, err
	}

	p.PoolID = types.PoolID(poolID)
	p.Status = types.PositionStatus(status)
	p.EntrySignalID = entrySignal.String
	p.ExitSignalID = exitSignal.String
	if exitedAt.Valid {
		t := exitedAt.Time
		p.ExitedAt = &t
	}
	if err := unmarshalPositionBlobs(&p, overridesJSON, metadataJSON); err != nil {
		return types.Position{}, err
	}
	return p, nil
}

func collectPositions(rows *sql.Rows) ([]types.Position, error) {
	defer rows.Close()
	var out []types.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate positions: %w", err)
	}
	return out, nil
}

func marshalPositionBlobs(p types.Position) (overrides, metadata []byte, err error) {
	if p.Overrides != nil {
		if overrides, err = json.Marshal(p.Overrides); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal threshold_overrides: %w", err)
		}
	}
	if p.Pending != nil {
		if metadata, err = json.Marshal(p.Pending); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	return overrides, metadata, nil
}

func unmarshalPositionBlobs(p *types.Position, overrides, metadata []byte) error {
	if len(overrides) > 0 {
		p.Overrides = &types.ThresholdOverrides{}
		if err := json.Unmarshal(overrides, p.Overrides); err != nil {
			return fmt.Errorf("failed to unmarshal threshold_overrides: %w", err)
		}
	}
	if len(metadata) > 0 {
		p.Pending = &types.PendingIntent{}
		if err := json.Unmarshal(metadata, p.Pending); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return nil
}

func validatePosition(p types.Position) error {
	if p.ID == "" || p.UserID == "" || p.PoolID == "" {
		return fmt.Errorf("%w: position requires id, user_id and pool_id", ErrInvalidInput)
	}
	if p.InvestedAmountUSD < 0 {
		return fmt.Errorf("%w: invested_amount_usd cannot be negative", ErrInvalidInput)
	}
	return nil
}

// nullJSON maps an empty blob to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
