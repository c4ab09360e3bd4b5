package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/rs/zerolog/log"
)

// SaveTuning saves a new version of tuning parameters, optionally making it the active set.
func (s *PostgresStore) SaveTuning(ctx context.Context, params types.TuningParameters, configName string, version int, makeActive bool) (paramsID int64, err error) {
	if s.db == nil {
		return 0, ErrDatabaseNotInitialized
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal tuning parameters: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if makeActive {
		_, err = tx.ExecContext(ctx,
			`UPDATE tuning_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE`, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tuning_parameters (version, config_name, is_active, activated_at, created_at, params)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING params_id`,
		version, configName, makeActive, now, now, payload,
	).Scan(&paramsID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: tuning %s version %d", ErrDuplicateKey, configName, version)
		}
		return 0, fmt.Errorf("failed to insert tuning parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved tuning parameters")
	return paramsID, nil
}

// LoadActiveTuning loads the currently active tuning parameters.
func (s *PostgresStore) LoadActiveTuning(ctx context.Context, configName string) (*types.TuningParameters, error) {
	if s.db == nil {
		return nil, ErrDatabaseNotInitialized
	}

	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT params FROM tuning_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1`, configName).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no active tuning parameters for config '%s'", ErrNotFound, configName)
		}
		return nil, fmt.Errorf("failed to load active tuning parameters for config '%s': %w", configName, err)
	}

	var params types.TuningParameters
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tuning parameters for config '%s': %w", configName, err)
	}
	log.Info().Str("config", configName).Msg("Loaded active tuning parameters")
	return &params, nil
}
