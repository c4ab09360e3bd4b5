/*

Persistent run counters for scheduled tasks, so run numbers continue across restarts.

*/

package state

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// IncrementRun atomically increments and returns the run number for a task.
func (s *PostgresStore) IncrementRun(ctx context.Context, name string) (int, error) {
	if s.db == nil {
		return 0, ErrDatabaseNotInitialized
	}

	var run int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO run_counter (task_name, current_run, updated_at)
		VALUES ($1, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (task_name) DO UPDATE
			SET current_run = run_counter.current_run + 1, updated_at = CURRENT_TIMESTAMP
		RETURNING current_run`, name).Scan(&run)
	if err != nil {
		return 0, fmt.Errorf("failed to increment run counter for %s: %w", name, err)
	}

	log.Debug().Str("task", name).Int("run", run).Msg("Incremented run counter")
	return run, nil
}
