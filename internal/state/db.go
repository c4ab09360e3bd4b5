package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// DSN renders the lib/pq connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// PostgresStore implements Store on top of a database/sql pool.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres initializes the database connection pool from a config.
func OpenPostgres(ctx context.Context, cfg DBConfig) (*PostgresStore, error) {
	return OpenPostgresDSN(ctx, cfg.DSN())
}

// OpenPostgresDSN initializes the database connection pool from a DSN or URL.
func OpenPostgresDSN(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return &PostgresStore{db: db}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	log.Info().Msg("Closing database connection...")
	err := s.db.Close()
	s.db = nil
	return err
}

// Ping checks that the database connection is healthy.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrDatabaseNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS tuning_parameters (
		params_id SERIAL PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 1,
		config_name VARCHAR(255) NOT NULL DEFAULT 'default',
		is_active BOOLEAN NOT NULL DEFAULT FALSE,
		activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		params JSONB NOT NULL,
		CONSTRAINT uq_tuning_parameters_config_version UNIQUE (config_name, version)
	);
	CREATE INDEX IF NOT EXISTS idx_tuning_parameters_config_active ON tuning_parameters(config_name, is_active, activated_at DESC);

	CREATE TABLE IF NOT EXISTS pools (
		pool_id TEXT PRIMARY KEY,
		pair TEXT NOT NULL,
		apr DECIMAL(20, 8) NOT NULL,
		tvl_usd DECIMAL(30, 8) NOT NULL,
		snapshot JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS positions (
		position_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		pool_id TEXT NOT NULL,
		invested_amount_usd DOUBLE PRECISION NOT NULL CHECK (invested_amount_usd >= 0),
		token_a_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		token_b_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		status VARCHAR(16) NOT NULL CHECK (status IN ('PENDING','ACTIVE','MONITORED','EXITING','COMPLETED','FAILED')),
		current_value_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_apr DOUBLE PRECISION NOT NULL DEFAULT 0,
		impermanent_loss DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_apr DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_price_a DOUBLE PRECISION NOT NULL DEFAULT 0,
		entry_price_b DOUBLE PRECISION NOT NULL DEFAULT 0,
		threshold_overrides JSONB,
		entry_signal_id TEXT,
		exit_signal_id TEXT,
		metadata JSONB,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		exited_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_positions_user ON positions(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);

	CREATE TABLE IF NOT EXISTS composite_signals (
		signal_id TEXT PRIMARY KEY,
		pool_id TEXT NOT NULL,
		signal_timestamp TIMESTAMPTZ NOT NULL,
		prediction_score DOUBLE PRECISION NOT NULL,
		sentiment_score DOUBLE PRECISION NOT NULL,
		profile_high DOUBLE PRECISION NOT NULL,
		profile_stable DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_composite_signals_pool_ts ON composite_signals(pool_id, signal_timestamp DESC);

	-- Signals are an append-only log.
	CREATE OR REPLACE FUNCTION composite_signals_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'composite_signals is append-only';
	END;
	$$ LANGUAGE plpgsql;
	DROP TRIGGER IF EXISTS trg_composite_signals_append_only ON composite_signals;
	CREATE TRIGGER trg_composite_signals_append_only
		BEFORE UPDATE OR DELETE ON composite_signals
		FOR EACH ROW EXECUTE FUNCTION composite_signals_append_only();

	CREATE TABLE IF NOT EXISTS exit_alerts (
		alert_id TEXT PRIMARY KEY,
		position_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		pool_id TEXT NOT NULL,
		exit_reason TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_exit_alerts_user_position ON exit_alerts(user_id, position_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS run_counter (
		task_name TEXT PRIMARY KEY,
		current_run INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
`

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return ErrDatabaseNotInitialized
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// ResetSchema drops every table owned by the advisor. Used by the reset-db command.
func (s *PostgresStore) ResetSchema(ctx context.Context) error {
	if s.db == nil {
		return ErrDatabaseNotInitialized
	}
	dropSQL := `
		DROP TABLE IF EXISTS exit_alerts CASCADE;
		DROP TABLE IF EXISTS composite_signals CASCADE;
		DROP FUNCTION IF EXISTS composite_signals_append_only() CASCADE;
		DROP TABLE IF EXISTS positions CASCADE;
		DROP TABLE IF EXISTS pools CASCADE;
		DROP TABLE IF EXISTS tuning_parameters CASCADE;
		DROP TABLE IF EXISTS run_counter CASCADE;
	`
	if _, err := s.db.ExecContext(ctx, dropSQL); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	log.Warn().Msg("All advisor tables dropped.")
	return nil
}
