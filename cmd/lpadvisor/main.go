package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/state"
	"github.com/elys-network/lpadvisor/internal/state/memory"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// tuningConfigName is the row the serve command reads and seeds in the tuning table.
const (
	tuningConfigName    = "default"
	tuningConfigVersion = 1
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.AppConfig{}

	root := &cobra.Command{
		Use:           "lpadvisor",
		Short:         "Liquidity pool investment advisor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil {
				log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
			}
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := initLogging(loaded); err != nil {
				return err
			}
			*cfg = *loaded
			return nil
		},
	}
	root.AddCommand(
		newServeCmd(cfg),
		newTrainCmd(cfg),
		newEvaluateCmd(cfg),
		newResetDBCmd(cfg),
	)
	return root
}

func initLogging(cfg *config.AppConfig) error {
	if cfg.LogFile == "" {
		logger.Initialize(cfg.LogLevel)
		return nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", cfg.LogFile, err)
	}
	logger.InitializeWithWriter(cfg.LogLevel, f)
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func dbConfig(cfg *config.AppConfig) state.DBConfig {
	return state.DBConfig{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.Name,
		SSLMode:  cfg.DB.SSLMode,
	}
}

// openStore returns the configured store with its schema in place.
func openStore(ctx context.Context, cfg *config.AppConfig) (state.Store, error) {
	switch cfg.Store {
	case "memory":
		log.Warn().Msg("Using the in-memory store. Positions are lost on restart.")
		return memory.NewStore(), nil
	case "postgres":
		pg, err := state.OpenPostgres(ctx, dbConfig(cfg))
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// loadTuning overlays the tuning file on the defaults, then prefers the active stored set.
// With no stored set the effective one is saved as the first version.
func loadTuning(ctx context.Context, cfg *config.AppConfig, store state.TuningStore) (types.TuningParameters, error) {
	tuning, err := config.LoadTuningFile(cfg.TuningFile, config.DefaultTuning)
	if err != nil {
		return tuning, err
	}
	if store == nil || cfg.TuningFile != "" {
		return tuning, nil
	}

	active, err := store.LoadActiveTuning(ctx, tuningConfigName)
	switch {
	case err == nil:
		if verr := config.ValidateTuning(*active); verr != nil {
			log.Warn().Err(verr).Msg("Stored tuning parameters are invalid, using defaults")
			return tuning, nil
		}
		log.Info().Msg("Tuning parameters loaded from the database.")
		return *active, nil
	case errors.Is(err, state.ErrNotFound):
		log.Warn().Msg("No active tuning parameters stored, saving defaults.")
		if _, err := store.SaveTuning(ctx, tuning, tuningConfigName, tuningConfigVersion, true); err != nil {
			return tuning, fmt.Errorf("failed to save initial tuning parameters: %w", err)
		}
		return tuning, nil
	default:
		return tuning, fmt.Errorf("failed to load tuning parameters: %w", err)
	}
}
