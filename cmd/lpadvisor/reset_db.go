package main

import (
	"context"
	"errors"
	"time"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/state"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newResetDBCmd(cfg *config.AppConfig) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "reset-db",
		Short: "Drop and recreate every advisor table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.New("refusing to drop tables without --yes")
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			dbCfg := dbConfig(cfg)
			log.Info().
				Str("host", dbCfg.Host).
				Int("port", dbCfg.Port).
				Str("user", dbCfg.User).
				Str("dbname", dbCfg.DBName).
				Msg("Connecting to database")

			store, err := state.OpenPostgres(ctx, dbCfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ResetSchema(ctx); err != nil {
				return err
			}
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			log.Info().Msg("Database reset completed.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "confirm dropping all data")
	return cmd
}
