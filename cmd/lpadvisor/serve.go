package main

import (
	"errors"
	"fmt"

	"github.com/elys-network/lpadvisor/internal/advisor"
	"github.com/elys-network/lpadvisor/internal/broker"
	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/datafetcher"
	"github.com/elys-network/lpadvisor/internal/lifecycle"
	"github.com/elys-network/lpadvisor/internal/metrics"
	"github.com/elys-network/lpadvisor/internal/rl"
	"github.com/elys-network/lpadvisor/internal/scheduler"
	"github.com/elys-network/lpadvisor/internal/session"
	"github.com/elys-network/lpadvisor/internal/signals"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/elys-network/lpadvisor/internal/vault"
	"github.com/elys-network/lpadvisor/internal/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const syntheticPools = 8

func newServeCmd(cfg *config.AppConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the advisor API and the periodic monitor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.AppConfig) error {
	ctx, stop := signalContext()
	defer stop()

	log.Info().Msg("Advisor starting...")

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	tuning, err := loadTuning(ctx, cfg, store)
	if err != nil {
		return err
	}

	m := metrics.New(nil)

	provider, err := newProvider(cfg, tuning, m)
	if err != nil {
		return err
	}

	loader := func() (rl.Agent, error) {
		agent, manifest, err := rl.LoadCheckpoint(cfg.CheckpointDir, cfg.CheckpointVersion, cfg.Seed)
		if err != nil {
			return nil, err
		}
		log.Info().Int("version", manifest.Version).Str("kind", string(manifest.Kind)).Msg("Loaded agent checkpoint")
		return agent, nil
	}
	b := broker.New(broker.Config{
		Tuning:   tuning,
		Strategy: cfg.DecisionStrategy,
		Loader:   loader,
		Metrics:  m,
	})

	manager, err := lifecycle.NewManager(lifecycle.Config{
		Pools:     provider,
		Positions: store,
		Signals:   store,
		Alerts:    store,
		Tuning:    tuning,
		Cooldown:  cfg.AlertCooldown,
		Freshness: cfg.SignalFreshness,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	adv, err := advisor.New(advisor.Config{
		Provider:      provider,
		Store:         store,
		Broker:        b,
		Aggregator:    signals.NewAggregator(provider, store, tuning),
		Lifecycle:     manager,
		Executor:      vault.NewPaperExecutor(cfg.PendingTxTTL),
		Sessions:      session.NewStore(cfg.SessionCapacity, cfg.SessionTTL),
		Metrics:       m,
		MinPoolTvlUSD: cfg.MinPoolTvlUSD,
		Freshness:     cfg.SignalFreshness,
	})
	if err != nil {
		return fmt.Errorf("failed to create advisor: %w", err)
	}

	sched := scheduler.New(m)
	if cfg.SchedulerEnabled {
		if err := adv.RegisterTasks(sched, advisor.Intervals{
			Monitor:       cfg.MonitorInterval,
			SignalRefresh: cfg.SignalRefreshInterval,
			ExpirePending: cfg.PendingSweepInterval,
		}); err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	} else {
		log.Warn().Msg("Scheduler disabled. Positions are only evaluated on demand.")
	}

	server := web.NewWebServer(web.Config{
		Port:    cfg.WebPort,
		Advisor: adv,
		Summary: store,
		Tuning:  tuning,
		Metrics: m,
	})
	log.Info().Str("port", cfg.WebPort).Str("url", "http://localhost:"+cfg.WebPort).Msg("Starting advisor API")
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("web server failed: %w", err)
	}
	log.Info().Msg("Advisor stopped")
	return nil
}

// newProvider builds the configured data source behind the retrying, caching wrapper.
func newProvider(cfg *config.AppConfig, tuning types.TuningParameters, m *metrics.Metrics) (*datafetcher.Resilient, error) {
	var inner datafetcher.Provider
	switch cfg.DataProvider {
	case "synthetic":
		log.Warn().Msg("Using the synthetic market. Recommendations are not based on live data.")
		inner = datafetcher.NewSyntheticProvider(cfg.Seed, syntheticPools, tuning.EpisodeHorizon+1, tuning.SyntheticVolatility)
	case "http":
		if cfg.Endpoints.DataProviderURL == "" {
			return nil, errors.New("DATA_PROVIDER_URL is required for the http data provider")
		}
		p, err := datafetcher.NewHTTPProvider(cfg.Endpoints.DataProviderURL, cfg.Endpoints.DataProviderAPIKey, cfg.Endpoints.RequestTimeout)
		if err != nil {
			return nil, err
		}
		inner = p
	default:
		return nil, fmt.Errorf("unknown data provider %q", cfg.DataProvider)
	}
	return datafetcher.NewResilient(inner, datafetcher.ResilientConfig{
		Timeout:    cfg.Endpoints.RequestTimeout,
		MaxRetries: cfg.Endpoints.MaxRetries,
		HealthTTL:  cfg.Endpoints.HealthCacheTTL,
		Metrics:    m,
	}), nil
}
