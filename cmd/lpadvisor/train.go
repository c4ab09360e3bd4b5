package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/metrics"
	"github.com/elys-network/lpadvisor/internal/rl"
	"github.com/elys-network/lpadvisor/internal/simulations"
	"github.com/elys-network/lpadvisor/internal/training"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// marketFlags choose the series an environment replays.
type marketFlags struct {
	pools        int
	fromProvider bool
	historyDays  int
}

func (f *marketFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.pools, "pools", 5, "number of synthetic pools per episode")
	cmd.Flags().BoolVar(&f.fromProvider, "from-provider", false, "replay pool history from the configured data provider")
	cmd.Flags().IntVar(&f.historyDays, "history-days", 90, "days of provider history to replay")
}

// environment builds the simulation for a run. A provider-backed market uses the most liquid
// pools up to the tuning's pool limit.
func (f *marketFlags) environment(ctx context.Context, cfg *config.AppConfig, tuning types.TuningParameters, pools int) (*simulations.Environment, error) {
	envCfg := simulations.Config{Tuning: tuning, Pools: pools, Seed: cfg.Seed}
	if !f.fromProvider {
		return simulations.NewEnvironment(envCfg)
	}

	provider, err := newProvider(cfg, tuning, nil)
	if err != nil {
		return nil, err
	}
	snapshot, err := provider.FetchPools(ctx, types.PoolFilters{MinTvlUSD: cfg.MinPoolTvlUSD, Limit: pools})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pools for training: %w", err)
	}
	histories := make(map[types.PoolID]types.PoolHistory, len(snapshot))
	for _, p := range snapshot {
		h, err := provider.FetchPoolHistory(ctx, p.ID, f.historyDays, "1d")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch history for pool %s: %w", p.ID, err)
		}
		histories[p.ID] = h
	}
	market, err := simulations.HistoricalMarket(snapshot, histories)
	if err != nil {
		return nil, err
	}
	log.Info().Int("pools", len(market.Pools)).Int("days", market.Days()).Msg("Replaying provider history")
	envCfg.Market = &market
	return simulations.NewEnvironment(envCfg)
}

func newTrainCmd(cfg *config.AppConfig) *cobra.Command {
	var (
		market       marketFlags
		episodes     int
		evalEpisodes int
		agentType    string
	)
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train an agent in the simulation and save a new checkpoint version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			tuning, err := config.LoadTuningFile(cfg.TuningFile, config.DefaultTuning)
			if err != nil {
				return err
			}
			if agentType == "" {
				agentType = cfg.AgentType
			}
			kind, err := rl.ParseKind(agentType)
			if err != nil {
				return err
			}

			env, err := market.environment(ctx, cfg, tuning, market.pools)
			if err != nil {
				return err
			}
			agent, err := rl.NewAgent(kind, env.StateDim(), env.ActionDim(), tuning.RL, cfg.Seed)
			if err != nil {
				return err
			}
			trainer, err := training.NewTrainer(env, agent, tuning.RL, training.Config{
				Episodes:       episodes,
				EvalEpisodes:   evalEpisodes,
				EvalSeed:       cfg.Seed,
				CheckpointRoot: cfg.CheckpointDir,
				Metrics:        metrics.New(nil),
			})
			if err != nil {
				return err
			}

			log.Info().
				Str("agent", string(kind)).
				Int("episodes", episodes).
				Int("pools", env.Pools()).
				Msg("Training started")
			result, manifest, err := trainer.Train(ctx)
			if err != nil {
				return fmt.Errorf("training failed: %w", err)
			}
			if manifest != nil {
				log.Info().
					Int("version", manifest.Version).
					Str("dir", rl.VersionDir(cfg.CheckpointDir, manifest.Version)).
					Float64("evalMeanReturn", result.EvalMeanReturn).
					Msg("Checkpoint saved")
			}
			return nil
		},
	}
	market.register(cmd)
	cmd.Flags().IntVar(&episodes, "episodes", 500, "training episodes")
	cmd.Flags().IntVar(&evalEpisodes, "eval-episodes", 20, "greedy evaluation episodes after training")
	cmd.Flags().StringVar(&agentType, "agent", "", "agent type: dqn or actor_critic (default AGENT_TYPE)")
	return cmd
}

func newEvaluateCmd(cfg *config.AppConfig) *cobra.Command {
	var (
		market   marketFlags
		episodes int
		version  int
	)
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run a saved agent greedily and print its mean reward and return",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			tuning, err := config.LoadTuningFile(cfg.TuningFile, config.DefaultTuning)
			if err != nil {
				return err
			}
			if version < 0 {
				version = cfg.CheckpointVersion
			}
			agent, manifest, err := rl.LoadCheckpoint(cfg.CheckpointDir, version, cfg.Seed)
			if err != nil {
				return err
			}
			// The action space fixes how many pools the agent was trained on.
			pools := (manifest.ActionDim - 1) / 3

			env, err := market.environment(ctx, cfg, tuning, pools)
			if err != nil {
				return err
			}
			result, err := training.Evaluate(env, agent, episodes, cfg.Seed)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Version int                 `json:"version"`
				Kind    rl.Kind             `json:"kind"`
				Result  training.EvalResult `json:"result"`
			}{manifest.Version, manifest.Kind, result})
		},
	}
	market.register(cmd)
	cmd.Flags().IntVar(&episodes, "episodes", 20, "evaluation episodes")
	cmd.Flags().IntVar(&version, "version", -1, "checkpoint version, 0 for latest (default CHECKPOINT_VERSION)")
	return cmd
}
