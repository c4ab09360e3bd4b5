/*
Package training runs agents against the simulation environment: the episode loop used by
the train command, greedy evaluation, and checkpoint publication.
*/
package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/metrics"
	"github.com/elys-network/lpadvisor/internal/rl"
	"github.com/elys-network/lpadvisor/internal/simulations"
	"github.com/elys-network/lpadvisor/internal/types"
)

var trainLogger = logger.GetForComponent("trainer")

var ErrDimensionMismatch = errors.New("agent and environment dimensions differ")

// Config controls a training run.
type Config struct {
	Episodes       int
	UpdatesPerStep int // Optimizer steps per environment step, default 1
	EvalEpisodes   int // Greedy episodes run after training, 0 skips evaluation
	EvalSeed       int64
	LogEvery       int    // Episodes between progress logs, default 10
	CheckpointRoot string // Empty skips saving
	Metrics        *metrics.Metrics
}

// EpisodeResult summarizes one episode.
type EpisodeResult struct {
	TotalReward  float64
	FinalValue   float64
	Steps        int
	MeanLoss     float64
	Updates      int
	InvalidCount int
	Actions      map[simulations.ActionKind]int
}

// EvalResult summarizes greedy evaluation over several episodes.
type EvalResult struct {
	Episodes       int                            `json:"episodes"`
	MeanReward     float64                        `json:"mean_reward"`
	MeanReturn     float64                        `json:"mean_return"`
	InvalidActions int                            `json:"invalid_actions"`
	Actions        map[simulations.ActionKind]int `json:"actions"`
}

// Trainer owns one environment and one agent. It is not safe for concurrent use.
type Trainer struct {
	env    *simulations.Environment
	agent  rl.Agent
	params types.RLParameters
	cfg    Config
}

func NewTrainer(env *simulations.Environment, agent rl.Agent, params types.RLParameters, cfg Config) (*Trainer, error) {
	if env.StateDim() != agent.StateDim() || env.ActionDim() != agent.ActionDim() {
		return nil, fmt.Errorf("%w: environment %dx%d, agent %dx%d", ErrDimensionMismatch,
			env.StateDim(), env.ActionDim(), agent.StateDim(), agent.ActionDim())
	}
	if cfg.UpdatesPerStep <= 0 {
		cfg.UpdatesPerStep = 1
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 10
	}
	return &Trainer{env: env, agent: agent, params: params, cfg: cfg}, nil
}

// Train runs cfg.Episodes episodes, evaluates and saves a checkpoint when a root is set.
// Cancelling ctx stops after the current episode; what was trained so far is still saved.
func (t *Trainer) Train(ctx context.Context) (rl.TrainingMetrics, *rl.Manifest, error) {
	start := time.Now()
	var out rl.TrainingMetrics

	for ep := 0; ep < t.cfg.Episodes; ep++ {
		if ctx.Err() != nil {
			trainLogger.Warn().Int("episode", ep).Msg("Training cancelled")
			break
		}
		res, err := t.runEpisode(false)
		if err != nil {
			return out, nil, err
		}
		t.agent.EndEpisode()

		out.Episodes++
		out.EpisodeRewards = append(out.EpisodeRewards, res.TotalReward)
		if res.Updates > 0 {
			out.Losses = append(out.Losses, res.MeanLoss)
		}
		t.cfg.Metrics.RecordEpisode(res.TotalReward)

		if (ep+1)%t.cfg.LogEvery == 0 {
			evt := trainLogger.Info().
				Int("episode", ep+1).
				Float64("reward", res.TotalReward).
				Float64("finalValue", res.FinalValue).
				Float64("loss", res.MeanLoss)
			if e, ok := t.agent.(interface{ Epsilon() float64 }); ok {
				evt = evt.Float64("epsilon", e.Epsilon())
			}
			evt.Msg("Training progress")
		}
	}
	if e, ok := t.agent.(interface{ Epsilon() float64 }); ok {
		out.FinalEpsilon = e.Epsilon()
	}

	if t.cfg.EvalEpisodes > 0 {
		eval, err := Evaluate(t.env, t.agent, t.cfg.EvalEpisodes, t.cfg.EvalSeed)
		if err != nil {
			return out, nil, err
		}
		out.EvalMeanReward = eval.MeanReward
		out.EvalMeanReturn = eval.MeanReturn
	}

	trainLogger.Info().
		Int("episodes", out.Episodes).
		Dur("elapsed", time.Since(start)).
		Float64("evalMeanReward", out.EvalMeanReward).
		Msg("Training finished")

	if t.cfg.CheckpointRoot == "" {
		return out, nil, nil
	}
	manifest, err := rl.SaveCheckpoint(t.cfg.CheckpointRoot, t.agent, t.params, out)
	if err != nil {
		return out, nil, err
	}
	return out, &manifest, nil
}

func (t *Trainer) runEpisode(evaluation bool) (EpisodeResult, error) {
	return runEpisode(t.env, t.agent, evaluation, t.cfg.UpdatesPerStep)
}

func runEpisode(env *simulations.Environment, agent rl.Agent, evaluation bool, updatesPerStep int) (EpisodeResult, error) {
	res := EpisodeResult{Actions: make(map[simulations.ActionKind]int)}
	state := env.Reset()
	var lossSum float64

	for {
		action := agent.SelectAction(state, evaluation)
		step, err := env.Step(action)
		if err != nil {
			return res, fmt.Errorf("step %d: %w", res.Steps, err)
		}
		res.Steps++
		res.TotalReward += step.Reward
		res.Actions[step.Info.Kind]++
		if step.Info.Invalid {
			res.InvalidCount++
		}

		if !evaluation {
			agent.Remember(rl.Transition{
				State:     state,
				Action:    action,
				Reward:    step.Reward,
				NextState: step.State,
				Done:      step.Done,
			})
			for u := 0; u < updatesPerStep; u++ {
				if loss, ok := agent.Update(); ok {
					lossSum += loss
					res.Updates++
				}
			}
		}

		state = step.State
		if step.Done {
			res.FinalValue = step.Info.PortfolioValue
			break
		}
	}
	if res.Updates > 0 {
		res.MeanLoss = lossSum / float64(res.Updates)
	}
	return res, nil
}

// Evaluate runs greedy episodes from a fixed seed so different agents see identical markets.
func Evaluate(env *simulations.Environment, agent rl.Agent, episodes int, seed int64) (EvalResult, error) {
	if env.StateDim() != agent.StateDim() || env.ActionDim() != agent.ActionDim() {
		return EvalResult{}, fmt.Errorf("%w: environment %dx%d, agent %dx%d", ErrDimensionMismatch,
			env.StateDim(), env.ActionDim(), agent.StateDim(), agent.ActionDim())
	}
	out := EvalResult{Actions: make(map[simulations.ActionKind]int)}
	if episodes <= 0 {
		return out, nil
	}

	env.ResetSeed(seed)
	var rewardSum, returnSum float64
	for ep := 0; ep < episodes; ep++ {
		res, err := runEpisode(env, agent, true, 0)
		if err != nil {
			return out, err
		}
		rewardSum += res.TotalReward
		returnSum += res.FinalValue/env.InitialCash() - 1
		out.InvalidActions += res.InvalidCount
		for k, n := range res.Actions {
			out.Actions[k] += n
		}
	}
	out.Episodes = episodes
	out.MeanReward = rewardSum / float64(episodes)
	out.MeanReturn = returnSum / float64(episodes)
	return out, nil
}
