package training

import (
	"context"
	"testing"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/metrics"
	"github.com/elys-network/lpadvisor/internal/rl"
	"github.com/elys-network/lpadvisor/internal/simulations"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallTuning() types.TuningParameters {
	t := config.CloneTuning(config.DefaultTuning)
	t.MaxPools = 3
	t.EpisodeHorizon = 6
	t.RL.HiddenSizes = []int{16}
	t.RL.BatchSize = 4
	t.RL.BufferCapacity = 64
	t.RL.EpsilonDecay = 0.8
	t.RL.TargetUpdateFreq = 2
	return t
}

func newSetup(t *testing.T, kind rl.Kind) (*simulations.Environment, rl.Agent, types.TuningParameters) {
	t.Helper()
	tuning := smallTuning()
	env, err := simulations.NewEnvironment(simulations.Config{Tuning: tuning, Pools: 2, Seed: 3})
	require.NoError(t, err)
	agent, err := rl.NewAgent(kind, env.StateDim(), env.ActionDim(), tuning.RL, 3)
	require.NoError(t, err)
	return env, agent, tuning
}

func TestTrainSavesCheckpoint(t *testing.T) {
	for _, kind := range []rl.Kind{rl.KindDQN, rl.KindActorCritic} {
		t.Run(string(kind), func(t *testing.T) {
			env, agent, tuning := newSetup(t, kind)
			m := metrics.New(prometheus.NewRegistry())
			root := t.TempDir()

			trainer, err := NewTrainer(env, agent, tuning.RL, Config{
				Episodes:       5,
				EvalEpisodes:   2,
				EvalSeed:       11,
				CheckpointRoot: root,
				Metrics:        m,
			})
			require.NoError(t, err)

			out, manifest, err := trainer.Train(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 5, out.Episodes)
			assert.Len(t, out.EpisodeRewards, 5)
			assert.NotEmpty(t, out.Losses)
			assert.Equal(t, 5, agent.Episodes())
			assert.Equal(t, 5.0, testutil.ToFloat64(m.EpisodesTrained))

			require.NotNil(t, manifest)
			assert.Equal(t, 1, manifest.Version)
			loaded, _, err := rl.LoadCheckpoint(root, 0, 1)
			require.NoError(t, err)
			assert.Equal(t, kind, loaded.Kind())

			saved, err := rl.ReadMetrics(root, 1)
			require.NoError(t, err)
			assert.Equal(t, out.EpisodeRewards, saved.EpisodeRewards)
		})
	}
}

func TestEpsilonRecordedAndFloored(t *testing.T) {
	env, agent, tuning := newSetup(t, rl.KindDQN)
	trainer, err := NewTrainer(env, agent, tuning.RL, Config{Episodes: 40})
	require.NoError(t, err)

	out, manifest, err := trainer.Train(context.Background())
	require.NoError(t, err)
	assert.Nil(t, manifest, "no checkpoint root")
	assert.InDelta(t, tuning.RL.EpsilonEnd, out.FinalEpsilon, 1e-9)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	env, agent, _ := newSetup(t, rl.KindDQN)

	a, err := Evaluate(env, agent, 3, 42)
	require.NoError(t, err)
	b, err := Evaluate(env, agent, 3, 42)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, 3, a.Episodes)
	total := 0
	for _, n := range a.Actions {
		total += n
	}
	assert.Equal(t, 3*6, total)
	assert.Equal(t, 0, agent.(*rl.DQNAgent).Buffer().Len(), "evaluation never stores transitions")
}

func TestDimensionMismatchRejected(t *testing.T) {
	env, _, tuning := newSetup(t, rl.KindDQN)
	other, err := rl.NewAgent(rl.KindDQN, env.StateDim(), env.ActionDim()+3, tuning.RL, 1)
	require.NoError(t, err)

	_, err = NewTrainer(env, other, tuning.RL, Config{Episodes: 1})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = Evaluate(env, other, 1, 1)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestTrainStopsOnCancel(t *testing.T) {
	env, agent, tuning := newSetup(t, rl.KindActorCritic)
	trainer, err := NewTrainer(env, agent, tuning.RL, Config{Episodes: 100})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, _, err := trainer.Train(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Episodes)
}
