package planner

import (
	"testing"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pos(id string, pool types.PoolID, value float64, status types.PositionStatus) types.Position {
	return types.Position{ID: id, UserID: "u1", PoolID: pool, CurrentValueUSD: value, Status: status}
}

func TestPlanRebalanceBuckets(t *testing.T) {
	tuning := config.CloneTuning(config.DefaultTuning)
	tuning.RebalanceThresholdPercent = 10
	tuning.MaxRebalancePercentPerCycle = 100

	positions := []types.Position{
		pos("p1", "A", 400, types.StatusActive),    // target 500: increase
		pos("p2", "B", 300, types.StatusMonitored), // target 200: decrease
		pos("p3", "C", 100, types.StatusActive),    // no target: exit
		pos("p4", "E", 250, types.StatusActive),    // within threshold: no action
		pos("p5", "F", 999, types.StatusCompleted), // not held any more
	}
	targets := map[types.PoolID]float64{"A": 500, "B": 200, "D": 50, "E": 240}

	plan, err := PlanRebalance(positions, targets, 1050, tuning)
	require.NoError(t, err)
	assert.True(t, plan.Success)

	require.Len(t, plan.Enter, 1)
	assert.Equal(t, types.PoolID("D"), plan.Enter[0].PoolID)
	assert.Equal(t, 50.0, plan.Enter[0].DeltaUSD)

	require.Len(t, plan.Increase, 1)
	assert.Equal(t, types.PoolID("A"), plan.Increase[0].PoolID)
	assert.Equal(t, "p1", plan.Increase[0].PositionID)

	require.Len(t, plan.Decrease, 1)
	assert.Equal(t, -100.0, plan.Decrease[0].DeltaUSD)

	require.Len(t, plan.Exit, 1)
	assert.Equal(t, types.PoolID("C"), plan.Exit[0].PoolID)
	assert.Equal(t, -100.0, plan.Exit[0].DeltaUSD)
}

func TestDecreasesAreCappedPerCycle(t *testing.T) {
	tuning := config.CloneTuning(config.DefaultTuning)
	tuning.RebalanceThresholdPercent = 5
	tuning.MaxRebalancePercentPerCycle = 10

	positions := []types.Position{
		pos("p1", "A", 600, types.StatusActive),
		pos("p2", "B", 400, types.StatusActive),
	}
	// Wants to pull 300 from A and 200 from B, the cap is 100.
	plan, err := PlanRebalance(positions, map[types.PoolID]float64{"A": 300, "B": 200}, 1000, tuning)
	require.NoError(t, err)
	require.Len(t, plan.Decrease, 2)

	total := 0.0
	for _, d := range plan.Decrease {
		total += d.DeltaUSD
		assert.InDelta(t, d.CurrentUSD+d.DeltaUSD, d.TargetUSD, 1e-9)
	}
	assert.InDelta(t, -100, total, 1e-9)
	assert.InDelta(t, -60, plan.Decrease[0].DeltaUSD, 1e-9, "scaled proportionally")
}

func TestPlanRebalanceValidation(t *testing.T) {
	tuning := config.DefaultTuning

	_, err := PlanRebalance(nil, nil, 0, tuning)
	require.ErrorIs(t, err, ErrInvalidPortfolioValue)

	_, err = PlanRebalance(nil, map[types.PoolID]float64{"A": -1}, 100, tuning)
	require.ErrorIs(t, err, ErrInvalidTargets)

	_, err = PlanRebalance(nil, map[types.PoolID]float64{"A": 80, "B": 80}, 100, tuning)
	require.ErrorIs(t, err, ErrInvalidTargets)

	_, err = PlanRebalance([]types.Position{{ID: "x"}}, nil, 100, tuning)
	require.ErrorIs(t, err, ErrInvalidPosition)

	plan, err := PlanRebalance(nil, nil, 100, tuning)
	require.NoError(t, err)
	assert.Empty(t, plan.Enter)
	assert.NotNil(t, plan.Exit)
}
