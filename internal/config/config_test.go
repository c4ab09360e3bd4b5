package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTuningIsValid(t *testing.T) {
	require.NoError(t, ValidateTuning(DefaultTuning))
}

func TestAllocationCurvesSumToAtMostHundred(t *testing.T) {
	for profile, curve := range DefaultTuning.AllocationCurves {
		sum := 0.0
		for _, pct := range curve {
			assert.GreaterOrEqual(t, pct, 0.0, profile)
			sum += pct
		}
		assert.LessOrEqual(t, sum, 100.0, profile)
	}
}

func TestValidateTuningRejectsOverAllocatedCurve(t *testing.T) {
	tuning := CloneTuning(DefaultTuning)
	tuning.AllocationCurves[types.ProfileAggressive] = []float64{60, 50}

	err := ValidateTuning(tuning)
	require.ErrorIs(t, err, ErrInvalidTuning)
	assert.Contains(t, err.Error(), "aggressive")
}

func TestCloneTuningIsDeep(t *testing.T) {
	clone := CloneTuning(DefaultTuning)
	clone.AllocationCurves[types.ProfileModerate][0] = 99
	clone.RL.HiddenSizes[0] = 1

	assert.Equal(t, 40.0, DefaultTuning.AllocationCurves[types.ProfileModerate][0])
	assert.Equal(t, 64, DefaultTuning.RL.HiddenSizes[0])
}

func TestLoadTuningFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exit:
  apr_drop_percent: 0.25
  sentiment_floor: -0.3
  il_ceiling: 0.04
transaction_fee: 0.002
allocation_curves:
  aggressive: [60, 40]
`), 0o600))

	tuning, err := LoadTuningFile(path, DefaultTuning)
	require.NoError(t, err)
	assert.Equal(t, 0.25, tuning.Exit.AprDropPercent)
	assert.Equal(t, 0.002, tuning.TransactionFee)
	assert.Equal(t, []float64{60, 40}, tuning.AllocationCurves[types.ProfileAggressive])
	// untouched keys keep their defaults
	assert.Equal(t, DefaultTuning.AllocationCurves[types.ProfileConservative], tuning.AllocationCurves[types.ProfileConservative])
	assert.Equal(t, DefaultTuning.RewardScale, tuning.RewardScale)
}

func TestLoadTuningFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_pools: 0\n"), 0o600))

	tuning, err := LoadTuningFile(path, DefaultTuning)
	require.ErrorIs(t, err, ErrInvalidTuning)
	assert.Equal(t, DefaultTuning.MaxPools, tuning.MaxPools)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DATA_PROVIDER", "STORE", "DECISION_STRATEGY", "AGENT_TYPE", "MONITOR_INTERVAL", "ALERT_COOLDOWN"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "synthetic", cfg.DataProvider)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 15*time.Minute, cfg.MonitorInterval)
	assert.Equal(t, 12*time.Hour, cfg.AlertCooldown)
	assert.Equal(t, 5*time.Minute, cfg.Endpoints.HealthCacheTTL)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("MONITOR_INTERVAL", "soon")
	t.Setenv("DB_PORT", "five")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MONITOR_INTERVAL")
	assert.Contains(t, err.Error(), "DB_PORT")
}

func TestLoadFloatAndBoolSettings(t *testing.T) {
	t.Setenv("MIN_POOL_TVL_USD", "25000.5")
	t.Setenv("SCHEDULER_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25000.5, cfg.MinPoolTvlUSD)
	assert.False(t, cfg.SchedulerEnabled)

	t.Setenv("SCHEDULER_ENABLED", "sometimes")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCHEDULER_ENABLED")
}

func TestLoadRequiresURLForHTTPProvider(t *testing.T) {
	t.Setenv("DATA_PROVIDER", "http")
	t.Setenv("DATA_PROVIDER_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATA_PROVIDER_URL")
}

func TestCanonicalSymbol(t *testing.T) {
	assert.Equal(t, "ETH", CanonicalSymbol("weth"))
	assert.Equal(t, "ATOM", CanonicalSymbol(" atom "))
}
