package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DBSettings holds database connection parameters.
type DBSettings struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// AppConfig holds all application configuration loaded from environment variables.
type AppConfig struct {
	LogLevel string
	LogFile  string

	// DataProvider selects the market data source: "synthetic" or "http".
	DataProvider string
	Endpoints    Endpoints

	// Store selects persistence: "memory" or "postgres".
	Store string
	DB    DBSettings

	// DecisionStrategy selects "rl" or "rule" for the broker.
	DecisionStrategy string
	// AgentType selects "dqn" or "actor_critic".
	AgentType         string
	CheckpointDir     string
	CheckpointVersion int // 0 loads the latest version.

	MonitorInterval       time.Duration
	SignalRefreshInterval time.Duration
	PendingSweepInterval  time.Duration
	SessionTTL            time.Duration
	SessionCapacity       int
	AlertCooldown         time.Duration
	SignalFreshness       time.Duration
	PendingTxTTL          time.Duration

	// MinPoolTvlUSD drops pools below this TVL before ranking.
	MinPoolTvlUSD float64
	// SchedulerEnabled runs the periodic monitor, signal and expiry tasks in serve mode.
	SchedulerEnabled bool

	WebPort    string
	TuningFile string
	Seed       int64
}

// Load reads configuration from environment variables, applying defaults for anything unset.
// Values that are set but malformed are an error.
func Load() (*AppConfig, error) {
	log.Info().Msg("Loading application configuration from environment variables...")

	cfg := &AppConfig{
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", ""),
		DataProvider:     strings.ToLower(getEnv("DATA_PROVIDER", "synthetic")),
		Store:            strings.ToLower(getEnv("STORE", "memory")),
		DecisionStrategy: strings.ToLower(getEnv("DECISION_STRATEGY", "rl")),
		AgentType:        strings.ToLower(getEnv("AGENT_TYPE", "dqn")),
		CheckpointDir:    getEnv("CHECKPOINT_DIR", "./checkpoints"),
		WebPort:          getEnv("WEB_PORT", "8080"),
		TuningFile:       getEnv("TUNING_FILE", ""),
		DB: DBSettings{
			Host:     getEnv("DB_HOST", "localhost"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "lpadvisor"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.DB.Port, err = getEnvAsInt("DB_PORT", 5432)
	collect(err)
	cfg.CheckpointVersion, err = getEnvAsInt("CHECKPOINT_VERSION", 0)
	collect(err)
	cfg.SessionCapacity, err = getEnvAsInt("SESSION_CAPACITY", 10000)
	collect(err)
	cfg.Seed, err = getEnvAsInt64("SEED", time.Now().UnixNano())
	collect(err)
	cfg.MinPoolTvlUSD, err = getEnvAsFloat64("MIN_POOL_TVL_USD", 10_000)
	collect(err)
	cfg.SchedulerEnabled, err = getEnvAsBool("SCHEDULER_ENABLED", true)
	collect(err)

	cfg.MonitorInterval, err = getEnvAsDuration("MONITOR_INTERVAL", 15*time.Minute)
	collect(err)
	cfg.SignalRefreshInterval, err = getEnvAsDuration("SIGNAL_REFRESH_INTERVAL", time.Hour)
	collect(err)
	cfg.PendingSweepInterval, err = getEnvAsDuration("PENDING_SWEEP_INTERVAL", 5*time.Minute)
	collect(err)
	cfg.SessionTTL, err = getEnvAsDuration("SESSION_TTL", 30*time.Minute)
	collect(err)
	cfg.AlertCooldown, err = getEnvAsDuration("ALERT_COOLDOWN", 12*time.Hour)
	collect(err)
	cfg.SignalFreshness, err = getEnvAsDuration("SIGNAL_FRESHNESS", 2*time.Hour)
	collect(err)
	cfg.PendingTxTTL, err = getEnvAsDuration("PENDING_TX_TTL", 30*time.Minute)
	collect(err)

	cfg.Endpoints, err = loadEndpointConfig()
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Expand the tilde (~) in the checkpoint directory path to the user's home directory.
	if strings.HasPrefix(cfg.CheckpointDir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		cfg.CheckpointDir = filepath.Join(home, cfg.CheckpointDir[2:])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("dataProvider", cfg.DataProvider).
		Str("store", cfg.Store).
		Str("strategy", cfg.DecisionStrategy).
		Str("agent", cfg.AgentType).
		Msg("Configuration loaded successfully.")

	return cfg, nil
}

// Validate checks enumerations and interval sanity.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.DataProvider != "synthetic" && c.DataProvider != "http" {
		errs = append(errs, errors.New("DATA_PROVIDER must be 'synthetic' or 'http', got: "+c.DataProvider))
	}
	if c.DataProvider == "http" && c.Endpoints.DataProviderURL == "" {
		errs = append(errs, errors.New("DATA_PROVIDER_URL is required when DATA_PROVIDER=http"))
	}
	if c.Store != "memory" && c.Store != "postgres" {
		errs = append(errs, errors.New("STORE must be 'memory' or 'postgres', got: "+c.Store))
	}
	if c.DecisionStrategy != "rl" && c.DecisionStrategy != "rule" {
		errs = append(errs, errors.New("DECISION_STRATEGY must be 'rl' or 'rule', got: "+c.DecisionStrategy))
	}
	if c.AgentType != "dqn" && c.AgentType != "actor_critic" {
		errs = append(errs, errors.New("AGENT_TYPE must be 'dqn' or 'actor_critic', got: "+c.AgentType))
	}
	if c.MinPoolTvlUSD < 0 {
		errs = append(errs, errors.New("MIN_POOL_TVL_USD must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"MONITOR_INTERVAL":        c.MonitorInterval,
		"SIGNAL_REFRESH_INTERVAL": c.SignalRefreshInterval,
		"PENDING_SWEEP_INTERVAL":  c.PendingSweepInterval,
		"SESSION_TTL":             c.SessionTTL,
	} {
		if d <= 0 {
			errs = append(errs, errors.New(name+" must be positive"))
		}
	}
	return errors.Join(errs...)
}

// getEnv retrieves a string environment variable, or fallback when unset.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if set but invalid.
func getEnvAsInt(key string, fallback int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt64 retrieves an environment variable as an int64. Returns error if set but invalid.
func getEnvAsInt64(key string, fallback int64) (int64, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDuration retrieves an environment variable as a time.Duration ("15m", "1h").
func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsFloat64 retrieves an environment variable as a float64. Returns error if set but invalid.
func getEnvAsFloat64(key string, fallback float64) (float64, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsBool retrieves an environment variable as a bool ("true", "1", "false", "0").
func getEnvAsBool(key string, fallback bool) (bool, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}
