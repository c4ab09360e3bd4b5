package config

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Endpoints describes how the market/sentiment data provider is reached.
type Endpoints struct {
	// DataProviderURL is the base URL of the HTTP data provider.
	DataProviderURL string
	// DataProviderAPIKey is sent as a bearer token when set.
	DataProviderAPIKey string
	// RequestTimeout bounds every provider call.
	RequestTimeout time.Duration
	// MaxRetries caps retry attempts after the first failure.
	MaxRetries int
	// HealthCacheTTL is how long a health check result is reused.
	HealthCacheTTL time.Duration
}

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by Load() in General.go.
func loadEndpointConfig() (Endpoints, error) {
	var err error
	ep := Endpoints{
		DataProviderURL:    getEnv("DATA_PROVIDER_URL", ""),
		DataProviderAPIKey: getEnv("DATA_PROVIDER_API_KEY", ""),
	}

	if ep.RequestTimeout, err = getEnvAsDuration("DATA_PROVIDER_TIMEOUT", 10*time.Second); err != nil {
		return ep, err
	}
	if ep.MaxRetries, err = getEnvAsInt("DATA_PROVIDER_MAX_RETRIES", 3); err != nil {
		return ep, err
	}
	if ep.HealthCacheTTL, err = getEnvAsDuration("HEALTH_CACHE_TTL", 5*time.Minute); err != nil {
		return ep, err
	}

	log.Debug().
		Str("dataProviderURL", ep.DataProviderURL).
		Dur("timeout", ep.RequestTimeout).
		Int("maxRetries", ep.MaxRetries).
		Msg("Endpoint configuration loaded successfully.")

	return ep, nil
}
