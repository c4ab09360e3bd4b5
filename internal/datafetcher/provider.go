/*

The contract the advisor needs from a market/sentiment data provider. Implementations are
selected by configuration and injected; callers never probe for alternatives at runtime.

*/

package datafetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/types"
)

var (
	// ErrDataUnavailable means the provider failed after retries and no cached snapshot exists.
	ErrDataUnavailable = errors.New("market data unavailable")
	ErrInvalidPoolData = errors.New("invalid pool data")
	ErrInvalidRequest  = errors.New("invalid provider request")
)

// Provider is a market, sentiment and prediction data source.
type Provider interface {
	FetchPools(ctx context.Context, filters types.PoolFilters) ([]types.Pool, error)
	// FetchSentiment returns a score in [-1, 1] per canonical symbol. Unknown symbols are omitted.
	FetchSentiment(ctx context.Context, symbols []string) (map[string]float64, error)
	FetchPredictions(ctx context.Context) ([]types.PoolPrediction, error)
	FetchPoolHistory(ctx context.Context, poolID types.PoolID, days int, interval string) (types.PoolHistory, error)
	CheckHealth(ctx context.Context) bool
}

// validateFinalPool rejects snapshots the scoring and exit logic cannot use.
func validateFinalPool(pool types.Pool) error {
	if strings.TrimSpace(string(pool.ID)) == "" {
		return fmt.Errorf("%w: pool has empty ID", ErrInvalidPoolData)
	}
	if pool.TokenA.Symbol == "" || pool.TokenB.Symbol == "" {
		return fmt.Errorf("%w: pool %s is missing a token symbol", ErrInvalidPoolData, pool.ID)
	}

	metrics := []struct {
		value float64
		name  string
	}{
		{pool.APR24h, "24h APR"},
		{pool.APR7d, "7d APR"},
		{pool.APR30d, "30d APR"},
		{pool.TvlUSD, "TVL"},
		{pool.Volume24hUSD, "24h volume"},
		{pool.Volume7dUSD, "7d volume"},
		{pool.TokenA.PriceUSD, "token A price"},
		{pool.TokenB.PriceUSD, "token B price"},
	}
	for _, m := range metrics {
		if math.IsNaN(m.value) || math.IsInf(m.value, 0) {
			return fmt.Errorf("%w: pool %s %s is not finite: %f", ErrInvalidPoolData, pool.ID, m.name, m.value)
		}
		if m.value < 0 {
			return fmt.Errorf("%w: pool %s has negative %s: %f", ErrInvalidPoolData, pool.ID, m.name, m.value)
		}
	}

	if pool.SwapFee < 0 || pool.SwapFee > 1 {
		return fmt.Errorf("%w: pool %s has invalid swap fee: %f", ErrInvalidPoolData, pool.ID, pool.SwapFee)
	}
	if pool.AgeInDays < 0 {
		return fmt.Errorf("%w: pool %s has negative age: %d", ErrInvalidPoolData, pool.ID, pool.AgeInDays)
	}
	return nil
}

// applyFilters keeps pools matching filters, preserving order.
func applyFilters(pools []types.Pool, filters types.PoolFilters) []types.Pool {
	wanted := make(map[string]bool, len(filters.Symbols))
	for _, s := range filters.Symbols {
		wanted[config.CanonicalSymbol(s)] = true
	}

	out := make([]types.Pool, 0, len(pools))
	for _, p := range pools {
		if p.TvlUSD < filters.MinTvlUSD || p.APR() < filters.MinAPR {
			continue
		}
		if len(wanted) > 0 && !wanted[config.CanonicalSymbol(p.TokenA.Symbol)] && !wanted[config.CanonicalSymbol(p.TokenB.Symbol)] {
			continue
		}
		out = append(out, p)
		if filters.Limit > 0 && len(out) == filters.Limit {
			break
		}
	}
	return out
}

func canonicalSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		c := config.CanonicalSymbol(s)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
