/*

Pool snapshots as delivered by the market data provider. A snapshot is immutable once
observed; the provider refreshes them on a cadence and up to an hour of staleness is tolerated.

*/

package types

import (
	"strings"
	"time"
)

type PoolID string

type Pool struct {
	ID           PoolID    `json:"id"`             // e.g., "ATOM-USDC"
	TokenA       Token     `json:"token_a"`        // e.g., ATOM (non-stable leg)
	TokenB       Token     `json:"token_b"`        // e.g., USDC
	APR24h       float64   `json:"apr_24h"`        // Percent, e.g. 12.5 for 12.5%
	APR7d        float64   `json:"apr_7d"`         // Percent
	APR30d       float64   `json:"apr_30d"`        // Percent
	TvlUSD       float64   `json:"tvl_usd"`        // Total Value Locked in USD
	Volume24hUSD float64   `json:"volume_24h_usd"` // 24-hour trading volume in USD
	Volume7dUSD  float64   `json:"volume_7d_usd"`  // 7-day trading volume in USD
	SwapFee      float64   `json:"swap_fee"`       // Fraction, e.g. 0.003
	AgeInDays    int       `json:"age_in_days"`
	ObservedAt   time.Time `json:"observed_at"`
}

// APR returns the most recent APR figure available for the pool.
func (p Pool) APR() float64 {
	switch {
	case p.APR24h > 0:
		return p.APR24h
	case p.APR7d > 0:
		return p.APR7d
	default:
		return p.APR30d
	}
}

// Pair returns the "A/B" token pair label.
func (p Pool) Pair() string {
	return strings.ToUpper(p.TokenA.Symbol) + "/" + strings.ToUpper(p.TokenB.Symbol)
}

// Symbols returns both token symbols of the pool.
func (p Pool) Symbols() []string {
	return []string{p.TokenA.Symbol, p.TokenB.Symbol}
}

// PoolFilters narrows a fetch_pools call.
type PoolFilters struct {
	MinTvlUSD float64  `json:"min_tvl_usd,omitempty"`
	MinAPR    float64  `json:"min_apr,omitempty"`
	Symbols   []string `json:"symbols,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// PoolHistoryPoint is one observation of a pool's time series.
type PoolHistoryPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	APR          float64   `json:"apr"`
	TvlUSD       float64   `json:"tvl_usd"`
	Volume24hUSD float64   `json:"volume_24h_usd"`
	PriceA       float64   `json:"price_a"`
	PriceB       float64   `json:"price_b"`
}

// PoolHistory is the time series returned for a single pool.
type PoolHistory struct {
	PoolID   PoolID             `json:"pool_id"`
	Interval string             `json:"interval"`
	Points   []PoolHistoryPoint `json:"points"`
}

// PoolPrediction is an external model's 0-1 outlook for a pool.
type PoolPrediction struct {
	PoolID PoolID  `json:"pool_id"`
	Score  float64 `json:"score"`
}
