/*

Daily market series for the simulation environment, either replayed from provider history
or generated as a geometric random walk.

*/

package simulations

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/elys-network/lpadvisor/internal/types"
)

var ErrInsufficientHistory = errors.New("insufficient history to build a market")

// Market is a pool universe with one observation per simulated day.
type Market struct {
	Pools  []types.Pool               // Metadata as of day 0
	Series [][]types.PoolHistoryPoint // Series[i][d] is pool i on day d
}

// Days returns the number of observed days shared by every pool.
func (m Market) Days() int {
	if len(m.Series) == 0 {
		return 0
	}
	days := len(m.Series[0])
	for _, s := range m.Series[1:] {
		days = min(days, len(s))
	}
	return days
}

// Snapshot returns every pool as it looked on day d.
func (m Market) Snapshot(d int) []types.Pool {
	out := make([]types.Pool, len(m.Pools))
	for i, base := range m.Pools {
		series := m.Series[i]
		pt := series[d]
		p := base
		p.TokenA.PriceData = nil
		p.TokenB.PriceData = nil

		p.APR24h = pt.APR
		p.TvlUSD = pt.TvlUSD
		p.Volume24hUSD = pt.Volume24hUSD
		p.TokenA.PriceUSD = pt.PriceA
		p.TokenB.PriceUSD = pt.PriceB
		p.AgeInDays = base.AgeInDays + d
		p.ObservedAt = pt.Timestamp

		if d > 0 {
			prev := series[d-1]
			p.TokenA.PriceChange24h = ratioChange(prev.PriceA, pt.PriceA)
			p.TokenB.PriceChange24h = ratioChange(prev.PriceB, pt.PriceB)
		} else {
			p.TokenA.PriceChange24h = 0
			p.TokenB.PriceChange24h = 0
		}

		// Trailing 7-day aggregates, scaled up when fewer days exist.
		from := max(0, d-6)
		var aprSum, volSum float64
		for _, q := range series[from : d+1] {
			aprSum += q.APR
			volSum += q.Volume24hUSD
		}
		n := float64(d - from + 1)
		p.APR7d = aprSum / n
		p.Volume7dUSD = volSum * 7 / n

		out[i] = p
	}
	return out
}

func ratioChange(prev, cur float64) float64 {
	if prev <= 0 {
		return 0
	}
	return cur/prev - 1
}

// HistoricalMarket aligns provider histories into a Market. Series are truncated to the
// shortest one; every pool needs at least two points.
func HistoricalMarket(pools []types.Pool, histories map[types.PoolID]types.PoolHistory) (Market, error) {
	m := Market{Pools: make([]types.Pool, 0, len(pools))}
	for _, p := range pools {
		h, ok := histories[p.ID]
		if !ok || len(h.Points) < 2 {
			return Market{}, fmt.Errorf("%w: pool %s", ErrInsufficientHistory, p.ID)
		}
		for j, pt := range h.Points {
			if pt.PriceA <= 0 || pt.PriceB <= 0 {
				return Market{}, fmt.Errorf("%w: pool %s point %d has non-positive prices", ErrInsufficientHistory, p.ID, j)
			}
		}
		m.Pools = append(m.Pools, p)
		m.Series = append(m.Series, append([]types.PoolHistoryPoint(nil), h.Points...))
	}
	if len(m.Pools) == 0 {
		return Market{}, ErrInsufficientHistory
	}
	days := m.Days()
	for i := range m.Series {
		m.Series[i] = m.Series[i][len(m.Series[i])-days:]
	}
	return m, nil
}

var stableSymbols = map[string]bool{"USDC": true, "USDT": true, "DAI": true, "USD": true}

// IsStable reports whether a symbol is a dollar stablecoin.
func IsStable(symbol string) bool {
	return stableSymbols[strings.ToUpper(symbol)]
}

// GenerateMarket walks every base pool forward for days days. Prices follow a geometric
// Brownian motion with the token's own volatility when known, APR mean-reverts to its
// starting level in log space and TVL and volume drift with multiplicative noise.
func GenerateMarket(rng *rand.Rand, base []types.Pool, days int, dailyVol float64, start time.Time) Market {
	m := Market{
		Pools:  append([]types.Pool(nil), base...),
		Series: make([][]types.PoolHistoryPoint, len(base)),
	}
	for i, p := range base {
		volA := tokenDailyVol(p.TokenA, dailyVol)
		volB := tokenDailyVol(p.TokenB, dailyVol)

		priceA, priceB := positiveOr(p.TokenA.PriceUSD, 1), positiveOr(p.TokenB.PriceUSD, 1)
		anchor := math.Log(positiveOr(p.APR(), 1))
		logAPR := anchor
		tvl := positiveOr(p.TvlUSD, 1e5)
		vol24 := positiveOr(p.Volume24hUSD, tvl*0.05)

		series := make([]types.PoolHistoryPoint, days+1)
		for d := 0; d <= days; d++ {
			if d > 0 {
				priceA *= gbmStep(rng, volA)
				priceB *= gbmStep(rng, volB)
				logAPR += 0.1*(anchor-logAPR) + 0.1*rng.NormFloat64()
				tvl *= math.Exp(0.03 * rng.NormFloat64())
				vol24 = tvl * 0.05 * math.Exp(0.2*rng.NormFloat64())
			}
			series[d] = types.PoolHistoryPoint{
				Timestamp:    start.Add(time.Duration(d) * 24 * time.Hour),
				APR:          math.Exp(logAPR),
				TvlUSD:       tvl,
				Volume24hUSD: vol24,
				PriceA:       priceA,
				PriceB:       priceB,
			}
		}
		m.Series[i] = series
	}
	return m
}

func gbmStep(rng *rand.Rand, sigma float64) float64 {
	return math.Exp(-0.5*sigma*sigma + sigma*rng.NormFloat64())
}

func tokenDailyVol(t types.Token, fallback float64) float64 {
	if IsStable(t.Symbol) {
		return fallback * 0.02
	}
	if t.Volatility > 0 {
		return t.Volatility / math.Sqrt(365)
	}
	return fallback
}

func positiveOr(v, fallback float64) float64 {
	if v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	return fallback
}

var syntheticTokens = []types.Token{
	{Symbol: "ATOM", Decimals: 6, PriceUSD: 9},
	{Symbol: "OSMO", Decimals: 6, PriceUSD: 0.6},
	{Symbol: "ELYS", Decimals: 6, PriceUSD: 1.2},
	{Symbol: "TIA", Decimals: 6, PriceUSD: 7},
	{Symbol: "ETH", Decimals: 18, PriceUSD: 3200},
	{Symbol: "BTC", Decimals: 8, PriceUSD: 65000},
	{Symbol: "INJ", Decimals: 18, PriceUSD: 25},
	{Symbol: "AKT", Decimals: 6, PriceUSD: 3},
}

var syntheticQuotes = []types.Token{
	{Symbol: "USDC", Decimals: 6, PriceUSD: 1},
	{Symbol: "ATOM", Decimals: 6, PriceUSD: 9},
}

// SyntheticPools draws a plausible pool universe of n pools.
func SyntheticPools(rng *rand.Rand, n int, now time.Time) []types.Pool {
	pools := make([]types.Pool, 0, n)
	seen := make(map[types.PoolID]bool)
	for attempts := 0; len(pools) < n && attempts < n*20; attempts++ {
		a := syntheticTokens[rng.IntN(len(syntheticTokens))]
		b := syntheticQuotes[rng.IntN(len(syntheticQuotes))]
		if a.Symbol == b.Symbol {
			continue
		}
		id := types.PoolID(a.Symbol + "-" + b.Symbol)
		if seen[id] {
			id = types.PoolID(fmt.Sprintf("%s-%d", id, len(pools)))
		}
		seen[id] = true

		tvl := math.Exp(logUniform(rng, 1e5, 5e7))
		apr := math.Exp(logUniform(rng, 3, 150))
		pools = append(pools, types.Pool{
			ID:           id,
			TokenA:       a,
			TokenB:       b,
			APR24h:       apr,
			APR7d:        apr * (0.8 + 0.4*rng.Float64()),
			APR30d:       apr * (0.7 + 0.6*rng.Float64()),
			TvlUSD:       tvl,
			Volume24hUSD: tvl * (0.01 + 0.1*rng.Float64()),
			SwapFee:      0.003,
			AgeInDays:    1 + rng.IntN(720),
			ObservedAt:   now,
		})
		pools[len(pools)-1].Volume7dUSD = pools[len(pools)-1].Volume24hUSD * 7
	}
	return pools
}

func logUniform(rng *rand.Rand, lo, hi float64) float64 {
	return math.Log(lo) + rng.Float64()*(math.Log(hi)-math.Log(lo))
}

// NewRand returns a deterministic generator for seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}
