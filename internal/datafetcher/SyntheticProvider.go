/*
This file implements an in-process data provider backed by a generated market. It is the
default provider, and the one tests and training use when no HTTP endpoint is configured.
*/

package datafetcher

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/simulations"
	"github.com/elys-network/lpadvisor/internal/types"
)

var errSyntheticOffline = errors.New("synthetic provider is offline")

// SyntheticProvider serves a generated market. The latest day is the "current" snapshot;
// Advance moves the market forward one day.
type SyntheticProvider struct {
	mu        sync.RWMutex
	market    simulations.Market
	rng       *rand.Rand
	dailyVol  float64
	sentiment map[string]float64 // Overrides
	offline   bool
}

var _ Provider = (*SyntheticProvider)(nil)

// NewSyntheticProvider generates pools pools with historyDays days of history ending now.
func NewSyntheticProvider(seed int64, pools, historyDays int, dailyVol float64) *SyntheticProvider {
	if historyDays < 1 {
		historyDays = 1
	}
	rng := simulations.NewRand(seed)
	start := time.Now().UTC().Truncate(24 * time.Hour).Add(-time.Duration(historyDays) * 24 * time.Hour)
	base := simulations.SyntheticPools(rng, pools, start)
	return &SyntheticProvider{
		market:    simulations.GenerateMarket(rng, base, historyDays, dailyVol, start),
		rng:       rng,
		dailyVol:  dailyVol,
		sentiment: make(map[string]float64),
	}
}

// NewSyntheticProviderFromMarket serves a prepared market.
func NewSyntheticProviderFromMarket(m simulations.Market, seed int64) *SyntheticProvider {
	return &SyntheticProvider{
		market:    m,
		rng:       simulations.NewRand(seed),
		dailyVol:  0.04,
		sentiment: make(map[string]float64),
	}
}

func (s *SyntheticProvider) lastDay() int {
	return s.market.Days() - 1
}

// FetchPools returns the current snapshot.
func (s *SyntheticProvider) FetchPools(_ context.Context, filters types.PoolFilters) ([]types.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, errSyntheticOffline
	}
	if s.lastDay() < 0 {
		return []types.Pool{}, nil
	}
	return applyFilters(s.market.Snapshot(s.lastDay()), filters), nil
}

// FetchSentiment derives a stable per-symbol baseline nudged by the token's last daily move.
func (s *SyntheticProvider) FetchSentiment(_ context.Context, symbols []string) (map[string]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, errSyntheticOffline
	}

	moves := make(map[string]float64)
	if s.lastDay() >= 0 {
		for _, p := range s.market.Snapshot(s.lastDay()) {
			moves[config.CanonicalSymbol(p.TokenA.Symbol)] = p.TokenA.PriceChange24h
			moves[config.CanonicalSymbol(p.TokenB.Symbol)] = p.TokenB.PriceChange24h
		}
	}

	out := make(map[string]float64)
	for _, sym := range canonicalSymbols(symbols) {
		if v, ok := s.sentiment[sym]; ok {
			out[sym] = v
			continue
		}
		out[sym] = math.Max(-1, math.Min(1, symbolBaseline(sym)+5*moves[sym]))
	}
	return out, nil
}

// FetchPredictions scores pools by short-term APR momentum.
func (s *SyntheticProvider) FetchPredictions(_ context.Context) ([]types.PoolPrediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return nil, errSyntheticOffline
	}
	if s.lastDay() < 0 {
		return nil, nil
	}

	pools := s.market.Snapshot(s.lastDay())
	out := make([]types.PoolPrediction, 0, len(pools))
	for _, p := range pools {
		momentum := 0.0
		if p.APR7d > 0 {
			momentum = (p.APR24h - p.APR7d) / p.APR7d
		}
		out = append(out, types.PoolPrediction{PoolID: p.ID, Score: 0.5 + 0.5*math.Tanh(momentum)})
	}
	return out, nil
}

// FetchPoolHistory returns up to days daily points ending at the current day.
func (s *SyntheticProvider) FetchPoolHistory(_ context.Context, poolID types.PoolID, days int, _ string) (types.PoolHistory, error) {
	if days <= 0 {
		return types.PoolHistory{}, fmt.Errorf("%w: days %d", ErrInvalidRequest, days)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.offline {
		return types.PoolHistory{}, errSyntheticOffline
	}

	for i, p := range s.market.Pools {
		if p.ID != poolID {
			continue
		}
		series := s.market.Series[i]
		from := max(0, len(series)-days)
		return types.PoolHistory{
			PoolID:   poolID,
			Interval: "1d",
			Points:   append([]types.PoolHistoryPoint(nil), series[from:]...),
		}, nil
	}
	return types.PoolHistory{}, fmt.Errorf("%w: unknown pool %s", ErrInvalidRequest, poolID)
}

// CheckHealth is false only while the provider is offline.
func (s *SyntheticProvider) CheckHealth(context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.offline
}

// Advance appends one generated day to every pool.
func (s *SyntheticProvider) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, series := range s.market.Series {
		last := series[len(series)-1]
		next := last
		next.Timestamp = last.Timestamp.Add(24 * time.Hour)
		next.PriceA *= math.Exp(s.dailyVol * s.rng.NormFloat64())
		if !simulations.IsStable(s.market.Pools[i].TokenB.Symbol) {
			next.PriceB *= math.Exp(s.dailyVol * s.rng.NormFloat64())
		}
		next.APR = math.Max(0, last.APR*math.Exp(0.1*s.rng.NormFloat64()))
		s.market.Series[i] = append(series, next)
	}
}

// SetPoolAPR overrides a pool's current APR.
func (s *SyntheticProvider) SetPoolAPR(poolID types.PoolID, apr float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.market.Pools {
		if p.ID == poolID {
			series := s.market.Series[i]
			series[len(series)-1].APR = apr
		}
	}
}

// SetPoolPrices overrides a pool's current token prices.
func (s *SyntheticProvider) SetPoolPrices(poolID types.PoolID, priceA, priceB float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.market.Pools {
		if p.ID == poolID {
			series := s.market.Series[i]
			series[len(series)-1].PriceA = priceA
			series[len(series)-1].PriceB = priceB
		}
	}
}

// SetSentiment pins a symbol's sentiment.
func (s *SyntheticProvider) SetSentiment(symbol string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentiment[config.CanonicalSymbol(symbol)] = score
}

// SetOffline makes every fetch fail until cleared.
func (s *SyntheticProvider) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

func symbolBaseline(symbol string) float64 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return float64(h.Sum32()%1000)/1000*0.8 - 0.3 // [-0.3, 0.5)
}
