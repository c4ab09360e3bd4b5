/*
This file wraps a Provider with the resilience the decision paths rely on: a per-call
timeout, bounded exponential-backoff retries, a last-good snapshot served when retries are
exhausted, and a memoized health check.
*/

package datafetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/metrics"
	"github.com/elys-network/lpadvisor/internal/types"
	"golang.org/x/sync/singleflight"
)

var resilientLogger = logger.GetForComponent("resilient_provider")

// ResilientConfig tunes the wrapper. Zero values take defaults.
type ResilientConfig struct {
	Timeout         time.Duration // Per attempt, default 10s
	MaxRetries      int           // Retries after the first attempt, default 3
	InitialInterval time.Duration // First backoff, default 200ms
	MaxInterval     time.Duration // Backoff ceiling, default 5s
	HealthTTL       time.Duration // Health memo lifetime, default 5m
	Metrics         *metrics.Metrics
}

// Resilient implements Provider on top of another Provider.
type Resilient struct {
	inner Provider
	cfg   ResilientConfig
	now   func() time.Time

	mu              sync.RWMutex
	lastPools       map[string][]types.Pool
	lastSentiment   map[string]float64
	lastPredictions []types.PoolPrediction
	lastHistory     map[string]types.PoolHistory

	health        singleflight.Group
	healthMu      sync.Mutex
	healthAt      time.Time
	healthy       bool
	healthChecked bool
}

var _ Provider = (*Resilient)(nil)

// NewResilient wraps inner.
func NewResilient(inner Provider, cfg ResilientConfig) *Resilient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.HealthTTL <= 0 {
		cfg.HealthTTL = 5 * time.Minute
	}
	return &Resilient{
		inner:         inner,
		cfg:           cfg,
		now:           time.Now,
		lastPools:     make(map[string][]types.Pool),
		lastSentiment: make(map[string]float64),
		lastHistory:   make(map[string]types.PoolHistory),
	}
}

// withRetry runs fn with a per-attempt timeout until it succeeds, fails permanently or
// the retry cap is reached.
func withRetry[T any](ctx context.Context, r *Resilient, call string, fn func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.MaxRetries)), ctx)

	var result T
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		v, err := fn(attemptCtx)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.cfg.Metrics.RecordRetry(call)
		resilientLogger.Warn().
			Err(err).
			Str("call", call).
			Dur("retryIn", wait).
			Msg("Provider call failed, retrying")
	}

	err := backoff.RetryNotify(op, policy, notify)
	return result, err
}

// FetchPools falls back to the last pools served for the same filters.
func (r *Resilient) FetchPools(ctx context.Context, filters types.PoolFilters) ([]types.Pool, error) {
	key := filtersKey(filters)
	pools, err := withRetry(ctx, r, "fetch_pools", func(c context.Context) ([]types.Pool, error) {
		return r.inner.FetchPools(c, filters)
	})
	if err == nil {
		r.mu.Lock()
		r.lastPools[key] = append([]types.Pool(nil), pools...)
		r.mu.Unlock()
		return pools, nil
	}

	r.mu.RLock()
	cached, ok := r.lastPools[key]
	r.mu.RUnlock()
	if ok {
		r.cfg.Metrics.RecordCacheHit("fetch_pools")
		resilientLogger.Warn().Err(err).Int("pools", len(cached)).Msg("Serving last cached pool snapshot")
		return append([]types.Pool(nil), cached...), nil
	}
	return nil, fmt.Errorf("%w: fetch pools: %w", ErrDataUnavailable, err)
}

// FetchSentiment falls back to the last score seen per symbol.
func (r *Resilient) FetchSentiment(ctx context.Context, symbols []string) (map[string]float64, error) {
	scores, err := withRetry(ctx, r, "fetch_sentiment", func(c context.Context) (map[string]float64, error) {
		return r.inner.FetchSentiment(c, symbols)
	})
	if err == nil {
		r.mu.Lock()
		for k, v := range scores {
			r.lastSentiment[k] = v
		}
		r.mu.Unlock()
		return scores, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	cached := make(map[string]float64)
	for _, s := range canonicalSymbols(symbols) {
		if v, ok := r.lastSentiment[s]; ok {
			cached[s] = v
		}
	}
	if len(cached) > 0 {
		r.cfg.Metrics.RecordCacheHit("fetch_sentiment")
		resilientLogger.Warn().Err(err).Int("symbols", len(cached)).Msg("Serving cached sentiment")
		return cached, nil
	}
	return nil, fmt.Errorf("%w: fetch sentiment: %w", ErrDataUnavailable, err)
}

// FetchPredictions falls back to the last prediction set.
func (r *Resilient) FetchPredictions(ctx context.Context) ([]types.PoolPrediction, error) {
	preds, err := withRetry(ctx, r, "fetch_predictions", r.inner.FetchPredictions)
	if err == nil {
		r.mu.Lock()
		r.lastPredictions = append([]types.PoolPrediction(nil), preds...)
		r.mu.Unlock()
		return preds, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastPredictions != nil {
		r.cfg.Metrics.RecordCacheHit("fetch_predictions")
		return append([]types.PoolPrediction(nil), r.lastPredictions...), nil
	}
	return nil, fmt.Errorf("%w: fetch predictions: %w", ErrDataUnavailable, err)
}

// FetchPoolHistory falls back to the last history for the same request.
func (r *Resilient) FetchPoolHistory(ctx context.Context, poolID types.PoolID, days int, interval string) (types.PoolHistory, error) {
	key := fmt.Sprintf("%s|%d|%s", poolID, days, interval)
	hist, err := withRetry(ctx, r, "fetch_pool_history", func(c context.Context) (types.PoolHistory, error) {
		return r.inner.FetchPoolHistory(c, poolID, days, interval)
	})
	if err == nil {
		r.mu.Lock()
		r.lastHistory[key] = hist
		r.mu.Unlock()
		return hist, nil
	}

	r.mu.RLock()
	cached, ok := r.lastHistory[key]
	r.mu.RUnlock()
	if ok {
		r.cfg.Metrics.RecordCacheHit("fetch_pool_history")
		return cached, nil
	}
	return types.PoolHistory{}, fmt.Errorf("%w: fetch history for %s: %w", ErrDataUnavailable, poolID, err)
}

// CheckHealth memoizes the inner result for HealthTTL. Concurrent callers share one probe.
func (r *Resilient) CheckHealth(ctx context.Context) bool {
	r.healthMu.Lock()
	if r.healthChecked && r.now().Sub(r.healthAt) < r.cfg.HealthTTL {
		healthy := r.healthy
		r.healthMu.Unlock()
		r.cfg.Metrics.RecordCacheHit("check_health")
		return healthy
	}
	r.healthMu.Unlock()

	v, _, _ := r.health.Do("health", func() (any, error) {
		probeCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
		healthy := r.inner.CheckHealth(probeCtx)

		r.healthMu.Lock()
		r.healthy = healthy
		r.healthAt = r.now()
		r.healthChecked = true
		r.healthMu.Unlock()
		return healthy, nil
	})
	return v.(bool)
}

func filtersKey(f types.PoolFilters) string {
	symbols := canonicalSymbols(f.Symbols)
	sort.Strings(symbols)
	f.Symbols = symbols
	b, err := json.Marshal(f)
	if err != nil {
		return strings.Join(symbols, ",")
	}
	return string(b)
}
