/*
Package signals turns external predictions and token sentiment into composite scores per risk
profile and keeps the append-only signal log current.

profile_high weighs the prediction model more heavily, profile_stable leans on sentiment.
Compute fills a missing input with a neutral prediction (0.5) or neutral sentiment (0);
Refresh never stores a signal built from a missing input.
*/
package signals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/elys-network/lpadvisor/internal/config"
	"github.com/elys-network/lpadvisor/internal/datafetcher"
	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/state"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var aggLogger = logger.GetForComponent("signal_aggregator")

const (
	NeutralPrediction = 0.5
	NeutralSentiment  = 0.0
)

// Combine returns (profile_high, profile_stable) for a prediction in [0,1] and a sentiment
// in [-1,1]. Inputs outside their range are clamped.
func Combine(prediction, sentiment float64, tuning types.TuningParameters) (float64, float64) {
	prediction = clamp(prediction, 0, 1, NeutralPrediction)
	s01 := (clamp(sentiment, -1, 1, NeutralSentiment) + 1) / 2

	wh := tuning.HighPredictionWeight
	ws := tuning.StablePredictionWeight
	high := wh*prediction + (1-wh)*s01
	stable := ws*prediction + (1-ws)*s01
	return high, stable
}

// PoolSentiment averages the sentiment of the pool's two tokens. Tokens without a score
// count as neutral.
func PoolSentiment(pool types.Pool, scores map[string]float64) float64 {
	a, okA := scores[config.CanonicalSymbol(pool.TokenA.Symbol)]
	b, okB := scores[config.CanonicalSymbol(pool.TokenB.Symbol)]
	switch {
	case okA && okB:
		return (a + b) / 2
	case okA:
		return a
	case okB:
		return b
	default:
		return NeutralSentiment
	}
}

// Compose builds a new signal record. Each call gets a fresh ID.
func Compose(poolID types.PoolID, prediction, sentiment float64, ts time.Time, tuning types.TuningParameters) types.CompositeSignal {
	prediction = clamp(prediction, 0, 1, NeutralPrediction)
	sentiment = clamp(sentiment, -1, 1, NeutralSentiment)
	high, stable := Combine(prediction, sentiment, tuning)
	return types.CompositeSignal{
		ID:              uuid.NewString(),
		PoolID:          poolID,
		Timestamp:       ts,
		PredictionScore: prediction,
		SentimentScore:  sentiment,
		ProfileHigh:     high,
		ProfileStable:   stable,
	}
}

// Aggregator computes composite signals from a provider and appends them to a SignalStore.
type Aggregator struct {
	provider datafetcher.Provider
	store    state.SignalStore
	tuning   types.TuningParameters
	now      func() time.Time
}

// NewAggregator creates an aggregator. store may be nil when signals are only computed.
func NewAggregator(provider datafetcher.Provider, store state.SignalStore, tuning types.TuningParameters) *Aggregator {
	return &Aggregator{
		provider: provider,
		store:    store,
		tuning:   tuning,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Compute fetches predictions and sentiment concurrently and returns one signal per pool.
// A failed input is replaced by neutral values; ErrDataUnavailable is returned only when
// both inputs fail.
func (a *Aggregator) Compute(ctx context.Context, pools []types.Pool) (map[types.PoolID]types.CompositeSignal, error) {
	res, err := a.compute(ctx, pools)
	return res.signals, err
}

type computation struct {
	signals map[types.PoolID]types.CompositeSignal
	missing error // Set when one input failed and was replaced by its neutral value
}

func (a *Aggregator) compute(ctx context.Context, pools []types.Pool) (computation, error) {
	if len(pools) == 0 {
		return computation{signals: map[types.PoolID]types.CompositeSignal{}}, nil
	}

	symbols := make([]string, 0, 2*len(pools))
	for _, p := range pools {
		symbols = append(symbols, p.Symbols()...)
	}

	var (
		preds         []types.PoolPrediction
		scores        map[string]float64
		predErr, sErr error
	)
	// A plain group: one failing input must not cancel the other fetch.
	var g errgroup.Group
	g.Go(func() error {
		if preds, predErr = a.provider.FetchPredictions(ctx); predErr != nil {
			return fmt.Errorf("predictions: %w", predErr)
		}
		return nil
	})
	g.Go(func() error {
		if scores, sErr = a.provider.FetchSentiment(ctx, symbols); sErr != nil {
			return fmt.Errorf("sentiment: %w", sErr)
		}
		return nil
	})

	var missing error
	if err := g.Wait(); err != nil {
		missing = errors.Join(predErr, sErr)
		if predErr != nil && sErr != nil {
			return computation{}, fmt.Errorf("%w: %w", datafetcher.ErrDataUnavailable, missing)
		}
		if predErr != nil {
			aggLogger.Warn().Err(predErr).Msg("Predictions unavailable, using neutral prediction")
		} else {
			aggLogger.Warn().Err(sErr).Msg("Sentiment unavailable, using neutral sentiment")
		}
	}

	byPool := make(map[types.PoolID]float64, len(preds))
	for _, p := range preds {
		byPool[p.PoolID] = p.Score
	}

	ts := a.now()
	out := make(map[types.PoolID]types.CompositeSignal, len(pools))
	for _, p := range pools {
		pred, ok := byPool[p.ID]
		if !ok {
			pred = NeutralPrediction
		}
		sig := Compose(p.ID, pred, PoolSentiment(p, scores), ts, a.tuning)
		out[p.ID] = sig

		aggLogger.Debug().
			Str("poolID", string(p.ID)).
			Float64("prediction", sig.PredictionScore).
			Float64("sentiment", sig.SentimentScore).
			Float64("high", sig.ProfileHigh).
			Float64("stable", sig.ProfileStable).
			Msg("Composite signal computed")
	}
	return computation{signals: out, missing: missing}, nil
}

// Refresh computes signals for pools and appends each to the log. Append failures are
// joined and returned alongside the signals that were stored.
//
// Both inputs must be live. If either one failed nothing is stored and ErrDataUnavailable
// is returned, so the previous signal ages out instead of being replaced by a neutral value.
func (a *Aggregator) Refresh(ctx context.Context, pools []types.Pool) ([]types.CompositeSignal, error) {
	if a.store == nil {
		return nil, errors.New("signal aggregator has no store")
	}
	res, err := a.compute(ctx, pools)
	if err != nil {
		return nil, err
	}
	if res.missing != nil {
		aggLogger.Warn().Err(res.missing).Int("pools", len(pools)).Msg("Not storing signals built from a missing input")
		return nil, fmt.Errorf("%w: %w", datafetcher.ErrDataUnavailable, res.missing)
	}

	stored := make([]types.CompositeSignal, 0, len(res.signals))
	var errs []error
	for _, p := range pools {
		sig, ok := res.signals[p.ID]
		if !ok {
			continue
		}
		if err := a.store.AppendSignal(ctx, sig); err != nil {
			errs = append(errs, fmt.Errorf("append signal for %s: %w", p.ID, err))
			continue
		}
		stored = append(stored, sig)
	}

	aggLogger.Info().
		Int("pools", len(pools)).
		Int("stored", len(stored)).
		Msg("Composite signals refreshed")
	return stored, errors.Join(errs...)
}

// Latest returns the newest signal for a pool if it is within the freshness window.
// ok is false when no signal exists or the newest one is stale.
func (a *Aggregator) Latest(ctx context.Context, poolID types.PoolID, freshness time.Duration) (types.CompositeSignal, bool, error) {
	if a.store == nil {
		return types.CompositeSignal{}, false, nil
	}
	sig, err := a.store.LatestSignal(ctx, poolID)
	if errors.Is(err, state.ErrNotFound) {
		return types.CompositeSignal{}, false, nil
	}
	if err != nil {
		return types.CompositeSignal{}, false, err
	}
	return sig, sig.Fresh(a.now(), freshness), nil
}

func clamp(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return math.Max(lo, math.Min(hi, v))
}
