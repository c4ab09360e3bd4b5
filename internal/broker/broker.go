/*
Package broker turns a decision strategy's pick, or the rule-based ranking when there is no
pick, into ranked pool recommendations, timing verdicts and rebalance plans.

The broker never returns an error to its callers. Agent failures degrade to the rule-based
ranking; a model that cannot be loaded, or that was trained on a different observation
layout, downgrades the broker to rules until ReloadModel succeeds.
*/
package broker

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/elys-network/lpadvisor/internal/analyzer"
	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/metrics"
	"github.com/elys-network/lpadvisor/internal/rl"
	"github.com/elys-network/lpadvisor/internal/simulations"
	"github.com/elys-network/lpadvisor/internal/types"
)

var brokerLogger = logger.GetForComponent("recommendation_broker")

// ModelLoader produces a ready agent, typically from the latest checkpoint.
type ModelLoader func() (rl.Agent, error)

// Config configures a Broker.
type Config struct {
	Tuning types.TuningParameters
	// Strategy is "rl" or "rule". With "rl" and a failing Loader the broker starts downgraded.
	Strategy string
	Loader   ModelLoader
	Metrics  *metrics.Metrics
}

// Broker is safe for concurrent use.
type Broker struct {
	tuning  types.TuningParameters
	loader  ModelLoader
	metrics *metrics.Metrics
	now     func() time.Time

	mu         sync.RWMutex
	primary    DecisionStrategy
	wantRL     bool
	downgraded string // Reason, empty when not downgraded
	fallback   RuleBasedStrategy
}

func New(cfg Config) *Broker {
	b := &Broker{
		tuning:  cfg.Tuning,
		loader:  cfg.Loader,
		metrics: cfg.Metrics,
		now:     func() time.Time { return time.Now().UTC() },
		wantRL:  cfg.Strategy == StrategyRL || cfg.Strategy == "",
	}
	if b.wantRL {
		if err := b.ReloadModel(); err != nil {
			brokerLogger.Warn().Err(err).Msg("RL strategy unavailable, starting with rule-based recommendations")
		}
	}
	return b
}

// NewWithStrategy builds a broker around an explicit strategy.
func NewWithStrategy(strategy DecisionStrategy, tuning types.TuningParameters, m *metrics.Metrics) *Broker {
	return &Broker{
		tuning:  tuning,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		primary: strategy,
		wantRL:  strategy != nil && strategy.Name() == StrategyRL,
	}
}

// ReloadModel loads a fresh agent and restores the RL strategy.
func (b *Broker) ReloadModel() error {
	if b.loader == nil {
		b.downgrade("no model loader configured")
		return fmt.Errorf("%w: no model loader configured", rl.ErrModelUnavailable)
	}
	agent, err := b.loader()
	if err == nil {
		var s *RLStrategy
		if s, err = NewRLStrategy(agent, b.tuning); err == nil {
			b.mu.Lock()
			b.primary = s
			b.wantRL = true
			b.downgraded = ""
			b.mu.Unlock()
			brokerLogger.Info().
				Str("kind", string(agent.Kind())).
				Int("pools", s.Pools()).
				Msg("RL strategy loaded")
			return nil
		}
	}
	b.downgrade(err.Error())
	return err
}

func (b *Broker) downgrade(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.downgraded == "" {
		brokerLogger.Warn().Str("reason", reason).Msg("Downgrading to rule-based recommendations")
	}
	b.primary = nil
	b.downgraded = reason
}

// StrategyName is the strategy currently answering requests.
func (b *Broker) StrategyName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.primary == nil {
		return b.fallback.Name()
	}
	return b.primary.Name()
}

// Downgraded reports whether the broker wants RL but is running on rules, and why.
func (b *Broker) Downgraded() (bool, string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.wantRL && b.primary == nil, b.downgraded
}

// GetPoolRecommendations ranks pools for a profile and sizes the top n against the user's
// cash balance. n <= 0 returns every valid pool.
func (b *Broker) GetPoolRecommendations(pools []types.Pool, user types.UserState, profile types.RiskProfile, n int) (set types.RecommendationSet) {
	set = types.RecommendationSet{Profile: profile, GeneratedAt: b.now(), Items: []types.Recommendation{}}
	defer func() {
		if r := recover(); r != nil {
			brokerLogger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Recovered panic while ranking pools")
			set = types.RecommendationSet{
				Profile:     profile,
				GeneratedAt: b.now(),
				Items:       []types.Recommendation{},
				Error:       fmt.Sprintf("internal error while ranking pools: %v", r),
			}
		}
	}()

	if len(pools) == 0 {
		set.Success = true
		set.Strategy = StrategyRule
		set.Degraded = true
		brokerLogger.Warn().Str("profile", string(profile)).Msg("No pools to rank")
		return set
	}

	ranked, scores, err := analyzer.RankPools(pools, profile, b.tuning)
	if err != nil {
		set.Error = err.Error()
		return set
	}

	decision, strategy, degraded := b.decide(DecisionInput{Candidates: ranked, User: user, Profile: profile})
	ordered := ranked
	if decision.Pool >= 0 {
		ordered = promote(ranked, decision.Pool)
	}
	if n > 0 && len(ordered) > n {
		ordered = ordered[:n]
	}

	percents, err := analyzer.AllocationCurve(profile, b.tuning, len(ordered))
	if err != nil {
		set.Error = err.Error()
		return set
	}
	amounts := analyzer.AllocateUSD(percents, user.BalanceUSD)

	for i, p := range ordered {
		rec := types.Recommendation{
			Rank:              i + 1,
			PoolID:            p.ID,
			Pair:              p.Pair(),
			APR:               p.APR(),
			TvlUSD:            p.TvlUSD,
			Score:             scores[p.ID].Score,
			Confidence:        ruleConfidence(scores[p.ID].Score),
			AllocationPercent: percents[i],
			AllocationUSD:     amounts[i],
			Profile:           profile,
			Reason:            "Rule-based score",
		}
		if i == 0 && decision.Pool >= 0 {
			rec.RLRecommended = true
			rec.Confidence = decision.Confidence
			rec.Reason = "Selected by the trained agent"
		}
		set.Items = append(set.Items, rec)
	}

	set.Success = true
	set.Strategy = strategy
	set.Degraded = degraded
	b.metrics.RecordRecommendation(strategy)
	return set
}

// decide asks the primary strategy for a pick and falls back to rules on any failure.
func (b *Broker) decide(in DecisionInput) (d Decision, strategy string, degraded bool) {
	b.mu.RLock()
	primary := b.primary
	wantRL := b.wantRL
	b.mu.RUnlock()

	noPick := Decision{Kind: simulations.ActionNoOp, Pool: -1}
	if primary == nil {
		if wantRL {
			b.metrics.RecordFallback("model_unavailable")
		}
		return noPick, StrategyRule, wantRL
	}

	defer func() {
		if r := recover(); r != nil {
			brokerLogger.Error().Interface("panic", r).Msg("Strategy panicked, using rule-based ranking")
			b.metrics.RecordFallback("panic")
			d, strategy, degraded = noPick, StrategyRule, true
		}
	}()

	d, err := primary.Decide(in)
	switch {
	case err != nil:
		if errors.Is(err, rl.ErrModelUnavailable) || errors.Is(err, rl.ErrDimensionMismatch) {
			b.downgrade(err.Error())
		}
		brokerLogger.Warn().Err(err).Msg("Strategy failed, using rule-based ranking")
		b.metrics.RecordFallback("error")
		return noPick, StrategyRule, true
	case d.Invalid:
		b.metrics.RecordFallback("invalid_action")
		return noPick, StrategyRule, true
	case d.Kind != simulations.ActionBuy:
		if primary.Name() == StrategyRL {
			brokerLogger.Debug().Str("action", d.Kind.String()).Msg("Agent did not pick a pool, using rule-based ranking")
			b.metrics.RecordFallback(d.Kind.String())
			return noPick, StrategyRule, true
		}
		return noPick, primary.Name(), false
	}
	return d, primary.Name(), false
}

// promote moves ranked[idx] to the front, keeping the rest in order.
func promote(ranked []types.Pool, idx int) []types.Pool {
	out := make([]types.Pool, 0, len(ranked))
	out = append(out, ranked[idx])
	out = append(out, ranked[:idx]...)
	return append(out, ranked[idx+1:]...)
}

// ruleConfidence maps a [0,1] rule score onto [0.5, 0.9].
func ruleConfidence(score float64) float64 {
	return 0.5 + 0.4*score
}
