package simulations

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/types"
)

var (
	ErrEpisodeDone   = errors.New("episode is done, call Reset")
	ErrInvalidConfig = errors.New("environment configuration is invalid")
)

var envLogger = logger.GetForComponent("simulation_env")

// Config configures an Environment.
type Config struct {
	Tuning types.TuningParameters

	// Market, when set, is replayed: each episode starts at a random day with enough
	// history left for a full horizon. Otherwise a fresh synthetic market of Pools pools
	// is generated on every reset.
	Market *Market
	Pools  int

	Seed int64
}

type holding struct {
	principal float64
	entryA    float64
	entryB    float64
}

// StepInfo describes what a step did.
type StepInfo struct {
	Kind           ActionKind `json:"kind"`
	Pool           int        `json:"pool"`
	Invalid        bool       `json:"invalid"`     // Action id out of range, treated as no-op
	Ineffective    bool       `json:"ineffective"` // Valid action that changed nothing, e.g. selling an empty slot
	Day            int        `json:"day"`
	PortfolioValue float64    `json:"portfolio_value"`
	ILPenalty      float64    `json:"il_penalty"`
	FeesPaid       float64    `json:"fees_paid"`
}

// StepResult is the outcome of Step.
type StepResult struct {
	State  []float64
	Reward float64
	Done   bool
	Info   StepInfo
}

// Environment is the portfolio MDP the agents train on. It is not safe for concurrent use.
type Environment struct {
	tuning types.TuningParameters
	fixed  *Market
	pools  int
	rng    *rand.Rand

	market   Market
	offset   int
	day      int
	cash     float64
	holdings []holding
	done     bool
}

// NewEnvironment validates cfg and returns an environment ready for Reset.
func NewEnvironment(cfg Config) (*Environment, error) {
	var errs []error
	t := cfg.Tuning
	if t.MaxPools <= 0 {
		errs = append(errs, fmt.Errorf("max pools must be positive, got %d", t.MaxPools))
	}
	if t.EpisodeHorizon <= 0 {
		errs = append(errs, fmt.Errorf("episode horizon must be positive, got %d", t.EpisodeHorizon))
	}
	if t.InitialCashUSD <= 0 {
		errs = append(errs, fmt.Errorf("initial cash must be positive, got %f", t.InitialCashUSD))
	}
	if t.BuyFraction <= 0 || t.BuyFraction > 1 {
		errs = append(errs, fmt.Errorf("buy fraction must be in (0, 1], got %f", t.BuyFraction))
	}
	if t.TransactionFee < 0 || t.TransactionFee >= 1 {
		errs = append(errs, fmt.Errorf("transaction fee must be in [0, 1), got %f", t.TransactionFee))
	}

	pools := cfg.Pools
	if cfg.Market != nil {
		pools = len(cfg.Market.Pools)
		if cfg.Market.Days() < t.EpisodeHorizon+1 {
			errs = append(errs, fmt.Errorf("%w: market has %d days, horizon needs %d", ErrInsufficientHistory, cfg.Market.Days(), t.EpisodeHorizon+1))
		}
	}
	if pools <= 0 || pools > t.MaxPools {
		errs = append(errs, fmt.Errorf("pool count must be in [1, %d], got %d", t.MaxPools, pools))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	env := &Environment{
		tuning: t,
		fixed:  cfg.Market,
		pools:  pools,
		rng:    NewRand(cfg.Seed),
		done:   true,
	}
	return env, nil
}

// StateDim is the observation length.
func (e *Environment) StateDim() int { return StateDim(e.tuning.MaxPools) }

// ActionDim is the number of actions.
func (e *Environment) ActionDim() int { return ActionDim(e.pools) }

// Pools is the number of tracked pools.
func (e *Environment) Pools() int { return e.pools }

// Reset starts a new episode and returns the first observation.
func (e *Environment) Reset() []float64 {
	if e.fixed != nil {
		e.market = *e.fixed
		span := e.market.Days() - (e.tuning.EpisodeHorizon + 1)
		e.offset = 0
		if span > 0 {
			e.offset = e.rng.IntN(span + 1)
		}
	} else {
		start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		base := SyntheticPools(e.rng, e.pools, start)
		e.market = GenerateMarket(e.rng, base, e.tuning.EpisodeHorizon, e.tuning.SyntheticVolatility, start)
		e.offset = 0
	}

	e.day = 0
	e.cash = e.tuning.InitialCashUSD
	e.holdings = make([]holding, e.pools)
	e.done = false
	return e.observe()
}

// ResetSeed reseeds the generator, then resets.
func (e *Environment) ResetSeed(seed int64) []float64 {
	e.rng = NewRand(seed)
	return e.Reset()
}

// InitialCash is the cash every episode starts with.
func (e *Environment) InitialCash() float64 { return e.tuning.InitialCashUSD }

// CurrentPools returns the tracked pools as of the current day.
func (e *Environment) CurrentPools() []types.Pool {
	return e.market.Snapshot(e.offset + e.day)
}

// PortfolioValue is cash plus the marked value of every holding.
func (e *Environment) PortfolioValue() float64 {
	return e.valueOn(e.offset + e.day)
}

// Step applies action, advances one day and returns the reward.
func (e *Environment) Step(action int) (StepResult, error) {
	if e.done {
		return StepResult{}, ErrEpisodeDone
	}

	info := StepInfo{Pool: -1}
	kind, idx, err := DecodeAction(action, e.pools)
	if err != nil {
		info.Invalid = true
		envLogger.Debug().Err(err).Int("action", action).Msg("Invalid action treated as no-op")
	}
	info.Kind, info.Pool = kind, idx

	today := e.offset + e.day
	prevValue := e.valueOn(today)

	switch kind {
	case ActionBuy:
		info.FeesPaid, info.Ineffective = e.buy(idx, today)
	case ActionSell:
		info.FeesPaid, info.Ineffective = e.sell(idx, today)
	}

	// Advance: holdings earn one day of yield at today's APR, then are marked tomorrow.
	for i := range e.holdings {
		if e.holdings[i].principal > 0 {
			e.holdings[i].principal = AccrueDaily(e.holdings[i].principal, e.market.Series[i][today].APR)
		}
	}
	e.day++
	tomorrow := e.offset + e.day

	value := e.valueOn(tomorrow)
	penalty := e.ilPenalty(tomorrow)
	reward := (value - prevValue - penalty) * e.tuning.RewardScale

	e.done = e.day >= e.tuning.EpisodeHorizon
	info.Day = e.day
	info.PortfolioValue = value
	info.ILPenalty = penalty

	return StepResult{State: e.observe(), Reward: reward, Done: e.done, Info: info}, nil
}

func (e *Environment) buy(i, day int) (fee float64, ineffective bool) {
	join, err := SimulateJoinPool(e.cash, e.tuning.BuyFraction, e.tuning.TransactionFee)
	if err != nil || join.InvestedUSD < 1e-9 {
		return 0, true
	}
	pt := e.market.Series[i][day]
	h := &e.holdings[i]

	// Topping up folds the current mark into the principal and restarts IL from today.
	existing, _ := MarkValue(h.principal, h.entryA, h.entryB, pt.PriceA, pt.PriceB)
	e.cash -= join.InvestedUSD
	h.principal = existing + join.PrincipalUSD
	h.entryA, h.entryB = pt.PriceA, pt.PriceB
	return join.FeeUSD, false
}

func (e *Environment) sell(i, day int) (fee float64, ineffective bool) {
	h := &e.holdings[i]
	if h.principal <= 0 {
		return 0, true
	}
	pt := e.market.Series[i][day]
	exit, err := SimulateLeavePool(h.principal, h.entryA, h.entryB, pt.PriceA, pt.PriceB, e.tuning.TransactionFee)
	if err != nil {
		return 0, true
	}
	e.cash += exit.ProceedsUSD
	*h = holding{}
	return exit.FeeUSD, false
}

func (e *Environment) valueOn(day int) float64 {
	value := e.cash
	for i, h := range e.holdings {
		if h.principal > 0 {
			pt := e.market.Series[i][day]
			mark, _ := MarkValue(h.principal, h.entryA, h.entryB, pt.PriceA, pt.PriceB)
			value += mark
		}
	}
	return value
}

// ilPenalty is the IL of each holding weighted by its share of position value, times
// the configured factor.
func (e *Environment) ilPenalty(day int) float64 {
	var total, weighted float64
	for i, h := range e.holdings {
		if h.principal <= 0 {
			continue
		}
		pt := e.market.Series[i][day]
		mark, il := MarkValue(h.principal, h.entryA, h.entryB, pt.PriceA, pt.PriceB)
		total += mark
		weighted += mark * il
	}
	if total <= 0 {
		return 0
	}
	return e.tuning.ILPenaltyFactor * weighted / total
}

func (e *Environment) observe() []float64 {
	day := e.offset + e.day
	pools := e.market.Snapshot(day)
	total := e.valueOn(day)

	view := PortfolioView{
		Cash:      e.cash / e.tuning.InitialCashUSD,
		Fractions: make([]float64, e.pools),
		IL:        make([]float64, e.pools),
	}
	for i, h := range e.holdings {
		if h.principal <= 0 || total <= 0 {
			continue
		}
		pt := e.market.Series[i][day]
		mark, il := MarkValue(h.principal, h.entryA, h.entryB, pt.PriceA, pt.PriceB)
		view.Fractions[i] = mark / total
		view.IL[i] = il
	}

	remaining := float64(e.tuning.EpisodeHorizon-e.day) / float64(e.tuning.EpisodeHorizon)
	return EncodeObservation(pools, view, e.tuning, e.tuning.MaxPools, remaining)
}
