package simulations

import (
	"errors"
	"fmt"
	"math"

	"github.com/elys-network/lpadvisor/internal/analyzer"
	"github.com/elys-network/lpadvisor/internal/types"
)

// FeaturesPerPool is the width of each pool block in the observation.
const FeaturesPerPool = 8

var ErrInvalidAction = errors.New("action is out of range")

// ActionKind is the decoded meaning of an action id.
type ActionKind int

const (
	ActionNoOp ActionKind = iota
	ActionBuy
	ActionSell
	ActionHold
)

func (k ActionKind) String() string {
	switch k {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionHold:
		return "hold"
	default:
		return "no-op"
	}
}

// StateDim is the observation length for maxPools slots: cash, one position fraction per
// slot, one feature block per slot and the remaining-episode fraction.
func StateDim(maxPools int) int {
	return 1 + maxPools + FeaturesPerPool*maxPools + 1
}

// ActionDim is the number of actions over pools tracked pools.
func ActionDim(pools int) int {
	return 3*pools + 1
}

// PoolsForActionDim inverts ActionDim.
func PoolsForActionDim(actionDim int) int {
	return (actionDim - 1) / 3
}

// DecodeAction maps an action id to its kind and pool index. Out-of-range ids return
// ErrInvalidAction and decode as a no-op.
func DecodeAction(action, pools int) (ActionKind, int, error) {
	switch {
	case action < 0 || action > 3*pools:
		return ActionNoOp, -1, fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidAction, action, 3*pools)
	case action == 0:
		return ActionNoOp, -1, nil
	case action <= pools:
		return ActionBuy, action - 1, nil
	case action <= 2*pools:
		return ActionSell, action - pools - 1, nil
	default:
		return ActionHold, action - 2*pools - 1, nil
	}
}

// EncodeAction is the inverse of DecodeAction.
func EncodeAction(kind ActionKind, pool, pools int) int {
	switch kind {
	case ActionBuy:
		return 1 + pool
	case ActionSell:
		return 1 + pools + pool
	case ActionHold:
		return 1 + 2*pools + pool
	default:
		return 0
	}
}

// PortfolioView is the holder's side of an observation.
type PortfolioView struct {
	Cash      float64   // Normalized cash
	Fractions []float64 // Share of portfolio value per pool index
	IL        []float64 // Impermanent loss since entry per pool index, read where Fractions[i] > 0
}

// EncodeObservation builds the state vector shared by the environment and the broker.
// Pools beyond maxPools are dropped and missing slots are zero.
func EncodeObservation(pools []types.Pool, view PortfolioView, tuning types.TuningParameters, maxPools int, remaining float64) []float64 {
	state := make([]float64, StateDim(maxPools))
	state[0] = finite(view.Cash)

	n := min(len(pools), maxPools)
	for i := 0; i < n && i < len(view.Fractions); i++ {
		state[1+i] = finite(view.Fractions[i])
	}

	block := 1 + maxPools
	for i := 0; i < n; i++ {
		p := pools[i]
		frac := 0.0
		if i < len(view.Fractions) {
			frac = view.Fractions[i]
		}
		il := analyzer.ImpermanentLoss(p.TokenA.PriceChange24h, p.TokenB.PriceChange24h)
		if frac > 0 && i < len(view.IL) {
			il = view.IL[i]
		}

		off := block + i*FeaturesPerPool
		state[off+0] = finite(p.APR() / 100)
		state[off+1] = finite(scaledLog(p.TvlUSD, tuning.TvlScaleLog))
		state[off+2] = finite(p.TokenA.PriceChange24h)
		state[off+3] = finite(p.TokenB.PriceChange24h)
		state[off+4] = finite(scaledLog(p.Volume7dUSD, tuning.VolumeScaleLog))
		state[off+5] = math.Min(float64(p.AgeInDays)/365, 1)
		state[off+6] = finite(il)
		state[off+7] = finite(frac)
	}

	state[len(state)-1] = math.Min(1, math.Max(0, remaining))
	return state
}

func scaledLog(v, scale float64) float64 {
	if v <= 0 {
		return 0
	}
	if scale <= 0 {
		scale = 1
	}
	return math.Log1p(v) / scale
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
