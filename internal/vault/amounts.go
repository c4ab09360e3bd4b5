package vault

import (
	"errors"
	"fmt"

	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/elys-network/lpadvisor/internal/utils"
)

var ErrInvalidAmount = errors.New("amount is invalid")

// DepositAmounts splits usd evenly across the pool's two tokens at their current prices.
func DepositAmounts(pool types.Pool, usd float64) ([]TokenAmount, error) {
	if usd <= 0 {
		return nil, fmt.Errorf("%w: deposit must be positive, got %f", ErrInvalidAmount, usd)
	}
	half := usd / 2

	amountA, err := utils.USDToBaseUnits(half, pool.TokenA.PriceUSD, pool.TokenA.Decimals)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", pool.TokenA.Symbol, err)
	}
	amountB, err := utils.USDToBaseUnits(half, pool.TokenB.PriceUSD, pool.TokenB.Decimals)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", pool.TokenB.Symbol, err)
	}

	return []TokenAmount{
		{Symbol: pool.TokenA.Symbol, Amount: amountA, Decimals: pool.TokenA.Decimals},
		{Symbol: pool.TokenB.Symbol, Amount: amountB, Decimals: pool.TokenB.Decimals},
	}, nil
}

// ExitAmounts converts a position's token holdings into base units.
func ExitAmounts(pos types.Position, pool types.Pool) ([]TokenAmount, error) {
	amountA, err := utils.Float64ToBaseUnits(pos.TokenAAmount, pool.TokenA.Decimals)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", pool.TokenA.Symbol, err)
	}
	amountB, err := utils.Float64ToBaseUnits(pos.TokenBAmount, pool.TokenB.Decimals)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", pool.TokenB.Symbol, err)
	}
	return []TokenAmount{
		{Symbol: pool.TokenA.Symbol, Amount: amountA, Decimals: pool.TokenA.Decimals},
		{Symbol: pool.TokenB.Symbol, Amount: amountB, Decimals: pool.TokenB.Decimals},
	}, nil
}

// WholeTokens converts amounts back to floats, in order.
func WholeTokens(amounts []TokenAmount) ([]float64, error) {
	out := make([]float64, len(amounts))
	for i, a := range amounts {
		v, err := utils.BaseUnitsToFloat64(a.Amount, a.Decimals)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", a.Symbol, err)
		}
		out[i] = v
	}
	return out, nil
}
