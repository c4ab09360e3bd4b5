/*
Conversions between human-readable token amounts and integer base units, used when the
advisor turns a USD allocation into a deposit or exit intent.
*/

package utils

import (
	"errors"
	"fmt"
	"math"

	sdkmath "cosmossdk.io/math"
)

var (
	ErrInvalidDecimals  = errors.New("decimals are invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// MaxDecimals is the largest exponent supported by LegacyDec.
const MaxDecimals = 18

func scaleFactor(decimals int) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDecFromInt(sdkmath.NewIntWithDecimal(1, decimals))
}

// BaseUnitsToFloat64 converts an integer base-unit amount into whole tokens.
func BaseUnitsToFloat64(amount sdkmath.Int, decimals int) (float64, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidDecimals, decimals, MaxDecimals)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	result, err := sdkmath.LegacyNewDecFromInt(amount).Quo(scaleFactor(decimals)).Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}
	return result, nil
}

// Float64ToBaseUnits converts whole tokens into integer base units, rounded to the
// nearest base unit.
func Float64ToBaseUnits(amount float64, decimals int) (sdkmath.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidDecimals, decimals, MaxDecimals)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: amount is %f", ErrNotFinite, amount)
	}
	if amount < 0 {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if amount == 0 {
		return sdkmath.ZeroInt(), nil
	}

	// Format through a string so binary float noise does not leak into the decimal.
	amountStr := fmt.Sprintf("%.*f", decimals, amount)
	dec, err := sdkmath.LegacyNewDecFromStr(amountStr)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: failed to create decimal from string: %w", ErrConversionFailed, err)
	}
	return dec.Mul(scaleFactor(decimals)).TruncateInt(), nil
}

// USDToBaseUnits converts a USD value into base units of a token priced at priceUSD.
func USDToBaseUnits(usd, priceUSD float64, decimals int) (sdkmath.Int, error) {
	if priceUSD <= 0 || math.IsNaN(priceUSD) || math.IsInf(priceUSD, 0) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: price must be positive, got %f", ErrConversionFailed, priceUSD)
	}
	return Float64ToBaseUnits(usd/priceUSD, decimals)
}
