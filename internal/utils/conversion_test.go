package utils

import (
	"math"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat64ToBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		decimals int
		want     string
	}{
		{"six decimals", 1.5, 6, "1500000"},
		{"zero", 0, 6, "0"},
		{"rounds dust", 0.1234564, 6, "123456"},
		{"no decimals", 42, 0, "42"},
		{"eighteen decimals", 2, 18, "2000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Float64ToBaseUnits(tt.amount, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFloat64ToBaseUnitsErrors(t *testing.T) {
	_, err := Float64ToBaseUnits(-1, 6)
	assert.ErrorIs(t, err, ErrAmountNegative)

	_, err = Float64ToBaseUnits(math.NaN(), 6)
	assert.ErrorIs(t, err, ErrNotFinite)

	_, err = Float64ToBaseUnits(1, 19)
	assert.ErrorIs(t, err, ErrInvalidDecimals)
}

func TestBaseUnitsToFloat64(t *testing.T) {
	got, err := BaseUnitsToFloat64(sdkmath.NewInt(2_500_000), 6)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got, 1e-12)

	_, err = BaseUnitsToFloat64(sdkmath.Int{}, 6)
	assert.ErrorIs(t, err, ErrAmountNil)

	_, err = BaseUnitsToFloat64(sdkmath.NewInt(-1), 6)
	assert.ErrorIs(t, err, ErrAmountNegative)
}

func TestUSDToBaseUnits(t *testing.T) {
	got, err := USDToBaseUnits(500, 2000, 6)
	require.NoError(t, err)
	assert.Equal(t, "250000", got.String())

	_, err = USDToBaseUnits(500, 0, 6)
	assert.ErrorIs(t, err, ErrConversionFailed)
}
