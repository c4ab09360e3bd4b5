package analyzer

import (
	"errors"
	"math"
	"sort"

	"github.com/elys-network/lpadvisor/internal/types"
)

// ErrInsufficientData indicates that not enough data points were provided
// to calculate volatility (need at least 2 points for 1 return).
var ErrInsufficientData = errors.New("insufficient data points to calculate volatility")

// CalculateVolatility calculates the annualized historical volatility from a series of price data.
// The series is sorted chronologically first.
// The annualizationFactor should match the frequency of the data (e.g., 8760 for hourly, 365 for daily).
func CalculateVolatility(prices []types.PriceData, annualizationFactor float64) (float64, error) {
	if len(prices) < 2 {
		return 0, ErrInsufficientData
	}

	sorted := append([]types.PriceData(nil), prices...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	series := make([]float64, len(sorted))
	for i, p := range sorted {
		series[i] = p.Price
	}
	return SeriesVolatility(series, annualizationFactor)
}

// SeriesVolatility is CalculateVolatility over an already ordered price series.
// Use an annualizationFactor of 1 for the per-period volatility.
func SeriesVolatility(series []float64, annualizationFactor float64) (float64, error) {
	logReturns := make([]float64, 0, len(series))
	for i := 1; i < len(series); i++ {
		// Non-positive prices would break math.Log
		if series[i-1] <= 0 || series[i] <= 0 {
			continue
		}
		logReturns = append(logReturns, math.Log(series[i]/series[i-1]))
	}
	if len(logReturns) == 0 {
		return 0, ErrInsufficientData
	}

	var sum float64
	for _, r := range logReturns {
		sum += r
	}
	mean := sum / float64(len(logReturns))

	// Population variance
	var sumSqDiff float64
	for _, r := range logReturns {
		sumSqDiff += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(sumSqDiff / float64(len(logReturns)))

	return stdDev * math.Sqrt(annualizationFactor), nil
}
