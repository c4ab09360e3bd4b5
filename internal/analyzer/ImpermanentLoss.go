package analyzer

import "math"

// ImpermanentLossFromRatios returns IL = 1 - 2*sqrt(r0*r1)/(r0+r1) for price ratios r0, r1,
// clamped to [0,1]. A non-positive or non-finite ratio is treated as a total loss.
func ImpermanentLossFromRatios(r0, r1 float64) float64 {
	if r0 <= 0 || r1 <= 0 || math.IsNaN(r0) || math.IsNaN(r1) || math.IsInf(r0, 0) || math.IsInf(r1, 0) {
		return 1
	}
	il := 1 - 2*math.Sqrt(r0*r1)/(r0+r1)
	return math.Min(1, math.Max(0, il))
}

// ImpermanentLoss returns the IL for fractional price changes of the two legs,
// e.g. 0.02 for +2%.
func ImpermanentLoss(priceChangeA, priceChangeB float64) float64 {
	return ImpermanentLossFromRatios(1+priceChangeA, 1+priceChangeB)
}

// SignedImpermanentLoss expresses IL the way positions store it: a loss is negative.
func SignedImpermanentLoss(entryPriceA, entryPriceB, priceA, priceB float64) float64 {
	if entryPriceA <= 0 || entryPriceB <= 0 {
		return 0
	}
	return -ImpermanentLossFromRatios(priceA/entryPriceA, priceB/entryPriceB)
}
