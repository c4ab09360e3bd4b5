/*

Join and leave estimates for a single LP holding. The environment prices every buy and
sell through these so the reward reflects fees and impermanent loss.

*/

package simulations

import (
	"errors"
	"fmt"
	"math"

	"github.com/elys-network/lpadvisor/internal/analyzer"
)

var ErrInvalidEstimate = errors.New("invalid join or leave estimate input")

// JoinPoolEstimationResult is the outcome of investing part of the cash in a pool.
type JoinPoolEstimationResult struct {
	InvestedUSD  float64 // Cash taken out
	FeeUSD       float64 // Fee charged on the investment
	PrincipalUSD float64 // Value that lands in the pool
}

// ExitPoolEstimationResult is the outcome of liquidating a holding.
type ExitPoolEstimationResult struct {
	MarkValueUSD    float64 // Principal after impermanent loss
	FeeUSD          float64
	ProceedsUSD     float64 // Cash returned
	ImpermanentLoss float64 // Unsigned, 0..1
}

// SimulateJoinPool invests fraction of cash, charging fee on the invested amount.
func SimulateJoinPool(cash, fraction, fee float64) (JoinPoolEstimationResult, error) {
	if cash < 0 || fraction < 0 || fraction > 1 || fee < 0 || fee >= 1 {
		return JoinPoolEstimationResult{}, fmt.Errorf("%w: cash=%f fraction=%f fee=%f", ErrInvalidEstimate, cash, fraction, fee)
	}
	invested := cash * fraction
	feeUSD := invested * fee
	return JoinPoolEstimationResult{
		InvestedUSD:  invested,
		FeeUSD:       feeUSD,
		PrincipalUSD: invested - feeUSD,
	}, nil
}

// MarkValue is principal reduced by the impermanent loss accumulated since entry.
func MarkValue(principal, entryA, entryB, priceA, priceB float64) (value, il float64) {
	if principal <= 0 {
		return 0, 0
	}
	il = -analyzer.SignedImpermanentLoss(entryA, entryB, priceA, priceB)
	return principal * (1 - il), il
}

// SimulateLeavePool liquidates a holding at current prices.
func SimulateLeavePool(principal, entryA, entryB, priceA, priceB, fee float64) (ExitPoolEstimationResult, error) {
	if principal < 0 || fee < 0 || fee >= 1 || math.IsNaN(principal) {
		return ExitPoolEstimationResult{}, fmt.Errorf("%w: principal=%f fee=%f", ErrInvalidEstimate, principal, fee)
	}
	mark, il := MarkValue(principal, entryA, entryB, priceA, priceB)
	feeUSD := mark * fee
	return ExitPoolEstimationResult{
		MarkValueUSD:    mark,
		FeeUSD:          feeUSD,
		ProceedsUSD:     mark - feeUSD,
		ImpermanentLoss: il,
	}, nil
}

// AccrueDaily grows principal by one day of apr percent.
func AccrueDaily(principal, aprPercent float64) float64 {
	if aprPercent <= 0 || principal <= 0 {
		return principal
	}
	return principal * (1 + aprPercent/100/365)
}
