/*

Exit rules shared by the broker's exit-timing verdicts and the lifecycle monitor.

An exit is recommended when any of these holds:
  - current APR < entry APR * (1 - apr drop threshold)
  - sentiment < sentiment floor
  - signed impermanent loss < -IL ceiling

*/

package analyzer

import (
	"fmt"
	"math"
	"strings"

	"github.com/elys-network/lpadvisor/internal/types"
)

const (
	baseExitConfidence = 0.6
	perReasonBonus     = 0.15
	maxExitConfidence  = 0.95
	holdConfidence     = 0.7
)

// ExitInput is everything the exit rules look at for one position.
type ExitInput struct {
	EntryAPR        float64
	CurrentAPR      float64
	Sentiment       *float64 // nil when no fresh signal is available
	ImpermanentLoss float64  // signed, a loss is negative
	Thresholds      types.ExitThresholds
}

// EvaluateExit applies the exit rules and explains the outcome.
func EvaluateExit(in ExitInput) types.ExitVerdict {
	var reasons []string

	if in.EntryAPR > 0 && in.CurrentAPR < in.EntryAPR*(1-in.Thresholds.AprDropPercent) {
		drop := (in.EntryAPR - in.CurrentAPR) / in.EntryAPR * 100
		reasons = append(reasons, fmt.Sprintf("APR dropped %.1f%% since entry (%.2f%% -> %.2f%%)",
			drop, in.EntryAPR, in.CurrentAPR))
	}

	if in.Sentiment != nil && *in.Sentiment < in.Thresholds.SentimentFloor {
		reasons = append(reasons, fmt.Sprintf("Sentiment %.2f is below the %.2f floor",
			*in.Sentiment, in.Thresholds.SentimentFloor))
	}

	if in.ImpermanentLoss < -in.Thresholds.ILCeiling {
		reasons = append(reasons, fmt.Sprintf("Impermanent loss %.2f%% exceeds the -%.2f%% limit",
			in.ImpermanentLoss*100, in.Thresholds.ILCeiling*100))
	}

	if len(reasons) == 0 {
		return types.ExitVerdict{
			ShouldExit:  false,
			Confidence:  holdConfidence,
			Explanation: "No exit conditions met; holding is recommended",
		}
	}

	confidence := math.Min(maxExitConfidence, baseExitConfidence+perReasonBonus*float64(len(reasons)-1))
	return types.ExitVerdict{
		ShouldExit:  true,
		Confidence:  confidence,
		Explanation: strings.Join(reasons, "; "),
		Reasons:     reasons,
	}
}

// PositionExitInput builds the exit-rule input for a position. The current APR and IL come
// from pool when given; IL is recomputed from entry prices when the position recorded them.
// sentiment is nil when no fresh signal exists.
func PositionExitInput(pos types.Position, pool *types.Pool, sentiment *float64, defaults types.ExitThresholds) ExitInput {
	in := ExitInput{
		EntryAPR:        pos.EntryAPR,
		CurrentAPR:      pos.CurrentAPR,
		Sentiment:       sentiment,
		ImpermanentLoss: pos.ImpermanentLoss,
		Thresholds:      pos.Overrides.Resolve(defaults),
	}
	if pool != nil {
		in.CurrentAPR = pool.APR()
		if pos.EntryPriceA > 0 && pos.EntryPriceB > 0 && pool.TokenA.PriceUSD > 0 && pool.TokenB.PriceUSD > 0 {
			in.ImpermanentLoss = SignedImpermanentLoss(pos.EntryPriceA, pos.EntryPriceB, pool.TokenA.PriceUSD, pool.TokenB.PriceUSD)
		}
	}
	return in
}
