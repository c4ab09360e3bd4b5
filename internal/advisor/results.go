package advisor

import (
	"errors"

	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/elys-network/lpadvisor/internal/vault"
)

var (
	ErrNoRecentRecommendation = errors.New("no recent recommendation for this user")
	ErrNoMarketData           = errors.New("no market data available from any source")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrPositionNotFound       = errors.New("position not found")
	ErrExitInProgress         = errors.New("an exit is already in progress for this position")
	ErrPositionNotOpen        = errors.New("position is not open")
	ErrAmbiguousPosition      = errors.New("several open positions, a position id is required")
	ErrNothingPending         = errors.New("position has no pending transaction")
)

// RecommendResult answers a recommend call.
type RecommendResult struct {
	Success      bool                     `json:"success"`
	UserID       string                   `json:"user_id"`
	Profile      types.RiskProfile        `json:"profile,omitempty"`
	HigherReturn *types.RecommendationSet `json:"higher_return,omitempty"`
	StableReturn *types.RecommendationSet `json:"stable_return,omitempty"`
	Entry        []types.EntryVerdict     `json:"entry_timing,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

// ExecuteResult carries the deposit intent for the caller to sign.
type ExecuteResult struct {
	Success     bool          `json:"success"`
	PositionID  string        `json:"position_id,omitempty"`
	Transaction *vault.Intent `json:"transaction,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// ExitResult carries the exit intent for the caller to sign.
type ExitResult struct {
	Success     bool               `json:"success"`
	PositionID  string             `json:"position_id,omitempty"`
	Verdict     *types.ExitVerdict `json:"verdict,omitempty"`
	Transaction *vault.Intent      `json:"transaction,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// ConfirmResult reports a submitted transaction and the position's new status.
type ConfirmResult struct {
	Success    bool                 `json:"success"`
	PositionID string               `json:"position_id,omitempty"`
	Status     types.PositionStatus `json:"status,omitempty"`
	Signature  string               `json:"signature,omitempty"`
	Error      string               `json:"error,omitempty"`
}

type PositionsResult struct {
	Success   bool             `json:"success"`
	Positions []types.Position `json:"positions"`
	Error     string           `json:"error,omitempty"`
}

type RebalanceResult struct {
	Success bool                `json:"success"`
	Plan    types.RebalancePlan `json:"plan"`
	Exits   []types.ExitVerdict `json:"exit_timing"`
	Error   string              `json:"error,omitempty"`
}
