/*

Outputs of the recommendation broker: ranked pools, timing verdicts and rebalance plans.

*/

package types

import (
	"fmt"
	"strings"
	"time"
)

// RiskProfile shapes ranking weights and allocation curves.
type RiskProfile string

const (
	ProfileConservative RiskProfile = "conservative"
	ProfileModerate     RiskProfile = "moderate"
	ProfileAggressive   RiskProfile = "aggressive"
)

// ParseRiskProfile accepts the internal names plus the "high-risk" and "stable" aliases
// used by the chat layer.
func ParseRiskProfile(s string) (RiskProfile, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "conservative", "stable", "low", "low-risk":
		return ProfileConservative, nil
	case "moderate", "balanced", "medium", "":
		return ProfileModerate, nil
	case "aggressive", "high-risk", "high_risk", "high":
		return ProfileAggressive, nil
	}
	return "", fmt.Errorf("unknown risk profile %q", s)
}

// UserState is the portion of a user's account the broker reasons about.
type UserState struct {
	UserID     string     `json:"user_id"`
	BalanceUSD float64    `json:"balance_usd"` // Uninvested cash available for new positions
	Positions  []Position `json:"positions"`
}

// TotalValueUSD is cash plus the marked value of open positions.
func (u UserState) TotalValueUSD() float64 {
	total := u.BalanceUSD
	for _, p := range u.Positions {
		if p.Status.IsOpen() || p.Status == StatusPending {
			total += p.CurrentValueUSD
		}
	}
	return total
}

// Recommendation is one ranked pool.
type Recommendation struct {
	Rank              int         `json:"rank"`
	PoolID            PoolID      `json:"pool_id"`
	Pair              string      `json:"pair"`
	APR               float64     `json:"apr"`
	TvlUSD            float64     `json:"tvl_usd"`
	Score             float64     `json:"score"`
	Confidence        float64     `json:"confidence"`
	AllocationPercent float64     `json:"allocation_percent"`
	AllocationUSD     float64     `json:"allocation_usd"`
	RLRecommended     bool        `json:"rl_recommended"`
	Profile           RiskProfile `json:"profile"`
	Reason            string      `json:"reason,omitempty"`
}

// RecommendationSet is the broker's answer to a ranking request. It never carries a raw error.
type RecommendationSet struct {
	Success     bool             `json:"success"`
	Strategy    string           `json:"strategy"`
	Degraded    bool             `json:"degraded"`
	Profile     RiskProfile      `json:"profile"`
	Items       []Recommendation `json:"items"`
	Error       string           `json:"error,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// ExitVerdict answers "should this position be exited now".
type ExitVerdict struct {
	PositionID  string   `json:"position_id"`
	PoolID      PoolID   `json:"pool_id"`
	ShouldExit  bool     `json:"should_exit"`
	Confidence  float64  `json:"confidence"`
	Explanation string   `json:"explanation"`
	Reasons     []string `json:"reasons,omitempty"`
}

// EntryVerdict answers "is now a good time to enter this pool".
type EntryVerdict struct {
	PoolID      PoolID  `json:"pool_id"`
	ShouldEnter bool    `json:"should_enter"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// RebalanceAction moves a pool's holding from its current to its target value.
type RebalanceAction struct {
	PoolID     PoolID  `json:"pool_id"`
	PositionID string  `json:"position_id,omitempty"`
	CurrentUSD float64 `json:"current_usd"`
	TargetUSD  float64 `json:"target_usd"`
	DeltaUSD   float64 `json:"delta_usd"`
	Reason     string  `json:"reason,omitempty"`
}

// RebalancePlan groups the actions by kind.
type RebalancePlan struct {
	Success  bool              `json:"success"`
	Enter    []RebalanceAction `json:"enter"`
	Increase []RebalanceAction `json:"increase"`
	Decrease []RebalanceAction `json:"decrease"`
	Exit     []RebalanceAction `json:"exit"`
	Error    string            `json:"error,omitempty"`
}
