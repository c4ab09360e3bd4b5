/*

This file contains the types for user LP positions and the lifecycle they move through.

*/

package types

import (
	"encoding/json"
	"time"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	StatusPending   PositionStatus = "PENDING"   // Intent created, transaction unconfirmed
	StatusActive    PositionStatus = "ACTIVE"    // Confirmed and live
	StatusMonitored PositionStatus = "MONITORED" // Soft exit trigger met, value still held
	StatusExiting   PositionStatus = "EXITING"   // Exit transaction handed to the execution boundary
	StatusCompleted PositionStatus = "COMPLETED" // Exit confirmed
	StatusFailed    PositionStatus = "FAILED"    // A transaction failed
)

// IsOpen reports whether the position still holds value in the pool.
func (s PositionStatus) IsOpen() bool {
	return s == StatusActive || s == StatusMonitored
}

// IsTerminal reports whether no further transitions are possible.
func (s PositionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ExitThresholds are the resolved exit conditions for a position.
type ExitThresholds struct {
	AprDropPercent float64 `json:"apr_drop_percent" yaml:"apr_drop_percent"` // Fraction, 0.30 = exit after a 30% APR drop
	SentimentFloor float64 `json:"sentiment_floor" yaml:"sentiment_floor"`   // Exit when sentiment falls below this
	ILCeiling      float64 `json:"il_ceiling" yaml:"il_ceiling"`             // Fraction, 0.05 = exit when IL is worse than -5%
}

// ThresholdOverrides are optional per-position replacements for the defaults.
type ThresholdOverrides struct {
	AprDropPercent *float64 `json:"apr_drop_percent,omitempty"`
	SentimentFloor *float64 `json:"sentiment_floor,omitempty"`
	ILCeiling      *float64 `json:"il_ceiling,omitempty"`
}

// Resolve applies the overrides on top of defaults. A nil receiver returns defaults.
func (o *ThresholdOverrides) Resolve(defaults ExitThresholds) ExitThresholds {
	if o == nil {
		return defaults
	}
	resolved := defaults
	if o.AprDropPercent != nil {
		resolved.AprDropPercent = *o.AprDropPercent
	}
	if o.SentimentFloor != nil {
		resolved.SentimentFloor = *o.SentimentFloor
	}
	if o.ILCeiling != nil {
		resolved.ILCeiling = *o.ILCeiling
	}
	return resolved
}

// IntentKind distinguishes in-flight transaction payloads.
type IntentKind string

const (
	IntentDeposit IntentKind = "DEPOSIT"
	IntentExit    IntentKind = "EXIT"
)

// PendingIntent is the in-flight transaction payload kept in a position's metadata blob.
type PendingIntent struct {
	IntentID  string          `json:"intent_id"`
	Kind      IntentKind      `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the intent's confirmation window has passed.
func (p *PendingIntent) Expired(now time.Time) bool {
	return p != nil && !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Position is a user's stake in a single pool.
type Position struct {
	ID                string              `json:"id"`
	UserID            string              `json:"user_id"`
	PoolID            PoolID              `json:"pool_id"`
	InvestedAmountUSD float64             `json:"invested_amount_usd"`
	TokenAAmount      float64             `json:"token_a_amount"`
	TokenBAmount      float64             `json:"token_b_amount"`
	Status            PositionStatus      `json:"status"`
	CurrentValueUSD   float64             `json:"current_value_usd"`
	CurrentAPR        float64             `json:"current_apr"`
	ImpermanentLoss   float64             `json:"impermanent_loss"` // Signed, a loss is negative
	EntryAPR          float64             `json:"entry_apr"`
	EntryPriceA       float64             `json:"entry_price_a"`
	EntryPriceB       float64             `json:"entry_price_b"`
	Overrides         *ThresholdOverrides `json:"threshold_overrides,omitempty"`
	EntrySignalID     string              `json:"entry_signal_id,omitempty"`
	ExitSignalID      string              `json:"exit_signal_id,omitempty"`
	Pending           *PendingIntent      `json:"pending,omitempty"`
	Version           int64               `json:"version"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	ExitedAt          *time.Time          `json:"exited_at,omitempty"`
}

// ExitAlert is emitted when a position meets an exit condition.
type ExitAlert struct {
	ID         string    `json:"id"`
	PositionID string    `json:"position_id"`
	UserID     string    `json:"user_id"`
	PoolID     PoolID    `json:"pool_id"`
	ExitReason string    `json:"exit_reason"`
	CreatedAt  time.Time `json:"created_at"`
}
