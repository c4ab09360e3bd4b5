package vault

import (
	"context"
	"encoding/json"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/lpadvisor/internal/types"
)

// Executor is the execution boundary. The advisor decides what to do and hands off an
// Intent; building real transactions, signing and broadcasting live behind this interface.
type Executor interface {
	// BuildDepositTx prepares an unsigned deposit of usdAmount into a pool.
	BuildDepositTx(ctx context.Context, poolID types.PoolID, usdAmount float64, amounts []TokenAmount) (Intent, error)

	// BuildExitTx prepares an unsigned withdrawal of a position.
	BuildExitTx(ctx context.Context, positionID string, amounts []TokenAmount) (Intent, error)

	// SubmitTransaction broadcasts a signed payload. A rejected transaction is reported
	// through SubmitResult.Success; the error is reserved for transport failures.
	SubmitTransaction(ctx context.Context, signedPayload []byte) (SubmitResult, error)
}

// TokenAmount is an amount of one token in integer base units.
type TokenAmount struct {
	Symbol   string      `json:"symbol"`
	Amount   sdkmath.Int `json:"amount"`
	Decimals int         `json:"decimals"`
}

// Intent is the structured, unsigned transaction handed to the caller.
type Intent struct {
	ID         string           `json:"intent_id"`
	Kind       types.IntentKind `json:"kind"`
	PoolID     types.PoolID     `json:"pool_id,omitempty"`
	PositionID string           `json:"position_id,omitempty"`
	USDAmount  float64          `json:"usd_amount,omitempty"`
	Tokens     []TokenAmount    `json:"tokens"`
	Payload    json.RawMessage  `json:"payload"` // Bytes the wallet signs
	CreatedAt  time.Time        `json:"created_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
}

// SubmitResult reports the outcome of a broadcast.
type SubmitResult struct {
	Success   bool   `json:"success"`
	IntentID  string `json:"intent_id,omitempty"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}
