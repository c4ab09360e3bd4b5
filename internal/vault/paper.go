/*

PaperExecutor is an in-process execution boundary. It records intents, accepts their
payloads back as "signed" transactions and returns deterministic signatures, so the full
recommend, execute and confirm flow can run without a chain.

*/

package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elys-network/lpadvisor/internal/logger"
	"github.com/elys-network/lpadvisor/internal/types"
	"github.com/google/uuid"
)

var (
	ErrInvalidIntent     = errors.New("intent is invalid")
	ErrTransactionFailed = errors.New("transaction execution failed")
)

var vaultLogger = logger.GetForComponent("paper_executor")

// payloadEnvelope is what the wallet signs.
type payloadEnvelope struct {
	IntentID string           `json:"intent_id"`
	Kind     types.IntentKind `json:"kind"`
	Target   string           `json:"target"`
	Tokens   []TokenAmount    `json:"tokens"`
}

type paperRecord struct {
	intent    Intent
	submitted bool
}

// PaperExecutor implements Executor without touching a chain.
type PaperExecutor struct {
	mu      sync.RWMutex
	intents map[string]*paperRecord
	ttl     time.Duration
	now     func() time.Time

	// Reject, when set, decides whether a submitted intent fails.
	Reject func(Intent) error
}

var _ Executor = (*PaperExecutor)(nil)

// NewPaperExecutor creates an executor whose intents expire after ttl.
func NewPaperExecutor(ttl time.Duration) *PaperExecutor {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &PaperExecutor{
		intents: make(map[string]*paperRecord),
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// BuildDepositTx records a deposit intent.
func (p *PaperExecutor) BuildDepositTx(_ context.Context, poolID types.PoolID, usdAmount float64, amounts []TokenAmount) (Intent, error) {
	if poolID == "" {
		return Intent{}, fmt.Errorf("%w: pool id is required", ErrInvalidIntent)
	}
	if usdAmount <= 0 {
		return Intent{}, fmt.Errorf("%w: deposit must be positive, got %f", ErrInvalidIntent, usdAmount)
	}
	intent, err := p.newIntent(types.IntentDeposit, string(poolID), amounts)
	if err != nil {
		return Intent{}, err
	}
	intent.PoolID = poolID
	intent.USDAmount = usdAmount
	p.store(intent)

	vaultLogger.Info().
		Str("intentID", intent.ID).
		Str("poolID", string(poolID)).
		Float64("usd", usdAmount).
		Msg("Built deposit intent")
	return intent, nil
}

// BuildExitTx records an exit intent.
func (p *PaperExecutor) BuildExitTx(_ context.Context, positionID string, amounts []TokenAmount) (Intent, error) {
	if positionID == "" {
		return Intent{}, fmt.Errorf("%w: position id is required", ErrInvalidIntent)
	}
	intent, err := p.newIntent(types.IntentExit, positionID, amounts)
	if err != nil {
		return Intent{}, err
	}
	intent.PositionID = positionID
	p.store(intent)

	vaultLogger.Info().Str("intentID", intent.ID).Str("positionID", positionID).Msg("Built exit intent")
	return intent, nil
}

// SubmitTransaction accepts the payload of a previously built intent.
func (p *PaperExecutor) SubmitTransaction(_ context.Context, signedPayload []byte) (SubmitResult, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(signedPayload, &env); err != nil || env.IntentID == "" {
		return SubmitResult{Success: false, Error: "payload is not a recognised intent"}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	record, ok := p.intents[env.IntentID]
	switch {
	case !ok:
		return SubmitResult{IntentID: env.IntentID, Error: "unknown intent"}, nil
	case record.submitted:
		return SubmitResult{IntentID: env.IntentID, Error: "intent already submitted"}, nil
	case p.now().After(record.intent.ExpiresAt):
		return SubmitResult{IntentID: env.IntentID, Error: "intent expired"}, nil
	}

	record.submitted = true
	if p.Reject != nil {
		if err := p.Reject(record.intent); err != nil {
			vaultLogger.Warn().Err(err).Str("intentID", env.IntentID).Msg("Paper transaction rejected")
			return SubmitResult{IntentID: env.IntentID, Error: fmt.Errorf("%w: %w", ErrTransactionFailed, err).Error()}, nil
		}
	}

	sum := sha256.Sum256(signedPayload)
	return SubmitResult{
		Success:   true,
		IntentID:  env.IntentID,
		Signature: hex.EncodeToString(sum[:]),
	}, nil
}

// Intent returns a recorded intent.
func (p *PaperExecutor) Intent(id string) (Intent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	record, ok := p.intents[id]
	if !ok {
		return Intent{}, false
	}
	return record.intent, true
}

func (p *PaperExecutor) newIntent(kind types.IntentKind, target string, amounts []TokenAmount) (Intent, error) {
	for _, a := range amounts {
		if a.Amount.IsNil() || a.Amount.IsNegative() {
			return Intent{}, fmt.Errorf("%w: token %s amount must be non-negative", ErrInvalidIntent, a.Symbol)
		}
	}

	now := p.now()
	intent := Intent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Tokens:    amounts,
		CreatedAt: now,
		ExpiresAt: now.Add(p.ttl),
	}
	payload, err := json.Marshal(payloadEnvelope{IntentID: intent.ID, Kind: kind, Target: target, Tokens: amounts})
	if err != nil {
		return Intent{}, fmt.Errorf("failed to marshal intent payload: %w", err)
	}
	intent.Payload = payload
	return intent, nil
}

func (p *PaperExecutor) store(intent Intent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents[intent.ID] = &paperRecord{intent: intent}
}
