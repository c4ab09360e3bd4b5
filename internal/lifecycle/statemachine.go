package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/lpadvisor/internal/types"
)

var ErrInvalidTransition = errors.New("invalid position status transition")

// allowed lists the forward edges. FAILED is reachable from every other state separately.
var allowed = map[types.PositionStatus]types.PositionStatus{
	types.StatusPending:   types.StatusActive,
	types.StatusActive:    types.StatusMonitored,
	types.StatusMonitored: types.StatusExiting,
	types.StatusExiting:   types.StatusCompleted,
}

// CanTransition reports whether a position may move from one status to another.
func CanTransition(from, to types.PositionStatus) bool {
	if to == types.StatusFailed {
		return from != types.StatusFailed && isKnown(from)
	}
	next, ok := allowed[from]
	return ok && next == to
}

func isKnown(s types.PositionStatus) bool {
	switch s {
	case types.StatusPending, types.StatusActive, types.StatusMonitored,
		types.StatusExiting, types.StatusCompleted:
		return true
	}
	return false
}

// Transition moves p to status `to`, stamping UpdatedAt and, for COMPLETED and FAILED, ExitedAt.
func Transition(p *types.Position, to types.PositionStatus, now time.Time) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s for position %s", ErrInvalidTransition, p.Status, to, p.ID)
	}
	p.Status = to
	p.UpdatedAt = now
	if to.IsTerminal() {
		exited := now
		p.ExitedAt = &exited
		p.Pending = nil
	}
	return nil
}
