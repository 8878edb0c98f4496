package run

import (
	"fmt"

	"github.com/matchops/leadsweep/internal/domain/model"
)

// ErrInvalidTransition reports a disallowed status transition.
type ErrInvalidTransition struct {
	From model.RunStatus
	To   model.RunStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid run transition: %s -> %s", e.From, e.To)
}

// allowed enumerates the legal transitions of the run state machine.
// Completed, failed, and cancelled are terminal: nothing leaves them.
var allowed = map[model.RunStatus][]model.RunStatus{
	model.RunStatusPending: {model.RunStatusRunning, model.RunStatusCancelled},
	model.RunStatusRunning: {
		model.RunStatusPaused,
		model.RunStatusCompleted,
		model.RunStatusCancelled,
		model.RunStatusFailed,
	},
	model.RunStatusPaused: {model.RunStatusRunning, model.RunStatusCancelled},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to model.RunStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to, returning ErrInvalidTransition when the
// move is not in the state machine.
func Transition(from, to model.RunStatus) error {
	if !CanTransition(from, to) {
		return &ErrInvalidTransition{From: from, To: to}
	}
	return nil
}
