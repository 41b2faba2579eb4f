// Package lifecycle defines the legal task state transitions.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/fentz26/tesd/internal/models"
)

var (
	// ErrInvalidTransition indicates a transition missing from the table.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTerminal indicates the task is already in a terminal state.
	ErrTerminal = errors.New("task is in a terminal state")
)

// TransitionError describes a rejected transition. It unwraps to
// ErrTerminal or ErrInvalidTransition.
type TransitionError struct {
	From models.State
	To   models.State
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: %s -> %s", e.Err, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether no transition may leave s.
func IsTerminal(s models.State) bool {
	switch s {
	case models.StateComplete, models.StateError, models.StateSystemError, models.StateCanceled:
		return true
	case models.StateUnknown, models.StateQueued, models.StateInitializing, models.StateRunning, models.StatePaused:
		return false
	default:
		return false
	}
}

// CanCancel reports whether a cancel request is accepted in state s.
func CanCancel(s models.State) bool {
	return isAllowed(s, models.StateCanceled)
}

// Allowed returns the states reachable from s in one step.
func Allowed(from models.State) []models.State {
	var out []models.State
	for _, to := range models.States {
		if isAllowed(from, to) {
			out = append(out, to)
		}
	}
	return out
}

// Transition validates from -> to. It never mutates anything; callers apply
// the change with a compare-and-set on from.
func Transition(from, to models.State) error {
	if IsTerminal(from) {
		return &TransitionError{From: from, To: to, Err: ErrTerminal}
	}
	if !isAllowed(from, to) {
		return &TransitionError{From: from, To: to, Err: ErrInvalidTransition}
	}
	return nil
}

func isAllowed(from, to models.State) bool {
	switch from {
	case models.StateQueued:
		return to == models.StateInitializing || to == models.StateCanceled
	case models.StateInitializing:
		return to == models.StateRunning || to == models.StateSystemError || to == models.StateCanceled
	case models.StateRunning:
		switch to {
		case models.StatePaused, models.StateComplete, models.StateError, models.StateSystemError, models.StateCanceled:
			return true
		}
		return false
	case models.StatePaused:
		return to == models.StateRunning || to == models.StateSystemError || to == models.StateCanceled
	case models.StateUnknown, models.StateComplete, models.StateError, models.StateSystemError, models.StateCanceled:
		return false
	default:
		return false
	}
}
