package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("transition needs a from state, a to state and an event")
	ErrInvalidEvent      = errors.New("event must not be nil")
	ErrNilInitialState   = errors.New("initial state must not be nil")
)

// ErrNoTransitionAvailable is returned by Fire when the current state has no
// edge for the event.
type ErrNoTransitionAvailable struct {
	StateName string
	EventName string
}

func (e *ErrNoTransitionAvailable) Error() string {
	return fmt.Sprintf("no transition from state %q on event %q", e.StateName, e.EventName)
}

// ErrTransitionRejected is returned by Fire when every edge for the event
// was refused by its guards.
type ErrTransitionRejected struct {
	StateName string
	EventName string
}

func (e *ErrTransitionRejected) Error() string {
	return fmt.Sprintf("guards rejected every transition from state %q on event %q", e.StateName, e.EventName)
}

// IsNoTransitionAvailableError reports whether err is an ErrNoTransitionAvailable.
func IsNoTransitionAvailableError(err error) bool {
	var e *ErrNoTransitionAvailable
	return errors.As(err, &e)
}

// IsTransitionRejectedError reports whether err is an ErrTransitionRejected.
func IsTransitionRejectedError(err error) bool {
	var e *ErrTransitionRejected
	return errors.As(err, &e)
}
