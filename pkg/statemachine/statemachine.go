package statemachine

import "context"

// State is a node of the machine. Names must be unique per machine.
type State interface {
	Name() string
}

// Event triggers a transition out of the current state.
type Event interface {
	Name() string
}

// Guard decides at fire time whether a transition may be taken.
// data is whatever the caller passed to Fire or CanFire.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Action runs before the machine moves to the target state.
// A non-nil error leaves the machine where it was.
type Action func(ctx context.Context, from, to State, event Event, data any) error

// Transition is one edge of the machine.
type Transition struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard
	Actions []Action
}

// StateMachine is a finite state machine with a single current state.
type StateMachine interface {
	Current() State
	AddTransition(from, to State, event Event, guards []Guard, actions []Action) error
	Fire(ctx context.Context, event Event, data any) error
	CanFire(ctx context.Context, event Event, data any) bool
	Reset() error
}

// StringState is a State named by its value.
type StringState string

// Name implements State.
func (s StringState) Name() string { return string(s) }

// StringEvent is an Event named by its value.
type StringEvent string

// Name implements Event.
func (e StringEvent) Name() string { return string(e) }
