package statemachine

import "fmt"

// Option configures a machine built by New.
type Option func(*SimpleStateMachine) error

// TransitionOption attaches guards or actions to a single edge.
type TransitionOption func(*Transition)

// TransitionDef describes an edge for WithTransitions.
type TransitionDef struct {
	From    State
	To      State
	Event   Event
	Guards  []Guard
	Actions []Action
}

// New builds a machine in initial and applies opts in order.
func New(initial State, opts ...Option) (StateMachine, error) {
	if initial == nil {
		return nil, ErrNilInitialState
	}
	sm := newSimpleStateMachine(initial)
	for _, opt := range opts {
		if err := opt(sm); err != nil {
			return nil, err
		}
	}
	return sm, nil
}

// MustNew is New that panics on error. Use it for machines defined at
// package init.
func MustNew(initial State, opts ...Option) StateMachine {
	sm, err := New(initial, opts...)
	if err != nil {
		panic(fmt.Sprintf("statemachine: %v", err))
	}
	return sm
}

// WithTransition adds one edge.
func WithTransition(from, to State, event Event, opts ...TransitionOption) Option {
	return func(sm *SimpleStateMachine) error {
		var t Transition
		for _, opt := range opts {
			opt(&t)
		}
		return sm.AddTransition(from, to, event, t.Guards, t.Actions)
	}
}

// WithTransitions adds every edge of defs. The first invalid one aborts
// construction and is reported by index.
func WithTransitions(defs []TransitionDef) Option {
	return func(sm *SimpleStateMachine) error {
		for i, d := range defs {
			if err := sm.AddTransition(d.From, d.To, d.Event, d.Guards, d.Actions); err != nil {
				return fmt.Errorf("transition %d (%s -> %s on %s): %w",
					i, nameOf(d.From), nameOf(d.To), nameOf(d.Event), err)
			}
		}
		return nil
	}
}

// WithGuard adds a guard to an edge. Nil guards are ignored.
func WithGuard(guard Guard) TransitionOption {
	return func(t *Transition) {
		if guard != nil {
			t.Guards = append(t.Guards, guard)
		}
	}
}

// WithAction adds an action to an edge. Nil actions are ignored.
func WithAction(action Action) TransitionOption {
	return func(t *Transition) {
		if action != nil {
			t.Actions = append(t.Actions, action)
		}
	}
}

type named interface{ Name() string }

func nameOf(n named) string {
	if n == nil {
		return "<nil>"
	}
	return n.Name()
}
