package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// SimpleStateMachine is an in-memory StateMachine safe for concurrent use.
// Edges are indexed by from state and event name.
type SimpleStateMachine struct {
	mu      sync.RWMutex
	initial State
	current State
	edges   map[string]map[string][]Transition
}

func newSimpleStateMachine(initial State) *SimpleStateMachine {
	return &SimpleStateMachine{
		initial: initial,
		current: initial,
		edges:   make(map[string]map[string][]Transition),
	}
}

// Current returns the state the machine is in.
func (sm *SimpleStateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// AddTransition registers an edge. Several edges may share a from state and
// event; Fire takes the first one whose guards all pass, in the order they
// were added.
func (sm *SimpleStateMachine) AddTransition(from, to State, event Event, guards []Guard, actions []Action) error {
	if from == nil || to == nil || event == nil {
		return ErrInvalidTransition
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	byEvent, ok := sm.edges[from.Name()]
	if !ok {
		byEvent = make(map[string][]Transition)
		sm.edges[from.Name()] = byEvent
	}
	byEvent[event.Name()] = append(byEvent[event.Name()], Transition{
		From:    from,
		To:      to,
		Event:   event,
		Guards:  guards,
		Actions: actions,
	})
	return nil
}

// Fire moves the machine along the first edge for event that its guards
// accept, running the edge's actions first.
func (sm *SimpleStateMachine) Fire(ctx context.Context, event Event, data any) error {
	if event == nil {
		return ErrInvalidEvent
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	candidates := sm.edges[sm.current.Name()][event.Name()]
	if len(candidates) == 0 {
		return &ErrNoTransitionAvailable{StateName: sm.current.Name(), EventName: event.Name()}
	}

	t := sm.pick(ctx, candidates, event, data)
	if t == nil {
		return &ErrTransitionRejected{StateName: sm.current.Name(), EventName: event.Name()}
	}

	for _, action := range t.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, sm.current, t.To, event, data); err != nil {
			return fmt.Errorf("action failed: %w", err)
		}
	}
	sm.current = t.To
	return nil
}

// CanFire reports whether Fire would find an edge for event. Actions are
// not run.
func (sm *SimpleStateMachine) CanFire(ctx context.Context, event Event, data any) bool {
	if event == nil {
		return false
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	return sm.pick(ctx, sm.edges[sm.current.Name()][event.Name()], event, data) != nil
}

// Reset puts the machine back into its initial state.
func (sm *SimpleStateMachine) Reset() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.current = sm.initial
	return nil
}

// pick returns the first candidate whose guards all pass. Callers hold mu.
func (sm *SimpleStateMachine) pick(ctx context.Context, candidates []Transition, event Event, data any) *Transition {
	for i := range candidates {
		if passes(ctx, candidates[i].Guards, sm.current, event, data) {
			return &candidates[i]
		}
	}
	return nil
}

func passes(ctx context.Context, guards []Guard, from State, event Event, data any) bool {
	for _, g := range guards {
		if g != nil && !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
