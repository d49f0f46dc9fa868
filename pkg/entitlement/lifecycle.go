package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/statemachine"
)

// LifecycleState is the conceptual lifecycle position of a subscription,
// derived from its replayed state and pending events.
type LifecycleState string

const (
	LifecycleNone          LifecycleState = "NONE"
	LifecyclePendingCreate LifecycleState = "PENDING_CREATE"
	LifecycleActive        LifecycleState = "ACTIVE"
	LifecyclePendingCancel LifecycleState = "PENDING_CANCEL"
	LifecyclePendingChange LifecycleState = "PENDING_CHANGE"
	LifecyclePendingPhase  LifecycleState = "PENDING_PHASE"
	LifecycleCancelled     LifecycleState = "CANCELLED"
)

// Operation names a lifecycle operation.
type Operation string

const (
	OpCreate     Operation = "create"
	OpRecreate   Operation = "recreate"
	OpCancel     Operation = "cancel"
	OpUncancel   Operation = "uncancel"
	OpChangePlan Operation = "change_plan"
	OpMigrate    Operation = "migrate"
	OpRepair     Operation = "repair"
	OpTransfer   Operation = "transfer"
	OpNotify     Operation = "process_notification"
)

// Name implements statemachine.State.
func (s LifecycleState) Name() string { return string(s) }

// Name implements statemachine.Event.
func (op Operation) Name() string { return string(op) }

var activeStates = []LifecycleState{
	LifecycleActive,
	LifecyclePendingCancel,
	LifecyclePendingChange,
	LifecyclePendingPhase,
}

// lifecycleRules lists, per operation, the states it may start from and the
// state it leads to. Operations missing here bypass the guard: migrate,
// repair and notification processing.
var lifecycleRules = func() []statemachine.TransitionDef {
	var defs []statemachine.TransitionDef
	edge := func(op Operation, to LifecycleState, from ...LifecycleState) {
		for _, f := range from {
			defs = append(defs, statemachine.TransitionDef{From: f, To: to, Event: op})
		}
	}
	edge(OpCreate, LifecycleActive, LifecycleNone)
	edge(OpRecreate, LifecycleActive, LifecycleCancelled)
	edge(OpCancel, LifecyclePendingCancel, activeStates...)
	edge(OpUncancel, LifecycleActive, LifecyclePendingCancel)
	edge(OpChangePlan, LifecyclePendingChange, LifecycleActive, LifecyclePendingChange, LifecyclePendingPhase)
	edge(OpTransfer, LifecycleCancelled, activeStates...)
	return defs
}()

var guardedOps = func() map[Operation]struct{} {
	ops := make(map[Operation]struct{})
	for _, d := range lifecycleRules {
		ops[d.Event.(Operation)] = struct{}{}
	}
	return ops
}()

func lifecycleMachine(state LifecycleState) statemachine.StateMachine {
	return statemachine.MustNew(state, statemachine.WithTransitions(lifecycleRules))
}

// LifecycleOf returns the lifecycle state of sub at at. A pending cancel
// takes precedence over a pending change, which takes precedence over a
// pending phase.
func LifecycleOf(sub *Subscription, at time.Time) LifecycleState {
	if sub == nil || len(sub.events) == 0 {
		return LifecycleNone
	}

	switch sub.State(at) {
	case StateNone:
		return LifecyclePendingCreate
	case StateCancelled:
		return LifecycleCancelled
	}

	var change, phase bool
	for _, ev := range sub.PendingEvents(at) {
		switch ev.Kind() {
		case KindCancel:
			return LifecyclePendingCancel
		case KindChange:
			change = true
		case KindPhase:
			phase = true
		}
	}
	switch {
	case change:
		return LifecyclePendingChange
	case phase:
		return LifecyclePendingPhase
	}
	return LifecycleActive
}

// CanApply reports whether op may start from state.
func CanApply(state LifecycleState, op Operation) bool {
	if _, ok := guardedOps[op]; !ok {
		return true
	}
	return lifecycleMachine(state).CanFire(context.Background(), op, nil)
}

func guard(ctx context.Context, sub *Subscription, op Operation, at time.Time) error {
	if _, ok := guardedOps[op]; !ok {
		return nil
	}
	state := LifecycleOf(sub, at)
	err := lifecycleMachine(state).Fire(ctx, op, sub)
	switch {
	case err == nil:
		return nil
	case statemachine.IsNoTransitionAvailableError(err):
		return &TransitionError{SubscriptionID: sub.ID, State: state, Operation: op}
	}
	return err
}

// validateRequestedDate rejects requested dates after now or before the
// subscription's last transition at now.
func validateRequestedDate(sub *Subscription, now, requested time.Time) error {
	if requested.After(now) {
		return fmt.Errorf("%w: %s is in the future", ErrInvalidRequestedDate, requested.Format(time.RFC3339))
	}
	if prev := sub.PreviousTransition(now); prev != nil && prev.EffectiveDate.After(requested) {
		return fmt.Errorf("%w: %s precedes the last transition at %s",
			ErrInvalidRequestedDate, requested.Format(time.RFC3339), prev.EffectiveDate.Format(time.RFC3339))
	}
	return nil
}
