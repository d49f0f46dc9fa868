package entitlement_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/entitlement"
)

func TestLifecycleOf(t *testing.T) {
	t.Parallel()

	row := testRow()
	create := userEvent(row, entitlement.UserTypeCreate, 0, 1, "basic-monthly", "basic-monthly-trial")
	phase := phaseEvent(row, 30, 2, "basic-monthly-evergreen")
	change := userEvent(row, entitlement.UserTypeChange, 20, 3, "pro-monthly", "pro-monthly-evergreen")
	cancel := userEvent(row, entitlement.UserTypeCancel, 25, 4, "", "")

	tests := []struct {
		name   string
		events []entitlement.Event
		at     int
		want   entitlement.LifecycleState
	}{
		{"pending create", []entitlement.Event{create}, -1, entitlement.LifecyclePendingCreate},
		{"active", []entitlement.Event{create}, 5, entitlement.LifecycleActive},
		{"pending phase", []entitlement.Event{create, phase}, 5, entitlement.LifecyclePendingPhase},
		{"pending change wins over phase", []entitlement.Event{create, phase, change}, 5, entitlement.LifecyclePendingChange},
		{"pending cancel wins over change", []entitlement.Event{create, phase, change, cancel}, 5, entitlement.LifecyclePendingCancel},
		{"cancelled", []entitlement.Event{create, phase, change, cancel}, 26, entitlement.LifecycleCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sub, err := entitlement.Replay(row, tt.events)
			require.NoError(t, err)
			assert.Equal(t, tt.want, entitlement.LifecycleOf(sub, day(tt.at)))
		})
	}

	assert.Equal(t, entitlement.LifecycleNone, entitlement.LifecycleOf(nil, t0))
}

func TestCanApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state entitlement.LifecycleState
		op    entitlement.Operation
		want  bool
	}{
		{entitlement.LifecycleNone, entitlement.OpCreate, true},
		{entitlement.LifecycleActive, entitlement.OpCreate, false},
		{entitlement.LifecycleCancelled, entitlement.OpRecreate, true},
		{entitlement.LifecycleActive, entitlement.OpRecreate, false},
		{entitlement.LifecyclePendingPhase, entitlement.OpCancel, true},
		{entitlement.LifecycleCancelled, entitlement.OpCancel, false},
		{entitlement.LifecyclePendingCancel, entitlement.OpUncancel, true},
		{entitlement.LifecycleActive, entitlement.OpUncancel, false},
		{entitlement.LifecyclePendingChange, entitlement.OpChangePlan, true},
		{entitlement.LifecyclePendingCancel, entitlement.OpChangePlan, false},
		{entitlement.LifecyclePendingCancel, entitlement.OpTransfer, true},
		{entitlement.LifecycleCancelled, entitlement.OpMigrate, true},
		{entitlement.LifecycleCancelled, entitlement.OpRepair, true},
		{entitlement.LifecycleCancelled, entitlement.OpNotify, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, entitlement.CanApply(tt.state, tt.op), "%s from %s", tt.op, tt.state)
	}
}

func TestService_GuardReportsLifecycleState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.bundle(t, uuid.New(), "acme")
	sub := h.create(t, b.ID, "lite-monthly")

	_, err := h.svc.Uncancel(context.Background(), sub.ID)
	require.ErrorIs(t, err, entitlement.ErrInvalidTransition)
	var te *entitlement.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, entitlement.LifecycleActive, te.State)
	assert.Equal(t, entitlement.OpUncancel, te.Operation)
	assert.Equal(t, sub.ID, te.SubscriptionID)
}
