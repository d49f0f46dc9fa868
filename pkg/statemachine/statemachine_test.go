package statemachine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/statemachine"
)

const (
	pending   = statemachine.StringState("pending")
	active    = statemachine.StringState("active")
	cancelled = statemachine.StringState("cancelled")

	activate = statemachine.StringEvent("activate")
	cancel   = statemachine.StringEvent("cancel")
)

func TestStateMachine_Fire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sm := statemachine.MustNew(pending,
		statemachine.WithTransition(pending, active, activate),
		statemachine.WithTransition(active, cancelled, cancel),
	)
	assert.Equal(t, pending, sm.Current())
	assert.True(t, sm.CanFire(ctx, activate, nil))
	assert.False(t, sm.CanFire(ctx, cancel, nil))

	require.NoError(t, sm.Fire(ctx, activate, nil))
	assert.Equal(t, active, sm.Current())
	require.NoError(t, sm.Fire(ctx, cancel, nil))
	assert.Equal(t, cancelled, sm.Current())

	err := sm.Fire(ctx, activate, nil)
	assert.True(t, statemachine.IsNoTransitionAvailableError(err))
	var nt *statemachine.ErrNoTransitionAvailable
	require.ErrorAs(t, err, &nt)
	assert.Equal(t, "cancelled", nt.StateName)
	assert.Equal(t, "activate", nt.EventName)

	require.NoError(t, sm.Reset())
	assert.Equal(t, pending, sm.Current())
}

func TestStateMachine_Guards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	allowed := func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		ok, _ := data.(bool)
		return ok
	}
	sm := statemachine.MustNew(active,
		statemachine.WithTransition(active, cancelled, cancel, statemachine.WithGuard(allowed)),
	)

	assert.False(t, sm.CanFire(ctx, cancel, false))
	err := sm.Fire(ctx, cancel, false)
	assert.True(t, statemachine.IsTransitionRejectedError(err))
	assert.False(t, statemachine.IsNoTransitionAvailableError(err))
	assert.Equal(t, active, sm.Current())

	assert.True(t, sm.CanFire(ctx, cancel, true))
	require.NoError(t, sm.Fire(ctx, cancel, true))
	assert.Equal(t, cancelled, sm.Current())
}

func TestStateMachine_FirstPassingEdgeWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	never := func(context.Context, statemachine.State, statemachine.Event, any) bool { return false }
	sm := statemachine.MustNew(pending,
		statemachine.WithTransitions([]statemachine.TransitionDef{
			{From: pending, To: cancelled, Event: activate, Guards: []statemachine.Guard{never}},
			{From: pending, To: active, Event: activate},
		}),
	)
	require.NoError(t, sm.Fire(ctx, activate, nil))
	assert.Equal(t, active, sm.Current())
}

func TestStateMachine_Actions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var ran []string
	record := func(_ context.Context, from, to statemachine.State, _ statemachine.Event, _ any) error {
		ran = append(ran, from.Name()+">"+to.Name())
		return nil
	}
	errBoom := errors.New("boom")
	fail := func(context.Context, statemachine.State, statemachine.State, statemachine.Event, any) error {
		return errBoom
	}

	sm := statemachine.MustNew(pending,
		statemachine.WithTransition(pending, active, activate, statemachine.WithAction(record)),
		statemachine.WithTransition(active, cancelled, cancel, statemachine.WithAction(fail)),
	)
	require.NoError(t, sm.Fire(ctx, activate, nil))
	assert.Equal(t, []string{"pending>active"}, ran)

	assert.ErrorIs(t, sm.Fire(ctx, cancel, nil), errBoom)
	assert.Equal(t, active, sm.Current(), "failed action keeps the state")
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	_, err := statemachine.New(nil)
	assert.ErrorIs(t, err, statemachine.ErrNilInitialState)

	_, err = statemachine.New(pending, statemachine.WithTransitions([]statemachine.TransitionDef{
		{From: pending, To: nil, Event: activate},
	}))
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)

	_, err = statemachine.New(pending, statemachine.WithTransition(pending, active, nil))
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)

	assert.Panics(t, func() { statemachine.MustNew(nil) })

	sm := statemachine.MustNew(pending)
	assert.ErrorIs(t, sm.Fire(context.Background(), nil, nil), statemachine.ErrInvalidEvent)
	assert.False(t, sm.CanFire(context.Background(), nil, nil))
}
