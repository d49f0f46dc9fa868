// Package statemachine is a small finite state machine. States and events
// are anything with a Name; edges may carry guards that are evaluated
// against caller data at fire time, and actions that run before the machine
// moves.
//
//	const (
//	    Active    = statemachine.StringState("active")
//	    Cancelled = statemachine.StringState("cancelled")
//	    Cancel    = statemachine.StringEvent("cancel")
//	)
//
//	sm := statemachine.MustNew(Active,
//	    statemachine.WithTransition(Active, Cancelled, Cancel,
//	        statemachine.WithGuard(func(ctx context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
//	            return data.(bool)
//	        }),
//	    ),
//	)
//
//	if sm.CanFire(ctx, Cancel, true) {
//	    _ = sm.Fire(ctx, Cancel, true)
//	}
//
// Fire distinguishes a missing edge (ErrNoTransitionAvailable) from an edge
// refused by its guards (ErrTransitionRejected).
package statemachine
