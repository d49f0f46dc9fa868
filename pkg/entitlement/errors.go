package entitlement

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrBundleNotFound       = errors.New("subscription bundle not found")
	ErrEventNotFound        = errors.New("entitlement event not found")
	ErrBundleExists         = errors.New("subscription bundle already exists")

	ErrBaseSubscriptionExists  = errors.New("bundle already has an active base subscription")
	ErrBaseSubscriptionMissing = errors.New("bundle has no active base subscription")
	ErrAddonNotAvailable       = errors.New("add-on is not available for the base plan")
	ErrAddonIncluded           = errors.New("add-on is already included in the base plan")
	ErrInvalidCategory         = errors.New("plan category is not valid for this operation")

	ErrInvalidTransition = errors.New("operation is not allowed in the current subscription state")
	ErrNotPendingCancel  = errors.New("subscription has no pending cancellation")
	ErrEventConflict     = errors.New("event id belongs to a different request")

	ErrInvalidRequestedDate = errors.New("invalid requested date")

	ErrInvalidRepair = errors.New("invalid repair request")
	ErrStaleRepair   = errors.New("repair targets a stale subscription version")

	ErrSchedulingFailed = errors.New("failed to schedule entitlement notification")
	ErrReadOnlyTx       = errors.New("write attempted in a read-only transaction")
	ErrCatalogLookup    = errors.New("catalog lookup failed")
)

// InvariantError reports a broken write-path invariant, such as two pending
// events of the same kind. It is never swallowed by the service.
type InvariantError struct {
	SubscriptionID uuid.UUID
	Reason         string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("entitlement invariant violated for subscription %s: %s", e.SubscriptionID, e.Reason)
}

// IsInvariantError reports whether err is an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// TransitionError reports an operation rejected by the lifecycle guard.
type TransitionError struct {
	SubscriptionID uuid.UUID
	State          LifecycleState
	Operation      Operation
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s subscription %s in state %s", e.Operation, e.SubscriptionID, e.State)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsTransitionError reports whether err is a TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
