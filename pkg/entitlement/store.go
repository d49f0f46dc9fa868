package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TxFunc is the body of a transaction. The context it receives carries the
// transaction so collaborators backed by the same database can join it.
type TxFunc func(ctx context.Context, tx Tx) error

// Store opens transactions over bundles, subscriptions and their event log.
// InTx commits when fn returns nil and rolls back otherwise.
type Store interface {
	InTx(ctx context.Context, fn TxFunc) error
	InReadTx(ctx context.Context, fn TxFunc) error
}

// Tx is the set of operations available inside a transaction.
//
// Append assigns TotalOrdering when the event's value is zero and keeps the
// given value otherwise. Lookups return ErrBundleNotFound,
// ErrSubscriptionNotFound or ErrEventNotFound on a miss.
type Tx interface {
	CreateBundle(ctx context.Context, b *Bundle) error
	BundleByID(ctx context.Context, id uuid.UUID) (*Bundle, error)
	BundleByKey(ctx context.Context, accountID uuid.UUID, externalKey string) (*Bundle, error)
	BundlesForAccount(ctx context.Context, accountID uuid.UUID) ([]*Bundle, error)

	CreateSubscription(ctx context.Context, sub *Subscription) error
	SubscriptionByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	SubscriptionsForBundle(ctx context.Context, bundleID uuid.UUID) ([]*Subscription, error)
	UpdateChargedThrough(ctx context.Context, subscriptionID uuid.UUID, at time.Time) error
	UpdateForRepair(ctx context.Context, subscriptionID uuid.UUID, activeVersion int64) error

	Append(ctx context.Context, ev *Event) error
	Unactivate(ctx context.Context, eventID uuid.UUID) error
	UpdateVersion(ctx context.Context, eventID uuid.UUID, activeVersion int64) error
	EventByID(ctx context.Context, eventID uuid.UUID) (*Event, error)
	// EventsForSubscription returns every event of the subscription, all
	// versions, active or not, ordered by total ordering.
	EventsForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Event, error)
	// FutureActiveEvents returns active events of the subscription's current
	// version that take effect after asOf.
	FutureActiveEvents(ctx context.Context, subscriptionID uuid.UUID, asOf time.Time) ([]Event, error)
}
