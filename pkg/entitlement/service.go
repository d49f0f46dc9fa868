package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Service is the entitlement lifecycle orchestrator and the read surface
// over bundles and subscriptions.
type Service interface {
	// Lifecycle operations
	CreateBundle(ctx context.Context, req CreateBundleRequest) (*Bundle, error)
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	Recreate(ctx context.Context, req RecreateRequest) (*Subscription, error)
	Cancel(ctx context.Context, req CancelRequest) (*Subscription, error)
	Uncancel(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (*Subscription, error)
	Migrate(ctx context.Context, req MigrateRequest) ([]*Bundle, error)
	Repair(ctx context.Context, req RepairRequest) (*RepairResult, error)
	Transfer(ctx context.Context, req TransferRequest) (*Bundle, error)
	UpdateChargedThroughDate(ctx context.Context, subscriptionID uuid.UUID, at time.Time) error

	// ProcessNotification is the scheduler callback for a due event.
	ProcessNotification(ctx context.Context, key NotificationKey) error

	// Reads
	Assemble(ctx context.Context, bundleID uuid.UUID) ([]*Subscription, error)
	Subscription(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error)
	BaseSubscription(ctx context.Context, bundleID uuid.UUID) (*Subscription, error)
	EventsForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Event, error)
	PendingEventsForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Event, error)
	Bundle(ctx context.Context, bundleID uuid.UUID) (*Bundle, error)
	BundlesForAccount(ctx context.Context, accountID uuid.UUID) ([]*Bundle, error)
}

type service struct {
	store     Store
	catalog   Catalog
	scheduler Scheduler
	bus       Bus
	clock     Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *metrics
}

// NewService creates a Service with the given collaborators.
// Panics if any collaborator is nil.
func NewService(store Store, cat Catalog, scheduler Scheduler, bus Bus, opts ...ServiceOption) Service {
	if store == nil {
		panic("entitlement: Store is required")
	}
	if cat == nil {
		panic("entitlement: Catalog is required")
	}
	if scheduler == nil {
		panic("entitlement: Scheduler is required")
	}
	if bus == nil {
		panic("entitlement: Bus is required")
	}

	s := &service{
		store:     store,
		catalog:   cat,
		scheduler: scheduler,
		bus:       bus,
		clock:     systemClock{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/dmitrymomot/billingkit/pkg/entitlement"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Subscription returns the replayed subscription.
func (s *service) Subscription(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	var out *Subscription
	err := s.store.InReadTx(ctx, func(ctx context.Context, tx Tx) error {
		sub, err := s.loadSubscription(ctx, tx, subscriptionID)
		out = sub
		return err
	})
	return out, err
}

// BaseSubscription returns the replayed base subscription of a bundle.
func (s *service) BaseSubscription(ctx context.Context, bundleID uuid.UUID) (*Subscription, error) {
	var out *Subscription
	err := s.store.InReadTx(ctx, func(ctx context.Context, tx Tx) error {
		base, err := s.loadBase(ctx, tx, bundleID)
		out = base
		return err
	})
	return out, err
}

// EventsForSubscription returns the full event log, every version included.
func (s *service) EventsForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Event, error) {
	var out []Event
	err := s.store.InReadTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.SubscriptionByID(ctx, subscriptionID); err != nil {
			return s.notFound(ctx, err, "subscription", subscriptionID)
		}
		events, err := tx.EventsForSubscription(ctx, subscriptionID)
		out = events
		return err
	})
	return out, err
}

// PendingEventsForSubscription returns active events of the current branch
// that are not effective yet.
func (s *service) PendingEventsForSubscription(ctx context.Context, subscriptionID uuid.UUID) ([]Event, error) {
	var out []Event
	err := s.store.InReadTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.SubscriptionByID(ctx, subscriptionID); err != nil {
			return s.notFound(ctx, err, "subscription", subscriptionID)
		}
		events, err := tx.FutureActiveEvents(ctx, subscriptionID, s.clock.Now())
		if err != nil {
			return err
		}
		SortEvents(events)
		out = events
		return nil
	})
	return out, err
}

// Bundle returns the bundle row.
func (s *service) Bundle(ctx context.Context, bundleID uuid.UUID) (*Bundle, error) {
	var out *Bundle
	err := s.store.InReadTx(ctx, func(ctx context.Context, tx Tx) error {
		b, err := tx.BundleByID(ctx, bundleID)
		if err != nil {
			return s.notFound(ctx, err, "bundle", bundleID)
		}
		out = b
		return nil
	})
	return out, err
}

// BundlesForAccount returns all bundles owned by an account.
func (s *service) BundlesForAccount(ctx context.Context, accountID uuid.UUID) ([]*Bundle, error) {
	var out []*Bundle
	err := s.store.InReadTx(ctx, func(ctx context.Context, tx Tx) error {
		bundles, err := tx.BundlesForAccount(ctx, accountID)
		out = bundles
		return err
	})
	return out, err
}
