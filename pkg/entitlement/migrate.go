package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// ErrInvalidMigration is returned for migration input that cannot be replayed.
var ErrInvalidMigration = errors.New("invalid migration request")

// Migrate imports bundles with their event history verbatim. Bundles whose
// external key already exists for the account are skipped and logged.
// Future events are scheduled and only the final event of each subscription
// is published.
func (s *service) Migrate(ctx context.Context, req MigrateRequest) (_ []*Bundle, err error) {
	ctx, end := s.begin(ctx, OpMigrate,
		attribute.String("account.id", req.AccountID.String()),
		attribute.Int("bundles", len(req.Bundles)))
	defer func() { end(&err) }()

	now := s.clock.Now()

	var created []*Bundle
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		created = created[:0]
		for _, mb := range req.Bundles {
			_, err := tx.BundleByKey(ctx, req.AccountID, mb.ExternalKey)
			switch {
			case err == nil:
				s.logger.ErrorContext(ctx, "bundle already exists, skipping migration",
					logger.AccountID(req.AccountID),
					logger.ExternalKey(mb.ExternalKey))
				continue
			case !errors.Is(err, ErrBundleNotFound):
				return err
			}

			bundle := &Bundle{
				ID:          uuid.New(),
				ExternalKey: mb.ExternalKey,
				AccountID:   req.AccountID,
				StartDate:   orNow(mb.StartDate, now),
			}
			if err := tx.CreateBundle(ctx, bundle); err != nil {
				return err
			}

			for i, ms := range mb.Subscriptions {
				if err := s.migrateSubscription(ctx, tx, bundle, ms); err != nil {
					return fmt.Errorf("bundle %q subscription %d: %w", mb.ExternalKey, i, err)
				}
			}
			created = append(created, bundle)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) migrateSubscription(ctx context.Context, tx Tx, bundle *Bundle, ms MigrationSubscription) error {
	if len(ms.Events) == 0 {
		return fmt.Errorf("%w: subscription has no events", ErrInvalidMigration)
	}

	now := s.clock.Now()
	sub := &Subscription{
		ID:                 uuid.New(),
		BundleID:           bundle.ID,
		Category:           ms.Category,
		StartDate:          orNow(ms.StartDate, ms.Events[0].EffectiveDate),
		BundleStartDate:    bundle.StartDate,
		ChargedThroughDate: ms.ChargedThroughDate,
		ActiveVersion:      1,
	}

	events := make([]*Event, 0, len(ms.Events))
	values := make([]Event, 0, len(ms.Events))
	for i, in := range ms.Events {
		ev := in.event(sub, now)
		ev.TotalOrdering = int64(i + 1) // local order for validation only
		values = append(values, *ev)
		ev.TotalOrdering = 0
		events = append(events, ev)
	}
	if _, err := Replay(sub, values); err != nil {
		return errors.Join(ErrInvalidMigration, err)
	}

	if err := tx.CreateSubscription(ctx, sub); err != nil {
		return err
	}
	for _, ev := range events {
		if err := tx.Append(ctx, ev); err != nil {
			return fmt.Errorf("append %s event: %w", ev.Kind(), err)
		}
		if ev.IsFuture(now) {
			if err := s.schedule(ctx, ev); err != nil {
				return err
			}
		}
	}
	s.publish(ctx, BusEventRequested, bundle, events[len(events)-1])
	return nil
}
