package entitlement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// record appends ev and routes it through the dual notify policy.
func (s *service) record(ctx context.Context, tx Tx, bundle *Bundle, ev *Event, now time.Time) error {
	if err := tx.Append(ctx, ev); err != nil {
		return fmt.Errorf("append %s event: %w", ev.Kind(), err)
	}
	return s.notify(ctx, bundle, ev, now)
}

// notify publishes an already effective user event right away and
// schedules everything else.
func (s *service) notify(ctx context.Context, bundle *Bundle, ev *Event, now time.Time) error {
	if ev.Type == EventTypeAPIUser && !ev.IsFuture(now) {
		s.publish(ctx, BusEventEffective, bundle, ev)
		return nil
	}
	return s.schedule(ctx, ev)
}

func (s *service) schedule(ctx context.Context, ev *Event) error {
	key := NotificationKey{EventID: ev.ID, SubscriptionID: ev.SubscriptionID}
	if err := s.scheduler.ScheduleAt(ctx, ev.EffectiveDate, key); err != nil {
		return errors.Join(ErrSchedulingFailed, err)
	}
	s.metrics.notificationScheduled()
	return nil
}

// publish never fails the caller: the event log is authoritative and
// consumers reconcile missed notifications.
func (s *service) publish(ctx context.Context, kind BusEventKind, bundle *Bundle, ev *Event) {
	if err := s.bus.Publish(ctx, newBusEvent(kind, bundle, ev)); err != nil {
		s.metrics.busFailure(kind)
		s.logger.ErrorContext(ctx, "failed to publish entitlement bus event",
			logger.EventType(string(kind)),
			logger.EventID(ev.ID),
			logger.SubscriptionID(ev.SubscriptionID),
			logger.Error(err))
	}
}

// findFutureEvent returns the single pending event of kind, or nil.
// More than one match breaks the one-pending-event-per-kind rule.
func (s *service) findFutureEvent(ctx context.Context, tx Tx, subscriptionID uuid.UUID, kind Kind, now time.Time) (*Event, error) {
	events, err := tx.FutureActiveEvents(ctx, subscriptionID, now)
	if err != nil {
		return nil, fmt.Errorf("load future events: %w", err)
	}

	var found *Event
	for _, ev := range events {
		if !ev.Is(kind) {
			continue
		}
		if found != nil {
			return nil, &InvariantError{
				SubscriptionID: subscriptionID,
				Reason:         fmt.Sprintf("more than one pending %s event (%s, %s)", kind, found.ID, ev.ID),
			}
		}
		e := ev
		found = &e
	}
	return found, nil
}

// supersede unactivates the pending event of each kind, if any.
func (s *service) supersede(ctx context.Context, tx Tx, subscriptionID uuid.UUID, now time.Time, kinds ...Kind) error {
	for _, kind := range kinds {
		ev, err := s.findFutureEvent(ctx, tx, subscriptionID, kind, now)
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		if err := tx.Unactivate(ctx, ev.ID); err != nil {
			return fmt.Errorf("unactivate %s event %s: %w", kind, ev.ID, err)
		}
	}
	return nil
}

// loadSubscription reads the row and replays its current branch.
func (s *service) loadSubscription(ctx context.Context, tx Tx, id uuid.UUID) (*Subscription, error) {
	row, err := tx.SubscriptionByID(ctx, id)
	if err != nil {
		return nil, s.notFound(ctx, err, "subscription", id)
	}
	return s.replayRow(ctx, tx, row)
}

func (s *service) replayRow(ctx context.Context, tx Tx, row *Subscription) (*Subscription, error) {
	events, err := tx.EventsForSubscription(ctx, row.ID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	sub, err := Replay(row, events)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, s.notFound(ctx, ErrSubscriptionNotFound, "subscription", row.ID)
	}
	return sub, nil
}

// loadBundleSubscriptions replays every subscription of a bundle, skipping
// rows without events, sorted base first.
func (s *service) loadBundleSubscriptions(ctx context.Context, tx Tx, bundleID uuid.UUID) ([]*Subscription, error) {
	rows, err := tx.SubscriptionsForBundle(ctx, bundleID)
	if err != nil {
		return nil, fmt.Errorf("load bundle subscriptions: %w", err)
	}

	subs := make([]*Subscription, 0, len(rows))
	for _, row := range rows {
		events, err := tx.EventsForSubscription(ctx, row.ID)
		if err != nil {
			return nil, fmt.Errorf("load events: %w", err)
		}
		sub, err := Replay(row, events)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			subs = append(subs, sub)
		}
	}
	SortBundle(subs)
	return subs, nil
}

func (s *service) loadBase(ctx context.Context, tx Tx, bundleID uuid.UUID) (*Subscription, error) {
	if _, err := tx.BundleByID(ctx, bundleID); err != nil {
		return nil, s.notFound(ctx, err, "bundle", bundleID)
	}
	subs, err := s.loadBundleSubscriptions(ctx, tx, bundleID)
	if err != nil {
		return nil, err
	}
	if i := slices.IndexFunc(subs, func(sub *Subscription) bool { return sub.Category == catalog.CategoryBase }); i >= 0 {
		return subs[i], nil
	}
	return nil, s.notFound(ctx, ErrSubscriptionNotFound, "base subscription", bundleID)
}

func (s *service) loadBundle(ctx context.Context, tx Tx, id uuid.UUID) (*Bundle, error) {
	b, err := tx.BundleByID(ctx, id)
	if err != nil {
		return nil, s.notFound(ctx, err, "bundle", id)
	}
	return b, nil
}

// notFound logs lookup misses and passes every error through unchanged.
func (s *service) notFound(ctx context.Context, err error, what string, id uuid.UUID) error {
	if errors.Is(err, ErrSubscriptionNotFound) || errors.Is(err, ErrBundleNotFound) || errors.Is(err, ErrEventNotFound) {
		s.logger.WarnContext(ctx, what+" not found, operation abandoned",
			logger.Component("entitlement"),
			logger.ID(id),
			logger.Error(err))
	}
	return err
}

// catalogErr logs a catalog miss and wraps it for the caller.
func (s *service) catalogErr(ctx context.Context, err error, name string) error {
	s.logger.WarnContext(ctx, "catalog lookup failed, operation abandoned",
		logger.Component("entitlement"),
		logger.Plan(name),
		logger.Error(err))
	return errors.Join(ErrCatalogLookup, err)
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
