package entitlement

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// ProcessNotification handles a due event. The effective notification is
// published, a fired PHASE schedules the phase after it, and a fired base
// CANCEL or CHANGE ends the add-ons that cannot outlive it.
//
// Keys for events that were superseded or belong to an old branch are
// acknowledged without side effects.
func (s *service) ProcessNotification(ctx context.Context, key NotificationKey) (err error) {
	ctx, end := s.begin(ctx, OpNotify,
		attribute.String("event.id", key.EventID.String()),
		attribute.String("subscription.id", key.SubscriptionID.String()))
	defer func() { end(&err) }()

	now := s.clock.Now()

	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		ev, err := tx.EventByID(ctx, key.EventID)
		if errors.Is(err, ErrEventNotFound) {
			s.logger.WarnContext(ctx, "notification for unknown event, skipping",
				logger.EventID(key.EventID),
				logger.SubscriptionID(key.SubscriptionID))
			return nil
		}
		if err != nil {
			return err
		}
		if !ev.Active {
			s.logger.DebugContext(ctx, "notification for superseded event, skipping", logger.EventID(ev.ID))
			return nil
		}

		row, err := tx.SubscriptionByID(ctx, ev.SubscriptionID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				s.logger.WarnContext(ctx, "notification for unknown subscription, skipping",
					logger.EventID(ev.ID),
					logger.SubscriptionID(ev.SubscriptionID))
				return nil
			}
			return err
		}
		if ev.ActiveVersion != row.ActiveVersion {
			s.logger.DebugContext(ctx, "notification for repaired branch, skipping",
				logger.EventID(ev.ID),
				logger.ActiveVersion(ev.ActiveVersion))
			return nil
		}

		bundle, err := s.loadBundle(ctx, tx, row.BundleID)
		if err != nil {
			return err
		}
		s.publish(ctx, BusEventEffective, bundle, ev)

		sub, err := s.replayRow(ctx, tx, row)
		if err != nil {
			return err
		}

		switch {
		case ev.Is(KindPhase):
			return s.createNextPhaseEvent(ctx, tx, bundle, sub, ev, now)
		case sub.Category == catalog.CategoryBase && (ev.Is(KindCancel) || ev.Is(KindChange)):
			return s.cancelInferredAddons(ctx, tx, bundle, ev, now)
		}
		return nil
	})
}

// createNextPhaseEvent schedules the phase that follows a fired PHASE event.
func (s *service) createNextPhaseEvent(ctx context.Context, tx Tx, bundle *Bundle, sub *Subscription, fired *Event, now time.Time) error {
	snap := sub.SnapshotAt(fired.EffectiveDate)
	if snap.State != StateActive {
		return nil
	}

	plan, err := s.planFor(snap.PlanName, fired.EffectiveDate, sub.StartDate)
	if err != nil {
		return s.catalogErr(ctx, err, snap.PlanName)
	}
	align := sub.phaseAlignment(s.catalog.PlanAlignment(fired.EffectiveDate), fired.EffectiveDate)
	_, next := PhaseAt(plan, align, fired.EffectiveDate)
	if next == nil {
		return nil
	}

	if err := s.supersede(ctx, tx, sub.ID, now, KindPhase); err != nil {
		return err
	}
	return s.record(ctx, tx, bundle, newPhaseEvent(sub, next.Phase.Name, next.Start, now, now), now)
}
