package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Cancel supersedes any pending CANCEL, CHANGE and PHASE events and appends
// a CANCEL effective per the cancel policy.
func (s *service) Cancel(ctx context.Context, req CancelRequest) (_ *Subscription, err error) {
	ctx, end := s.begin(ctx, OpCancel, attribute.String("subscription.id", req.SubscriptionID.String()))
	defer func() { end(&err) }()

	now := s.clock.Now()
	requested := orNow(req.RequestedDate, now)

	var out *Subscription
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if req.EventID != uuid.Nil {
			prior, err := tx.EventByID(ctx, req.EventID)
			switch {
			case err == nil && (prior.SubscriptionID != req.SubscriptionID || !prior.Is(KindCancel)):
				return fmt.Errorf("%w: event %s is not a cancel of subscription %s",
					ErrEventConflict, req.EventID, req.SubscriptionID)
			case err == nil:
				s.logger.InfoContext(ctx, "cancel already recorded, skipping",
					logger.SubscriptionID(req.SubscriptionID),
					logger.EventID(req.EventID))
				out, err = s.loadSubscription(ctx, tx, req.SubscriptionID)
				return err
			case !errors.Is(err, ErrEventNotFound):
				return err
			}
		}

		sub, err := s.loadSubscription(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if err := guard(ctx, sub, OpCancel, now); err != nil {
			return err
		}
		if err := validateRequestedDate(sub, now, requested); err != nil {
			return err
		}
		bundle, err := s.loadBundle(ctx, tx, sub.BundleID)
		if err != nil {
			return err
		}

		policy := req.Policy
		if policy == "" {
			policy = s.catalog.CancelPolicy(requested)
		}

		ev, err := s.cancelEvent(ctx, tx, sub, requested, effectiveDateFor(sub, policy, requested), now)
		if err != nil {
			return err
		}
		if req.EventID != uuid.Nil {
			ev.ID = req.EventID
		}

		out, err = s.recordAll(ctx, tx, bundle, sub, []*Event{ev}, now)
		if err != nil {
			return err
		}
		return s.cancelAddonsIfEffective(ctx, tx, bundle, sub, ev, now)
	})
	return out, err
}

// Uncancel removes a pending cancellation. The CANCEL event is unactivated,
// an UNCANCEL is appended at now together with the PHASE event the cancel
// had superseded. All of them go through the scheduler.
func (s *service) Uncancel(ctx context.Context, subscriptionID uuid.UUID) (_ *Subscription, err error) {
	ctx, end := s.begin(ctx, OpUncancel, attribute.String("subscription.id", subscriptionID.String()))
	defer func() { end(&err) }()

	now := s.clock.Now()

	var out *Subscription
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sub, err := s.loadSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if err := guard(ctx, sub, OpUncancel, now); err != nil {
			return err
		}
		bundle, err := s.loadBundle(ctx, tx, sub.BundleID)
		if err != nil {
			return err
		}

		pending, err := s.findFutureEvent(ctx, tx, sub.ID, KindCancel, now)
		if err != nil {
			return err
		}
		if pending == nil {
			return ErrNotPendingCancel
		}
		if err := tx.Unactivate(ctx, pending.ID); err != nil {
			return fmt.Errorf("unactivate cancel event %s: %w", pending.ID, err)
		}
		if err := s.supersede(ctx, tx, sub.ID, now, KindPhase); err != nil {
			return err
		}

		events := []*Event{newEvent(sub, eventDraft{kind: KindUncancel, effective: now, requested: now}, now)}

		planName := sub.CurrentPlan(now)
		plan, err := s.planFor(planName, now, sub.StartDate)
		if err != nil {
			return s.catalogErr(ctx, err, planName)
		}
		align := sub.phaseAlignment(s.catalog.PlanAlignment(now), now)
		if _, next := PhaseAt(plan, align, now); next != nil {
			events = append(events, newPhaseEvent(sub, next.Phase.Name, next.Start, now, now))
		}

		for _, ev := range events {
			if err := tx.Append(ctx, ev); err != nil {
				return fmt.Errorf("append %s event: %w", ev.Kind(), err)
			}
			if err := s.schedule(ctx, ev); err != nil {
				return err
			}
		}
		s.publish(ctx, BusEventRequested, bundle, events[len(events)-1])

		out, err = s.replayRow(ctx, tx, sub)
		return err
	})
	return out, err
}

// cancelEvent supersedes pending CANCEL, CHANGE and PHASE events and builds
// the replacement CANCEL.
func (s *service) cancelEvent(ctx context.Context, tx Tx, sub *Subscription, requested, effective, now time.Time) (*Event, error) {
	if err := s.supersede(ctx, tx, sub.ID, now, KindCancel, KindChange, KindPhase); err != nil {
		return nil, err
	}
	return newEvent(sub, eventDraft{kind: KindCancel, effective: effective, requested: requested}, now), nil
}

// cancelAddonsIfEffective ends the add-ons of a bundle when a base CANCEL or
// CHANGE is already effective, since no notification will fire for it.
func (s *service) cancelAddonsIfEffective(ctx context.Context, tx Tx, bundle *Bundle, sub *Subscription, ev *Event, now time.Time) error {
	if sub.Category != catalog.CategoryBase || ev.IsFuture(now) {
		return nil
	}
	return s.cancelInferredAddons(ctx, tx, bundle, ev, now)
}

// cancelInferredAddons writes real CANCEL events for the add-ons the
// inferencer flags against an effective base event.
func (s *service) cancelInferredAddons(ctx context.Context, tx Tx, bundle *Bundle, baseEvent *Event, now time.Time) error {
	subs, err := s.loadBundleSubscriptions(ctx, tx, bundle.ID)
	if err != nil {
		return err
	}

	// Add-ons are judged at the base event's effective date, not at delivery time.
	for _, addon := range subs {
		if addon.Category != catalog.CategoryAddOn {
			continue
		}
		synthetic, err := InferAddonCancel(s.catalog, baseEvent, addon, baseEvent.EffectiveDate)
		if err != nil {
			return err
		}
		if synthetic == nil {
			continue
		}

		ev, err := s.cancelEvent(ctx, tx, addon, baseEvent.RequestedDate, baseEvent.EffectiveDate, now)
		if err != nil {
			return err
		}
		if err := s.record(ctx, tx, bundle, ev, now); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "add-on cancelled with base subscription",
			logger.SubscriptionID(addon.ID),
			logger.BundleID(bundle.ID),
			logger.EventID(baseEvent.ID))
	}
	return nil
}

// planFor resolves a plan as of at, falling back to the catalog version in
// force when the subscription started.
func (s *service) planFor(name string, at, subscriptionStart time.Time) (*catalog.Plan, error) {
	plan, err := s.catalog.FindPlan(name, at)
	if err == nil || !catalog.IsNotFound(err) {
		return plan, err
	}
	return s.catalog.FindPlan(name, subscriptionStart)
}

func effectiveDateFor(sub *Subscription, policy catalog.Policy, requested time.Time) time.Time {
	if policy == catalog.PolicyEndOfTerm && sub.ChargedThroughDate != nil && sub.ChargedThroughDate.After(requested) {
		return *sub.ChargedThroughDate
	}
	return requested
}
