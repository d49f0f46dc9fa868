package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
)

// ChangePlan supersedes the pending CHANGE and PHASE events and appends a
// CHANGE to the new plan, plus the PHASE event that follows it.
func (s *service) ChangePlan(ctx context.Context, req ChangePlanRequest) (_ *Subscription, err error) {
	ctx, end := s.begin(ctx, OpChangePlan,
		attribute.String("subscription.id", req.SubscriptionID.String()),
		attribute.String("plan", req.PlanName))
	defer func() { end(&err) }()

	now := s.clock.Now()
	requested := orNow(req.RequestedDate, now)

	var out *Subscription
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sub, err := s.loadSubscription(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if err := guard(ctx, sub, OpChangePlan, now); err != nil {
			return err
		}
		if err := validateRequestedDate(sub, now, requested); err != nil {
			return err
		}
		bundle, err := s.loadBundle(ctx, tx, sub.BundleID)
		if err != nil {
			return err
		}

		plan, product, err := s.resolvePlan(ctx, req.PlanName, requested)
		if err != nil {
			return err
		}
		if product.Category != sub.Category {
			return ErrInvalidCategory
		}

		policy := req.Policy
		if policy == "" {
			policy = s.catalog.ChangePolicy(requested)
		}
		effective := effectiveDateFor(sub, policy, requested)

		if sub.Category == catalog.CategoryAddOn {
			subs, err := s.loadBundleSubscriptions(ctx, tx, bundle.ID)
			if err != nil {
				return err
			}
			if err := s.checkPlacement(ctx, product, plan, withoutSub(subs, sub.ID), effective); err != nil {
				return err
			}
		}

		if err := s.supersede(ctx, tx, sub.ID, now, KindChange, KindPhase); err != nil {
			return err
		}

		priceList := priceListOr(req.PriceListName, sub.CurrentPriceList(now))
		align := sub.phaseAlignment(s.catalog.PlanAlignment(effective), effective)
		cur, next := PhaseAt(plan, align, effective)

		change := newEvent(sub, eventDraft{
			kind:      KindChange,
			effective: effective,
			requested: requested,
			plan:      plan.Name,
			phase:     cur.Phase.Name,
			priceList: priceList,
		}, now)
		events := []*Event{change}
		if next != nil {
			events = append(events, newPhaseEvent(sub, next.Phase.Name, next.Start, requested, now))
		}

		for _, ev := range events {
			if err := s.record(ctx, tx, bundle, ev, now); err != nil {
				return err
			}
		}
		if err := s.reinsertFutureMigrateBilling(ctx, tx, bundle, sub, events, now); err != nil {
			return err
		}
		s.publish(ctx, BusEventRequested, bundle, events[len(events)-1])

		if out, err = s.replayRow(ctx, tx, sub); err != nil {
			return err
		}
		return s.cancelAddonsIfEffective(ctx, tx, bundle, sub, change, now)
	})
	return out, err
}

// reinsertFutureMigrateBilling keeps a pending MIGRATE_BILLING event in step
// with plan changes that land before it. The event is unactivated and
// written again with the plan, phase and price list in force at its date.
// Effective date and total ordering are preserved. Changes that land after
// it leave it untouched.
func (s *service) reinsertFutureMigrateBilling(ctx context.Context, tx Tx, bundle *Bundle, sub *Subscription, changes []*Event, now time.Time) error {
	mb, err := s.findFutureEvent(ctx, tx, sub.ID, KindMigrateBilling, now)
	if err != nil || mb == nil {
		return err
	}

	precedes := false
	for _, ev := range changes {
		if !ev.EffectiveDate.After(mb.EffectiveDate) {
			precedes = true
			break
		}
	}
	if !precedes {
		return nil
	}

	events, err := tx.EventsForSubscription(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	others := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.ID != mb.ID {
			others = append(others, ev)
		}
	}
	row := sub.row()
	snap, err := ReplayAt(&row, others, mb.EffectiveDate)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	if err := tx.Unactivate(ctx, mb.ID); err != nil {
		return fmt.Errorf("unactivate migrate billing event %s: %w", mb.ID, err)
	}

	moved := *mb
	moved.ID = uuid.New()
	moved.PlanName = snap.PlanName
	moved.PhaseName = snap.PhaseName
	moved.PriceListName = snap.PriceListName
	moved.ProcessedDate = now
	moved.Active = true

	return s.record(ctx, tx, bundle, &moved, now)
}
