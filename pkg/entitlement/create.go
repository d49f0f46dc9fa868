package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// CreateBundle opens a new, empty bundle.
func (s *service) CreateBundle(ctx context.Context, req CreateBundleRequest) (*Bundle, error) {
	if req.ExternalKey == "" {
		return nil, errors.New("entitlement: bundle external key is required")
	}

	now := s.clock.Now()
	b := &Bundle{
		ID:          uuid.New(),
		ExternalKey: req.ExternalKey,
		AccountID:   req.AccountID,
		StartDate:   orNow(req.StartDate, now),
	}

	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.BundleByKey(ctx, req.AccountID, req.ExternalKey); err == nil {
			return ErrBundleExists
		} else if !errors.Is(err, ErrBundleNotFound) {
			return err
		}
		return tx.CreateBundle(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Create starts a subscription: a CREATE event plus the PHASE event that
// moves it to its next plan phase, if the plan has one.
func (s *service) Create(ctx context.Context, req CreateRequest) (_ *Subscription, err error) {
	ctx, end := s.begin(ctx, OpCreate,
		attribute.String("bundle.id", req.BundleID.String()),
		attribute.String("plan", req.PlanName))
	defer func() { end(&err) }()

	now := s.clock.Now()
	requested := orNow(req.RequestedDate, now)
	effective := orNow(req.EffectiveDate, requested)

	var out *Subscription
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		bundle, err := s.loadBundle(ctx, tx, req.BundleID)
		if err != nil {
			return err
		}

		plan, product, err := s.resolvePlan(ctx, req.PlanName, requested)
		if err != nil {
			return err
		}

		subs, err := s.loadBundleSubscriptions(ctx, tx, bundle.ID)
		if err != nil {
			return err
		}
		if err := s.checkPlacement(ctx, product, plan, subs, effective); err != nil {
			return err
		}

		sub := &Subscription{
			ID:              uuid.New(),
			BundleID:        bundle.ID,
			Category:        product.Category,
			StartDate:       effective,
			BundleStartDate: bundle.StartDate,
			ActiveVersion:   1,
		}
		if err := tx.CreateSubscription(ctx, sub); err != nil {
			return err
		}

		align := sub.AlignmentStart(s.catalog.PlanAlignment(effective))
		events := initialEvents(sub, KindCreate, plan, priceListOr(req.PriceListName, DefaultPriceList), align, requested, effective, now)
		out, err = s.recordAll(ctx, tx, bundle, sub, events, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "subscription created",
		logger.SubscriptionID(out.ID),
		logger.BundleID(out.BundleID),
		logger.Plan(req.PlanName))
	return out, nil
}

// Recreate restarts a cancelled subscription with RE_CREATE and PHASE events.
// Phases are timed from the recreation date.
func (s *service) Recreate(ctx context.Context, req RecreateRequest) (_ *Subscription, err error) {
	ctx, end := s.begin(ctx, OpRecreate, attribute.String("subscription.id", req.SubscriptionID.String()))
	defer func() { end(&err) }()

	now := s.clock.Now()
	requested := orNow(req.RequestedDate, now)
	effective := orNow(req.EffectiveDate, requested)

	var out *Subscription
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sub, err := s.loadSubscription(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if err := guard(ctx, sub, OpRecreate, now); err != nil {
			return err
		}
		if err := validateRequestedDate(sub, now, requested); err != nil {
			return err
		}
		bundle, err := s.loadBundle(ctx, tx, sub.BundleID)
		if err != nil {
			return err
		}

		planName := req.PlanName
		if planName == "" {
			planName = lastPlan(sub)
		}
		plan, product, err := s.resolvePlan(ctx, planName, requested)
		if err != nil {
			return err
		}
		if product.Category != sub.Category {
			return ErrInvalidCategory
		}

		subs, err := s.loadBundleSubscriptions(ctx, tx, bundle.ID)
		if err != nil {
			return err
		}
		if err := s.checkPlacement(ctx, product, plan, withoutSub(subs, sub.ID), effective); err != nil {
			return err
		}

		priceList := priceListOr(req.PriceListName, lastPriceList(sub))
		events := initialEvents(sub, KindRecreate, plan, priceList, effective, requested, effective, now)
		out, err = s.recordAll(ctx, tx, bundle, sub, events, now)
		return err
	})
	return out, err
}

// UpdateChargedThroughDate stores the invoicing charged-through date used by
// end-of-term policies.
func (s *service) UpdateChargedThroughDate(ctx context.Context, subscriptionID uuid.UUID, at time.Time) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.SubscriptionByID(ctx, subscriptionID); err != nil {
			return s.notFound(ctx, err, "subscription", subscriptionID)
		}
		return tx.UpdateChargedThrough(ctx, subscriptionID, at)
	})
}

// initialEvents builds the opening user event of kind and the PHASE event
// that follows it.
func initialEvents(sub *Subscription, kind Kind, plan *catalog.Plan, priceList string, align, requested, effective, now time.Time) []*Event {
	cur, next := PhaseAt(plan, align, effective)
	events := []*Event{newEvent(sub, eventDraft{
		kind:      kind,
		effective: effective,
		requested: requested,
		plan:      plan.Name,
		phase:     cur.Phase.Name,
		priceList: priceList,
	}, now)}
	if next != nil {
		events = append(events, newPhaseEvent(sub, next.Phase.Name, next.Start, requested, now))
	}
	return events
}

// recordAll records events in order, publishes the requested-change
// notification for the last one and returns the replayed subscription.
func (s *service) recordAll(ctx context.Context, tx Tx, bundle *Bundle, sub *Subscription, events []*Event, now time.Time) (*Subscription, error) {
	for _, ev := range events {
		if err := s.record(ctx, tx, bundle, ev, now); err != nil {
			return nil, err
		}
	}
	if len(events) > 0 {
		s.publish(ctx, BusEventRequested, bundle, events[len(events)-1])
	}
	return s.replayRow(ctx, tx, sub)
}

func (s *service) resolvePlan(ctx context.Context, name string, at time.Time) (*catalog.Plan, *catalog.Product, error) {
	plan, err := s.catalog.FindPlan(name, at)
	if err != nil {
		return nil, nil, s.catalogErr(ctx, err, name)
	}
	product, err := s.catalog.FindProduct(plan.Product, at)
	if err != nil {
		return nil, nil, s.catalogErr(ctx, err, name)
	}
	return plan, product, nil
}

// checkPlacement enforces one live base per bundle and add-on eligibility
// against the base's plan at at.
func (s *service) checkPlacement(ctx context.Context, product *catalog.Product, plan *catalog.Plan, subs []*Subscription, at time.Time) error {
	var base *Subscription
	for _, sub := range subs {
		if sub.Category == catalog.CategoryBase && liveAt(sub, at) {
			base = sub
			break
		}
	}

	switch product.Category {
	case catalog.CategoryBase:
		if base != nil {
			return ErrBaseSubscriptionExists
		}
	case catalog.CategoryAddOn:
		if base == nil || base.State(at) != StateActive {
			return ErrBaseSubscriptionMissing
		}
		basePlan, err := s.catalog.FindPlan(base.CurrentPlan(at), at)
		if err != nil {
			return s.catalogErr(ctx, err, base.CurrentPlan(at))
		}
		included, err := s.catalog.IsAddonIncluded(basePlan.Product, at, plan.Name)
		if err != nil {
			return s.catalogErr(ctx, err, plan.Name)
		}
		if included {
			return ErrAddonIncluded
		}
		available, err := s.catalog.IsAddonAvailable(basePlan.Product, at, plan.Name)
		if err != nil {
			return s.catalogErr(ctx, err, plan.Name)
		}
		if !available {
			return ErrAddonNotAvailable
		}
	}
	return nil
}

// liveAt reports whether sub is active or starts later, i.e. is not ended at at.
func liveAt(sub *Subscription, at time.Time) bool {
	end := sub.EndDate()
	return end == nil || end.After(at)
}

func lastPlan(sub *Subscription) string {
	for i := len(sub.transitions) - 1; i >= 0; i-- {
		if p := sub.transitions[i].PrevPlan; p != "" {
			return p
		}
	}
	return ""
}

func lastPriceList(sub *Subscription) string {
	for i := len(sub.transitions) - 1; i >= 0; i-- {
		if p := sub.transitions[i].PrevPriceList; p != "" {
			return p
		}
	}
	return DefaultPriceList
}

func priceListOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func withoutSub(subs []*Subscription, id uuid.UUID) []*Subscription {
	out := make([]*Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.ID != id {
			out = append(out, sub)
		}
	}
	return out
}
