package entitlement

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Transfer moves a bundle to another account. Every subscription active at
// the effective date is cancelled in the source bundle and restarted in a new
// bundle with the same external key under the destination account. Phases
// of the new subscriptions stay aligned with the originals.
func (s *service) Transfer(ctx context.Context, req TransferRequest) (_ *Bundle, err error) {
	ctx, end := s.begin(ctx, OpTransfer,
		attribute.String("account.id", req.SourceAccountID.String()),
		attribute.String("destination.account.id", req.DestinationAccountID.String()))
	defer func() { end(&err) }()

	now := s.clock.Now()
	requested := orNow(req.RequestedDate, now)
	effective := orNow(req.EffectiveDate, requested)

	var dest *Bundle
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		source, err := tx.BundleByKey(ctx, req.SourceAccountID, req.ExternalKey)
		if err != nil {
			return s.notFound(ctx, err, "bundle", req.SourceAccountID)
		}
		switch _, err := tx.BundleByKey(ctx, req.DestinationAccountID, req.ExternalKey); {
		case err == nil:
			return ErrBundleExists
		case !errors.Is(err, ErrBundleNotFound):
			return err
		}

		subs, err := s.loadBundleSubscriptions(ctx, tx, source.ID)
		if err != nil {
			return err
		}
		subs = slices.DeleteFunc(subs, func(sub *Subscription) bool {
			return sub.State(effective) != StateActive
		})
		if !slices.ContainsFunc(subs, func(sub *Subscription) bool { return sub.Category == catalog.CategoryBase }) {
			return ErrBaseSubscriptionMissing
		}

		dest = &Bundle{
			ID:          uuid.New(),
			ExternalKey: source.ExternalKey,
			AccountID:   req.DestinationAccountID,
			StartDate:   effective,
		}
		if err := tx.CreateBundle(ctx, dest); err != nil {
			return err
		}

		for _, sub := range subs {
			if err := guard(ctx, sub, OpTransfer, now); err != nil {
				return err
			}
			if err := s.transferSubscription(ctx, tx, source, dest, sub, requested, effective); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "bundle transferred",
		logger.AccountID(req.SourceAccountID),
		logger.ExternalKey(req.ExternalKey),
		logger.BundleID(dest.ID))
	return dest, nil
}

func (s *service) transferSubscription(ctx context.Context, tx Tx, source, dest *Bundle, sub *Subscription, requested, effective time.Time) error {
	now := s.clock.Now()
	snap := sub.SnapshotAt(effective)

	plan, err := s.planFor(snap.PlanName, effective, sub.StartDate)
	if err != nil {
		return s.catalogErr(ctx, err, snap.PlanName)
	}
	align := sub.phaseAlignment(s.catalog.PlanAlignment(effective), effective)

	cancel, err := s.cancelEvent(ctx, tx, sub, requested, effective, now)
	if err != nil {
		return err
	}
	if err := s.record(ctx, tx, source, cancel, now); err != nil {
		return err
	}
	s.publish(ctx, BusEventRequested, source, cancel)

	moved := &Subscription{
		ID:                 uuid.New(),
		BundleID:           dest.ID,
		Category:           sub.Category,
		StartDate:          sub.StartDate,
		BundleStartDate:    sub.BundleStartDate,
		ChargedThroughDate: sub.ChargedThroughDate,
		ActiveVersion:      1,
	}
	if err := tx.CreateSubscription(ctx, moved); err != nil {
		return err
	}

	cur, next := PhaseAt(plan, align, effective)
	events := []*Event{newEvent(moved, eventDraft{
		kind:      KindTransfer,
		effective: effective,
		requested: requested,
		plan:      plan.Name,
		phase:     cur.Phase.Name,
		priceList: snap.PriceListName,
	}, now)}
	if next != nil {
		events = append(events, newPhaseEvent(moved, next.Phase.Name, next.Start, requested, now))
	}
	_, err = s.recordAll(ctx, tx, dest, moved, events, now)
	return err
}
