package entitlement

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
)

// SortBundle orders subscriptions base first, then add-ons by start date.
// Ties are broken by id so the order is deterministic.
func SortBundle(subs []*Subscription) {
	slices.SortStableFunc(subs, func(a, b *Subscription) int {
		aBase, bBase := a.Category == catalog.CategoryBase, b.Category == catalog.CategoryBase
		if aBase != bBase {
			if aBase {
				return -1
			}
			return 1
		}
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
}

// AssembleBundle applies add-on inference to a bundle's replayed
// subscriptions. The base is processed first so its pending CANCEL or CHANGE
// is known before any add-on. The result is in the same order as subs.
func AssembleBundle(cat Catalog, subs []*Subscription, now time.Time) ([]*Subscription, error) {
	ordered := slices.Clone(subs)
	SortBundle(ordered)

	var futureBase *Event
	byID := make(map[uuid.UUID]*Subscription, len(ordered))
	for _, sub := range ordered {
		switch sub.Category {
		case catalog.CategoryBase:
			futureBase = FutureBaseEvent(sub, now)
			byID[sub.ID] = sub
		case catalog.CategoryAddOn:
			inferred, err := withAddonInference(cat, futureBase, sub, now)
			if err != nil {
				return nil, err
			}
			byID[sub.ID] = inferred
		default:
			byID[sub.ID] = sub
		}
	}

	out := make([]*Subscription, len(subs))
	for i, sub := range subs {
		out[i] = byID[sub.ID]
	}
	return out, nil
}

// Assemble returns the bundle's subscriptions, base first, with add-ons
// reflecting the base's pending cancellation or plan change.
func (s *service) Assemble(ctx context.Context, bundleID uuid.UUID) ([]*Subscription, error) {
	var out []*Subscription
	err := s.store.InReadTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := s.loadBundle(ctx, tx, bundleID); err != nil {
			return err
		}
		subs, err := s.loadBundleSubscriptions(ctx, tx, bundleID)
		if err != nil {
			return err
		}
		out, err = AssembleBundle(s.catalog, subs, s.clock.Now())
		return err
	})
	return out, err
}
