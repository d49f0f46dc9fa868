package entitlement

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// FutureBaseEvent returns the nearest pending CANCEL or CHANGE of a base
// subscription, or nil when there is none.
func FutureBaseEvent(base *Subscription, now time.Time) *Event {
	if base == nil {
		return nil
	}
	var found *Event
	for _, ev := range base.PendingEvents(now) {
		if !ev.Is(KindCancel) && !ev.Is(KindChange) {
			continue
		}
		if found == nil || ev.EffectiveDate.Before(found.EffectiveDate) {
			e := ev
			found = &e
		}
	}
	return found
}

// InferAddonCancel decides whether addon must end together with the base
// subscription's future event. It returns the synthetic CANCEL to inject,
// or nil when the add-on survives.
//
// The add-on is cancelled when the base event is itself a cancellation, or
// when the add-on's current plan is either unavailable or already included
// under the product the base moves to.
func InferAddonCancel(cat Catalog, futureBase *Event, addon *Subscription, now time.Time) (*Event, error) {
	if futureBase == nil || addon == nil {
		return nil, nil
	}

	snap := addon.SnapshotAt(now)
	if snap.State != StateActive {
		return nil, nil
	}
	for _, ev := range addon.PendingEvents(now) {
		if ev.Is(KindCancel) && !ev.EffectiveDate.After(futureBase.EffectiveDate) {
			return nil, nil
		}
	}

	cancel, err := mustCancelAddon(cat, futureBase, snap.PlanName)
	if err != nil || !cancel {
		return nil, err
	}

	return &Event{
		ID:             uuid.New(),
		SubscriptionID: addon.ID,
		Type:           EventTypeAPIUser,
		UserType:       UserTypeCancel,
		EffectiveDate:  futureBase.EffectiveDate,
		RequestedDate:  futureBase.RequestedDate,
		ProcessedDate:  now,
		ActiveVersion:  addon.ActiveVersion,
		Active:         true,
		TotalOrdering:  math.MaxInt64,
	}, nil
}

func mustCancelAddon(cat Catalog, futureBase *Event, addonPlan string) (bool, error) {
	if futureBase.Is(KindCancel) {
		return true, nil
	}

	at := futureBase.EffectiveDate
	basePlan, err := cat.FindPlan(futureBase.PlanName, at)
	if err != nil {
		return false, errors.Join(ErrCatalogLookup, err)
	}

	available, err := cat.IsAddonAvailable(basePlan.Product, at, addonPlan)
	if err != nil {
		return false, errors.Join(ErrCatalogLookup, err)
	}
	if !available {
		return true, nil
	}

	included, err := cat.IsAddonIncluded(basePlan.Product, at, addonPlan)
	if err != nil {
		return false, errors.Join(ErrCatalogLookup, err)
	}
	return included, nil
}

// withAddonInference re-replays addon with the inferred cancellation, if any.
func withAddonInference(cat Catalog, futureBase *Event, addon *Subscription, now time.Time) (*Subscription, error) {
	synthetic, err := InferAddonCancel(cat, futureBase, addon, now)
	if err != nil || synthetic == nil {
		return addon, err
	}
	events := append(addon.Events(), *synthetic)
	return Replay(addon, events)
}
