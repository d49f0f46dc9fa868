package entitlement

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"time"
)

// Replay rebuilds sub from its event log. Only active events of the
// subscription's active version take part, folded in total ordering.
//
// Replay is pure. An empty branch returns (nil, nil): the subscription does
// not exist yet, which callers must treat as absence rather than a fault.
func Replay(sub *Subscription, events []Event) (*Subscription, error) {
	branch := activeBranch(events, sub.ActiveVersion)
	if len(branch) == 0 {
		return nil, nil
	}
	SortEvents(branch)

	out := sub.row()
	snap := out.emptySnapshot()
	for _, ev := range branch {
		next, err := apply(snap, ev)
		if err != nil {
			return nil, err
		}
		out.transitions = append(out.transitions, newTransition(ev, snap, next))
		snap = next
	}
	out.events = branch

	return &out, nil
}

// ReplayAt returns the state of sub as of at, or nil when the branch is empty.
func ReplayAt(sub *Subscription, events []Event, at time.Time) (*Snapshot, error) {
	replayed, err := Replay(sub, events)
	if err != nil || replayed == nil {
		return nil, err
	}
	snap := replayed.SnapshotAt(at)
	return &snap, nil
}

// SortEvents orders events by total ordering, breaking ties by effective
// date and then id so the result never depends on input order.
func SortEvents(events []Event) {
	slices.SortStableFunc(events, func(a, b Event) int {
		if c := cmp.Compare(a.TotalOrdering, b.TotalOrdering); c != 0 {
			return c
		}
		if c := a.EffectiveDate.Compare(b.EffectiveDate); c != 0 {
			return c
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
}

func activeBranch(events []Event, version int64) []Event {
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.Active && ev.ActiveVersion == version {
			out = append(out, ev)
		}
	}
	return out
}

// apply folds one event into the snapshot.
func apply(s Snapshot, ev Event) (Snapshot, error) {
	switch ev.Type {
	case EventTypePhase:
		if s.State != StateCancelled {
			s.PhaseName = ev.PhaseName
		}
		return s, nil

	case EventTypeAPIUser:
		switch ev.UserType {
		case UserTypeCreate, UserTypeRecreate, UserTypeMigrateEntitlement, UserTypeTransfer:
			s.State = StateActive
			s.PlanName, s.PhaseName, s.PriceListName = ev.PlanName, ev.PhaseName, ev.PriceListName
		case UserTypeChange:
			s.PlanName, s.PhaseName, s.PriceListName = ev.PlanName, ev.PhaseName, ev.PriceListName
		case UserTypeMigrateBilling:
			if s.State != StateCancelled {
				s.PlanName, s.PhaseName, s.PriceListName = ev.PlanName, ev.PhaseName, ev.PriceListName
			}
		case UserTypeCancel:
			s.State = StateCancelled
			s.PlanName, s.PhaseName = "", ""
		case UserTypeUncancel:
			// Handled at write time by unactivating the pending cancel.
		default:
			return s, &InvariantError{
				SubscriptionID: ev.SubscriptionID,
				Reason:         fmt.Sprintf("unsupported user type %q on event %s", ev.UserType, ev.ID),
			}
		}
		return s, nil
	}

	return s, &InvariantError{
		SubscriptionID: ev.SubscriptionID,
		Reason:         fmt.Sprintf("unsupported event type %q on event %s", ev.Type, ev.ID),
	}
}
