package entitlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
)

// State is the replayed entitlement state of a subscription.
type State string

const (
	StateNone      State = "" // not started yet
	StateActive    State = "ACTIVE"
	StateCancelled State = "CANCELLED"
)

// Bundle groups one base subscription with its add-ons.
type Bundle struct {
	ID          uuid.UUID `json:"id"`
	ExternalKey string    `json:"external_key"`
	AccountID   uuid.UUID `json:"account_id"`
	StartDate   time.Time `json:"start_date"`
}

// Subscription holds the persisted subscription row together with the
// branch of events it was replayed from. Plan and phase are never stored;
// they are derived from the events on every read.
type Subscription struct {
	ID                 uuid.UUID        `json:"id"`
	BundleID           uuid.UUID        `json:"bundle_id"`
	Category           catalog.Category `json:"category"`
	StartDate          time.Time        `json:"start_date"`
	BundleStartDate    time.Time        `json:"bundle_start_date"`
	ChargedThroughDate *time.Time       `json:"charged_through_date,omitempty"`
	PaidThroughDate    *time.Time       `json:"paid_through_date,omitempty"`
	ActiveVersion      int64            `json:"active_version"`

	events      []Event
	transitions []Transition
}

// Snapshot is the state of a subscription at one point in time.
type Snapshot struct {
	SubscriptionID uuid.UUID        `json:"subscription_id"`
	BundleID       uuid.UUID        `json:"bundle_id"`
	Category       catalog.Category `json:"category"`
	StartDate      time.Time        `json:"start_date"`
	ActiveVersion  int64            `json:"active_version"`
	State          State            `json:"state"`
	PlanName       string           `json:"plan_name,omitempty"`
	PhaseName      string           `json:"phase_name,omitempty"`
	PriceListName  string           `json:"price_list_name,omitempty"`
}

// Events returns the replayed branch in replay order.
func (s *Subscription) Events() []Event {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Transitions returns every transition of the replayed branch, past and future.
func (s *Subscription) Transitions() []Transition {
	out := make([]Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// SnapshotAt folds the events effective at or before at.
func (s *Subscription) SnapshotAt(at time.Time) Snapshot {
	snap := s.emptySnapshot()
	for _, ev := range s.events {
		if ev.EffectiveDate.After(at) {
			continue
		}
		// Branch events were validated by Replay, apply cannot fail here.
		snap, _ = apply(snap, ev)
	}
	return snap
}

// State returns the entitlement state at at.
func (s *Subscription) State(at time.Time) State {
	return s.SnapshotAt(at).State
}

// CurrentPlan returns the plan name at at, empty when not active.
func (s *Subscription) CurrentPlan(at time.Time) string {
	return s.SnapshotAt(at).PlanName
}

// CurrentPhase returns the phase name at at, empty when not active.
func (s *Subscription) CurrentPhase(at time.Time) string {
	return s.SnapshotAt(at).PhaseName
}

// CurrentPriceList returns the price list at at.
func (s *Subscription) CurrentPriceList(at time.Time) string {
	return s.SnapshotAt(at).PriceListName
}

// PendingEvents returns branch events that take effect after at.
func (s *Subscription) PendingEvents(at time.Time) []Event {
	var out []Event
	for _, ev := range s.events {
		if ev.IsFuture(at) {
			out = append(out, ev)
		}
	}
	return out
}

// PendingTransition returns the first transition after at, or nil.
func (s *Subscription) PendingTransition(at time.Time) *Transition {
	for i := range s.transitions {
		if s.transitions[i].EffectiveDate.After(at) {
			tr := s.transitions[i]
			return &tr
		}
	}
	return nil
}

// PreviousTransition returns the last transition at or before at, or nil.
func (s *Subscription) PreviousTransition(at time.Time) *Transition {
	var last *Transition
	for i := range s.transitions {
		if s.transitions[i].EffectiveDate.After(at) {
			continue
		}
		tr := s.transitions[i]
		last = &tr
	}
	return last
}

// IsFutureCancelled reports whether a cancellation is pending after at.
func (s *Subscription) IsFutureCancelled(at time.Time) bool {
	for _, ev := range s.events {
		if ev.IsFuture(at) && ev.Is(KindCancel) {
			return true
		}
	}
	return false
}

// EndDate returns the effective date of the cancellation that ends the
// branch, or nil when the subscription ends active.
func (s *Subscription) EndDate() *time.Time {
	var end *time.Time
	for _, tr := range s.transitions {
		switch {
		case tr.NextState != StateCancelled:
			end = nil
		case tr.PrevState != StateCancelled:
			at := tr.EffectiveDate
			end = &at
		}
	}
	return end
}

// AlignmentStart returns the date plan phases are timed from.
func (s *Subscription) AlignmentStart(alignment catalog.Alignment) time.Time {
	if s.Category == catalog.CategoryAddOn && alignment == catalog.AlignStartOfBundle && !s.BundleStartDate.IsZero() {
		return s.BundleStartDate
	}
	return s.StartDate
}

func (s *Subscription) emptySnapshot() Snapshot {
	return Snapshot{
		SubscriptionID: s.ID,
		BundleID:       s.BundleID,
		Category:       s.Category,
		StartDate:      s.StartDate,
		ActiveVersion:  s.ActiveVersion,
	}
}

// row returns a copy of the persisted fields only.
func (s *Subscription) row() Subscription {
	return Subscription{
		ID:                 s.ID,
		BundleID:           s.BundleID,
		Category:           s.Category,
		StartDate:          s.StartDate,
		BundleStartDate:    s.BundleStartDate,
		ChargedThroughDate: s.ChargedThroughDate,
		PaidThroughDate:    s.PaidThroughDate,
		ActiveVersion:      s.ActiveVersion,
	}
}

// phaseAlignment is AlignmentStart adjusted for recreation: a RE_CREATE
// effective at or before at restarts phase timing from its effective date.
func (s *Subscription) phaseAlignment(alignment catalog.Alignment, at time.Time) time.Time {
	start := s.AlignmentStart(alignment)
	for _, ev := range s.events {
		if ev.Is(KindRecreate) && !ev.EffectiveDate.After(at) {
			start = ev.EffectiveDate
		}
	}
	return start
}
