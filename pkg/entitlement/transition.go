package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// Transition is the state change produced by folding one event.
type Transition struct {
	EventID       uuid.UUID `json:"event_id"`
	Type          EventType `json:"type"`
	UserType      UserType  `json:"user_type,omitempty"`
	EffectiveDate time.Time `json:"effective_date"`
	RequestedDate time.Time `json:"requested_date"`
	TotalOrdering int64     `json:"total_ordering"`

	PrevState     State  `json:"prev_state"`
	NextState     State  `json:"next_state"`
	PrevPlan      string `json:"prev_plan,omitempty"`
	NextPlan      string `json:"next_plan,omitempty"`
	PrevPhase     string `json:"prev_phase,omitempty"`
	NextPhase     string `json:"next_phase,omitempty"`
	PrevPriceList string `json:"prev_price_list,omitempty"`
	NextPriceList string `json:"next_price_list,omitempty"`
}

func newTransition(ev Event, prev, next Snapshot) Transition {
	return Transition{
		EventID:       ev.ID,
		Type:          ev.Type,
		UserType:      ev.UserType,
		EffectiveDate: ev.EffectiveDate,
		RequestedDate: ev.RequestedDate,
		TotalOrdering: ev.TotalOrdering,
		PrevState:     prev.State,
		NextState:     next.State,
		PrevPlan:      prev.PlanName,
		NextPlan:      next.PlanName,
		PrevPhase:     prev.PhaseName,
		NextPhase:     next.PhaseName,
		PrevPriceList: prev.PriceListName,
		NextPriceList: next.PriceListName,
	}
}

// BusinessSubscriptionTransition is the reporting view of one transition.
// Prev is nil for a creation and Next is nil for a cancellation.
type BusinessSubscriptionTransition struct {
	EventID       uuid.UUID `json:"event_id"`
	Type          EventType `json:"type"`
	UserType      UserType  `json:"user_type,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
	EffectiveAt   time.Time `json:"effective_at"`
	TotalOrdering int64     `json:"total_ordering"`
	Prev          *Snapshot `json:"prev,omitempty"`
	Next          *Snapshot `json:"next,omitempty"`
}

// Business converts the transition into its reporting form for sub.
func (t Transition) Business(sub *Subscription) BusinessSubscriptionTransition {
	bst := BusinessSubscriptionTransition{
		EventID:       t.EventID,
		Type:          t.Type,
		UserType:      t.UserType,
		RequestedAt:   t.RequestedDate,
		EffectiveAt:   t.EffectiveDate,
		TotalOrdering: t.TotalOrdering,
	}

	base := sub.emptySnapshot()
	if t.PrevState != StateNone && t.PrevState != StateCancelled {
		prev := base
		prev.State = t.PrevState
		prev.PlanName = t.PrevPlan
		prev.PhaseName = t.PrevPhase
		prev.PriceListName = t.PrevPriceList
		bst.Prev = &prev
	}
	if t.NextState != StateCancelled {
		next := base
		next.State = t.NextState
		next.PlanName = t.NextPlan
		next.PhaseName = t.NextPhase
		next.PriceListName = t.NextPriceList
		bst.Next = &next
	}

	return bst
}

// BusinessTransitions returns the reporting view of every transition of sub.
func BusinessTransitions(sub *Subscription) []BusinessSubscriptionTransition {
	out := make([]BusinessSubscriptionTransition, 0, len(sub.transitions))
	for _, t := range sub.transitions {
		out = append(out, t.Business(sub))
	}
	return out
}
