package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the top-level discriminator of an entitlement event.
type EventType string

const (
	EventTypeAPIUser EventType = "API_USER"
	EventTypePhase   EventType = "PHASE"
)

// UserType is the sub-kind of an API_USER event.
type UserType string

const (
	UserTypeCreate             UserType = "CREATE"
	UserTypeRecreate           UserType = "RE_CREATE"
	UserTypeChange             UserType = "CHANGE"
	UserTypeCancel             UserType = "CANCEL"
	UserTypeUncancel           UserType = "UNCANCEL"
	UserTypeMigrateEntitlement UserType = "MIGRATE_ENTITLEMENT"
	UserTypeMigrateBilling     UserType = "MIGRATE_BILLING"
	UserTypeTransfer           UserType = "TRANSFER"
)

// Event is an immutable entitlement fact. Only Active and ActiveVersion
// change after the event is written: Active when it is superseded,
// ActiveVersion when a repair carries it to a new branch.
type Event struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Type           EventType `json:"type"`
	UserType       UserType  `json:"user_type,omitempty"` // empty for PHASE events
	EffectiveDate  time.Time `json:"effective_date"`
	RequestedDate  time.Time `json:"requested_date"`
	ProcessedDate  time.Time `json:"processed_date"`
	PlanName       string    `json:"plan_name,omitempty"`
	PhaseName      string    `json:"phase_name,omitempty"`
	PriceListName  string    `json:"price_list_name,omitempty"`
	ActiveVersion  int64     `json:"active_version"`
	Active         bool      `json:"active"`
	TotalOrdering  int64     `json:"total_ordering"`
}

// Kind identifies the (Type, UserType) pair the one-pending-event rule is keyed on.
type Kind struct {
	Type     EventType
	UserType UserType
}

var (
	KindCreate         = Kind{EventTypeAPIUser, UserTypeCreate}
	KindRecreate       = Kind{EventTypeAPIUser, UserTypeRecreate}
	KindChange         = Kind{EventTypeAPIUser, UserTypeChange}
	KindCancel         = Kind{EventTypeAPIUser, UserTypeCancel}
	KindUncancel       = Kind{EventTypeAPIUser, UserTypeUncancel}
	KindMigrateBilling = Kind{EventTypeAPIUser, UserTypeMigrateBilling}
	KindTransfer       = Kind{EventTypeAPIUser, UserTypeTransfer}
	KindPhase          = Kind{Type: EventTypePhase}
)

func (k Kind) String() string {
	if k.Type == EventTypePhase {
		return string(EventTypePhase)
	}
	return string(k.Type) + "/" + string(k.UserType)
}

// Kind returns the event's kind.
func (e Event) Kind() Kind {
	if e.Type == EventTypePhase {
		return KindPhase
	}
	return Kind{Type: e.Type, UserType: e.UserType}
}

// Is reports whether the event is of kind k.
func (e Event) Is(k Kind) bool {
	return e.Kind() == k
}

// IsFuture reports whether the event takes effect after now.
func (e Event) IsFuture(now time.Time) bool {
	return e.EffectiveDate.After(now)
}

// eventDraft collects the fields of a new event before it is stamped
// with an id, version and timestamps.
type eventDraft struct {
	kind      Kind
	effective time.Time
	requested time.Time
	plan      string
	phase     string
	priceList string
}

func newEvent(sub *Subscription, d eventDraft, now time.Time) *Event {
	return &Event{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Type:           d.kind.Type,
		UserType:       d.kind.UserType,
		EffectiveDate:  d.effective,
		RequestedDate:  d.requested,
		ProcessedDate:  now,
		PlanName:       d.plan,
		PhaseName:      d.phase,
		PriceListName:  d.priceList,
		ActiveVersion:  sub.ActiveVersion,
		Active:         true,
	}
}

func newPhaseEvent(sub *Subscription, phase string, effective, requested, now time.Time) *Event {
	return newEvent(sub, eventDraft{
		kind:      KindPhase,
		effective: effective,
		requested: requested,
		phase:     phase,
	}, now)
}
