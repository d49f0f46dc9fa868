package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationKey is the opaque payload registered with the scheduler for a
// future event. ProcessNotification receives it back when the event is due.
type NotificationKey struct {
	EventID        uuid.UUID `json:"event_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
}

// Scheduler registers a callback for a future event, in the caller's transaction.
type Scheduler interface {
	ScheduleAt(ctx context.Context, at time.Time, key NotificationKey) error
}

// Bus publishes entitlement notifications at least once.
type Bus interface {
	Publish(ctx context.Context, ev BusEvent) error
}

// BusEventKind tells consumers how to treat a bus event.
type BusEventKind string

const (
	// BusEventEffective is published when an event becomes effective.
	BusEventEffective BusEventKind = "effective"
	// BusEventRequested is published for the last event an operation wrote.
	BusEventRequested BusEventKind = "requested"
	// BusEventRepair asks consumers to rebuild the subscription rather than append.
	BusEventRepair BusEventKind = "repair"
)

// BusEvent is the message carried on the bus.
type BusEvent struct {
	Kind           BusEventKind `json:"kind"`
	EventID        uuid.UUID    `json:"event_id"`
	SubscriptionID uuid.UUID    `json:"subscription_id"`
	BundleID       uuid.UUID    `json:"bundle_id"`
	AccountID      uuid.UUID    `json:"account_id"`
	Type           EventType    `json:"type"`
	UserType       UserType     `json:"user_type,omitempty"`
	EffectiveDate  time.Time    `json:"effective_date"`
	RequestedDate  time.Time    `json:"requested_date"`
	PlanName       string       `json:"plan_name,omitempty"`
	PhaseName      string       `json:"phase_name,omitempty"`
	PriceListName  string       `json:"price_list_name,omitempty"`
	ActiveVersion  int64        `json:"active_version"`
	TotalOrdering  int64        `json:"total_ordering"`
}

func newBusEvent(kind BusEventKind, bundle *Bundle, ev *Event) BusEvent {
	return BusEvent{
		Kind:           kind,
		EventID:        ev.ID,
		SubscriptionID: ev.SubscriptionID,
		BundleID:       bundle.ID,
		AccountID:      bundle.AccountID,
		Type:           ev.Type,
		UserType:       ev.UserType,
		EffectiveDate:  ev.EffectiveDate,
		RequestedDate:  ev.RequestedDate,
		PlanName:       ev.PlanName,
		PhaseName:      ev.PhaseName,
		PriceListName:  ev.PriceListName,
		ActiveVersion:  ev.ActiveVersion,
		TotalOrdering:  ev.TotalOrdering,
	}
}
