package entitlement

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
)

// DefaultPriceList is used when a request does not name a price list.
const DefaultPriceList = "DEFAULT"

// CreateBundleRequest opens a new bundle for an account.
type CreateBundleRequest struct {
	AccountID   uuid.UUID
	ExternalKey string
	StartDate   time.Time // zero means now
}

// CreateRequest creates a subscription in an existing bundle. The plan's
// product category decides whether it is the base or an add-on.
type CreateRequest struct {
	BundleID      uuid.UUID
	PlanName      string
	PriceListName string
	RequestedDate time.Time // zero means now
	EffectiveDate time.Time // zero means RequestedDate
}

// RecreateRequest restarts a cancelled subscription.
type RecreateRequest struct {
	SubscriptionID uuid.UUID
	PlanName       string // empty keeps the plan the subscription was cancelled on
	PriceListName  string
	RequestedDate  time.Time
	EffectiveDate  time.Time
}

// CancelRequest cancels a subscription.
type CancelRequest struct {
	SubscriptionID uuid.UUID
	RequestedDate  time.Time
	// Policy overrides the catalog cancel policy when set.
	Policy catalog.Policy
	// EventID makes retries idempotent: a repeated request with an id that
	// already exists in the log is a no-op. The id must belong to a CANCEL
	// of the same subscription, otherwise ErrEventConflict is returned.
	EventID uuid.UUID
}

// ChangePlanRequest moves a subscription to another plan.
type ChangePlanRequest struct {
	SubscriptionID uuid.UUID
	PlanName       string
	PriceListName  string // empty keeps the current price list
	RequestedDate  time.Time
	// Policy overrides the catalog change policy when set.
	Policy catalog.Policy
}

// EventInput describes an event supplied by an administrative caller
// (migration or repair). Ids, versions and ordering are assigned on write.
type EventInput struct {
	Type          EventType
	UserType      UserType
	EffectiveDate time.Time
	RequestedDate time.Time
	PlanName      string
	PhaseName     string
	PriceListName string
}

// MigrateRequest imports bundles with their full event history.
type MigrateRequest struct {
	AccountID uuid.UUID
	Bundles   []MigrationBundle
}

// MigrationBundle is one bundle of a migration.
type MigrationBundle struct {
	ExternalKey   string
	StartDate     time.Time
	Subscriptions []MigrationSubscription
}

// MigrationSubscription is one subscription of a migrated bundle.
type MigrationSubscription struct {
	Category           catalog.Category
	StartDate          time.Time
	ChargedThroughDate *time.Time
	Events             []EventInput
}

// RepairRequest rewrites the event history of subscriptions in one bundle.
type RepairRequest struct {
	BundleID      uuid.UUID
	Subscriptions []SubscriptionRepair
	// DryRun computes the repaired subscriptions without writing anything.
	DryRun bool
}

// SubscriptionRepair replaces the branch at FromVersion with the kept
// events plus NewEvents, at FromVersion+1.
type SubscriptionRepair struct {
	SubscriptionID uuid.UUID
	FromVersion    int64
	KeptEventIDs   []uuid.UUID
	NewEvents      []EventInput
}

// RepairResult reports the repaired subscriptions.
type RepairResult struct {
	Subscriptions []*Subscription
	// Applied is false for a dry run and when every subscription was
	// already at the target version.
	Applied bool
}

// TransferRequest moves a bundle to another account.
type TransferRequest struct {
	SourceAccountID      uuid.UUID
	ExternalKey          string
	DestinationAccountID uuid.UUID
	RequestedDate        time.Time
	EffectiveDate        time.Time // zero means RequestedDate
}

func (in EventInput) event(sub *Subscription, now time.Time) *Event {
	kind := Kind{Type: in.Type, UserType: in.UserType}
	if in.Type == EventTypePhase {
		kind = KindPhase
	}
	return newEvent(sub, eventDraft{
		kind:      kind,
		effective: in.EffectiveDate,
		requested: orNow(in.RequestedDate, in.EffectiveDate),
		plan:      in.PlanName,
		phase:     in.PhaseName,
		priceList: in.PriceListName,
	}, now)
}
