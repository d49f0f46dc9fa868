package entitlement

import (
	"time"

	"github.com/dmitrymomot/billingkit/pkg/catalog"
)

// Catalog is the plan lookup surface the engine consumes.
// *catalog.Catalog satisfies it.
type Catalog interface {
	FindPlan(name string, at time.Time) (*catalog.Plan, error)
	FindPhase(name string, at, subscriptionStart time.Time) (*catalog.Phase, error)
	FindProduct(name string, at time.Time) (*catalog.Product, error)
	IsAddonAvailable(baseProduct string, at time.Time, addonPlan string) (bool, error)
	IsAddonIncluded(baseProduct string, at time.Time, addonPlan string) (bool, error)
	CancelPolicy(at time.Time) catalog.Policy
	ChangePolicy(at time.Time) catalog.Policy
	PlanAlignment(at time.Time) catalog.Alignment
}
