package catalog

import (
	"slices"
	"time"
)

// Category classifies a product inside a bundle.
type Category string

const (
	CategoryBase       Category = "BASE"
	CategoryAddOn      Category = "ADD_ON"
	CategoryStandalone Category = "STANDALONE"
)

// PhaseType describes the commercial nature of a plan phase.
type PhaseType string

const (
	PhaseTypeTrial     PhaseType = "TRIAL"
	PhaseTypeDiscount  PhaseType = "DISCOUNT"
	PhaseTypeFixedTerm PhaseType = "FIXEDTERM"
	PhaseTypeEvergreen PhaseType = "EVERGREEN"
)

// BillingPeriod is the recurring billing interval of a plan.
type BillingPeriod string

const (
	BillingPeriodNone      BillingPeriod = "NO_BILLING_PERIOD"
	BillingPeriodMonthly   BillingPeriod = "MONTHLY"
	BillingPeriodAnnual    BillingPeriod = "ANNUAL"
	BillingPeriodQuarterly BillingPeriod = "QUARTERLY"
)

// Policy decides when a requested cancel or plan change takes effect.
type Policy string

const (
	PolicyImmediate Policy = "IMMEDIATE"
	PolicyEndOfTerm Policy = "END_OF_TERM"
)

// Alignment decides which date plan phases are timed from.
type Alignment string

const (
	AlignStartOfSubscription Alignment = "START_OF_SUBSCRIPTION"
	AlignStartOfBundle       Alignment = "START_OF_BUNDLE"
)

// Product groups plans and declares which add-ons can be attached to it.
type Product struct {
	Name      string   `yaml:"name"`
	Category  Category `yaml:"category"`
	Available []string `yaml:"available"` // add-on product names allowed under this product
	Included  []string `yaml:"included"`  // add-on product names already bundled into this product
}

// Phase is one timed step of a plan (trial, discount, evergreen...).
type Phase struct {
	Name     string    `yaml:"name"`
	Type     PhaseType `yaml:"type"`
	Duration Duration  `yaml:"duration"`
}

// Plan is a purchasable offering of a product.
type Plan struct {
	Name          string        `yaml:"name"`
	Product       string        `yaml:"product"`
	BillingPeriod BillingPeriod `yaml:"billing_period"`
	Phases        []Phase       `yaml:"phases"`
}

// FindPhase returns the phase with the given name.
func (p *Plan) FindPhase(name string) (*Phase, bool) {
	i := slices.IndexFunc(p.Phases, func(ph Phase) bool { return ph.Name == name })
	if i < 0 {
		return nil, false
	}
	return &p.Phases[i], true
}

// PriceList names the plans that can be bought under it.
type PriceList struct {
	Name  string   `yaml:"name"`
	Plans []string `yaml:"plans"`
}

// Rules holds catalog-wide policies.
type Rules struct {
	CancelPolicy  Policy    `yaml:"cancel_policy"`
	ChangePolicy  Policy    `yaml:"change_policy"`
	PlanAlignment Alignment `yaml:"plan_alignment"`
}

// Version is a catalog snapshot effective from EffectiveDate until the next version.
type Version struct {
	EffectiveDate time.Time   `yaml:"effective_date"`
	Products      []Product   `yaml:"products"`
	Plans         []Plan      `yaml:"plans"`
	PriceLists    []PriceList `yaml:"price_lists"`
	Rules         Rules       `yaml:"rules"`

	products map[string]*Product
	plans    map[string]*Plan
	phases   map[string]*Plan
}
