package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Catalog is an immutable, effective-dated set of catalog versions.
// Lookups resolve against the latest version whose EffectiveDate is not after the lookup date.
// Safe for concurrent use once built.
type Catalog struct {
	name     string
	versions []*Version
}

// New validates the versions and builds their lookup indexes.
func New(name string, versions ...Version) (*Catalog, error) {
	if len(versions) == 0 {
		return nil, errors.Join(ErrInvalidCatalog, errors.New("at least one version is required"))
	}

	c := &Catalog{name: name}
	for i := range versions {
		v := versions[i]
		if err := v.index(); err != nil {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("version %s: %w", v.EffectiveDate.Format(time.DateOnly), err))
		}
		c.versions = append(c.versions, &v)
	}

	slices.SortStableFunc(c.versions, func(a, b *Version) int {
		return a.EffectiveDate.Compare(b.EffectiveDate)
	})

	return c, nil
}

// Name returns the catalog name.
func (c *Catalog) Name() string {
	return c.name
}

// Versions returns the effective dates of all versions, oldest first.
func (c *Catalog) Versions() []time.Time {
	out := make([]time.Time, 0, len(c.versions))
	for _, v := range c.versions {
		out = append(out, v.EffectiveDate)
	}
	return out
}

// FindPlan returns the plan named name in the version effective at at.
func (c *Catalog) FindPlan(name string, at time.Time) (*Plan, error) {
	v, err := c.versionAt(at)
	if err != nil {
		return nil, err
	}
	p, ok := v.plans[name]
	if !ok {
		return nil, notFound(ErrPlanNotFound, name, at)
	}
	return p, nil
}

// FindPhase returns the named phase as of at.
// Subscriptions on plans retired after their start date keep resolving
// against the version that was effective at subscriptionStart.
func (c *Catalog) FindPhase(name string, at, subscriptionStart time.Time) (*Phase, error) {
	for _, t := range []time.Time{at, subscriptionStart} {
		v, err := c.versionAt(t)
		if err != nil {
			continue
		}
		if plan, ok := v.phases[name]; ok {
			ph, _ := plan.FindPhase(name)
			return ph, nil
		}
	}
	return nil, notFound(ErrPhaseNotFound, name, at)
}

// FindProduct returns the product named name as of at.
func (c *Catalog) FindProduct(name string, at time.Time) (*Product, error) {
	v, err := c.versionAt(at)
	if err != nil {
		return nil, err
	}
	p, ok := v.products[name]
	if !ok {
		return nil, notFound(ErrProductNotFound, name, at)
	}
	return p, nil
}

// FindPriceList returns the price list named name as of at.
func (c *Catalog) FindPriceList(name string, at time.Time) (*PriceList, error) {
	v, err := c.versionAt(at)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(v.PriceLists, func(pl PriceList) bool { return pl.Name == name })
	if i < 0 {
		return nil, notFound(ErrPriceListNotFound, name, at)
	}
	return &v.PriceLists[i], nil
}

// IsAddonAvailable reports whether addonPlan can be attached to baseProduct as of at.
func (c *Catalog) IsAddonAvailable(baseProduct string, at time.Time, addonPlan string) (bool, error) {
	base, addon, err := c.addonPair(baseProduct, at, addonPlan)
	if err != nil {
		return false, err
	}
	return slices.Contains(base.Available, addon.Name), nil
}

// IsAddonIncluded reports whether addonPlan is already bundled into baseProduct as of at.
func (c *Catalog) IsAddonIncluded(baseProduct string, at time.Time, addonPlan string) (bool, error) {
	base, addon, err := c.addonPair(baseProduct, at, addonPlan)
	if err != nil {
		return false, err
	}
	return slices.Contains(base.Included, addon.Name), nil
}

// CancelPolicy returns the cancel policy effective at at.
func (c *Catalog) CancelPolicy(at time.Time) Policy {
	v, err := c.versionAt(at)
	if err != nil || v.Rules.CancelPolicy == "" {
		return PolicyImmediate
	}
	return v.Rules.CancelPolicy
}

// ChangePolicy returns the plan change policy effective at at.
func (c *Catalog) ChangePolicy(at time.Time) Policy {
	v, err := c.versionAt(at)
	if err != nil || v.Rules.ChangePolicy == "" {
		return PolicyImmediate
	}
	return v.Rules.ChangePolicy
}

// PlanAlignment returns the phase alignment rule effective at at.
func (c *Catalog) PlanAlignment(at time.Time) Alignment {
	v, err := c.versionAt(at)
	if err != nil || v.Rules.PlanAlignment == "" {
		return AlignStartOfSubscription
	}
	return v.Rules.PlanAlignment
}

func (c *Catalog) addonPair(baseProduct string, at time.Time, addonPlan string) (*Product, *Product, error) {
	base, err := c.FindProduct(baseProduct, at)
	if err != nil {
		return nil, nil, err
	}
	plan, err := c.FindPlan(addonPlan, at)
	if err != nil {
		return nil, nil, err
	}
	addon, err := c.FindProduct(plan.Product, at)
	if err != nil {
		return nil, nil, err
	}
	return base, addon, nil
}

func (c *Catalog) versionAt(at time.Time) (*Version, error) {
	i, found := slices.BinarySearchFunc(c.versions, at, func(v *Version, t time.Time) int {
		return v.EffectiveDate.Compare(t)
	})
	if found {
		return c.versions[i], nil
	}
	if i == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoVersion, at.Format(time.RFC3339))
	}
	return c.versions[i-1], nil
}

func (v *Version) index() error {
	v.Products = slices.Clone(v.Products)
	v.Plans = slices.Clone(v.Plans)
	for i := range v.Plans {
		v.Plans[i].Phases = slices.Clone(v.Plans[i].Phases)
	}

	v.products = make(map[string]*Product, len(v.Products))
	v.plans = make(map[string]*Plan, len(v.Plans))
	v.phases = make(map[string]*Plan)

	for i := range v.Products {
		p := &v.Products[i]
		if p.Name == "" {
			return errors.New("product name is required")
		}
		switch p.Category {
		case CategoryBase, CategoryAddOn, CategoryStandalone:
		default:
			return fmt.Errorf("product %q: unknown category %q", p.Name, p.Category)
		}
		if _, dup := v.products[p.Name]; dup {
			return fmt.Errorf("duplicate product %q", p.Name)
		}
		v.products[p.Name] = p
	}

	for i := range v.Plans {
		p := &v.Plans[i]
		if p.Name == "" {
			return errors.New("plan name is required")
		}
		if _, ok := v.products[p.Product]; !ok {
			return fmt.Errorf("plan %q references unknown product %q", p.Name, p.Product)
		}
		if len(p.Phases) == 0 {
			return fmt.Errorf("plan %q has no phases", p.Name)
		}
		if _, dup := v.plans[p.Name]; dup {
			return fmt.Errorf("duplicate plan %q", p.Name)
		}
		for j := range p.Phases {
			ph := &p.Phases[j]
			if ph.Name == "" {
				ph.Name = p.Name + "-" + strings.ToLower(string(ph.Type))
			}
			if err := ph.Duration.validate(); err != nil {
				return fmt.Errorf("phase %q: %w", ph.Name, err)
			}
			if ph.Duration.Unlimited() && j != len(p.Phases)-1 {
				return fmt.Errorf("phase %q: only the last phase may be unlimited", ph.Name)
			}
			if _, dup := v.phases[ph.Name]; dup {
				return fmt.Errorf("duplicate phase %q", ph.Name)
			}
			v.phases[ph.Name] = p
		}
		v.plans[p.Name] = p
	}

	for _, pl := range v.PriceLists {
		for _, name := range pl.Plans {
			if _, ok := v.plans[name]; !ok {
				return fmt.Errorf("price list %q references unknown plan %q", pl.Name, name)
			}
		}
	}

	return nil
}
