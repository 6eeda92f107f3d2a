// Package plan holds the immutable plan catalog loaded at process start.
package plan

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const FreePlanID = "free"

// Plan is a named entitlement tier.
type Plan struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	DailyCredits int    `yaml:"daily_credits" json:"daily_credits"`
	IsPremium    bool   `yaml:"premium" json:"is_premium"`
	// PriceRef is the payment provider's price id. Empty means the plan is
	// free or is applied without payment.
	PriceRef string `yaml:"price_ref" json:"-"`
}

// Payable reports whether buying the plan goes through the payment provider.
func (p Plan) Payable() bool {
	return p.PriceRef != ""
}

// Catalog is safe for concurrent use; it is never mutated after construction.
type Catalog struct {
	plans map[string]Plan
	order []string
}

type catalogFile struct {
	Plans []Plan `yaml:"plans"`
}

// DefaultPlans mirrors the tiers sold on the pricing page.
func DefaultPlans() []Plan {
	return []Plan{
		{ID: FreePlanID, Name: "Free", DailyCredits: 5},
		{ID: "starter", Name: "Starter", DailyCredits: 50, IsPremium: true},
		{ID: "pro", Name: "Pro", DailyCredits: 200, IsPremium: true},
	}
}

// NewCatalog validates plans and builds a catalog from them.
func NewCatalog(plans []Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("plan catalog: plan with empty id")
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("plan catalog: duplicate plan id %q", p.ID)
		}
		if p.DailyCredits < 0 {
			return nil, fmt.Errorf("plan catalog: plan %q has negative daily_credits", p.ID)
		}
		c.plans[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	free, ok := c.plans[FreePlanID]
	if !ok {
		return nil, fmt.Errorf("plan catalog: missing %q plan", FreePlanID)
	}
	if free.Payable() {
		return nil, fmt.Errorf("plan catalog: %q plan must not carry a price_ref", FreePlanID)
	}
	return c, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultPlans())
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads a YAML catalog file. An empty path yields the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse plan catalog %s: %w", path, err)
	}
	return NewCatalog(f.Plans)
}

// WithPriceRefs returns a copy of the catalog with price references set for
// the given plan ids. Empty refs leave the plan as it was.
func (c *Catalog) WithPriceRefs(refs map[string]string) (*Catalog, error) {
	plans := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		p := c.plans[id]
		if ref := strings.TrimSpace(refs[id]); ref != "" {
			p.PriceRef = ref
		}
		plans = append(plans, p)
	}
	return NewCatalog(plans)
}

// Lookup returns the plan with the given id, if any.
func (c *Catalog) Lookup(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// PlanByID resolves id, falling back to the free plan for unknown ids.
func (c *Catalog) PlanByID(id string) Plan {
	if p, ok := c.plans[id]; ok {
		return p
	}
	return c.Free()
}

func (c *Catalog) Free() Plan {
	return c.plans[FreePlanID]
}

// List returns plans in catalog order.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}
