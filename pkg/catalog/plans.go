package catalog

import (
	"fmt"
	"time"

	"github.com/platinummonkey/creditgate/pkg/apperr"
	"github.com/platinummonkey/creditgate/pkg/orgs"
)

// Plan is a subscription tier and the credits it includes each month
type Plan struct {
	Tier           orgs.PlanTier `yaml:"tier" json:"tier"`
	DisplayName    string        `yaml:"display_name" json:"displayName"`
	MonthlyCredits int64         `yaml:"monthly_credits" json:"monthlyCredits"`
}

// PlanCatalog resolves plans and billing cycle lengths
type PlanCatalog struct {
	plans  map[orgs.PlanTier]Plan
	cycles map[orgs.BillingCycle]int
}

// NewPlanCatalog validates plans and cycles. cycles maps a billing cycle to its
// length in calendar months.
func NewPlanCatalog(plans []Plan, cycles map[orgs.BillingCycle]int) (*PlanCatalog, error) {
	c := &PlanCatalog{
		plans:  make(map[orgs.PlanTier]Plan, len(plans)),
		cycles: make(map[orgs.BillingCycle]int, len(cycles)),
	}
	for _, p := range plans {
		if p.Tier == "" {
			return nil, fmt.Errorf("plan tier is required")
		}
		if p.MonthlyCredits < 0 {
			return nil, fmt.Errorf("plan %q: monthly credits must not be negative", p.Tier)
		}
		if _, exists := c.plans[p.Tier]; exists {
			return nil, fmt.Errorf("plan %q defined more than once", p.Tier)
		}
		c.plans[p.Tier] = p
	}
	for cycle, months := range cycles {
		if months <= 0 {
			return nil, fmt.Errorf("billing cycle %q: months must be positive", cycle)
		}
		c.cycles[cycle] = months
	}
	return c, nil
}

// Plan returns the plan for tier or an INVALID_PLAN error
func (c *PlanCatalog) Plan(tier orgs.PlanTier) (Plan, error) {
	p, ok := c.plans[tier]
	if !ok {
		return Plan{}, apperr.New(apperr.CodeInvalidPlan).With("plan", string(tier))
	}
	return p, nil
}

// CycleMonths returns the number of calendar months in cycle or an INVALID_CYCLE error
func (c *PlanCatalog) CycleMonths(cycle orgs.BillingCycle) (int, error) {
	months, ok := c.cycles[cycle]
	if !ok {
		return 0, apperr.New(apperr.CodeInvalidCycle).With("billingCycle", string(cycle))
	}
	return months, nil
}

// AddCycle returns from advanced by one billing cycle using calendar arithmetic
func (c *PlanCatalog) AddCycle(from time.Time, cycle orgs.BillingCycle) (time.Time, error) {
	months, err := c.CycleMonths(cycle)
	if err != nil {
		return time.Time{}, err
	}
	return from.AddDate(0, months, 0), nil
}
