package billing

import "github.com/mbd888/agentplatform/internal/tenant"

// Plan is the price list of a tier. Quota limits come from the tenant
// plan catalogue so billing and enforcement never disagree.
type Plan struct {
	Tier              tenant.Tier `json:"tier"`
	Name              string      `json:"name"`
	Description       string      `json:"description"`
	PriceMonthly      float64     `json:"price_monthly"`
	PriceYearly       float64     `json:"price_yearly"`
	PriceOneTime      float64     `json:"price_one_time"`
	APICallPrice      float64     `json:"api_call_price"`
	StoragePricePerGB float64     `json:"storage_price_per_gb"`
	UserPrice         float64     `json:"user_price"`

	Limits tenant.PlanConfig `json:"limits"`
}

// Plans is the price catalogue.
var Plans = map[tenant.Tier]Plan{
	tenant.TierFree: {
		Tier:              tenant.TierFree,
		Name:              "Free",
		Description:       "Individuals and small teams",
		APICallPrice:      0.01,
		StoragePricePerGB: 0.5,
	},
	tenant.TierBasic: {
		Tier:              tenant.TierBasic,
		Name:              "Basic",
		Description:       "Small businesses",
		PriceMonthly:      99,
		PriceYearly:       990,
		APICallPrice:      0.005,
		StoragePricePerGB: 0.3,
		UserPrice:         5,
	},
	tenant.TierProfessional: {
		Tier:              tenant.TierProfessional,
		Name:              "Professional",
		Description:       "Mid-sized businesses",
		PriceMonthly:      299,
		PriceYearly:       2990,
		APICallPrice:      0.003,
		StoragePricePerGB: 0.2,
		UserPrice:         3,
	},
	tenant.TierEnterprise: {
		Tier:              tenant.TierEnterprise,
		Name:              "Enterprise",
		Description:       "Large organisations with custom needs",
		PriceMonthly:      999,
		PriceYearly:       9990,
		APICallPrice:      0.001,
		StoragePricePerGB: 0.1,
		UserPrice:         1,
	},
}

// PlanFor returns the price list of tier (free when unknown) with its
// quota limits filled in.
func PlanFor(tier tenant.Tier) Plan {
	p, ok := Plans[tier]
	if !ok {
		p = Plans[tenant.TierFree]
	}
	p.Limits = tenant.PlanFor(p.Tier)
	return p
}

// BaseFee is the flat fee of the plan for cycle.
func (p Plan) BaseFee(c Cycle) float64 {
	switch c {
	case CycleMonthly:
		return p.PriceMonthly
	case CycleYearly:
		return p.PriceYearly
	default:
		return p.PriceOneTime
	}
}

// daysPerCycle converts the daily API quota into a per-cycle allowance.
const daysPerCycle = 30

// UsageFee prices usage above the plan's limits:
// Σ max(0, actual − limit) × unit price over api calls, storage and users.
func (p Plan) UsageFee(apiCalls int64, storageGB float64, users int64) float64 {
	fee := 0.0
	if excess := apiCalls - int64(p.Limits.MaxAPICallsPerDay)*daysPerCycle; excess > 0 {
		fee += float64(excess) * p.APICallPrice
	}
	if excess := storageGB - float64(p.Limits.MaxStorageGB); excess > 0 {
		fee += excess * p.StoragePricePerGB
	}
	if excess := users - int64(p.Limits.MaxUsers); excess > 0 {
		fee += float64(excess) * p.UserPrice
	}
	return roundCents(fee)
}
