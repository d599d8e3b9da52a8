package tenant

// PlanConfig defines the default limits and features of a tier.
type PlanConfig struct {
	Tier              Tier
	MaxUsers          int
	MaxStorageGB      int
	MaxAPICallsPerDay int
	Features          []string
}

// Plans is the hardcoded plan catalogue.
var Plans = map[Tier]PlanConfig{
	TierFree: {
		Tier:              TierFree,
		MaxUsers:          3,
		MaxStorageGB:      1,
		MaxAPICallsPerDay: 100,
		Features:          []string{"trading"},
	},
	TierBasic: {
		Tier:              TierBasic,
		MaxUsers:          20,
		MaxStorageGB:      10,
		MaxAPICallsPerDay: 5000,
		Features:          []string{"trading", "analytics"},
	},
	TierProfessional: {
		Tier:              TierProfessional,
		MaxUsers:          50,
		MaxStorageGB:      100,
		MaxAPICallsPerDay: 10000,
		Features:          []string{"trading", "analytics", "reporting"},
	},
	TierEnterprise: {
		Tier:              TierEnterprise,
		MaxUsers:          1000,
		MaxStorageGB:      1000,
		MaxAPICallsPerDay: 100000,
		Features:          []string{"trading", "analytics", "reporting", "custom"},
	},
}

// PlanFor returns the plan of tier, falling back to the free plan.
func PlanFor(tier Tier) PlanConfig {
	if cfg, ok := Plans[tier]; ok {
		return cfg
	}
	return Plans[TierFree]
}

// ValidTier returns true if the tier name is recognised.
func ValidTier(t Tier) bool {
	_, ok := Plans[t]
	return ok
}

// applyPlan fills zero-valued limits from the tier's plan.
func applyPlan(t *Tenant) {
	plan := PlanFor(t.Tier)
	if t.MaxUsers == 0 {
		t.MaxUsers = plan.MaxUsers
	}
	if t.MaxStorageGB == 0 {
		t.MaxStorageGB = plan.MaxStorageGB
	}
	if t.MaxAPICallsPerDay == 0 {
		t.MaxAPICallsPerDay = plan.MaxAPICallsPerDay
	}
	if len(t.Features) == 0 {
		t.Features = append([]string(nil), plan.Features...)
	}
}
