package ratelimit

import (
	"fmt"
)

// DefaultTier is substituted when a caller presents an unknown tier
// name. Falling back to the most restrictive known tier keeps a typo in
// a subscription record from granting unlimited traffic.
const DefaultTier = "free"

// Limits holds the window capacities for one subscription tier. The
// three values are independent; nothing requires the hourly capacity to
// exceed the minute capacity times sixty, or any other monotonic
// relation.
type Limits struct {
	PerMinute int64 `mapstructure:"per_minute" json:"per_minute"`
	PerHour   int64 `mapstructure:"per_hour" json:"per_hour"`
	PerDay    int64 `mapstructure:"per_day" json:"per_day"`
}

// TierPolicy maps subscription tier names to window capacities. It is
// built once at startup and read-only afterwards.
type TierPolicy struct {
	tiers    map[string]Limits
	fallback string
}

// DefaultTierPolicy returns the stock Owaiken tier table.
func DefaultTierPolicy() TierPolicy {
	policy, _ := NewTierPolicy(map[string]Limits{
		"free":       {PerMinute: 30, PerHour: 300, PerDay: 1000},
		"basic":      {PerMinute: 60, PerHour: 1000, PerDay: 5000},
		"premium":    {PerMinute: 120, PerHour: 3000, PerDay: 10000},
		"enterprise": {PerMinute: 300, PerHour: 10000, PerDay: 50000},
	})
	return policy
}

// NewTierPolicy builds a policy from a tier table. Every threshold must
// be positive. If the table has no "free" tier, the most restrictive
// tier (lowest per-minute, then per-hour, then per-day capacity)
// becomes the fallback for unknown tier names.
func NewTierPolicy(tiers map[string]Limits) (TierPolicy, error) {
	if len(tiers) == 0 {
		return TierPolicy{}, fmt.Errorf("tier policy needs at least one tier")
	}

	for name, limits := range tiers {
		if limits.PerMinute <= 0 || limits.PerHour <= 0 || limits.PerDay <= 0 {
			return TierPolicy{}, fmt.Errorf("tier %q has non-positive thresholds: %+v", name, limits)
		}
	}

	copied := make(map[string]Limits, len(tiers))
	for name, limits := range tiers {
		copied[name] = limits
	}

	fallback := DefaultTier
	if _, ok := copied[DefaultTier]; !ok {
		fallback = mostRestrictive(copied)
	}

	return TierPolicy{tiers: copied, fallback: fallback}, nil
}

// Limits returns the thresholds for tier. Unknown names resolve to the
// fallback tier; known reports whether the name itself matched.
func (p TierPolicy) Limits(tier string) (limits Limits, known bool) {
	if l, ok := p.tiers[tier]; ok {
		return l, true
	}
	return p.tiers[p.fallback], false
}

// Tiers returns the tier names in the policy.
func (p TierPolicy) Tiers() []string {
	names := make([]string, 0, len(p.tiers))
	for name := range p.tiers {
		names = append(names, name)
	}
	return names
}

// Fallback returns the tier name substituted for unknown tiers.
func (p TierPolicy) Fallback() string {
	return p.fallback
}

func mostRestrictive(tiers map[string]Limits) string {
	var name string
	var best Limits
	for n, l := range tiers {
		if name == "" || lessRestrictiveThan(best, l) {
			name, best = n, l
		}
	}
	return name
}

func lessRestrictiveThan(a, b Limits) bool {
	if a.PerMinute != b.PerMinute {
		return a.PerMinute > b.PerMinute
	}
	if a.PerHour != b.PerHour {
		return a.PerHour > b.PerHour
	}
	return a.PerDay > b.PerDay
}
