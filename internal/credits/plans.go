package credits

import (
	"strings"
	"unicode"
)

// Entitlement is the monthly credit grant of a subscription plan.
type Entitlement struct {
	Tag     string `json:"tag"`
	Credits int64  `json:"credits"`
}

// DefaultPlans lists the plans from the highest tier down.
var DefaultPlans = []Entitlement{
	{Tag: "premium", Credits: 24},
	{Tag: "standard", Credits: 10},
	{Tag: "free_user", Credits: 2},
}

// PlanResolver maps a subscription claim to an entitlement. Plans are checked
// in priority order so a claim naming several plans gets the highest tier.
type PlanResolver struct {
	plans []Entitlement
}

// NewPlanResolver builds a resolver over plans, highest tier first. With no
// plans it uses DefaultPlans.
func NewPlanResolver(plans ...Entitlement) *PlanResolver {
	if len(plans) == 0 {
		plans = DefaultPlans
	}
	cp := make([]Entitlement, len(plans))
	copy(cp, plans)
	return &PlanResolver{plans: cp}
}

// Plans returns the configured plans in priority order.
func (r *PlanResolver) Plans() []Entitlement {
	out := make([]Entitlement, len(r.plans))
	copy(out, r.plans)
	return out
}

// Resolve returns the best entitlement named by claim. The claim may hold
// several tags separated by commas or whitespace.
func (r *PlanResolver) Resolve(claim string) (Entitlement, bool) {
	tags := strings.FieldsFunc(strings.ToLower(claim), func(c rune) bool {
		return c == ',' || unicode.IsSpace(c)
	})
	if len(tags) == 0 {
		return Entitlement{}, false
	}
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		seen[t] = struct{}{}
	}
	for _, p := range r.plans {
		if _, ok := seen[p.Tag]; ok {
			return p, true
		}
	}
	return Entitlement{}, false
}
