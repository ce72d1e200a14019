// Package plan is the immutable plan catalog: tier limits and USD pricing.
package plan

import (
	"fmt"
	"strings"
)

// Tier identifies a subscription plan.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierStarter    Tier = "STARTER"
	TierPro        Tier = "PRO"
	TierBusiness   Tier = "BUSINESS"
	TierEnterprise Tier = "ENTERPRISE"
)

// Unlimited is the sentinel for limits without a cap.
const Unlimited = -1

// Limits are the feature caps attached to a tier.
type Limits struct {
	LinksPerMonth      int
	CustomDomains      int
	TeamMembers        int
	AnalyticsRetention int // days
}

// Plan is a catalog entry. Prices are whole USD.
type Plan struct {
	Tier         Tier
	Limits       Limits
	MonthlyUSD   int64
	YearlyUSD    int64
	StripePrices CyclePrices
	PaddlePrices CyclePrices
}

// CyclePrices holds the provider-side price identifiers per billing cycle.
type CyclePrices struct {
	Monthly string
	Yearly  string
}

var catalog = map[Tier]Plan{
	TierFree: {
		Tier:   TierFree,
		Limits: Limits{LinksPerMonth: 50, CustomDomains: 0, TeamMembers: 1, AnalyticsRetention: 7},
	},
	TierStarter: {
		Tier:         TierStarter,
		Limits:       Limits{LinksPerMonth: 500, CustomDomains: 1, TeamMembers: 1, AnalyticsRetention: 30},
		MonthlyUSD:   5,
		YearlyUSD:    48,
		StripePrices: CyclePrices{Monthly: "price_starter_monthly", Yearly: "price_starter_yearly"},
		PaddlePrices: CyclePrices{Monthly: "pri_starter_monthly", Yearly: "pri_starter_yearly"},
	},
	TierPro: {
		Tier:         TierPro,
		Limits:       Limits{LinksPerMonth: 5000, CustomDomains: 5, TeamMembers: 5, AnalyticsRetention: 365},
		MonthlyUSD:   12,
		YearlyUSD:    120,
		StripePrices: CyclePrices{Monthly: "price_pro_monthly", Yearly: "price_pro_yearly"},
		PaddlePrices: CyclePrices{Monthly: "pri_pro_monthly", Yearly: "pri_pro_yearly"},
	},
	TierBusiness: {
		Tier:         TierBusiness,
		Limits:       Limits{LinksPerMonth: 50000, CustomDomains: 20, TeamMembers: 20, AnalyticsRetention: Unlimited},
		MonthlyUSD:   29,
		YearlyUSD:    288,
		StripePrices: CyclePrices{Monthly: "price_business_monthly", Yearly: "price_business_yearly"},
		PaddlePrices: CyclePrices{Monthly: "pri_business_monthly", Yearly: "pri_business_yearly"},
	},
	TierEnterprise: {
		Tier:         TierEnterprise,
		Limits:       Limits{LinksPerMonth: Unlimited, CustomDomains: Unlimited, TeamMembers: Unlimited, AnalyticsRetention: Unlimited},
		MonthlyUSD:   99,
		YearlyUSD:    948,
		StripePrices: CyclePrices{Monthly: "price_enterprise_monthly", Yearly: "price_enterprise_yearly"},
		PaddlePrices: CyclePrices{Monthly: "pri_enterprise_monthly", Yearly: "pri_enterprise_yearly"},
	},
}

// Parse normalizes a plan identifier from a request body.
func Parse(raw string) (Tier, bool) {
	tier := Tier(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := catalog[tier]
	return tier, ok
}

// Lookup returns the catalog entry for a tier.
func Lookup(tier Tier) (Plan, bool) {
	p, ok := catalog[tier]
	return p, ok
}

// Paid reports whether the tier carries a price.
func (t Tier) Paid() bool {
	p, ok := catalog[t]
	return ok && p.MonthlyUSD > 0
}

// PriceUSD returns the whole-USD price for the billing cycle.
func (p Plan) PriceUSD(yearly bool) int64 {
	if yearly {
		return p.YearlyUSD
	}
	return p.MonthlyUSD
}

// FormatPrice renders a USD amount as an effective per-month display
// string, e.g. FormatPrice(120, true) == "$10/mo".
func FormatPrice(amountUSD int64, yearly bool) string {
	perMonth := float64(amountUSD)
	if yearly {
		perMonth = float64(amountUSD) / 12
	}
	if perMonth == float64(int64(perMonth)) {
		return fmt.Sprintf("$%d/mo", int64(perMonth))
	}
	return fmt.Sprintf("$%.2f/mo", perMonth)
}
