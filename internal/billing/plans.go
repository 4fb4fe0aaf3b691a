// Package billing holds the plan catalogue, price quotes with GST, subscription
// date arithmetic and invoice construction. Amounts are always in minor
// currency units (cents, paise).
package billing

import (
	"fmt"
	"sort"
	"strings"
)

// Plan IDs.
const (
	PlanFree    = "free"
	PlanStarter = "starter"
	PlanGrowth  = "growth"
	PlanScale   = "scale"
)

// Billing cycles.
const (
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
)

// Subscription statuses stored on profiles and subscription records.
const (
	StatusActive    = "active"
	StatusPending   = "pending"
	StatusHalted    = "halted"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
	StatusPaused    = "paused"
	StatusExpired   = "expired"
)

// UnlimitedStorage marks a plan without a storage cap.
const UnlimitedStorage = -1

// TopUpPrefix prefixes every top-up package ID.
const TopUpPrefix = "enhancement-"

// Currencies accepted at checkout.
var Currencies = []string{"USD", "INR", "EUR", "GBP"}

// Plan is a subscription tier.
type Plan struct {
	ID                 string
	Name               string
	PostCredits        int
	EnhancementCredits int
	StorageLimitMB     int
	Description        string
	// Monthly and Yearly are keyed by currency.
	Monthly map[string]int64
	Yearly  map[string]int64
}

// TopUp is a one-off enhancement credit pack.
type TopUp struct {
	ID      string
	Name    string
	Credits int
	Price   map[string]int64
}

var plans = map[string]Plan{
	PlanFree: {
		ID: PlanFree, Name: "Free Plan",
		PostCredits: 15, EnhancementCredits: 3, StorageLimitMB: 50,
		Description: "15 post generations, 3 AI image enhancements, 50 MB storage",
		Monthly:     map[string]int64{"USD": 0, "INR": 0, "EUR": 0, "GBP": 0},
		Yearly:      map[string]int64{"USD": 0, "INR": 0, "EUR": 0, "GBP": 0},
	},
	PlanStarter: {
		ID: PlanStarter, Name: "Starter Plan",
		PostCredits: 100, EnhancementCredits: 30, StorageLimitMB: 500,
		Description: "100 post generations, 30 AI image enhancements, 500 MB storage",
		Monthly:     map[string]int64{"USD": 1200, "INR": 99900, "EUR": 1100, "GBP": 1000},
		Yearly:      map[string]int64{"USD": 12000, "INR": 999000, "EUR": 11000, "GBP": 10000},
	},
	PlanGrowth: {
		ID: PlanGrowth, Name: "Growth Plan",
		PostCredits: 300, EnhancementCredits: 100, StorageLimitMB: UnlimitedStorage,
		Description: "300 post generations, 100 AI image enhancements, unlimited storage",
		Monthly:     map[string]int64{"USD": 3000, "INR": 249900, "EUR": 2800, "GBP": 2500},
		Yearly:      map[string]int64{"USD": 30000, "INR": 2499000, "EUR": 28000, "GBP": 25000},
	},
	PlanScale: {
		ID: PlanScale, Name: "Scale Plan",
		PostCredits: 1000, EnhancementCredits: 500, StorageLimitMB: UnlimitedStorage,
		Description: "1000 post generations, 500 AI image enhancements, unlimited storage",
		Monthly:     map[string]int64{"USD": 10800, "INR": 899900, "EUR": 10000, "GBP": 9000},
		Yearly:      map[string]int64{"USD": 108000, "INR": 8999000, "EUR": 100000, "GBP": 90000},
	},
}

var topUps = map[string]TopUp{
	"enhancement-25": {
		ID: "enhancement-25", Name: "+25 Image Enhancements", Credits: 25,
		Price: map[string]int64{"USD": 1200, "INR": 99900, "EUR": 1100, "GBP": 1000},
	},
	"enhancement-100": {
		ID: "enhancement-100", Name: "+100 Image Enhancements", Credits: 100,
		Price: map[string]int64{"USD": 4000, "INR": 329900, "EUR": 3700, "GBP": 3300},
	},
	"enhancement-250": {
		ID: "enhancement-250", Name: "+250 Image Enhancements", Credits: 250,
		Price: map[string]int64{"USD": 8000, "INR": 659900, "EUR": 7400, "GBP": 6600},
	},
}

// LookupPlan returns the plan with id.
func LookupPlan(id string) (Plan, bool) {
	p, ok := plans[id]
	return p, ok
}

// LookupTopUp returns the top-up package with id.
func LookupTopUp(id string) (TopUp, bool) {
	t, ok := topUps[id]
	return t, ok
}

// IsTopUp reports whether id names a top-up package rather than a plan.
func IsTopUp(id string) bool {
	return strings.HasPrefix(id, TopUpPrefix)
}

// Plans returns every plan, cheapest first.
func Plans() []Plan {
	out := make([]Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Monthly["USD"] < out[j].Monthly["USD"] })
	return out
}

// TopUps returns every top-up package, smallest first.
func TopUps() []TopUp {
	out := make([]TopUp, 0, len(topUps))
	for _, t := range topUps {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}

// Price returns the base price of a plan or top-up. The cycle is ignored for
// top-ups.
func Price(id, cycle, currency string) (int64, error) {
	currency = strings.ToUpper(currency)
	if IsTopUp(id) {
		t, ok := topUps[id]
		if !ok {
			return 0, fmt.Errorf("unknown top-up %q", id)
		}
		amount, ok := t.Price[currency]
		if !ok {
			return 0, fmt.Errorf("unsupported currency %q", currency)
		}
		return amount, nil
	}

	p, ok := plans[id]
	if !ok {
		return 0, fmt.Errorf("unknown plan %q", id)
	}
	var table map[string]int64
	switch cycle {
	case CycleMonthly:
		table = p.Monthly
	case CycleYearly:
		table = p.Yearly
	default:
		return 0, fmt.Errorf("unknown billing cycle %q", cycle)
	}
	amount, ok := table[currency]
	if !ok {
		return 0, fmt.Errorf("unsupported currency %q", currency)
	}
	return amount, nil
}

// Quote is the checkout price of a plan or top-up including tax.
type Quote struct {
	PlanID      string  `json:"planId"`
	Cycle       string  `json:"billingCycle,omitempty"`
	Amount      int64   `json:"amount"`
	TaxAmount   int64   `json:"taxAmount"`
	TotalAmount int64   `json:"totalAmount"`
	Currency    string  `json:"currency"`
	IsExport    bool    `json:"isExport"`
	TaxRate     float64 `json:"taxRate"`
	Country     string  `json:"country"`
}

// TaxApplicable reports whether GST was charged.
func (q Quote) TaxApplicable() bool { return q.TaxAmount > 0 }

// NewQuote prices id for a buyer in country. Indian buyers pay GST; every
// other country is an export of services with no tax.
func NewQuote(id, cycle, currency, country string) (Quote, error) {
	amount, err := Price(id, cycle, currency)
	if err != nil {
		return Quote{}, err
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	q := Quote{
		PlanID:   id,
		Amount:   amount,
		Currency: strings.ToUpper(currency),
		Country:  country,
		IsExport: true,
	}
	if !IsTopUp(id) {
		q.Cycle = cycle
	}
	if country == CountryIndia {
		q.IsExport = false
		q.TaxRate = GSTRate
		q.TaxAmount = GSTAmount(amount)
	}
	q.TotalAmount = q.Amount + q.TaxAmount
	return q, nil
}

// ItemName is the display name of a plan or top-up.
func ItemName(id string) string {
	if t, ok := topUps[id]; ok {
		return t.Name
	}
	if p, ok := plans[id]; ok {
		return p.Name
	}
	return id
}

// ParseGatewayPlanID extracts plan and cycle from a gateway plan id such as
// "plan_starter_monthly".
func ParseGatewayPlanID(gatewayPlanID string) (planID, cycle string, ok bool) {
	parts := strings.Split(strings.TrimPrefix(gatewayPlanID, "plan_"), "_")
	if len(parts) == 0 {
		return "", "", false
	}
	if _, known := plans[parts[0]]; !known {
		return "", "", false
	}
	cycle = CycleMonthly
	if len(parts) > 1 && parts[1] == CycleYearly {
		cycle = CycleYearly
	}
	return parts[0], cycle, true
}
