// Package cost models the operating cost of running the trading stack and
// the portfolio return needed to break even on it.
package cost

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/powertraderai/powertrader/pkg/errors"
)

// Cost categories
const (
	CategoryData           = "market_data"
	CategoryInfrastructure = "infrastructure"
	CategorySoftware       = "software"
	CategoryTrading        = "trading_fees"
	CategoryCompliance     = "compliance"
	CategoryInsurance      = "insurance"
	CategoryPersonnel      = "personnel"
	CategoryLegal          = "legal"
	CategoryOther          = "other"
)

// Billing frequencies
const (
	FrequencyMonthly  = "monthly"
	FrequencyAnnual   = "annual"
	FrequencyOneTime  = "one_time"
	FrequencyPerTrade = "per_trade"
)

// Item is a single recurring or variable cost.
type Item struct {
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Frequency   string          `json:"frequency"`
}

// Tier names
const (
	TierBudget       = "budget"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// TierItems returns the preset cost profile for a tier.
func TierItems(tier string) ([]Item, error) {
	switch tier {
	case TierBudget:
		return []Item{
			{CategoryInfrastructure, "VPS hosting", d("10"), FrequencyMonthly},
			{CategoryData, "free exchange feeds", d("0"), FrequencyMonthly},
			{CategoryTrading, "taker commission", d("0.50"), FrequencyPerTrade},
		}, nil
	case TierProfessional:
		return []Item{
			{CategoryInfrastructure, "dedicated server", d("80"), FrequencyMonthly},
			{CategoryData, "consolidated market data", d("50"), FrequencyMonthly},
			{CategorySoftware, "charting subscription", d("360"), FrequencyAnnual},
			{CategoryTrading, "taker commission", d("0.25"), FrequencyPerTrade},
			{CategoryOther, "hardware", d("1200"), FrequencyOneTime},
		}, nil
	case TierEnterprise:
		return []Item{
			{CategoryInfrastructure, "colocated servers", d("500"), FrequencyMonthly},
			{CategoryData, "direct exchange feeds", d("400"), FrequencyMonthly},
			{CategorySoftware, "analytics licenses", d("2400"), FrequencyAnnual},
			{CategoryTrading, "negotiated commission", d("0.10"), FrequencyPerTrade},
			{CategoryCompliance, "audit and reporting", d("6000"), FrequencyAnnual},
			{CategoryInsurance, "custody insurance", d("3600"), FrequencyAnnual},
			{CategoryLegal, "counsel retainer", d("250"), FrequencyMonthly},
			{CategoryOther, "hardware", d("6000"), FrequencyOneTime},
		}, nil
	default:
		return nil, errors.NewValidationError("tier", "unknown cost tier "+tier)
	}
}

// Analysis summarizes monthly cost against portfolio size.
type Analysis struct {
	MonthlyCost     decimal.Decimal            `json:"monthly_cost"`
	AnnualCost      decimal.Decimal            `json:"annual_cost"`
	ByCategory      map[string]decimal.Decimal `json:"by_category"`
	BreakEvenReturn decimal.Decimal            `json:"break_even_return"`
	CostRatio       decimal.Decimal            `json:"cost_ratio"`
}

// Tracker accumulates cost items and computes break-even analysis.
type Tracker struct {
	mu    sync.RWMutex
	items []Item

	// monthlyTrades drives per_trade cost estimates.
	monthlyTrades decimal.Decimal
}

func NewTracker(monthlyTrades int64) *Tracker {
	if monthlyTrades <= 0 {
		monthlyTrades = 1000
	}
	return &Tracker{monthlyTrades: decimal.NewFromInt(monthlyTrades)}
}

// LoadTier replaces the current items with a tier preset.
func (t *Tracker) LoadTier(tier string) error {
	items, err := TierItems(tier)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.items = items
	t.mu.Unlock()
	return nil
}

func (t *Tracker) Add(item Item) error {
	switch item.Frequency {
	case FrequencyMonthly, FrequencyAnnual, FrequencyOneTime, FrequencyPerTrade:
	default:
		return errors.NewValidationError("frequency", "unknown billing frequency "+item.Frequency)
	}
	if item.Amount.IsNegative() {
		return errors.NewValidationError("amount", "must not be negative")
	}
	t.mu.Lock()
	t.items = append(t.items, item)
	t.mu.Unlock()
	return nil
}

func (t *Tracker) Items() []Item {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Item, len(t.items))
	copy(out, t.items)
	return out
}

var twelve = decimal.NewFromInt(12)

// monthly normalizes an item to its monthly cost. Annual and one-time items
// amortize over twelve months; per-trade items scale by estimated volume.
func (t *Tracker) monthly(item Item) decimal.Decimal {
	switch item.Frequency {
	case FrequencyAnnual, FrequencyOneTime:
		return item.Amount.Div(twelve)
	case FrequencyPerTrade:
		return item.Amount.Mul(t.monthlyTrades)
	default:
		return item.Amount
	}
}

// Analyze computes monthly/annual cost and the monthly return the portfolio
// must earn to cover it.
func (t *Tracker) Analyze(portfolioValue decimal.Decimal) (Analysis, error) {
	if !portfolioValue.IsPositive() {
		return Analysis{}, errors.NewValidationError("portfolio_value", "must be positive")
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	byCategory := make(map[string]decimal.Decimal)
	var total decimal.Decimal
	for _, item := range t.items {
		m := t.monthly(item)
		total = total.Add(m)
		byCategory[item.Category] = byCategory[item.Category].Add(m)
	}

	return Analysis{
		MonthlyCost:     total,
		AnnualCost:      total.Mul(twelve),
		ByCategory:      byCategory,
		BreakEvenReturn: total.Div(portfolioValue),
		CostRatio:       total.Mul(twelve).Div(portfolioValue),
	}, nil
}

// MonthlyTotal returns the normalized monthly cost of all items.
func (t *Tracker) MonthlyTotal() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total decimal.Decimal
	for _, item := range t.items {
		total = total.Add(t.monthly(item))
	}
	return total
}

// BreakEvenCapital returns the portfolio size at which a given monthly
// return covers the monthly cost.
func (t *Tracker) BreakEvenCapital(monthlyReturn decimal.Decimal) (decimal.Decimal, error) {
	if !monthlyReturn.IsPositive() {
		return decimal.Zero, errors.NewValidationError("monthly_return", "must be positive")
	}
	return t.MonthlyTotal().Div(monthlyReturn), nil
}

// Projection is the net result of a strategy after operating costs.
type Projection struct {
	GrossProfit decimal.Decimal `json:"gross_profit"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	NetProfit   decimal.Decimal `json:"net_profit"`
	ROI         decimal.Decimal `json:"roi"`
}

// Project computes annual net profit and ROI for a portfolio earning the
// given monthly return.
func (t *Tracker) Project(portfolioValue, monthlyReturn decimal.Decimal) (Projection, error) {
	if !portfolioValue.IsPositive() {
		return Projection{}, errors.NewValidationError("portfolio_value", "must be positive")
	}

	gross := portfolioValue.Mul(monthlyReturn).Mul(twelve)
	totalCost := t.MonthlyTotal().Mul(twelve)
	net := gross.Sub(totalCost)
	return Projection{
		GrossProfit: gross,
		TotalCost:   totalCost,
		NetProfit:   net,
		ROI:         net.Div(portfolioValue),
	}, nil
}
