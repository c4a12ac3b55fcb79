// Package revenue splits order proceeds between vendor and platform.
package revenue

import (
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
)

var (
	// DefaultRate applies when no active rule matches the category.
	DefaultRate = decimal.NewFromInt(10)
	// ResellerRate replaces the rule table for reseller orders.
	ResellerRate = decimal.NewFromInt(5)

	hundred = decimal.NewFromInt(100)
)

// Rule is a commission percentage for one category.
type Rule struct {
	Category string
	Rate     decimal.Decimal
	Active   bool
}

// Result is the split of the product portion of an order.
type Result struct {
	ProductTotal decimal.Decimal `json:"product_total"`
	VendorAmount decimal.Decimal `json:"vendor_amount"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	RateApplied  decimal.Decimal `json:"rate_applied"`
}

// Calculator carries the fallback rates.
type Calculator struct {
	DefaultRate  decimal.Decimal
	ResellerRate decimal.Decimal
}

// NewCalculator fills zero rates with the package defaults.
func NewCalculator(defaultRate, resellerRate decimal.Decimal) Calculator {
	if defaultRate.IsZero() {
		defaultRate = DefaultRate
	}
	if resellerRate.IsZero() {
		resellerRate = ResellerRate
	}
	return Calculator{DefaultRate: defaultRate, ResellerRate: resellerRate}
}

// Split uses the package default rates.
func Split(orderTotal, deliveryFee decimal.Decimal, category string, rules []Rule, reseller bool) (Result, error) {
	return NewCalculator(DefaultRate, ResellerRate).Split(orderTotal, deliveryFee, category, rules, reseller)
}

// Split computes productTotal = total - fee, the platform fee at the
// applicable rate and the vendor remainder, each rounded half-up to cents.
// The two parts may differ from productTotal by one rounding unit.
func (c Calculator) Split(orderTotal, deliveryFee decimal.Decimal, category string, rules []Rule, reseller bool) (Result, error) {
	if orderTotal.IsNegative() || deliveryFee.IsNegative() {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "amounts must not be negative")
	}
	productTotal := orderTotal.Sub(deliveryFee)
	if productTotal.IsNegative() {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "delivery fee exceeds order total")
	}

	rate := c.rateFor(category, rules, reseller)
	platformFee := productTotal.Mul(rate).Div(hundred).Round(2)
	vendorAmount := productTotal.Sub(platformFee).Round(2)
	return Result{
		ProductTotal: productTotal.Round(2),
		VendorAmount: vendorAmount,
		PlatformFee:  platformFee,
		RateApplied:  rate,
	}, nil
}

func (c Calculator) rateFor(category string, rules []Rule, reseller bool) decimal.Decimal {
	if reseller {
		return c.ResellerRate
	}
	wanted := strings.TrimSpace(category)
	for _, rule := range rules {
		if rule.Active && strings.EqualFold(strings.TrimSpace(rule.Category), wanted) {
			return rule.Rate
		}
	}
	return c.DefaultRate
}
