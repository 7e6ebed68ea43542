// Package pricing computes discounts and cart totals. Everything here is pure:
// no I/O, no shared state.
//
// Rounding policy: money and percentages are rounded half-to-even (banker's
// rounding) to two decimal places, and only through RoundMoney and
// RoundPercent. Subtotals are exact products of two-place prices and integer
// quantities, so tax is the only money value that is ever rounded.
package pricing

import (
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	MoneyPlaces   = 2
	PercentPlaces = 2
)

var (
	// DefaultTaxRate is the flat sales tax applied to cart totals.
	DefaultTaxRate = decimal.RequireFromString("0.08")

	hundred = decimal.NewFromInt(100)
)

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(MoneyPlaces)
}

func RoundPercent(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(PercentPlaces)
}

// ComputeDiscountPercent returns how far price sits below originalPrice, in
// percent, clamped to [0, 100]. A non-positive originalPrice means no
// reference price and yields 0.
func ComputeDiscountPercent(price, originalPrice decimal.Decimal) decimal.Decimal {
	if originalPrice.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	pct := originalPrice.Sub(price).Div(originalPrice).Mul(hundred)
	switch {
	case pct.IsNegative():
		return decimal.Zero
	case pct.GreaterThan(hundred):
		return hundred
	}
	return RoundPercent(pct)
}

// Line is a cart line with its price already resolved from the catalog.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int32
}

func LineSubtotal(unitPrice decimal.Decimal, qty int32) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt32(qty))
}

// Engine holds the configured tax rate.
type Engine struct {
	taxRate decimal.Decimal
}

func NewEngine(taxRate decimal.Decimal) (*Engine, error) {
	if taxRate.IsNegative() || taxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("tax rate must be in [0, 1), got %s", taxRate)
	}
	return &Engine{taxRate: taxRate}, nil
}

// Default uses DefaultTaxRate.
func Default() *Engine {
	return &Engine{taxRate: DefaultTaxRate}
}

func (e *Engine) TaxRate() decimal.Decimal {
	return e.taxRate
}

// ComputeCartTotal sums the lines and applies tax. No lines gives {0, 0, 0}.
func (e *Engine) ComputeCartTotal(lines []Line) domain.CartTotal {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(LineSubtotal(l.UnitPrice, l.Quantity))
	}

	tax := RoundMoney(subtotal.Mul(e.taxRate))
	return domain.CartTotal{
		Subtotal:     subtotal,
		Tax:          tax,
		TotalWithTax: subtotal.Add(tax),
	}
}

// ComputeCartTotal applies DefaultTaxRate.
func ComputeCartTotal(lines []Line) domain.CartTotal {
	return Default().ComputeCartTotal(lines)
}
