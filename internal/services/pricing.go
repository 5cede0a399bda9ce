package services

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const (
	// ShippingFee is the flat shipping charge in minor units (150.00).
	ShippingFee int64 = 15000
	// minorUnitExponent is the number of decimal places in a major unit.
	minorUnitExponent = 2
	// MaxCartItemQuantity caps the quantity of a single cart line.
	MaxCartItemQuantity = 999
)

// TaxRate is the flat sales-tax rate applied to the item subtotal.
var TaxRate = decimal.RequireFromString("0.05")

// PricedLine is one line presented to the calculator.
type PricedLine struct {
	UnitPrice int64
	Quantity  int
}

// LineTotal returns UnitPrice times Quantity. It fails with ErrAmountOutOfRange when either is
// negative or the product does not fit in int64.
func (l PricedLine) LineTotal() (int64, error) {
	if l.UnitPrice < 0 || l.Quantity < 0 {
		return 0, fmt.Errorf("%w: negative price or quantity", ErrAmountOutOfRange)
	}
	if l.UnitPrice > 0 && int64(l.Quantity) > math.MaxInt64/l.UnitPrice {
		return 0, fmt.Errorf("%w: %d x %d", ErrAmountOutOfRange, l.UnitPrice, l.Quantity)
	}
	return l.UnitPrice * int64(l.Quantity), nil
}

// PriceCart computes order totals for lines. Tax is rounded half-up to the nearest minor unit.
// Totals are summed in decimal and rejected with ErrAmountOutOfRange when they leave int64.
func PriceCart(lines []PricedLine) (OrderTotals, error) {
	subtotal := decimal.Zero
	for _, line := range lines {
		total, err := line.LineTotal()
		if err != nil {
			return OrderTotals{}, err
		}
		subtotal = subtotal.Add(decimal.NewFromInt(total))
	}
	tax := subtotal.Mul(TaxRate).Round(0)
	total := subtotal.Add(tax).Add(decimal.NewFromInt(ShippingFee))
	if total.GreaterThan(maxAmount) {
		return OrderTotals{}, fmt.Errorf("%w: total %s", ErrAmountOutOfRange, total)
	}
	return OrderTotals{
		ItemSubtotal: subtotal.IntPart(),
		Tax:          tax.IntPart(),
		Shipping:     ShippingFee,
		Total:        total.IntPart(),
	}, nil
}

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// FormatAmount renders minor units with two decimals, e.g. 135750 -> "1357.50".
func FormatAmount(minor int64) string {
	return decimal.New(minor, -minorUnitExponent).StringFixed(minorUnitExponent)
}
