package pricing

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Mode selects how a unit price is interpreted
type Mode string

const (
	// Unit prices are per discrete unit
	Unit Mode = "unit"
	// Weight prices are per kilogram
	Weight Mode = "weight"
)

var hundred = decimal.NewFromInt(100)

// Amount converts a float into a decimal, mapping NaN and infinities to zero
func Amount(f float64) decimal.Decimal {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

// Value computes the monetary value of a priced line.
//
// Unit mode is unitPrice × quantity. Weight mode is unitPrice × weightGrams/1000 × quantity,
// where a quantity below 1 counts as 1. A weight-priced line without a weight is worth zero.
func Value(mode Mode, unitPrice float64, quantity int, weightGrams float64) decimal.Decimal {
	price := Amount(unitPrice)
	if mode == Weight {
		if quantity < 1 {
			quantity = 1
		}
		kilos := Amount(weightGrams).Shift(-3)
		return price.Mul(kilos).Mul(decimal.NewFromInt(int64(quantity)))
	}
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}

// Percent returns part/total as a whole percentage, or 0 when total is not positive
func Percent(part, total decimal.Decimal) int {
	if !total.IsPositive() {
		return 0
	}
	return int(part.Mul(hundred).Div(total).Round(0).IntPart())
}

// FormatBRL renders an amount for display, e.g. "R$ 1.234,50"
func FormatBRL(amount decimal.Decimal) string {
	sign := ""
	if amount.IsNegative() {
		sign = "-"
		amount = amount.Neg()
	}
	fixed := amount.StringFixed(2)
	whole, cents, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + "R$ " + b.String() + "," + cents
}
