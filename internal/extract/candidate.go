// Package extract turns fetched or recognized receipt text into candidate line items.
//
// Extractors never fail: a document that yields nothing returns an empty slice and
// the caller moves on to the next strategy.
package extract

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/pricing"
)

// PlaceholderName is used when a source gives an item no name
const PlaceholderName = "Item"

// Candidate is an unconfirmed line item proposed by an extractor
type Candidate struct {
	Name        string       `json:"name"`
	UnitPrice   float64      `json:"unitPrice"`
	Quantity    int          `json:"quantity"`
	PricingMode pricing.Mode `json:"pricingMode"`
	WeightGrams float64      `json:"weightGrams,omitempty"`
}

// Value is the monetary value the candidate would have once accepted
func (c Candidate) Value() decimal.Decimal {
	return pricing.Value(c.PricingMode, c.UnitPrice, c.Quantity, c.WeightGrams)
}

// parseLocaleNumber parses numbers written with either a comma or a dot as the
// decimal separator. When both appear, the last one is the decimal separator and
// the other groups thousands.
func parseLocaleNumber(input string) (float64, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, false
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0 && lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastComma >= 0 && lastDot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return 0, false
		}
		s = strings.Replace(s, ",", ".", 1)
	}

	// ParseFloat also accepts "NaN" and "Inf", which no receipt means
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
