package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/pricing"
)

// LineItem is a single priced entry in the basket or in a purchase
type LineItem struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	UnitPrice   float64      `json:"unitPrice"` // per unit, or per kilogram in weight mode
	Quantity    int          `json:"quantity"`
	PricingMode pricing.Mode `json:"pricingMode"`
	WeightGrams *float64     `json:"weightGrams,omitempty"` // set only in weight mode
	// LastModified orders items for display, most recent first
	LastModified time.Time `json:"lastModified"`
}

// Value returns the monetary value of the item
func (i LineItem) Value() decimal.Decimal {
	grams := 0.0
	if i.WeightGrams != nil {
		grams = *i.WeightGrams
	}
	return pricing.Value(i.PricingMode, i.UnitPrice, i.Quantity, grams)
}

// Purchase is a committed snapshot of a basket
type Purchase struct {
	ID          string     `json:"id"`
	CommittedAt time.Time  `json:"committedAt"`
	Items       []LineItem `json:"items"`
	Total       float64    `json:"total"`
}

// Total sums the value of items
func Total(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Value())
	}
	return total
}

// CatchAllCategory collects everything without a known category
const CatchAllCategory = "Outros"

// Categories is the closed, display-ordered category set
var Categories = []string{
	"Hortifruti",
	"Açougue",
	"Padaria",
	"Laticínios",
	"Mercearia",
	"Bebidas",
	"Limpeza",
	"Higiene pessoal",
	"Congelados",
	"Pet",
	CatchAllCategory,
}

var categoryRank = func() map[string]int {
	rank := make(map[string]int, len(Categories))
	for i, c := range Categories {
		rank[c] = i
	}
	return rank
}()

// CanonicalCategory maps a label onto the category set, case-insensitively.
// Blank labels become the catch-all; unknown labels are kept as given.
func CanonicalCategory(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return CatchAllCategory
	}
	for _, c := range Categories {
		if strings.EqualFold(c, label) {
			return c
		}
	}
	return label
}

func copyItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	for i, item := range items {
		if item.WeightGrams != nil {
			w := *item.WeightGrams
			item.WeightGrams = &w
		}
		out[i] = item
	}
	return out
}
