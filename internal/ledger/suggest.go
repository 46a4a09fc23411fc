package ledger

import (
	"strings"

	"github.com/zombor/grocery-tracker/internal/pricing"
)

// DefaultWeightGrams is the starting weight offered for produce sold by the kilo
const DefaultWeightGrams = 500

// produceCategory is the only category where weight pricing is suggested
const produceCategory = "Hortifruti"

var weightKeywords = []string{
	"alho", "cebola", "tomate", "banana", "maçã", "laranja", "limão", "mamão", "alface",
	"couve", "brócolis", "abobrinha", "pepino", "pimentão", "batata", "abacate", "abacaxi",
	"melão", "melancia", "uva", "manga", "pera", "pêssego", "cenoura", "beterraba",
	"morango", "goiaba",
}

// SuggestPricingMode guesses whether a product is usually sold by weight.
// It only ever suggests; the user picks the final mode.
func SuggestPricingMode(name, category string) (pricing.Mode, float64) {
	if CanonicalCategory(category) != produceCategory {
		return pricing.Unit, 0
	}
	lower := strings.ToLower(name)
	for _, keyword := range weightKeywords {
		if strings.Contains(lower, keyword) {
			return pricing.Weight, DefaultWeightGrams
		}
	}
	return pricing.Unit, 0
}
