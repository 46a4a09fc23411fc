package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/zombor/grocery-tracker/internal/pricing"
)

var (
	// ErrValidation is wrapped by every ValidationError
	ErrValidation       = errors.New("invalid item")
	ErrItemNotFound     = errors.New("item not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrEmptyBasket      = errors.New("basket is empty")
	ErrBasketNotEmpty   = errors.New("basket has uncommitted items")
	ErrNoRecognizer     = errors.New("text recognition is not configured")
)

// ValidationError rejects user input before it reaches the basket
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ItemInput is a manual entry or an edit of a basket item
type ItemInput struct {
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	UnitPrice   float64      `json:"unitPrice"`
	Quantity    int          `json:"quantity"`
	PricingMode pricing.Mode `json:"pricingMode"`
	WeightGrams float64      `json:"weightGrams"`
}

// Validate checks price, quantity and, in weight mode, weight
func (in ItemInput) Validate() error {
	if math.IsNaN(in.UnitPrice) || math.IsInf(in.UnitPrice, 0) || in.UnitPrice <= 0 {
		return &ValidationError{Field: "unitPrice", Reason: "must be greater than zero"}
	}
	if in.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	switch in.mode() {
	case pricing.Unit:
	case pricing.Weight:
		if math.IsNaN(in.WeightGrams) || math.IsInf(in.WeightGrams, 0) || in.WeightGrams <= 0 {
			return &ValidationError{Field: "weightGrams", Reason: "must be greater than zero when pricing by weight"}
		}
	default:
		return &ValidationError{Field: "pricingMode", Reason: fmt.Sprintf("unknown mode %q", in.PricingMode)}
	}
	return nil
}

func (in ItemInput) mode() pricing.Mode {
	if in.PricingMode == "" {
		return pricing.Unit
	}
	return in.PricingMode
}

// weight returns the weight to store: set in weight mode, nil otherwise
func (in ItemInput) weight() *float64 {
	if in.mode() != pricing.Weight {
		return nil
	}
	w := in.WeightGrams
	return &w
}
