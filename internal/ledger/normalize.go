package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/grocery-tracker/internal/pricing"
)

// PlaceholderName names items persisted without a name
const PlaceholderName = "Item"

// maxQuantity keeps absurd persisted quantities inside int range
const maxQuantity = 1_000_000

// ErrDecode is returned when a persisted collection is not a JSON array at all
var ErrDecode = errors.New("decoding persisted collection")

// Normalizer maps persisted records of any schema version onto the current shapes.
//
// Older versions stored a single "price" field, "department" instead of "category",
// "pricingType" instead of "pricingMode" and a millisecond "timestamp". Every field is
// checked for type; anything missing or malformed gets a default instead of an error.
type Normalizer struct {
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewNormalizer creates a Normalizer that fills missing ids and timestamps from the given sources
func NewNormalizer(idGen IDGenerator, timeSrc TimeSource) *Normalizer {
	return &Normalizer{
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Item normalizes one decoded record into a LineItem
func (n *Normalizer) Item(raw map[string]any) LineItem {
	item := LineItem{
		ID:           firstString(raw, "id"),
		Name:         strings.TrimSpace(firstString(raw, "name")),
		Category:     CanonicalCategory(firstString(raw, "category", "department")),
		Quantity:     1,
		PricingMode:  pricing.Unit,
		LastModified: n.timestamp(raw, "lastModified", "timestamp"),
	}
	if item.ID == "" {
		item.ID = n.idGenerator.Generate()
	}
	if item.Name == "" {
		item.Name = PlaceholderName
	}

	if price, ok := number(raw["unitPrice"]); ok {
		item.UnitPrice = price
	} else if price, ok := number(raw["price"]); ok {
		item.UnitPrice = price
	}

	if q, ok := number(raw["quantity"]); ok && q > 0 {
		item.Quantity = int(math.Min(math.Max(math.Round(q), 1), maxQuantity))
	}

	if firstString(raw, "pricingMode", "pricingType") == string(pricing.Weight) {
		item.PricingMode = pricing.Weight
		grams := 0.0
		if w, ok := number(raw["weightGrams"]); ok && w > 0 {
			grams = w
		}
		item.WeightGrams = &grams
	}

	return item
}

// Purchase normalizes one decoded record into a Purchase.
// The persisted total is only kept when it is a finite number.
func (n *Normalizer) Purchase(raw map[string]any) Purchase {
	p := Purchase{
		ID:          firstString(raw, "id"),
		CommittedAt: n.timestamp(raw, "committedAt", "timestamp", "date"),
		Items:       n.items(raw["items"]),
	}
	if p.ID == "" {
		p.ID = n.idGenerator.Generate()
	}

	if total, ok := number(raw["total"]); ok {
		p.Total = total
	} else {
		p.Total = Total(p.Items).InexactFloat64()
	}
	return p
}

// Basket decodes a persisted basket. Items with a negative price are dropped.
func (n *Normalizer) Basket(data []byte) ([]LineItem, error) {
	records, err := decodeRecords(data)
	if err != nil {
		return nil, err
	}
	return n.items(records), nil
}

// Ledger decodes a persisted purchase history
func (n *Normalizer) Ledger(data []byte) ([]Purchase, error) {
	records, err := decodeRecords(data)
	if err != nil {
		return nil, err
	}

	purchases := make([]Purchase, 0, len(records))
	for _, r := range records {
		if m, ok := r.(map[string]any); ok {
			purchases = append(purchases, n.Purchase(m))
		}
	}
	return purchases, nil
}

func (n *Normalizer) items(value any) []LineItem {
	records, _ := value.([]any)
	items := make([]LineItem, 0, len(records))
	for _, r := range records {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		item := n.Item(m)
		if item.UnitPrice < 0 {
			continue
		}
		items = append(items, item)
	}
	return items
}

func (n *Normalizer) timestamp(raw map[string]any, keys ...string) time.Time {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t
			}
		case float64:
			// legacy records store milliseconds since the epoch
			if v > 0 && !math.IsInf(v, 0) && v < math.MaxInt64/float64(time.Millisecond) {
				return time.UnixMilli(int64(v)).UTC()
			}
		}
	}
	return n.timeSource.Now()
}

func decodeRecords(data []byte) ([]any, error) {
	var records []any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return records, nil
}

// firstString returns the first non-empty string (or number, formatted) among keys
func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// number accepts only JSON numbers
func number(value any) (float64, bool) {
	f, ok := value.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
