package extract

import (
	"encoding/xml"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/pricing"
)

// invoiceItem mirrors one <det> node of an electronic tax invoice (NF-e / NFC-e).
// Tags carry no namespace so documents with or without xmlns match alike.
type invoiceItem struct {
	Product struct {
		Name      string `xml:"xProd"`
		Unit      string `xml:"uCom"`
		Quantity  string `xml:"qCom"`
		UnitPrice string `xml:"vUnCom"`
		LineTotal string `xml:"vProd"`
	} `xml:"prod"`
}

// kilogramUnits are the commercial unit codes that denote weight pricing
var kilogramUnits = map[string]bool{
	"kg":    true,
	"kgs":   true,
	"kilo":  true,
	"kilos": true,
	"quilo": true,
}

// FromInvoice extracts candidates from a tax-invoice XML document, in document order.
// Input that is not shaped like an invoice yields no candidates.
func FromInvoice(document string) []Candidate {
	decoder := xml.NewDecoder(strings.NewReader(document))
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	candidates := make([]Candidate, 0)
	for {
		tok, err := decoder.Token()
		if err != nil {
			// io.EOF or a malformed tail: keep what was read so far
			return candidates
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "det" {
			continue
		}

		var item invoiceItem
		if err := decoder.DecodeElement(&item, &start); err != nil {
			return candidates
		}
		if c, ok := item.candidate(); ok {
			candidates = append(candidates, c)
		}
	}
}

func (item invoiceItem) candidate() (Candidate, bool) {
	p := item.Product

	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = PlaceholderName
	}

	quantity, ok := parseLocaleNumber(p.Quantity)
	if !ok {
		quantity = 1
	}

	unitPrice, ok := parseLocaleNumber(p.UnitPrice)
	if !ok || unitPrice <= 0 {
		if quantity == 0 {
			return Candidate{}, false
		}
		lineTotal, ok := parseLocaleNumber(p.LineTotal)
		if !ok {
			return Candidate{}, false
		}
		unitPrice = decimal.NewFromFloat(lineTotal).
			Div(decimal.NewFromFloat(quantity)).
			InexactFloat64()
	}
	if unitPrice <= 0 || math.IsNaN(unitPrice) || math.IsInf(unitPrice, 0) {
		return Candidate{}, false
	}

	if kilogramUnits[strings.ToLower(strings.TrimSpace(p.Unit))] {
		grams := math.Round(quantity * 1000)
		if grams <= 0 || math.IsNaN(grams) || math.IsInf(grams, 0) {
			return Candidate{}, false
		}
		return Candidate{
			Name:        name,
			UnitPrice:   unitPrice,
			Quantity:    1,
			PricingMode: pricing.Weight,
			WeightGrams: grams,
		}, true
	}

	return Candidate{
		Name:        name,
		UnitPrice:   unitPrice,
		Quantity:    max(1, int(math.Round(quantity))),
		PricingMode: pricing.Unit,
	}, true
}
