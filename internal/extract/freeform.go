package extract

import (
	"math"
	"regexp"
	"strings"

	"github.com/zombor/grocery-tracker/internal/pricing"
)

// Source identifies where freeform text came from
type Source string

const (
	// SourceHTML is a fetched page that did not parse as an invoice
	SourceHTML Source = "html"
	// SourceOCR is text recognized from a receipt photo
	SourceOCR Source = "ocr"
)

const (
	MaxHTMLCandidates = 30
	MaxOCRCandidates  = 20
)

var (
	// \s is ASCII-only in RE2; \p{Zs} adds the no-break space that &nbsp; decodes to
	reWhitespace  = regexp.MustCompile(`[\s\p{Zs}]+`)
	reLineNewline = regexp.MustCompile(`\r\n?|\n`)
	// description, whitespace, optional currency symbol, amount with two decimals at end of line
	rePricedLine = regexp.MustCompile(`^(.+?)[\s\p{Zs}]+(?:R\$[\s\p{Zs}]*)?(\d{1,3}(?:[.,]\d{3})+[.,]\d{2}|\d+[.,]\d{2})$`)
	reNameNoise  = regexp.MustCompile(`[^\p{L}\p{N}\s\p{Zs}]+`)
)

// receiptNoise are footer and payment terms found on printed receipts
var receiptNoise = []string{
	"subtotal",
	"sub total",
	"total",
	"troco",
	"change",
	"cartao",
	"cartão",
	"card",
	"pix",
	"credito",
	"crédito",
	"credit",
	"debito",
	"débito",
	"debit",
	"dinheiro",
	"cash",
	"valor recebido",
	"valor pago",
	"amount received",
}

// FromText extracts unit-priced candidates from line-oriented text.
// HTML input is flattened to text first; OCR input additionally drops payment and total lines.
func FromText(text string, source Source) []Candidate {
	limit := MaxHTMLCandidates
	if source == SourceOCR {
		limit = MaxOCRCandidates
	} else {
		text = FlattenHTML(text)
	}

	candidates := make([]Candidate, 0)
	for _, raw := range reLineNewline.Split(text, -1) {
		if len(candidates) >= limit {
			break
		}
		line := strings.TrimSpace(reWhitespace.ReplaceAllString(raw, " "))
		if line == "" {
			continue
		}

		c, ok := parsePricedLine(line)
		if !ok {
			continue
		}
		if source == SourceOCR && isReceiptNoise(c.Name) {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func parsePricedLine(line string) (Candidate, bool) {
	m := rePricedLine.FindStringSubmatch(line)
	if m == nil {
		return Candidate{}, false
	}

	name := strings.TrimSpace(reWhitespace.ReplaceAllString(reNameNoise.ReplaceAllString(m[1], ""), " "))
	if name == "" {
		return Candidate{}, false
	}

	price, ok := parseLocaleNumber(m[2])
	if !ok || price <= 0 || math.IsInf(price, 0) {
		return Candidate{}, false
	}

	return Candidate{
		Name:        name,
		UnitPrice:   price,
		Quantity:    1,
		PricingMode: pricing.Unit,
	}, true
}

func isReceiptNoise(name string) bool {
	lower := strings.ToLower(name)
	for _, term := range receiptNoise {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
