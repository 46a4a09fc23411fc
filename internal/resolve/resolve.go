package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/zombor/grocery-tracker/internal/extract"
)

// ErrNoItemsFound is returned when neither extractor finds anything in a fetched document
var ErrNoItemsFound = errors.New("no items found in document")

// FetchError reports a failed fetch: a transport error or a non-success status
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Message is the text shown to the user
func (e *FetchError) Message() string {
	return "Não foi possível carregar a nota por este endereço. O site da SEFAZ costuma bloquear " +
		"requisições de outras origens (CORS). Abra o link no navegador e cole o texto da página."
}

// Resolver turns an invoice URL into candidate line items
type Resolver struct {
	fetcher Fetcher
}

// NewResolver creates a Resolver that fetches with fetcher
func NewResolver(fetcher Fetcher) *Resolver {
	return &Resolver{
		fetcher: fetcher,
	}
}

// Resolve fetches rawURL once and extracts candidates, trying the invoice
// parser first and falling back to freeform text.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) ([]extract.Candidate, error) {
	target := strings.TrimSpace(rawURL)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		if err == nil {
			err = fmt.Errorf("not an http(s) url: %q", target)
		}
		return nil, &FetchError{URL: target, Err: err}
	}

	resp, err := r.fetcher.Fetch(ctx, target)
	if err != nil {
		slog.Warn("Failed to fetch invoice", "url", target, "error", err)
		return nil, &FetchError{URL: target, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("Invoice fetch returned non-success status", "url", target, "status", resp.StatusCode)
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode}
	}

	if candidates := extract.FromInvoice(resp.Body); len(candidates) > 0 {
		slog.Debug("Resolved invoice document", "url", target, "items", len(candidates))
		return candidates, nil
	}

	if candidates := extract.FromText(resp.Body, extract.SourceHTML); len(candidates) > 0 {
		slog.Debug("Resolved invoice from page text", "url", target, "items", len(candidates))
		return candidates, nil
	}

	return nil, ErrNoItemsFound
}
