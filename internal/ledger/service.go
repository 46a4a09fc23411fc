package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/extract"
	"github.com/zombor/grocery-tracker/internal/scanning"
)

// IDGenerator generates unique IDs for items and purchases
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Resolver turns an invoice URL into candidates
type Resolver interface {
	Resolve(ctx context.Context, url string) ([]extract.Candidate, error)
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service owns the basket, the purchase ledger and the pending import candidates.
// Every mutation is written through to the store; a failed write is logged and returned
// while the in-memory state stays authoritative.
type Service struct {
	store       Store
	resolver    Resolver
	recognizer  scanning.Recognizer
	normalizer  *Normalizer
	idGenerator IDGenerator
	timeSource  TimeSource

	mu        sync.Mutex
	basket    []LineItem
	purchases []Purchase
	pending   []extract.Candidate
	editing   string // purchase being edited, if any
}

// NewService creates a new Service with uuid ids and the wall clock
func NewService(store Store, resolver Resolver, recognizer scanning.Recognizer) *Service {
	return NewServiceWithDeps(store, resolver, recognizer, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store Store, resolver Resolver, recognizer scanning.Recognizer, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:       store,
		resolver:    resolver,
		recognizer:  recognizer,
		normalizer:  NewNormalizer(idGen, timeSrc),
		idGenerator: idGen,
		timeSource:  timeSrc,
		basket:      []LineItem{},
		purchases:   []Purchase{},
	}
}

// Load rehydrates the basket and the ledger from the store. Unreadable state is
// logged and the affected collection starts empty.
func (s *Service) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.basket = []LineItem{}
	if data, ok := s.read(BasketKey); ok {
		items, err := s.normalizer.Basket(data)
		if err != nil {
			slog.Warn("Failed to decode basket, starting empty", "key", BasketKey, "error", err)
		} else {
			s.basket = items
		}
	}

	s.purchases = []Purchase{}
	if data, ok := s.read(LedgerKey); ok {
		purchases, err := s.normalizer.Ledger(data)
		if err != nil {
			slog.Warn("Failed to decode ledger, starting empty", "key", LedgerKey, "error", err)
		} else {
			s.purchases = purchases
		}
	}

	slog.Info("Loaded state", "basket_items", len(s.basket), "purchases", len(s.purchases))
}

func (s *Service) read(key string) ([]byte, bool) {
	data, err := s.store.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, false
	}
	if err != nil {
		slog.Warn("Failed to read persisted state", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

// Basket returns the visible basket items, most recently modified first.
// Zero-priced items carried over from old data are kept in storage but never shown.
func (s *Service) Basket() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked()
}

func (s *Service) visibleLocked() []LineItem {
	items := make([]LineItem, 0, len(s.basket))
	for _, item := range copyItems(s.basket) {
		if item.UnitPrice > 0 {
			items = append(items, item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].LastModified.After(items[j].LastModified)
	})
	return items
}

// BasketView is the grouped basket with its total and reduction tip
type BasketView struct {
	Groups          []CategoryGroup `json:"groups"`
	Total           decimal.Decimal `json:"total"`
	ItemCount       int             `json:"itemCount"`
	Tip             *CategoryTotal  `json:"tip,omitempty"`
	EditingPurchase string          `json:"editingPurchase,omitempty"`
}

// BasketView groups the visible basket by category
func (s *Service) BasketView() BasketView {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.visibleLocked()
	view := BasketView{
		Groups:          GroupByCategory(items),
		Total:           Total(items),
		ItemCount:       len(items),
		EditingPurchase: s.editing,
	}
	if top, ok := DominantCategory(items); ok {
		view.Tip = &top
	}
	return view
}

// AddItem validates input and puts a new item at the top of the basket
func (s *Service) AddItem(in ItemInput) (LineItem, error) {
	if err := in.Validate(); err != nil {
		return LineItem{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.newItemLocked(in)
	s.basket = append([]LineItem{item}, s.basket...)
	return item, s.saveBasketLocked()
}

func (s *Service) newItemLocked(in ItemInput) LineItem {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = PlaceholderName
	}
	return LineItem{
		ID:           s.idGenerator.Generate(),
		Name:         name,
		Category:     CanonicalCategory(in.Category),
		UnitPrice:    in.UnitPrice,
		Quantity:     in.Quantity,
		PricingMode:  in.mode(),
		WeightGrams:  in.weight(),
		LastModified: s.timeSource.Now(),
	}
}

func candidateInput(c extract.Candidate, category string) ItemInput {
	return ItemInput{
		Name:        c.Name,
		Category:    category,
		UnitPrice:   c.UnitPrice,
		Quantity:    c.Quantity,
		PricingMode: c.PricingMode,
		WeightGrams: c.WeightGrams,
	}
}

// AcceptCandidate adds a single reviewed candidate to the basket
func (s *Service) AcceptCandidate(c extract.Candidate, category string) (LineItem, error) {
	return s.AddItem(candidateInput(c, category))
}

// AcceptCandidates adds every valid candidate to the basket in one write.
// Invalid candidates are skipped and counted.
func (s *Service) AcceptCandidates(candidates []extract.Candidate, category string) ([]LineItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acceptLocked(candidates, category)
}

func (s *Service) acceptLocked(candidates []extract.Candidate, category string) ([]LineItem, int, error) {
	accepted := make([]LineItem, 0, len(candidates))
	skipped := 0
	for _, c := range candidates {
		in := candidateInput(c, category)
		if err := in.Validate(); err != nil {
			skipped++
			continue
		}
		accepted = append(accepted, s.newItemLocked(in))
	}
	if len(accepted) == 0 {
		return accepted, skipped, nil
	}

	s.basket = append(append([]LineItem{}, accepted...), s.basket...)
	return accepted, skipped, s.saveBasketLocked()
}

// PendingCandidates returns the result of the latest import
func (s *Service) PendingCandidates() []extract.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]extract.Candidate{}, s.pending...)
}

// AcceptPending moves the pending candidates at indexes into the basket; no indexes means all of them
func (s *Service) AcceptPending(indexes []int, category string) ([]LineItem, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(indexes) == 0 {
		chosen := s.pending
		s.pending = []extract.Candidate{}
		return s.acceptLocked(chosen, category)
	}

	selected := make(map[int]bool, len(indexes))
	for _, idx := range indexes {
		if idx < 0 || idx >= len(s.pending) {
			return nil, 0, &ValidationError{Field: "index", Reason: fmt.Sprintf("%d is out of range", idx)}
		}
		selected[idx] = true
	}

	chosen := make([]extract.Candidate, 0, len(selected))
	rest := make([]extract.Candidate, 0, len(s.pending))
	for i, c := range s.pending {
		if selected[i] {
			chosen = append(chosen, c)
		} else {
			rest = append(rest, c)
		}
	}
	s.pending = rest
	return s.acceptLocked(chosen, category)
}

// DiscardPending drops the pending candidates
func (s *Service) DiscardPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = []extract.Candidate{}
}

func (s *Service) setPending(candidates []extract.Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if candidates == nil {
		candidates = []extract.Candidate{}
	}
	s.pending = candidates
}

// ImportURL resolves an invoice URL into pending candidates.
// On failure the pending list is left empty and nothing persisted changes.
func (s *Service) ImportURL(ctx context.Context, url string) ([]extract.Candidate, error) {
	candidates, err := s.resolver.Resolve(ctx, url)
	if err != nil {
		s.setPending(nil)
		return nil, fmt.Errorf("resolving invoice url: %w", err)
	}
	s.setPending(candidates)
	return candidates, nil
}

// ImportText extracts pending candidates from pasted or recognized text.
// Pasted page text is tried as an invoice document first. Finding nothing is not an error.
func (s *Service) ImportText(text string, source extract.Source) []extract.Candidate {
	var candidates []extract.Candidate
	if source != extract.SourceOCR {
		candidates = extract.FromInvoice(text)
	}
	if len(candidates) == 0 {
		candidates = extract.FromText(text, source)
	}
	s.setPending(candidates)
	return candidates
}

// ImportPhoto recognizes the text of a receipt photo and extracts pending candidates from it
func (s *Service) ImportPhoto(ctx context.Context, imageData []byte, contentType string) ([]extract.Candidate, error) {
	if s.recognizer == nil {
		return nil, ErrNoRecognizer
	}

	text, err := s.recognizer.RecognizeText(ctx, imageData, contentType)
	if err != nil {
		slog.Error("Failed to recognize receipt text",
			"content_type", contentType,
			"file_size", len(imageData),
			"error", err,
		)
		s.setPending(nil)
		return nil, fmt.Errorf("recognizing receipt text: %w", err)
	}

	return s.ImportText(text, extract.SourceOCR), nil
}

// UpdateItem edits price, quantity and pricing mode of a basket item.
// Name and category change only when given.
func (s *Service) UpdateItem(id string, in ItemInput) (LineItem, error) {
	if err := in.Validate(); err != nil {
		return LineItem{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return LineItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}

	item := &s.basket[idx]
	if name := strings.TrimSpace(in.Name); name != "" {
		item.Name = name
	}
	if in.Category != "" {
		item.Category = CanonicalCategory(in.Category)
	}
	item.UnitPrice = in.UnitPrice
	item.Quantity = in.Quantity
	item.PricingMode = in.mode()
	item.WeightGrams = in.weight()
	item.LastModified = s.timeSource.Now()

	return *item, s.saveBasketLocked()
}

// AdjustQuantity changes an item's quantity by delta, never going below 1
func (s *Service) AdjustQuantity(id string, delta int) (LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return LineItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}

	item := &s.basket[idx]
	item.Quantity = max(1, item.Quantity+delta)
	item.LastModified = s.timeSource.Now()

	return *item, s.saveBasketLocked()
}

// RemoveItem deletes an item from the basket
func (s *Service) RemoveItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	s.basket = append(s.basket[:idx:idx], s.basket[idx+1:]...)
	return s.saveBasketLocked()
}

// ClearBasket empties the basket and abandons any purchase edit
func (s *Service) ClearBasket() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.basket = []LineItem{}
	s.editing = ""
	return s.saveBasketLocked()
}

// Commit freezes the basket into a purchase and empties it. When a purchase is being
// edited, its items and total are replaced instead and its commit time is kept.
func (s *Service) Commit() (Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.visibleLocked()
	if len(items) == 0 {
		return Purchase{}, ErrEmptyBasket
	}
	total := Total(items).InexactFloat64()

	var purchase Purchase
	if idx := s.purchaseIndexLocked(s.editing); s.editing != "" && idx >= 0 {
		s.purchases[idx].Items = items
		s.purchases[idx].Total = total
		purchase = s.purchases[idx]
	} else {
		purchase = Purchase{
			ID:          s.idGenerator.Generate(),
			CommittedAt: s.timeSource.Now(),
			Items:       items,
			Total:       total,
		}
		s.purchases = append(s.purchases, purchase)
	}

	s.basket = []LineItem{}
	s.editing = ""

	// The two collections are written independently; each is re-normalized on load
	ledgerErr := s.saveLedgerLocked()
	basketErr := s.saveBasketLocked()
	purchase.Items = copyItems(purchase.Items)
	return purchase, errors.Join(ledgerErr, basketErr)
}

// EditPurchase loads a purchase's items into the empty basket so the next Commit updates it
func (s *Service) EditPurchase(id string) ([]LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.purchaseIndexLocked(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrPurchaseNotFound, id)
	}
	if len(s.visibleLocked()) > 0 {
		return nil, ErrBasketNotEmpty
	}

	// Only zero-priced items can remain here; they stay stored alongside the edit
	items := copyItems(s.purchases[idx].Items)
	s.basket = append(copyItems(items), s.basket...)
	s.editing = id
	return items, s.saveBasketLocked()
}

// Purchases returns every purchase, most recent first
func (s *Service) Purchases() []Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Purchase, len(s.purchases))
	for i, p := range s.purchases {
		p.Items = copyItems(p.Items)
		out[i] = p
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CommittedAt.After(out[j].CommittedAt)
	})
	return out
}

// GetPurchase retrieves a purchase by ID
func (s *Service) GetPurchase(id string) (Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.purchaseIndexLocked(id)
	if idx < 0 {
		return Purchase{}, fmt.Errorf("%w: %s", ErrPurchaseNotFound, id)
	}
	p := s.purchases[idx]
	p.Items = copyItems(p.Items)
	return p, nil
}

// DeletePurchase removes a purchase from the ledger
func (s *Service) DeletePurchase(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.purchaseIndexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrPurchaseNotFound, id)
	}
	s.purchases = append(s.purchases[:idx:idx], s.purchases[idx+1:]...)
	if s.editing == id {
		s.editing = ""
	}
	return s.saveLedgerLocked()
}

// History summarizes spending across all purchases as of now
func (s *Service) History() History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summarize(s.purchases, s.timeSource.Now())
}

func (s *Service) indexLocked(id string) int {
	for i := range s.basket {
		if s.basket[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) purchaseIndexLocked(id string) int {
	for i := range s.purchases {
		if s.purchases[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Service) saveBasketLocked() error {
	return s.save(BasketKey, s.basket)
}

func (s *Service) saveLedgerLocked() error {
	return s.save(LedgerKey, s.purchases)
}

func (s *Service) save(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	if err := s.store.Set(key, data); err != nil {
		slog.Error("Failed to persist state", "key", key, "error", err)
		return fmt.Errorf("saving %s: %w", key, err)
	}
	return nil
}
