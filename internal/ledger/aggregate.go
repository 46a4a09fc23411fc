package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/pricing"
)

// HistoryWindow is the trailing period used for recent spending
const HistoryWindow = 30 * 24 * time.Hour

// CategoryGroup is one category's slice of a set of items
type CategoryGroup struct {
	Category string          `json:"category"`
	Items    []LineItem      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Percent  int             `json:"percent"`
}

// CategoryTotal is spending attributed to one category
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Percent  int             `json:"percent"`
}

// History summarizes every committed purchase
type History struct {
	Categories    []CategoryTotal `json:"categories"`
	AllTime       decimal.Decimal `json:"allTime"`
	LastWindow    decimal.Decimal `json:"last30Days"`
	TopCategory   string          `json:"topCategory,omitempty"`
	PurchaseCount int             `json:"purchaseCount"`
}

// GroupByCategory partitions items by category. Groups follow the canonical category
// order, then other labels alphabetically; items inside a group are most recent first.
func GroupByCategory(items []LineItem) []CategoryGroup {
	byCategory := make(map[string][]LineItem)
	for _, item := range items {
		byCategory[item.Category] = append(byCategory[item.Category], item)
	}

	names := make([]string, 0, len(byCategory))
	for name := range byCategory {
		names = append(names, name)
	}
	sortCategories(names)

	total := Total(items)
	groups := make([]CategoryGroup, 0, len(names))
	for _, name := range names {
		groupItems := byCategory[name]
		sort.SliceStable(groupItems, func(i, j int) bool {
			return groupItems[i].LastModified.After(groupItems[j].LastModified)
		})
		subtotal := Total(groupItems)
		groups = append(groups, CategoryGroup{
			Category: name,
			Items:    groupItems,
			Subtotal: subtotal,
			Percent:  pricing.Percent(subtotal, total),
		})
	}
	return groups
}

// DominantCategory returns the category with the largest spend among items.
// Ties go to the category seen first; ok is false when there are no items.
func DominantCategory(items []LineItem) (top CategoryTotal, ok bool) {
	totals := categoryTotals(items, nil)
	if len(totals) == 0 {
		return CategoryTotal{}, false
	}

	top = totals[0]
	for _, t := range totals[1:] {
		if t.Total.GreaterThan(top.Total) {
			top = t
		}
	}
	top.Percent = pricing.Percent(top.Total, Total(items))
	return top, true
}

// Summarize aggregates spending across purchases. Purchases committed at or after
// now minus HistoryWindow count towards the trailing total.
func Summarize(purchases []Purchase, now time.Time) History {
	cutoff := now.Add(-HistoryWindow)

	var all []CategoryTotal
	allTime, recent := decimal.Zero, decimal.Zero
	for _, p := range purchases {
		value := Total(p.Items)
		allTime = allTime.Add(value)
		if !p.CommittedAt.Before(cutoff) {
			recent = recent.Add(value)
		}
		all = categoryTotals(p.Items, all)
	}

	h := History{
		Categories:    all,
		AllTime:       allTime,
		LastWindow:    recent,
		PurchaseCount: len(purchases),
	}
	if h.Categories == nil {
		h.Categories = []CategoryTotal{}
	}

	var top *CategoryTotal
	for i := range h.Categories {
		h.Categories[i].Percent = pricing.Percent(h.Categories[i].Total, allTime)
		if top == nil || h.Categories[i].Total.GreaterThan(top.Total) {
			top = &h.Categories[i]
		}
	}
	if top != nil {
		h.TopCategory = top.Category
	}
	return h
}

// categoryTotals adds the value of items to acc per category, keeping first-seen order
func categoryTotals(items []LineItem, acc []CategoryTotal) []CategoryTotal {
	for _, item := range items {
		found := false
		for i := range acc {
			if acc[i].Category == item.Category {
				acc[i].Total = acc[i].Total.Add(item.Value())
				found = true
				break
			}
		}
		if !found {
			acc = append(acc, CategoryTotal{Category: item.Category, Total: item.Value()})
		}
	}
	return acc
}

func sortCategories(names []string) {
	sort.Slice(names, func(i, j int) bool {
		ri, iKnown := categoryRank[names[i]]
		rj, jKnown := categoryRank[names[j]]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return names[i] < names[j]
		}
	})
}
