// Package catalog filters and orders the product list for the shop page
package catalog

import (
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"my-teddy/models"
)

// AllCategories matches every product
const AllCategories = "all"

// Sort orders
const (
	SortNameAsc   = "name-asc"
	SortNameDesc  = "name-desc"
	SortPriceAsc  = "price-asc"
	SortPriceDesc = "price-desc"
)

// Query narrows a product list. Zero fields match everything.
type Query struct {
	Search   string
	Category string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Sort     string
}

// ParseQuery reads search, category, minPrice, maxPrice and sort from the
// query string. Malformed prices are ignored.
func ParseQuery(v url.Values) Query {
	q := Query{
		Search:   strings.TrimSpace(v.Get("search")),
		Category: v.Get("category"),
		Sort:     v.Get("sort"),
	}
	if d, err := decimal.NewFromString(v.Get("minPrice")); err == nil {
		q.MinPrice = &d
	}
	if d, err := decimal.NewFromString(v.Get("maxPrice")); err == nil {
		q.MaxPrice = &d
	}
	return q
}

func (q Query) matches(p models.Product) bool {
	if q.Search != "" {
		term := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(p.Name), term) &&
			!strings.Contains(strings.ToLower(p.Description), term) {
			return false
		}
	}
	if q.Category != "" && q.Category != AllCategories && p.Category != q.Category {
		return false
	}
	if q.MinPrice != nil && p.Price.LessThan(*q.MinPrice) {
		return false
	}
	if q.MaxPrice != nil && p.Price.GreaterThan(*q.MaxPrice) {
		return false
	}
	return true
}

// Apply returns the products matching q in the requested order. The input is
// not modified.
func (q Query) Apply(products []models.Product) []models.Product {
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if q.matches(p) {
			out = append(out, p)
		}
	}

	var less func(a, b models.Product) bool
	switch q.Sort {
	case SortNameDesc:
		less = func(a, b models.Product) bool { return strings.ToLower(a.Name) > strings.ToLower(b.Name) }
	case SortPriceAsc:
		less = func(a, b models.Product) bool { return a.Price.LessThan(b.Price) }
	case SortPriceDesc:
		less = func(a, b models.Product) bool { return a.Price.GreaterThan(b.Price) }
	default:
		less = func(a, b models.Product) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Categories returns "all" followed by each distinct non-empty category in
// the order first seen.
func Categories(products []models.Product) []string {
	seen := map[string]bool{}
	out := []string{AllCategories}
	for _, p := range products {
		if p.Category == "" || seen[p.Category] {
			continue
		}
		seen[p.Category] = true
		out = append(out, p.Category)
	}
	return out
}
