package models

import (
	"github.com/shopspring/decimal"
)

func init() {
	// Prices travel as JSON numbers, matching the persisted row shape.
	decimal.MarshalJSONWithoutQuotes = true
}

// CartLine represents one product in a cart
type CartLine struct {
	ID        string          `bson:"id" json:"id"`
	ProductID string          `bson:"productId" json:"productId"`
	Name      string          `bson:"name" json:"name"`
	Price     decimal.Decimal `bson:"price" json:"price"`
	Quantity  int             `bson:"quantity" json:"quantity"`
	Image     string          `bson:"image" json:"image"`
}

// Subtotal is price times quantity for the line
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartRecord represents the single persisted cart of an owner
type CartRecord struct {
	Owner string          `bson:"user_id" json:"user_id"`
	Items []CartLine      `bson:"items" json:"items"`
	Total decimal.Decimal `bson:"total" json:"total"`
}

// LinesTotal sums price times quantity over lines.
func LinesTotal(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// NewCartRecord builds a record whose total is derived from lines.
func NewCartRecord(owner string, lines []CartLine) CartRecord {
	return CartRecord{Owner: owner, Items: lines, Total: LinesTotal(lines)}
}
