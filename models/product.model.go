package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlaceholderImage is used when a product has no images
const PlaceholderImage = "/placeholder.svg"

// Product represents a plush toy in the catalog
type Product struct {
	ID          string          `bson:"_id" json:"id"`
	Name        string          `bson:"name" json:"name"`
	Description string          `bson:"description" json:"description"`
	Price       decimal.Decimal `bson:"price" json:"price"`
	Category    string          `bson:"category" json:"category,omitempty"`
	Images      []string        `bson:"images" json:"images"`
	Materials   string          `bson:"materials" json:"materials,omitempty"`
	Size        string          `bson:"size" json:"size,omitempty"`
	Stock       int             `bson:"stock" json:"stock"`
	CreatedAt   time.Time       `bson:"created_at" json:"created_at"`
}

// CoverImage returns the first image or the placeholder
func (p Product) CoverImage() string {
	if len(p.Images) > 0 && p.Images[0] != "" {
		return p.Images[0]
	}
	return PlaceholderImage
}
