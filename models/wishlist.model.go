package models

import "time"

// WishlistEntry is one saved product of an owner
type WishlistEntry struct {
	ID        string    `bson:"_id" json:"id"`
	Owner     string    `bson:"user_id" json:"-"`
	ProductID string    `bson:"product_id" json:"product_id"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	// Product is joined in by the store on listing and may be nil.
	Product *Product `bson:"-" json:"product,omitempty"`
}
