// Package store defines the record stores behind the storefront and their
// memory, MongoDB and Postgres backends.
package store

import (
	"context"
	"errors"

	"my-teddy/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// CartStore keeps at most one cart record per owner.
type CartStore interface {
	FetchCart(ctx context.Context, owner string) (*models.CartRecord, error)
	// UpsertCart inserts the record or replaces the owner's existing one.
	UpsertCart(ctx context.Context, rec models.CartRecord) error
	// UpdateCart rewrites items and total of an existing record.
	UpdateCart(ctx context.Context, rec models.CartRecord) error
	DeleteCart(ctx context.Context, owner string) error
}

// WishlistStore keeps wishlist rows unique per (owner, product).
type WishlistStore interface {
	ListWishlist(ctx context.Context, owner string) ([]models.WishlistEntry, error)
	InsertWishlist(ctx context.Context, owner, productID string) (*models.WishlistEntry, error)
	DeleteWishlist(ctx context.Context, owner, entryID string) error
}

// ProductStore is the catalog.
type ProductStore interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	CreateProduct(ctx context.Context, p models.Product) (*models.Product, error)
	UpdateProduct(ctx context.Context, p models.Product) error
	DeleteProduct(ctx context.Context, id string) error
}

// OrderStore records placed orders.
type OrderStore interface {
	InsertOrder(ctx context.Context, o models.Order) (*models.Order, error)
	ListOrders(ctx context.Context, owner string) ([]models.Order, error)
}

// ProfileStore keeps one profile per owner.
type ProfileStore interface {
	GetProfile(ctx context.Context, owner string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, p models.Profile) error
	SetAvatar(ctx context.Context, owner, url string) error
}

// UserStore keeps accounts unique by email.
type UserStore interface {
	CreateUser(ctx context.Context, u models.User) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id string) (*models.User, error)
	UserByVerificationToken(ctx context.Context, token string) (*models.User, error)
	MarkVerified(ctx context.Context, id string) error
}

// Store bundles every record store of one backend.
type Store interface {
	CartStore
	WishlistStore
	ProductStore
	OrderStore
	ProfileStore
	UserStore
	Close(ctx context.Context) error
}
