package controllers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"my-teddy/store"
	"my-teddy/utils"
)

// WishlistController handles wishlist requests
type WishlistController struct {
	Products store.ProductStore
	Logger   *zap.Logger
}

// NewWishlistController creates a new WishlistController
func NewWishlistController(products store.ProductStore, logger *zap.Logger) *WishlistController {
	return &WishlistController{Products: products, Logger: logger.Named("wishlist_controller")}
}

// GetWishlist returns the shopper's entries with their products
func (wc *WishlistController) GetWishlist(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	s.Wishlist.Settle(ctx)
	respond(w, s, http.StatusOK, s.Wishlist.Entries())
}

// AddToWishlist saves a product
func (wc *WishlistController) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	var req struct {
		ProductID string `json:"productId"`
	}
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if _, err := wc.Products.GetProduct(ctx, req.ProductID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.WriteError(w, http.StatusNotFound, "not_found", "Product not found")
			return
		}
		wc.Logger.Error("fetching product", zap.String("product_id", req.ProductID), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error fetching product")
		return
	}
	out := s.Wishlist.Add(ctx, req.ProductID)
	respondOutcome(w, s, out, s.Wishlist.Entries())
}

// RemoveFromWishlist deletes an entry by id
func (wc *WishlistController) RemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	out := s.Wishlist.Remove(ctx, mux.Vars(r)["entryId"])
	respondOutcome(w, s, out, s.Wishlist.Entries())
}

// WishlistStatus reports whether a product is saved and under which entry
func (wc *WishlistController) WishlistStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	s.Wishlist.Settle(ctx)
	id, present := s.Wishlist.IDFor(mux.Vars(r)["productId"])
	status := struct {
		InWishlist bool   `json:"inWishlist"`
		EntryID    string `json:"entryId,omitempty"`
	}{present, id}
	respond(w, s, http.StatusOK, status)
}
