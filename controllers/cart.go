package controllers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"my-teddy/cart"
	"my-teddy/store"
	"my-teddy/utils"
)

// CartController handles cart-related requests
type CartController struct {
	Products store.ProductStore
	Logger   *zap.Logger
}

// NewCartController creates a new CartController. Names, prices and images
// of added lines come from the catalog, not from the request.
func NewCartController(products store.ProductStore, logger *zap.Logger) *CartController {
	return &CartController{Products: products, Logger: logger.Named("cart_controller")}
}

// GetCart returns the shopper's cart once the load started at sign-in has
// finished. A failed load still answers, with state loading and a notice.
func (cc *CartController) GetCart(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	s.Cart.Settle(ctx)
	respond(w, s, http.StatusOK, s.Cart.View())
}

// AddToCart adds a product to the shopper's cart
func (cc *CartController) AddToCart(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	var req struct {
		ProductID string `json:"productId"`
		Quantity  *int   `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	product, err := cc.Products.GetProduct(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.WriteError(w, http.StatusNotFound, "not_found", "Product not found")
			return
		}
		cc.Logger.Error("fetching product", zap.String("product_id", req.ProductID), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error fetching product")
		return
	}

	out := s.Cart.Add(ctx, cart.NewLine{
		ProductID: product.ID,
		Name:      product.Name,
		Price:     product.Price,
		Quantity:  qty,
		Image:     product.CoverImage(),
	})
	respondOutcome(w, s, out, s.Cart.View())
}

// UpdateQuantity sets the quantity of one line
func (cc *CartController) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	out := s.Cart.UpdateQuantity(ctx, mux.Vars(r)["lineId"], req.Quantity)
	respondOutcome(w, s, out, s.Cart.View())
}

// RemoveFromCart removes one line from the shopper's cart
func (cc *CartController) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	out := s.Cart.Remove(ctx, mux.Vars(r)["lineId"])
	respondOutcome(w, s, out, s.Cart.View())
}

// ClearCart empties the shopper's cart
func (cc *CartController) ClearCart(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	out := s.Cart.Clear(ctx)
	respondOutcome(w, s, out, s.Cart.View())
}
