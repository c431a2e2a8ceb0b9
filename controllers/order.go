package controllers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"my-teddy/checkout"
	"my-teddy/utils"
)

// OrderController handles checkout and order history
type OrderController struct {
	Checkout *checkout.Service
	Logger   *zap.Logger
}

// NewOrderController creates a new OrderController
func NewOrderController(svc *checkout.Service, logger *zap.Logger) *OrderController {
	return &OrderController{Checkout: svc, Logger: logger.Named("order_controller")}
}

// CreateOrder places an order from the shopper's cart
func (oc *OrderController) CreateOrder(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	var form checkout.Form
	if !decode(w, r, &form) {
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	order, err := oc.Checkout.PlaceOrder(ctx, s.Cart, form)
	var verr *checkout.ValidationError
	switch {
	case err == nil:
		respond(w, s, http.StatusCreated, order)
	case errors.As(err, &verr):
		utils.WriteJSON(w, http.StatusUnprocessableEntity, utils.ErrorBody{
			Error:   "invalid_input",
			Message: "Please correct the highlighted fields",
			Details: verr.Fields,
		})
	case errors.Is(err, checkout.ErrEmptyCart):
		utils.WriteError(w, http.StatusBadRequest, "empty_cart", "Cart is empty")
	case errors.Is(err, checkout.ErrUnauthenticated):
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Please log in to check out")
	default:
		oc.Logger.Error("placing order", zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to create order")
	}
}

// GetOrders lists the shopper's orders newest first
func (oc *OrderController) GetOrders(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	owner, present := s.Session.Owner()
	if !present {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	orders, err := oc.Checkout.Orders(ctx, owner)
	if err != nil {
		oc.Logger.Error("listing orders", zap.String("owner", owner), zap.Error(err))
		utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve orders")
		return
	}
	respond(w, s, http.StatusOK, orders)
}
