package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"my-teddy/middleware"
	"my-teddy/notify"
	"my-teddy/reconcile"
	"my-teddy/storefront"
	"my-teddy/utils"
)

// requestTimeout bounds the store calls of one request
const requestTimeout = 5 * time.Second

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", "Invalid input")
		return false
	}
	return true
}

func shopper(w http.ResponseWriter, r *http.Request) (*storefront.Shopper, bool) {
	s, ok := middleware.ShopperFrom(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized")
		return nil, false
	}
	return s, true
}

// outcomeStatus maps a reconciler outcome to an HTTP status. Duplicates and
// no-ops are successful requests.
func outcomeStatus(out reconcile.Outcome) int {
	switch out {
	case reconcile.OK, reconcile.Noop, reconcile.Duplicate:
		return http.StatusOK
	case reconcile.NoOwner:
		return http.StatusUnauthorized
	case reconcile.Stale:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

// envelope is the body of every shopper response
type envelope struct {
	Outcome *reconcile.Outcome `json:"outcome,omitempty"`
	Data    any                `json:"data,omitempty"`
	Notices []notify.Notice    `json:"notices"`
}

func respond(w http.ResponseWriter, s *storefront.Shopper, status int, data any) {
	utils.WriteJSON(w, status, envelope{Data: data, Notices: s.Inbox.Drain()})
}

func respondOutcome(w http.ResponseWriter, s *storefront.Shopper, out reconcile.Outcome, data any) {
	utils.WriteJSON(w, outcomeStatus(out), envelope{Outcome: &out, Data: data, Notices: s.Inbox.Drain()})
}

// NoticesController drains the shopper's inbox
type NoticesController struct{}

// GetNotices returns and clears pending notices
func (NoticesController) GetNotices(w http.ResponseWriter, r *http.Request) {
	s, ok := shopper(w, r)
	if !ok {
		return
	}
	respond(w, s, http.StatusOK, nil)
}
