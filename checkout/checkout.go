// Package checkout turns the signed-in owner's cart into an order
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"my-teddy/cart"
	"my-teddy/events"
	"my-teddy/models"
	"my-teddy/reconcile"
	"my-teddy/store"
)

var (
	// ErrUnauthenticated is returned when nobody is signed in.
	ErrUnauthenticated = errors.New("not signed in")
	// ErrEmptyCart is returned when there is nothing to order.
	ErrEmptyCart = errors.New("cart is empty")
)

// Form is the checkout form. Payment fields are validated but never stored.
type Form struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Address    string `json:"address"`
	City       string `json:"city"`
	ZipCode    string `json:"zipCode"`
	CardNumber string `json:"cardNumber"`
	Expiry     string `json:"expiry"`
	CVV        string `json:"cvv"`
}

// FieldError describes one invalid form field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a Form
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "invalid checkout form: " + strings.Join(parts, "; ")
}

// Validate reports a *ValidationError when any field is missing or malformed
func (f Form) Validate() error {
	var errs []FieldError
	required := []struct{ name, value string }{
		{"firstName", f.FirstName},
		{"lastName", f.LastName},
		{"email", f.Email},
		{"address", f.Address},
		{"city", f.City},
		{"zipCode", f.ZipCode},
		{"cardNumber", f.CardNumber},
		{"expiry", f.Expiry},
		{"cvv", f.CVV},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, FieldError{Field: r.name, Message: "is required"})
		}
	}
	if f.Email != "" {
		if _, err := mail.ParseAddress(f.Email); err != nil {
			errs = append(errs, FieldError{Field: "email", Message: "is not a valid email address"})
		}
	}
	if pay := f.Payment(); pay.CVV != "" && len(pay.CVV) < 3 {
		errs = append(errs, FieldError{Field: "cvv", Message: "must be at least 3 characters"})
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

// Payment returns the card part of the form
func (f Form) Payment() models.PaymentDetails {
	return models.PaymentDetails{
		CardNumber: strings.TrimSpace(f.CardNumber),
		Expiry:     strings.TrimSpace(f.Expiry),
		CVV:        strings.TrimSpace(f.CVV),
	}
}

// Shipping returns the delivery part of the form
func (f Form) Shipping() models.ShippingInfo {
	return models.ShippingInfo{
		FirstName: strings.TrimSpace(f.FirstName),
		LastName:  strings.TrimSpace(f.LastName),
		Email:     strings.TrimSpace(f.Email),
		Address:   strings.TrimSpace(f.Address),
		City:      strings.TrimSpace(f.City),
		ZipCode:   strings.TrimSpace(f.ZipCode),
	}
}

// Confirmer sends the order confirmation email
type Confirmer interface {
	SendOrderConfirmation(ctx context.Context, to string, o models.Order) error
}

// MailTimeout bounds sending one confirmation email
const MailTimeout = 30 * time.Second

// Service places and lists orders
type Service struct {
	orders store.OrderStore
	events events.Publisher
	mail   Confirmer
	logger *zap.Logger
	now    func() time.Time

	outstanding sync.WaitGroup
}

// NewService wires the order store with the broker and the mailer
func NewService(orders store.OrderStore, pub events.Publisher, mail Confirmer, logger *zap.Logger) *Service {
	return &Service{
		orders: orders,
		events: pub,
		mail:   mail,
		logger: logger.Named("checkout"),
		now:    time.Now,
	}
}

// PlaceOrder stores an order for the cart's owner and clears the cart while
// holding it, so no add lands between the two. Publishing the event and
// emailing the confirmation never fail the order; the email is sent in the
// background.
func (s *Service) PlaceOrder(ctx context.Context, c *cart.Reconciler, form Form) (*models.Order, error) {
	owner, ok := c.Owner()
	if !ok {
		return nil, ErrUnauthenticated
	}
	if err := form.Validate(); err != nil {
		return nil, err
	}

	var order *models.Order
	out, err := c.Checkout(ctx, func(view cart.View) error {
		if len(view.Items) == 0 {
			return ErrEmptyCart
		}
		placed, err := s.orders.InsertOrder(ctx, models.Order{
			Owner:         owner,
			Items:         view.Items,
			ShippingInfo:  form.Shipping(),
			Total:         view.Total,
			OrderStatus:   models.OrderStatusProcessing,
			PaymentStatus: models.PaymentPaid,
			CreatedAt:     s.now().UTC(),
		})
		if err != nil {
			s.logger.Error("inserting order", zap.String("owner", owner), zap.Error(err))
			return fmt.Errorf("placing order: %w", err)
		}
		order = placed
		return nil
	})
	if err != nil {
		return nil, err
	}
	if order == nil {
		if out == reconcile.NoOwner {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("loading cart: %s", out)
	}

	log := s.logger.With(zap.String("order_id", order.ID), zap.String("owner", owner))
	log.Info("order placed", zap.Stringer("total", order.Total))
	if out != reconcile.OK {
		log.Warn("cart not cleared after order", zap.Stringer("outcome", out))
	}
	if err := s.events.PublishOrderPlaced(ctx, events.NewOrderPlaced(*order)); err != nil {
		log.Error("publishing order event", zap.Error(err))
	}
	s.confirm(*order, log)
	return order, nil
}

func (s *Service) confirm(order models.Order, log *zap.Logger) {
	s.outstanding.Add(1)
	go func() {
		defer s.outstanding.Done()
		ctx, cancel := context.WithTimeout(context.Background(), MailTimeout)
		defer cancel()
		if err := s.mail.SendOrderConfirmation(ctx, order.ShippingInfo.Email, order); err != nil {
			log.Error("sending order confirmation", zap.Error(err))
		}
	}()
}

// Wait blocks until every confirmation email started so far has been sent
// or has failed.
func (s *Service) Wait() {
	s.outstanding.Wait()
}

// Orders lists owner's orders newest first
func (s *Service) Orders(ctx context.Context, owner string) ([]models.Order, error) {
	orders, err := s.orders.ListOrders(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}
