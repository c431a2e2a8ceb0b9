package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShippingInfo is the delivery part of the checkout form
type ShippingInfo struct {
	FirstName string `bson:"firstName" json:"firstName"`
	LastName  string `bson:"lastName" json:"lastName"`
	Email     string `bson:"email" json:"email"`
	Address   string `bson:"address" json:"address"`
	City      string `bson:"city" json:"city"`
	ZipCode   string `bson:"zipCode" json:"zipCode"`
}

// Order represents a placed order
type Order struct {
	ID            string          `bson:"_id" json:"id"`
	Owner         string          `bson:"user_id" json:"user_id"`
	Items         []CartLine      `bson:"items" json:"items"`
	ShippingInfo  ShippingInfo    `bson:"shipping_info" json:"shipping_info"`
	Total         decimal.Decimal `bson:"total" json:"total"`
	OrderStatus   string          `bson:"order_status" json:"order_status"` // e.g., "processing", "shipped"
	PaymentStatus PaymentStatus   `bson:"payment_status" json:"payment_status"`
	CreatedAt     time.Time       `bson:"created_at" json:"created_at"`
}

// OrderStatusProcessing is the status of every freshly placed order
const OrderStatusProcessing = "processing"
