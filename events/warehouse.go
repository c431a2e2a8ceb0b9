package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Warehouse tallies fulfilled orders and the quantity shipped per product
type Warehouse struct {
	logger *zap.Logger

	mu        sync.Mutex
	orders    int
	byProduct map[string]int64
	seen      map[string]bool
}

// NewWarehouse returns an empty tally
func NewWarehouse(logger *zap.Logger) *Warehouse {
	return &Warehouse{
		logger:    logger.Named("warehouse"),
		byProduct: make(map[string]int64),
		seen:      make(map[string]bool),
	}
}

// Handle is a Handler. Redelivered orders are counted once.
func (w *Warehouse) Handle(_ context.Context, e OrderPlaced) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[e.OrderID] {
		w.logger.Debug("order already fulfilled", zap.String("order_id", e.OrderID))
		return nil
	}
	w.seen[e.OrderID] = true
	w.orders++
	for _, l := range e.Items {
		w.byProduct[l.ProductID] += int64(l.Quantity)
	}
	w.logger.Info("order fulfilled", zap.String("order_id", e.OrderID), zap.Int("lines", len(e.Items)))
	return nil
}

// Orders is the number of distinct orders handled
func (w *Warehouse) Orders() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.orders
}

// Shipped returns the quantity shipped for productID
func (w *Warehouse) Shipped(productID string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.byProduct[productID]
}
