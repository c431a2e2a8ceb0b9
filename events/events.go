// Package events publishes order events to RabbitMQ and consumes them for
// fulfilment.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"my-teddy/models"
)

// DefaultQueue receives order.placed events
const DefaultQueue = "orders"

// TypeOrderPlaced is the AMQP message type of OrderPlaced
const TypeOrderPlaced = "order.placed"

// OrderPlaced is published once an order has been stored
type OrderPlaced struct {
	OrderID  string            `json:"orderId"`
	Owner    string            `json:"userId"`
	Email    string            `json:"email"`
	Items    []models.CartLine `json:"items"`
	Total    decimal.Decimal   `json:"total"`
	PlacedAt time.Time         `json:"placedAt"`
}

// NewOrderPlaced builds the event for a stored order
func NewOrderPlaced(o models.Order) OrderPlaced {
	return OrderPlaced{
		OrderID:  o.ID,
		Owner:    o.Owner,
		Email:    o.ShippingInfo.Email,
		Items:    o.Items,
		Total:    o.Total,
		PlacedAt: o.CreatedAt,
	}
}

// Publisher sends order events
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, e OrderPlaced) error
}

// Channel is the part of *amqp.Channel used here
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Broker owns an AMQP connection and one channel on it
type Broker struct {
	conn  *amqp.Connection
	ch    Channel
	queue string

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
}

// Dial connects to uri and declares the durable queue
func Dial(uri, queue string) (*Broker, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	b, err := NewBroker(ch, queue)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	b.conn = conn
	return b, nil
}

// NewBroker declares queue on ch
func NewBroker(ch Channel, queue string) (*Broker, error) {
	if queue == "" {
		queue = DefaultQueue
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declaring queue %s: %w", queue, err)
	}
	return &Broker{ch: ch, queue: queue}, nil
}

// PublishOrderPlaced sends e as a persistent JSON message
func (b *Broker) PublishOrderPlaced(ctx context.Context, e OrderPlaced) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding order event: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err = b.ch.PublishWithContext(ctx, "", b.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.OrderID,
		Type:         TypeOrderPlaced,
		Timestamp:    e.PlacedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing order %s: %w", e.OrderID, err)
	}
	return nil
}

// Handler processes one decoded event. A returned error rejects the message.
type Handler func(ctx context.Context, e OrderPlaced) error

// Consume delivers events to handle until ctx is done or the channel closes.
// Every message is acknowledged manually; undecodable messages are dropped.
func (b *Broker) Consume(ctx context.Context, prefetch int, logger *zap.Logger, handle Handler) error {
	if err := b.ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("setting qos: %w", err)
	}
	msgs, err := b.ch.Consume(b.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", b.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			var e OrderPlaced
			if err := json.Unmarshal(d.Body, &e); err != nil {
				logger.Warn("dropping undecodable message", zap.String("message_id", d.MessageId), zap.Error(err))
				_ = d.Ack(false)
				continue
			}
			if err := handle(ctx, e); err != nil {
				logger.Error("handling order event", zap.String("order_id", e.OrderID), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Close closes the channel and the connection when the broker owns one
func (b *Broker) Close() error {
	err := b.ch.Close()
	if b.conn != nil {
		if cerr := b.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// LogPublisher records events in the log instead of a broker
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) PublishOrderPlaced(_ context.Context, e OrderPlaced) error {
	p.Logger.Info("order placed",
		zap.String("order_id", e.OrderID),
		zap.String("owner", e.Owner),
		zap.Int("lines", len(e.Items)),
		zap.Stringer("total", e.Total))
	return nil
}
