package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"GigEscrow/internal/models"
)

// Order is the view of a marketplace order the payment flow needs.
type Order struct {
	ID           uint            `json:"id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       string          `json:"status"`
	ClientID     uint            `json:"client_id"`
	FreelancerID uint            `json:"freelancer_id"`
	Title        string          `json:"title"`
}

const (
	OrderStatusPaid      = "paid"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Payable reports whether the order can accept a new payment.
func (o *Order) Payable() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusCompleted, OrderStatusCancelled:
		return false
	}
	return true
}

type OrderClient interface {
	GetOrder(ctx context.Context, orderID uint) (*Order, error)
	MarkOrderPaid(ctx context.Context, orderID, paymentID uint) error
}

// Notifier delivers user-facing notifications. It never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, userID uint, kind models.NotificationType, payload map[string]interface{})
}

// EventPublisher emits domain events to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event interface{}) error
}

// Alerter reaches the operations team out of band.
type Alerter interface {
	Alert(ctx context.Context, subject, body string) error
}

// Locker serialises work on a key across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// DomainEvent is the envelope published for every state change.
type DomainEvent struct {
	Type       string                 `json:"event_type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, uint, models.NotificationType, map[string]interface{}) {}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, string, interface{}) error { return nil }

type noopAlerter struct{}

func (noopAlerter) Alert(context.Context, string, string) error { return nil }
