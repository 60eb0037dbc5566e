// Package gateway wraps external payment processors behind one narrow
// interface so the payment core never depends on a provider's SDK.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"GigEscrow/internal/models"
)

var (
	// ErrRefundFailed is returned when the provider rejects a reversal.
	ErrRefundFailed = errors.New("gateway refund failed")
	// ErrMalformedNotification is returned for payloads that cannot be parsed.
	ErrMalformedNotification = errors.New("malformed gateway notification")
	// ErrUnsupportedEvent marks authentic notifications about events the
	// payment core does not act on.
	ErrUnsupportedEvent = errors.New("unsupported gateway event")
)

type Customer struct {
	ID    uint
	Email string
	Name  string
}

type Item struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
}

type TransactionRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Method        models.PaymentMethod
	Channel       string
	Customer      Customer
	Items         []Item
	ExpiresAt     time.Time
	CallbackURL   string
}

type TransactionResult struct {
	ExternalID  string
	RedirectURL string
	Token       string
	ExpiresAt   time.Time
}

// TransactionRef identifies a transaction on both sides: ours and the
// provider's. Providers use whichever they need.
type TransactionRef struct {
	TransactionID string
	ExternalID    string
}

// Notification is a raw webhook delivery.
type Notification struct {
	Payload   []byte
	Signature string
}

// Event is a verified notification reduced to what the core needs.
type Event struct {
	TransactionID string
	ExternalID    string
	Status        string
	Amount        decimal.Decimal
	InvoiceNumber string
	FailureReason string
}

type RefundResult struct {
	RefundID string
	Status   string
}

// StatusMapping is the result of translating a provider status.
type StatusMapping struct {
	Status models.PaymentStatus
	// NoOp means the provider still considers the transaction in flight.
	NoOp bool
	// Known is false for statuses outside the provider's table. Those map
	// to failed and should be reported as anomalies.
	Known bool
}

type Gateway interface {
	Name() models.Gateway
	CreateTransaction(ctx context.Context, req TransactionRequest) (*TransactionResult, error)
	VerifySignature(n Notification) bool
	ParseNotification(n Notification) (*Event, error)
	GetStatus(ctx context.Context, ref TransactionRef) (string, error)
	Cancel(ctx context.Context, ref TransactionRef) error
	Refund(ctx context.Context, ref TransactionRef, amount decimal.Decimal) (*RefundResult, error)
	MapStatus(status string) StatusMapping
}

type statusTable struct {
	final   map[string]models.PaymentStatus
	pending map[string]bool
}

func (t statusTable) lookup(status string) StatusMapping {
	if s, ok := t.final[status]; ok {
		return StatusMapping{Status: s, Known: true}
	}
	if t.pending[status] {
		return StatusMapping{Status: models.PaymentPending, NoOp: true, Known: true}
	}
	return StatusMapping{Status: models.PaymentFailed}
}
