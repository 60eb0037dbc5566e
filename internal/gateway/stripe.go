package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/paymentintent"
	"github.com/stripe/stripe-go/v80/refund"
	"github.com/stripe/stripe-go/v80/webhook"

	"GigEscrow/internal/models"
)

// Webhook event types and PaymentIntent statuses share one table so that
// both webhooks and status polling resolve the same way.
var stripeStatuses = statusTable{
	final: map[string]models.PaymentStatus{
		"payment_intent.succeeded":      models.PaymentPaid,
		"succeeded":                     models.PaymentPaid,
		"payment_intent.payment_failed": models.PaymentFailed,
		"payment_intent.canceled":       models.PaymentFailed,
		"canceled":                      models.PaymentFailed,
	},
	pending: map[string]bool{
		"payment_intent.created":         true,
		"payment_intent.processing":      true,
		"payment_intent.requires_action": true,
		"processing":                     true,
		"requires_payment_method":        true,
		"requires_confirmation":          true,
		"requires_action":                true,
		"requires_capture":               true,
	},
}

type StripeGateway struct {
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{webhookSecret: webhookSecret}
}

func (g *StripeGateway) Name() models.Gateway {
	return models.GatewayStripe
}

func (g *StripeGateway) CreateTransaction(ctx context.Context, req TransactionRequest) (*TransactionResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toSubunit(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	params.AddMetadata("transaction_id", req.TransactionID)
	params.AddMetadata("channel", req.Channel)
	params.SetIdempotencyKey(req.TransactionID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, err
	}
	return &TransactionResult{
		ExternalID: pi.ID,
		Token:      pi.ClientSecret,
		ExpiresAt:  req.ExpiresAt,
	}, nil
}

func (g *StripeGateway) constructEvent(n Notification) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(n.Payload, n.Signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
}

func (g *StripeGateway) VerifySignature(n Notification) bool {
	_, err := g.constructEvent(n)
	return err == nil
}

func (g *StripeGateway) ParseNotification(n Notification) (*Event, error) {
	event, err := g.constructEvent(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	eventType := string(event.Type)
	if !strings.HasPrefix(eventType, "payment_intent.") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventType)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	transactionID := pi.Metadata["transaction_id"]
	if transactionID == "" {
		return nil, fmt.Errorf("%w: payment intent %s has no transaction_id metadata", ErrMalformedNotification, pi.ID)
	}

	ev := &Event{
		TransactionID: transactionID,
		ExternalID:    pi.ID,
		Status:        eventType,
		Amount:        fromSubunit(pi.Amount),
	}
	if pi.LastPaymentError != nil {
		ev.FailureReason = pi.LastPaymentError.Msg
	}
	return ev, nil
}

func (g *StripeGateway) GetStatus(ctx context.Context, ref TransactionRef) (string, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(ref.ExternalID, params)
	if err != nil {
		return "", err
	}
	return string(pi.Status), nil
}

func (g *StripeGateway) Cancel(ctx context.Context, ref TransactionRef) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(ref.ExternalID, params)
	return err
}

func (g *StripeGateway) Refund(ctx context.Context, ref TransactionRef, amount decimal.Decimal) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(ref.ExternalID),
		Amount:        stripe.Int64(toSubunit(amount)),
	}
	params.Context = ctx
	r, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return nil, fmt.Errorf("%w: refund %s is %s", ErrRefundFailed, r.ID, r.Status)
	}
	return &RefundResult{RefundID: r.ID, Status: string(r.Status)}, nil
}

func (g *StripeGateway) MapStatus(status string) StatusMapping {
	return stripeStatuses.lookup(status)
}
