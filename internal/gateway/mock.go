package gateway

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"GigEscrow/internal/models"
)

var mockStatuses = statusTable{
	final: map[string]models.PaymentStatus{
		"capture":    models.PaymentPaid,
		"settlement": models.PaymentPaid,
		"deny":       models.PaymentFailed,
		"cancel":     models.PaymentFailed,
		"failure":    models.PaymentFailed,
		"expire":     models.PaymentExpired,
	},
	pending: map[string]bool{"pending": true, "challenge": true, "authorize": true},
}

var mockStatusCodes = map[string]string{
	"capture":    "200",
	"settlement": "200",
	"pending":    "201",
	"challenge":  "201",
	"deny":       "202",
	"cancel":     "202",
	"failure":    "202",
	"expire":     "407",
}

// mockNotification uses the snap-style webhook vocabulary. OrderID carries
// our transaction id; TransactionID is the provider's own id.
type mockNotification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	FraudStatus       string `json:"fraud_status,omitempty"`
	PaymentType       string `json:"payment_type,omitempty"`
	StatusMessage     string `json:"status_message,omitempty"`
}

type MockRefund struct {
	Ref    TransactionRef
	Amount decimal.Decimal
}

// MockGateway is a sandbox provider used in development and tests. Failures
// can be injected through the exported fields.
type MockGateway struct {
	serverKey string
	baseURL   string

	mu           sync.Mutex
	statuses     map[string]string
	created      []TransactionRequest
	refunds      []MockRefund
	cancelled    []string
	CreateErr    error
	RefundErr    error
	CancelErr    error
	StatusErr    error
	CreateDelay  time.Duration
}

func NewMockGateway(serverKey, baseURL string) *MockGateway {
	return &MockGateway{
		serverKey: serverKey,
		baseURL:   baseURL,
		statuses:  map[string]string{},
	}
}

func (g *MockGateway) Name() models.Gateway {
	return models.GatewayMock
}

func (g *MockGateway) CreateTransaction(ctx context.Context, req TransactionRequest) (*TransactionResult, error) {
	if g.CreateDelay > 0 {
		select {
		case <-time.After(g.CreateDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}

	token := uuid.NewString()
	g.statuses[req.TransactionID] = "pending"
	g.created = append(g.created, req)

	return &TransactionResult{
		ExternalID:  "mock-" + token,
		Token:       token,
		RedirectURL: fmt.Sprintf("%s/snap/v2/vtweb/%s", g.baseURL, token),
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

// Sign computes the signature key a genuine notification would carry.
func (g *MockGateway) Sign(orderID, statusCode, grossAmount string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + g.serverKey))
	return hex.EncodeToString(sum[:])
}

// BuildNotification produces a correctly signed webhook delivery.
func (g *MockGateway) BuildNotification(transactionID, status string, gross decimal.Decimal) Notification {
	n := mockNotification{
		OrderID:           transactionID,
		TransactionID:     "mock-" + transactionID,
		TransactionStatus: status,
		StatusCode:        mockStatusCodes[status],
		GrossAmount:       gross.StringFixed(2),
		FraudStatus:       "accept",
	}
	if n.StatusCode == "" {
		n.StatusCode = "200"
	}
	n.SignatureKey = g.Sign(n.OrderID, n.StatusCode, n.GrossAmount)
	payload, _ := json.Marshal(n)
	return Notification{Payload: payload}
}

func (g *MockGateway) VerifySignature(n Notification) bool {
	var body mockNotification
	if err := json.Unmarshal(n.Payload, &body); err != nil {
		return false
	}
	sig := body.SignatureKey
	if sig == "" {
		sig = n.Signature
	}
	if sig == "" || body.OrderID == "" {
		return false
	}
	expected := g.Sign(body.OrderID, body.StatusCode, body.GrossAmount)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1
}

func (g *MockGateway) ParseNotification(n Notification) (*Event, error) {
	var body mockNotification
	if err := json.Unmarshal(n.Payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if body.OrderID == "" || body.TransactionStatus == "" {
		return nil, fmt.Errorf("%w: order_id and transaction_status are required", ErrMalformedNotification)
	}
	amount, err := decimal.NewFromString(body.GrossAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: gross_amount %q", ErrMalformedNotification, body.GrossAmount)
	}

	status := body.TransactionStatus
	if status == "capture" {
		switch body.FraudStatus {
		case "challenge":
			status = "challenge"
		case "deny":
			status = "deny"
		}
	}

	return &Event{
		TransactionID: body.OrderID,
		ExternalID:    body.TransactionID,
		Status:        status,
		Amount:        amount,
		FailureReason: body.StatusMessage,
	}, nil
}

func (g *MockGateway) GetStatus(_ context.Context, ref TransactionRef) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.StatusErr != nil {
		return "", g.StatusErr
	}
	status, ok := g.statuses[ref.TransactionID]
	if !ok {
		return "", fmt.Errorf("mock gateway: transaction %s not found", ref.TransactionID)
	}
	return status, nil
}

// SetStatus changes what GetStatus reports for a transaction.
func (g *MockGateway) SetStatus(transactionID, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[transactionID] = status
}

func (g *MockGateway) Cancel(_ context.Context, ref TransactionRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.CancelErr != nil {
		return g.CancelErr
	}
	g.statuses[ref.TransactionID] = "cancel"
	g.cancelled = append(g.cancelled, ref.TransactionID)
	return nil
}

func (g *MockGateway) Refund(_ context.Context, ref TransactionRef, amount decimal.Decimal) (*RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RefundErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefundFailed, g.RefundErr)
	}
	g.refunds = append(g.refunds, MockRefund{Ref: ref, Amount: amount})
	return &RefundResult{RefundID: "mock-refund-" + uuid.NewString(), Status: "refund"}, nil
}

func (g *MockGateway) MapStatus(status string) StatusMapping {
	return mockStatuses.lookup(status)
}

func (g *MockGateway) Created() []TransactionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]TransactionRequest(nil), g.created...)
}

func (g *MockGateway) Refunds() []MockRefund {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]MockRefund(nil), g.refunds...)
}

func (g *MockGateway) Cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}
