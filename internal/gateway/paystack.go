package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rpip/paystack-go"
	"github.com/shopspring/decimal"

	"GigEscrow/internal/models"
)

var paystackStatuses = statusTable{
	final: map[string]models.PaymentStatus{
		"success":   models.PaymentPaid,
		"failed":    models.PaymentFailed,
		"reversed":  models.PaymentFailed,
		"abandoned": models.PaymentExpired,
	},
	pending: map[string]bool{"ongoing": true, "pending": true, "processing": true, "queued": true},
}

type PaystackGateway struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
	client     *paystack.Client
}

type paystackResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackRefundData struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID              int64  `json:"id"`
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		GatewayResponse string `json:"gateway_response"`
	} `json:"data"`
}

func NewPaystackGateway(secretKey, baseURL string, timeout time.Duration) *PaystackGateway {
	httpClient := &http.Client{Timeout: timeout}
	return &PaystackGateway{
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		client:     paystack.NewClient(secretKey, httpClient),
	}
}

func (g *PaystackGateway) Name() models.Gateway {
	return models.GatewayPaystack
}

// makeRequest calls the Paystack REST API and decodes the data envelope.
func (g *PaystackGateway) makeRequest(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var result paystackResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Status {
		return fmt.Errorf("paystack error: %s", result.Message)
	}
	if out != nil && len(result.Data) > 0 {
		if err := json.Unmarshal(result.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// toSubunit converts a major-unit amount to kobo/cents.
func toSubunit(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromSubunit(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func (g *PaystackGateway) CreateTransaction(ctx context.Context, req TransactionRequest) (*TransactionResult, error) {
	payload := map[string]interface{}{
		"email":        req.Customer.Email,
		"amount":       toSubunit(req.Amount),
		"reference":    req.TransactionID,
		"callback_url": req.CallbackURL,
		"currency":     req.Currency,
		"metadata": map[string]string{
			"payer_id": strconv.FormatUint(uint64(req.Customer.ID), 10),
			"channel":  req.Channel,
		},
	}

	var data paystackInitializeData
	if err := g.makeRequest(ctx, http.MethodPost, "/transaction/initialize", payload, &data); err != nil {
		return nil, err
	}

	return &TransactionResult{
		ExternalID:  data.Reference,
		RedirectURL: data.AuthorizationURL,
		Token:       data.AccessCode,
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

func (g *PaystackGateway) VerifySignature(n Notification) bool {
	if n.Signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(g.secretKey))
	mac.Write(n.Payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(n.Signature))
}

func (g *PaystackGateway) ParseNotification(n Notification) (*Event, error) {
	var body paystackWebhook
	if err := json.Unmarshal(n.Payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	if body.Data.Reference == "" || body.Data.Status == "" {
		return nil, fmt.Errorf("%w: data.reference and data.status are required", ErrMalformedNotification)
	}
	return &Event{
		TransactionID: body.Data.Reference,
		ExternalID:    strconv.FormatInt(body.Data.ID, 10),
		Status:        body.Data.Status,
		Amount:        fromSubunit(body.Data.Amount),
		FailureReason: body.Data.GatewayResponse,
	}, nil
}

// GetStatus verifies the transaction through the SDK. The SDK call does not
// take a context, so cancellation relies on the HTTP client timeout.
func (g *PaystackGateway) GetStatus(ctx context.Context, ref TransactionRef) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	txn, err := g.client.Transaction.Verify(ref.TransactionID)
	if err != nil {
		return "", fmt.Errorf("paystack verify %s: %w", ref.TransactionID, err)
	}
	return txn.Status, nil
}

// Cancel is a no-op: Paystack has no cancel endpoint and unpaid checkouts
// become abandoned on their own.
func (g *PaystackGateway) Cancel(ctx context.Context, ref TransactionRef) error {
	return ctx.Err()
}

func (g *PaystackGateway) Refund(ctx context.Context, ref TransactionRef, amount decimal.Decimal) (*RefundResult, error) {
	payload := map[string]interface{}{
		"transaction": ref.TransactionID,
		"amount":      toSubunit(amount),
	}
	var data paystackRefundData
	if err := g.makeRequest(ctx, http.MethodPost, "/refund", payload, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	if data.Status == "failed" {
		return nil, fmt.Errorf("%w: refund %d failed", ErrRefundFailed, data.ID)
	}
	return &RefundResult{RefundID: strconv.FormatInt(data.ID, 10), Status: data.Status}, nil
}

func (g *PaystackGateway) MapStatus(status string) StatusMapping {
	return paystackStatuses.lookup(status)
}
