package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80/webhook"

	"GigEscrow/internal/models"
)

func TestMockGateway_SignedNotificationRoundTrip(t *testing.T) {
	g := NewMockGateway("server-key", "https://sandbox.local")
	n := g.BuildNotification("TRX-1", "settlement", decimal.NewFromInt(112000))

	require.True(t, g.VerifySignature(n))

	ev, err := g.ParseNotification(n)
	require.NoError(t, err)
	assert.Equal(t, "TRX-1", ev.TransactionID)
	assert.Equal(t, "settlement", ev.Status)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(112000)))
}

func TestMockGateway_RejectsTamperedPayload(t *testing.T) {
	g := NewMockGateway("server-key", "https://sandbox.local")
	n := g.BuildNotification("TRX-1", "deny", decimal.NewFromInt(112000))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(n.Payload, &body))
	body["status_code"] = "200"
	body["transaction_status"] = "settlement"
	tampered, _ := json.Marshal(body)

	assert.False(t, g.VerifySignature(Notification{Payload: tampered}))
	assert.False(t, g.VerifySignature(Notification{Payload: []byte("not json")}))

	other := NewMockGateway("other-key", "https://sandbox.local")
	assert.False(t, other.VerifySignature(n))
}

func TestMockGateway_FraudChallengeIsPending(t *testing.T) {
	g := NewMockGateway("k", "")
	payload, _ := json.Marshal(mockNotification{
		OrderID:           "TRX-2",
		TransactionStatus: "capture",
		StatusCode:        "200",
		GrossAmount:       "1000.00",
		FraudStatus:       "challenge",
	})
	ev, err := g.ParseNotification(Notification{Payload: payload})
	require.NoError(t, err)

	m := g.MapStatus(ev.Status)
	assert.True(t, m.NoOp)
	assert.True(t, m.Known)
}

func TestMockGateway_ParseMalformed(t *testing.T) {
	g := NewMockGateway("k", "")
	_, err := g.ParseNotification(Notification{Payload: []byte(`{"order_id":"x"}`)})
	assert.ErrorIs(t, err, ErrMalformedNotification)

	_, err = g.ParseNotification(Notification{Payload: []byte(`{"order_id":"x","transaction_status":"settlement","gross_amount":"abc"}`)})
	assert.ErrorIs(t, err, ErrMalformedNotification)
}

func TestMockGateway_CreateRespectsContext(t *testing.T) {
	g := NewMockGateway("k", "")
	g.CreateDelay = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.CreateTransaction(ctx, TransactionRequest{TransactionID: "TRX-3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, g.Created())
}

func TestMockGateway_RefundFailureWrapsSentinel(t *testing.T) {
	g := NewMockGateway("k", "")
	g.RefundErr = errors.New("insufficient merchant balance")

	_, err := g.Refund(context.Background(), TransactionRef{TransactionID: "TRX-4"}, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, ErrRefundFailed)
	assert.Empty(t, g.Refunds())
}

func TestStatusTables(t *testing.T) {
	cases := []struct {
		gw     Gateway
		status string
		want   models.PaymentStatus
		noop   bool
		known  bool
	}{
		{NewMockGateway("k", ""), "capture", models.PaymentPaid, false, true},
		{NewMockGateway("k", ""), "settlement", models.PaymentPaid, false, true},
		{NewMockGateway("k", ""), "deny", models.PaymentFailed, false, true},
		{NewMockGateway("k", ""), "cancel", models.PaymentFailed, false, true},
		{NewMockGateway("k", ""), "expire", models.PaymentExpired, false, true},
		{NewMockGateway("k", ""), "pending", models.PaymentPending, true, true},
		{NewMockGateway("k", ""), "refund", models.PaymentFailed, false, false},
		{NewPaystackGateway("sk", "", time.Second), "success", models.PaymentPaid, false, true},
		{NewPaystackGateway("sk", "", time.Second), "abandoned", models.PaymentExpired, false, true},
		{NewPaystackGateway("sk", "", time.Second), "ongoing", models.PaymentPending, true, true},
		{NewPaystackGateway("sk", "", time.Second), "weird", models.PaymentFailed, false, false},
		{&StripeGateway{}, "payment_intent.succeeded", models.PaymentPaid, false, true},
		{&StripeGateway{}, "payment_intent.payment_failed", models.PaymentFailed, false, true},
		{&StripeGateway{}, "requires_action", models.PaymentPending, true, true},
	}
	for _, c := range cases {
		m := c.gw.MapStatus(c.status)
		assert.Equal(t, c.want, m.Status, "%s/%s", c.gw.Name(), c.status)
		assert.Equal(t, c.noop, m.NoOp, "%s/%s", c.gw.Name(), c.status)
		assert.Equal(t, c.known, m.Known, "%s/%s", c.gw.Name(), c.status)
	}
}

func paystackSign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaystackGateway_Webhook(t *testing.T) {
	g := NewPaystackGateway("sk_test_123", "", time.Second)
	payload := []byte(`{"event":"charge.success","data":{"id":42,"status":"success","reference":"TRX-9","amount":11200000}}`)

	assert.True(t, g.VerifySignature(Notification{Payload: payload, Signature: paystackSign("sk_test_123", payload)}))
	assert.False(t, g.VerifySignature(Notification{Payload: payload, Signature: paystackSign("other", payload)}))
	assert.False(t, g.VerifySignature(Notification{Payload: payload}))

	ev, err := g.ParseNotification(Notification{Payload: payload})
	require.NoError(t, err)
	assert.Equal(t, "TRX-9", ev.TransactionID)
	assert.Equal(t, "42", ev.ExternalID)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(112000)))
}

func TestPaystackGateway_CreateAndRefund(t *testing.T) {
	var gotAmounts []float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotAmounts = append(gotAmounts, body["amount"].(float64))

		switch r.URL.Path {
		case "/transaction/initialize":
			_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"TRX-9"}}`))
		case "/refund":
			_, _ = w.Write([]byte(`{"status":false,"message":"Transaction has been fully reversed"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := NewPaystackGateway("sk_test_123", srv.URL, time.Second)
	res, err := g.CreateTransaction(context.Background(), TransactionRequest{
		TransactionID: "TRX-9",
		Amount:        decimal.NewFromInt(112000),
		Currency:      "NGN",
		Customer:      Customer{ID: 1, Email: "client@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", res.RedirectURL)
	assert.Equal(t, "abc", res.Token)

	_, err = g.Refund(context.Background(), TransactionRef{TransactionID: "TRX-9"}, decimal.NewFromInt(40000))
	assert.ErrorIs(t, err, ErrRefundFailed)

	assert.Equal(t, []float64{11200000, 4000000}, gotAmounts)
}

const stripeTestSecret = "whsec_test_secret"

func stripeNotification(t *testing.T, eventType, object string) Notification {
	t.Helper()
	payload := []byte(`{"id":"evt_1","object":"event","api_version":"2024-06-20","type":"` + eventType + `","data":{"object":` + object + `}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: payload,
		Secret:  stripeTestSecret,
	})
	return Notification{Payload: signed.Payload, Signature: signed.Header}
}

func TestStripeGateway_PaymentIntentSucceeded(t *testing.T) {
	g := &StripeGateway{webhookSecret: stripeTestSecret}
	n := stripeNotification(t, "payment_intent.succeeded",
		`{"id":"pi_123","object":"payment_intent","amount":11200000,"status":"succeeded","metadata":{"transaction_id":"TRX-7"}}`)

	require.True(t, g.VerifySignature(n))
	ev, err := g.ParseNotification(n)
	require.NoError(t, err)
	assert.Equal(t, "TRX-7", ev.TransactionID)
	assert.Equal(t, "pi_123", ev.ExternalID)
	assert.Equal(t, "payment_intent.succeeded", ev.Status)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(112000)))
	assert.Equal(t, models.PaymentPaid, g.MapStatus(ev.Status).Status)
}

func TestStripeGateway_RejectsTamperedPayload(t *testing.T) {
	g := &StripeGateway{webhookSecret: stripeTestSecret}
	n := stripeNotification(t, "payment_intent.succeeded",
		`{"id":"pi_123","object":"payment_intent","amount":11200000,"metadata":{"transaction_id":"TRX-7"}}`)
	n.Payload = []byte(strings.Replace(string(n.Payload), "11200000", "100", 1))

	assert.False(t, g.VerifySignature(n))
	_, err := g.ParseNotification(n)
	assert.ErrorIs(t, err, ErrMalformedNotification)

	other := &StripeGateway{webhookSecret: "whsec_other"}
	assert.False(t, other.VerifySignature(stripeNotification(t, "payment_intent.succeeded", `{"id":"pi_1"}`)))
}

func TestStripeGateway_IgnoresOtherEventTypes(t *testing.T) {
	g := &StripeGateway{webhookSecret: stripeTestSecret}
	n := stripeNotification(t, "charge.refunded", `{"id":"ch_1","object":"charge"}`)

	require.True(t, g.VerifySignature(n))
	_, err := g.ParseNotification(n)
	assert.ErrorIs(t, err, ErrUnsupportedEvent)
}

func TestStripeGateway_RequiresTransactionMetadata(t *testing.T) {
	g := &StripeGateway{webhookSecret: stripeTestSecret}
	n := stripeNotification(t, "payment_intent.payment_failed",
		`{"id":"pi_9","object":"payment_intent","amount":500,"metadata":{}}`)

	require.True(t, g.VerifySignature(n))
	_, err := g.ParseNotification(n)
	assert.ErrorIs(t, err, ErrMalformedNotification)
	assert.Contains(t, err.Error(), "pi_9")
}
