package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/gateway"
	"GigEscrow/internal/models"
)

func TestWebhook_SettlementHoldsFunds(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment(t)

	res, err := h.deliver(t, p, "settlement")
	require.NoError(t, err)
	assert.Equal(t, models.EventProcessed, res.Outcome)
	assert.Equal(t, models.PaymentPaid, res.Status)

	paid, _ := h.store.Payments().GetByID(context.Background(), p.ID)
	assert.Equal(t, models.PaymentPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, "mock-"+p.TransactionID, paid.ExternalID)
	assert.NotEmpty(t, paid.CallbackPayload)

	escrows := h.store.AllEscrows()
	require.Len(t, escrows, 1)
	e := escrows[0]
	assert.Equal(t, res.EscrowID, e.ID)
	assert.Equal(t, models.EscrowHeld, e.Status)
	assert.Equal(t, "100000", e.HeldAmount.String())
	assert.Equal(t, clientID, e.ClientID)
	assert.Equal(t, freelancerID, e.FreelancerID)
	assert.Equal(t, h.clock().AddDate(0, 0, 7), e.ScheduledReleaseAt)
	requireBalanced(t, &e)

	ledger := h.store.AllLedgerEntries()
	require.Len(t, ledger, 1)
	assert.Equal(t, models.LedgerHold, ledger[0].Type)

	assert.Equal(t, []uint{orderID}, h.orders.paid)
	assert.Contains(t, h.rec.Topics(), "payments.payment.paid")
	assert.Contains(t, h.rec.Topics(), "payments.escrow.held")
	assert.Contains(t, h.rec.NotificationsFor(freelancerID), models.NotificationEscrowHeld)
}

func TestWebhook_DuplicateDeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment(t)
	n := h.gw.BuildNotification(p.TransactionID, "settlement", p.TotalAmount)

	first, err := h.webhooks.HandleNotification(context.Background(), "", n)
	require.NoError(t, err)
	second, err := h.webhooks.HandleNotification(context.Background(), models.GatewayMock, n)
	require.NoError(t, err)

	assert.Equal(t, models.EventProcessed, first.Outcome)
	assert.Equal(t, models.EventDuplicate, second.Outcome)
	assert.Equal(t, first.EscrowID, second.EscrowID)
	assert.Len(t, h.store.AllEscrows(), 1)
	assert.Len(t, h.store.AllLedgerEntries(), 1)
	assert.Len(t, h.orders.paid, 1)

	outcomes := map[models.GatewayEventOutcome]int{}
	for _, ev := range h.store.AllEvents() {
		outcomes[ev.Outcome]++
	}
	assert.Equal(t, 1, outcomes[models.EventProcessed])
	assert.Equal(t, 1, outcomes[models.EventDuplicate])
}

func TestWebhook_ConcurrentDeliveriesCreateOneEscrow(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment(t)
	n := h.gw.BuildNotification(p.TransactionID, "capture", p.TotalAmount)

	var wg sync.WaitGroup
	results := make([]*WebhookResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.webhooks.HandleNotification(context.Background(), "", n)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, r := range results {
		if r != nil && r.Outcome == models.EventProcessed {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
	assert.Len(t, h.store.AllEscrows(), 1)
}

func TestWebhook_InvalidSignatureChangesNothing(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment(t)

	forged := gateway.NewMockGateway("attacker-key", "").BuildNotification(p.TransactionID, "settlement", p.TotalAmount)
	_, err := h.webhooks.HandleNotification(context.Background(), "", forged)

	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
	assert.Equal(t, 400, apperr.StatusOf(err))
	got, _ := h.store.Payments().GetByID(context.Background(), p.ID)
	assert.Equal(t, models.PaymentPending, got.Status)
	assert.Empty(t, h.store.AllEscrows())

	events := h.store.AllEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventRejected, events[0].Outcome)
	assert.Empty(t, events[0].TransactionID)
}

func TestWebhook_UnknownTransaction(t *testing.T) {
	h := newHarness(t)
	_, err := h.webhooks.HandleNotification(context.Background(), "", h.gw.BuildNotification("TRX-NOPE", "settlement", d("1000")))

	assert.ErrorIs(t, err, apperr.ErrPaymentNotFound)
	assert.Empty(t, h.store.AllPayments())
}

func TestWebhook_UnknownGateway(t *testing.T) {
	h := newHarness(t)
	_, err := h.webhooks.HandleNotification(context.Background(), models.GatewayStripe, gateway.Notification{Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestWebhook_FailureAndExpiryPersistStatusOnly(t *testing.T) {
	for status, want := range map[string]models.PaymentStatus{
		"deny":   models.PaymentFailed,
		"cancel": models.PaymentFailed,
		"expire": models.PaymentExpired,
	} {
		t.Run(status, func(t *testing.T) {
			h := newHarness(t)
			p := h.createPayment(t)

			res, err := h.deliver(t, p, status)
			require.NoError(t, err)
			assert.Equal(t, want, res.Status)

			got, _ := h.store.Payments().GetByID(context.Background(), p.ID)
			assert.Equal(t, want, got.Status)
			assert.Nil(t, got.PaidAt)
			assert.Empty(t, h.store.AllEscrows())
			assert.Empty(t, h.orders.paid)
		})
	}
}

func TestWebhook_PendingIsNoOp(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment(t)

	res, err := h.deliver(t, p, "pending")
	require.NoError(t, err)
	assert.Equal(t, models.EventIgnored, res.Outcome)

	got, _ := h.store.Payments().GetByID(context.Background(), p.ID)
	assert.Equal(t, models.PaymentPending, got.Status)
}

func TestWebhook_UnknownStatusFailsAndAlerts(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment(t)

	res, err := h.deliver(t, p, "partial_refund")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, res.Status)

	got, _ := h.store.Payments().GetByID(context.Background(), p.ID)
	assert.Contains(t, got.FailureReason, "unknown gateway status")
	assert.Len(t, h.rec.Alerts(), 1)
}

func TestWebhook_AmountMismatchIsNotPaid(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment(t)

	_, err := h.webhooks.HandleNotification(context.Background(), "", h.gw.BuildNotification(p.TransactionID, "settlement", d("1000")))
	require.NoError(t, err)

	got, _ := h.store.Payments().GetByID(context.Background(), p.ID)
	assert.Equal(t, models.PaymentFailed, got.Status)
	assert.Equal(t, "amount mismatch", got.FailureReason)
	assert.Empty(t, h.store.AllEscrows())
	assert.Len(t, h.rec.Alerts(), 1)
}

func TestWebhook_FailedCommitLeavesNoPartialState(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment(t)
	h.store.FailNextCommit = errors.New("connection reset")

	_, err := h.deliver(t, p, "settlement")
	require.Error(t, err)

	got, _ := h.store.Payments().GetByID(context.Background(), p.ID)
	assert.Equal(t, models.PaymentPending, got.Status)
	assert.Empty(t, h.store.AllEscrows())
	assert.Empty(t, h.store.AllLedgerEntries())

	// The gateway retries and the second attempt goes through.
	res, err := h.deliver(t, p, "settlement")
	require.NoError(t, err)
	assert.Equal(t, models.EventProcessed, res.Outcome)
	assert.Len(t, h.store.AllEscrows(), 1)
}

func TestWebhook_OrderServiceFailureDoesNotUndoPayment(t *testing.T) {
	h := newHarness(t)
	h.orders.MarkErr = errors.New("order service down")
	p := h.createPayment(t)

	res, err := h.deliver(t, p, "settlement")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, res.Status)
	assert.Len(t, h.store.AllEscrows(), 1)
	assert.Len(t, h.rec.Alerts(), 1)
}

func TestWebhook_MalformedPayload(t *testing.T) {
	h := newHarness(t)
	// Signed correctly but missing transaction_status.
	payload, _ := json.Marshal(map[string]string{
		"order_id":      "TRX-1",
		"status_code":   "200",
		"gross_amount":  "1.00",
		"signature_key": h.gw.Sign("TRX-1", "200", "1.00"),
	})

	_, err := h.webhooks.HandleNotification(context.Background(), "", gateway.Notification{Payload: payload})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestWebhook_InvalidSignatureIsRecordedNotLogged(t *testing.T) {
	h := newHarness(t)
	p := h.createPayment(t)

	core, logs := observer.New(zap.DebugLevel)
	processor := NewWebhookProcessor(h.store, gateway.NewRegistry(h.gw), h.escrow, h.orders, nil, time.Second, nil, zap.New(core))

	n := h.gw.BuildNotification(p.TransactionID, "settlement", p.TotalAmount)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(n.Payload, &body))
	body["gross_amount"] = "1.00"
	tampered, err := json.Marshal(body)
	require.NoError(t, err)

	_, err = processor.HandleNotification(context.Background(), models.GatewayMock, gateway.Notification{Payload: tampered})
	assert.ErrorIs(t, err, apperr.ErrInvalidSignature)
	assert.Zero(t, logs.FilterLevelExact(zap.WarnLevel).Len())

	events := h.store.AllEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventRejected, events[0].Outcome)
}

func TestLocalLocker_ForgetsReleasedKeys(t *testing.T) {
	l := newLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "webhook:TRX-1", time.Second)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx, "webhook:TRX-1", time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Empty(t, l.locks)

	for i := 0; i < 50; i++ {
		r, err := l.Acquire(ctx, "webhook:TRX-"+string(rune('a'+i%26)), time.Second)
		require.NoError(t, err)
		r()
	}
	assert.Empty(t, l.locks)
}
