package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/gateway"
	"GigEscrow/internal/models"
	"GigEscrow/internal/testutil"
)

const (
	clientID     uint = 10
	freelancerID uint = 20
	adminID      uint = 1
	orderID      uint = 500
)

var (
	client     = Actor{ID: clientID, Role: RoleClient}
	freelancer = Actor{ID: freelancerID, Role: RoleFreelancer}
	admin      = Actor{ID: adminID, Role: RoleAdmin}
	stranger   = Actor{ID: 99, Role: RoleClient}
)

type fakeOrders struct {
	mu      sync.Mutex
	orders  map[uint]*Order
	paid    []uint
	MarkErr error
}

func (f *fakeOrders) GetOrder(_ context.Context, id uint) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.Newf(apperr.ErrOrderNotFound, "order %d not found", id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) MarkOrderPaid(_ context.Context, id, _ uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MarkErr != nil {
		return f.MarkErr
	}
	f.paid = append(f.paid, id)
	return nil
}

// recorder captures every side effect the dispatcher fans out.
type recorder struct {
	mu            sync.Mutex
	topics        []string
	notifications map[uint][]models.NotificationType
	alerts        []string
}

func (r *recorder) Publish(_ context.Context, topic, _ string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return nil
}

func (r *recorder) Notify(_ context.Context, userID uint, kind models.NotificationType, _ map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[userID] = append(r.notifications[userID], kind)
}

func (r *recorder) Alert(_ context.Context, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, subject)
	return nil
}

func (r *recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

func (r *recorder) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}

func (r *recorder) NotificationsFor(userID uint) []models.NotificationType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.NotificationType(nil), r.notifications[userID]...)
}

type harness struct {
	store       *testutil.MemStore
	gw          *gateway.MockGateway
	orders      *fakeOrders
	rec         *recorder
	escrow      *EscrowManager
	webhooks    *WebhookProcessor
	payments    *PaymentService
	withdrawals *WithdrawalService
	refunds     *RefundService

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := &harness{
		store: testutil.NewMemStore(),
		gw:    gateway.NewMockGateway("server-key", "https://sandbox.local"),
		orders: &fakeOrders{orders: map[uint]*Order{
			orderID: {ID: orderID, Amount: d("100000"), Currency: "IDR", Status: "awaiting_payment", ClientID: clientID, FreelancerID: freelancerID, Title: "Logo design"},
		}},
		rec: &recorder{notifications: map[uint][]models.NotificationType{}},
		now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	fees := DefaultFeePolicy()
	registry := gateway.NewRegistry(h.gw)
	dispatch := NewDispatcher(h.rec, h.rec, h.rec, "payments", log)

	h.escrow = NewEscrowManager(h.store, fees, 7*24*time.Hour, dispatch, log)
	h.webhooks = NewWebhookProcessor(h.store, registry, h.escrow, h.orders, nil, time.Second, dispatch, log)
	h.payments = NewPaymentService(h.store, registry, h.orders, fees, PaymentServiceConfig{
		Currency:       "IDR",
		PaymentTTL:     24 * time.Hour,
		GatewayTimeout: 200 * time.Millisecond,
	}, h.webhooks, dispatch, log)
	h.withdrawals = NewWithdrawalService(h.store, h.escrow, fees, dispatch, log)
	h.refunds = NewRefundService(h.store, registry, h.escrow, time.Second, dispatch, log)

	h.escrow.SetClock(h.clock)
	h.webhooks.SetClock(h.clock)
	h.payments.SetClock(h.clock)
	h.withdrawals.SetClock(h.clock)
	h.refunds.SetClock(h.clock)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(dur time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(dur)
}

func (h *harness) createPayment(t *testing.T) *models.Payment {
	t.Helper()
	p, err := h.payments.CreatePayment(context.Background(), CreatePaymentInput{
		OrderID: orderID,
		PayerID: clientID,
		Amount:  d("100000"),
		Method:  models.MethodBankTransfer,
		Channel: "bca",
	})
	require.NoError(t, err)
	return p
}

func (h *harness) deliver(t *testing.T, p *models.Payment, status string) (*WebhookResult, error) {
	t.Helper()
	return h.webhooks.HandleNotification(context.Background(), "", h.gw.BuildNotification(p.TransactionID, status, p.TotalAmount))
}

// paidEscrow runs a payment through settlement and returns its escrow.
func (h *harness) paidEscrow(t *testing.T) (*models.Payment, *models.Escrow) {
	t.Helper()
	p := h.createPayment(t)
	res, err := h.deliver(t, p, "settlement")
	require.NoError(t, err)
	require.Equal(t, models.EventProcessed, res.Outcome)

	e, err := h.store.Escrows().GetByID(context.Background(), res.EscrowID)
	require.NoError(t, err)
	p, err = h.store.Payments().GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	return p, e
}

func (h *harness) getEscrow(t *testing.T, id uint) *models.Escrow {
	t.Helper()
	e, err := h.store.Escrows().GetByID(context.Background(), id)
	require.NoError(t, err)
	return e
}

func requireBalanced(t *testing.T, e *models.Escrow) {
	t.Helper()
	require.True(t, e.Balanced(), "held %s + released %s + refunded %s != original %s",
		e.HeldAmount, e.ReleasedAmount, e.RefundedAmount, e.OriginalAmount)
}
