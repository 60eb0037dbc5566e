package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/gateway"
	"GigEscrow/internal/logger"
	"GigEscrow/internal/models"
	"GigEscrow/internal/repository"
)

// WebhookResult is what the webhook endpoint acknowledges to the gateway.
type WebhookResult struct {
	Outcome   models.GatewayEventOutcome `json:"outcome"`
	PaymentID uint                       `json:"payment_id,omitempty"`
	Status    models.PaymentStatus       `json:"status,omitempty"`
	EscrowID  uint                       `json:"escrow_id,omitempty"`
}

type WebhookProcessor struct {
	store    repository.Store
	gateways *gateway.Registry
	escrow   *EscrowManager
	orders   OrderClient
	locker   Locker
	lockTTL  time.Duration
	dispatch *Dispatcher
	log      *zap.Logger
	now      func() time.Time
}

func NewWebhookProcessor(store repository.Store, gateways *gateway.Registry, escrow *EscrowManager, orders OrderClient, locker Locker, lockTTL time.Duration, dispatch *Dispatcher, log *zap.Logger) *WebhookProcessor {
	if locker == nil {
		locker = newLocalLocker()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	if dispatch == nil {
		dispatch = NewDispatcher(nil, nil, nil, "", log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookProcessor{
		store:    store,
		gateways: gateways,
		escrow:   escrow,
		orders:   orders,
		locker:   locker,
		lockTTL:  lockTTL,
		dispatch: dispatch,
		log:      log,
		now:      time.Now,
	}
}

func (w *WebhookProcessor) SetClock(now func() time.Time) {
	w.now = now
}

// HandleNotification verifies and applies one gateway delivery. Repeated
// deliveries of the same notification leave state unchanged.
func (w *WebhookProcessor) HandleNotification(ctx context.Context, gatewayName models.Gateway, n gateway.Notification) (*WebhookResult, error) {
	gw, ok := w.gateways.Get(gatewayName)
	if !ok {
		return nil, apperr.Newf(apperr.ErrValidation, "unknown gateway %q", gatewayName)
	}

	if !gw.VerifySignature(n) {
		w.record(ctx, gw.Name(), n, "", "", models.EventRejected, "invalid signature")
		return nil, apperr.Newf(apperr.ErrInvalidSignature, "invalid notification signature")
	}

	ev, err := gw.ParseNotification(n)
	if errors.Is(err, gateway.ErrUnsupportedEvent) {
		w.record(ctx, gw.Name(), n, "", "", models.EventIgnored, err.Error())
		return &WebhookResult{Outcome: models.EventIgnored}, nil
	}
	if err != nil {
		w.record(ctx, gw.Name(), n, "", "", models.EventRejected, err.Error())
		return nil, apperr.Wrap(apperr.ErrValidation, "malformed notification", err)
	}

	release, err := w.locker.Acquire(ctx, "webhook:"+ev.TransactionID, w.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire webhook lock: %w", err)
	}
	defer release()

	p, err := w.store.Payments().GetByTransactionID(ctx, ev.TransactionID)
	if errors.Is(err, repository.ErrNotFound) {
		w.record(ctx, gw.Name(), n, ev.TransactionID, ev.Status, models.EventRejected, "unknown transaction")
		return nil, apperr.Newf(apperr.ErrPaymentNotFound, "no payment for transaction %s", ev.TransactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load payment: %w", err)
	}
	if p.Gateway != gw.Name() {
		w.record(ctx, gw.Name(), n, ev.TransactionID, ev.Status, models.EventRejected, "gateway mismatch")
		return nil, apperr.Newf(apperr.ErrValidation, "transaction %s was not created through %s", ev.TransactionID, gw.Name())
	}

	res, err := w.apply(ctx, gw, p.ID, ev, n)
	if err != nil {
		w.record(ctx, gw.Name(), n, ev.TransactionID, ev.Status, models.EventFailed, err.Error())
		return nil, err
	}
	return res, nil
}

// Reconcile polls the gateway for a payment's status and applies it through
// the same path as a webhook.
func (w *WebhookProcessor) Reconcile(ctx context.Context, paymentID uint) (*WebhookResult, error) {
	p, err := w.store.Payments().GetByID(ctx, paymentID)
	if err != nil {
		return nil, paymentLookupErr(paymentID, err)
	}
	if p.Status.IsTerminal() {
		return &WebhookResult{Outcome: models.EventDuplicate, PaymentID: p.ID, Status: p.Status}, nil
	}
	gw, ok := w.gateways.Get(p.Gateway)
	if !ok {
		return nil, apperr.Newf(apperr.ErrValidation, "payment %d uses unconfigured gateway %q", p.ID, p.Gateway)
	}

	status, err := gw.GetStatus(ctx, gateway.TransactionRef{TransactionID: p.TransactionID, ExternalID: p.ExternalID})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrGatewayUnavailable, "could not fetch transaction status", err)
	}

	release, err := w.locker.Acquire(ctx, "webhook:"+p.TransactionID, w.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire webhook lock: %w", err)
	}
	defer release()

	payload, _ := json.Marshal(map[string]string{"source": "reconcile", "status": status})
	ev := &gateway.Event{TransactionID: p.TransactionID, Status: status}
	return w.apply(ctx, gw, p.ID, ev, gateway.Notification{Payload: payload})
}

func (w *WebhookProcessor) apply(ctx context.Context, gw gateway.Gateway, paymentID uint, ev *gateway.Event, n gateway.Notification) (*WebhookResult, error) {
	log := logger.FromContext(ctx, w.log).With(
		zap.String("gateway", string(gw.Name())),
		zap.String("transaction_id", ev.TransactionID),
		zap.String("gateway_status", ev.Status))

	var (
		result   *WebhookResult
		payment  *models.Payment
		escrow   *models.Escrow
		anomaly  string
		latePaid bool
	)
	err := w.store.WithTx(ctx, func(tx repository.Store) error {
		p, err := tx.Payments().GetForUpdate(ctx, paymentID)
		if err != nil {
			return paymentLookupErr(paymentID, err)
		}
		mapping := gw.MapStatus(ev.Status)

		if p.Status.IsTerminal() {
			result = &WebhookResult{Outcome: models.EventDuplicate, PaymentID: p.ID, Status: p.Status}
			if e, err := tx.Escrows().GetByPaymentID(ctx, p.ID); err == nil {
				result.EscrowID = e.ID
			}
			latePaid = mapping.Status == models.PaymentPaid && !mapping.NoOp && p.Status != models.PaymentPaid
			payment = p
			return w.recordTx(ctx, tx, gw.Name(), n, ev, models.EventDuplicate, "payment already "+string(p.Status))
		}

		if !mapping.Known {
			anomaly = fmt.Sprintf("unknown gateway status %q", ev.Status)
		}
		if mapping.NoOp {
			result = &WebhookResult{Outcome: models.EventIgnored, PaymentID: p.ID, Status: p.Status}
			return w.recordTx(ctx, tx, gw.Name(), n, ev, models.EventIgnored, "transaction still in flight")
		}

		target := mapping.Status
		p.FailureReason = ev.FailureReason
		if anomaly != "" {
			p.FailureReason = anomaly
		}
		if target == models.PaymentPaid && ev.Amount.IsPositive() && !ev.Amount.Equal(p.TotalAmount) {
			anomaly = fmt.Sprintf("amount mismatch: gateway reported %s, expected %s", ev.Amount, p.TotalAmount)
			target = models.PaymentFailed
			p.FailureReason = "amount mismatch"
		}
		if !p.Status.CanTransition(target) {
			return apperr.Newf(apperr.ErrInvalidPaymentState, "payment %d cannot move from %s to %s", p.ID, p.Status, target)
		}

		p.Status = target
		if ev.ExternalID != "" {
			p.ExternalID = ev.ExternalID
		}
		if ev.InvoiceNumber != "" {
			p.InvoiceNumber = ev.InvoiceNumber
		}
		p.CallbackPayload = jsonPayload(n.Payload)
		p.CallbackSignature = n.Signature
		if target == models.PaymentPaid {
			now := w.now()
			p.PaidAt = &now
			p.FailureReason = ""
		}
		if err := tx.Payments().UpdateStatus(ctx, p, models.PaymentPending); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return apperr.Newf(apperr.ErrConcurrentUpdate, "payment %d was modified concurrently", p.ID)
			}
			return fmt.Errorf("update payment status: %w", err)
		}

		result = &WebhookResult{Outcome: models.EventProcessed, PaymentID: p.ID, Status: p.Status}
		if target == models.PaymentPaid {
			e, err := w.escrow.HoldFunds(ctx, tx, p)
			if err != nil {
				return err
			}
			escrow = e
			result.EscrowID = e.ID
		}
		payment = p
		return w.recordTx(ctx, tx, gw.Name(), n, ev, models.EventProcessed, string(target))
	})
	if err != nil {
		log.Error("Failed to apply gateway notification", zap.Error(err))
		return nil, err
	}

	if anomaly != "" {
		log.Warn("Gateway status anomaly", zap.String("detail", anomaly))
		w.dispatch.Alert(ctx, "Payment anomaly on "+ev.TransactionID,
			fmt.Sprintf("Payment %d (%s via %s): %s", payment.ID, ev.TransactionID, gw.Name(), anomaly))
	}

	switch {
	case result.Outcome == models.EventDuplicate:
		log.Info("Duplicate gateway notification ignored", zap.String("status", string(result.Status)))
		if latePaid {
			w.dispatch.Alert(ctx, "Late payment on "+ev.TransactionID,
				fmt.Sprintf("Gateway reported %q for payment %d which is already %s. Funds may need a manual refund.",
					ev.Status, payment.ID, payment.Status))
		}
	case result.Outcome == models.EventProcessed:
		log.Info("Payment status updated", zap.Uint("payment_id", payment.ID), zap.String("status", string(payment.Status)))
		w.afterCommit(ctx, payment, escrow)
	}
	return result, nil
}

func (w *WebhookProcessor) afterCommit(ctx context.Context, p *models.Payment, e *models.Escrow) {
	payload := paymentPayload(p)
	switch p.Status {
	case models.PaymentPaid:
		if err := w.orders.MarkOrderPaid(ctx, p.OrderID, p.ID); err != nil {
			logger.FromContext(ctx, w.log).Error("Failed to mark order paid",
				zap.Uint("order_id", p.OrderID), zap.Uint("payment_id", p.ID), zap.Error(err))
			w.dispatch.Alert(ctx, fmt.Sprintf("Order %d not marked paid", p.OrderID),
				fmt.Sprintf("Payment %d settled but the order service returned: %v", p.ID, err))
		}
		w.dispatch.Emit(ctx, "payment.paid", p.TransactionID, payload)
		w.dispatch.Notify(ctx, p.PayerID, models.NotificationPaymentPaid, payload)
		if e != nil {
			escrowData := escrowPayload(e)
			w.dispatch.Emit(ctx, "escrow.held", fmt.Sprint(e.ID), escrowData)
			w.dispatch.Notify(ctx, e.FreelancerID, models.NotificationEscrowHeld, escrowData)
		}
	case models.PaymentFailed:
		w.dispatch.Emit(ctx, "payment.failed", p.TransactionID, payload)
		w.dispatch.Notify(ctx, p.PayerID, models.NotificationPaymentFailed, payload)
	case models.PaymentExpired:
		w.dispatch.Emit(ctx, "payment.expired", p.TransactionID, payload)
	}
}

func (w *WebhookProcessor) recordTx(ctx context.Context, tx repository.Store, name models.Gateway, n gateway.Notification, ev *gateway.Event, outcome models.GatewayEventOutcome, detail string) error {
	if err := tx.Events().Record(ctx, w.event(name, n, ev.TransactionID, ev.Status, outcome, detail)); err != nil {
		return fmt.Errorf("record gateway event: %w", err)
	}
	return nil
}

// record logs deliveries that never reach a transaction. Failure to record
// must not change the response the gateway receives.
func (w *WebhookProcessor) record(ctx context.Context, name models.Gateway, n gateway.Notification, transactionID, status string, outcome models.GatewayEventOutcome, detail string) {
	if err := w.store.Events().Record(ctx, w.event(name, n, transactionID, status, outcome, detail)); err != nil {
		logger.FromContext(ctx, w.log).Warn("Failed to record gateway event", zap.Error(err))
	}
}

func (w *WebhookProcessor) event(name models.Gateway, n gateway.Notification, transactionID, status string, outcome models.GatewayEventOutcome, detail string) *models.GatewayEvent {
	return &models.GatewayEvent{
		Gateway:       name,
		TransactionID: transactionID,
		GatewayStatus: status,
		Payload:       jsonPayload(n.Payload),
		Signature:     n.Signature,
		Outcome:       outcome,
		Detail:        detail,
		ReceivedAt:    w.now(),
	}
}

// jsonPayload stores raw bodies that are not valid JSON as a JSON string so
// the jsonb column always accepts them.
func jsonPayload(raw []byte) datatypes.JSON {
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return datatypes.JSON(quoted)
}

// localLocker serialises work per key inside one process. It stands in when
// no shared lock is configured. Entries live only while someone holds or
// waits for the key.
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	held chan struct{}
	refs int
}

func newLocalLocker() *localLocker {
	return &localLocker{locks: map[string]*localLock{}}
}

func (l *localLocker) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{held: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.held <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.held
			l.drop(key, lk)
		})
	}, nil
}

func (l *localLocker) drop(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}
