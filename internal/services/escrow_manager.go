package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/logger"
	"GigEscrow/internal/models"
	"GigEscrow/internal/repository"
)

// EscrowManager owns every escrow state change. Methods that take a tx
// Store run inside the caller's transaction so the escrow change commits
// together with the payment, refund or withdrawal that caused it.
type EscrowManager struct {
	store            repository.Store
	fees             FeePolicy
	autoReleaseAfter time.Duration
	dispatch         *Dispatcher
	log              *zap.Logger
	now              func() time.Time
}

func NewEscrowManager(store repository.Store, fees FeePolicy, autoReleaseAfter time.Duration, dispatch *Dispatcher, log *zap.Logger) *EscrowManager {
	if dispatch == nil {
		dispatch = NewDispatcher(nil, nil, nil, "", log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &EscrowManager{
		store:            store,
		fees:             fees,
		autoReleaseAfter: autoReleaseAfter,
		dispatch:         dispatch,
		log:              log,
		now:              time.Now,
	}
}

func (m *EscrowManager) SetClock(now func() time.Time) {
	m.now = now
}

// HoldFunds creates the escrow for a payment that has just become paid.
func (m *EscrowManager) HoldFunds(ctx context.Context, tx repository.Store, p *models.Payment) (*models.Escrow, error) {
	if p.Status != models.PaymentPaid {
		return nil, apperr.Newf(apperr.ErrInvalidPaymentState, "payment %d is %s, escrow requires a paid payment", p.ID, p.Status)
	}
	if !p.GrossAmount.IsPositive() {
		return nil, apperr.Newf(apperr.ErrValidation, "payment %d has no gross amount to hold", p.ID)
	}

	now := m.now()
	e := &models.Escrow{
		PaymentID:          p.ID,
		OrderID:            p.OrderID,
		ClientID:           p.PayerID,
		FreelancerID:       p.FreelancerID,
		OriginalAmount:     p.GrossAmount,
		HeldAmount:         p.GrossAmount,
		ReleasedAmount:     decimal.Zero,
		RefundedAmount:     decimal.Zero,
		PlatformFee:        m.fees.EscrowCommission(p.GrossAmount),
		Currency:           p.Currency,
		Status:             models.EscrowHeld,
		HeldAt:             now,
		ScheduledReleaseAt: now.Add(m.autoReleaseAfter),
	}
	if err := tx.Escrows().Create(ctx, e); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Newf(apperr.ErrDuplicateEscrow, "escrow already exists for payment %d", p.ID)
		}
		return nil, fmt.Errorf("create escrow: %w", err)
	}

	if err := m.appendLedger(ctx, tx, e, models.LedgerHold, p.PayerID, e.HeldAmount,
		fmt.Sprintf("HOLD-%d", e.ID), "Funds held for order"); err != nil {
		return nil, err
	}
	return e, nil
}

// Release pays the whole residual to the freelancer.
func (m *EscrowManager) Release(ctx context.Context, escrowID uint, actor Actor, reason string) (*models.Escrow, error) {
	var released *models.Escrow
	err := m.store.WithTx(ctx, func(tx repository.Store) error {
		e, err := m.lock(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if err := m.authorize(e, actor, false); err != nil {
			return err
		}
		if err := m.checkTransition(e, models.EscrowReleased); err != nil {
			return err
		}
		if err := m.checkNoRefundInFlight(ctx, tx, e); err != nil {
			return err
		}

		amount := e.HeldAmount
		now := m.now()
		e.ReleasedAmount = e.ReleasedAmount.Add(amount)
		e.HeldAmount = decimal.Zero
		e.Reason = reason
		leavingDispute := e.Status == models.EscrowDisputed
		e.Status = models.EscrowReleased
		e.ReleasedAt = &now

		if err := m.save(ctx, tx, e); err != nil {
			return err
		}
		if leavingDispute {
			if err := m.resolveDispute(ctx, tx, e, actor, "released to freelancer: "+reason); err != nil {
				return err
			}
		}
		if err := m.appendLedger(ctx, tx, e, models.LedgerRelease, e.FreelancerID, amount,
			fmt.Sprintf("REL-%d-%d", e.ID, e.Version), reason); err != nil {
			return err
		}
		released = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.afterChange(ctx, released, "escrow.released", models.NotificationEscrowReleased)
	return released, nil
}

// PartialRelease pays part of the residual to the freelancer.
func (m *EscrowManager) PartialRelease(ctx context.Context, escrowID uint, amount decimal.Decimal, actor Actor, reason string) (*models.Escrow, error) {
	var updated *models.Escrow
	err := m.store.WithTx(ctx, func(tx repository.Store) error {
		e, err := m.lock(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if err := m.authorize(e, actor, false); err != nil {
			return err
		}
		if err := checkAmount(e, amount); err != nil {
			return err
		}
		if err := m.checkNoRefundInFlight(ctx, tx, e); err != nil {
			return err
		}

		next := models.EscrowPartialReleased
		if amount.Equal(e.HeldAmount) {
			next = models.EscrowReleased
		}
		if err := m.checkTransition(e, next); err != nil {
			return err
		}

		now := m.now()
		leavingDispute := e.Status == models.EscrowDisputed
		e.ReleasedAmount = e.ReleasedAmount.Add(amount)
		e.HeldAmount = e.HeldAmount.Sub(amount)
		e.Status = next
		e.Reason = reason
		if next == models.EscrowReleased {
			e.ReleasedAt = &now
		}

		if err := m.save(ctx, tx, e); err != nil {
			return err
		}
		if leavingDispute {
			if err := m.resolveDispute(ctx, tx, e, actor, fmt.Sprintf("partially released %s: %s", amount, reason)); err != nil {
				return err
			}
		}
		if err := m.appendLedger(ctx, tx, e, models.LedgerPartialRelease, e.FreelancerID, amount,
			fmt.Sprintf("PREL-%d-%d", e.ID, e.Version), reason); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.afterChange(ctx, updated, "escrow.partially_released", models.NotificationEscrowReleased)
	return updated, nil
}

// ApplyRefund moves amount from the residual back to the client. The
// refund service calls it after the gateway reversal succeeded.
func (m *EscrowManager) ApplyRefund(ctx context.Context, tx repository.Store, escrowID uint, amount decimal.Decimal, actor Actor, reason, reference string) (*models.Escrow, error) {
	e, err := m.lock(ctx, tx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(e, actor, false); err != nil {
		return nil, err
	}
	if err := checkAmount(e, amount); err != nil {
		return nil, err
	}

	next := models.EscrowPartialReleased
	if amount.Equal(e.HeldAmount) {
		next = models.EscrowRefunded
		if e.ReleasedAmount.IsPositive() {
			next = models.EscrowReleased
		}
	}
	if err := m.checkTransition(e, next); err != nil {
		return nil, err
	}

	leavingDispute := e.Status == models.EscrowDisputed
	e.RefundedAmount = e.RefundedAmount.Add(amount)
	e.HeldAmount = e.HeldAmount.Sub(amount)
	e.Status = next
	e.Reason = reason
	if next == models.EscrowReleased && e.ReleasedAt == nil {
		now := m.now()
		e.ReleasedAt = &now
	}

	if err := m.save(ctx, tx, e); err != nil {
		return nil, err
	}
	if leavingDispute {
		if err := m.resolveDispute(ctx, tx, e, actor, fmt.Sprintf("refunded %s: %s", amount, reason)); err != nil {
			return nil, err
		}
	}
	if err := m.appendLedger(ctx, tx, e, models.LedgerRefund, e.ClientID, amount, reference, reason); err != nil {
		return nil, err
	}
	return e, nil
}

// MarkDisputed freezes a held escrow until an admin resolves it.
func (m *EscrowManager) MarkDisputed(ctx context.Context, escrowID uint, actor Actor, reason string) (*models.Escrow, error) {
	if reason == "" {
		return nil, apperr.Newf(apperr.ErrValidation, "dispute reason is required")
	}

	var disputed *models.Escrow
	err := m.store.WithTx(ctx, func(tx repository.Store) error {
		e, err := m.lock(ctx, tx, escrowID)
		if err != nil {
			return err
		}
		if err := m.authorize(e, actor, true); err != nil {
			return err
		}
		if e.Status != models.EscrowHeld {
			return apperr.Newf(apperr.ErrInvalidEscrowState, "escrow %d is %s, only held escrows can be disputed", e.ID, e.Status)
		}

		now := m.now()
		e.Status = models.EscrowDisputed
		e.DisputedAt = &now
		e.Reason = reason
		if err := m.save(ctx, tx, e); err != nil {
			return err
		}
		if err := tx.Disputes().Create(ctx, &models.Dispute{
			EscrowID: e.ID,
			RaisedBy: actor.ID,
			Reason:   reason,
			Status:   models.DisputeOpen,
		}); err != nil {
			return fmt.Errorf("create dispute: %w", err)
		}
		disputed = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.afterChange(ctx, disputed, "escrow.disputed", models.NotificationEscrowDisputed)
	m.dispatch.Alert(ctx, fmt.Sprintf("Escrow %d disputed", disputed.ID),
		fmt.Sprintf("Escrow %d for order %d (held %s %s) was disputed by user %d: %s",
			disputed.ID, disputed.OrderID, disputed.HeldAmount, disputed.Currency, actor.ID, reason))
	return disputed, nil
}

// MarkCompleted closes a released escrow once its payout has been sent.
func (m *EscrowManager) MarkCompleted(ctx context.Context, tx repository.Store, escrowID uint) (*models.Escrow, error) {
	e, err := m.lock(ctx, tx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := m.checkTransition(e, models.EscrowCompleted); err != nil {
		return nil, err
	}
	now := m.now()
	e.Status = models.EscrowCompleted
	e.CompletedAt = &now
	if err := m.save(ctx, tx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (m *EscrowManager) Get(ctx context.Context, escrowID uint, actor Actor) (*models.Escrow, error) {
	e, err := m.store.Escrows().GetByID(ctx, escrowID)
	if err != nil {
		return nil, escrowLookupErr(escrowID, err)
	}
	if !actor.IsAdmin() && actor.ID != e.ClientID && actor.ID != e.FreelancerID {
		return nil, apperr.Newf(apperr.ErrForbidden, "escrow %d belongs to another user", e.ID)
	}
	return e, nil
}

func (m *EscrowManager) Ledger(ctx context.Context, escrowID uint) ([]models.LedgerEntry, error) {
	return m.store.Ledger().ListByEscrow(ctx, escrowID)
}

// AutoReleaseDue reports whether the sweep should release e now.
func (m *EscrowManager) AutoReleaseDue(e *models.Escrow) bool {
	return e.AutoReleaseDue(m.now())
}

func (m *EscrowManager) NetPayable(e *models.Escrow) decimal.Decimal {
	return e.NetPayable()
}

// ReleaseDue releases held escrows whose scheduled release time has passed.
func (m *EscrowManager) ReleaseDue(ctx context.Context, limit int) (int, error) {
	due, err := m.store.Escrows().ListDueForRelease(ctx, m.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list escrows due for release: %w", err)
	}

	released := 0
	for i := range due {
		if !m.AutoReleaseDue(&due[i]) {
			continue
		}
		if _, err := m.Release(ctx, due[i].ID, SystemActor, "auto-release after review period"); err != nil {
			// Another actor may have moved the escrow since it was listed.
			if errors.Is(err, apperr.ErrInvalidEscrowState) || errors.Is(err, apperr.ErrConcurrentUpdate) ||
				errors.Is(err, apperr.ErrRefundInProgress) {
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

// ReleaseForOrder releases every held escrow of a completed order.
func (m *EscrowManager) ReleaseForOrder(ctx context.Context, orderID uint, reason string) (int, error) {
	escrows, err := m.store.Escrows().ListByOrder(ctx, orderID)
	if err != nil {
		return 0, fmt.Errorf("list escrows for order %d: %w", orderID, err)
	}

	released := 0
	for _, e := range escrows {
		if e.Status != models.EscrowHeld {
			continue
		}
		if _, err := m.Release(ctx, e.ID, SystemActor, reason); err != nil {
			if errors.Is(err, apperr.ErrRefundInProgress) {
				// The sweep picks it up again if the refund fails.
				logger.FromContext(ctx, m.log).Warn("Skipping escrow with refund in flight",
					zap.Uint("escrow_id", e.ID), zap.Uint("order_id", orderID))
				continue
			}
			return released, err
		}
		released++
	}
	return released, nil
}

func (m *EscrowManager) lock(ctx context.Context, tx repository.Store, escrowID uint) (*models.Escrow, error) {
	e, err := tx.Escrows().GetForUpdate(ctx, escrowID)
	if err != nil {
		return nil, escrowLookupErr(escrowID, err)
	}
	return e, nil
}

func (m *EscrowManager) save(ctx context.Context, tx repository.Store, e *models.Escrow) error {
	if !e.Balanced() {
		return fmt.Errorf("escrow %d would violate conservation: held %s + released %s + refunded %s != %s",
			e.ID, e.HeldAmount, e.ReleasedAmount, e.RefundedAmount, e.OriginalAmount)
	}
	if err := tx.Escrows().Save(ctx, e); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return apperr.Newf(apperr.ErrConcurrentUpdate, "escrow %d was modified concurrently", e.ID)
		}
		return fmt.Errorf("save escrow: %w", err)
	}
	return nil
}

// authorize checks who may act on an escrow. Leaving the disputed state is
// reserved for admins.
func (m *EscrowManager) authorize(e *models.Escrow, actor Actor, freelancerAllowed bool) error {
	if actor.IsAdmin() {
		return nil
	}
	if e.Status == models.EscrowDisputed {
		return apperr.Newf(apperr.ErrForbidden, "escrow %d is disputed and can only be resolved by an admin", e.ID)
	}
	if actor.IsSystem() || actor.ID == e.ClientID {
		return nil
	}
	if freelancerAllowed && actor.ID == e.FreelancerID {
		return nil
	}
	return apperr.Newf(apperr.ErrForbidden, "user %d may not act on escrow %d", actor.ID, e.ID)
}

// checkNoRefundInFlight blocks releases while an approved refund is at the
// gateway. Callers must hold the escrow row lock.
func (m *EscrowManager) checkNoRefundInFlight(ctx context.Context, tx repository.Store, e *models.Escrow) error {
	processing, err := tx.Refunds().HasProcessing(ctx, e.ID)
	if err != nil {
		return fmt.Errorf("check refunds in flight: %w", err)
	}
	if processing {
		return apperr.Newf(apperr.ErrRefundInProgress, "escrow %d has a refund being processed", e.ID)
	}
	return nil
}

func (m *EscrowManager) checkTransition(e *models.Escrow, to models.EscrowStatus) error {
	if !e.Status.CanTransition(to) {
		return apperr.Newf(apperr.ErrInvalidEscrowState, "escrow %d cannot move from %s to %s", e.ID, e.Status, to)
	}
	return nil
}

func checkAmount(e *models.Escrow, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Newf(apperr.ErrValidation, "amount must be greater than zero")
	}
	if amount.GreaterThan(e.HeldAmount) {
		return apperr.Newf(apperr.ErrAmountExceedsHeld, "amount %s exceeds held amount %s", amount, e.HeldAmount)
	}
	return nil
}

func (m *EscrowManager) resolveDispute(ctx context.Context, tx repository.Store, e *models.Escrow, actor Actor, resolution string) error {
	d, err := tx.Disputes().GetOpenByEscrow(ctx, e.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load dispute: %w", err)
	}
	now := m.now()
	d.Resolution = resolution
	d.ResolvedBy = &actor.ID
	d.ResolvedAt = &now
	if err := tx.Disputes().Resolve(ctx, d); err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	return nil
}

func (m *EscrowManager) appendLedger(ctx context.Context, tx repository.Store, e *models.Escrow, kind models.LedgerEntryType, userID uint, amount decimal.Decimal, reference, description string) error {
	paymentID, escrowID := e.PaymentID, e.ID
	entry := &models.LedgerEntry{
		Reference:   reference,
		Type:        kind,
		UserID:      userID,
		PaymentID:   &paymentID,
		EscrowID:    &escrowID,
		Amount:      amount,
		Currency:    e.Currency,
		Description: description,
	}
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return fmt.Errorf("append %s ledger entry: %w", kind, err)
	}
	return nil
}

func (m *EscrowManager) afterChange(ctx context.Context, e *models.Escrow, eventType string, kind models.NotificationType) {
	logger.FromContext(ctx, m.log).Info("Escrow updated",
		zap.Uint("escrow_id", e.ID),
		zap.String("status", string(e.Status)),
		zap.String("held", e.HeldAmount.String()),
		zap.String("released", e.ReleasedAmount.String()),
		zap.String("refunded", e.RefundedAmount.String()))

	payload := escrowPayload(e)
	m.dispatch.Emit(ctx, eventType, fmt.Sprint(e.ID), payload)
	m.dispatch.Notify(ctx, e.FreelancerID, kind, payload)
	m.dispatch.Notify(ctx, e.ClientID, kind, payload)
}

func escrowPayload(e *models.Escrow) map[string]interface{} {
	return map[string]interface{}{
		"escrow_id":       e.ID,
		"order_id":        e.OrderID,
		"payment_id":      e.PaymentID,
		"status":          e.Status,
		"held_amount":     e.HeldAmount.String(),
		"released_amount": e.ReleasedAmount.String(),
		"refunded_amount": e.RefundedAmount.String(),
		"currency":        e.Currency,
	}
}

func escrowLookupErr(escrowID uint, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Newf(apperr.ErrEscrowNotFound, "escrow %d not found", escrowID)
	}
	return fmt.Errorf("load escrow %d: %w", escrowID, err)
}
