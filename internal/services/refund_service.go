package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/gateway"
	"GigEscrow/internal/logger"
	"GigEscrow/internal/models"
	"GigEscrow/internal/repository"
)

const (
	RefundActionApprove = "approve"
	RefundActionReject  = "reject"
)

type RequestRefundInput struct {
	// Amount defaults to the full held amount when nil.
	Amount *decimal.Decimal `json:"amount,omitempty" swaggertype:"string"`
	Reason string           `json:"reason" validate:"required,max=1000"`
}

type ProcessRefundInput struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
	Note   string `json:"note" validate:"max=1000"`
}

type RefundService struct {
	store    repository.Store
	gateways *gateway.Registry
	escrow   *EscrowManager
	timeout  time.Duration
	dispatch *Dispatcher
	log      *zap.Logger
	now      func() time.Time
}

func NewRefundService(store repository.Store, gateways *gateway.Registry, escrow *EscrowManager, gatewayTimeout time.Duration, dispatch *Dispatcher, log *zap.Logger) *RefundService {
	if dispatch == nil {
		dispatch = NewDispatcher(nil, nil, nil, "", log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if gatewayTimeout <= 0 {
		gatewayTimeout = 15 * time.Second
	}
	return &RefundService{
		store:    store,
		gateways: gateways,
		escrow:   escrow,
		timeout:  gatewayTimeout,
		dispatch: dispatch,
		log:      log,
		now:      time.Now,
	}
}

func (s *RefundService) SetClock(now func() time.Time) {
	s.now = now
}

// RequestRefund opens a refund against the undecided part of a payment's
// escrow. A payment may have one pending or processing refund at a time.
func (s *RefundService) RequestRefund(ctx context.Context, paymentID uint, actor Actor, in RequestRefundInput) (*models.Refund, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, apperr.Newf(apperr.ErrValidation, "refund reason is required")
	}

	var created *models.Refund
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		p, err := tx.Payments().GetByID(ctx, paymentID)
		if err != nil {
			return paymentLookupErr(paymentID, err)
		}
		if !actor.IsAdmin() && actor.ID != p.PayerID {
			return apperr.Newf(apperr.ErrForbidden, "only the payer can request a refund for payment %d", p.ID)
		}
		if p.Status != models.PaymentPaid {
			return apperr.Newf(apperr.ErrInvalidPaymentState, "payment %d is %s, only paid payments can be refunded", p.ID, p.Status)
		}

		e, err := tx.Escrows().GetByPaymentID(ctx, p.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Newf(apperr.ErrEscrowNotFound, "payment %d has no escrow", p.ID)
		}
		if err != nil {
			return fmt.Errorf("load escrow: %w", err)
		}
		e, err = tx.Escrows().GetForUpdate(ctx, e.ID)
		if err != nil {
			return escrowLookupErr(e.ID, err)
		}
		if !e.Status.HasResidual() {
			return apperr.Newf(apperr.ErrInvalidEscrowState, "escrow %d is %s and has nothing left to refund", e.ID, e.Status)
		}

		active, err := tx.Refunds().HasActive(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("check active refunds: %w", err)
		}
		if active {
			return apperr.Newf(apperr.ErrRefundInProgress, "payment %d already has a refund in progress", p.ID)
		}

		amount := e.HeldAmount
		if in.Amount != nil {
			amount = *in.Amount
		}
		if err := checkAmount(e, amount); err != nil {
			return err
		}

		r := &models.Refund{
			PaymentID:    p.ID,
			EscrowID:     e.ID,
			UserID:       p.PayerID,
			RequestedBy:  actor.ID,
			RefundAmount: amount,
			Reason:       in.Reason,
			Status:       models.RefundPending,
		}
		if err := tx.Refunds().Create(ctx, r); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Newf(apperr.ErrRefundInProgress, "payment %d already has a refund in progress", p.ID)
			}
			return fmt.Errorf("create refund: %w", err)
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.log).Info("Refund requested",
		zap.Uint("refund_id", created.ID),
		zap.Uint("payment_id", created.PaymentID),
		zap.String("amount", created.RefundAmount.String()))

	payload := refundPayload(created)
	s.dispatch.Emit(ctx, "refund.requested", fmt.Sprint(created.ID), payload)
	s.dispatch.Notify(ctx, created.UserID, models.NotificationRefundRequested, payload)
	return created, nil
}

// ProcessRefund approves or rejects a pending refund. Processing a refund
// that already finished returns it unchanged.
func (s *RefundService) ProcessRefund(ctx context.Context, refundID uint, actor Actor, in ProcessRefundInput) (*models.Refund, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if in.Action != RefundActionApprove && in.Action != RefundActionReject {
		return nil, apperr.Newf(apperr.ErrValidation, "action must be approve or reject")
	}

	var (
		claimed  *models.Refund
		done     bool
		rejected bool
	)
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		r, err := tx.Refunds().GetForUpdate(ctx, refundID)
		if err != nil {
			return refundLookupErr(refundID, err)
		}
		if r.Status.IsTerminal() {
			claimed, done = r, true
			return nil
		}
		if r.Status == models.RefundProcessing {
			return apperr.Newf(apperr.ErrRefundInProgress, "refund %d is already being processed", r.ID)
		}

		now := s.now()
		r.ProcessedBy = &actor.ID
		r.ProcessedAt = &now
		r.Note = in.Note

		if in.Action == RefundActionReject {
			r.Status = models.RefundFailed
			r.FailureReason = "rejected by admin"
			done, rejected = true, true
		} else {
			// Releases take the same row lock and refuse while this
			// refund is processing.
			e, err := tx.Escrows().GetForUpdate(ctx, r.EscrowID)
			if err != nil {
				return escrowLookupErr(r.EscrowID, err)
			}
			if err := checkAmount(e, r.RefundAmount); err != nil {
				return err
			}
			r.Status = models.RefundProcessing
		}
		if err := tx.Refunds().UpdateStatus(ctx, r, models.RefundPending); err != nil {
			return refundUpdateErr(r.ID, err)
		}
		claimed = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if done {
		if rejected {
			s.afterFinish(ctx, claimed)
		}
		return claimed, nil
	}

	return s.execute(ctx, claimed, actor)
}

// execute performs the reversal at the gateway and records the outcome.
// The gateway call runs outside any database transaction.
func (s *RefundService) execute(ctx context.Context, r *models.Refund, actor Actor) (*models.Refund, error) {
	log := logger.FromContext(ctx, s.log).With(zap.Uint("refund_id", r.ID), zap.Uint("payment_id", r.PaymentID))

	p, err := s.store.Payments().GetByID(ctx, r.PaymentID)
	if err != nil {
		return nil, paymentLookupErr(r.PaymentID, err)
	}
	gw, ok := s.gateways.Get(p.Gateway)
	if !ok {
		reason := fmt.Sprintf("gateway %q is not configured", p.Gateway)
		if err := s.markFailed(ctx, r, reason); err != nil {
			return nil, err
		}
		return nil, apperr.Newf(apperr.ErrGatewayRefundFailed, "%s", reason)
	}

	gctx, cancel := context.WithTimeout(ctx, s.timeout)
	res, gerr := gw.Refund(gctx, gateway.TransactionRef{TransactionID: p.TransactionID, ExternalID: p.ExternalID}, r.RefundAmount)
	cancel()
	if gerr != nil {
		log.Error("Gateway refund failed", zap.Error(gerr))
		if err := s.markFailed(ctx, r, gerr.Error()); err != nil {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.ErrGatewayRefundFailed, "gateway rejected the refund", gerr)
	}

	var completed *models.Refund
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Refunds().GetForUpdate(ctx, r.ID)
		if err != nil {
			return refundLookupErr(r.ID, err)
		}
		now := s.now()
		locked.Status = models.RefundCompleted
		locked.CompletedAt = &now
		locked.GatewayTransactionID = res.RefundID

		if _, err := s.escrow.ApplyRefund(ctx, tx, locked.EscrowID, locked.RefundAmount, actor, locked.Reason, fmt.Sprintf("RFD-%d", locked.ID)); err != nil {
			return err
		}
		if err := tx.Refunds().UpdateStatus(ctx, locked, models.RefundProcessing); err != nil {
			return refundUpdateErr(locked.ID, err)
		}
		completed = locked
		return nil
	})
	if err != nil {
		// Money has moved at the gateway; the refund stays processing until
		// an operator reconciles it.
		log.Error("Refund executed at gateway but not recorded",
			zap.String("gateway_refund_id", res.RefundID), zap.Error(err))
		s.dispatch.Alert(ctx, fmt.Sprintf("Refund %d needs reconciliation", r.ID),
			fmt.Sprintf("Gateway refund %s for payment %d (%s) succeeded but could not be recorded: %v",
				res.RefundID, p.ID, r.RefundAmount, err))
		return nil, err
	}

	log.Info("Refund completed", zap.String("gateway_refund_id", res.RefundID))
	s.afterFinish(ctx, completed)
	if e, err := s.store.Escrows().GetByID(ctx, completed.EscrowID); err == nil {
		s.dispatch.Emit(ctx, "escrow.refunded", fmt.Sprint(e.ID), escrowPayload(e))
	}
	return completed, nil
}

func (s *RefundService) markFailed(ctx context.Context, r *models.Refund, reason string) error {
	r.Status = models.RefundFailed
	r.FailureReason = reason
	if err := s.store.Refunds().UpdateStatus(ctx, r, models.RefundProcessing); err != nil {
		return refundUpdateErr(r.ID, err)
	}
	s.afterFinish(ctx, r)
	return nil
}

func (s *RefundService) afterFinish(ctx context.Context, r *models.Refund) {
	payload := refundPayload(r)
	if r.Status == models.RefundCompleted {
		s.dispatch.Emit(ctx, "refund.completed", fmt.Sprint(r.ID), payload)
		s.dispatch.Notify(ctx, r.UserID, models.NotificationRefundCompleted, payload)
		return
	}
	payload["reason"] = r.FailureReason
	s.dispatch.Emit(ctx, "refund.failed", fmt.Sprint(r.ID), payload)
	s.dispatch.Notify(ctx, r.UserID, models.NotificationRefundFailed, payload)
}

func (s *RefundService) Get(ctx context.Context, refundID uint, actor Actor) (*models.Refund, error) {
	r, err := s.store.Refunds().GetByID(ctx, refundID)
	if err != nil {
		return nil, refundLookupErr(refundID, err)
	}
	if !actor.IsAdmin() && actor.ID != r.UserID {
		return nil, apperr.Newf(apperr.ErrForbidden, "refund %d belongs to another user", r.ID)
	}
	return r, nil
}

func (s *RefundService) ListForPayment(ctx context.Context, paymentID uint, actor Actor) ([]models.Refund, error) {
	p, err := s.store.Payments().GetByID(ctx, paymentID)
	if err != nil {
		return nil, paymentLookupErr(paymentID, err)
	}
	if !actor.IsAdmin() && actor.ID != p.PayerID {
		return nil, apperr.Newf(apperr.ErrForbidden, "payment %d belongs to another user", p.ID)
	}
	return s.store.Refunds().ListByPayment(ctx, paymentID)
}

func refundLookupErr(refundID uint, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Newf(apperr.ErrRefundNotFound, "refund %d not found", refundID)
	}
	return fmt.Errorf("load refund %d: %w", refundID, err)
}

func refundUpdateErr(refundID uint, err error) error {
	if errors.Is(err, repository.ErrStaleState) {
		return apperr.Newf(apperr.ErrConcurrentUpdate, "refund %d was modified concurrently", refundID)
	}
	return fmt.Errorf("update refund %d: %w", refundID, err)
}

func refundPayload(r *models.Refund) map[string]interface{} {
	return map[string]interface{}{
		"refund_id":  r.ID,
		"payment_id": r.PaymentID,
		"escrow_id":  r.EscrowID,
		"status":     r.Status,
		"amount":     r.RefundAmount.String(),
	}
}
