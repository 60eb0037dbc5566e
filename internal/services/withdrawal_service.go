package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/logger"
	"GigEscrow/internal/models"
	"GigEscrow/internal/repository"
)

type RequestWithdrawalInput struct {
	EscrowID          uint                    `json:"escrow_id" validate:"required"`
	PayoutMethodID    *uint                   `json:"payout_method_id"`
	PayoutMethod      models.PayoutMethodType `json:"payout_method"`
	BankName          string                  `json:"bank_name" validate:"max=100"`
	AccountNumber     string                  `json:"account_number" validate:"max=64"`
	AccountHolderName string                  `json:"account_holder_name" validate:"max=255"`
	Note              string                  `json:"note"`
}

type PayoutMethodInput struct {
	Type          models.PayoutMethodType `json:"type" validate:"required"`
	Provider      string                  `json:"provider" validate:"required,max=100"`
	AccountNumber string                  `json:"account_number" validate:"required,max=64"`
	AccountName   string                  `json:"account_name" validate:"required,max=255"`
	IsDefault     bool                    `json:"is_default"`
}

type WithdrawalService struct {
	store    repository.Store
	escrow   *EscrowManager
	fees     FeePolicy
	dispatch *Dispatcher
	log      *zap.Logger
	now      func() time.Time
}

func NewWithdrawalService(store repository.Store, escrow *EscrowManager, fees FeePolicy, dispatch *Dispatcher, log *zap.Logger) *WithdrawalService {
	if dispatch == nil {
		dispatch = NewDispatcher(nil, nil, nil, "", log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WithdrawalService{
		store:    store,
		escrow:   escrow,
		fees:     fees,
		dispatch: dispatch,
		log:      log,
		now:      time.Now,
	}
}

func (s *WithdrawalService) SetClock(now func() time.Time) {
	s.now = now
}

// RequestWithdrawal asks for the net payable of a released escrow to be paid
// out. Only one pending or processing withdrawal may exist per escrow.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, actor Actor, in RequestWithdrawalInput) (*models.Withdrawal, error) {
	dest, err := s.resolveDestination(ctx, actor, in)
	if err != nil {
		return nil, err
	}

	var created *models.Withdrawal
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		e, err := tx.Escrows().GetForUpdate(ctx, in.EscrowID)
		if err != nil {
			return escrowLookupErr(in.EscrowID, err)
		}
		if e.FreelancerID != actor.ID {
			return apperr.Newf(apperr.ErrForbidden, "escrow %d is not payable to user %d", e.ID, actor.ID)
		}
		if e.Status != models.EscrowReleased {
			return apperr.Newf(apperr.ErrInvalidEscrowState, "escrow %d is %s, withdrawals need a released escrow", e.ID, e.Status)
		}
		active, err := tx.Withdrawals().HasActive(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("check active withdrawals: %w", err)
		}
		if active {
			return apperr.Newf(apperr.ErrWithdrawalInProgress, "escrow %d already has a withdrawal in progress", e.ID)
		}

		gross := e.NetPayable()
		fee, net := s.fees.WithdrawalFee(gross)
		if !net.IsPositive() {
			return apperr.Newf(apperr.ErrValidation, "nothing left to withdraw from escrow %d", e.ID)
		}

		w := &models.Withdrawal{
			Reference:         generateReference("WD", s.now()),
			EscrowID:          e.ID,
			FreelancerID:      actor.ID,
			PayoutMethodID:    dest.ID,
			GrossAmount:       gross,
			PlatformFee:       fee,
			NetAmount:         net,
			PayoutMethod:      dest.Type,
			BankName:          dest.Provider,
			AccountNumber:     dest.AccountNumber,
			AccountHolderName: dest.AccountName,
			Status:            models.WithdrawalPending,
			Note:              in.Note,
		}
		if err := tx.Withdrawals().Create(ctx, w); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Newf(apperr.ErrWithdrawalInProgress, "escrow %d already has a withdrawal in progress", e.ID)
			}
			return fmt.Errorf("create withdrawal: %w", err)
		}
		created = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.log).Info("Withdrawal requested",
		zap.Uint("withdrawal_id", created.ID),
		zap.Uint("escrow_id", created.EscrowID),
		zap.String("net", created.NetAmount.String()))

	payload := withdrawalPayload(created)
	s.dispatch.Emit(ctx, "withdrawal.requested", created.Reference, payload)
	s.dispatch.Notify(ctx, created.FreelancerID, models.NotificationWithdrawalRequested, payload)
	s.dispatch.Alert(ctx, "New withdrawal request "+created.Reference,
		fmt.Sprintf("Freelancer %d requested %s (fee %s) from escrow %d to %s %s (%s).",
			created.FreelancerID, created.NetAmount, created.PlatformFee, created.EscrowID,
			created.PayoutMethod, maskAccount(created.AccountNumber), created.AccountHolderName))
	return created, nil
}

type payoutDestination struct {
	ID            *uint
	Type          models.PayoutMethodType
	Provider      string
	AccountNumber string
	AccountName   string
}

func (s *WithdrawalService) resolveDestination(ctx context.Context, actor Actor, in RequestWithdrawalInput) (*payoutDestination, error) {
	if in.PayoutMethodID != nil {
		m, err := s.store.PayoutMethods().GetByID(ctx, actor.ID, *in.PayoutMethodID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Newf(apperr.ErrPayoutMethodNotFound, "payout method %d not found", *in.PayoutMethodID)
		}
		if err != nil {
			return nil, fmt.Errorf("load payout method: %w", err)
		}
		id := m.ID
		return &payoutDestination{ID: &id, Type: m.Type, Provider: m.Provider, AccountNumber: m.AccountNumber, AccountName: m.AccountName}, nil
	}

	if !in.PayoutMethod.Valid() {
		return nil, apperr.Newf(apperr.ErrInvalidPayoutMethod, "payout method must be bank_transfer or e_wallet, got %q", in.PayoutMethod)
	}
	if strings.TrimSpace(in.AccountNumber) == "" || strings.TrimSpace(in.AccountHolderName) == "" {
		return nil, apperr.Newf(apperr.ErrValidation, "account number and account holder name are required")
	}
	return &payoutDestination{
		Type:          in.PayoutMethod,
		Provider:      in.BankName,
		AccountNumber: strings.TrimSpace(in.AccountNumber),
		AccountName:   strings.TrimSpace(in.AccountHolderName),
	}, nil
}

func (s *WithdrawalService) StartProcessing(ctx context.Context, withdrawalID uint, actor Actor) (*models.Withdrawal, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	w, err := s.transition(ctx, withdrawalID, models.WithdrawalProcessing, func(tx repository.Store, w *models.Withdrawal) error {
		now := s.now()
		w.ProcessedBy = &actor.ID
		w.ProcessingAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch.Emit(ctx, "withdrawal.processing", w.Reference, withdrawalPayload(w))
	return w, nil
}

// Complete records the payout and closes the escrow it was drawn from.
func (s *WithdrawalService) Complete(ctx context.Context, withdrawalID uint, actor Actor, proofOfTransfer, note string) (*models.Withdrawal, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(proofOfTransfer) == "" {
		return nil, apperr.Newf(apperr.ErrValidation, "proof of transfer is required")
	}

	w, err := s.transition(ctx, withdrawalID, models.WithdrawalCompleted, func(tx repository.Store, w *models.Withdrawal) error {
		now := s.now()
		w.ProofOfTransfer = proofOfTransfer
		w.PaidOutAt = &now
		w.ProcessedBy = &actor.ID
		if note != "" {
			w.Note = note
		}

		e, err := s.escrow.MarkCompleted(ctx, tx, w.EscrowID)
		if err != nil {
			return err
		}
		withdrawalID, escrowID, paymentID := w.ID, e.ID, e.PaymentID
		entries := []*models.LedgerEntry{
			{
				Reference: "WTH-" + w.Reference, Type: models.LedgerWithdrawal, UserID: w.FreelancerID,
				Amount: w.NetAmount, Description: "Payout to " + string(w.PayoutMethod),
			},
			{
				Reference: "FEE-" + w.Reference, Type: models.LedgerFee, UserID: w.FreelancerID,
				Amount: w.PlatformFee, Description: "Withdrawal fee",
			},
		}
		for _, entry := range entries {
			if entry.Amount.IsZero() {
				continue
			}
			entry.WithdrawalID, entry.EscrowID, entry.PaymentID = &withdrawalID, &escrowID, &paymentID
			entry.Currency = e.Currency
			if err := tx.Ledger().Append(ctx, entry); err != nil {
				return fmt.Errorf("append %s ledger entry: %w", entry.Type, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := withdrawalPayload(w)
	s.dispatch.Emit(ctx, "withdrawal.completed", w.Reference, payload)
	s.dispatch.Notify(ctx, w.FreelancerID, models.NotificationWithdrawalSuccess, payload)
	return w, nil
}

// Fail closes the withdrawal without touching the escrow, so the freelancer
// can request again.
func (s *WithdrawalService) Fail(ctx context.Context, withdrawalID uint, actor Actor, reason string) (*models.Withdrawal, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Newf(apperr.ErrValidation, "failure reason is required")
	}
	w, err := s.transition(ctx, withdrawalID, models.WithdrawalFailed, func(tx repository.Store, w *models.Withdrawal) error {
		w.FailureReason = reason
		w.ProcessedBy = &actor.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := withdrawalPayload(w)
	payload["reason"] = reason
	s.dispatch.Emit(ctx, "withdrawal.failed", w.Reference, payload)
	s.dispatch.Notify(ctx, w.FreelancerID, models.NotificationWithdrawalFailed, payload)
	return w, nil
}

func (s *WithdrawalService) transition(ctx context.Context, withdrawalID uint, to models.WithdrawalStatus, mutate func(tx repository.Store, w *models.Withdrawal) error) (*models.Withdrawal, error) {
	var updated *models.Withdrawal
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		w, err := tx.Withdrawals().GetForUpdate(ctx, withdrawalID)
		if err != nil {
			return withdrawalLookupErr(withdrawalID, err)
		}
		from := w.Status
		if !from.CanTransition(to) {
			return apperr.Newf(apperr.ErrInvalidWithdrawalState, "withdrawal %d cannot move from %s to %s", w.ID, from, to)
		}
		w.Status = to
		if err := mutate(tx, w); err != nil {
			return err
		}
		if err := tx.Withdrawals().UpdateStatus(ctx, w, from); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				return apperr.Newf(apperr.ErrConcurrentUpdate, "withdrawal %d was modified concurrently", w.ID)
			}
			return fmt.Errorf("update withdrawal: %w", err)
		}
		updated = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx, s.log).Info("Withdrawal updated",
		zap.Uint("withdrawal_id", updated.ID), zap.String("status", string(updated.Status)))
	return updated, nil
}

func (s *WithdrawalService) Get(ctx context.Context, withdrawalID uint, actor Actor) (*models.Withdrawal, error) {
	w, err := s.store.Withdrawals().GetByID(ctx, withdrawalID)
	if err != nil {
		return nil, withdrawalLookupErr(withdrawalID, err)
	}
	if !actor.IsAdmin() && w.FreelancerID != actor.ID {
		return nil, apperr.Newf(apperr.ErrForbidden, "withdrawal %d belongs to another user", w.ID)
	}
	return w, nil
}

func (s *WithdrawalService) ListForFreelancer(ctx context.Context, freelancerID uint) ([]models.Withdrawal, error) {
	return s.store.Withdrawals().ListByFreelancer(ctx, freelancerID)
}

func (s *WithdrawalService) ListByStatus(ctx context.Context, status models.WithdrawalStatus, actor Actor) ([]models.Withdrawal, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.Withdrawals().ListByStatus(ctx, status)
}

func (s *WithdrawalService) Stats(ctx context.Context, actor Actor) (*models.WithdrawalStats, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.Withdrawals().Stats(ctx)
}

func (s *WithdrawalService) AddPayoutMethod(ctx context.Context, userID uint, in PayoutMethodInput) (*models.PayoutMethod, error) {
	if !in.Type.Valid() {
		return nil, apperr.Newf(apperr.ErrInvalidPayoutMethod, "payout method must be bank_transfer or e_wallet, got %q", in.Type)
	}
	m := &models.PayoutMethod{
		UserID:        userID,
		Type:          in.Type,
		Provider:      strings.TrimSpace(in.Provider),
		AccountNumber: strings.TrimSpace(in.AccountNumber),
		AccountName:   strings.TrimSpace(in.AccountName),
		IsDefault:     in.IsDefault,
	}
	if err := s.store.PayoutMethods().Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create payout method: %w", err)
	}
	return m, nil
}

func (s *WithdrawalService) ListPayoutMethods(ctx context.Context, userID uint) ([]models.PayoutMethod, error) {
	return s.store.PayoutMethods().ListByUser(ctx, userID)
}

func (s *WithdrawalService) SetDefaultPayoutMethod(ctx context.Context, userID, id uint) error {
	if err := s.store.PayoutMethods().SetDefault(ctx, userID, id); err != nil {
		return payoutMethodErr(id, err)
	}
	return nil
}

func (s *WithdrawalService) DeletePayoutMethod(ctx context.Context, userID, id uint) error {
	if err := s.store.PayoutMethods().Delete(ctx, userID, id); err != nil {
		return payoutMethodErr(id, err)
	}
	return nil
}

func payoutMethodErr(id uint, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Newf(apperr.ErrPayoutMethodNotFound, "payout method %d not found", id)
	}
	return fmt.Errorf("payout method %d: %w", id, err)
}

func withdrawalLookupErr(withdrawalID uint, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Newf(apperr.ErrWithdrawalNotFound, "withdrawal %d not found", withdrawalID)
	}
	return fmt.Errorf("load withdrawal %d: %w", withdrawalID, err)
}

func withdrawalPayload(w *models.Withdrawal) map[string]interface{} {
	return map[string]interface{}{
		"withdrawal_id": w.ID,
		"reference":     w.Reference,
		"escrow_id":     w.EscrowID,
		"status":        w.Status,
		"gross_amount":  w.GrossAmount.String(),
		"fee":           w.PlatformFee.String(),
		"net_amount":    w.NetAmount.String(),
	}
}

// generateReference builds a human-readable reference such as
// WD-1718000000-042137.
func generateReference(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, now.Unix(), rand.Intn(999999))
}

func maskAccount(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
