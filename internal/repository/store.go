package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"GigEscrow/internal/models"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrDuplicate  = errors.New("duplicate record")
	ErrStaleState = errors.New("record changed since it was read")
)

type PaymentRepository interface {
	Create(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	// GetForUpdate reads the row under a write lock held until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uint) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uint) ([]models.Payment, error)
	HasPaid(ctx context.Context, orderID uint) (bool, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Payment, error)
	// UpdateStatus persists p's status fields only if the stored status is
	// still from.
	UpdateStatus(ctx context.Context, p *models.Payment, from models.PaymentStatus) error
}

type EscrowRepository interface {
	Create(ctx context.Context, e *models.Escrow) error
	GetByID(ctx context.Context, id uint) (*models.Escrow, error)
	GetForUpdate(ctx context.Context, id uint) (*models.Escrow, error)
	GetByPaymentID(ctx context.Context, paymentID uint) (*models.Escrow, error)
	ListByOrder(ctx context.Context, orderID uint) ([]models.Escrow, error)
	ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error)
	// Save writes e if its version is unchanged and bumps the version.
	Save(ctx context.Context, e *models.Escrow) error
}

type WithdrawalRepository interface {
	Create(ctx context.Context, w *models.Withdrawal) error
	GetByID(ctx context.Context, id uint) (*models.Withdrawal, error)
	GetForUpdate(ctx context.Context, id uint) (*models.Withdrawal, error)
	HasActive(ctx context.Context, escrowID uint) (bool, error)
	ListByFreelancer(ctx context.Context, freelancerID uint) ([]models.Withdrawal, error)
	ListByStatus(ctx context.Context, status models.WithdrawalStatus) ([]models.Withdrawal, error)
	UpdateStatus(ctx context.Context, w *models.Withdrawal, from models.WithdrawalStatus) error
	Stats(ctx context.Context) (*models.WithdrawalStats, error)
}

type RefundRepository interface {
	Create(ctx context.Context, r *models.Refund) error
	GetByID(ctx context.Context, id uint) (*models.Refund, error)
	GetForUpdate(ctx context.Context, id uint) (*models.Refund, error)
	HasActive(ctx context.Context, paymentID uint) (bool, error)
	// HasProcessing reports whether a refund against the escrow has been
	// approved and is waiting on the gateway.
	HasProcessing(ctx context.Context, escrowID uint) (bool, error)
	ListByPayment(ctx context.Context, paymentID uint) ([]models.Refund, error)
	UpdateStatus(ctx context.Context, r *models.Refund, from models.RefundStatus) error
}

type LedgerRepository interface {
	Append(ctx context.Context, e *models.LedgerEntry) error
	ListByEscrow(ctx context.Context, escrowID uint) ([]models.LedgerEntry, error)
}

type GatewayEventRepository interface {
	Record(ctx context.Context, ev *models.GatewayEvent) error
}

type DisputeRepository interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetOpenByEscrow(ctx context.Context, escrowID uint) (*models.Dispute, error)
	Resolve(ctx context.Context, d *models.Dispute) error
}

type PayoutMethodRepository interface {
	Create(ctx context.Context, m *models.PayoutMethod) error
	GetByID(ctx context.Context, userID, id uint) (*models.PayoutMethod, error)
	ListByUser(ctx context.Context, userID uint) ([]models.PayoutMethod, error)
	SetDefault(ctx context.Context, userID, id uint) error
	Delete(ctx context.Context, userID, id uint) error
}

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error)
	UnreadCount(ctx context.Context, userID uint) (int64, error)
	MarkRead(ctx context.Context, userID, id uint, at time.Time) error
	MarkAllRead(ctx context.Context, userID uint, at time.Time) error
	Delete(ctx context.Context, userID, id uint) error
}

// Store is the single persistence context handed to every service.
type Store interface {
	Payments() PaymentRepository
	Escrows() EscrowRepository
	Withdrawals() WithdrawalRepository
	Refunds() RefundRepository
	Ledger() LedgerRepository
	Events() GatewayEventRepository
	Disputes() DisputeRepository
	PayoutMethods() PayoutMethodRepository
	Notifications() NotificationRepository

	// WithTx runs fn against a Store bound to one database transaction.
	// Returning an error rolls everything back.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(err.Error(), "SQLSTATE 23505"),
		strings.Contains(err.Error(), "duplicate key value"):
		return ErrDuplicate
	}
	return err
}
