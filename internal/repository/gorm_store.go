package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Payments() PaymentRepository           { return &gormPaymentRepository{db: s.db} }
func (s *GormStore) Escrows() EscrowRepository             { return &gormEscrowRepository{db: s.db} }
func (s *GormStore) Withdrawals() WithdrawalRepository     { return &gormWithdrawalRepository{db: s.db} }
func (s *GormStore) Refunds() RefundRepository             { return &gormRefundRepository{db: s.db} }
func (s *GormStore) Ledger() LedgerRepository              { return &gormLedgerRepository{db: s.db} }
func (s *GormStore) Events() GatewayEventRepository        { return &gormEventRepository{db: s.db} }
func (s *GormStore) Disputes() DisputeRepository           { return &gormDisputeRepository{db: s.db} }
func (s *GormStore) PayoutMethods() PayoutMethodRepository { return &gormPayoutMethodRepository{db: s.db} }
func (s *GormStore) Notifications() NotificationRepository { return &gormNotificationRepository{db: s.db} }

func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
