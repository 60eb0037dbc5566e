package repository_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"GigEscrow/internal/models"
	"GigEscrow/internal/repository"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	assert.NoError(t, err)
	return gormDB, mock
}

func TestPaymentCreate_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	p := &models.Payment{
		OrderID:       1,
		PayerID:       2,
		TransactionID: "TRX-1",
		GrossAmount:   decimal.NewFromInt(100000),
		PlatformFee:   decimal.NewFromInt(10000),
		GatewayFee:    decimal.NewFromInt(2000),
		TotalAmount:   decimal.NewFromInt(112000),
		Currency:      "IDR",
		PaymentMethod: models.MethodBankTransfer,
		Gateway:       models.GatewayMock,
		Status:        models.PaymentPending,
		ExpiresAt:     time.Now().Add(24 * time.Hour),
	}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "payments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectCommit()

	err := store.Payments().Create(context.Background(), p)
	assert.NoError(t, err)
	assert.Equal(t, uint(11), p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentCreate_DuplicateTransaction(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "payments"`)).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "idx_payments_transaction_id" (SQLSTATE 23505)`))
	mock.ExpectRollback()

	err := store.Payments().Create(context.Background(), &models.Payment{TransactionID: "TRX-1"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestPaymentGetByTransactionID_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "payments" WHERE transaction_id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{}))

	p, err := store.Payments().GetByTransactionID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Nil(t, p)
}

func TestPaymentGetForUpdate_LocksRow(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	rows := sqlmock.NewRows([]string{"id", "transaction_id", "status"}).
		AddRow(3, "TRX-3", models.PaymentPending)
	mock.ExpectQuery(`SELECT \* FROM "payments" WHERE "payments"."id" = \$1 .*FOR UPDATE`).
		WillReturnRows(rows)

	p, err := store.Payments().GetForUpdate(context.Background(), 3)
	assert.NoError(t, err)
	assert.Equal(t, "TRX-3", p.TransactionID)
	assert.Equal(t, models.PaymentPending, p.Status)
}

func TestPaymentUpdateStatus_StaleWhenNoRowMatches(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "payments" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	p := &models.Payment{ID: 3, Status: models.PaymentPaid}
	err := store.Payments().UpdateStatus(context.Background(), p, models.PaymentPending)
	assert.ErrorIs(t, err, repository.ErrStaleState)
}

func TestEscrowSave_BumpsVersion(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "escrows" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	e := &models.Escrow{ID: 5, Version: 2, Status: models.EscrowReleased}
	err := store.Escrows().Save(context.Background(), e)
	assert.NoError(t, err)
	assert.Equal(t, 3, e.Version)
}

func TestEscrowSave_ConcurrentWriterLoses(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "escrows" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	e := &models.Escrow{ID: 5, Version: 2, Status: models.EscrowRefunded}
	err := store.Escrows().Save(context.Background(), e)
	assert.ErrorIs(t, err, repository.ErrStaleState)
	assert.Equal(t, 2, e.Version)
}

func TestWithdrawalHasActive(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "withdrawals" WHERE escrow_id = $1 AND status IN ($2,$3)`)).
		WithArgs(9, models.WithdrawalPending, models.WithdrawalProcessing).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	active, err := store.Withdrawals().HasActive(context.Background(), 9)
	assert.NoError(t, err)
	assert.True(t, active)
}

func TestRefundHasProcessing(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "refunds" WHERE escrow_id = $1 AND status = $2`)).
		WithArgs(4, models.RefundProcessing).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	processing, err := store.Refunds().HasProcessing(context.Background(), 4)
	assert.NoError(t, err)
	assert.False(t, processing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := repository.NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "ledger_entries"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectRollback()

	boom := errors.New("escrow insert failed")
	err := store.WithTx(context.Background(), func(tx repository.Store) error {
		if err := tx.Ledger().Append(context.Background(), &models.LedgerEntry{
			Reference: "LED-1",
			Type:      models.LedgerHold,
			Amount:    decimal.NewFromInt(100000),
			Currency:  "IDR",
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
