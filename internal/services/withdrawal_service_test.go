package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/models"
)

func bankPayout(escrowID uint) RequestWithdrawalInput {
	return RequestWithdrawalInput{
		EscrowID:          escrowID,
		PayoutMethod:      models.PayoutBankTransfer,
		BankName:          "BCA",
		AccountNumber:     "1234567890",
		AccountHolderName: "Dewi Lestari",
	}
}

func (h *harness) releasedEscrow(t *testing.T) *models.Escrow {
	t.Helper()
	_, e := h.paidEscrow(t)
	released, err := h.escrow.Release(context.Background(), e.ID, client, "accepted")
	require.NoError(t, err)
	return released
}

func TestWithdrawal_FullFlow(t *testing.T) {
	h := newHarness(t)
	e := h.releasedEscrow(t)
	ctx := context.Background()

	w, err := h.withdrawals.RequestWithdrawal(ctx, freelancer, bankPayout(e.ID))
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalPending, w.Status)
	assert.Equal(t, "100000", w.GrossAmount.String())
	assert.Equal(t, "5000", w.PlatformFee.String())
	assert.Equal(t, "95000", w.NetAmount.String())
	assert.Regexp(t, `^WD-\d+-\d{6}$`, w.Reference)
	assert.NotEmpty(t, h.rec.Alerts())

	_, err = h.withdrawals.StartProcessing(ctx, w.ID, freelancer)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	w, err = h.withdrawals.StartProcessing(ctx, w.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalProcessing, w.Status)

	_, err = h.withdrawals.Complete(ctx, w.ID, admin, "", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	w, err = h.withdrawals.Complete(ctx, w.ID, admin, "https://res.cloudinary.com/proof.pdf", "sent via BCA")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalCompleted, w.Status)
	require.NotNil(t, w.PaidOutAt)

	assert.Equal(t, models.EscrowCompleted, h.getEscrow(t, e.ID).Status)

	types := map[models.LedgerEntryType]string{}
	for _, entry := range h.store.AllLedgerEntries() {
		types[entry.Type] = entry.Amount.String()
	}
	assert.Equal(t, "95000", types[models.LedgerWithdrawal])
	assert.Equal(t, "5000", types[models.LedgerFee])
	assert.Contains(t, h.rec.NotificationsFor(freelancerID), models.NotificationWithdrawalSuccess)

	_, err = h.withdrawals.Fail(ctx, w.ID, admin, "too late")
	assert.ErrorIs(t, err, apperr.ErrInvalidWithdrawalState)
}

func TestWithdrawal_RequiresReleasedEscrowOwnedByFreelancer(t *testing.T) {
	h := newHarness(t)
	_, held := h.paidEscrow(t)

	_, err := h.withdrawals.RequestWithdrawal(context.Background(), freelancer, bankPayout(held.ID))
	assert.ErrorIs(t, err, apperr.ErrInvalidEscrowState)

	_, err = h.escrow.Release(context.Background(), held.ID, client, "")
	require.NoError(t, err)

	_, err = h.withdrawals.RequestWithdrawal(context.Background(), client, bankPayout(held.ID))
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = h.withdrawals.RequestWithdrawal(context.Background(), freelancer, bankPayout(9999))
	assert.ErrorIs(t, err, apperr.ErrEscrowNotFound)
}

func TestWithdrawal_InvalidPayoutMethod(t *testing.T) {
	h := newHarness(t)
	e := h.releasedEscrow(t)

	in := bankPayout(e.ID)
	in.PayoutMethod = "crypto"
	_, err := h.withdrawals.RequestWithdrawal(context.Background(), freelancer, in)
	assert.ErrorIs(t, err, apperr.ErrInvalidPayoutMethod)

	in = bankPayout(e.ID)
	in.AccountNumber = "  "
	_, err = h.withdrawals.RequestWithdrawal(context.Background(), freelancer, in)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	missing := uint(4242)
	_, err = h.withdrawals.RequestWithdrawal(context.Background(), freelancer, RequestWithdrawalInput{EscrowID: e.ID, PayoutMethodID: &missing})
	assert.ErrorIs(t, err, apperr.ErrPayoutMethodNotFound)
}

func TestWithdrawal_OneActivePerEscrow(t *testing.T) {
	h := newHarness(t)
	e := h.releasedEscrow(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		blocked   int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.withdrawals.RequestWithdrawal(context.Background(), freelancer, bankPayout(e.ID))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperr.ErrWithdrawalInProgress):
				blocked++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 4, blocked)
}

func TestWithdrawal_FailedCanBeRequestedAgain(t *testing.T) {
	h := newHarness(t)
	e := h.releasedEscrow(t)
	ctx := context.Background()

	first, err := h.withdrawals.RequestWithdrawal(ctx, freelancer, bankPayout(e.ID))
	require.NoError(t, err)

	_, err = h.withdrawals.Fail(ctx, first.ID, admin, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	failed, err := h.withdrawals.Fail(ctx, first.ID, admin, "account closed")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawalFailed, failed.Status)
	assert.Equal(t, "account closed", failed.FailureReason)
	assert.Equal(t, models.EscrowReleased, h.getEscrow(t, e.ID).Status)

	second, err := h.withdrawals.RequestWithdrawal(ctx, freelancer, bankPayout(e.ID))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	stats, err := h.withdrawals.Stats(ctx, admin)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)
	assert.EqualValues(t, 1, stats.Failed)

	_, err = h.withdrawals.Stats(ctx, freelancer)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	pending, err := h.withdrawals.ListByStatus(ctx, models.WithdrawalPending, admin)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestWithdrawal_GetIsScopedToOwner(t *testing.T) {
	h := newHarness(t)
	e := h.releasedEscrow(t)
	w, err := h.withdrawals.RequestWithdrawal(context.Background(), freelancer, bankPayout(e.ID))
	require.NoError(t, err)

	_, err = h.withdrawals.Get(context.Background(), w.ID, client)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = h.withdrawals.Get(context.Background(), w.ID, admin)
	assert.NoError(t, err)

	mine, err := h.withdrawals.ListForFreelancer(context.Background(), freelancerID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestPayoutMethods(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.withdrawals.AddPayoutMethod(ctx, freelancerID, PayoutMethodInput{Type: "cash", Provider: "x", AccountNumber: "1", AccountName: "x"})
	assert.ErrorIs(t, err, apperr.ErrInvalidPayoutMethod)

	bank, err := h.withdrawals.AddPayoutMethod(ctx, freelancerID, PayoutMethodInput{
		Type: models.PayoutBankTransfer, Provider: "BCA", AccountNumber: "1234567890", AccountName: "Dewi Lestari",
	})
	require.NoError(t, err)
	assert.True(t, bank.IsDefault)

	wallet, err := h.withdrawals.AddPayoutMethod(ctx, freelancerID, PayoutMethodInput{
		Type: models.PayoutEWallet, Provider: "GoPay", AccountNumber: "081234567890", AccountName: "Dewi Lestari",
	})
	require.NoError(t, err)
	assert.False(t, wallet.IsDefault)

	require.NoError(t, h.withdrawals.SetDefaultPayoutMethod(ctx, freelancerID, wallet.ID))
	methods, err := h.withdrawals.ListPayoutMethods(ctx, freelancerID)
	require.NoError(t, err)
	require.Len(t, methods, 2)
	assert.False(t, methods[0].IsDefault)
	assert.True(t, methods[1].IsDefault)

	err = h.withdrawals.SetDefaultPayoutMethod(ctx, clientID, wallet.ID)
	assert.ErrorIs(t, err, apperr.ErrPayoutMethodNotFound)

	e := h.releasedEscrow(t)
	w, err := h.withdrawals.RequestWithdrawal(ctx, freelancer, RequestWithdrawalInput{EscrowID: e.ID, PayoutMethodID: &wallet.ID})
	require.NoError(t, err)
	assert.Equal(t, models.PayoutEWallet, w.PayoutMethod)
	assert.Equal(t, "GoPay", w.BankName)
	require.NotNil(t, w.PayoutMethodID)
	assert.Equal(t, wallet.ID, *w.PayoutMethodID)

	require.NoError(t, h.withdrawals.DeletePayoutMethod(ctx, freelancerID, bank.ID))
	assert.ErrorIs(t, h.withdrawals.DeletePayoutMethod(ctx, freelancerID, bank.ID), apperr.ErrPayoutMethodNotFound)
}

func TestMaskAccount(t *testing.T) {
	assert.Equal(t, "******7890", maskAccount("1234567890"))
	assert.Equal(t, "123", maskAccount("123"))
}
