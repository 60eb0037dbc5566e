package repository

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"GigEscrow/internal/models"
)

type gormWithdrawalRepository struct {
	db *gorm.DB
}

func (r *gormWithdrawalRepository) Create(ctx context.Context, w *models.Withdrawal) error {
	return translate(r.db.WithContext(ctx).Create(w).Error)
}

func (r *gormWithdrawalRepository) GetByID(ctx context.Context, id uint) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.db.WithContext(ctx).First(&w, id).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (r *gormWithdrawalRepository) GetForUpdate(ctx context.Context, id uint) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := forUpdate(r.db.WithContext(ctx)).First(&w, id).Error; err != nil {
		return nil, translate(err)
	}
	return &w, nil
}

func (r *gormWithdrawalRepository) HasActive(ctx context.Context, escrowID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("escrow_id = ? AND status IN ?", escrowID,
			[]models.WithdrawalStatus{models.WithdrawalPending, models.WithdrawalProcessing}).
		Count(&count).Error
	return count > 0, translate(err)
}

func (r *gormWithdrawalRepository) ListByFreelancer(ctx context.Context, freelancerID uint) ([]models.Withdrawal, error) {
	var withdrawals []models.Withdrawal
	err := r.db.WithContext(ctx).
		Where("freelancer_id = ?", freelancerID).
		Order("created_at DESC").
		Find(&withdrawals).Error
	return withdrawals, translate(err)
}

func (r *gormWithdrawalRepository) ListByStatus(ctx context.Context, status models.WithdrawalStatus) ([]models.Withdrawal, error) {
	var withdrawals []models.Withdrawal
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&withdrawals).Error
	return withdrawals, translate(err)
}

func (r *gormWithdrawalRepository) UpdateStatus(ctx context.Context, w *models.Withdrawal, from models.WithdrawalStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", w.ID, from).
		Updates(map[string]interface{}{
			"status":            w.Status,
			"proof_of_transfer": w.ProofOfTransfer,
			"note":              w.Note,
			"failure_reason":    w.FailureReason,
			"processed_by":      w.ProcessedBy,
			"processing_at":     w.ProcessingAt,
			"paid_out_at":       w.PaidOutAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

func (r *gormWithdrawalRepository) Stats(ctx context.Context) (*models.WithdrawalStats, error) {
	var rows []struct {
		Status models.WithdrawalStatus
		Count  int64
		Net    decimal.Decimal
		Fees   decimal.Decimal
	}
	err := r.db.WithContext(ctx).Model(&models.Withdrawal{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(net_amount), 0) AS net, COALESCE(SUM(platform_fee), 0) AS fees").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	stats := &models.WithdrawalStats{TotalPaidOut: decimal.Zero, TotalFeesTaken: decimal.Zero}
	for _, row := range rows {
		switch row.Status {
		case models.WithdrawalPending:
			stats.Pending = row.Count
		case models.WithdrawalProcessing:
			stats.Processing = row.Count
		case models.WithdrawalCompleted:
			stats.Completed = row.Count
			stats.TotalPaidOut = row.Net
			stats.TotalFeesTaken = row.Fees
		case models.WithdrawalFailed:
			stats.Failed = row.Count
		}
	}
	return stats, nil
}
