package repository

import (
	"context"

	"gorm.io/gorm"

	"GigEscrow/internal/models"
)

type gormRefundRepository struct {
	db *gorm.DB
}

func (r *gormRefundRepository) Create(ctx context.Context, rf *models.Refund) error {
	return translate(r.db.WithContext(ctx).Create(rf).Error)
}

func (r *gormRefundRepository) GetByID(ctx context.Context, id uint) (*models.Refund, error) {
	var rf models.Refund
	if err := r.db.WithContext(ctx).First(&rf, id).Error; err != nil {
		return nil, translate(err)
	}
	return &rf, nil
}

func (r *gormRefundRepository) GetForUpdate(ctx context.Context, id uint) (*models.Refund, error) {
	var rf models.Refund
	if err := forUpdate(r.db.WithContext(ctx)).First(&rf, id).Error; err != nil {
		return nil, translate(err)
	}
	return &rf, nil
}

func (r *gormRefundRepository) HasActive(ctx context.Context, paymentID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Refund{}).
		Where("payment_id = ? AND status IN ?", paymentID,
			[]models.RefundStatus{models.RefundPending, models.RefundProcessing}).
		Count(&count).Error
	return count > 0, translate(err)
}

func (r *gormRefundRepository) HasProcessing(ctx context.Context, escrowID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Refund{}).
		Where("escrow_id = ? AND status = ?", escrowID, models.RefundProcessing).
		Count(&count).Error
	return count > 0, translate(err)
}

func (r *gormRefundRepository) ListByPayment(ctx context.Context, paymentID uint) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at DESC").
		Find(&refunds).Error
	return refunds, translate(err)
}

func (r *gormRefundRepository) UpdateStatus(ctx context.Context, rf *models.Refund, from models.RefundStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Refund{}).
		Where("id = ? AND status = ?", rf.ID, from).
		Updates(map[string]interface{}{
			"status":                 rf.Status,
			"gateway_transaction_id": rf.GatewayTransactionID,
			"note":                   rf.Note,
			"failure_reason":         rf.FailureReason,
			"processed_by":           rf.ProcessedBy,
			"processed_at":           rf.ProcessedAt,
			"completed_at":           rf.CompletedAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
