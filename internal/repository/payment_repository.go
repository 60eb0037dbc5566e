package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"GigEscrow/internal/models"
)

type gormPaymentRepository struct {
	db *gorm.DB
}

func (r *gormPaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

func (r *gormPaymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *gormPaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *gormPaymentRepository) GetForUpdate(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := forUpdate(r.db.WithContext(ctx)).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *gormPaymentRepository) ListByOrder(ctx context.Context, orderID uint) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, translate(err)
}

func (r *gormPaymentRepository) HasPaid(ctx context.Context, orderID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("order_id = ? AND status = ?", orderID, models.PaymentPaid).
		Count(&count).Error
	return count > 0, translate(err)
}

func (r *gormPaymentRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.PaymentPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, translate(err)
}

func (r *gormPaymentRepository) UpdateStatus(ctx context.Context, p *models.Payment, from models.PaymentStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", p.ID, from).
		Updates(map[string]interface{}{
			"status":             p.Status,
			"external_id":        p.ExternalID,
			"callback_payload":   p.CallbackPayload,
			"callback_signature": p.CallbackSignature,
			"invoice_number":     p.InvoiceNumber,
			"failure_reason":     p.FailureReason,
			"paid_at":            p.PaidAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}
