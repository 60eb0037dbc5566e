package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"GigEscrow/internal/models"
)

type gormEscrowRepository struct {
	db *gorm.DB
}

func (r *gormEscrowRepository) Create(ctx context.Context, e *models.Escrow) error {
	if e.Version == 0 {
		e.Version = 1
	}
	return translate(r.db.WithContext(ctx).Create(e).Error)
}

func (r *gormEscrowRepository) GetByID(ctx context.Context, id uint) (*models.Escrow, error) {
	var e models.Escrow
	if err := r.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *gormEscrowRepository) GetForUpdate(ctx context.Context, id uint) (*models.Escrow, error) {
	var e models.Escrow
	if err := forUpdate(r.db.WithContext(ctx)).First(&e, id).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *gormEscrowRepository) GetByPaymentID(ctx context.Context, paymentID uint) (*models.Escrow, error) {
	var e models.Escrow
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&e).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *gormEscrowRepository) ListByOrder(ctx context.Context, orderID uint) ([]models.Escrow, error) {
	var escrows []models.Escrow
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&escrows).Error
	return escrows, translate(err)
}

func (r *gormEscrowRepository) ListDueForRelease(ctx context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	var escrows []models.Escrow
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_release_at <= ?", models.EscrowHeld, now).
		Order("scheduled_release_at ASC").
		Limit(limit).
		Find(&escrows).Error
	return escrows, translate(err)
}

func (r *gormEscrowRepository) Save(ctx context.Context, e *models.Escrow) error {
	res := r.db.WithContext(ctx).Model(&models.Escrow{}).
		Where("id = ? AND version = ?", e.ID, e.Version).
		Updates(map[string]interface{}{
			"held_amount":     e.HeldAmount,
			"released_amount": e.ReleasedAmount,
			"refunded_amount": e.RefundedAmount,
			"status":          e.Status,
			"reason":          e.Reason,
			"released_at":     e.ReleasedAt,
			"disputed_at":     e.DisputedAt,
			"completed_at":    e.CompletedAt,
			"version":         e.Version + 1,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	e.Version++
	return nil
}
