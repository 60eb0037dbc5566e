package repository

import (
	"context"

	"gorm.io/gorm"

	"GigEscrow/internal/models"
)

type gormPayoutMethodRepository struct {
	db *gorm.DB
}

func (r *gormPayoutMethodRepository) Create(ctx context.Context, m *models.PayoutMethod) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.PayoutMethod{}).Where("user_id = ?", m.UserID).Count(&count).Error; err != nil {
			return translate(err)
		}
		// The first saved method becomes the default.
		if count == 0 {
			m.IsDefault = true
		} else if m.IsDefault {
			if err := tx.Model(&models.PayoutMethod{}).
				Where("user_id = ?", m.UserID).
				Update("is_default", false).Error; err != nil {
				return translate(err)
			}
		}
		return translate(tx.Create(m).Error)
	})
}

func (r *gormPayoutMethodRepository) GetByID(ctx context.Context, userID, id uint) (*models.PayoutMethod, error) {
	var m models.PayoutMethod
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (r *gormPayoutMethodRepository) ListByUser(ctx context.Context, userID uint) ([]models.PayoutMethod, error) {
	var methods []models.PayoutMethod
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC, created_at DESC").
		Find(&methods).Error
	return methods, translate(err)
}

func (r *gormPayoutMethodRepository) SetDefault(ctx context.Context, userID, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.PayoutMethod
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&m).Error; err != nil {
			return translate(err)
		}
		if err := tx.Model(&models.PayoutMethod{}).
			Where("user_id = ?", userID).
			Update("is_default", false).Error; err != nil {
			return translate(err)
		}
		return translate(tx.Model(&m).Update("is_default", true).Error)
	})
}

func (r *gormPayoutMethodRepository) Delete(ctx context.Context, userID, id uint) error {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.PayoutMethod{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
