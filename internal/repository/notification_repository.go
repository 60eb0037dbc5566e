package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"GigEscrow/internal/models"
)

type gormNotificationRepository struct {
	db *gorm.DB
}

func (r *gormNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	return translate(r.db.WithContext(ctx).Create(n).Error)
}

func (r *gormNotificationRepository) ListByUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var notifications []models.Notification
	err := query.Order("created_at DESC").Find(&notifications).Error
	return notifications, translate(err)
}

func (r *gormNotificationRepository) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, translate(err)
}

func (r *gormNotificationRepository) MarkRead(ctx context.Context, userID, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormNotificationRepository) MarkAllRead(ctx context.Context, userID uint, at time.Time) error {
	return translate(r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at}).Error)
}

func (r *gormNotificationRepository) Delete(ctx context.Context, userID, id uint) error {
	res := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
