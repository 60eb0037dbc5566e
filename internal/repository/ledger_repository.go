package repository

import (
	"context"

	"gorm.io/gorm"

	"GigEscrow/internal/models"
)

type gormLedgerRepository struct {
	db *gorm.DB
}

func (r *gormLedgerRepository) Append(ctx context.Context, e *models.LedgerEntry) error {
	return translate(r.db.WithContext(ctx).Create(e).Error)
}

func (r *gormLedgerRepository) ListByEscrow(ctx context.Context, escrowID uint) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).Where("escrow_id = ?", escrowID).Order("id ASC").Find(&entries).Error
	return entries, translate(err)
}

type gormEventRepository struct {
	db *gorm.DB
}

func (r *gormEventRepository) Record(ctx context.Context, ev *models.GatewayEvent) error {
	return translate(r.db.WithContext(ctx).Create(ev).Error)
}

type gormDisputeRepository struct {
	db *gorm.DB
}

func (r *gormDisputeRepository) Create(ctx context.Context, d *models.Dispute) error {
	return translate(r.db.WithContext(ctx).Create(d).Error)
}

func (r *gormDisputeRepository) GetOpenByEscrow(ctx context.Context, escrowID uint) (*models.Dispute, error) {
	var d models.Dispute
	err := r.db.WithContext(ctx).
		Where("escrow_id = ? AND status = ?", escrowID, models.DisputeOpen).
		Order("id DESC").
		First(&d).Error
	if err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (r *gormDisputeRepository) Resolve(ctx context.Context, d *models.Dispute) error {
	res := r.db.WithContext(ctx).Model(&models.Dispute{}).
		Where("id = ? AND status = ?", d.ID, models.DisputeOpen).
		Updates(map[string]interface{}{
			"status":      models.DisputeResolved,
			"resolution":  d.Resolution,
			"resolved_by": d.ResolvedBy,
			"resolved_at": d.ResolvedAt,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	d.Status = models.DisputeResolved
	return nil
}
