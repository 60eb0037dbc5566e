package database

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"GigEscrow/internal/models"
)

// Partial unique indexes keep at most one active withdrawal per escrow and
// one active refund per payment, even under concurrent requests.
var constraintStatements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_withdrawals_active_escrow
		ON withdrawals (escrow_id) WHERE status IN ('pending', 'processing')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_refunds_active_payment
		ON refunds (payment_id) WHERE status IN ('pending', 'processing')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payout_methods_default
		ON payout_methods (user_id) WHERE is_default AND deleted_at IS NULL`,
}

func Migrate(db *gorm.DB, log *zap.Logger) error {
	log.Info("Running database migrations...")

	err := db.AutoMigrate(
		&models.Payment{},
		&models.Escrow{},
		&models.Withdrawal{},
		&models.Refund{},
		&models.LedgerEntry{},
		&models.GatewayEvent{},
		&models.Dispute{},
		&models.PayoutMethod{},
		&models.Notification{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	for _, stmt := range constraintStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}

	log.Info("Database migration completed successfully")
	return nil
}
