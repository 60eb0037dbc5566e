package models

import (
	"time"

	"gorm.io/datatypes"
)

type NotificationType string

const (
	NotificationPaymentCreated      NotificationType = "payment_created"
	NotificationPaymentPaid         NotificationType = "payment_paid"
	NotificationPaymentFailed       NotificationType = "payment_failed"
	NotificationEscrowHeld          NotificationType = "escrow_held"
	NotificationEscrowReleased      NotificationType = "escrow_released"
	NotificationEscrowDisputed      NotificationType = "escrow_disputed"
	NotificationEscrowRefunded      NotificationType = "escrow_refunded"
	NotificationWithdrawalRequested NotificationType = "withdrawal_requested"
	NotificationWithdrawalSuccess   NotificationType = "withdrawal_success"
	NotificationWithdrawalFailed    NotificationType = "withdrawal_failed"
	NotificationRefundRequested     NotificationType = "refund_requested"
	NotificationRefundCompleted     NotificationType = "refund_completed"
	NotificationRefundFailed        NotificationType = "refund_failed"
)

type Notification struct {
	ID        uint             `json:"id" gorm:"primaryKey"`
	UserID    uint             `json:"user_id" gorm:"not null;index"`
	Type      NotificationType `json:"type" gorm:"type:varchar(50);not null"`
	Title     string           `json:"title" gorm:"type:varchar(255);not null"`
	Message   string           `json:"message" gorm:"type:text;not null"`
	IsRead    bool             `json:"is_read" gorm:"default:false;index"`
	Data      datatypes.JSON   `json:"data"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
