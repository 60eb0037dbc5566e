package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/logger"
	"GigEscrow/internal/models"
	"GigEscrow/internal/repository"
)

type notificationTemplate struct {
	title  string
	render func(data map[string]interface{}) string
}

var notificationTemplates = map[models.NotificationType]notificationTemplate{
	models.NotificationPaymentCreated: {"Payment Started", func(d map[string]interface{}) string {
		return fmt.Sprintf("Complete your payment of %v %v for order #%v before it expires", d["total_amount"], d["currency"], d["order_id"])
	}},
	models.NotificationPaymentPaid: {"Payment Received", func(d map[string]interface{}) string {
		return fmt.Sprintf("Your payment of %v %v for order #%v was received and is held in escrow", d["total_amount"], d["currency"], d["order_id"])
	}},
	models.NotificationPaymentFailed: {"Payment Failed", func(d map[string]interface{}) string {
		return fmt.Sprintf("Your payment for order #%v did not go through", d["order_id"])
	}},
	models.NotificationEscrowHeld: {"Funds Secured", func(d map[string]interface{}) string {
		return fmt.Sprintf("%v %v for order #%v is now held in escrow. You can start work", d["held_amount"], d["currency"], d["order_id"])
	}},
	models.NotificationEscrowReleased: {"Funds Released", func(d map[string]interface{}) string {
		return fmt.Sprintf("%v %v has been released for order #%v", d["released_amount"], d["currency"], d["order_id"])
	}},
	models.NotificationEscrowDisputed: {"Dispute Raised", func(d map[string]interface{}) string {
		return fmt.Sprintf("The escrow for order #%v is under dispute. An admin will review it", d["order_id"])
	}},
	models.NotificationEscrowRefunded: {"Escrow Refunded", func(d map[string]interface{}) string {
		return fmt.Sprintf("%v %v from order #%v was refunded", d["refunded_amount"], d["currency"], d["order_id"])
	}},
	models.NotificationWithdrawalRequested: {"Withdrawal Requested", func(d map[string]interface{}) string {
		return fmt.Sprintf("Your withdrawal %v of %v is awaiting processing", d["reference"], d["net_amount"])
	}},
	models.NotificationWithdrawalSuccess: {"Withdrawal Successful", func(d map[string]interface{}) string {
		return fmt.Sprintf("%v has been sent to your account (%v)", d["net_amount"], d["reference"])
	}},
	models.NotificationWithdrawalFailed: {"Withdrawal Failed", func(d map[string]interface{}) string {
		return fmt.Sprintf("Your withdrawal %v failed: %v. You can request it again", d["reference"], d["reason"])
	}},
	models.NotificationRefundRequested: {"Refund Requested", func(d map[string]interface{}) string {
		return fmt.Sprintf("Your refund request of %v is awaiting review", d["amount"])
	}},
	models.NotificationRefundCompleted: {"Refund Completed", func(d map[string]interface{}) string {
		return fmt.Sprintf("%v has been refunded to your original payment method", d["amount"])
	}},
	models.NotificationRefundFailed: {"Refund Failed", func(d map[string]interface{}) string {
		return fmt.Sprintf("Your refund of %v could not be completed: %v", d["amount"], d["reason"])
	}},
}

// NotificationService stores in-app notifications and serves the inbox.
type NotificationService struct {
	store repository.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewNotificationService(store repository.Store, log *zap.Logger) *NotificationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationService{store: store, log: log, now: time.Now}
}

// CreateNotification creates a new notification
func (s *NotificationService) CreateNotification(ctx context.Context, userID uint, notifType models.NotificationType, title, message string, data map[string]interface{}) error {
	var dataJSON datatypes.JSON
	if data != nil {
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal notification data: %w", err)
		}
		dataJSON = jsonBytes
	}

	notification := &models.Notification{
		UserID:  userID,
		Type:    notifType,
		Title:   title,
		Message: message,
		Data:    dataJSON,
		IsRead:  false,
	}
	if err := s.store.Notifications().Create(ctx, notification); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// Notify renders the template for kind and stores it. Errors are logged.
func (s *NotificationService) Notify(ctx context.Context, userID uint, kind models.NotificationType, payload map[string]interface{}) {
	tpl, ok := notificationTemplates[kind]
	if !ok {
		tpl = notificationTemplate{title: "Account Update", render: func(map[string]interface{}) string {
			return "There is an update on your account"
		}}
	}
	if err := s.CreateNotification(ctx, userID, kind, tpl.title, tpl.render(payload), payload); err != nil {
		logger.FromContext(ctx, s.log).Warn("Failed to store notification",
			zap.Uint("user_id", userID), zap.String("type", string(kind)), zap.Error(err))
	}
}

func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	items, err := s.store.Notifications().ListByUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	unread, err := s.store.Notifications().UnreadCount(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return items, unread, nil
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.store.Notifications().UnreadCount(ctx, userID)
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id uint) error {
	return notificationErr(id, s.store.Notifications().MarkRead(ctx, userID, id, s.now()))
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID uint) error {
	return s.store.Notifications().MarkAllRead(ctx, userID, s.now())
}

func (s *NotificationService) Delete(ctx context.Context, userID, id uint) error {
	return notificationErr(id, s.store.Notifications().Delete(ctx, userID, id))
}

func notificationErr(id uint, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Newf(apperr.ErrNotificationNotFound, "notification %d not found", id)
	}
	return err
}
