package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"GigEscrow/internal/logger"
	"GigEscrow/internal/models"
)

// Dispatcher runs the best-effort side effects that follow a committed
// state change. Failures are logged and never reach the caller.
type Dispatcher struct {
	notifier    Notifier
	publisher   EventPublisher
	alerter     Alerter
	topicPrefix string
	log         *zap.Logger
}

func NewDispatcher(notifier Notifier, publisher EventPublisher, alerter Alerter, topicPrefix string, log *zap.Logger) *Dispatcher {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if alerter == nil {
		alerter = noopAlerter{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		notifier:    notifier,
		publisher:   publisher,
		alerter:     alerter,
		topicPrefix: topicPrefix,
		log:         log,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, userID uint, kind models.NotificationType, payload map[string]interface{}) {
	if userID == 0 {
		return
	}
	d.notifier.Notify(ctx, userID, kind, payload)
}

// Emit publishes eventType (e.g. "escrow.released") keyed by key.
func (d *Dispatcher) Emit(ctx context.Context, eventType, key string, data map[string]interface{}) {
	topic := eventType
	if d.topicPrefix != "" {
		topic = d.topicPrefix + "." + eventType
	}
	event := DomainEvent{Type: eventType, OccurredAt: time.Now().UTC(), Data: data}
	if err := d.publisher.Publish(ctx, topic, key, event); err != nil {
		logger.FromContext(ctx, d.log).Warn("Failed to publish event",
			zap.String("topic", topic), zap.String("key", key), zap.Error(err))
	}
}

func (d *Dispatcher) Alert(ctx context.Context, subject, body string) {
	if err := d.alerter.Alert(ctx, subject, body); err != nil {
		logger.FromContext(ctx, d.log).Warn("Failed to send ops alert",
			zap.String("subject", subject), zap.Error(err))
	}
}
