package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OrderReleaser releases the escrows of an order the marketplace has
// marked completed.
type OrderReleaser interface {
	ReleaseForOrder(ctx context.Context, orderID uint, reason string) (int, error)
}

// OrderCompleted is the payload of the order service's completion event.
type OrderCompleted struct {
	OrderID     uint      `json:"order_id"`
	Status      string    `json:"status"`
	CompletedAt time.Time `json:"completed_at"`
}

// Consumer listens for order completion events on every partition of a
// topic.
type Consumer struct {
	consumer sarama.Consumer
	topic    string
	releaser OrderReleaser
	log      *zap.Logger
}

func NewConsumer(brokers []string, topic string, releaser OrderReleaser, log *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.ClientID = "gigescrow-payments"
	config.Consumer.Return.Errors = true

	var (
		client sarama.Consumer
		err    error
	)
	for i := 1; i <= connectAttempts; i++ {
		client, err = sarama.NewConsumer(brokers, config)
		if err == nil {
			log.Info("Kafka consumer initialized", zap.String("topic", topic))
			return NewConsumerWith(client, topic, releaser, log), nil
		}
		log.Warn("Waiting for Kafka consumer",
			zap.Int("attempt", i), zap.Int("of", connectAttempts), zap.Error(err))
		time.Sleep(time.Duration(i) * time.Second)
	}
	return nil, fmt.Errorf("failed to start Kafka consumer: %w", err)
}

func NewConsumerWith(consumer sarama.Consumer, topic string, releaser OrderReleaser, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{consumer: consumer, topic: topic, releaser: releaser, log: log}
}

// Run consumes until ctx is cancelled. Nothing is consumed unless every
// partition opens.
func (c *Consumer) Run(ctx context.Context) error {
	partitions, err := c.consumer.Partitions(c.topic)
	if err != nil {
		return fmt.Errorf("failed to list partitions of %s: %w", c.topic, err)
	}

	opened := make([]sarama.PartitionConsumer, 0, len(partitions))
	for _, partition := range partitions {
		pc, err := c.consumer.ConsumePartition(c.topic, partition, sarama.OffsetNewest)
		if err != nil {
			for _, o := range opened {
				o.AsyncClose()
			}
			return fmt.Errorf("failed to consume %s/%d: %w", c.topic, partition, err)
		}
		opened = append(opened, pc)
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, pc := range opened {
		pc := pc
		g.Go(func() error {
			defer pc.AsyncClose()
			return c.consume(ctx, pc)
		})
	}

	c.log.Info("Listening for order events", zap.String("topic", c.topic), zap.Int("partitions", len(partitions)))
	return g.Wait()
}

func (c *Consumer) consume(ctx context.Context, pc sarama.PartitionConsumer) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		case err, ok := <-pc.Errors():
			if !ok {
				return nil
			}
			c.log.Warn("Kafka consumer error", zap.Error(err))
		}
	}
}

// handle never fails the partition loop; a bad message is logged and skipped.
func (c *Consumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	log := c.log.With(zap.Int32("partition", msg.Partition), zap.Int64("offset", msg.Offset))

	var event OrderCompleted
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Warn("Skipping malformed order event", zap.Error(err))
		return
	}
	if event.OrderID == 0 {
		log.Warn("Skipping order event without order_id")
		return
	}

	released, err := c.releaser.ReleaseForOrder(ctx, event.OrderID, "order completed")
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Failed to release escrow for completed order",
			zap.Uint("order_id", event.OrderID), zap.Error(err))
		return
	}
	log.Info("Processed order completion",
		zap.Uint("order_id", event.OrderID), zap.Int("released", released))
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
