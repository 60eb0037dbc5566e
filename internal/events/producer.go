package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"GigEscrow/internal/logger"
)

const connectAttempts = 5

// Producer publishes domain events to Kafka. It satisfies
// services.EventPublisher.
type Producer struct {
	producer sarama.SyncProducer
	log      *zap.Logger
}

func producerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "gigescrow-payments"
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// NewProducer connects to the brokers, retrying while Kafka starts up.
func NewProducer(brokers []string, log *zap.Logger) (*Producer, error) {
	var (
		producer sarama.SyncProducer
		err      error
	)
	for i := 1; i <= connectAttempts; i++ {
		producer, err = sarama.NewSyncProducer(brokers, producerConfig())
		if err == nil {
			log.Info("Kafka producer initialized", zap.Strings("brokers", brokers))
			return NewProducerWith(producer, log), nil
		}
		log.Warn("Waiting for Kafka producer",
			zap.Int("attempt", i), zap.Int("of", connectAttempts), zap.Error(err))
		time.Sleep(time.Duration(i) * time.Second)
	}
	return nil, fmt.Errorf("failed to start Kafka producer: %w", err)
}

func NewProducerWith(producer sarama.SyncProducer, log *zap.Logger) *Producer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{producer: producer, log: log}
}

// Publish sends event as JSON keyed by key, so every event for one entity
// lands on the same partition.
func (p *Producer) Publish(ctx context.Context, topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}
	if requestID := logger.RequestID(ctx); requestID != "unknown" {
		msg.Headers = []sarama.RecordHeader{{Key: []byte("X-Request-ID"), Value: []byte(requestID)}}
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send %s message: %w", topic, err)
	}

	logger.FromContext(ctx, p.log).Debug("Published event",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
