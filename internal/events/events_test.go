package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"GigEscrow/internal/logger"
)

func TestProducer_PublishesJSON(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got map[string]interface{}
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got["event_type"] != "escrow.released" {
			return errors.New("unexpected event_type")
		}
		return nil
	})

	p := NewProducerWith(sp, zaptest.NewLogger(t))
	ctx := logger.WithRequestID(context.Background(), "req-1")
	err := p.Publish(ctx, "payments.escrow.released", "42", map[string]interface{}{
		"event_type": "escrow.released",
		"data":       map[string]interface{}{"escrow_id": 42},
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestProducer_SendFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerWith(sp, zaptest.NewLogger(t))
	err := p.Publish(context.Background(), "payments.payment.paid", "TRX-1", map[string]string{"status": "paid"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestProducer_UnmarshalableEvent(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewProducerWith(sp, zaptest.NewLogger(t))

	err := p.Publish(context.Background(), "payments.payment.paid", "", map[string]interface{}{"bad": make(chan int)})
	assert.Error(t, err)
	require.NoError(t, p.Close())
}

type fakeReleaser struct {
	mu     sync.Mutex
	orders []uint
}

func (f *fakeReleaser) ReleaseForOrder(_ context.Context, orderID uint, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, orderID)
	return 1, nil
}

func (f *fakeReleaser) Orders() []uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint(nil), f.orders...)
}

func TestConsumer_ReleasesCompletedOrders(t *testing.T) {
	const topic = "order.completed"
	mc := mocks.NewConsumer(t, nil)
	mc.SetTopicMetadata(map[string][]int32{topic: {0}})
	pc := mc.ExpectConsumePartition(topic, 0, sarama.OffsetNewest)

	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`not json`)})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"status":"completed"}`)})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"order_id":500,"status":"completed"}`)})
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"order_id":501,"status":"completed"}`)})

	releaser := &fakeReleaser{}
	c := NewConsumerWith(mc, topic, releaser, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(releaser.Orders()) == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []uint{500, 501}, releaser.Orders())
}

func TestConsumer_UnknownTopic(t *testing.T) {
	mc := mocks.NewConsumer(t, nil)
	mc.SetTopicMetadata(map[string][]int32{})
	c := NewConsumerWith(mc, "order.completed", &fakeReleaser{}, zaptest.NewLogger(t))

	err := c.Run(context.Background())
	assert.Error(t, err)
	require.NoError(t, c.Close())
}

type errorLog struct {
	mu   sync.Mutex
	msgs []string
}

func (e *errorLog) Errorf(format string, args ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, fmt.Sprintf(format, args...))
}

func TestConsumer_PartitionOpenFailureStartsNothing(t *testing.T) {
	const topic = "order.completed"
	reporter := &errorLog{}
	mc := mocks.NewConsumer(reporter, nil)
	mc.SetTopicMetadata(map[string][]int32{topic: {0, 1}})
	pc := mc.ExpectConsumePartition(topic, 0, sarama.OffsetNewest)
	pc.YieldMessage(&sarama.ConsumerMessage{Value: []byte(`{"order_id":500,"status":"completed"}`)})

	releaser := &fakeReleaser{}
	c := NewConsumerWith(mc, topic, releaser, zaptest.NewLogger(t))

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order.completed/1")

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, releaser.Orders())
}
