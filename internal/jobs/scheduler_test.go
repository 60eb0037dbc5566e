package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingSweep struct {
	mu     sync.Mutex
	calls  int
	limits []int
	err    error
}

func (c *countingSweep) run(limit int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.limits = append(c.limits, limit)
	return 3, c.err
}

func (c *countingSweep) ExpireStale(_ context.Context, limit int) (int, error) { return c.run(limit) }
func (c *countingSweep) ReleaseDue(_ context.Context, limit int) (int, error)  { return c.run(limit) }

func TestScheduler_RunsSweepsWithBatchSize(t *testing.T) {
	payments, escrow := &countingSweep{}, &countingSweep{}
	s := NewScheduler(payments, escrow, 25, zaptest.NewLogger(t))

	s.ExpireStalePayments()
	s.ReleaseDueEscrows()
	s.ReleaseDueEscrows()

	assert.Equal(t, []int{25}, payments.limits)
	assert.Equal(t, []int{25, 25}, escrow.limits)
}

func TestScheduler_SweepErrorsAreContained(t *testing.T) {
	payments := &countingSweep{err: errors.New("db down")}
	s := NewScheduler(payments, &countingSweep{}, 0, zaptest.NewLogger(t))

	assert.NotPanics(t, s.ExpireStalePayments)
	assert.Equal(t, []int{100}, payments.limits)
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(&countingSweep{}, &countingSweep{}, 10, zaptest.NewLogger(t))
	require.NoError(t, s.Register("*/5 * * * *", "@hourly"))
	assert.Len(t, s.cron.Entries(), 2)

	s.Start()
	<-s.Stop().Done()

	bad := NewScheduler(&countingSweep{}, &countingSweep{}, 10, zaptest.NewLogger(t))
	assert.Error(t, bad.Register("every five minutes", ""))

	disabled := NewScheduler(&countingSweep{}, &countingSweep{}, 10, zaptest.NewLogger(t))
	require.NoError(t, disabled.Register("", ""))
	assert.Empty(t, disabled.cron.Entries())
}
