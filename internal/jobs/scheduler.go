package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type PaymentExpirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

type EscrowReleaser interface {
	ReleaseDue(ctx context.Context, limit int) (int, error)
}

// Scheduler runs the periodic sweeps: expiring unpaid payments and
// auto-releasing escrows whose review period has ended.
type Scheduler struct {
	cron     *cron.Cron
	payments PaymentExpirer
	escrow   EscrowReleaser
	batch    int
	timeout  time.Duration
	log      *zap.Logger
}

func NewScheduler(payments PaymentExpirer, escrow EscrowReleaser, batch int, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if batch <= 0 {
		batch = 100
	}
	cronLog := cron.PrintfLogger(zap.NewStdLog(log.Named("cron")))
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cronLog), cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		)),
		payments: payments,
		escrow:   escrow,
		batch:    batch,
		timeout:  5 * time.Minute,
		log:      log,
	}
}

// Register schedules both sweeps. An empty spec disables that sweep.
func (s *Scheduler) Register(expirySpec, releaseSpec string) error {
	if expirySpec != "" {
		if _, err := s.cron.AddFunc(expirySpec, s.ExpireStalePayments); err != nil {
			return fmt.Errorf("invalid expiry schedule %q: %w", expirySpec, err)
		}
	}
	if releaseSpec != "" {
		if _, err := s.cron.AddFunc(releaseSpec, s.ReleaseDueEscrows); err != nil {
			return fmt.Errorf("invalid release schedule %q: %w", releaseSpec, err)
		}
	}
	s.log.Info("Sweeps scheduled",
		zap.String("expiry", expirySpec),
		zap.String("release", releaseSpec),
		zap.Int("jobs", len(s.cron.Entries())))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) ExpireStalePayments() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.payments.ExpireStale(ctx, s.batch)
	if err != nil {
		s.log.Error("Payment expiry sweep failed", zap.Int("expired", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("Expired stale payments", zap.Int("expired", n), zap.Duration("took", time.Since(start)))
	}
}

func (s *Scheduler) ReleaseDueEscrows() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.escrow.ReleaseDue(ctx, s.batch)
	if err != nil {
		s.log.Error("Auto-release sweep failed", zap.Int("released", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("Auto-released escrows", zap.Int("released", n), zap.Duration("took", time.Since(start)))
	}
}
