// Package testutil provides an in-memory repository.Store for service tests.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"GigEscrow/internal/models"
	"GigEscrow/internal/repository"
)

type tables struct {
	seq           uint
	payments      map[uint]models.Payment
	escrows       map[uint]models.Escrow
	withdrawals   map[uint]models.Withdrawal
	refunds       map[uint]models.Refund
	ledger        map[uint]models.LedgerEntry
	events        map[uint]models.GatewayEvent
	disputes      map[uint]models.Dispute
	payoutMethods map[uint]models.PayoutMethod
	notifications map[uint]models.Notification
}

func newTables() *tables {
	return &tables{
		payments:      map[uint]models.Payment{},
		escrows:       map[uint]models.Escrow{},
		withdrawals:   map[uint]models.Withdrawal{},
		refunds:       map[uint]models.Refund{},
		ledger:        map[uint]models.LedgerEntry{},
		events:        map[uint]models.GatewayEvent{},
		disputes:      map[uint]models.Dispute{},
		payoutMethods: map[uint]models.PayoutMethod{},
		notifications: map[uint]models.Notification{},
	}
}

func cloneMap[V any](m map[uint]V) map[uint]V {
	out := make(map[uint]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (t *tables) clone() *tables {
	return &tables{
		seq:           t.seq,
		payments:      cloneMap(t.payments),
		escrows:       cloneMap(t.escrows),
		withdrawals:   cloneMap(t.withdrawals),
		refunds:       cloneMap(t.refunds),
		ledger:        cloneMap(t.ledger),
		events:        cloneMap(t.events),
		disputes:      cloneMap(t.disputes),
		payoutMethods: cloneMap(t.payoutMethods),
		notifications: cloneMap(t.notifications),
	}
}

// MemStore mirrors the constraints of the Postgres schema: unique
// transaction ids, one escrow per payment, one active withdrawal per escrow
// and one active refund per payment. Transactions are serialised and
// rolled back by restoring a snapshot.
type MemStore struct {
	mu   *sync.Mutex
	txMu *sync.Mutex
	data **tables
	inTx bool

	// FailNextCommit makes the next top-level WithTx roll back with this
	// error after fn succeeds.
	FailNextCommit error
}

func NewMemStore() *MemStore {
	t := newTables()
	return &MemStore{mu: &sync.Mutex{}, txMu: &sync.Mutex{}, data: &t}
}

func (s *MemStore) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := (*s.data).clone()
	s.mu.Unlock()

	tx := &MemStore{mu: s.mu, txMu: s.txMu, data: s.data, inTx: true}
	err := fn(tx)
	if err == nil && s.FailNextCommit != nil {
		err, s.FailNextCommit = s.FailNextCommit, nil
	}
	if err != nil {
		s.mu.Lock()
		*s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *MemStore) lock() *tables {
	s.mu.Lock()
	return *s.data
}

func (s *MemStore) unlock() { s.mu.Unlock() }

func (t *tables) next() uint {
	t.seq++
	return t.seq
}

func sortedByID[V any](m map[uint]V, keep func(V) bool) []V {
	ids := make([]uint, 0, len(m))
	for id, v := range m {
		if keep(v) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]V, 0, len(ids))
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

func (s *MemStore) Payments() repository.PaymentRepository           { return memPayments{s} }
func (s *MemStore) Escrows() repository.EscrowRepository             { return memEscrows{s} }
func (s *MemStore) Withdrawals() repository.WithdrawalRepository     { return memWithdrawals{s} }
func (s *MemStore) Refunds() repository.RefundRepository             { return memRefunds{s} }
func (s *MemStore) Ledger() repository.LedgerRepository              { return memLedger{s} }
func (s *MemStore) Events() repository.GatewayEventRepository        { return memEvents{s} }
func (s *MemStore) Disputes() repository.DisputeRepository           { return memDisputes{s} }
func (s *MemStore) PayoutMethods() repository.PayoutMethodRepository { return memPayoutMethods{s} }
func (s *MemStore) Notifications() repository.NotificationRepository { return memNotifications{s} }

// Inspection helpers for assertions.

func (s *MemStore) AllEscrows() []models.Escrow {
	t := s.lock()
	defer s.unlock()
	return sortedByID(t.escrows, func(models.Escrow) bool { return true })
}

func (s *MemStore) AllPayments() []models.Payment {
	t := s.lock()
	defer s.unlock()
	return sortedByID(t.payments, func(models.Payment) bool { return true })
}

func (s *MemStore) AllLedgerEntries() []models.LedgerEntry {
	t := s.lock()
	defer s.unlock()
	return sortedByID(t.ledger, func(models.LedgerEntry) bool { return true })
}

func (s *MemStore) AllEvents() []models.GatewayEvent {
	t := s.lock()
	defer s.unlock()
	return sortedByID(t.events, func(models.GatewayEvent) bool { return true })
}

func (s *MemStore) AllNotifications() []models.Notification {
	t := s.lock()
	defer s.unlock()
	return sortedByID(t.notifications, func(models.Notification) bool { return true })
}

// PutEscrow stores e as-is, assigning an ID when it has none.
func (s *MemStore) PutEscrow(e models.Escrow) models.Escrow {
	t := s.lock()
	defer s.unlock()
	if e.ID == 0 {
		e.ID = t.next()
	}
	if e.Version == 0 {
		e.Version = 1
	}
	t.escrows[e.ID] = e
	return e
}

// PutPayment stores p as-is, assigning an ID when it has none.
func (s *MemStore) PutPayment(p models.Payment) models.Payment {
	t := s.lock()
	defer s.unlock()
	if p.ID == 0 {
		p.ID = t.next()
	}
	t.payments[p.ID] = p
	return p
}

type memPayments struct{ s *MemStore }

func (r memPayments) Create(_ context.Context, p *models.Payment) error {
	t := r.s.lock()
	defer r.s.unlock()
	for _, existing := range t.payments {
		if existing.TransactionID == p.TransactionID {
			return repository.ErrDuplicate
		}
	}
	p.ID = t.next()
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	t.payments[p.ID] = *p
	return nil
}

func (r memPayments) GetByID(_ context.Context, id uint) (*models.Payment, error) {
	t := r.s.lock()
	defer r.s.unlock()
	p, ok := t.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r memPayments) GetByTransactionID(_ context.Context, transactionID string) (*models.Payment, error) {
	t := r.s.lock()
	defer r.s.unlock()
	for _, p := range t.payments {
		if p.TransactionID == transactionID {
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memPayments) GetForUpdate(ctx context.Context, id uint) (*models.Payment, error) {
	return r.GetByID(ctx, id)
}

func (r memPayments) ListByOrder(_ context.Context, orderID uint) ([]models.Payment, error) {
	t := r.s.lock()
	defer r.s.unlock()
	return sortedByID(t.payments, func(p models.Payment) bool { return p.OrderID == orderID }), nil
}

func (r memPayments) HasPaid(_ context.Context, orderID uint) (bool, error) {
	t := r.s.lock()
	defer r.s.unlock()
	for _, p := range t.payments {
		if p.OrderID == orderID && p.Status == models.PaymentPaid {
			return true, nil
		}
	}
	return false, nil
}

func (r memPayments) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]models.Payment, error) {
	t := r.s.lock()
	defer r.s.unlock()
	out := sortedByID(t.payments, func(p models.Payment) bool { return p.IsExpired(now) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memPayments) UpdateStatus(_ context.Context, p *models.Payment, from models.PaymentStatus) error {
	t := r.s.lock()
	defer r.s.unlock()
	stored, ok := t.payments[p.ID]
	if !ok || stored.Status != from {
		return repository.ErrStaleState
	}
	stored.Status = p.Status
	stored.ExternalID = p.ExternalID
	stored.CallbackPayload = p.CallbackPayload
	stored.CallbackSignature = p.CallbackSignature
	stored.InvoiceNumber = p.InvoiceNumber
	stored.FailureReason = p.FailureReason
	stored.PaidAt = p.PaidAt
	stored.UpdatedAt = time.Now()
	t.payments[p.ID] = stored
	return nil
}

type memEscrows struct{ s *MemStore }

func (r memEscrows) Create(_ context.Context, e *models.Escrow) error {
	t := r.s.lock()
	defer r.s.unlock()
	for _, existing := range t.escrows {
		if existing.PaymentID == e.PaymentID {
			return repository.ErrDuplicate
		}
	}
	e.ID = t.next()
	if e.Version == 0 {
		e.Version = 1
	}
	e.CreatedAt, e.UpdatedAt = time.Now(), time.Now()
	t.escrows[e.ID] = *e
	return nil
}

func (r memEscrows) GetByID(_ context.Context, id uint) (*models.Escrow, error) {
	t := r.s.lock()
	defer r.s.unlock()
	e, ok := t.escrows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (r memEscrows) GetForUpdate(ctx context.Context, id uint) (*models.Escrow, error) {
	return r.GetByID(ctx, id)
}

func (r memEscrows) GetByPaymentID(_ context.Context, paymentID uint) (*models.Escrow, error) {
	t := r.s.lock()
	defer r.s.unlock()
	for _, e := range t.escrows {
		if e.PaymentID == paymentID {
			return &e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memEscrows) ListByOrder(_ context.Context, orderID uint) ([]models.Escrow, error) {
	t := r.s.lock()
	defer r.s.unlock()
	return sortedByID(t.escrows, func(e models.Escrow) bool { return e.OrderID == orderID }), nil
}

func (r memEscrows) ListDueForRelease(_ context.Context, now time.Time, limit int) ([]models.Escrow, error) {
	t := r.s.lock()
	defer r.s.unlock()
	out := sortedByID(t.escrows, func(e models.Escrow) bool { return e.AutoReleaseDue(now) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memEscrows) Save(_ context.Context, e *models.Escrow) error {
	t := r.s.lock()
	defer r.s.unlock()
	stored, ok := t.escrows[e.ID]
	if !ok || stored.Version != e.Version {
		return repository.ErrStaleState
	}
	e.Version++
	e.UpdatedAt = time.Now()
	t.escrows[e.ID] = *e
	return nil
}

type memWithdrawals struct{ s *MemStore }

func activeWithdrawal(t *tables, escrowID uint, except uint) bool {
	for _, w := range t.withdrawals {
		if w.EscrowID == escrowID && w.ID != except && w.Status.IsActive() {
			return true
		}
	}
	return false
}

func (r memWithdrawals) Create(_ context.Context, w *models.Withdrawal) error {
	t := r.s.lock()
	defer r.s.unlock()
	if w.Status.IsActive() && activeWithdrawal(t, w.EscrowID, 0) {
		return repository.ErrDuplicate
	}
	for _, existing := range t.withdrawals {
		if existing.Reference == w.Reference {
			return repository.ErrDuplicate
		}
	}
	w.ID = t.next()
	w.CreatedAt, w.UpdatedAt = time.Now(), time.Now()
	t.withdrawals[w.ID] = *w
	return nil
}

func (r memWithdrawals) GetByID(_ context.Context, id uint) (*models.Withdrawal, error) {
	t := r.s.lock()
	defer r.s.unlock()
	w, ok := t.withdrawals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &w, nil
}

func (r memWithdrawals) GetForUpdate(ctx context.Context, id uint) (*models.Withdrawal, error) {
	return r.GetByID(ctx, id)
}

func (r memWithdrawals) HasActive(_ context.Context, escrowID uint) (bool, error) {
	t := r.s.lock()
	defer r.s.unlock()
	return activeWithdrawal(t, escrowID, 0), nil
}

func (r memWithdrawals) ListByFreelancer(_ context.Context, freelancerID uint) ([]models.Withdrawal, error) {
	t := r.s.lock()
	defer r.s.unlock()
	return sortedByID(t.withdrawals, func(w models.Withdrawal) bool { return w.FreelancerID == freelancerID }), nil
}

func (r memWithdrawals) ListByStatus(_ context.Context, status models.WithdrawalStatus) ([]models.Withdrawal, error) {
	t := r.s.lock()
	defer r.s.unlock()
	return sortedByID(t.withdrawals, func(w models.Withdrawal) bool { return w.Status == status }), nil
}

func (r memWithdrawals) UpdateStatus(_ context.Context, w *models.Withdrawal, from models.WithdrawalStatus) error {
	t := r.s.lock()
	defer r.s.unlock()
	stored, ok := t.withdrawals[w.ID]
	if !ok || stored.Status != from {
		return repository.ErrStaleState
	}
	stored.Status = w.Status
	stored.ProofOfTransfer = w.ProofOfTransfer
	stored.Note = w.Note
	stored.FailureReason = w.FailureReason
	stored.ProcessedBy = w.ProcessedBy
	stored.ProcessingAt = w.ProcessingAt
	stored.PaidOutAt = w.PaidOutAt
	stored.UpdatedAt = time.Now()
	t.withdrawals[w.ID] = stored
	return nil
}

func (r memWithdrawals) Stats(_ context.Context) (*models.WithdrawalStats, error) {
	t := r.s.lock()
	defer r.s.unlock()
	stats := &models.WithdrawalStats{TotalPaidOut: decimal.Zero, TotalFeesTaken: decimal.Zero}
	for _, w := range t.withdrawals {
		switch w.Status {
		case models.WithdrawalPending:
			stats.Pending++
		case models.WithdrawalProcessing:
			stats.Processing++
		case models.WithdrawalCompleted:
			stats.Completed++
			stats.TotalPaidOut = stats.TotalPaidOut.Add(w.NetAmount)
			stats.TotalFeesTaken = stats.TotalFeesTaken.Add(w.PlatformFee)
		case models.WithdrawalFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

type memRefunds struct{ s *MemStore }

func (r memRefunds) Create(_ context.Context, rf *models.Refund) error {
	t := r.s.lock()
	defer r.s.unlock()
	for _, existing := range t.refunds {
		if existing.PaymentID == rf.PaymentID && existing.Status.IsActive() && rf.Status.IsActive() {
			return repository.ErrDuplicate
		}
	}
	rf.ID = t.next()
	rf.CreatedAt, rf.UpdatedAt = time.Now(), time.Now()
	t.refunds[rf.ID] = *rf
	return nil
}

func (r memRefunds) GetByID(_ context.Context, id uint) (*models.Refund, error) {
	t := r.s.lock()
	defer r.s.unlock()
	rf, ok := t.refunds[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rf, nil
}

func (r memRefunds) GetForUpdate(ctx context.Context, id uint) (*models.Refund, error) {
	return r.GetByID(ctx, id)
}

func (r memRefunds) HasActive(_ context.Context, paymentID uint) (bool, error) {
	t := r.s.lock()
	defer r.s.unlock()
	for _, rf := range t.refunds {
		if rf.PaymentID == paymentID && rf.Status.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (r memRefunds) HasProcessing(_ context.Context, escrowID uint) (bool, error) {
	t := r.s.lock()
	defer r.s.unlock()
	for _, rf := range t.refunds {
		if rf.EscrowID == escrowID && rf.Status == models.RefundProcessing {
			return true, nil
		}
	}
	return false, nil
}

func (r memRefunds) ListByPayment(_ context.Context, paymentID uint) ([]models.Refund, error) {
	t := r.s.lock()
	defer r.s.unlock()
	return sortedByID(t.refunds, func(rf models.Refund) bool { return rf.PaymentID == paymentID }), nil
}

func (r memRefunds) UpdateStatus(_ context.Context, rf *models.Refund, from models.RefundStatus) error {
	t := r.s.lock()
	defer r.s.unlock()
	stored, ok := t.refunds[rf.ID]
	if !ok || stored.Status != from {
		return repository.ErrStaleState
	}
	stored.Status = rf.Status
	stored.GatewayTransactionID = rf.GatewayTransactionID
	stored.Note = rf.Note
	stored.FailureReason = rf.FailureReason
	stored.ProcessedBy = rf.ProcessedBy
	stored.ProcessedAt = rf.ProcessedAt
	stored.CompletedAt = rf.CompletedAt
	stored.UpdatedAt = time.Now()
	t.refunds[rf.ID] = stored
	return nil
}

type memLedger struct{ s *MemStore }

func (r memLedger) Append(_ context.Context, e *models.LedgerEntry) error {
	t := r.s.lock()
	defer r.s.unlock()
	for _, existing := range t.ledger {
		if existing.Reference == e.Reference {
			return repository.ErrDuplicate
		}
	}
	e.ID = t.next()
	e.CreatedAt = time.Now()
	t.ledger[e.ID] = *e
	return nil
}

func (r memLedger) ListByEscrow(_ context.Context, escrowID uint) ([]models.LedgerEntry, error) {
	t := r.s.lock()
	defer r.s.unlock()
	return sortedByID(t.ledger, func(e models.LedgerEntry) bool {
		return e.EscrowID != nil && *e.EscrowID == escrowID
	}), nil
}

type memEvents struct{ s *MemStore }

func (r memEvents) Record(_ context.Context, ev *models.GatewayEvent) error {
	t := r.s.lock()
	defer r.s.unlock()
	ev.ID = t.next()
	t.events[ev.ID] = *ev
	return nil
}

type memDisputes struct{ s *MemStore }

func (r memDisputes) Create(_ context.Context, d *models.Dispute) error {
	t := r.s.lock()
	defer r.s.unlock()
	d.ID = t.next()
	d.CreatedAt, d.UpdatedAt = time.Now(), time.Now()
	t.disputes[d.ID] = *d
	return nil
}

func (r memDisputes) GetOpenByEscrow(_ context.Context, escrowID uint) (*models.Dispute, error) {
	t := r.s.lock()
	defer r.s.unlock()
	open := sortedByID(t.disputes, func(d models.Dispute) bool {
		return d.EscrowID == escrowID && d.Status == models.DisputeOpen
	})
	if len(open) == 0 {
		return nil, repository.ErrNotFound
	}
	d := open[len(open)-1]
	return &d, nil
}

func (r memDisputes) Resolve(_ context.Context, d *models.Dispute) error {
	t := r.s.lock()
	defer r.s.unlock()
	stored, ok := t.disputes[d.ID]
	if !ok || stored.Status != models.DisputeOpen {
		return repository.ErrStaleState
	}
	stored.Status = models.DisputeResolved
	stored.Resolution = d.Resolution
	stored.ResolvedBy = d.ResolvedBy
	stored.ResolvedAt = d.ResolvedAt
	t.disputes[d.ID] = stored
	d.Status = models.DisputeResolved
	return nil
}

type memPayoutMethods struct{ s *MemStore }

func (r memPayoutMethods) Create(_ context.Context, m *models.PayoutMethod) error {
	t := r.s.lock()
	defer r.s.unlock()
	owned := 0
	for id, existing := range t.payoutMethods {
		if existing.UserID != m.UserID {
			continue
		}
		owned++
		if m.IsDefault {
			existing.IsDefault = false
			t.payoutMethods[id] = existing
		}
	}
	if owned == 0 {
		m.IsDefault = true
	}
	m.ID = t.next()
	m.CreatedAt, m.UpdatedAt = time.Now(), time.Now()
	t.payoutMethods[m.ID] = *m
	return nil
}

func (r memPayoutMethods) GetByID(_ context.Context, userID, id uint) (*models.PayoutMethod, error) {
	t := r.s.lock()
	defer r.s.unlock()
	m, ok := t.payoutMethods[id]
	if !ok || m.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r memPayoutMethods) ListByUser(_ context.Context, userID uint) ([]models.PayoutMethod, error) {
	t := r.s.lock()
	defer r.s.unlock()
	return sortedByID(t.payoutMethods, func(m models.PayoutMethod) bool { return m.UserID == userID }), nil
}

func (r memPayoutMethods) SetDefault(_ context.Context, userID, id uint) error {
	t := r.s.lock()
	defer r.s.unlock()
	target, ok := t.payoutMethods[id]
	if !ok || target.UserID != userID {
		return repository.ErrNotFound
	}
	for mid, m := range t.payoutMethods {
		if m.UserID == userID {
			m.IsDefault = mid == id
			t.payoutMethods[mid] = m
		}
	}
	return nil
}

func (r memPayoutMethods) Delete(_ context.Context, userID, id uint) error {
	t := r.s.lock()
	defer r.s.unlock()
	m, ok := t.payoutMethods[id]
	if !ok || m.UserID != userID {
		return repository.ErrNotFound
	}
	delete(t.payoutMethods, id)
	return nil
}

type memNotifications struct{ s *MemStore }

func (r memNotifications) Create(_ context.Context, n *models.Notification) error {
	t := r.s.lock()
	defer r.s.unlock()
	n.ID = t.next()
	n.CreatedAt = time.Now()
	t.notifications[n.ID] = *n
	return nil
}

func (r memNotifications) ListByUser(_ context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	t := r.s.lock()
	defer r.s.unlock()
	out := sortedByID(t.notifications, func(n models.Notification) bool {
		return n.UserID == userID && (!unreadOnly || !n.IsRead)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memNotifications) UnreadCount(_ context.Context, userID uint) (int64, error) {
	t := r.s.lock()
	defer r.s.unlock()
	var count int64
	for _, n := range t.notifications {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r memNotifications) MarkRead(_ context.Context, userID, id uint, at time.Time) error {
	t := r.s.lock()
	defer r.s.unlock()
	n, ok := t.notifications[id]
	if !ok || n.UserID != userID {
		return repository.ErrNotFound
	}
	n.IsRead = true
	n.ReadAt = &at
	t.notifications[id] = n
	return nil
}

func (r memNotifications) MarkAllRead(_ context.Context, userID uint, at time.Time) error {
	t := r.s.lock()
	defer r.s.unlock()
	for id, n := range t.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
			t.notifications[id] = n
		}
	}
	return nil
}

func (r memNotifications) Delete(_ context.Context, userID, id uint) error {
	t := r.s.lock()
	defer r.s.unlock()
	n, ok := t.notifications[id]
	if !ok || n.UserID != userID {
		return repository.ErrNotFound
	}
	delete(t.notifications, id)
	return nil
}
