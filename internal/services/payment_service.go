package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/gateway"
	"GigEscrow/internal/logger"
	"GigEscrow/internal/models"
	"GigEscrow/internal/repository"
)

type CreatePaymentInput struct {
	OrderID       uint                 `json:"order_id" validate:"required"`
	PayerID       uint                 `json:"-"`
	Amount        decimal.Decimal      `json:"amount" swaggertype:"string" example:"100000"`
	Method        models.PaymentMethod `json:"payment_method" validate:"required"`
	Channel       string               `json:"channel" validate:"max=50"`
	CustomerEmail string               `json:"-"`
	CustomerName  string               `json:"-"`
}

type PaymentServiceConfig struct {
	Currency       string
	PaymentTTL     time.Duration
	GatewayTimeout time.Duration
	CallbackURL    string
}

type PaymentService struct {
	store    repository.Store
	gateways *gateway.Registry
	orders   OrderClient
	fees     FeePolicy
	cfg      PaymentServiceConfig
	webhooks *WebhookProcessor
	dispatch *Dispatcher
	log      *zap.Logger
	now      func() time.Time
}

func NewPaymentService(store repository.Store, gateways *gateway.Registry, orders OrderClient, fees FeePolicy, cfg PaymentServiceConfig, webhooks *WebhookProcessor, dispatch *Dispatcher, log *zap.Logger) *PaymentService {
	if dispatch == nil {
		dispatch = NewDispatcher(nil, nil, nil, "", log)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = 24 * time.Hour
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	return &PaymentService{
		store:    store,
		gateways: gateways,
		orders:   orders,
		fees:     fees,
		cfg:      cfg,
		webhooks: webhooks,
		dispatch: dispatch,
		log:      log,
		now:      time.Now,
	}
}

func (s *PaymentService) SetClock(now func() time.Time) {
	s.now = now
}

// CreatePayment registers a transaction with the gateway and stores the
// pending payment. Nothing is persisted when the gateway call fails.
func (s *PaymentService) CreatePayment(ctx context.Context, in CreatePaymentInput) (*models.Payment, error) {
	log := logger.FromContext(ctx, s.log)

	if !in.Amount.IsPositive() {
		return nil, apperr.Newf(apperr.ErrValidation, "amount must be greater than zero")
	}
	if !in.Method.Valid() {
		return nil, apperr.Newf(apperr.ErrValidation, "unsupported payment method %q", in.Method)
	}

	order, err := s.orders.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.Payable() {
		return nil, apperr.Newf(apperr.ErrOrderNotPayable, "order %d is %s", order.ID, order.Status)
	}
	if order.ClientID != in.PayerID {
		return nil, apperr.Newf(apperr.ErrOrderNotPayable, "order %d belongs to another client", order.ID)
	}
	if !order.Amount.Equal(in.Amount) {
		return nil, apperr.Newf(apperr.ErrValidation, "amount %s does not match order amount %s", in.Amount, order.Amount)
	}
	paid, err := s.store.Payments().HasPaid(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("check paid payments: %w", err)
	}
	if paid {
		return nil, apperr.Newf(apperr.ErrOrderNotPayable, "order %d is already paid", order.ID)
	}

	currency := order.Currency
	if currency == "" {
		currency = s.cfg.Currency
	}
	platformFee, gatewayFee, total := s.fees.PaymentFees(in.Amount, in.Method)
	now := s.now()
	expiresAt := now.Add(s.cfg.PaymentTTL)
	transactionID := "TRX-" + strings.ToUpper(uuid.New().String())

	gw := s.gateways.Default()
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	res, err := gw.CreateTransaction(gctx, gateway.TransactionRequest{
		TransactionID: transactionID,
		Amount:        total,
		Currency:      currency,
		Method:        in.Method,
		Channel:       in.Channel,
		Customer:      gateway.Customer{ID: in.PayerID, Email: in.CustomerEmail, Name: in.CustomerName},
		Items: []gateway.Item{
			{Name: orderTitle(order), Quantity: 1, Price: in.Amount},
			{Name: "Platform fee", Quantity: 1, Price: platformFee},
			{Name: "Gateway fee", Quantity: 1, Price: gatewayFee},
		},
		ExpiresAt:   expiresAt,
		CallbackURL: s.cfg.CallbackURL,
	})
	if err != nil {
		log.Error("Gateway rejected transaction",
			zap.String("gateway", string(gw.Name())),
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return nil, apperr.Wrap(apperr.ErrGatewayUnavailable, "payment gateway is unavailable", err)
	}
	if !res.ExpiresAt.IsZero() && res.ExpiresAt.Before(expiresAt) {
		expiresAt = res.ExpiresAt
	}

	payment := &models.Payment{
		OrderID:       order.ID,
		PayerID:       in.PayerID,
		FreelancerID:  order.FreelancerID,
		TransactionID: transactionID,
		ExternalID:    res.ExternalID,
		GrossAmount:   in.Amount,
		PlatformFee:   platformFee,
		GatewayFee:    gatewayFee,
		TotalAmount:   total,
		Currency:      currency,
		PaymentMethod: in.Method,
		Channel:       in.Channel,
		Gateway:       gw.Name(),
		Status:        models.PaymentPending,
		PaymentURL:    res.RedirectURL,
		PaymentToken:  res.Token,
		ExpiresAt:     expiresAt,
	}
	if err := s.store.Payments().Create(ctx, payment); err != nil {
		// The gateway transaction exists but we have no record of it.
		if cerr := gw.Cancel(context.WithoutCancel(ctx), gateway.TransactionRef{TransactionID: transactionID, ExternalID: res.ExternalID}); cerr != nil {
			log.Error("Failed to cancel orphaned gateway transaction",
				zap.String("transaction_id", transactionID), zap.Error(cerr))
		}
		return nil, fmt.Errorf("create payment: %w", err)
	}

	log.Info("Payment created",
		zap.Uint("payment_id", payment.ID),
		zap.Uint("order_id", payment.OrderID),
		zap.String("transaction_id", transactionID),
		zap.String("total", total.String()))

	payload := paymentPayload(payment)
	s.dispatch.Emit(ctx, "payment.created", transactionID, payload)
	s.dispatch.Notify(ctx, payment.PayerID, models.NotificationPaymentCreated, payload)
	return payment, nil
}

// GetPayment returns the payment with lazy expiry applied to its status.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID uint, actor Actor) (*models.Payment, error) {
	p, err := s.store.Payments().GetByID(ctx, paymentID)
	if err != nil {
		return nil, paymentLookupErr(paymentID, err)
	}
	if !actor.IsAdmin() && actor.ID != p.PayerID && actor.ID != p.FreelancerID {
		return nil, apperr.Newf(apperr.ErrForbidden, "payment %d belongs to another user", p.ID)
	}
	p.Status = p.EffectiveStatus(s.now())
	return p, nil
}

func (s *PaymentService) ListPaymentsForOrder(ctx context.Context, orderID uint, actor Actor) ([]models.Payment, error) {
	payments, err := s.store.Payments().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	now := s.now()
	visible := make([]models.Payment, 0, len(payments))
	for _, p := range payments {
		if !actor.IsAdmin() && actor.ID != p.PayerID && actor.ID != p.FreelancerID {
			continue
		}
		p.Status = p.EffectiveStatus(now)
		visible = append(visible, p)
	}
	return visible, nil
}

// ExpireStale persists the expiry of pending payments past their deadline
// and asks the gateway to cancel them.
func (s *PaymentService) ExpireStale(ctx context.Context, limit int) (int, error) {
	log := logger.FromContext(ctx, s.log)
	stale, err := s.store.Payments().ListExpiredPending(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired payments: %w", err)
	}

	expired := 0
	for i := range stale {
		p := &stale[i]
		p.Status = models.PaymentExpired
		p.FailureReason = "payment window elapsed"
		if err := s.store.Payments().UpdateStatus(ctx, p, models.PaymentPending); err != nil {
			if errors.Is(err, repository.ErrStaleState) {
				// A webhook settled it first.
				continue
			}
			return expired, fmt.Errorf("expire payment %d: %w", p.ID, err)
		}
		expired++

		if gw, ok := s.gateways.Get(p.Gateway); ok {
			ref := gateway.TransactionRef{TransactionID: p.TransactionID, ExternalID: p.ExternalID}
			if err := gw.Cancel(ctx, ref); err != nil {
				log.Warn("Failed to cancel expired transaction",
					zap.String("transaction_id", p.TransactionID), zap.Error(err))
			}
		}
		s.dispatch.Emit(ctx, "payment.expired", p.TransactionID, paymentPayload(p))
	}
	if expired > 0 {
		log.Info("Expired stale payments", zap.Int("count", expired))
	}
	return expired, nil
}

// SyncStatus polls the gateway and applies the result as if it had arrived
// by webhook.
func (s *PaymentService) SyncStatus(ctx context.Context, paymentID uint) (*WebhookResult, error) {
	return s.webhooks.Reconcile(ctx, paymentID)
}

func orderTitle(o *Order) string {
	if o.Title != "" {
		return o.Title
	}
	return fmt.Sprintf("Order #%d", o.ID)
}

func paymentPayload(p *models.Payment) map[string]interface{} {
	return map[string]interface{}{
		"payment_id":     p.ID,
		"order_id":       p.OrderID,
		"transaction_id": p.TransactionID,
		"status":         p.Status,
		"gross_amount":   p.GrossAmount.String(),
		"total_amount":   p.TotalAmount.String(),
		"currency":       p.Currency,
	}
}

func paymentLookupErr(paymentID uint, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Newf(apperr.ErrPaymentNotFound, "payment %d not found", paymentID)
	}
	return fmt.Errorf("load payment %d: %w", paymentID, err)
}
