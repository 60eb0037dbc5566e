package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/gateway"
	"GigEscrow/internal/logger"
	"GigEscrow/internal/middleware"
	"GigEscrow/internal/models"
	"GigEscrow/internal/services"
)

type CreatePaymentRequest struct {
	OrderID       uint                 `json:"order_id" validate:"required"`
	Amount        decimal.Decimal      `json:"amount" swaggertype:"string" example:"100000"`
	Method        models.PaymentMethod `json:"method" validate:"required" example:"bank_transfer"`
	Channel       string               `json:"channel" validate:"max=50" example:"bca"`
	CustomerEmail string               `json:"customer_email" validate:"omitempty,email"`
	CustomerName  string               `json:"customer_name" validate:"max=255"`
}

type PaymentHandler struct {
	payments *services.PaymentService
	webhooks *services.WebhookProcessor
}

func NewPaymentHandler(payments *services.PaymentService, webhooks *services.WebhookProcessor) *PaymentHandler {
	return &PaymentHandler{payments: payments, webhooks: webhooks}
}

// CreatePayment starts a gateway transaction for an order.
// @Summary Create a payment
// @Tags payments
// @Accept json
// @Produce json
// @Param request body CreatePaymentRequest true "Payment request"
// @Success 201 {object} models.Payment
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments [post]
func (h *PaymentHandler) CreatePayment(c *fiber.Ctx) error {
	req := new(CreatePaymentRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, err)
	}

	actor := middleware.ActorFrom(c)
	payment, err := h.payments.CreatePayment(c.UserContext(), services.CreatePaymentInput{
		OrderID:       req.OrderID,
		PayerID:       actor.ID,
		Amount:        req.Amount,
		Method:        req.Method,
		Channel:       req.Channel,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Payment created. Complete it before it expires.",
		"payment": payment,
	})
}

// GetPayment
// @Summary Get a payment
// @Tags payments
// @Produce json
// @Param id path int true "Payment ID"
// @Success 200 {object} models.Payment
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments/{id} [get]
func (h *PaymentHandler) GetPayment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	payment, err := h.payments.GetPayment(c.UserContext(), id, middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"payment": payment})
}

func (h *PaymentHandler) ListOrderPayments(c *fiber.Ctx) error {
	orderID, err := paramID(c, "orderId")
	if err != nil {
		return respondError(c, err)
	}
	payments, err := h.payments.ListPaymentsForOrder(c.UserContext(), orderID, middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"payments": payments,
		"count":    len(payments),
	})
}

// SyncStatus asks the gateway for the current status (admin).
func (h *PaymentHandler) SyncStatus(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	result, err := h.payments.SyncStatus(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"result": result})
}

// signatureHeaders are checked in order for the webhook signature.
var signatureHeaders = []string{"Stripe-Signature", "X-Paystack-Signature", "X-Callback-Signature"}

// HandleWebhook receives gateway notifications. Duplicates of processed
// events still get a 200 so the gateway stops retrying.
// @Summary Gateway webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Param gateway path string false "Gateway name"
// @Success 200 {object} services.WebhookResult
// @Failure 400 {object} ErrorResponse
// @Router /api/payments/webhook/{gateway} [post]
func (h *PaymentHandler) HandleWebhook(c *fiber.Ctx) error {
	n := gateway.Notification{Payload: append([]byte(nil), c.Body()...)}
	for _, header := range signatureHeaders {
		if sig := c.Get(header); sig != "" {
			n.Signature = sig
			break
		}
	}

	result, err := h.webhooks.HandleNotification(c.UserContext(), models.Gateway(c.Params("gateway")), n)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidSignature) {
			logger.FromContext(c.UserContext(), nil).Warn("Rejected webhook with invalid signature",
				zap.String("gateway", c.Params("gateway")), zap.String("ip", c.IP()))
		}
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"status": result.Outcome,
		"result": result,
	})
}
