package handlers

import (
	"github.com/gofiber/fiber/v2"

	"GigEscrow/internal/middleware"
	"GigEscrow/internal/services"
)

type RefundHandler struct {
	refunds *services.RefundService
}

func NewRefundHandler(refunds *services.RefundService) *RefundHandler {
	return &RefundHandler{refunds: refunds}
}

// RequestRefund asks for held funds to go back to the client. Amount
// defaults to everything still held.
// @Summary Request a refund
// @Tags refunds
// @Accept json
// @Produce json
// @Param id path int true "Payment ID"
// @Param request body services.RequestRefundInput true "Refund request"
// @Success 201 {object} models.Refund
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments/{id}/refund [post]
func (h *RefundHandler) RequestRefund(c *fiber.Ctx) error {
	paymentID, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	req := new(services.RequestRefundInput)
	if err := parseBody(c, req); err != nil {
		return respondError(c, err)
	}

	refund, err := h.refunds.RequestRefund(c.UserContext(), paymentID, middleware.ActorFrom(c), *req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Refund requested. An admin will review it.",
		"refund":  refund,
	})
}

func (h *RefundHandler) ListRefunds(c *fiber.Ctx) error {
	paymentID, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	refunds, err := h.refunds.ListForPayment(c.UserContext(), paymentID, middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"refunds": refunds,
		"count":   len(refunds),
	})
}

func (h *RefundHandler) GetRefund(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	refund, err := h.refunds.Get(c.UserContext(), id, middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"refund": refund})
}

// ProcessRefund approves or rejects a refund request. Approval calls the
// gateway; a gateway failure leaves the refund failed and the escrow as it was.
// @Summary Process a refund (admin)
// @Tags refunds
// @Accept json
// @Produce json
// @Param id path int true "Refund ID"
// @Param request body services.ProcessRefundInput true "approve or reject"
// @Success 200 {object} models.Refund
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments/refund/{id}/process [put]
func (h *RefundHandler) ProcessRefund(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	req := new(services.ProcessRefundInput)
	if err := parseBody(c, req); err != nil {
		return respondError(c, err)
	}

	refund, err := h.refunds.ProcessRefund(c.UserContext(), id, middleware.ActorFrom(c), *req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Refund " + string(refund.Status),
		"refund":  refund,
	})
}
