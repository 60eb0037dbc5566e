package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"GigEscrow/internal/middleware"
	"GigEscrow/internal/models"
	"GigEscrow/internal/services"
)

type ReleaseEscrowRequest struct {
	EscrowID uint   `json:"escrow_id" validate:"required"`
	Reason   string `json:"reason" validate:"max=1000"`
}

type DisputeEscrowRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type PartialReleaseRequest struct {
	Amount decimal.Decimal `json:"amount" swaggertype:"string" example:"60000"`
	Reason string          `json:"reason" validate:"max=1000"`
}

// EscrowView is an escrow plus the figures derived from it.
type EscrowView struct {
	*models.Escrow
	NetPayable     decimal.Decimal `json:"net_payable" swaggertype:"string"`
	AutoReleaseDue bool            `json:"auto_release_due"`
}

type EscrowHandler struct {
	escrow *services.EscrowManager
}

func NewEscrowHandler(escrow *services.EscrowManager) *EscrowHandler {
	return &EscrowHandler{escrow: escrow}
}

func (h *EscrowHandler) view(e *models.Escrow) EscrowView {
	return EscrowView{
		Escrow:         e,
		NetPayable:     h.escrow.NetPayable(e),
		AutoReleaseDue: h.escrow.AutoReleaseDue(e),
	}
}

// ReleaseEscrow releases the full held amount to the freelancer.
// @Summary Release escrow
// @Tags escrow
// @Accept json
// @Produce json
// @Param request body ReleaseEscrowRequest true "Release request"
// @Success 200 {object} EscrowView
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments/escrow/release [post]
func (h *EscrowHandler) ReleaseEscrow(c *fiber.Ctx) error {
	req := new(ReleaseEscrowRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, err)
	}

	e, err := h.escrow.Release(c.UserContext(), req.EscrowID, middleware.ActorFrom(c), req.Reason)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Funds released to freelancer",
		"escrow":  h.view(e),
	})
}

// GetEscrow
// @Summary Get escrow
// @Tags escrow
// @Produce json
// @Param id path int true "Escrow ID"
// @Success 200 {object} EscrowView
// @Failure 404 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments/escrow/{id} [get]
func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	e, err := h.escrow.Get(c.UserContext(), id, middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"escrow": h.view(e)})
}

// GetLedger lists the ledger entries of an escrow the caller can see.
func (h *EscrowHandler) GetLedger(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if _, err := h.escrow.Get(c.UserContext(), id, middleware.ActorFrom(c)); err != nil {
		return respondError(c, err)
	}

	entries, err := h.escrow.Ledger(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"entries": entries,
		"count":   len(entries),
	})
}

// DisputeEscrow freezes an escrow until an admin resolves it.
// @Summary Dispute escrow
// @Tags escrow
// @Accept json
// @Produce json
// @Param id path int true "Escrow ID"
// @Param request body DisputeEscrowRequest true "Dispute reason"
// @Success 200 {object} EscrowView
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments/escrow/{id}/dispute [post]
func (h *EscrowHandler) DisputeEscrow(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	req := new(DisputeEscrowRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, err)
	}

	e, err := h.escrow.MarkDisputed(c.UserContext(), id, middleware.ActorFrom(c), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Dispute opened. An admin will review it.",
		"escrow":  h.view(e),
	})
}

// PartialRelease releases part of the held amount.
// @Summary Partially release escrow
// @Tags escrow
// @Accept json
// @Produce json
// @Param id path int true "Escrow ID"
// @Param request body PartialReleaseRequest true "Amount to release"
// @Success 200 {object} EscrowView
// @Failure 422 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments/escrow/{id}/partial-release [post]
func (h *EscrowHandler) PartialRelease(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	req := new(PartialReleaseRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, err)
	}

	e, err := h.escrow.PartialRelease(c.UserContext(), id, req.Amount, middleware.ActorFrom(c), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Partial release recorded",
		"escrow":  h.view(e),
	})
}
