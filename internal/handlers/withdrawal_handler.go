package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/logger"
	"GigEscrow/internal/middleware"
	"GigEscrow/internal/models"
	"GigEscrow/internal/services"
)

type CompleteWithdrawalRequest struct {
	ProofOfTransfer string `json:"proof_of_transfer" form:"proof_of_transfer" validate:"max=2048"`
	Note            string `json:"note" form:"note" validate:"max=1000"`
}

type FailWithdrawalRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type WithdrawalHandler struct {
	withdrawals *services.WithdrawalService
	proofs      services.ProofStorage
}

// NewWithdrawalHandler builds the handler. proofs may be nil, in which case
// completions must carry a proof URL instead of a file.
func NewWithdrawalHandler(withdrawals *services.WithdrawalService, proofs services.ProofStorage) *WithdrawalHandler {
	return &WithdrawalHandler{withdrawals: withdrawals, proofs: proofs}
}

// RequestWithdrawal
// @Summary Request a withdrawal
// @Tags withdrawals
// @Accept json
// @Produce json
// @Param request body services.RequestWithdrawalInput true "Withdrawal request"
// @Success 201 {object} models.Withdrawal
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments/withdraw [post]
func (h *WithdrawalHandler) RequestWithdrawal(c *fiber.Ctx) error {
	req := new(services.RequestWithdrawalInput)
	if err := parseBody(c, req); err != nil {
		return respondError(c, err)
	}

	w, err := h.withdrawals.RequestWithdrawal(c.UserContext(), middleware.ActorFrom(c), *req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":    "Withdrawal request submitted. Payouts are processed within 1-3 business days.",
		"withdrawal": w,
	})
}

// GetMyWithdrawals lists the caller's withdrawals.
func (h *WithdrawalHandler) GetMyWithdrawals(c *fiber.Ctx) error {
	list, err := h.withdrawals.ListForFreelancer(c.UserContext(), middleware.ActorFrom(c).ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"withdrawals": list,
		"count":       len(list),
	})
}

func (h *WithdrawalHandler) GetWithdrawal(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	w, err := h.withdrawals.Get(c.UserContext(), id, middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"withdrawal": w})
}

// ListWithdrawals lists withdrawals by status for admins. Defaults to pending.
// @Summary List withdrawals (admin)
// @Tags withdrawals
// @Produce json
// @Param status query string false "pending, processing, completed or failed"
// @Success 200 {array} models.Withdrawal
// @Security BearerAuth
// @Router /api/payments/withdrawals/admin [get]
func (h *WithdrawalHandler) ListWithdrawals(c *fiber.Ctx) error {
	status := models.WithdrawalStatus(c.Query("status", string(models.WithdrawalPending)))
	switch status {
	case models.WithdrawalPending, models.WithdrawalProcessing, models.WithdrawalCompleted, models.WithdrawalFailed:
	default:
		return respondError(c, apperr.Newf(apperr.ErrValidation, "Unknown withdrawal status %q", status))
	}

	list, err := h.withdrawals.ListByStatus(c.UserContext(), status, middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"withdrawals": list,
		"count":       len(list),
		"status":      status,
	})
}

func (h *WithdrawalHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.withdrawals.Stats(c.UserContext(), middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"stats": stats})
}

// StartProcessing moves a pending withdrawal to processing.
// @Summary Start processing a withdrawal (admin)
// @Tags withdrawals
// @Produce json
// @Param id path int true "Withdrawal ID"
// @Success 200 {object} models.Withdrawal
// @Failure 409 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments/withdraw/{id}/process [put]
func (h *WithdrawalHandler) StartProcessing(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	w, err := h.withdrawals.StartProcessing(c.UserContext(), id, middleware.ActorFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":    "Withdrawal is being processed",
		"withdrawal": w,
	})
}

// CompleteWithdrawal records a payout. The proof is either a URL in the body
// or a file in the "proof" field of a multipart form.
// @Summary Complete a withdrawal (admin)
// @Tags withdrawals
// @Accept json,mpfd
// @Produce json
// @Param id path int true "Withdrawal ID"
// @Param proof formData file false "Proof of transfer (jpg, png or pdf)"
// @Success 200 {object} models.Withdrawal
// @Failure 400 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/payments/withdraw/{id}/complete [post]
func (h *WithdrawalHandler) CompleteWithdrawal(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	actor := middleware.ActorFrom(c)

	req := new(CompleteWithdrawalRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, err)
	}

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		file, err := c.FormFile("proof")
		if err == nil {
			if h.proofs == nil {
				return respondError(c, apperr.Newf(apperr.ErrValidation, "File uploads are not enabled, send proof_of_transfer instead"))
			}
			w, err := h.withdrawals.Get(c.UserContext(), id, actor)
			if err != nil {
				return respondError(c, err)
			}
			uploaded, err := h.proofs.UploadProof(c.UserContext(), file, w.Reference)
			if err != nil {
				return respondError(c, err)
			}
			logger.FromContext(c.UserContext(), nil).Info("Uploaded proof of transfer",
				zap.String("reference", w.Reference),
				zap.String("public_id", uploaded.PublicID))
			req.ProofOfTransfer = uploaded.SecureURL
		}
	}

	w, err := h.withdrawals.Complete(c.UserContext(), id, actor, req.ProofOfTransfer, req.Note)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":    "Withdrawal completed",
		"withdrawal": w,
	})
}

func (h *WithdrawalHandler) FailWithdrawal(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	req := new(FailWithdrawalRequest)
	if err := parseBody(c, req); err != nil {
		return respondError(c, err)
	}

	w, err := h.withdrawals.Fail(c.UserContext(), id, middleware.ActorFrom(c), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"message":    "Withdrawal marked as failed",
		"withdrawal": w,
	})
}

// AddPayoutMethod
// @Summary Save a payout method
// @Tags payout-methods
// @Accept json
// @Produce json
// @Param request body services.PayoutMethodInput true "Payout method"
// @Success 201 {object} models.PayoutMethod
// @Security BearerAuth
// @Router /api/payments/payout-methods [post]
func (h *WithdrawalHandler) AddPayoutMethod(c *fiber.Ctx) error {
	req := new(services.PayoutMethodInput)
	if err := parseBody(c, req); err != nil {
		return respondError(c, err)
	}

	pm, err := h.withdrawals.AddPayoutMethod(c.UserContext(), middleware.ActorFrom(c).ID, *req)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":       "Payout method saved",
		"payout_method": pm,
	})
}

func (h *WithdrawalHandler) GetPayoutMethods(c *fiber.Ctx) error {
	methods, err := h.withdrawals.ListPayoutMethods(c.UserContext(), middleware.ActorFrom(c).ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"payout_methods": methods,
		"count":          len(methods),
	})
}

func (h *WithdrawalHandler) SetDefaultPayoutMethod(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.withdrawals.SetDefaultPayoutMethod(c.UserContext(), middleware.ActorFrom(c).ID, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Default payout method updated"})
}

func (h *WithdrawalHandler) DeletePayoutMethod(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.withdrawals.DeletePayoutMethod(c.UserContext(), middleware.ActorFrom(c).ID, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Payout method deleted"})
}
