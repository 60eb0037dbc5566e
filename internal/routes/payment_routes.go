package routes

import (
	"github.com/gofiber/fiber/v2"

	"GigEscrow/internal/middleware"
	"GigEscrow/internal/services"
)

func SetupPaymentRoutes(api fiber.Router, h Handlers, jwtSecret string) {
	// Gateway callbacks carry a signature instead of a token, so they are
	// registered ahead of the protected group.
	api.Post("/payments/webhook/:gateway?", h.Payments.HandleWebhook)

	payments := api.Group("/payments", middleware.Protected(jwtSecret))
	admin := middleware.AdminOnly()

	// Escrow
	payments.Post("/escrow/release", h.Escrow.ReleaseEscrow)
	payments.Get("/escrow/:id", h.Escrow.GetEscrow)
	payments.Get("/escrow/:id/ledger", h.Escrow.GetLedger)
	payments.Post("/escrow/:id/dispute", h.Escrow.DisputeEscrow)
	payments.Post("/escrow/:id/partial-release", admin, h.Escrow.PartialRelease)

	// Withdrawals
	payments.Post("/withdraw", middleware.RequireRole(services.RoleFreelancer), h.Withdrawals.RequestWithdrawal)
	payments.Put("/withdraw/:id/process", admin, h.Withdrawals.StartProcessing)
	payments.Post("/withdraw/:id/complete", admin, h.Withdrawals.CompleteWithdrawal)
	payments.Post("/withdraw/:id/fail", admin, h.Withdrawals.FailWithdrawal)
	payments.Get("/withdrawals", h.Withdrawals.GetMyWithdrawals)
	payments.Get("/withdrawals/stats", admin, h.Withdrawals.GetStats)
	payments.Get("/withdrawals/admin", admin, h.Withdrawals.ListWithdrawals)
	payments.Get("/withdrawals/:id", h.Withdrawals.GetWithdrawal)

	// Payout methods
	payments.Post("/payout-methods", h.Withdrawals.AddPayoutMethod)
	payments.Get("/payout-methods", h.Withdrawals.GetPayoutMethods)
	payments.Put("/payout-methods/:id/set-default", h.Withdrawals.SetDefaultPayoutMethod)
	payments.Delete("/payout-methods/:id", h.Withdrawals.DeletePayoutMethod)

	// Refunds
	payments.Put("/refund/:id/process", admin, h.Refunds.ProcessRefund)
	payments.Get("/refund/:id", h.Refunds.GetRefund)

	// Payments
	payments.Post("/", h.Payments.CreatePayment)
	payments.Get("/order/:orderId", h.Payments.ListOrderPayments)
	payments.Get("/:id", h.Payments.GetPayment)
	payments.Post("/:id/sync", admin, h.Payments.SyncStatus)
	payments.Post("/:id/refund", h.Refunds.RequestRefund)
	payments.Get("/:id/refunds", h.Refunds.ListRefunds)
}
