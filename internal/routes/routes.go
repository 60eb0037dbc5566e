package routes

import (
	"github.com/gofiber/fiber/v2"

	"GigEscrow/internal/handlers"
)

// Handlers groups every HTTP handler the API exposes.
type Handlers struct {
	Payments      *handlers.PaymentHandler
	Escrow        *handlers.EscrowHandler
	Withdrawals   *handlers.WithdrawalHandler
	Refunds       *handlers.RefundHandler
	Notifications *handlers.NotificationHandler
}

func SetupRoutes(app *fiber.App, h Handlers, jwtSecret string) {
	api := app.Group("/api")

	// Health check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "GigEscrow payments",
		})
	})

	SetupPaymentRoutes(api, h, jwtSecret)
	SetupNotificationRoutes(api, h.Notifications, jwtSecret)
}
