package routes

import (
	"github.com/gofiber/fiber/v2"

	"GigEscrow/internal/handlers"
	"GigEscrow/internal/middleware"
)

func SetupNotificationRoutes(api fiber.Router, h *handlers.NotificationHandler, jwtSecret string) {
	// Notification routes (all require authentication)
	notifications := api.Group("/notifications", middleware.Protected(jwtSecret))

	notifications.Get("/", h.GetNotifications)
	notifications.Get("/unread-count", h.GetUnreadCount)
	notifications.Put("/read-all", h.MarkAllAsRead)
	notifications.Put("/:id/read", h.MarkAsRead)
	notifications.Delete("/:id", h.DeleteNotification)
}
