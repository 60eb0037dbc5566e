package handlers

import (
	"github.com/gofiber/fiber/v2"

	"GigEscrow/internal/middleware"
	"GigEscrow/internal/services"
)

type NotificationHandler struct {
	notifications *services.NotificationService
}

func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// GetNotifications retrieves notifications for the authenticated user
func (h *NotificationHandler) GetNotifications(c *fiber.Ctx) error {
	userID := middleware.ActorFrom(c).ID
	limit := c.QueryInt("limit", 50)
	unreadOnly := c.QueryBool("unread_only", false)

	items, unread, err := h.notifications.List(c.UserContext(), userID, unreadOnly, limit)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"notifications": items,
		"count":         len(items),
		"unread_count":  unread,
	})
}

// GetUnreadCount returns the count of unread notifications
func (h *NotificationHandler) GetUnreadCount(c *fiber.Ctx) error {
	unread, err := h.notifications.UnreadCount(c.UserContext(), middleware.ActorFrom(c).ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"unread_count": unread})
}

func (h *NotificationHandler) MarkAsRead(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.notifications.MarkRead(c.UserContext(), middleware.ActorFrom(c).ID, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Notification marked as read"})
}

func (h *NotificationHandler) MarkAllAsRead(c *fiber.Ctx) error {
	if err := h.notifications.MarkAllRead(c.UserContext(), middleware.ActorFrom(c).ID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "All notifications marked as read"})
}

func (h *NotificationHandler) DeleteNotification(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := h.notifications.Delete(c.UserContext(), middleware.ActorFrom(c).ID, id); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Notification deleted"})
}
