package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"GigEscrow/internal/apperr"
	"GigEscrow/internal/services"
)

// Locals keys set by Protected.
const (
	UserIDKey = "user_id"
	RoleKey   = "role"
)

func reject(c *fiber.Ctx, base *apperr.Error, message string) error {
	return c.Status(base.Status).JSON(fiber.Map{
		"error": message,
		"code":  base.Kind,
	})
}

// Protected validates the bearer token issued by the identity service and
// stores the caller's id and role.
func Protected(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return reject(c, apperr.ErrUnauthorized, "Missing authorization header")
		}

		// Extract token from "Bearer <token>"
		tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return reject(c, apperr.ErrUnauthorized, "Invalid or expired token")
		}

		rawID, ok := claims["user_id"].(float64)
		if !ok || rawID <= 0 {
			return reject(c, apperr.ErrUnauthorized, "Token has no user_id claim")
		}
		role, _ := claims["role"].(string)
		if role == "" {
			role = string(services.RoleClient)
		}

		c.Locals(UserIDKey, uint(rawID))
		c.Locals(RoleKey, services.Role(role))
		return c.Next()
	}
}

// RequireRole lets the request through only for the given roles.
func RequireRole(roles ...services.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(RoleKey).(services.Role)
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		return reject(c, apperr.ErrForbidden, "Access denied")
	}
}

func AdminOnly() fiber.Handler {
	return RequireRole(services.RoleAdmin)
}

// ActorFrom returns the authenticated caller.
func ActorFrom(c *fiber.Ctx) services.Actor {
	id, _ := c.Locals(UserIDKey).(uint)
	role, _ := c.Locals(RoleKey).(services.Role)
	return services.Actor{ID: id, Role: role}
}
