package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GigEscrow/internal/services"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return "Bearer " + token
}

func newApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", Protected(secret), func(c *fiber.Ctx) error {
		a := ActorFrom(c)
		return c.JSON(fiber.Map{"id": a.ID, "role": a.Role})
	})
	app.Get("/admin", Protected(secret), AdminOnly(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestProtected(t *testing.T) {
	app := newApp()
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"garbage token", "Bearer nope", fiber.StatusUnauthorized},
		{"wrong key", sign(t, "other", jwt.MapClaims{"user_id": 7, "exp": exp}), fiber.StatusUnauthorized},
		{"expired", sign(t, secret, jwt.MapClaims{"user_id": 7, "exp": time.Now().Add(-time.Hour).Unix()}), fiber.StatusUnauthorized},
		{"no user id", sign(t, secret, jwt.MapClaims{"role": "admin", "exp": exp}), fiber.StatusUnauthorized},
		{"valid", sign(t, secret, jwt.MapClaims{"user_id": 7, "role": "freelancer", "exp": exp}), fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAdminOnly(t *testing.T) {
	app := newApp()
	exp := time.Now().Add(time.Hour).Unix()

	for role, status := range map[services.Role]int{
		services.RoleAdmin:      fiber.StatusNoContent,
		services.RoleClient:     fiber.StatusForbidden,
		services.RoleFreelancer: fiber.StatusForbidden,
	} {
		req := httptest.NewRequest("GET", "/admin", nil)
		req.Header.Set("Authorization", sign(t, secret, jwt.MapClaims{"user_id": 1, "role": string(role), "exp": exp}))
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode, role)
	}
}
