package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sika/internal/models"
	"sika/internal/utils"
)

func authApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", Auth, func(c *fiber.Ctx) error {
		claims := c.Locals(ClaimsLocal).(*models.UserClaims)
		challenge := c.Locals(ChallengeLocal).(string)
		return c.JSON(fiber.Map{"user_id": claims.UserID, "has_challenge": challenge != ""})
	})
	return app
}

func TestAuth(t *testing.T) {
	t.Setenv("JWT_SECRET", "middleware-test-secret")
	app := authApp()

	t.Run("valid token passes claims and challenge through", func(t *testing.T) {
		access, _, err := utils.GenerateTokens(&models.UserClaims{UserID: 7, Email: "ama@example.com"})
		require.NoError(t, err)

		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+access)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Token abc")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})
}
