// Package middleware provides HTTP middleware components for the
// application: authentication and idempotency enforcement for the fiber
// web framework.
package middleware

import (
	"log"
	"strings"

	"sika/internal/utils"
	"sika/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by Auth for downstream handlers.
const (
	ClaimsLocal    = "claims"
	ChallengeLocal = "challenge" // the raw bearer token, reused as the vault challenge
)

// Auth validates the bearer token and stores the claims plus the raw
// signed token in locals. The raw token doubles as the session challenge
// consumed by key derivation.
func Auth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return response.Unauthorized(c)
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return response.Unauthorized(c)
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	_, claims, err := utils.ParseToken(tokenString)
	if err != nil {
		log.Printf("token validation error: %v", err)
		return response.Unauthorized(c)
	}

	c.Locals(ClaimsLocal, claims)
	c.Locals(ChallengeLocal, tokenString)
	return c.Next()
}
