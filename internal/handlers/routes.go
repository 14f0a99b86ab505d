package handlers

import (
	"time"

	"sika/internal/metrics"
	"sika/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
)

// Dependencies collects the handlers wired in main.
type Dependencies struct {
	Auth    *AuthHandler
	Cards   *CardHandler
	Funding *FundingHandler
	Redis   *redis.Client
}

// SetupRoutes registers the HTTP surface.
func SetupRoutes(app *fiber.App, deps Dependencies) {
	app.Get("/health", HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api")
	api.Post("/register", deps.Auth.RegisterUser)
	api.Post("/login", deps.Auth.LoginUser)
	api.Post("/refresh", deps.Auth.RefreshToken)

	authenticated := api.Group("/", middleware.Auth)
	authenticated.Post("/logout", deps.Auth.LogoutUser)

	// Mutating card endpoints demand an Idempotency-Key. The reveal
	// endpoint is deliberately left out: its response carries decrypted
	// card data and must never be stored in Redis.
	idem := func(c *fiber.Ctx) error { return c.Next() }
	if deps.Redis != nil {
		idem = middleware.Idempotency(deps.Redis, 24*time.Hour)
	}

	cards := authenticated.Group("/cards")
	cards.Post("/", idem, deps.Cards.IssueCard)
	cards.Get("/", deps.Cards.GetCards)
	cards.Get("/:id", deps.Cards.GetCard)
	cards.Post("/:id/reveal", deps.Cards.RevealCard)
	cards.Post("/:id/fund", idem, deps.Cards.FundCard)
	cards.Post("/:id/spend", idem, deps.Cards.SpendCard)
	cards.Post("/:id/refund", idem, deps.Cards.RefundCard)
	cards.Post("/:id/deactivate", deps.Cards.DeactivateCard)
	cards.Get("/:id/transactions", deps.Cards.GetCardTransactions)

	authenticated.Get("/funding/:reference", deps.Funding.GetFundingStatus)
}
