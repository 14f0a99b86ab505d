// Package main is the entry point for the application. It initializes all
// dependencies, sets up the HTTP server, and starts the application.
package main

import (
	"log"
	"time"

	"sika/internal/config"
	"sika/internal/handlers"
	"sika/internal/metrics"
	"sika/internal/models"
	"sika/internal/repositories"
	"sika/internal/services/auth"
	"sika/internal/services/cardgen"
	"sika/internal/services/cards"
	"sika/internal/services/fees"
	"sika/internal/services/issuance"
	"sika/internal/services/keyderive"
	"sika/internal/services/ledger"
	"sika/internal/services/rail"
	"sika/internal/services/verifier"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

func main() {
	config.LoadEnv()
	metrics.Init()

	if err := repositories.InitDB(); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	sqlDB, err := repositories.DB.DB()
	if err != nil {
		log.Fatalf("failed to get database instance: %v", err)
	}
	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}
	log.Println("connected to database")

	defer func() {
		if err := sqlDB.Close(); err != nil {
			log.Printf("failed to close database connection: %v", err)
		}
		if repositories.CacheService != nil {
			if err := repositories.CacheService.Close(); err != nil {
				log.Printf("failed to close redis connection: %v", err)
			}
		}
	}()

	// Repositories
	userRepo := repositories.NewUserRepository(repositories.DB)
	intentRepo := repositories.NewFundingIntentRepository(repositories.DB)
	cardRepo := repositories.NewVirtualCardRepository(repositories.DB)
	txRepo := repositories.NewCardTransactionRepository(repositories.DB)

	// Rail connectors, selected by kind.
	rails := rail.NewSelector()
	if base := config.GetEnv("MOMO_BASE_URL", ""); base != "" {
		rails.Register(models.RailMobileMoney, rail.NewMobileMoneyRail(rail.MobileMoneyConfig{
			BaseURL: base,
			APIKey:  config.GetEnv("MOMO_API_KEY", ""),
		}))
	} else {
		log.Println("MOMO_BASE_URL not set, using static mobile-money rail")
		rails.Register(models.RailMobileMoney, rail.StaticRail{})
	}
	if base := config.GetEnv("CHAIN_WATCHER_BASE_URL", ""); base != "" {
		rails.Register(models.RailCrypto, rail.NewCryptoRail(rail.CryptoConfig{
			BaseURL:       base,
			APIKey:        config.GetEnv("CHAIN_WATCHER_API_KEY", ""),
			Confirmations: config.GetIntEnv("CHAIN_CONFIRMATIONS", 6),
		}))
	} else {
		log.Println("CHAIN_WATCHER_BASE_URL not set, using static crypto rail")
		rails.Register(models.RailCrypto, rail.StaticRail{})
	}

	// Services
	keyService := keyderive.NewService(
		[]byte(config.GetEnv("JWT_SECRET", "")),
		config.GetDurationEnv("SESSION_KEY_TTL", 15*time.Minute),
	)
	verifierService := verifier.NewService(intentRepo, rails, verifier.Config{
		PollInterval: config.GetDurationEnv("RAIL_POLL_INTERVAL", verifier.DefaultPollInterval),
		Timeout:      config.GetDurationEnv("RAIL_POLL_TIMEOUT", verifier.DefaultTimeout),
	})
	ledgerService := ledger.NewService(repositories.DB)
	feeCalculator := fees.NewCalculator(
		config.GetInt64Env("FUNDING_MIN_AMOUNT", fees.DefaultMinAmount),
		config.GetInt64Env("FUNDING_MAX_AMOUNT", fees.DefaultMaxAmount),
	)

	var mirror issuance.Mirror = issuance.NoopMirror{}
	if base := config.GetEnv("LEDGER_MIRROR_BASE_URL", ""); base != "" {
		mirror = issuance.NewChainMirror(issuance.ChainMirrorConfig{
			BaseURL: base,
			APIKey:  config.GetEnv("LEDGER_MIRROR_API_KEY", ""),
		})
	}

	issuanceService := issuance.NewService(cardRepo, verifierService, ledgerService, feeCalculator, cardgen.NewGenerator(), mirror)
	cardService := cards.NewService(cardRepo, txRepo, ledgerService, repositories.CacheService)
	authService := auth.NewService(userRepo, keyService)

	app := fiber.New()

	app.Use(cors.New(cors.Config{
		AllowOrigins: config.GetEnv("CORS_ORIGINS", "http://localhost:5173"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
	}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	for _, route := range []string{"/api/register", "/api/login"} {
		app.Use(route, limiter.New(limiter.Config{
			Max:        5,
			Expiration: 1 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(429).JSON(fiber.Map{
					"error": "Too many requests. Please try again later.",
				})
			},
		}))
	}

	handlers.SetupRoutes(app, handlers.Dependencies{
		Auth:    handlers.NewAuthHandler(authService),
		Cards:   handlers.NewCardHandler(issuanceService, cardService, keyService),
		Funding: handlers.NewFundingHandler(verifierService),
		Redis:   repositories.CacheService.Client(),
	})

	log.Fatal(app.Listen(":" + config.GetEnv("PORT", "3000")))
}
