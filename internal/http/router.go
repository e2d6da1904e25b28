package http

import (
	"time"

	"github.com/escrow-marketplace/backend/internal/config"
	"github.com/escrow-marketplace/backend/internal/http/handlers"
	"github.com/escrow-marketplace/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	storefrontHandler *handlers.StorefrontHandler,
	escrowHandler *handlers.EscrowHandler,
	adminHandler *handlers.AdminHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/nonce", authHandler.Nonce)
	api.Post("/auth/wallet", authHandler.WalletSignIn)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Storefronts: balance-aware when a token is present
	public := api.Group("", middleware.OptionalAuthMiddleware(cfg))
	public.Get("/storefronts", storefrontHandler.ListStorefronts)
	public.Get("/storefronts/:id/escrows", storefrontHandler.Escrows)
	public.Get("/escrows/:id", escrowHandler.GetEscrow)
	public.Post("/escrows/:id/quote", escrowHandler.Quote)
	public.Get("/network", adminHandler.GetNetwork)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	protected.Get("/me", authHandler.Me)
	protected.Get("/me/escrows", storefrontHandler.MyEscrows)

	// Escrows
	protected.Post("/escrows", escrowHandler.Open)
	protected.Post("/escrows/:id/fill", escrowHandler.Fill)
	protected.Post("/escrows/:id/cancel", escrowHandler.Cancel)
	protected.Post("/tx/submit", escrowHandler.Submit)

	// Admin
	admin := protected.Group("/admin", middleware.AdminMiddleware(cfg))
	admin.Post("/network", adminHandler.SwitchNetwork)
	admin.Get("/audit/:type/:id", adminHandler.AuditHistory)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
