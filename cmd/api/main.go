package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/escrow-marketplace/backend/internal/bootstrap"
	"github.com/escrow-marketplace/backend/internal/cache"
	"github.com/escrow-marketplace/backend/internal/config"
	"github.com/escrow-marketplace/backend/internal/db"
	"github.com/escrow-marketplace/backend/internal/events"
	apphttp "github.com/escrow-marketplace/backend/internal/http"
	"github.com/escrow-marketplace/backend/internal/http/handlers"
	"github.com/escrow-marketplace/backend/internal/repositories"
	"github.com/escrow-marketplace/backend/internal/services"
	"github.com/escrow-marketplace/backend/internal/storefront"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keys, err := bootstrap.ParseKeys(cfg)
	if err != nil {
		log.Fatal("invalid key configuration", zap.Error(err))
	}

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "escrow-api", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "escrow-api", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Chain
	manager, err := bootstrap.ChainManager(cfg, log)
	if err != nil {
		log.Fatal("invalid SOLANA_NETWORK", zap.Error(err))
	}
	resolver := bootstrap.TokenResolver(cfg, manager, log)
	builder := bootstrap.Builder(cfg, keys, manager, log)

	storefronts, err := storefront.Load(cfg.StorefrontsDir, log)
	if err != nil {
		log.Fatal("failed to load storefronts", zap.Error(err))
	}

	// Repositories
	escrowRepo := repositories.NewEscrowRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	walletRepo := repositories.NewWalletRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	balanceCache := cache.NewBalanceCache(cache.NewRedisStore(rdb), cfg.BalanceCacheTTL, log)
	balanceService := services.NewBalanceService(manager, balanceCache, log)
	walletService := services.NewWalletService(walletRepo, auditRepo, cfg, log)
	escrowService := services.NewEscrowService(manager, builder, resolver, storefronts, balanceService, auditRepo, publisher, log)
	marketService := services.NewMarketService(escrowRepo, storefronts, balanceService, manager, log)
	networkService := services.NewNetworkService(manager, cache.NewRedisStore(rdb), publisher, log, resolver.Purge)
	if err := networkService.Restore(ctx); err != nil {
		log.Warn("failed to restore active network", zap.Error(err))
	}
	// Other API replicas may switch too.
	if err := networkService.Follow(ctx, subscriber); err != nil {
		log.Fatal("failed to follow network switches", zap.Error(err))
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(walletService, cfg, log)
	storefrontHandler := handlers.NewStorefrontHandler(marketService, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, log)
	adminHandler := handlers.NewAdminHandler(networkService, services.NewAuditService(auditRepo, log), log)
	wsHub := handlers.NewWSHub(cfg, subscriber, marketService, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, storefrontHandler, escrowHandler, adminHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server",
		zap.String("addr", addr),
		zap.String("network", string(manager.Network())),
		zap.Int("storefronts", len(storefronts.List())),
	)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

