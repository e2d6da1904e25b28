package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/escrow-marketplace/backend/internal/bootstrap"
	"github.com/escrow-marketplace/backend/internal/cache"
	"github.com/escrow-marketplace/backend/internal/config"
	"github.com/escrow-marketplace/backend/internal/db"
	"github.com/escrow-marketplace/backend/internal/events"
	"github.com/escrow-marketplace/backend/internal/repositories"
	"github.com/escrow-marketplace/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "escrow-worker", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "escrow-worker", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// The worker never calls the ledger; the manager only tracks the network.
	manager, err := bootstrap.ChainManager(cfg, log)
	if err != nil {
		log.Fatal("invalid SOLANA_NETWORK", zap.Error(err))
	}

	// Repos
	walletRepo := repositories.NewWalletRepo(pool)
	escrowRepo := repositories.NewEscrowRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)

	networkService := services.NewNetworkService(manager, cache.NewRedisStore(rdb), publisher, log)
	if err := networkService.Restore(ctx); err != nil {
		log.Warn("failed to restore active network", zap.Error(err))
	}
	if err := networkService.Follow(ctx, events.NewRedisSubscriber(rdb, log)); err != nil {
		log.Fatal("failed to follow network switches", zap.Error(err))
	}
	expiry := services.NewExpiryService(escrowRepo, manager, publisher, log)

	log.Info("worker started", zap.String("network", string(manager.Network())))

	// Run jobs on tickers
	nonceTicker := time.NewTicker(1 * time.Hour)
	expiryTicker := time.NewTicker(1 * time.Minute)
	defer nonceTicker.Stop()
	defer expiryTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	lastSweep := time.Now()
	for {
		select {
		case <-nonceTicker.C:
			runNoncePurge(ctx, walletRepo, log)
		case now := <-expiryTicker.C:
			if _, err := expiry.Sweep(ctx, lastSweep, now); err != nil {
				log.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			lastSweep = now
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runNoncePurge(ctx context.Context, walletRepo *repositories.WalletRepo, log *zap.Logger) {
	n, err := walletRepo.PurgeExpiredNonces(ctx)
	if err != nil {
		log.Error("failed to purge nonces", zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("purged expired nonces", zap.Int64("count", n))
	}
}
