package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

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

	keys, err := bootstrap.ParseKeys(cfg)
	if err != nil {
		log.Fatal("invalid key configuration", zap.Error(err))
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, "escrow-indexer", log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, "escrow-indexer", log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	manager, err := bootstrap.ChainManager(cfg, log)
	if err != nil {
		log.Fatal("invalid SOLANA_NETWORK", zap.Error(err))
	}
	resolver := bootstrap.TokenResolver(cfg, manager, log)

	escrowRepo := repositories.NewEscrowRepo(pool)
	state := cache.NewRedisStore(rdb)
	publisher := events.NewRedisPublisher(rdb, log)

	// Follow admin switches made through the API.
	networkService := services.NewNetworkService(manager, state, publisher, log, resolver.Purge)
	if err := networkService.Restore(ctx); err != nil {
		log.Warn("failed to restore active network", zap.Error(err))
	}
	if err := networkService.Follow(ctx, events.NewRedisSubscriber(rdb, log)); err != nil {
		log.Fatal("failed to follow network switches", zap.Error(err))
	}

	indexer := services.NewIndexerService(manager, keys.ProgramID, resolver, escrowRepo, state, publisher, log)

	log.Info("escrow indexer started",
		zap.String("program", keys.ProgramID.String()),
		zap.String("network", string(manager.Network())),
		zap.Duration("interval", cfg.IndexerPollInterval),
	)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down escrow indexer")
		cancel()
	}()

	indexer.Run(ctx, cfg.IndexerPollInterval)
}
