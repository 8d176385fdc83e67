package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/secure-shuttle/backend/internal/config"
	"github.com/secure-shuttle/backend/internal/db"
	"github.com/secure-shuttle/backend/internal/events"
	"github.com/secure-shuttle/backend/internal/repositories"
	"github.com/secure-shuttle/backend/internal/services"
	"github.com/secure-shuttle/backend/internal/solana"
	"go.uber.org/zap"
)

// The watcher owns the two chain-driven loops the API cannot do inline:
// discovering deposits on custody wallets and confirming submitted transfers.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	escrowRepo := repositories.NewEscrowRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)

	ledger := solana.NewClient(cfg.SolanaRPCURL, log)
	fundingService := services.NewFundingService(escrowRepo, txRepo, auditRepo, ledger, publisher, cfg, log)
	settlementService := services.NewSettlementService(escrowRepo, txRepo, auditRepo, ledger, publisher, cfg, log)

	log.Info("funding watcher started",
		zap.String("rpc", cfg.SolanaRPCURL),
		zap.Duration("poll_interval", cfg.FundingPollInterval),
	)

	ticker := time.NewTicker(cfg.FundingPollInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := fundingService.ReconcileActive(ctx); err != nil {
				log.Error("funding pass failed", zap.Error(err))
			}
			if err := settlementService.ReconcilePending(ctx); err != nil {
				log.Error("settlement pass failed", zap.Error(err))
			}
		case <-sigCh:
			log.Info("shutting down funding watcher")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}
