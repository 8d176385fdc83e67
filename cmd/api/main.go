package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/secure-shuttle/backend/internal/config"
	"github.com/secure-shuttle/backend/internal/db"
	"github.com/secure-shuttle/backend/internal/events"
	apphttp "github.com/secure-shuttle/backend/internal/http"
	"github.com/secure-shuttle/backend/internal/http/handlers"
	"github.com/secure-shuttle/backend/internal/repositories"
	"github.com/secure-shuttle/backend/internal/services"
	"github.com/secure-shuttle/backend/internal/solana"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	escrowRepo := repositories.NewEscrowRepo(pool)
	txRepo := repositories.NewTransactionRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	ratingRepo := repositories.NewRatingRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Chain gateway and services
	ledger := solana.NewClient(cfg.SolanaRPCURL, log)
	storageClient := services.NewStorageClient(cfg.StorageInternalURL, log)
	escrowService := services.NewEscrowService(escrowRepo, auditRepo, publisher, cfg, log)
	fundingService := services.NewFundingService(escrowRepo, txRepo, auditRepo, ledger, publisher, cfg, log)
	settlementService := services.NewSettlementService(escrowRepo, txRepo, auditRepo, ledger, publisher, cfg, log)
	disputeService := services.NewDisputeService(escrowRepo, disputeRepo, auditRepo, storageClient, publisher, cfg, log)
	ratingService := services.NewRatingService(escrowRepo, ratingRepo, auditRepo, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, log)
	escrowHandler := handlers.NewEscrowHandler(escrowService, fundingService, log)
	settlementHandler := handlers.NewSettlementHandler(settlementService, log)
	disputeHandler := handlers.NewDisputeHandler(disputeService, log)
	ratingHandler := handlers.NewRatingHandler(ratingService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

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

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, escrowHandler, settlementHandler, disputeHandler, ratingHandler, wsHub)

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
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
