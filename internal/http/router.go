package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/secure-shuttle/backend/internal/config"
	"github.com/secure-shuttle/backend/internal/http/handlers"
	"github.com/secure-shuttle/backend/internal/middleware"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	escrowHandler *handlers.EscrowHandler,
	settlementHandler *handlers.SettlementHandler,
	disputeHandler *handlers.DisputeHandler,
	ratingHandler *handlers.RatingHandler,
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

	// Internal surface: token issuance and daemon-less reconciliation hooks.
	internal := api.Group("/internal", middleware.InternalKeyMiddleware(cfg))
	internal.Post("/auth/token", authHandler.IssueToken)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Escrows
	protected.Post("/escrows", escrowHandler.Create)
	protected.Get("/escrows", escrowHandler.List)
	protected.Get("/escrows/:id", escrowHandler.Get)
	protected.Patch("/escrows/:id", escrowHandler.Update)
	protected.Get("/escrows/:id/balance", escrowHandler.Balance)
	protected.Post("/escrows/:id/sync-funding", escrowHandler.SyncFunding)
	protected.Post("/escrows/:id/invite", escrowHandler.CreateInvite)
	protected.Post("/escrows/accept-invite", escrowHandler.AcceptInvite)
	protected.Post("/escrows/:id/recipient-address", escrowHandler.SetRecipientAddress)
	protected.Post("/escrows/:id/service-complete", escrowHandler.MarkServiceComplete)
	protected.Post("/escrows/:id/transactions", escrowHandler.RecordTransaction)

	// Share links and role claims address escrows by public id.
	protected.Get("/shared/:publicId", escrowHandler.GetShared)
	protected.Post("/shared/:publicId/claim", escrowHandler.ClaimRole)
	protected.Post("/shared/:publicId/release", settlementHandler.ReleaseShared)

	// Settlement
	protected.Post("/escrows/:id/release", settlementHandler.Release)
	protected.Get("/escrows/:id/transactions", settlementHandler.ListTransactions)
	protected.Post("/escrows/:id/reconcile", settlementHandler.Reconcile)
	protected.Get("/transactions/:signature", settlementHandler.GetTransaction)
	protected.Post("/transactions/:signature/check", settlementHandler.CheckTransaction)

	// Disputes
	protected.Post("/escrows/:id/dispute", disputeHandler.Open)
	protected.Get("/escrows/:id/dispute/messages", disputeHandler.ListMessages)
	protected.Post("/escrows/:id/dispute/messages", disputeHandler.PostMessage)
	protected.Post("/escrows/:id/dispute/upload-url", disputeHandler.CreateUploadURL)
	protected.Get("/escrows/:id/dispute/attachments/:storageId/url", disputeHandler.AttachmentURL)

	// Ratings
	protected.Post("/escrows/:id/ratings", ratingHandler.Rate)
	protected.Get("/escrows/:id/ratings", ratingHandler.ListForEscrow)
	protected.Get("/escrows/:id/ratings/me", ratingHandler.MyRating)
	protected.Get("/users/:userId/ratings", ratingHandler.UserSummary)

	// Admin
	admin := protected.Group("/admin", middleware.AdminMiddleware())
	admin.Post("/escrows/:id/settle", settlementHandler.AdminSettle)
	admin.Post("/shared/:publicId/settle", settlementHandler.AdminSettleShared)
	admin.Post("/escrows/:id/mark-funded", escrowHandler.MarkFunded)
	admin.Get("/escrows/:id/audit", escrowHandler.AuditTrail)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
