package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/secure-shuttle/backend/internal/models"
	"github.com/secure-shuttle/backend/internal/repositories"
	"github.com/secure-shuttle/backend/internal/solana"
)

// Store interfaces sit between services and the pgx repositories so service
// logic can be exercised against in-memory fakes. The repositories package
// provides the production implementations.

type EscrowStore interface {
	Create(ctx context.Context, e *models.Escrow) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Escrow, error)
	GetByPublicID(ctx context.Context, publicID string) (*models.Escrow, error)
	GetByInviteHash(ctx context.Context, inviteTokenHash string) (*models.Escrow, error)
	List(ctx context.Context, f repositories.EscrowFilter) (int, []models.Escrow, error)
	ListActive(ctx context.Context, limit int) ([]models.Escrow, error)
	UpdateVersioned(ctx context.Context, id uuid.UUID, expectedVersion int64, p repositories.EscrowPatch) (*models.Escrow, error)
}

type TransactionStore interface {
	Create(ctx context.Context, t *models.Transaction) error
	GetBySignature(ctx context.Context, signature string) (*models.Transaction, error)
	FindByIntent(ctx context.Context, escrowID uuid.UUID, txType, intentHash string) (*models.Transaction, error)
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.Transaction, error)
	ListPending(ctx context.Context, limit int) ([]models.Transaction, error)
	HasConfirmedDeposit(ctx context.Context, escrowID uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, signature, status string, rawError *string) (*models.Transaction, error)
}

type DisputeStore interface {
	CreateMessage(ctx context.Context, m *models.DisputeMessage) error
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.DisputeMessage, error)
}

type RatingStore interface {
	Upsert(ctx context.Context, rating *models.EscrowRating) error
	GetByRater(ctx context.Context, escrowID uuid.UUID, fromUserID string) (*models.EscrowRating, error)
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]models.EscrowRating, error)
	UserSummary(ctx context.Context, userID string) (int, float64, error)
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// Ledger is the chain gateway surface the services depend on.
type Ledger interface {
	GetBalance(ctx context.Context, address string) (int64, error)
	SubmitTransfer(ctx context.Context, secretKey, toAddress string, lamports int64) (*solana.TransferResult, error)
	GetTransactionStatus(ctx context.Context, signature string) (*solana.TxStatus, error)
	ListRecentSignatures(ctx context.Context, address string, limit int) ([]solana.SignatureInfo, error)
}
