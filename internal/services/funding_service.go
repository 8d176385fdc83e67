package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/secure-shuttle/backend/internal/apperr"
	"github.com/secure-shuttle/backend/internal/config"
	"github.com/secure-shuttle/backend/internal/events"
	"github.com/secure-shuttle/backend/internal/models"
	"github.com/secure-shuttle/backend/internal/repositories"
	"github.com/secure-shuttle/backend/internal/solana"
	"go.uber.org/zap"
)

type FundingService struct {
	escrows   EscrowStore
	txs       TransactionStore
	audit     AuditStore
	ledger    Ledger
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewFundingService(
	escrows EscrowStore,
	txs TransactionStore,
	audit AuditStore,
	ledger Ledger,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *FundingService {
	return &FundingService{
		escrows:   escrows,
		txs:       txs,
		audit:     audit,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

type FundingStatus struct {
	Escrow          *models.Escrow       `json:"escrow"`
	BalanceLamports int64                `json:"balance_lamports"`
	Funded          bool                 `json:"funded"`
	Deposits        []models.Transaction `json:"deposits,omitempty"`
}

// SyncFunding reconciles an escrow against the chain. Funding is sticky: once
// funded_at is set the escrow stays funded even if the balance later drops.
// Disputed and terminal escrows are never touched.
func (s *FundingService) SyncFunding(ctx context.Context, id uuid.UUID) (*FundingStatus, error) {
	escrow, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	return s.sync(ctx, escrow)
}

func (s *FundingService) sync(ctx context.Context, escrow *models.Escrow) (*FundingStatus, error) {
	if models.IsTerminalStatus(escrow.Status) || escrow.Status == models.EscrowStatusDisputed {
		return &FundingStatus{Escrow: escrow, Funded: escrow.FundedAt != nil}, nil
	}

	balance, err := s.ledger.GetBalance(ctx, escrow.PublicKey)
	if err != nil {
		return nil, apperr.Upstream(err, "chain gateway unavailable")
	}

	deposits, err := s.recordDeposits(ctx, escrow)
	if err != nil {
		s.log.Warn("deposit scan failed",
			zap.String("escrow_id", escrow.ID.String()), zap.Error(err))
	}

	if escrow.FundedAt != nil {
		return &FundingStatus{Escrow: escrow, BalanceLamports: balance, Funded: true, Deposits: deposits}, nil
	}

	funded := false
	if escrow.ExpectedAmountLamports != nil {
		funded = balance >= *escrow.ExpectedAmountLamports
	} else if balance >= s.cfg.FundingMinLamports {
		// Without an expected amount a raw balance is not enough: require at
		// least one confirmed inbound transfer.
		hasDeposit, err := s.txs.HasConfirmedDeposit(ctx, escrow.ID)
		if err != nil {
			return nil, err
		}
		funded = hasDeposit
	}

	if !funded {
		return &FundingStatus{Escrow: escrow, BalanceLamports: balance, Deposits: deposits}, nil
	}

	now := time.Now().UTC()
	patch := repositories.EscrowPatch{FundedAt: &now}
	newStatus := escrow.Status
	if models.IsValidTransition(escrow.Status, models.EscrowStatusFunded) {
		newStatus = models.EscrowStatusFunded
		patch.Status = &newStatus
	}

	updated, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, patch)
	if err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			// A concurrent writer moved the escrow. The next sync pass settles it.
			return &FundingStatus{Escrow: escrow, BalanceLamports: balance, Deposits: deposits}, nil
		}
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     "escrow_funded",
		EntityType: "escrow",
		EntityID:   &escrow.ID,
		Meta:       map[string]any{"balance_lamports": balance},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventPaymentReceived,
		Payload: map[string]any{
			"escrow_id":        escrow.ID.String(),
			"public_id":        escrow.PublicID,
			"balance_lamports": balance,
			"new_status":       updated.Status,
		},
	})

	s.log.Info("escrow funded",
		zap.String("escrow_id", escrow.ID.String()),
		zap.Int64("balance_lamports", balance),
	)
	return &FundingStatus{Escrow: updated, BalanceLamports: balance, Funded: true, Deposits: deposits}, nil
}

// recordDeposits scans recent signatures on the custody wallet and records
// unseen successful transfers as deposit rows. Signatures are unique, so a
// rescan never duplicates.
func (s *FundingService) recordDeposits(ctx context.Context, escrow *models.Escrow) ([]models.Transaction, error) {
	sigs, err := s.ledger.ListRecentSignatures(ctx, escrow.PublicKey, s.cfg.FundingScanLimit)
	if err != nil {
		return nil, err
	}

	var deposits []models.Transaction
	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		if !solana.CommitmentSatisfied(sig.Status, solana.CommitmentConfirmed) {
			continue
		}
		existing, err := s.txs.GetBySignature(ctx, sig.Signature)
		if err == nil {
			deposits = append(deposits, *existing)
			continue
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return deposits, err
		}

		target := solana.CommitmentConfirmed
		tx := &models.Transaction{
			EscrowID:         escrow.ID,
			Signature:        sig.Signature,
			TxType:           models.TxTypeDeposit,
			Status:           models.TxStatusConfirmed,
			ToAddress:        &escrow.PublicKey,
			CommitmentTarget: &target,
			Memo:             sig.Memo,
		}
		if err := s.txs.Create(ctx, tx); err != nil {
			return deposits, err
		}
		deposits = append(deposits, *tx)
	}
	return deposits, nil
}

// RecordDeposit registers a transfer the client observed out-of-band, keyed by
// its signature, then re-runs funding reconciliation.
func (s *FundingService) RecordDeposit(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID, signature string) (*FundingStatus, error) {
	escrow, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	if !isAdmin && !escrow.CanView(actorUserID) {
		return nil, apperr.Forbidden("not a participant of this escrow")
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return nil, apperr.Validation("transaction signature is required")
	}

	existing, err := s.txs.GetBySignature(ctx, signature)
	switch {
	case err == nil:
		if existing.EscrowID != escrow.ID {
			return nil, apperr.Conflict("signature belongs to another escrow")
		}
	case errors.Is(err, repositories.ErrNotFound):
		status, err := s.ledger.GetTransactionStatus(ctx, signature)
		if err != nil {
			return nil, apperr.Upstream(err, "chain gateway unavailable")
		}
		if status.Err != nil {
			return nil, apperr.Validation("transaction %s failed on chain", signature)
		}
		txStatus := models.TxStatusPending
		switch {
		case status.Status == solana.StatusNotFound:
			// Not visible yet. Record it pending and let reconcile catch up.
		case solana.CommitmentSatisfied(status.Status, solana.CommitmentConfirmed):
			txStatus = models.TxStatusConfirmed
		default:
			txStatus = models.TxStatusWaiting
		}
		target := solana.CommitmentConfirmed
		tx := &models.Transaction{
			EscrowID:         escrow.ID,
			Signature:        signature,
			TxType:           models.TxTypeDeposit,
			Status:           txStatus,
			ToAddress:        &escrow.PublicKey,
			CommitmentTarget: &target,
		}
		if err := s.txs.Create(ctx, tx); err != nil {
			return nil, err
		}
		_ = s.audit.Log(ctx, models.AuditLog{
			ActorUserID: &actorUserID,
			ActorType:   "user",
			Action:      "deposit_recorded",
			EntityType:  "escrow",
			EntityID:    &escrow.ID,
			Meta:        map[string]any{"signature": signature},
		})
	default:
		return nil, err
	}

	return s.sync(ctx, escrow)
}

// MarkFunded force-sets the funded flag, bypassing the chain. Reserved for
// admin recovery when RPC visibility lags a real deposit.
func (s *FundingService) MarkFunded(ctx context.Context, adminUserID string, id uuid.UUID) (*models.Escrow, error) {
	escrow, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	if escrow.FundedAt != nil {
		return escrow, nil
	}
	if !models.IsValidTransition(escrow.Status, models.EscrowStatusFunded) {
		return nil, apperr.InvalidState("cannot mark %s escrow as funded", escrow.Status)
	}

	now := time.Now().UTC()
	status := models.EscrowStatusFunded
	updated, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, repositories.EscrowPatch{
		Status:   &status,
		FundedAt: &now,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, apperr.Conflict("escrow changed concurrently, retry")
		}
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &adminUserID,
		ActorType:   "admin",
		Action:      "escrow_marked_funded",
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowStatusChanged,
		Payload: map[string]any{
			"escrow_id":  escrow.ID.String(),
			"public_id":  escrow.PublicID,
			"old_status": escrow.Status,
			"new_status": updated.Status,
		},
	})
	return updated, nil
}

// ReconcileActive runs one funding pass over every active unfunded escrow.
// Used by the watcher daemon.
func (s *FundingService) ReconcileActive(ctx context.Context) error {
	escrows, err := s.escrows.ListActive(ctx, 200)
	if err != nil {
		return err
	}
	for i := range escrows {
		if _, err := s.sync(ctx, &escrows[i]); err != nil {
			s.log.Warn("funding sync failed",
				zap.String("escrow_id", escrows[i].ID.String()), zap.Error(err))
		}
	}
	return nil
}

// Balance returns the live custody wallet balance without mutating state.
func (s *FundingService) Balance(ctx context.Context, escrow *models.Escrow) (int64, error) {
	balance, err := s.ledger.GetBalance(ctx, escrow.PublicKey)
	if err != nil {
		return 0, apperr.Upstream(err, "chain gateway unavailable")
	}
	return balance, nil
}
