package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/secure-shuttle/backend/internal/apperr"
	"github.com/secure-shuttle/backend/internal/config"
	"github.com/secure-shuttle/backend/internal/events"
	"github.com/secure-shuttle/backend/internal/models"
	"github.com/secure-shuttle/backend/internal/repositories"
	"github.com/secure-shuttle/backend/internal/solana"
	"go.uber.org/zap"
)

// Admin settlement actions.
const (
	SettleActionNone         = "none"
	SettleActionRefundSender = "refund_sender"
	SettleActionPayRecipient = "pay_recipient"
)

type SettlementService struct {
	escrows   EscrowStore
	txs       TransactionStore
	audit     AuditStore
	ledger    Ledger
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewSettlementService(
	escrows EscrowStore,
	txs TransactionStore,
	audit AuditStore,
	ledger Ledger,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *SettlementService {
	return &SettlementService{
		escrows:   escrows,
		txs:       txs,
		audit:     audit,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// IntentHash fingerprints one settlement intent. Two calls that would pay the
// same recipient the same amount under the same idempotency key collapse into
// one transfer.
func IntentHash(escrowID uuid.UUID, recipient string, amountLamports int64, idempotencyKey string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d:%s", escrowID, recipient, amountLamports, idempotencyKey))
	return hex.EncodeToString(sum[:])
}

func (s *SettlementService) transition(ctx context.Context, escrow *models.Escrow, newStatus string, extra repositories.EscrowPatch, actorUserID *string, actorType string) (*models.Escrow, error) {
	if !models.IsValidTransition(escrow.Status, newStatus) {
		return nil, apperr.InvalidState("cannot move escrow from %s to %s", escrow.Status, newStatus)
	}

	oldStatus := escrow.Status
	extra.Status = &newStatus
	updated, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, extra)
	if err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, apperr.Conflict("escrow changed concurrently, retry")
		}
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actorUserID,
		ActorType:   actorType,
		Action:      fmt.Sprintf("escrow_status_%s_to_%s", oldStatus, newStatus),
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
		Meta:        map[string]any{"old_status": oldStatus, "new_status": newStatus},
	})
	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventEscrowStatusChanged,
		Payload: map[string]any{
			"escrow_id":  escrow.ID.String(),
			"public_id":  escrow.PublicID,
			"old_status": oldStatus,
			"new_status": updated.Status,
		},
	})
	return updated, nil
}

// Release pays the escrow balance minus the network fee out to the recipient
// address. Only the bound sender (or an admin) may trigger it.
//
// The finalize nonce and intent hash are persisted through a versioned write
// before anything hits the chain, so a concurrent duplicate call either
// replays the recorded transaction or loses the version race.
func (s *SettlementService) Release(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID, idempotencyKey *string) (*models.Transaction, *models.Escrow, error) {
	escrow, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, apperr.NotFound("escrow not found")
		}
		return nil, nil, err
	}

	if !isAdmin && escrow.RoleOf(actorUserID) != models.RoleSender {
		return nil, nil, apperr.Forbidden("only the sender can release funds")
	}
	// Disputed escrows settle only through admin arbitration.
	if escrow.Status == models.EscrowStatusDisputed && !isAdmin {
		return nil, nil, apperr.InvalidState("escrow is disputed")
	}
	if escrow.RecipientAddress == nil {
		return nil, nil, apperr.InvalidState("recipient address is not set")
	}
	if s.cfg.MainnetBlocked() {
		return nil, nil, apperr.Forbidden("mainnet transfers are disabled")
	}

	balance, err := s.ledger.GetBalance(ctx, escrow.PublicKey)
	if err != nil {
		return nil, nil, apperr.Upstream(err, "chain gateway unavailable")
	}
	amount := balance - s.cfg.TransferFeeLamports
	if amount <= 0 {
		return nil, nil, apperr.InvalidState("balance %d does not cover the network fee", balance)
	}

	key := fmt.Sprintf("release:%d", escrow.FinalizeNonce+1)
	if idempotencyKey != nil && *idempotencyKey != "" {
		key = *idempotencyKey
	}
	intent := IntentHash(escrow.ID, *escrow.RecipientAddress, amount, key)

	// The replay check runs before the state guard: a duplicate call after a
	// successful submission finds the escrow already release_pending and must
	// get the recorded transaction back, not a state error.
	if escrow.LastIntentHash != nil && *escrow.LastIntentHash == intent {
		if prior, err := s.txs.FindByIntent(ctx, escrow.ID, models.TxTypeRelease, intent); err == nil {
			return prior, escrow, nil
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, err
		}
		// Intent was persisted but the submission never landed; fall through
		// and submit without burning another nonce.
	} else {
		if !models.IsValidTransition(escrow.Status, models.EscrowStatusReleasePending) {
			return nil, nil, apperr.InvalidState("cannot release a %s escrow", escrow.Status)
		}
		nonce := escrow.FinalizeNonce + 1
		claimed, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, repositories.EscrowPatch{
			FinalizeNonce:  &nonce,
			LastIntentHash: &intent,
		})
		if err != nil {
			if errors.Is(err, repositories.ErrVersionConflict) {
				return nil, nil, apperr.Conflict("another settlement is in progress")
			}
			return nil, nil, err
		}
		escrow = claimed
	}

	result, err := s.ledger.SubmitTransfer(ctx, escrow.SecretKey, *escrow.RecipientAddress, amount)
	if err != nil {
		reason := err.Error()
		if _, patchErr := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, repositories.EscrowPatch{
			FailureReason: &reason,
		}); patchErr != nil {
			s.log.Warn("failed to record release failure",
				zap.String("escrow_id", escrow.ID.String()), zap.Error(patchErr))
		}
		return nil, nil, apperr.Upstream(err, "transfer submission failed")
	}

	tx := &models.Transaction{
		EscrowID:             escrow.ID,
		Signature:            result.Signature,
		TxType:               models.TxTypeRelease,
		Status:               models.TxStatusPending,
		AmountLamports:       &amount,
		FromAddress:          &escrow.PublicKey,
		ToAddress:            escrow.RecipientAddress,
		IntentHash:           &intent,
		CommitmentTarget:     &result.CommitmentTarget,
		LastValidBlockHeight: &result.LastValidBlockHeight,
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, nil, fmt.Errorf("record release transaction: %w", err)
	}

	updated, err := s.transition(ctx, escrow, models.EscrowStatusReleasePending, repositories.EscrowPatch{
		SettledSignature:   &tx.Signature,
		ClearFailureReason: true,
	}, &actorUserID, actorTypeFor(isAdmin))
	if err != nil {
		return tx, escrow, err
	}

	s.log.Info("release submitted",
		zap.String("escrow_id", escrow.ID.String()),
		zap.String("signature", tx.Signature),
		zap.Int64("amount_lamports", amount),
	)
	return tx, updated, nil
}

// AdminSettle resolves an escrow by admin decision: close without payout,
// refund the sender, or pay the recipient.
func (s *SettlementService) AdminSettle(ctx context.Context, adminUserID string, id uuid.UUID, action string) (*models.Transaction, *models.Escrow, error) {
	switch action {
	case SettleActionNone, SettleActionRefundSender, SettleActionPayRecipient:
	default:
		return nil, nil, apperr.Validation("unknown settle action %q", action)
	}

	escrow, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, apperr.NotFound("escrow not found")
		}
		return nil, nil, err
	}
	if models.IsTerminalStatus(escrow.Status) {
		return nil, nil, apperr.InvalidState("escrow is already %s", escrow.Status)
	}

	switch action {
	case SettleActionNone:
		updated, err := s.transition(ctx, escrow, models.EscrowStatusCancelled, repositories.EscrowPatch{}, &adminUserID, "admin")
		return nil, updated, err

	case SettleActionPayRecipient:
		return s.Release(ctx, adminUserID, true, id, nil)

	default:
		return s.refundSender(ctx, adminUserID, escrow)
	}
}

// refundSender pays the custody balance back to the sender address. The
// escrow keeps its pre-settlement status until the submission lands, so a
// transient chain failure leaves the escrow refundable.
func (s *SettlementService) refundSender(ctx context.Context, adminUserID string, escrow *models.Escrow) (*models.Transaction, *models.Escrow, error) {
	if escrow.SenderAddress == nil {
		return nil, nil, apperr.InvalidState("sender address is not set")
	}
	if s.cfg.MainnetBlocked() {
		return nil, nil, apperr.Forbidden("mainnet transfers are disabled")
	}

	balance, err := s.ledger.GetBalance(ctx, escrow.PublicKey)
	if err != nil {
		return nil, nil, apperr.Upstream(err, "chain gateway unavailable")
	}
	amount := balance - s.cfg.TransferFeeLamports
	if amount <= 0 {
		return nil, nil, apperr.InvalidState("balance %d does not cover the network fee", balance)
	}

	key := fmt.Sprintf("refund:%d", escrow.FinalizeNonce+1)
	intent := IntentHash(escrow.ID, *escrow.SenderAddress, amount, key)

	if escrow.LastIntentHash != nil && *escrow.LastIntentHash == intent {
		// Same refund already processed: hand back the recorded transaction.
		if prior, err := s.txs.FindByIntent(ctx, escrow.ID, models.TxTypeRefund, intent); err == nil {
			return prior, escrow, nil
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, err
		}
		// Intent persisted without a landed submission; resubmit under the
		// same nonce.
	} else {
		if !models.IsValidTransition(escrow.Status, models.EscrowStatusRefundPending) {
			return nil, nil, apperr.InvalidState("cannot refund a %s escrow", escrow.Status)
		}
		nonce := escrow.FinalizeNonce + 1
		claimed, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, repositories.EscrowPatch{
			FinalizeNonce:  &nonce,
			LastIntentHash: &intent,
		})
		if err != nil {
			if errors.Is(err, repositories.ErrVersionConflict) {
				return nil, nil, apperr.Conflict("another settlement is in progress")
			}
			return nil, nil, err
		}
		escrow = claimed
	}

	result, err := s.ledger.SubmitTransfer(ctx, escrow.SecretKey, *escrow.SenderAddress, amount)
	if err != nil {
		reason := err.Error()
		if _, patchErr := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, repositories.EscrowPatch{
			FailureReason: &reason,
		}); patchErr != nil {
			s.log.Warn("failed to record refund failure",
				zap.String("escrow_id", escrow.ID.String()), zap.Error(patchErr))
		}
		return nil, escrow, apperr.Upstream(err, "transfer submission failed")
	}

	tx := &models.Transaction{
		EscrowID:             escrow.ID,
		Signature:            result.Signature,
		TxType:               models.TxTypeRefund,
		Status:               models.TxStatusPending,
		AmountLamports:       &amount,
		FromAddress:          &escrow.PublicKey,
		ToAddress:            escrow.SenderAddress,
		IntentHash:           &intent,
		CommitmentTarget:     &result.CommitmentTarget,
		LastValidBlockHeight: &result.LastValidBlockHeight,
	}
	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, escrow, fmt.Errorf("record refund transaction: %w", err)
	}

	pending, err := s.transition(ctx, escrow, models.EscrowStatusRefundPending, repositories.EscrowPatch{
		SettledSignature:   &tx.Signature,
		ClearFailureReason: true,
	}, &adminUserID, "admin")
	if err != nil {
		return tx, escrow, err
	}
	updated, err := s.transition(ctx, pending, models.EscrowStatusCancelled, repositories.EscrowPatch{}, &adminUserID, "admin")
	if err != nil {
		return tx, pending, err
	}

	s.log.Info("refund submitted",
		zap.String("escrow_id", escrow.ID.String()),
		zap.String("signature", tx.Signature),
		zap.Int64("amount_lamports", amount),
	)
	return tx, updated, nil
}

// CheckTransactionStatus re-reads a submitted transfer from the chain and
// advances the transaction row plus, for releases, the escrow itself.
func (s *SettlementService) CheckTransactionStatus(ctx context.Context, signature string) (*models.Transaction, error) {
	tx, err := s.txs.GetBySignature(ctx, signature)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("transaction not found")
		}
		return nil, err
	}
	if tx.Status == models.TxStatusConfirmed || tx.Status == models.TxStatusFailed {
		return tx, nil
	}

	status, err := s.ledger.GetTransactionStatus(ctx, signature)
	if err != nil {
		return nil, apperr.Upstream(err, "chain gateway unavailable")
	}

	switch {
	case status.Err != nil:
		tx, err = s.txs.UpdateStatus(ctx, signature, models.TxStatusFailed, status.Err)
		if err != nil {
			return nil, err
		}
		s.recordSettlementFailure(ctx, tx, *status.Err)

	case status.Status == solana.StatusNotFound:
		// Not observed yet, or dropped. Leave the row pending and let the
		// next reconcile pass decide.

	case solana.CommitmentSatisfied(status.Status, derefOr(tx.CommitmentTarget, solana.CommitmentConfirmed)):
		tx, err = s.txs.UpdateStatus(ctx, signature, models.TxStatusConfirmed, nil)
		if err != nil {
			return nil, err
		}
		if err := s.finalizeEscrow(ctx, tx); err != nil {
			s.log.Warn("failed to finalize escrow after confirmation",
				zap.String("signature", signature), zap.Error(err))
		}

	default:
		tx, err = s.txs.UpdateStatus(ctx, signature, models.TxStatusWaiting, nil)
		if err != nil {
			return nil, err
		}
	}

	return tx, nil
}

// finalizeEscrow moves a release_pending escrow to released once its release
// transfer confirms. Refunds already moved the escrow to cancelled at submit
// time.
func (s *SettlementService) finalizeEscrow(ctx context.Context, tx *models.Transaction) error {
	if tx.TxType != models.TxTypeRelease {
		return nil
	}
	escrow, err := s.escrows.GetByID(ctx, tx.EscrowID)
	if err != nil {
		return err
	}
	if escrow.Status != models.EscrowStatusReleasePending {
		return nil
	}
	_, err = s.transition(ctx, escrow, models.EscrowStatusReleased, repositories.EscrowPatch{
		SettledSignature: &tx.Signature,
	}, nil, "system")
	return err
}

func (s *SettlementService) recordSettlementFailure(ctx context.Context, tx *models.Transaction, reason string) {
	if tx.TxType == models.TxTypeDeposit {
		return
	}
	escrow, err := s.escrows.GetByID(ctx, tx.EscrowID)
	if err != nil {
		return
	}
	if _, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, repositories.EscrowPatch{
		FailureReason: &reason,
	}); err != nil {
		s.log.Warn("failed to record settlement failure",
			zap.String("escrow_id", escrow.ID.String()), zap.Error(err))
	}
}

// ReconcilePending runs one status pass over all pending transfers. Used by
// the watcher daemon alongside funding reconciliation.
func (s *SettlementService) ReconcilePending(ctx context.Context) error {
	pending, err := s.txs.ListPending(ctx, 100)
	if err != nil {
		return err
	}
	for _, tx := range pending {
		if _, err := s.CheckTransactionStatus(ctx, tx.Signature); err != nil {
			s.log.Warn("transaction status check failed",
				zap.String("signature", tx.Signature), zap.Error(err))
		}
	}
	return nil
}

// ReleaseByPublicID resolves a share-link public id and releases the escrow.
func (s *SettlementService) ReleaseByPublicID(ctx context.Context, actorUserID string, isAdmin bool, publicID string, idempotencyKey *string) (*models.Transaction, *models.Escrow, error) {
	escrow, err := s.escrows.GetByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, apperr.NotFound("escrow not found")
		}
		return nil, nil, err
	}
	return s.Release(ctx, actorUserID, isAdmin, escrow.ID, idempotencyKey)
}

// AdminSettleByPublicID resolves a share-link public id and settles the escrow.
func (s *SettlementService) AdminSettleByPublicID(ctx context.Context, adminUserID string, publicID string, action string) (*models.Transaction, *models.Escrow, error) {
	escrow, err := s.escrows.GetByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, nil, apperr.NotFound("escrow not found")
		}
		return nil, nil, err
	}
	return s.AdminSettle(ctx, adminUserID, escrow.ID, action)
}

// GetTransaction returns one recorded transfer by signature.
func (s *SettlementService) GetTransaction(ctx context.Context, actorUserID string, isAdmin bool, signature string) (*models.Transaction, error) {
	tx, err := s.txs.GetBySignature(ctx, signature)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("transaction not found")
		}
		return nil, err
	}
	escrow, err := s.escrows.GetByID(ctx, tx.EscrowID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !escrow.CanView(actorUserID) {
		return nil, apperr.Forbidden("not a participant of this escrow")
	}
	return tx, nil
}

// ReconcileEscrow re-checks every unsettled transfer of a single escrow and
// returns the refreshed history.
func (s *SettlementService) ReconcileEscrow(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID) ([]models.Transaction, error) {
	txs, err := s.ListTransactions(ctx, actorUserID, isAdmin, id)
	if err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Status == models.TxStatusPending || tx.Status == models.TxStatusWaiting {
			if checked, err := s.CheckTransactionStatus(ctx, tx.Signature); err == nil {
				tx = *checked
			} else {
				s.log.Warn("transaction status check failed",
					zap.String("signature", tx.Signature), zap.Error(err))
			}
		}
		out = append(out, tx)
	}
	return out, nil
}

// ListTransactions returns the transfer history of an escrow, newest first.
func (s *SettlementService) ListTransactions(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID) ([]models.Transaction, error) {
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
	return s.txs.ListByEscrow(ctx, escrow.ID)
}

func actorTypeFor(isAdmin bool) string {
	if isAdmin {
		return "admin"
	}
	return "user"
}

func derefOr(s *string, fallback string) string {
	if s != nil && *s != "" {
		return *s
	}
	return fallback
}
