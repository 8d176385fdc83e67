package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/secure-shuttle/backend/internal/apperr"
	"github.com/secure-shuttle/backend/internal/config"
	"github.com/secure-shuttle/backend/internal/events"
	"github.com/secure-shuttle/backend/internal/models"
	"github.com/secure-shuttle/backend/internal/repositories"
	"github.com/secure-shuttle/backend/internal/solana"
	"github.com/secure-shuttle/backend/internal/token"
	"go.uber.org/zap"
)

// claimRetries bounds the compare-and-bind loop. Two concurrent claimers need
// at most one retry each; anything beyond that is persistent contention.
const claimRetries = 3

type EscrowService struct {
	escrows   EscrowStore
	audit     AuditStore
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewEscrowService(
	escrows EscrowStore,
	audit AuditStore,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		escrows:   escrows,
		audit:     audit,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// transition applies a versioned status change with audit logging and event
// publication. extra carries any fields that must land in the same write.
func (s *EscrowService) transition(ctx context.Context, escrow *models.Escrow, newStatus string, extra repositories.EscrowPatch, actorUserID *string, actorType string) (*models.Escrow, error) {
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
			"new_status": newStatus,
		},
	})

	return updated, nil
}

type CreateEscrowInput struct {
	Label                  *string
	SenderAddress          *string
	RecipientAddress       *string
	ExpectedAmountLamports *int64
	// Role optionally binds the creator to one side at creation time.
	Role *string
}

// Create provisions a fresh custody wallet and a single-use join token.
// The raw join token is returned exactly once and never stored.
func (s *EscrowService) Create(ctx context.Context, creatorUserID string, in CreateEscrowInput) (*models.Escrow, string, error) {
	if in.ExpectedAmountLamports != nil && *in.ExpectedAmountLamports <= 0 {
		return nil, "", apperr.Validation("expected amount must be positive")
	}
	if in.SenderAddress != nil && !solana.ValidateAddress(*in.SenderAddress) {
		return nil, "", apperr.Validation("invalid sender address")
	}
	if in.RecipientAddress != nil && !solana.ValidateAddress(*in.RecipientAddress) {
		return nil, "", apperr.Validation("invalid recipient address")
	}
	if in.Role != nil && !models.IsValidRole(*in.Role) {
		return nil, "", apperr.Validation("role must be sender or recipient")
	}

	publicKey, secretKey, err := solana.GenerateKeypair()
	if err != nil {
		return nil, "", fmt.Errorf("generate keypair: %w", err)
	}
	publicID, err := token.NewPublicID()
	if err != nil {
		return nil, "", err
	}
	joinRaw, joinHash, err := token.New()
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	joinExpiry := now.Add(s.cfg.JoinTokenTTL)
	escrow := &models.Escrow{
		PublicID:               publicID,
		PublicKey:              publicKey,
		SecretKey:              secretKey,
		Label:                  in.Label,
		SenderAddress:          in.SenderAddress,
		RecipientAddress:       in.RecipientAddress,
		ExpectedAmountLamports: in.ExpectedAmountLamports,
		Status:                 models.EscrowStatusOpen,
		CreatorUserID:          creatorUserID,
		JoinTokenHash:          &joinHash,
		JoinExpiresAt:          &joinExpiry,
	}

	if in.Role != nil {
		escrow.Status = models.EscrowStatusRolesPending
		switch *in.Role {
		case models.RoleSender:
			escrow.PayerUserID = &creatorUserID
			escrow.SenderClaimedAt = &now
		case models.RoleRecipient:
			escrow.PayeeUserID = &creatorUserID
			escrow.RecipientClaimedAt = &now
		}
	}

	if err := s.escrows.Create(ctx, escrow); err != nil {
		return nil, "", fmt.Errorf("create escrow: %w", err)
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &creatorUserID,
		ActorType:   "user",
		Action:      "escrow_created",
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
		Meta:        map[string]any{"public_id": escrow.PublicID, "status": escrow.Status},
	})

	s.log.Info("escrow created",
		zap.String("escrow_id", escrow.ID.String()),
		zap.String("public_id", escrow.PublicID),
	)
	return escrow, joinRaw, nil
}

func (s *EscrowService) Get(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID) (*models.Escrow, error) {
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
	return escrow, nil
}

// GetShared resolves an escrow by its share link. A viewer who is not yet a
// participant must present the raw join token.
func (s *EscrowService) GetShared(ctx context.Context, actorUserID string, isAdmin bool, publicID, joinToken string) (*models.Escrow, error) {
	escrow, err := s.escrows.GetByPublicID(ctx, publicID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	if isAdmin || escrow.CanView(actorUserID) {
		return escrow, nil
	}
	if escrow.JoinTokenHash == nil || !token.Matches(joinToken, *escrow.JoinTokenHash) {
		return nil, apperr.Forbidden("not a participant of this escrow")
	}
	if token.Expired(escrow.JoinExpiresAt, time.Now().UTC()) {
		return nil, apperr.Forbidden("join token expired")
	}
	return escrow, nil
}

func (s *EscrowService) List(ctx context.Context, actorUserID string, isAdmin bool, status *string, limit, offset int) (int, []models.Escrow, error) {
	filter := repositories.EscrowFilter{Status: status, Limit: limit, Offset: offset}
	if !isAdmin {
		filter.ActorUserID = &actorUserID
	}
	return s.escrows.List(ctx, filter)
}

type UpdateEscrowInput struct {
	Label                  *string
	ExpectedAmountLamports *int64
	SenderAddress          *string
	RecipientAddress       *string
}

// Update patches escrow metadata. Payout addresses are frozen once a
// settlement is in flight.
func (s *EscrowService) Update(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID, in UpdateEscrowInput) (*models.Escrow, error) {
	escrow, err := s.Get(ctx, actorUserID, isAdmin, id)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalStatus(escrow.Status) {
		return nil, apperr.InvalidState("escrow is %s", escrow.Status)
	}
	if in.ExpectedAmountLamports != nil && *in.ExpectedAmountLamports <= 0 {
		return nil, apperr.Validation("expected amount must be positive")
	}
	if in.SenderAddress != nil && !solana.ValidateAddress(*in.SenderAddress) {
		return nil, apperr.Validation("invalid sender address")
	}
	if in.RecipientAddress != nil && !solana.ValidateAddress(*in.RecipientAddress) {
		return nil, apperr.Validation("invalid recipient address")
	}
	if in.SenderAddress != nil || in.RecipientAddress != nil {
		switch escrow.Status {
		case models.EscrowStatusReleasePending, models.EscrowStatusRefundPending:
			return nil, apperr.InvalidState("cannot change payout addresses while settlement is in flight")
		}
	}

	updated, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, repositories.EscrowPatch{
		Label:                  in.Label,
		ExpectedAmountLamports: in.ExpectedAmountLamports,
		SenderAddress:          in.SenderAddress,
		RecipientAddress:       in.RecipientAddress,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, apperr.Conflict("escrow changed concurrently, retry")
		}
		return nil, err
	}
	return updated, nil
}

// ClaimRole binds the caller to a role using the join token. The bind is a
// compare-and-swap on the escrow version: losers of a race re-read and either
// discover they already hold the role (idempotent success) or report conflict.
func (s *EscrowService) ClaimRole(ctx context.Context, actorUserID, publicID, role, joinToken string) (*models.Escrow, error) {
	if !models.IsValidRole(role) {
		return nil, apperr.Validation("role must be sender or recipient")
	}

	for attempt := 0; attempt < claimRetries; attempt++ {
		escrow, err := s.escrows.GetByPublicID(ctx, publicID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, apperr.NotFound("escrow not found")
			}
			return nil, err
		}

		if escrow.JoinTokenHash == nil || !token.Matches(joinToken, *escrow.JoinTokenHash) {
			return nil, apperr.Unauthorized("invalid join token")
		}
		if token.Expired(escrow.JoinExpiresAt, time.Now().UTC()) {
			return nil, apperr.Unauthorized("join token expired")
		}
		if models.IsTerminalStatus(escrow.Status) || escrow.Status == models.EscrowStatusDisputed {
			return nil, apperr.InvalidState("escrow is %s", escrow.Status)
		}

		// Idempotent re-claim of a role the caller already holds.
		if escrow.RoleOf(actorUserID) == role {
			return escrow, nil
		}
		if held := escrow.RoleOf(actorUserID); held != "" {
			return nil, apperr.Conflict("already bound as %s, cannot also claim %s", held, role)
		}

		now := time.Now().UTC()
		patch := repositories.EscrowPatch{}
		switch role {
		case models.RoleSender:
			if escrow.PayerUserID != nil {
				return nil, apperr.Conflict("sender role already claimed")
			}
			patch.PayerUserID = &actorUserID
			patch.SenderClaimedAt = &now
		case models.RoleRecipient:
			if escrow.PayeeUserID != nil {
				return nil, apperr.Conflict("recipient role already claimed")
			}
			patch.PayeeUserID = &actorUserID
			patch.RecipientClaimedAt = &now
		}

		newStatus := escrow.Status
		bothAfter := (role == models.RoleSender && escrow.PayeeUserID != nil) ||
			(role == models.RoleRecipient && escrow.PayerUserID != nil)
		if bothAfter {
			patch.AcceptedAt = &now
			// Funding can land before both roles are claimed. The escrow is
			// already past the claim phase then; bind the role without moving
			// the status backwards.
			switch escrow.Status {
			case models.EscrowStatusOpen, models.EscrowStatusRolesPending:
				newStatus = models.EscrowStatusRolesClaimed
			}
		} else if escrow.Status == models.EscrowStatusOpen {
			newStatus = models.EscrowStatusRolesPending
		}
		if newStatus != escrow.Status {
			if !models.IsValidTransition(escrow.Status, newStatus) {
				return nil, apperr.InvalidState("cannot move escrow from %s to %s", escrow.Status, newStatus)
			}
			patch.Status = &newStatus
		}

		updated, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, patch)
		if err != nil {
			if errors.Is(err, repositories.ErrVersionConflict) {
				continue // somebody else moved first, re-read and re-check
			}
			return nil, err
		}

		_ = s.audit.Log(ctx, models.AuditLog{
			ActorUserID: &actorUserID,
			ActorType:   "user",
			Action:      "escrow_role_claimed",
			EntityType:  "escrow",
			EntityID:    &escrow.ID,
			Meta:        map[string]any{"role": role, "status": updated.Status},
		})
		if patch.Status != nil {
			_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
				Type: events.EventEscrowStatusChanged,
				Payload: map[string]any{
					"escrow_id":  escrow.ID.String(),
					"public_id":  escrow.PublicID,
					"old_status": escrow.Status,
					"new_status": updated.Status,
				},
			})
		}
		return updated, nil
	}

	return nil, apperr.Conflict("escrow changed concurrently, retry")
}

// CreateInvite issues a short-lived single-use token binding its bearer to the
// recipient role. Re-issuing replaces the previous invite.
func (s *EscrowService) CreateInvite(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID) (string, *time.Time, error) {
	escrow, err := s.Get(ctx, actorUserID, isAdmin, id)
	if err != nil {
		return "", nil, err
	}
	if escrow.PayeeUserID != nil {
		return "", nil, apperr.Conflict("recipient role already claimed")
	}
	if models.IsTerminalStatus(escrow.Status) || escrow.Status == models.EscrowStatusDisputed {
		return "", nil, apperr.InvalidState("escrow is %s", escrow.Status)
	}

	raw, hash, err := token.New()
	if err != nil {
		return "", nil, err
	}
	expiry := time.Now().UTC().Add(s.cfg.InviteTokenTTL)

	if _, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, repositories.EscrowPatch{
		InviteTokenHash: &hash,
		InviteExpiresAt: &expiry,
	}); err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return "", nil, apperr.Conflict("escrow changed concurrently, retry")
		}
		return "", nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &actorUserID,
		ActorType:   "user",
		Action:      "escrow_invite_created",
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
	})
	return raw, &expiry, nil
}

// AcceptInvite consumes an invite token and binds the caller as recipient.
func (s *EscrowService) AcceptInvite(ctx context.Context, actorUserID, inviteToken string) (*models.Escrow, error) {
	escrow, err := s.escrows.GetByInviteHash(ctx, token.Hash(inviteToken))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.Unauthorized("invalid invite token")
		}
		return nil, err
	}

	if escrow.InviteUsedAt != nil {
		// The same user re-presenting a consumed invite is a no-op.
		if escrow.PayeeUserID != nil && *escrow.PayeeUserID == actorUserID {
			return escrow, nil
		}
		return nil, apperr.Conflict("invite already used")
	}
	if token.Expired(escrow.InviteExpiresAt, time.Now().UTC()) {
		return nil, apperr.Unauthorized("invite token expired")
	}
	if escrow.PayeeUserID != nil {
		return nil, apperr.Conflict("recipient role already claimed")
	}
	if escrow.PayerUserID != nil && *escrow.PayerUserID == actorUserID {
		return nil, apperr.Conflict("already bound as sender, cannot also claim recipient")
	}
	if models.IsTerminalStatus(escrow.Status) || escrow.Status == models.EscrowStatusDisputed {
		return nil, apperr.InvalidState("escrow is %s", escrow.Status)
	}

	now := time.Now().UTC()
	patch := repositories.EscrowPatch{
		PayeeUserID:        &actorUserID,
		RecipientClaimedAt: &now,
		InviteUsedAt:       &now,
	}
	newStatus := escrow.Status
	if escrow.PayerUserID != nil {
		patch.AcceptedAt = &now
		// As in ClaimRole: an escrow funded before both roles were claimed
		// keeps its status, the invite only binds the role.
		switch escrow.Status {
		case models.EscrowStatusOpen, models.EscrowStatusRolesPending:
			newStatus = models.EscrowStatusRolesClaimed
		}
	} else if escrow.Status == models.EscrowStatusOpen {
		newStatus = models.EscrowStatusRolesPending
	}
	if newStatus != escrow.Status {
		if !models.IsValidTransition(escrow.Status, newStatus) {
			return nil, apperr.InvalidState("cannot move escrow from %s to %s", escrow.Status, newStatus)
		}
		patch.Status = &newStatus
	}

	updated, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, patch)
	if err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, apperr.Conflict("escrow changed concurrently, retry")
		}
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &actorUserID,
		ActorType:   "user",
		Action:      "escrow_invite_accepted",
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
		Meta:        map[string]any{"status": updated.Status},
	})
	if patch.Status != nil {
		_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
			Type: events.EventEscrowStatusChanged,
			Payload: map[string]any{
				"escrow_id":  escrow.ID.String(),
				"public_id":  escrow.PublicID,
				"old_status": escrow.Status,
				"new_status": updated.Status,
			},
		})
	}
	return updated, nil
}

// SetRecipientAddress lets the bound recipient point settlement at their own
// wallet.
func (s *EscrowService) SetRecipientAddress(ctx context.Context, actorUserID string, id uuid.UUID, address string) (*models.Escrow, error) {
	escrow, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	if escrow.RoleOf(actorUserID) != models.RoleRecipient {
		return nil, apperr.Forbidden("only the recipient can set their payout address")
	}
	if !solana.ValidateAddress(address) {
		return nil, apperr.Validation("invalid recipient address")
	}
	switch escrow.Status {
	case models.EscrowStatusReleasePending, models.EscrowStatusRefundPending:
		return nil, apperr.InvalidState("cannot change recipient address while settlement is in flight")
	}
	if models.IsTerminalStatus(escrow.Status) {
		return nil, apperr.InvalidState("escrow is %s", escrow.Status)
	}

	updated, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, repositories.EscrowPatch{
		RecipientAddress: &address,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, apperr.Conflict("escrow changed concurrently, retry")
		}
		return nil, err
	}
	return updated, nil
}

// MarkServiceComplete records a party's attestation that the off-chain work
// is done.
func (s *EscrowService) MarkServiceComplete(ctx context.Context, actorUserID string, id uuid.UUID) (*models.Escrow, error) {
	escrow, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	if !escrow.IsParty(actorUserID) {
		return nil, apperr.Forbidden("only a bound party can mark the service complete")
	}

	now := time.Now().UTC()
	return s.transition(ctx, escrow, models.EscrowStatusServiceComplete, repositories.EscrowPatch{
		ServiceMarkedCompleteAt: &now,
	}, &actorUserID, "user")
}

// AuditTrail returns the recorded lifecycle history of an escrow, newest
// first. Admin-only surface.
func (s *EscrowService) AuditTrail(ctx context.Context, id uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.escrows.GetByID(ctx, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	return s.audit.ListByEntity(ctx, "escrow", id, limit, offset)
}
