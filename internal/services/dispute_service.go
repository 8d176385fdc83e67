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
	"go.uber.org/zap"
)

type DisputeService struct {
	escrows   EscrowStore
	disputes  DisputeStore
	audit     AuditStore
	storage   *StorageClient
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewDisputeService(
	escrows EscrowStore,
	disputes DisputeStore,
	audit AuditStore,
	storage *StorageClient,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *DisputeService {
	return &DisputeService{
		escrows:   escrows,
		disputes:  disputes,
		audit:     audit,
		storage:   storage,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// Open freezes the escrow for admin arbitration. Either bound party may open
// a dispute; unclaimed escrows have nobody to dispute with.
func (s *DisputeService) Open(ctx context.Context, actorUserID string, id uuid.UUID, reason string) (*models.Escrow, error) {
	escrow, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	if !escrow.IsParty(actorUserID) {
		return nil, apperr.Forbidden("only a bound party can open a dispute")
	}
	if !models.IsValidTransition(escrow.Status, models.EscrowStatusDisputed) {
		return nil, apperr.InvalidState("cannot dispute a %s escrow", escrow.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("dispute reason is required")
	}

	now := time.Now().UTC()
	status := models.EscrowStatusDisputed
	updated, err := s.escrows.UpdateVersioned(ctx, escrow.ID, escrow.Version, repositories.EscrowPatch{
		Status:        &status,
		DisputedAt:    &now,
		DisputeReason: &reason,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, apperr.Conflict("escrow changed concurrently, retry")
		}
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &actorUserID,
		ActorType:   "user",
		Action:      "dispute_opened",
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
		Meta:        map[string]any{"reason": reason},
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

	s.log.Info("dispute opened",
		zap.String("escrow_id", escrow.ID.String()),
		zap.String("user_id", actorUserID),
	)
	return updated, nil
}

// access resolves the escrow and the actor's role in the dispute thread.
func (s *DisputeService) access(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID) (*models.Escrow, string, error) {
	escrow, err := s.escrows.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, "", apperr.NotFound("escrow not found")
		}
		return nil, "", err
	}
	if role := escrow.RoleOf(actorUserID); role != "" {
		return escrow, role, nil
	}
	if isAdmin {
		return escrow, models.RoleAdmin, nil
	}
	return nil, "", apperr.Forbidden("not a participant of this dispute")
}

// PostMessage appends to the dispute thread. The thread only exists while the
// escrow is disputed or after it was resolved out of a dispute.
func (s *DisputeService) PostMessage(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID, body string, attachments []models.DisputeAttachment) (*models.DisputeMessage, error) {
	escrow, role, err := s.access(ctx, actorUserID, isAdmin, id)
	if err != nil {
		return nil, err
	}
	if escrow.DisputedAt == nil {
		return nil, apperr.InvalidState("escrow has no open dispute")
	}
	body = strings.TrimSpace(body)
	if body == "" && len(attachments) == 0 {
		return nil, apperr.Validation("message body or attachments required")
	}

	var bodyPtr *string
	if body != "" {
		bodyPtr = &body
	}
	msg := &models.DisputeMessage{
		EscrowID:     escrow.ID,
		SenderUserID: actorUserID,
		SenderRole:   role,
		Body:         bodyPtr,
		Attachments:  attachments,
	}
	if err := s.disputes.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	_ = s.publisher.Publish(ctx, events.StreamEscrow, events.Event{
		Type: events.EventDisputeMessagePosted,
		Payload: map[string]any{
			"escrow_id":   escrow.ID.String(),
			"public_id":   escrow.PublicID,
			"message_id":  msg.ID.String(),
			"sender_role": role,
		},
	})
	return msg, nil
}

func (s *DisputeService) ListMessages(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID) ([]models.DisputeMessage, error) {
	escrow, _, err := s.access(ctx, actorUserID, isAdmin, id)
	if err != nil {
		return nil, err
	}
	return s.disputes.ListByEscrow(ctx, escrow.ID)
}

// CreateUploadURL asks the blob store for a presigned upload slot for dispute
// evidence.
func (s *DisputeService) CreateUploadURL(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID, fileName, contentType string) (*UploadSlot, error) {
	escrow, _, err := s.access(ctx, actorUserID, isAdmin, id)
	if err != nil {
		return nil, err
	}
	if escrow.DisputedAt == nil {
		return nil, apperr.InvalidState("escrow has no open dispute")
	}
	slot, err := s.storage.GenerateUploadURL(ctx, fileName, contentType)
	if err != nil {
		return nil, apperr.Upstream(err, "storage service unavailable")
	}
	return slot, nil
}

// AttachmentURL resolves uploaded dispute evidence to a short-lived download
// URL. Only storage ids referenced by the escrow's own thread resolve.
func (s *DisputeService) AttachmentURL(ctx context.Context, actorUserID string, isAdmin bool, id uuid.UUID, storageID string) (string, error) {
	escrow, _, err := s.access(ctx, actorUserID, isAdmin, id)
	if err != nil {
		return "", err
	}
	messages, err := s.disputes.ListByEscrow(ctx, escrow.ID)
	if err != nil {
		return "", err
	}
	found := false
	for _, m := range messages {
		for _, a := range m.Attachments {
			if a.StorageID == storageID {
				found = true
			}
		}
	}
	if !found {
		return "", apperr.NotFound("attachment not found")
	}

	url, err := s.storage.GetURL(ctx, storageID)
	if err != nil {
		return "", apperr.Upstream(err, "storage service unavailable")
	}
	return url, nil
}
