package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/secure-shuttle/backend/internal/apperr"
	"github.com/secure-shuttle/backend/internal/models"
	"github.com/secure-shuttle/backend/internal/repositories"
	"go.uber.org/zap"
)

type RatingService struct {
	escrows EscrowStore
	ratings RatingStore
	audit   AuditStore
	log     *zap.Logger
}

func NewRatingService(escrows EscrowStore, ratings RatingStore, audit AuditStore, log *zap.Logger) *RatingService {
	return &RatingService{escrows: escrows, ratings: ratings, audit: audit, log: log}
}

// Rate records the caller's rating of their counterparty. Only bound parties
// of a settled escrow may rate, and re-rating overwrites the previous score.
func (s *RatingService) Rate(ctx context.Context, actorUserID string, escrowID uuid.UUID, score int, comment *string) (*models.EscrowRating, error) {
	if score < 1 || score > 5 {
		return nil, apperr.Validation("score must be between 1 and 5")
	}

	escrow, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	if !models.IsTerminalStatus(escrow.Status) {
		return nil, apperr.InvalidState("ratings open once the escrow is settled")
	}

	var counterpart *string
	switch escrow.RoleOf(actorUserID) {
	case models.RoleSender:
		counterpart = escrow.PayeeUserID
	case models.RoleRecipient:
		counterpart = escrow.PayerUserID
	default:
		return nil, apperr.Forbidden("only a bound party can rate")
	}
	if counterpart == nil {
		return nil, apperr.InvalidState("no counterparty to rate")
	}
	toUserID := *counterpart

	if comment != nil {
		trimmed := strings.TrimSpace(*comment)
		if trimmed == "" {
			comment = nil
		} else {
			comment = &trimmed
		}
	}

	rating := &models.EscrowRating{
		EscrowID:   escrow.ID,
		FromUserID: actorUserID,
		ToUserID:   toUserID,
		Score:      score,
		Comment:    comment,
	}
	if err := s.ratings.Upsert(ctx, rating); err != nil {
		return nil, err
	}

	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: &actorUserID,
		ActorType:   "user",
		Action:      "escrow_rated",
		EntityType:  "escrow",
		EntityID:    &escrow.ID,
		Meta:        map[string]any{"score": score, "to_user_id": toUserID},
	})
	return rating, nil
}

func (s *RatingService) ListForEscrow(ctx context.Context, actorUserID string, isAdmin bool, escrowID uuid.UUID) ([]models.EscrowRating, error) {
	escrow, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	if !isAdmin && !escrow.CanView(actorUserID) {
		return nil, apperr.Forbidden("not a participant of this escrow")
	}
	return s.ratings.ListByEscrow(ctx, escrow.ID)
}

// MyRating returns the caller's own rating for an escrow, if any.
func (s *RatingService) MyRating(ctx context.Context, actorUserID string, escrowID uuid.UUID) (*models.EscrowRating, error) {
	escrow, err := s.escrows.GetByID(ctx, escrowID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("escrow not found")
		}
		return nil, err
	}
	if !escrow.CanView(actorUserID) {
		return nil, apperr.Forbidden("not a participant of this escrow")
	}
	rating, err := s.ratings.GetByRater(ctx, escrow.ID, actorUserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.NotFound("no rating submitted yet")
		}
		return nil, err
	}
	return rating, nil
}

type UserRatingSummary struct {
	UserID  string  `json:"user_id"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

func (s *RatingService) UserSummary(ctx context.Context, userID string) (*UserRatingSummary, error) {
	count, average, err := s.ratings.UserSummary(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserRatingSummary{UserID: userID, Count: count, Average: average}, nil
}
