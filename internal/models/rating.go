package models

import (
	"time"

	"github.com/google/uuid"
)

// EscrowRating is a directed 1-5 rating, unique per (escrow, rater, ratee).
// A second submission by the same rater overwrites score and comment.
type EscrowRating struct {
	ID         uuid.UUID `json:"id"`
	EscrowID   uuid.UUID `json:"escrow_id"`
	FromUserID string    `json:"from_user_id"`
	ToUserID   string    `json:"to_user_id"`
	Score      int       `json:"score"`
	Comment    *string   `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
